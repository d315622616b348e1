// internal/telegram/bot.go
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"github-visibility-bot/internal/dispatcher"
	apperrors "github-visibility-bot/internal/errors"
)

const (
	pollTimeout   = 30
	webhookBuffer = 100
	// userBacklog caps the updates queued behind one user's running command.
	userBacklog = 32
)

// API is the subset of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	HandleUpdate(r *http.Request) (*tgbotapi.Update, error)
}

// Dispatcher runs a parsed command.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd dispatcher.Command) dispatcher.Result
}

// Options configure how updates reach the bot.
type Options struct {
	// Webhook selects webhook delivery; otherwise the bot long-polls.
	Webhook    bool
	WebhookURL string
	// Workers bounds how many users are served at once.
	Workers int
}

// Bot turns Telegram updates into dispatcher commands and replies with the
// rendered result. Each user's updates are handled in order by one worker;
// a user with a backlog never holds more than that one worker.
type Bot struct {
	api        API
	dispatcher Dispatcher
	opts       Options
	logger     *slog.Logger

	mu      sync.RWMutex
	webhook chan tgbotapi.Update
	stopped bool

	queueMu sync.Mutex
	queues  map[int64][]tgbotapi.Update
}

func NewBot(api API, d Dispatcher, opts Options, logger *slog.Logger) *Bot {
	if opts.Workers <= 0 {
		opts.Workers = 16
	}
	return &Bot{
		api:        api,
		dispatcher: d,
		opts:       opts,
		webhook:    make(chan tgbotapi.Update, webhookBuffer),
		queues:     make(map[int64][]tgbotapi.Update),
		logger:     logger.With("component", "telegram"),
	}
}

// Run consumes updates until ctx is cancelled, then waits for in-flight
// and queued updates to finish.
func (b *Bot) Run(ctx context.Context) error {
	source, err := b.source()
	if err != nil {
		return err
	}

	var g errgroup.Group
	g.SetLimit(b.opts.Workers)
	work := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Telegram bot stopping, waiting for in-flight updates")
			if b.opts.Webhook {
				b.stopWebhook(work, &g)
			} else {
				b.api.StopReceivingUpdates()
			}
			return g.Wait()
		case update, ok := <-source:
			if !ok {
				return g.Wait()
			}
			b.schedule(work, &g, update)
		}
	}
}

// schedule queues update behind its sender's earlier updates and starts a
// worker for the sender when none is running.
func (b *Bot) schedule(ctx context.Context, g *errgroup.Group, update tgbotapi.Update) {
	key := senderID(update)

	b.queueMu.Lock()
	queue, running := b.queues[key]
	if len(queue) >= userBacklog {
		b.queueMu.Unlock()
		b.logger.Warn("User backlog full, dropping update", "user_id", key, "update_id", update.UpdateID)
		return
	}
	b.queues[key] = append(queue, update)
	b.queueMu.Unlock()

	if !running {
		g.Go(func() error {
			b.drain(ctx, key)
			return nil
		})
	}
}

// drain handles key's updates in arrival order until its queue is empty.
func (b *Bot) drain(ctx context.Context, key int64) {
	for {
		b.queueMu.Lock()
		queue := b.queues[key]
		if len(queue) == 0 {
			delete(b.queues, key)
			b.queueMu.Unlock()
			return
		}
		update := queue[0]
		b.queues[key] = queue[1:]
		b.queueMu.Unlock()

		b.HandleUpdate(ctx, update)
	}
}

// stopWebhook refuses further webhook deliveries and schedules what is
// already buffered.
func (b *Bot) stopWebhook(ctx context.Context, g *errgroup.Group) {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()

	for {
		select {
		case update := <-b.webhook:
			b.schedule(ctx, g, update)
		default:
			return
		}
	}
}

func senderID(update tgbotapi.Update) int64 {
	if update.Message != nil && update.Message.From != nil {
		return update.Message.From.ID
	}
	return 0
}

func (b *Bot) source() (<-chan tgbotapi.Update, error) {
	if b.opts.Webhook {
		wh, err := tgbotapi.NewWebhook(b.opts.WebhookURL)
		if err != nil {
			return nil, fmt.Errorf("invalid webhook url: %w", err)
		}
		if _, err := b.api.Request(wh); err != nil {
			return nil, fmt.Errorf("failed to register webhook: %w", err)
		}
		b.logger.Info("Telegram webhook registered")
		return b.webhook, nil
	}

	if _, err := b.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return nil, fmt.Errorf("failed to clear webhook: %w", err)
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	b.logger.Info("Telegram long polling started")
	return b.api.GetUpdatesChan(u), nil
}

// Receive decodes a webhook request and queues its update. A full queue or a
// stopped bot is reported as transient so Telegram redelivers.
func (b *Bot) Receive(r *http.Request) error {
	update, err := b.api.HandleUpdate(r)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, err, "invalid update")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return apperrors.New(apperrors.ErrTransient, "bot is shutting down")
	}
	select {
	case b.webhook <- *update:
		return nil
	default:
		b.logger.Warn("Webhook queue full, rejecting update", "update_id", update.UpdateID)
		return apperrors.New(apperrors.ErrTransient, "update queue is full")
	}
}

// HandleUpdate dispatches a single update and sends the reply.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil || !msg.IsCommand() {
		return
	}
	logger := b.logger.With("update_id", update.UpdateID, "user_id", msg.From.ID, "command", msg.Command())
	logger.Debug("Received command")

	cmd, ok := ParseCommand(msg.Command(), msg.CommandArguments())
	if !ok {
		b.reply(logger, msg.Chat.ID, "Unknown command. Send /help for the command list.")
		return
	}
	cmd.UserID = msg.From.ID
	cmd.Username = msg.From.UserName

	// The token must not stay in the chat history, whatever the outcome.
	if cmd.Name == dispatcher.CmdAddCredential {
		if _, err := b.api.Request(tgbotapi.NewDeleteMessage(msg.Chat.ID, msg.MessageID)); err != nil {
			logger.Warn("Failed to delete credential message", "error", err)
		}
	}

	res := b.dispatcher.Dispatch(ctx, cmd)
	for _, text := range Render(res) {
		b.reply(logger.With("request_id", res.RequestID), msg.Chat.ID, text)
	}
}

func (b *Bot) reply(logger *slog.Logger, chatID int64, text string) {
	out := tgbotapi.NewMessage(chatID, text)
	out.ParseMode = tgbotapi.ModeHTML
	out.DisableWebPagePreview = true
	if _, err := b.api.Send(out); err != nil {
		logger.Error("Failed to send reply", "error", err)
	}
}
