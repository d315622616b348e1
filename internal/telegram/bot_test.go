package telegram

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github-visibility-bot/internal/credential"
	"github-visibility-bot/internal/dispatcher"
	apperrors "github-visibility-bot/internal/errors"
)

// MockAPI is a mock implementation of the Telegram Bot API client.
type MockAPI struct {
	mock.Mock
}

func (m *MockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return tgbotapi.Message{}, args.Error(0)
}

func (m *MockAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	args := m.Called(c)
	return &tgbotapi.APIResponse{Ok: true}, args.Error(0)
}

func (m *MockAPI) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	args := m.Called(config)
	return args.Get(0).(tgbotapi.UpdatesChannel)
}

func (m *MockAPI) StopReceivingUpdates() {
	m.Called()
}

func (m *MockAPI) HandleUpdate(r *http.Request) (*tgbotapi.Update, error) {
	args := m.Called(r)
	update, _ := args.Get(0).(*tgbotapi.Update)
	return update, args.Error(1)
}

// MockDispatcher is a mock implementation of the command dispatcher.
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, cmd dispatcher.Command) dispatcher.Result {
	args := m.Called(ctx, cmd)
	return args.Get(0).(dispatcher.Result)
}

func newTestBot(opts Options) (*Bot, *MockAPI, *MockDispatcher) {
	api := new(MockAPI)
	d := new(MockDispatcher)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewBot(api, d, opts, logger), api, d
}

func commandUpdate(id int, userID int64, text string) tgbotapi.Update {
	length := len(text)
	if i := strings.IndexByte(text, ' '); i >= 0 {
		length = i
	}
	return tgbotapi.Update{
		UpdateID: id,
		Message: &tgbotapi.Message{
			MessageID: 40 + id,
			From:      &tgbotapi.User{ID: userID, UserName: "alice"},
			Chat:      &tgbotapi.Chat{ID: 900},
			Text:      text,
			Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}},
		},
	}
}

func replyContaining(substr string) any {
	return mock.MatchedBy(func(c tgbotapi.MessageConfig) bool {
		return c.ChatID == 900 && c.ParseMode == tgbotapi.ModeHTML && strings.Contains(c.Text, substr)
	})
}

func TestBot_HandleUpdateAddCredentialDeletesMessage(t *testing.T) {
	bot, api, d := newTestBot(Options{})

	api.On("Request", tgbotapi.NewDeleteMessage(900, 41)).Return(nil).Once()
	api.On("Send", replyContaining("personal")).Return(nil).Once()
	d.On("Dispatch", mock.Anything, dispatcher.Command{
		Name: dispatcher.CmdAddCredential, UserID: 7, Username: "alice",
		Args: []string{"personal", "ghp_secret"},
	}).Return(dispatcher.Result{
		Command:    dispatcher.CmdAddCredential,
		Credential: &credential.Summary{Name: "personal", GitHubUsername: "alice-gh"},
	}).Once()

	bot.HandleUpdate(context.Background(), commandUpdate(1, 7, "/add_api personal ghp_secret"))

	api.AssertExpectations(t)
	d.AssertExpectations(t)
}

func TestBot_HandleUpdateDeletesTokenEvenOnFailure(t *testing.T) {
	bot, api, d := newTestBot(Options{})

	api.On("Request", tgbotapi.NewDeleteMessage(900, 42)).Return(errors.New("too old")).Once()
	api.On("Send", replyContaining("GitHub rejected the token")).Return(nil).Once()
	d.On("Dispatch", mock.Anything, mock.Anything).Return(dispatcher.Result{
		Command: dispatcher.CmdAddCredential,
		Err:     apperrors.New(apperrors.ErrInvalidToken, "bad credentials"),
	}).Once()

	bot.HandleUpdate(context.Background(), commandUpdate(2, 7, "/add_api personal ghp_secret"))

	api.AssertExpectations(t)
}

func TestBot_HandleUpdateIgnoresAndRejects(t *testing.T) {
	bot, api, d := newTestBot(Options{})

	bot.HandleUpdate(context.Background(), tgbotapi.Update{UpdateID: 1})
	bot.HandleUpdate(context.Background(), tgbotapi.Update{
		UpdateID: 2,
		Message:  &tgbotapi.Message{From: &tgbotapi.User{ID: 7}, Chat: &tgbotapi.Chat{ID: 900}, Text: "hello"},
	})
	api.AssertNotCalled(t, "Send", mock.Anything)

	api.On("Send", replyContaining("Unknown command")).Return(nil).Once()
	bot.HandleUpdate(context.Background(), commandUpdate(3, 7, "/dance"))

	api.AssertExpectations(t)
	d.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestBot_RunPolling(t *testing.T) {
	bot, api, d := newTestBot(Options{Workers: 2})

	updates := make(chan tgbotapi.Update, 3)
	updates <- commandUpdate(1, 7, "/help")
	updates <- commandUpdate(2, 8, "/help")
	updates <- commandUpdate(3, 9, "/help")
	close(updates)

	api.On("Request", tgbotapi.DeleteWebhookConfig{}).Return(nil).Once()
	api.On("GetUpdatesChan", mock.Anything).Return(tgbotapi.UpdatesChannel(updates)).Once()
	api.On("Send", replyContaining("/batch_toggle")).Return(nil).Times(3)
	d.On("Dispatch", mock.Anything, mock.MatchedBy(func(c dispatcher.Command) bool {
		return c.Name == dispatcher.CmdHelp
	})).Return(dispatcher.Result{Command: dispatcher.CmdHelp, MaxBatch: 10}).Times(3)

	require.NoError(t, bot.Run(context.Background()))

	api.AssertExpectations(t)
	d.AssertExpectations(t)
}

func TestBot_RunStopsOnCancel(t *testing.T) {
	bot, api, _ := newTestBot(Options{})

	updates := make(chan tgbotapi.Update)
	api.On("Request", tgbotapi.DeleteWebhookConfig{}).Return(nil)
	api.On("GetUpdatesChan", mock.Anything).Return(tgbotapi.UpdatesChannel(updates))
	api.On("StopReceivingUpdates").Return().Once()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bot.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("bot did not stop")
	}
	api.AssertExpectations(t)
}

func TestBot_WebhookReceive(t *testing.T) {
	bot, api, d := newTestBot(Options{Webhook: true, WebhookURL: "https://bot.example.com/telegram/s3cret"})

	update := commandUpdate(5, 7, "/current_api")
	api.On("Request", mock.AnythingOfType("tgbotapi.WebhookConfig")).Return(nil).Once()
	api.On("HandleUpdate", mock.Anything).Return(&update, nil)
	sent := make(chan struct{})
	api.On("Send", replyContaining("work")).Run(func(mock.Arguments) { close(sent) }).Return(nil).Once()
	d.On("Dispatch", mock.Anything, mock.Anything).Return(dispatcher.Result{
		Command:    dispatcher.CmdCurrentCredential,
		Credential: &credential.Summary{Name: "work", GitHubUsername: "alice-gh"},
	}).Once()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bot.Run(ctx) }()

	req := httptest.NewRequest(http.MethodPost, "/telegram/s3cret", strings.NewReader("{}"))
	require.NoError(t, bot.Receive(req))

	select {
	case <-sent:
	case <-time.After(time.Second):
		t.Fatal("webhook update was not handled")
	}
	cancel()
	require.NoError(t, <-done)

	api.AssertExpectations(t)
}

func TestBot_ReceiveErrors(t *testing.T) {
	bot, api, _ := newTestBot(Options{Webhook: true})
	req := httptest.NewRequest(http.MethodPost, "/telegram/x", strings.NewReader("not json"))

	api.On("HandleUpdate", req).Return(nil, errors.New("invalid character")).Once()
	assert.ErrorIs(t, bot.Receive(req), apperrors.ErrValidation)

	update := commandUpdate(1, 7, "/help")
	api.On("HandleUpdate", req).Return(&update, nil)
	for i := 0; i < webhookBuffer; i++ {
		require.NoError(t, bot.Receive(req))
	}
	assert.ErrorIs(t, bot.Receive(req), apperrors.ErrTransient)
}

func TestBot_BusyUserDoesNotStallOthers(t *testing.T) {
	bot, api, d := newTestBot(Options{Workers: 2})

	updates := make(chan tgbotapi.Update)
	api.On("Request", tgbotapi.DeleteWebhookConfig{}).Return(nil)
	api.On("GetUpdatesChan", mock.Anything).Return(tgbotapi.UpdatesChannel(updates))
	api.On("StopReceivingUpdates").Return()
	api.On("Send", mock.Anything).Return(nil)

	release := make(chan struct{})
	served := make(chan struct{})
	d.On("Dispatch", mock.Anything, mock.MatchedBy(func(c dispatcher.Command) bool { return c.UserID == 1 })).
		Run(func(mock.Arguments) { <-release }).
		Return(dispatcher.Result{Command: dispatcher.CmdListRepos})
	d.On("Dispatch", mock.Anything, mock.MatchedBy(func(c dispatcher.Command) bool { return c.UserID == 2 })).
		Run(func(mock.Arguments) { close(served) }).
		Return(dispatcher.Result{Command: dispatcher.CmdHelp, MaxBatch: 10}).Once()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bot.Run(ctx) }()

	for i := 0; i < 17; i++ {
		updates <- commandUpdate(i+1, 1, "/list_repos")
	}
	updates <- commandUpdate(100, 2, "/help")

	select {
	case <-served:
	case <-time.After(time.Second):
		t.Fatal("second user was not served while the first one was busy")
	}

	close(release)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("bot did not stop")
	}
	d.AssertNumberOfCalls(t, "Dispatch", 18)
}

func TestBot_WebhookStopDrainsAndRejects(t *testing.T) {
	bot, api, d := newTestBot(Options{Webhook: true, WebhookURL: "https://bot.example.com/telegram/s3cret"})
	req := httptest.NewRequest(http.MethodPost, "/telegram/s3cret", strings.NewReader("{}"))

	update := commandUpdate(1, 7, "/help")
	api.On("Request", mock.AnythingOfType("tgbotapi.WebhookConfig")).Return(nil).Once()
	api.On("HandleUpdate", req).Return(&update, nil)
	api.On("Send", replyContaining("/batch_toggle")).Return(nil).Once()
	d.On("Dispatch", mock.Anything, mock.Anything).Return(dispatcher.Result{Command: dispatcher.CmdHelp, MaxBatch: 10}).Once()

	require.NoError(t, bot.Receive(req))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, bot.Run(ctx))

	api.AssertExpectations(t)
	d.AssertExpectations(t)

	err := bot.Receive(req)
	assert.ErrorIs(t, err, apperrors.ErrTransient)
	assert.Equal(t, "bot is shutting down", apperrors.MessageOf(err))
}

func TestBot_UserBacklogIsBounded(t *testing.T) {
	bot, _, _ := newTestBot(Options{})

	var g errgroup.Group
	bot.queues[1] = make([]tgbotapi.Update, userBacklog)
	bot.schedule(context.Background(), &g, commandUpdate(1, 1, "/help"))

	require.NoError(t, g.Wait())
	assert.Len(t, bot.queues[1], userBacklog)
}
