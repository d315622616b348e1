// internal/logging/logging.go
package logging

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/m-mizutani/masq"

	"github-visibility-bot/internal/model"
)

// New builds the process logger. Values of type model.Token and struct
// fields tagged `masq:"secret"` are masked before they reach the writer.
func New(w io.Writer, level, format string) (*slog.Logger, *slog.LevelVar, error) {
	logLevel := new(slog.LevelVar)
	if err := SetLevel(level, logLevel); err != nil {
		return nil, nil, err
	}

	filter := masq.New(
		masq.WithTag("secret"),
		masq.WithType[model.Token](masq.MaskWithSymbol('*', 8)),
	)
	opts := &slog.HandlerOptions{Level: logLevel, ReplaceAttr: filter}

	var handler slog.Handler
	switch format {
	case "json", "":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, nil, fmt.Errorf("invalid log format %q, should be 'json' or 'text'", format)
	}
	return slog.New(handler), logLevel, nil
}

// SetLevel maps a level name onto v.
func SetLevel(level string, v *slog.LevelVar) error {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "info", "":
		v.Set(slog.LevelInfo)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		return fmt.Errorf("invalid log level %q", level)
	}
	return nil
}
