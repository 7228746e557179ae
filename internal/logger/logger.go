package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	"churchadmin/internal/config"
	"churchadmin/internal/telemetry"
)

type Logger struct {
	*slog.Logger
}

// New builds the process logger and installs it as the slog default. Output
// is JSON in production and text elsewhere; with telemetry enabled every
// record is also emitted through OpenTelemetry.
func New(cfg *config.Config, w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}

	level := slog.LevelDebug
	if cfg.IsProduction() {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.IsProduction()}

	var handler slog.Handler
	if cfg.IsProduction() {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	if cfg.Telemetry.Enabled && cfg.Telemetry.ExporterURL != "" {
		handler = NewMultiHandler(telemetry.NewOTelHandler(&slog.HandlerOptions{Level: level, AddSource: true}), handler)
	}

	logger := slog.New(handler).With(
		"service", cfg.Telemetry.ServiceName,
		"version", cfg.Telemetry.ServiceVersion,
		"environment", cfg.Telemetry.Environment,
	)
	slog.SetDefault(logger)

	return &Logger{Logger: logger}
}

func (l *Logger) WithRequest(requestID, ip, userAgent string) *slog.Logger {
	return l.With(
		"request_id", requestID,
		"ip_address", ip,
		"user_agent", userAgent,
	)
}

func (l *Logger) WithUser(userID, email string) *slog.Logger {
	return l.With(
		"user_id", userID,
		"user_email", email,
	)
}

func (l *Logger) WithError(err error) *slog.Logger {
	return l.With("error", err.Error())
}

// Discard returns a logger that drops everything, for tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MultiHandler sends logs to multiple handlers
type MultiHandler struct {
	handlers []slog.Handler
}

func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	return &MultiHandler{handlers: handlers}
}

func (h *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle passes the record to every handler. A failing handler does not stop
// the others.
func (h *MultiHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, 0, len(h.handlers))
	for _, handler := range h.handlers {
		next = append(next, handler.WithAttrs(attrs))
	}
	return &MultiHandler{handlers: next}
}

func (h *MultiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, 0, len(h.handlers))
	for _, handler := range h.handlers {
		next = append(next, handler.WithGroup(name))
	}
	return &MultiHandler{handlers: next}
}
