package notifier

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"lendwatch/internal/users"
	logx "lendwatch/pkg/logx"
)

// Sink is a delivery transport.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, to users.User, msg Message) error
}

// SinkConfig selects and configures a sink.
type SinkConfig struct {
	Kind          string // console|email|sms|log|telegram
	TelegramToken string
	Output        io.Writer // console/email/sms; nil means stdout
}

// NewSink builds the sink named by cfg.Kind. An empty kind means console.
func NewSink(cfg SinkConfig, log logx.Logger) (Sink, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "console":
		return NewConsoleSink(cfg.Output), nil
	case "email":
		return NewEmailSink(cfg.Output), nil
	case "sms":
		return NewSMSSink(cfg.Output), nil
	case "log":
		return NewLogSink(log), nil
	case "telegram":
		return NewTelegramSink(cfg.TelegramToken, log)
	default:
		return nil, fmt.Errorf("unknown notifier sink %q", cfg.Kind)
	}
}

// lineWriter serializes whole-line writes to a shared writer.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newLineWriter(w io.Writer) *lineWriter {
	if w == nil {
		w = os.Stdout
	}
	return &lineWriter{w: w}
}

func (lw *lineWriter) println(s string) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	_, err := io.WriteString(lw.w, s+"\n")
	return err
}

// ConsoleSink prints "[WARN] text" style lines.
type ConsoleSink struct{ out *lineWriter }

func NewConsoleSink(w io.Writer) *ConsoleSink { return &ConsoleSink{out: newLineWriter(w)} }

func (s *ConsoleSink) Name() string { return "console" }

func (s *ConsoleSink) Deliver(ctx context.Context, _ users.User, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.out.println(consoleTag(msg.Level) + " " + msg.Text)
}

func consoleTag(l Level) string {
	switch l {
	case LevelWarning:
		return "[WARN]"
	case LevelError:
		return "[ERROR]"
	default:
		return "[INFO]"
	}
}

// EmailSink simulates mail delivery by printing the recipient address.
type EmailSink struct{ out *lineWriter }

func NewEmailSink(w io.Writer) *EmailSink { return &EmailSink{out: newLineWriter(w)} }

func (s *EmailSink) Name() string { return "email" }

func (s *EmailSink) Deliver(ctx context.Context, to users.User, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(to.Email) == "" {
		return fmt.Errorf("email to %q: %w", to.ID, ErrUnreachable)
	}
	return s.out.println("Sending email to " + to.Email + ": " + msg.Text)
}

// SMSSink simulates SMS delivery by printing the recipient phone number.
type SMSSink struct{ out *lineWriter }

func NewSMSSink(w io.Writer) *SMSSink { return &SMSSink{out: newLineWriter(w)} }

func (s *SMSSink) Name() string { return "sms" }

func (s *SMSSink) Deliver(ctx context.Context, to users.User, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(to.Phone) == "" {
		return fmt.Errorf("sms to %q: %w", to.ID, ErrUnreachable)
	}
	return s.out.println("Sending SMS to " + to.Phone + ": " + msg.Text)
}

// LogSink writes notifications to the structured log.
type LogSink struct{ log logx.Logger }

func NewLogSink(log logx.Logger) *LogSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogSink{log: log.With(logx.String("comp", "notifier.log"))}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(ctx context.Context, to users.User, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fields := []logx.Field{logx.String("user", to.ID), logx.String("text", msg.Text)}
	switch msg.Level {
	case LevelError:
		s.log.Error("notification", fields...)
	case LevelWarning:
		s.log.Warn("notification", fields...)
	default:
		s.log.Info("notification", fields...)
	}
	return nil
}
