package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	"lendwatch/internal/users"
	logx "lendwatch/pkg/logx"
)

// telegramSender is the subset of *tele.Bot used for delivery.
type telegramSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// TelegramSink sends notifications to the user's Telegram chat.
// It only sends; it never polls for updates.
type TelegramSink struct {
	bot telegramSender
	log logx.Logger
}

func NewTelegramSink(token string, log logx.Logger) (*TelegramSink, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("notifier.telegram.token is required for telegram sink")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	// Offline skips the getMe round-trip at construction.
	b, err := tele.NewBot(tele.Settings{Token: token, Offline: true})
	if err != nil {
		return nil, err
	}
	return &TelegramSink{bot: b, log: log.With(logx.String("comp", "notifier.telegram"))}, nil
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Deliver(ctx context.Context, to users.User, msg Message) error {
	if to.TelegramChatID == 0 {
		return fmt.Errorf("telegram to %q: %w", to.ID, ErrUnreachable)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// telebot has no context support; bound the call from the outside.
	done := make(chan error, 1)
	go func() {
		_, err := s.bot.Send(&tele.Chat{ID: to.TelegramChatID}, msg.Text, &tele.SendOptions{DisableWebPagePreview: true})
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		s.log.Warn("telegram send abandoned", logx.String("user", to.ID), logx.Err(ctx.Err()))
		return ctx.Err()
	}
}
