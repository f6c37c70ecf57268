package notifier

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"lendwatch/internal/domain"
)

// ErrUnreachable is returned by a sink when the recipient has no address
// for that transport (no email, no phone, no chat id).
var ErrUnreachable = errors.New("recipient unreachable")

// Level is the alert severity a user can opt in or out of.
type Level int

const (
	LevelInfo Level = iota
	LevelWarning
	LevelError
)

// Levels lists every level in ascending severity.
var Levels = []Level{LevelInfo, LevelWarning, LevelError}

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// ParseLevel accepts INFO, WARN/WARNING and ERROR in any case.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	default:
		return 0, fmt.Errorf("unknown level %q: %w", s, domain.ErrInvalidOperation)
	}
}

// Message is one notification payload.
type Message struct {
	Level Level
	Text  string
}

// Markers recognised at the start of a free-text message.
const (
	MarkerWarning = "⚠️"
	MarkerError   = "❌"
	MarkerAlarm   = "🚨"
	MarkerOK      = "✅"
)

// Classify derives the level of a free-text message from its leading marker.
func Classify(text string) Level {
	t := strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(t, MarkerWarning):
		return LevelWarning
	case strings.HasPrefix(t, MarkerError), strings.HasPrefix(t, MarkerAlarm):
		return LevelError
	default:
		return LevelInfo
	}
}

// Entry is one delivered notification.
type Entry struct {
	ID     uuid.UUID
	At     time.Time
	Level  Level
	Text   string
	UserID string
	Sink   string
}

// NotificationEvent is the eventbus payload for gateway outcomes.
type NotificationEvent struct {
	UserID string    `json:"user_id"`
	Level  string    `json:"level"`
	Sink   string    `json:"sink,omitempty"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}
