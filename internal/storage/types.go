package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string        // file, sqlite
	DSN         string        // postgres
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// NotificationRecord is one delivered notification.
// Keep it compact and schema-stable.
type NotificationRecord struct {
	ID     string    `json:"id"`
	At     time.Time `json:"at"`
	Level  string    `json:"level"`
	UserID string    `json:"user_id"`
	Text   string    `json:"text"`
	Sink   string    `json:"sink,omitempty"`
}
