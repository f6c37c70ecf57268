package storage

import (
	"context"
	"errors"
	"strings"

	logx "lendwatch/pkg/logx"
)

// Store is the minimal persistence API used by the notification history.
type Store interface {
	AppendNotification(ctx context.Context, r NotificationRecord) error
	// RecentNotifications returns up to limit records, oldest first.
	RecentNotifications(ctx context.Context, limit int) ([]NotificationRecord, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pgx":
		return openPostgres(ctx, cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
