package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	logx "lendwatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sqlx.DB
	log logx.Logger
}

type sqliteRow struct {
	ID     string `db:"id"`
	AtMS   int64  `db:"at_ms"`
	Level  string `db:"level"`
	UserID string `db:"user_id"`
	Text   string `db:"text"`
	Sink   string `db:"sink"`
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite journal opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendNotification(ctx context.Context, r NotificationRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO notifications(id, at_ms, level, user_id, text, sink)
		 VALUES(:id, :at_ms, :level, :user_id, :text, :sink)`,
		sqliteRow{ID: r.ID, AtMS: r.At.UnixMilli(), Level: r.Level, UserID: r.UserID, Text: r.Text, Sink: r.Sink},
	)
	return err
}

func (s *sqliteStore) RecentNotifications(ctx context.Context, limit int) ([]NotificationRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	var rows []sqliteRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, at_ms, level, user_id, text, sink FROM notifications ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	out := make([]NotificationRecord, len(rows))
	for i, row := range rows {
		// rows are newest first; flip to oldest first.
		out[len(rows)-1-i] = NotificationRecord{
			ID:     row.ID,
			At:     time.UnixMilli(row.AtMS),
			Level:  row.Level,
			UserID: row.UserID,
			Text:   row.Text,
			Sink:   row.Sink,
		}
	}
	return out, nil
}
