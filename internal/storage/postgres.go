package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	logx "lendwatch/pkg/logx"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS notifications (
	seq     BIGSERIAL PRIMARY KEY,
	id      TEXT        NOT NULL UNIQUE,
	at      TIMESTAMPTZ NOT NULL,
	level   TEXT        NOT NULL,
	user_id TEXT        NOT NULL,
	text    TEXT        NOT NULL,
	sink    TEXT        NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS notifications_user_id ON notifications(user_id);
`

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

type postgresRow struct {
	ID     string    `db:"id"`
	At     time.Time `db:"at"`
	Level  string    `db:"level"`
	UserID string    `db:"user_id"`
	Text   string    `db:"text"`
	Sink   string    `db:"sink"`
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}

	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(startupCtx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(startupCtx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(startupCtx, postgresSchema); err != nil {
		pool.Close()
		return nil, err
	}
	log.Debug("postgres journal opened")
	return &postgresStore{pool: pool, log: log}, nil
}

func (s *postgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *postgresStore) AppendNotification(ctx context.Context, r NotificationRecord) error {
	if s == nil || s.pool == nil {
		return ErrDisabled
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO notifications(id, at, level, user_id, text, sink) VALUES($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		r.ID, r.At, r.Level, r.UserID, r.Text, r.Sink,
	)
	return err
}

func (s *postgresStore) RecentNotifications(ctx context.Context, limit int) ([]NotificationRecord, error) {
	if s == nil || s.pool == nil {
		return nil, ErrDisabled
	}
	q := `SELECT id, at, level, user_id, text, sink FROM (
		SELECT seq, id, at, level, user_id, text, sink FROM notifications ORDER BY seq DESC LIMIT $1
	) recent ORDER BY seq ASC`
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, q, lim)
	if err != nil {
		return nil, err
	}
	recs, err := pgx.CollectRows(rows, pgx.RowToStructByName[postgresRow])
	if err != nil {
		return nil, err
	}
	out := make([]NotificationRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, NotificationRecord{ID: r.ID, At: r.At, Level: r.Level, UserID: r.UserID, Text: r.Text, Sink: r.Sink})
	}
	return out, nil
}
