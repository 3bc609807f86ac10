package devserver

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"pushbridge/internal/platform"
	logx "pushbridge/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const dateLayout = "2006-01-02"

// Document is an expiring item drivers get reminded about.
type Document struct {
	Name      string
	ExpiresOn time.Time
}

// Store holds subscriptions, expiring documents and the reminder dedup log.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

func OpenStore(path string, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("store path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &Store{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertSubscription stores a subscription, replacing any previous row for
// the same endpoint so repeated subscribe calls stay deduplicated.
func (s *Store) UpsertSubscription(ctx context.Context, sub platform.Subscription) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions(endpoint, p256dh, auth, created_at) VALUES(?,?,?,?)
		 ON CONFLICT(endpoint) DO UPDATE SET p256dh=excluded.p256dh, auth=excluded.auth`,
		sub.Endpoint, sub.Keys.P256dh, sub.Keys.Auth, time.Now().Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) RemoveSubscription(ctx context.Context, endpoint string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE endpoint = ?`, endpoint)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) Subscriptions(ctx context.Context) ([]platform.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT endpoint, p256dh, auth FROM subscriptions ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []platform.Subscription
	for rows.Next() {
		var sub platform.Subscription
		if err := rows.Scan(&sub.Endpoint, &sub.Keys.P256dh, &sub.Keys.Auth); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) SubscriptionCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscriptions`).Scan(&n)
	return n, err
}

func (s *Store) UpsertDocument(ctx context.Context, doc Document) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents(name, expires_on) VALUES(?,?)
		 ON CONFLICT(name) DO UPDATE SET expires_on=excluded.expires_on`,
		doc.Name, doc.ExpiresOn.Format(dateLayout),
	)
	return err
}

func (s *Store) Documents(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, expires_on FROM documents ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Document
	for rows.Next() {
		var doc Document
		var raw string
		if err := rows.Scan(&doc.Name, &raw); err != nil {
			return nil, err
		}
		doc.ExpiresOn, err = time.Parse(dateLayout, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// ReminderSent reports whether a reminder for (item, daysLeft) already went out.
func (s *Store) ReminderSent(ctx context.Context, item string, daysLeft int) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM reminder_log WHERE item = ? AND days_left = ?`, item, daysLeft,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) MarkReminderSent(ctx context.Context, item string, daysLeft int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminder_log(item, days_left, sent_at) VALUES(?,?,?)
		 ON CONFLICT(item, days_left) DO NOTHING`,
		item, daysLeft, time.Now().Format(time.RFC3339Nano),
	)
	return err
}
