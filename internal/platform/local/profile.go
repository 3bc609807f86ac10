package local

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "pushbridge/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// profileStore persists the subscription keys and the active endpoint token
// so a restart resumes the same subscription instead of minting a new one.
type profileStore struct {
	db  *sql.DB
	log logx.Logger
}

type storedSubscription struct {
	EndpointToken string
	ServerKey     []byte
}

func openProfile(path string, log logx.Logger) (*profileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("profile path is required")
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

	st := &profileStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *profileStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *profileStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Keys returns the persisted key pair, minting and storing one on first use.
func (s *profileStore) Keys(ctx context.Context) (*keyPair, error) {
	var privBytes, authSecret []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT private_key, auth_secret FROM profile WHERE id = 1`,
	).Scan(&privBytes, &authSecret)
	switch {
	case err == nil:
		return loadKeyPair(privBytes, authSecret)
	case errors.Is(err, sql.ErrNoRows):
		// fall through to mint
	default:
		return nil, err
	}

	keys, err := newKeyPair()
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profile(id, private_key, auth_secret, created_at) VALUES(1,?,?,?)`,
		keys.priv.Bytes(), keys.authSecret, time.Now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("persist profile keys: %w", err)
	}
	if !s.log.IsZero() {
		s.log.Info("subscription keys created")
	}
	return keys, nil
}

func (s *profileStore) Subscription(ctx context.Context) (*storedSubscription, error) {
	var sub storedSubscription
	err := s.db.QueryRowContext(ctx,
		`SELECT endpoint_token, server_key FROM subscription WHERE id = 1`,
	).Scan(&sub.EndpointToken, &sub.ServerKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *profileStore) SaveSubscription(ctx context.Context, sub storedSubscription) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscription(id, endpoint_token, server_key, created_at) VALUES(1,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET endpoint_token=excluded.endpoint_token,
		                               server_key=excluded.server_key,
		                               created_at=excluded.created_at`,
		sub.EndpointToken, sub.ServerKey, time.Now().Format(time.RFC3339Nano),
	)
	return err
}

func (s *profileStore) DeleteSubscription(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscription WHERE id = 1`)
	return err
}
