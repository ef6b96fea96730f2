package websession

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const sqliteCleanupInterval = 10 * time.Minute

// SQLiteStore persists web session cookie jars in SQLite so that frontend
// sessions survive restarts of the service.
//
// Rows are keyed by the SHA-256 of the user session id, hex encoded.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string

	stopCleanup chan struct{}
	mu          sync.Mutex
}

// NewSQLiteStore opens (or creates) web_sessions.db under dataPath.
func NewSQLiteStore(dataPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dataPath) == "" {
		return nil, fmt.Errorf("dataPath is required")
	}
	dataPath = filepath.Clean(dataPath)
	if err := os.MkdirAll(dataPath, 0o700); err != nil {
		return nil, fmt.Errorf("create web session data dir: %w", err)
	}

	dbPath := filepath.Join(dataPath, "web_sessions.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open web session db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:          db,
		dbPath:      dbPath,
		stopCleanup: make(chan struct{}),
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	go s.cleanupLoop()

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS web_sessions (
		session_hash TEXT PRIMARY KEY,
		cookies BLOB NOT NULL,
		expires_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_web_sessions_expires_at ON web_sessions(expires_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init web session schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) cleanupLoop() {
	ticker := time.NewTicker(sqliteCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n, err := s.DeleteExpired(time.Now().UTC()); err != nil {
				log.Warn().Err(err).Msg("Failed to purge expired web sessions")
			} else if n > 0 {
				log.Debug().Int64("removed", n).Msg("Purged expired web sessions")
			}
		case <-s.stopCleanup:
			return
		}
	}
}

// Stop ends the cleanup loop and closes the database.
func (s *SQLiteStore) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.stopCleanup:
	default:
		close(s.stopCleanup)
	}
	if s.db != nil {
		_ = s.db.Close()
		s.db = nil
	}
}

func (s *SQLiteStore) Load(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("web session store closed")
	}

	var data []byte
	var expiresAt int64
	row := s.db.QueryRowContext(ctx, `SELECT cookies, expires_at FROM web_sessions WHERE session_hash = ?`, key)
	if err := row.Scan(&data, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load web session: %w", err)
	}
	if time.Now().UTC().Unix() > expiresAt {
		return nil, ErrNotFound
	}
	return data, nil
}

func (s *SQLiteStore) Save(ctx context.Context, key string, data []byte, expiresAt time.Time) error {
	if key == "" {
		return fmt.Errorf("session key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("web session store closed")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO web_sessions (session_hash, cookies, expires_at, updated_at)
		 VALUES (?, ?, ?, ?)`,
		key,
		data,
		expiresAt.UTC().Unix(),
		time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save web session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM web_sessions WHERE session_hash = ?`, key); err != nil {
		return fmt.Errorf("delete web session: %w", err)
	}
	return nil
}

// DeleteExpired removes rows that expired before now.
func (s *SQLiteStore) DeleteExpired(now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return 0, nil
	}
	res, err := s.db.Exec(`DELETE FROM web_sessions WHERE expires_at < ?`, now.UTC().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
