// Package history is the persisted archive of completed conversations:
// append-only from the caller's point of view, size-bounded, newest first.
// Storage is a single key/value row in SQLite holding the serialized list,
// read-modify-write under one writer.
package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"sidekick/internal/types"
)

// MaxSessions caps the archive. The oldest sessions by CreatedAt are
// silently dropped on every save.
const MaxSessions = 20

const archiveKey = "sessions"

// ErrNoSession is returned by Load for an unknown id.
var ErrNoSession = errors.New("history: no such session")

// Store is the session archive. Single-process, single-writer.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger
}

// NewStore opens (and initializes) the archive database at path.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	s := &Store{db: db, logger: logger.Named("history")}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`)
	if err != nil {
		return fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save archives a session. Re-saving an existing id overwrites it. The
// archive is re-sorted by CreatedAt descending and truncated to MaxSessions.
func (s *Store) Save(sess types.SavedSession) error {
	if sess.ID == "" {
		return errors.New("history: session id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.load()
	if err != nil {
		return err
	}
	filtered := sessions[:0]
	for _, existing := range sessions {
		if existing.ID != sess.ID {
			filtered = append(filtered, existing)
		}
	}
	sessions = append(filtered, sess)
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	if len(sessions) > MaxSessions {
		sessions = sessions[:MaxSessions]
	}
	if err := s.write(sessions); err != nil {
		return err
	}
	s.logger.Info("session saved",
		zap.String("id", sess.ID),
		zap.String("title", sess.Title),
		zap.Int("archived", len(sessions)))
	return nil
}

// List returns summaries, newest first.
func (s *Store) List() ([]types.SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.load()
	if err != nil {
		return nil, err
	}
	summaries := make([]types.SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		summaries = append(summaries, types.SessionSummary{
			ID:        sess.ID,
			Title:     sess.Title,
			CreatedAt: sess.CreatedAt,
		})
	}
	return summaries, nil
}

// Load returns the full session for an id, or ErrNoSession.
func (s *Store) Load(id string) (*types.SavedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.load()
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		if sessions[i].ID == id {
			return &sessions[i], nil
		}
	}
	return nil, ErrNoSession
}

func (s *Store) load() ([]types.SavedSession, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, archiveKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session archive: %w", err)
	}
	var sessions []types.SavedSession
	if err := json.Unmarshal([]byte(raw), &sessions); err != nil {
		return nil, fmt.Errorf("failed to parse session archive: %w", err)
	}
	return sessions, nil
}

func (s *Store) write(sessions []types.SavedSession) error {
	data, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("failed to marshal session archive: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		archiveKey, string(data))
	if err != nil {
		return fmt.Errorf("failed to write session archive: %w", err)
	}
	return nil
}
