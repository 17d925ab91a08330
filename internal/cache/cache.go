package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/offduel/offduel/internal/models"
)

const (
	slotChallenge     = "challenge"
	slotParticipantID = "participant_id"
)

// Cache is the durable client-side mirror: one slot for the current
// challenge snapshot and one for the local participant id. It backs warm
// reloads and offline fallback; writes are synchronous and best-effort.
type Cache struct {
	db *sql.DB
}

// Open opens (or creates) the cache database at the given path. Use
// ":memory:" for tests.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping cache db: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS slots (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create slots table: %w", err)
	}

	return &Cache{db: db}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// SaveChallenge mirrors the current challenge snapshot.
func (c *Cache) SaveChallenge(ch *models.Challenge) error {
	data, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}
	return c.put(slotChallenge, string(data))
}

// SaveParticipantID mirrors the local participant identity.
func (c *Cache) SaveParticipantID(id string) error {
	return c.put(slotParticipantID, id)
}

// Load returns the cached challenge and participant id. Either may be
// absent, in which case it comes back as the zero value.
func (c *Cache) Load() (*models.Challenge, string, error) {
	var ch *models.Challenge

	raw, err := c.get(slotChallenge)
	if err != nil {
		return nil, "", err
	}
	if raw != "" {
		ch = &models.Challenge{}
		if err := json.Unmarshal([]byte(raw), ch); err != nil {
			return nil, "", fmt.Errorf("unmarshal cached challenge: %w", err)
		}
	}

	participantID, err := c.get(slotParticipantID)
	if err != nil {
		return nil, "", err
	}

	return ch, participantID, nil
}

// Clear drops both slots together. Called on reset; this is the only way a
// session's challenge is ever destroyed locally.
func (c *Cache) Clear() error {
	if _, err := c.db.Exec(`DELETE FROM slots WHERE key IN (?, ?)`, slotChallenge, slotParticipantID); err != nil {
		return fmt.Errorf("clear cache slots: %w", err)
	}
	return nil
}

func (c *Cache) put(key, value string) error {
	_, err := c.db.Exec(
		`INSERT INTO slots (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("put slot %q: %w", key, err)
	}
	return nil
}

func (c *Cache) get(key string) (string, error) {
	var value string
	err := c.db.QueryRow(`SELECT value FROM slots WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get slot %q: %w", key, err)
	}
	return value, nil
}
