package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/sqlc-dev/pqtype"

	"github.com/offduel/offduel/internal/models"
)

// NotifyChannel is the pg_notify channel carrying challenge ids whose
// records changed. The relay listens here and republishes onto NATS.
const NotifyChannel = "challenge_updates"

// Store persists challenges in the shared Postgres record store. The wire
// shape is snake_case columns with a JSONB participants map; translation to
// the in-memory Challenge happens only here.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store on an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get fetches a challenge by id. An unknown id returns (nil, nil); a
// non-nil error means the read itself failed.
func (s *Store) Get(ctx context.Context, id string) (*models.Challenge, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_by, duration, reward, participants, status, start_time, end_time
		 FROM challenges WHERE id = $1`, id)

	ch, err := scanChallenge(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get challenge %s: %w", id, err)
	}
	return ch, nil
}

// Upsert writes the full record, merging the participants map additively on
// conflict so two clients joining at the same moment cannot clobber each
// other's entries. The change notification goes out in the same transaction
// as the write.
func (s *Store) Upsert(ctx context.Context, ch *models.Challenge) error {
	participants, err := json.Marshal(ch.Participants)
	if err != nil {
		return fmt.Errorf("failed to marshal participants: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin upsert: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO challenges (id, created_by, duration, reward, participants, status, start_time, end_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
			reward       = EXCLUDED.reward,
			participants = challenges.participants || EXCLUDED.participants,
			status       = EXCLUDED.status,
			start_time   = COALESCE(challenges.start_time, EXCLUDED.start_time),
			end_time     = COALESCE(challenges.end_time, EXCLUDED.end_time),
			updated_at   = now()`,
		ch.ID, ch.CreatedBy, ch.Duration, ch.Reward, participants,
		string(ch.Status), nullInt64(ch.StartTime), nullInt64(ch.EndTime),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert challenge %s: %w", ch.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, ch.ID); err != nil {
		return fmt.Errorf("failed to notify challenge update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanChallenge maps one snake_case wire row to the in-memory aggregate.
func scanChallenge(row rowScanner) (*models.Challenge, error) {
	var (
		ch           models.Challenge
		status       string
		participants pqtype.NullRawMessage
		startTime    sql.NullInt64
		endTime      sql.NullInt64
	)

	if err := row.Scan(&ch.ID, &ch.CreatedBy, &ch.Duration, &ch.Reward,
		&participants, &status, &startTime, &endTime); err != nil {
		return nil, err
	}

	ch.Status = models.ChallengeStatus(status)
	ch.Participants = make(map[string]models.Participant)
	if participants.Valid {
		if err := json.Unmarshal(participants.RawMessage, &ch.Participants); err != nil {
			return nil, fmt.Errorf("failed to unmarshal participants: %w", err)
		}
	}
	if startTime.Valid {
		ch.StartTime = &startTime.Int64
	}
	if endTime.Valid {
		ch.EndTime = &endTime.Int64
	}
	return &ch, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
