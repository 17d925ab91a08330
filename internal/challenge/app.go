package challenge

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/offduel/offduel/internal/models"
)

// ChallengeStore defines what the app layer needs from the shared record
// store. Get returns (nil, nil) when the id is unknown; a non-nil error
// means transport trouble, not absence.
type ChallengeStore interface {
	Get(ctx context.Context, id string) (*models.Challenge, error)
	Upsert(ctx context.Context, ch *models.Challenge) error
}

// Cache defines what the app layer needs from the local mirror. Writes are
// synchronous and best-effort; a cache failure never fails an operation.
type Cache interface {
	SaveChallenge(ch *models.Challenge) error
	SaveParticipantID(id string) error
	Clear() error
}

// App holds the challenge state-machine operations. Every operation
// computes the new aggregate value, mirrors it to the local cache first,
// then pushes it to the shared store; a failed push degrades to local-only
// operation and is reported through warnFn rather than failing the caller.
type App struct {
	store  ChallengeStore
	cache  Cache
	clock  clockwork.Clock
	warnFn func(err error)
}

// NewApp creates a challenge App. warnFn may be nil.
func NewApp(store ChallengeStore, cache Cache, clock clockwork.Clock, warnFn func(error)) *App {
	if warnFn == nil {
		warnFn = func(error) {}
	}
	return &App{
		store:  store,
		cache:  cache,
		clock:  clock,
		warnFn: warnFn,
	}
}

// Create builds a fresh challenge with the creator as its sole waiting
// participant and persists it. It returns the new aggregate and the
// creator's participant id, which becomes the local identity for this
// session.
func (a *App) Create(ctx context.Context, name string, duration int, reward string) (*models.Challenge, string, error) {
	if err := validateName(name); err != nil {
		return nil, "", err
	}
	if duration <= 0 {
		return nil, "", &ValidationError{Field: "duration", Reason: "must be a positive number of minutes"}
	}

	participantID := newParticipantID()
	ch := &models.Challenge{
		ID:        uuid.New().String(),
		CreatedBy: participantID,
		Duration:  duration,
		Reward:    "",
		Participants: map[string]models.Participant{
			participantID: {
				Name:   name,
				Reward: reward,
				Status: models.ParticipantStatusWaiting,
			},
		},
		Status: models.ChallengeStatusWaiting,
	}

	a.mirror(ch)
	if err := a.cache.SaveParticipantID(participantID); err != nil {
		log.Warn().Err(err).Msg("failed to cache participant id")
	}
	a.push(ctx, ch)

	log.Info().
		Str("challenge_id", ch.ID).
		Str("participant_id", participantID).
		Int("duration_min", duration).
		Msg("challenge created")
	return ch, participantID, nil
}

// Join fetches the challenge, appends a fresh waiting participant and
// persists. The store's additive upsert keeps concurrent joiners from
// clobbering each other's entries.
func (a *App) Join(ctx context.Context, challengeID, name, reward string) (*models.Challenge, string, error) {
	if err := validateName(name); err != nil {
		return nil, "", err
	}

	existing, err := a.store.Get(ctx, challengeID)
	if err != nil {
		return nil, "", &TransportError{Err: err}
	}
	if existing == nil {
		return nil, "", ErrChallengeNotFound
	}
	if existing.Status != models.ChallengeStatusWaiting {
		return nil, "", ErrChallengeAlreadyStarted
	}

	participantID := newParticipantID()
	ch := existing.Clone()
	ch.Participants[participantID] = models.Participant{
		Name:   name,
		Reward: reward,
		Status: models.ParticipantStatusWaiting,
	}

	a.mirror(ch)
	if err := a.cache.SaveParticipantID(participantID); err != nil {
		log.Warn().Err(err).Msg("failed to cache participant id")
	}
	a.push(ctx, ch)

	log.Info().
		Str("challenge_id", ch.ID).
		Str("participant_id", participantID).
		Msg("joined challenge")
	return ch, participantID, nil
}

// Start transitions a waiting challenge to active, fixing the timestamps
// and promoting every participant. Starting anything but a waiting
// challenge is rejected; completed is terminal.
func (a *App) Start(ctx context.Context, current *models.Challenge) (*models.Challenge, error) {
	if current == nil {
		return nil, ErrNoSession
	}
	if current.Status != models.ChallengeStatusWaiting {
		return nil, ErrChallengeAlreadyStarted
	}

	ch := current.Start(a.clock.Now().UnixMilli())
	a.mirror(ch)
	a.push(ctx, ch)

	log.Info().
		Str("challenge_id", ch.ID).
		Int64("end_time", *ch.EndTime).
		Int("participants", len(ch.Participants)).
		Msg("challenge started")
	return ch, nil
}

// RecordLoss eliminates the given participant and persists the resolved
// aggregate. Safe to invoke repeatedly; a terminal participant makes it a
// no-op beyond re-mirroring the unchanged value.
func (a *App) RecordLoss(ctx context.Context, current *models.Challenge, participantID string) (*models.Challenge, error) {
	if current == nil {
		return nil, ErrNoSession
	}

	before, ok := current.Participants[participantID]
	if ok && before.Status.Terminal() {
		return current.Clone(), nil
	}

	ch := current.RecordLoss(participantID)
	a.mirror(ch)
	a.push(ctx, ch)

	log.Info().
		Str("challenge_id", ch.ID).
		Str("participant_id", participantID).
		Str("challenge_status", string(ch.Status)).
		Int("still_active", ch.ActiveCount()).
		Msg("participant lost")
	return ch, nil
}

// CompleteOnTimeout resolves the challenge at its deadline: survivors won.
func (a *App) CompleteOnTimeout(ctx context.Context, current *models.Challenge) (*models.Challenge, error) {
	if current == nil {
		return nil, ErrNoSession
	}
	if current.Status == models.ChallengeStatusCompleted {
		return current.Clone(), nil
	}

	ch := current.CompleteOnTimeout()
	a.mirror(ch)
	a.push(ctx, ch)

	log.Info().
		Str("challenge_id", ch.ID).
		Strs("won_rewards", ch.WonRewards()).
		Msg("challenge completed on timeout")
	return ch, nil
}

// Reset clears the local mirror and identity. The remote record is left
// untouched so other participants' sessions are unaffected.
func (a *App) Reset(ctx context.Context) error {
	if err := a.cache.Clear(); err != nil {
		log.Warn().Err(err).Msg("failed to clear local cache")
		return err
	}
	log.Info().Msg("session reset")
	return nil
}

// mirror writes the aggregate to the local cache, best-effort.
func (a *App) mirror(ch *models.Challenge) {
	if err := a.cache.SaveChallenge(ch); err != nil {
		log.Warn().Err(err).Str("challenge_id", ch.ID).Msg("failed to mirror challenge to cache")
	}
}

// push writes the aggregate to the shared store. Failure never propagates:
// the session keeps operating on local state and the user gets a transient
// warning. The next user-triggered mutation is the retry.
func (a *App) push(ctx context.Context, ch *models.Challenge) {
	if err := a.store.Upsert(ctx, ch); err != nil {
		syncErr := &SyncError{Err: err}
		log.Warn().Err(err).Str("challenge_id", ch.ID).Msg("remote sync failed, continuing locally")
		a.warnFn(syncErr)
	}
}

func validateName(name string) error {
	if name == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	return nil
}

// newParticipantID returns a fresh participant identifier. Participant ids
// are never reused within a challenge.
func newParticipantID() string {
	return uuid.New().String()[:8]
}

// IsUserFacing reports whether an error should surface as a user-visible
// message rather than a degraded-mode warning.
func IsUserFacing(err error) bool {
	var vErr *ValidationError
	return errors.Is(err, ErrChallengeNotFound) ||
		errors.Is(err, ErrChallengeAlreadyStarted) ||
		errors.As(err, &vErr)
}
