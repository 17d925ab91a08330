package session

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/offduel/offduel/internal/challenge"
	"github.com/offduel/offduel/internal/events"
	"github.com/offduel/offduel/internal/models"
)

// Notifier receives user-facing notifications (toasts, navigation cues).
// The gateway implements it; a session without a bound notifier drops them.
type Notifier interface {
	Notify(n events.Notification)
}

// Cache is the slice of the local mirror the session reads at startup.
type Cache interface {
	challenge.Cache
	Load() (*models.Challenge, string, error)
}

// Session is the per-client context object: it owns the current-challenge
// cell and the local participant identity, and every timer, monitor and
// sync callback reads the cell at fire-time instead of capturing a snapshot
// at registration-time. One Session exists per client process.
type Session struct {
	app   *challenge.App
	cache Cache

	mu            sync.Mutex
	challenge     *models.Challenge
	participantID string

	notifierMu sync.Mutex
	notifier   Notifier

	changeMu sync.Mutex
	onChange []func(*models.Challenge)
}

// New builds a session around the given state-machine app and cache, warm
// reloading any mirrored challenge from a previous run.
func New(app *challenge.App, cache Cache) *Session {
	s := &Session{app: app, cache: cache}

	ch, participantID, err := cache.Load()
	if err != nil {
		log.Warn().Err(err).Msg("failed to warm-load cached session")
	} else if ch != nil {
		s.challenge = ch
		s.participantID = participantID
		log.Info().
			Str("challenge_id", ch.ID).
			Str("participant_id", participantID).
			Str("status", string(ch.Status)).
			Msg("restored session from local cache")
	}
	return s
}

// Bind attaches the notifier once the gateway exists.
func (s *Session) Bind(n Notifier) {
	s.notifierMu.Lock()
	defer s.notifierMu.Unlock()
	s.notifier = n
}

// OnChange registers a callback invoked with the new aggregate whenever the
// cell changes. Callbacks must be fast; they run on the mutating goroutine.
func (s *Session) OnChange(fn func(*models.Challenge)) {
	s.changeMu.Lock()
	defer s.changeMu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Current returns the cell contents: the latest challenge value (possibly
// nil) and the local participant id.
func (s *Session) Current() (*models.Challenge, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.challenge, s.participantID
}

// Create starts a new challenge session as its creator.
func (s *Session) Create(ctx context.Context, name string, duration int, reward string) (*models.Challenge, error) {
	ch, participantID, err := s.app.Create(ctx, name, duration, reward)
	if err != nil {
		return nil, err
	}
	s.setIdentity(ch, participantID)
	return ch, nil
}

// Join enters an existing challenge.
func (s *Session) Join(ctx context.Context, challengeID, name, reward string) (*models.Challenge, error) {
	ch, participantID, err := s.app.Join(ctx, challengeID, name, reward)
	if err != nil {
		return nil, err
	}
	s.setIdentity(ch, participantID)
	return ch, nil
}

// Start begins the duel.
func (s *Session) Start(ctx context.Context) (*models.Challenge, error) {
	s.mu.Lock()
	current := s.challenge
	s.mu.Unlock()

	ch, err := s.app.Start(ctx, current)
	if err != nil {
		return nil, err
	}
	s.setChallenge(ch)
	return ch, nil
}

// RecordLocalLoss eliminates the local participant. Invoked by the activity
// monitor; idempotent once the participant is terminal.
func (s *Session) RecordLocalLoss(ctx context.Context) error {
	s.mu.Lock()
	current, participantID := s.challenge, s.participantID
	s.mu.Unlock()

	if current == nil || participantID == "" {
		return challenge.ErrNoSession
	}

	ch, err := s.app.RecordLoss(ctx, current, participantID)
	if err != nil {
		return err
	}
	s.setChallenge(ch)

	s.notify(events.Notification{
		Type:        events.NotificationParticipantLost,
		ChallengeID: ch.ID,
		Message:     "You looked at your phone! You lost the challenge.",
	})
	if ch.Status == models.ChallengeStatusCompleted {
		s.notify(events.Notification{
			Type:        events.NotificationChallengeCompleted,
			ChallengeID: ch.ID,
			Message:     "Challenge over.",
		})
	}
	return nil
}

// CompleteOnTimeout resolves the challenge at its deadline. Invoked by the
// challenge timer.
func (s *Session) CompleteOnTimeout(ctx context.Context) error {
	s.mu.Lock()
	current := s.challenge
	s.mu.Unlock()

	if current == nil {
		return challenge.ErrNoSession
	}

	ch, err := s.app.CompleteOnTimeout(ctx, current)
	if err != nil {
		return err
	}
	s.setChallenge(ch)

	s.notify(events.Notification{
		Type:        events.NotificationChallengeCompleted,
		ChallengeID: ch.ID,
		Message:     "Challenge completed successfully!",
	})
	return nil
}

// Reset clears the cell and the local mirror, ending the session. The
// remote record is untouched.
func (s *Session) Reset(ctx context.Context) error {
	if err := s.app.Reset(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.challenge = nil
	s.participantID = ""
	s.mu.Unlock()
	s.fireChange(nil)
	return nil
}

// ApplyRemote reconciles an inbound remote snapshot into the cell. Both the
// push subscription and the fallback poller land here; the merge is
// idempotent so redundant delivery is harmless. A remotely observed
// waiting -> active flip raises a started notification so the UI navigates
// into the duel view.
func (s *Session) ApplyRemote(remote *models.Challenge) {
	s.mu.Lock()
	local, selfID := s.challenge, s.participantID
	if local == nil || remote == nil || local.ID != remote.ID {
		s.mu.Unlock()
		return
	}

	merged := challenge.Merge(local, remote, selfID)
	if reflect.DeepEqual(merged, local) {
		s.mu.Unlock()
		return
	}

	s.challenge = merged
	s.mu.Unlock()

	if err := s.cache.SaveChallenge(merged); err != nil {
		log.Warn().Err(err).Msg("failed to mirror reconciled challenge")
	}

	log.Debug().
		Str("challenge_id", merged.ID).
		Str("status", string(merged.Status)).
		Int("participants", len(merged.Participants)).
		Msg("reconciled remote snapshot")

	s.fireChange(merged)

	if local.Status == models.ChallengeStatusWaiting && merged.Status == models.ChallengeStatusActive {
		s.notify(events.Notification{
			Type:        events.NotificationChallengeStarted,
			ChallengeID: merged.ID,
			Message:     "Challenge started!",
		})
	}
}

// WarnSync surfaces a degraded-sync warning to the user. Wired as the
// app's warn callback.
func (s *Session) WarnSync(err error) {
	ch, _ := s.Current()
	id := ""
	if ch != nil {
		id = ch.ID
	}
	log.Debug().Err(err).Str("challenge_id", id).Msg("surfacing sync warning")
	s.notify(events.Notification{
		Type:        events.NotificationSyncWarning,
		ChallengeID: id,
		Message:     "Failed to sync with the shared store. Other participants may not see the update.",
	})
}

func (s *Session) setIdentity(ch *models.Challenge, participantID string) {
	s.mu.Lock()
	s.challenge = ch
	s.participantID = participantID
	s.mu.Unlock()
	s.fireChange(ch)
}

func (s *Session) setChallenge(ch *models.Challenge) {
	s.mu.Lock()
	s.challenge = ch
	s.mu.Unlock()
	s.fireChange(ch)
}

func (s *Session) fireChange(ch *models.Challenge) {
	s.changeMu.Lock()
	callbacks := make([]func(*models.Challenge), len(s.onChange))
	copy(callbacks, s.onChange)
	s.changeMu.Unlock()

	for _, fn := range callbacks {
		fn(ch)
	}
}

func (s *Session) notify(n events.Notification) {
	s.notifierMu.Lock()
	notifier := s.notifier
	s.notifierMu.Unlock()

	if notifier == nil {
		return
	}
	n.Timestamp = time.Now().UTC()
	notifier.Notify(n)
}
