package timer

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/offduel/offduel/internal/models"
)

// Completer is invoked when the deadline elapses while the challenge is
// still active.
type Completer interface {
	CompleteOnTimeout(ctx context.Context) error
}

// Source yields the latest challenge value. The timer re-reads it at
// fire-time so a callback armed against a superseded snapshot can never
// complete the wrong state.
type Source interface {
	Current() (*models.Challenge, string)
}

// Timer fires the timeout-completion at the challenge's end time. It is
// re-armed on every aggregate change and disarmed when the challenge
// leaves the active status or the session tears down.
type Timer struct {
	clock     clockwork.Clock
	source    Source
	completer Completer

	mu     sync.Mutex
	cancel chan struct{} // closed to abandon the current arming
	armGen uint64
}

// New creates a timer. Use clockwork.NewRealClock() in production and a
// fake clock in tests.
func New(clock clockwork.Clock, source Source, completer Completer) *Timer {
	return &Timer{
		clock:     clock,
		source:    source,
		completer: completer,
	}
}

// Rearm replaces any pending arming with one matching the given challenge.
// A nil challenge, a non-active status or a missing end time disarms. An
// end time already in the past fires immediately, which covers a client
// loading in after the deadline.
func (t *Timer) Rearm(ctx context.Context, ch *models.Challenge) {
	t.mu.Lock()
	if t.cancel != nil {
		close(t.cancel)
		t.cancel = nil
	}

	if ch == nil || ch.Status != models.ChallengeStatusActive || ch.EndTime == nil {
		t.mu.Unlock()
		return
	}

	cancel := make(chan struct{})
	t.cancel = cancel
	t.armGen++
	gen := t.armGen
	deadline := time.UnixMilli(*ch.EndTime)
	wait := deadline.Sub(t.clock.Now())
	t.mu.Unlock()

	log.Debug().
		Str("challenge_id", ch.ID).
		Time("deadline", deadline).
		Dur("wait", wait).
		Uint64("arm_gen", gen).
		Msg("armed challenge timer")

	go t.run(ctx, cancel, gen, wait)
}

// Disarm cancels any pending arming.
func (t *Timer) Disarm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		close(t.cancel)
		t.cancel = nil
	}
}

func (t *Timer) run(ctx context.Context, cancel chan struct{}, gen uint64, wait time.Duration) {
	if wait > 0 {
		tm := t.clock.NewTimer(wait)
		select {
		case <-tm.Chan():
		case <-cancel:
			stopAndDrainTimer(tm)
			return
		case <-ctx.Done():
			stopAndDrainTimer(tm)
			return
		}
	}

	// Re-read the cell rather than trusting the snapshot this arming was
	// created from; the challenge may have completed or been reset while
	// the timer was pending.
	ch, _ := t.source.Current()
	if ch == nil || ch.Status != models.ChallengeStatusActive {
		log.Debug().Uint64("arm_gen", gen).Msg("timer fired against non-active challenge, skipping")
		return
	}

	log.Info().Str("challenge_id", ch.ID).Msg("challenge deadline reached")
	if err := t.completer.CompleteOnTimeout(ctx); err != nil {
		log.Error().Err(err).Str("challenge_id", ch.ID).Msg("timeout completion failed")
	}
}

// stopAndDrainTimer safely stops a timer and drains its channel, following
// the pattern recommended in the time.Timer.Stop() documentation.
func stopAndDrainTimer(tm clockwork.Timer) {
	if !tm.Stop() {
		select {
		case <-tm.Chan():
		default:
		}
	}
}
