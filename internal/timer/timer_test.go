package timer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/offduel/offduel/internal/models"
)

type cell struct {
	mu sync.Mutex
	ch *models.Challenge
}

func (c *cell) Current() (*models.Challenge, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch, "self"
}

func (c *cell) set(ch *models.Challenge) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ch = ch
}

type recordingCompleter struct {
	calls chan struct{}
}

func (r *recordingCompleter) CompleteOnTimeout(ctx context.Context) error {
	r.calls <- struct{}{}
	return nil
}

func activeChallenge(clock clockwork.Clock, until time.Duration) *models.Challenge {
	end := clock.Now().Add(until).UnixMilli()
	return &models.Challenge{
		ID:      "ch-1",
		Status:  models.ChallengeStatusActive,
		EndTime: &end,
		Participants: map[string]models.Participant{
			"self": {Status: models.ParticipantStatusActive},
		},
	}
}

func expectFire(t *testing.T, calls chan struct{}) {
	t.Helper()
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("completer was not invoked")
	}
}

// settle gives a cancelled arming goroutine time to observe its cancel
// channel and deregister from the fake clock before time advances.
func settle() {
	time.Sleep(50 * time.Millisecond)
}

func expectNoFire(t *testing.T, calls chan struct{}) {
	t.Helper()
	select {
	case <-calls:
		t.Fatal("completer should not have been invoked")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFiresAtDeadline(t *testing.T) {
	clock := clockwork.NewFakeClock()
	src := &cell{}
	completer := &recordingCompleter{calls: make(chan struct{}, 1)}
	tm := New(clock, src, completer)

	ch := activeChallenge(clock, 5*time.Minute)
	src.set(ch)
	tm.Rearm(context.Background(), ch)

	clock.BlockUntil(1)
	clock.Advance(5 * time.Minute)
	expectFire(t, completer.calls)
}

func TestFiresImmediatelyForPastDeadline(t *testing.T) {
	clock := clockwork.NewFakeClock()
	src := &cell{}
	completer := &recordingCompleter{calls: make(chan struct{}, 1)}
	tm := New(clock, src, completer)

	ch := activeChallenge(clock, -time.Minute)
	src.set(ch)
	tm.Rearm(context.Background(), ch)

	expectFire(t, completer.calls)
}

func TestDisarmStopsPendingFire(t *testing.T) {
	clock := clockwork.NewFakeClock()
	src := &cell{}
	completer := &recordingCompleter{calls: make(chan struct{}, 1)}
	tm := New(clock, src, completer)

	ch := activeChallenge(clock, time.Minute)
	src.set(ch)
	tm.Rearm(context.Background(), ch)

	clock.BlockUntil(1)
	tm.Disarm()
	settle()
	clock.Advance(time.Minute)
	expectNoFire(t, completer.calls)
}

func TestRearmWithNilDisarms(t *testing.T) {
	clock := clockwork.NewFakeClock()
	src := &cell{}
	completer := &recordingCompleter{calls: make(chan struct{}, 1)}
	tm := New(clock, src, completer)

	ch := activeChallenge(clock, time.Minute)
	src.set(ch)
	tm.Rearm(context.Background(), ch)

	clock.BlockUntil(1)
	src.set(nil)
	tm.Rearm(context.Background(), nil)
	settle()
	clock.Advance(time.Minute)
	expectNoFire(t, completer.calls)
}

func TestStaleFireIsSuppressed(t *testing.T) {
	clock := clockwork.NewFakeClock()
	src := &cell{}
	completer := &recordingCompleter{calls: make(chan struct{}, 1)}
	tm := New(clock, src, completer)

	ch := activeChallenge(clock, time.Minute)
	src.set(ch)
	tm.Rearm(context.Background(), ch)
	clock.BlockUntil(1)

	// The duel resolves while the timer is pending; the cell re-read at
	// fire-time must win over the snapshot the arming captured.
	done := ch.Clone()
	done.Status = models.ChallengeStatusCompleted
	src.set(done)

	clock.Advance(time.Minute)
	expectNoFire(t, completer.calls)
}

func TestRearmReplacesPreviousArming(t *testing.T) {
	clock := clockwork.NewFakeClock()
	src := &cell{}
	completer := &recordingCompleter{calls: make(chan struct{}, 2)}
	tm := New(clock, src, completer)

	first := activeChallenge(clock, time.Minute)
	src.set(first)
	tm.Rearm(context.Background(), first)
	clock.BlockUntil(1)

	second := activeChallenge(clock, 10*time.Minute)
	src.set(second)
	tm.Rearm(context.Background(), second)
	settle()
	clock.BlockUntil(1)

	clock.Advance(time.Minute)
	expectNoFire(t, completer.calls)

	clock.Advance(9 * time.Minute)
	expectFire(t, completer.calls)
	require.Empty(t, completer.calls)
}
