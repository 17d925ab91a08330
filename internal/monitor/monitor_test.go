package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

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

type recordingRecorder struct {
	calls chan struct{}
}

func (r *recordingRecorder) RecordLocalLoss(ctx context.Context) error {
	r.calls <- struct{}{}
	return nil
}

func activeDuel() *models.Challenge {
	return &models.Challenge{
		ID:     "ch-1",
		Status: models.ChallengeStatusActive,
		Participants: map[string]models.Participant{
			"self":  {Status: models.ParticipantStatusActive},
			"other": {Status: models.ParticipantStatusActive},
		},
	}
}

func newTestMonitor(t *testing.T) (*Monitor, *cell, *recordingRecorder, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	src := &cell{}
	rec := &recordingRecorder{calls: make(chan struct{}, 1)}
	return New(clock, src, rec, 0), src, rec, clock
}

func expectLoss(t *testing.T, calls chan struct{}) {
	t.Helper()
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("loss was not recorded")
	}
}

func expectNoLoss(t *testing.T, calls chan struct{}) {
	t.Helper()
	select {
	case <-calls:
		t.Fatal("loss should not have been recorded")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHiddenBeyondGraceRecordsLoss(t *testing.T) {
	m, src, rec, clock := newTestMonitor(t)
	src.set(activeDuel())

	m.Observe(context.Background(), SignalHidden)
	clock.BlockUntil(1)
	clock.Advance(DefaultGraceWindow)
	expectLoss(t, rec.calls)
}

func TestBlurGetsTheSameGraceWindow(t *testing.T) {
	m, src, rec, clock := newTestMonitor(t)
	src.set(activeDuel())

	m.Observe(context.Background(), SignalBlur)
	clock.BlockUntil(1)
	clock.Advance(DefaultGraceWindow)
	expectLoss(t, rec.calls)
}

func TestScreenLockBounceDoesNotLose(t *testing.T) {
	m, src, rec, clock := newTestMonitor(t)
	src.set(activeDuel())

	// hidden then visible inside the window: typical screen-lock pattern
	m.Observe(context.Background(), SignalHidden)
	clock.BlockUntil(1)
	m.Observe(context.Background(), SignalVisible)
	time.Sleep(50 * time.Millisecond)
	clock.Advance(DefaultGraceWindow)
	expectNoLoss(t, rec.calls)
}

func TestUnloadRecordsLossImmediately(t *testing.T) {
	m, src, rec, _ := newTestMonitor(t)
	src.set(activeDuel())

	m.Observe(context.Background(), SignalUnload)
	expectLoss(t, rec.calls)
}

func TestSignalsIgnoredOutsideActiveDuel(t *testing.T) {
	m, src, rec, _ := newTestMonitor(t)

	// no challenge at all
	m.Observe(context.Background(), SignalUnload)
	expectNoLoss(t, rec.calls)

	// waiting challenge
	waiting := activeDuel()
	waiting.Status = models.ChallengeStatusWaiting
	src.set(waiting)
	m.Observe(context.Background(), SignalHidden)
	expectNoLoss(t, rec.calls)

	// local participant already eliminated
	done := activeDuel()
	done.Participants["self"] = models.Participant{Status: models.ParticipantStatusLost}
	src.set(done)
	m.Observe(context.Background(), SignalUnload)
	expectNoLoss(t, rec.calls)
}

func TestSecondSignalJoinsOpenWindow(t *testing.T) {
	m, src, rec, clock := newTestMonitor(t)
	src.set(activeDuel())

	m.Observe(context.Background(), SignalHidden)
	clock.BlockUntil(1)
	m.Observe(context.Background(), SignalBlur)

	clock.Advance(DefaultGraceWindow)
	expectLoss(t, rec.calls)
	expectNoLoss(t, rec.calls)
}

func TestEliminationWhilePendingSuppressesLoss(t *testing.T) {
	m, src, rec, clock := newTestMonitor(t)
	src.set(activeDuel())

	m.Observe(context.Background(), SignalHidden)
	clock.BlockUntil(1)

	// A remote update eliminates the participant while the window is open;
	// the fire-time re-check must not double-record.
	done := activeDuel()
	done.Participants["self"] = models.Participant{Status: models.ParticipantStatusLost}
	src.set(done)

	clock.Advance(DefaultGraceWindow)
	expectNoLoss(t, rec.calls)
}
