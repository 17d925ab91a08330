package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/offduel/offduel/internal/models"
)

// Signal is an attention event reported by the client UI.
type Signal string

const (
	SignalHidden  Signal = "hidden"  // visibility changed to hidden
	SignalVisible Signal = "visible" // visibility restored
	SignalBlur    Signal = "blur"    // window lost focus
	SignalFocus   Signal = "focus"   // window regained focus
	SignalUnload  Signal = "unload"  // navigation away / close
)

// DefaultGraceWindow distinguishes a transient visibility change (a device
// screen-lock) from genuine navigation away. It applies uniformly to
// hidden and blur signals; only unload disqualifies immediately.
const DefaultGraceWindow = 100 * time.Millisecond

// LossRecorder records the local participant's elimination.
type LossRecorder interface {
	RecordLocalLoss(ctx context.Context) error
}

// Source yields the latest challenge and the local participant id.
type Source interface {
	Current() (*models.Challenge, string)
}

// Monitor watches attention signals and eliminates the local participant
// when they stop attending to an active duel. It performs no blocking work
// of its own; Observe returns immediately and any pending grace timer runs
// on its own goroutine.
type Monitor struct {
	clock    clockwork.Clock
	source   Source
	recorder LossRecorder
	grace    time.Duration

	mu      sync.Mutex
	pending chan struct{} // non-nil while a grace window is open
}

// New creates a monitor with the given grace window; zero means
// DefaultGraceWindow.
func New(clock clockwork.Clock, source Source, recorder LossRecorder, grace time.Duration) *Monitor {
	if grace <= 0 {
		grace = DefaultGraceWindow
	}
	return &Monitor{
		clock:    clock,
		source:   source,
		recorder: recorder,
		grace:    grace,
	}
}

// Observe processes one attention signal. Disqualifying signals while the
// local participant is active open a grace window (or fire immediately for
// unload); restorative signals inside the window cancel it, so a
// screen-lock does not count as a loss. Redundant signals after the
// participant is terminal no-op via RecordLoss idempotence.
func (m *Monitor) Observe(ctx context.Context, sig Signal) {
	switch sig {
	case SignalVisible, SignalFocus:
		m.cancelPending()
		return
	case SignalHidden, SignalBlur:
		if !m.attending() {
			return
		}
		m.openGraceWindow(ctx, sig)
	case SignalUnload:
		if !m.attending() {
			return
		}
		log.Info().Str("signal", string(sig)).Msg("navigation away detected, recording loss")
		m.recordLoss(ctx)
	default:
		log.Warn().Str("signal", string(sig)).Msg("unknown attention signal, ignoring")
	}
}

// attending reports whether the local participant is currently in an
// active duel; signals outside that window are ignored.
func (m *Monitor) attending() bool {
	ch, participantID := m.source.Current()
	if ch == nil || participantID == "" || ch.Status != models.ChallengeStatusActive {
		return false
	}
	p, ok := ch.Participants[participantID]
	return ok && p.Status == models.ParticipantStatusActive
}

func (m *Monitor) openGraceWindow(ctx context.Context, sig Signal) {
	m.mu.Lock()
	if m.pending != nil {
		// A window is already open; a second disqualifying signal joins it.
		m.mu.Unlock()
		return
	}
	cancel := make(chan struct{})
	m.pending = cancel
	m.mu.Unlock()

	log.Debug().
		Str("signal", string(sig)).
		Dur("grace", m.grace).
		Msg("attention lost, opening grace window")

	go func() {
		tm := m.clock.NewTimer(m.grace)
		select {
		case <-tm.Chan():
		case <-cancel:
			if !tm.Stop() {
				select {
				case <-tm.Chan():
				default:
				}
			}
			log.Debug().Msg("attention restored inside grace window, likely screen lock")
			return
		case <-ctx.Done():
			return
		}

		m.mu.Lock()
		if m.pending == cancel {
			m.pending = nil
		}
		m.mu.Unlock()

		// The window elapsed without a restorative signal; confirm the
		// participant is still in play before eliminating.
		if !m.attending() {
			return
		}
		log.Info().Str("signal", string(sig)).Msg("grace window elapsed, recording loss")
		m.recordLoss(ctx)
	}()
}

func (m *Monitor) cancelPending() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != nil {
		close(m.pending)
		m.pending = nil
	}
}

func (m *Monitor) recordLoss(ctx context.Context) {
	if err := m.recorder.RecordLocalLoss(ctx); err != nil {
		log.Error().Err(err).Msg("failed to record loss")
	}
}
