package sync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/offduel/offduel/internal/events"
	"github.com/offduel/offduel/internal/models"
)

// Fetcher reads the authoritative record from the shared store.
type Fetcher interface {
	Get(ctx context.Context, id string) (*models.Challenge, error)
}

// Applier is the reconciliation sink. ApplyRemote must be idempotent: the
// push path and the poll path deliver redundantly and in no particular
// order.
type Applier interface {
	Current() (*models.Challenge, string)
	ApplyRemote(remote *models.Challenge)
}

// Config holds watcher settings.
type Config struct {
	URL           string
	StreamName    string
	SubjectPrefix string
	PollInterval  time.Duration
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns default watcher configuration.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		StreamName:    "CHALLENGE_UPDATES",
		SubjectPrefix: "challenge.updates",
		PollInterval:  5 * time.Second,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Watcher keeps the session's view converged with the shared store. It
// subscribes to the current challenge's update subject for push delivery
// and re-fetches on a fallback interval regardless, since subscription
// delivery is not guaranteed; both paths feed the same Applier.
type Watcher struct {
	cfg     Config
	fetcher Fetcher
	applier Applier
	clock   clockwork.Clock

	nc   *nats.Conn
	js   jetstream.JetStream
	kick chan string
}

// NewWatcher connects the push channel. A failed NATS connection degrades
// to poll-only operation rather than failing the session.
func NewWatcher(cfg Config, fetcher Fetcher, applier Applier, clock clockwork.Clock) *Watcher {
	w := &Watcher{
		cfg:     cfg,
		fetcher: fetcher,
		applier: applier,
		clock:   clock,
		kick:    make(chan string, 16),
	}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		log.Warn().Err(err).Msg("push channel unavailable, falling back to polling only")
		return w
	}

	js, err := jetstream.New(nc)
	if err != nil {
		log.Warn().Err(err).Msg("JetStream unavailable, falling back to polling only")
		nc.Close()
		return w
	}

	w.nc = nc
	w.js = js
	return w
}

// Run watches until the context is cancelled. The subscription is torn
// down and re-armed whenever the session's challenge id changes, so a
// reset or a new join never leaves a stale consumer delivering into the
// wrong state.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := w.clock.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	var subscribedID string
	var stopConsume func()

	defer func() {
		if stopConsume != nil {
			stopConsume()
		}
		if w.nc != nil {
			w.nc.Close()
		}
	}()

	log.Info().
		Dur("poll_interval", w.cfg.PollInterval).
		Bool("push_enabled", w.js != nil).
		Msg("sync watcher started")

	for {
		ch, _ := w.applier.Current()
		id := ""
		if ch != nil {
			id = ch.ID
		}

		if id != subscribedID {
			if stopConsume != nil {
				stopConsume()
				stopConsume = nil
			}
			if id != "" && w.js != nil {
				stopConsume = w.subscribe(ctx, id)
			}
			subscribedID = id
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("sync watcher shutting down")
			return nil
		case <-ticker.Chan():
			if subscribedID != "" {
				w.refresh(ctx, subscribedID)
			}
		case kickedID := <-w.kick:
			if kickedID == subscribedID {
				w.refresh(ctx, kickedID)
			}
		}
	}
}

// subscribe arms an ephemeral consumer on the challenge's update subject.
// Returns a stop function, or nil if the subscription could not be armed
// (polling still covers delivery).
func (w *Watcher) subscribe(ctx context.Context, challengeID string) func() {
	subject := w.cfg.SubjectPrefix + "." + challengeID

	cons, err := w.js.CreateOrUpdateConsumer(ctx, w.cfg.StreamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("failed to create update consumer")
		return nil
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		var env events.UpdateEnvelope
		if err := json.Unmarshal(msg.Data(), &env); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject()).Msg("malformed update envelope")
		}
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error().Err(ackErr).Msg("failed to ACK update")
		}

		select {
		case w.kick <- challengeID:
		default:
			// A refresh is already queued; the re-fetch is authoritative
			// so dropping the extra kick loses nothing.
		}
	})
	if err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("failed to start update consumer")
		return nil
	}

	log.Info().Str("subject", subject).Msg("subscribed to challenge updates")
	return cc.Stop
}

// refresh re-fetches the record and hands it to the reconciler. Read
// failures are transport trouble, not absence: the session keeps its local
// view and the next tick retries.
func (w *Watcher) refresh(ctx context.Context, challengeID string) {
	remote, err := w.fetcher.Get(ctx, challengeID)
	if err != nil {
		log.Warn().Err(err).Str("challenge_id", challengeID).Msg("remote re-fetch failed, keeping local view")
		return
	}
	if remote == nil {
		log.Debug().Str("challenge_id", challengeID).Msg("remote record not found on refresh")
		return
	}
	w.applier.ApplyRemote(remote)
}
