package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/offduel/offduel/internal/store"
)

// Config holds relay settings.
type Config struct {
	DatabaseURL   string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel string        // Channel name to LISTEN on
	MaxRetries    int
	RetryDelay    time.Duration
	PingInterval  time.Duration
}

// DefaultConfig returns default relay configuration.
func DefaultConfig() Config {
	return Config{
		NotifyChannel: store.NotifyChannel,
		MaxRetries:    5,
		RetryDelay:    200 * time.Millisecond,
		PingInterval:  90 * time.Second,
	}
}

// Publisher abstracts the push channel the relay republishes onto.
type Publisher interface {
	Publish(ctx context.Context, challengeID string) error
}

// Relay bridges Postgres pg_notify change notifications onto the push
// channel so every client session gets per-record update delivery without
// polling the database itself.
type Relay struct {
	listener  *pq.Listener
	publisher Publisher
	cfg       Config
}

// NewRelay opens a LISTEN connection on the notify channel.
func NewRelay(publisher Publisher, cfg Config) (*Relay, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().Str("channel", cfg.NotifyChannel).Msg("listening for challenge notifications")

	return &Relay{
		listener:  l,
		publisher: publisher,
		cfg:       cfg,
	}, nil
}

// Start consumes notifications until the context is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	log.Info().
		Str("channel", r.cfg.NotifyChannel).
		Dur("ping_interval", r.cfg.PingInterval).
		Msg("relay started")

	pingTicker := time.NewTicker(r.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("relay shutting down")
			return r.Stop()
		case note := <-r.listener.Notify:
			if note == nil {
				// nil notification means the connection was lost; pq reconnects
				continue
			}
			if err := r.publishWithRetry(ctx, note.Extra); err != nil {
				log.Error().Err(err).Str("challenge_id", note.Extra).Msg("failed to republish notification")
			}
		case <-pingTicker.C:
			if err := r.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

// Stop closes the LISTEN connection.
func (r *Relay) Stop() error {
	return r.listener.Close()
}

// publishWithRetry attempts to republish a change notification with a
// linear backoff.
func (r *Relay) publishWithRetry(ctx context.Context, challengeID string) error {
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.cfg.RetryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := r.publisher.Publish(ctx, challengeID); err != nil {
			lastErr = err
			log.Error().
				Err(err).
				Int("attempt", attempt+1).
				Str("challenge_id", challengeID).
				Msg("failed to publish, retrying")
			continue
		}

		if attempt > 0 {
			log.Info().
				Int("attempt", attempt+1).
				Str("challenge_id", challengeID).
				Msg("publish succeeded after retry")
		}
		return nil
	}

	return fmt.Errorf("publish failed after %d attempts: %w", r.cfg.MaxRetries+1, lastErr)
}
