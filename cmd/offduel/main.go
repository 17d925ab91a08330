package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/offduel/offduel/internal/cache"
	"github.com/offduel/offduel/internal/challenge"
	"github.com/offduel/offduel/internal/gateway"
	"github.com/offduel/offduel/internal/models"
	"github.com/offduel/offduel/internal/monitor"
	"github.com/offduel/offduel/internal/session"
	"github.com/offduel/offduel/internal/store"
	csync "github.com/offduel/offduel/internal/sync"
	"github.com/offduel/offduel/internal/timer"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}
	setupLogging()

	cfg, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := setupDatabase(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to shared store")
	}
	defer db.Close()

	mirror, err := cache.Open(cfg.Cache.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Cache.Path).Msg("failed to open local cache")
	}
	defer mirror.Close()

	clock := clockwork.NewRealClock()
	challengeStore := store.NewStore(db)

	// The warn callback closes over the session so degraded-sync warnings
	// reach the UI; the session itself is built right after.
	var sess *session.Session
	app := challenge.NewApp(challengeStore, mirror, clock, func(err error) {
		if sess != nil {
			sess.WarnSync(err)
		}
	})
	sess = session.New(app, mirror)

	cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	sess.Bind(cm)

	challengeTimer := timer.New(clock, sess, sess)
	defer challengeTimer.Disarm()

	activityMonitor := monitor.New(
		clock, sess, sess,
		time.Duration(cfg.Monitor.GraceWindowMillis)*time.Millisecond,
	)

	handler := gateway.NewHandler(sess, activityMonitor, cm)

	// Every cell change re-arms the deadline timer and pushes a fresh
	// snapshot to connected UIs.
	sess.OnChange(func(ch *models.Challenge) {
		challengeTimer.Rearm(ctx, ch)
		cm.BroadcastState(handler.Snapshot())
	})

	watcherCfg := csync.DefaultConfig()
	watcherCfg.URL = cfg.NATS.URL
	watcherCfg.PollInterval = time.Duration(cfg.Sync.PollIntervalSeconds) * time.Second
	watcher := csync.NewWatcher(watcherCfg, challengeStore, sess, clock)

	go cm.Start(ctx)
	go func() {
		if err := watcher.Run(ctx); err != nil {
			log.Error().Err(err).Msg("sync watcher exited")
		}
	}()

	// A warm-loaded session may already be mid-duel; arm the timer so a
	// deadline that passed while the process was down resolves immediately.
	if ch, _ := sess.Current(); ch != nil {
		challengeTimer.Rearm(ctx, ch)
	}

	srv := setupServer(cfg, handler)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("session daemon listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if getEnv("LOG_PRETTY", "") != "" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
