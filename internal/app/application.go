// Package app assembles the components and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"coachline/internal/api"
	"coachline/internal/auth"
	"coachline/internal/config"
	"coachline/internal/escalate"
	"coachline/internal/logging"
	"coachline/internal/notify"
	"coachline/internal/presence"
	"coachline/internal/program"
	"coachline/internal/relay"
	"coachline/internal/room"
	"coachline/internal/store"
	"coachline/internal/ws"
)

// Application coordinates all system components. Initialization follows
// dependency order: store, presence, rooms, escalator, relay, program
// engine, transport. Shutdown runs the same chain in reverse.
type Application struct {
	config     *config.Config
	store      *store.SQLite
	registry   *presence.Registry
	rooms      *room.Router
	escalator  *escalate.Escalator
	relay      *relay.Relay
	scheduler  *program.Scheduler
	httpServer *http.Server
}

func NewApplication(cfg *config.Config) (*Application, error) {
	logging.Init(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	db, err := store.Open(cfg.Database.Path, cfg.Database.BusyTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	verifier, err := auth.NewVerifier(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to build token verifier: %w", err)
	}

	registry := presence.NewRegistry()
	rooms := room.NewRouter()

	alerts := notify.NewBreakerChannel("escalation-alerts", notify.LogChannel{})
	escalator := escalate.NewEscalator(alerts, cfg.Escalation.Delay)

	rl := relay.NewRelay(db, rooms, escalator, cfg.Relay.MessagesPerMinute, cfg.Relay.HistoryLimit)

	engine := program.NewEngine(db, rl, notify.LogTaskCreator{})
	scheduler := program.NewScheduler(engine, cfg.Delivery.CronSpec)

	wsHandler := ws.NewHandler(verifier, registry, rooms, rl, cfg.WebSocket)
	apiServer := api.NewServer(registry, wsHandler)

	httpServer := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:     apiServer,
		ReadTimeout: cfg.HTTP.ReadTimeout,
		// WriteTimeout stays unset: it would sever long-lived websocket
		// connections served through the same listener.
	}

	return &Application{
		config:     cfg,
		store:      db,
		registry:   registry,
		rooms:      rooms,
		escalator:  escalator,
		relay:      rl,
		scheduler:  scheduler,
		httpServer: httpServer,
	}, nil
}

// Start launches the delivery scheduler and the HTTP listener. It
// returns once the listener is accepting connections or startup failed.
func (app *Application) Start(ctx context.Context) error {
	logging.Info().Str("addr", app.httpServer.Addr).Msg("starting coachline")

	if err := app.scheduler.Start(app.config.Delivery.RunOnStart); err != nil {
		return fmt.Errorf("failed to start delivery scheduler: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		app.scheduler.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		logging.Info().Msg("coachline started")
		return nil
	case <-ctx.Done():
		app.scheduler.Stop()
		return ctx.Err()
	}
}

// Stop shuts the application down in reverse dependency order: stop
// accepting connections, stop the scheduler, cancel pending escalation
// timers, close the store.
func (app *Application) Stop(ctx context.Context) error {
	logging.Info().Msg("shutting down coachline")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		logging.Warn().Err(err).Msg("http server shutdown error")
	}

	app.scheduler.Stop()
	app.escalator.Stop()

	if err := app.store.Close(); err != nil {
		logging.Warn().Err(err).Msg("store shutdown error")
	}

	logging.Info().Msg("coachline shutdown complete")
	return nil
}

// Addr returns the listen address.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
