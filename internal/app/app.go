// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires the components together and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wingedpig/lookout/internal/api"
	"github.com/wingedpig/lookout/internal/config"
	"github.com/wingedpig/lookout/internal/events"
	"github.com/wingedpig/lookout/internal/hooks"
	"github.com/wingedpig/lookout/internal/session"
	"github.com/wingedpig/lookout/internal/transcript"
)

// App is the main application container.
type App struct {
	mu sync.RWMutex

	configPath string
	version    string
	config     *config.Config

	eventBus     events.EventBus
	parser       *transcript.Parser
	summarizer   *transcript.Summarizer
	store        *session.Store
	scheduler    *session.Scheduler
	health       *session.HealthChecker
	hookListener *hooks.Listener
	watchers     *watcherSet
	apiServer    *api.Server

	done     chan struct{}
	stopOnce sync.Once
}

// Options holds configuration options for the app.
type Options struct {
	ConfigPath string
	Host       string
	Port       int
	Debug      bool
	Version    string
}

// New creates a new App instance.
func New(opts Options) (*App, error) {
	app := &App{
		configPath: opts.ConfigPath,
		version:    opts.Version,
		done:       make(chan struct{}),
	}

	var cfg *config.Config
	if opts.ConfigPath != "" {
		loaded, err := config.NewLoader().LoadWithDefaults(context.Background(), opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	// Override host/port if specified
	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}

	if err := config.NewValidator().Validate(cfg); err != nil {
		return nil, err
	}
	app.config = cfg

	app.eventBus = events.NewMemoryEventBus(events.MemoryBusConfig{
		HistoryMaxEvents: cfg.Events.History.MaxEvents,
		HistoryMaxAge:    config.ParseDuration(cfg.Events.History.MaxAge, time.Hour),
	})

	return app, nil
}

// Initialize constructs and wires all components.
func (app *App) Initialize(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	cfg := app.config
	root := cfg.Transcripts.Root

	app.parser = transcript.NewParser()
	app.summarizer = transcript.NewSummarizer()

	app.store = session.NewStore(app.eventBus, root)
	app.store.SetClearGrace(config.ParseDuration(cfg.Sessions.ClearGrace, session.DefaultClearGrace))

	app.scheduler = session.NewScheduler(app.parser, app.summarizer, app.store,
		config.ParseDuration(cfg.Watch.Resync, session.DefaultResyncDelay))
	app.store.SetResyncer(app.scheduler)

	app.health = session.NewHealthChecker(app.store, app.scheduler, root,
		config.ParseDuration(cfg.Health.Interval, session.DefaultHealthInterval))

	app.hookListener = hooks.NewListener(cfg.Hooks.Socket, func(n hooks.Notification) {
		app.store.Dispatch(session.HookEvent{Notification: n})
	})
	app.store.SetResponder(app.hookListener)

	app.watchers = newWatcherSet(app.store, app.scheduler, root,
		config.ParseDuration(cfg.Watch.Debounce, 100*time.Millisecond))
	if err := app.watchers.subscribe(app.eventBus); err != nil {
		return fmt.Errorf("subscribe watchers: %w", err)
	}

	app.apiServer = api.NewServer(api.ServerConfig{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, api.Dependencies{
		Store:    app.store,
		EventBus: app.eventBus,
	})

	return nil
}

// Start launches the listeners and background loops.
func (app *App) Start(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	if err := app.hookListener.Start(); err != nil {
		return fmt.Errorf("start hook listener: %w", err)
	}
	app.health.Start()
	return nil
}

// Run initializes, starts, and blocks until a signal or Stop.
func (app *App) Run(ctx context.Context) error {
	if err := app.Initialize(ctx); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := app.apiServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			log.Printf("Received signal %v, shutting down...", sig)
		case <-gctx.Done():
		case <-app.done:
			log.Printf("Shutdown requested...")
		}
		return app.Shutdown(context.Background())
	})

	return g.Wait()
}

// Shutdown gracefully shuts down all components.
func (app *App) Shutdown(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop the API server first to stop accepting new requests.
	if app.apiServer != nil {
		if err := app.apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down API server: %v", err)
		}
	}

	if app.hookListener != nil {
		app.hookListener.Close()
	}
	if app.health != nil {
		app.health.Stop()
	}
	if app.watchers != nil {
		app.watchers.stop()
	}
	if app.scheduler != nil {
		app.scheduler.Stop()
	}
	if app.eventBus != nil {
		app.eventBus.Close()
	}

	log.Println("Shutdown complete")
	return nil
}

// Stop signals the app to shut down. Safe to call multiple times.
func (app *App) Stop() {
	app.stopOnce.Do(func() {
		close(app.done)
	})
}
