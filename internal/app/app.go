package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roompaneld/internal/config"
)

// ErrShutdownSignal is the stop cause when SIGINT or SIGTERM arrives.
var ErrShutdownSignal = errors.New("shutdown signal received")

// App runs the room panel: it owns the service graph and decides why the
// process stops.
type App struct {
	cfg      *config.Config
	services *Services
	ctx      context.Context
	cancel   context.CancelCauseFunc
}

// New builds every service without starting any of them.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, services: services}, nil
}

// Start brings the panel up on the Start layer. A background service that
// fails later cancels the app with its error as the cause.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancelCause(ctx)

	onFatalError := func(err error) {
		log.Error().Err(err).Msg("Fatal error, initiating shutdown")
		a.cancel(err)
	}

	if err := a.services.Start(a.ctx, onFatalError); err != nil {
		return err
	}

	snap := a.services.Machine.Snapshot()
	sw := a.services.Switcher.Status()
	log.Info().
		Str("page", a.cfg.Panel.Page).
		Str("layer", snap.Active).
		Str("switcher", sw.State).
		Bool("mqtt", a.services.Remote != nil).
		Bool("script", a.services.Script != nil).
		Bool("status", a.services.Status != nil).
		Msg("Room panel started")
	return nil
}

// Wait blocks until the app stops and returns why. Signals and parent
// cancellation return ErrShutdownSignal or the context error; a failed
// background service returns its error.
func (a *App) Wait() error {
	if a.ctx == nil {
		return nil
	}
	<-a.ctx.Done()
	return context.Cause(a.ctx)
}

// Stop shuts the panel down: the dispatcher drains, then MQTT, the script
// and the database close.
func (a *App) Stop() error {
	log.Info().Msg("Shutting down room panel")
	if a.cancel != nil {
		a.cancel(context.Canceled)
	}
	if a.services == nil {
		return nil
	}
	return a.services.Stop()
}

// SignalContext returns a context cancelled with ErrShutdownSignal on
// SIGINT or SIGTERM.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancelCause(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel(ErrShutdownSignal)
	}()

	return ctx
}

// IsCleanStop reports whether a Wait result is an ordinary shutdown.
func IsCleanStop(err error) bool {
	return err == nil || errors.Is(err, ErrShutdownSignal) || errors.Is(err, context.Canceled)
}
