package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const shutdownTimeout = 30 * time.Second

// App starts components in the order they were added and stops them in
// reverse.
type App struct {
	components []component
	logger     *slog.Logger
}

type component struct {
	name    string
	value   any
	started bool
}

// NewApp creates an empty App.
func NewApp(logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{logger: logger.With("component", "core")}
}

// Add appends a component. Values that implement neither Starter nor
// Stopper are accepted and ignored.
func (a *App) Add(name string, value any) {
	a.components = append(a.components, component{name: name, value: value})
}

// Start starts every Starter in order. When one fails, the components
// already started are stopped in reverse order.
func (a *App) Start(ctx context.Context) error {
	for i := range a.components {
		c := &a.components[i]
		s, ok := c.value.(Starter)
		if !ok {
			c.started = true
			continue
		}
		a.logger.Info("starting component", "name", c.name)
		if err := s.Start(ctx); err != nil {
			a.logger.Error("component start failed", "name", c.name, "error", err)
			a.stopFrom(i - 1)
			return fmt.Errorf("starting %s: %w", c.name, err)
		}
		c.started = true
	}
	a.logger.Info("all components started")
	return nil
}

// Stop stops every started component in reverse order and returns the
// joined errors.
func (a *App) Stop() error {
	return a.stopFrom(len(a.components) - 1)
}

func (a *App) stopFrom(index int) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	for i := index; i >= 0; i-- {
		c := &a.components[i]
		if !c.started {
			continue
		}
		c.started = false
		s, ok := c.value.(Stopper)
		if !ok {
			continue
		}
		a.logger.Info("stopping component", "name", c.name)
		if err := s.Stop(ctx); err != nil {
			a.logger.Error("component stop error", "name", c.name, "error", err)
			errs = append(errs, fmt.Errorf("stopping %s: %w", c.name, err))
		}
	}
	return errors.Join(errs...)
}

// Run starts every component and blocks until ctx is done or SIGINT or
// SIGTERM arrives, then stops them.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	a.logger.Info("shutdown signal received")

	err := a.Stop()
	a.logger.Info("shutdown complete")
	return err
}
