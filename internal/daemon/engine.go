// Package daemon composes the engine's long-lived tick loops and the local
// API gateway into one runnable unit.
package daemon

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/focusforge/forged/internal/api"
	"github.com/focusforge/forged/internal/enforce"
	"github.com/focusforge/forged/internal/schedule"
	"github.com/focusforge/forged/internal/usage"
)

// shutdownGrace bounds how long the gateway may drain in-flight requests.
const shutdownGrace = 5 * time.Second

// Engine runs one background task per tick loop (usage sampling, process
// sweep, schedule check) concurrently with the request-serving gateway.
// Canceling the context signals every loop to exit at its next boundary;
// Run returns only after in-flight work completes.
type Engine struct {
	aggregator *usage.Aggregator
	enforcer   *enforce.Enforcer
	scheduler  *schedule.Scheduler
	gateway    *api.Server
	logger     *zap.Logger
}

// NewEngine wires the components into an engine.
func NewEngine(
	aggregator *usage.Aggregator,
	enforcer *enforce.Enforcer,
	scheduler *schedule.Scheduler,
	gateway *api.Server,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		aggregator: aggregator,
		enforcer:   enforcer,
		scheduler:  scheduler,
		gateway:    gateway,
		logger:     logger,
	}
}

// Run starts everything and blocks until the context is canceled.
// The gateway binds first: a second engine instance on the same machine
// fails here instead of silently duplicating enforcement.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.gateway.Start(); err != nil {
		e.logger.Error("failed to bind local API gateway (is forged already running?)",
			zap.Error(err))
		return err
	}

	var wg sync.WaitGroup
	loops := []func(context.Context) error{
		e.aggregator.Run,
		e.enforcer.Run,
		e.scheduler.Run,
	}

	for _, loop := range loops {
		wg.Add(1)
		go func(run func(context.Context) error) {
			defer wg.Done()
			if err := run(ctx); err != nil && err != context.Canceled {
				e.logger.Error("tick loop exited with error", zap.Error(err))
			}
		}(loop)
	}

	e.logger.Info("engine running")
	<-ctx.Done()
	e.logger.Info("engine stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := e.gateway.Shutdown(shutdownCtx); err != nil {
		e.logger.Warn("gateway shutdown error", zap.Error(err))
	}

	wg.Wait()
	e.logger.Info("engine stopped")
	return nil
}
