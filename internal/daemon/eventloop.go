package daemon

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/groupbot/internal/metrics"
	"github.com/harun/groupbot/pkg/memory"
)

const defaultMaintenanceInterval = 30 * time.Second

// cooldownSource reports LLM auth profiles that are cooling down.
type cooldownSource interface {
	Cooldowns() map[string]time.Time
}

// EventLoop handles the periodic maintenance loop
type EventLoop struct {
	store     *memory.Store
	providers cooldownSource
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	interval  time.Duration
	now       func() time.Time
}

// NewEventLoop creates a new event loop
func NewEventLoop(d *Daemon) *EventLoop {
	return &EventLoop{
		store:     d.store,
		providers: d.providers,
		metrics:   d.metrics,
		logger:    d.logger.Component("eventloop"),
		interval:  defaultMaintenanceInterval,
		now:       time.Now,
	}
}

// Run runs the event loop with periodic maintenance tasks
func (e *EventLoop) Run(ctx context.Context) {
	e.logger.Info().Msg("Event loop started")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.processTasks()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Event loop stopping")
			return

		case <-ticker.C:
			e.processTasks()
		}
	}
}

// processTasks refreshes the gauges that are sampled rather than counted.
func (e *EventLoop) processTasks() {
	groups := e.store.Len()
	e.metrics.GroupsActive.Set(float64(groups))

	if e.providers == nil {
		return
	}
	cooldowns := e.providers.Cooldowns()
	e.metrics.SetProviderCooldowns(cooldowns, e.now())
	for id, until := range cooldowns {
		e.logger.Debug().
			Str("profile", id).
			Time("until", until).
			Msg("Auth profile cooling down")
	}
}
