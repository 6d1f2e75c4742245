package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/harun/groupbot/pkg/memory"
)

const snapshotTimeout = 30 * time.Second

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// Jobs runs the memory maintenance schedules.
type Jobs struct {
	cron      *cron.Cron
	store     *memory.Store
	snapshots *memory.SQLiteSnapshotStore
	logger    zerolog.Logger
}

// JobsConfig holds the schedules. Empty schedules are not registered.
type JobsConfig struct {
	Store            *memory.Store
	Snapshots        *memory.SQLiteSnapshotStore // nil disables snapshot jobs
	SnapshotSchedule string
	ResetSchedule    string
	Logger           zerolog.Logger
}

// NewJobs registers the configured schedules without starting them.
func NewJobs(cfg JobsConfig) (*Jobs, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("memory store is required")
	}

	logger := cronLogger{logger: cfg.Logger}
	j := &Jobs{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		store:     cfg.Store,
		snapshots: cfg.Snapshots,
		logger:    cfg.Logger,
	}

	if cfg.Snapshots != nil && cfg.SnapshotSchedule != "" {
		if _, err := j.cron.AddFunc(cfg.SnapshotSchedule, j.snapshot); err != nil {
			return nil, fmt.Errorf("invalid snapshot schedule %q: %w", cfg.SnapshotSchedule, err)
		}
	}
	if cfg.ResetSchedule != "" {
		if _, err := j.cron.AddFunc(cfg.ResetSchedule, j.reset); err != nil {
			return nil, fmt.Errorf("invalid reset schedule %q: %w", cfg.ResetSchedule, err)
		}
	}

	return j, nil
}

// Len returns the number of registered schedules.
func (j *Jobs) Len() int {
	return len(j.cron.Entries())
}

func (j *Jobs) Start() {
	j.cron.Start()
}

// Stop stops scheduling and waits for a running job.
func (j *Jobs) Stop() {
	<-j.cron.Stop().Done()
}

func (j *Jobs) snapshot() {
	if err := j.Snapshot(context.Background()); err != nil {
		j.logger.Error().Err(err).Msg("Scheduled snapshot failed")
	}
}

// Snapshot saves every group session. It is a no-op without a snapshot store.
func (j *Jobs) Snapshot(ctx context.Context) error {
	if j.snapshots == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()

	if err := memory.PersistStore(ctx, j.store, j.snapshots); err != nil {
		return fmt.Errorf("failed to save snapshots: %w", err)
	}
	j.logger.Debug().Int("groups", j.store.Len()).Msg("Snapshots saved")
	return nil
}

func (j *Jobs) reset() {
	groups := j.store.Groups()
	for _, id := range groups {
		j.store.Clear(id)
	}
	j.logger.Info().Int("groups", len(groups)).Msg("Scheduled memory reset")
}
