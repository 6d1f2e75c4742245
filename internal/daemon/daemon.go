// Package daemon wires the group chat bot together and runs it.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/harun/groupbot/internal/config"
	"github.com/harun/groupbot/internal/logger"
	"github.com/harun/groupbot/internal/metrics"
	"github.com/harun/groupbot/internal/telegram"
	"github.com/harun/groupbot/internal/tracing"
	"github.com/harun/groupbot/pkg/agent"
	"github.com/harun/groupbot/pkg/emotion"
	"github.com/harun/groupbot/pkg/gate"
	"github.com/harun/groupbot/pkg/memory"
	"github.com/harun/groupbot/pkg/router"
	"github.com/harun/groupbot/pkg/tools"
)

const (
	shutdownGrace  = 15 * time.Second
	restoreTimeout = 30 * time.Second
)

// Daemon represents the groupbot daemon service
type Daemon struct {
	config     *config.Config
	configPath string
	logger     *logger.Logger

	// Core modules
	store     *memory.Store
	gate      *gate.Gate
	router    *router.Router
	tagger    *emotion.Tagger
	tools     *tools.Registry
	providers *agent.FailoverProvider
	executor  *agent.Executor
	snapshots *memory.SQLiteSnapshotStore

	// Telegram
	bot      *telegram.Bot
	handler  *telegram.Handler
	commands *telegram.Commands

	// Services
	pipeline      *Pipeline
	jobs          *Jobs
	watcher       *config.Watcher
	metrics       *metrics.Metrics
	metricsServer *http.Server
	metricsAddr   string

	// Internal
	eventLoop *EventLoop
	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithConfigPath enables hot reload of the file at path.
func WithConfigPath(path string) Option {
	return func(d *Daemon) {
		d.configPath = path
	}
}

// WithBot uses an already authenticated bot instead of logging in with the configured token.
func WithBot(bot *telegram.Bot) Option {
	return func(d *Daemon) {
		d.bot = bot
	}
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		config: cfg,
		logger: log,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(d)
	}

	if err := d.initializeCoreModules(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeServices(); err != nil {
		cancel()
		if d.snapshots != nil {
			_ = d.snapshots.Close()
		}
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.eventLoop = NewEventLoop(d)
	d.lifecycle = NewLifecycleManager(cfg.DataDir, log.Component("lifecycle"))

	return d, nil
}

// initializeCoreModules builds memory, tools, providers and the executor.
func (d *Daemon) initializeCoreModules() error {
	cfg := d.config

	d.metrics = metrics.NewMetrics()
	d.store = memory.NewStore(cfg.Memory.WindowSize)
	d.gate = gate.New()
	d.router = router.New(cfg.Router.Keywords)
	d.tagger = emotion.NewTagger(cfg.Emotion.Lexicon)
	d.logger.Info().Int("window_size", d.store.WindowSize()).Msg("Group memory initialized")

	d.tools = tools.NewRegistry(
		tools.WithLogger(d.logger.Component("tools")),
		tools.WithObserver(d.metrics.ObserveTool),
		tools.WithTimeout(2*cfg.HTTPTimeout()),
	)
	if err := tools.RegisterCrypto(d.tools, tools.CryptoConfig{
		CoinGeckoURL:      cfg.Tools.CoinGeckoBaseURL,
		FearGreedURL:      cfg.Tools.FearGreedURL,
		BlockchainURL:     cfg.Tools.BlockchainBaseURL,
		HTTPTimeout:       cfg.HTTPTimeout(),
		RequestsPerSecond: cfg.Tools.RequestsPerSecond,
		Logger:            d.logger.Component("tools"),
	}); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}
	d.logger.Info().Strs("tools", d.tools.Names()).Msg("Tool registry initialized")

	providers, err := agent.NewFailoverProvider(agent.FailoverConfig{
		Profiles: cfg.AuthProfiles(),
		Logger:   d.logger.Component("llm"),
	})
	if err != nil {
		return fmt.Errorf("failed to create provider chain: %w", err)
	}
	d.providers = providers

	reasoner := agent.NewLLMReasoner(providers, agent.ReasonerConfig{
		Model:        cfg.Agent.Model,
		SystemPrompt: cfg.Agent.SystemPrompt,
		Temperature:  cfg.Agent.Temperature,
		MaxTokens:    cfg.Agent.MaxTokens,
		NativeTools:  cfg.Agent.NativeTools,
		Logger:       d.logger.Component("reasoner"),
	})
	direct := agent.NewLLMDirectAnswerer(providers, agent.DirectConfig{
		Model:        cfg.Agent.Model,
		SystemPrompt: cfg.Agent.DirectPrompt,
		Temperature:  cfg.Agent.Temperature,
		MaxTokens:    cfg.Agent.MaxTokens,
	})

	executor, err := agent.NewExecutor(agent.ExecutorConfig{
		Router:        d.router,
		Direct:        direct,
		Reasoner:      reasoner,
		Tools:         d.tools,
		MaxIterations: cfg.Agent.MaxIterations,
		MaxRetries:    cfg.Agent.MaxRetries,
		Apology:       cfg.Agent.Apology,
		LoopTimeout:   cfg.LoopTimeout(),
		RetryBackoff:  cfg.RetryBackoff(),
		Logger:        d.logger.Component("agent"),
		Hooks:         d.metrics.AgentHooks(),
	})
	if err != nil {
		return fmt.Errorf("failed to create executor: %w", err)
	}
	d.executor = executor
	d.logger.Info().
		Int("max_iterations", cfg.Agent.MaxIterations).
		Int("max_retries", cfg.Agent.MaxRetries).
		Msg("Agent executor initialized")

	return nil
}

// initializeServices builds the transport, pipeline and background services.
func (d *Daemon) initializeServices() error {
	cfg := d.config

	if d.bot == nil {
		bot, err := telegram.New(&cfg.Telegram, d.logger)
		if err != nil {
			return fmt.Errorf("failed to create telegram bot: %w", err)
		}
		d.bot = bot
	}
	d.handler = telegram.NewHandler(d.bot)
	d.commands = telegram.NewCommands(d.bot)
	registerCommands(d.commands, d.store)
	d.bot.SetMessageHandler(d.handler)
	d.bot.SetCommandHandler(d.commands)

	pipeline, err := NewPipeline(PipelineConfig{
		Store:            d.store,
		Gate:             d.gate,
		Tagger:           d.tagger,
		Runner:           d.executor,
		Replier:          d.handler,
		Metrics:          d.metrics,
		Logger:           d.logger.Component("pipeline"),
		Probability:      cfg.Bot.ResponseProbability,
		MentionToken:     d.mentionToken(cfg),
		SelfMentionToken: d.bot.MentionToken(),
		EmotionEnabled:   cfg.Emotion.Enabled,
		MaxConcurrency:   cfg.Bot.MaxConcurrency,
		DedupeTTL:        cfg.DedupeTTL(),
		Allowlist:        cfg.Telegram.Allowlist,
	})
	if err != nil {
		return err
	}
	d.pipeline = pipeline
	d.handler.SetOnMessage(pipeline.HandleMessage)

	if cfg.Memory.SnapshotPath != "" {
		path := cfg.Memory.SnapshotPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.DataDir, path)
		}
		snapshots, err := memory.OpenSQLiteSnapshotStore(path, d.logger.GetZerolog())
		if err != nil {
			return fmt.Errorf("failed to open snapshot store: %w", err)
		}
		d.snapshots = snapshots
	}

	jobs, err := NewJobs(JobsConfig{
		Store:            d.store,
		Snapshots:        d.snapshots,
		SnapshotSchedule: cfg.Memory.SnapshotSchedule,
		ResetSchedule:    cfg.Memory.ResetSchedule,
		Logger:           d.logger.Component("jobs"),
	})
	if err != nil {
		return err
	}
	d.jobs = jobs

	if cfg.Metrics.Enabled {
		d.metricsServer = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           d.metrics.NewServeMux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return nil
}

func (d *Daemon) mentionToken(cfg *config.Config) string {
	if cfg.Bot.MentionToken != "" {
		return cfg.Bot.MentionToken
	}
	return d.bot.MentionToken()
}

// Start starts the daemon
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Starting groupbot daemon")

	if err := d.lifecycle.Start(); err != nil {
		d.setStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if d.snapshots != nil {
		ctx, cancel := context.WithTimeout(d.ctx, restoreTimeout)
		restored, err := memory.RestoreStore(ctx, d.store, d.snapshots)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to restore group memory, starting empty")
		} else {
			logger.Info().Int("groups", restored).Msg("Group memory restored")
		}
	}

	if d.metricsServer != nil {
		ln, err := net.Listen("tcp", d.metricsServer.Addr)
		if err != nil {
			_ = d.lifecycle.Stop()
			d.setStopped()
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		d.metricsAddr = ln.Addr().String()
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		logger.Info().Str("addr", d.metricsAddr).Msg("Metrics server started")
	}

	d.pipeline.Start()
	d.jobs.Start()
	logger.Info().Int("jobs", d.jobs.Len()).Msg("Scheduled jobs started")

	if d.configPath != "" {
		watcher, err := config.NewWatcher(config.WatcherConfig{
			Path:     d.configPath,
			OnReload: d.applyConfig,
			Logger:   d.logger.Component("config"),
		})
		if err == nil {
			err = watcher.Start()
		}
		if err != nil {
			logger.Warn().Err(err).Msg("Config hot reload disabled")
		} else {
			d.watcher = watcher
		}
	}

	if err := d.commands.Publish(); err != nil {
		logger.Warn().Err(err).Msg("Failed to publish bot commands")
	}

	if err := d.bot.Start(d.ctx); err != nil {
		_ = d.Stop()
		return fmt.Errorf("failed to start telegram bot: %w", err)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.eventLoop.Run(d.ctx)
	}()

	logger.Info().Msg("Daemon started successfully")

	return nil
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Stop stops intake, lets in-flight runs finish, then saves memory and shuts down.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Stopping groupbot daemon")

	if d.bot.IsRunning() {
		if err := d.bot.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop telegram bot")
		}
	}

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop config watcher")
		}
	}

	d.jobs.Stop()
	logger.Info().Msg("Scheduled jobs stopped")

	graceCtx, cancelGrace := context.WithTimeout(context.Background(), shutdownGrace)
	if err := d.pipeline.Wait(graceCtx); err != nil {
		logger.Warn().Msg("Timeout waiting for in-flight runs, cancelling them")
	}
	cancelGrace()

	d.cancel()

	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to stop metrics server")
		}
		cancel()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("All goroutines stopped")
	case <-time.After(5 * time.Second):
		logger.Warn().Msg("Timeout waiting for goroutines to stop")
	}

	if d.snapshots != nil {
		if err := d.jobs.Snapshot(context.Background()); err != nil {
			logger.Error().Err(err).Msg("Failed to save group memory")
		}
		if err := d.snapshots.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close snapshot store")
		}
	}

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	logger.Info().Msg("Daemon stopped successfully")

	return nil
}

// Status represents daemon status
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
	Groups    int
}

// Status returns the current daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
		Groups:  d.store.Len(),
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}

	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// GetStore returns the group memory store
func (d *Daemon) GetStore() *memory.Store {
	return d.store
}

// GetPipeline returns the message pipeline
func (d *Daemon) GetPipeline() *Pipeline {
	return d.pipeline
}

// MetricsAddr returns the address the metrics server listens on, once started.
func (d *Daemon) MetricsAddr() string {
	return d.metricsAddr
}
