package daemon

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/harun/groupbot/internal/metrics"
	"github.com/harun/groupbot/internal/telegram"
	"github.com/harun/groupbot/internal/tracing"
	"github.com/harun/groupbot/pkg/agent"
	"github.com/harun/groupbot/pkg/emotion"
	"github.com/harun/groupbot/pkg/gate"
	"github.com/harun/groupbot/pkg/memory"
)

// Replier delivers pipeline output to the chat.
type Replier interface {
	SendResponse(mc telegram.MessageContext, text string) error
	SendTyping(chatID int64) error
}

// Runner answers one message. agent.Executor implements it.
type Runner interface {
	Run(ctx context.Context, req agent.RunRequest) agent.RunResult
}

// PipelineConfig holds the pipeline's collaborators and settings.
type PipelineConfig struct {
	Store   *memory.Store
	Gate    *gate.Gate
	Tagger  *emotion.Tagger // nil disables emotion tagging
	Runner  Runner
	Replier Replier
	Metrics *metrics.Metrics
	Logger  zerolog.Logger

	Probability  float64
	MentionToken string
	// SelfMentionToken is "@<bot username>". It addresses the bot even when MentionToken differs.
	SelfMentionToken string
	EmotionEnabled   bool
	MaxConcurrency   int
	DedupeTTL        time.Duration
	Allowlist        []int64
}

type pipelineSettings struct {
	probability    float64
	mentionToken   string
	emotionEnabled bool
}

// Pipeline takes an inbound message from admission to the recorded reply.
type Pipeline struct {
	store   *memory.Store
	gate    *gate.Gate
	tagger  *emotion.Tagger
	runner  Runner
	replier Replier
	metrics *metrics.Metrics
	logger  zerolog.Logger

	dedupe    *dedupeCache
	allowlist *chatAllowlist
	selfToken string
	sem       *semaphore.Weighted
	settings  atomic.Pointer[pipelineSettings]

	wg sync.WaitGroup
}

// NewPipeline validates cfg and returns a pipeline.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("pipeline: memory store is required")
	case cfg.Runner == nil:
		return nil, errors.New("pipeline: runner is required")
	case cfg.Replier == nil:
		return nil, errors.New("pipeline: replier is required")
	}
	if err := gate.ValidateProbability(cfg.Probability); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if cfg.Gate == nil {
		cfg.Gate = gate.New()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewMetrics()
	}
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}

	p := &Pipeline{
		store:     cfg.Store,
		gate:      cfg.Gate,
		tagger:    cfg.Tagger,
		runner:    cfg.Runner,
		replier:   cfg.Replier,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		dedupe:    newDedupeCache(cfg.DedupeTTL),
		allowlist: newChatAllowlist(cfg.Allowlist),
		selfToken: cfg.SelfMentionToken,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
	}
	p.settings.Store(&pipelineSettings{
		probability:    cfg.Probability,
		mentionToken:   cfg.MentionToken,
		emotionEnabled: cfg.EmotionEnabled,
	})
	return p, nil
}

// HandleMessage admits one message and runs it on its own goroutine.
// It blocks while max_concurrency runs are in flight.
func (p *Pipeline) HandleMessage(ctx context.Context, mc telegram.MessageContext) error {
	p.metrics.MessagesReceivedTotal.Inc()
	logger := p.logger.With().Int64("chat_id", mc.ChatID).Int("message_id", mc.MessageID).Logger()

	if !p.allowlist.Allowed(mc.ChatID) {
		logger.Debug().Msg("Chat not in allowlist")
		return nil
	}
	if p.dedupe.SeenOrMark(dedupeKey(mc)) {
		logger.Debug().Msg("Duplicate message dropped")
		return nil
	}

	settings := p.settings.Load()
	tokens := p.mentionTokens(settings)
	mentioned := mc.IsMention || leadingMention(mc.Text, tokens) != ""
	respond := p.gate.ShouldRespond(mentioned, mc.IsPrivate, settings.probability)
	p.metrics.ObserveGate(respond)
	if !respond {
		logger.Debug().Msg("Gate skipped message")
		return nil
	}

	input, ok := gate.StripMention(mc.Text, leadingMention(mc.Text, tokens))
	if !ok {
		logger.Debug().Msg("Nothing left after mention, skipping")
		return nil
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to acquire run slot: %w", err)
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		p.process(ctx, mc, input, settings)
	}()

	return nil
}

func (p *Pipeline) process(ctx context.Context, mc telegram.MessageContext, input string, settings *pipelineSettings) {
	ctx = tracing.NewUpdateContext(ctx, mc.UpdateID, mc.ChatID, mc.UserID)
	logger := tracing.LoggerFromContext(ctx, p.logger)
	groupID := GroupIDFor(mc.ChatID)

	p.store.GetOrCreate(groupID)
	if settings.emotionEnabled && p.tagger != nil {
		if label, ok := p.tagger.Tag(input); ok {
			p.store.AddEmotion(groupID, label, time.Time{})
			logger.Debug().Str("emotion", label).Msg("Emotion tagged")
		}
	}

	if err := p.replier.SendTyping(mc.ChatID); err != nil {
		p.metrics.TelegramErrorsTotal.Inc()
		logger.Warn().Err(err).Msg("Failed to send typing indicator")
	}

	result := p.runner.Run(ctx, agent.RunRequest{
		GroupID: groupID,
		Input:   input,
		History: p.store.History(groupID),
	})

	if ctx.Err() != nil {
		logger.Info().Msg("Shutting down, reply dropped")
		return
	}

	if err := p.replier.SendResponse(mc, result.Text); err != nil {
		p.metrics.TelegramErrorsTotal.Inc()
		logger.Error().Err(err).Msg("Failed to send reply")
		return
	}
	p.metrics.RepliesSentTotal.Inc()

	if !result.Succeeded {
		logger.Warn().Err(result.Err).Int("attempts", result.Attempts).Msg("Run failed, apology sent")
		return
	}

	p.store.RecordExchange(groupID,
		memory.Turn{Content: input, UserID: userKey(mc.UserID)},
		memory.Turn{Content: result.Text},
	)

	logger.Info().
		Str("route", result.Route.String()).
		Int("attempts", result.Attempts).
		Int("tool_calls", result.ToolCalls).
		Msg("Reply sent")
}

// mentionTokens lists the tokens that address the bot, the configured one first.
func (p *Pipeline) mentionTokens(settings *pipelineSettings) []string {
	tokens := make([]string, 0, 2)
	if settings.mentionToken != "" {
		tokens = append(tokens, settings.mentionToken)
	}
	if p.selfToken != "" && !strings.EqualFold(p.selfToken, settings.mentionToken) {
		tokens = append(tokens, p.selfToken)
	}
	return tokens
}

// leadingMention returns the token text starts with, or "" when none does.
func leadingMention(text string, tokens []string) string {
	for _, token := range tokens {
		if gate.Mentions(text, token) {
			return token
		}
	}
	return ""
}

// UpdateSettings swaps the hot-reloadable settings. Runs in flight keep the old values.
func (p *Pipeline) UpdateSettings(probability float64, mentionToken string, emotionEnabled bool) error {
	if err := gate.ValidateProbability(probability); err != nil {
		return err
	}
	p.settings.Store(&pipelineSettings{
		probability:    probability,
		mentionToken:   mentionToken,
		emotionEnabled: emotionEnabled,
	})
	return nil
}

// SetAllowlist replaces the served chats. Empty allows every chat.
func (p *Pipeline) SetAllowlist(chatIDs []int64) {
	p.allowlist.Set(chatIDs)
}

// Probability returns the current response probability.
func (p *Pipeline) Probability() float64 {
	return p.settings.Load().probability
}

// Start starts background upkeep.
func (p *Pipeline) Start() {
	p.dedupe.Start()
}

// Wait blocks until every admitted run has finished or ctx is done.
func (p *Pipeline) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.dedupe.Stop()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GroupIDFor formats a Telegram chat id as a memory group id.
func GroupIDFor(chatID int64) memory.GroupID {
	return memory.GroupID(strconv.FormatInt(chatID, 10))
}

func userKey(userID int64) string {
	if userID == 0 {
		return ""
	}
	return strconv.FormatInt(userID, 10)
}

func dedupeKey(mc telegram.MessageContext) string {
	return strconv.FormatInt(mc.ChatID, 10) + ":" + strconv.Itoa(mc.MessageID)
}
