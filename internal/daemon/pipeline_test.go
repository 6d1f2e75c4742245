package daemon

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/groupbot/internal/metrics"
	"github.com/harun/groupbot/internal/telegram"
	"github.com/harun/groupbot/pkg/agent"
	"github.com/harun/groupbot/pkg/emotion"
	"github.com/harun/groupbot/pkg/gate"
	"github.com/harun/groupbot/pkg/memory"
	"github.com/harun/groupbot/pkg/router"
)

type fakeRunner struct {
	mu       sync.Mutex
	requests []agent.RunRequest
	run      func(ctx context.Context, req agent.RunRequest) agent.RunResult
}

func (r *fakeRunner) Run(ctx context.Context, req agent.RunRequest) agent.RunResult {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()
	if r.run != nil {
		return r.run(ctx, req)
	}
	return agent.RunResult{Text: "answer: " + req.Input, Route: router.Direct, Attempts: 1, Succeeded: true}
}

func (r *fakeRunner) Requests() []agent.RunRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]agent.RunRequest, len(r.requests))
	copy(out, r.requests)
	return out
}

type sentReply struct {
	ChatID  int64
	ReplyTo int
	Text    string
}

type fakeReplier struct {
	mu      sync.Mutex
	replies []sentReply
	typing  []int64
	sendErr error
}

func (r *fakeReplier) SendResponse(mc telegram.MessageContext, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return r.sendErr
	}
	r.replies = append(r.replies, sentReply{ChatID: mc.ChatID, ReplyTo: mc.MessageID, Text: text})
	return nil
}

func (r *fakeReplier) SendTyping(chatID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typing = append(r.typing, chatID)
	return nil
}

func (r *fakeReplier) Replies() []sentReply {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sentReply, len(r.replies))
	copy(out, r.replies)
	return out
}

func messageIn(chatID int64, messageID int, text string) telegram.MessageContext {
	return telegram.MessageContext{
		UpdateID:  messageID,
		ChatID:    chatID,
		MessageID: messageID,
		UserID:    1001,
		Username:  "alice",
		Text:      text,
		Timestamp: time.Now(),
	}
}

func privateMessage(messageID int, text string) telegram.MessageContext {
	mc := messageIn(1001, messageID, text)
	mc.IsPrivate = true
	return mc
}

type pipelineFixture struct {
	pipeline *Pipeline
	store    *memory.Store
	runner   *fakeRunner
	replier  *fakeReplier
	metrics  *metrics.Metrics
}

func newPipelineFixture(t *testing.T, mutate func(*PipelineConfig)) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		store:   memory.NewStore(memory.DefaultWindowSize),
		runner:  &fakeRunner{},
		replier: &fakeReplier{},
		metrics: metrics.NewMetrics(),
	}
	cfg := PipelineConfig{
		Store:          f.store,
		Gate:           gate.New(gate.WithRandomSource(gate.Fixed(0.5))),
		Tagger:         emotion.NewTagger(emotion.DefaultLexicon()),
		Runner:         f.runner,
		Replier:        f.replier,
		Metrics:        f.metrics,
		Logger:         zerolog.Nop(),
		Probability:    0,
		MentionToken:   "@groupbot",
		EmotionEnabled: true,
		MaxConcurrency: 4,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	p, err := NewPipeline(cfg)
	require.NoError(t, err)
	f.pipeline = p
	return f
}

func (f *pipelineFixture) handle(t *testing.T, mc telegram.MessageContext) {
	t.Helper()
	require.NoError(t, f.pipeline.HandleMessage(context.Background(), mc))
	f.wait(t)
}

func (f *pipelineFixture) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.pipeline.Wait(ctx))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, c.Write(&out))
	return out.GetCounter().GetValue()
}

func TestNewPipelineValidation(t *testing.T) {
	store := memory.NewStore(10)
	runner := &fakeRunner{}
	replier := &fakeReplier{}

	tests := []struct {
		name string
		cfg  PipelineConfig
	}{
		{"missing store", PipelineConfig{Runner: runner, Replier: replier}},
		{"missing runner", PipelineConfig{Store: store, Replier: replier}},
		{"missing replier", PipelineConfig{Store: store, Runner: runner}},
		{"probability above one", PipelineConfig{Store: store, Runner: runner, Replier: replier, Probability: 1.5}},
		{"negative probability", PipelineConfig{Store: store, Runner: runner, Replier: replier, Probability: -0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPipeline(tt.cfg)
			assert.Error(t, err)
		})
	}

	t.Run("defaults", func(t *testing.T) {
		p, err := NewPipeline(PipelineConfig{Store: store, Runner: runner, Replier: replier, Probability: 0.2})
		require.NoError(t, err)
		assert.Equal(t, 0.2, p.Probability())
		assert.NotNil(t, p.gate)
		assert.NotNil(t, p.metrics)
	})
}

func TestPipelineHandleMessage(t *testing.T) {
	t.Run("private message is answered and both turns recorded", func(t *testing.T) {
		f := newPipelineFixture(t, nil)
		f.handle(t, privateMessage(1, "what is bitcoin"))

		replies := f.replier.Replies()
		require.Len(t, replies, 1)
		assert.Equal(t, "answer: what is bitcoin", replies[0].Text)
		assert.Equal(t, 1, replies[0].ReplyTo)
		assert.Equal(t, []int64{1001}, f.replier.typing)

		history := f.store.History(GroupIDFor(1001))
		require.Len(t, history, 2)
		assert.Equal(t, memory.RoleHuman, history[0].Role)
		assert.Equal(t, "what is bitcoin", history[0].Content)
		assert.Equal(t, "1001", history[0].UserID)
		assert.Equal(t, memory.RoleAssistant, history[1].Role)
		assert.Equal(t, "answer: what is bitcoin", history[1].Content)

		stats := f.store.Stats(GroupIDFor(1001))
		assert.Equal(t, int64(2), stats.MessageCount)
		assert.Equal(t, []string{"1001"}, stats.ActiveUsers)
		assert.Equal(t, 1.0, counterValue(t, f.metrics.RepliesSentTotal))
	})

	t.Run("unmentioned group message is skipped at probability zero", func(t *testing.T) {
		f := newPipelineFixture(t, nil)
		f.handle(t, messageIn(-100123, 1, "just chatting"))

		assert.Empty(t, f.runner.Requests())
		assert.Empty(t, f.replier.Replies())
		assert.Equal(t, 0, f.store.Len())
		assert.Equal(t, 1.0, counterValue(t, f.metrics.MessagesReceivedTotal))
	})

	t.Run("group message passes when draw is below probability", func(t *testing.T) {
		f := newPipelineFixture(t, func(cfg *PipelineConfig) { cfg.Probability = 0.6 })
		f.handle(t, messageIn(-100123, 1, "just chatting"))

		require.Len(t, f.runner.Requests(), 1)
		assert.Len(t, f.replier.Replies(), 1)
	})

	t.Run("mention is stripped before the run", func(t *testing.T) {
		f := newPipelineFixture(t, nil)
		mc := messageIn(-100123, 7, "@GroupBot, price of BTC?")
		mc.IsMention = true
		f.handle(t, mc)

		requests := f.runner.Requests()
		require.Len(t, requests, 1)
		assert.Equal(t, "price of BTC?", requests[0].Input)
		assert.Equal(t, GroupIDFor(-100123), requests[0].GroupID)
	})

	t.Run("custom mention token is detected and stripped", func(t *testing.T) {
		f := newPipelineFixture(t, func(cfg *PipelineConfig) {
			cfg.MentionToken = "@cryptohelper"
			cfg.SelfMentionToken = "@groupbot"
		})
		f.handle(t, messageIn(-100123, 7, "@CryptoHelper price of ETH?"))

		requests := f.runner.Requests()
		require.Len(t, requests, 1)
		assert.Equal(t, "price of ETH?", requests[0].Input)
	})

	t.Run("username mention is stripped alongside a custom token", func(t *testing.T) {
		f := newPipelineFixture(t, func(cfg *PipelineConfig) {
			cfg.MentionToken = "@cryptohelper"
			cfg.SelfMentionToken = "@groupbot"
		})
		mc := messageIn(-100123, 7, "@groupbot hello")
		mc.IsMention = true
		f.handle(t, mc)

		requests := f.runner.Requests()
		require.Len(t, requests, 1)
		assert.Equal(t, "hello", requests[0].Input)
	})

	t.Run("mention with nothing else is skipped", func(t *testing.T) {
		f := newPipelineFixture(t, nil)
		mc := messageIn(-100123, 7, "  @groupbot  ")
		mc.IsMention = true
		f.handle(t, mc)

		assert.Empty(t, f.runner.Requests())
		assert.Empty(t, f.replier.Replies())
	})

	t.Run("failed run sends the apology without recording", func(t *testing.T) {
		f := newPipelineFixture(t, nil)
		f.runner.run = func(ctx context.Context, req agent.RunRequest) agent.RunResult {
			return agent.RunResult{Text: "sorry", Route: router.NeedsTools, Attempts: 3, Err: errors.New("boom")}
		}
		f.handle(t, privateMessage(1, "hello"))

		replies := f.replier.Replies()
		require.Len(t, replies, 1)
		assert.Equal(t, "sorry", replies[0].Text)
		assert.Empty(t, f.store.History(GroupIDFor(1001)))
	})

	t.Run("duplicate delivery is dropped", func(t *testing.T) {
		f := newPipelineFixture(t, nil)
		f.handle(t, privateMessage(5, "hello"))
		f.handle(t, privateMessage(5, "hello"))

		assert.Len(t, f.runner.Requests(), 1)
		assert.Len(t, f.replier.Replies(), 1)
	})

	t.Run("chat outside the allowlist is ignored", func(t *testing.T) {
		f := newPipelineFixture(t, func(cfg *PipelineConfig) { cfg.Allowlist = []int64{-100999} })
		f.handle(t, privateMessage(1, "hello"))
		assert.Empty(t, f.runner.Requests())

		f.pipeline.SetAllowlist(nil)
		f.handle(t, privateMessage(2, "hello"))
		assert.Len(t, f.runner.Requests(), 1)
	})

	t.Run("emotion is tagged on admitted messages", func(t *testing.T) {
		f := newPipelineFixture(t, nil)
		f.handle(t, privateMessage(1, "哈哈 太好了"))

		stats := f.store.Stats(GroupIDFor(1001))
		require.Len(t, stats.Emotions, 1)
		assert.Equal(t, emotion.Joy, stats.Emotions[0].Label)
	})

	t.Run("emotion tagging can be disabled", func(t *testing.T) {
		f := newPipelineFixture(t, func(cfg *PipelineConfig) { cfg.EmotionEnabled = false })
		f.handle(t, privateMessage(1, "哈哈 太好了"))

		assert.Empty(t, f.store.Stats(GroupIDFor(1001)).Emotions)
	})

	t.Run("custom lexicon", func(t *testing.T) {
		f := newPipelineFixture(t, func(cfg *PipelineConfig) {
			cfg.Tagger = emotion.NewTagger(map[string][]string{"hype": {"wagmi"}})
		})
		f.handle(t, privateMessage(1, "WAGMI friends"))

		stats := f.store.Stats(GroupIDFor(1001))
		require.Len(t, stats.Emotions, 1)
		assert.Equal(t, "hype", stats.Emotions[0].Label)
	})

	t.Run("send failure is counted and nothing recorded", func(t *testing.T) {
		f := newPipelineFixture(t, nil)
		f.replier.sendErr = errors.New("telegram down")
		f.handle(t, privateMessage(1, "hello"))

		assert.Equal(t, 1.0, counterValue(t, f.metrics.TelegramErrorsTotal))
		assert.Equal(t, 0.0, counterValue(t, f.metrics.RepliesSentTotal))
		assert.Empty(t, f.store.History(GroupIDFor(1001)))
	})

	t.Run("history of earlier turns is passed to the run", func(t *testing.T) {
		f := newPipelineFixture(t, nil)
		f.handle(t, privateMessage(1, "first"))
		f.handle(t, privateMessage(2, "second"))

		requests := f.runner.Requests()
		require.Len(t, requests, 2)
		assert.Empty(t, requests[0].History)
		require.Len(t, requests[1].History, 2)
		assert.Equal(t, "first", requests[1].History[0].Content)
		assert.Equal(t, "answer: first", requests[1].History[1].Content)
	})
}

func TestPipelineConcurrency(t *testing.T) {
	t.Run("admission blocks while runs are at the limit", func(t *testing.T) {
		release := make(chan struct{})
		started := make(chan struct{}, 1)
		f := newPipelineFixture(t, func(cfg *PipelineConfig) { cfg.MaxConcurrency = 1 })
		f.runner.run = func(ctx context.Context, req agent.RunRequest) agent.RunResult {
			started <- struct{}{}
			<-release
			return agent.RunResult{Text: "done", Succeeded: true, Attempts: 1}
		}

		require.NoError(t, f.pipeline.HandleMessage(context.Background(), privateMessage(1, "one")))
		<-started

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		err := f.pipeline.HandleMessage(ctx, privateMessage(2, "two"))
		assert.Error(t, err)

		close(release)
		f.wait(t)
		assert.Len(t, f.replier.Replies(), 1)
	})

	t.Run("different groups run in parallel", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(2)
		f := newPipelineFixture(t, nil)
		f.runner.run = func(ctx context.Context, req agent.RunRequest) agent.RunResult {
			// both runs must be in flight before either returns
			wg.Done()
			wg.Wait()
			return agent.RunResult{Text: "ok", Succeeded: true, Attempts: 1}
		}

		a := privateMessage(1, "a")
		b := privateMessage(1, "b")
		b.ChatID, b.UserID = 2002, 2002
		require.NoError(t, f.pipeline.HandleMessage(context.Background(), a))
		require.NoError(t, f.pipeline.HandleMessage(context.Background(), b))
		f.wait(t)

		assert.Len(t, f.replier.Replies(), 2)
		assert.Equal(t, 2, f.store.Len())
	})

	t.Run("same-group exchanges are recorded as adjacent pairs", func(t *testing.T) {
		release := make(chan struct{})
		var stamped atomic.Bool
		// the first exchange to be stamped waits until the other one is in memory
		clock := func() time.Time {
			if stamped.CompareAndSwap(false, true) {
				<-release
			}
			return time.Now()
		}
		store := memory.NewStore(memory.DefaultWindowSize, memory.WithClock(clock))
		f := newPipelineFixture(t, func(cfg *PipelineConfig) {
			cfg.Store = store
			cfg.EmotionEnabled = false
		})

		require.NoError(t, f.pipeline.HandleMessage(context.Background(), privateMessage(1, "q1")))
		require.NoError(t, f.pipeline.HandleMessage(context.Background(), privateMessage(2, "q2")))

		group := GroupIDFor(1001)
		require.Eventually(t, func() bool {
			return len(store.History(group)) == 2
		}, 5*time.Second, 5*time.Millisecond)
		close(release)
		f.wait(t)

		history := store.History(group)
		require.Len(t, history, 4)
		for i := 0; i < len(history); i += 2 {
			assert.Equal(t, memory.RoleHuman, history[i].Role)
			assert.Equal(t, memory.RoleAssistant, history[i+1].Role)
			assert.Equal(t, "answer: "+history[i].Content, history[i+1].Content)
		}
	})

	t.Run("cancelled context drops the reply", func(t *testing.T) {
		started := make(chan struct{})
		f := newPipelineFixture(t, nil)
		f.runner.run = func(ctx context.Context, req agent.RunRequest) agent.RunResult {
			close(started)
			<-ctx.Done()
			return agent.RunResult{Text: "sorry", Attempts: 1, Err: ctx.Err()}
		}

		ctx, cancel := context.WithCancel(context.Background())
		require.NoError(t, f.pipeline.HandleMessage(ctx, privateMessage(1, "hello")))
		<-started
		cancel()
		f.wait(t)

		assert.Empty(t, f.replier.Replies())
		assert.Empty(t, f.store.History(GroupIDFor(1001)))
	})

	t.Run("wait honours its context", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)
		f := newPipelineFixture(t, nil)
		f.runner.run = func(ctx context.Context, req agent.RunRequest) agent.RunResult {
			<-release
			return agent.RunResult{Text: "late", Succeeded: true, Attempts: 1}
		}
		require.NoError(t, f.pipeline.HandleMessage(context.Background(), privateMessage(1, "slow")))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, f.pipeline.Wait(ctx), context.DeadlineExceeded)
	})
}

func TestPipelineUpdateSettings(t *testing.T) {
	f := newPipelineFixture(t, nil)

	assert.Error(t, f.pipeline.UpdateSettings(2, "@groupbot", true))
	assert.Equal(t, 0.0, f.pipeline.Probability())

	require.NoError(t, f.pipeline.UpdateSettings(1, "@newname", false))
	assert.Equal(t, 1.0, f.pipeline.Probability())

	f.handle(t, messageIn(-100123, 1, "哈哈 anyone here"))
	require.Len(t, f.runner.Requests(), 1)
	assert.Empty(t, f.store.Stats(GroupIDFor(-100123)).Emotions)

	mc := messageIn(-100123, 2, "@newname hi")
	mc.IsMention = true
	f.handle(t, mc)
	requests := f.runner.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, "hi", requests[1].Input)

	t.Run("reloaded token addresses the bot without an entity", func(t *testing.T) {
		require.NoError(t, f.pipeline.UpdateSettings(0, "@renamed", false))
		f.handle(t, messageIn(-100123, 3, "@renamed gm"))

		requests := f.runner.Requests()
		require.Len(t, requests, 3)
		assert.Equal(t, "gm", requests[2].Input)
	})
}

func TestGroupIDFor(t *testing.T) {
	assert.Equal(t, memory.GroupID("-100123"), GroupIDFor(-100123))
	assert.Equal(t, memory.GroupID("42"), GroupIDFor(42))
	assert.Equal(t, "", userKey(0))
	assert.Equal(t, "7", userKey(7))
}
