package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProvider records calls and returns the next scripted error, or a reply once the script is empty.
type stubProvider struct {
	name string

	mu       sync.Mutex
	errs     []error
	requests []LLMRequest
	reply    LLMResponse
}

func (s *stubProvider) Provider() string { return s.name }

func (s *stubProvider) Call(ctx context.Context, req LLMRequest) (*LLMResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	resp := s.reply
	return &resp, nil
}

func (s *stubProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type stubCreator struct {
	providers map[string]*stubProvider
	created   map[string]int
}

func (c *stubCreator) NewProvider(profile AuthProfile) (LLMProvider, error) {
	if c.created == nil {
		c.created = map[string]int{}
	}
	c.created[profile.ID]++
	p, ok := c.providers[profile.ID]
	if !ok {
		return nil, errors.New("no such provider")
	}
	return p, nil
}

func TestNewFailoverProvider(t *testing.T) {
	t.Run("requires profiles", func(t *testing.T) {
		_, err := NewFailoverProvider(FailoverConfig{})
		assert.Error(t, err)
	})

	t.Run("rejects duplicate ids", func(t *testing.T) {
		_, err := NewFailoverProvider(FailoverConfig{Profiles: []AuthProfile{
			{ID: "a", Provider: "openai", APIKey: "k"},
			{ID: "a", Provider: "anthropic", APIKey: "k"},
		}})
		assert.ErrorContains(t, err, "duplicate")
	})

	t.Run("assigns ids and sorts by priority", func(t *testing.T) {
		f, err := NewFailoverProvider(FailoverConfig{Profiles: []AuthProfile{
			{Provider: "openai", APIKey: "k", Priority: 2},
			{Provider: "anthropic", APIKey: "k", Priority: 1},
		}})
		require.NoError(t, err)
		assert.Equal(t, "anthropic-0", f.profiles[0].ID)
		assert.Equal(t, "openai-1", f.profiles[1].ID)
		assert.Equal(t, "failover", f.Provider())
	})
}

func TestFailoverProvider_Call(t *testing.T) {
	unavailable := &ProviderError{Provider: "stub", StatusCode: 503, Err: errors.New("unavailable")}
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	newFailover := func(t *testing.T, primary, secondary *stubProvider) *FailoverProvider {
		t.Helper()
		f, err := NewFailoverProvider(FailoverConfig{
			Profiles: []AuthProfile{
				{ID: "primary", Provider: "openai", APIKey: "k", Priority: 1, Model: "gpt-4o-mini"},
				{ID: "secondary", Provider: "anthropic", APIKey: "k", Priority: 2},
			},
			Creator:      &stubCreator{providers: map[string]*stubProvider{"primary": primary, "secondary": secondary}},
			Logger:       zerolog.Nop(),
			CooldownStep: time.Minute,
			Now:          clock,
		})
		require.NoError(t, err)
		return f
	}

	t.Run("uses first profile and overrides model", func(t *testing.T) {
		primary := &stubProvider{name: "openai", reply: LLMResponse{Content: "hi"}}
		secondary := &stubProvider{name: "anthropic"}
		f := newFailover(t, primary, secondary)

		resp, err := f.Call(context.Background(), LLMRequest{Model: "default"})
		require.NoError(t, err)
		assert.Equal(t, "hi", resp.Content)
		assert.Equal(t, "gpt-4o-mini", primary.requests[0].Model)
		assert.Equal(t, 0, secondary.callCount())
	})

	t.Run("retryable error fails over and cools down", func(t *testing.T) {
		primary := &stubProvider{name: "openai", errs: []error{unavailable}}
		secondary := &stubProvider{name: "anthropic", reply: LLMResponse{Content: "from secondary"}}
		f := newFailover(t, primary, secondary)

		resp, err := f.Call(context.Background(), LLMRequest{Model: "default"})
		require.NoError(t, err)
		assert.Equal(t, "from secondary", resp.Content)
		assert.Equal(t, "default", secondary.requests[0].Model)

		cooldowns := f.Cooldowns()
		require.Contains(t, cooldowns, "primary")
		assert.Equal(t, now.Add(time.Minute), cooldowns["primary"])

		// primary is skipped while cooling down
		_, err = f.Call(context.Background(), LLMRequest{})
		require.NoError(t, err)
		assert.Equal(t, 1, primary.callCount())
		assert.Equal(t, 2, secondary.callCount())
	})

	t.Run("non-retryable error stops failover", func(t *testing.T) {
		badRequest := &ProviderError{Provider: "stub", StatusCode: 400, Err: errors.New("bad request")}
		primary := &stubProvider{name: "openai", errs: []error{badRequest}}
		secondary := &stubProvider{name: "anthropic"}
		f := newFailover(t, primary, secondary)

		_, err := f.Call(context.Background(), LLMRequest{})
		assert.ErrorIs(t, err, badRequest)
		assert.Equal(t, 0, secondary.callCount())
		assert.Empty(t, f.Cooldowns())
	})

	t.Run("expired caller context does not cool profiles down", func(t *testing.T) {
		primary := &stubProvider{name: "openai", errs: []error{context.DeadlineExceeded}}
		secondary := &stubProvider{name: "anthropic", reply: LLMResponse{Content: "late"}}
		f := newFailover(t, primary, secondary)

		ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
		defer cancel()

		_, err := f.Call(ctx, LLMRequest{})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 1, primary.callCount())
		assert.Equal(t, 0, secondary.callCount())
		assert.Empty(t, f.Cooldowns())
	})

	t.Run("all failing wraps last error", func(t *testing.T) {
		primary := &stubProvider{name: "openai", errs: []error{unavailable}}
		secondary := &stubProvider{name: "anthropic", errs: []error{unavailable}}
		f := newFailover(t, primary, secondary)

		_, err := f.Call(context.Background(), LLMRequest{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "all auth profiles failed")
		assert.True(t, IsRetryableError(err))
		assert.Len(t, f.Cooldowns(), 2)
	})

	t.Run("all cooling down still tries every profile", func(t *testing.T) {
		primary := &stubProvider{name: "openai", errs: []error{unavailable}, reply: LLMResponse{Content: "recovered"}}
		secondary := &stubProvider{name: "anthropic", errs: []error{unavailable}}
		f := newFailover(t, primary, secondary)

		_, err := f.Call(context.Background(), LLMRequest{})
		require.Error(t, err)

		resp, err := f.Call(context.Background(), LLMRequest{})
		require.NoError(t, err)
		assert.Equal(t, "recovered", resp.Content)
		assert.NotContains(t, f.Cooldowns(), "primary")
	})

	t.Run("cooldown grows with consecutive failures", func(t *testing.T) {
		primary := &stubProvider{name: "openai", errs: []error{unavailable, unavailable}}
		secondary := &stubProvider{name: "anthropic", errs: []error{unavailable, unavailable}}
		f := newFailover(t, primary, secondary)

		_, _ = f.Call(context.Background(), LLMRequest{})
		_, _ = f.Call(context.Background(), LLMRequest{})
		assert.Equal(t, now.Add(2*time.Minute), f.Cooldowns()["primary"])
	})

	t.Run("provider creation failure is skipped", func(t *testing.T) {
		secondary := &stubProvider{name: "anthropic", reply: LLMResponse{Content: "ok"}}
		f, err := NewFailoverProvider(FailoverConfig{
			Profiles: []AuthProfile{
				{ID: "broken", Provider: "openai", APIKey: "k", Priority: 1},
				{ID: "secondary", Provider: "anthropic", APIKey: "k", Priority: 2},
			},
			Creator: &stubCreator{providers: map[string]*stubProvider{"secondary": secondary}},
			Now:     clock,
		})
		require.NoError(t, err)

		resp, err := f.Call(context.Background(), LLMRequest{})
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Content)
	})

	t.Run("providers are created once", func(t *testing.T) {
		creator := &stubCreator{providers: map[string]*stubProvider{"only": {name: "openai", reply: LLMResponse{Content: "x"}}}}
		f, err := NewFailoverProvider(FailoverConfig{
			Profiles: []AuthProfile{{ID: "only", Provider: "openai", APIKey: "k"}},
			Creator:  creator,
		})
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			_, err := f.Call(context.Background(), LLMRequest{})
			require.NoError(t, err)
		}
		assert.Equal(t, 1, creator.created["only"])
	})
}

func TestProviderFactory(t *testing.T) {
	factory := &ProviderFactory{}

	for _, name := range SupportedProviders() {
		t.Run(name, func(t *testing.T) {
			p, err := factory.NewProvider(AuthProfile{ID: name, Provider: name, APIKey: "test-key"})
			require.NoError(t, err)
			assert.Equal(t, name, p.Provider())
		})
	}

	t.Run("unsupported", func(t *testing.T) {
		_, err := factory.NewProvider(AuthProfile{ID: "x", Provider: "cohere", APIKey: "k"})
		assert.ErrorContains(t, err, "unsupported provider")
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := factory.NewProvider(AuthProfile{ID: "x", Provider: "openai"})
		assert.ErrorContains(t, err, "no api key")
	})
}
