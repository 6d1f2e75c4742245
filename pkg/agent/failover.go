package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultCooldownStep = 60 * time.Second

type profileState struct {
	failureCount  int
	cooldownUntil time.Time
}

// FailoverProvider tries auth profiles in priority order and parks failing ones in a growing cooldown.
type FailoverProvider struct {
	profiles     []AuthProfile
	creator      ProviderCreator
	logger       zerolog.Logger
	cooldownStep time.Duration
	now          func() time.Time

	mu        sync.Mutex
	state     map[string]*profileState
	providers map[string]LLMProvider
}

// FailoverConfig configures a FailoverProvider.
type FailoverConfig struct {
	Profiles     []AuthProfile
	Creator      ProviderCreator // defaults to ProviderFactory
	Logger       zerolog.Logger
	CooldownStep time.Duration // cooldown = step * consecutive failures
	Now          func() time.Time
}

// NewFailoverProvider validates the profiles and returns the provider.
func NewFailoverProvider(cfg FailoverConfig) (*FailoverProvider, error) {
	if len(cfg.Profiles) == 0 {
		return nil, errors.New("at least one auth profile is required")
	}

	profiles := make([]AuthProfile, len(cfg.Profiles))
	copy(profiles, cfg.Profiles)
	sort.SliceStable(profiles, func(i, j int) bool { return profiles[i].Priority < profiles[j].Priority })

	seen := make(map[string]bool, len(profiles))
	for i := range profiles {
		if profiles[i].ID == "" {
			profiles[i].ID = fmt.Sprintf("%s-%d", profiles[i].Provider, i)
		}
		if seen[profiles[i].ID] {
			return nil, fmt.Errorf("duplicate auth profile id: %s", profiles[i].ID)
		}
		seen[profiles[i].ID] = true
	}

	creator := cfg.Creator
	if creator == nil {
		creator = &ProviderFactory{}
	}
	step := cfg.CooldownStep
	if step <= 0 {
		step = defaultCooldownStep
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &FailoverProvider{
		profiles:     profiles,
		creator:      creator,
		logger:       cfg.Logger,
		cooldownStep: step,
		now:          now,
		state:        make(map[string]*profileState),
		providers:    make(map[string]LLMProvider),
	}, nil
}

// Provider returns the provider name
func (f *FailoverProvider) Provider() string {
	return "failover"
}

// Call tries each available profile until one succeeds or a non-retryable error occurs.
// When every profile is cooling down they are all tried anyway rather than failing outright.
func (f *FailoverProvider) Call(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	candidates := f.available()
	if len(candidates) == 0 {
		f.logger.Debug().Msg("All auth profiles cooling down, trying them anyway")
		candidates = f.profiles
	}

	var lastErr error
	for _, profile := range candidates {
		provider, err := f.provider(profile)
		if err != nil {
			f.logger.Warn().Str("profileId", profile.ID).Err(err).Msg("Failed to create provider")
			lastErr = Fatal(err)
			continue
		}

		req := request
		if profile.Model != "" {
			req.Model = profile.Model
		}

		resp, err := provider.Call(ctx, req)
		if err == nil {
			f.markSuccess(profile.ID)
			return resp, nil
		}

		if ctx.Err() != nil {
			// the caller gave up; the profile is not to blame
			return nil, err
		}

		lastErr = err
		f.logger.Warn().Str("profileId", profile.ID).Str("provider", provider.Provider()).Err(err).Msg("Auth profile failed")

		if !IsRetryableError(err) {
			// a bad request fails the same way on every profile
			return nil, err
		}
		f.markFailure(profile.ID)
	}

	return nil, fmt.Errorf("all auth profiles failed: %w", lastErr)
}

func (f *FailoverProvider) available() []AuthProfile {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	out := make([]AuthProfile, 0, len(f.profiles))
	for _, p := range f.profiles {
		if st, ok := f.state[p.ID]; ok && now.Before(st.cooldownUntil) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Cooldowns returns profile ids currently cooling down and when they become available.
func (f *FailoverProvider) Cooldowns() map[string]time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	out := make(map[string]time.Time)
	for id, st := range f.state {
		if st.cooldownUntil.After(now) {
			out[id] = st.cooldownUntil
		}
	}
	return out
}

func (f *FailoverProvider) provider(profile AuthProfile) (LLMProvider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.providers[profile.ID]; ok {
		return p, nil
	}
	p, err := f.creator.NewProvider(profile)
	if err != nil {
		return nil, err
	}
	f.providers[profile.ID] = p
	return p, nil
}

func (f *FailoverProvider) markSuccess(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.state, id)
}

func (f *FailoverProvider) markFailure(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, ok := f.state[id]
	if !ok {
		st = &profileState{}
		f.state[id] = st
	}
	st.failureCount++
	st.cooldownUntil = f.now().Add(time.Duration(st.failureCount) * f.cooldownStep)
}
