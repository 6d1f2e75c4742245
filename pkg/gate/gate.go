// Package gate decides whether the bot answers an incoming message.
//
// Private chats and messages that mention the bot are always answered. Every
// other group message is answered with a configured probability drawn from an
// injectable random source, so tests can pin the outcome.
package gate

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// RandomSource yields floats uniformly distributed in [0, 1).
type RandomSource interface {
	Float64() float64
}

// Fixed is a RandomSource that always returns the same value.
type Fixed float64

// Float64 implements RandomSource.
func (f Fixed) Float64() float64 { return float64(f) }

// lockedSource serializes access to a math/rand source, which is not safe for concurrent use.
type lockedSource struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func (s *lockedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Float64()
}

// NewSeededSource returns a goroutine-safe source seeded with seed.
func NewSeededSource(seed int64) RandomSource {
	return &lockedSource{rnd: rand.New(rand.NewSource(seed))}
}

// Gate is the response gate. It is safe for concurrent use.
type Gate struct {
	src RandomSource
}

// Option configures a Gate.
type Option func(*Gate)

// WithRandomSource replaces the default time-seeded source.
func WithRandomSource(src RandomSource) Option {
	return func(g *Gate) {
		if src != nil {
			g.src = src
		}
	}
}

// New creates a gate.
func New(opts ...Option) *Gate {
	g := &Gate{src: NewSeededSource(time.Now().UnixNano())}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ShouldRespond reports whether the bot should answer.
// A draw is only taken for unmentioned group messages; it succeeds when the draw is below probability.
func (g *Gate) ShouldRespond(mentioned, chatIsPrivate bool, probability float64) bool {
	if chatIsPrivate || mentioned {
		return true
	}
	if probability <= 0 {
		return false
	}
	if probability >= 1 {
		return true
	}
	return g.src.Float64() < probability
}

// ValidateProbability rejects probabilities outside [0, 1].
func ValidateProbability(p float64) error {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return fmt.Errorf("response probability must be between 0 and 1, got %v", p)
	}
	return nil
}

const separators = " \t\n\r,:，：、"

// StripMention removes a leading mentionToken and at most one separator right after it,
// then trims surrounding whitespace. ok is false when nothing is left to answer.
// Text that does not start with the token is only trimmed.
func StripMention(text, mentionToken string) (stripped string, ok bool) {
	rest := text
	if mentionToken != "" {
		trimmed := strings.TrimLeft(text, " \t\n\r")
		if hasPrefixFold(trimmed, mentionToken) {
			rest = trimmed[len(mentionToken):]
			if r, size := utf8.DecodeRuneInString(rest); size > 0 && strings.ContainsRune(separators, r) {
				rest = rest[size:]
			}
		}
	}
	rest = strings.TrimSpace(rest)
	return rest, rest != ""
}

// Mentions reports whether text starts with mentionToken, ignoring case and leading whitespace.
func Mentions(text, mentionToken string) bool {
	if mentionToken == "" {
		return false
	}
	return hasPrefixFold(strings.TrimLeft(text, " \t\n\r"), mentionToken)
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
