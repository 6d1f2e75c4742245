// Package router classifies a message as answerable directly or as needing tool lookups.
//
// Classification is a case-insensitive substring match against a keyword set held as
// data. The set can be swapped at runtime (config reload) without blocking Classify.
package router

import (
	"strings"
	"sync/atomic"
)

// Route is the classification result.
type Route int

const (
	// Direct means a single language-model answer is enough.
	Direct Route = iota
	// NeedsTools means the tool-augmented reasoning loop should run.
	NeedsTools
)

func (r Route) String() string {
	switch r {
	case Direct:
		return "direct"
	case NeedsTools:
		return "tools"
	default:
		return "unknown"
	}
}

type keywordSet struct {
	original   []string
	normalized []string
}

// Router is safe for concurrent use.
type Router struct {
	set atomic.Pointer[keywordSet]
}

// New creates a router over keywords. Blank and duplicate keywords are ignored.
func New(keywords []string) *Router {
	r := &Router{}
	r.SetKeywords(keywords)
	return r
}

// NewDefault creates a router over DefaultKeywords.
func NewDefault() *Router {
	return New(DefaultKeywords())
}

// SetKeywords atomically replaces the keyword set.
func (r *Router) SetKeywords(keywords []string) {
	set := &keywordSet{}
	seen := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		norm := strings.ToLower(kw)
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		set.original = append(set.original, kw)
		set.normalized = append(set.normalized, norm)
	}
	r.set.Store(set)
}

// Keywords returns a copy of the active keyword set.
func (r *Router) Keywords() []string {
	set := r.set.Load()
	out := make([]string, len(set.original))
	copy(out, set.original)
	return out
}

// Classify returns NeedsTools if input contains any keyword, Direct otherwise.
func (r *Router) Classify(input string) Route {
	set := r.set.Load()
	normalized := strings.ToLower(input)
	for _, kw := range set.normalized {
		if strings.Contains(normalized, kw) {
			return NeedsTools
		}
	}
	return Direct
}

// Matched returns every keyword found in input, in keyword order.
func (r *Router) Matched(input string) []string {
	set := r.set.Load()
	normalized := strings.ToLower(input)
	var matched []string
	for i, kw := range set.normalized {
		if strings.Contains(normalized, kw) {
			matched = append(matched, set.original[i])
		}
	}
	return matched
}
