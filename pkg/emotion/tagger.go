// Package emotion assigns a coarse mood label to a chat message from a keyword lexicon.
package emotion

import (
	"sort"
	"strings"
	"sync/atomic"
)

// Labels of the default lexicon.
const (
	Joy   = "joy"
	Sad   = "sad"
	Angry = "angry"
	Fear  = "fear"
	Greed = "greed"
)

// DefaultLexicon returns the built-in label keywords.
func DefaultLexicon() map[string][]string {
	return map[string][]string{
		Joy:   {"😂", "🤣", "😄", "😊", "🎉", "哈哈", "开心", "高兴", "太好了", "nice", "lol", "haha", "great"},
		Sad:   {"😢", "😭", "😞", "难过", "伤心", "唉", "哭了", "sad", "unfortunately"},
		Angry: {"😡", "🤬", "生气", "气死", "愤怒", "垃圾", "angry", "wtf"},
		Fear:  {"😱", "😨", "害怕", "恐慌", "跌", "暴跌", "割肉", "爆仓", "scared", "panic", "dump", "rekt"},
		Greed: {"🚀", "🤑", "💰", "暴涨", "冲", "梭哈", "起飞", "抄底", "moon", "pump", "fomo", "all in"},
	}
}

type entry struct {
	label    string
	keywords []string
}

// Tagger is safe for concurrent use; SetLexicon swaps the lexicon atomically.
type Tagger struct {
	entries atomic.Pointer[[]entry]
}

// NewTagger creates a tagger over lexicon. An empty lexicon tags nothing.
func NewTagger(lexicon map[string][]string) *Tagger {
	t := &Tagger{}
	t.SetLexicon(lexicon)
	return t
}

// SetLexicon replaces the lexicon. Keywords are matched case-insensitively; blanks are ignored.
func (t *Tagger) SetLexicon(lexicon map[string][]string) {
	entries := make([]entry, 0, len(lexicon))
	for label, keywords := range lexicon {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		e := entry{label: label}
		for _, kw := range keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				e.keywords = append(e.keywords, kw)
			}
		}
		if len(e.keywords) > 0 {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].label < entries[j].label })
	t.entries.Store(&entries)
}

// Labels returns the configured labels in tie-break order.
func (t *Tagger) Labels() []string {
	entries := *t.entries.Load()
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.label
	}
	return out
}

// Tag returns the label whose keywords occur most often in text.
// Ties go to the label that sorts first.
func (t *Tagger) Tag(text string) (string, bool) {
	text = strings.ToLower(text)
	if strings.TrimSpace(text) == "" {
		return "", false
	}

	best, bestHits := "", 0
	for _, e := range *t.entries.Load() {
		hits := 0
		for _, kw := range e.keywords {
			hits += strings.Count(text, kw)
		}
		if hits > bestHits {
			best, bestHits = e.label, hits
		}
	}
	return best, bestHits > 0
}
