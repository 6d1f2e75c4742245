package memory

import (
	"sort"
	"sync"
	"time"
)

// DefaultWindowSize is the number of turns kept per group when no size is configured.
const DefaultWindowSize = 10

// GroupID identifies a group chat. Telegram chat ids are stored in decimal form.
type GroupID string

// Role is the author of a turn.
type Role string

const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

// Turn is a single message in a group's window.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id,omitempty"`
}

// EmotionEntry is one labelled emotion observed in a group.
type EmotionEntry struct {
	Label     string    `json:"emotion"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats is a read-only copy of a group's usage statistics.
type Stats struct {
	MessageCount int64          `json:"message_count"`
	ActiveUsers  []string       `json:"active_users"`
	LastActivity time.Time      `json:"last_activity"`
	Emotions     []EmotionEntry `json:"emotion_log"`
}

// ActiveUserCount returns the number of distinct users seen.
func (s Stats) ActiveUserCount() int {
	return len(s.ActiveUsers)
}

// EmotionCounts tallies the emotion log by label.
func (s Stats) EmotionCounts() map[string]int {
	counts := make(map[string]int, len(s.Emotions))
	for _, e := range s.Emotions {
		counts[e.Label]++
	}
	return counts
}

// Session is the memory of one group. Sessions are created and owned by a Store.
type Session struct {
	id       GroupID
	capacity int

	mu           sync.Mutex
	window       []Turn
	messageCount int64
	activeUsers  map[string]struct{}
	lastActivity time.Time
	emotions     []EmotionEntry
}

func newSession(id GroupID, capacity int) *Session {
	if capacity < 1 {
		capacity = DefaultWindowSize
	}
	return &Session{
		id:          id,
		capacity:    capacity,
		window:      make([]Turn, 0, capacity),
		activeUsers: make(map[string]struct{}),
	}
}

// ID returns the group id.
func (s *Session) ID() GroupID {
	return s.id
}

// Capacity returns the window size.
func (s *Session) Capacity() int {
	return s.capacity
}

// History returns a copy of the window, most recent last.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Turn, len(s.window))
	copy(out, s.window)
	return out
}

// Stats returns a copy of the group's statistics.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked()
}

func (s *Session) statsLocked() Stats {
	users := make([]string, 0, len(s.activeUsers))
	for u := range s.activeUsers {
		users = append(users, u)
	}
	sort.Strings(users)

	emotions := make([]EmotionEntry, len(s.emotions))
	copy(emotions, s.emotions)

	return Stats{
		MessageCount: s.messageCount,
		ActiveUsers:  users,
		LastActivity: s.lastActivity,
		Emotions:     emotions,
	}
}

func (s *Session) record(turn Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(turn)
}

// recordExchange appends both turns under one lock so concurrent exchanges never interleave.
func (s *Session) recordExchange(human, assistant Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(human)
	s.appendLocked(assistant)
}

func (s *Session) appendLocked(turn Turn) {
	if len(s.window) >= s.capacity {
		// shift instead of reslicing so the backing array does not grow forever
		copy(s.window, s.window[len(s.window)-s.capacity+1:])
		s.window = s.window[:s.capacity-1]
	}
	s.window = append(s.window, turn)

	s.messageCount++
	s.touchLocked(turn.Timestamp)
	if turn.UserID != "" {
		s.activeUsers[turn.UserID] = struct{}{}
	}
}

func (s *Session) addEmotion(entry EmotionEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emotions = append(s.emotions, entry)
}

func (s *Session) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.window = make([]Turn, 0, s.capacity)
	s.messageCount = 0
	s.activeUsers = make(map[string]struct{})
	s.lastActivity = time.Time{}
	s.emotions = nil
}

func (s *Session) touchLocked(ts time.Time) {
	if ts.After(s.lastActivity) {
		s.lastActivity = ts
	}
}
