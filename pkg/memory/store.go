package memory

import (
	"sort"
	"sync"
	"time"
)

// Store owns every group's Session. The zero value is not usable; call NewStore.
type Store struct {
	windowSize int
	now        func() time.Time

	mu       sync.RWMutex
	sessions map[GroupID]*Session
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used to stamp turns and emotions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates a store whose sessions keep windowSize turns.
func NewStore(windowSize int, opts ...Option) *Store {
	if windowSize < 1 {
		windowSize = DefaultWindowSize
	}
	s := &Store{
		windowSize: windowSize,
		now:        time.Now,
		sessions:   make(map[GroupID]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WindowSize returns the per-group window capacity.
func (s *Store) WindowSize() int {
	return s.windowSize
}

// GetOrCreate returns the group's session, creating an empty one on first use.
func (s *Store) GetOrCreate(id GroupID) *Session {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess
	}
	sess = newSession(id, s.windowSize)
	s.sessions[id] = sess
	return sess
}

func (s *Store) lookup(id GroupID) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Record appends a turn stamped with the current time and returns it.
func (s *Store) Record(id GroupID, role Role, content, userID string) Turn {
	turn := Turn{
		Role:      role,
		Content:   content,
		Timestamp: s.now(),
		UserID:    userID,
	}
	s.GetOrCreate(id).record(turn)
	return turn
}

// RecordAt appends a turn as given. A zero timestamp is replaced with the current time.
func (s *Store) RecordAt(id GroupID, turn Turn) Turn {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = s.now()
	}
	s.GetOrCreate(id).record(turn)
	return turn
}

// RecordExchange appends a human turn and the assistant's answer as one adjacent pair.
// Zero timestamps are replaced with the current time.
func (s *Store) RecordExchange(id GroupID, human, assistant Turn) (Turn, Turn) {
	now := s.now()
	if human.Timestamp.IsZero() {
		human.Timestamp = now
	}
	if assistant.Timestamp.IsZero() {
		assistant.Timestamp = now
	}
	human.Role = RoleHuman
	assistant.Role = RoleAssistant
	s.GetOrCreate(id).recordExchange(human, assistant)
	return human, assistant
}

// History returns a copy of the group's window, most recent last.
// Unknown groups have an empty history.
func (s *Store) History(id GroupID) []Turn {
	sess, ok := s.lookup(id)
	if !ok {
		return []Turn{}
	}
	return sess.History()
}

// AddEmotion appends to the group's emotion log. A zero ts means now.
func (s *Store) AddEmotion(id GroupID, label string, ts time.Time) {
	if ts.IsZero() {
		ts = s.now()
	}
	s.GetOrCreate(id).addEmotion(EmotionEntry{Label: label, Timestamp: ts})
}

// Clear resets the group's window, statistics and emotion log.
// Other groups are untouched. The session itself stays registered.
func (s *Store) Clear(id GroupID) {
	if sess, ok := s.lookup(id); ok {
		sess.clear()
	}
}

// Stats returns a copy of the group's statistics.
func (s *Store) Stats(id GroupID) Stats {
	sess, ok := s.lookup(id)
	if !ok {
		return Stats{ActiveUsers: []string{}, Emotions: []EmotionEntry{}}
	}
	return sess.Stats()
}

// Groups lists every known group id in sorted order.
func (s *Store) Groups() []GroupID {
	s.mu.RLock()
	ids := make([]GroupID, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of known groups.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
