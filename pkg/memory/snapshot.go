package memory

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Snapshot is the serialized form of a Session.
type Snapshot struct {
	GroupID    GroupID `json:"group_id"`
	WindowSize int     `json:"window_size"`
	Turns      []Turn  `json:"turns"`
	Stats      Stats   `json:"stats"`
}

// Snapshot captures the session's window and statistics.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := make([]Turn, len(s.window))
	copy(turns, s.window)

	return Snapshot{
		GroupID:    s.id,
		WindowSize: s.capacity,
		Turns:      turns,
		Stats:      s.statsLocked(),
	}
}

// FromSnapshot rebuilds a session. Turns beyond the window size are dropped oldest first.
func FromSnapshot(snap Snapshot) (*Session, error) {
	if snap.GroupID == "" {
		return nil, errors.New("snapshot has no group id")
	}
	if snap.Stats.MessageCount < 0 {
		return nil, fmt.Errorf("snapshot %s: negative message count", snap.GroupID)
	}

	sess := newSession(snap.GroupID, snap.WindowSize)

	turns := snap.Turns
	if len(turns) > sess.capacity {
		turns = turns[len(turns)-sess.capacity:]
	}
	sess.window = append(sess.window, turns...)

	sess.messageCount = snap.Stats.MessageCount
	sess.lastActivity = snap.Stats.LastActivity
	for _, u := range snap.Stats.ActiveUsers {
		if u != "" {
			sess.activeUsers[u] = struct{}{}
		}
	}
	if len(snap.Stats.Emotions) > 0 {
		sess.emotions = make([]EmotionEntry, len(snap.Stats.Emotions))
		copy(sess.emotions, snap.Stats.Emotions)
	}
	return sess, nil
}

// MarshalSnapshot encodes a snapshot as JSON.
func MarshalSnapshot(snap Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot %s: %w", snap.GroupID, err)
	}
	return data, nil
}

// UnmarshalSnapshot decodes a snapshot produced by MarshalSnapshot.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// Snapshot returns the group's snapshot. ok is false for unknown groups.
func (s *Store) Snapshot(id GroupID) (Snapshot, bool) {
	sess, ok := s.lookup(id)
	if !ok {
		return Snapshot{}, false
	}
	return sess.Snapshot(), true
}

// SnapshotAll captures every group, ordered by group id.
func (s *Store) SnapshotAll() []Snapshot {
	ids := s.Groups()
	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		if snap, ok := s.Snapshot(id); ok {
			out = append(out, snap)
		}
	}
	return out
}

// Restore replaces the group's session with one rebuilt from snap.
// The store's window size wins over the snapshot's.
func (s *Store) Restore(snap Snapshot) error {
	snap.WindowSize = s.windowSize
	sess, err := FromSnapshot(snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.sessions[snap.GroupID] = sess
	s.mu.Unlock()
	return nil
}
