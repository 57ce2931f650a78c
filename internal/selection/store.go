package selection

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DisplayModeGrid is the only display mode in which events are selectable.
// Switching a session to any other mode (e.g. the calendar view) resets its
// selection state.
const DisplayModeGrid = "grid"

// Snapshot is the externally visible selection state of one session.
// IDs is sorted so enrichment requests and tests are deterministic.
type Snapshot struct {
	SelectMode bool     `json:"select_mode"`
	IDs        []string `json:"selected_ids"`
}

// session holds per-caller selection state.
//
// Invariant: mode == false implies len(ids) == 0. Every transition that can
// violate this is performed under the store lock as a single step, so no
// reader ever observes mode off with a non-empty set.
type session struct {
	mode    bool
	ids     map[string]struct{}
	touched time.Time
}

// Store tracks selection state for all live sessions. All methods are safe
// for concurrent use; mutations never touch the network.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*session

	// now is a test seam.
	now func() time.Time
}

// NewStore creates an empty selection store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*session),
		now:      time.Now,
	}
}

// NewSession mints a fresh session id with select mode off.
func (s *Store) NewSession() string {
	sid := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sid] = &session{
		ids:     make(map[string]struct{}),
		touched: s.now(),
	}
	return sid
}

// get returns the session for sid, creating it on first use. Callers must
// hold s.mu.
func (s *Store) get(sid string) *session {
	sess, ok := s.sessions[sid]
	if !ok {
		sess = &session{ids: make(map[string]struct{})}
		s.sessions[sid] = sess
	}
	sess.touched = s.now()
	return sess
}

// ToggleMode flips select mode. Turning the mode off clears the id set in
// the same transition.
func (s *Store) ToggleMode(sid string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.get(sid)
	sess.mode = !sess.mode
	if !sess.mode {
		sess.ids = make(map[string]struct{})
	}
	return sess.snapshot()
}

// ToggleMembership adds id to the session's set if absent, removes it if
// present. Any id is accepted; keeping the set consistent with the event
// collection on display is the caller's responsibility.
func (s *Store) ToggleMembership(sid, id string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.get(sid)
	if _, ok := sess.ids[id]; ok {
		delete(sess.ids, id)
	} else {
		sess.ids[id] = struct{}{}
	}
	return sess.snapshot()
}

// Clear empties the id set without changing select mode.
func (s *Store) Clear(sid string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.get(sid)
	sess.ids = make(map[string]struct{})
	return sess.snapshot()
}

// SetDisplayMode reacts to the UI switching views. Any mode other than the
// selectable grid forces select mode off and drops all ids.
func (s *Store) SetDisplayMode(sid, displayMode string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.get(sid)
	if displayMode != DisplayModeGrid {
		sess.mode = false
		sess.ids = make(map[string]struct{})
	}
	return sess.snapshot()
}

// Snapshot returns the current state of sid without mutating it.
func (s *Store) Snapshot(sid string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(sid).snapshot()
}

// Sweep evicts sessions idle for longer than ttl and reports how many were
// dropped. Run by the janitor.
func (s *Store) Sweep(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-ttl)
	evicted := 0
	for sid, sess := range s.sessions {
		if sess.touched.Before(cutoff) {
			delete(s.sessions, sid)
			evicted++
		}
	}
	return evicted
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (sess *session) snapshot() Snapshot {
	ids := make([]string, 0, len(sess.ids))
	for id := range sess.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return Snapshot{SelectMode: sess.mode, IDs: ids}
}
