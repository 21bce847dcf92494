package session

// Store is an arena of open sessions: a dense slice plus an id→index map,
// so lookup, insertion and removal are all O(1) without relying on
// reference identity. Removal swaps the last element into the hole, so
// iteration order is not insertion order.
type Store struct {
	sessions []*Session
	index    map[ID]int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{index: make(map[ID]int)}
}

// Get returns the session for an id.
func (st *Store) Get(id ID) (*Session, bool) {
	i, ok := st.index[id]
	if !ok {
		return nil, false
	}
	return st.sessions[i], true
}

// Add inserts a session. An existing session with the same id is replaced.
func (st *Store) Add(s *Session) {
	if i, ok := st.index[s.ID]; ok {
		st.sessions[i] = s
		return
	}
	st.index[s.ID] = len(st.sessions)
	st.sessions = append(st.sessions, s)
}

// Remove deletes a session by swapping the last element into its slot.
func (st *Store) Remove(id ID) bool {
	i, ok := st.index[id]
	if !ok {
		return false
	}
	last := len(st.sessions) - 1
	if i != last {
		st.sessions[i] = st.sessions[last]
		st.index[st.sessions[i].ID] = i
	}
	st.sessions[last] = nil
	st.sessions = st.sessions[:last]
	delete(st.index, id)
	return true
}

// All returns the open sessions. The returned slice is a copy; the
// sessions themselves are shared.
func (st *Store) All() []*Session {
	out := make([]*Session, len(st.sessions))
	copy(out, st.sessions)
	return out
}

// Len returns the number of open sessions.
func (st *Store) Len() int {
	return len(st.sessions)
}
