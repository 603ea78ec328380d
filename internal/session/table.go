package session

// Table maps keys to live sessions. It is not safe for concurrent use;
// each monitor partition owns one.
type Table struct {
	sessions map[Key]*Session
}

// NewTable creates a table sized for hint sessions.
func NewTable(hint int) *Table {
	return &Table{sessions: make(map[Key]*Session, hint)}
}

// GetOrCreate returns the session for key, creating it from tuple when it
// does not exist. created reports whether the session is new.
func (t *Table) GetOrCreate(key Key, tuple Tuple, ts uint64) (s *Session, created bool) {
	if s, ok := t.sessions[key]; ok {
		return s, false
	}
	s = New(tuple, ts)
	t.sessions[key] = s
	return s, true
}

// Lookup returns the session for key.
func (t *Table) Lookup(key Key) (*Session, bool) {
	s, ok := t.sessions[key]
	return s, ok
}

// Remove deletes the session for key and returns it.
func (t *Table) Remove(key Key) (*Session, bool) {
	s, ok := t.sessions[key]
	if ok {
		delete(t.sessions, key)
	}
	return s, ok
}

// Len returns the number of live sessions.
func (t *Table) Len() int { return len(t.sessions) }

// Range calls fn for every session until fn returns false. fn must not
// add sessions; removing the current one is allowed.
func (t *Table) Range(fn func(Key, *Session) bool) {
	for k, s := range t.sessions {
		if !fn(k, s) {
			return
		}
	}
}
