package room

import "sync"

// Membership is one (room, participant) entry and the connection registered
// for it.
type Membership[C comparable] struct {
	Room          string
	ParticipantID string
	Conn          C
}

type members[C comparable] struct {
	order []string
	conns map[string]C
}

func (m *members[C]) remove(id string) {
	delete(m.conns, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

func (m *members[C]) roster() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Registry maps room names to the participants registered in them.
//
// A connection holds at most one membership: joining anywhere removes every
// other entry pointing at the same connection. Rooms are created on first join
// and removed as soon as they become empty.
type Registry[C comparable] struct {
	mu       sync.Mutex
	rooms    map[string]*members[C]
	total    int
	onChange func(rooms, memberships int)
}

func NewRegistry[C comparable]() *Registry[C] {
	return &Registry[C]{rooms: make(map[string]*members[C])}
}

// OnChange registers fn to be called with the room and membership counts
// after every mutation. fn runs outside the registry lock.
func (r *Registry[C]) OnChange(fn func(rooms, memberships int)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Join registers conn as participantID in room, replacing any connection
// previously registered under the same identifier. Entries for conn in other
// rooms or under other identifiers are removed and returned as vacated.
//
// The roster is in insertion order. Callers that need a stable order across
// peers must sort it.
func (r *Registry[C]) Join(room, participantID string, conn C) (roster []string, vacated []Membership[C]) {
	r.mu.Lock()

	for name, m := range r.rooms {
		for _, id := range m.roster() {
			if m.conns[id] != conn || (name == room && id == participantID) {
				continue
			}
			m.remove(id)
			r.total--
			vacated = append(vacated, Membership[C]{Room: name, ParticipantID: id, Conn: conn})
		}
		if len(m.order) == 0 {
			delete(r.rooms, name)
		}
	}

	m, ok := r.rooms[room]
	if !ok {
		m = &members[C]{conns: make(map[string]C)}
		r.rooms[room] = m
	}
	if _, exists := m.conns[participantID]; !exists {
		m.order = append(m.order, participantID)
		r.total++
	}
	m.conns[participantID] = conn
	roster = m.roster()

	notify := r.snapshotLocked()
	r.mu.Unlock()
	notify()
	return roster, vacated
}

// Leave removes participantID from room. It is a no-op when either is absent.
// It returns the identifiers still registered in the room.
func (r *Registry[C]) Leave(room, participantID string) []string {
	r.mu.Lock()
	m, ok := r.rooms[room]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	if _, present := m.conns[participantID]; !present {
		remaining := m.roster()
		r.mu.Unlock()
		return remaining
	}
	m.remove(participantID)
	r.total--
	if len(m.order) == 0 {
		delete(r.rooms, room)
	}
	remaining := m.roster()

	notify := r.snapshotLocked()
	r.mu.Unlock()
	notify()
	return remaining
}

// Members returns a copy of the room's identifier to connection mapping. The
// result is empty when the room does not exist.
func (r *Registry[C]) Members(room string) map[string]C {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rooms[room]
	if !ok {
		return map[string]C{}
	}
	out := make(map[string]C, len(m.conns))
	for id, c := range m.conns {
		out[id] = c
	}
	return out
}

// Roster returns the room's identifiers in insertion order.
func (r *Registry[C]) Roster(room string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rooms[room]
	if !ok {
		return nil
	}
	return m.roster()
}

// Evict removes every entry pointing at conn and deletes rooms left empty.
// It is safe to call for a connection that never joined.
func (r *Registry[C]) Evict(conn C) []Membership[C] {
	r.mu.Lock()
	var removed []Membership[C]
	for name, m := range r.rooms {
		for _, id := range m.roster() {
			if m.conns[id] != conn {
				continue
			}
			m.remove(id)
			r.total--
			removed = append(removed, Membership[C]{Room: name, ParticipantID: id, Conn: conn})
		}
		if len(m.order) == 0 {
			delete(r.rooms, name)
		}
	}
	if len(removed) == 0 {
		r.mu.Unlock()
		return nil
	}

	notify := r.snapshotLocked()
	r.mu.Unlock()
	notify()
	return removed
}

func (r *Registry[C]) Rooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Len returns the number of memberships across all rooms.
func (r *Registry[C]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

func (r *Registry[C]) snapshotLocked() func() {
	fn := r.onChange
	if fn == nil {
		return func() {}
	}
	rooms, total := len(r.rooms), r.total
	return func() { fn(rooms, total) }
}
