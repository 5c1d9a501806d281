package realtime

import "sync"

// Rooms is the named broadcast-group multiplexer. Rooms come into existence
// when the first handle joins and disappear when the last one leaves; there
// is no pre-declared room set.
type Rooms struct {
	mu    sync.RWMutex
	rooms map[string]map[int64]Handle
}

// NewRooms creates an empty multiplexer.
func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[string]map[int64]Handle)}
}

// Join adds the handle to the room, creating the room if needed. Joining a
// room twice is a no-op.
func (r *Rooms) Join(room string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[int64]Handle)
		r.rooms[room] = members
	}
	members[h.ConnID()] = h
}

// Leave removes the handle from the room. Leaving a room the handle is not
// in is a no-op. Empty rooms are dropped.
func (r *Rooms) Leave(room string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(room, h)
}

func (r *Rooms) leaveLocked(room string, h Handle) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, h.ConnID())
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// LeaveAll removes the handle from every room it belongs to. Called on
// disconnect.
func (r *Rooms) LeaveAll(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for room, members := range r.rooms {
		if _, ok := members[h.ConnID()]; ok {
			r.leaveLocked(room, h)
		}
	}
}

// Broadcast delivers the event to every member of the room except exclude
// (which may be nil). Delivery happens outside the lock against a snapshot,
// so a slow receiver never stalls membership changes.
func (r *Rooms) Broadcast(room string, ev Event, exclude Handle) {
	r.mu.RLock()
	members := r.rooms[room]
	targets := make([]Handle, 0, len(members))
	for _, h := range members {
		if exclude != nil && h.ConnID() == exclude.ConnID() {
			continue
		}
		targets = append(targets, h)
	}
	r.mu.RUnlock()

	for _, h := range targets {
		h.Deliver(ev)
	}
}

// MemberCount returns the number of handles in the room.
func (r *Rooms) MemberCount(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}
