package core

import (
	"sort"
	"sync"
)

// Room groups sessions subscribed to the same named channel. Membership is
// mutated from many session goroutines; broadcasts iterate a snapshot so
// joins and leaves during delivery are safe. A room is never destroyed while
// the process runs, its log sink closes only at shutdown.
type Room struct {
	Name string

	mu      sync.RWMutex
	members map[*Session]struct{}
	sink    LogSink
}

// NewRoom constructs an empty room writing to the given sink (may be nil
// when the sink could not be opened; the room then runs unlogged).
func NewRoom(name string, sink LogSink) *Room {
	return &Room{
		Name:    name,
		members: make(map[*Session]struct{}),
		sink:    sink,
	}
}

// AddMember inserts the session and announces the join to everyone in the
// room, the joiner included.
func (r *Room) AddMember(s *Session) {
	r.mu.Lock()
	r.members[s] = struct{}{}
	r.mu.Unlock()

	r.BroadcastAll(s.Username() + " has joined the room")
}

// RemoveMember deletes the session and announces the leave to the remaining
// members.
func (r *Room) RemoveMember(s *Session) {
	r.mu.Lock()
	delete(r.members, s)
	r.mu.Unlock()

	r.BroadcastAll(s.Username() + " has left the room")
}

// Broadcast delivers a line to every member except the sender and appends it
// to the room log. Regular chat uses this plus a separate echo to the sender;
// join/leave notices use BroadcastAll instead. The two are deliberately
// distinct.
func (r *Room) Broadcast(line string, sender *Session) {
	for _, m := range r.snapshot() {
		if m != sender {
			m.send(line)
		}
	}
	r.LogLine(line)
}

// BroadcastAll delivers a line to every current member and logs it.
func (r *Room) BroadcastAll(line string) {
	for _, m := range r.snapshot() {
		m.send(line)
	}
	r.LogLine(line)
}

// LogLine appends a line to the room's log sink.
func (r *Room) LogLine(line string) {
	if r.sink != nil {
		r.sink.Append(line)
	}
}

// MemberCount returns the live number of members.
func (r *Room) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// MemberNames returns the member usernames, sorted.
func (r *Room) MemberNames() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.members))
	for m := range r.members {
		names = append(names, m.Username())
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

func (r *Room) snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := make([]*Session, 0, len(r.members))
	for m := range r.members {
		members = append(members, m)
	}
	return members
}

func (r *Room) closeSink() error {
	if r.sink == nil {
		return nil
	}
	return r.sink.Close()
}
