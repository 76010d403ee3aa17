package session

import "sync"

// Router delivers out-of-band signals (typing, presence) to every session
// joined to a conversation. It is never used for the turn pipeline's own
// message delivery.
type Router struct {
	mu    sync.RWMutex
	rooms map[string]map[*Session]struct{}
}

// NewRouter creates an empty room router.
func NewRouter() *Router {
	return &Router{rooms: make(map[string]map[*Session]struct{})}
}

// Join subscribes the session to a conversation room. Idempotent.
func (r *Router) Join(s *Session, conversationRef string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[conversationRef]
	if !ok {
		room = make(map[*Session]struct{})
		r.rooms[conversationRef] = room
	}
	room[s] = struct{}{}
}

// Leave unsubscribes the session from a conversation room. Idempotent.
func (r *Router) Leave(s *Session, conversationRef string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[conversationRef]
	if !ok {
		return
	}
	delete(room, s)
	if len(room) == 0 {
		delete(r.rooms, conversationRef)
	}
}

// LeaveAll drops the session from every room it is joined to.
func (r *Router) LeaveAll(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ref, room := range r.rooms {
		delete(room, s)
		if len(room) == 0 {
			delete(r.rooms, ref)
		}
	}
}

// Joined reports whether the session is subscribed to the room.
func (r *Router) Joined(s *Session, conversationRef string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[conversationRef][s]
	return ok
}

// Broadcast delivers an event to every session joined to the conversation
// except origin. Best-effort: no delivery confirmation, no queuing for
// disconnected sessions.
func (r *Router) Broadcast(conversationRef, event string, payload any, origin *Session) {
	r.mu.RLock()
	members := make([]*Session, 0, len(r.rooms[conversationRef]))
	for member := range r.rooms[conversationRef] {
		if member != origin {
			members = append(members, member)
		}
	}
	r.mu.RUnlock()

	for _, member := range members {
		member.Emit(event, payload)
	}
}
