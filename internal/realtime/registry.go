package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatcore/internal/database"
	"chatcore/internal/kv"
)

// Conn is the registry's view of a live connection: enough to address it and
// to know which rooms it currently occupies. The transport-level client
// (client.go) embeds the send channel this points at.
type Conn struct {
	ID     string
	UserID int64
	send   chan Event

	mu    sync.Mutex
	rooms map[string]struct{}
}

func userRoom(userID int64) string { return userRoomPrefix + itoa(userID) }

const (
	userRoomPrefix = "user:"
	convRoomPrefix = "conversation:"
)

// ConversationRoom returns the room name for a conversation id.
func ConversationRoom(conversationID int64) string { return convRoomPrefix + itoa(conversationID) }

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Registry holds the two indexes described in the component design: userId ->
// set of connection ids, and connection id -> {userId, rooms}. A per-user
// lock guards each user's connection set during register/unregister so
// online/offline transitions are observed exactly once.
type Registry struct {
	db    *database.DB
	kv    *kv.Store
	calls *CallMachine
	log   zerolog.Logger

	mu          sync.RWMutex
	conns       map[string]*Conn   // connectionId -> Conn
	byUser      map[int64]map[string]struct{} // userId -> set of connectionId
	rooms       map[string]map[string]struct{} // room -> set of connectionId
	userLocks   map[int64]*sync.Mutex
	userLocksMu sync.Mutex
}

// NewRegistry constructs an empty Registry.
func NewRegistry(db *database.DB, store *kv.Store, log zerolog.Logger) *Registry {
	return &Registry{
		db:        db,
		kv:        store,
		log:       log,
		conns:     make(map[string]*Conn),
		byUser:    make(map[int64]map[string]struct{}),
		rooms:     make(map[string]map[string]struct{}),
		userLocks: make(map[int64]*sync.Mutex),
	}
}

// SetCallMachine wires the Call State Machine after both are constructed, so
// Unregister can notify it when a call participant's last connection drops.
func (r *Registry) SetCallMachine(cm *CallMachine) { r.calls = cm }

func (r *Registry) lockFor(userID int64) *sync.Mutex {
	r.userLocksMu.Lock()
	defer r.userLocksMu.Unlock()
	l, ok := r.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		r.userLocks[userID] = l
	}
	return l
}

// Register adds a new connection for userID, auto-joins it to its personal
// user room, and — if this is the user's first connection — marks them
// online and broadcasts user:online.
func (r *Registry) Register(ctx context.Context, userID int64, connID string, send chan Event) *Conn {
	lock := r.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	c := &Conn{ID: connID, UserID: userID, send: send, rooms: make(map[string]struct{})}

	r.mu.Lock()
	r.conns[connID] = c
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]struct{})
	}
	firstConnection := len(r.byUser[userID]) == 0
	r.byUser[userID][connID] = struct{}{}
	r.mu.Unlock()

	r.join(connID, userRoom(userID))

	if firstConnection {
		if err := r.kv.SetOnline(ctx, userID); err != nil {
			r.log.Warn().Err(err).Int64("userId", userID).Msg("set online in kv failed")
		}
		if err := r.db.SetOnline(userID, true); err != nil {
			r.log.Warn().Err(err).Int64("userId", userID).Msg("set online in db failed")
		}
		r.Broadcast(userRoom(userID), NewEvent(OutUserOnline, map[string]interface{}{"userId": userID}))
	}
	return c
}

// Unregister removes a connection, leaving every room it occupied and
// emitting peer:left to the remaining occupants of each. If this was the
// user's last connection, it marks them offline (persisting lastSeenAt) and
// broadcasts user:offline.
func (r *Registry) Unregister(ctx context.Context, connID string) {
	r.mu.Lock()
	c, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, connID)
	r.mu.Unlock()

	c.mu.Lock()
	roomList := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		roomList = append(roomList, room)
	}
	c.mu.Unlock()

	for _, room := range roomList {
		r.leave(connID, room)
		if room != userRoom(c.UserID) {
			r.Broadcast(room, NewEvent(OutPeerLeft, map[string]interface{}{"userId": c.UserID, "connectionId": connID}))
		}
	}

	lock := r.lockFor(c.UserID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	if set, ok := r.byUser[c.UserID]; ok {
		delete(set, connID)
	}
	empty := len(r.byUser[c.UserID]) == 0
	if empty {
		delete(r.byUser, c.UserID)
	}
	r.mu.Unlock()

	if empty {
		if err := r.db.SetLastSeen(c.UserID, time.Now()); err != nil {
			r.log.Warn().Err(err).Int64("userId", c.UserID).Msg("set last seen failed")
		}
		if err := r.db.SetOnline(c.UserID, false); err != nil {
			r.log.Warn().Err(err).Int64("userId", c.UserID).Msg("set offline in db failed")
		}
		if err := r.kv.ClearOnline(ctx, c.UserID); err != nil {
			r.log.Warn().Err(err).Int64("userId", c.UserID).Msg("clear online in kv failed")
		}
		r.Broadcast(userRoom(c.UserID), NewEvent(OutUserOffline, map[string]interface{}{
			"userId":     c.UserID,
			"lastSeenAt": time.Now(),
		}))
		if r.calls != nil {
			for _, room := range roomList {
				if convID, ok := conversationIDFromRoom(room); ok {
					r.calls.EndAllForUserInConversation(convID, c.UserID)
				}
			}
		}
	}
}

func conversationIDFromRoom(room string) (int64, bool) {
	if len(room) <= len(convRoomPrefix) || room[:len(convRoomPrefix)] != convRoomPrefix {
		return 0, false
	}
	var n int64
	for _, ch := range room[len(convRoomPrefix):] {
		if ch < '0' || ch > '9' {
			return 0, false
		}
		n = n*10 + int64(ch-'0')
	}
	return n, true
}

// Join adds a connection to a room.
func (r *Registry) Join(connID, room string) { r.join(connID, room) }

func (r *Registry) join(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connID]
	if !ok {
		return
	}
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[string]struct{})
	}
	r.rooms[room][connID] = struct{}{}
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
}

// Leave removes a connection from a room.
func (r *Registry) Leave(connID, room string) { r.leave(connID, room) }

func (r *Registry) leave(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.rooms[room]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.rooms, room)
		}
	}
	if c, ok := r.conns[connID]; ok {
		c.mu.Lock()
		delete(c.rooms, room)
		c.mu.Unlock()
	}
}

// ConnectionsOf returns the live connection ids for a user.
func (r *Registry) ConnectionsOf(userID int64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byUser[userID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// IsOnline reports whether userID has at least one live connection.
func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// Broadcast fans an event out to every connection currently in room.
func (r *Registry) Broadcast(room string, ev Event) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.rooms[room]))
	for id := range r.rooms[room] {
		ids = append(ids, id)
	}
	conns := make([]*Conn, 0, len(ids))
	for _, id := range ids {
		if c, ok := r.conns[id]; ok {
			conns = append(conns, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range conns {
		r.SendTo(c.ID, ev)
	}
}

// SendTo delivers an event to a single connection by id, dropping it
// silently if the connection's outbound buffer is full or it is gone — a
// slow consumer never blocks the rest of the fan-out.
func (r *Registry) SendTo(connID string, ev Event) {
	r.mu.RLock()
	c, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case c.send <- ev:
	default:
		r.log.Warn().Str("connId", connID).Msg("dropping event: outbound buffer full")
	}
}

// broadcastExcept fans an event out to a room, skipping one connection id
// (used by typing start/stop, which excludes the sender).
func (r *Registry) broadcastExcept(room, exceptConnID string, ev Event) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.rooms[room]))
	for id := range r.rooms[room] {
		if id == exceptConnID {
			continue
		}
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		r.SendTo(id, ev)
	}
}

// BroadcastToUser delivers an event to every live connection of a user.
func (r *Registry) BroadcastToUser(userID int64, ev Event) {
	for _, connID := range r.ConnectionsOf(userID) {
		r.SendTo(connID, ev)
	}
}

// RoomsOf returns the rooms a connection currently occupies, used by the
// websocket handler to pass a closing connection's rooms to
// Router.OnDisconnect, and by Router.userStillSubscribed.
func (r *Registry) RoomsOf(connID string) []string {
	r.mu.RLock()
	c, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		out = append(out, room)
	}
	return out
}
