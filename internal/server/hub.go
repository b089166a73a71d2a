package server

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/tandem/internal/board"
	"github.com/roach88/tandem/internal/protocol"
)

// outbound is a frame queued for fan-out. origin, when non-nil, is
// excluded from delivery; it already received its acknowledgement.
type outbound struct {
	origin *session
	data   []byte
}

type editingChange struct {
	origin *session
	taskID string
}

// Hub owns the connection registry and the presence map. Both are
// mutated only inside the Run loop, which serializes connects,
// disconnects, heartbeat timeouts, and editing changes; sessions and
// HTTP handlers reach the registry exclusively through channels.
type Hub struct {
	board    *board.Controller
	interval time.Duration
	now      func() time.Time

	register   chan *session
	unregister chan *session
	outbound   chan outbound
	editing    chan editingChange

	// stopped is closed when Run returns so senders blocked on the
	// channels above can bail out instead of leaking.
	stopped chan struct{}

	// Run-loop state. Never touched outside Run.
	sessions  map[string]*session
	editingBy map[string]string
}

// NewHub creates a hub for the given board. interval is the heartbeat
// period; a connection that misses a full interval is torn down.
func NewHub(ctrl *board.Controller, interval time.Duration) *Hub {
	return &Hub{
		board:      ctrl,
		interval:   interval,
		now:        func() time.Time { return time.Now().UTC() },
		register:   make(chan *session),
		unregister: make(chan *session),
		outbound:   make(chan outbound),
		editing:    make(chan editingChange),
		stopped:    make(chan struct{}),
		sessions:   make(map[string]*session),
		editingBy:  make(map[string]string),
	}
}

// Run drives the hub until ctx is canceled, then closes every
// connection and clears the registry.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.stopped)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case s := <-h.register:
			h.add(ctx, s)
		case s := <-h.unregister:
			h.remove(s)
		case msg := <-h.outbound:
			h.fanOut(msg)
		case ch := <-h.editing:
			h.setEditing(ch)
		case <-ticker.C:
			h.probe()
		}
	}
}

// add registers a session, sends it the full snapshot, and announces
// it to the other connections. A second connection for an already
// registered client replaces the first silently; that happens when a
// client reconnects before the heartbeat notices the old connection
// died.
func (h *Hub) add(ctx context.Context, s *session) {
	takeover := false
	if old, ok := h.sessions[s.clientID]; ok {
		old.close()
		takeover = true
	}
	h.sessions[s.clientID] = s

	frame, err := h.snapshotFrame(ctx, s.clientID)
	if err != nil {
		slog.Error("building snapshot", "client", s.clientID, "err", err)
		delete(h.sessions, s.clientID)
		s.close()
		return
	}
	if !s.enqueue(frame) {
		delete(h.sessions, s.clientID)
		s.close()
		return
	}

	if !takeover {
		h.announce(s, protocol.TypeUserJoin, protocol.UserPayload{ClientID: s.clientID})
	}
	slog.Info("client connected", "client", s.clientID, "sessions", len(h.sessions))
}

// remove handles a session that ended on its own, usually because the
// peer closed the connection. A session already replaced by a takeover
// is ignored.
func (h *Hub) remove(s *session) {
	if cur, ok := h.sessions[s.clientID]; !ok || cur != s {
		return
	}
	h.drop(s, "disconnected")
}

// drop removes a session from the registry and tells the remaining
// connections it left. Callers must hold the run loop.
func (h *Hub) drop(s *session, reason string) {
	delete(h.sessions, s.clientID)
	delete(h.editingBy, s.clientID)
	s.close()
	slog.Info("client disconnected", "client", s.clientID, "reason", reason)
	h.announce(nil, protocol.TypeUserLeave, protocol.UserPayload{ClientID: s.clientID})
}

// fanOut delivers a frame to every session except the origin. Sessions
// whose send buffer is full are dropped; they stopped reading long ago.
func (h *Hub) fanOut(msg outbound) {
	var dead []*session
	for _, s := range h.sessions {
		if s == msg.origin {
			continue
		}
		if !s.enqueue(msg.data) {
			dead = append(dead, s)
		}
	}
	for _, s := range dead {
		h.drop(s, "send buffer full")
	}
}

func (h *Hub) setEditing(ch editingChange) {
	if cur, ok := h.sessions[ch.origin.clientID]; !ok || cur != ch.origin {
		return
	}
	if ch.taskID == "" {
		delete(h.editingBy, ch.origin.clientID)
	} else {
		h.editingBy[ch.origin.clientID] = ch.taskID
	}
	// Everyone sees the updated registry, the origin included.
	h.announce(nil, protocol.TypePresenceUpdate, protocol.PresencePayload{Users: h.userList()})
}

// probe pings every session and tears down the ones that have not been
// heard from for a full interval.
func (h *Hub) probe() {
	cutoff := h.now().Add(-h.interval).UnixMilli()
	var dead []*session
	for _, s := range h.sessions {
		if s.lastSeen.Load() < cutoff {
			dead = append(dead, s)
			continue
		}
		deadline := time.Now().Add(h.interval)
		if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			dead = append(dead, s)
		}
	}
	for _, s := range dead {
		h.drop(s, "heartbeat timeout")
	}
}

func (h *Hub) closeAll() {
	for _, s := range h.sessions {
		s.close()
	}
	h.sessions = make(map[string]*session)
	h.editingBy = make(map[string]string)
	slog.Info("hub stopped")
}

// announce encodes an envelope and fans it out, skipping origin when
// non-nil. Callers must hold the run loop.
func (h *Hub) announce(origin *session, typ protocol.Type, payload any) {
	env, err := protocol.NewEnvelope(typ, payload, "", "", h.now())
	if err != nil {
		slog.Error("encoding broadcast", "type", typ, "err", err)
		return
	}
	data, err := env.Encode()
	if err != nil {
		slog.Error("encoding broadcast", "type", typ, "err", err)
		return
	}
	h.fanOut(outbound{origin: origin, data: data})
}

// snapshotFrame builds the sync:full frame for a freshly registered
// client: every task on the board plus the connection registry, tagged
// with the client's own identity.
func (h *Hub) snapshotFrame(ctx context.Context, clientID string) ([]byte, error) {
	tasks, err := h.board.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	env, err := protocol.NewEnvelope(protocol.TypeSyncFull, protocol.SyncFullPayload{
		ClientID: clientID,
		Tasks:    tasks,
		Users:    h.userList(),
	}, "", "", h.now())
	if err != nil {
		return nil, err
	}
	return env.Encode()
}

func (h *Hub) userList() []protocol.User {
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	users := make([]protocol.User, 0, len(ids))
	for _, id := range ids {
		users = append(users, protocol.User{ClientID: id, Editing: h.editingBy[id]})
	}
	return users
}

// broadcastDelta sends a committed mutation to every connection except
// the origin, which already got the ack. The envelope is tagged with
// the origin's identity so receivers can tell their own echoes apart.
func (h *Hub) broadcastDelta(origin *session, typ protocol.Type, payload any) {
	env, err := protocol.NewEnvelope(typ, payload, origin.clientID, "", h.now())
	if err != nil {
		slog.Error("encoding delta", "type", typ, "err", err)
		return
	}
	data, err := env.Encode()
	if err != nil {
		slog.Error("encoding delta", "type", typ, "err", err)
		return
	}
	select {
	case h.outbound <- outbound{origin: origin, data: data}:
	case <-h.stopped:
	}
}

// broadcastAll sends a frame to every connection. Used for mutations
// that arrive over the REST surface and so have no originating session.
func (h *Hub) broadcastAll(typ protocol.Type, payload any) {
	env, err := protocol.NewEnvelope(typ, payload, "", "", h.now())
	if err != nil {
		slog.Error("encoding broadcast", "type", typ, "err", err)
		return
	}
	data, err := env.Encode()
	if err != nil {
		slog.Error("encoding broadcast", "type", typ, "err", err)
		return
	}
	select {
	case h.outbound <- outbound{data: data}:
	case <-h.stopped:
	}
}
