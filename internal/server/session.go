package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/roach88/tandem/internal/board"
	"github.com/roach88/tandem/internal/protocol"
	"github.com/roach88/tandem/internal/task"
)

const (
	// maxFrameBytes bounds a single inbound frame. The largest legal
	// payload is a task description, which is four thousand runes.
	maxFrameBytes = 1 << 20

	// sendBuffer is the per-session outbound queue. A session that
	// falls this far behind is dropped rather than throttling the hub.
	sendBuffer = 256
)

// session is one WebSocket connection. The read loop handles frames
// strictly in arrival order, so two commands from the same client can
// never race each other; commands from different sessions interleave
// and are serialized by the store transaction.
//
// The client identity is fixed at upgrade time. A clientId inside an
// envelope is ignored in favor of the session's own.
type session struct {
	hub      *Hub
	conn     *websocket.Conn
	clientID string

	send     chan []byte
	done     chan struct{}
	lastSeen atomic.Int64

	closeOnce sync.Once
}

func newSession(h *Hub, conn *websocket.Conn, clientID string) *session {
	s := &session{
		hub:      h,
		conn:     conn,
		clientID: clientID,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
	s.touch()
	return s
}

// close shuts the connection down. Safe to call from any goroutine,
// any number of times.
func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *session) touch() {
	s.lastSeen.Store(s.hub.now().UnixMilli())
}

// enqueue queues a frame for delivery without blocking. Returns false
// when the session is gone or its buffer is full.
func (s *session) enqueue(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// readLoop pumps inbound frames until the connection dies, then
// unregisters the session. Runs on the HTTP handler goroutine.
func (s *session) readLoop(ctx context.Context) {
	defer func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.stopped:
		}
		s.close()
	}()

	s.conn.SetReadLimit(maxFrameBytes)
	s.conn.SetPongHandler(func(string) error {
		s.touch()
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("connection failed", "client", s.clientID, "err", err)
			}
			return
		}
		s.touch()
		s.handleFrame(ctx, data)
	}
}

// writeLoop drains the send queue. Runs on its own goroutine; it is
// the only writer of data frames on the connection.
func (s *session) writeLoop() {
	for {
		select {
		case data := <-s.send:
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.close()
				return
			}
		case <-s.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = s.conn.WriteMessage(websocket.CloseMessage, msg)
			return
		}
	}
}

// handleFrame routes one inbound frame. A frame that cannot be decoded
// draws an error reply on this connection only; the connection itself
// stays open.
func (s *session) handleFrame(ctx context.Context, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		slog.Debug("malformed frame", "client", s.clientID, "err", err)
		s.sendError("", "malformed message")
		return
	}

	switch env.Type {
	case protocol.TypeTaskCreate:
		s.handleCreate(ctx, env)
	case protocol.TypeTaskUpdate:
		s.handleUpdate(ctx, env)
	case protocol.TypeTaskMove:
		s.handleMove(ctx, env)
	case protocol.TypeTaskDelete:
		s.handleDelete(ctx, env)
	case protocol.TypePresenceEditing:
		s.handleEditing(env)
	default:
		s.sendError(env.MessageID, fmt.Sprintf("unsupported message type %q", env.Type))
	}
}

func (s *session) handleCreate(ctx context.Context, env *protocol.Envelope) {
	var p protocol.CreatePayload
	if err := env.Into(&p); err != nil {
		s.sendError(env.MessageID, "malformed task:create payload")
		return
	}
	created, err := s.hub.board.Create(ctx, board.CreateParams{
		Title:       p.Title,
		Description: p.Description,
		Column:      p.Column,
	})
	if err != nil {
		s.replyFailure(env, err)
		return
	}
	s.sendAck(env.MessageID, created)
	s.hub.broadcastDelta(s, protocol.TypeTaskCreate, created)
}

func (s *session) handleUpdate(ctx context.Context, env *protocol.Envelope) {
	var p protocol.UpdatePayload
	if err := env.Into(&p); err != nil {
		s.sendError(env.MessageID, "malformed task:update payload")
		return
	}
	updated, err := s.hub.board.Update(ctx, board.UpdateParams{
		ID:          p.ID,
		Version:     p.Version,
		Title:       p.Title,
		Description: p.Description,
	})
	if err != nil {
		s.replyFailure(env, err)
		return
	}
	s.sendAck(env.MessageID, updated)
	s.hub.broadcastDelta(s, protocol.TypeTaskUpdate, updated)
}

func (s *session) handleMove(ctx context.Context, env *protocol.Envelope) {
	var p protocol.MovePayload
	if err := env.Into(&p); err != nil {
		s.sendError(env.MessageID, "malformed task:move payload")
		return
	}
	moved, err := s.hub.board.Move(ctx, board.MoveParams{
		ID:      p.ID,
		Version: p.Version,
		Column:  p.Column,
		Index:   p.Index,
	})
	if err != nil {
		s.replyFailure(env, err)
		return
	}
	s.sendAck(env.MessageID, moved)
	s.hub.broadcastDelta(s, protocol.TypeTaskMove, moved)
}

func (s *session) handleDelete(ctx context.Context, env *protocol.Envelope) {
	var p protocol.DeletePayload
	if err := env.Into(&p); err != nil {
		s.sendError(env.MessageID, "malformed task:delete payload")
		return
	}
	removed, err := s.hub.board.Delete(ctx, board.DeleteParams{
		ID:      p.ID,
		Version: p.Version,
	})
	if err != nil {
		s.replyFailure(env, err)
		return
	}
	s.sendAck(env.MessageID, removed)
	s.hub.broadcastDelta(s, protocol.TypeTaskDelete, protocol.DeletedPayload{ID: removed.ID})
}

func (s *session) handleEditing(env *protocol.Envelope) {
	var p protocol.EditingPayload
	if err := env.Into(&p); err != nil {
		s.sendError(env.MessageID, "malformed presence:editing payload")
		return
	}
	select {
	case s.hub.editing <- editingChange{origin: s, taskID: p.TaskID}:
	case <-s.hub.stopped:
	}
}

// replyFailure answers a failed mutation on this connection only.
// Conflicts carry the authoritative record; validation and lookup
// failures are reported verbatim; anything else is a store failure the
// client cannot act on, so it gets a generic reply.
func (s *session) replyFailure(env *protocol.Envelope, err error) {
	if conflict := task.AsConflict(err); conflict != nil {
		s.sendConflict(env.MessageID, conflict)
		return
	}
	if task.IsValidation(err) || task.IsNotFound(err) {
		s.sendError(env.MessageID, err.Error())
		return
	}
	slog.Error("mutation failed", "client", s.clientID, "type", env.Type, "err", err)
	s.sendError(env.MessageID, "operation failed")
}

func (s *session) sendAck(messageID string, record *task.Task) {
	s.reply(protocol.TypeSyncAck, protocol.AckPayload{
		MessageID: messageID,
		Record:    record,
	}, messageID)
}

func (s *session) sendConflict(messageID string, conflict *task.ConflictError) {
	s.reply(protocol.TypeConflict, protocol.ConflictPayload{
		MessageID: messageID,
		Conflict: protocol.Conflict{
			Type:          string(conflict.Type),
			Message:       conflict.Message,
			CurrentRecord: conflict.Current,
		},
	}, messageID)
}

func (s *session) sendError(messageID, message string) {
	s.reply(protocol.TypeError, protocol.ErrorPayload{
		Message:   message,
		MessageID: messageID,
	}, messageID)
}

func (s *session) reply(typ protocol.Type, payload any, messageID string) {
	env, err := protocol.NewEnvelope(typ, payload, "", messageID, s.hub.now())
	if err != nil {
		slog.Error("encoding reply", "type", typ, "err", err)
		return
	}
	data, err := env.Encode()
	if err != nil {
		slog.Error("encoding reply", "type", typ, "err", err)
		return
	}
	if !s.enqueue(data) {
		// The peer stopped draining its socket. Kill the connection;
		// the hub notices through the read loop's unregister.
		s.close()
	}
}
