package client

import (
	"log/slog"

	"github.com/roach88/tandem/internal/protocol"
	"github.com/roach88/tandem/internal/task"
)

// handleFrame routes one server frame into the cache, the pending set,
// or the presence registry.
func (c *Client) handleFrame(data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		slog.Warn("malformed server frame", "client", c.clientID, "err", err)
		return
	}

	switch env.Type {
	case protocol.TypeSyncFull:
		var p protocol.SyncFullPayload
		if err := env.Into(&p); err != nil {
			slog.Warn("bad snapshot payload", "err", err)
			return
		}
		c.mu.Lock()
		c.applySnapshotLocked(&p)
		c.mu.Unlock()

	case protocol.TypeSyncAck:
		var p protocol.AckPayload
		if err := env.Into(&p); err != nil {
			slog.Warn("bad ack payload", "err", err)
			return
		}
		c.applyAck(&p)

	case protocol.TypeConflict:
		var p protocol.ConflictPayload
		if err := env.Into(&p); err != nil {
			slog.Warn("bad conflict payload", "err", err)
			return
		}
		c.applyConflict(&p)

	case protocol.TypeError:
		var p protocol.ErrorPayload
		if err := env.Into(&p); err != nil {
			slog.Warn("bad error payload", "err", err)
			return
		}
		c.applyErrorReply(&p)

	case protocol.TypeTaskCreate, protocol.TypeTaskUpdate, protocol.TypeTaskMove:
		var t task.Task
		if err := env.Into(&t); err != nil {
			slog.Warn("bad task delta", "type", env.Type, "err", err)
			return
		}
		c.mu.Lock()
		c.cache[t.ID] = t.Clone()
		c.mu.Unlock()

	case protocol.TypeTaskDelete:
		var p protocol.DeletedPayload
		if err := env.Into(&p); err != nil {
			slog.Warn("bad delete delta", "err", err)
			return
		}
		c.mu.Lock()
		delete(c.cache, p.ID)
		c.mu.Unlock()

	case protocol.TypePresenceUpdate:
		var p protocol.PresencePayload
		if err := env.Into(&p); err != nil {
			slog.Warn("bad presence payload", "err", err)
			return
		}
		c.mu.Lock()
		users := make(map[string]string, len(p.Users))
		for _, u := range p.Users {
			users[u.ClientID] = u.Editing
		}
		c.users = users
		c.mu.Unlock()

	case protocol.TypeUserJoin:
		var p protocol.UserPayload
		if err := env.Into(&p); err != nil {
			return
		}
		c.mu.Lock()
		c.users[p.ClientID] = ""
		c.mu.Unlock()

	case protocol.TypeUserLeave:
		var p protocol.UserPayload
		if err := env.Into(&p); err != nil {
			return
		}
		c.mu.Lock()
		delete(c.users, p.ClientID)
		c.mu.Unlock()

	default:
		slog.Debug("ignoring frame", "type", env.Type)
	}
}

// applySnapshotLocked replaces the cache and the presence registry
// wholesale. The snapshot is always authoritative over local state.
func (c *Client) applySnapshotLocked(snap *protocol.SyncFullPayload) {
	cache := make(map[string]*task.Task, len(snap.Tasks))
	for _, t := range snap.Tasks {
		cache[t.ID] = t.Clone()
	}
	c.cache = cache

	users := make(map[string]string, len(snap.Users))
	for _, u := range snap.Users {
		users[u.ClientID] = u.Editing
	}
	c.users = users
}

// applyAck settles a successful operation: the pending record and any
// queue entry go away and the server's record lands in the cache. A
// duplicate ack finds nothing pending and changes nothing.
func (c *Client) applyAck(p *protocol.AckPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	op, ok := c.pending[p.MessageID]
	if !ok {
		return
	}
	delete(c.pending, p.MessageID)
	c.dequeueLocked(p.MessageID)

	if op.Kind == OpDelete {
		delete(c.cache, op.TaskID)
		return
	}
	if op.Kind == OpCreate {
		// The provisional record gives way to the server-assigned one.
		delete(c.cache, op.TaskID)
	}
	if p.Record != nil {
		c.cache[p.Record.ID] = p.Record.Clone()
	}
}

// applyConflict settles a rejected operation: roll back the optimistic
// apply, let the authoritative record win, and tell the caller. The
// operation is never retried automatically.
func (c *Client) applyConflict(p *protocol.ConflictPayload) {
	c.mu.Lock()
	op, ok := c.pending[p.MessageID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, p.MessageID)
	c.dequeueLocked(p.MessageID)

	if op.Kind == OpCreate {
		delete(c.cache, op.TaskID)
	} else if op.Snapshot != nil {
		c.cache[op.Snapshot.ID] = op.Snapshot.Clone()
	}
	if rec := p.Conflict.CurrentRecord; rec != nil {
		c.cache[rec.ID] = rec.Clone()
	}
	opCopy := *op
	cb := c.onConflict
	c.mu.Unlock()

	slog.Info("operation conflicted", "client", c.clientID, "messageId", p.MessageID, "conflict", p.Conflict.Type)
	if cb != nil {
		cb(opCopy, p.Conflict)
	}
}

// applyErrorReply handles an error frame. One addressed to a pending
// operation settles it like a conflict without an authoritative
// record; anything else is just logged.
func (c *Client) applyErrorReply(p *protocol.ErrorPayload) {
	c.mu.Lock()
	op, ok := c.pending[p.MessageID]
	if ok {
		delete(c.pending, p.MessageID)
		c.dequeueLocked(p.MessageID)
		if op.Kind == OpCreate {
			delete(c.cache, op.TaskID)
		} else if op.Snapshot != nil {
			c.cache[op.Snapshot.ID] = op.Snapshot.Clone()
		}
	}
	cb := c.onError
	c.mu.Unlock()

	if !ok {
		slog.Warn("server error", "client", c.clientID, "message", p.Message)
		return
	}
	slog.Warn("operation rejected", "client", c.clientID, "messageId", p.MessageID, "message", p.Message)
	if cb != nil {
		cb(p.MessageID, p.Message)
	}
}
