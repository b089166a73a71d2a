package client

import (
	"log/slog"
	"sort"

	"github.com/gorilla/websocket"

	"github.com/roach88/tandem/internal/order"
	"github.com/roach88/tandem/internal/protocol"
	"github.com/roach88/tandem/internal/task"
)

// CreateTask submits a new task and returns its correlation id. The
// local view gains a provisional record immediately; the ack swaps it
// for the server-assigned one.
func (c *Client) CreateTask(title, description, column string) string {
	messageID := c.ids.Generate()

	c.mu.Lock()
	defer c.mu.Unlock()

	provisionalID := "pending-" + messageID
	now := c.now()
	c.cache[provisionalID] = &task.Task{
		ID:          provisionalID,
		Title:       title,
		Description: description,
		Column:      column,
		Position:    c.nextPositionLocked(column),
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	c.pending[messageID] = &PendingOperation{
		MessageID: messageID,
		Kind:      OpCreate,
		TaskID:    provisionalID,
	}

	c.submitLocked(OpCreate, protocol.TypeTaskCreate, protocol.CreatePayload{
		Title:       title,
		Description: description,
		Column:      column,
	}, messageID)
	return messageID
}

// UpdateTask submits a title or description change against the version
// currently in the local cache.
func (c *Client) UpdateTask(id string, title, description *string) (string, error) {
	if title == nil && description == nil {
		return "", &task.ValidationError{Field: "update", Reason: "no fields to change"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.cache[id]
	if !ok {
		return "", &task.NotFoundError{ID: id}
	}

	messageID := c.ids.Generate()
	payload := protocol.UpdatePayload{
		ID:          id,
		Version:     current.Version,
		Title:       title,
		Description: description,
	}

	c.pending[messageID] = &PendingOperation{
		MessageID: messageID,
		Kind:      OpUpdate,
		TaskID:    id,
		Snapshot:  current.Clone(),
	}

	if title != nil {
		current.Title = *title
	}
	if description != nil {
		current.Description = *description
	}
	current.Version++
	current.UpdatedAt = c.now()

	c.submitLocked(OpUpdate, protocol.TypeTaskUpdate, payload, messageID)
	return messageID, nil
}

// MoveTask submits a move to the given column and index. The local
// position is recomputed against the cached neighbors so the view
// reorders immediately.
func (c *Client) MoveTask(id, column string, index int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.cache[id]
	if !ok {
		return "", &task.NotFoundError{ID: id}
	}

	messageID := c.ids.Generate()
	payload := protocol.MovePayload{
		ID:      id,
		Version: current.Version,
		Column:  column,
		Index:   index,
	}

	c.pending[messageID] = &PendingOperation{
		MessageID: messageID,
		Kind:      OpMove,
		TaskID:    id,
		Snapshot:  current.Clone(),
	}

	current.Column = column
	current.Position = c.positionAtLocked(current, column, index)
	current.Version++
	current.UpdatedAt = c.now()

	c.submitLocked(OpMove, protocol.TypeTaskMove, payload, messageID)
	return messageID, nil
}

// DeleteTask submits a delete against the cached version.
func (c *Client) DeleteTask(id string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.cache[id]
	if !ok {
		return "", &task.NotFoundError{ID: id}
	}

	messageID := c.ids.Generate()
	payload := protocol.DeletePayload{ID: id, Version: current.Version}

	c.pending[messageID] = &PendingOperation{
		MessageID: messageID,
		Kind:      OpDelete,
		TaskID:    id,
		Snapshot:  current.Clone(),
	}
	delete(c.cache, id)

	c.submitLocked(OpDelete, protocol.TypeTaskDelete, payload, messageID)
	return messageID, nil
}

// SetEditing reports which task this client is editing; empty clears
// the marker. Presence is ephemeral, so it is dropped while offline
// rather than queued.
func (c *Client) SetEditing(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected || c.conn == nil {
		return
	}
	env, err := protocol.NewEnvelope(protocol.TypePresenceEditing, protocol.EditingPayload{
		TaskID: taskID,
	}, c.clientID, "", c.now())
	if err != nil {
		slog.Error("encoding presence", "err", err)
		return
	}
	frame, err := env.Encode()
	if err != nil {
		slog.Error("encoding presence", "err", err)
		return
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.conn = nil
		c.state = StateDisconnected
		c.prunePendingLocked()
	}
}

// submitLocked transmits the operation when connected, queueing it
// instead when the channel is unavailable or the write fails.
func (c *Client) submitLocked(kind OpKind, typ protocol.Type, payload any, messageID string) {
	env, err := protocol.NewEnvelope(typ, payload, c.clientID, messageID, c.now())
	if err != nil {
		slog.Error("encoding operation", "kind", kind, "err", err)
		return
	}
	frame, err := env.Encode()
	if err != nil {
		slog.Error("encoding operation", "kind", kind, "err", err)
		return
	}

	if c.state == StateConnected && c.conn != nil {
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err == nil {
			return
		}
		// The channel failed at submission time; the operation joins
		// the queue like any offline mutation.
		c.conn = nil
		c.state = StateDisconnected
	}

	c.queue = append(c.queue, &QueuedOperation{
		MessageID:  messageID,
		Kind:       kind,
		Frame:      frame,
		EnqueuedAt: c.now(),
	})
	c.prunePendingLocked()
}

// nextPositionLocked returns a position after every cached task in the
// column. Cached positions are always valid generated keys, so the
// error path is unreachable in practice.
func (c *Client) nextPositionLocked(column string) string {
	last := ""
	for _, t := range c.cache {
		if t.Column == column && (last == "" || order.Compare(t.Position, last) > 0) {
			last = t.Position
		}
	}
	if last == "" {
		return order.Initial()
	}
	next, err := order.After(last)
	if err != nil {
		return order.Initial()
	}
	return next
}

// positionAtLocked computes the position for landing at index among
// the column's cached tasks, self excluded.
func (c *Client) positionAtLocked(self *task.Task, column string, index int) string {
	siblings := make([]*task.Task, 0)
	for _, t := range c.cache {
		if t.Column == column && t.ID != self.ID {
			siblings = append(siblings, t)
		}
	}
	sort.Slice(siblings, func(i, j int) bool {
		return order.Compare(siblings[i].Position, siblings[j].Position) < 0
	})

	if index < 0 {
		index = 0
	}
	if index > len(siblings) {
		index = len(siblings)
	}
	var lo, hi string
	if index > 0 {
		lo = siblings[index-1].Position
	}
	if index < len(siblings) {
		hi = siblings[index].Position
	}
	pos, err := order.Between(lo, hi)
	if err != nil {
		return c.nextPositionLocked(column)
	}
	return pos
}

// Task returns a copy of the cached record.
func (c *Client) Task(id string) (*task.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.cache[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Tasks returns copies of every cached record, ordered by column and
// position.
func (c *Client) Tasks() []*task.Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*task.Task, 0, len(c.cache))
	for _, t := range c.cache {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Column != out[j].Column {
			return out[i].Column < out[j].Column
		}
		return order.Compare(out[i].Position, out[j].Position) < 0
	})
	return out
}

// ColumnTasks returns copies of the cached records in one column,
// ordered by position.
func (c *Client) ColumnTasks(column string) []*task.Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*task.Task, 0)
	for _, t := range c.cache {
		if t.Column == column {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return order.Compare(out[i].Position, out[j].Position) < 0
	})
	return out
}

// Users returns the presence registry, ordered by client id.
func (c *Client) Users() []protocol.User {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.users))
	for id := range c.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]protocol.User, 0, len(ids))
	for _, id := range ids {
		out = append(out, protocol.User{ClientID: id, Editing: c.users[id]})
	}
	return out
}
