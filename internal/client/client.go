// Package client implements the board client: a local task cache kept
// in sync over WebSocket, an offline FIFO queue, and the reconcile
// logic that replays queued work after a reconnect.
//
// Mutations apply to the local cache immediately. While connected they
// are also transmitted; while offline they queue in submission order.
// Every submission leaves a pending record behind (correlation id plus
// a pre-mutation snapshot) so the eventual acknowledgement, conflict,
// or connection loss can be reconciled uniformly.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"

	"github.com/roach88/tandem/internal/protocol"
	"github.com/roach88/tandem/internal/task"
)

// State is the connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateReconnecting State = "reconnecting"
	StateConnected    State = "connected"
)

// OpKind names a mutating operation.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpMove   OpKind = "move"
	OpDelete OpKind = "delete"
)

// QueuedOperation is a mutation captured while offline, replayed
// verbatim on reconnect. Frame is the encoded envelope from submission
// time; replaying it unmodified preserves the version the caller saw
// when the operation was issued.
type QueuedOperation struct {
	MessageID  string
	Kind       OpKind
	Frame      []byte
	EnqueuedAt time.Time
	Retries    int
}

// PendingOperation tracks one in-flight mutation until its outcome
// arrives. Snapshot is the record as it was before the optimistic
// apply; nil for creates, which have nothing to restore.
type PendingOperation struct {
	MessageID string
	Kind      OpKind
	TaskID    string
	Snapshot  *task.Task
}

// ConflictHandler is invoked when the server rejects an operation in
// favor of a concurrent one.
type ConflictHandler func(op PendingOperation, conflict protocol.Conflict)

// ErrorHandler is invoked for error replies addressed to a submitted
// operation.
type ErrorHandler func(messageID, message string)

// DisconnectHandler is invoked when an established connection fails.
type DisconnectHandler func(err error)

// Option configures a Client.
type Option func(*Client)

// WithBackoff sets the reconnect backoff: delays start at initial and
// double per attempt up to max.
func WithBackoff(initial, max time.Duration) Option {
	return func(c *Client) {
		c.initialDelay = initial
		c.maxDelay = max
	}
}

// WithIDGenerator sets the correlation id generator.
func WithIDGenerator(g task.IDGenerator) Option {
	return func(c *Client) {
		c.ids = g
	}
}

// WithConflictHandler registers a conflict callback.
func WithConflictHandler(h ConflictHandler) Option {
	return func(c *Client) {
		c.onConflict = h
	}
}

// WithErrorHandler registers an error-reply callback.
func WithErrorHandler(h ErrorHandler) Option {
	return func(c *Client) {
		c.onError = h
	}
}

// WithDisconnectHandler registers a connection-loss callback.
func WithDisconnectHandler(h DisconnectHandler) Option {
	return func(c *Client) {
		c.onDisconnect = h
	}
}

// Client is a single board participant.
//
// Thread-safety: all exported methods are safe for concurrent use. The
// cache, queue, and pending set are guarded by one mutex; callbacks
// run outside it.
type Client struct {
	url      string
	clientID string
	ids      task.IDGenerator
	now      func() time.Time

	initialDelay time.Duration
	maxDelay     time.Duration

	onConflict   ConflictHandler
	onError      ErrorHandler
	onDisconnect DisconnectHandler

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	cache   map[string]*task.Task
	users   map[string]string
	queue   []*QueuedOperation
	pending map[string]*PendingOperation
}

// New creates a client for the WebSocket endpoint at url (for example
// "ws://localhost:8080/ws"). clientID is this participant's stable
// identity; it survives reconnects so the server can correlate them.
func New(url, clientID string, opts ...Option) *Client {
	c := &Client{
		url:          url,
		clientID:     clientID,
		ids:          task.UUIDv7Generator{},
		now:          func() time.Time { return time.Now().UTC() },
		initialDelay: 500 * time.Millisecond,
		maxDelay:     30 * time.Second,
		state:        StateDisconnected,
		cache:        make(map[string]*task.Task),
		users:        make(map[string]string),
		pending:      make(map[string]*PendingOperation),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect makes a single connection attempt: dial, apply the snapshot,
// start the read loop, and replay anything queued while offline.
func (c *Client) Connect(ctx context.Context) error {
	return c.connect(ctx)
}

// Reconnect re-establishes the connection with exponential backoff,
// then resynchronizes: the fresh snapshot replaces the local cache
// unconditionally and the offline queue is drained in enqueue order.
func (c *Client) Reconnect(ctx context.Context) error {
	c.setState(StateReconnecting)

	b := retry.WithCappedDuration(c.maxDelay, retry.NewExponential(c.initialDelay))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		if err := c.connect(ctx); err != nil {
			slog.Debug("reconnect attempt failed", "client", c.clientID, "err", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("reconnecting: %w", err)
	}
	return nil
}

// connect dials, performs the sync handshake, and starts the read
// loop. The first frame after connecting is always the full snapshot.
func (c *Client) connect(ctx context.Context) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.url+"?clientId="+c.clientID, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", c.url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	if err := conn.SetReadDeadline(time.Now().Add(10 * time.Second)); err != nil {
		conn.Close()
		return err
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return fmt.Errorf("awaiting snapshot: %w", err)
	}
	env, err := protocol.Decode(data)
	if err != nil || env.Type != protocol.TypeSyncFull {
		conn.Close()
		return fmt.Errorf("expected %s as first frame", protocol.TypeSyncFull)
	}
	var snap protocol.SyncFullPayload
	if err := env.Into(&snap); err != nil {
		conn.Close()
		return fmt.Errorf("decoding snapshot: %w", err)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.applySnapshotLocked(&snap)
	c.mu.Unlock()

	go c.readLoop(conn)

	if err := c.drainQueue(conn); err != nil {
		slog.Debug("queue drain interrupted", "client", c.clientID, "err", err)
	}
	return nil
}

// Close tears the connection down without touching the queue or the
// cache. Safe to call when already disconnected.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		return conn.Close()
	}
	return nil
}

// State returns the connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// readLoop pumps server frames until the connection dies.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			stale := c.conn != conn
			if !stale {
				c.conn = nil
				c.state = StateDisconnected
				c.prunePendingLocked()
			}
			cb := c.onDisconnect
			c.mu.Unlock()

			if !stale {
				slog.Debug("connection lost", "client", c.clientID, "err", err)
				if cb != nil {
					cb(err)
				}
			}
			return
		}
		c.handleFrame(data)
	}
}

// drainQueue replays queued operations in enqueue order, transmitting
// each captured frame unmodified. Operations stay queued until their
// ack or conflict arrives; a transmit failure aborts the drain and
// leaves the rest for the next reconnect.
func (c *Client) drainQueue(conn *websocket.Conn) error {
	c.mu.Lock()
	ops := append([]*QueuedOperation(nil), c.queue...)
	c.mu.Unlock()

	for _, op := range ops {
		c.mu.Lock()
		if !c.queuedLocked(op.MessageID) {
			c.mu.Unlock()
			continue
		}
		op.Retries++
		err := conn.WriteMessage(websocket.TextMessage, op.Frame)
		c.mu.Unlock()
		if err != nil {
			return fmt.Errorf("replaying %s: %w", op.MessageID, err)
		}
		slog.Debug("replayed queued operation", "client", c.clientID, "messageId", op.MessageID, "kind", op.Kind)
	}
	return nil
}

func (c *Client) queuedLocked(messageID string) bool {
	for _, op := range c.queue {
		if op.MessageID == messageID {
			return true
		}
	}
	return false
}

func (c *Client) dequeueLocked(messageID string) {
	for i, op := range c.queue {
		if op.MessageID == messageID {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return
		}
	}
}

// prunePendingLocked drops pending records for operations that were
// transmitted but never answered. Their outcome is unknowable; the
// snapshot received on reconnect is authoritative either way. Queued
// operations keep their pending records for replay reconciliation.
func (c *Client) prunePendingLocked() {
	for id := range c.pending {
		if !c.queuedLocked(id) {
			delete(c.pending, id)
		}
	}
}

// Queue returns a copy of the offline queue in enqueue order.
func (c *Client) Queue() []QueuedOperation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]QueuedOperation, 0, len(c.queue))
	for _, op := range c.queue {
		out = append(out, *op)
	}
	return out
}

// Pending returns the number of operations awaiting an outcome.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
