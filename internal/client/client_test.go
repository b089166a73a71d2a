package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tandem/internal/protocol"
	"github.com/roach88/tandem/internal/task"
	"github.com/roach88/tandem/internal/testutil"
)

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	base := []Option{WithIDGenerator(testutil.NewSequenceGenerator("msg"))}
	return New("ws://unreachable.invalid/ws", "client-a", append(base, opts...)...)
}

func frame(t *testing.T, typ protocol.Type, payload any, messageID string) []byte {
	t.Helper()
	env, err := protocol.NewEnvelope(typ, payload, "", messageID, time.Now().UTC())
	require.NoError(t, err)
	data, err := env.Encode()
	require.NoError(t, err)
	return data
}

func serverTask(id, title, column, position string, version int64) *task.Task {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &task.Task{
		ID: id, Title: title, Column: column, Position: position,
		Version: version, CreatedAt: at, UpdatedAt: at,
	}
}

func seedSnapshot(t *testing.T, c *Client, tasks ...*task.Task) {
	t.Helper()
	c.handleFrame(frame(t, protocol.TypeSyncFull, protocol.SyncFullPayload{
		ClientID: c.clientID,
		Tasks:    tasks,
		Users:    []protocol.User{{ClientID: c.clientID}},
	}, ""))
}

func TestNewClient_StartsDisconnected(t *testing.T) {
	c := newTestClient(t)
	assert.Equal(t, StateDisconnected, c.State())
	assert.Empty(t, c.Queue())
	assert.Zero(t, c.Pending())
}

func TestCreateTask_OfflineQueuesInOrder(t *testing.T) {
	c := newTestClient(t)

	first := c.CreateTask("First", "", "todo")
	second := c.CreateTask("Second", "", "todo")
	assert.Equal(t, "msg-1", first)
	assert.Equal(t, "msg-2", second)

	queue := c.Queue()
	require.Len(t, queue, 2)
	assert.Equal(t, "msg-1", queue[0].MessageID)
	assert.Equal(t, "msg-2", queue[1].MessageID)
	assert.Equal(t, OpCreate, queue[0].Kind)
	assert.NotEmpty(t, queue[0].Frame)
	assert.Equal(t, 2, c.Pending())

	// The local view already shows both, in submission order.
	todo := c.ColumnTasks("todo")
	require.Len(t, todo, 2)
	assert.Equal(t, "pending-msg-1", todo[0].ID)
	assert.Equal(t, "First", todo[0].Title)
	assert.Equal(t, "pending-msg-2", todo[1].ID)
	assert.Equal(t, int64(1), todo[0].Version)
}

func TestUpdateTask_OptimisticApplyKeepsSnapshot(t *testing.T) {
	c := newTestClient(t)
	seedSnapshot(t, c, serverTask("task-1", "Original", "todo", "V", 1))

	title := "Changed"
	msgID, err := c.UpdateTask("task-1", &title, nil)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", msgID)

	got, ok := c.Task("task-1")
	require.True(t, ok)
	assert.Equal(t, "Changed", got.Title)
	assert.Equal(t, int64(2), got.Version)

	c.mu.Lock()
	op := c.pending["msg-1"]
	c.mu.Unlock()
	require.NotNil(t, op)
	assert.Equal(t, OpUpdate, op.Kind)
	require.NotNil(t, op.Snapshot)
	assert.Equal(t, "Original", op.Snapshot.Title)
	assert.Equal(t, int64(1), op.Snapshot.Version)
}

func TestUpdateTask_Validation(t *testing.T) {
	c := newTestClient(t)

	_, err := c.UpdateTask("task-1", nil, nil)
	assert.True(t, task.IsValidation(err))

	title := "New"
	_, err = c.UpdateTask("missing", &title, nil)
	assert.True(t, task.IsNotFound(err))
}

func TestMoveTask_RecomputesLocalPosition(t *testing.T) {
	c := newTestClient(t)
	seedSnapshot(t, c,
		serverTask("task-1", "a", "todo", "V", 1),
		serverTask("task-2", "b", "todo", "W", 1),
		serverTask("task-3", "x", "done", "V", 1),
	)

	// Land at the head of todo: the moved task must sort before task-1.
	_, err := c.MoveTask("task-3", "todo", 0)
	require.NoError(t, err)

	todo := c.ColumnTasks("todo")
	require.Len(t, todo, 3)
	assert.Equal(t, "task-3", todo[0].ID)
	assert.Equal(t, int64(2), todo[0].Version)
	assert.Empty(t, c.ColumnTasks("done"))
}

func TestDeleteTask_RemovesLocally(t *testing.T) {
	c := newTestClient(t)
	seedSnapshot(t, c, serverTask("task-1", "Doomed", "todo", "V", 3))

	msgID, err := c.DeleteTask("task-1")
	require.NoError(t, err)

	_, ok := c.Task("task-1")
	assert.False(t, ok)

	c.mu.Lock()
	op := c.pending[msgID]
	c.mu.Unlock()
	require.NotNil(t, op)
	assert.Equal(t, OpDelete, op.Kind)
	assert.Equal(t, int64(3), op.Snapshot.Version)
}

func TestAck_SwapsProvisionalForServerRecord(t *testing.T) {
	c := newTestClient(t)
	msgID := c.CreateTask("First", "", "todo")

	c.handleFrame(frame(t, protocol.TypeSyncAck, protocol.AckPayload{
		MessageID: msgID,
		Record:    serverTask("task-9", "First", "todo", "V", 1),
	}, msgID))

	_, ok := c.Task("pending-" + msgID)
	assert.False(t, ok)
	got, ok := c.Task("task-9")
	require.True(t, ok)
	assert.Equal(t, "First", got.Title)
	assert.Empty(t, c.Queue())
	assert.Zero(t, c.Pending())
}

func TestAck_DuplicateDeliveryIsIdempotent(t *testing.T) {
	c := newTestClient(t)
	msgID := c.CreateTask("First", "", "todo")

	ack := frame(t, protocol.TypeSyncAck, protocol.AckPayload{
		MessageID: msgID,
		Record:    serverTask("task-9", "First", "todo", "V", 1),
	}, msgID)
	c.handleFrame(ack)

	before := c.Tasks()
	c.handleFrame(ack)

	assert.Equal(t, before, c.Tasks())
	assert.Zero(t, c.Pending())
	assert.Empty(t, c.Queue())
}

func TestAck_SettlesDelete(t *testing.T) {
	c := newTestClient(t)
	seedSnapshot(t, c, serverTask("task-1", "Doomed", "todo", "V", 1))
	msgID, err := c.DeleteTask("task-1")
	require.NoError(t, err)

	c.handleFrame(frame(t, protocol.TypeSyncAck, protocol.AckPayload{
		MessageID: msgID,
		Record:    serverTask("task-1", "Doomed", "todo", "V", 1),
	}, msgID))

	_, ok := c.Task("task-1")
	assert.False(t, ok)
	assert.Zero(t, c.Pending())
}

func TestConflict_RestoresThenOverlaysAuthoritative(t *testing.T) {
	var gotOp PendingOperation
	var gotConflict protocol.Conflict
	c := newTestClient(t, WithConflictHandler(func(op PendingOperation, conflict protocol.Conflict) {
		gotOp = op
		gotConflict = conflict
	}))
	seedSnapshot(t, c, serverTask("task-1", "Original", "todo", "V", 1))

	title := "Mine"
	msgID, err := c.UpdateTask("task-1", &title, nil)
	require.NoError(t, err)

	c.handleFrame(frame(t, protocol.TypeConflict, protocol.ConflictPayload{
		MessageID: msgID,
		Conflict: protocol.Conflict{
			Type:          "version_mismatch",
			Message:       `task was changed by someone else and is now at version 3 in column "done"`,
			CurrentRecord: serverTask("task-1", "Theirs", "done", "W", 3),
		},
	}, msgID))

	got, ok := c.Task("task-1")
	require.True(t, ok)
	assert.Equal(t, "Theirs", got.Title)
	assert.Equal(t, "done", got.Column)
	assert.Equal(t, int64(3), got.Version)

	assert.Zero(t, c.Pending())
	assert.Empty(t, c.Queue())
	assert.Equal(t, msgID, gotOp.MessageID)
	assert.Equal(t, OpUpdate, gotOp.Kind)
	assert.Equal(t, "version_mismatch", gotConflict.Type)
}

func TestConflict_DeleteRestoresRecord(t *testing.T) {
	c := newTestClient(t)
	seedSnapshot(t, c, serverTask("task-1", "Kept", "todo", "V", 1))

	msgID, err := c.DeleteTask("task-1")
	require.NoError(t, err)
	_, ok := c.Task("task-1")
	require.False(t, ok)

	c.handleFrame(frame(t, protocol.TypeConflict, protocol.ConflictPayload{
		MessageID: msgID,
		Conflict: protocol.Conflict{
			Type:          "version_mismatch",
			Message:       `task was changed by someone else and is now at version 2 in column "todo"`,
			CurrentRecord: serverTask("task-1", "Kept and edited", "todo", "V", 2),
		},
	}, msgID))

	got, ok := c.Task("task-1")
	require.True(t, ok)
	assert.Equal(t, "Kept and edited", got.Title)
	assert.Equal(t, int64(2), got.Version)
}

func TestErrorReply_RollsBackWithoutAuthoritativeRecord(t *testing.T) {
	var gotID, gotMsg string
	c := newTestClient(t, WithErrorHandler(func(messageID, message string) {
		gotID = messageID
		gotMsg = message
	}))
	seedSnapshot(t, c, serverTask("task-1", "Original", "todo", "V", 1))

	title := "Mine"
	msgID, err := c.UpdateTask("task-1", &title, nil)
	require.NoError(t, err)

	c.handleFrame(frame(t, protocol.TypeError, protocol.ErrorPayload{
		Message:   "operation failed",
		MessageID: msgID,
	}, msgID))

	got, ok := c.Task("task-1")
	require.True(t, ok)
	assert.Equal(t, "Original", got.Title)
	assert.Equal(t, int64(1), got.Version)
	assert.Zero(t, c.Pending())
	assert.Equal(t, msgID, gotID)
	assert.Equal(t, "operation failed", gotMsg)
}

func TestDeltas_FromOtherClients(t *testing.T) {
	c := newTestClient(t)
	seedSnapshot(t, c)

	c.handleFrame(frame(t, protocol.TypeTaskCreate, serverTask("task-1", "Theirs", "todo", "V", 1), ""))
	got, ok := c.Task("task-1")
	require.True(t, ok)
	assert.Equal(t, "Theirs", got.Title)

	c.handleFrame(frame(t, protocol.TypeTaskMove, serverTask("task-1", "Theirs", "done", "V", 2), ""))
	got, _ = c.Task("task-1")
	assert.Equal(t, "done", got.Column)

	c.handleFrame(frame(t, protocol.TypeTaskDelete, protocol.DeletedPayload{ID: "task-1"}, ""))
	_, ok = c.Task("task-1")
	assert.False(t, ok)
}

func TestPresence_TracksRegistry(t *testing.T) {
	c := newTestClient(t)
	seedSnapshot(t, c)

	c.handleFrame(frame(t, protocol.TypeUserJoin, protocol.UserPayload{ClientID: "client-b"}, ""))
	c.handleFrame(frame(t, protocol.TypePresenceUpdate, protocol.PresencePayload{
		Users: []protocol.User{
			{ClientID: "client-a"},
			{ClientID: "client-b", Editing: "task-2"},
		},
	}, ""))

	users := c.Users()
	require.Len(t, users, 2)
	assert.Equal(t, "task-2", users[1].Editing)

	c.handleFrame(frame(t, protocol.TypeUserLeave, protocol.UserPayload{ClientID: "client-b"}, ""))
	users = c.Users()
	require.Len(t, users, 1)
	assert.Equal(t, "client-a", users[0].ClientID)
}

func TestMalformedServerFrame_Ignored(t *testing.T) {
	c := newTestClient(t)
	seedSnapshot(t, c, serverTask("task-1", "Kept", "todo", "V", 1))

	c.handleFrame([]byte("{broken"))

	got, ok := c.Task("task-1")
	require.True(t, ok)
	assert.Equal(t, "Kept", got.Title)
}
