package protocol

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tandem/internal/task"
)

// Frame layout is a compatibility contract with browser clients; these
// goldens pin the exact bytes for each server-to-client payload shape.
//
// To regenerate golden files, run:
//
//	go test ./internal/protocol -update

var goldenAt = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func goldenTask(id, title, column, position string, version int64) *task.Task {
	return &task.Task{
		ID:        id,
		Title:     title,
		Column:    column,
		Position:  position,
		Version:   version,
		CreatedAt: goldenAt,
		UpdatedAt: goldenAt,
	}
}

func TestGoldenFrames(t *testing.T) {
	tests := []struct {
		name      string
		typ       Type
		payload   any
		clientID  string
		messageID string
	}{
		{
			name: "sync_full",
			typ:  TypeSyncFull,
			payload: SyncFullPayload{
				ClientID: "client-1",
				Tasks: []*task.Task{
					goldenTask("task-1", "Write the launch checklist", "todo", "V", 1),
					goldenTask("task-2", "Review open pull requests", "in_progress", "V", 3),
				},
				Users: []User{
					{ClientID: "client-1"},
					{ClientID: "client-2", Editing: "task-2"},
				},
			},
		},
		{
			name:      "sync_ack",
			typ:       TypeSyncAck,
			messageID: "msg-3",
			payload: AckPayload{
				MessageID: "msg-3",
				Record:    goldenTask("task-1", "Write the launch checklist", "todo", "V", 2),
			},
		},
		{
			name:      "conflict_notification",
			typ:       TypeConflict,
			messageID: "msg-7",
			payload: ConflictPayload{
				MessageID: "msg-7",
				Conflict: Conflict{
					Type:          "version_mismatch",
					Message:       `task was changed by someone else and is now at version 4 in column "done"`,
					CurrentRecord: goldenTask("task-9", "Fix the flaky pipeline", "done", "W", 4),
				},
			},
		},
		{
			name:     "task_delete_broadcast",
			typ:      TypeTaskDelete,
			clientID: "client-2",
			payload:  DeletedPayload{ID: "task-4"},
		},
		{
			name: "presence_update",
			typ:  TypePresenceUpdate,
			payload: PresencePayload{
				Users: []User{
					{ClientID: "client-1", Editing: "task-1"},
					{ClientID: "client-2"},
				},
			},
		},
		{
			name:    "user_join",
			typ:     TypeUserJoin,
			payload: UserPayload{ClientID: "client-3"},
		},
		{
			name: "error_reply",
			typ:  TypeError,
			payload: ErrorPayload{
				Message: `invalid column: "archived" is not one of todo, in_progress, done`,
			},
		},
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := NewEnvelope(tt.typ, tt.payload, tt.clientID, tt.messageID, goldenAt)
			require.NoError(t, err)

			data, err := env.Encode()
			require.NoError(t, err)

			var pretty bytes.Buffer
			require.NoError(t, json.Indent(&pretty, data, "", "  "))
			pretty.WriteByte('\n')

			g.Assert(t, tt.name, pretty.Bytes())
		})
	}
}
