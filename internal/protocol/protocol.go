// Package protocol defines the websocket wire format: a typed envelope
// around a per-type JSON payload.
//
// Every frame in either direction is one Envelope. Decoding is
// two-phase: Decode parses the envelope and leaves Payload raw, then
// the dispatcher unmarshals the payload into the struct for the type.
// Unparseable frames surface ErrMalformed so transport errors can be
// answered without tearing the connection down.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/tandem/internal/task"
)

// Type discriminates envelope payloads.
type Type string

const (
	// Bidirectional: commands from clients, deltas to clients.
	TypeTaskCreate Type = "task:create"
	TypeTaskUpdate Type = "task:update"
	TypeTaskMove   Type = "task:move"
	TypeTaskDelete Type = "task:delete"

	// Client to server only.
	TypePresenceEditing Type = "presence:editing"

	// Server to client only.
	TypeSyncFull       Type = "sync:full"
	TypeSyncAck        Type = "sync:ack"
	TypeConflict       Type = "conflict:notification"
	TypePresenceUpdate Type = "presence:update"
	TypeUserJoin       Type = "user:join"
	TypeUserLeave      Type = "user:leave"
	TypeError          Type = "error"
)

// ErrMalformed reports a frame that does not parse as an envelope or
// whose payload does not parse for its type.
var ErrMalformed = errors.New("protocol: malformed frame")

// Envelope frames every message in both directions.
//
// ClientID tags the originating client on commands and the origin of a
// delta on broadcasts. MessageID correlates a command with its ack or
// conflict. Timestamp is unix milliseconds at send time.
type Envelope struct {
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	ClientID  string          `json:"clientId,omitempty"`
	Timestamp int64           `json:"timestamp"`
	MessageID string          `json:"messageId,omitempty"`
}

// NewEnvelope frames payload for the wire, stamping the given send time.
func NewEnvelope(typ Type, payload any, clientID, messageID string, at time.Time) (*Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return &Envelope{
		Type:      typ,
		Payload:   body,
		ClientID:  clientID,
		Timestamp: at.UnixMilli(),
		MessageID: messageID,
	}, nil
}

// Encode serializes the envelope to one wire frame.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", e.Type, err)
	}
	return data, nil
}

// Decode parses one wire frame into an envelope, leaving the payload raw.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return &env, nil
}

// Into unmarshals the envelope payload into v.
func (e *Envelope) Into(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: %s payload missing", ErrMalformed, e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, e.Type, err)
	}
	return nil
}

// CreatePayload is the task:create command body.
type CreatePayload struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Column      string `json:"column"`
}

// UpdatePayload is the task:update command body. Nil fields are left
// unchanged.
type UpdatePayload struct {
	ID          string  `json:"id"`
	Version     int64   `json:"version"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

// MovePayload is the task:move command body. Index is the target slot
// in the destination column.
type MovePayload struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`
	Column  string `json:"column"`
	Index   int    `json:"index"`
}

// DeletePayload is the task:delete command body.
type DeletePayload struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`
}

// DeletedPayload is the task:delete delta broadcast body. Deltas for
// create/update/move carry the full task.Task record instead.
type DeletedPayload struct {
	ID string `json:"id"`
}

// EditingPayload is the presence:editing command body. An empty or null
// taskId clears the sender's editing marker.
type EditingPayload struct {
	TaskID string `json:"taskId,omitempty"`
}

// User describes one active connection in presence payloads.
type User struct {
	ClientID string `json:"clientId"`
	Editing  string `json:"editing,omitempty"`
}

// SyncFullPayload is the authoritative snapshot pushed on connect.
// Tasks are ordered by (column, position).
type SyncFullPayload struct {
	ClientID string       `json:"clientId"`
	Tasks    []*task.Task `json:"tasks"`
	Users    []User       `json:"users"`
}

// AckPayload confirms a committed mutation to its origin. Record is the
// resulting task; deletes carry no record.
type AckPayload struct {
	MessageID string     `json:"messageId"`
	Record    *task.Task `json:"record,omitempty"`
}

// Conflict describes a rejected mutation.
type Conflict struct {
	Type          string     `json:"type"`
	Message       string     `json:"message"`
	CurrentRecord *task.Task `json:"currentRecord,omitempty"`
}

// ConflictPayload is the conflict:notification body, sent to the
// origin only.
type ConflictPayload struct {
	MessageID string   `json:"messageId"`
	Conflict  Conflict `json:"conflict"`
}

// PresencePayload is the presence:update body: the full user registry.
type PresencePayload struct {
	Users []User `json:"users"`
}

// UserPayload is the user:join and user:leave body.
type UserPayload struct {
	ClientID string `json:"clientId"`
}

// ErrorPayload is the error reply body. MessageID is set when the
// failing command could be parsed far enough to correlate.
type ErrorPayload struct {
	Message   string `json:"message"`
	MessageID string `json:"messageId,omitempty"`
}
