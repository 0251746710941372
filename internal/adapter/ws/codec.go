// Package ws implements the worker transport: a WebSocket message server
// carrying the typed JSON frame protocol between orchestrator and workers.
package ws

import (
	"encoding/json"
	"fmt"
)

// MessageType discriminates the frame envelope.
type MessageType string

// Worker -> orchestrator frame types.
const (
	MsgHello     MessageType = "hello"
	MsgReady     MessageType = "ready"
	MsgStdout    MessageType = "stdout"
	MsgStderr    MessageType = "stderr"
	MsgComplete  MessageType = "complete"
	MsgEvent     MessageType = "event"
	MsgHeartbeat MessageType = "heartbeat"
)

// Orchestrator -> worker frame types.
const (
	MsgAck      MessageType = "ack"
	MsgAssign   MessageType = "assign"
	MsgCancel   MessageType = "cancel"
	MsgShutdown MessageType = "shutdown"
)

// Hello is the first frame a worker must send after connecting.
type Hello struct {
	Type         MessageType `json:"type"`
	WorkerID     string      `json:"workerId"`
	Version      string      `json:"version"`
	Capabilities []string    `json:"capabilities"`
}

// Ready signals the worker can accept an assignment.
type Ready struct {
	Type MessageType `json:"type"`
}

// Stdout carries a chunk of a running execution's standard output.
type Stdout struct {
	Type        MessageType `json:"type"`
	ExecutionID string      `json:"executionId"`
	Chunk       string      `json:"chunk"`
	Timestamp   int64       `json:"timestamp"`
}

// Stderr carries a chunk of a running execution's standard error.
type Stderr struct {
	Type        MessageType `json:"type"`
	ExecutionID string      `json:"executionId"`
	Chunk       string      `json:"chunk"`
	Timestamp   int64       `json:"timestamp"`
}

// Complete reports the terminal state of an execution.
type Complete struct {
	Type         MessageType `json:"type"`
	ExecutionID  string      `json:"executionId"`
	Status       string      `json:"status"` // completed | cancelled | failed | timeout
	ExitCode     int         `json:"exitCode"`
	DurationMs   int64       `json:"durationMs"`
	SessionID    string      `json:"sessionId,omitempty"`
	TotalCostUSD float64     `json:"totalCostUsd,omitempty"`
}

// Event is a persona event detected by the worker in the execution's output.
type Event struct {
	Type        MessageType     `json:"type"`
	ExecutionID string          `json:"executionId"`
	EventType   string          `json:"eventType"` // manual_review | user_message | persona_action | emit_event
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Heartbeat flows in both directions.
type Heartbeat struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp"`
}

// Ack confirms a worker's registration.
type Ack struct {
	Type         MessageType `json:"type"`
	WorkerID     string      `json:"workerId"`
	SessionToken string      `json:"sessionToken"`
}

// AssignConfig carries the per-execution limits the worker enforces.
type AssignConfig struct {
	TimeoutMs      int64 `json:"timeoutMs"`
	MaxOutputBytes int64 `json:"maxOutputBytes"`
}

// Assign hands an execution to a worker.
type Assign struct {
	Type        MessageType       `json:"type"`
	ExecutionID string            `json:"executionId"`
	PersonaID   string            `json:"personaId,omitempty"`
	Prompt      string            `json:"prompt"`
	Env         map[string]string `json:"env"`
	Config      AssignConfig      `json:"config"`
}

// Cancel asks a worker to abort an execution. The authoritative terminal
// state still arrives as a complete frame.
type Cancel struct {
	Type        MessageType `json:"type"`
	ExecutionID string      `json:"executionId"`
}

// Shutdown tells every worker to finish up and disconnect.
type Shutdown struct {
	Type          MessageType `json:"type"`
	Reason        string      `json:"reason"`
	GracePeriodMs int64       `json:"gracePeriodMs"`
}

// Decode parses a frame into its typed message. Unknown discriminants and
// malformed frames return an error; callers drop the frame with a warning.
func Decode(data []byte) (any, error) {
	var probe struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	var (
		msg any
		dst any
	)
	switch probe.Type {
	case MsgHello:
		m := &Hello{}
		msg, dst = m, m
	case MsgReady:
		m := &Ready{}
		msg, dst = m, m
	case MsgStdout:
		m := &Stdout{}
		msg, dst = m, m
	case MsgStderr:
		m := &Stderr{}
		msg, dst = m, m
	case MsgComplete:
		m := &Complete{}
		msg, dst = m, m
	case MsgEvent:
		m := &Event{}
		msg, dst = m, m
	case MsgHeartbeat:
		m := &Heartbeat{}
		msg, dst = m, m
	case MsgAck:
		m := &Ack{}
		msg, dst = m, m
	case MsgAssign:
		m := &Assign{}
		msg, dst = m, m
	case MsgCancel:
		m := &Cancel{}
		msg, dst = m, m
	case MsgShutdown:
		m := &Shutdown{}
		msg, dst = m, m
	default:
		return nil, fmt.Errorf("unknown message type %q", probe.Type)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return nil, fmt.Errorf("decode %s frame: %w", probe.Type, err)
	}
	return msg, nil
}

// Encode serializes a typed message to a frame. The message's Type field must
// already be set by the caller; Encode does not fill it in.
func Encode(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}
