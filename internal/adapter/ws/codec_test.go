package ws

import (
	"testing"
)

func TestDecodeWorkerFrames(t *testing.T) {
	tests := []struct {
		name string
		data string
		want MessageType
	}{
		{"hello", `{"type":"hello","workerId":"w1","version":"1.2.0","capabilities":["bash"]}`, MsgHello},
		{"ready", `{"type":"ready"}`, MsgReady},
		{"stdout", `{"type":"stdout","executionId":"e1","chunk":"hi","timestamp":123}`, MsgStdout},
		{"stderr", `{"type":"stderr","executionId":"e1","chunk":"oops","timestamp":123}`, MsgStderr},
		{"complete", `{"type":"complete","executionId":"e1","status":"completed","exitCode":0,"durationMs":42}`, MsgComplete},
		{"event", `{"type":"event","executionId":"e1","eventType":"user_message","payload":{"message":"hi"}}`, MsgEvent},
		{"heartbeat", `{"type":"heartbeat","timestamp":123}`, MsgHeartbeat},
	}

	for _, tt := range tests {
		msg, err := Decode([]byte(tt.data))
		if err != nil {
			t.Errorf("%s: decode failed: %v", tt.name, err)
			continue
		}
		var got MessageType
		switch m := msg.(type) {
		case *Hello:
			got = m.Type
			if m.WorkerID != "w1" || m.Version != "1.2.0" || len(m.Capabilities) != 1 {
				t.Errorf("hello fields not decoded: %+v", m)
			}
		case *Ready:
			got = m.Type
		case *Stdout:
			got = m.Type
			if m.ExecutionID != "e1" || m.Chunk != "hi" {
				t.Errorf("stdout fields not decoded: %+v", m)
			}
		case *Stderr:
			got = m.Type
		case *Complete:
			got = m.Type
			if m.Status != "completed" || m.DurationMs != 42 {
				t.Errorf("complete fields not decoded: %+v", m)
			}
		case *Event:
			got = m.Type
			if m.EventType != "user_message" {
				t.Errorf("event fields not decoded: %+v", m)
			}
		case *Heartbeat:
			got = m.Type
		}
		if got != tt.want {
			t.Errorf("%s: got type %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	if _, err := Decode([]byte(`{"type":"mystery"}`)); err == nil {
		t.Fatal("expected error for unknown message type")
	}
}

func TestDecodeRejectsMalformedFrame(t *testing.T) {
	if _, err := Decode([]byte(`not json at all`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}

func TestEncodeDecodeAssignRoundTrip(t *testing.T) {
	in := &Assign{
		Type:        MsgAssign,
		ExecutionID: "e1",
		PersonaID:   "p1",
		Prompt:      "do the thing",
		Env:         map[string]string{"CLAUDE_CODE_OAUTH_TOKEN": "tok"},
		Config:      AssignConfig{TimeoutMs: 300000, MaxOutputBytes: 10 << 20},
	}

	data, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	out, ok := msg.(*Assign)
	if !ok {
		t.Fatalf("expected *Assign, got %T", msg)
	}
	if out.ExecutionID != in.ExecutionID || out.Prompt != in.Prompt {
		t.Fatalf("round trip mismatch: %+v", out)
	}
	if out.Config.TimeoutMs != 300000 || out.Config.MaxOutputBytes != 10<<20 {
		t.Fatalf("config not preserved: %+v", out.Config)
	}
	if out.Env["CLAUDE_CODE_OAUTH_TOKEN"] != "tok" {
		t.Fatalf("env not preserved: %+v", out.Env)
	}
}
