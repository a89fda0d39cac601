package protocol

import (
	"encoding/json"
	"testing"
)

func testSource() Source {
	return Source{
		Service:  "spearsim",
		Instance: "spear-01",
		Version:  "1.0.0",
	}
}

func TestNewEnvelope(t *testing.T) {
	src := testSource()
	env := NewEnvelope(src, TypeServiceHeartbeat)

	if !uuidV4Pattern.MatchString(env.ID) {
		t.Errorf("NewEnvelope ID is not valid UUIDv4: %q", env.ID)
	}
	if env.Timestamp <= 0 {
		t.Errorf("NewEnvelope Timestamp should be positive, got %d", env.Timestamp)
	}
	if env.SchemaVersion != SchemaVersion {
		t.Errorf("NewEnvelope SchemaVersion = %q, want %q", env.SchemaVersion, SchemaVersion)
	}
	if env.Type != TypeServiceHeartbeat {
		t.Errorf("NewEnvelope Type = %q, want %q", env.Type, TypeServiceHeartbeat)
	}
	if env.Source.Service != src.Service {
		t.Errorf("NewEnvelope Source.Service = %q, want %q", env.Source.Service, src.Service)
	}
}

func TestNewMessageRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		msgType string
		payload interface{}
	}{
		{
			name:    "heartbeat",
			msgType: TypeServiceHeartbeat,
			payload: HeartbeatPayload{
				Status:         "running",
				UptimeSeconds:  3600,
				MachineMode:    "Beam",
				BeamCurrentAvg: 498.2,
				Ticks:          3600000,
				Variables:      []string{"beamCurrentAvg", "machineMode"},
			},
		},
		{
			name:    "write_request",
			msgType: TypePVWriteRequest,
			payload: WriteRequestPayload{
				Name:  "beamCurrentDesired",
				Value: "480",
			},
		},
		{
			name:    "fault",
			msgType: TypeSystemFault,
			payload: FaultPayload{
				Mode:      "Down",
				PriorMode: "Beam",
				Reason:    "random fault",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewMessage(testSource(), tt.msgType, tt.payload)
			if err != nil {
				t.Fatalf("NewMessage() error: %v", err)
			}

			data, err := json.Marshal(msg)
			if err != nil {
				t.Fatalf("json.Marshal() error: %v", err)
			}

			parsed, err := Parse(data)
			if err != nil {
				t.Fatalf("Parse() error: %v", err)
			}

			if parsed.Envelope.Type != tt.msgType {
				t.Errorf("round-trip Type = %q, want %q", parsed.Envelope.Type, tt.msgType)
			}
			if parsed.Envelope.ID != msg.Envelope.ID {
				t.Errorf("round-trip ID = %q, want %q", parsed.Envelope.ID, msg.Envelope.ID)
			}
			if parsed.Envelope.SchemaVersion != SchemaVersion {
				t.Errorf("round-trip SchemaVersion = %q, want %q", parsed.Envelope.SchemaVersion, SchemaVersion)
			}
		})
	}
}

func TestNewRequestCorrelation(t *testing.T) {
	replyTo := ResponseChannel("spearsim_ctl", "ctl-01")
	msg, err := NewRequest(testSource(), TypePVReadRequest, replyTo, ReadRequestPayload{Name: "beamCurrentAvg"})
	if err != nil {
		t.Fatalf("NewRequest() error: %v", err)
	}

	if !uuidV4Pattern.MatchString(msg.Envelope.CorrelationID) {
		t.Errorf("CorrelationID is not valid UUIDv4: %q", msg.Envelope.CorrelationID)
	}
	if msg.Envelope.ReplyTo != "responses:spearsim_ctl:ctl-01" {
		t.Errorf("ReplyTo = %q, want %q", msg.Envelope.ReplyTo, "responses:spearsim_ctl:ctl-01")
	}
	if err := Validate(msg); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestNewResponseCorrelation(t *testing.T) {
	req, err := NewRequest(testSource(), TypePVReadRequest, "responses:spearsim_ctl:ctl-01",
		ReadRequestPayload{Name: "beamCurrentAvg"})
	if err != nil {
		t.Fatalf("NewRequest() error: %v", err)
	}

	val := "498.2"
	resp, err := NewResponse(testSource(), TypePVReadResponse, req,
		ReadResponsePayload{Name: "beamCurrentAvg", Value: &val})
	if err != nil {
		t.Fatalf("NewResponse() error: %v", err)
	}

	if resp.Envelope.CorrelationID != req.Envelope.CorrelationID {
		t.Errorf("CorrelationID = %q, want %q", resp.Envelope.CorrelationID, req.Envelope.CorrelationID)
	}
	if err := Validate(resp); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestChannelNames(t *testing.T) {
	if got := RequestChannel("spear-01"); got != "pv:spear-01" {
		t.Errorf("RequestChannel = %q, want %q", got, "pv:spear-01")
	}
	if got := ResponseChannel("spearsim_monitor", "mon-01"); got != "responses:spearsim_monitor:mon-01" {
		t.Errorf("ResponseChannel = %q, want %q", got, "responses:spearsim_monitor:mon-01")
	}
}

func TestParseInvalidJSON(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"not_json", "this is not json"},
		{"incomplete", `{"envelope":`},
		{"wrong_type", `[]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if err == nil {
				t.Error("Parse() expected error, got nil")
			}
		})
	}
}

func TestTypedPayloadParsers(t *testing.T) {
	t.Run("read_response", func(t *testing.T) {
		raw := `{
			"envelope": {
				"id": "550e8400-e29b-41d4-a716-446655440000",
				"timestamp": 1771329600,
				"source": {"service": "spearsim", "instance": "spear-01", "version": "1.0.0"},
				"schema_version": "v1.0.0",
				"type": "pv.read.response",
				"correlation_id": "7c9e6679-7425-40de-944b-e07fc1f90ae7"
			},
			"payload": {"name": "beamCurrentAvg", "value": "498.2", "unit": "mA"}
		}`
		msg, err := Parse([]byte(raw))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		p, err := ParseReadResponse(msg)
		if err != nil {
			t.Fatalf("ParseReadResponse: %v", err)
		}
		if p.Name != "beamCurrentAvg" {
			t.Errorf("Name = %q, want %q", p.Name, "beamCurrentAvg")
		}
		if p.Value == nil || *p.Value != "498.2" {
			t.Errorf("Value = %v, want \"498.2\"", p.Value)
		}
		if p.Unit != "mA" {
			t.Errorf("Unit = %q, want %q", p.Unit, "mA")
		}
		if p.Error != nil {
			t.Error("Error should be nil on success")
		}
	})

	t.Run("write_response_error", func(t *testing.T) {
		raw := `{
			"envelope": {
				"id": "a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11",
				"timestamp": 1771329600,
				"source": {"service": "spearsim", "instance": "spear-01", "version": "1.0.0"},
				"schema_version": "v1.0.0",
				"type": "pv.write.response",
				"correlation_id": "7c9e6679-7425-40de-944b-e07fc1f90ae7"
			},
			"payload": {
				"name": "beamCurrentAvg", "requested": "10", "stored": "500",
				"error": {"code": "READ_ONLY", "message": "variable is read-only"}
			}
		}`
		msg, err := Parse([]byte(raw))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		p, err := ParseWriteResponse(msg)
		if err != nil {
			t.Fatalf("ParseWriteResponse: %v", err)
		}
		if p.Error == nil {
			t.Fatal("Error should not be nil")
		}
		if p.Error.Code != ErrCodeReadOnly {
			t.Errorf("Error.Code = %q, want %q", p.Error.Code, ErrCodeReadOnly)
		}
		if p.Stored != "500" {
			t.Errorf("Stored = %q, want %q", p.Stored, "500")
		}
	})

	t.Run("fault", func(t *testing.T) {
		raw := `{
			"envelope": {
				"id": "e4f5a6b7-c8d9-4e0f-9a2b-3c4d5e6f7a8b",
				"timestamp": 1771329795,
				"source": {"service": "spearsim", "instance": "spear-01", "version": "1.0.0"},
				"schema_version": "v1.0.0",
				"type": "system.fault"
			},
			"payload": {"mode": "Down", "prior_mode": "Beam", "reason": "random fault"}
		}`
		msg, err := Parse([]byte(raw))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		p, err := ParseFault(msg)
		if err != nil {
			t.Fatalf("ParseFault: %v", err)
		}
		if p.Mode != "Down" {
			t.Errorf("Mode = %q, want %q", p.Mode, "Down")
		}
		if p.PriorMode != "Beam" {
			t.Errorf("PriorMode = %q, want %q", p.PriorMode, "Beam")
		}
	})
}
