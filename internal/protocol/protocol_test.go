package protocol

import (
	"strings"
	"testing"
)

func TestDecodeClientJoin(t *testing.T) {
	data := []byte(`{"type":"join","data":{"sessionId":"s1","userId":"u1","displayName":"Ada"}}`)

	msg, err := DecodeClient(data)
	if err != nil {
		t.Fatalf("DecodeClient failed: %v", err)
	}

	join, ok := msg.(Join)
	if !ok {
		t.Fatalf("Expected Join, got %T", msg)
	}
	if join.SessionID != "s1" || join.UserID != "u1" || join.DisplayName != "Ada" {
		t.Errorf("Unexpected join payload: %+v", join)
	}
}

func TestDecodeClientUnknownType(t *testing.T) {
	_, err := DecodeClient([]byte(`{"type":"self-destruct","data":{}}`))
	if err == nil {
		t.Fatal("Expected error for unknown message type")
	}
	if !strings.Contains(err.Error(), "unknown client message type") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestDecodeClientMissingPayload(t *testing.T) {
	_, err := DecodeClient([]byte(`{"type":"document-change"}`))
	if err == nil {
		t.Fatal("Expected error for missing payload")
	}
}

func TestDecodeClientInvalidJSON(t *testing.T) {
	_, err := DecodeClient([]byte(`{not json`))
	if err == nil {
		t.Fatal("Expected error for invalid JSON")
	}
}

func TestDecodeClientPingHasNoPayload(t *testing.T) {
	msg, err := DecodeClient([]byte(`{"type":"ping"}`))
	if err != nil {
		t.Fatalf("DecodeClient failed: %v", err)
	}
	if _, ok := msg.(Ping); !ok {
		t.Fatalf("Expected Ping, got %T", msg)
	}
}

func TestMarshalServerRoundTrip(t *testing.T) {
	frame, err := MarshalServer(DocumentUpdate{
		Document:           "print(1)",
		OriginUserID:       "u1",
		OriginConnectionID: "c1",
		Timestamp:          1234,
	})
	if err != nil {
		t.Fatalf("MarshalServer failed: %v", err)
	}

	msg, err := DecodeServer(frame)
	if err != nil {
		t.Fatalf("DecodeServer failed: %v", err)
	}

	update, ok := msg.(DocumentUpdate)
	if !ok {
		t.Fatalf("Expected DocumentUpdate, got %T", msg)
	}
	if update.Document != "print(1)" || update.OriginUserID != "u1" || update.Timestamp != 1234 {
		t.Errorf("Round trip mismatch: %+v", update)
	}
}

func TestMarshalClientSetsType(t *testing.T) {
	frame, err := MarshalClient(CursorMove{SessionID: "s1", Position: Position{Line: 3, Column: 7}})
	if err != nil {
		t.Fatalf("MarshalClient failed: %v", err)
	}

	msg, err := DecodeClient(frame)
	if err != nil {
		t.Fatalf("DecodeClient failed: %v", err)
	}
	mv, ok := msg.(CursorMove)
	if !ok {
		t.Fatalf("Expected CursorMove, got %T", msg)
	}
	if mv.Position.Line != 3 || mv.Position.Column != 7 {
		t.Errorf("Unexpected position: %+v", mv.Position)
	}
}

func TestDecodeServerUnknownType(t *testing.T) {
	_, err := DecodeServer([]byte(`{"type":"join","data":{}}`))
	if err == nil {
		t.Fatal("Expected error: join is not a server message")
	}
}
