package protocol

import (
	"errors"
	"testing"
)

func TestParseServerMessageVariants(t *testing.T) {
	msg, err := ParseServerMessage([]byte(`{"type":"partial_response","text":"Maya: tell me about","audio_base64":"UklGRg=="}`))
	if err != nil {
		t.Fatalf("ParseServerMessage(partial) error = %v", err)
	}
	partial, ok := msg.(PartialResponse)
	if !ok {
		t.Fatalf("parsed type = %T, want PartialResponse", msg)
	}
	if partial.Text != "Maya: tell me about" || partial.AudioBase64 == "" {
		t.Fatalf("unexpected partial: %+v", partial)
	}

	msg, err = ParseServerMessage([]byte(`{"type":"complete","conversation_id":"c-1","text":"done"}`))
	if err != nil {
		t.Fatalf("ParseServerMessage(complete) error = %v", err)
	}
	if c, ok := msg.(Complete); !ok || c.ConversationID != "c-1" {
		t.Fatalf("unexpected complete: %#v", msg)
	}

	msg, err = ParseServerMessage([]byte(`{"type":"error","message":"no attempts left"}`))
	if err != nil {
		t.Fatalf("ParseServerMessage(error) error = %v", err)
	}
	if e, ok := msg.(Error); !ok || e.Message != "no attempts left" {
		t.Fatalf("unexpected error message: %#v", msg)
	}
}

func TestParseServerMessageUnknownType(t *testing.T) {
	_, err := ParseServerMessage([]byte(`{"type":"heartbeat"}`))
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("error = %v, want ErrUnknownType", err)
	}
}

func TestParseServerMessageInvalidJSON(t *testing.T) {
	if _, err := ParseServerMessage([]byte(`{`)); err == nil {
		t.Fatalf("expected error for malformed JSON")
	}
}

func TestParseServerMessageErrorDefaultsMessage(t *testing.T) {
	msg, err := ParseServerMessage([]byte(`{"type":"error"}`))
	if err != nil {
		t.Fatalf("ParseServerMessage error = %v", err)
	}
	if e := msg.(Error); e.Message == "" {
		t.Fatalf("empty error message should be defaulted")
	}
}

func TestParseStartConversation(t *testing.T) {
	raw := []byte(`{"action":"start_conversation","assessment_type":"academic_speaking","session_id":"tok-1"}`)
	msg, err := ParseStartConversation(raw)
	if err != nil {
		t.Fatalf("ParseStartConversation error = %v", err)
	}
	if msg.AssessmentType != "academic_speaking" || msg.SessionID != "tok-1" {
		t.Fatalf("unexpected start message: %+v", msg)
	}

	if _, err := ParseStartConversation([]byte(`{"action":"start_conversation"}`)); err == nil {
		t.Fatalf("missing assessment_type should fail")
	}
	if _, err := ParseStartConversation([]byte(`{"action":"ping"}`)); err == nil {
		t.Fatalf("wrong action should fail")
	}
}
