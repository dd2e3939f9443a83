package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants on the speech channel.
type MessageType string

const (
	// Client to server.
	TypeStartConversation MessageType = "start_conversation"

	// Server to client.
	TypePartialResponse MessageType = "partial_response"
	TypeComplete        MessageType = "complete"
	TypeError           MessageType = "error"
)

// ErrUnknownType marks message shapes outside the protocol. Callers treat
// them as ignorable, not fatal.
var ErrUnknownType = errors.New("unknown message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// StartConversation is the single initiating message sent after dial.
type StartConversation struct {
	Action         MessageType `json:"action"`
	AssessmentType string      `json:"assessment_type"`
	QuestionID     string      `json:"question_id,omitempty"`
	AudioBase64    string      `json:"audio_base64,omitempty"`
	SessionID      string      `json:"session_id,omitempty"`
}

// PartialResponse appends to the transcript and may carry an audio fragment
// for immediate playback. It never finishes the conversation.
type PartialResponse struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Text           string      `json:"text"`
	AudioBase64    string      `json:"audio_base64,omitempty"`
}

// Complete carries the examiner's final result and ends the conversation.
type Complete struct {
	Type           MessageType     `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Text           string          `json:"text,omitempty"`
	Feedback       json.RawMessage `json:"feedback,omitempty"`
}

// Error ends the conversation with a failure carried from the backend.
type Error struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Code           string      `json:"code,omitempty"`
	Message        string      `json:"message"`
}

// ParseServerMessage decodes one inbound speech-channel message. Unknown
// type tags return ErrUnknownType so the session loop can skip them.
func ParseServerMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypePartialResponse:
		var msg PartialResponse
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeComplete:
		var msg Complete
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeError:
		var msg Error
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Message == "" {
			msg.Message = "speech backend error"
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// ParseStartConversation decodes and validates the initiating client message.
func ParseStartConversation(raw []byte) (StartConversation, error) {
	var msg StartConversation
	if err := json.Unmarshal(raw, &msg); err != nil {
		return StartConversation{}, fmt.Errorf("invalid start message: %w", err)
	}
	if msg.Action != TypeStartConversation {
		return StartConversation{}, fmt.Errorf("%w: action %q", ErrUnknownType, msg.Action)
	}
	if msg.AssessmentType == "" {
		return StartConversation{}, errors.New("start_conversation missing assessment_type")
	}
	return msg, nil
}
