package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aichat/relay/internal/store"
)

// Inbound event names
const (
	EventUserMessage       = "user-message"
	EventTyping            = "typing"
	EventJoinConversation  = "join-conversation"
	EventLeaveConversation = "leave-conversation"
	EventVoiceCallStart    = "voice-call-start"
	EventVoiceTranscript   = "voice-transcript"
	EventVoiceCallEnd      = "voice-call-end"
	EventVoiceInterrupt    = "voice-interrupt"
)

// Outbound event names
const (
	EventMessageReceived      = "message-received"
	EventAIMessage            = "ai-message"
	EventUserTyping           = "user-typing"
	EventVoiceCallReady       = "voice-call-ready"
	EventVoiceUserTranscript  = "voice-user-transcript"
	EventVoiceAIResponse      = "voice-ai-response"
	EventVoiceCallEnded       = "voice-call-ended"
	EventVoiceInterruptAck    = "voice-interrupt-acknowledged"
	EventError                = "error"
	EventVoiceError           = "voice-error"
)

// Envelope is the wire frame: a type tag and a type-specific payload.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrUnknownEvent is returned for envelope types the relay does not handle.
var ErrUnknownEvent = errors.New("ws: unknown event type")

// Inbound payloads

type UserMessage struct {
	Text            string `json:"text"`
	ConversationRef string `json:"conversation_ref,omitempty"`
}

type Typing struct {
	ConversationRef string `json:"conversation_ref"`
	IsTyping        bool   `json:"is_typing"`
}

type JoinConversation struct {
	ConversationRef string `json:"conversation_ref"`
}

type LeaveConversation struct {
	ConversationRef string `json:"conversation_ref"`
}

type VoiceCallStart struct {
	ConversationRef string `json:"conversation_ref,omitempty"`
	Language        string `json:"language,omitempty"`
}

type VoiceTranscript struct {
	Text            string `json:"text"`
	IsFinal         bool   `json:"is_final"`
	Language        string `json:"language,omitempty"`
	ConversationRef string `json:"conversation_ref,omitempty"`
}

type VoiceCallEnd struct{}

type VoiceInterrupt struct{}

// DecodeInbound parses a wire frame into its typed event. The payload is
// validated against the event's expected shape here, before anything reaches
// the session.
func DecodeInbound(data []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("ws: malformed envelope: %w", err)
	}

	decode := func(into any) (any, error) {
		if len(env.Payload) == 0 {
			return into, nil
		}
		if err := json.Unmarshal(env.Payload, into); err != nil {
			return nil, fmt.Errorf("ws: malformed %s payload: %w", env.Type, err)
		}
		return into, nil
	}

	switch env.Type {
	case EventUserMessage:
		return decode(&UserMessage{})
	case EventTyping:
		return decode(&Typing{})
	case EventJoinConversation:
		return decode(&JoinConversation{})
	case EventLeaveConversation:
		return decode(&LeaveConversation{})
	case EventVoiceCallStart:
		return decode(&VoiceCallStart{})
	case EventVoiceTranscript:
		return decode(&VoiceTranscript{})
	case EventVoiceCallEnd:
		return &VoiceCallEnd{}, nil
	case EventVoiceInterrupt:
		return &VoiceInterrupt{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}

// Outbound payloads

// MessagePayload mirrors a persisted message on the wire.
type MessagePayload struct {
	ID              string    `json:"id"`
	Content         string    `json:"content"`
	Sender          string    `json:"sender"`
	ConversationRef string    `json:"conversation_ref,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func messagePayload(m store.Message) MessagePayload {
	return MessagePayload{
		ID:              m.ID,
		Content:         m.Content,
		Sender:          string(m.Sender),
		ConversationRef: m.ConversationRef,
		CreatedAt:       m.CreatedAt,
	}
}

type TypingPayload struct {
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

type VoiceCallReadyPayload struct {
	Message         string `json:"message"`
	ConversationRef string `json:"conversation_ref,omitempty"`
	Language        string `json:"language"`
}

type VoiceUserTranscriptPayload struct {
	Transcript string    `json:"transcript"`
	Language   string    `json:"language"`
	Timestamp  time.Time `json:"timestamp"`
}

// VoiceAIResponsePayload carries either one streamed fragment (Delta, Final
// false) or the completed reply (Response, Final true).
type VoiceAIResponsePayload struct {
	Delta           string    `json:"delta,omitempty"`
	Response        string    `json:"response,omitempty"`
	Final           bool      `json:"final"`
	ConversationRef string    `json:"conversation_ref,omitempty"`
	MessageID       string    `json:"message_id,omitempty"`
	Language        string    `json:"language,omitempty"`
	Timestamp       time.Time `json:"timestamp,omitzero"`
}

type VoiceCallEndedPayload struct {
	Message string `json:"message"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
