package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeChatRequest        MessageType = "chat_request"
	TypeClientControl      MessageType = "client_control"
	TypeAssistantTextDelta MessageType = "assistant_text_delta"
	TypeAssistantTurnEnd   MessageType = "assistant_turn_end"
	TypeSystemEvent        MessageType = "system_event"
	TypeErrorEvent         MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ChatRequest asks for one streamed answer. UseRAG defaults to true.
type ChatRequest struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Query     string      `json:"query"`
	UseRAG    *bool       `json:"use_rag,omitempty"`
}

// RAGEnabled reports whether retrieval should run for this request.
func (r ChatRequest) RAGEnabled() bool {
	return r.UseRAG == nil || *r.UseRAG
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
}

type AssistantTextDelta struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	TextDelta string      `json:"text_delta"`
}

type AssistantTurnEnd struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	TurnID      string      `json:"turn_id"`
	Reason      string      `json:"reason"`
	Backend     string      `json:"backend,omitempty"`
	ContextUsed bool        `json:"context_used"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeChatRequest:
		var msg ChatRequest
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Query) == "" {
			return nil, errors.New("invalid chat_request: query is required")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
