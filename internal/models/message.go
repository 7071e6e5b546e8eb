package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Role identifies the author of a message in a conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// PartType identifies the payload of a multimodal content part.
type PartType string

const (
	PartText     PartType = "text"
	PartImageURL PartType = "image_url"
)

// ContentPart is one element of a multimodal message body.
type ContentPart struct {
	Type     PartType  `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// ToolCall is a tool invocation requested by the model inside an assistant message.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one conversation turn. Content carries plain text; Parts carries a
// multimodal body and is mutually exclusive with Content on the wire.
type Message struct {
	Role       Role          `json:"role"`
	Content    string        `json:"-"`
	Parts      []ContentPart `json:"-"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
}

type messageAlias Message

type wireMessage struct {
	*messageAlias
	Content json.RawMessage `json:"content"`
}

// MarshalJSON writes content as a string, or as an array of parts for multimodal messages.
func (m Message) MarshalJSON() ([]byte, error) {
	var content []byte
	var err error
	if len(m.Parts) > 0 {
		content, err = json.Marshal(m.Parts)
	} else {
		content, err = json.Marshal(m.Content)
	}
	if err != nil {
		return nil, err
	}
	alias := messageAlias(m)
	return json.Marshal(wireMessage{messageAlias: &alias, Content: content})
}

// UnmarshalJSON accepts content either as a string or as an array of parts.
func (m *Message) UnmarshalJSON(data []byte) error {
	wire := wireMessage{messageAlias: (*messageAlias)(m)}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.Content = ""
	m.Parts = nil
	if len(wire.Content) == 0 || string(wire.Content) == "null" {
		return nil
	}
	switch wire.Content[0] {
	case '"':
		return json.Unmarshal(wire.Content, &m.Content)
	case '[':
		if err := json.Unmarshal(wire.Content, &m.Parts); err != nil {
			return fmt.Errorf("decode content parts: %w", err)
		}
		return nil
	default:
		return errors.New("content must be a string or an array of parts")
	}
}

// Text returns the textual content, joining text parts for multimodal messages.
func (m *Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var out string
	for _, p := range m.Parts {
		if p.Type == PartText && p.Text != "" {
			if out != "" {
				out += "\n"
			}
			out += p.Text
		}
	}
	return out
}

// ValidateMessages checks a caller-supplied history before a run starts.
func ValidateMessages(messages []*Message) error {
	if len(messages) == 0 {
		return errors.New("messages must not be empty")
	}
	for i, msg := range messages {
		if msg == nil {
			return fmt.Errorf("message %d is nil", i)
		}
		if !msg.Role.Valid() {
			return fmt.Errorf("message %d has invalid role %q", i, msg.Role)
		}
		if msg.Role == RoleTool && msg.ToolCallID == "" {
			return fmt.Errorf("message %d: tool message requires tool_call_id", i)
		}
	}
	return nil
}
