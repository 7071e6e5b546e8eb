package rag

import (
	"github.com/cloudwego/eino/schema"

	"agentrag/internal/models"
)

// ToSchemaMessages converts caller messages into a fresh eino history slice.
func ToSchemaMessages(msgs []*models.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		out = append(out, toSchemaMessage(m))
	}
	return out
}

func toSchemaMessage(m *models.Message) *schema.Message {
	msg := &schema.Message{
		Role:       toSchemaRole(m.Role),
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
		Name:       m.Name,
	}
	if m.Role == models.RoleTool {
		msg.ToolName = m.Name
	}
	if len(m.Parts) > 0 {
		msg.Content = ""
		msg.MultiContent = make([]schema.ChatMessagePart, 0, len(m.Parts))
		for _, p := range m.Parts {
			switch p.Type {
			case models.PartImageURL:
				if p.ImageURL == nil {
					continue
				}
				msg.MultiContent = append(msg.MultiContent, schema.ChatMessagePart{
					Type: schema.ChatMessagePartTypeImageURL,
					ImageURL: &schema.ChatMessageImageURL{
						URL:    p.ImageURL.URL,
						Detail: schema.ImageURLDetail(p.ImageURL.Detail),
					},
				})
			default:
				msg.MultiContent = append(msg.MultiContent, schema.ChatMessagePart{
					Type: schema.ChatMessagePartTypeText,
					Text: p.Text,
				})
			}
		}
	}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: schema.FunctionCall{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}
	return msg
}

func toSchemaRole(role models.Role) schema.RoleType {
	switch role {
	case models.RoleAssistant:
		return schema.Assistant
	case models.RoleSystem:
		return schema.System
	case models.RoleTool:
		return schema.Tool
	default:
		return schema.User
	}
}
