package chat

import "github.com/cloudwego/eino/schema"

// Message is one turn of the dashboard conversation.
type Message struct {
	Role    schema.RoleType `json:"role"`
	Content string          `json:"content"`
}

// UserMessage builds a user turn.
func UserMessage(content string) Message {
	return Message{Role: schema.User, Content: content}
}

// AssistantMessage builds an assistant turn.
func AssistantMessage(content string) Message {
	return Message{Role: schema.Assistant, Content: content}
}

// ToSchema converts the turn into an eino message for export.
func (m Message) ToSchema() *schema.Message {
	return &schema.Message{Role: m.Role, Content: m.Content}
}

// Request is the body of POST /api/chat: the question plus the filter payload.
type Request map[string]any

// Response is the assistant reply returned by the analytics backend.
type Response struct {
	Type      string `json:"type,omitempty"`
	Narrative string `json:"narrative"`
}
