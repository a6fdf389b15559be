package models

// Role tags a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged turn sent to a generative model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
