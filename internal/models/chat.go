package models

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Citation is a web source the assistant used to ground an answer.
type Citation struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// ConversationTurn represents a single message in a conversation.
type ConversationTurn struct {
	Role      Role       `json:"role"`
	Text      string     `json:"text"`
	Citations []Citation `json:"citations,omitempty"`
}

// ChatRequest is the payload sent to the chat endpoint.
type ChatRequest struct {
	Message string `json:"message"`
}
