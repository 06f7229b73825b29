package llm

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single turn in a call conversation.
type Message struct {
	// Role is one of "system", "user", or "assistant". Caller speech arrives
	// as "user"; synthesised replies are recorded as "assistant".
	Role string

	// Content is the text content of the turn.
	Content string
}
