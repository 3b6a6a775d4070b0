package llm

// Chat roles understood by OpenAI-compatible backends.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SystemMessage and UserMessage build single-role messages.
func SystemMessage(content string) Message { return Message{Role: RoleSystem, Content: content} }
func UserMessage(content string) Message { return Message{Role: RoleUser, Content: content} }

// Response is one completed generation.
type Response struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Usage counts tokens as reported by the backend, which may be zero for
// servers that omit it.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// SessionInsights is the structured digest of a finished session.
type SessionInsights struct {
	KeyInsights []string `json:"key_insights" jsonschema:"description=Two to four short observations about the user's emotional patterns in this session"`
	Themes      []string `json:"themes" jsonschema:"description=Recurring life themes mentioned by the user"`
	Progress    string   `json:"progress" jsonschema:"description=One sentence on how the user's state changed during the session"`
}
