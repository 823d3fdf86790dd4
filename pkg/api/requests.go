package api

// Request size limits enforced by the handlers.
const (
	maxMessages         = 20
	maxMessageChars     = 8_000
	maxTotalChars       = 12_000
	maxUpdateDataBytes  = 10 * 1024
	maxMediaBase64Chars = 8_000_000
)

// ChatMessage is one turn of an /api/ask conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AskRequest is the /api/ask body. Either Messages or Message must be set.
type AskRequest struct {
	Messages    []ChatMessage `json:"messages,omitempty"`
	Message     string        `json:"message,omitempty"`
	Model       string        `json:"model,omitempty"`
	Domain      string        `json:"domain,omitempty"`
	SessionID   string        `json:"sessionId,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// LoginRequest is the /api/auth/login body.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UpdateRequest is the /api/update body.
type UpdateRequest struct {
	UpdateType string         `json:"updateType"`
	Data       map[string]any `json:"data"`
}

// CommandRequest is the /api/daemon/command body.
type CommandRequest struct {
	Command      string         `json:"command"`
	Payload      map[string]any `json:"payload,omitempty"`
	TargetUserID string         `json:"targetUserId,omitempty"`
}

// TranscribeRequest is the /api/transcribe body.
type TranscribeRequest struct {
	AudioBase64 string `json:"audioBase64"`
	Model       string `json:"model,omitempty"`
	Filename    string `json:"filename,omitempty"`
	Language    string `json:"language,omitempty"`
}

// VisionRequest is the /api/vision body.
type VisionRequest struct {
	ImageBase64 string   `json:"imageBase64"`
	Prompt      string   `json:"prompt,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"maxTokens,omitempty"`
}
