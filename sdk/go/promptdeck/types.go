package promptdeck

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who a message is attributed to.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Provider identifies which LLM vendor executes a request.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// ExecutionStatus is the terminal state of a recorded execution.
type ExecutionStatus string

const (
	StatusSuccess ExecutionStatus = "success"
	StatusFailure ExecutionStatus = "failure"
)

// Prompt is a named prompt in a workspace.
type Prompt struct {
	ID          uuid.UUID `json:"id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// TemplateMessage is one message of a version's template. Content may
// contain {{variable}} placeholders.
type TemplateMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// PromptVersion is an immutable numbered snapshot of a prompt's template.
type PromptVersion struct {
	ID        uuid.UUID         `json:"id"`
	PromptID  uuid.UUID         `json:"prompt_id"`
	Number    int               `json:"number"`
	Template  []TemplateMessage `json:"template"`
	CreatedAt time.Time         `json:"created_at"`
}

// Parameter is a named model configuration attached to a version.
type Parameter struct {
	ID          uuid.UUID `json:"id"`
	VersionID   uuid.UUID `json:"version_id"`
	Name        string    `json:"name"`
	Provider    Provider  `json:"provider"`
	Model       string    `json:"model"`
	Temperature *float32  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
	TopP        *float32  `json:"top_p,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Credential is a stored provider API key. The secret itself is sealed
// server-side and never returned.
type Credential struct {
	ID          uuid.UUID  `json:"id"`
	WorkspaceID uuid.UUID  `json:"workspace_id"`
	Name        string     `json:"name"`
	Provider    Provider   `json:"provider"`
	BaseURL     *string    `json:"base_url,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Message is one rendered or generated chat message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Usage is the token accounting for one execution. Mismatch is set when
// the provider's reported total disagrees with input+output.
type Usage struct {
	InputTokens  int  `json:"input_tokens"`
	OutputTokens int  `json:"output_tokens"`
	TotalTokens  int  `json:"total_tokens"`
	Mismatch     bool `json:"mismatch,omitempty"`
}

// ExecutionError describes why an execution failed.
type ExecutionError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParameterSnapshot is the parameter values frozen into an execution
// record at dispatch time.
type ParameterSnapshot struct {
	Provider    Provider `json:"provider"`
	Model       string   `json:"model"`
	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens"`
	TopP        *float32 `json:"top_p,omitempty"`
}

// Execution is one recorded prompt execution attempt, successful or not.
type Execution struct {
	ID          uuid.UUID         `json:"id"`
	WorkspaceID uuid.UUID         `json:"workspace_id"`
	VersionID   uuid.UUID         `json:"version_id"`
	Parameters  ParameterSnapshot `json:"parameters"`
	Input       []Message         `json:"input,omitempty"`
	Output      []Message         `json:"output,omitempty"`
	Usage       Usage             `json:"usage"`
	ElapsedMS   int64             `json:"elapsed_ms"`
	Status      ExecutionStatus   `json:"status"`
	Error       *ExecutionError   `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// CreatePromptRequest is the body for CreatePrompt.
type CreatePromptRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

// CreateParameterRequest is the body for CreateParameter.
type CreateParameterRequest struct {
	Name        string   `json:"name"`
	Provider    Provider `json:"provider"`
	Model       string   `json:"model"`
	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens"`
	TopP        *float32 `json:"top_p,omitempty"`
}

// CreateCredentialRequest is the body for CreateCredential. Secret is the
// plaintext provider API key; it is transmitted once and sealed
// server-side.
type CreateCredentialRequest struct {
	Name     string   `json:"name"`
	Provider Provider `json:"provider"`
	BaseURL  *string  `json:"base_url,omitempty"`
	Secret   string   `json:"secret"`
}

// ExecuteRequest is the body for Execute and ExecuteStream.
type ExecuteRequest struct {
	VersionID    uuid.UUID         `json:"version_id"`
	ParameterID  uuid.UUID         `json:"parameter_id"`
	CredentialID uuid.UUID         `json:"credential_id"`
	Variables    map[string]string `json:"variables,omitempty"`
}

// ListExecutionsOptions filter and paginate execution history. Supply at
// most one of After and Before.
type ListExecutionsOptions struct {
	VersionID *uuid.UUID
	Status    *ExecutionStatus
	After     string
	Before    string
	Limit     int
}

// ExecutionPage is one page of execution history. NextCursor is empty on
// the final page.
type ExecutionPage struct {
	Executions []Execution
	NextCursor string
}

// HealthResponse is the server's health report.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Uptime   string `json:"uptime"`
	Database string `json:"database"`
}
