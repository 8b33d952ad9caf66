// Package model defines the core domain types for promptdeck.
//
// Types correspond directly to database tables and API payloads. Strong
// typing throughout (UUIDs, time.Time, enums); interface{} only where a
// payload is genuinely free-form.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ProviderKind identifies which provider integration dispatches a credential.
type ProviderKind string

const (
	ProviderOpenAI    ProviderKind = "openai"
	ProviderAnthropic ProviderKind = "anthropic"
)

// Prompt is a named prompt owned by a workspace. The template content lives
// on immutable PromptVersion rows, never on the prompt itself.
type Prompt struct {
	ID          uuid.UUID `json:"id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// TemplateMessage is one ordered message of a version's template.
// Content may contain {{name}} placeholders.
type TemplateMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// PromptVersion is an immutable snapshot of a prompt's template at a point
// in time. Versions are append-only; editing a prompt creates a new version.
type PromptVersion struct {
	ID        uuid.UUID         `json:"id"`
	PromptID  uuid.UUID         `json:"prompt_id"`
	Number    int               `json:"number"`
	Template  []TemplateMessage `json:"template"`
	CreatedAt time.Time         `json:"created_at"`
}

// Parameter is a named set of model-call settings attached to a version.
// Executions snapshot the values actually used, so later edits to a
// parameter row never rewrite history.
type Parameter struct {
	ID          uuid.UUID    `json:"id"`
	VersionID   uuid.UUID    `json:"version_id"`
	Name        string       `json:"name"`
	Provider    ProviderKind `json:"provider"`
	Model       string       `json:"model"`
	Temperature *float32     `json:"temperature,omitempty"`
	MaxTokens   int          `json:"max_tokens"`
	TopP        *float32     `json:"top_p,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Snapshot returns the parameter values that an execution records.
func (p Parameter) Snapshot() ParameterSnapshot {
	return ParameterSnapshot{
		ParameterID: p.ID,
		Provider:    p.Provider,
		Model:       p.Model,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
		TopP:        p.TopP,
	}
}

// ParameterSnapshot is the copy of parameter values embedded in an
// Execution row. It carries values, not a live reference.
type ParameterSnapshot struct {
	ParameterID uuid.UUID    `json:"parameter_id"`
	Provider    ProviderKind `json:"provider"`
	Model       string       `json:"model"`
	Temperature *float32     `json:"temperature,omitempty"`
	MaxTokens   int          `json:"max_tokens"`
	TopP        *float32     `json:"top_p,omitempty"`
}

// Credential is a stored provider API key. Secret holds the sealed
// ciphertext; plaintext exists only inside the credential cache.
type Credential struct {
	ID          uuid.UUID    `json:"id"`
	WorkspaceID uuid.UUID    `json:"workspace_id"`
	Name        string       `json:"name"`
	Provider    ProviderKind `json:"provider"`
	BaseURL     *string      `json:"base_url,omitempty"`
	Secret      []byte       `json:"-"`
	CreatedAt   time.Time    `json:"created_at"`
	RevokedAt   *time.Time   `json:"revoked_at,omitempty"`
}

// Message is one rendered conversation message, either input (rendered from
// the template) or output (accumulated from provider chunks).
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Usage records the provider-reported token counts for one execution.
// Total is stored as reported; Mismatch flags Total != Input+Output for
// downstream reconciliation instead of silently recomputing.
type Usage struct {
	InputTokens  int  `json:"input_tokens"`
	OutputTokens int  `json:"output_tokens"`
	TotalTokens  int  `json:"total_tokens"`
	Mismatch     bool `json:"mismatch,omitempty"`
}

// Reconcile sets Total from Input+Output when the provider omitted it and
// flags any disagreement between the reported total and the parts.
func (u Usage) Reconcile() Usage {
	sum := u.InputTokens + u.OutputTokens
	if u.TotalTokens == 0 {
		u.TotalTokens = sum
		return u
	}
	u.Mismatch = u.TotalTokens != sum
	return u
}

// ExecutionStatus is the lifecycle state of an execution.
// Pending exists only in memory while a dispatch is in flight; a persisted
// execution is always terminal.
type ExecutionStatus string

const (
	StatusPending ExecutionStatus = "pending"
	StatusSuccess ExecutionStatus = "success"
	StatusFailure ExecutionStatus = "failure"
)

// Terminal reports whether the status is final.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// ExecutionError is the structured error payload on a failed execution.
type ExecutionError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Execution is one persisted record of a single dispatch attempt.
// Immutable once written: the storage layer exposes no update path, and a
// caller-level retry always creates a new row.
type Execution struct {
	ID          uuid.UUID         `json:"id"`
	WorkspaceID uuid.UUID         `json:"workspace_id"`
	VersionID   uuid.UUID         `json:"version_id"`
	Parameters  ParameterSnapshot `json:"parameters"`
	Input       []Message         `json:"input"`
	Output      []Message         `json:"output"`
	Usage       Usage             `json:"usage"`
	ElapsedMS   int64             `json:"elapsed_ms"`
	Status      ExecutionStatus   `json:"status"`
	Error       *ExecutionError   `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
