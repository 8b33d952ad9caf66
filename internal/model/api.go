package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Field length limits on caller-controlled text. These keep a single
// oversized field from filling Postgres TEXT columns or blowing up the
// provider request.
const (
	MaxPromptNameLen      = 200
	MaxTemplateContentLen = 64 * 1024 // 64 KB per message
	MaxVariableValueLen   = 32 * 1024 // 32 KB per variable
	MaxTemplateMessages   = 100
)

// APIResponse is the standard envelope for single-object responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for cursor-paginated list endpoints.
// NextCursor is present only when another page exists.
type ListResponse struct {
	Data       any          `json:"data"`
	NextCursor *string      `json:"next_cursor,omitempty"`
	Limit      int          `json:"limit"`
	Meta       ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeMissingVariable   = "MISSING_VARIABLE"
	ErrCodeUnknownCredential = "UNKNOWN_CREDENTIAL"
	ErrCodeProviderFailure   = "PROVIDER_FAILURE"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeMalformedCursor   = "MALFORMED_CURSOR"
	ErrCodeAmbiguousCursor   = "AMBIGUOUS_PAGINATION_DIRECTION"
)

// ExecuteRequest is the request body for POST /v1/executions and
// POST /v1/executions/stream. WorkspaceID comes from the JWT claims.
type ExecuteRequest struct {
	WorkspaceID  uuid.UUID         `json:"-"`
	VersionID    uuid.UUID         `json:"version_id"`
	ParameterID  uuid.UUID         `json:"parameter_id"`
	CredentialID uuid.UUID         `json:"credential_id"`
	Variables    map[string]string `json:"variables,omitempty"`
}

// Validate checks an ExecuteRequest for structurally invalid input.
func (r ExecuteRequest) Validate() error {
	if r.VersionID == uuid.Nil {
		return fmt.Errorf("version_id is required")
	}
	if r.ParameterID == uuid.Nil {
		return fmt.Errorf("parameter_id is required")
	}
	if r.CredentialID == uuid.Nil {
		return fmt.Errorf("credential_id is required")
	}
	for name, value := range r.Variables {
		if name == "" {
			return fmt.Errorf("variable name must not be empty")
		}
		if len(value) > MaxVariableValueLen {
			return fmt.Errorf("variable %q exceeds maximum length of %d bytes", name, MaxVariableValueLen)
		}
	}
	return nil
}

// CreatePromptRequest is the request body for POST /v1/prompts.
type CreatePromptRequest struct {
	WorkspaceID uuid.UUID `json:"-"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
}

// Validate checks a CreatePromptRequest.
func (r CreatePromptRequest) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(r.Name) > MaxPromptNameLen {
		return fmt.Errorf("name exceeds maximum length of %d characters", MaxPromptNameLen)
	}
	return nil
}

// CreateVersionRequest is the request body for POST /v1/prompts/{id}/versions.
type CreateVersionRequest struct {
	Template []TemplateMessage `json:"template"`
}

// Validate checks a CreateVersionRequest, including per-message limits.
func (r CreateVersionRequest) Validate() error {
	if len(r.Template) == 0 {
		return fmt.Errorf("template must contain at least one message")
	}
	if len(r.Template) > MaxTemplateMessages {
		return fmt.Errorf("template exceeds maximum of %d messages", MaxTemplateMessages)
	}
	for i, m := range r.Template {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("template[%d]: unknown role %q", i, m.Role)
		}
		if len(m.Content) > MaxTemplateContentLen {
			return fmt.Errorf("template[%d]: content exceeds maximum length of %d bytes", i, MaxTemplateContentLen)
		}
	}
	return nil
}

// CreateParameterRequest is the request body for POST /v1/versions/{id}/parameters.
type CreateParameterRequest struct {
	Name        string       `json:"name"`
	Provider    ProviderKind `json:"provider"`
	Model       string       `json:"model"`
	Temperature *float32     `json:"temperature,omitempty"`
	MaxTokens   int          `json:"max_tokens"`
	TopP        *float32     `json:"top_p,omitempty"`
}

// Validate checks a CreateParameterRequest.
func (r CreateParameterRequest) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch r.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("unknown provider %q", r.Provider)
	}
	if r.Model == "" {
		return fmt.Errorf("model is required")
	}
	if r.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive")
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return fmt.Errorf("temperature must be in [0, 2]")
	}
	return nil
}

// CreateCredentialRequest is the request body for POST /v1/credentials.
// Secret is the plaintext provider API key; it is sealed before storage and
// never echoed back.
type CreateCredentialRequest struct {
	WorkspaceID uuid.UUID    `json:"-"`
	Name        string       `json:"name"`
	Provider    ProviderKind `json:"provider"`
	BaseURL     *string      `json:"base_url,omitempty"`
	Secret      string       `json:"secret"`
}

// Validate checks a CreateCredentialRequest.
func (r CreateCredentialRequest) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch r.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("unknown provider %q", r.Provider)
	}
	if r.Secret == "" {
		return fmt.Errorf("secret is required")
	}
	return nil
}
