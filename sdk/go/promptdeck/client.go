package promptdeck

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the promptdeck server (e.g. "http://localhost:8080").
	BaseURL string

	// Token is a workspace bearer token issued via `promptdeck token`.
	Token string

	// HTTPClient is an optional custom HTTP client. If nil, a default
	// client with a 30-second timeout is used. Supply a client without a
	// timeout when using ExecuteStream or Subscribe.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the promptdeck API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL or Token is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("promptdeck: BaseURL is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("promptdeck: Token is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  httpClient,
	}, nil
}

// CreatePrompt creates a named prompt in the token's workspace.
func (c *Client) CreatePrompt(ctx context.Context, req CreatePromptRequest) (*Prompt, error) {
	var resp Prompt
	if err := c.post(ctx, "/v1/prompts", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetPrompt retrieves one prompt.
func (c *Client) GetPrompt(ctx context.Context, id uuid.UUID) (*Prompt, error) {
	var resp Prompt
	if err := c.get(ctx, "/v1/prompts/"+id.String(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListPrompts lists the workspace's prompts.
func (c *Client) ListPrompts(ctx context.Context) ([]Prompt, error) {
	var resp []Prompt
	if err := c.get(ctx, "/v1/prompts", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// CreateVersion appends an immutable version to a prompt. The server
// assigns the next sequential version number.
func (c *Client) CreateVersion(ctx context.Context, promptID uuid.UUID, template []TemplateMessage) (*PromptVersion, error) {
	body := map[string]any{"template": template}
	var resp PromptVersion
	if err := c.post(ctx, "/v1/prompts/"+promptID.String()+"/versions", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListVersions lists a prompt's versions, newest first.
func (c *Client) ListVersions(ctx context.Context, promptID uuid.UUID) ([]PromptVersion, error) {
	var resp []PromptVersion
	if err := c.get(ctx, "/v1/prompts/"+promptID.String()+"/versions", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// CreateParameter attaches a named model configuration to a version.
func (c *Client) CreateParameter(ctx context.Context, versionID uuid.UUID, req CreateParameterRequest) (*Parameter, error) {
	var resp Parameter
	if err := c.post(ctx, "/v1/versions/"+versionID.String()+"/parameters", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListParameters lists a version's parameter sets.
func (c *Client) ListParameters(ctx context.Context, versionID uuid.UUID) ([]Parameter, error) {
	var resp []Parameter
	if err := c.get(ctx, "/v1/versions/"+versionID.String()+"/parameters", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// CreateCredential stores a provider API key. The plaintext secret is
// sent once and never returned by any endpoint.
func (c *Client) CreateCredential(ctx context.Context, req CreateCredentialRequest) (*Credential, error) {
	var resp Credential
	if err := c.post(ctx, "/v1/credentials", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListCredentials lists the workspace's credentials.
func (c *Client) ListCredentials(ctx context.Context) ([]Credential, error) {
	var resp []Credential
	if err := c.get(ctx, "/v1/credentials", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// RevokeCredential revokes a credential. Executions referencing it fail
// once the server's credential cache refreshes.
func (c *Client) RevokeCredential(ctx context.Context, id uuid.UUID) error {
	return c.post(ctx, "/v1/credentials/"+id.String()+"/revoke", nil, nil)
}

// Execute runs a prompt version synchronously and returns the recorded
// execution. A non-nil result with Status == StatusFailure means the
// attempt was recorded but the provider call failed; inspect
// Execution.Error for the reason.
func (c *Client) Execute(ctx context.Context, req ExecuteRequest) (*Execution, error) {
	var resp Execution
	if err := c.post(ctx, "/v1/executions", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ExecuteStream runs a prompt version and invokes onChunk for each piece
// of output text as the provider streams it. It returns the recorded
// execution once the stream completes. The client's HTTP timeout applies
// to the whole stream; pass an HTTPClient without a timeout for long
// generations.
func (c *Client) ExecuteStream(ctx context.Context, req ExecuteRequest, onChunk func(text string)) (*Execution, error) {
	encoded, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("promptdeck: marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/executions/stream", bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("promptdeck: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("promptdeck: POST /v1/executions/stream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, parseErrorResponse(resp.StatusCode, body)
	}

	var exec *Execution
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var event string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			switch event {
			case "chunk":
				var frame struct {
					Text string `json:"text"`
				}
				if err := json.Unmarshal([]byte(data), &frame); err != nil {
					return nil, fmt.Errorf("promptdeck: decode chunk: %w", err)
				}
				if onChunk != nil {
					onChunk(frame.Text)
				}
			case "done":
				exec = &Execution{}
				if err := json.Unmarshal([]byte(data), exec); err != nil {
					return nil, fmt.Errorf("promptdeck: decode execution: %w", err)
				}
			case "error":
				var detail struct {
					Code    string `json:"code"`
					Message string `json:"message"`
				}
				if err := json.Unmarshal([]byte(data), &detail); err != nil {
					return nil, fmt.Errorf("promptdeck: decode error event: %w", err)
				}
				return nil, &Error{StatusCode: resp.StatusCode, Code: detail.Code, Message: detail.Message}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("promptdeck: read stream: %w", err)
	}
	if exec == nil {
		return nil, fmt.Errorf("promptdeck: stream ended without a terminal event")
	}
	return exec, nil
}

// GetExecution retrieves one recorded execution.
func (c *Client) GetExecution(ctx context.Context, id uuid.UUID) (*Execution, error) {
	var resp Execution
	if err := c.get(ctx, "/v1/executions/"+id.String(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListExecutions pages through execution history, oldest first. Feed the
// returned NextCursor back via opts.After to fetch the next page.
func (c *Client) ListExecutions(ctx context.Context, opts *ListExecutionsOptions) (*ExecutionPage, error) {
	params := url.Values{}
	if opts != nil {
		if opts.VersionID != nil {
			params.Set("version_id", opts.VersionID.String())
		}
		if opts.Status != nil {
			params.Set("status", string(*opts.Status))
		}
		if opts.After != "" {
			params.Set("after", opts.After)
		}
		if opts.Before != "" {
			params.Set("before", opts.Before)
		}
		if opts.Limit > 0 {
			params.Set("limit", strconv.Itoa(opts.Limit))
		}
	}

	path := "/v1/executions"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("promptdeck: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("promptdeck: GET %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("promptdeck: read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, parseErrorResponse(resp.StatusCode, body)
	}

	var envelope struct {
		Data       []Execution `json:"data"`
		NextCursor *string     `json:"next_cursor"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("promptdeck: decode response: %w", err)
	}

	page := &ExecutionPage{Executions: envelope.Data}
	if envelope.NextCursor != nil {
		page.NextCursor = *envelope.NextCursor
	}
	return page, nil
}

// Health checks the server's health status. This endpoint does not
// require authentication and works even with an invalid token.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("promptdeck: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("promptdeck: GET /health: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var health HealthResponse
	if err := handleResponse(resp, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("promptdeck: marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("promptdeck: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("promptdeck: create request: %w", err)
	}

	return c.doRequest(req, dest)
}

func (c *Client) doRequest(req *http.Request, dest any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("promptdeck: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("promptdeck: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("promptdeck: decode response envelope: %w", err)
	}

	if envelope.Data == nil {
		// Fallback: some endpoints may not wrap in "data".
		return json.Unmarshal(bodyBytes, dest)
	}

	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
