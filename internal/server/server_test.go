package server_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptdeck/promptdeck/internal/auth"
	"github.com/promptdeck/promptdeck/internal/config"
	"github.com/promptdeck/promptdeck/internal/credentials"
	"github.com/promptdeck/promptdeck/internal/model"
	"github.com/promptdeck/promptdeck/internal/provider"
	"github.com/promptdeck/promptdeck/internal/ratelimit"
	"github.com/promptdeck/promptdeck/internal/secrets"
	"github.com/promptdeck/promptdeck/internal/server"
	"github.com/promptdeck/promptdeck/internal/service/executions"
	"github.com/promptdeck/promptdeck/internal/storage"
	"github.com/promptdeck/promptdeck/internal/testutil"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	ctx := context.Background()

	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(ctx, testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create DB: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	code := m.Run()

	testDB.Close(ctx)
	tc.Terminate()
	os.Exit(code)
}

// stubProvider streams scripted chunks without calling any real LLM API.
type stubProvider struct {
	kind   model.ProviderKind
	chunks []provider.Chunk
}

func (p *stubProvider) Kind() model.ProviderKind { return p.kind }

func (p *stubProvider) Stream(ctx context.Context, _ provider.Request) (<-chan provider.Chunk, error) {
	out := make(chan provider.Chunk, len(p.chunks))
	go func() {
		defer close(out)
		for _, c := range p.chunks {
			select {
			case <-ctx.Done():
				return
			case out <- c:
			}
			if c.Done || c.Err != nil {
				return
			}
		}
	}()
	return out, nil
}

type testEnv struct {
	srv         *httptest.Server
	jwtMgr      *auth.JWTManager
	cache       *credentials.Cache
	broker      *server.Broker
	workspaceID uuid.UUID
	token       string
}

func newTestEnv(t *testing.T, opts ...func(*server.ServerConfig)) *testEnv {
	t.Helper()
	logger := testutil.TestLogger()

	key, err := secrets.GenerateKey()
	require.NoError(t, err)
	keeper, err := secrets.NewKeeper(key)
	require.NoError(t, err)

	jwtMgr, err := auth.NewJWTManager("test-secret", time.Hour)
	require.NoError(t, err)

	cache := credentials.New(testDB, keeper, time.Minute, logger)

	registry := provider.NewRegistry(&stubProvider{
		kind: model.ProviderOpenAI,
		chunks: []provider.Chunk{
			{Text: "Hello "},
			{Text: "from stub"},
			{Done: true, Usage: &model.Usage{InputTokens: 5, OutputTokens: 3, TotalTokens: 8}},
		},
	})
	dispatcher := provider.NewDispatcher(registry, cache, 5*time.Second, logger)
	execSvc := executions.New(testDB, dispatcher, logger)

	cfg := &config.Config{
		MaxPageSize:        100,
		DefaultPageSize:    50,
		MaxRequestBodySize: 1 << 20,
	}

	sc := server.ServerConfig{
		DB:      testDB,
		Keeper:  keeper,
		JWTMgr:  jwtMgr,
		ExecSvc: execSvc,
		Cache:   cache,
		Cfg:     cfg,
		Logger:  logger,
		Broker:  server.NewBroker(testDB, logger),
		Version: "test",
	}
	for _, opt := range opts {
		opt(&sc)
	}

	s := server.New(sc)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	workspaceID := uuid.New()
	token, _, err := jwtMgr.IssueToken(workspaceID, "test")
	require.NoError(t, err)

	return &testEnv{
		srv:         ts,
		jwtMgr:      jwtMgr,
		cache:       cache,
		broker:      sc.Broker,
		workspaceID: workspaceID,
		token:       token,
	}
}

func (e *testEnv) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	return e.requestAs(t, e.token, method, path, body)
}

func (e *testEnv) requestAs(t *testing.T, token, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeData[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var envelope struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope.Data
}

func decodeError(t *testing.T, resp *http.Response) model.ErrorDetail {
	t.Helper()
	defer resp.Body.Close()
	var envelope model.APIError
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope.Error
}

// seedPipeline creates a prompt, version, parameter, and credential over
// HTTP and refreshes the credential cache so executions can run.
func (e *testEnv) seedPipeline(t *testing.T) (versionID, parameterID, credentialID uuid.UUID) {
	t.Helper()

	resp := e.request(t, http.MethodPost, "/v1/prompts", map[string]any{"name": "greeting-" + uuid.NewString()})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	prompt := decodeData[model.Prompt](t, resp)

	resp = e.request(t, http.MethodPost, "/v1/prompts/"+prompt.ID.String()+"/versions", map[string]any{
		"template": []map[string]string{
			{"role": "system", "content": "You are concise."},
			{"role": "user", "content": "Hello, {{name}}"},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	version := decodeData[model.PromptVersion](t, resp)

	resp = e.request(t, http.MethodPost, "/v1/versions/"+version.ID.String()+"/parameters", map[string]any{
		"name":       "default",
		"provider":   "openai",
		"model":      "gpt-4o",
		"max_tokens": 256,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	param := decodeData[model.Parameter](t, resp)

	resp = e.request(t, http.MethodPost, "/v1/credentials", map[string]any{
		"name":     "test-key",
		"provider": "openai",
		"secret":   "sk-test",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	cred := decodeData[model.Credential](t, resp)

	return version.ID, param.ID, cred.ID
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeData[map[string]any](t, resp)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "connected", body["database"])

	creds, ok := body["credentials"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 0, creds["count"])
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.srv.URL + "/v1/prompts")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	detail := decodeError(t, resp)
	assert.Equal(t, model.ErrCodeUnauthorized, detail.Code)

	resp = env.requestAs(t, "not-a-jwt", http.MethodGet, "/v1/prompts", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestPromptCRUD(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodPost, "/v1/prompts", map[string]any{
		"name":        "welcome",
		"description": "greets new users",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	prompt := decodeData[model.Prompt](t, resp)
	assert.Equal(t, "welcome", prompt.Name)
	assert.Equal(t, env.workspaceID, prompt.WorkspaceID)

	resp = env.request(t, http.MethodGet, "/v1/prompts/"+prompt.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeData[model.Prompt](t, resp)
	assert.Equal(t, prompt.ID, got.ID)

	// A different workspace cannot see it.
	otherToken, _, err := env.jwtMgr.IssueToken(uuid.New(), "other")
	require.NoError(t, err)
	resp = env.requestAs(t, otherToken, http.MethodGet, "/v1/prompts/"+prompt.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	// Versions number serially.
	for i := 1; i <= 2; i++ {
		resp = env.request(t, http.MethodPost, "/v1/prompts/"+prompt.ID.String()+"/versions", map[string]any{
			"template": []map[string]string{{"role": "user", "content": "v"}},
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		version := decodeData[model.PromptVersion](t, resp)
		assert.Equal(t, i, version.Number)
	}

	resp = env.request(t, http.MethodGet, "/v1/prompts/"+prompt.ID.String()+"/versions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	versions := decodeData[[]model.PromptVersion](t, resp)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Number)

	// Invalid template role is rejected.
	resp = env.request(t, http.MethodPost, "/v1/prompts/"+prompt.ID.String()+"/versions", map[string]any{
		"template": []map[string]string{{"role": "robot", "content": "v"}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestCredentialLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodPost, "/v1/credentials", map[string]any{
		"name":     "prod-key",
		"provider": "anthropic",
		"secret":   "sk-ant-secret",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	raw, err := json.Marshal(decodeData[map[string]any](t, resp))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "sk-ant-secret")

	resp = env.request(t, http.MethodGet, "/v1/credentials", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	creds := decodeData[[]model.Credential](t, resp)
	require.Len(t, creds, 1)

	resp = env.request(t, http.MethodPost, "/v1/credentials/"+creds[0].ID.String()+"/revoke", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Double revoke is a 404.
	resp = env.request(t, http.MethodPost, "/v1/credentials/"+creds[0].ID.String()+"/revoke", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestExecuteSync(t *testing.T) {
	env := newTestEnv(t)
	versionID, paramID, credID := env.seedPipeline(t)

	resp := env.request(t, http.MethodPost, "/v1/executions", map[string]any{
		"version_id":    versionID,
		"parameter_id":  paramID,
		"credential_id": credID,
		"variables":     map[string]string{"name": "Ada"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	exec := decodeData[model.Execution](t, resp)

	assert.Equal(t, model.StatusSuccess, exec.Status)
	require.Len(t, exec.Output, 1)
	assert.Equal(t, "Hello from stub", exec.Output[0].Content)
	assert.Equal(t, 8, exec.Usage.TotalTokens)
	assert.Equal(t, "Hello, Ada", exec.Input[1].Content)

	// The record is durable and fetchable.
	resp = env.request(t, http.MethodGet, "/v1/executions/"+exec.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeData[model.Execution](t, resp)
	assert.Equal(t, exec.ID, got.ID)
}

func TestExecuteValidationAndLookup(t *testing.T) {
	env := newTestEnv(t)
	_, paramID, credID := env.seedPipeline(t)

	resp := env.request(t, http.MethodPost, "/v1/executions", map[string]any{
		"parameter_id":  paramID,
		"credential_id": credID,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	detail := decodeError(t, resp)
	assert.Equal(t, model.ErrCodeInvalidInput, detail.Code)

	resp = env.request(t, http.MethodPost, "/v1/executions", map[string]any{
		"version_id":    uuid.New(),
		"parameter_id":  paramID,
		"credential_id": credID,
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	detail = decodeError(t, resp)
	assert.Equal(t, model.ErrCodeNotFound, detail.Code)
}

func TestExecuteRecordsRenderFailure(t *testing.T) {
	env := newTestEnv(t)
	versionID, paramID, credID := env.seedPipeline(t)

	// Missing template variable: the attempt is recorded as a failure,
	// not rejected up front.
	resp := env.request(t, http.MethodPost, "/v1/executions", map[string]any{
		"version_id":    versionID,
		"parameter_id":  paramID,
		"credential_id": credID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	exec := decodeData[model.Execution](t, resp)

	assert.Equal(t, model.StatusFailure, exec.Status)
	require.NotNil(t, exec.Error)
	assert.Equal(t, model.ErrCodeMissingVariable, exec.Error.Code)
	assert.Contains(t, exec.Error.Message, "name")
}

func TestExecuteStream(t *testing.T) {
	env := newTestEnv(t)
	versionID, paramID, credID := env.seedPipeline(t)

	body, err := json.Marshal(map[string]any{
		"version_id":    versionID,
		"parameter_id":  paramID,
		"credential_id": credID,
		"variables":     map[string]string{"name": "Ada"},
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/v1/executions/stream", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+env.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var chunks []string
	var done model.Execution
	sawDone := false

	scanner := bufio.NewScanner(resp.Body)
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
				require.NoError(t, json.Unmarshal([]byte(data), &frame))
				chunks = append(chunks, frame.Text)
			case "done":
				require.NoError(t, json.Unmarshal([]byte(data), &done))
				sawDone = true
			}
		}
	}
	require.NoError(t, scanner.Err())

	assert.Equal(t, []string{"Hello ", "from stub"}, chunks)
	require.True(t, sawDone)
	assert.Equal(t, model.StatusSuccess, done.Status)
	assert.Equal(t, "Hello from stub", done.Output[0].Content)
}

func TestListExecutionsPagination(t *testing.T) {
	env := newTestEnv(t)
	versionID, paramID, credID := env.seedPipeline(t)

	// Five executions, oldest first.
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		resp := env.request(t, http.MethodPost, "/v1/executions", map[string]any{
			"version_id":    versionID,
			"parameter_id":  paramID,
			"credential_id": credID,
			"variables":     map[string]string{"name": fmt.Sprintf("user-%d", i)},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		ids = append(ids, decodeData[model.Execution](t, resp).ID)
		time.Sleep(5 * time.Millisecond) // Distinct created_at values.
	}

	listPage := func(query string) ([]model.Execution, *string) {
		resp := env.request(t, http.MethodGet, "/v1/executions?"+query, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		defer resp.Body.Close()
		var envelope struct {
			Data       []model.Execution `json:"data"`
			NextCursor *string           `json:"next_cursor"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
		return envelope.Data, envelope.NextCursor
	}

	page1, next := listPage("limit=2")
	require.Len(t, page1, 2)
	assert.Equal(t, ids[0], page1[0].ID)
	assert.Equal(t, ids[1], page1[1].ID)
	require.NotNil(t, next)

	page2, next2 := listPage("limit=2&after=" + *next)
	require.Len(t, page2, 2)
	assert.Equal(t, ids[2], page2[0].ID)
	assert.Equal(t, ids[3], page2[1].ID)
	require.NotNil(t, next2)

	page3, next3 := listPage("limit=2&after=" + *next2)
	require.Len(t, page3, 1)
	assert.Equal(t, ids[4], page3[0].ID)
	assert.Nil(t, next3)

	// Error paths.
	resp := env.request(t, http.MethodGet, "/v1/executions?after=garbage", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	detail := decodeError(t, resp)
	assert.Equal(t, model.ErrCodeMalformedCursor, detail.Code)

	resp = env.request(t, http.MethodGet, "/v1/executions?after="+*next+"&before="+*next, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	detail = decodeError(t, resp)
	assert.Equal(t, model.ErrCodeAmbiguousCursor, detail.Code)
}

func TestRateLimit(t *testing.T) {
	limiter := ratelimit.NewLimiter()
	defer limiter.Close()
	env := newTestEnv(t, func(sc *server.ServerConfig) {
		sc.Limiter = limiter
	})

	var last *http.Response
	for i := 0; i < 301; i++ {
		if last != nil {
			last.Body.Close()
		}
		last = env.request(t, http.MethodGet, "/v1/prompts", nil)
	}
	assert.Equal(t, http.StatusTooManyRequests, last.StatusCode)
	assert.NotEmpty(t, last.Header.Get("Retry-After"))
	detail := decodeError(t, last)
	assert.Equal(t, model.ErrCodeRateLimited, detail.Code)
}

func TestSubscribeWithoutBroker(t *testing.T) {
	env := newTestEnv(t, func(sc *server.ServerConfig) {
		sc.Broker = nil
	})

	resp := env.request(t, http.MethodGet, "/v1/subscribe", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	detail := decodeError(t, resp)
	assert.Equal(t, model.ErrCodeInternalError, detail.Code)
}

func TestSubscribeFeed(t *testing.T) {
	env := newTestEnv(t)
	versionID, paramID, credID := env.seedPipeline(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.broker.Start(ctx)
	time.Sleep(200 * time.Millisecond) // Let the broker begin listening.

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.srv.URL+"/v1/subscribe", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+env.token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "data: ") {
				events <- strings.TrimPrefix(line, "data: ")
				return
			}
		}
	}()

	// Give the subscription time to register before triggering an event.
	time.Sleep(100 * time.Millisecond)

	execResp := env.request(t, http.MethodPost, "/v1/executions", map[string]any{
		"version_id":    versionID,
		"parameter_id":  paramID,
		"credential_id": credID,
		"variables":     map[string]string{"name": "Ada"},
	})
	require.Equal(t, http.StatusOK, execResp.StatusCode)
	exec := decodeData[model.Execution](t, execResp)

	select {
	case payload := <-events:
		var event struct {
			ID          uuid.UUID `json:"id"`
			WorkspaceID uuid.UUID `json:"workspace_id"`
			Status      string    `json:"status"`
		}
		require.NoError(t, json.Unmarshal([]byte(payload), &event))
		assert.Equal(t, exec.ID, event.ID)
		assert.Equal(t, env.workspaceID, event.WorkspaceID)
		assert.Equal(t, "success", event.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for execution event")
	}
}
