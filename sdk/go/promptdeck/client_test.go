package promptdeck

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL, Token: "test-token"})
	require.NoError(t, err)
	return c
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{Token: "t"})
	assert.Error(t, err)

	_, err = NewClient(Config{BaseURL: "http://localhost:8080"})
	assert.Error(t, err)

	c, err := NewClient(Config{BaseURL: "http://localhost:8080/", Token: "t"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", c.baseURL)
}

func TestCreatePrompt(t *testing.T) {
	want := Prompt{ID: uuid.New(), WorkspaceID: uuid.New(), Name: "welcome", CreatedAt: time.Now().UTC().Truncate(time.Second)}

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/prompts", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var req CreatePromptRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "welcome", req.Name)

		writeData(w, http.StatusCreated, want)
	})

	got, err := c.CreatePrompt(context.Background(), CreatePromptRequest{Name: "welcome"})
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, "welcome", got.Name)
}

func TestErrorParsing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "NOT_FOUND", "message": "prompt not found"},
		})
	})

	_, err := c.GetPrompt(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "NOT_FOUND", apiErr.Code)
	assert.Equal(t, "prompt not found", apiErr.Message)
}

func TestExecuteReturnsFailedRecord(t *testing.T) {
	// A failed provider call still yields a 200 with a failure-status
	// record; the client must not turn it into an error.
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, Execution{
			ID:     uuid.New(),
			Status: StatusFailure,
			Error:  &ExecutionError{Code: "MISSING_VARIABLE", Message: "missing variable \"name\""},
		})
	})

	exec, err := c.Execute(context.Background(), ExecuteRequest{
		VersionID: uuid.New(), ParameterID: uuid.New(), CredentialID: uuid.New(),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, exec.Status)
	require.NotNil(t, exec.Error)
	assert.Equal(t, "MISSING_VARIABLE", exec.Error.Code)
}

func TestExecuteStream(t *testing.T) {
	execID := uuid.New()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/executions/stream", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		frames := []string{
			"event: chunk\ndata: {\"text\":\"Hello \"}\n\n",
			"event: chunk\ndata: {\"text\":\"world\"}\n\n",
		}
		for _, f := range frames {
			_, _ = w.Write([]byte(f))
		}
		done, _ := json.Marshal(Execution{ID: execID, Status: StatusSuccess})
		_, _ = w.Write([]byte("event: done\ndata: " + string(done) + "\n\n"))
	})

	var chunks []string
	exec, err := c.ExecuteStream(context.Background(), ExecuteRequest{
		VersionID: uuid.New(), ParameterID: uuid.New(), CredentialID: uuid.New(),
	}, func(text string) {
		chunks = append(chunks, text)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello ", "world"}, chunks)
	assert.Equal(t, execID, exec.ID)
	assert.Equal(t, StatusSuccess, exec.Status)
}

func TestExecuteStreamErrorEvent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("event: error\ndata: {\"code\":\"INTERNAL_ERROR\",\"message\":\"failed to record execution\"}\n\n"))
	})

	_, err := c.ExecuteStream(context.Background(), ExecuteRequest{
		VersionID: uuid.New(), ParameterID: uuid.New(), CredentialID: uuid.New(),
	}, nil)
	require.Error(t, err)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "INTERNAL_ERROR", apiErr.Code)
}

func TestListExecutionsPagination(t *testing.T) {
	var gotQuery map[string][]string

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		next := "opaque-cursor"
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data":        []Execution{{ID: uuid.New()}, {ID: uuid.New()}},
			"next_cursor": next,
			"limit":       2,
		})
	})

	status := StatusSuccess
	page, err := c.ListExecutions(context.Background(), &ListExecutionsOptions{
		Status: &status,
		After:  "prev-cursor",
		Limit:  2,
	})
	require.NoError(t, err)

	assert.Len(t, page.Executions, 2)
	assert.Equal(t, "opaque-cursor", page.NextCursor)
	assert.Equal(t, []string{"success"}, gotQuery["status"])
	assert.Equal(t, []string{"prev-cursor"}, gotQuery["after"])
	assert.Equal(t, []string{"2"}, gotQuery["limit"])
}

func TestListExecutionsFinalPage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data":  []Execution{{ID: uuid.New()}},
			"limit": 50,
		})
	})

	page, err := c.ListExecutions(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, page.Executions, 1)
	assert.Empty(t, page.NextCursor)
}

func TestRevokeCredential(t *testing.T) {
	var called bool
	id := uuid.New()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, "/v1/credentials/"+id.String()+"/revoke", r.URL.Path)
		writeData(w, http.StatusOK, map[string]string{"status": "revoked"})
	})

	require.NoError(t, c.RevokeCredential(context.Background(), id))
	assert.True(t, called)
}

func TestHealthNoAuth(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		writeData(w, http.StatusOK, HealthResponse{Status: "healthy", Database: "connected"})
	})

	health, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
}

func TestRateLimitedError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "42")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "RATE_LIMITED", "message": "rate limit exceeded"},
		})
	})

	_, err := c.ListPrompts(context.Background())
	require.Error(t, err)
	assert.True(t, IsRateLimited(err))
}
