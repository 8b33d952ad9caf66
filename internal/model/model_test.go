package model

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsageReconcile(t *testing.T) {
	t.Run("total filled from parts when omitted", func(t *testing.T) {
		u := Usage{InputTokens: 10, OutputTokens: 5}.Reconcile()
		assert.Equal(t, 15, u.TotalTokens)
		assert.False(t, u.Mismatch)
	})

	t.Run("matching total passes through", func(t *testing.T) {
		u := Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}.Reconcile()
		assert.Equal(t, 15, u.TotalTokens)
		assert.False(t, u.Mismatch)
	})

	t.Run("mismatched total is recorded as-is and flagged", func(t *testing.T) {
		u := Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 99}.Reconcile()
		assert.Equal(t, 99, u.TotalTokens)
		assert.True(t, u.Mismatch)
	})
}

func TestExecutionStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusSuccess.Terminal())
	assert.True(t, StatusFailure.Terminal())
}

func TestExecuteRequestValidate(t *testing.T) {
	valid := ExecuteRequest{
		VersionID:    uuid.New(),
		ParameterID:  uuid.New(),
		CredentialID: uuid.New(),
		Variables:    map[string]string{"name": "Ada"},
	}
	require.NoError(t, valid.Validate())

	t.Run("missing version", func(t *testing.T) {
		r := valid
		r.VersionID = uuid.Nil
		assert.Error(t, r.Validate())
	})

	t.Run("oversized variable", func(t *testing.T) {
		r := valid
		r.Variables = map[string]string{"blob": string(make([]byte, MaxVariableValueLen+1))}
		assert.Error(t, r.Validate())
	})

	t.Run("empty variable name", func(t *testing.T) {
		r := valid
		r.Variables = map[string]string{"": "x"}
		assert.Error(t, r.Validate())
	})
}

func TestCreateVersionRequestValidate(t *testing.T) {
	ok := CreateVersionRequest{Template: []TemplateMessage{
		{Role: RoleSystem, Content: "You are terse."},
		{Role: RoleUser, Content: "Hello {{name}}"},
	}}
	require.NoError(t, ok.Validate())

	t.Run("empty template", func(t *testing.T) {
		assert.Error(t, CreateVersionRequest{}.Validate())
	})

	t.Run("unknown role", func(t *testing.T) {
		r := CreateVersionRequest{Template: []TemplateMessage{{Role: "narrator", Content: "x"}}}
		assert.Error(t, r.Validate())
	})
}

func TestCreateParameterRequestValidate(t *testing.T) {
	temp := float32(0.7)
	ok := CreateParameterRequest{
		Name:        "default",
		Provider:    ProviderOpenAI,
		Model:       "gpt-4o",
		Temperature: &temp,
		MaxTokens:   1024,
	}
	require.NoError(t, ok.Validate())

	t.Run("unknown provider", func(t *testing.T) {
		r := ok
		r.Provider = "cohere"
		assert.Error(t, r.Validate())
	})

	t.Run("non-positive max_tokens", func(t *testing.T) {
		r := ok
		r.MaxTokens = 0
		assert.Error(t, r.Validate())
	})

	t.Run("temperature out of range", func(t *testing.T) {
		bad := float32(2.5)
		r := ok
		r.Temperature = &bad
		assert.Error(t, r.Validate())
	})
}
