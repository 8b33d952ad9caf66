package executions_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/promptdeck/promptdeck/internal/credentials"
	"github.com/promptdeck/promptdeck/internal/model"
	"github.com/promptdeck/promptdeck/internal/provider"
	"github.com/promptdeck/promptdeck/internal/secrets"
	"github.com/promptdeck/promptdeck/internal/testutil"
)

// scriptedProvider plays back a fixed chunk sequence with an optional
// inter-chunk delay, honoring cancellation between chunks.
type scriptedProvider struct {
	kind   model.ProviderKind
	chunks []provider.Chunk
	delay  time.Duration
}

func (p *scriptedProvider) Kind() model.ProviderKind { return p.kind }

func (p *scriptedProvider) Stream(ctx context.Context, req provider.Request) (<-chan provider.Chunk, error) {
	out := make(chan provider.Chunk)
	go func() {
		defer close(out)
		for _, c := range p.chunks {
			if p.delay > 0 {
				select {
				case <-ctx.Done():
					out <- provider.Chunk{Err: ctx.Err()}
					return
				case <-time.After(p.delay):
				}
			}
			select {
			case <-ctx.Done():
				out <- provider.Chunk{Err: ctx.Err()}
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

// fixture seeds one workspace with a prompt, a version, a parameter set,
// and a cached credential bound to the given provider kind.
type fixture struct {
	WorkspaceID  uuid.UUID
	VersionID    uuid.UUID
	ParameterID  uuid.UUID
	CredentialID uuid.UUID
	Cache        *credentials.Cache
}

func seed(t *testing.T, template []model.TemplateMessage, kind model.ProviderKind) fixture {
	t.Helper()
	ctx := context.Background()
	wsID := uuid.New()

	prompt, err := testDB.CreatePrompt(ctx, model.Prompt{WorkspaceID: wsID, Name: "fixture-" + uuid.NewString()})
	require.NoError(t, err)

	version, err := testDB.CreateVersion(ctx, wsID, model.PromptVersion{
		PromptID: prompt.ID,
		Template: template,
	})
	require.NoError(t, err)

	param, err := testDB.CreateParameter(ctx, wsID, model.Parameter{
		VersionID: version.ID,
		Name:      "default",
		Provider:  kind,
		Model:     "test-model",
		MaxTokens: 256,
	})
	require.NoError(t, err)

	hexKey, err := secrets.GenerateKey()
	require.NoError(t, err)
	keeper, err := secrets.NewKeeper(hexKey)
	require.NoError(t, err)
	sealedKey, err := keeper.Seal("sk-fixture")
	require.NoError(t, err)

	cred, err := testDB.CreateCredential(ctx, model.Credential{
		WorkspaceID: wsID,
		Name:        "fixture",
		Provider:    kind,
		Secret:      sealedKey,
	})
	require.NoError(t, err)

	cache := credentials.New(testDB, keeper, time.Minute, testutil.TestLogger())
	require.NoError(t, cache.Refresh(ctx))

	return fixture{
		WorkspaceID:  wsID,
		VersionID:    version.ID,
		ParameterID:  param.ID,
		CredentialID: cred.ID,
		Cache:        cache,
	}
}
