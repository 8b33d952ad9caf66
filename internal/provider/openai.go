package provider

import (
	"context"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/promptdeck/promptdeck/internal/model"
)

// OpenAI streams chat completions through the OpenAI-compatible API.
// Clients are built per request because the key and base URL come from
// the executing credential.
type OpenAI struct{}

func NewOpenAI() *OpenAI {
	return &OpenAI{}
}

func (p *OpenAI) Kind() model.ProviderKind {
	return model.ProviderOpenAI
}

func (p *OpenAI) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	cfg := openai.DefaultConfig(req.APIKey)
	if req.BaseURL != "" {
		cfg.BaseURL = req.BaseURL
	}
	client := openai.NewClientWithConfig(cfg)

	chatReq := openai.ChatCompletionRequest{
		Model:     req.Params.Model,
		MaxTokens: req.Params.MaxTokens,
		Messages:  toOpenAIMessages(req.Messages),
		Stream:    true,
		// Without this the final usage accounting never arrives.
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if req.Params.Temperature != nil {
		chatReq.Temperature = *req.Params.Temperature
	}
	if req.Params.TopP != nil {
		chatReq.TopP = *req.Params.TopP
	}

	stream, err := client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, err
	}

	chunks := make(chan Chunk)
	go relayOpenAI(ctx, stream, chunks)
	return chunks, nil
}

func relayOpenAI(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- Chunk) {
	defer close(chunks)
	defer stream.Close()

	var usage *model.Usage
	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				chunks <- Chunk{Done: true, Usage: usage}
				return
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			chunks <- Chunk{Err: err}
			return
		}

		// With IncludeUsage the last payload carries usage and no choices.
		if resp.Usage != nil {
			usage = &model.Usage{
				InputTokens:  resp.Usage.PromptTokens,
				OutputTokens: resp.Usage.CompletionTokens,
				TotalTokens:  resp.Usage.TotalTokens,
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			chunks <- Chunk{Text: delta}
		}
	}
}

func toOpenAIMessages(messages []model.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		}
	}
	return out
}
