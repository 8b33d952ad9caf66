package provider

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/promptdeck/promptdeck/internal/model"
)

// anthropicDefaultMaxTokens applies when a parameter set leaves max_tokens
// at zero; the Anthropic API rejects requests without a limit.
const anthropicDefaultMaxTokens = 1024

// Anthropic streams completions through the Anthropic Messages API.
type Anthropic struct{}

func NewAnthropic() *Anthropic {
	return &Anthropic{}
}

func (p *Anthropic) Kind() model.ProviderKind {
	return model.ProviderAnthropic
}

func (p *Anthropic) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	opts := []option.RequestOption{option.WithAPIKey(req.APIKey)}
	if req.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(req.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	maxTokens := req.Params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Params.Model),
		MaxTokens: int64(maxTokens),
	}
	if req.Params.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*req.Params.Temperature))
	}
	if req.Params.TopP != nil {
		params.TopP = anthropic.Float(float64(*req.Params.TopP))
	}

	// System messages live outside the message list in the Anthropic API.
	for _, m := range req.Messages {
		switch m.Role {
		case model.RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Content})
		case model.RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	stream := client.Messages.NewStreaming(ctx, params)

	chunks := make(chan Chunk)
	go func() {
		defer close(chunks)
		defer stream.Close()

		var usage model.Usage
		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "message_start":
				start := event.AsMessageStart()
				usage.InputTokens = int(start.Message.Usage.InputTokens)
			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				if delta.Type == "text_delta" && delta.Text != "" {
					chunks <- Chunk{Text: delta.Text}
				}
			case "message_delta":
				md := event.AsMessageDelta()
				if md.Usage.OutputTokens > 0 {
					usage.OutputTokens = int(md.Usage.OutputTokens)
				}
			case "message_stop":
				chunks <- Chunk{Done: true, Usage: &usage}
				return
			}
		}
		if err := stream.Err(); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			chunks <- Chunk{Err: err}
			return
		}
		// Stream ended without message_stop; treat as complete.
		chunks <- Chunk{Done: true, Usage: &usage}
	}()
	return chunks, nil
}
