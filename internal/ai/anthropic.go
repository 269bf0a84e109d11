package ai

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ccrvlh/codey-sub000/internal/engine"
)

const defaultAnthropicModel = "claude-sonnet-4-5"

// AnthropicProvider streams turns through the Anthropic Messages API.
type AnthropicProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

func NewAnthropicProvider(apiKey, model string, maxTokens int) *AnthropicProvider {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if model == "" {
		model = defaultAnthropicModel
	}
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &AnthropicProvider{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: int64(maxTokens),
	}
}

func (p *AnthropicProvider) StreamTurn(ctx context.Context, system string, history []engine.Message) (<-chan engine.Chunk, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: p.maxTokens,
		Messages:  buildMessages(history),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	out := make(chan engine.Chunk)
	go func() {
		defer close(out)
		stream := p.client.Messages.NewStreaming(ctx, params)
		for stream.Next() {
			event := stream.Current()
			switch variant := event.AsAny().(type) {
			case anthropic.MessageStartEvent:
				usage := variant.Message.Usage
				if usage.InputTokens > 0 || usage.CacheCreationInputTokens > 0 || usage.CacheReadInputTokens > 0 {
					out <- engine.Chunk{Kind: engine.ChunkUsage, Usage: engine.Usage{
						InputTokens: int(usage.InputTokens),
						CacheWrites: int(usage.CacheCreationInputTokens),
						CacheReads:  int(usage.CacheReadInputTokens),
					}}
				}
			case anthropic.ContentBlockDeltaEvent:
				if delta, ok := variant.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
					out <- engine.Chunk{Kind: engine.ChunkText, Text: delta.Text}
				}
			case anthropic.MessageDeltaEvent:
				if variant.Usage.OutputTokens > 0 {
					out <- engine.Chunk{Kind: engine.ChunkUsage, Usage: engine.Usage{
						OutputTokens: int(variant.Usage.OutputTokens),
					}}
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- engine.Chunk{Kind: engine.ChunkError, Err: fmt.Errorf("anthropic stream: %w", err)}
		}
	}()
	return out, nil
}

// buildMessages renders the conversation for the API. Tool invocations and
// results travel as text (the engine's tag grammar), so only text and image
// parts are materialized.
func buildMessages(history []engine.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(history))
	for _, msg := range history {
		var blocks []anthropic.ContentBlockParamUnion
		for _, part := range msg.Parts {
			switch part.Kind {
			case engine.PartImage:
				if part.ImageData != "" {
					blocks = append(blocks, anthropic.NewImageBlockBase64(part.MediaType, part.ImageData))
				}
			default:
				if text := engine.HistoryText(engine.Message{Parts: []engine.Part{part}}); text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(text))
				}
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch msg.Role {
		case engine.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		default:
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}
