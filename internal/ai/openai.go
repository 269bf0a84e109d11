package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ccrvlh/codey-sub000/internal/engine"
)

// OpenAICompatProvider streams turns through any OpenAI-compatible chat
// completions endpoint (Ollama, LM Studio, vLLM and the like). These servers
// expose a plain SSE stream, so this adapter talks HTTP directly.
type OpenAICompatProvider struct {
	baseURL   string
	apiKey    string
	model     string
	maxTokens int
	client    *http.Client
}

func NewOpenAICompatProvider(baseURL, apiKey, model string, maxTokens int) *OpenAICompatProvider {
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &OpenAICompatProvider{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		apiKey:    apiKey,
		model:     model,
		maxTokens: maxTokens,
		client:    &http.Client{Timeout: 10 * time.Minute},
	}
}

type oaiChatRequest struct {
	Model         string           `json:"model"`
	Messages      []oaiMessage     `json:"messages"`
	MaxTokens     int              `json:"max_tokens,omitempty"`
	Stream        bool             `json:"stream"`
	StreamOptions oaiStreamOptions `json:"stream_options"`
}

type oaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *OpenAICompatProvider) StreamTurn(ctx context.Context, system string, history []engine.Message) (<-chan engine.Chunk, error) {
	messages := make([]oaiMessage, 0, len(history)+1)
	if system != "" {
		messages = append(messages, oaiMessage{Role: "system", Content: system})
	}
	for _, msg := range history {
		content := engine.HistoryText(msg)
		if content == "" {
			continue
		}
		messages = append(messages, oaiMessage{Role: string(msg.Role), Content: content})
	}

	body, err := json.Marshal(oaiChatRequest{
		Model:         p.model,
		Messages:      messages,
		MaxTokens:     p.maxTokens,
		Stream:        true,
		StreamOptions: oaiStreamOptions{IncludeUsage: true},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat completions request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("chat completions: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	out := make(chan engine.Chunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return
			}
			var chunk oaiStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if chunk.Error != nil {
				out <- engine.Chunk{Kind: engine.ChunkError, Err: fmt.Errorf("backend error: %s", chunk.Error.Message)}
				return
			}
			if chunk.Usage != nil {
				out <- engine.Chunk{Kind: engine.ChunkUsage, Usage: engine.Usage{
					InputTokens:  chunk.Usage.PromptTokens,
					OutputTokens: chunk.Usage.CompletionTokens,
				}}
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					out <- engine.Chunk{Kind: engine.ChunkText, Text: choice.Delta.Content}
				}
			}
		}
		if err := scanner.Err(); err != nil {
			out <- engine.Chunk{Kind: engine.ChunkError, Err: fmt.Errorf("read stream: %w", err)}
		}
	}()
	return out, nil
}
