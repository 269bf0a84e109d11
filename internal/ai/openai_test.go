package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ccrvlh/codey-sub000/internal/engine"
)

func TestOpenAICompatStreamTurn(t *testing.T) {
	var gotReq oaiChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("auth header = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hello \"}}]}\n\n")
		fmt.Fprint(w, ": keepalive comment, ignored\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"world\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":10,\"completion_tokens\":2}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewOpenAICompatProvider(srv.URL, "test-key", "test-model", 0)
	history := []engine.Message{
		{Role: engine.RoleUser, Parts: []engine.Part{engine.TextPart("hi")}},
	}
	ch, err := p.StreamTurn(context.Background(), "be terse", history)
	if err != nil {
		t.Fatalf("StreamTurn: %v", err)
	}

	var text strings.Builder
	var usage engine.Usage
	for chunk := range ch {
		switch chunk.Kind {
		case engine.ChunkText:
			text.WriteString(chunk.Text)
		case engine.ChunkUsage:
			usage.Add(chunk.Usage)
		case engine.ChunkError:
			t.Fatalf("error chunk: %v", chunk.Err)
		}
	}
	if text.String() != "Hello world" {
		t.Errorf("text = %q", text.String())
	}
	if usage.InputTokens != 10 || usage.OutputTokens != 2 {
		t.Errorf("usage = %+v", usage)
	}

	if !gotReq.Stream {
		t.Error("request not streaming")
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" || gotReq.Messages[1].Content != "hi" {
		t.Errorf("messages = %+v", gotReq.Messages)
	}
}

func TestOpenAICompatErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"model not found"}}`, http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewOpenAICompatProvider(srv.URL, "", "missing", 0)
	_, err := p.StreamTurn(context.Background(), "", []engine.Message{
		{Role: engine.RoleUser, Parts: []engine.Part{engine.TextPart("hi")}},
	})
	if err == nil {
		t.Fatal("StreamTurn succeeded against a 404")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("err = %v", err)
	}
}

func TestBuildMessagesRolesAndImages(t *testing.T) {
	history := []engine.Message{
		{Role: engine.RoleUser, Parts: []engine.Part{engine.TextPart("start")}},
		{Role: engine.RoleAssistant, Parts: []engine.Part{
			engine.TextPart("reading"),
			{Kind: engine.PartToolUse, ToolID: "t1", ToolName: "read_file"},
		}},
		{Role: engine.RoleUser, Parts: []engine.Part{
			engine.ToolResultPart("t1", "read_file", "contents"),
			{Kind: engine.PartImage, ImageData: "aGk=", MediaType: "image/png"},
		}},
		{Role: engine.RoleUser, Parts: nil}, // empty messages are dropped
	}
	out := buildMessages(history)
	if len(out) != 3 {
		t.Fatalf("messages = %d, want 3", len(out))
	}
	if out[1].Role != "assistant" {
		t.Errorf("role[1] = %q", out[1].Role)
	}
	if len(out[2].Content) != 2 {
		t.Errorf("third message has %d blocks, want text + image", len(out[2].Content))
	}
}
