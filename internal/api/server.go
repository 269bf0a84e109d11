package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ccrvlh/codey-sub000/internal/engine"
	"github.com/ccrvlh/codey-sub000/internal/eventbus"
	"github.com/ccrvlh/codey-sub000/internal/state"
)

type Server struct {
	Tasks    *Manager
	Bus      *eventbus.Bus
	Store    *state.Store
	Approver *Approver
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/tasks", s.handleTasks)
	mux.HandleFunc("/api/tasks/", s.handleTaskItem)
	mux.HandleFunc("/api/stream", s.handleStreamWS)
	mux.HandleFunc("/api/streams/subscribe", s.handleStreamSubscribe)
	mux.HandleFunc("/api/streams/", s.handleStreams)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		items, err := s.Tasks.List(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if items == nil {
			items = []engine.TaskSnapshot{}
		}
		writeJSON(w, http.StatusOK, items)
	case http.MethodPost:
		var payload struct {
			Prompt string `json:"prompt"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		snap, err := s.Tasks.Start(r.Context(), payload.Prompt)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, snap)
	default:
		writeMethodNotAllowed(w)
	}
}

func (s *Server) handleTaskItem(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		writeError(w, http.StatusNotFound, errNotFound("task"))
		return
	}
	taskID := segments[0]
	if len(segments) == 1 {
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		s.handleTaskGet(w, r, taskID)
		return
	}

	switch segments[1] {
	case "respond":
		s.handleTaskRespond(w, r, taskID)
	case "abort":
		s.handleTaskAbort(w, r, taskID)
	case "resume":
		s.handleTaskResume(w, r, taskID)
	default:
		writeError(w, http.StatusNotFound, errNotFound("task action"))
	}
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request, taskID string) {
	snap, err := s.Tasks.Get(r.Context(), taskID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, state.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	transcript, err := s.Store.LoadTranscript(r.Context(), taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if transcript == nil {
		transcript = []engine.TranscriptEntry{}
	}
	out := map[string]any{"task": snap, "transcript": transcript}
	if s.Approver != nil {
		if ask, ok := s.Approver.PendingAsk(taskID); ok {
			out["pending_ask"] = ask
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTaskRespond(w http.ResponseWriter, r *http.Request, taskID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var payload struct {
		Response string   `json:"response"`
		Text     string   `json:"text"`
		Images   []string `json:"images"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	outcome, err := parseOutcome(payload.Response)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err = s.Approver.Respond(taskID, engine.AskResponse{
		Response: outcome,
		Text:     payload.Text,
		Images:   payload.Images,
	})
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleTaskAbort(w http.ResponseWriter, r *http.Request, taskID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if err := s.Tasks.Abort(taskID); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleTaskResume(w http.ResponseWriter, r *http.Request, taskID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	snap, err := s.Tasks.Resume(r.Context(), taskID)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, state.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/streams/")
	stream := strings.Trim(path, "/")
	if stream == "" || strings.Contains(stream, "/") {
		writeError(w, http.StatusNotFound, errNotFound("stream"))
		return
	}
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	items, err := s.Bus.List(r.Context(), stream, eventbus.ListOptions{
		TaskID: r.URL.Query().Get("task_id"),
		Limit:  parseInt(r.URL.Query().Get("limit"), 50),
		Order:  r.URL.Query().Get("order"),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if items == nil {
		items = []eventbus.Event{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleStreamSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	streamList := subscribeStreams(r)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errNotFound("streaming support"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	_, _ = w.Write([]byte(":ok\n\n"))
	flusher.Flush()

	ctx := r.Context()
	sub := s.Bus.Subscribe(ctx, streamList, r.URL.Query().Get("task_id"))

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			payload, _ := json.Marshal(evt)
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}

func subscribeStreams(r *http.Request) []string {
	streamsParam := r.URL.Query().Get("streams")
	if streamsParam == "" {
		streamsParam = "say,ask,answer,status"
	}
	return splitComma(streamsParam)
}

func parseOutcome(value string) (engine.AskOutcome, error) {
	switch engine.AskOutcome(value) {
	case engine.AskApproved, engine.AskDenied, engine.AskFeedback:
		return engine.AskOutcome(value), nil
	}
	return "", fmt.Errorf("invalid response %q", value)
}

func decodeJSON(body io.Reader, dest any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitComma(value string) []string {
	parts := strings.Split(value, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

type notFoundError struct {
	msg string
}

func (e notFoundError) Error() string { return e.msg }

func errNotFound(target string) error {
	return notFoundError{msg: target + " not found"}
}
