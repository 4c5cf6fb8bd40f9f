package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spheredev/sphere/internal/agent"
	"github.com/spheredev/sphere/internal/llm"
)

type chatRequest struct {
	Message string `json:"message"`
}

const interruptedNotice = "The conversation was interrupted. Please try again."

// handleChat streams one chat exchange as server-sent events: status
// and content while the agent works, one metadata event with the
// updated session, and a terminal done event in every outcome.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	reqID := newRequestID()
	logger := s.logger.With("request", reqID)
	ctx := r.Context()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sse := &eventWriter{w: w, rc: http.NewResponseController(w)}
	defer sse.send("done", "")

	sess, err := s.manager.Snapshot(ctx)
	if err != nil {
		logger.Error("session load failed", "error", err)
		sse.send("content", interruptedNotice)
		sse.sendJSON("error", map[string]string{"kind": "storage", "message": err.Error()})
		return
	}

	files, err := s.store.List(ctx, s.scopes.Memory)
	if err != nil {
		// The model can still answer without the inventory.
		logger.Warn("memory listing failed", "error", err)
		files = nil
	}
	var mdFiles []string
	for _, f := range files {
		if strings.HasSuffix(f, ".md") {
			mdFiles = append(mdFiles, f)
		}
	}

	messages := agent.BuildMessages(sess, mdFiles, req.Message)
	emit := func(ev agent.Event) {
		switch ev.Kind {
		case agent.EventStatus:
			sse.send("status", ev.Text)
		case agent.EventContent:
			sse.send("content", ev.Text)
		}
	}

	result, err := s.runner.RunWithFallback(ctx, messages, emit)
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("client disconnected mid-chat")
			return
		}
		logger.Error("chat failed", "error", err)
		sse.send("content", interruptedNotice)
		sse.sendJSON("error", map[string]string{"kind": errKind(err), "message": err.Error()})
		return
	}

	updated, err := s.manager.Append(ctx, req.Message, result.Content)
	if err != nil {
		// The answer already streamed; losing the snapshot write is an
		// operator problem, not a user-facing one.
		logger.Error("session append failed", "error", err)
		updated = sess
	}

	sse.sendJSON("metadata", map[string]any{
		"summary": updated.Summary,
		"turns":   updated.Turns,
		"debug": map[string]any{
			"rounds":     result.Rounds,
			"tool_calls": result.ToolCalls,
			"fell_back":  result.FellBack,
		},
	})
}

func errKind(err error) string {
	var te *llm.TransportError
	switch {
	case errors.As(err, &te):
		return "transport"
	case errors.Is(err, agent.ErrRoundsExceeded):
		return "rounds_exceeded"
	default:
		return "internal"
	}
}

// eventWriter writes named SSE events, flushing after each one.
type eventWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func (e *eventWriter) send(name, data string) {
	fmt.Fprintf(e.w, "event: %s\n", name)
	if data == "" {
		fmt.Fprint(e.w, "data: \n")
	} else {
		for _, line := range strings.Split(data, "\n") {
			fmt.Fprintf(e.w, "data: %s\n", line)
		}
	}
	fmt.Fprint(e.w, "\n")
	_ = e.rc.Flush()
}

func (e *eventWriter) sendJSON(name string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	e.send(name, string(data))
}
