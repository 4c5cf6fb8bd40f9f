// Package api exposes the HTTP surface: the streaming chat endpoint,
// the manual archive trigger, and read-only views of memory and the
// live session.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spheredev/sphere/internal/agent"
	"github.com/spheredev/sphere/internal/buildinfo"
	"github.com/spheredev/sphere/internal/llm"
	"github.com/spheredev/sphere/internal/logicaldate"
	"github.com/spheredev/sphere/internal/memory"
	"github.com/spheredev/sphere/internal/storage"
)

// ChatRunner is the agent surface the chat handler drives.
type ChatRunner interface {
	RunWithFallback(ctx context.Context, messages []llm.Message, emit agent.Emit) (*agent.Result, error)
}

// ArchiveTrigger runs a date-keyed archive on demand.
type ArchiveTrigger interface {
	TriggerNow(ctx context.Context, date logicaldate.Date) *memory.ArchiveResult
}

// DirectArchiver archives operator-supplied session state.
type DirectArchiver interface {
	Run(ctx context.Context, req memory.ArchiveRequest) *memory.ArchiveResult
}

type Server struct {
	runner   ChatRunner
	manager  *memory.Manager
	trigger  ArchiveTrigger
	archiver DirectArchiver
	store    storage.Store
	scopes   storage.Scopes
	loc      *time.Location
	logger   *slog.Logger
	mux      *http.ServeMux
}

func NewServer(runner ChatRunner, manager *memory.Manager, trigger ArchiveTrigger, archiver DirectArchiver, store storage.Store, scopes storage.Scopes, loc *time.Location, logger *slog.Logger) *Server {
	s := &Server{
		runner:   runner,
		manager:  manager,
		trigger:  trigger,
		archiver: archiver,
		store:    store,
		scopes:   scopes,
		loc:      loc,
		logger:   logger,
		mux:      http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /chat", s.handleChat)
	s.mux.HandleFunc("POST /archive/trigger", s.handleArchiveTrigger)
	s.mux.HandleFunc("GET /memory", s.handleMemoryList)
	s.mux.HandleFunc("GET /memory/{filename}", s.handleMemoryRead)
	s.mux.HandleFunc("GET /session", s.handleSession)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /version", s.handleVersion)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.mux.ServeHTTP(w, r)
	s.logger.Debug("request handled",
		"method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type archiveTriggerRequest struct {
	Turns      []llm.Message `json:"turns,omitempty"`
	Summary    string        `json:"summary,omitempty"`
	TargetDate string        `json:"target_date,omitempty"`
}

// handleArchiveTrigger runs the archive pipeline on demand. With
// explicit turns the supplied state is archived as-is; otherwise the
// session for target_date (default: today) is loaded and archived, and
// the run lands in the execution history.
func (s *Server) handleArchiveTrigger(w http.ResponseWriter, r *http.Request) {
	var req archiveTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	date := logicaldate.Now(s.loc)
	if req.TargetDate != "" {
		var err error
		date, err = logicaldate.Parse(req.TargetDate)
		if err != nil {
			errorResponse(w, http.StatusBadRequest, "invalid target_date: "+err.Error())
			return
		}
	}

	var res *memory.ArchiveResult
	if len(req.Turns) > 0 {
		res = s.archiver.Run(r.Context(), memory.ArchiveRequest{
			Turns:   req.Turns,
			Summary: req.Summary,
			Date:    date,
		})
	} else {
		res = s.trigger.TriggerNow(r.Context(), date)
	}
	writeJSON(w, http.StatusOK, res)
}

func validMemoryName(name string) bool {
	return name != "" && !strings.ContainsAny(name, "/\\") && name != "." && name != ".."
}

func (s *Server) handleMemoryList(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.List(r.Context(), s.scopes.Memory)
	if err != nil {
		errorResponse(w, http.StatusBadGateway, "listing memory failed: "+err.Error())
		return
	}
	files := make([]string, 0, len(names))
	for _, n := range names {
		if strings.HasSuffix(n, ".md") {
			files = append(files, n)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (s *Server) handleMemoryRead(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")
	if !validMemoryName(name) {
		errorResponse(w, http.StatusBadRequest, "invalid filename")
		return
	}
	content, err := s.store.Read(r.Context(), s.scopes.Memory+"/"+name)
	if err != nil {
		if storage.IsNotFound(err) {
			errorResponse(w, http.StatusNotFound, "no such memory file")
			return
		}
		errorResponse(w, http.StatusBadGateway, "reading memory failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"filename": name, "content": content})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Snapshot(r.Context())
	if err != nil {
		errorResponse(w, http.StatusBadGateway, "loading session failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":         sess.Date.String(),
		"summary":      sess.Summary,
		"pinned_facts": sess.PinnedFacts,
		"turns":        sess.Turns,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": buildinfo.Uptime().String(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.Info())
}
