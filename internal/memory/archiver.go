package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/spheredev/sphere/internal/logicaldate"
	"github.com/spheredev/sphere/internal/storage"
)

// ArchiveRequest names the session state to archive. Turns and Summary
// are normally loaded from the session snapshot; the manual trigger may
// supply them directly.
type ArchiveRequest struct {
	Turns   []Turn
	Summary string
	Date    logicaldate.Date
}

// ArchiveResult is the outcome of one archive run.
type ArchiveResult struct {
	Success        bool          `json:"success"`
	SessionSummary string        `json:"session_summary"`
	NewSummary     string        `json:"new_summary"`
	ArchiveFile    string        `json:"archive_file"`
	PatchResults   []PatchResult `json:"patch_results"`
	Error          string        `json:"error,omitempty"`
}

// Archiver closes out a logical day: it writes the permanent day
// record, consolidates the rolling summary for the next day, and runs
// the patch engine over the day's turns.
type Archiver struct {
	store   storage.Store
	scopes  storage.Scopes
	llm     Completer
	patcher *Patcher
	manager *Manager
	logger  *slog.Logger
}

func NewArchiver(store storage.Store, scopes storage.Scopes, llmc Completer, patcher *Patcher, manager *Manager, logger *slog.Logger) *Archiver {
	return &Archiver{store: store, scopes: scopes, llm: llmc, patcher: patcher, manager: manager, logger: logger}
}

// ArchiveFilename returns the record file name for a logical date.
func ArchiveFilename(d logicaldate.Date) string {
	return "session-archive_" + d.String() + ".md"
}

// RunForDate archives the session of the given logical date, loading
// its state from the snapshot (or the live session when the date is
// today's).
func (a *Archiver) RunForDate(ctx context.Context, date logicaldate.Date) *ArchiveResult {
	req := ArchiveRequest{Date: date}

	if date == a.manager.Today() {
		s, err := a.manager.Snapshot(ctx)
		if err != nil {
			return &ArchiveResult{Error: err.Error()}
		}
		req.Turns = s.Turns
		req.Summary = s.Summary
	} else {
		snap, err := storage.LoadSession(ctx, a.store, a.scopes.Current, date)
		if err != nil {
			return &ArchiveResult{Error: err.Error()}
		}
		if snap != nil {
			req.Turns = snap.Turns
			req.Summary = snap.Summary
		}
	}
	return a.Run(ctx, req)
}

// Run executes the archive pipeline. An empty turn buffer is a no-op
// that leaves everything unchanged. Patch failures are reported per
// file and never fail the run; a storage failure writing the record or
// resetting the session does.
func (a *Archiver) Run(ctx context.Context, req ArchiveRequest) *ArchiveResult {
	if len(req.Turns) == 0 {
		a.logger.Info("archive skipped, empty turn buffer", "date", req.Date)
		return &ArchiveResult{Success: true, NewSummary: req.Summary}
	}

	daySummary, err := a.llm.Complete(ctx, daySummarySystem, daySummaryUser(req.Summary, req.Turns))
	if err != nil {
		return &ArchiveResult{Error: fmt.Sprintf("day summary: %v", err)}
	}

	newSummary, err := a.llm.Complete(ctx, consolidateSystem, daySummary)
	if err != nil {
		return &ArchiveResult{SessionSummary: daySummary, Error: fmt.Sprintf("consolidation: %v", err)}
	}

	var patchResults []PatchResult
	proposals, err := a.patcher.Detect(ctx, req.Turns)
	if err != nil {
		// Detection output that does not decode discards this cycle's
		// document updates; the archive itself still proceeds.
		a.logger.Error("patch detection failed", "date", req.Date, "error", err)
	} else {
		patchResults = a.patcher.Apply(ctx, proposals, req.Date)
	}

	result := &ArchiveResult{
		SessionSummary: daySummary,
		NewSummary:     newSummary,
		PatchResults:   patchResults,
	}

	record := a.renderRecord(req, daySummary, newSummary, patchResults)
	archivePath := path.Join(a.scopes.Sessions, ArchiveFilename(req.Date))
	if err := a.store.Write(ctx, archivePath, record); err != nil {
		result.Error = fmt.Sprintf("write archive record: %v", err)
		return result
	}
	result.ArchiveFile = ArchiveFilename(req.Date)

	// Pinned facts must survive the reset; if they cannot be read the
	// session is left as-is for a re-run.
	s, err := a.manager.Snapshot(ctx)
	if err != nil {
		result.Error = fmt.Sprintf("load pinned facts: %v", err)
		return result
	}
	if err := a.manager.Reset(ctx, req.Date, newSummary, s.PinnedFacts); err != nil {
		result.Error = fmt.Sprintf("reset session: %v", err)
		return result
	}

	result.Success = true
	a.logger.Info("day archived", "date", req.Date, "file", result.ArchiveFile, "patches", len(patchResults))
	return result
}

// renderRecord produces the immutable archive document: human-readable
// markdown with the raw state embedded as JSON for tooling.
func (a *Archiver) renderRecord(req ArchiveRequest, daySummary, newSummary string, patches []PatchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Session archive %s\n\n", req.Date)
	fmt.Fprintf(&b, "## Day summary\n\n%s\n\n", daySummary)
	fmt.Fprintf(&b, "## Carried summary\n\n%s\n\n", newSummary)

	b.WriteString("## Memory updates\n\n")
	if len(patches) == 0 {
		b.WriteString("none\n\n")
	} else {
		for _, p := range patches {
			fmt.Fprintf(&b, "- %s: %s", p.Filename, p.Action)
			if p.Reason != "" {
				fmt.Fprintf(&b, " (%s)", p.Reason)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	data, _ := json.MarshalIndent(struct {
		Date         string        `json:"date"`
		Turns        []Turn        `json:"turns"`
		Summary      string        `json:"summary"`
		DaySummary   string        `json:"day_summary"`
		NewSummary   string        `json:"new_summary"`
		PatchResults []PatchResult `json:"patch_results"`
	}{
		Date:         req.Date.String(),
		Turns:        req.Turns,
		Summary:      req.Summary,
		DaySummary:   daySummary,
		NewSummary:   newSummary,
		PatchResults: patches,
	}, "", "  ")

	fmt.Fprintf(&b, "## Data\n\n```json\n%s\n```\n", data)
	return b.String()
}
