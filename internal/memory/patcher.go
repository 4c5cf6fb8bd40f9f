package memory

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/spheredev/sphere/internal/logicaldate"
	"github.com/spheredev/sphere/internal/memdoc"
	"github.com/spheredev/sphere/internal/storage"
	"github.com/spheredev/sphere/internal/structured"
)

// PatchProposal is one detected change to a long-term memory document.
type PatchProposal struct {
	Filename          string `json:"filename"`
	Reason            string `json:"reason"`
	ChangeInstruction string `json:"change_instruction"`
}

// PatchResult reports the outcome of applying one proposal.
type PatchResult struct {
	Filename string `json:"filename"`
	Action   string `json:"action"`
	Reason   string `json:"reason,omitempty"`
	Error    string `json:"error,omitempty"`
}

const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionSkipped = "skipped"
	ActionFailed  = "failed"
)

// Names reserved for the session and archive machinery. A proposal
// whose filename contains one of these would let the model overwrite
// operational records, so it is dropped.
var reservedNameParts = []string{"session", "archive", "会话"}

func validFilename(name string) bool {
	if name == "" || strings.ContainsAny(name, "/\\") {
		return false
	}
	lower := strings.ToLower(name)
	for _, part := range reservedNameParts {
		if strings.Contains(lower, part) {
			return false
		}
	}
	return true
}

// Patcher maintains the long-term memory documents (M3).
type Patcher struct {
	store  storage.Store
	scopes storage.Scopes
	llm    Completer
	logger *slog.Logger
}

func NewPatcher(store storage.Store, scopes storage.Scopes, llmc Completer, logger *slog.Logger) *Patcher {
	return &Patcher{store: store, scopes: scopes, llm: llmc, logger: logger}
}

// Detect asks the model which documents the day's turns should change.
// An undecodable model response fails the whole detection cycle;
// existing documents are left alone and the next run starts fresh.
func (p *Patcher) Detect(ctx context.Context, turns []Turn) ([]PatchProposal, error) {
	files, err := p.store.List(ctx, p.scopes.Memory)
	if err != nil {
		return nil, fmt.Errorf("list memory documents: %w", err)
	}

	raw, err := p.llm.Complete(ctx, patchDetectSystem, patchDetectUser(turns, files))
	if err != nil {
		return nil, err
	}

	var proposals []PatchProposal
	if err := structured.Decode(raw, &proposals); err != nil {
		return nil, err
	}

	out := proposals[:0]
	for _, prop := range proposals {
		if !validFilename(prop.Filename) {
			p.logger.Warn("dropping patch proposal with invalid filename", "filename", prop.Filename)
			continue
		}
		if !strings.HasSuffix(prop.Filename, ".md") {
			prop.Filename += ".md"
		}
		out = append(out, prop)
	}
	return out, nil
}

// Apply executes each proposal: a missing document is scaffolded from
// scratch, an existing one is rewritten in full with its section list
// pinned in the prompt. Failures are reported per file and never stop
// the batch.
func (p *Patcher) Apply(ctx context.Context, proposals []PatchProposal, date logicaldate.Date) []PatchResult {
	results := make([]PatchResult, 0, len(proposals))
	for _, prop := range proposals {
		results = append(results, p.applyOne(ctx, prop, date))
	}
	return results
}

func (p *Patcher) applyOne(ctx context.Context, prop PatchProposal, date logicaldate.Date) PatchResult {
	res := PatchResult{Filename: prop.Filename, Reason: prop.Reason}
	docPath := path.Join(p.scopes.Memory, prop.Filename)

	content, err := p.store.Read(ctx, docPath)
	exists := true
	if err != nil {
		if !storage.IsNotFound(err) {
			res.Action = ActionFailed
			res.Error = err.Error()
			return res
		}
		exists = false
	}

	var raw string
	if exists {
		var headings []string
		for _, h := range memdoc.Headings(content) {
			if h.Level == 2 {
				headings = append(headings, h.Text)
			}
		}
		raw, err = p.llm.Complete(ctx, patchEditSystem,
			patchEditUser(prop.Filename, content, prop.ChangeInstruction, date.String(), headings))
	} else {
		raw, err = p.llm.Complete(ctx, patchScaffoldSystem,
			patchScaffoldUser(prop.Filename, prop.ChangeInstruction, date.String()))
	}
	if err != nil {
		res.Action = ActionFailed
		res.Error = err.Error()
		return res
	}

	doc := structured.StripFences(raw)
	if strings.TrimSpace(doc) == "" {
		res.Action = ActionSkipped
		res.Error = "model returned empty document"
		return res
	}

	if err := p.store.Write(ctx, docPath, doc); err != nil {
		res.Action = ActionFailed
		res.Error = err.Error()
		return res
	}

	if exists {
		res.Action = ActionUpdated
	} else {
		res.Action = ActionCreated
	}
	p.logger.Info("memory document patched", "file", prop.Filename, "action", res.Action)
	return res
}
