package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spheredev/sphere/internal/logicaldate"
	"github.com/spheredev/sphere/internal/storage"
)

func testArchiver(llm Completer) (*Archiver, *Manager, *storageProbe) {
	m, store, _ := testManager(llm)
	probe := &storageProbe{MemStore: store}
	patcher := NewPatcher(probe, testScopes, llm, discardLogger())
	return NewArchiver(probe, testScopes, llm, patcher, m, discardLogger()), m, probe
}

// storageProbe counts writes so no-op runs can be asserted.
type storageProbe struct {
	*storage.MemStore
	writes int
}

func (p *storageProbe) Write(ctx context.Context, path, content string) error {
	p.writes++
	return p.MemStore.Write(ctx, path, content)
}

func TestArchive_EmptyBufferIsNoOp(t *testing.T) {
	llm := &scriptLLM{}
	a, _, probe := testArchiver(llm)

	res := a.Run(context.Background(), ArchiveRequest{
		Summary: "existing summary",
		Date:    logicaldate.Date{Year: 2025, Month: 3, Day: 14},
	})
	if !res.Success {
		t.Fatalf("no-op failed: %+v", res)
	}
	if res.NewSummary != "existing summary" {
		t.Errorf("summary changed: %q", res.NewSummary)
	}
	if res.ArchiveFile != "" {
		t.Errorf("archive written for empty buffer: %q", res.ArchiveFile)
	}
	if len(llm.calls) != 0 {
		t.Errorf("llm called %d times during no-op", len(llm.calls))
	}
	if probe.writes != 0 {
		t.Errorf("%d writes during no-op", probe.writes)
	}
}

func TestArchive_FullRun(t *testing.T) {
	ctx := context.Background()
	llm := &scriptLLM{fn: func(system, user string) (string, error) {
		switch system {
		case daySummarySystem:
			return "the day in full", nil
		case consolidateSystem:
			return "carry this forward", nil
		case patchDetectSystem:
			return `[{"filename":"career.md","reason":"promotion","change_instruction":"record it"}]`, nil
		case patchScaffoldSystem:
			return "# Career\n\n## History\n[2025-03-14] Promoted.\n", nil
		}
		t.Fatalf("unexpected prompt: %q", system)
		return "", nil
	}}
	a, m, probe := testArchiver(llm)

	date := logicaldate.Date{Year: 2025, Month: 3, Day: 14}
	res := a.Run(ctx, ArchiveRequest{
		Turns:   makeTurns(4),
		Summary: "running summary",
		Date:    date,
	})
	if !res.Success {
		t.Fatalf("run failed: %+v", res)
	}
	if res.SessionSummary != "the day in full" || res.NewSummary != "carry this forward" {
		t.Errorf("summaries = %q / %q", res.SessionSummary, res.NewSummary)
	}
	if res.ArchiveFile != "session-archive_2025-03-14.md" {
		t.Errorf("archive file = %q", res.ArchiveFile)
	}
	if len(res.PatchResults) != 1 || res.PatchResults[0].Action != ActionCreated {
		t.Errorf("patch results = %+v", res.PatchResults)
	}

	record, err := probe.Read(ctx, "/obsidian/sessions/"+res.ArchiveFile)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"# Session archive 2025-03-14", "the day in full", "carry this forward", "```json"} {
		if !strings.Contains(record, want) {
			t.Errorf("record missing %q", want)
		}
	}

	s, err := m.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Turns) != 0 {
		t.Errorf("session not reset: %d turns", len(s.Turns))
	}
	if s.Summary != "carry this forward" {
		t.Errorf("session summary = %q", s.Summary)
	}
}

func TestArchive_DetectionParseFailureStillArchives(t *testing.T) {
	llm := &scriptLLM{fn: func(system, user string) (string, error) {
		switch system {
		case daySummarySystem:
			return "day summary", nil
		case consolidateSystem:
			return "new summary", nil
		case patchDetectSystem:
			return "not json at all", nil
		}
		return "", nil
	}}
	a, _, _ := testArchiver(llm)

	res := a.Run(context.Background(), ArchiveRequest{
		Turns: makeTurns(2),
		Date:  logicaldate.Date{Year: 2025, Month: 3, Day: 14},
	})
	if !res.Success {
		t.Fatalf("run failed: %+v", res)
	}
	if len(res.PatchResults) != 0 {
		t.Errorf("patch results = %+v", res.PatchResults)
	}
	if res.ArchiveFile == "" {
		t.Error("archive record not written")
	}
}

// brokenReads fails every read so session state cannot be loaded.
type brokenReads struct {
	*storage.MemStore
}

func (b *brokenReads) Read(ctx context.Context, path string) (string, error) {
	return "", &storage.OpError{Op: "read", Path: path, Err: errors.New("connection reset")}
}

func TestArchive_PinnedFactsUnreadableLeavesSession(t *testing.T) {
	ctx := context.Background()
	llm := &scriptLLM{fn: func(system, user string) (string, error) {
		switch system {
		case daySummarySystem:
			return "day", nil
		case consolidateSystem:
			return "next", nil
		case patchDetectSystem:
			return "[]", nil
		}
		return "", nil
	}}

	base := storage.NewMemStore()
	m := NewManager(&brokenReads{MemStore: base}, testScopes, llm, testMemoryConfig(), time.UTC, discardLogger())
	m.now = func() time.Time { return time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC) }
	patcher := NewPatcher(base, testScopes, llm, discardLogger())
	a := NewArchiver(base, testScopes, llm, patcher, m, discardLogger())

	date := logicaldate.Date{Year: 2025, Month: 3, Day: 14}
	res := a.Run(ctx, ArchiveRequest{Turns: makeTurns(2), Summary: "s", Date: date})
	if res.Success {
		t.Fatalf("run succeeded with unreadable pinned facts: %+v", res)
	}
	if !strings.Contains(res.Error, "pinned") {
		t.Errorf("error = %q", res.Error)
	}

	// The reset never ran, so no current-session snapshot was written.
	snap, err := storage.LoadSession(ctx, base, testScopes.Current, date)
	if err != nil {
		t.Fatal(err)
	}
	if snap != nil {
		t.Errorf("session reset despite snapshot failure: %+v", snap)
	}
}

func TestRunForDate_LoadsLiveSession(t *testing.T) {
	ctx := context.Background()
	llm := &scriptLLM{fn: func(system, user string) (string, error) {
		switch system {
		case daySummarySystem:
			if !strings.Contains(user, "hello from today") {
				t.Errorf("live turns missing from prompt: %q", user)
			}
			return "day", nil
		case consolidateSystem:
			return "next", nil
		case patchDetectSystem:
			return "[]", nil
		}
		return "", nil
	}}
	a, m, _ := testArchiver(llm)

	if _, err := m.Append(ctx, "hello from today", "hi"); err != nil {
		t.Fatal(err)
	}

	res := a.RunForDate(ctx, m.Today())
	if !res.Success {
		t.Fatalf("run failed: %+v", res)
	}
}
