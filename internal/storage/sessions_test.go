package storage

import (
	"context"
	"testing"
	"time"

	"github.com/spheredev/sphere/internal/llm"
	"github.com/spheredev/sphere/internal/logicaldate"
)

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	date := logicaldate.Date{Year: 2025, Month: 3, Day: 14}

	snap := &SessionSnapshot{
		Turns: []llm.Message{
			{Role: "user", Content: "morning"},
			{Role: "assistant", Content: "morning, what's on today?"},
		},
		Summary:   "User greeted the assistant.",
		UpdatedAt: time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC),
		Date:      "2025-03-14",
	}
	if err := SaveSession(ctx, store, "/obsidian/sessions/current", snap); err != nil {
		t.Fatal(err)
	}

	got, err := LoadSession(ctx, store, "/obsidian/sessions/current", date)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("snapshot not found after save")
	}
	if len(got.Turns) != 2 || got.Turns[1].Content != "morning, what's on today?" {
		t.Errorf("turns = %+v", got.Turns)
	}
	if got.Summary != snap.Summary || got.Date != snap.Date {
		t.Errorf("got %+v", got)
	}
}

func TestLoadSession_Missing(t *testing.T) {
	got, err := LoadSession(context.Background(), NewMemStore(), "/dir", logicaldate.Date{Year: 2025, Month: 1, Day: 1})
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("got %+v, want nil", got)
	}
}

func TestSessionFilename(t *testing.T) {
	d := logicaldate.Date{Year: 2025, Month: 3, Day: 5}
	if got := SessionFilename(d); got != "current_session_2025-03-05.json" {
		t.Errorf("got %q", got)
	}
}
