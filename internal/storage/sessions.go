package storage

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"time"

	"github.com/spheredev/sphere/internal/llm"
	"github.com/spheredev/sphere/internal/logicaldate"
)

// SessionSnapshot is the persisted form of the live session. One file
// exists per logical day.
type SessionSnapshot struct {
	Turns       []llm.Message `json:"turns"`
	Summary     string        `json:"summary"`
	PinnedFacts []string      `json:"pinned_facts,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at"`
	Date        string        `json:"date"`
}

// SessionFilename returns the snapshot file name for a logical date.
func SessionFilename(d logicaldate.Date) string {
	return "current_session_" + d.String() + ".json"
}

// SaveSession writes the snapshot for its date into dir.
func SaveSession(ctx context.Context, s Store, dir string, snap *SessionSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	d, err := logicaldate.Parse(snap.Date)
	if err != nil {
		return err
	}
	return s.Write(ctx, path.Join(dir, SessionFilename(d)), string(data))
}

// LoadSession reads the snapshot for date from dir. A missing snapshot
// returns (nil, nil): the first message of a new day starts from empty.
func LoadSession(ctx context.Context, s Store, dir string, date logicaldate.Date) (*SessionSnapshot, error) {
	content, err := s.Read(ctx, path.Join(dir, SessionFilename(date)))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var snap SessionSnapshot
	if err := json.Unmarshal([]byte(content), &snap); err != nil {
		return nil, &OpError{Op: "decode session", Path: SessionFilename(date), Err: err}
	}
	return &snap, nil
}
