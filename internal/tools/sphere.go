package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/spheredev/sphere/internal/logicaldate"
	"github.com/spheredev/sphere/internal/memdoc"
	"github.com/spheredev/sphere/internal/memory"
	"github.com/spheredev/sphere/internal/storage"
)

// Archiver is the slice of the archive pipeline the trigger tool needs.
type Archiver interface {
	RunForDate(ctx context.Context, date logicaldate.Date) *memory.ArchiveResult
}

// RegisterSphereTools wires the built-in tools into the registry.
func RegisterSphereTools(r *Registry, store storage.Store, scopes storage.Scopes, archiver Archiver, loc *time.Location, logger *slog.Logger) {
	r.Register(fetchMemoryTool(store, scopes, loc, logger))
	r.Register(listMemoriesTool(store, scopes))
	r.Register(triggerArchiveTool(archiver, loc))
}

func fetchMemoryTool(store storage.Store, scopes storage.Scopes, loc *time.Location, logger *slog.Logger) *Tool {
	return &Tool{
		Name:        "fetch_memory",
		Description: "Read a long-term memory file. With keywords, returns only the matching sections; without, returns the beginning of the file.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"filename": map[string]any{
					"type":        "string",
					"description": "Memory file name, e.g. career.md",
				},
				"keywords": map[string]any{
					"type":        "string",
					"description": "Optional search term to narrow the result",
				},
			},
			"required": []string{"filename"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			filename := stringArg(args, "filename")
			if filename == "" {
				return "", fmt.Errorf("filename is required")
			}
			docPath := path.Join(scopes.Memory, filename)

			content, err := store.Read(ctx, docPath)
			if err != nil {
				if storage.IsNotFound(err) {
					return fmt.Sprintf("No memory file named %q exists. Use list_available_memories to see what does.", filename), nil
				}
				return "", err
			}

			// Access tracking is best effort; a failed write never
			// costs the model its answer.
			today := logicaldate.Now(loc)
			stamped := memdoc.StampAccessed(content, today.String())
			if stamped != content {
				if err := store.Write(ctx, docPath, stamped); err != nil {
					logger.Warn("access stamp write failed", "file", filename, "error", err)
				}
			}

			return memdoc.Search(content, stringArg(args, "keywords")), nil
		},
	}
}

func listMemoriesTool(store storage.Store, scopes storage.Scopes) *Tool {
	return &Tool{
		Name:        "list_available_memories",
		Description: "List the long-term memory files that exist.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			names, err := store.List(ctx, scopes.Memory)
			if err != nil {
				return "", err
			}
			var mdNames []string
			for _, n := range names {
				if strings.HasSuffix(n, ".md") {
					mdNames = append(mdNames, n)
				}
			}
			if len(mdNames) == 0 {
				return "No memory files exist yet.", nil
			}
			return strings.Join(mdNames, "\n"), nil
		},
	}
}

func triggerArchiveTool(archiver Archiver, loc *time.Location) *Tool {
	return &Tool{
		Name:        "trigger_daily_archive",
		Description: "Archive the current day's conversation now instead of waiting for the nightly run. Use only when the user explicitly asks for it.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			res := archiver.RunForDate(ctx, logicaldate.Now(loc))
			data, err := json.Marshal(res)
			if err != nil {
				return "", err
			}
			return string(data), nil
		},
	}
}
