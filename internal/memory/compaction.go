package memory

import (
	"context"
	"log/slog"

	"github.com/spheredev/sphere/internal/config"
)

// Compactor regenerates the rolling summary when the turn buffer grows
// past its thresholds. Compression failure is non-fatal: the buffer
// keeps growing and the next exchange retries.
type Compactor struct {
	llm    Completer
	cfg    config.MemoryConfig
	logger *slog.Logger
}

func NewCompactor(llmc Completer, cfg config.MemoryConfig, logger *slog.Logger) *Compactor {
	return &Compactor{llm: llmc, cfg: cfg, logger: logger}
}

// shouldCompact applies the trigger policy: a full buffer always
// compresses; a half-full buffer compresses once to bootstrap the first
// summary.
func (c *Compactor) shouldCompact(summary string, turns []Turn) bool {
	if len(turns) >= c.cfg.CompressAt {
		return true
	}
	return summary == "" && len(turns) >= c.cfg.BootstrapAt
}

// Compact returns the regenerated summary and the retained recent turns.
// compacted is false when the thresholds were not met or the LLM call
// failed; the caller keeps its state unchanged in that case.
func (c *Compactor) Compact(ctx context.Context, summary string, turns []Turn) (string, []Turn, bool) {
	if !c.shouldCompact(summary, turns) {
		return "", nil, false
	}

	keep := c.cfg.KeepRecent
	if keep > len(turns) {
		keep = len(turns)
	}
	old := turns[:len(turns)-keep]
	kept := append([]Turn(nil), turns[len(turns)-keep:]...)

	var newSummary string
	var err error
	if summary == "" {
		newSummary, err = c.llm.Complete(ctx, bootstrapSummarySystem, bootstrapSummaryUser(old))
	} else {
		newSummary, err = c.llm.Complete(ctx, mergeSummarySystem, mergeSummaryUser(summary, old))
	}
	if err != nil {
		c.logger.Error("summary compression failed", "turns", len(turns), "error", err)
		return "", nil, false
	}
	if newSummary == "" {
		c.logger.Warn("summary compression returned empty output")
		return "", nil, false
	}

	c.logger.Info("summary compressed", "dropped", len(old), "kept", keep)
	return newSummary, kept, true
}
