// Package agent runs the streaming tool loop that turns a chat request
// into an answer: rounds of model inference, each optionally requesting
// tool calls whose results feed the next round.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spheredev/sphere/internal/llm"
)

// Defaults for the loop bounds.
const (
	DefaultMaxRounds        = 5
	DefaultMaxToolsPerRound = 5
	DefaultToolTimeout      = 30 * time.Second
	DefaultTotalBudget      = 60 * time.Second
)

// ErrRoundsExceeded reports that the model kept requesting tools past
// the round limit.
var ErrRoundsExceeded = errors.New("agent: tool rounds exceeded")

// errStreamTruncated reports a stream that closed before delivering its
// terminal chunk. Partial content must not pass as a finished answer.
var errStreamTruncated = errors.New("agent: stream closed before completing")

// EventKind discriminates the events streamed to the caller while the
// loop runs.
type EventKind int

const (
	// EventStatus is human-readable progress text (tool notices).
	EventStatus EventKind = iota
	// EventContent is incremental answer text.
	EventContent
)

// Event is one progress notification.
type Event struct {
	Kind EventKind
	Text string
}

// Emit receives events as the loop produces them. It is called from the
// loop's goroutine; implementations must not block indefinitely.
type Emit func(Event)

// Result summarizes a finished run.
type Result struct {
	// Content is the full answer text, identical to the concatenation
	// of the EventContent events.
	Content   string
	Rounds    int
	ToolCalls int
	// FellBack is set when the answer came from the tool-less path.
	FellBack bool
}

// Streamer is the inference surface the loop consumes.
type Streamer interface {
	Stream(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (<-chan llm.StreamChunk, error)
}

// Executor runs tool calls.
type Executor interface {
	Specs() []llm.ToolSpec
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
}

// Options bound the loop. Zero values take the defaults.
type Options struct {
	MaxRounds        int
	MaxToolsPerRound int
	ToolTimeout      time.Duration
	TotalBudget      time.Duration
}

func (o *Options) applyDefaults() {
	if o.MaxRounds <= 0 {
		o.MaxRounds = DefaultMaxRounds
	}
	if o.MaxToolsPerRound <= 0 {
		o.MaxToolsPerRound = DefaultMaxToolsPerRound
	}
	if o.ToolTimeout <= 0 {
		o.ToolTimeout = DefaultToolTimeout
	}
	if o.TotalBudget <= 0 {
		o.TotalBudget = DefaultTotalBudget
	}
}

// Loop is the tool execution loop.
type Loop struct {
	llm    Streamer
	tools  Executor
	opts   Options
	logger *slog.Logger
}

func NewLoop(llmc Streamer, tools Executor, opts Options, logger *slog.Logger) *Loop {
	opts.applyDefaults()
	return &Loop{llm: llmc, tools: tools, opts: opts, logger: logger}
}

// Run executes the loop over messages until the model answers without
// requesting tools, a bound trips, or the stream fails. Content and
// status events flow through emit as they happen.
func (l *Loop) Run(ctx context.Context, messages []llm.Message, emit Emit) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opts.TotalBudget)
	defer cancel()

	history := append([]llm.Message(nil), messages...)
	result := &Result{}
	var content strings.Builder

	for round := 1; round <= l.opts.MaxRounds; round++ {
		result.Rounds = round

		ch, err := l.llm.Stream(ctx, history, l.tools.Specs())
		if err != nil {
			return nil, err
		}

		var roundContent strings.Builder
		var calls []llm.ToolCall
		var streamErr error
		finished := false
		terminated := false
		for chunk := range ch {
			switch chunk.Kind {
			case llm.KindContent:
				roundContent.WriteString(chunk.Delta)
				content.WriteString(chunk.Delta)
				emit(Event{Kind: EventContent, Text: chunk.Delta})
			case llm.KindReasoning:
				// Reasoning traces stay server-side.
			case llm.KindToolCalls:
				calls = chunk.ToolCalls
				terminated = true
			case llm.KindFinal:
				finished = true
				terminated = true
			case llm.KindError:
				streamErr = chunk.Err
				terminated = true
			}
		}
		if streamErr != nil {
			return nil, streamErr
		}
		if !terminated {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, errStreamTruncated
		}
		if finished || len(calls) == 0 {
			result.Content = content.String()
			return result, nil
		}

		if len(calls) > l.opts.MaxToolsPerRound {
			l.logger.Warn("tool call cap exceeded", "requested", len(calls), "cap", l.opts.MaxToolsPerRound)
			emit(Event{Kind: EventStatus, Text: fmt.Sprintf("Limiting to %d tool calls this round.", l.opts.MaxToolsPerRound)})
			calls = calls[:l.opts.MaxToolsPerRound]
		}

		history = append(history, llm.Message{
			Role:      "assistant",
			Content:   roundContent.String(),
			ToolCalls: calls,
		})

		for _, call := range calls {
			result.ToolCalls++
			emit(Event{Kind: EventStatus, Text: fmt.Sprintf("Using %s...", call.Function.Name)})
			history = append(history, llm.Message{
				Role:       "tool",
				Content:    l.execute(ctx, call),
				ToolCallID: call.ID,
			})
		}
	}

	return nil, ErrRoundsExceeded
}

// execute runs one tool call under its own timeout. Every failure mode
// becomes a textual result so the model can react; nothing here aborts
// the round.
func (l *Loop) execute(ctx context.Context, call llm.ToolCall) string {
	name := call.Function.Name

	args := map[string]any{}
	if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			l.logger.Warn("tool arguments not decodable, using empty object", "tool", name, "error", err)
			args = map[string]any{}
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, l.opts.ToolTimeout)
	defer cancel()

	done := make(chan struct{})
	var result string
	var err error
	go func() {
		defer close(done)
		result, err = l.tools.Execute(callCtx, name, args)
	}()

	select {
	case <-done:
	case <-callCtx.Done():
		l.logger.Warn("tool timed out", "tool", name)
		return fmt.Sprintf("Tool %s timed out and produced no result.", name)
	}

	if err != nil {
		l.logger.Warn("tool failed", "tool", name, "error", err)
		return fmt.Sprintf("Tool %s failed: %v", name, err)
	}
	return result
}
