package agent

import (
	"context"

	"github.com/spheredev/sphere/internal/llm"
)

// RunFallback streams a tool-less completion over the same conversation.
// It is the degraded path: single request, content only.
func (l *Loop) RunFallback(ctx context.Context, messages []llm.Message, emit Emit) (*Result, error) {
	ch, err := l.llm.Stream(ctx, messages, nil)
	if err != nil {
		return nil, err
	}

	result := &Result{Rounds: 1, FellBack: true}
	var content []byte
	var streamErr error
	terminated := false
	for chunk := range ch {
		switch chunk.Kind {
		case llm.KindContent:
			content = append(content, chunk.Delta...)
			emit(Event{Kind: EventContent, Text: chunk.Delta})
		case llm.KindFinal, llm.KindToolCalls:
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
	result.Content = string(content)
	return result, nil
}

// RunWithFallback runs the tool loop and, when it fails before any
// answer text reached the caller, retries once on the tool-less path.
// A loop failure after content has streamed is returned as-is: replaying
// the answer from scratch would duplicate what the user already saw.
func (l *Loop) RunWithFallback(ctx context.Context, messages []llm.Message, emit Emit) (*Result, error) {
	emitted := false
	wrapped := func(ev Event) {
		if ev.Kind == EventContent {
			emitted = true
		}
		emit(ev)
	}

	result, err := l.Run(ctx, messages, wrapped)
	if err == nil {
		return result, nil
	}
	if emitted || ctx.Err() != nil {
		return nil, err
	}

	l.logger.Warn("tool loop failed, using fallback", "error", err)
	return l.RunFallback(ctx, messages, emit)
}
