package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/spheredev/sphere/internal/llm"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStreamer plays one scripted chunk sequence per round and records
// the message history it was called with.
type fakeStreamer struct {
	rounds    [][]llm.StreamChunk
	calls     int
	histories [][]llm.Message
	err       error
}

func (f *fakeStreamer) Stream(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (<-chan llm.StreamChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.histories = append(f.histories, append([]llm.Message(nil), messages...))
	round := f.calls
	if round >= len(f.rounds) {
		round = len(f.rounds) - 1
	}
	f.calls++

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		for _, c := range f.rounds[round] {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

type fakeExecutor struct {
	fn    func(ctx context.Context, name string, args map[string]any) (string, error)
	calls []struct {
		name string
		args map[string]any
	}
}

func (f *fakeExecutor) Specs() []llm.ToolSpec {
	return []llm.ToolSpec{{Type: "function", Function: llm.FunctionSpec{Name: "fetch_memory"}}}
}

func (f *fakeExecutor) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	f.calls = append(f.calls, struct {
		name string
		args map[string]any
	}{name, args})
	if f.fn == nil {
		return "ok", nil
	}
	return f.fn(ctx, name, args)
}

func toolCallChunk(calls ...llm.ToolCall) llm.StreamChunk {
	return llm.StreamChunk{Kind: llm.KindToolCalls, ToolCalls: calls}
}

func contentChunks(text string) []llm.StreamChunk {
	return []llm.StreamChunk{
		{Kind: llm.KindContent, Delta: text},
		{Kind: llm.KindFinal},
	}
}

func call(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Type: "function", Function: llm.FunctionCall{Name: name, Arguments: args}}
}

func collectEvents() (Emit, *[]Event) {
	var events []Event
	return func(ev Event) { events = append(events, ev) }, &events
}

func TestRun_ContentOnly(t *testing.T) {
	streamer := &fakeStreamer{rounds: [][]llm.StreamChunk{contentChunks("plain answer")}}
	loop := NewLoop(streamer, &fakeExecutor{}, Options{}, discardLogger())
	emit, events := collectEvents()

	res, err := loop.Run(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, emit)
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "plain answer" || res.Rounds != 1 || res.ToolCalls != 0 {
		t.Errorf("result = %+v", res)
	}
	if len(*events) != 1 || (*events)[0].Kind != EventContent {
		t.Errorf("events = %+v", *events)
	}
}

func TestRun_TwoRoundToolScenario(t *testing.T) {
	streamer := &fakeStreamer{rounds: [][]llm.StreamChunk{
		{toolCallChunk(call("call_1", "fetch_memory", `{"filename":"career.md"}`))},
		contentChunks("done"),
	}}
	exec := &fakeExecutor{fn: func(_ context.Context, _ string, _ map[string]any) (string, error) {
		return "memory content", nil
	}}
	loop := NewLoop(streamer, exec, Options{}, discardLogger())
	emit, events := collectEvents()

	res, err := loop.Run(context.Background(), []llm.Message{{Role: "user", Content: "what do I do?"}}, emit)
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "done" || res.Rounds != 2 || res.ToolCalls != 1 {
		t.Errorf("result = %+v", res)
	}
	if len(exec.calls) != 1 || exec.calls[0].args["filename"] != "career.md" {
		t.Errorf("executor calls = %+v", exec.calls)
	}

	// Second round sees the assistant tool request and its result.
	second := streamer.histories[1]
	if len(second) != 3 {
		t.Fatalf("second-round history = %+v", second)
	}
	if second[1].Role != "assistant" || len(second[1].ToolCalls) != 1 {
		t.Errorf("assistant turn = %+v", second[1])
	}
	if second[2].Role != "tool" || second[2].Content != "memory content" || second[2].ToolCallID != "call_1" {
		t.Errorf("tool turn = %+v", second[2])
	}

	var sawStatus bool
	for _, ev := range *events {
		if ev.Kind == EventStatus && strings.Contains(ev.Text, "fetch_memory") {
			sawStatus = true
		}
	}
	if !sawStatus {
		t.Errorf("no tool status event: %+v", *events)
	}
}

func TestRun_BoundedRounds(t *testing.T) {
	streamer := &fakeStreamer{rounds: [][]llm.StreamChunk{
		{toolCallChunk(call("c", "fetch_memory", "{}"))},
	}}
	loop := NewLoop(streamer, &fakeExecutor{}, Options{MaxRounds: 3}, discardLogger())

	_, err := loop.Run(context.Background(), nil, func(Event) {})
	if !errors.Is(err, ErrRoundsExceeded) {
		t.Fatalf("err = %v", err)
	}
	if streamer.calls != 3 {
		t.Errorf("streamed %d rounds, want 3", streamer.calls)
	}
}

func TestRun_ToolCallCap(t *testing.T) {
	calls := make([]llm.ToolCall, 7)
	for i := range calls {
		calls[i] = call(fmt.Sprintf("c%d", i), "fetch_memory", "{}")
	}
	streamer := &fakeStreamer{rounds: [][]llm.StreamChunk{
		{toolCallChunk(calls...)},
		contentChunks("done"),
	}}
	exec := &fakeExecutor{}
	loop := NewLoop(streamer, exec, Options{}, discardLogger())
	emit, events := collectEvents()

	res, err := loop.Run(context.Background(), nil, emit)
	if err != nil {
		t.Fatal(err)
	}
	if res.ToolCalls != DefaultMaxToolsPerRound {
		t.Errorf("executed %d calls, want %d", res.ToolCalls, DefaultMaxToolsPerRound)
	}
	var warned bool
	for _, ev := range *events {
		if ev.Kind == EventStatus && strings.Contains(ev.Text, "Limiting") {
			warned = true
		}
	}
	if !warned {
		t.Error("no cap warning emitted")
	}
}

func TestRun_MalformedArgumentsBecomeEmptyObject(t *testing.T) {
	streamer := &fakeStreamer{rounds: [][]llm.StreamChunk{
		{toolCallChunk(call("c1", "fetch_memory", `{"filename": career`))},
		contentChunks("done"),
	}}
	exec := &fakeExecutor{}
	loop := NewLoop(streamer, exec, Options{}, discardLogger())

	if _, err := loop.Run(context.Background(), nil, func(Event) {}); err != nil {
		t.Fatal(err)
	}
	if len(exec.calls) != 1 || len(exec.calls[0].args) != 0 {
		t.Errorf("executor calls = %+v", exec.calls)
	}
}

func TestRun_ToolTimeoutBecomesTextualResult(t *testing.T) {
	streamer := &fakeStreamer{rounds: [][]llm.StreamChunk{
		{toolCallChunk(call("c1", "fetch_memory", "{}"))},
		contentChunks("done"),
	}}
	exec := &fakeExecutor{fn: func(ctx context.Context, _ string, _ map[string]any) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	loop := NewLoop(streamer, exec, Options{ToolTimeout: 20 * time.Millisecond}, discardLogger())

	res, err := loop.Run(context.Background(), nil, func(Event) {})
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "done" {
		t.Errorf("content = %q", res.Content)
	}
	second := streamer.histories[1]
	toolTurn := second[len(second)-1]
	if !strings.Contains(toolTurn.Content, "timed out") {
		t.Errorf("tool turn = %+v", toolTurn)
	}
}

func TestRun_ToolErrorBecomesTextualResult(t *testing.T) {
	streamer := &fakeStreamer{rounds: [][]llm.StreamChunk{
		{toolCallChunk(call("c1", "fetch_memory", "{}"))},
		contentChunks("done"),
	}}
	exec := &fakeExecutor{fn: func(context.Context, string, map[string]any) (string, error) {
		return "", errors.New("backend unreachable")
	}}
	loop := NewLoop(streamer, exec, Options{}, discardLogger())

	if _, err := loop.Run(context.Background(), nil, func(Event) {}); err != nil {
		t.Fatal(err)
	}
	toolTurn := streamer.histories[1][len(streamer.histories[1])-1]
	if !strings.Contains(toolTurn.Content, "backend unreachable") {
		t.Errorf("tool turn = %+v", toolTurn)
	}
}

func TestRun_ResultsKeepIssueOrder(t *testing.T) {
	streamer := &fakeStreamer{rounds: [][]llm.StreamChunk{
		{toolCallChunk(
			call("c1", "fetch_memory", `{"filename":"a.md"}`),
			call("c2", "fetch_memory", `{"filename":"b.md"}`),
		)},
		contentChunks("done"),
	}}
	exec := &fakeExecutor{fn: func(_ context.Context, _ string, args map[string]any) (string, error) {
		return "content of " + args["filename"].(string), nil
	}}
	loop := NewLoop(streamer, exec, Options{}, discardLogger())

	if _, err := loop.Run(context.Background(), nil, func(Event) {}); err != nil {
		t.Fatal(err)
	}
	second := streamer.histories[1]
	if second[len(second)-2].Content != "content of a.md" || second[len(second)-2].ToolCallID != "c1" {
		t.Errorf("first result = %+v", second[len(second)-2])
	}
	if second[len(second)-1].Content != "content of b.md" || second[len(second)-1].ToolCallID != "c2" {
		t.Errorf("second result = %+v", second[len(second)-1])
	}
}

func TestRun_TruncatedStreamIsError(t *testing.T) {
	streamer := streamerFunc(func(ctx context.Context, _ []llm.Message, _ []llm.ToolSpec) (<-chan llm.StreamChunk, error) {
		ch := make(chan llm.StreamChunk, 1)
		ch <- llm.StreamChunk{Kind: llm.KindContent, Delta: "partial"}
		close(ch)
		return ch, nil
	})
	loop := NewLoop(streamer, &fakeExecutor{}, Options{}, discardLogger())

	res, err := loop.Run(context.Background(), nil, func(Event) {})
	if err == nil {
		t.Fatalf("truncated stream returned success: %+v", res)
	}
	if !errors.Is(err, errStreamTruncated) {
		t.Errorf("err = %v", err)
	}
}

func TestRun_BudgetExpiryFailsNotPartialAnswer(t *testing.T) {
	streamer := streamerFunc(func(ctx context.Context, _ []llm.Message, _ []llm.ToolSpec) (<-chan llm.StreamChunk, error) {
		ch := make(chan llm.StreamChunk)
		go func() {
			defer close(ch)
			ch <- llm.StreamChunk{Kind: llm.KindContent, Delta: "partial"}
			// Stall until the loop's budget context expires.
			<-ctx.Done()
		}()
		return ch, nil
	})
	loop := NewLoop(streamer, &fakeExecutor{}, Options{TotalBudget: 30 * time.Millisecond}, discardLogger())

	res, err := loop.Run(context.Background(), nil, func(Event) {})
	if err == nil {
		t.Fatalf("budget expiry returned success: %+v", res)
	}
	if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, errStreamTruncated) {
		t.Errorf("err = %v", err)
	}
}

func TestRunFallback_TruncatedStreamIsError(t *testing.T) {
	streamer := streamerFunc(func(ctx context.Context, _ []llm.Message, _ []llm.ToolSpec) (<-chan llm.StreamChunk, error) {
		ch := make(chan llm.StreamChunk, 1)
		ch <- llm.StreamChunk{Kind: llm.KindContent, Delta: "partial"}
		close(ch)
		return ch, nil
	})
	loop := NewLoop(streamer, &fakeExecutor{}, Options{}, discardLogger())

	if _, err := loop.RunFallback(context.Background(), nil, func(Event) {}); err == nil {
		t.Fatal("truncated fallback stream returned success")
	}
}

func TestRunWithFallback_TransportErrorFallsBack(t *testing.T) {
	inner := &fakeStreamer{rounds: [][]llm.StreamChunk{contentChunks("fallback answer")}}
	callCount := 0
	streamer := streamerFunc(func(ctx context.Context, msgs []llm.Message, tools []llm.ToolSpec) (<-chan llm.StreamChunk, error) {
		callCount++
		if callCount == 1 {
			return nil, &llm.TransportError{Op: "chat", Err: errors.New("refused")}
		}
		if tools != nil {
			t.Error("fallback passed tool schema")
		}
		return inner.Stream(ctx, msgs, tools)
	})
	loop := NewLoop(streamer, &fakeExecutor{}, Options{}, discardLogger())

	res, err := loop.RunWithFallback(context.Background(), nil, func(Event) {})
	if err != nil {
		t.Fatal(err)
	}
	if !res.FellBack || res.Content != "fallback answer" {
		t.Errorf("result = %+v", res)
	}
}

type streamerFunc func(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (<-chan llm.StreamChunk, error)

func (f streamerFunc) Stream(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (<-chan llm.StreamChunk, error) {
	return f(ctx, messages, tools)
}

func TestRunWithFallback_NoRetryAfterContentStreamed(t *testing.T) {
	streamer := &fakeStreamer{rounds: [][]llm.StreamChunk{{
		{Kind: llm.KindContent, Delta: "partial"},
		{Kind: llm.KindError, Err: errors.New("mid-stream failure")},
	}}}
	loop := NewLoop(streamer, &fakeExecutor{}, Options{}, discardLogger())

	_, err := loop.RunWithFallback(context.Background(), nil, func(Event) {})
	if err == nil {
		t.Fatal("expected error")
	}
	if streamer.calls != 1 {
		t.Errorf("streamed %d times, want 1 (no fallback)", streamer.calls)
	}
}
