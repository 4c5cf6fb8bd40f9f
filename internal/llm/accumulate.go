package llm

import "sort"

// toolCallDelta is the streamed fragment form of a tool call. The model
// sends one fragment with id/name and then argument continuations, all
// keyed by index.
type toolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

// toolCallAccumulator assembles streamed fragments into complete tool
// calls. Fragments for the same index concatenate their argument text;
// id and name stick from whichever fragment carried them.
type toolCallAccumulator struct {
	byIndex map[int]*ToolCall
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIndex: make(map[int]*ToolCall)}
}

func (a *toolCallAccumulator) add(frag toolCallDelta) {
	tc, ok := a.byIndex[frag.Index]
	if !ok {
		tc = &ToolCall{Type: "function"}
		a.byIndex[frag.Index] = tc
	}
	if frag.ID != "" {
		tc.ID = frag.ID
	}
	if frag.Type != "" {
		tc.Type = frag.Type
	}
	if frag.Function.Name != "" {
		tc.Function.Name = frag.Function.Name
	}
	tc.Function.Arguments += frag.Function.Arguments
}

// adopt takes already assembled calls from a terminal message.
func (a *toolCallAccumulator) adopt(calls []ToolCall) {
	for i, tc := range calls {
		c := tc
		a.byIndex[i] = &c
	}
}

func (a *toolCallAccumulator) empty() bool { return len(a.byIndex) == 0 }

// calls returns the assembled tool calls in index order.
func (a *toolCallAccumulator) calls() []ToolCall {
	if len(a.byIndex) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(a.byIndex))
	for i := range a.byIndex {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	out := make([]ToolCall, 0, len(indexes))
	for _, i := range indexes {
		out = append(out, *a.byIndex[i])
	}
	return out
}
