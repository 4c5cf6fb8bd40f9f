package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/spheredev/sphere/internal/config"
	"github.com/spheredev/sphere/internal/httpkit"
)

// Client calls an OpenAI-compatible chat completions API.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
	logger  *slog.Logger
}

func New(cfg config.LLMConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		// Streams stay open for the lifetime of a model turn; budgets
		// are enforced by the caller's context.
		http:   httpkit.NewClient(httpkit.WithTimeout(0)),
		logger: logger,
	}
}

// Model reports the configured model name.
func (c *Client) Model() string { return c.model }

type chatRequest struct {
	Model    string     `json:"model"`
	Messages []Message  `json:"messages"`
	Tools    []ToolSpec `json:"tools,omitempty"`
	Stream   bool       `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

type streamChoice struct {
	Delta struct {
		Content          string          `json:"content"`
		ReasoningContent string          `json:"reasoning_content"`
		ToolCalls        []toolCallDelta `json:"tool_calls"`
	} `json:"delta"`
	// Some providers put the assembled message on the terminal chunk
	// instead of streaming tool call fragments.
	Message      *Message `json:"message,omitempty"`
	FinishReason string   `json:"finish_reason"`
}

type streamResponse struct {
	Choices []streamChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) post(ctx context.Context, req chatRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	c.logger.Log(ctx, config.LevelTrace, "chat request", "body", string(body))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: "chat completions", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		detail := httpkit.ReadErrorBody(resp.Body, 4096)
		return nil, &TransportError{Op: "chat completions", Err: fmt.Errorf("status %d: %s", resp.StatusCode, detail)}
	}
	return resp, nil
}

// Complete performs a blocking completion and returns the assistant text.
// Internal pipeline calls (summaries, consolidation, patch detection) go
// through here.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	messages := []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
	resp, err := c.post(ctx, chatRequest{Model: c.model, Messages: messages})
	if err != nil {
		return "", err
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &TransportError{Op: "decode response", Err: err}
	}
	if len(out.Choices) == 0 {
		return "", &TransportError{Op: "decode response", Err: fmt.Errorf("no choices")}
	}
	return out.Choices[0].Message.Content, nil
}

// Stream opens a streaming completion. The returned channel yields
// content and reasoning deltas as they arrive, then exactly one terminal
// chunk: KindToolCalls when the model requested tools, KindFinal on
// normal completion, or KindError. The channel is closed after the
// terminal chunk.
func (c *Client) Stream(ctx context.Context, messages []Message, tools []ToolSpec) (<-chan StreamChunk, error) {
	req := chatRequest{Model: c.model, Messages: messages, Tools: tools, Stream: true}
	resp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer httpkit.DrainAndClose(resp.Body, 4096)
		c.readStream(ctx, req, resp, out)
	}()
	return out, nil
}

func (c *Client) readStream(ctx context.Context, req chatRequest, resp *http.Response, out chan<- StreamChunk) {
	// The consumer drains the channel until close, so the terminal chunk
	// is sent unconditionally: a cancelled context must still surface as
	// KindError, never as a silent close after partial content.
	final := func(chunk StreamChunk) {
		out <- chunk
	}
	send := func(chunk StreamChunk) bool {
		select {
		case out <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	acc := newToolCallAccumulator()
	sawToolFinish := false

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var sr streamResponse
		if err := json.Unmarshal([]byte(data), &sr); err != nil {
			c.logger.Warn("skipping undecodable stream chunk", "error", err)
			continue
		}
		if sr.Error != nil {
			final(StreamChunk{Kind: KindError, Err: &TransportError{Op: "stream", Err: fmt.Errorf("%s", sr.Error.Message)}})
			return
		}
		if len(sr.Choices) == 0 {
			continue
		}
		choice := sr.Choices[0]

		if choice.Delta.ReasoningContent != "" {
			if !send(StreamChunk{Kind: KindReasoning, Delta: choice.Delta.ReasoningContent}) {
				final(StreamChunk{Kind: KindError, Err: &TransportError{Op: "stream", Err: ctx.Err()}})
				return
			}
		}
		if choice.Delta.Content != "" {
			if !send(StreamChunk{Kind: KindContent, Delta: choice.Delta.Content}) {
				final(StreamChunk{Kind: KindError, Err: &TransportError{Op: "stream", Err: ctx.Err()}})
				return
			}
		}
		for _, frag := range choice.Delta.ToolCalls {
			acc.add(frag)
		}

		if choice.FinishReason == "tool_calls" {
			sawToolFinish = true
			// Fragment-less providers deliver the assembled calls on
			// the terminal chunk's message instead.
			if acc.empty() && choice.Message != nil {
				acc.adopt(choice.Message.ToolCalls)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		final(StreamChunk{Kind: KindError, Err: &TransportError{Op: "read stream", Err: err}})
		return
	}
	if err := ctx.Err(); err != nil {
		final(StreamChunk{Kind: KindError, Err: &TransportError{Op: "read stream", Err: err}})
		return
	}

	if calls := acc.calls(); sawToolFinish || len(calls) > 0 {
		if len(calls) == 0 {
			// Some providers announce a tool_calls finish yet stream
			// neither fragments nor a terminal message. One blocking
			// request over the same payload recovers the call list.
			c.logger.Warn("tool_calls finish without fragments, recovering")
			recovered, err := c.recoverToolCalls(ctx, req)
			if err != nil {
				final(StreamChunk{Kind: KindError, Err: err})
				return
			}
			calls = recovered
		}
		final(StreamChunk{Kind: KindToolCalls, ToolCalls: calls})
		return
	}
	final(StreamChunk{Kind: KindFinal})
}

func (c *Client) recoverToolCalls(ctx context.Context, req chatRequest) ([]ToolCall, error) {
	req.Stream = false
	resp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &TransportError{Op: "recover tool calls", Err: err}
	}
	if len(out.Choices) == 0 || len(out.Choices[0].Message.ToolCalls) == 0 {
		return nil, &TransportError{Op: "recover tool calls", Err: fmt.Errorf("no tool calls in response")}
	}
	return out.Choices[0].Message.ToolCalls, nil
}
