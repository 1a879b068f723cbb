// Package transport implements thread.Transport on top of model providers
// and recorded scripts.
package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/logger"
	"github.com/killallgit/threadline/pkg/thread"
	"github.com/killallgit/threadline/pkg/tools"
)

// LangChain streams assistant turns from a langchaingo model.
type LangChain struct {
	model        llms.Model
	systemPrompt string
	options      []llms.CallOption
	thinking     bool
	log          *logger.ComponentLogger
}

type LangChainOption func(*LangChain)

// WithSystemPrompt prepends a system message unless the thread has one
func WithSystemPrompt(prompt string) LangChainOption {
	return func(t *LangChain) {
		t.systemPrompt = prompt
	}
}

// WithCallOptions adds options to every GenerateContent call
func WithCallOptions(opts ...llms.CallOption) LangChainOption {
	return func(t *LangChain) {
		t.options = append(t.options, opts...)
	}
}

// WithThinkingTags controls whether <think> blocks become reasoning parts.
// Enabled by default.
func WithThinkingTags(enabled bool) LangChainOption {
	return func(t *LangChain) {
		t.thinking = enabled
	}
}

func NewLangChain(model llms.Model, opts ...LangChainOption) *LangChain {
	t := &LangChain{
		model:    model,
		thinking: true,
		log:      logger.WithComponent("transport"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Stream implements thread.Transport
func (t *LangChain) Stream(ctx context.Context, req thread.Request) (<-chan chat.Chunk, error) {
	messages, err := t.messageContent(req.Messages)
	if err != nil {
		return nil, err
	}

	out := make(chan chat.Chunk, 64)
	send := func(c chat.Chunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(out)

		var splitter thinkSplitter
		streamed := false
		callOpts := append([]llms.CallOption(nil), t.options...)
		callOpts = append(callOpts, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			streamed = true
			chunks := []chat.Chunk{chat.TextDelta(string(chunk))}
			if t.thinking {
				chunks = splitter.Feed(string(chunk))
			}
			for _, c := range chunks {
				if !send(c) {
					return ctx.Err()
				}
			}
			return nil
		}))
		if len(req.Tools) > 0 {
			callOpts = append(callOpts, llms.WithTools(tools.ToLLMTools(req.Tools)))
		}

		t.log.Debug("Generating for thread %s with %d messages and %d tools", req.ThreadID, len(messages), len(req.Tools))
		resp, err := t.model.GenerateContent(ctx, messages, callOpts...)
		if err != nil {
			if ctx.Err() == nil {
				t.log.Error("Generation failed: %v", err)
				send(chat.Chunk{Type: chat.ChunkError, Err: err})
			}
			return
		}
		for _, c := range splitter.Flush() {
			if !send(c) {
				return
			}
		}
		if len(resp.Choices) == 0 {
			send(chat.Finish(chat.ReasonUnknown))
			return
		}

		choice := resp.Choices[0]
		if !streamed && choice.Content != "" {
			var fallback thinkSplitter
			chunks := append(fallback.Feed(choice.Content), fallback.Flush()...)
			if !t.thinking {
				chunks = []chat.Chunk{chat.TextDelta(choice.Content)}
			}
			for _, c := range chunks {
				if !send(c) {
					return
				}
			}
		}
		for _, tc := range choice.ToolCalls {
			if tc.FunctionCall == nil {
				continue
			}
			if !send(chat.ToolCallBegin(tc.ID, tc.FunctionCall.Name)) ||
				!send(chat.ToolCallDelta(tc.ID, tc.FunctionCall.Arguments)) ||
				!send(chat.ToolCallEnd(tc.ID)) {
				return
			}
		}
		send(chat.Finish(finishReason(choice)))
	}()
	return out, nil
}

func finishReason(choice *llms.ContentChoice) string {
	if len(choice.ToolCalls) > 0 {
		return chat.ReasonToolCalls
	}
	switch strings.ToLower(choice.StopReason) {
	case "", "stop", "end_turn", "eos":
		return chat.ReasonStop
	case "tool_calls", "tool_use":
		return chat.ReasonToolCalls
	default:
		return choice.StopReason
	}
}

// messageContent converts the active path into provider messages. Resolved
// tool calls are followed by a tool message carrying their results.
func (t *LangChain) messageContent(messages []*chat.Message) ([]llms.MessageContent, error) {
	out := make([]llms.MessageContent, 0, len(messages)+1)
	if t.systemPrompt != "" && (len(messages) == 0 || !messages[0].IsSystem()) {
		out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, t.systemPrompt))
	}

	for _, m := range messages {
		switch m.Role {
		case chat.RoleSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, m.Text()))
		case chat.RoleUser:
			parts, err := userParts(m)
			if err != nil {
				return nil, err
			}
			out = append(out, llms.MessageContent{Role: llms.ChatMessageTypeHuman, Parts: parts})
		case chat.RoleAssistant:
			ai, results, err := assistantParts(m)
			if err != nil {
				return nil, err
			}
			if len(ai) > 0 {
				out = append(out, llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: ai})
			}
			for _, r := range results {
				out = append(out, llms.MessageContent{Role: llms.ChatMessageTypeTool, Parts: []llms.ContentPart{r}})
			}
		default:
			panic(fmt.Sprintf("transport: unhandled role %q", m.Role))
		}
	}
	return out, nil
}

func userParts(m *chat.Message) ([]llms.ContentPart, error) {
	var parts []llms.ContentPart
	if text := m.Text(); text != "" {
		parts = append(parts, llms.TextContent{Text: text})
	}
	for _, att := range m.Attachments {
		for _, p := range att.Content {
			switch v := p.(type) {
			case *chat.ImagePart:
				parts = append(parts, llms.ImageURLContent{URL: v.Image})
			case *chat.FilePart:
				mime, data, err := decodeDataURL(v.Data)
				if err != nil {
					return nil, fmt.Errorf("attachment %s: %w", att.Name, err)
				}
				if mime == "" {
					mime = v.MimeType
				}
				if strings.HasPrefix(mime, "text/") {
					parts = append(parts, llms.TextContent{Text: fmt.Sprintf("[%s]\n%s", att.Name, data)})
				} else {
					parts = append(parts, llms.BinaryPart(mime, data))
				}
			case *chat.TextPart:
				parts = append(parts, llms.TextContent{Text: v.Text})
			}
		}
	}
	return parts, nil
}

func assistantParts(m *chat.Message) ([]llms.ContentPart, []llms.ToolCallResponse, error) {
	var parts []llms.ContentPart
	var results []llms.ToolCallResponse
	for _, p := range m.Parts {
		switch v := p.(type) {
		case *chat.TextPart:
			parts = append(parts, llms.TextContent{Text: v.Text})
		case *chat.ToolCallPart:
			parts = append(parts, llms.ToolCall{
				ID:           v.ToolCallID,
				Type:         "function",
				FunctionCall: &llms.FunctionCall{Name: v.ToolName, Arguments: v.ArgsText},
			})
			if v.Resolved {
				content, err := resultText(v.Result)
				if err != nil {
					return nil, nil, fmt.Errorf("tool result %s: %w", v.ToolCallID, err)
				}
				results = append(results, llms.ToolCallResponse{ToolCallID: v.ToolCallID, Name: v.ToolName, Content: content})
			}
		case *chat.ReasoningPart, *chat.SourcePart, *chat.ImagePart, *chat.FilePart, *chat.AudioPart:
			// not replayed to the model
		default:
			panic(fmt.Sprintf("transport: unhandled part type %T", p))
		}
	}
	return parts, results, nil
}

func resultText(result any) (string, error) {
	if s, ok := result.(string); ok {
		return s, nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// decodeDataURL splits a base64 data URL into its media type and bytes.
func decodeDataURL(url string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(url, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data URL")
	}
	mime, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return mime, []byte(payload), nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, err
	}
	return mime, data, nil
}
