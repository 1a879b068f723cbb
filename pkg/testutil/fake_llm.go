package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// FakeResponse is one scripted model answer. Chunks are streamed through the
// streaming function in order; ToolCalls are returned on the final choice.
type FakeResponse struct {
	Chunks     []string
	ToolCalls  []llms.ToolCall
	StopReason string
}

// FakeLLM implements llms.Model with predefined responses
type FakeLLM struct {
	mu           sync.Mutex
	responses    []FakeResponse
	currentIndex int
	callCount    int
	lastMessages []llms.MessageContent
	lastOptions  llms.CallOptions
	errorOnCall  int // If > 0, return error on this call number
	errorMessage string
}

// NewFakeLLM creates a fake whose responses stream word by word
func NewFakeLLM(responses ...string) *FakeLLM {
	f := &FakeLLM{}
	for _, r := range responses {
		f.AddResponse(FakeResponse{Chunks: strings.SplitAfter(r, " ")})
	}
	return f
}

// AddResponse appends a response
func (f *FakeLLM) AddResponse(r FakeResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, r)
}

// SetErrorOnCall configures the LLM to return an error on a specific call
func (f *FakeLLM) SetErrorOnCall(callNumber int, errorMessage string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errorOnCall = callNumber
	f.errorMessage = errorMessage
}

// Call implements llms.Model
func (f *FakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

// GenerateContent implements llms.Model
func (f *FakeLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var opts llms.CallOptions
	for _, opt := range options {
		opt(&opts)
	}

	f.mu.Lock()
	f.callCount++
	f.lastMessages = messages
	f.lastOptions = opts
	if f.errorOnCall > 0 && f.callCount == f.errorOnCall {
		msg := f.errorMessage
		if msg == "" {
			msg = fmt.Sprintf("fake error on call %d", f.callCount)
		}
		f.mu.Unlock()
		return nil, fmt.Errorf("%s", msg)
	}
	if len(f.responses) == 0 {
		f.mu.Unlock()
		return nil, fmt.Errorf("no responses configured")
	}
	resp := f.responses[f.currentIndex]
	f.currentIndex = (f.currentIndex + 1) % len(f.responses)
	f.mu.Unlock()

	for _, chunk := range resp.Chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if opts.StreamingFunc != nil {
			if err := opts.StreamingFunc(ctx, []byte(chunk)); err != nil {
				return nil, err
			}
		}
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			Content:    strings.Join(resp.Chunks, ""),
			ToolCalls:  resp.ToolCalls,
			StopReason: resp.StopReason,
		}},
	}, nil
}

// GetCallCount returns the number of generations
func (f *FakeLLM) GetCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount
}

// LastMessages returns the messages of the last generation
func (f *FakeLLM) LastMessages() []llms.MessageContent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastMessages
}

// LastOptions returns the resolved options of the last generation
func (f *FakeLLM) LastOptions() llms.CallOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastOptions
}
