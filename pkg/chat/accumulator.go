package chat

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Diagnostics observes the chunks an Accumulator consumes.
type Diagnostics interface {
	ChunkApplied(t ChunkType)
	UnknownChunk(t ChunkType)
}

type AccumulatorOption func(*Accumulator)

// WithDiagnostics attaches a diagnostics hook to the accumulator.
func WithDiagnostics(d Diagnostics) AccumulatorOption {
	return func(a *Accumulator) {
		a.diagnostics = d
	}
}

// Accumulator turns an ordered chunk sequence into the parts of one message.
//
// Parts are never mutated in place: every change produces a new slice and a
// new pointer for the changed part, so a slice returned by Parts stays valid
// and unaffected parts keep their identity. Not safe for concurrent use.
type Accumulator struct {
	parts        []Part
	toolIndex    map[string]int
	finished     bool
	finishReason string
	chunkCount   int
	unknown      map[ChunkType]int
	diagnostics  Diagnostics
}

// NewAccumulator creates an accumulator for a fresh message.
func NewAccumulator(opts ...AccumulatorOption) *Accumulator {
	a := &Accumulator{
		toolIndex: make(map[string]int),
		unknown:   make(map[ChunkType]int),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ResumeAccumulator seeds an accumulator with the parts of an existing
// message. A finished accumulator only accepts tool results.
func ResumeAccumulator(parts []Part, finished bool, opts ...AccumulatorOption) *Accumulator {
	a := NewAccumulator(opts...)
	a.parts = parts
	a.finished = finished
	if finished {
		a.finishReason = ReasonStop
	}
	for i, p := range parts {
		if tc, ok := p.(*ToolCallPart); ok {
			a.toolIndex[tc.ToolCallID] = i
		}
	}
	return a
}

// Parts returns the current part sequence. The slice must not be modified.
func (a *Accumulator) Parts() []Part {
	return a.parts
}

func (a *Accumulator) Finished() bool {
	return a.finished
}

func (a *Accumulator) FinishReason() string {
	return a.finishReason
}

func (a *Accumulator) ChunkCount() int {
	return a.chunkCount
}

// Unknown returns how many chunks of unrecognised types were ignored.
func (a *Accumulator) Unknown() int {
	total := 0
	for _, n := range a.unknown {
		total += n
	}
	return total
}

// ToolCall returns the tool-call part for the given id.
func (a *Accumulator) ToolCall(toolCallID string) (*ToolCallPart, bool) {
	i, ok := a.toolIndex[toolCallID]
	if !ok {
		return nil, false
	}
	return a.parts[i].(*ToolCallPart), true
}

// PartialArgs returns a best-effort parse of the arguments streamed so far.
// Parse failures are swallowed so callers can render live previews.
func (a *Accumulator) PartialArgs(toolCallID string) (any, bool) {
	tc, ok := a.ToolCall(toolCallID)
	if !ok {
		return nil, false
	}
	if tc.ArgsComplete {
		return tc.Args, true
	}
	v, err := ParsePartialJSON(tc.ArgsText)
	if err != nil {
		return nil, false
	}
	return v, true
}

// Apply merges one chunk. On error the part sequence is left unchanged.
func (a *Accumulator) Apply(chunk Chunk) error {
	if a.finished && chunk.Type != ChunkToolResult {
		return fmt.Errorf("%w: %s chunk after finish", ErrProtocolViolation, chunk.Type)
	}

	var err error
	switch chunk.Type {
	case ChunkTextDelta:
		err = a.appendText(chunk, PartTypeText)
	case ChunkReasoningDelta:
		err = a.appendText(chunk, PartTypeReasoning)
	case ChunkSource:
		a.appendPart(&SourcePart{
			SourceType: "url",
			ID:         chunk.PartID,
			URL:        chunk.URL,
			Title:      chunk.Title,
			Status:     PartComplete,
			ParentID:   chunk.ParentID,
		})
	case ChunkImage:
		a.appendPart(&ImagePart{
			Image:    firstNonEmpty(chunk.URL, chunk.Data),
			Filename: chunk.Filename,
			Status:   PartComplete,
			ParentID: chunk.ParentID,
		})
	case ChunkFile:
		a.appendPart(&FilePart{
			Data:     firstNonEmpty(chunk.Data, chunk.URL),
			MimeType: chunk.MimeType,
			Filename: chunk.Filename,
			Status:   PartComplete,
			ParentID: chunk.ParentID,
		})
	case ChunkAudio:
		a.appendPart(&AudioPart{
			Data:     chunk.Data,
			Format:   chunk.MimeType,
			Status:   PartComplete,
			ParentID: chunk.ParentID,
		})
	case ChunkToolCallBegin:
		err = a.beginToolCall(chunk)
	case ChunkToolCallDelta:
		err = a.appendToolArgs(chunk)
	case ChunkToolCallEnd:
		err = a.endToolCall(chunk)
	case ChunkToolResult:
		err = a.applyToolResult(chunk.ToolCallID, chunk.Result, chunk.IsError)
	case ChunkPartFinish:
		err = a.finishPart(chunk.PartID)
	case ChunkFinish:
		err = a.finish(chunk.Reason)
	case ChunkError:
		return chunk.Failure()
	default:
		a.unknown[chunk.Type]++
		if a.diagnostics != nil {
			a.diagnostics.UnknownChunk(chunk.Type)
		}
		return nil
	}
	if err != nil {
		return err
	}

	a.chunkCount++
	if a.diagnostics != nil {
		a.diagnostics.ChunkApplied(chunk.Type)
	}
	return nil
}

// Cancel marks every unfinished part incomplete and closes the accumulator.
// Tool calls still waiting for a result are settled as incomplete too. A
// finished accumulator without pending calls is left as is.
func (a *Accumulator) Cancel() {
	if a.finished && !a.hasUnresolvedCalls() {
		return
	}
	for i, p := range a.parts {
		if tc, ok := p.(*ToolCallPart); ok {
			if !tc.Resolved && tc.Status != PartIncomplete {
				a.replace(i, withStatus(p, PartIncomplete))
			}
			continue
		}
		if p.PartStatus() == PartRunning {
			a.replace(i, withStatus(p, PartIncomplete))
		}
	}
	a.finished = true
	a.finishReason = ReasonCancelled
}

func (a *Accumulator) hasUnresolvedCalls() bool {
	for _, i := range a.toolIndex {
		if !a.parts[i].(*ToolCallPart).Resolved {
			return true
		}
	}
	return false
}

func (a *Accumulator) appendText(chunk Chunk, kind PartType) error {
	if last := len(a.parts) - 1; last >= 0 {
		prev := a.parts[last]
		if prev.Type() == kind && (chunk.PartID == "" || chunk.PartID == partID(prev)) {
			if prev.PartStatus() == PartRunning {
				a.replace(last, extendText(prev, chunk.Delta))
				return nil
			}
			if chunk.PartID != "" {
				return fmt.Errorf("%w: %s delta for completed part %q", ErrProtocolViolation, kind, chunk.PartID)
			}
		}
	}
	if chunk.PartID != "" && a.hasCompletedPart(chunk.PartID) {
		return fmt.Errorf("%w: %s delta for completed part %q", ErrProtocolViolation, kind, chunk.PartID)
	}

	if kind == PartTypeReasoning {
		a.appendPart(&ReasoningPart{ID: chunk.PartID, Text: chunk.Delta, Status: PartRunning, ParentID: chunk.ParentID})
	} else {
		a.appendPart(&TextPart{ID: chunk.PartID, Text: chunk.Delta, Status: PartRunning, ParentID: chunk.ParentID})
	}
	return nil
}

func (a *Accumulator) beginToolCall(chunk Chunk) error {
	if chunk.ToolCallID == "" {
		return fmt.Errorf("%w: tool call without id", ErrProtocolViolation)
	}
	if _, exists := a.toolIndex[chunk.ToolCallID]; exists {
		return fmt.Errorf("%w: duplicate tool call %q", ErrProtocolViolation, chunk.ToolCallID)
	}
	a.closeOpenText()
	a.appendPart(&ToolCallPart{
		ToolCallID: chunk.ToolCallID,
		ToolName:   chunk.ToolName,
		ArgsText:   chunk.Delta,
		Status:     PartRunning,
		ParentID:   chunk.ParentID,
	})
	a.toolIndex[chunk.ToolCallID] = len(a.parts) - 1
	return nil
}

func (a *Accumulator) appendToolArgs(chunk Chunk) error {
	i, ok := a.toolIndex[chunk.ToolCallID]
	if !ok {
		if chunk.ToolName == "" {
			return fmt.Errorf("%w: args delta for unknown tool call %q", ErrProtocolViolation, chunk.ToolCallID)
		}
		return a.beginToolCall(chunk)
	}
	tc := a.parts[i].(*ToolCallPart)
	if tc.ArgsComplete || tc.Resolved {
		return fmt.Errorf("%w: args delta for closed tool call %q", ErrProtocolViolation, chunk.ToolCallID)
	}
	next := *tc
	next.ArgsText += chunk.Delta
	a.replace(i, &next)
	return nil
}

func (a *Accumulator) endToolCall(chunk Chunk) error {
	i, ok := a.toolIndex[chunk.ToolCallID]
	if !ok {
		if chunk.ToolName == "" {
			return fmt.Errorf("%w: end of unknown tool call %q", ErrProtocolViolation, chunk.ToolCallID)
		}
		if err := a.beginToolCall(Chunk{ToolCallID: chunk.ToolCallID, ToolName: chunk.ToolName, ParentID: chunk.ParentID}); err != nil {
			return err
		}
		i = a.toolIndex[chunk.ToolCallID]
	}
	tc := a.parts[i].(*ToolCallPart)
	if tc.ArgsComplete || tc.Resolved {
		return fmt.Errorf("%w: tool call %q already closed", ErrProtocolViolation, chunk.ToolCallID)
	}

	next := *tc
	next.ArgsText += chunk.Delta
	args, err := parseArgs(next.ArgsText)
	if err != nil {
		return fmt.Errorf("%w: tool call %q args: %v", ErrProtocolViolation, chunk.ToolCallID, err)
	}
	next.Args = args
	next.ArgsComplete = true
	a.replace(i, &next)
	return nil
}

func (a *Accumulator) applyToolResult(toolCallID string, result any, isError bool) error {
	i, ok := a.toolIndex[toolCallID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrOrphanToolResult, toolCallID)
	}
	tc := a.parts[i].(*ToolCallPart)
	if tc.Resolved {
		return fmt.Errorf("%w: tool call %q already has a result", ErrProtocolViolation, toolCallID)
	}

	next := *tc
	if !next.ArgsComplete {
		if args, err := ParsePartialJSON(next.ArgsText); err == nil {
			next.Args = args
		}
		next.ArgsComplete = true
	}
	next.Result = result
	next.IsError = isError
	next.Resolved = true
	next.Status = PartComplete
	a.replace(i, &next)
	return nil
}

func (a *Accumulator) finishPart(id string) error {
	if id == "" {
		last := len(a.parts) - 1
		if last < 0 {
			return nil
		}
		if isStreamingText(a.parts[last]) && a.parts[last].PartStatus() == PartRunning {
			a.replace(last, withStatus(a.parts[last], PartComplete))
		}
		return nil
	}
	for i, p := range a.parts {
		if partID(p) != id {
			continue
		}
		if p.PartStatus() != PartRunning {
			return fmt.Errorf("%w: part %q already finished", ErrProtocolViolation, id)
		}
		a.replace(i, withStatus(p, PartComplete))
		return nil
	}
	return fmt.Errorf("%w: finish for unknown part %q", ErrProtocolViolation, id)
}

// finish closes the stream. Tool calls whose arguments never saw an end are
// parsed here; if any of them is not valid JSON nothing changes.
func (a *Accumulator) finish(reason string) error {
	parsed := make(map[int]any)
	for id, i := range a.toolIndex {
		tc := a.parts[i].(*ToolCallPart)
		if tc.ArgsComplete || tc.Resolved {
			continue
		}
		args, err := parseArgs(tc.ArgsText)
		if err != nil {
			return fmt.Errorf("%w: tool call %q args: %v", ErrProtocolViolation, id, err)
		}
		parsed[i] = args
	}
	for i, args := range parsed {
		next := *a.parts[i].(*ToolCallPart)
		next.Args = args
		next.ArgsComplete = true
		a.replace(i, &next)
	}

	a.closeParts(PartComplete, PartRequiresAction)
	a.finished = true
	if reason == "" {
		reason = ReasonStop
	}
	a.finishReason = reason
	return nil
}

// closeParts settles running parts: text-like parts take textStatus, tool
// calls without a result take toolStatus.
func (a *Accumulator) closeParts(textStatus, toolStatus PartStatus) {
	for i, p := range a.parts {
		if p.PartStatus() != PartRunning {
			continue
		}
		if tc, ok := p.(*ToolCallPart); ok {
			if !tc.Resolved {
				a.replace(i, withStatus(p, toolStatus))
			}
			continue
		}
		a.replace(i, withStatus(p, textStatus))
	}
}

func (a *Accumulator) closeOpenText() {
	last := len(a.parts) - 1
	if last >= 0 && isStreamingText(a.parts[last]) && a.parts[last].PartStatus() == PartRunning {
		a.replace(last, withStatus(a.parts[last], PartComplete))
	}
}

func (a *Accumulator) hasCompletedPart(id string) bool {
	for _, p := range a.parts {
		if partID(p) == id && p.PartStatus() != PartRunning {
			return true
		}
	}
	return false
}

func (a *Accumulator) appendPart(p Part) {
	if !isStreamingText(p) {
		a.closeOpenText()
	}
	next := make([]Part, len(a.parts), len(a.parts)+1)
	copy(next, a.parts)
	a.parts = append(next, p)
}

func (a *Accumulator) replace(i int, p Part) {
	next := make([]Part, len(a.parts))
	copy(next, a.parts)
	next[i] = p
	a.parts = next
}

// Status derives the message status implied by the accumulated parts.
func (a *Accumulator) Status() MessageStatus {
	switch {
	case !a.finished:
		return MessageStatus{Type: StatusRunning}
	case a.finishReason == ReasonCancelled:
		return MessageStatus{Type: StatusIncomplete, Reason: ReasonCancelled}
	}
	if a.hasUnresolvedCalls() {
		return MessageStatus{Type: StatusRequiresAction, Reason: ReasonToolCalls}
	}
	return MessageStatus{Type: StatusComplete, Reason: a.finishReason}
}

func parseArgs(text string) (any, error) {
	if strings.TrimSpace(text) == "" {
		return map[string]any{}, nil
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func extendText(p Part, delta string) Part {
	switch v := p.(type) {
	case *TextPart:
		next := *v
		next.Text += delta
		return &next
	case *ReasoningPart:
		next := *v
		next.Text += delta
		return &next
	}
	return p
}

func isStreamingText(p Part) bool {
	switch p.(type) {
	case *TextPart, *ReasoningPart:
		return true
	}
	return false
}

func partID(p Part) string {
	switch v := p.(type) {
	case *TextPart:
		return v.ID
	case *ReasoningPart:
		return v.ID
	case *SourcePart:
		return v.ID
	case *ToolCallPart:
		return v.ToolCallID
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
