package chat_test

import (
	"github.com/killallgit/threadline/pkg/chat"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type countingDiagnostics struct {
	applied map[chat.ChunkType]int
	unknown map[chat.ChunkType]int
}

func newCountingDiagnostics() *countingDiagnostics {
	return &countingDiagnostics{
		applied: make(map[chat.ChunkType]int),
		unknown: make(map[chat.ChunkType]int),
	}
}

func (d *countingDiagnostics) ChunkApplied(t chat.ChunkType) { d.applied[t]++ }
func (d *countingDiagnostics) UnknownChunk(t chat.ChunkType) { d.unknown[t]++ }

func applyAll(acc *chat.Accumulator, chunks ...chat.Chunk) {
	for _, c := range chunks {
		ExpectWithOffset(1, acc.Apply(c)).To(Succeed())
	}
}

var _ = Describe("Accumulator", func() {
	var acc *chat.Accumulator

	BeforeEach(func() {
		acc = chat.NewAccumulator()
	})

	Describe("text deltas", func() {
		It("should merge consecutive deltas into one running part", func() {
			applyAll(acc, chat.TextDelta("Hel"), chat.TextDelta("lo"))

			Expect(acc.Parts()).To(HaveLen(1))
			text := acc.Parts()[0].(*chat.TextPart)
			Expect(text.Text).To(Equal("Hello"))
			Expect(text.Status).To(Equal(chat.PartRunning))
			Expect(acc.Status().Type).To(Equal(chat.StatusRunning))
		})

		It("should open a new part after a reasoning part", func() {
			applyAll(acc, chat.ReasoningDelta("thinking"), chat.TextDelta("answer"))

			Expect(acc.Parts()).To(HaveLen(2))
			Expect(acc.Parts()[0].Type()).To(Equal(chat.PartTypeReasoning))
			Expect(acc.Parts()[1].Type()).To(Equal(chat.PartTypeText))
		})

		It("should reject a delta for a finished part id", func() {
			applyAll(acc,
				chat.Chunk{Type: chat.ChunkTextDelta, PartID: "p1", Delta: "a"},
				chat.Chunk{Type: chat.ChunkPartFinish, PartID: "p1"},
			)
			err := acc.Apply(chat.Chunk{Type: chat.ChunkTextDelta, PartID: "p1", Delta: "b"})
			Expect(err).To(MatchError(chat.ErrProtocolViolation))
		})

		It("should keep unaffected parts identical across updates", func() {
			applyAll(acc, chat.ReasoningDelta("r"), chat.TextDelta("a"))
			before := acc.Parts()

			applyAll(acc, chat.TextDelta("b"))
			after := acc.Parts()

			Expect(after[0]).To(BeIdenticalTo(before[0]))
			Expect(after[1]).ToNot(BeIdenticalTo(before[1]))
			Expect(before[1].(*chat.TextPart).Text).To(Equal("a"))
		})
	})

	Describe("tool calls", func() {
		It("should parse arguments on tool-call-end", func() {
			applyAll(acc,
				chat.ToolCallBegin("t1", "weather"),
				chat.ToolCallDelta("t1", `{"city":`),
				chat.ToolCallDelta("t1", `"Oslo"}`),
				chat.ToolCallEnd("t1"),
			)

			tc, ok := acc.ToolCall("t1")
			Expect(ok).To(BeTrue())
			Expect(tc.ArgsComplete).To(BeTrue())
			Expect(tc.Args).To(Equal(map[string]any{"city": "Oslo"}))
		})

		It("should expose a preview of partial arguments", func() {
			applyAll(acc,
				chat.ToolCallBegin("t1", "weather"),
				chat.ToolCallDelta("t1", `{"city": "Os`),
			)

			preview, ok := acc.PartialArgs("t1")
			Expect(ok).To(BeTrue())
			Expect(preview).To(Equal(map[string]any{"city": "Os"}))
		})

		It("should treat empty arguments as an empty object", func() {
			applyAll(acc, chat.ToolCallBegin("t1", "now"), chat.ToolCallEnd("t1"))

			tc, _ := acc.ToolCall("t1")
			Expect(tc.Args).To(Equal(map[string]any{}))
		})

		It("should reject invalid final arguments", func() {
			applyAll(acc, chat.ToolCallBegin("t1", "x"), chat.ToolCallDelta("t1", `{"a":`))
			Expect(acc.Apply(chat.ToolCallEnd("t1"))).To(MatchError(chat.ErrProtocolViolation))
		})

		It("should reject duplicate tool call ids", func() {
			applyAll(acc, chat.ToolCallBegin("t1", "x"))
			Expect(acc.Apply(chat.ToolCallBegin("t1", "x"))).To(MatchError(chat.ErrProtocolViolation))
		})

		It("should mark unresolved calls requires-action on finish", func() {
			applyAll(acc,
				chat.TextDelta("Let me check"),
				chat.ToolCallBegin("t1", "weather"),
				chat.ToolCallEnd("t1"),
				chat.Finish(""),
			)

			Expect(acc.Parts()[0].PartStatus()).To(Equal(chat.PartComplete))
			Expect(acc.Parts()[1].PartStatus()).To(Equal(chat.PartRequiresAction))
			Expect(acc.Status()).To(Equal(chat.MessageStatus{Type: chat.StatusRequiresAction, Reason: chat.ReasonToolCalls}))
		})

		It("should parse arguments of calls left open at finish", func() {
			applyAll(acc,
				chat.ToolCallBegin("t1", "double"),
				chat.ToolCallDelta("t1", `{"x":1}`),
				chat.Finish(""),
			)

			tc, ok := acc.ToolCall("t1")
			Expect(ok).To(BeTrue())
			Expect(tc.ArgsComplete).To(BeTrue())
			Expect(tc.Args).To(Equal(map[string]any{"x": float64(1)}))
			Expect(tc.Status).To(Equal(chat.PartRequiresAction))
			Expect(acc.Status().Type).To(Equal(chat.StatusRequiresAction))
		})

		It("should reject finish when open arguments are invalid", func() {
			applyAll(acc, chat.ToolCallBegin("t1", "x"), chat.ToolCallDelta("t1", `{"a":`))
			before := acc.Parts()

			Expect(acc.Apply(chat.Finish(""))).To(MatchError(chat.ErrProtocolViolation))
			Expect(acc.Finished()).To(BeFalse())
			Expect(acc.Parts()).To(Equal(before))
		})

		It("should accept results after finish and then complete", func() {
			applyAll(acc,
				chat.ToolCallBegin("t1", "weather"),
				chat.ToolCallEnd("t1"),
				chat.Finish(chat.ReasonToolCalls),
				chat.ToolResult("t1", map[string]any{"temp": 3}, false),
			)

			tc, _ := acc.ToolCall("t1")
			Expect(tc.Resolved).To(BeTrue())
			Expect(tc.Status).To(Equal(chat.PartComplete))
			Expect(acc.Status().Type).To(Equal(chat.StatusComplete))
		})

		It("should reject a second result for the same call", func() {
			applyAll(acc,
				chat.ToolCallBegin("t1", "weather"),
				chat.ToolCallEnd("t1"),
				chat.ToolResult("t1", "ok", false),
			)
			Expect(acc.Apply(chat.ToolResult("t1", "again", false))).To(MatchError(chat.ErrProtocolViolation))
		})

		It("should report orphan results without changing parts", func() {
			applyAll(acc, chat.TextDelta("hi"))
			before := acc.Parts()

			err := acc.Apply(chat.ToolResult("nope", "x", false))
			Expect(err).To(MatchError(chat.ErrOrphanToolResult))
			Expect(acc.Parts()).To(Equal(before))
		})
	})

	Describe("finish", func() {
		It("should reject content chunks after finish", func() {
			applyAll(acc, chat.TextDelta("a"), chat.Finish(""))
			Expect(acc.Apply(chat.TextDelta("b"))).To(MatchError(chat.ErrProtocolViolation))
			Expect(acc.Status()).To(Equal(chat.MessageStatus{Type: chat.StatusComplete, Reason: chat.ReasonStop}))
		})

		It("should never regress a completed part", func() {
			applyAll(acc, chat.TextDelta("a"), chat.Finish(""))
			acc.Cancel()
			Expect(acc.Parts()[0].PartStatus()).To(Equal(chat.PartComplete))
		})
	})

	Describe("Cancel", func() {
		It("should mark running parts incomplete", func() {
			applyAll(acc, chat.TextDelta("partial"))
			acc.Cancel()

			Expect(acc.Parts()[0].PartStatus()).To(Equal(chat.PartIncomplete))
			Expect(acc.Status()).To(Equal(chat.MessageStatus{Type: chat.StatusIncomplete, Reason: chat.ReasonCancelled}))
		})

		It("should leave a finished message alone", func() {
			applyAll(acc, chat.TextDelta("done"), chat.Finish(chat.ReasonStop))
			before := acc.Parts()
			acc.Cancel()

			Expect(acc.Parts()).To(BeIdenticalTo(before))
			Expect(acc.FinishReason()).To(Equal(chat.ReasonStop))
		})

		It("should settle calls still waiting for a result", func() {
			applyAll(acc, chat.ToolCallBegin("c1", "ask"), chat.ToolCallEnd("c1"), chat.Finish(chat.ReasonToolCalls))
			Expect(acc.Status().Type).To(Equal(chat.StatusRequiresAction))

			acc.Cancel()
			tc, _ := acc.ToolCall("c1")
			Expect(tc.Status).To(Equal(chat.PartIncomplete))
			Expect(acc.Status().Type).To(Equal(chat.StatusIncomplete))
		})
	})

	Describe("unknown chunks", func() {
		It("should ignore and count them", func() {
			diag := newCountingDiagnostics()
			acc = chat.NewAccumulator(chat.WithDiagnostics(diag))

			applyAll(acc, chat.TextDelta("a"), chat.Chunk{Type: "telemetry"}, chat.TextDelta("b"))

			Expect(acc.Parts()).To(HaveLen(1))
			Expect(acc.Parts()[0].(*chat.TextPart).Text).To(Equal("ab"))
			Expect(acc.Unknown()).To(Equal(1))
			Expect(acc.ChunkCount()).To(Equal(2))
			Expect(diag.unknown).To(HaveKeyWithValue(chat.ChunkType("telemetry"), 1))
			Expect(diag.applied).To(HaveKeyWithValue(chat.ChunkTextDelta, 2))
		})
	})

	Describe("error chunks", func() {
		It("should surface the failure as a stream error", func() {
			applyAll(acc, chat.TextDelta("a"))
			err := acc.Apply(chat.Chunk{Type: chat.ChunkError, Delta: "upstream closed"})
			Expect(err).To(MatchError(chat.ErrStream))
			Expect(err.Error()).To(ContainSubstring("upstream closed"))
		})
	})

	Describe("determinism", func() {
		It("should produce equal parts for equal chunk sequences", func() {
			chunks := []chat.Chunk{
				chat.ReasoningDelta("r"),
				chat.TextDelta("a"),
				{Type: chat.ChunkSource, URL: "https://example.com", Title: "ex"},
				chat.ToolCallBegin("t1", "x"),
				chat.ToolCallDelta("t1", `{"n":1}`),
				chat.ToolCallEnd("t1"),
				chat.Finish(""),
			}
			a, b := chat.NewAccumulator(), chat.NewAccumulator()
			applyAll(a, chunks...)
			applyAll(b, chunks...)

			Expect(a.Parts()).To(Equal(b.Parts()))
			Expect(a.Status()).To(Equal(b.Status()))
		})
	})

	Describe("ResumeAccumulator", func() {
		It("should resolve tool calls of a stored message", func() {
			parts := []chat.Part{&chat.ToolCallPart{ToolCallID: "t1", ToolName: "x", ArgsComplete: true, Status: chat.PartRequiresAction}}
			resumed := chat.ResumeAccumulator(parts, true)

			Expect(resumed.Apply(chat.ToolResult("t1", 42, false))).To(Succeed())
			Expect(resumed.Status().Type).To(Equal(chat.StatusComplete))
			Expect(parts[0].(*chat.ToolCallPart).Resolved).To(BeFalse())
		})
	})
})
