package tools_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/tools"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestTools(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Tools Suite")
}

type recordedExecution struct {
	name    string
	outcome string
}

type fakeRecorder struct {
	mu   sync.Mutex
	runs []recordedExecution
}

func (r *fakeRecorder) ToolExecuted(name, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, recordedExecution{name, outcome})
}

func readyCall(id, name string, args any) *chat.ToolCallPart {
	return &chat.ToolCallPart{ToolCallID: id, ToolName: name, Args: args, ArgsComplete: true, Status: chat.PartRunning}
}

var _ = Describe("Coordinator", func() {
	var (
		registry    *tools.Registry
		coordinator *tools.Coordinator
		recorder    *fakeRecorder
		calls       atomic.Int32
	)

	BeforeEach(func() {
		calls.Store(0)
		recorder = &fakeRecorder{}
		registry = tools.NewRegistry()
		registry.MustRegister(
			tools.Tool{
				Name: "add",
				Execute: func(_ context.Context, args map[string]any) (any, error) {
					calls.Add(1)
					return map[string]any{"y": args["x"].(float64) + 1}, nil
				},
			},
			tools.Tool{
				Name: "explode",
				Execute: func(context.Context, map[string]any) (any, error) {
					return nil, errors.New("boom")
				},
			},
			tools.Tool{
				Name: "panics",
				Execute: func(context.Context, map[string]any) (any, error) {
					panic("handler bug")
				},
			},
			tools.Tool{
				Name: "slow",
				Execute: func(ctx context.Context, _ map[string]any) (any, error) {
					<-ctx.Done()
					return nil, ctx.Err()
				},
			},
			tools.Tool{Name: "approve"},
			tools.Tool{Name: "search", Kind: tools.KindBackend},
			tools.Tool{Name: "off", Disabled: true, Execute: func(context.Context, map[string]any) (any, error) {
				calls.Add(1)
				return nil, nil
			}},
		)
		coordinator = tools.NewCoordinator(registry, tools.WithTimeout(50*time.Millisecond), tools.WithRecorder(recorder))
	})

	It("should execute a registered tool and synthesize its result", func() {
		chunk, ok := coordinator.Handle(context.Background(), "m1", readyCall("t1", "add", map[string]any{"x": float64(1)}))

		Expect(ok).To(BeTrue())
		Expect(chunk.Type).To(Equal(chat.ChunkToolResult))
		Expect(chunk.ToolCallID).To(Equal("t1"))
		Expect(chunk.Result).To(Equal(map[string]any{"y": float64(2)}))
		Expect(chunk.IsError).To(BeFalse())
		Expect(recorder.runs).To(ConsistOf(recordedExecution{"add", tools.OutcomeSuccess}))
	})

	It("should execute each call id at most once", func() {
		call := readyCall("t1", "add", map[string]any{"x": float64(1)})

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				coordinator.Handle(context.Background(), "m1", call)
			}()
		}
		wg.Wait()

		Expect(calls.Load()).To(Equal(int32(1)))
		Expect(coordinator.Seen("m1", "t1")).To(BeTrue())
	})

	It("should execute a reused call id again in another message", func() {
		_, ok := coordinator.Handle(context.Background(), "m1", readyCall("call_0", "add", map[string]any{"x": float64(1)}))
		Expect(ok).To(BeTrue())
		_, ok = coordinator.Handle(context.Background(), "m1", readyCall("call_0", "add", map[string]any{"x": float64(1)}))
		Expect(ok).To(BeFalse())

		chunk, ok := coordinator.Handle(context.Background(), "m2", readyCall("call_0", "add", map[string]any{"x": float64(2)}))
		Expect(ok).To(BeTrue())
		Expect(chunk.Result).To(Equal(map[string]any{"y": float64(3)}))
		Expect(calls.Load()).To(Equal(int32(2)))
		Expect(coordinator.Seen("m2", "call_0")).To(BeTrue())
	})

	It("should wait for complete arguments", func() {
		call := readyCall("t1", "add", nil)
		call.ArgsComplete = false

		_, ok := coordinator.Handle(context.Background(), "m1", call)
		Expect(ok).To(BeFalse())
		Expect(coordinator.Seen("m1", "t1")).To(BeFalse())
	})

	It("should turn handler errors into error results", func() {
		chunk, ok := coordinator.Handle(context.Background(), "m1", readyCall("t2", "explode", nil))

		Expect(ok).To(BeTrue())
		Expect(chunk.IsError).To(BeTrue())
		Expect(chunk.Result).To(ContainSubstring("boom"))
		Expect(chunk.Result).To(ContainSubstring(chat.ErrToolExecution.Error()))
	})

	It("should recover handler panics", func() {
		chunk, ok := coordinator.Handle(context.Background(), "m1", readyCall("t3", "panics", nil))

		Expect(ok).To(BeTrue())
		Expect(chunk.IsError).To(BeTrue())
		Expect(chunk.Result).To(ContainSubstring("handler bug"))
	})

	It("should bound handlers by the timeout", func() {
		chunk, ok := coordinator.Handle(context.Background(), "m1", readyCall("t4", "slow", nil))

		Expect(ok).To(BeTrue())
		Expect(chunk.IsError).To(BeTrue())
		Expect(chunk.Result).To(ContainSubstring("timed out"))
	})

	It("should stop handlers when the run is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		chunk, ok := coordinator.Handle(ctx, "m1", readyCall("t5", "slow", nil))
		Expect(ok).To(BeTrue())
		Expect(chunk.IsError).To(BeTrue())
	})

	It("should skip backend tools and tools awaiting an out-of-band result", func() {
		_, ok := coordinator.Handle(context.Background(), "m1", readyCall("t6", "search", nil))
		Expect(ok).To(BeFalse())

		_, ok = coordinator.Handle(context.Background(), "m1", readyCall("t7", "approve", nil))
		Expect(ok).To(BeFalse())
		Expect(coordinator.Seen("m1", "t7")).To(BeFalse())
	})

	It("should reject disabled and unregistered tools without calling them", func() {
		chunk, ok := coordinator.Handle(context.Background(), "m1", readyCall("t8", "off", nil))
		Expect(ok).To(BeTrue())
		Expect(chunk.IsError).To(BeTrue())
		Expect(chunk.Result).To(ContainSubstring(chat.ErrToolDisabled.Error()))
		Expect(calls.Load()).To(BeZero())

		chunk, ok = coordinator.Handle(context.Background(), "m1", readyCall("t9", "missing", nil))
		Expect(ok).To(BeTrue())
		Expect(chunk.IsError).To(BeTrue())
		Expect(recorder.runs).To(ContainElement(recordedExecution{"missing", tools.OutcomeDisabled}))
	})

	It("should ignore calls that already carry a result", func() {
		call := readyCall("t10", "add", map[string]any{"x": float64(1)})
		call.Resolved = true

		_, ok := coordinator.Handle(context.Background(), "m1", call)
		Expect(ok).To(BeFalse())
		Expect(calls.Load()).To(BeZero())
	})
})
