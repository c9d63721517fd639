package pool

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sorryhyun/yaar/internal/domain/queue"
	"github.com/sorryhyun/yaar/internal/domain/tape"
	"github.com/sorryhyun/yaar/internal/shared/types"
)

// fakeSession is a scripted agent session. When created blocking, Query
// holds its reply until release, Interrupt, or Dispose opens the gate.
type fakeSession struct {
	mu          sync.Mutex
	reply       string
	queries     []string
	steered     []string
	interrupted bool
	disposed    bool
	gate        chan struct{}
	releaseOnce sync.Once
}

func (f *fakeSession) Query(_ context.Context, prompt string, _ QueryOptions) (<-chan Message, error) {
	f.mu.Lock()
	f.queries = append(f.queries, prompt)
	gate := f.gate
	reply := f.reply
	f.mu.Unlock()

	out := make(chan Message, 1)
	go func() {
		defer close(out)
		if gate != nil {
			<-gate
		}
		out <- Message{Role: types.RoleAssistant, Content: reply}
	}()
	return out, nil
}

func (f *fakeSession) Steer(text string) bool {
	f.mu.Lock()
	f.steered = append(f.steered, text)
	f.mu.Unlock()
	return true
}

func (f *fakeSession) Interrupt() error {
	f.mu.Lock()
	f.interrupted = true
	f.mu.Unlock()
	f.release()
	return nil
}

func (f *fakeSession) Dispose() error {
	f.mu.Lock()
	f.disposed = true
	f.mu.Unlock()
	f.release()
	return nil
}

func (f *fakeSession) release() {
	if f.gate != nil {
		f.releaseOnce.Do(func() { close(f.gate) })
	}
}

func (f *fakeSession) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func (f *fakeSession) querySnapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.queries))
	copy(out, f.queries)
	return out
}

func (f *fakeSession) isDisposed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disposed
}

func (f *fakeSession) isInterrupted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interrupted
}

// sessionRecorder is a SessionFactory that remembers every session it
// mints along with the kind and initial context it was asked for
type sessionRecorder struct {
	mu       sync.Mutex
	reply    string
	blocking bool
	created  []*fakeSession
	kinds    []SlotKind
	contexts []string
}

func (r *sessionRecorder) factory(kind SlotKind, initial string) (AgentSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &fakeSession{reply: r.reply}
	if r.blocking {
		s.gate = make(chan struct{})
	}
	r.created = append(r.created, s)
	r.kinds = append(r.kinds, kind)
	r.contexts = append(r.contexts, initial)
	return s, nil
}

func (r *sessionRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.created)
}

func (r *sessionRecorder) session(i int) *fakeSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.created[i]
}

func (r *sessionRecorder) kind(i int) SlotKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.kinds[i]
}

func (r *sessionRecorder) releaseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.created {
		s.release()
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func newTestPool(rec *sessionRecorder, cfg Config) *Pool {
	return New(rec.factory, tape.New(), cfg, zap.NewNop())
}

func TestMainTaskRunsOnMainAgent(t *testing.T) {
	rec := &sessionRecorder{reply: "hello there"}
	p := newTestPool(rec, Config{})

	if err := p.Submit(context.Background(), types.MainTask("m1", "hi")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	waitFor(t, "main turn to finish", func() bool {
		return p.Tape().Len() == 2 && !p.Stats().MainBusy
	})

	turns := p.Tape().Snapshot()
	if turns[0].Role != types.RoleUser || turns[0].Content != "hi" || !turns[0].Source.IsMain() {
		t.Errorf("Unexpected user turn: %+v", turns[0])
	}
	if turns[1].Role != types.RoleAssistant || turns[1].Content != "hello there" {
		t.Errorf("Unexpected assistant turn: %+v", turns[1])
	}
	if rec.count() != 1 || rec.kind(0) != SlotMain {
		t.Errorf("Expected one main session, got %d (%v)", rec.count(), rec.kinds)
	}
	if rec.contexts[0] != "" {
		t.Errorf("Main agent should start without an initial context, got %q", rec.contexts[0])
	}
}

func TestMainBusyOverflowsToEphemeral(t *testing.T) {
	rec := &sessionRecorder{reply: "done", blocking: true}
	p := newTestPool(rec, Config{AgentLimit: 2})

	if err := p.Submit(context.Background(), types.MainTask("m1", "first")); err != nil {
		t.Fatalf("Submit m1 failed: %v", err)
	}
	waitFor(t, "main session to start", func() bool {
		return rec.count() == 1 && rec.session(0).queryCount() == 1
	})

	if err := p.Submit(context.Background(), types.MainTask("m2", "second")); err != nil {
		t.Fatalf("Submit m2 failed: %v", err)
	}
	waitFor(t, "ephemeral session to start", func() bool { return rec.count() == 2 })

	if rec.kind(1) != SlotEphemeral {
		t.Fatalf("Expected ephemeral overflow, got %s", rec.kind(1))
	}
	if !strings.Contains(rec.contexts[1], "<recent_conversation>") {
		t.Errorf("Ephemeral agent should receive recent conversation, got %q", rec.contexts[1])
	}

	// Finish the ephemeral turn: its session is disposed and its output
	// lands on the deferred timeline
	rec.session(1).release()
	waitFor(t, "ephemeral to retire", func() bool {
		return p.Stats().EphemeralAgents == 0 && rec.session(1).isDisposed()
	})

	// Finish the main turn, then run another: the deferred block must
	// ride along on the next prompt
	rec.session(0).release()
	waitFor(t, "main to go idle", func() bool { return !p.Stats().MainBusy })

	if err := p.Submit(context.Background(), types.MainTask("m3", "third")); err != nil {
		t.Fatalf("Submit m3 failed: %v", err)
	}
	waitFor(t, "third main turn", func() bool { return rec.session(0).queryCount() == 2 })

	prompt := rec.session(0).querySnapshot()[1]
	if !strings.Contains(prompt, "<deferred_updates>") || !strings.Contains(prompt, "done") {
		t.Errorf("Deferred ephemeral output missing from prompt: %q", prompt)
	}
	if !strings.Contains(prompt, "third") {
		t.Errorf("Prompt lost the task content: %q", prompt)
	}
}

func TestMainQueueOverflowRejects(t *testing.T) {
	rec := &sessionRecorder{reply: "ok", blocking: true}
	p := newTestPool(rec, Config{MainQueueCapacity: 1, AgentLimit: 1})

	// Occupy the single limiter slot with a window turn so main overflow
	// cannot go ephemeral
	if err := p.Submit(context.Background(), types.WindowTask("w1", "wm1", "window work")); err != nil {
		t.Fatalf("Submit window task failed: %v", err)
	}
	waitFor(t, "limiter slot to be held", func() bool { return p.Stats().LimiterInUse == 1 })

	if err := p.Submit(context.Background(), types.MainTask("m1", "running")); err != nil {
		t.Fatalf("Submit m1 failed: %v", err)
	}

	if err := p.Submit(context.Background(), types.MainTask("m2", "queued")); err != nil {
		t.Fatalf("Submit m2 should queue, got: %v", err)
	}
	waitFor(t, "main queue to fill", func() bool { return p.Stats().MainQueued == 1 })

	if err := p.Submit(context.Background(), types.MainTask("m3", "overflow")); err != queue.ErrQueueFull {
		t.Fatalf("Expected ErrQueueFull, got %v", err)
	}

	waitFor(t, "main to start", func() bool {
		return rec.count() == 2 && rec.session(1).queryCount() == 1
	})

	rec.releaseAll()
	waitFor(t, "drain", func() bool {
		s := p.Stats()
		return !s.MainBusy && s.MainQueued == 0 && s.LimiterInUse == 0
	})
}

func TestQueuedMainTasksRunInOrder(t *testing.T) {
	rec := &sessionRecorder{reply: "r", blocking: true}
	p := newTestPool(rec, Config{MainQueueCapacity: 3, AgentLimit: 1})

	// Hold the limiter so queued main tasks cannot go ephemeral
	if err := p.Submit(context.Background(), types.WindowTask("w1", "wm1", "hold")); err != nil {
		t.Fatalf("Submit window task failed: %v", err)
	}
	waitFor(t, "limiter slot to be held", func() bool { return p.Stats().LimiterInUse == 1 })

	for _, content := range []string{"one", "two", "three"} {
		if err := p.Submit(context.Background(), types.MainTask("m-"+content, content)); err != nil {
			t.Fatalf("Submit %s failed: %v", content, err)
		}
	}
	waitFor(t, "main session to start", func() bool { return rec.count() >= 2 })

	main := rec.session(1)
	main.release()
	waitFor(t, "queue to drain", func() bool { return main.queryCount() == 3 })

	got := main.querySnapshot()
	for i, want := range []string{"one", "two", "three"} {
		if got[i] != want {
			t.Errorf("Turn %d: expected %q, got %q", i, want, got[i])
		}
	}

	rec.releaseAll()
	waitFor(t, "drain", func() bool { return p.Stats().LimiterInUse == 0 })
}

func TestWindowTasksSerializedPerGroup(t *testing.T) {
	rec := &sessionRecorder{reply: "r", blocking: true}
	p := newTestPool(rec, Config{AgentLimit: 4})

	for _, content := range []string{"first", "second", "third"} {
		if err := p.Submit(context.Background(), types.WindowTask("w1", "m-"+content, content)); err != nil {
			t.Fatalf("Submit %s failed: %v", content, err)
		}
	}

	waitFor(t, "first turn to start", func() bool { return rec.count() == 1 })
	if p.Stats().WindowQueued != 2 {
		t.Errorf("Expected 2 queued window tasks, got %d", p.Stats().WindowQueued)
	}

	s := rec.session(0)
	s.release()
	waitFor(t, "all three turns", func() bool { return s.queryCount() == 3 })

	got := s.querySnapshot()
	for i, want := range []string{"first", "second", "third"} {
		if got[i] != want {
			t.Errorf("Turn %d: expected %q, got %q", i, want, got[i])
		}
	}
	if rec.count() != 1 {
		t.Errorf("Same window should reuse one agent, got %d sessions", rec.count())
	}
}

func TestWindowGroupSharesAgent(t *testing.T) {
	rec := &sessionRecorder{reply: "r"}
	p := newTestPool(rec, Config{})

	if err := p.ConnectWindow("wa", "wb"); err != nil {
		t.Fatalf("ConnectWindow failed: %v", err)
	}

	if err := p.Submit(context.Background(), types.WindowTask("wa", "m1", "to parent")); err != nil {
		t.Fatalf("Submit to parent failed: %v", err)
	}
	waitFor(t, "parent turn", func() bool { return p.Tape().Len() == 2 })

	if err := p.Submit(context.Background(), types.WindowTask("wb", "m2", "to child")); err != nil {
		t.Fatalf("Submit to child failed: %v", err)
	}
	waitFor(t, "child turn", func() bool { return p.Tape().Len() == 4 })

	if rec.count() != 1 {
		t.Fatalf("Grouped windows should share one agent, got %d sessions", rec.count())
	}
	if got := rec.session(0).queryCount(); got != 2 {
		t.Errorf("Expected 2 queries on the shared session, got %d", got)
	}

	// Turns carry the submitting window's id, not the group root's
	turns := p.Tape().Snapshot()
	if turns[0].Source.Window != "wa" || turns[2].Source.Window != "wb" {
		t.Errorf("Turn sources lost window identity: %s / %s",
			turns[0].Source.Window, turns[2].Source.Window)
	}
}

func TestWindowAgentSeesRecentConversation(t *testing.T) {
	rec := &sessionRecorder{reply: "sure"}
	p := newTestPool(rec, Config{WindowInitialMaxTurns: 5})

	if err := p.Submit(context.Background(), types.MainTask("m1", "remember the plan")); err != nil {
		t.Fatalf("Submit main failed: %v", err)
	}
	waitFor(t, "main turn", func() bool { return p.Tape().Len() == 2 })

	if err := p.Submit(context.Background(), types.WindowTask("w1", "m2", "open editor")); err != nil {
		t.Fatalf("Submit window failed: %v", err)
	}
	waitFor(t, "window turn", func() bool { return p.Tape().Len() == 4 })

	ctx := rec.contexts[1]
	if !strings.Contains(ctx, "<recent_conversation>") || !strings.Contains(ctx, "remember the plan") {
		t.Errorf("Window agent missing recent conversation: %q", ctx)
	}
}

func TestCloseLastWindowDisposesAgent(t *testing.T) {
	rec := &sessionRecorder{reply: "r"}
	p := newTestPool(rec, Config{})

	if err := p.Submit(context.Background(), types.WindowTask("w1", "m1", "work")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitFor(t, "turn to finish", func() bool {
		return p.Tape().Len() == 2 && p.Stats().LimiterInUse == 0
	})

	if err := p.CloseWindow("w1"); err != nil {
		t.Fatalf("CloseWindow failed: %v", err)
	}

	if !rec.session(0).isDisposed() {
		t.Error("Closing the last window should dispose its agent")
	}
	if p.Stats().WindowAgents != 0 {
		t.Errorf("Expected no window agents, got %d", p.Stats().WindowAgents)
	}
}

func TestCloseMemberKeepsGroupAgent(t *testing.T) {
	rec := &sessionRecorder{reply: "r"}
	p := newTestPool(rec, Config{})

	p.ConnectWindow("wa", "wb")
	if err := p.Submit(context.Background(), types.WindowTask("wa", "m1", "work")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitFor(t, "turn to finish", func() bool { return p.Tape().Len() == 2 })

	if err := p.CloseWindow("wb"); err != nil {
		t.Fatalf("CloseWindow failed: %v", err)
	}

	if rec.session(0).isDisposed() {
		t.Error("Closing a member should not dispose the group's agent")
	}
}

func TestRootCloseRekeysSurvivors(t *testing.T) {
	rec := &sessionRecorder{reply: "r"}
	p := newTestPool(rec, Config{})

	p.ConnectWindow("wa", "wb")
	if err := p.Submit(context.Background(), types.WindowTask("wa", "m1", "work")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitFor(t, "turn to finish", func() bool { return p.Tape().Len() == 2 })

	// Root closes with a survivor: the agent lives on under the new root
	if err := p.CloseWindow("wa"); err != nil {
		t.Fatalf("CloseWindow failed: %v", err)
	}
	if rec.session(0).isDisposed() {
		t.Fatal("Promotion should not dispose the agent")
	}

	if err := p.Submit(context.Background(), types.WindowTask("wb", "m2", "more work")); err != nil {
		t.Fatalf("Submit after promotion failed: %v", err)
	}
	waitFor(t, "second turn", func() bool { return p.Tape().Len() == 4 })

	if rec.count() != 1 {
		t.Errorf("Survivor should keep the same agent, got %d sessions", rec.count())
	}
}

func TestCloseBusyWindowInterruptsAgent(t *testing.T) {
	rec := &sessionRecorder{reply: "r", blocking: true}
	p := newTestPool(rec, Config{AgentLimit: 2})

	if err := p.Submit(context.Background(), types.WindowTask("w1", "m1", "long work")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitFor(t, "window turn to start", func() bool {
		return rec.count() == 1 && rec.session(0).queryCount() == 1
	})

	// Park a second task behind the running one; closing drops it
	if err := p.Submit(context.Background(), types.WindowTask("w1", "m2", "never runs")); err != nil {
		t.Fatalf("Submit queued task failed: %v", err)
	}
	waitFor(t, "task to queue", func() bool { return p.Stats().WindowQueued == 1 })

	if err := p.CloseWindow("w1"); err != nil {
		t.Fatalf("CloseWindow failed: %v", err)
	}

	// The close path captured its own session reference, so the agent is
	// interrupted and disposed even though the slot's field is already
	// cleared while the worker is still mid-turn
	s := rec.session(0)
	waitFor(t, "session retirement", func() bool {
		return s.isInterrupted() && s.isDisposed()
	})

	waitFor(t, "worker to exit", func() bool {
		stats := p.Stats()
		return stats.WindowAgents == 0 && stats.WindowQueued == 0 && stats.LimiterInUse == 0
	})
	if got := s.queryCount(); got != 1 {
		t.Errorf("Dropped task should never run, got %d queries", got)
	}
}

func TestConnectWhileChildBusyRetiresStaleAgent(t *testing.T) {
	rec := &sessionRecorder{reply: "r", blocking: true}
	p := newTestPool(rec, Config{AgentLimit: 4})

	if err := p.Submit(context.Background(), types.WindowTask("wb", "m1", "child work")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitFor(t, "child turn to start", func() bool { return rec.count() == 1 })

	// Merge the busy child under a parent. Its slot key is no longer a
	// group root, so the worker retires the agent when the turn ends.
	if err := p.ConnectWindow("wa", "wb"); err != nil {
		t.Fatalf("ConnectWindow failed: %v", err)
	}

	rec.session(0).release()
	waitFor(t, "stale agent to retire", func() bool {
		return rec.session(0).isDisposed() && p.Stats().LimiterInUse == 0
	})

	// New work for the group mints a fresh agent under the root
	if err := p.Submit(context.Background(), types.WindowTask("wb", "m2", "group work")); err != nil {
		t.Fatalf("Submit after merge failed: %v", err)
	}
	waitFor(t, "fresh group agent", func() bool { return rec.count() == 2 })
	if rec.kind(1) != SlotWindow {
		t.Errorf("Expected a window agent for the merged group, got %s", rec.kind(1))
	}

	rec.releaseAll()
	waitFor(t, "drain", func() bool { return p.Stats().LimiterInUse == 0 })
}

func TestSteerMain(t *testing.T) {
	rec := &sessionRecorder{reply: "r", blocking: true}
	p := newTestPool(rec, Config{})

	if p.SteerMain("too early") {
		t.Error("Steering an idle pool should report false")
	}

	if err := p.Submit(context.Background(), types.MainTask("m1", "go")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitFor(t, "main to start", func() bool { return rec.count() == 1 })

	if !p.SteerMain("also check the logs") {
		t.Error("Steering a busy main agent should report true")
	}
	s := rec.session(0)
	s.mu.Lock()
	steered := len(s.steered)
	s.mu.Unlock()
	if steered != 1 {
		t.Errorf("Expected 1 steer delivery, got %d", steered)
	}

	if p.SteerWindow("nope", "text") {
		t.Error("Steering an unknown window should report false")
	}

	rec.releaseAll()
	waitFor(t, "drain", func() bool { return !p.Stats().MainBusy })
}

func TestResetDrainsAndClears(t *testing.T) {
	rec := &sessionRecorder{reply: "r", blocking: true}
	p := newTestPool(rec, Config{MainQueueCapacity: 3, AgentLimit: 4})

	if err := p.Submit(context.Background(), types.MainTask("m1", "busy main")); err != nil {
		t.Fatalf("Submit main failed: %v", err)
	}
	if err := p.Submit(context.Background(), types.WindowTask("w1", "wm1", "busy window")); err != nil {
		t.Fatalf("Submit window failed: %v", err)
	}
	waitFor(t, "both turns to start", func() bool {
		return rec.count() == 2 && p.Stats().LimiterInUse == 1
	})

	// Park extra work behind the busy agents
	if err := p.Submit(context.Background(), types.WindowTask("w1", "wm2", "queued window")); err != nil {
		t.Fatalf("Submit queued window failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	for i := 0; i < rec.count(); i++ {
		if !rec.session(i).isInterrupted() {
			t.Errorf("Session %d not interrupted during reset", i)
		}
		if !rec.session(i).isDisposed() {
			t.Errorf("Session %d not disposed during reset", i)
		}
	}

	stats := p.Stats()
	if stats.MainBusy || stats.MainQueued != 0 || stats.WindowQueued != 0 ||
		stats.WindowAgents != 0 || stats.EphemeralAgents != 0 || stats.LimiterInUse != 0 {
		t.Errorf("Pool not clean after reset: %+v", stats)
	}

	// The tape survives a reset; only agents and queues are dropped
	if p.Tape().Len() == 0 {
		t.Error("Reset should not clear the tape")
	}

	// The pool accepts fresh work with fresh agents afterwards
	before := rec.count()
	if err := p.Submit(context.Background(), types.MainTask("m2", "after reset")); err != nil {
		t.Fatalf("Submit after reset failed: %v", err)
	}
	waitFor(t, "fresh main session", func() bool { return rec.count() == before+1 })
	rec.releaseAll()
	waitFor(t, "drain", func() bool { return !p.Stats().MainBusy })
}

func TestResetOnIdlePool(t *testing.T) {
	rec := &sessionRecorder{reply: "r"}
	p := newTestPool(rec, Config{})

	if err := p.Reset(context.Background()); err != nil {
		t.Fatalf("Reset on an idle pool failed: %v", err)
	}
}

func TestSubmitDuringResetRejected(t *testing.T) {
	rec := &sessionRecorder{reply: "r"}
	p := newTestPool(rec, Config{})

	p.mu.Lock()
	p.resetting = true
	p.mu.Unlock()

	if err := p.Submit(context.Background(), types.MainTask("m1", "x")); err != ErrPoolResetting {
		t.Fatalf("Expected ErrPoolResetting, got %v", err)
	}
	if err := p.ConnectWindow("a", "b"); err != ErrPoolResetting {
		t.Fatalf("Expected ErrPoolResetting from ConnectWindow, got %v", err)
	}
	if err := p.CloseWindow("a"); err != ErrPoolResetting {
		t.Fatalf("Expected ErrPoolResetting from CloseWindow, got %v", err)
	}
}
