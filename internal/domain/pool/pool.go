package pool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/sorryhyun/yaar/internal/domain/assembly"
	"github.com/sorryhyun/yaar/internal/domain/limiter"
	"github.com/sorryhyun/yaar/internal/domain/queue"
	"github.com/sorryhyun/yaar/internal/domain/sessionlog"
	"github.com/sorryhyun/yaar/internal/domain/tape"
	"github.com/sorryhyun/yaar/internal/domain/windows"
	"github.com/sorryhyun/yaar/internal/infrastructure/monitoring"
	"github.com/sorryhyun/yaar/internal/shared/id"
	"github.com/sorryhyun/yaar/internal/shared/types"
)

// ErrPoolResetting is returned for any submission or mutation attempted
// while a reset cycle is in progress
var ErrPoolResetting = errors.New("pool is resetting")

// Config holds the pool's tunable knobs
type Config struct {
	MainQueueCapacity     int
	AgentLimit            int
	WindowInitialMaxTurns int
}

// Pool routes tasks to agent sessions and owns their lifecycles
type Pool struct {
	logger  *zap.Logger
	metrics *monitoring.Metrics
	store   *sessionlog.FileStore
	sink    EventSink

	factory     SessionFactory
	tape        *tape.Tape
	connections *windows.ConnectionPolicy
	assembler   *assembly.Policy
	mainQueue   *queue.MainQueue
	windowQueue *queue.KeyedFIFO[string, types.Task]
	lim         *limiter.Limiter
	inflight    *inflightTracker

	mu              sync.Mutex
	main            *Slot
	windowSlots     map[string]*Slot // keyed by group root
	ephemerals      map[id.AgentID]*Slot
	openWindows     map[string]bool
	pendingTimeline []string
	resetting       bool
}

// New creates a pool. The factory is the only required collaborator;
// metrics, the session log store, and the event sink attach via the
// With* builders.
func New(factory SessionFactory, t *tape.Tape, cfg Config, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		logger:      logger,
		factory:     factory,
		tape:        t,
		connections: windows.NewConnectionPolicy(),
		assembler:   assembly.NewPolicy(cfg.WindowInitialMaxTurns),
		mainQueue:   queue.NewMainQueue(cfg.MainQueueCapacity),
		windowQueue: queue.NewKeyedFIFO[string, types.Task](),
		lim:         limiter.New(cfg.AgentLimit),
		inflight:    newInflightTracker(),
		windowSlots: make(map[string]*Slot),
		ephemerals:  make(map[id.AgentID]*Slot),
		openWindows: make(map[string]bool),
	}
}

// WithMetrics attaches a metrics collector
func (p *Pool) WithMetrics(m *monitoring.Metrics) *Pool {
	p.metrics = m
	return p
}

// WithStore attaches the session log store
func (p *Pool) WithStore(s *sessionlog.FileStore) *Pool {
	p.store = s
	return p
}

// WithSink attaches an event sink
func (p *Pool) WithSink(sink EventSink) *Pool {
	p.sink = sink
	return p
}

// Tape returns the conversation tape
func (p *Pool) Tape() *tape.Tape {
	return p.tape
}

// Connections returns the window grouping policy
func (p *Pool) Connections() *windows.ConnectionPolicy {
	return p.connections
}

// Submit routes a task to the right agent. It never blocks on agent
// work: busy targets queue (or overflow to an ephemeral agent for the
// main channel), and the task runs on a pool goroutine.
func (p *Pool) Submit(ctx context.Context, task types.Task) error {
	p.mu.Lock()
	if p.resetting {
		p.mu.Unlock()
		p.recordRejected("resetting")
		return ErrPoolResetting
	}

	switch task.Kind {
	case types.KindMain:
		return p.submitMainLocked(task)
	case types.KindWindow:
		if task.WindowID == "" {
			p.mu.Unlock()
			return fmt.Errorf("window task %s has no window id", task.MessageID)
		}
		return p.submitWindowLocked(task)
	default:
		p.mu.Unlock()
		return fmt.Errorf("unknown task kind %q", task.Kind)
	}
}

// submitMainLocked routes a main-channel task. Called with p.mu held;
// unlocks before returning.
func (p *Pool) submitMainLocked(task types.Task) error {
	if p.main == nil {
		p.main = newSlot(SlotMain, "")
	}

	if !p.main.Busy {
		slot := p.main
		slot.Busy = true
		p.inflight.Enter()
		p.mu.Unlock()

		p.recordSubmitted(task)
		go p.runMainLoop(slot, task)
		return nil
	}

	// Main agent busy: overflow to a one-shot ephemeral agent when the
	// limiter has a free slot
	if p.lim.TryAcquire() {
		slot := newSlot(SlotEphemeral, "")
		slot.Busy = true
		p.ephemerals[slot.ID] = slot
		p.inflight.Enter()
		p.mu.Unlock()

		p.recordSubmitted(task)
		go p.runEphemeralTurn(slot, task)
		return nil
	}

	err := p.mainQueue.Enqueue(task)
	p.mu.Unlock()
	if err != nil {
		p.recordRejected("queue_full")
		return err
	}
	p.recordSubmitted(task)
	p.publish(Event{Type: EventTaskQueued, Source: types.MainSource(), MessageID: task.MessageID})
	return nil
}

// submitWindowLocked routes a window-channel task. Called with p.mu
// held; unlocks before returning.
func (p *Pool) submitWindowLocked(task types.Task) error {
	p.openWindows[task.WindowID] = true
	key := p.groupKeyLocked(task.WindowID)

	slot := p.windowSlots[key]
	if slot != nil && slot.Busy {
		p.windowQueue.Enqueue(key, task)
		p.mu.Unlock()

		p.recordSubmitted(task)
		p.publish(Event{Type: EventTaskQueued, Source: types.WindowSource(task.WindowID), MessageID: task.MessageID})
		return nil
	}

	if slot == nil {
		slot = newSlot(SlotWindow, key)
		p.windowSlots[key] = slot
	}
	slot.Busy = true
	p.mu.Unlock()

	p.recordSubmitted(task)
	go p.runWindowLoop(slot, task)
	return nil
}

// groupKeyLocked resolves the slot key for a window: its group root, or
// the window's own id when it is stand-alone
func (p *Pool) groupKeyLocked(windowID string) string {
	if root, ok := p.connections.GetRoot(windowID); ok {
		return root
	}
	return windowID
}

// runMainLoop runs the task, then keeps draining the main queue until
// it is empty or a reset begins. Entered inflight by the submitter.
func (p *Pool) runMainLoop(slot *Slot, task types.Task) {
	defer p.inflight.Exit()

	for {
		p.runTurn(slot, task, types.MainSource(), p.drainTimeline())

		p.mu.Lock()
		if p.resetting {
			slot.Busy = false
			p.mu.Unlock()
			return
		}
		entry, ok := p.mainQueue.Dequeue()
		if !ok {
			slot.Busy = false
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
		task = entry.Task
	}
}

// runEphemeralTurn runs one overflow main task on a throwaway agent and
// defers its output onto the shared timeline. Holds one limiter slot
// and one inflight entry, both taken by the submitter.
func (p *Pool) runEphemeralTurn(slot *Slot, task types.Task) {
	defer p.inflight.Exit()
	defer p.lim.Release()
	defer func() {
		p.mu.Lock()
		delete(p.ephemerals, slot.ID)
		session := slot.Session
		slot.Session = nil
		p.mu.Unlock()

		if session != nil {
			if err := session.Dispose(); err != nil {
				p.logger.Warn("failed to dispose ephemeral session",
					zap.String("agent_id", slot.ID.String()),
					zap.Error(err))
			}
			p.agentGone(SlotEphemeral)
		}
	}()

	reply, ok := p.runTurn(slot, task, types.MainSource(), "")
	if !ok || reply == "" {
		return
	}

	p.mu.Lock()
	if !p.resetting {
		p.pendingTimeline = append(p.pendingTimeline, reply)
	}
	p.mu.Unlock()
}

// runWindowLoop serializes tasks for one window group. The limiter slot
// is acquired here rather than at submit time so submissions never
// block; inflight registration waits until the slot is held.
func (p *Pool) runWindowLoop(slot *Slot, task types.Task) {
	if err := p.lim.Acquire(context.Background()); err != nil {
		p.logger.Warn("window task dropped before acquiring agent slot",
			zap.String("window_id", task.WindowID),
			zap.Error(err))
		p.mu.Lock()
		slot.Busy = false
		p.mu.Unlock()
		p.recordFinished(task, true)
		return
	}

	p.mu.Lock()
	if p.resetting {
		slot.Busy = false
		p.mu.Unlock()
		p.lim.Release()
		p.recordFinished(task, true)
		return
	}
	p.inflight.Enter()
	p.mu.Unlock()

	defer p.inflight.Exit()
	defer p.lim.Release()

	for {
		p.runTurn(slot, task, types.WindowSource(task.WindowID), "")

		p.mu.Lock()
		if p.resetting {
			slot.Busy = false
			p.mu.Unlock()
			return
		}
		next, ok := p.windowQueue.Dequeue(slot.Key)
		if !ok {
			slot.Busy = false
			p.retireStaleSlotLocked(slot)
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
		task = next
	}
}

// retireStaleSlotLocked disposes a window slot whose key stopped being
// a group root while it was running (the group was merged into another
// one). The canonical slot for the group lives under the new root.
func (p *Pool) retireStaleSlotLocked(slot *Slot) {
	root, ok := p.connections.GetRoot(slot.Key)
	if !ok || root == slot.Key {
		return
	}
	if p.windowSlots[slot.Key] == slot {
		delete(p.windowSlots, slot.Key)
	}
	session := slot.Session
	slot.Session = nil
	if session != nil {
		go p.disposeSession(session, SlotWindow, slot.ID)
	}
}

// runTurn executes one task on the slot's session: append the user
// turn, stream the reply, append the assistant turn. Returns the reply
// text and whether the turn ran at all.
func (p *Pool) runTurn(slot *Slot, task types.Task, source types.Source, deferred string) (string, bool) {
	session, err := p.ensureSession(slot)
	if err != nil {
		p.logger.Error("failed to start agent session",
			zap.String("kind", string(slot.Kind)),
			zap.String("message_id", task.MessageID),
			zap.Error(err))
		p.recordFinished(task, true)
		return "", false
	}

	p.appendTurn(types.RoleUser, task.Content, source, slot)

	prompt := task.Content
	if deferred != "" {
		prompt = deferred + "\n" + task.Content
	}

	stream, err := session.Query(context.Background(), prompt, QueryOptions{Images: task.Images})
	if err != nil {
		p.logger.Error("agent query failed",
			zap.String("kind", string(slot.Kind)),
			zap.String("message_id", task.MessageID),
			zap.Error(err))
		p.recordFinished(task, true)
		return "", false
	}

	var b strings.Builder
	for msg := range stream {
		b.WriteString(msg.Content)
		p.publish(Event{
			Type:      EventChunk,
			Role:      msg.Role,
			Source:    source,
			MessageID: task.MessageID,
			Content:   msg.Content,
		})
	}

	reply := b.String()
	if reply != "" {
		p.appendTurn(types.RoleAssistant, reply, source, slot)
	}
	p.recordFinished(task, false)
	return reply, true
}

// ensureSession returns the slot's session, creating it on first use.
// The factory runs without the pool lock held; a reset that began in
// the meantime wins and the fresh session is disposed immediately.
func (p *Pool) ensureSession(slot *Slot) (AgentSession, error) {
	p.mu.Lock()
	if slot.Session != nil {
		session := slot.Session
		p.mu.Unlock()
		return session, nil
	}
	p.mu.Unlock()

	var initial string
	if slot.Kind == SlotWindow || slot.Kind == SlotEphemeral {
		initial = p.assembler.BuildWindowInitialContext(p.tape, 0)
	}

	session, err := p.factory(slot.Kind, initial)
	if err != nil {
		return nil, fmt.Errorf("session factory failed for %s agent: %w", slot.Kind, err)
	}

	p.mu.Lock()
	if p.resetting {
		p.mu.Unlock()
		if derr := session.Dispose(); derr != nil {
			p.logger.Warn("failed to dispose session created during reset", zap.Error(derr))
		}
		return nil, ErrPoolResetting
	}
	slot.Session = session
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.AgentsActive.WithLabelValues(string(slot.Kind)).Inc()
	}
	return session, nil
}

// drainTimeline takes all deferred ephemeral output, formatted as a
// block the main agent's next prompt carries. Empty when nothing is
// pending.
func (p *Pool) drainTimeline() string {
	p.mu.Lock()
	pending := p.pendingTimeline
	p.pendingTimeline = nil
	p.mu.Unlock()

	if len(pending) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("<deferred_updates>\n")
	for _, entry := range pending {
		b.WriteString(entry)
		b.WriteString("\n")
	}
	b.WriteString("</deferred_updates>")
	return b.String()
}

// ConnectWindow records that parent spawned child, merging the child
// into the parent's group. A stand-alone agent the child already owned
// is retired; its queued tasks move to the group's root.
func (p *Pool) ConnectWindow(parentID, childID string) error {
	p.mu.Lock()
	if p.resetting {
		p.mu.Unlock()
		return ErrPoolResetting
	}

	p.connections.ConnectWindow(parentID, childID)
	p.openWindows[parentID] = true
	p.openWindows[childID] = true

	root, _ := p.connections.GetRoot(childID)
	var orphaned AgentSession
	var orphanID id.AgentID
	if stale := p.windowSlots[childID]; stale != nil && childID != root {
		p.windowQueue.Rekey(childID, root)
		if !stale.Busy {
			delete(p.windowSlots, childID)
			orphaned = stale.Session
			orphanID = stale.ID
			stale.Session = nil
		}
		// A busy stale slot finishes its turn and retires itself
	}
	p.mu.Unlock()

	if orphaned != nil {
		p.disposeSession(orphaned, SlotWindow, orphanID)
	}
	return nil
}

// CloseWindow removes the window from its group. When the closed window
// was the last member (or stand-alone), the group's agent is
// interrupted and disposed and its queued tasks are dropped; when the
// root closed with survivors, the slot and its queue move to the
// promoted root.
func (p *Pool) CloseWindow(windowID string) error {
	p.mu.Lock()
	if p.resetting {
		p.mu.Unlock()
		return ErrPoolResetting
	}

	delete(p.openWindows, windowID)
	oldKey := p.groupKeyLocked(windowID)
	result := p.connections.HandleClose(windowID)

	var retired AgentSession
	var retiredID id.AgentID
	var wasBusy bool
	switch {
	case result.ShouldDisposeAgent:
		if slot := p.windowSlots[oldKey]; slot != nil {
			delete(p.windowSlots, oldKey)
			// Local reference taken under the lock so a concurrent
			// field clear cannot race the interrupt below
			retired = slot.Session
			retiredID = slot.ID
			wasBusy = slot.Busy
			slot.Session = nil
		}
		for {
			if _, ok := p.windowQueue.Dequeue(oldKey); !ok {
				break
			}
		}
	case result.NewRoot != "":
		if slot := p.windowSlots[oldKey]; slot != nil {
			delete(p.windowSlots, oldKey)
			slot.Key = result.NewRoot
			p.windowSlots[result.NewRoot] = slot
		}
		p.windowQueue.Rekey(oldKey, result.NewRoot)
	}
	p.mu.Unlock()

	if retired != nil {
		if wasBusy {
			if err := retired.Interrupt(); err != nil {
				p.logger.Warn("failed to interrupt window session on close",
					zap.String("window_id", windowID),
					zap.Error(err))
			}
		}
		p.disposeSession(retired, SlotWindow, retiredID)
	}

	p.publish(Event{Type: EventWindowClosed, Source: types.WindowSource(windowID)})
	return nil
}

// SteerMain injects text into the main agent's in-progress turn
func (p *Pool) SteerMain(text string) bool {
	p.mu.Lock()
	var session AgentSession
	if p.main != nil && p.main.Busy {
		session = p.main.Session
	}
	p.mu.Unlock()

	if session == nil {
		return false
	}
	return session.Steer(text)
}

// SteerWindow injects text into the window group's in-progress turn
func (p *Pool) SteerWindow(windowID, text string) bool {
	p.mu.Lock()
	key := p.groupKeyLocked(windowID)
	var session AgentSession
	if slot := p.windowSlots[key]; slot != nil && slot.Busy {
		session = slot.Session
	}
	p.mu.Unlock()

	if session == nil {
		return false
	}
	return session.Steer(text)
}

// Reset drains the pool in a fixed order: reject new work, interrupt
// every live session, wait for in-flight turns to finish, dispose
// sessions, then clear queues, groups, the deferred timeline, and
// limiter waiters. The context bounds only the drain wait.
func (p *Pool) Reset(ctx context.Context) error {
	p.mu.Lock()
	if p.resetting {
		p.mu.Unlock()
		return ErrPoolResetting
	}
	p.resetting = true
	live := p.collectSessionsLocked()
	p.mu.Unlock()

	for _, session := range live {
		if err := session.Interrupt(); err != nil {
			p.logger.Warn("failed to interrupt session during reset", zap.Error(err))
		}
	}

	if err := p.inflight.Await(ctx); err != nil {
		p.mu.Lock()
		p.resetting = false
		p.mu.Unlock()
		return fmt.Errorf("reset abandoned waiting for in-flight turns: %w", err)
	}

	// Re-collect: a session created between the first sweep and the
	// drain barrier would otherwise leak. Ephemerals dispose themselves
	// on exit and are gone by now.
	p.mu.Lock()
	remaining := p.collectSessionsLocked()
	p.mu.Unlock()

	for _, session := range remaining {
		if err := session.Dispose(); err != nil {
			p.logger.Warn("failed to dispose session during reset", zap.Error(err))
		}
	}

	p.mainQueue.Clear()
	p.windowQueue.Clear()
	p.connections.Clear()
	p.lim.ClearWaiting(ErrPoolResetting)

	p.mu.Lock()
	p.main = nil
	p.windowSlots = make(map[string]*Slot)
	p.ephemerals = make(map[id.AgentID]*Slot)
	p.openWindows = make(map[string]bool)
	p.pendingTimeline = nil
	p.resetting = false
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.PoolResets.Inc()
		for _, kind := range []SlotKind{SlotMain, SlotEphemeral, SlotWindow} {
			p.metrics.AgentsActive.WithLabelValues(string(kind)).Set(0)
		}
	}
	p.publish(Event{Type: EventPoolReset, Source: types.MainSource()})
	p.logger.Info("pool reset complete")
	return nil
}

// collectSessionsLocked gathers local references to every live session
func (p *Pool) collectSessionsLocked() []AgentSession {
	var out []AgentSession
	if p.main != nil && p.main.Session != nil {
		out = append(out, p.main.Session)
	}
	for _, slot := range p.windowSlots {
		if slot.Session != nil {
			out = append(out, slot.Session)
		}
	}
	for _, slot := range p.ephemerals {
		if slot.Session != nil {
			out = append(out, slot.Session)
		}
	}
	return out
}

// Stats is a point-in-time snapshot of pool state
type Stats struct {
	Resetting       bool          `json:"resetting"`
	MainBusy        bool          `json:"main_busy"`
	MainQueued      int           `json:"main_queued"`
	WindowQueued    int           `json:"window_queued"`
	WindowAgents    int           `json:"window_agents"`
	EphemeralAgents int           `json:"ephemeral_agents"`
	OpenWindows     int           `json:"open_windows"`
	LimiterInUse    int           `json:"limiter_in_use"`
	LimiterWaiting  int           `json:"limiter_waiting"`
	Tape            tape.Stats    `json:"tape"`
	Groups          windows.Stats `json:"groups"`
}

// Stats snapshots the pool
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	stats := Stats{
		Resetting:       p.resetting,
		MainBusy:        p.main != nil && p.main.Busy,
		WindowAgents:    len(p.windowSlots),
		EphemeralAgents: len(p.ephemerals),
		OpenWindows:     len(p.openWindows),
	}
	p.mu.Unlock()

	stats.MainQueued = p.mainQueue.Len()
	stats.WindowQueued = p.windowQueue.TotalSize()
	stats.LimiterInUse = p.lim.InUse()
	stats.LimiterWaiting = p.lim.WaitingCount()
	stats.Tape = p.tape.Stats()
	stats.Groups = p.connections.Stats()

	if p.metrics != nil {
		p.metrics.LimiterInUse.Set(float64(stats.LimiterInUse))
		p.metrics.LimiterWaiting.Set(float64(stats.LimiterWaiting))
	}
	return stats
}

// OpenWindows lists the currently open window ids
func (p *Pool) OpenWindows() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, 0, len(p.openWindows))
	for windowID := range p.openWindows {
		out = append(out, windowID)
	}
	return out
}

func (p *Pool) appendTurn(role types.Role, content string, source types.Source, slot *Slot) {
	turn := p.tape.Append(role, content, source)

	if p.metrics != nil {
		channel := "main"
		if !source.IsMain() {
			channel = "window"
		}
		p.metrics.RecordTapeTurn(channel)
	}

	if p.store != nil {
		src := source
		record := sessionlog.Record{
			Type:      role,
			Timestamp: turn.Timestamp,
			AgentID:   slot.ID.String(),
			Source:    &src,
			Content:   content,
		}
		if err := p.store.Append(record); err != nil {
			p.logger.Warn("failed to persist session record",
				zap.String("agent_id", slot.ID.String()),
				zap.Error(err))
		}
	}

	p.publish(Event{Type: EventTurnAppended, Role: role, Source: source, Content: content})
}

func (p *Pool) disposeSession(session AgentSession, kind SlotKind, agentID id.AgentID) {
	if err := session.Dispose(); err != nil {
		p.logger.Warn("failed to dispose session",
			zap.String("agent_id", agentID.String()),
			zap.Error(err))
	}
	p.agentGone(kind)
}

func (p *Pool) agentGone(kind SlotKind) {
	if p.metrics != nil {
		p.metrics.AgentsActive.WithLabelValues(string(kind)).Dec()
	}
}

func (p *Pool) publish(event Event) {
	if p.sink != nil {
		p.sink.Publish(event)
	}
}

func (p *Pool) recordSubmitted(task types.Task) {
	if p.metrics != nil {
		p.metrics.RecordTaskSubmitted(string(task.Kind))
	}
}

func (p *Pool) recordRejected(reason string) {
	if p.metrics != nil {
		p.metrics.RecordTaskRejected(reason)
	}
}

func (p *Pool) recordFinished(task types.Task, failed bool) {
	if p.metrics != nil {
		p.metrics.RecordTaskFinished(string(task.Kind), failed)
	}
}
