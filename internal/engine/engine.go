package engine

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loom-app/loom/internal/broadcast"
	"github.com/loom-app/loom/internal/device"
	"github.com/loom-app/loom/internal/flow"
	"github.com/loom-app/loom/internal/llm"
	"github.com/loom-app/loom/internal/persist"
)

// DefaultMaxVisits is the per-chain node-visit cap. The graph may contain
// cycles; once-bookkeeping is the author-facing defense, this cap is the
// safety net against buggy graphs that evade it.
const DefaultMaxVisits = 256

// Journal records engine activity for the trace and replay commands.
// Implemented by journal.Store; nil disables journaling.
type Journal interface {
	RecordEvent(seq int64, eventType string, data EventData) error
	RecordExecution(seq int64, execID, flowID, nodeID, status string) error
	RecordBroadcast(seq int64, envType string, payload any) error
}

// SettingsStore persists reminder and button toggles and serves the
// character documents for post-toggle refresh broadcasts. Implemented by
// persist.Store; nil makes toggle actions fail as config errors.
type SettingsStore interface {
	ToggleReminder(id string, isGlobal, enable bool) error
	ToggleButton(id string, isGlobal, enable bool) error
	Characters() ([]persist.Character, error)
}

// flowState is the per-activation mutable state of a flow.
type flowState struct {
	executedOnce map[string]bool // node ids consumed by fireOnlyOnce/executeOnce
	onceConds    map[string]bool // condition keys consumed by onlyOnce
}

func newFlowState() *flowState {
	return &flowState{
		executedOnce: make(map[string]bool),
		onceConds:    make(map[string]bool),
	}
}

// execution is the active-execution record for one running flow: priority
// and notify inheritance for resume paths, plus UI progress reporting.
type execution struct {
	ID        string
	FlowID    string
	FlowName  string
	TriggerID string
	Priority  *int
	Notify    bool
	Total     int
	Step      int
	Waiting   bool
}

// Engine executes activated flows against external events.
//
// Concurrency model: inbound events and pending-op resumptions enter a
// serialized mailbox drained by Run; the loop makes all dispatch decisions,
// so per-event bookkeeping (message counts, pause countdowns) is strictly
// ordered before trigger matching. Chains run as goroutines; every engine
// state mutation happens under mu, and every blocking step (broadcast,
// device I/O, delay, LLM call) runs unlocked with an abort-epoch check on
// return.
//
// The abort epoch is the sole cancellation signal: preemption bumps it, and
// every in-flight chain exits at its next suspension point. Pending-op
// resumers compare their snapshot against the current epoch and bail if the
// world changed, regardless of which goroutine re-enters.
type Engine struct {
	mu sync.Mutex

	box   *mailbox
	clock *Clock

	driver   device.Driver
	catalog  *device.Catalog
	sink     broadcast.Sink
	gen      llm.Generator
	jrn      Journal
	settings SettingsStore
	idGen    TokenGenerator
	sched    Scheduler
	rng      *rand.Rand

	flows     map[string]*flow.ActiveFlow
	flowOrder []string
	states    map[string]*flowState
	session   *Session

	pendingCycles     map[string]pendingDevice // device key
	pendingDeviceOn   map[string]pendingDevice // device key
	pendingChoices    map[string]pendingChoice // node id
	pendingChallenges map[string]pendingChallenge
	pendingInputs     map[string]pendingInput
	pendingPauses     map[string]*pendingPause // flowID:nodeID

	monitors   map[string]*deviceMonitor // device key
	depths     map[string]int            // flow id -> execution depth
	executions map[string]*execution     // flow id
	timers     *timerSet

	messageCount int
	cooldowns    map[string]int // flowID:nodeID -> messageCount at last fire
	lastActivity time.Time
	prevPlayer   playerState

	paused      bool
	pauseReason string
	pausedEnv   *broadcast.Envelope
	pausedLabel string
	resumeCh    chan struct{}

	epoch   atomic.Int64
	aborted atomic.Bool

	busy     int
	idleCond *sync.Cond

	maxVisits    int
	idleInterval time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithScheduler replaces the wall clock. Tests use a manual scheduler.
func WithScheduler(s Scheduler) Option {
	return func(e *Engine) { e.sched = s }
}

// WithTokenGenerator replaces the execution-id generator.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(e *Engine) { e.idGen = g }
}

// WithRandSeed seeds the tie-break and weighted-branch source for
// deterministic tests.
func WithRandSeed(seed int64) Option {
	return func(e *Engine) { e.rng = rand.New(rand.NewSource(seed)) }
}

// WithSettings attaches the reminder/button settings store.
func WithSettings(s SettingsStore) Option {
	return func(e *Engine) { e.settings = s }
}

// WithJournal attaches an activity journal.
func WithJournal(j Journal) Option {
	return func(e *Engine) { e.jrn = j }
}

// WithMaxVisits sets the per-chain node-visit cap.
func WithMaxVisits(n int) Option {
	return func(e *Engine) { e.maxVisits = n }
}

// WithIdleCheck enables the idle ticker: every interval, an idle event is
// posted carrying the elapsed idle time. Zero disables (the default).
func WithIdleCheck(interval time.Duration) Option {
	return func(e *Engine) { e.idleInterval = interval }
}

// WithClock replaces the logical clock. Used by replay to resume from a
// journaled sequence position.
func WithClock(c *Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// New creates an engine. The sink receives all outbound broadcasts; it is
// wrapped with the abort gate internally, so callers pass the raw transport.
func New(
	catalog *device.Catalog,
	driver device.Driver,
	sink broadcast.Sink,
	gen llm.Generator,
	opts ...Option,
) *Engine {
	e := &Engine{
		box:               newMailbox(),
		clock:             NewClock(),
		driver:            driver,
		catalog:           catalog,
		gen:               gen,
		idGen:             UUIDv7Generator{},
		sched:             RealScheduler{},
		rng:               rand.New(rand.NewSource(time.Now().UnixNano())),
		flows:             make(map[string]*flow.ActiveFlow),
		states:            make(map[string]*flowState),
		session:           newSession(),
		pendingCycles:     make(map[string]pendingDevice),
		pendingDeviceOn:   make(map[string]pendingDevice),
		pendingChoices:    make(map[string]pendingChoice),
		pendingChallenges: make(map[string]pendingChallenge),
		pendingInputs:     make(map[string]pendingInput),
		pendingPauses:     make(map[string]*pendingPause),
		monitors:          make(map[string]*deviceMonitor),
		depths:            make(map[string]int),
		executions:        make(map[string]*execution),
		timers:            newTimerSet(),
		cooldowns:         make(map[string]int),
		maxVisits:         DefaultMaxVisits,
	}
	e.idleCond = sync.NewCond(&e.mu)
	e.sink = broadcast.NewAdapter(sink, e.aborted.Load)

	for _, opt := range opts {
		opt(e)
	}
	e.lastActivity = e.sched.Now()
	e.prevPlayer = e.session.snapshot()
	return e
}

// Session returns the engine's session state. Mutate only through engine
// methods; direct reads are for tests and status handlers.
func (e *Engine) Session() *Session {
	return e.session
}

// Clock returns the logical clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// Run starts the serialized mailbox loop. Blocks until ctx is cancelled or
// Stop is called.
//
// Error handling is log-and-continue: a failed handler is logged with its
// message name and processing moves on. Errors never terminate the engine.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting")

	if e.idleInterval > 0 {
		e.scheduleIdleCheck()
	}

	for {
		// Busy is claimed before the dequeue so a WaitIdle caller can
		// never observe an empty queue while a message is in flight.
		e.enterBusy()
		msg, ok := e.box.tryDequeue()
		if ok {
			msg.fn()
			e.exitBusy()
			continue
		}
		e.exitBusy()

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.box.close()
			return ctx.Err()

		case <-e.box.wait():
			// The signal channel coalesces: a token can survive a fast-path
			// dequeue, so an empty queue alone does not mean closure.
			if e.box.isClosed() && e.box.len() == 0 {
				slog.Info("engine stopping: mailbox closed")
				return nil
			}
		}
	}
}

// Stop closes the mailbox, which causes Run to return after draining.
func (e *Engine) Stop() {
	e.box.close()
}

// post enqueues serialized work. Returns false after Stop.
func (e *Engine) post(name string, fn func()) bool {
	return e.box.enqueue(message{name: name, fn: fn})
}

// scheduleIdleCheck arms the recurring idle ticker. Each tick posts an idle
// event; triggers decide from elapsed idle time whether to fire.
func (e *Engine) scheduleIdleCheck() {
	e.sched.AfterFunc(e.idleInterval, func() {
		if e.HandleEvent(Event{Type: EventIdle}) {
			e.scheduleIdleCheck()
		}
	})
}

// busy tracking: WaitIdle blocks until the mailbox is drained and no chain
// goroutine is runnable. Chains parked in a delay or in the paused gate
// release their busy slot so deterministic tests can advance time.

func (e *Engine) enterBusy() {
	e.mu.Lock()
	e.busy++
	e.mu.Unlock()
}

func (e *Engine) exitBusy() {
	e.mu.Lock()
	e.busy--
	if e.busy == 0 && e.box.len() == 0 {
		e.idleCond.Broadcast()
	}
	e.mu.Unlock()
}

// WaitIdle blocks until the engine has no runnable work. Pending ops and
// parked delays do not count as work. Used by tests and the simulate
// command.
func (e *Engine) WaitIdle() {
	e.mu.Lock()
	for e.busy > 0 || e.box.len() > 0 {
		e.idleCond.Wait()
	}
	e.mu.Unlock()
}

// send broadcasts one envelope and journals it. Runs unlocked; callers must
// not hold mu. While the engine is paused, flow messages park here until
// ResumeFlows, which re-broadcasts the most recent one itself.
func (e *Engine) send(ctx context.Context, env broadcast.Envelope) {
	if e.gatePaused(env) {
		return
	}

	if e.jrn != nil {
		if err := e.jrn.RecordBroadcast(e.clock.Next(), string(env.Type), env.Payload); err != nil {
			slog.Warn("journal broadcast failed", "type", env.Type, "error", err)
		}
	}
	if err := e.sink.Send(ctx, env); err != nil {
		slog.Error("broadcast failed", "type", env.Type, "error", err)
	}
}

// gatePaused parks flow-message sends while the engine is paused and
// reports whether the send was absorbed. Only the most recent parked
// envelope is kept; ResumeFlows re-broadcasts it. Status events pass
// through untouched.
func (e *Engine) gatePaused(env broadcast.Envelope) bool {
	switch env.Type {
	case broadcast.TypeAIMessage, broadcast.TypePlayerMessage, broadcast.TypeFlowMessage:
	default:
		return false
	}

	e.mu.Lock()
	if !e.paused {
		e.mu.Unlock()
		return false
	}
	e.pausedEnv = &env
	if m, ok := env.Payload.(broadcast.FlowMessage); ok {
		e.pausedLabel = ""
		if af := e.flows[m.FlowID]; af != nil {
			if n := af.Flow.Node(m.NodeID); n != nil {
				e.pausedLabel = n.Label
			}
		}
	}
	ch := e.resumeCh
	e.busy--
	if e.busy == 0 && e.box.len() == 0 {
		e.idleCond.Broadcast()
	}
	e.mu.Unlock()

	<-ch

	e.mu.Lock()
	e.busy++
	e.mu.Unlock()
	return true
}

// reportError broadcasts a non-fatal error and logs it.
func (e *Engine) reportError(ctx context.Context, err error, context_ string) {
	slog.Warn("flow error", "context", context_, "error", err)
	e.send(ctx, broadcast.Envelope{Type: broadcast.TypeError, Payload: broadcast.Error{
		Message: err.Error(),
		Context: context_,
	}})
}

// journalExec records a chain lifecycle transition.
func (e *Engine) journalExec(execID, flowID, nodeID, status string) {
	if e.jrn == nil {
		return
	}
	if err := e.jrn.RecordExecution(e.clock.Next(), execID, flowID, nodeID, status); err != nil {
		slog.Warn("journal execution failed", "flow", flowID, "error", err)
	}
}
