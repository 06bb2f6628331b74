package weft

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"

	"golang.org/x/net/html"
)

// HandlerFunc is an action body: a single-turn unit of work. Errors are
// logged and contained; they never unwind the loop.
type HandlerFunc func(ctx *Ctx) error

// TaskFunc builds a Task when its trigger fires. Shared step state lives in
// variables the steps close over.
type TaskFunc func(ctx *Ctx) *Task

// job is one unit of work on the engine loop. Every job is followed by a
// render pass, so writes made during it batch into one update.
type job struct {
	name string
	fn   func() error
}

// post queues a job. Safe to call from any goroutine; this is the only
// engine entry point that is.
func (e *Engine) post(j job) {
	e.queueMu.Lock()
	e.queue = append(e.queue, j)
	e.queueMu.Unlock()
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) takeJob() (job, bool) {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	if len(e.queue) == 0 {
		return job{}, false
	}
	j := e.queue[0]
	e.queue = e.queue[1:]
	return j, true
}

func (e *Engine) pendingJobs() int {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	return len(e.queue)
}

// Settle drains the queue synchronously, one turn per job, and finishes
// with a render pass. It returns the number of jobs run. Tasks parked on
// unsettled promises stay parked; resolve the promise and settle again.
func (e *Engine) Settle() int {
	n := 0
	for {
		j, ok := e.takeJob()
		if !ok {
			break
		}
		e.runJob(j)
		n++
	}
	e.flushNow()
	return n
}

// Run processes turns until the context is done. All document and store
// access happens on the calling goroutine.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			e.Settle()
			return ctx.Err()
		case <-e.wake:
			e.Settle()
		}
	}
}

func (e *Engine) runJob(j job) {
	defer func() {
		if r := recover(); r != nil {
			e.reportError("turn "+j.name, fmt.Errorf("panic: %v\n%s", r, debug.Stack()))
		}
	}()
	if err := j.fn(); err != nil {
		e.reportError("turn "+j.name, err)
	}
	e.flushNow()
}

// Ctx carries the invocation context of a handler, watch callback, task
// step, or captured-scope callback: the owning node, the active namespace,
// the context scope chain, and the triggering event if any.
type Ctx struct {
	engine *Engine
	node   *html.Node
	ns     *namespace
	scope  *Scope
	event  *Event
}

// Engine returns the owning engine.
func (c *Ctx) Engine() *Engine { return c.engine }

// Node returns the node the handler is bound to, or nil for pseudo-targets.
func (c *Ctx) Node() *html.Node { return c.node }

// Event returns the triggering event, or nil for watch, init, and captured
// callbacks. Asynchronous handlers observe a retired event.
func (c *Ctx) Event() *Event { return c.event }

// Context returns the innermost context scope, or nil.
func (c *Ctx) Context() *Scope { return c.scope }

// Logger returns the engine logger.
func (c *Ctx) Logger() *slog.Logger { return c.engine.logger }

// State returns the active namespace view. It is nil when the handler was
// captured outside any data-scope.
func (c *Ctx) State() *View {
	if c.ns == nil {
		return nil
	}
	return &View{store: c.engine.store, ns: c.ns}
}

// Get evaluates a read path with the directive expression grammar:
// "state.todos.0.done", "context.item", "remaining", "board::state.columns".
func (c *Ctx) Get(path string) any {
	x, err := parseExpr(path)
	if err != nil {
		c.engine.reportError("get "+path, err)
		return nil
	}
	v, err := c.engine.evalExpr(x, c.ns, c.scope)
	if err != nil {
		c.engine.reportError("get "+path, err)
		return nil
	}
	return v
}

// Set writes a path rooted at "state" or "context", optionally qualified
// with "ns::". Derived values cannot be written.
func (c *Ctx) Set(path string, value any) error {
	return c.engine.writePath(c.ns, c.scope, path, value)
}

// NextEpoch advances the generation counter for a logical operation on the
// nearest scope, or on the engine when the handler has none.
func (c *Ctx) NextEpoch(key string) uint64 {
	if c.scope != nil {
		return c.scope.NextEpoch(key)
	}
	return c.engine.nextRootEpoch(key)
}

// Epoch reads the current generation without advancing it.
func (c *Ctx) Epoch(key string) uint64 {
	if c.scope != nil {
		return c.scope.Epoch(key)
	}
	return c.engine.rootEpoch(key)
}

// DetailString reads a string field from a map-shaped event detail. With an
// empty key it stringifies the whole detail.
func (c *Ctx) DetailString(key string) string {
	if c.event == nil {
		return ""
	}
	if key == "" {
		return stringify(c.event.detail)
	}
	m, ok := c.event.detail.(map[string]any)
	if !ok {
		return ""
	}
	return stringify(m[key])
}

// DetailInt reads an integer field from a map-shaped event detail.
func (c *Ctx) DetailInt(key string) int {
	if c.event == nil {
		return 0
	}
	m, ok := c.event.detail.(map[string]any)
	if !ok {
		return 0
	}
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Yield tells the scheduler what to do between task steps.
type Yield struct {
	kind    yieldKind
	promise *Promise
}

type yieldKind uint8

const (
	yieldContinue yieldKind = iota
	yieldRender
	yieldAwait
	yieldDone
)

// Continue runs the next step in the same turn.
func Continue() Yield { return Yield{kind: yieldContinue} }

// Render ends the turn; the next step resumes after a render pass.
func Render() Yield { return Yield{kind: yieldRender} }

// Await parks the task until the promise settles; the next step reads the
// result from TaskCtx.Value or TaskCtx.Err.
func Await(p *Promise) Yield { return Yield{kind: yieldAwait, promise: p} }

// Done finishes the task, skipping any remaining steps.
func Done() Yield { return Yield{kind: yieldDone} }

// StepFunc is one cooperative step of a task. Only yields suspend; there
// are no hidden suspension points.
type StepFunc func(t *TaskCtx) (Yield, error)

// Task is an explicit multi-turn unit of work: an ordered step sequence
// with declared suspension points.
type Task struct {
	name  string
	steps []StepFunc
}

// NewTask builds a task from its steps.
func NewTask(name string, steps ...StepFunc) *Task {
	return &Task{name: name, steps: steps}
}

// TaskCtx is the Ctx of a running task plus the settled result of the most
// recently awaited promise.
type TaskCtx struct {
	*Ctx
	value any
	err   error
}

// Value returns the resolution of the last awaited promise.
func (t *TaskCtx) Value() any { return t.value }

// Err returns the rejection of the last awaited promise, or nil.
func (t *TaskCtx) Err() error { return t.err }

type taskRun struct {
	engine *Engine
	tctx   *TaskCtx
	name   string
	steps  []StepFunc
	idx    int
	done   bool
}

func (e *Engine) startTask(ctx *Ctx, label string, fn TaskFunc) {
	var task *Task
	func() {
		defer func() {
			if r := recover(); r != nil {
				e.reportError("task "+label, fmt.Errorf("panic building task: %v\n%s", r, debug.Stack()))
			}
		}()
		task = fn(ctx)
	}()
	if task == nil || len(task.steps) == 0 {
		return
	}
	name := label
	if task.name != "" {
		name = task.name
	}
	tr := &taskRun{
		engine: e,
		tctx:   &TaskCtx{Ctx: ctx},
		name:   name,
		steps:  task.steps,
	}
	for _, h := range e.hooks {
		h.OnTaskStart(e, name)
	}
	e.post(job{name: "task " + name, fn: tr.turn})
}

// turn runs steps until one suspends. Render and Await end the turn; the
// scheduler never preempts a step.
func (tr *taskRun) turn() error {
	for tr.idx < len(tr.steps) {
		step := tr.steps[tr.idx]
		y, err := tr.runStep(step)
		if err != nil {
			tr.finish(err)
			return nil
		}
		tr.idx++

		switch y.kind {
		case yieldContinue:
			continue
		case yieldRender:
			if tr.idx >= len(tr.steps) {
				tr.finish(nil)
				return nil
			}
			tr.engine.post(job{name: "task " + tr.name, fn: tr.turn})
			return nil
		case yieldAwait:
			if y.promise == nil {
				tr.finish(fmt.Errorf("await on nil promise"))
				return nil
			}
			if tr.idx >= len(tr.steps) {
				tr.finish(nil)
				return nil
			}
			y.promise.subscribe(func(v any, err error) {
				tr.tctx.value, tr.tctx.err = v, err
				tr.engine.post(job{name: "task " + tr.name, fn: tr.turn})
			})
			return nil
		case yieldDone:
			tr.finish(nil)
			return nil
		}
	}
	tr.finish(nil)
	return nil
}

func (tr *taskRun) runStep(step StepFunc) (y Yield, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return step(tr.tctx)
}

func (tr *taskRun) finish(err error) {
	if tr.done {
		return
	}
	tr.done = true
	if err != nil {
		tr.engine.reportError("task "+tr.name, err)
	}
	for _, h := range tr.engine.hooks {
		h.OnTaskEnd(tr.engine, tr.name, err)
	}
}

// Promise is a single-assignment result a task can await. Resolve and
// Reject are safe from any goroutine; the first settlement wins.
type Promise struct {
	mu      sync.Mutex
	settled bool
	value   any
	err     error
	subs    []func(any, error)
}

// NewPromise creates an unsettled promise.
func NewPromise() *Promise {
	return &Promise{}
}

// Resolve settles the promise with a value.
func (p *Promise) Resolve(v any) {
	p.settle(v, nil)
}

// Reject settles the promise with an error.
func (p *Promise) Reject(err error) {
	p.settle(nil, err)
}

// Settled reports whether the promise has a result.
func (p *Promise) Settled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settled
}

func (p *Promise) settle(v any, err error) {
	p.mu.Lock()
	if p.settled {
		p.mu.Unlock()
		return
	}
	p.settled = true
	p.value = v
	p.err = err
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()

	for _, fn := range subs {
		fn(v, err)
	}
}

func (p *Promise) subscribe(fn func(any, error)) {
	p.mu.Lock()
	if p.settled {
		v, err := p.value, p.err
		p.mu.Unlock()
		fn(v, err)
		return
	}
	p.subs = append(p.subs, fn)
	p.mu.Unlock()
}

// ScopeRef is a captured re-entry point. External callbacks (timers, IO
// goroutines) must come back onto the loop through Do instead of touching
// the engine directly.
type ScopeRef struct {
	engine *Engine
	node   *html.Node
	ns     *namespace
	scope  *Scope
}

// CaptureScope resolves and pins the namespace and context scope covering a
// node, for later re-entry.
func (e *Engine) CaptureScope(node *html.Node) *ScopeRef {
	return &ScopeRef{
		engine: e,
		node:   node,
		ns:     e.namespaceFor(node),
		scope:  e.scopeFor(node),
	}
}

// Do queues fn as its own turn with the captured scope.
func (r *ScopeRef) Do(name string, fn func(*Ctx) error) {
	ctx := &Ctx{engine: r.engine, node: r.node, ns: r.ns, scope: r.scope}
	r.engine.post(job{name: "scoped " + name, fn: func() error {
		return fn(ctx)
	}})
}

// resolveActionName splits an optional "ns::" qualifier and returns the
// namespace the action lives in.
func (e *Engine) resolveActionName(ns *namespace, name string) (*namespace, string, error) {
	if i := strings.Index(name, "::"); i >= 0 {
		target, ok := e.store.lookup(name[:i])
		if !ok {
			return nil, "", fmt.Errorf("%w: %s", ErrUnknownNamespace, name[:i])
		}
		return target, name[i+2:], nil
	}
	if ns == nil {
		return nil, "", fmt.Errorf("%w: %q outside any data-scope", ErrUnknownAction, name)
	}
	return ns, name, nil
}

// invoke runs an action or starts a task by name, against the namespace it
// resolves in.
func (e *Engine) invoke(ctx *Ctx, ns *namespace, name string) error {
	target, base, err := e.resolveActionName(ns, name)
	if err != nil {
		return err
	}
	bound := *ctx
	bound.ns = target
	if h, ok := target.actions[base]; ok {
		e.runHandler(&bound, name, h)
		return nil
	}
	if tf, ok := target.tasks[base]; ok {
		e.startTask(&bound, name, tf)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownAction, name)
}

func (e *Engine) runHandler(ctx *Ctx, label string, h HandlerFunc) {
	defer func() {
		if r := recover(); r != nil {
			e.reportError("action "+label, fmt.Errorf("panic: %v\n%s", r, debug.Stack()))
		}
	}()
	if err := h(ctx); err != nil {
		e.reportError("action "+label, err)
	}
}

func (e *Engine) nextRootEpoch(key string) uint64 {
	e.rootEpochs[key]++
	return e.rootEpochs[key]
}

func (e *Engine) rootEpoch(key string) uint64 {
	return e.rootEpochs[key]
}
