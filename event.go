package weft

import (
	"fmt"

	"golang.org/x/net/html"
)

type targetKind uint8

const (
	targetNode targetKind = iota
	targetDocument
	targetWindow
)

// listener is one data-on registration: the node it lives on, the action it
// names, and the namespace and scope captured at mount.
type listener struct {
	typ    string
	action string
	sync   bool
	kind   targetKind
	node   *html.Node
	ns     *namespace
	scope  *Scope
}

// Event is the object delivered to handlers. After the dispatch turn it is
// retired: CurrentTarget is nil and PreventDefault and StopPropagation are
// warned no-ops. Handlers that need the live object use the .sync modifier.
type Event struct {
	typ       string
	target    *html.Node
	current   *html.Node
	detail    any
	prevented bool
	stopped   bool
	live      bool
	engine    *Engine
}

// Type returns the event type, e.g. "click".
func (ev *Event) Type() string { return ev.typ }

// Target returns the dispatch target. It stays readable after retirement.
func (ev *Event) Target() *html.Node { return ev.target }

// CurrentTarget returns the node whose listener is running, or nil once the
// event is retired.
func (ev *Event) CurrentTarget() *html.Node { return ev.current }

// Detail returns the payload passed to Dispatch.
func (ev *Event) Detail() any { return ev.detail }

// Live reports whether the dispatch turn is still in progress.
func (ev *Event) Live() bool { return ev.live }

// DefaultPrevented reports whether a synchronous listener called PreventDefault.
func (ev *Event) DefaultPrevented() bool { return ev.prevented }

// PreventDefault marks the event's default action suppressed. It only works
// while the event is live.
func (ev *Event) PreventDefault() {
	if !ev.live {
		ev.engine.logger.Warn("PreventDefault on retired event ignored", "type", ev.typ)
		return
	}
	ev.prevented = true
}

// StopPropagation halts the bubble walk after the current node's listeners
// finish. It only works while the event is live.
func (ev *Event) StopPropagation() {
	if !ev.live {
		ev.engine.logger.Warn("StopPropagation on retired event ignored", "type", ev.typ)
		return
	}
	ev.stopped = true
}

func (ev *Event) retire() {
	ev.live = false
	ev.current = nil
}

// Dispatch delivers an event to a node, then bubbles through its element
// ancestors, the document, and the window. Synchronous listeners run during
// this call; the rest are queued as their own turns and observe a retired
// event. Returns false when a synchronous listener prevented the default.
func (e *Engine) Dispatch(target *html.Node, typ string, detail any) bool {
	if target == nil {
		e.reportError("dispatch", fmt.Errorf("nil dispatch target for %q", typ))
		return true
	}
	ev := &Event{typ: typ, target: target, detail: detail, live: true, engine: e}
	var path []*html.Node
	for cur := target; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode {
			path = append(path, cur)
		}
	}
	return e.dispatch(ev, path, true, true)
}

// DispatchDocument delivers an event to the document pseudo-target, then
// the window.
func (e *Engine) DispatchDocument(typ string, detail any) bool {
	ev := &Event{typ: typ, target: e.doc, detail: detail, live: true, engine: e}
	return e.dispatch(ev, nil, true, true)
}

// DispatchWindow delivers an event to the window pseudo-target only.
func (e *Engine) DispatchWindow(typ string, detail any) bool {
	ev := &Event{typ: typ, detail: detail, live: true, engine: e}
	return e.dispatch(ev, nil, false, true)
}

func (e *Engine) dispatch(ev *Event, path []*html.Node, docPhase, winPhase bool) bool {
	for _, h := range e.hooks {
		h.OnDispatch(e, ev)
	}

	for _, n := range path {
		e.deliverAll(ev, n, e.listenersOn(n, ev.typ))
		if ev.stopped {
			break
		}
	}
	if docPhase && !ev.stopped {
		e.deliverAll(ev, e.doc, matching(e.docListeners, ev.typ))
	}
	if winPhase && !ev.stopped {
		e.deliverAll(ev, nil, matching(e.winListeners, ev.typ))
	}

	ev.retire()
	e.flushNow()
	return !ev.prevented
}

func (e *Engine) deliverAll(ev *Event, current *html.Node, ls []*listener) {
	if len(ls) == 0 {
		return
	}
	ev.current = current
	for _, l := range ls {
		e.deliver(l, ev)
		// StopPropagation lets the current node's remaining listeners run.
	}
}

func (e *Engine) deliver(l *listener, ev *Event) {
	ctx := &Ctx{
		engine: e,
		node:   l.node,
		ns:     l.ns,
		scope:  l.scope,
		event:  ev,
	}
	if l.sync {
		e.invokeSync(ctx, l)
		return
	}
	e.post(job{
		name: "on--" + l.typ + " " + l.action,
		fn: func() error {
			return e.invoke(ctx, l.ns, l.action)
		},
	})
}

func (e *Engine) invokeSync(ctx *Ctx, l *listener) {
	ns, name, err := e.resolveActionName(l.ns, l.action)
	if err != nil {
		e.reportError("on--"+l.typ, err)
		return
	}
	if _, isTask := ns.tasks[name]; isTask && ns.actions[name] == nil {
		e.reportError("on--"+l.typ, fmt.Errorf("task %q cannot run with .sync, use an action", l.action))
		return
	}
	handler, ok := ns.actions[name]
	if !ok {
		e.reportError("on--"+l.typ, fmt.Errorf("%w: %s", ErrUnknownAction, l.action))
		return
	}
	e.runHandler(ctx, l.action, handler)
}

// listenersOn snapshots a node's listeners for one type. Handlers may mount
// or unmount during delivery, so iteration never touches the live slice.
func (e *Engine) listenersOn(n *html.Node, typ string) []*listener {
	return matching(e.nodeListeners[n], typ)
}

func matching(ls []*listener, typ string) []*listener {
	var out []*listener
	for _, l := range ls {
		if l.typ == typ {
			out = append(out, l)
		}
	}
	return out
}

func (e *Engine) addListener(l *listener) {
	switch l.kind {
	case targetWindow:
		e.winListeners = append(e.winListeners, l)
	case targetDocument:
		e.docListeners = append(e.docListeners, l)
	default:
		e.nodeListeners[l.node] = append(e.nodeListeners[l.node], l)
	}
}

func (e *Engine) removeListener(l *listener) {
	switch l.kind {
	case targetWindow:
		e.winListeners = removeElement(e.winListeners, l)
	case targetDocument:
		e.docListeners = removeElement(e.docListeners, l)
	default:
		kept := removeElement(e.nodeListeners[l.node], l)
		if len(kept) == 0 {
			delete(e.nodeListeners, l.node)
			return
		}
		e.nodeListeners[l.node] = kept
	}
}

func removeElement[T comparable](slice []T, item T) []T {
	for i, existing := range slice {
		if existing == item {
			return append(slice[:i], slice[i+1:]...)
		}
	}
	return slice
}
