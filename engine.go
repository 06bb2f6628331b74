package weft

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/blang/semver/v4"
	"golang.org/x/net/html"
)

// Version is the directive vocabulary version this engine understands.
// Snapshots from a different major version are refused.
var Version = semver.MustParse("1.0.0")

// Engine owns one document: the namespace store, the scope and listener
// registries, the focus model, and the turn queue. One goroutine drives it;
// post and Promise settlement are the only cross-goroutine entry points.
type Engine struct {
	doc    *html.Node
	store  *Store
	logger *slog.Logger
	hooks  []Hook

	queue   []job
	queueMu sync.Mutex
	wake    chan struct{}

	nsByNode      map[*html.Node]*namespace
	scopes        map[*html.Node]*Scope
	nodeListeners map[*html.Node][]*listener
	docListeners  []*listener
	winListeners  []*listener

	root         *region
	mounted      bool
	seeded       bool
	focused      *html.Node
	rootEpochs   map[string]uint64
	nextScopeID  int
	cascadeLimit int
}

// Option configures an engine at construction.
type Option func(*Engine)

// WithLogger sets the engine logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithHook registers an operation hook.
func WithHook(h Hook) Option {
	return func(e *Engine) {
		e.hooks = append(e.hooks, h)
	}
}

// WithCascadeLimit caps how many passes one render flush may take before
// the engine declares a write cycle and stops. The default is 100.
func WithCascadeLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.cascadeLimit = n
		}
	}
}

// New creates an engine for a parsed document.
func New(doc *html.Node, opts ...Option) *Engine {
	e := &Engine{
		doc:           doc,
		logger:        slog.Default(),
		wake:          make(chan struct{}, 1),
		nsByNode:      make(map[*html.Node]*namespace),
		scopes:        make(map[*html.Node]*Scope),
		nodeListeners: make(map[*html.Node][]*listener),
		rootEpochs:    make(map[string]uint64),
		cascadeLimit:  100,
	}
	e.store = newStore(e)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds a namespace to the engine's store. Registering a live name
// fails; the first registration wins.
func (e *Engine) Register(spec NamespaceSpec) error {
	if err := e.store.register(spec); err != nil {
		e.reportError("register "+spec.Name, err)
		return err
	}
	return nil
}

// Document returns the engine's document root.
func (e *Engine) Document() *html.Node { return e.doc }

// Logger returns the engine logger.
func (e *Engine) Logger() *slog.Logger { return e.logger }

// Render serializes the current document.
func (e *Engine) Render(w io.Writer) error {
	return html.Render(w, e.doc)
}

// Update writes a namespace state path from outside a handler. Dependents
// run on the next render pass; call Settle to force one.
func (e *Engine) Update(ns, path string, value any) error {
	n, ok := e.store.lookup(ns)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownNamespace, ns)
		e.reportError("update", err)
		return err
	}
	return e.store.writeState(n, splitPath(path), value)
}

// Peek reads a namespace state path without tracking.
func (e *Engine) Peek(ns, path string) any {
	n, ok := e.store.lookup(ns)
	if !ok {
		return nil
	}
	return deepGet(n.state, splitPath(path))
}

// Derived evaluates a getter by name.
func (e *Engine) Derived(ns, name string) any {
	n, ok := e.store.lookup(ns)
	if !ok {
		return nil
	}
	v, _ := e.store.derived(n, name)
	return v
}

// Focus records the focused node. The reconciler preserves focus across
// keyed moves and clears it when the focused node unmounts.
func (e *Engine) Focus(n *html.Node) {
	e.focused = n
}

// Focused returns the focused node, or nil.
func (e *Engine) Focused() *html.Node { return e.focused }

// Blur clears focus.
func (e *Engine) Blur() {
	e.focused = nil
}

// Reset unmounts the document and drops all namespaces, dependency edges,
// epochs, and queued turns. It is the teardown hook tests rely on.
func (e *Engine) Reset() {
	e.Unmount()
	e.store.reset()
	e.rootEpochs = make(map[string]uint64)
	e.seeded = false

	e.queueMu.Lock()
	dropped := len(e.queue)
	e.queue = nil
	e.queueMu.Unlock()
	if dropped > 0 {
		e.logger.Warn("reset dropped queued turns", "count", dropped)
	}
}

func (e *Engine) reportError(op string, err error) {
	e.logger.Error("engine operation failed", "op", op, "err", err)
	for _, h := range e.hooks {
		h.OnError(e, op, err)
	}
}

func (e *Engine) flushNow() {
	passes, ran := e.store.flush()
	if passes > 0 {
		for _, h := range e.hooks {
			h.OnFlush(e, passes, ran)
		}
	}
}

// evalExpr evaluates a parsed expression. Context misses read as nil;
// structural problems (unknown namespace, unknown getter, no active
// namespace) are errors the caller decides how loudly to report.
func (e *Engine) evalExpr(x *expr, ns *namespace, sc *Scope) (any, error) {
	target := ns
	if x.ns != "" {
		t, ok := e.store.lookup(x.ns)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownNamespace, x.ns)
		}
		target = t
	}

	var v any
	switch x.root {
	case rootState:
		if target == nil {
			return nil, fmt.Errorf("%w: %q", ErrInertDirective, x.raw)
		}
		v = e.store.readState(target, x.path)
	case rootContext:
		if sc != nil {
			v = sc.lookupPath(x.path)
		}
	case rootGetter:
		if target == nil {
			return nil, fmt.Errorf("%w: %q", ErrInertDirective, x.raw)
		}
		base, ok := e.store.derived(target, x.getter)
		if !ok {
			return nil, fmt.Errorf("unknown getter %q in namespace %s", x.getter, target.name)
		}
		v = deepGet(base, x.path)
	}

	if x.neg {
		return !truthy(v), nil
	}
	return v, nil
}

// writePath writes through the expression grammar: roots "state" and
// "context", optional "ns::" qualifier. Getters are read-only.
func (e *Engine) writePath(ns *namespace, sc *Scope, raw string, value any) error {
	x, err := parseExpr(raw)
	if err != nil {
		e.reportError("set "+raw, err)
		return err
	}
	if x.neg {
		err := fmt.Errorf("%w: cannot write %q", ErrBadPath, raw)
		e.reportError("set "+raw, err)
		return err
	}

	target := ns
	if x.ns != "" {
		t, ok := e.store.lookup(x.ns)
		if !ok {
			err := fmt.Errorf("%w: %s", ErrUnknownNamespace, x.ns)
			e.reportError("set "+raw, err)
			return err
		}
		target = t
	}

	switch x.root {
	case rootState:
		if target == nil {
			err := fmt.Errorf("%w: write %q", ErrInertDirective, raw)
			e.reportError("set "+raw, err)
			return err
		}
		return e.store.writeState(target, x.path, value)
	case rootContext:
		if sc == nil {
			err := fmt.Errorf("%w: no context scope for %q", ErrBadPath, raw)
			e.reportError("set "+raw, err)
			return err
		}
		if err := sc.setPath(x.path, value); err != nil {
			e.reportError("set "+raw, err)
			return err
		}
		return nil
	}
	err = fmt.Errorf("%w: cannot write derived value %q", ErrBadPath, raw)
	e.reportError("set "+raw, err)
	return err
}

// DebugNode is a snapshot of the mounted binding tree for diagnostics.
type DebugNode struct {
	Label    string
	Children []*DebugNode
}

// Inspect snapshots the mounted binding tree: regions, bindings with run
// counts, listeners, and list blocks.
func (e *Engine) Inspect() *DebugNode {
	root := &DebugNode{Label: "document"}
	if e.root == nil {
		root.Children = append(root.Children, &DebugNode{Label: "(not mounted)"})
		return root
	}
	root.Children = append(root.Children, e.inspectRegion(e.root, "page"))
	return root
}

func (e *Engine) inspectRegion(r *region, label string) *DebugNode {
	n := &DebugNode{Label: label}
	for _, c := range r.comps {
		n.Children = append(n.Children, &DebugNode{
			Label: c.kind + " " + c.label + " (runs " + strconv.Itoa(c.runs) + ")",
		})
	}
	for _, l := range r.listeners {
		prefix := "on"
		switch l.kind {
		case targetWindow:
			prefix = "on-window"
		case targetDocument:
			prefix = "on-document"
		}
		n.Children = append(n.Children, &DebugNode{
			Label: prefix + "--" + l.typ + " -> " + l.action,
		})
	}
	for _, ec := range r.eachs {
		eachNode := &DebugNode{Label: "each " + ec.listSrc + " [" + strconv.Itoa(len(ec.blocks)) + " blocks]"}
		for _, b := range ec.blocks {
			eachNode.Children = append(eachNode.Children, e.inspectRegion(b.region, "block "+b.key))
		}
		n.Children = append(n.Children, eachNode)
	}
	return n
}

// Namespaces lists registered namespace names, sorted.
func (e *Engine) Namespaces() []string {
	out := make([]string, len(e.store.names))
	copy(out, e.store.names)
	sort.Strings(out)
	return out
}
