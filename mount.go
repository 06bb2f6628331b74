package weft

import (
	"fmt"

	json "github.com/goccy/go-json"
	"go.uber.org/multierr"
	"golang.org/x/net/html"
)

// region is the bookkeeping for one mounted subtree: the page body, or one
// list block. Teardown walks it to dispose computations, deregister
// listeners and scopes, and drop focus held inside.
type region struct {
	root      *html.Node
	ns        *namespace
	scope     *Scope
	comps     []*computation
	listeners []*listener
	eachs     []*eachController
	ctxNodes  []*html.Node
	nsNodes   []*html.Node
}

type initRun struct {
	node   *html.Node
	ns     *namespace
	scope  *Scope
	action string
}

// Mount seeds server state if the document carries a snapshot block, then
// interprets directives across the body. Per-directive failures are logged,
// leave that one binding inert, and aggregate into the returned error; the
// rest of the page mounts around them.
func (e *Engine) Mount() error {
	if e.mounted {
		err := fmt.Errorf("mount: document already mounted")
		e.reportError("mount", err)
		return err
	}

	var errs error
	if err := e.seedFromDocument(); err != nil {
		errs = multierr.Append(errs, err)
	}

	root := Body(e.doc)
	if root == nil {
		root = e.doc
	}
	r, merr := e.mountRegion(root, nil, nil)
	errs = multierr.Append(errs, merr)

	e.root = r
	e.mounted = true
	for _, h := range e.hooks {
		h.OnMount(e, root, errs)
	}
	e.flushNow()
	return errs
}

// Unmount tears down listeners, computations, scopes, and focus. The
// document keeps its last rendered state.
func (e *Engine) Unmount() {
	if e.root == nil {
		return
	}
	e.teardownRegion(e.root)
	e.root = nil
	e.mounted = false
}

// mountRegion interprets one subtree: the page at Mount, one block per list
// item during reconciliation. Bindings run once during the walk; data-init
// actions run after the whole region is up.
func (e *Engine) mountRegion(root *html.Node, ns *namespace, sc *Scope) (*region, error) {
	r := &region{root: root, ns: ns, scope: sc}
	var errs error
	var inits []initRun
	e.visit(root, ns, sc, r, &errs, &inits)

	for _, in := range inits {
		ctx := &Ctx{engine: e, node: in.node, ns: in.ns, scope: in.scope}
		if err := e.invoke(ctx, in.ns, in.action); err != nil {
			e.reportError("init "+in.action, err)
		}
	}
	return r, errs
}

func (e *Engine) visit(n *html.Node, ns *namespace, sc *Scope, r *region, errs *error, inits *[]initRun) {
	if n.Type == html.ElementNode {
		dirs, derrs := e.classify(n)
		for _, err := range derrs {
			*errs = multierr.Append(*errs, newDirectiveError("attr", nodePath(n), err))
		}

		if findDirective(dirs, dirEach) != nil {
			if err := e.mountEach(r, n, ns, sc, dirs); err != nil {
				*errs = multierr.Append(*errs, err)
			}
			return
		}

		for _, d := range dirs {
			if d.kind != dirScope {
				continue
			}
			target, ok := e.store.lookup(d.expr)
			if !ok {
				err := newDirectiveError(d.attr, nodePath(n), fmt.Errorf("%w: %s", ErrUnknownNamespace, d.expr))
				e.logger.Warn("unknown namespace, subtree inert", "ns", d.expr, "node", nodePath(n))
				*errs = multierr.Append(*errs, err)
				return
			}
			ns = target
			e.nsByNode[n] = target
			r.nsNodes = append(r.nsNodes, n)
		}

		for _, d := range dirs {
			if d.kind != dirContext {
				continue
			}
			entries := map[string]any{}
			if err := json.Unmarshal([]byte(d.expr), &entries); err != nil {
				*errs = multierr.Append(*errs, newDirectiveError(d.attr, nodePath(n), err))
				continue
			}
			sc = e.newScope(sc, n, entries)
			r.ctxNodes = append(r.ctxNodes, n)
		}

		for _, d := range dirs {
			if err := e.mountDirective(r, n, ns, sc, d, inits); err != nil {
				*errs = multierr.Append(*errs, err)
			}
		}
	}

	var kids []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		kids = append(kids, c)
	}
	for _, c := range kids {
		e.visit(c, ns, sc, r, errs, inits)
	}
}

// classify parses every attribute on a node, in document order.
func (e *Engine) classify(n *html.Node) ([]directive, []error) {
	var dirs []directive
	var errs []error
	for _, a := range n.Attr {
		d, ok, err := parseDirective(a.Key, a.Val)
		if !ok {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if d.kind == dirUnknown {
			e.logger.Warn("unknown directive ignored", "attr", d.attr, "node", nodePath(n))
			continue
		}
		dirs = append(dirs, d)
	}
	return dirs, errs
}

func findDirective(dirs []directive, kind directiveKind) *directive {
	for i := range dirs {
		if dirs[i].kind == kind {
			return &dirs[i]
		}
	}
	return nil
}

func (e *Engine) mountDirective(r *region, n *html.Node, ns *namespace, sc *Scope, d directive, inits *[]initRun) error {
	switch d.kind {
	case dirScope, dirContext, dirEach, dirEachKey:
		return nil
	}

	if ns == nil {
		e.logger.Warn("directive outside data-scope is inert", "attr", d.attr, "node", nodePath(n))
		return nil
	}

	switch d.kind {
	case dirText, dirBind, dirClass, dirStyle:
		return e.mountBinding(r, n, ns, sc, d)
	case dirOn, dirOnWindow, dirOnDocument:
		return e.mountListener(r, n, ns, sc, d)
	case dirWatch:
		return e.mountWatch(r, n, ns, sc, d)
	case dirInit:
		if _, _, err := e.resolveActionName(ns, d.expr); err != nil {
			return newDirectiveError(d.attr, nodePath(n), err)
		}
		*inits = append(*inits, initRun{node: n, ns: ns, scope: sc, action: d.expr})
		return nil
	}
	return nil
}

// mountBinding wires one text, attribute, class, or style binding: a tracked
// computation whose effect writes the node. Evaluation errors disable
// nothing and log once; the effect then renders the nil value.
func (e *Engine) mountBinding(r *region, n *html.Node, ns *namespace, sc *Scope, d directive) error {
	x, err := parseExpr(d.expr)
	if err != nil {
		return newDirectiveError(d.attr, nodePath(n), err)
	}

	kind := "text"
	switch d.kind {
	case dirBind:
		kind = "bind"
	case dirClass:
		kind = "class"
	case dirStyle:
		kind = "style"
	}
	label := d.attr + `="` + d.expr + `"`

	var comp *computation
	eval := func() any {
		v, err := e.evalExpr(x, ns, sc)
		if err != nil {
			if !comp.warned {
				comp.warned = true
				e.logger.Warn("binding evaluation failed", "binding", label, "node", nodePath(n), "err", err)
			}
			return nil
		}
		return v
	}

	var run func() error
	switch d.kind {
	case dirText:
		run = func() error {
			setText(n, stringify(eval()))
			return nil
		}
	case dirBind:
		name := d.arg
		run = func() error {
			switch v := eval().(type) {
			case nil:
				removeAttr(n, name)
			case bool:
				if v {
					setAttr(n, name, "")
				} else {
					removeAttr(n, name)
				}
			default:
				setAttr(n, name, stringify(v))
			}
			return nil
		}
	case dirClass:
		name := d.arg
		run = func() error {
			setClass(n, name, truthy(eval()))
			return nil
		}
	case dirStyle:
		prop := d.arg
		run = func() error {
			v := eval()
			if !truthy(v) {
				removeStyle(n, prop)
				return nil
			}
			setStyle(n, prop, stringify(v))
			return nil
		}
	}

	comp = e.store.newComputation(kind, label, true, run)
	r.comps = append(r.comps, comp)
	e.store.runComputation(comp)
	return nil
}

func (e *Engine) mountListener(r *region, n *html.Node, ns *namespace, sc *Scope, d directive) error {
	target, base, err := e.resolveActionName(ns, d.expr)
	if err != nil {
		return newDirectiveError(d.attr, nodePath(n), err)
	}
	_, isAction := target.actions[base]
	_, isTask := target.tasks[base]
	if !isAction && !isTask {
		return newDirectiveError(d.attr, nodePath(n), fmt.Errorf("%w: %s", ErrUnknownAction, d.expr))
	}
	if d.sync && isTask && !isAction {
		return newDirectiveError(d.attr, nodePath(n), fmt.Errorf("task %q cannot run with .sync, use an action", d.expr))
	}

	kind := targetNode
	switch d.kind {
	case dirOnWindow:
		kind = targetWindow
	case dirOnDocument:
		kind = targetDocument
	}
	l := &listener{typ: d.arg, action: d.expr, sync: d.sync, kind: kind, node: n, ns: ns, scope: sc}
	if e.hasEqualListener(l) {
		e.logger.Warn("duplicate listener skipped", "attr", d.attr, "node", nodePath(n))
		return nil
	}
	e.addListener(l)
	r.listeners = append(r.listeners, l)
	return nil
}

func (e *Engine) hasEqualListener(l *listener) bool {
	var pool []*listener
	switch l.kind {
	case targetWindow:
		pool = e.winListeners
	case targetDocument:
		pool = e.docListeners
	default:
		pool = e.nodeListeners[l.node]
	}
	for _, x := range pool {
		if x.node == l.node && x.typ == l.typ && x.action == l.action && x.sync == l.sync {
			return true
		}
	}
	return false
}

// mountWatch wires a tracked computation that re-invokes an action whenever
// a value the action read has changed. Only actions qualify; a task per
// invalidation would pile up runs.
func (e *Engine) mountWatch(r *region, n *html.Node, ns *namespace, sc *Scope, d directive) error {
	target, base, err := e.resolveActionName(ns, d.expr)
	if err != nil {
		return newDirectiveError(d.attr, nodePath(n), err)
	}
	handler, ok := target.actions[base]
	if !ok {
		if _, isTask := target.tasks[base]; isTask {
			return newDirectiveError(d.attr, nodePath(n), fmt.Errorf("task %q cannot be a watch target", d.expr))
		}
		return newDirectiveError(d.attr, nodePath(n), fmt.Errorf("%w: %s", ErrUnknownAction, d.expr))
	}

	label := d.attr + `="` + d.expr + `"`
	run := func() error {
		ctx := &Ctx{engine: e, node: n, ns: target, scope: sc}
		return handler(ctx)
	}
	comp := e.store.newComputation("watch", label, true, run)
	r.comps = append(r.comps, comp)
	e.store.runComputation(comp)
	return nil
}

func (e *Engine) teardownRegion(r *region) {
	for _, ec := range r.eachs {
		for _, b := range ec.blocks {
			e.teardownRegion(b.region)
		}
		e.store.dispose(ec.comp)
	}
	for _, c := range r.comps {
		e.store.dispose(c)
	}
	for _, l := range r.listeners {
		e.removeListener(l)
	}
	for _, n := range r.ctxNodes {
		delete(e.scopes, n)
	}
	for _, n := range r.nsNodes {
		delete(e.nsByNode, n)
	}
	if e.focused != nil && r.root != nil {
		if r.root == e.focused || isAncestorOf(r.root, e.focused) {
			e.focused = nil
		}
	}
}
