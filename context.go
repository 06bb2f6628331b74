package weft

import (
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// Scope is one context declaration site: a data-context element or a list
// block. Scopes chain through their parents; lookups walk innermost-first
// and writes land on the nearest ancestor that declares the key, falling
// back to the writing scope itself.
type Scope struct {
	id      int
	engine  *Engine
	parent  *Scope
	node    *html.Node
	entries map[string]any
	epochs  map[string]uint64
}

func (e *Engine) newScope(parent *Scope, node *html.Node, entries map[string]any) *Scope {
	e.nextScopeID++
	sc := &Scope{
		id:      e.nextScopeID,
		engine:  e,
		parent:  parent,
		node:    node,
		entries: entries,
	}
	if sc.entries == nil {
		sc.entries = make(map[string]any)
	}
	if node != nil {
		e.scopes[node] = sc
	}
	return sc
}

func ctxKey(id int, segs []string) string {
	return "c:" + strconv.Itoa(id) + ":" + strings.Join(segs, ":")
}

// Lookup resolves a context key through the scope chain. A missing key is
// undefined, never an error. Reads performed inside a tracked computation
// register on every scope the walk visits, so a write at any of them
// re-runs the reader.
func (sc *Scope) Lookup(key string) (any, bool) {
	for cur := sc; cur != nil; cur = cur.parent {
		cur.engine.store.recordRead(ctxKey(cur.id, []string{key}))
		if v, ok := cur.entries[key]; ok {
			return v, true
		}
	}
	return nil, false
}

// lookupPath resolves a deep context read: the first segment names the
// entry, the rest traverse into its value.
func (sc *Scope) lookupPath(segs []string) any {
	key := segs[0]
	for cur := sc; cur != nil; cur = cur.parent {
		cur.engine.store.recordRead(ctxKey(cur.id, segs))
		if v, ok := cur.entries[key]; ok {
			return deepGet(v, segs[1:])
		}
	}
	return nil
}

// Set writes a context key to the nearest declaring ancestor, or to this
// scope when no ancestor declares it.
func (sc *Scope) Set(key string, value any) {
	target := sc.declarer(key)
	target.entries[key] = value
	target.engine.store.invalidate(ctxKey(target.id, []string{key}))
}

// setPath writes a deep path under a context entry.
func (sc *Scope) setPath(segs []string, value any) error {
	key := segs[0]
	target := sc.declarer(key)
	if len(segs) == 1 {
		target.entries[key] = value
		target.engine.store.invalidate(ctxKey(target.id, segs))
		return nil
	}
	entry, ok := target.entries[key]
	if !ok || entry == nil {
		m := make(map[string]any)
		target.entries[key] = m
		entry = m
	}
	if err := deepSet(entry, segs[1:], value); err != nil {
		return err
	}
	target.engine.store.invalidate(ctxKey(target.id, segs))
	return nil
}

func (sc *Scope) declarer(key string) *Scope {
	for cur := sc; cur != nil; cur = cur.parent {
		if _, ok := cur.entries[key]; ok {
			return cur
		}
	}
	return sc
}

// NextEpoch advances and returns the generation counter for a logical
// operation. A task records the generation before suspending and compares
// it after resuming; a mismatch means the task was superseded and must
// drop its writes.
func (sc *Scope) NextEpoch(key string) uint64 {
	if sc.epochs == nil {
		sc.epochs = make(map[string]uint64)
	}
	sc.epochs[key]++
	return sc.epochs[key]
}

// Epoch reads the current generation without advancing it.
func (sc *Scope) Epoch(key string) uint64 {
	if sc.epochs == nil {
		return 0
	}
	return sc.epochs[key]
}

// Keys lists the entries this scope declares itself, sorted.
func (sc *Scope) Keys() []string {
	out := make([]string, 0, len(sc.entries))
	for k := range sc.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// scopeFor finds the innermost scope covering a node by walking the
// document tree.
func (e *Engine) scopeFor(n *html.Node) *Scope {
	for cur := n; cur != nil; cur = cur.Parent {
		if sc, ok := e.scopes[cur]; ok {
			return sc
		}
	}
	return nil
}

// namespaceFor finds the namespace activated by the nearest ancestor
// data-scope, or nil.
func (e *Engine) namespaceFor(n *html.Node) *namespace {
	for cur := n; cur != nil; cur = cur.Parent {
		if ns, ok := e.nsByNode[cur]; ok {
			return ns
		}
	}
	return nil
}
