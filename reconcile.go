package weft

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// eachController owns one data-each site: the comment anchor holding the
// list's position, the detached template, and the live blocks. Its tracked
// computation re-runs whenever the list expression's reads change.
type eachController struct {
	engine   *Engine
	anchor   *html.Node
	template *html.Node
	itemName string
	listX    *expr
	keyX     *expr
	listSrc  string
	ns       *namespace
	scope    *Scope
	comp     *computation
	blocks   []*block

	warnedShape bool
	warnedDups  map[string]struct{}
}

// block is one rendered list item: its key, the item value last written to
// its scope, and the mounted subtree.
type block struct {
	key    string
	item   any
	index  int
	root   *html.Node
	scope  *Scope
	region *region
}

// mountEach turns a data-each element into a controller: the element leaves
// the document, a comment anchor takes its place, and blocks materialize
// after the anchor on every sync. A broken list expression leaves the
// template in place, inert.
func (e *Engine) mountEach(r *region, n *html.Node, ns *namespace, sc *Scope, dirs []directive) error {
	each := findDirective(dirs, dirEach)

	if own := findDirective(dirs, dirScope); own != nil {
		target, ok := e.store.lookup(own.expr)
		if !ok {
			e.logger.Warn("unknown namespace, list inert", "ns", own.expr, "node", nodePath(n))
			return newDirectiveError(own.attr, nodePath(n), fmt.Errorf("%w: %s", ErrUnknownNamespace, own.expr))
		}
		ns = target
	}
	if ns == nil {
		e.logger.Warn("directive outside data-scope is inert", "attr", each.attr, "node", nodePath(n))
		return nil
	}

	listX, err := parseExpr(each.expr)
	if err != nil {
		return newDirectiveError(each.attr, nodePath(n), err)
	}

	ec := &eachController{
		engine:   e,
		itemName: "item",
		listX:    listX,
		listSrc:  each.expr,
		ns:       ns,
		scope:    sc,
	}
	if each.arg != "" {
		ec.itemName = each.arg
	}

	var errs error
	if key := findDirective(dirs, dirEachKey); key != nil {
		keyX, kerr := parseExpr(key.expr)
		if kerr != nil {
			// Broken key expression: log, fall back to positional identity.
			errs = newDirectiveError(key.attr, nodePath(n), kerr)
		} else {
			ec.keyX = keyX
		}
	}

	ec.anchor = newComment(" each: " + each.expr + " ")
	n.Parent.InsertBefore(ec.anchor, n)
	detach(n)
	stripEachAttrs(n)
	ec.template = n

	label := each.attr + `="` + each.expr + `"`
	ec.comp = e.store.newComputation("each", label, true, ec.sync)
	r.eachs = append(r.eachs, ec)
	e.store.runComputation(ec.comp)
	return errs
}

func stripEachAttrs(n *html.Node) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key == "data-each" || a.Key == "data-each-key" || strings.HasPrefix(a.Key, "data-each--") {
			continue
		}
		kept = append(kept, a)
	}
	n.Attr = kept
}

// sync reconciles blocks against the current list value. The list read is
// tracked; everything after it runs paused so key probes and block mounts
// do not register on the controller.
func (ec *eachController) sync() error {
	e := ec.engine
	v, err := e.evalExpr(ec.listX, ec.ns, ec.scope)
	if err != nil {
		return err
	}
	items, ok := asItems(v)
	if !ok {
		if !ec.warnedShape {
			ec.warnedShape = true
			e.logger.Warn("data-each expression is not a list", "expr", ec.listSrc, "value", fmt.Sprintf("%T", v))
		}
		items = nil
	}

	e.store.pause()
	defer e.store.end()

	if ec.keyX != nil {
		ec.reconcileKeyed(items)
	} else {
		ec.reconcilePositional(items)
	}
	ec.refreshAliases()
	return nil
}

// reconcileKeyed matches blocks to items by key: same key keeps its block
// (same nodes, same scope, same listeners), reorders move nodes, additions
// mount fresh, and leftovers tear down. Duplicate keys keep the first
// occurrence and render later ones as fresh blocks.
func (ec *eachController) reconcileKeyed(items []any) {
	e := ec.engine

	old := make(map[string]*block, len(ec.blocks))
	for _, b := range ec.blocks {
		old[b.key] = b
	}

	keys := make([]string, len(items))
	seen := make(map[string]int, len(items))
	for i, item := range items {
		key := ec.keyOf(item, i)
		if n, dup := seen[key]; dup {
			seen[key] = n + 1
			ec.warnDup(key)
			key = key + "\x00dup" + strconv.Itoa(n)
		} else {
			seen[key] = 1
		}
		keys[i] = key
	}

	next := make([]*block, len(items))
	for i, item := range items {
		if b, ok := old[keys[i]]; ok {
			delete(old, keys[i])
			ec.update(b, item, i)
			next[i] = b
		}
	}

	for _, b := range old {
		e.teardownRegion(b.region)
		detach(b.root)
	}

	prev := ec.anchor
	for i, item := range items {
		b := next[i]
		if b == nil {
			b = ec.freshBlock(keys[i], item, i, prev)
			next[i] = b
		} else if prev.NextSibling != b.root {
			detach(b.root)
			insertAfter(b.root, prev)
		}
		prev = b.root
	}
	ec.blocks = next
}

// reconcilePositional is the unkeyed fallback: identity is the position, a
// changed value at a position remounts it, and length changes work the tail.
func (ec *eachController) reconcilePositional(items []any) {
	e := ec.engine

	for i := len(items); i < len(ec.blocks); i++ {
		b := ec.blocks[i]
		e.teardownRegion(b.region)
		detach(b.root)
	}
	if len(ec.blocks) > len(items) {
		ec.blocks = ec.blocks[:len(items)]
	}

	prev := ec.anchor
	next := make([]*block, len(items))
	for i, item := range items {
		if i < len(ec.blocks) {
			b := ec.blocks[i]
			if reflect.DeepEqual(b.item, item) {
				next[i] = b
				prev = b.root
				continue
			}
			e.teardownRegion(b.region)
			detach(b.root)
		}
		b := ec.freshBlock(strconv.Itoa(i), item, i, prev)
		next[i] = b
		prev = b.root
	}
	ec.blocks = next
}

// keyOf evaluates the key expression against a probe scope carrying just
// the item. The probe is never registered, so nothing tracks through it.
func (ec *eachController) keyOf(item any, i int) string {
	e := ec.engine
	probe := e.newScope(ec.scope, nil, map[string]any{
		ec.itemName: item,
		"index":     i,
	})
	v, err := e.evalExpr(ec.keyX, ec.ns, probe)
	if err != nil || v == nil {
		return "~" + strconv.Itoa(i)
	}
	key := stringify(v)
	if key == "" {
		return "~" + strconv.Itoa(i)
	}
	return key
}

func (ec *eachController) warnDup(key string) {
	if ec.warnedDups == nil {
		ec.warnedDups = make(map[string]struct{})
	}
	if _, done := ec.warnedDups[key]; done {
		return
	}
	ec.warnedDups[key] = struct{}{}
	ec.engine.logger.Warn("duplicate list key, rendering fresh block", "expr", ec.listSrc, "key", key)
}

// update refreshes a reused block's injected context. Writing only what
// changed keeps invalidation precise: an untouched row re-runs nothing.
func (ec *eachController) update(b *block, item any, i int) {
	if !reflect.DeepEqual(b.item, item) {
		b.scope.Set(ec.itemName, item)
		b.item = item
	}
	if b.index != i {
		b.scope.Set("index", i)
		b.index = i
	}
}

func (ec *eachController) freshBlock(key string, item any, i int, prev *html.Node) *block {
	e := ec.engine
	root := cloneNode(ec.template)
	insertAfter(root, prev)

	sc := e.newScope(ec.scope, root, map[string]any{
		ec.itemName: item,
		"index":     i,
	})
	region, err := e.mountRegion(root, ec.ns, sc)
	if err != nil {
		e.reportError("each "+ec.listSrc, err)
	}
	region.ctxNodes = append(region.ctxNodes, root)

	return &block{key: key, item: item, index: i, root: root, scope: sc, region: region}
}

// refreshAliases ties each block's injected item to the state subtree it
// came from, by value identity. A write inside the state subtree then
// invalidates the block's context key and vice versa, so context-rooted
// bindings in the block re-run without a list resync.
func (ec *eachController) refreshAliases() {
	idx := ec.engine.store.identityIndex()
	var edges []aliasEdge
	for _, b := range ec.blocks {
		p, ok := valueIdentity(b.item)
		if !ok {
			continue
		}
		canonical, ok := idx[p]
		if !ok {
			continue
		}
		edges = append(edges, aliasEdge{
			a: ctxKey(b.scope.id, []string{ec.itemName}),
			b: canonical,
		})
	}
	ec.engine.store.setAliases(ec.comp, edges)
}

func valueIdentity(v any) (uintptr, bool) {
	switch c := v.(type) {
	case map[string]any:
		return reflect.ValueOf(c).Pointer(), true
	case []any:
		if len(c) == 0 {
			return 0, false
		}
		return reflect.ValueOf(c).Pointer(), true
	}
	return 0, false
}

func asItems(v any) ([]any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, true
	case []any:
		return t, true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, true
	}
	return nil, false
}
