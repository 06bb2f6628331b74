package weft

import (
	"testing"
)

// TestContext_ShadowingLookup verifies innermost-first resolution through
// the scope chain.
func TestContext_ShadowingLookup(t *testing.T) {
	e := newTestEngine(t, blankPage)

	parent := e.newScope(nil, nil, map[string]any{"x": "outer", "y": "only-outer"})
	child := e.newScope(parent, nil, map[string]any{"x": "inner"})

	if v, ok := child.Lookup("x"); !ok || v != "inner" {
		t.Errorf("Expected inner to shadow, got %v (%v)", v, ok)
	}
	if v, ok := child.Lookup("y"); !ok || v != "only-outer" {
		t.Errorf("Expected fallthrough to parent, got %v (%v)", v, ok)
	}
	if v, ok := parent.Lookup("x"); !ok || v != "outer" {
		t.Errorf("Expected parent to keep its own value, got %v (%v)", v, ok)
	}

	// Missing keys are undefined, not errors.
	if _, ok := child.Lookup("missing"); ok {
		t.Error("Expected missing key to resolve to nothing")
	}
}

// TestContext_NearestDeclarerWrite verifies writes land on the ancestor that
// declares the key, not on the writing scope.
func TestContext_NearestDeclarerWrite(t *testing.T) {
	e := newTestEngine(t, blankPage)

	root := e.newScope(nil, nil, map[string]any{"selected": ""})
	a := e.newScope(root, nil, map[string]any{"item": "a"})
	b := e.newScope(root, nil, map[string]any{"item": "b"})

	a.Set("selected", "a")

	// The write is visible from the sibling chain because it landed on root.
	if v, _ := b.Lookup("selected"); v != "a" {
		t.Errorf("Expected sibling to observe the write, got %v", v)
	}
	if _, declared := a.entries["selected"]; declared {
		t.Error("Expected writing scope to stay clean")
	}
}

// TestContext_UndeclaredWriteStaysLocal verifies a write with no declaring
// ancestor lands on the writing scope itself.
func TestContext_UndeclaredWriteStaysLocal(t *testing.T) {
	e := newTestEngine(t, blankPage)

	parent := e.newScope(nil, nil, map[string]any{"a": 1})
	child := e.newScope(parent, nil, nil)

	child.Set("fresh", 42)

	if v, ok := child.Lookup("fresh"); !ok || v != 42 {
		t.Errorf("Expected local value, got %v (%v)", v, ok)
	}
	if _, ok := parent.Lookup("fresh"); ok {
		t.Error("Expected parent to not see the local key")
	}
}

// TestContext_DeepPathWrite verifies setPath mutates inside a declared entry
// and autovivifies missing maps.
func TestContext_DeepPathWrite(t *testing.T) {
	e := newTestEngine(t, blankPage)

	sc := e.newScope(nil, nil, map[string]any{
		"item": map[string]any{"done": false},
	})

	if err := sc.setPath([]string{"item", "done"}, true); err != nil {
		t.Fatalf("Failed to set path: %v", err)
	}
	if got := sc.lookupPath([]string{"item", "done"}); got != true {
		t.Errorf("Expected true, got %v", got)
	}

	// A missing entry is created as a map on the way down.
	if err := sc.setPath([]string{"draft", "title"}, "x"); err != nil {
		t.Fatalf("Failed to set path: %v", err)
	}
	if got := sc.lookupPath([]string{"draft", "title"}); got != "x" {
		t.Errorf("Expected x, got %v", got)
	}
}

// TestContext_TrackedReadsInvalidate verifies a tracked read through the
// chain re-runs when any visited scope writes the key.
func TestContext_TrackedReadsInvalidate(t *testing.T) {
	e := newTestEngine(t, blankPage)

	parent := e.newScope(nil, nil, map[string]any{"v": 1})
	child := e.newScope(parent, nil, nil)

	var seen []any
	c := e.store.newComputation("binding", "ctx-read", true, func() error {
		seen = append(seen, child.lookupPath([]string{"v"}))
		return nil
	})
	e.store.runComputation(c)

	// The write lands on parent, where the key is declared.
	child.Set("v", 2)
	e.store.flush()

	if len(seen) != 2 || seen[1] != 2 {
		t.Errorf("Expected re-run observing 2, got %v", seen)
	}
}

// TestContext_Epochs verifies per-scope generation counters.
func TestContext_Epochs(t *testing.T) {
	e := newTestEngine(t, blankPage)

	sc := e.newScope(nil, nil, nil)
	other := e.newScope(nil, nil, nil)

	if got := sc.Epoch("search"); got != 0 {
		t.Errorf("Expected 0 before any advance, got %d", got)
	}
	if got := sc.NextEpoch("search"); got != 1 {
		t.Errorf("Expected 1, got %d", got)
	}
	if got := sc.NextEpoch("search"); got != 2 {
		t.Errorf("Expected 2, got %d", got)
	}
	if got := sc.Epoch("search"); got != 2 {
		t.Errorf("Expected read without advance, got %d", got)
	}

	// Counters are per scope and per key.
	if got := other.Epoch("search"); got != 0 {
		t.Errorf("Expected independent scope counter, got %d", got)
	}
	if got := sc.Epoch("load"); got != 0 {
		t.Errorf("Expected independent key counter, got %d", got)
	}
}

// TestContext_ScopeForWalk verifies node-to-scope resolution walks the
// document ancestry.
func TestContext_ScopeForWalk(t *testing.T) {
	e := newTestEngine(t, `<html><body><div id="outer"><p id="inner"><b id="deep"></b></p></div></body></html>`)

	outer := FindByID(e.doc, "outer")
	inner := FindByID(e.doc, "inner")
	deep := FindByID(e.doc, "deep")

	sc := e.newScope(nil, outer, map[string]any{"k": 1})

	if got := e.scopeFor(deep); got != sc {
		t.Error("Expected deep node to resolve to the outer scope")
	}
	if got := e.scopeFor(inner); got != sc {
		t.Error("Expected inner node to resolve to the outer scope")
	}

	inner2 := e.newScope(sc, inner, map[string]any{"k": 2})
	if got := e.scopeFor(deep); got != inner2 {
		t.Error("Expected deep node to resolve to the nearest scope")
	}
	if got := e.scopeFor(outer); got != sc {
		t.Error("Expected the declaration node itself to resolve to its scope")
	}
}
