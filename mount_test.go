package weft

import (
	"errors"
	"strings"
	"testing"

	"go.uber.org/multierr"
)

// TestMount_TextBinding verifies initial render and re-render on write.
func TestMount_TextBinding(t *testing.T) {
	e := newTestEngine(t, `<html><body>
		<div data-scope="app"><span id="v" data-text="state.msg">placeholder</span></div>
	</body></html>`)
	if err := e.Register(NamespaceSpec{
		Name:  "app",
		State: map[string]any{"msg": "hello"},
	}); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}
	if err := e.Mount(); err != nil {
		t.Fatalf("Failed to mount: %v", err)
	}

	v := FindByID(e.doc, "v")
	if got := TextOf(v); got != "hello" {
		t.Errorf("Expected hello after mount, got %q", got)
	}

	if err := e.Update("app", "msg", "bye"); err != nil {
		t.Fatalf("Failed to update: %v", err)
	}
	e.Settle()
	if got := TextOf(v); got != "bye" {
		t.Errorf("Expected bye after update, got %q", got)
	}
}

// TestMount_UpdateBatching verifies several writes in one turn re-run a
// binding exactly once.
func TestMount_UpdateBatching(t *testing.T) {
	e := newTestEngine(t, `<html><body>
		<div data-scope="app"><span id="v" data-text="state.a"></span></div>
	</body></html>`)
	if err := e.Register(NamespaceSpec{
		Name:  "app",
		State: map[string]any{"a": 0},
	}); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}
	if err := e.Mount(); err != nil {
		t.Fatalf("Failed to mount: %v", err)
	}

	comp := e.root.comps[0]
	if comp.runs != 1 {
		t.Fatalf("Expected one mount run, got %d", comp.runs)
	}

	e.Update("app", "a", 1)
	e.Update("app", "a", 2)
	e.Update("app", "a", 3)
	e.Settle()

	if comp.runs != 2 {
		t.Errorf("Expected one re-run for three writes, got %d total runs", comp.runs)
	}
	if got := TextOf(FindByID(e.doc, "v")); got != "3" {
		t.Errorf("Expected final value 3, got %q", got)
	}
}

// TestMount_AttributeBindings verifies data-bind semantics for booleans,
// strings, and nil.
func TestMount_AttributeBindings(t *testing.T) {
	e := newTestEngine(t, `<html><body><div data-scope="app">
		<button id="b" data-bind--disabled="state.busy">go</button>
		<input id="i" data-bind--placeholder="state.hint" title="stale" data-bind--title="state.gone">
	</div></body></html>`)
	if err := e.Register(NamespaceSpec{
		Name:  "app",
		State: map[string]any{"busy": true, "hint": "type here"},
	}); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}
	if err := e.Mount(); err != nil {
		t.Fatalf("Failed to mount: %v", err)
	}

	b := FindByID(e.doc, "b")
	i := FindByID(e.doc, "i")

	// true renders as a bare boolean attribute.
	if !HasAttr(b, "disabled") || AttrValue(b, "disabled") != "" {
		t.Errorf("Expected bare disabled attribute, got %q present=%v", AttrValue(b, "disabled"), HasAttr(b, "disabled"))
	}
	if got := AttrValue(i, "placeholder"); got != "type here" {
		t.Errorf("Expected placeholder, got %q", got)
	}
	// nil removes, even when the markup carried a value.
	if HasAttr(i, "title") {
		t.Error("Expected nil binding to remove the attribute")
	}

	// false removes a boolean attribute.
	e.Update("app", "busy", false)
	e.Settle()
	if HasAttr(b, "disabled") {
		t.Error("Expected disabled removed after false")
	}
}

// TestMount_ClassAndStyleBindings verifies truthiness-driven class and style
// writes.
func TestMount_ClassAndStyleBindings(t *testing.T) {
	e := newTestEngine(t, `<html><body><div data-scope="app">
		<li id="l" class="row" data-class--done="state.done" data-style--opacity="state.fade"></li>
	</div></body></html>`)
	if err := e.Register(NamespaceSpec{
		Name:  "app",
		State: map[string]any{"done": true, "fade": "0.5"},
	}); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}
	if err := e.Mount(); err != nil {
		t.Fatalf("Failed to mount: %v", err)
	}

	l := FindByID(e.doc, "l")
	if !HasClass(l, "done") || !HasClass(l, "row") {
		t.Errorf("Expected done and row classes, got %q", AttrValue(l, "class"))
	}
	if got := StyleValue(l, "opacity"); got != "0.5" {
		t.Errorf("Expected opacity 0.5, got %q", got)
	}

	e.Update("app", "done", false)
	e.Update("app", "fade", nil)
	e.Settle()

	if HasClass(l, "done") {
		t.Error("Expected done class removed")
	}
	// row was authored, done was bound; only done toggles.
	if !HasClass(l, "row") {
		t.Error("Expected authored class to survive")
	}
	if got := StyleValue(l, "opacity"); got != "" {
		t.Errorf("Expected opacity removed, got %q", got)
	}
}

// TestMount_NegatedExpression verifies the ! prefix at the binding level.
func TestMount_NegatedExpression(t *testing.T) {
	e := newTestEngine(t, `<html><body><div data-scope="app">
		<div id="d" data-class--hidden="!state.open"></div>
	</div></body></html>`)
	if err := e.Register(NamespaceSpec{
		Name:  "app",
		State: map[string]any{"open": false},
	}); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}
	if err := e.Mount(); err != nil {
		t.Fatalf("Failed to mount: %v", err)
	}

	d := FindByID(e.doc, "d")
	if !HasClass(d, "hidden") {
		t.Error("Expected hidden while closed")
	}

	e.Update("app", "open", true)
	e.Settle()
	if HasClass(d, "hidden") {
		t.Error("Expected hidden removed while open")
	}
}

// TestMount_GetterBinding verifies a binding on a derived value follows its
// inputs.
func TestMount_GetterBinding(t *testing.T) {
	e := newTestEngine(t, `<html><body><div data-scope="todo">
		<span id="r" data-text="remaining"></span>
	</div></body></html>`)
	if err := e.Register(NamespaceSpec{
		Name: "todo",
		State: map[string]any{"items": []any{
			map[string]any{"done": false},
			map[string]any{"done": true},
		}},
		Getters: map[string]GetterFunc{
			"remaining": func(v *View) any {
				items, _ := v.Get("items").([]any)
				n := 0
				for _, it := range items {
					if m, ok := it.(map[string]any); ok && m["done"] != true {
						n++
					}
				}
				return n
			},
		},
	}); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}
	if err := e.Mount(); err != nil {
		t.Fatalf("Failed to mount: %v", err)
	}

	r := FindByID(e.doc, "r")
	if got := TextOf(r); got != "1" {
		t.Errorf("Expected 1, got %q", got)
	}

	e.Update("todo", "items.0.done", true)
	e.Settle()
	if got := TextOf(r); got != "0" {
		t.Errorf("Expected 0 after completing, got %q", got)
	}
}

// TestMount_CrossNamespaceBinding verifies ns:: qualified reads.
func TestMount_CrossNamespaceBinding(t *testing.T) {
	e := newTestEngine(t, `<html><body><div data-scope="app">
		<span id="u" data-text="session::state.user"></span>
	</div></body></html>`)
	if err := e.Register(NamespaceSpec{Name: "app"}); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}
	if err := e.Register(NamespaceSpec{
		Name:  "session",
		State: map[string]any{"user": "ada"},
	}); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}
	if err := e.Mount(); err != nil {
		t.Fatalf("Failed to mount: %v", err)
	}

	if got := TextOf(FindByID(e.doc, "u")); got != "ada" {
		t.Errorf("Expected ada, got %q", got)
	}

	e.Update("session", "user", "lin")
	e.Settle()
	if got := TextOf(FindByID(e.doc, "u")); got != "lin" {
		t.Errorf("Expected lin after cross-namespace write, got %q", got)
	}
}

// TestMount_ContextDeclarations verifies data-context JSON entries and
// shadowing in nested declarations.
func TestMount_ContextDeclarations(t *testing.T) {
	e := newTestEngine(t, `<html><body><div data-scope="app">
		<div data-context='{"label": "outer", "depth": 1}'>
			<span id="o" data-text="context.label"></span>
			<div data-context='{"label": "inner"}'>
				<span id="i" data-text="context.label"></span>
				<span id="d" data-text="context.depth"></span>
			</div>
		</div>
	</div></body></html>`)
	if err := e.Register(NamespaceSpec{Name: "app"}); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}
	if err := e.Mount(); err != nil {
		t.Fatalf("Failed to mount: %v", err)
	}

	if got := TextOf(FindByID(e.doc, "o")); got != "outer" {
		t.Errorf("Expected outer, got %q", got)
	}
	if got := TextOf(FindByID(e.doc, "i")); got != "inner" {
		t.Errorf("Expected inner shadow, got %q", got)
	}
	if got := TextOf(FindByID(e.doc, "d")); got != "1" {
		t.Errorf("Expected depth from the outer scope, got %q", got)
	}
}

// TestMount_InertWithoutScope verifies directives outside any data-scope are
// logged and skipped without failing the mount.
func TestMount_InertWithoutScope(t *testing.T) {
	e := newTestEngine(t, `<html><body>
		<span id="loose" data-text="state.x">untouched</span>
	</body></html>`)
	if err := e.Mount(); err != nil {
		t.Fatalf("Expected inert directive to not fail mount, got %v", err)
	}
	if got := TextOf(FindByID(e.doc, "loose")); got != "untouched" {
		t.Errorf("Expected untouched text, got %q", got)
	}
}

// TestMount_UnknownNamespaceSubtree verifies an unregistered data-scope
// leaves its subtree inert while the rest of the page mounts.
func TestMount_UnknownNamespaceSubtree(t *testing.T) {
	e := newTestEngine(t, `<html><body>
		<div data-scope="ghost"><span id="dead" data-text="state.x">raw</span></div>
		<div data-scope="app"><span id="live" data-text="state.x"></span></div>
	</body></html>`)
	if err := e.Register(NamespaceSpec{
		Name:  "app",
		State: map[string]any{"x": "ok"},
	}); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}

	err := e.Mount()
	if !errors.Is(err, ErrUnknownNamespace) {
		t.Errorf("Expected ErrUnknownNamespace in mount errors, got %v", err)
	}
	if got := TextOf(FindByID(e.doc, "dead")); got != "raw" {
		t.Errorf("Expected inert subtree untouched, got %q", got)
	}
	if got := TextOf(FindByID(e.doc, "live")); got != "ok" {
		t.Errorf("Expected sibling scope to mount, got %q", got)
	}
}

// TestMount_MalformedExpressionAggregates verifies per-directive failures
// collect into the mount error without blocking neighbors.
func TestMount_MalformedExpressionAggregates(t *testing.T) {
	e := newTestEngine(t, `<html><body><div data-scope="app">
		<span id="bad" data-text="state.x + 1">raw</span>
		<span id="good" data-text="state.x"></span>
		<button id="btn" data-on--click="missing">x</button>
	</div></body></html>`)
	if err := e.Register(NamespaceSpec{
		Name:  "app",
		State: map[string]any{"x": "ok"},
	}); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}

	err := e.Mount()
	if err == nil {
		t.Fatal("Expected mount errors")
	}
	if !errors.Is(err, ErrBadExpression) {
		t.Errorf("Expected ErrBadExpression among mount errors, got %v", err)
	}
	if !errors.Is(err, ErrUnknownAction) {
		t.Errorf("Expected ErrUnknownAction among mount errors, got %v", err)
	}
	if n := len(multierr.Errors(err)); n != 2 {
		t.Errorf("Expected 2 aggregated errors, got %d: %v", n, err)
	}

	if got := TextOf(FindByID(e.doc, "bad")); got != "raw" {
		t.Errorf("Expected failed binding untouched, got %q", got)
	}
	if got := TextOf(FindByID(e.doc, "good")); got != "ok" {
		t.Errorf("Expected sibling binding mounted, got %q", got)
	}
}

// TestMount_BadContextJSONContinues verifies a malformed data-context is
// reported while its children mount with the outer scope.
func TestMount_BadContextJSONContinues(t *testing.T) {
	e := newTestEngine(t, `<html><body><div data-scope="app">
		<div data-context='{"broken": '>
			<span id="s" data-text="state.x"></span>
		</div>
	</div></body></html>`)
	if err := e.Register(NamespaceSpec{
		Name:  "app",
		State: map[string]any{"x": "ok"},
	}); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}

	if err := e.Mount(); err == nil {
		t.Error("Expected JSON error in mount result")
	}
	if got := TextOf(FindByID(e.doc, "s")); got != "ok" {
		t.Errorf("Expected children to mount anyway, got %q", got)
	}
}

// TestMount_InitRunsOnce verifies data-init fires once per mount, after the
// region is wired.
func TestMount_InitRunsOnce(t *testing.T) {
	e := newTestEngine(t, `<html><body>
		<div data-scope="app" data-init="setup"><span id="v" data-text="state.ready"></span></div>
	</body></html>`)
	setups := 0
	if err := e.Register(NamespaceSpec{
		Name:  "app",
		State: map[string]any{"ready": false},
		Actions: map[string]HandlerFunc{
			"setup": func(ctx *Ctx) error {
				setups++
				return ctx.Set("state.ready", true)
			},
		},
	}); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}
	if err := e.Mount(); err != nil {
		t.Fatalf("Failed to mount: %v", err)
	}

	if setups != 1 {
		t.Errorf("Expected one init run, got %d", setups)
	}
	// The init's write is flushed by the mount turn.
	if got := TextOf(FindByID(e.doc, "v")); got != "true" {
		t.Errorf("Expected ready rendered, got %q", got)
	}

	e.Update("app", "ready", false)
	e.Settle()
	if setups != 1 {
		t.Errorf("Expected init to never re-run, got %d", setups)
	}
}

// TestMount_WatchReruns verifies data-watch re-invokes its action when a
// value the action read changes.
func TestMount_WatchReruns(t *testing.T) {
	e := newTestEngine(t, `<html><body>
		<div data-scope="app" data-watch="mirror"><span id="out" data-text="state.mirrored"></span></div>
	</body></html>`)
	runs := 0
	if err := e.Register(NamespaceSpec{
		Name:  "app",
		State: map[string]any{"source": "a", "other": "x"},
		Actions: map[string]HandlerFunc{
			"mirror": func(ctx *Ctx) error {
				runs++
				return ctx.Set("state.mirrored", ctx.Get("state.source"))
			},
		},
	}); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}
	if err := e.Mount(); err != nil {
		t.Fatalf("Failed to mount: %v", err)
	}

	if runs != 1 {
		t.Fatalf("Expected one run at mount, got %d", runs)
	}
	if got := TextOf(FindByID(e.doc, "out")); got != "a" {
		t.Errorf("Expected mirrored a, got %q", got)
	}

	e.Update("app", "source", "b")
	e.Settle()
	if runs != 2 {
		t.Errorf("Expected re-run after watched write, got %d", runs)
	}
	if got := TextOf(FindByID(e.doc, "out")); got != "b" {
		t.Errorf("Expected mirrored b, got %q", got)
	}

	// Writes the action never read do not trigger it.
	e.Update("app", "other", "y")
	e.Settle()
	if runs != 2 {
		t.Errorf("Expected no run for unrelated write, got %d", runs)
	}
}

// TestMount_ListenerDispatch verifies a data-on listener runs its action as
// a queued turn and the turn's writes render once.
func TestMount_ListenerDispatch(t *testing.T) {
	e := newTestEngine(t, `<html><body><div data-scope="counter">
		<span id="n" data-text="state.count"></span>
		<button id="inc" data-on--click="increment">+</button>
	</div></body></html>`)
	if err := e.Register(NamespaceSpec{
		Name:  "counter",
		State: map[string]any{"count": 0},
		Actions: map[string]HandlerFunc{
			"increment": func(ctx *Ctx) error {
				n, _ := ctx.Get("state.count").(int)
				return ctx.Set("state.count", n+1)
			},
		},
	}); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}
	if err := e.Mount(); err != nil {
		t.Fatalf("Failed to mount: %v", err)
	}

	btn := FindByID(e.doc, "inc")
	e.Dispatch(btn, "click", nil)

	// The handler is queued, not run inline.
	if got := TextOf(FindByID(e.doc, "n")); got != "0" {
		t.Errorf("Expected unchanged count before settle, got %q", got)
	}
	if e.pendingJobs() != 1 {
		t.Errorf("Expected one queued turn, got %d", e.pendingJobs())
	}

	if ran := e.Settle(); ran != 1 {
		t.Errorf("Expected one job, got %d", ran)
	}
	if got := TextOf(FindByID(e.doc, "n")); got != "1" {
		t.Errorf("Expected count 1, got %q", got)
	}
}

// TestMount_SyncTaskListenerRefused verifies .sync cannot point at a task.
func TestMount_SyncTaskListenerRefused(t *testing.T) {
	e := newTestEngine(t, `<html><body><div data-scope="app">
		<button data-on--click.sync="load">x</button>
	</div></body></html>`)
	if err := e.Register(NamespaceSpec{
		Name: "app",
		Tasks: map[string]TaskFunc{
			"load": func(ctx *Ctx) *Task { return nil },
		},
	}); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}

	err := e.Mount()
	if err == nil || !strings.Contains(err.Error(), ".sync") {
		t.Errorf("Expected sync-task refusal, got %v", err)
	}
}

// TestMount_DoubleMountRefused verifies the mounted guard.
func TestMount_DoubleMountRefused(t *testing.T) {
	e := newTestEngine(t, blankPage)
	if err := e.Mount(); err != nil {
		t.Fatalf("Failed to mount: %v", err)
	}
	if err := e.Mount(); err == nil {
		t.Error("Expected second mount to fail")
	}
}

// TestMount_UnmountTeardown verifies bindings, listeners, and focus are
// released on unmount.
func TestMount_UnmountTeardown(t *testing.T) {
	e := newTestEngine(t, `<html><body><div data-scope="app">
		<span id="v" data-text="state.x"></span>
		<button id="b" data-on--click="bump">+</button>
	</div></body></html>`)
	bumps := 0
	if err := e.Register(NamespaceSpec{
		Name:  "app",
		State: map[string]any{"x": "one"},
		Actions: map[string]HandlerFunc{
			"bump": func(ctx *Ctx) error { bumps++; return nil },
		},
	}); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}
	if err := e.Mount(); err != nil {
		t.Fatalf("Failed to mount: %v", err)
	}

	v := FindByID(e.doc, "v")
	b := FindByID(e.doc, "b")
	e.Focus(b)

	e.Unmount()

	if e.Focused() != nil {
		t.Error("Expected focus cleared on unmount")
	}

	// The document keeps its last rendered state but stops reacting.
	e.Update("app", "x", "two")
	e.Settle()
	if got := TextOf(v); got != "one" {
		t.Errorf("Expected stale render after unmount, got %q", got)
	}

	e.Dispatch(b, "click", nil)
	e.Settle()
	if bumps != 0 {
		t.Errorf("Expected no handler runs after unmount, got %d", bumps)
	}
}

// TestMount_InspectTree verifies the diagnostic snapshot names bindings and
// listeners.
func TestMount_InspectTree(t *testing.T) {
	e := newTestEngine(t, `<html><body><div data-scope="app">
		<span data-text="state.x"></span>
		<button data-on--click="noop">x</button>
	</div></body></html>`)
	if err := e.Register(NamespaceSpec{
		Name:    "app",
		State:   map[string]any{"x": 1},
		Actions: map[string]HandlerFunc{"noop": func(ctx *Ctx) error { return nil }},
	}); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}
	if err := e.Mount(); err != nil {
		t.Fatalf("Failed to mount: %v", err)
	}

	tree := e.Inspect()
	if len(tree.Children) != 1 {
		t.Fatalf("Expected one page region, got %d", len(tree.Children))
	}
	var labels []string
	for _, c := range tree.Children[0].Children {
		labels = append(labels, c.Label)
	}
	joined := strings.Join(labels, "\n")
	if !strings.Contains(joined, `text data-text="state.x" (runs 1)`) {
		t.Errorf("Expected binding label with run count, got:\n%s", joined)
	}
	if !strings.Contains(joined, "on--click -> noop") {
		t.Errorf("Expected listener label, got:\n%s", joined)
	}
}
