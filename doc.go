// Package weft provides a directive-driven reactive UI runtime for server-rendered HTML.
//
// # Overview
//
// Weft organizes page behavior around three core concepts:
//
//  1. Namespaces: named state modules with derived values, actions, and tasks
//  2. Directives: data-* attributes that bind DOM nodes to namespace state
//  3. Turns: single-threaded units of work in which writes batch into one render pass
//
// # Basic Usage
//
// Parse a document, register a namespace, and mount:
//
//	doc, _ := weft.ParseDocument(strings.NewReader(page))
//	engine := weft.New(doc)
//
//	engine.Register(weft.NamespaceSpec{
//	    Name:  "counter",
//	    State: map[string]any{"count": 0},
//	    Actions: map[string]weft.HandlerFunc{
//	        "increment": func(ctx *weft.Ctx) error {
//	            n, _ := ctx.Get("state.count").(int)
//	            return ctx.Set("state.count", n+1)
//	        },
//	    },
//	})
//
//	if err := engine.Mount(); err != nil {
//	    log.Printf("some directives failed: %v", err)
//	}
//
// Markup opts into behavior with directives:
//
//	<div data-scope="counter">
//	  <span data-text="state.count"></span>
//	  <button data-on--click="increment">+1</button>
//	</div>
//
// # Directives
//
// The vocabulary is fixed and versioned (see Version). Suffixes after "--"
// parameterize a directive; unknown names inside the data- prefix are logged
// and skipped, everything else is left alone.
//
//	data-scope="ns"             activate namespace for the subtree
//	data-context='{"k":1}'      declare a context scope (JSON literal)
//	data-text="expr"            replace text content
//	data-bind--NAME="expr"      set, update, or remove attribute NAME
//	data-class--NAME="expr"     toggle class NAME by truthiness
//	data-style--PROP="expr"     set or remove inline style property
//	data-on--EVENT="action"     listen on the node (async delivery)
//	data-on--EVENT.sync="action"  synchronous delivery, live event object
//	data-on-window--EVENT       listen on the window pseudo-target
//	data-on-document--EVENT     listen on the document pseudo-target
//	data-watch="action"         run at mount and when tracked reads change
//	data-init="action"          run once per block instance at mount
//	data-each="expr"            repeat element per list item
//	data-each--NAME="expr"      same, injecting the item as NAME
//	data-each-key="expr"        identity key for list reconciliation
//
// Expressions are bare references: an optional "!" negation, an optional
// "ns::" qualifier, then a dotted path rooted at "state", "context", or a
// getter name. There are no literals, operators, or calls. A malformed
// expression disables that one binding and is logged; siblings keep working.
//
// # Reactivity
//
// Reads performed while a binding evaluates are tracked; writes invalidate
// exactly the bindings that observed the written path. Writes never re-run
// bindings synchronously: they mark dependents dirty, and the next render
// pass runs each affected binding once, in mount order.
//
//	ctx.Set("state.todos.0.done", true)  // marks readers of that path dirty
//
// Derived values (getters) are memoized per namespace and recompute lazily
// when a tracked input changes. Consumers depend on the getter itself, so an
// input write re-runs the getter's readers without re-running unrelated ones.
//
// # Context
//
// data-context declares a scope visible to the subtree. Lookups walk
// innermost-first; writes land on the nearest ancestor that declares the
// key, or on the writing scope when none does. List blocks inject "item"
// (or the name chosen via data-each--NAME) and "index" as block-scoped
// entries, so sibling rows never observe each other's values.
//
// # Events and Tasks
//
// Dispatch delivers an event to the target, then bubbles to ancestors, the
// document, and the window. Handlers run asynchronously by default: each
// queued handler is its own turn, and the event object is retired by the
// time it runs. A handler that must call PreventDefault or read
// CurrentTarget uses the .sync modifier and runs during the dispatch turn.
//
// Multi-turn work is a Task: an explicit sequence of steps with declared
// suspension points. Steps yield Render (resume after the next render pass),
// Await (park on a Promise), Continue, or Done:
//
//	"search": func(ctx *weft.Ctx) *weft.Task {
//	    query := ctx.DetailString("q")
//	    gen := ctx.NextEpoch("search")
//	    var p *weft.Promise
//	    return weft.NewTask("search",
//	        func(t *weft.TaskCtx) (weft.Yield, error) {
//	            t.Set("state.status", "loading")
//	            p = fetch(query)
//	            return weft.Await(p), nil
//	        },
//	        func(t *weft.TaskCtx) (weft.Yield, error) {
//	            if t.Epoch("search") != gen {
//	                return weft.Done(), nil // superseded; drop the result
//	            }
//	            t.Set("state.results", t.Value())
//	            return weft.Done(), nil
//	        },
//	    )
//	},
//
// Epochs carry the supersede contract: a task records the generation for its
// logical operation before suspending and compares after resuming. Stale
// tasks complete silently without writing. The engine never hard-cancels a
// task mid-step.
//
// External callbacks (timers, IO goroutines) re-enter the loop through a
// captured scope:
//
//	ref := engine.CaptureScope(node)
//	time.AfterFunc(200*time.Millisecond, func() {
//	    ref.Do("tick", func(ctx *weft.Ctx) error {
//	        return ctx.Set("state.elapsed", true)
//	    })
//	})
//
// # Lists
//
// data-each treats its element as a template, replaced by an anchor. With
// data-each-key, reconciliation is keyed: existing blocks are moved, not
// recreated, so node identity, per-block context, and focus survive
// reorders. Without a key, identity is positional. Removed blocks tear down
// their listeners and bindings.
//
// # Server State
//
// A page may embed a snapshot the engine consumes exactly once at mount:
//
//	<script type="application/json" data-server-state>
//	  {"version":"1.0.0","state":{"todo":{"todos":[...]}}}
//	</script>
//
// Snapshots re-applied later go through Engine.Merge and the normal write
// path. A snapshot from a different major version of the vocabulary is
// refused.
//
// # Hooks
//
// Hooks observe engine operations (mount, dispatch, flush, tasks, errors)
// for logging and diagnostics:
//
//	engine := weft.New(doc,
//	    weft.WithLogger(logger),
//	    weft.WithHook(extensions.NewLogging(logger)),
//	)
//
// # Failure Policy
//
// The engine fails closed. Directive errors disable the one binding and are
// logged; handler and task errors are recovered, logged, and never unwind
// the loop; a write cascade that exceeds the configured limit stops and
// leaves the last consistent document in place.
//
// # Threading
//
// The engine is single-threaded by design: one goroutine owns the document,
// the store, and the queue. Settle drains pending turns synchronously; Run
// loops on a wake channel until the context is done. Promise resolution and
// ScopeRef.Do are the only entry points safe to call from other goroutines.
package weft
