package weft

import "golang.org/x/net/html"

// Hook observes engine operations. Hooks are for cross-cutting concerns
// (logging, diagnostics, test instrumentation); they cannot veto work.
type Hook interface {
	// Name returns the hook's name.
	Name() string

	// OnMount is called after a mount attempt, with the aggregated error.
	OnMount(e *Engine, root *html.Node, err error)

	// OnDispatch is called at the start of an event dispatch turn.
	OnDispatch(e *Engine, ev *Event)

	// OnFlush is called after a render pass settles.
	OnFlush(e *Engine, passes, ran int)

	// Task lifecycle hooks.
	OnTaskStart(e *Engine, task string)
	OnTaskEnd(e *Engine, task string, err error)

	// OnError is called for every failure the engine contains.
	OnError(e *Engine, op string, err error)
}

// BaseHook provides no-op implementations for Hook methods.
type BaseHook struct {
	name string
}

// NewBaseHook creates a base hook with the given name.
func NewBaseHook(name string) BaseHook {
	return BaseHook{name: name}
}

func (h *BaseHook) Name() string {
	return h.name
}

func (h *BaseHook) OnMount(e *Engine, root *html.Node, err error) {
}

func (h *BaseHook) OnDispatch(e *Engine, ev *Event) {
}

func (h *BaseHook) OnFlush(e *Engine, passes, ran int) {
}

func (h *BaseHook) OnTaskStart(e *Engine, task string) {
}

func (h *BaseHook) OnTaskEnd(e *Engine, task string, err error) {
}

func (h *BaseHook) OnError(e *Engine, op string, err error) {
}
