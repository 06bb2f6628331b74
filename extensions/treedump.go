package extensions

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/m1gwings/treedrawer/tree"
	weft "github.com/weft-ui/weft-go"
)

// TreeDump logs the mounted binding tree when errors occur.
//
// Usage:
//
//	// Human-readable formatted output (with line breaks)
//	handler := extensions.NewHumanHandler(os.Stdout, slog.LevelError)
//	hook := extensions.NewTreeDump(handler)
//
//	// Structured JSON logging (compact, machine-readable)
//	handler := slog.NewJSONHandler(os.Stdout, nil)
//	hook := extensions.NewTreeDump(handler)
//
//	// Silent (for testing)
//	hook := extensions.NewTreeDump(extensions.NewSilentHandler())
//
// The hook logs at ERROR level with the rendered tree attached, so a broken
// binding shows up next to every live binding around it.
type TreeDump struct {
	weft.BaseHook
	logger *slog.Logger
}

// NewTreeDump creates a tree dump hook.
// logHandler: slog.Handler for logging (use HumanHandler for formatted
// output, or any other slog.Handler)
func NewTreeDump(logHandler slog.Handler) *TreeDump {
	return &TreeDump{
		BaseHook: weft.NewBaseHook("tree-dump"),
		logger:   slog.New(logHandler),
	}
}

// OnError logs the binding tree alongside the failure.
func (t *TreeDump) OnError(e *weft.Engine, op string, err error) {
	t.logger.Error("Binding Error",
		"op", op,
		"error", err.Error(),
		"binding_tree", "\n"+Dump(e),
	)
}

// Dump renders the engine's mounted binding tree: each region with its
// bindings and run counts, listeners, and list blocks. The boxed drawing
// keeps top-level structure; the indented text below it carries the detail.
func Dump(e *weft.Engine) string {
	root := e.Inspect()

	drawn := tree.NewTree(tree.NodeString(root.Label))
	for _, child := range root.Children {
		drawn.AddChild(tree.NodeString(summarize(child)))
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprint(drawn))
	sb.WriteString("\n")
	for _, child := range root.Children {
		writeIndented(&sb, child, 1)
	}
	return sb.String()
}

// summarize flattens one subtree into a single boxed label.
func summarize(n *weft.DebugNode) string {
	if len(n.Children) == 0 {
		return n.Label
	}
	return fmt.Sprintf("%s (%d)", n.Label, len(n.Children))
}

func writeIndented(sb *strings.Builder, n *weft.DebugNode, depth int) {
	sb.WriteString(strings.Repeat("  ", depth))
	sb.WriteString(n.Label)
	sb.WriteString("\n")
	for _, child := range n.Children {
		writeIndented(sb, child, depth+1)
	}
}
