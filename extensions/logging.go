package extensions

import (
	"log/slog"
	"time"

	weft "github.com/weft-ui/weft-go"
	"golang.org/x/net/html"
)

// Logging logs all engine operations: mounts, dispatches, flushes, task
// lifecycles, and contained errors.
type Logging struct {
	weft.BaseHook
	logger *slog.Logger
	starts map[string]time.Time
}

// NewLogging creates a logging hook writing through the given logger.
func NewLogging(logger *slog.Logger) *Logging {
	return &Logging{
		BaseHook: weft.NewBaseHook("logging"),
		logger:   logger,
		starts:   make(map[string]time.Time),
	}
}

func (l *Logging) OnMount(e *weft.Engine, root *html.Node, err error) {
	if err != nil {
		l.logger.Warn("mount completed with failures", "err", err)
		return
	}
	l.logger.Info("mount completed")
}

func (l *Logging) OnDispatch(e *weft.Engine, ev *weft.Event) {
	l.logger.Debug("dispatch", "type", ev.Type())
}

func (l *Logging) OnFlush(e *weft.Engine, passes, ran int) {
	l.logger.Debug("flush", "passes", passes, "ran", ran)
}

func (l *Logging) OnTaskStart(e *weft.Engine, task string) {
	l.starts[task] = time.Now()
	l.logger.Debug("task starting", "task", task)
}

func (l *Logging) OnTaskEnd(e *weft.Engine, task string, err error) {
	var duration time.Duration
	if start, ok := l.starts[task]; ok {
		duration = time.Since(start)
		delete(l.starts, task)
	}
	if err != nil {
		l.logger.Warn("task failed", "task", task, "duration", duration, "err", err)
		return
	}
	l.logger.Debug("task completed", "task", task, "duration", duration)
}

func (l *Logging) OnError(e *weft.Engine, op string, err error) {
	l.logger.Error("operation failed", "op", op, "err", err)
}
