// Package history provides a bounded undo-redo command log.
//
// Commands carry their own reversal data, so Revert never consults the
// current document: undo restores the exact prior state regardless of what
// happened since. Sequence ids from a shared Sequencer order the log; wall
// clocks never do.
//
// A Log is not safe for concurrent use. Drive it from one goroutine, the
// way an engine's turn loop does.
package history

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Command is one reversible document mutation. Apply and Revert are exact
// inverses over the reversal data embedded in the command.
type Command[D any] interface {
	Apply(doc D) error
	Revert(doc D) error
	Seq() uint64
	Kind() string
}

// Sequencer issues monotonic sequence ids, starting at 1. Safe for
// concurrent use.
type Sequencer struct {
	n atomic.Uint64
}

// Next returns the next id.
func (s *Sequencer) Next() uint64 { return s.n.Add(1) }

// Current returns the last issued id, 0 when none.
func (s *Sequencer) Current() uint64 { return s.n.Load() }

type config struct {
	capacity int
	logger   *slog.Logger
}

// Option configures a Log at construction.
type Option func(*config)

// WithCapacity bounds the log. Pushes beyond the bound evict the oldest
// entry. The default is 100.
func WithCapacity(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithLogger sets the log's logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// Log is a bounded command log over one document. The index points at the
// last applied entry; -1 means none.
type Log[D any] struct {
	doc      D
	entries  []Command[D]
	idx      int
	capacity int
	logger   *slog.Logger
}

// New creates a log over a document.
func New[D any](doc D, opts ...Option) *Log[D] {
	cfg := config{capacity: 100, logger: slog.Default()}
	for _, o := range opts {
		o(&cfg)
	}
	return &Log[D]{doc: doc, idx: -1, capacity: cfg.capacity, logger: cfg.logger}
}

// Doc returns the document under command.
func (l *Log[D]) Doc() D { return l.doc }

// Index returns the last applied position, -1 when nothing is applied.
func (l *Log[D]) Index() int { return l.idx }

// Len returns the number of recorded entries.
func (l *Log[D]) Len() int { return len(l.entries) }

// CanUndo reports whether an entry is applied.
func (l *Log[D]) CanUndo() bool { return l.idx >= 0 }

// CanRedo reports whether entries sit above the index.
func (l *Log[D]) CanRedo() bool { return l.idx+1 < len(l.entries) }

// Entries returns a copy of the recorded commands, oldest first.
func (l *Log[D]) Entries() []Command[D] {
	out := make([]Command[D], len(l.entries))
	copy(out, l.entries)
	return out
}

// Push applies a command and records it. A failed Apply leaves the log
// unchanged and returns the error. Recording discards any redo branch above
// the index; beyond capacity the oldest entry falls off and the index
// shifts with it.
func (l *Log[D]) Push(cmd Command[D]) error {
	if err := cmd.Apply(l.doc); err != nil {
		return fmt.Errorf("apply %s (seq %d): %w", cmd.Kind(), cmd.Seq(), err)
	}
	l.entries = append(l.entries[:l.idx+1], cmd)
	l.idx++
	if len(l.entries) > l.capacity {
		drop := len(l.entries) - l.capacity
		copy(l.entries, l.entries[drop:])
		for i := l.capacity; i < len(l.entries); i++ {
			l.entries[i] = nil
		}
		l.entries = l.entries[:l.capacity]
		l.idx -= drop
	}
	l.logger.Debug("command applied", "kind", cmd.Kind(), "seq", cmd.Seq(), "index", l.idx)
	return nil
}

// Undo reverts the entry at the index. At the bottom it reports false and
// does nothing.
func (l *Log[D]) Undo() (bool, error) {
	if l.idx < 0 {
		return false, nil
	}
	cmd := l.entries[l.idx]
	if err := cmd.Revert(l.doc); err != nil {
		return false, fmt.Errorf("revert %s (seq %d): %w", cmd.Kind(), cmd.Seq(), err)
	}
	l.idx--
	l.logger.Debug("command reverted", "kind", cmd.Kind(), "seq", cmd.Seq(), "index", l.idx)
	return true, nil
}

// Redo re-applies the entry above the index. At the top it reports false
// and does nothing.
func (l *Log[D]) Redo() (bool, error) {
	if !l.CanRedo() {
		return false, nil
	}
	cmd := l.entries[l.idx+1]
	if err := cmd.Apply(l.doc); err != nil {
		return false, fmt.Errorf("apply %s (seq %d): %w", cmd.Kind(), cmd.Seq(), err)
	}
	l.idx++
	l.logger.Debug("command reapplied", "kind", cmd.Kind(), "seq", cmd.Seq(), "index", l.idx)
	return true, nil
}

// JumpTo moves the index to i by the minimal replay: reverting on the way
// down, applying on the way up. A failed step stops the jump at the last
// index whose state is consistent and returns the error.
func (l *Log[D]) JumpTo(i int) error {
	if i < -1 || i >= len(l.entries) {
		return fmt.Errorf("jump to %d: index out of range [-1, %d)", i, len(l.entries))
	}
	for l.idx > i {
		cmd := l.entries[l.idx]
		if err := cmd.Revert(l.doc); err != nil {
			return fmt.Errorf("revert %s (seq %d): %w", cmd.Kind(), cmd.Seq(), err)
		}
		l.idx--
	}
	for l.idx < i {
		cmd := l.entries[l.idx+1]
		if err := cmd.Apply(l.doc); err != nil {
			return fmt.Errorf("apply %s (seq %d): %w", cmd.Kind(), cmd.Seq(), err)
		}
		l.idx++
	}
	return nil
}
