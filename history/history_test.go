package history

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
)

type counterDoc struct {
	value int
}

// op is an instrumented command over a counterDoc. delta is its effect;
// the counters record replay work; the fail flags force step errors.
type op struct {
	seq        uint64
	kind       string
	delta      int
	applies    int
	reverts    int
	failApply  bool
	failRevert bool
}

func (o *op) Apply(doc *counterDoc) error {
	if o.failApply {
		return errors.New("apply refused")
	}
	o.applies++
	doc.value += o.delta
	return nil
}

func (o *op) Revert(doc *counterDoc) error {
	if o.failRevert {
		return errors.New("revert refused")
	}
	o.reverts++
	doc.value -= o.delta
	return nil
}

func (o *op) Seq() uint64  { return o.seq }
func (o *op) Kind() string { return o.kind }

func newTestLog(opts ...Option) (*Log[*counterDoc], *counterDoc) {
	doc := &counterDoc{}
	silent := WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return New(doc, append([]Option{silent}, opts...)...), doc
}

// TestLog_PushAppliesAndRecords verifies Push mutates the document and
// advances the index.
func TestLog_PushAppliesAndRecords(t *testing.T) {
	l, doc := newTestLog()
	seq := &Sequencer{}
	for i, d := range []int{1, 2, 3} {
		cmd := &op{seq: seq.Next(), kind: "add", delta: d}
		if err := l.Push(cmd); err != nil {
			t.Fatalf("Failed to push %d: %v", i, err)
		}
	}

	if doc.value != 6 {
		t.Errorf("Expected value 6, got %d", doc.value)
	}
	if l.Len() != 3 || l.Index() != 2 {
		t.Errorf("Expected len 3 index 2, got len %d index %d", l.Len(), l.Index())
	}
	if !l.CanUndo() || l.CanRedo() {
		t.Errorf("Expected undo only, got undo=%v redo=%v", l.CanUndo(), l.CanRedo())
	}
}

// TestLog_UndoRedoRoundTrip verifies Undo and Redo walk the same entry.
func TestLog_UndoRedoRoundTrip(t *testing.T) {
	l, doc := newTestLog()
	l.Push(&op{seq: 1, kind: "a", delta: 1})
	l.Push(&op{seq: 2, kind: "b", delta: 2})

	ok, err := l.Undo()
	if !ok || err != nil {
		t.Fatalf("Failed to undo: ok=%v err=%v", ok, err)
	}
	if doc.value != 1 || l.Index() != 0 {
		t.Errorf("Expected value 1 index 0, got %d index %d", doc.value, l.Index())
	}
	if !l.CanRedo() {
		t.Error("Expected redo to be available after undo")
	}

	ok, err = l.Redo()
	if !ok || err != nil {
		t.Fatalf("Failed to redo: ok=%v err=%v", ok, err)
	}
	if doc.value != 3 || l.Index() != 1 {
		t.Errorf("Expected value 3 index 1, got %d index %d", doc.value, l.Index())
	}
}

// TestLog_UndoAtBottomIsNoOp verifies Undo on an empty or exhausted log
// reports false without touching the document.
func TestLog_UndoAtBottomIsNoOp(t *testing.T) {
	l, doc := newTestLog()
	if ok, err := l.Undo(); ok || err != nil {
		t.Errorf("Expected no-op undo on empty log, got ok=%v err=%v", ok, err)
	}

	l.Push(&op{seq: 1, kind: "a", delta: 5})
	l.Undo()
	if ok, err := l.Undo(); ok || err != nil {
		t.Errorf("Expected no-op undo at bottom, got ok=%v err=%v", ok, err)
	}
	if doc.value != 0 {
		t.Errorf("Expected value 0, got %d", doc.value)
	}
}

// TestLog_RedoAtTopIsNoOp verifies Redo past the newest entry reports false.
func TestLog_RedoAtTopIsNoOp(t *testing.T) {
	l, doc := newTestLog()
	l.Push(&op{seq: 1, kind: "a", delta: 5})
	if ok, err := l.Redo(); ok || err != nil {
		t.Errorf("Expected no-op redo at top, got ok=%v err=%v", ok, err)
	}
	if doc.value != 5 {
		t.Errorf("Expected value 5, got %d", doc.value)
	}
}

// TestLog_PushTruncatesRedoBranch verifies a push after undos discards the
// branch above the index.
func TestLog_PushTruncatesRedoBranch(t *testing.T) {
	l, doc := newTestLog()
	b := &op{seq: 2, kind: "b", delta: 2}
	c := &op{seq: 3, kind: "c", delta: 4}
	l.Push(&op{seq: 1, kind: "a", delta: 1})
	l.Push(b)
	l.Push(c)
	l.Undo()
	l.Undo()

	if err := l.Push(&op{seq: 4, kind: "d", delta: 8}); err != nil {
		t.Fatalf("Failed to push: %v", err)
	}

	if l.Len() != 2 || l.CanRedo() {
		t.Errorf("Expected truncated log of 2, got len %d redo=%v", l.Len(), l.CanRedo())
	}
	if doc.value != 9 {
		t.Errorf("Expected value 9, got %d", doc.value)
	}
	if b.applies != 1 || c.applies != 1 {
		t.Errorf("Expected discarded branch untouched, got b=%d c=%d applies", b.applies, c.applies)
	}
	kinds := []string{}
	for _, cmd := range l.Entries() {
		kinds = append(kinds, cmd.Kind())
	}
	if len(kinds) != 2 || kinds[0] != "a" || kinds[1] != "d" {
		t.Errorf("Expected entries [a d], got %v", kinds)
	}
}

// TestLog_CapacityEvictsOldest verifies the bound drops the oldest entries
// and shifts the index with them.
func TestLog_CapacityEvictsOldest(t *testing.T) {
	l, doc := newTestLog(WithCapacity(3))
	for i, d := range []int{1, 2, 3, 4, 5} {
		l.Push(&op{seq: uint64(i + 1), kind: "add", delta: d})
	}

	if l.Len() != 3 || l.Index() != 2 {
		t.Fatalf("Expected len 3 index 2, got len %d index %d", l.Len(), l.Index())
	}
	if got := l.Entries()[0].Seq(); got != 3 {
		t.Errorf("Expected oldest surviving seq 3, got %d", got)
	}

	// Only the surviving window is undoable.
	undos := 0
	for {
		ok, err := l.Undo()
		if err != nil {
			t.Fatalf("Failed to undo: %v", err)
		}
		if !ok {
			break
		}
		undos++
	}
	if undos != 3 {
		t.Errorf("Expected 3 undos, got %d", undos)
	}
	if doc.value != 3 {
		t.Errorf("Expected evicted deltas to persist, got %d", doc.value)
	}
}

// TestLog_FailedApplyLeavesLogUnchanged verifies a refused command is not
// recorded.
func TestLog_FailedApplyLeavesLogUnchanged(t *testing.T) {
	l, doc := newTestLog()
	l.Push(&op{seq: 1, kind: "a", delta: 1})

	err := l.Push(&op{seq: 2, kind: "bad", delta: 9, failApply: true})
	if err == nil {
		t.Fatal("Expected push to fail")
	}
	if l.Len() != 1 || l.Index() != 0 {
		t.Errorf("Expected log unchanged, got len %d index %d", l.Len(), l.Index())
	}
	if doc.value != 1 {
		t.Errorf("Expected value 1, got %d", doc.value)
	}
}

// TestLog_FailedRevertKeepsIndex verifies a refused revert leaves the entry
// applied.
func TestLog_FailedRevertKeepsIndex(t *testing.T) {
	l, doc := newTestLog()
	l.Push(&op{seq: 1, kind: "stuck", delta: 1, failRevert: true})

	ok, err := l.Undo()
	if ok || err == nil {
		t.Fatalf("Expected failed undo, got ok=%v err=%v", ok, err)
	}
	if l.Index() != 0 || doc.value != 1 {
		t.Errorf("Expected entry still applied, got index %d value %d", l.Index(), doc.value)
	}
}

// TestLog_JumpToMinimalReplay verifies JumpTo touches only the entries
// between the two indexes.
func TestLog_JumpToMinimalReplay(t *testing.T) {
	l, doc := newTestLog()
	ops := []*op{
		{seq: 1, kind: "a", delta: 1},
		{seq: 2, kind: "b", delta: 2},
		{seq: 3, kind: "c", delta: 4},
		{seq: 4, kind: "d", delta: 8},
	}
	for _, o := range ops {
		l.Push(o)
	}

	if err := l.JumpTo(1); err != nil {
		t.Fatalf("Failed to jump: %v", err)
	}
	if doc.value != 3 || l.Index() != 1 {
		t.Errorf("Expected value 3 index 1, got %d index %d", doc.value, l.Index())
	}
	if ops[0].reverts != 0 || ops[1].reverts != 0 || ops[2].reverts != 1 || ops[3].reverts != 1 {
		t.Errorf("Expected reverts [0 0 1 1], got [%d %d %d %d]",
			ops[0].reverts, ops[1].reverts, ops[2].reverts, ops[3].reverts)
	}

	if err := l.JumpTo(3); err != nil {
		t.Fatalf("Failed to jump back up: %v", err)
	}
	if doc.value != 15 {
		t.Errorf("Expected value 15, got %d", doc.value)
	}
	if ops[0].applies != 1 || ops[2].applies != 2 || ops[3].applies != 2 {
		t.Errorf("Expected applies [1 _ 2 2], got [%d %d %d %d]",
			ops[0].applies, ops[1].applies, ops[2].applies, ops[3].applies)
	}

	// Jumping to the current index replays nothing.
	before := ops[3].applies + ops[3].reverts
	if err := l.JumpTo(3); err != nil {
		t.Fatalf("Failed to jump in place: %v", err)
	}
	if got := ops[3].applies + ops[3].reverts; got != before {
		t.Errorf("Expected no replay work, got %d ops", got-before)
	}
}

// TestLog_JumpToRange verifies the index bounds, including -1 for the empty
// position.
func TestLog_JumpToRange(t *testing.T) {
	l, doc := newTestLog()
	l.Push(&op{seq: 1, kind: "a", delta: 1})
	l.Push(&op{seq: 2, kind: "b", delta: 2})

	if err := l.JumpTo(-2); err == nil {
		t.Error("Expected jump below range to fail")
	}
	if err := l.JumpTo(2); err == nil {
		t.Error("Expected jump above range to fail")
	}
	if err := l.JumpTo(-1); err != nil {
		t.Fatalf("Failed to jump to empty position: %v", err)
	}
	if doc.value != 0 || l.CanUndo() {
		t.Errorf("Expected everything reverted, got value %d undo=%v", doc.value, l.CanUndo())
	}
}

// TestLog_JumpToStopsAtConsistentIndex verifies a failed step leaves the
// index on the last entry whose state is intact.
func TestLog_JumpToStopsAtConsistentIndex(t *testing.T) {
	l, doc := newTestLog()
	a := &op{seq: 1, kind: "a", delta: 1}
	b := &op{seq: 2, kind: "b", delta: 2}
	c := &op{seq: 3, kind: "c", delta: 4}
	l.Push(a)
	l.Push(b)
	l.Push(c)
	if err := l.JumpTo(-1); err != nil {
		t.Fatalf("Failed to jump down: %v", err)
	}

	b.failApply = true
	err := l.JumpTo(2)
	if err == nil {
		t.Fatal("Expected jump to fail on refused apply")
	}
	if l.Index() != 0 || doc.value != 1 {
		t.Errorf("Expected stop at index 0 value 1, got index %d value %d", l.Index(), doc.value)
	}
}

// TestSequencer_MonotonicUnderContention verifies ids are unique and dense
// across goroutines.
func TestSequencer_MonotonicUnderContention(t *testing.T) {
	seq := &Sequencer{}
	const workers, per = 4, 50

	var mu sync.Mutex
	seen := make(map[uint64]bool)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				id := seq.Next()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*per {
		t.Errorf("Expected %d unique ids, got %d", workers*per, len(seen))
	}
	if seq.Current() != workers*per {
		t.Errorf("Expected current %d, got %d", workers*per, seq.Current())
	}
	if seen[0] {
		t.Error("Expected ids to start at 1")
	}
}
