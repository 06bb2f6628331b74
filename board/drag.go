package board

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"

	"github.com/weft-ui/weft-go/history"
)

// Drag session states and events.
const (
	StateIdle     = "idle"
	StateDragging = "dragging"
	StateOver     = "over"

	EventPick   = "pick"
	EventHover  = "hover"
	EventDrop   = "drop"
	EventCancel = "cancel"
)

// DragSession tracks one card drag through a state machine. Every exit
// path lands back in idle, and entering idle clears the payload, so no
// drag can leak state into the next one. Dropping emits a MoveCard for the
// history log; the session itself never touches the board.
type DragSession struct {
	machine *fsm.FSM
	seqs    *history.Sequencer

	cardID    string
	fromCol   string
	fromIndex int
	overCol   string
	overIndex int
}

// NewDragSession builds an idle session minting move commands from seqs.
func NewDragSession(seqs *history.Sequencer) *DragSession {
	s := &DragSession{seqs: seqs}
	s.machine = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: EventPick, Src: []string{StateIdle}, Dst: StateDragging},
			{Name: EventHover, Src: []string{StateDragging}, Dst: StateOver},
			{Name: EventDrop, Src: []string{StateOver}, Dst: StateIdle},
			{Name: EventCancel, Src: []string{StateDragging, StateOver}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"enter_idle": func(_ context.Context, _ *fsm.Event) { s.clear() },
		},
	)
	return s
}

// Current returns the machine state: idle, dragging, or over.
func (s *DragSession) Current() string { return s.machine.Current() }

// Dragging reports whether a drag is in progress.
func (s *DragSession) Dragging() bool { return s.machine.Current() != StateIdle }

// Payload returns the dragged card and its pickup position.
func (s *DragSession) Payload() (cardID, fromCol string, fromIndex int) {
	return s.cardID, s.fromCol, s.fromIndex
}

// Target returns the current hover target.
func (s *DragSession) Target() (col string, index int) {
	return s.overCol, s.overIndex
}

// Sequencer exposes the session's id source for sibling commands.
func (s *DragSession) Sequencer() *history.Sequencer { return s.seqs }

// Pick starts dragging a card from a position.
func (s *DragSession) Pick(ctx context.Context, cardID, fromCol string, fromIndex int) error {
	if err := s.machine.Event(ctx, EventPick); err != nil {
		return fmt.Errorf("pick %q: %w", cardID, err)
	}
	s.cardID, s.fromCol, s.fromIndex = cardID, fromCol, fromIndex
	return nil
}

// Hover records the drop target under the drag. Repeated hovers while over
// just retarget; the machine only transitions on the first one, since
// over-to-over would be a self-transition the fsm refuses.
func (s *DragSession) Hover(ctx context.Context, col string, index int) error {
	switch s.machine.Current() {
	case StateOver:
	case StateDragging:
		if err := s.machine.Event(ctx, EventHover); err != nil {
			return fmt.Errorf("hover %q: %w", col, err)
		}
	default:
		return fmt.Errorf("hover without an active drag")
	}
	s.overCol, s.overIndex = col, index
	return nil
}

// Drop finishes the drag over the recorded target and returns the move
// command, or nil when the drop lands back on the pickup position. The
// session is idle afterwards either way.
func (s *DragSession) Drop(ctx context.Context) (*MoveCard, error) {
	if s.machine.Current() != StateOver {
		err := fmt.Errorf("drop without a target from state %q", s.machine.Current())
		if cerr := s.Cancel(ctx); cerr != nil {
			return nil, fmt.Errorf("%v (cancel: %w)", err, cerr)
		}
		return nil, err
	}

	// Capture before the transition: entering idle clears the payload.
	cardID, fromCol, fromIndex := s.cardID, s.fromCol, s.fromIndex
	toCol, toIndex := s.overCol, s.overIndex

	if err := s.machine.Event(ctx, EventDrop); err != nil {
		return nil, fmt.Errorf("drop %q: %w", cardID, err)
	}
	if fromCol == toCol && fromIndex == toIndex {
		return nil, nil
	}
	return NewMoveCard(s.seqs, cardID, fromCol, fromIndex, toCol, toIndex), nil
}

// Cancel aborts the drag from any state. Cancelling an idle session is a
// no-op, not an error.
func (s *DragSession) Cancel(ctx context.Context) error {
	if s.machine.Current() == StateIdle {
		return nil
	}
	if err := s.machine.Event(ctx, EventCancel); err != nil {
		return fmt.Errorf("cancel drag: %w", err)
	}
	return nil
}

func (s *DragSession) clear() {
	s.cardID, s.fromCol, s.fromIndex = "", "", 0
	s.overCol, s.overIndex = "", 0
}
