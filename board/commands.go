package board

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/tiendc/go-deepcopy"

	"github.com/weft-ui/weft-go/history"
)

var (
	_ history.Command[*Board] = (*MoveCard)(nil)
	_ history.Command[*Board] = (*CreateCard)(nil)
	_ history.Command[*Board] = (*EditCard)(nil)
	_ history.Command[*Board] = (*DeleteCard)(nil)
)

// MoveCard relocates a card. Both endpoints are recorded, so Revert
// restores the exact source position without reading the board. Within one
// column, ToIndex is the position after removal.
type MoveCard struct {
	seq       uint64
	CardID    string
	FromCol   string
	FromIndex int
	ToCol     string
	ToIndex   int
}

// NewMoveCard builds a move command with the next sequence id.
func NewMoveCard(seqs *history.Sequencer, cardID, fromCol string, fromIndex int, toCol string, toIndex int) *MoveCard {
	return &MoveCard{
		seq:       seqs.Next(),
		CardID:    cardID,
		FromCol:   fromCol,
		FromIndex: fromIndex,
		ToCol:     toCol,
		ToIndex:   toIndex,
	}
}

func (c *MoveCard) Seq() uint64  { return c.seq }
func (c *MoveCard) Kind() string { return "move-card" }

func (c *MoveCard) Apply(b *Board) error {
	return b.moveCard(c.CardID, c.FromCol, c.FromIndex, c.ToCol, c.ToIndex)
}

func (c *MoveCard) Revert(b *Board) error {
	return b.moveCard(c.CardID, c.ToCol, c.ToIndex, c.FromCol, c.FromIndex)
}

// CreateCard adds a card. The id is minted once at construction, so a redo
// after undo recreates the same card, not a twin with a new id.
type CreateCard struct {
	seq   uint64
	Col   string
	Index int
	Card  *Card
}

// NewCreateCard builds a creation command appending at index with a fresh
// uuid.
func NewCreateCard(seqs *history.Sequencer, col string, index int, title, notes string) *CreateCard {
	return &CreateCard{
		seq:   seqs.Next(),
		Col:   col,
		Index: index,
		Card:  &Card{ID: uuid.NewString(), Title: title, Notes: notes},
	}
}

func (c *CreateCard) Seq() uint64  { return c.seq }
func (c *CreateCard) Kind() string { return "create-card" }

// Apply inserts a copy; the command keeps its own pristine card so later
// edits on the board never corrupt the reversal data.
func (c *CreateCard) Apply(b *Board) error {
	var card Card
	if err := deepcopy.Copy(&card, c.Card); err != nil {
		return fmt.Errorf("copy card: %w", err)
	}
	return b.insertCard(c.Col, c.Index, &card)
}

func (c *CreateCard) Revert(b *Board) error {
	_, err := b.removeCard(c.Col, c.Index, c.Card.ID)
	return err
}

// EditCard replaces a card's content. Before and after are full copies;
// Revert writes Before back without consulting the document.
type EditCard struct {
	seq    uint64
	CardID string
	Before *Card
	After  *Card
}

// NewEditCard builds an edit command from the card's current content.
func NewEditCard(seqs *history.Sequencer, current *Card, title, notes string) (*EditCard, error) {
	var before Card
	if err := deepcopy.Copy(&before, current); err != nil {
		return nil, fmt.Errorf("copy card: %w", err)
	}
	return &EditCard{
		seq:    seqs.Next(),
		CardID: current.ID,
		Before: &before,
		After:  &Card{ID: current.ID, Title: title, Notes: notes},
	}, nil
}

func (c *EditCard) Seq() uint64  { return c.seq }
func (c *EditCard) Kind() string { return "edit-card" }

func (c *EditCard) Apply(b *Board) error  { return c.write(b, c.After) }
func (c *EditCard) Revert(b *Board) error { return c.write(b, c.Before) }

func (c *EditCard) write(b *Board, content *Card) error {
	col, i, ok := b.FindCard(c.CardID)
	if !ok {
		return fmt.Errorf("card %q is not on the board", c.CardID)
	}
	col.Cards[i].Title = content.Title
	col.Cards[i].Notes = content.Notes
	return nil
}

// DeleteCard removes a card, keeping a full copy and the exact position so
// Revert reinserts it where it was.
type DeleteCard struct {
	seq   uint64
	Col   string
	Index int
	Card  *Card
}

// NewDeleteCard captures the card's position and content at construction.
func NewDeleteCard(seqs *history.Sequencer, b *Board, cardID string) (*DeleteCard, error) {
	col, i, ok := b.FindCard(cardID)
	if !ok {
		return nil, fmt.Errorf("card %q is not on the board", cardID)
	}
	var kept Card
	if err := deepcopy.Copy(&kept, col.Cards[i]); err != nil {
		return nil, fmt.Errorf("copy card: %w", err)
	}
	return &DeleteCard{seq: seqs.Next(), Col: col.ID, Index: i, Card: &kept}, nil
}

func (c *DeleteCard) Seq() uint64  { return c.seq }
func (c *DeleteCard) Kind() string { return "delete-card" }

func (c *DeleteCard) Apply(b *Board) error {
	_, err := b.removeCard(c.Col, c.Index, c.Card.ID)
	return err
}

func (c *DeleteCard) Revert(b *Board) error {
	var card Card
	if err := deepcopy.Copy(&card, c.Card); err != nil {
		return fmt.Errorf("copy card: %w", err)
	}
	return b.insertCard(c.Col, c.Index, &card)
}
