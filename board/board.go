// Package board implements a kanban document driven by reversible commands.
//
// The typed Board is the source of truth. Directives never see it directly:
// Bind projects it into a plain state tree after every command, and the
// history log owns all mutation, so undo and redo restore exact prior
// states.
package board

import (
	"fmt"

	"github.com/tiendc/go-deepcopy"
	"gopkg.in/yaml.v3"
)

// Card is one kanban card.
type Card struct {
	ID    string `yaml:"id" json:"id"`
	Title string `yaml:"title" json:"title"`
	Notes string `yaml:"notes,omitempty" json:"notes,omitempty"`
}

// Column holds an ordered run of cards. WIPLimit zero means unlimited.
type Column struct {
	ID       string  `yaml:"id" json:"id"`
	Title    string  `yaml:"title" json:"title"`
	WIPLimit int     `yaml:"wip_limit,omitempty" json:"wipLimit,omitempty"`
	Cards    []*Card `yaml:"cards" json:"cards"`
}

// Board is the document under command. Columns are fixed at load; commands
// move, create, edit, and delete cards only.
type Board struct {
	Columns []*Column `yaml:"columns" json:"columns"`
}

// Load parses a YAML board definition.
func Load(data []byte) (*Board, error) {
	var b Board
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse board: %w", err)
	}
	return &b, nil
}

// Clone deep-copies the board.
func (b *Board) Clone() (*Board, error) {
	var out Board
	if err := deepcopy.Copy(&out, b); err != nil {
		return nil, fmt.Errorf("clone board: %w", err)
	}
	return &out, nil
}

// Column returns the column with the given id.
func (b *Board) Column(id string) (*Column, error) {
	for _, col := range b.Columns {
		if col.ID == id {
			return col, nil
		}
	}
	return nil, fmt.Errorf("unknown column %q", id)
}

// FindCard locates a card anywhere on the board.
func (b *Board) FindCard(cardID string) (col *Column, index int, ok bool) {
	for _, c := range b.Columns {
		for i, card := range c.Cards {
			if card.ID == cardID {
				return c, i, true
			}
		}
	}
	return nil, 0, false
}

// cardAt validates that the card with the given id sits at col[index].
func (b *Board) cardAt(colID string, index int, cardID string) (*Column, error) {
	col, err := b.Column(colID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(col.Cards) {
		return nil, fmt.Errorf("column %q has no card at %d", colID, index)
	}
	if got := col.Cards[index].ID; got != cardID {
		return nil, fmt.Errorf("column %q index %d holds %q, want %q", colID, index, got, cardID)
	}
	return col, nil
}

// insertCard places a card at col[index]. The column's WIP limit applies.
func (b *Board) insertCard(colID string, index int, card *Card) error {
	col, err := b.Column(colID)
	if err != nil {
		return err
	}
	if index < 0 || index > len(col.Cards) {
		return fmt.Errorf("column %q insert index %d out of range [0, %d]", colID, index, len(col.Cards))
	}
	if col.WIPLimit > 0 && len(col.Cards) >= col.WIPLimit {
		return fmt.Errorf("column %q is at its WIP limit of %d", colID, col.WIPLimit)
	}
	col.Cards = append(col.Cards, nil)
	copy(col.Cards[index+1:], col.Cards[index:])
	col.Cards[index] = card
	return nil
}

// removeCard takes the card with the given id out of col[index].
func (b *Board) removeCard(colID string, index int, cardID string) (*Card, error) {
	col, err := b.cardAt(colID, index, cardID)
	if err != nil {
		return nil, err
	}
	card := col.Cards[index]
	col.Cards = append(col.Cards[:index], col.Cards[index+1:]...)
	return card, nil
}

// moveCard relocates a card between positions. Within one column the target
// index is the position after removal.
func (b *Board) moveCard(cardID, fromCol string, fromIndex int, toCol string, toIndex int) error {
	card, err := b.removeCard(fromCol, fromIndex, cardID)
	if err != nil {
		return err
	}
	if err := b.insertCard(toCol, toIndex, card); err != nil {
		// Put it back; a refused move must not lose the card.
		if undo := b.insertCard(fromCol, fromIndex, card); undo != nil {
			return fmt.Errorf("move %q failed and could not restore: %v (after %w)", cardID, undo, err)
		}
		return err
	}
	return nil
}
