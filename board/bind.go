package board

import (
	"context"
	"fmt"

	weft "github.com/weft-ui/weft-go"

	"github.com/weft-ui/weft-go/history"
)

// Bind builds the "board" namespace: a plain-tree projection of the typed
// document plus the actions directives name. The typed board stays the
// source of truth; every action re-projects after its command lands, so
// bindings observe one coherent tree per turn.
func Bind(log *history.Log[*Board], sess *DragSession) weft.NamespaceSpec {
	seqs := sess.Sequencer()

	reproject := func(ctx *weft.Ctx) error {
		if err := ctx.Set("state.columns", ProjectColumns(log.Doc())); err != nil {
			return err
		}
		if err := ctx.Set("state.history", ProjectHistory(log)); err != nil {
			return err
		}
		return ctx.Set("state.drag", ProjectDrag(sess))
	}

	return weft.NamespaceSpec{
		Name: "board",
		State: map[string]any{
			"columns": ProjectColumns(log.Doc()),
			"history": ProjectHistory(log),
			"drag":    ProjectDrag(sess),
		},
		Getters: map[string]weft.GetterFunc{
			"cardCount": func(v *weft.View) any {
				n := 0
				cols, _ := v.Get("columns").([]any)
				for _, c := range cols {
					col, _ := c.(map[string]any)
					cards, _ := col["cards"].([]any)
					n += len(cards)
				}
				return n
			},
			"dragging": func(v *weft.View) any {
				drag, _ := v.Get("drag").(map[string]any)
				return drag["state"] != StateIdle
			},
		},
		Actions: map[string]weft.HandlerFunc{
			"pick": func(ctx *weft.Ctx) error {
				err := sess.Pick(context.Background(),
					ctx.DetailString("card"), ctx.DetailString("col"), ctx.DetailInt("index"))
				if err != nil {
					return err
				}
				return reproject(ctx)
			},
			"hover": func(ctx *weft.Ctx) error {
				err := sess.Hover(context.Background(),
					ctx.DetailString("col"), ctx.DetailInt("index"))
				if err != nil {
					return err
				}
				return reproject(ctx)
			},
			"drop": func(ctx *weft.Ctx) error {
				cmd, err := sess.Drop(context.Background())
				if err != nil {
					if perr := reproject(ctx); perr != nil {
						return perr
					}
					return err
				}
				if cmd != nil {
					if err := log.Push(cmd); err != nil {
						ctx.Logger().Warn("move refused", "card", cmd.CardID, "err", err)
					}
				}
				return reproject(ctx)
			},
			"cancel": func(ctx *weft.Ctx) error {
				if err := sess.Cancel(context.Background()); err != nil {
					return err
				}
				return reproject(ctx)
			},
			"create": func(ctx *weft.Ctx) error {
				colID := ctx.DetailString("col")
				col, err := log.Doc().Column(colID)
				if err != nil {
					return err
				}
				cmd := NewCreateCard(seqs, colID, len(col.Cards),
					ctx.DetailString("title"), ctx.DetailString("notes"))
				if err := log.Push(cmd); err != nil {
					return err
				}
				return reproject(ctx)
			},
			"edit": func(ctx *weft.Ctx) error {
				cardID := ctx.DetailString("card")
				col, i, ok := log.Doc().FindCard(cardID)
				if !ok {
					return fmt.Errorf("card %q is not on the board", cardID)
				}
				cmd, err := NewEditCard(seqs, col.Cards[i],
					ctx.DetailString("title"), ctx.DetailString("notes"))
				if err != nil {
					return err
				}
				if err := log.Push(cmd); err != nil {
					return err
				}
				return reproject(ctx)
			},
			"remove": func(ctx *weft.Ctx) error {
				cmd, err := NewDeleteCard(seqs, log.Doc(), ctx.DetailString("card"))
				if err != nil {
					return err
				}
				if err := log.Push(cmd); err != nil {
					return err
				}
				return reproject(ctx)
			},
			"undo": func(ctx *weft.Ctx) error {
				if _, err := log.Undo(); err != nil {
					return err
				}
				return reproject(ctx)
			},
			"redo": func(ctx *weft.Ctx) error {
				if _, err := log.Redo(); err != nil {
					return err
				}
				return reproject(ctx)
			},
			"jump": func(ctx *weft.Ctx) error {
				jerr := log.JumpTo(ctx.DetailInt("index"))
				if err := reproject(ctx); err != nil {
					return err
				}
				return jerr
			},
		},
	}
}

// ProjectColumns renders the typed columns as a plain tree for bindings.
func ProjectColumns(b *Board) []any {
	cols := make([]any, len(b.Columns))
	for i, col := range b.Columns {
		cards := make([]any, len(col.Cards))
		for j, card := range col.Cards {
			cards[j] = map[string]any{
				"id":    card.ID,
				"title": card.Title,
				"notes": card.Notes,
			}
		}
		cols[i] = map[string]any{
			"id":    col.ID,
			"title": col.Title,
			"wip":   col.WIPLimit,
			"count": len(col.Cards),
			"cards": cards,
		}
	}
	return cols
}

// ProjectHistory renders the log's position and entries.
func ProjectHistory(log *history.Log[*Board]) map[string]any {
	entries := make([]any, 0, log.Len())
	for _, cmd := range log.Entries() {
		entries = append(entries, map[string]any{
			"kind": cmd.Kind(),
			"seq":  cmd.Seq(),
		})
	}
	return map[string]any{
		"canUndo": log.CanUndo(),
		"canRedo": log.CanRedo(),
		"index":   log.Index(),
		"length":  log.Len(),
		"entries": entries,
	}
}

// ProjectDrag renders the session for bindings.
func ProjectDrag(sess *DragSession) map[string]any {
	card, fromCol, fromIndex := sess.Payload()
	overCol, overIndex := sess.Target()
	return map[string]any{
		"state":     sess.Current(),
		"card":      card,
		"fromCol":   fromCol,
		"fromIndex": fromIndex,
		"overCol":   overCol,
		"overIndex": overIndex,
	}
}
