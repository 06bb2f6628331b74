package weft

import (
	"fmt"
	"strings"
)

// directiveKind enumerates the versioned vocabulary. Anything else under
// data- is plain author data and ignored.
type directiveKind uint8

const (
	dirUnknown directiveKind = iota
	dirScope
	dirContext
	dirText
	dirBind
	dirClass
	dirStyle
	dirOn
	dirOnWindow
	dirOnDocument
	dirWatch
	dirInit
	dirEach
	dirEachKey
)

// directive is one classified attribute. arg carries the "--suffix" when the
// kind takes one: attribute name for bind, class name for class, style
// property for style, event type for the on family, item name for each.
type directive struct {
	kind directiveKind
	attr string
	arg  string
	sync bool
	expr string
}

const directivePrefix = "data-"

// suffixed lists the heads that require a "--name" suffix.
var suffixed = map[string]directiveKind{
	"bind":        dirBind,
	"class":       dirClass,
	"style":       dirStyle,
	"on":          dirOn,
	"on-window":   dirOnWindow,
	"on-document": dirOnDocument,
}

// bare lists the heads that stand alone.
var bare = map[string]directiveKind{
	"scope":    dirScope,
	"context":  dirContext,
	"text":     dirText,
	"watch":    dirWatch,
	"init":     dirInit,
	"each":     dirEach,
	"each-key": dirEachKey,
}

// parseDirective classifies one attribute. ok reports whether the attribute
// belongs to the vocabulary at all; kind dirUnknown with ok true means the
// attribute claims vocabulary shape but names nothing we know, which the
// mounter logs and skips.
func parseDirective(key, val string) (d directive, ok bool, err error) {
	if !strings.HasPrefix(key, directivePrefix) {
		return directive{}, false, nil
	}
	rest := key[len(directivePrefix):]
	head, arg, hasArg := strings.Cut(rest, "--")

	d = directive{attr: key, expr: val}

	if kind, found := suffixed[head]; found {
		if !hasArg || arg == "" {
			return directive{}, true, fmt.Errorf("%w: %s needs a --name suffix", ErrBadExpression, key)
		}
		d.kind = kind
		d.arg = arg
		if kind == dirOn || kind == dirOnWindow || kind == dirOnDocument {
			if name, found := strings.CutSuffix(d.arg, ".sync"); found {
				d.arg = name
				d.sync = true
			}
			if d.arg == "" {
				return directive{}, true, fmt.Errorf("%w: %s has an empty event type", ErrBadExpression, key)
			}
			if i := strings.IndexByte(d.arg, '.'); i >= 0 {
				return directive{}, true, fmt.Errorf("%w: unknown modifier %q on %s", ErrBadExpression, d.arg[i:], key)
			}
		}
		return d, true, nil
	}

	if kind, found := bare[head]; found {
		if hasArg {
			// Only data-each renames its injected item key.
			if kind == dirEach && isIdent(arg) {
				d.kind = dirEach
				d.arg = arg
				return d, true, nil
			}
			return directive{kind: dirUnknown, attr: key}, true, nil
		}
		d.kind = kind
		return d, true, nil
	}

	if hasArg {
		// Shaped like ours, named like nothing we know.
		return directive{kind: dirUnknown, attr: key}, true, nil
	}
	return directive{}, false, nil
}
