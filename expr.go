package weft

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// exprRoot identifies what the first path segment resolves against.
type exprRoot uint8

const (
	rootState exprRoot = iota
	rootContext
	rootGetter
)

// expr is a parsed directive expression. The grammar is deliberately small:
// an optional "!" negation, an optional "ns::" qualifier, then a dotted path
// rooted at "state", "context", or a getter name. No literals, no operators,
// no calls.
type expr struct {
	raw    string
	neg    bool
	ns     string
	root   exprRoot
	getter string
	path   []string
}

func parseExpr(raw string) (*expr, error) {
	src := strings.TrimSpace(raw)
	e := &expr{raw: src}

	if src == "" {
		return nil, &ExprError{Source: raw, Reason: "empty expression"}
	}

	if strings.HasPrefix(src, "!") {
		e.neg = true
		src = strings.TrimSpace(src[1:])
		if strings.HasPrefix(src, "!") {
			return nil, &ExprError{Source: raw, Reason: "double negation"}
		}
	}

	if i := strings.Index(src, "::"); i >= 0 {
		ns := src[:i]
		if !isIdent(ns) {
			return nil, &ExprError{Source: raw, Reason: "invalid namespace qualifier"}
		}
		e.ns = ns
		src = src[i+2:]
		if strings.Contains(src, "::") {
			return nil, &ExprError{Source: raw, Reason: "multiple namespace qualifiers"}
		}
	}

	if src == "" {
		return nil, &ExprError{Source: raw, Reason: "missing path"}
	}

	segs := strings.Split(src, ".")
	if !isIdent(segs[0]) {
		return nil, &ExprError{Source: raw, Reason: "root must be an identifier"}
	}
	for _, seg := range segs[1:] {
		if !isIdent(seg) && !isIndex(seg) {
			return nil, &ExprError{Source: raw, Reason: "invalid path segment " + strconv.Quote(seg)}
		}
	}

	switch segs[0] {
	case "state":
		e.root = rootState
		e.path = segs[1:]
	case "context":
		if len(segs) < 2 {
			return nil, &ExprError{Source: raw, Reason: "context requires a key"}
		}
		if e.ns != "" {
			return nil, &ExprError{Source: raw, Reason: "context cannot be namespace-qualified"}
		}
		e.root = rootContext
		e.path = segs[1:]
	default:
		e.root = rootGetter
		e.getter = segs[0]
		e.path = segs[1:]
	}

	return e, nil
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r == '-' && i > 0:
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// deepGet walks a value tree by path segments. Missing keys, out-of-range
// indices, and untraversable values all read as nil.
func deepGet(v any, segs []string) any {
	for _, seg := range segs {
		if v == nil {
			return nil
		}
		switch cur := v.(type) {
		case map[string]any:
			v = cur[seg]
			continue
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(cur) {
				return nil
			}
			v = cur[i]
			continue
		}

		rv := reflect.ValueOf(v)
		for rv.Kind() == reflect.Pointer {
			if rv.IsNil() {
				return nil
			}
			rv = rv.Elem()
		}
		switch rv.Kind() {
		case reflect.Map:
			if rv.Type().Key().Kind() != reflect.String {
				return nil
			}
			got := rv.MapIndex(reflect.ValueOf(seg))
			if !got.IsValid() {
				return nil
			}
			v = got.Interface()
		case reflect.Slice, reflect.Array:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= rv.Len() {
				return nil
			}
			v = rv.Index(i).Interface()
		case reflect.Struct:
			f := rv.FieldByName(seg)
			if !f.IsValid() || !f.CanInterface() {
				return nil
			}
			v = f.Interface()
		default:
			return nil
		}
	}
	return v
}

// truthy reports the truthiness directives use: nil, false, empty strings,
// zero numbers, and empty collections are false.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	case float32:
		return val != 0
	case uint:
		return val != 0
	case uint64:
		return val != 0
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

// stringify renders a value the way data-text and data-bind-- write it.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	}
	return toString(v)
}

func toString(v any) string {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Int8, reflect.Int16, reflect.Int32:
		return strconv.FormatInt(rv.Int(), 10)
	}
	return fmt.Sprint(v)
}
