package weft

import (
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ParseDocument parses a complete HTML document into the tree the engine
// operates on.
func ParseDocument(r io.Reader) (*html.Node, error) {
	return html.Parse(r)
}

// RenderToString serializes a node and its subtree back to HTML.
func RenderToString(n *html.Node) (string, error) {
	var sb strings.Builder
	if err := html.Render(&sb, n); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Body returns the body element of a parsed document, or nil.
func Body(doc *html.Node) *html.Node {
	return Find(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == atom.Body
	})
}

// Find returns the first node in document order for which match is true.
func Find(root *html.Node, match func(*html.Node) bool) *html.Node {
	if root == nil {
		return nil
	}
	if match(root) {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if found := Find(c, match); found != nil {
			return found
		}
	}
	return nil
}

// FindAll returns every node in document order for which match is true.
func FindAll(root *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if match(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}
	return out
}

// FindByID returns the element with the given id attribute, or nil.
func FindByID(root *html.Node, id string) *html.Node {
	return Find(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return false
		}
		v, ok := getAttr(n, "id")
		return ok && v == id
	})
}

// TextOf returns the concatenated text content of a subtree.
func TextOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if n != nil {
		walk(n)
	}
	return sb.String()
}

// AttrValue returns the value of an attribute, or "" when absent.
func AttrValue(n *html.Node, key string) string {
	v, _ := getAttr(n, key)
	return v
}

// HasAttr reports whether the attribute is present.
func HasAttr(n *html.Node, key string) bool {
	_, ok := getAttr(n, key)
	return ok
}

// HasClass reports whether the element carries the class.
func HasClass(n *html.Node, name string) bool {
	v, ok := getAttr(n, "class")
	if !ok {
		return false
	}
	for _, c := range strings.Fields(v) {
		if c == name {
			return true
		}
	}
	return false
}

// StyleValue returns one property from the inline style attribute, or "".
func StyleValue(n *html.Node, prop string) string {
	decls := parseStyle(AttrValue(n, "style"))
	for _, d := range decls {
		if d.prop == prop {
			return d.val
		}
	}
	return ""
}

func getAttr(n *html.Node, key string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

func setClass(n *html.Node, name string, on bool) {
	classes := strings.Fields(AttrValue(n, "class"))
	has := false
	for _, c := range classes {
		if c == name {
			has = true
			break
		}
	}
	switch {
	case on && !has:
		classes = append(classes, name)
	case !on && has:
		kept := classes[:0]
		for _, c := range classes {
			if c != name {
				kept = append(kept, c)
			}
		}
		classes = kept
	default:
		return
	}
	if len(classes) == 0 {
		removeAttr(n, "class")
		return
	}
	setAttr(n, "class", strings.Join(classes, " "))
}

type styleDecl struct {
	prop string
	val  string
}

func parseStyle(s string) []styleDecl {
	var decls []styleDecl
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		i := strings.Index(part, ":")
		if i < 0 {
			continue
		}
		prop := strings.TrimSpace(part[:i])
		val := strings.TrimSpace(part[i+1:])
		if prop == "" {
			continue
		}
		decls = append(decls, styleDecl{prop: prop, val: val})
	}
	return decls
}

func serializeStyle(decls []styleDecl) string {
	parts := make([]string, 0, len(decls))
	for _, d := range decls {
		parts = append(parts, d.prop+": "+d.val)
	}
	return strings.Join(parts, "; ")
}

func setStyle(n *html.Node, prop, val string) {
	decls := parseStyle(AttrValue(n, "style"))
	found := false
	for i := range decls {
		if decls[i].prop == prop {
			decls[i].val = val
			found = true
			break
		}
	}
	if !found {
		decls = append(decls, styleDecl{prop: prop, val: val})
	}
	setAttr(n, "style", serializeStyle(decls))
}

func removeStyle(n *html.Node, prop string) {
	decls := parseStyle(AttrValue(n, "style"))
	kept := decls[:0]
	for _, d := range decls {
		if d.prop != prop {
			kept = append(kept, d)
		}
	}
	if len(kept) == 0 {
		removeAttr(n, "style")
		return
	}
	setAttr(n, "style", serializeStyle(kept))
}

func setText(n *html.Node, s string) {
	for n.FirstChild != nil {
		n.RemoveChild(n.FirstChild)
	}
	if s == "" {
		return
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: s})
}

// cloneNode deep-copies a subtree. x/net/html has no clone of its own.
func cloneNode(n *html.Node) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
	}
	if len(n.Attr) > 0 {
		c.Attr = make([]html.Attribute, len(n.Attr))
		copy(c.Attr, n.Attr)
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.AppendChild(cloneNode(child))
	}
	return c
}

func newComment(data string) *html.Node {
	return &html.Node{Type: html.CommentNode, Data: data}
}

func detach(n *html.Node) {
	if n != nil && n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

func insertAfter(n, ref *html.Node) {
	ref.Parent.InsertBefore(n, ref.NextSibling)
}

func isAncestorOf(anc, n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur == anc {
			return true
		}
	}
	return false
}

// nodePath renders a stable-ish position label for logs: tag names with
// element-sibling indices, e.g. html[0]/body[1]/div[0]/li[2].
func nodePath(n *html.Node) string {
	if n == nil {
		return "<nil>"
	}
	var segs []string
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		idx := 0
		for sib := cur.PrevSibling; sib != nil; sib = sib.PrevSibling {
			if sib.Type == html.ElementNode {
				idx++
			}
		}
		segs = append(segs, cur.Data+"["+strconv.Itoa(idx)+"]")
	}
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	if len(segs) == 0 {
		return n.Data
	}
	return strings.Join(segs, "/")
}
