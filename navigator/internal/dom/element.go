package dom

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Element is an element of a Document. Elements of one document compare
// equal by pointer.
type Element struct {
	doc  *Document
	node *html.Node
}

// Document returns the document el was found in.
func (e *Element) Document() *Document { return e.doc }

// Tag returns the lowercase tag name.
func (e *Element) Tag() string { return e.node.Data }

// Attr returns the named attribute.
func (e *Element) Attr(name string) (string, bool) { return lookupAttr(e.node, name) }

// AttrOr returns the named attribute or def when it is absent.
func (e *Element) AttrOr(name, def string) string {
	if v, ok := lookupAttr(e.node, name); ok {
		return v
	}
	return def
}

// ID returns the id attribute.
func (e *Element) ID() string { return attr(e.node, "id") }

// ClassName returns the raw class attribute.
func (e *Element) ClassName() string { return attr(e.node, "class") }

// Classes returns the class list.
func (e *Element) Classes() []string { return strings.Fields(e.ClassName()) }

// HasClass reports whether the class list contains c.
func (e *Element) HasClass(c string) bool {
	for _, have := range e.Classes() {
		if have == c {
			return true
		}
	}
	return false
}

// Text returns the trimmed text content.
func (e *Element) Text() string {
	return strings.TrimSpace(goquery.NewDocumentFromNode(e.node).Text())
}

// Ref returns the live element ref recorded in a snapshot, 0 for static
// documents.
func (e *Element) Ref() int64 {
	v, ok := lookupAttr(e.node, RefAttr)
	if !ok {
		return 0
	}
	ref, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return ref
}

// Disabled reports the disabled attribute.
func (e *Element) Disabled() bool {
	_, ok := lookupAttr(e.node, "disabled")
	return ok
}

// Visible reports whether the element is rendered. Snapshots carry the
// tab's own verdict; static documents approximate it from markup.
func (e *Element) Visible() bool {
	if !e.doc.Contains(e) {
		return false
	}
	if e.doc.snapshot {
		_, hidden := lookupAttr(e.node, HiddenAttr)
		return !hidden
	}
	if e.node.DataAtom == atom.Input && strings.EqualFold(attr(e.node, "type"), "hidden") {
		return false
	}
	for n := e.node; n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		switch n.DataAtom {
		case atom.Head, atom.Script, atom.Style, atom.Template, atom.Noscript:
			return false
		}
		if _, ok := lookupAttr(n, "hidden"); ok {
			return false
		}
		if displayNone(attr(n, "style")) {
			return false
		}
	}
	return true
}

// Eligible reports a visible element without the disabled attribute.
func (e *Element) Eligible() bool { return e.Visible() && !e.Disabled() }

// Parent returns the parent element, or nil at the root.
func (e *Element) Parent() *Element {
	for n := e.node.Parent; n != nil; n = n.Parent {
		if n.Type == html.ElementNode {
			return e.doc.element(n)
		}
	}
	return nil
}

// OuterHTML renders the element and its subtree.
func (e *Element) OuterHTML() string { return render(e.node) }

// ShallowHTML renders the element without its children.
func (e *Element) ShallowHTML() string { return shallow(e.node) }

// XPath returns a positional path from the document root.
func (e *Element) XPath() string { return xpath(e.node) }

func (e *Element) String() string {
	var b strings.Builder
	b.WriteString(e.node.Data)
	if id := e.ID(); id != "" {
		b.WriteString("#" + id)
	}
	for _, c := range e.Classes() {
		b.WriteString("." + c)
	}
	return b.String()
}

func displayNone(style string) bool {
	if style == "" {
		return false
	}
	s := strings.ToLower(strings.Join(strings.Fields(style), ""))
	for _, decl := range strings.Split(s, ";") {
		if strings.HasPrefix(decl, "display:none") {
			return true
		}
	}
	return false
}

func render(n *html.Node) string {
	var b strings.Builder
	if err := html.Render(&b, n); err != nil {
		return ""
	}
	return b.String()
}

func shallow(n *html.Node) string {
	clone := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	return render(clone)
}

func xpath(n *html.Node) string {
	var parts []string
	for ; n != nil && n.Type == html.ElementNode; n = n.Parent {
		idx, total := 0, 0
		if n.Parent != nil {
			for s := n.Parent.FirstChild; s != nil; s = s.NextSibling {
				if s.Type != html.ElementNode || s.Data != n.Data {
					continue
				}
				total++
				if s == n {
					idx = total
				}
			}
		}
		if total > 1 {
			parts = append(parts, fmt.Sprintf("%s[%d]", n.Data, idx))
		} else {
			parts = append(parts, n.Data)
		}
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/")
}
