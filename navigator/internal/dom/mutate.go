package dom

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/html"

	"github.com/hazyhaar/pagenav/navigator/mutation"
)

type subscription struct {
	id   int
	opts mutation.Options
	fn   func(mutation.Batch)
}

// Observe delivers a batch for every mutating call on d that touches the
// body (or its subtree when opts.Subtree is set). Delivery is synchronous,
// after the mutation is applied. The returned func cancels the
// subscription.
func (d *Document) Observe(opts mutation.Options, fn func(mutation.Batch)) (stop func()) {
	d.nextSub++
	sub := &subscription{id: d.nextSub, opts: opts, fn: fn}
	d.subs = append(d.subs, sub)
	return func() {
		d.subs = slices.DeleteFunc(d.subs, func(s *subscription) bool { return s.id == sub.id })
	}
}

// Remove detaches el from the document.
func (d *Document) Remove(el *Element) error {
	if !d.Contains(el) {
		return ErrDetached
	}
	parent := el.node.Parent
	removed := render(el.node)
	parent.RemoveChild(el.node)
	d.emit(parent, mutation.Record{
		Op:      mutation.OpChildList,
		XPath:   xpath(parent),
		Removed: []string{removed},
	})
	return nil
}

// AppendHTML parses fragment in the context of parent and appends the
// resulting nodes. It returns the appended elements.
func (d *Document) AppendHTML(parent *Element, fragment string) ([]*Element, error) {
	if !d.Contains(parent) {
		return nil, ErrDetached
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), parent.node)
	if err != nil {
		return nil, fmt.Errorf("dom: parse fragment: %w", err)
	}
	var (
		added []*Element
		htmls []string
	)
	for _, n := range nodes {
		parent.node.AppendChild(n)
		if n.Type == html.ElementNode {
			added = append(added, d.element(n))
			htmls = append(htmls, render(n))
		}
	}
	if len(htmls) > 0 {
		d.emit(parent.node, mutation.Record{
			Op:    mutation.OpChildList,
			XPath: xpath(parent.node),
			Added: htmls,
		})
	}
	return added, nil
}

// SetAttr sets an attribute on el.
func (d *Document) SetAttr(el *Element, name, value string) error {
	if !d.Contains(el) {
		return ErrDetached
	}
	set := false
	for i := range el.node.Attr {
		if el.node.Attr[i].Namespace == "" && el.node.Attr[i].Key == name {
			el.node.Attr[i].Val = value
			set = true
			break
		}
	}
	if !set {
		el.node.Attr = append(el.node.Attr, html.Attribute{Key: name, Val: value})
	}
	d.emitAttr(el, name)
	return nil
}

// RemoveAttr removes an attribute from el. Removing an absent attribute
// is not a mutation.
func (d *Document) RemoveAttr(el *Element, name string) error {
	if !d.Contains(el) {
		return ErrDetached
	}
	before := len(el.node.Attr)
	el.node.Attr = slices.DeleteFunc(el.node.Attr, func(a html.Attribute) bool {
		return a.Namespace == "" && a.Key == name
	})
	if len(el.node.Attr) != before {
		d.emitAttr(el, name)
	}
	return nil
}

// SetClass adds or removes class c on el.
func (d *Document) SetClass(el *Element, c string, on bool) error {
	classes := el.Classes()
	has := slices.Contains(classes, c)
	switch {
	case on && !has:
		classes = append(classes, c)
	case !on && has:
		classes = slices.DeleteFunc(classes, func(s string) bool { return s == c })
	default:
		return nil
	}
	return d.SetAttr(el, "class", strings.Join(classes, " "))
}

func (d *Document) emitAttr(el *Element, name string) {
	d.emit(el.node, mutation.Record{
		Op:     mutation.OpAttributes,
		XPath:  xpath(el.node),
		Name:   name,
		Target: shallow(el.node),
	})
}

func (d *Document) emit(target *html.Node, rec mutation.Record) {
	if len(d.subs) == 0 {
		return
	}
	body := d.Body()
	for _, s := range slices.Clone(d.subs) {
		if !d.observes(s.opts, body, target, rec) {
			continue
		}
		d.seq++
		s.fn(mutation.Batch{
			ID:        uuid.Must(uuid.NewV7()).String(),
			PageID:    d.pageID,
			Seq:       d.seq,
			Records:   []mutation.Record{rec},
			Timestamp: time.Now().UnixMilli(),
		})
	}
}

func (d *Document) observes(opts mutation.Options, body *Element, target *html.Node, rec mutation.Record) bool {
	switch rec.Op {
	case mutation.OpChildList:
		if !opts.ChildList {
			return false
		}
	case mutation.OpAttributes:
		if !opts.WantsAttribute(rec.Name) {
			return false
		}
	}
	if body == nil {
		return false
	}
	if target == body.node {
		return true
	}
	if !opts.Subtree {
		return false
	}
	for n := target.Parent; n != nil; n = n.Parent {
		if n == body.node {
			return true
		}
	}
	return false
}
