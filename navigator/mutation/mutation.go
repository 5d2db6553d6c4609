// Package mutation defines the DOM change records delivered to the
// navigator's watcher. Live tabs produce them from an injected
// MutationObserver, in-memory documents from their mutating calls; the
// watcher only sees this package's types.
package mutation

import "encoding/json"

// Op is the kind of DOM mutation observed.
type Op string

const (
	OpChildList  Op = "childList"  // nodes added to or removed from Target
	OpAttributes Op = "attributes" // attribute Name changed on Target
)

// Record is a single DOM mutation. Element fragments are carried as HTML
// so consumers can inspect them without access to the page.
type Record struct {
	Op      Op       `json:"op"`
	XPath   string   `json:"xpath,omitempty"`
	Name    string   `json:"name,omitempty"`    // attribute name for OpAttributes
	Target  string   `json:"target,omitempty"`  // target element without children, as it is after the change
	Added   []string `json:"added,omitempty"`   // outer HTML of added elements
	Removed []string `json:"removed,omitempty"` // outer HTML of removed elements
}

// Batch is every record delivered by one observer callback.
type Batch struct {
	ID        string   `json:"id"`      // UUIDv7
	PageID    string   `json:"page_id"` // stable identifier of the observed page
	Seq       uint64   `json:"seq"`     // monotonically increasing per page
	Records   []Record `json:"records"`
	Timestamp int64    `json:"timestamp"` // epoch milliseconds
}

// Options mirrors MutationObserverInit. The JSON form is passed verbatim
// to the page.
type Options struct {
	ChildList       bool     `json:"childList"`
	Subtree         bool     `json:"subtree"`
	Attributes      bool     `json:"attributes"`
	AttributeFilter []string `json:"attributeFilter,omitempty"`
}

// WantsAttribute reports whether a change to the named attribute is
// observed under o.
func (o Options) WantsAttribute(name string) bool {
	if !o.Attributes {
		return false
	}
	if len(o.AttributeFilter) == 0 {
		return true
	}
	for _, f := range o.AttributeFilter {
		if f == name {
			return true
		}
	}
	return false
}

// UnmarshalRecords decodes the record array sent by the page observer.
func UnmarshalRecords(data []byte) ([]Record, error) {
	var recs []Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}
