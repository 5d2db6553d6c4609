// Package intent names the two navigation directions.
package intent

import "fmt"

// Intent is a navigation direction.
type Intent int

const (
	Next Intent = iota
	Previous
)

// All lists the intents in slot order.
var All = [...]Intent{Next, Previous}

func (i Intent) String() string {
	switch i {
	case Next:
		return "next"
	case Previous:
		return "previous"
	default:
		return fmt.Sprintf("intent(%d)", int(i))
	}
}

// Opposite returns the other direction.
func (i Intent) Opposite() Intent {
	if i == Next {
		return Previous
	}
	return Next
}

// Parse accepts "next", "previous" and the short form "prev".
func Parse(s string) (Intent, error) {
	switch s {
	case "next":
		return Next, nil
	case "previous", "prev":
		return Previous, nil
	}
	return 0, fmt.Errorf("intent: unknown intent %q", s)
}

func (i Intent) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

func (i *Intent) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}
