package navigator

import (
	"context"
	"strings"
)

// KeyEvent is a keydown relayed from the page.
type KeyEvent struct {
	Key      string `json:"key"`
	Tag      string `json:"tag"`      // tag name of the event target
	Editable bool   `json:"editable"` // target is content-editable
}

// IntentForKey maps ArrowLeft to Previous and ArrowRight to Next.
func IntentForKey(key string) (Intent, bool) {
	switch key {
	case "ArrowRight":
		return Next, true
	case "ArrowLeft":
		return Previous, true
	}
	return 0, false
}

// TypingTarget reports whether keystrokes on the target belong to a form
// field or an editable region.
func (ev KeyEvent) TypingTarget() bool {
	if ev.Editable {
		return true
	}
	switch strings.ToLower(ev.Tag) {
	case "input", "textarea", "select":
		return true
	}
	return false
}

// HandleKey resolves the intent bound to ev. handled is false when the key
// is not bound, the target is a typing target or the engine is disabled;
// the page should then let the event through. Resolution is never
// debounced.
func (e *Engine) HandleKey(ctx context.Context, ev KeyEvent) (out Outcome, handled bool, err error) {
	in, ok := IntentForKey(ev.Key)
	if !ok || ev.TypingTarget() {
		return Outcome{}, false, nil
	}
	if !e.Settings().Enabled {
		return Outcome{Intent: in, Action: ActionNone}, false, nil
	}
	e.logger.Debug("navigator: key", "key", ev.Key, "intent", in)
	out, err = e.Resolve(ctx, in)
	return out, true, err
}
