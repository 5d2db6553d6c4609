package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeTransport answers every Send through the bridge, like the page
// executor does through its result event.
type fakeTransport struct {
	mu       sync.Mutex
	bridge   *Bridge
	ready    bool
	loadsOK  bool
	loads    int
	sent     []Command
	reply    func(Command) (Result, bool)
	readyErr error
}

func (f *fakeTransport) Ready(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready, f.readyErr
}

func (f *fakeTransport) Load(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.loadsOK {
		f.ready = true
	}
	return nil
}

func (f *fakeTransport) Send(_ context.Context, cmd Command) error {
	f.mu.Lock()
	f.sent = append(f.sent, cmd)
	reply := f.reply
	f.mu.Unlock()
	if reply == nil {
		return nil
	}
	if res, ok := reply(cmd); ok {
		f.bridge.Deliver(res)
	}
	return nil
}

func newFake(opts ...Option) (*fakeTransport, *Bridge) {
	f := &fakeTransport{ready: true, loadsOK: true}
	f.bridge = New(f, opts...)
	return f, f.bridge
}

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		kind Kind
		name string
		args int
		src  string
	}{
		{"javascript:nextPage(2);", KindCall, "nextPage", 1, "nextPage(2)"},
		{"  JavaScript: goNext ( 'a' ) ", KindScript, "", 0, "goNext ( 'a' )"},
		{"goPage('3')", KindScript, "", 0, "goPage('3')"},
		{"track('x'); goPage(1)", KindScript, "", 0, "track('x'); goPage(1)"},
		{"go(1)(2)", KindScript, "", 0, "go(1)(2)"},
		{`loadPage(3, "x", {"a":1})`, KindCall, "loadPage", 3, `loadPage(3, "x", {"a":1})`},
		{"go()", KindCall, "go", 0, "go()"},
		{"window.location='/p/2'; return false;", KindScript, "", 0, "window.location='/p/2'; return false"},
		{"a.b(1)", KindScript, "", 0, "a.b(1)"},
	}
	for _, c := range cases {
		got := Parse(c.in)
		if got.Kind != c.kind || got.Name != c.name || len(got.Args) != c.args || got.Source != c.src {
			t.Errorf("Parse(%q) = %+v", c.in, got)
		}
	}
}

func TestScriptKeepsSource(t *testing.T) {
	got := Script("  track('x'); goPage(1) ")
	if got.Kind != KindScript || got.Source != "track('x'); goPage(1)" || got.Name != "" {
		t.Fatalf("Script = %+v", got)
	}
}

func TestExecSuccess(t *testing.T) {
	f, b := newFake()
	f.reply = func(Command) (Result, bool) { return Result{Success: true}, true }
	if err := b.Exec(context.Background(), Parse("nextPage(2)")); err != nil {
		t.Fatalf("exec: %v", err)
	}
	if len(f.sent) != 1 || f.sent[0].Name != "nextPage" || string(f.sent[0].Args[0]) != "2" {
		t.Fatalf("sent: %+v", f.sent)
	}
}

func TestExecReportedFailure(t *testing.T) {
	f, b := newFake()
	f.reply = func(Command) (Result, bool) { return Result{Error: "Function not found: nope"}, true }
	err := b.Exec(context.Background(), Parse("nope()"))
	var ee *ExecutionError
	if !errors.As(err, &ee) || ee.Message != "Function not found: nope" {
		t.Fatalf("got %v", err)
	}
}

func TestExecTimeout(t *testing.T) {
	_, b := newFake(WithTimeout(20 * time.Millisecond))
	if err := b.Exec(context.Background(), Parse("slow()")); !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v", err)
	}
}

func TestLateResultIsDropped(t *testing.T) {
	f, b := newFake(WithTimeout(20 * time.Millisecond))
	if err := b.Exec(context.Background(), Parse("slow()")); !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v", err)
	}
	// the answer to the timed-out request arrives late
	b.Deliver(Result{Error: "stale"})

	f.reply = func(Command) (Result, bool) { return Result{Success: true}, true }
	if err := b.Exec(context.Background(), Parse("fast()")); err != nil {
		t.Fatalf("fresh request saw stale result: %v", err)
	}
}

func TestExecLoadsExecutor(t *testing.T) {
	f, b := newFake()
	f.ready = false
	f.reply = func(Command) (Result, bool) { return Result{Success: true}, true }
	if err := b.Exec(context.Background(), Parse("x()")); err != nil {
		t.Fatal(err)
	}
	if f.loads != 1 {
		t.Fatalf("loads: %d", f.loads)
	}
}

func TestExecLoadTimeout(t *testing.T) {
	f, b := newFake(WithLoadTimeout(150 * time.Millisecond))
	f.ready = false
	f.loadsOK = false
	if err := b.Exec(context.Background(), Parse("x()")); !errors.Is(err, ErrLoadTimeout) {
		t.Fatalf("got %v", err)
	}
	if len(f.sent) != 0 {
		t.Fatal("nothing may be sent before the executor is ready")
	}
}

func TestExecContextCanceled(t *testing.T) {
	_, b := newFake()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Exec(ctx, Parse("x()")); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
}

func TestDeliverJSON(t *testing.T) {
	_, b := newFake()
	if err := b.DeliverJSON(`{"success":`); err == nil {
		t.Fatal("expected decode error")
	}
	if err := b.DeliverJSON(`{"success":true}`); err != nil {
		t.Fatal(err)
	}
	select {
	case res := <-b.results:
		if !res.Success {
			t.Fatalf("result: %+v", res)
		}
	default:
		t.Fatal("result not buffered")
	}
}
