package navigator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var testMCPImpl = &mcp.Implementation{Name: "pagenav-test", Version: "0.1.0"}

func mcpSession(t *testing.T, e *Engine) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	e.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCallTool(t *testing.T, session *mcp.ClientSession, name string) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: map[string]any{},
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if err := result.GetError(); err != nil {
		t.Fatalf("CallTool(%s) tool error: %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text
}

func TestMCP_ListTools(t *testing.T) {
	p := loadPage(t, "https://example.com/list?page=3", `<p>rows</p>`)
	session := mcpSession(t, startEngine(t, p, quiet(), nil))

	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	names := make(map[string]bool)
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"pagenav_next", "pagenav_previous", "pagenav_status", "pagenav_clear_cache"} {
		if !names[want] {
			t.Errorf("missing tool %q", want)
		}
	}
}

func TestMCP_NextAndStatus(t *testing.T) {
	p := loadPage(t, "https://example.com/list?page=3", `<p>rows</p>`)
	session := mcpSession(t, startEngine(t, p, quiet(), nil))

	var out Outcome
	if err := json.Unmarshal([]byte(mcpCallTool(t, session, "pagenav_next")), &out); err != nil {
		t.Fatal(err)
	}
	if out.Action != ActionURLParam || out.URL != "https://example.com/list?page=4" {
		t.Fatalf("next = %+v", out)
	}

	var st Status
	if err := json.Unmarshal([]byte(mcpCallTool(t, session, "pagenav_status")), &st); err != nil {
		t.Fatal(err)
	}
	if !st.Enabled || st.HasNext || st.Watcher != "observing" {
		t.Fatalf("status = %+v", st)
	}

	var ack struct{ Success bool }
	if err := json.Unmarshal([]byte(mcpCallTool(t, session, "pagenav_clear_cache")), &ack); err != nil {
		t.Fatal(err)
	}
	if !ack.Success {
		t.Fatal("clear cache not acknowledged")
	}
}
