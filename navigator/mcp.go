package navigator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var emptySchema = json.RawMessage(`{"type":"object","properties":{}}`)

// RegisterMCP exposes the engine as MCP tools: pagenav_next,
// pagenav_previous, pagenav_status and pagenav_clear_cache.
func (e *Engine) RegisterMCP(srv *mcp.Server) {
	e.addTool(srv, "pagenav_next", "Go to the next page of the current paginated content.",
		func(ctx context.Context) (any, error) { return e.ResolveNext(ctx) })
	e.addTool(srv, "pagenav_previous", "Go to the previous page of the current paginated content.",
		func(ctx context.Context) (any, error) { return e.ResolvePrevious(ctx) })
	e.addTool(srv, "pagenav_status", "Report whether navigation is enabled and which controls are cached.",
		func(context.Context) (any, error) { return e.Status(), nil })
	e.addTool(srv, "pagenav_clear_cache", "Forget the cached next/previous controls.",
		func(context.Context) (any, error) {
			e.ClearCache()
			return map[string]bool{"success": true}, nil
		})
}

func (e *Engine) addTool(srv *mcp.Server, name, desc string, fn func(context.Context) (any, error)) {
	tool := &mcp.Tool{Name: name, Description: desc, InputSchema: emptySchema}
	srv.AddTool(tool, func(ctx context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out, err := fn(ctx)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("%s: %w", name, err))
			return &res, nil
		}
		data, err := json.Marshal(out)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("%s: marshal: %w", name, err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}
