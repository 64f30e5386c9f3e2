package listing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterMCP registers the listing_extract tool on srv.
func RegisterMCP(srv *mcp.Server, b *Builder) {
	tool := &mcp.Tool{
		Name:        "listing_extract",
		Description: "Open a marketplace listing in a headless browser and return its title, price, mileage, transmission, location, posted date and image.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{"type": "string", "description": "Listing URL; tracking query is stripped"},
			},
			"required": []string{"url"},
		},
	}

	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var in struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(req.Params.Arguments, &in); err != nil || in.URL == "" {
			return toolError(fmt.Errorf("invalid arguments: url is required")), nil
		}

		rec, err := b.Build(ctx, in.URL)
		if err != nil {
			var f *Failure
			if errors.As(err, &f) {
				return toolError(fmt.Errorf("%s: %s", f.Reason, f.Error())), nil
			}
			return toolError(err), nil
		}

		data, err := json.Marshal(struct {
			Record
			HasKeyFields bool `json:"has_key_fields"`
		}{rec, rec.HasKeyFields()})
		if err != nil {
			return toolError(fmt.Errorf("marshal: %w", err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}
