package api

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/pouch/internal/datetime"
	"github.com/kalambet/pouch/internal/notes"
	"github.com/kalambet/pouch/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Repo      *notes.Repository
	Formatter datetime.Formatter
}

// NewMCPServer creates an MCP server with the note tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"pouch",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("pouch: notes kept in two isolated zones, CREATIVE and BOX_OF_MYSTERIES. Every tool acts on the active zone."),
		server.WithRecovery(),
	)

	sortArg := mcp.WithString("sort",
		mcp.Description("Ordering of the results"),
		mcp.Enum("A_Z", "Z_A", "OLDEST_FIRST", "NEWEST_FIRST"),
	)

	s.AddTool(
		mcp.NewTool("create_note",
			mcp.WithDescription("Create a note in the active zone."),
			mcp.WithString("title", mcp.Description("Note title")),
			mcp.WithString("body", mcp.Description("Note body"), mcp.Required()),
		),
		mcpCreateNote(deps),
	)

	s.AddTool(
		mcp.NewTool("list_notes",
			mcp.WithDescription("List every note in the active zone. Without sort, the zone's saved sort option applies."),
			sortArg,
		),
		mcpListNotes(deps),
	)

	s.AddTool(
		mcp.NewTool("search_notes",
			mcp.WithDescription("List notes whose title or body contains the query (case-sensitive)."),
			mcp.WithString("query", mcp.Description("Substring to look for"), mcp.Required()),
			sortArg,
		),
		mcpSearchNotes(deps),
	)

	s.AddTool(
		mcp.NewTool("get_note",
			mcp.WithDescription("Fetch one note by id."),
			mcp.WithNumber("id", mcp.Description("Note id"), mcp.Required()),
		),
		mcpGetNote(deps),
	)

	s.AddTool(
		mcp.NewTool("update_note",
			mcp.WithDescription("Replace a note's title and body. Unknown ids are ignored."),
			mcp.WithNumber("id", mcp.Description("Note id"), mcp.Required()),
			mcp.WithString("title", mcp.Description("New title")),
			mcp.WithString("body", mcp.Description("New body")),
		),
		mcpUpdateNote(deps),
	)

	s.AddTool(
		mcp.NewTool("delete_note",
			mcp.WithDescription("Delete a note by id. Unknown ids are ignored."),
			mcp.WithNumber("id", mcp.Description("Note id"), mcp.Required()),
		),
		mcpDeleteNote(deps),
	)

	s.AddTool(
		mcp.NewTool("toggle_zone",
			mcp.WithDescription("Switch the active zone and report the new one."),
		),
		mcpToggleZone(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"notes://current",
			"Current Zone Notes",
			mcp.WithResourceDescription("Notes of the active zone in its saved order, bodies truncated"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCurrent(deps),
	)

	return s
}

// sortFromRequest reads the optional sort argument, falling back to the
// active zone's saved option.
func sortFromRequest(ctx context.Context, deps MCPDeps, req mcp.CallToolRequest) (storage.SortOption, error) {
	if raw := req.GetString("sort", ""); raw != "" {
		return storage.ParseSortOption(raw)
	}
	o, _ := deps.Repo.SortOption(ctx, deps.Repo.CurrentZone())
	return o, nil
}

func noteIDArg(req mcp.CallToolRequest) (int64, error) {
	id := req.GetInt("id", 0)
	if id <= 0 {
		return 0, fmt.Errorf("id must be a positive integer")
	}
	return int64(id), nil
}

func mcpNoteList(deps MCPDeps, list []storage.Note) *mcp.CallToolResult {
	b, err := json.Marshal(toResponses(deps.Formatter, list))
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal notes: %v", err))
	}
	return mcpText(string(b))
}

func mcpCreateNote(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		body, err := req.RequireString("body")
		if err != nil {
			return mcpError("body is required"), nil
		}
		title := req.GetString("title", "")

		id, err := deps.Repo.Create(ctx, storage.Note{Title: title, Body: body})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to create note: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Created note %d in %s", id, deps.Repo.CurrentZone())), nil
	}
}

func mcpListNotes(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		o, err := sortFromRequest(ctx, deps, req)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		list, err := deps.Repo.Fetch(ctx, storage.Query{Sort: o})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list notes: %v", err)), nil
		}
		return mcpNoteList(deps, list), nil
	}
}

func mcpSearchNotes(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || query == "" {
			return mcpError("query is required"), nil
		}
		o, err := sortFromRequest(ctx, deps, req)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		list, err := deps.Repo.Fetch(ctx, storage.Query{Sort: o, Search: query})
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		return mcpNoteList(deps, list), nil
	}
}

func mcpGetNote(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := noteIDArg(req)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		n, ok, err := deps.Repo.GetByID(ctx, id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get note: %v", err)), nil
		}
		if !ok {
			return mcpError(fmt.Sprintf("note %d not found", id)), nil
		}

		b, err := json.Marshal(toResponse(deps.Formatter, n))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal note: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpUpdateNote(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := noteIDArg(req)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		n := storage.Note{ID: id, Title: req.GetString("title", ""), Body: req.GetString("body", "")}
		if err := deps.Repo.Update(ctx, n); err != nil {
			return mcpError(fmt.Sprintf("failed to update note: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Updated note %d", id)), nil
	}
}

func mcpDeleteNote(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := noteIDArg(req)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		if err := deps.Repo.Delete(ctx, storage.Note{ID: id}); err != nil {
			return mcpError(fmt.Sprintf("failed to delete note: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Deleted note %d", id)), nil
	}
}

func mcpToggleZone(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		z := deps.Repo.ToggleZone()
		return mcpText(z.String()), nil
	}
}

func mcpResourceCurrent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		o, _ := deps.Repo.SortOption(ctx, deps.Repo.CurrentZone())
		list, err := deps.Repo.Fetch(ctx, storage.Query{Sort: o})
		if err != nil {
			return nil, fmt.Errorf("failed to list notes: %w", err)
		}

		out := toResponses(deps.Formatter, list)
		for i := range out {
			if utf8.RuneCountInString(out[i].Body) > 200 {
				runes := []rune(out[i].Body)
				out[i].Body = string(runes[:200]) + "..."
			}
		}

		b, err := json.Marshal(map[string]any{
			"zone":  deps.Repo.CurrentZone().String(),
			"sort":  o.String(),
			"notes": out,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal notes: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
