package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/pouch/internal/datetime"
	"github.com/kalambet/pouch/internal/notes"
	"github.com/kalambet/pouch/internal/storage"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *notes.Repository) {
	t.Helper()
	repo := newTestRepo(t)
	return MCPDeps{
		Repo:      repo,
		Formatter: datetime.Formatter{Location: testZone},
	}, repo
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func callTool(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	result, err := h(context.Background(), makeCallToolRequest(name, args))
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", name, err)
	}
	return result
}

func toolTitles(t *testing.T, result *mcp.CallToolResult) []string {
	t.Helper()
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	var list []NoteResponse
	if err := json.Unmarshal([]byte(toolText(t, result)), &list); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return responseTitles(list)
}

// --- tests ---

func TestMCPTool_CreateNote(t *testing.T) {
	deps, repo := newTestMCPDeps(t)

	result := callTool(t, mcpCreateNote(deps), "create_note", map[string]interface{}{
		"title": "Idea",
		"body":  "write it down",
	})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if text := toolText(t, result); !strings.Contains(text, "CREATIVE") {
		t.Errorf("response = %q, want it to name the zone", text)
	}

	list, err := repo.Fetch(context.Background(), storage.Query{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(list) != 1 || list[0].Title != "Idea" || list[0].Body != "write it down" {
		t.Fatalf("notes = %+v", list)
	}
}

func TestMCPTool_CreateNote_MissingBody(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	result := callTool(t, mcpCreateNote(deps), "create_note", map[string]interface{}{"title": "x"})
	if !result.IsError {
		t.Fatal("expected error result")
	}
}

func TestMCPTool_ListAndSearch(t *testing.T) {
	deps, repo := newTestMCPDeps(t)
	for _, title := range []string{"Banana", "Apple", "Cherry"} {
		createNote(t, repo, title, "Content for "+title)
	}

	got := toolTitles(t, callTool(t, mcpListNotes(deps), "list_notes", map[string]interface{}{"sort": "A_Z"}))
	if strings.Join(got, ",") != "Apple,Banana,Cherry" {
		t.Errorf("A_Z = %v", got)
	}

	// Without sort the zone's saved option (default NEWEST_FIRST) applies.
	got = toolTitles(t, callTool(t, mcpListNotes(deps), "list_notes", nil))
	if strings.Join(got, ",") != "Cherry,Apple,Banana" {
		t.Errorf("default = %v", got)
	}

	got = toolTitles(t, callTool(t, mcpSearchNotes(deps), "search_notes", map[string]interface{}{"query": "Ba", "sort": "A_Z"}))
	if strings.Join(got, ",") != "Banana" {
		t.Errorf("search = %v", got)
	}

	result := callTool(t, mcpListNotes(deps), "list_notes", map[string]interface{}{"sort": "RANDOM"})
	if !result.IsError {
		t.Error("expected error for unknown sort")
	}

	result = callTool(t, mcpSearchNotes(deps), "search_notes", map[string]interface{}{"query": ""})
	if !result.IsError {
		t.Error("expected error for empty query")
	}
}

func TestMCPTool_GetNote(t *testing.T) {
	deps, repo := newTestMCPDeps(t)
	id := createNote(t, repo, "t", "b")

	result := callTool(t, mcpGetNote(deps), "get_note", map[string]interface{}{"id": float64(id)})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var n NoteResponse
	if err := json.Unmarshal([]byte(toolText(t, result)), &n); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if n.ID != id || n.Timestamp != "2024-01-02 11:00:00" {
		t.Errorf("note = %+v", n)
	}

	result = callTool(t, mcpGetNote(deps), "get_note", map[string]interface{}{"id": 999})
	if !result.IsError || !strings.Contains(toolText(t, result), "not found") {
		t.Errorf("missing note result = %+v", result)
	}

	result = callTool(t, mcpGetNote(deps), "get_note", map[string]interface{}{})
	if !result.IsError {
		t.Error("expected error without id")
	}
}

func TestMCPTool_UpdateAndDelete(t *testing.T) {
	deps, repo := newTestMCPDeps(t)
	id := createNote(t, repo, "old", "")

	result := callTool(t, mcpUpdateNote(deps), "update_note", map[string]interface{}{
		"id": float64(id), "title": "new", "body": "text",
	})
	if result.IsError {
		t.Fatalf("update: %s", toolText(t, result))
	}
	n, ok, _ := repo.GetByID(context.Background(), id)
	if !ok || n.Title != "new" || n.Body != "text" {
		t.Fatalf("after update = %+v, %v", n, ok)
	}

	// Unknown ids are accepted without effect.
	result = callTool(t, mcpDeleteNote(deps), "delete_note", map[string]interface{}{"id": 12345})
	if result.IsError {
		t.Fatalf("delete unknown: %s", toolText(t, result))
	}

	result = callTool(t, mcpDeleteNote(deps), "delete_note", map[string]interface{}{"id": float64(id)})
	if result.IsError {
		t.Fatalf("delete: %s", toolText(t, result))
	}
	if _, ok, _ := repo.GetByID(context.Background(), id); ok {
		t.Error("note still present")
	}
}

func TestMCPTool_ToggleZone(t *testing.T) {
	deps, repo := newTestMCPDeps(t)
	createNote(t, repo, "creative", "")

	result := callTool(t, mcpToggleZone(deps), "toggle_zone", nil)
	if toolText(t, result) != "BOX_OF_MYSTERIES" {
		t.Fatalf("toggle = %q", toolText(t, result))
	}
	if got := toolTitles(t, callTool(t, mcpListNotes(deps), "list_notes", nil)); len(got) != 0 {
		t.Errorf("box of mysteries lists %v", got)
	}

	result = callTool(t, mcpToggleZone(deps), "toggle_zone", nil)
	if toolText(t, result) != "CREATIVE" {
		t.Fatalf("second toggle = %q", toolText(t, result))
	}
}

func TestMCPResource_Current(t *testing.T) {
	deps, repo := newTestMCPDeps(t)
	createNote(t, repo, "long", strings.Repeat("é", 250))

	contents, err := mcpResourceCurrent(deps)(context.Background(), makeReadResourceRequest("notes://current"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}

	var body struct {
		Zone  string         `json:"zone"`
		Sort  string         `json:"sort"`
		Notes []NoteResponse `json:"notes"`
	}
	if err := json.Unmarshal([]byte(tc.Text), &body); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if body.Zone != "CREATIVE" || body.Sort != "NEWEST_FIRST" {
		t.Errorf("header = %s/%s", body.Zone, body.Sort)
	}
	if len(body.Notes) != 1 || !strings.HasSuffix(body.Notes[0].Body, "...") {
		t.Fatalf("notes = %+v", body.Notes)
	}
	if n := len([]rune(body.Notes[0].Body)); n != 203 {
		t.Errorf("truncated body has %d runes, want 203", n)
	}
}

func TestNewMCPServer_RegistersTools(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	s := NewMCPServer(deps)

	resp := s.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, name := range []string{"create_note", "list_notes", "search_notes", "get_note", "update_note", "delete_note", "toggle_zone"} {
		if !strings.Contains(string(b), `"`+name+`"`) {
			t.Errorf("tool %q not registered", name)
		}
	}
}
