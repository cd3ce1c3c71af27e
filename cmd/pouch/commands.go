package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/pouch/internal/api"
	"github.com/kalambet/pouch/internal/config"
	"github.com/kalambet/pouch/internal/importer"
	"github.com/kalambet/pouch/internal/storage"
)

// --- add ---

var addCmd = &cobra.Command{
	Use:   "add [body...]",
	Short: "Add a note to the active zone",
	Long: `Add a note to the active zone.

Examples:
  pouch add --title "Shopping" milk, eggs
  echo "from stdin" | pouch add --title Piped -`,
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")

		body := strings.Join(args, " ")
		if body == "-" {
			data, err := readAllLimited(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			body = data
		}
		if title == "" && body == "" {
			return fmt.Errorf("a title or a body is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/notes", api.NoteRequest{Type: "text", Title: title, Body: body})
		if err != nil {
			return err
		}

		var result struct {
			ID int64 `json:"id"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Added note %d", result.ID)
		return nil
	},
}

func init() {
	addCmd.Flags().String("title", "", "note title")
}

// --- list / search ---

func notesPath(base, query, sort string) string {
	v := url.Values{}
	if query != "" {
		v.Set("q", query)
	}
	if sort != "" {
		v.Set("sort", sort)
	}
	if len(v) == 0 {
		return base
	}
	return base + "?" + v.Encode()
}

func runListing(cmd *cobra.Command, query string) error {
	sort, _ := cmd.Flags().GetString("sort")
	if sort != "" {
		o, err := storage.ParseSortOption(sort)
		if err != nil {
			return err
		}
		sort = o.String()
	}
	followFlag, _ := cmd.Flags().GetBool("follow")

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	if !followFlag {
		resp, err := client.get(cmd.Context(), notesPath("/notes", query, sort))
		if err != nil {
			return err
		}
		var list []api.NoteResponse
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}
		printNoteList(cmd.OutOrStdout(), list)
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resp, err := client.stream(ctx, notesPath("/notes/stream", query, sort))
	if err != nil {
		return err
	}
	return follow(ctx, resp, func(list []api.NoteResponse) {
		fmt.Fprintln(cmd.OutOrStdout(), colorize(colorFaint, "---"))
		printNoteList(cmd.OutOrStdout(), list)
	})
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List notes in the active zone",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runListing(cmd, "")
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "List notes whose title or body contains query (case-sensitive)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runListing(cmd, strings.Join(args, " "))
	},
}

func init() {
	for _, c := range []*cobra.Command{listCmd, searchCmd} {
		c.Flags().String("sort", "", "A_Z, Z_A, OLDEST_FIRST or NEWEST_FIRST (default: the zone's saved option)")
		c.Flags().BoolP("follow", "f", false, "keep printing the listing after every change")
	}
}

// --- show / edit / rm ---

func parseNoteID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid note id %q", s)
	}
	return id, nil
}

func fetchNote(ctx context.Context, client *apiClient, id int64) (api.NoteResponse, error) {
	resp, err := client.get(ctx, fmt.Sprintf("/notes/%d", id))
	if err != nil {
		return api.NoteResponse{}, err
	}
	var n api.NoteResponse
	if err := decodeJSON(resp, &n); err != nil {
		return api.NoteResponse{}, err
	}
	return n, nil
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseNoteID(args[0])
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		n, err := fetchNote(cmd.Context(), client, id)
		if err != nil {
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(n)
		}
		printNote(cmd.OutOrStdout(), n)
		return nil
	},
}

func init() {
	showCmd.Flags().Bool("json", false, "print the note as JSON")
}

// editorText renders a note for editing: the title on the first line, a
// blank line, then the body.
func editorText(title, body string) string {
	return title + "\n\n" + body
}

// parseEditorText is the inverse of editorText.
func parseEditorText(text string) (title, body string) {
	title, body, _ = strings.Cut(text, "\n")
	return strings.TrimSpace(title), strings.TrimSpace(body)
}

func editInEditor(title, body string) (string, string, error) {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}

	tmpFile, err := os.CreateTemp("", "pouch-note-*.md")
	if err != nil {
		return "", "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.WriteString(editorText(title, body)); err != nil {
		tmpFile.Close()
		return "", "", err
	}
	tmpFile.Close()

	editorCmd := exec.Command(editor, tmpPath)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr
	if err := editorCmd.Run(); err != nil {
		return "", "", fmt.Errorf("editor exited with error: %w", err)
	}

	edited, err := os.ReadFile(tmpPath)
	if err != nil {
		return "", "", err
	}
	t, b := parseEditorText(string(edited))
	return t, b, nil
}

var editCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit a note's title and body (opens $EDITOR without flags)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseNoteID(args[0])
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		n, err := fetchNote(cmd.Context(), client, id)
		if err != nil {
			return err
		}

		title, body := n.Title, n.Body
		titleSet, bodySet := cmd.Flags().Changed("title"), cmd.Flags().Changed("body")
		if titleSet {
			title, _ = cmd.Flags().GetString("title")
		}
		if bodySet {
			body, _ = cmd.Flags().GetString("body")
		}
		if !titleSet && !bodySet {
			title, body, err = editInEditor(n.Title, n.Body)
			if err != nil {
				return err
			}
		}

		if title == n.Title && body == n.Body {
			printWarning("No changes")
			return nil
		}

		resp, err := client.put(cmd.Context(), fmt.Sprintf("/notes/%d", id), api.NoteRequest{Title: title, Body: body})
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Updated note %d", id)
		return nil
	},
}

func init() {
	editCmd.Flags().String("title", "", "new title")
	editCmd.Flags().String("body", "", "new body")
}

var rmCmd = &cobra.Command{
	Use:     "rm <id>...",
	Aliases: []string{"delete"},
	Short:   "Delete notes from the active zone",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]int64, 0, len(args))
		for _, a := range args {
			id, err := parseNoteID(a)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var failed []int64
		for _, id := range ids {
			resp, err := client.delete(cmd.Context(), fmt.Sprintf("/notes/%d", id))
			if err == nil {
				var result map[string]string
				err = decodeJSON(resp, &result)
			}
			if err != nil {
				printError("Failed to delete note %d: %v", id, err)
				failed = append(failed, id)
				continue
			}
			printSuccess("Deleted note %d", id)
		}

		if len(failed) > 0 {
			return fmt.Errorf("%d of %d deletions failed", len(failed), len(ids))
		}
		return nil
	},
}

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import <file>...",
	Short: "Create notes from text, markdown or PDF files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var failed int
		for _, path := range args {
			id, err := importFile(cmd.Context(), client, path)
			if err != nil {
				printError("%s: %v", path, err)
				failed++
				continue
			}
			printSuccess("Imported %s as note %d", filepath.Base(path), id)
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d imports failed", failed, len(args))
		}
		return nil
	},
}

func importFile(ctx context.Context, client *apiClient, path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.Size() > importer.MaxFileSize {
		return 0, importer.ErrTooLarge
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	resp, err := client.post(ctx, "/notes", api.NoteRequest{
		Type:    "file",
		Name:    filepath.Base(path),
		Content: base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return 0, err
	}
	var result struct {
		ID int64 `json:"id"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return 0, err
	}
	return result.ID, nil
}

// --- zone ---

var zoneCmd = &cobra.Command{
	Use:   "zone",
	Short: "Show the active zone",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/zone")
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), result["zone"])
		return nil
	},
}

var zoneToggleCmd = &cobra.Command{
	Use:   "toggle",
	Short: "Switch to the other zone",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/zone/toggle", nil)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Active zone is now %s", result["zone"])
		return nil
	},
}

func init() {
	zoneCmd.AddCommand(zoneToggleCmd)
}

// --- sort ---

type sortOptionResult struct {
	Zone       string `json:"zone"`
	SortOption string `json:"sort_option"`
}

var sortCmd = &cobra.Command{
	Use:   "sort [A_Z|Z_A|OLDEST_FIRST|NEWEST_FIRST]",
	Short: "Show or set the saved sort option of a zone",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		zone, _ := cmd.Flags().GetString("zone")
		if zone != "" {
			z, err := storage.ParseZone(zone)
			if err != nil {
				return err
			}
			zone = z.String()
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var result sortOptionResult
		if len(args) == 0 {
			path := "/sort-option"
			if zone != "" {
				path += "?zone=" + url.QueryEscape(zone)
			}
			resp, err := client.get(cmd.Context(), path)
			if err != nil {
				return err
			}
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", result.Zone, result.SortOption)
			return nil
		}

		o, err := storage.ParseSortOption(args[0])
		if err != nil {
			return err
		}
		resp, err := client.put(cmd.Context(), "/sort-option", sortOptionResult{Zone: zone, SortOption: o.String()})
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Sort option for %s set to %s", result.Zone, result.SortOption)
		return nil
	},
}

func init() {
	sortCmd.Flags().String("zone", "", "zone to read or change (default: the active zone)")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		token := "not set"
		if cfg.Server.APIToken != "" {
			token = "set"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, "server.api_token"), token)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List configuration keys and their environment variables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, k := range config.ShowAll(config.Config{}) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s  %s\n", colorize(colorBold, k.Key), colorize(colorFaint, k.EnvVar))
		}
		return nil
	},
}

var configSetTokenCmd = &cobra.Command{
	Use:   "set-token <token>",
	Short: "Store the HTTP API bearer token in the platform secret store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetAPIToken(args[0]); err != nil {
			return err
		}
		printSuccess("API token stored")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configKeysCmd)
	configCmd.AddCommand(configSetTokenCmd)
}

func readAllLimited(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, importer.MaxFileSize+1))
	if err != nil {
		return "", err
	}
	if len(data) > importer.MaxFileSize {
		return "", importer.ErrTooLarge
	}
	return strings.TrimSpace(string(data)), nil
}
