package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/pouch/internal/api"
	"github.com/kalambet/pouch/internal/config"
	"github.com/kalambet/pouch/internal/datetime"
	"github.com/kalambet/pouch/internal/notes"
	"github.com/kalambet/pouch/internal/preferences"
	"github.com/kalambet/pouch/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pouch server (foreground)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(cmd.Context(), withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running pouch server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pouch server status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Open both zone databases, upgrading their schema if needed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return runMigrate(cmd.Context(), cfg.Storage.DataDir)
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "pouch.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func newLogger(cfg config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

func runServer(parent context.Context, withMCP bool) error {
	fmt.Fprintf(os.Stderr, "pouch version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	if cfg.Server.APIToken == "" {
		slog.Warn("no API token configured, HTTP API is unauthenticated")
	}

	// Refuse to start twice against the same data directory.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("pouch is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("pouch is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := notes.NewRegistry(cfg.Storage.DataDir, notes.WithRegistryLogger(logger))
	defer func() {
		if err := reg.Close(); err != nil {
			printWarning("closing storage: %v", err)
		}
	}()

	prefs, err := preferences.NewFileGateway(cfg.Preferences.Path, preferences.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("loading preferences: %w", err)
	}
	go func() {
		if err := prefs.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("preferences watcher stopped", "error", err)
		}
	}()

	repo, err := notes.Open(ctx, reg, prefs,
		notes.WithLogger(logger),
		notes.WithInitialZone(cfg.DefaultZone()),
	)
	if err != nil {
		return err
	}
	slog.Info("notes opened", "data_dir", cfg.Storage.DataDir, "zone", repo.CurrentZone().String())

	formatter := datetime.Formatter{Logger: logger}

	handler := api.NewNotesHandler(api.NotesDeps{
		Repo:      repo,
		Token:     cfg.Server.APIToken,
		Formatter: formatter,
		Logger:    logger,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Repo: repo, Formatter: formatter})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "pouch listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Streams end with the base context; Shutdown only waits for the rest.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("pouch is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop pouch (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to pouch (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:      cfg.Server.APIToken,
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}
	reportServer(ctx, client, cfg.Server.Port)

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	printStatus("Preferences", "%s", cfg.Preferences.Path)
	return nil
}

// reportServer prints health, the active zone and its note count.
func reportServer(ctx context.Context, client *apiClient, port int) {
	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
		return
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		return
	}
	printStatus("Server", "running on port %d", port)

	zoneResp, err := client.get(ctx, "/zone")
	if err != nil {
		return
	}
	var zone map[string]string
	if decodeJSON(zoneResp, &zone) != nil {
		return
	}
	printStatus("Active zone", "%s", zone["zone"])

	listResp, err := client.get(ctx, "/notes")
	if err != nil {
		return
	}
	var list []api.NoteResponse
	if decodeJSON(listResp, &list) == nil {
		printStatus("Notes", "%d", len(list))
	}
}

func runMigrate(ctx context.Context, dataDir string) error {
	reg := notes.NewRegistry(dataDir, notes.WithRegistryLogger(slog.Default()))
	defer reg.Close()

	printStep("Opening zone databases in %s", dataDir)
	stores, err := reg.OpenAll(ctx)
	if err != nil {
		return fmt.Errorf("could not open notes: %w", err)
	}

	for _, z := range []storage.Zone{storage.ZoneCreative, storage.ZoneBoxOfMysteries} {
		s := stores[z]
		gen, err := s.Generation(ctx)
		if err != nil {
			return fmt.Errorf("%s: reading generation: %w", z, err)
		}
		n, err := s.Count(ctx)
		if err != nil {
			return fmt.Errorf("%s: counting notes: %w", z, err)
		}
		printStatus(z.String(), "generation %d, %d notes (%s)", gen, n, s.Path())
	}
	printSuccess("Schema is current")
	return nil
}
