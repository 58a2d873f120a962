package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/terraflow/internal/api"
	"github.com/mattjoyce/terraflow/internal/config"
	"github.com/mattjoyce/terraflow/internal/events"
	"github.com/mattjoyce/terraflow/internal/history"
	"github.com/mattjoyce/terraflow/internal/lifecycle"
	"github.com/mattjoyce/terraflow/internal/lock"
	"github.com/mattjoyce/terraflow/internal/log"
	"github.com/mattjoyce/terraflow/internal/metrics"
	"github.com/mattjoyce/terraflow/internal/objstore"
	"github.com/mattjoyce/terraflow/internal/reconcile"
	"github.com/mattjoyce/terraflow/internal/registry"
	"github.com/mattjoyce/terraflow/internal/runner"
	"github.com/mattjoyce/terraflow/internal/storage"
	"github.com/mattjoyce/terraflow/internal/tui/watch"
	"github.com/mattjoyce/terraflow/internal/workspace"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Print(`terraflow - HTTP service orchestrating terraform template lifecycles

Usage:
  terraflow <noun> <action> [flags]

System Commands:
  system start      Start the service in foreground
  system status     Query a running service for health and records
  system watch      Real-time status TUI

Config Commands:
  config check      Validate syntax and integrity
  config lock       Authorize current state (update integrity hash)
  config show       Show the resolved configuration

General:
  version           Show version information
  help              Show this help message
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: terraflow system <start|status|watch> [flags]")
		return 1
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		return runStart(actionArgs)
	case "status":
		return runSystemStatus(actionArgs)
	case "watch":
		return runWatch(actionArgs)
	case "help":
		fmt.Println("Usage: terraflow system <start|status|watch> [flags]")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: terraflow config <check|lock|show> [flags]")
		return 1
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		return runConfigCheck(actionArgs)
	case "lock":
		return runConfigLock(actionArgs)
	case "show":
		return runConfigShow(actionArgs)
	case "help":
		fmt.Println("Usage: terraflow config <check|lock|show> [flags]")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

// --- ACTION IMPLEMENTATIONS ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, resolved, code := loadConfig(*configPath)
	if code != 0 {
		return code
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("terraflow starting", "version", version, "config", resolved)

	pidLockPath := getPIDLockPath(cfg)
	pidLock, err := lock.Acquire(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := os.MkdirAll(filepath.Dir(cfg.History.Path), 0o755); err != nil {
		logger.Error("failed to create history directory", "path", cfg.History.Path, "error", err)
		return 1
	}
	db, err := storage.OpenSQLite(ctx, cfg.History.Path)
	if err != nil {
		logger.Error("failed to open run history database", "path", cfg.History.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("run history opened", "path", cfg.History.Path)

	if cfg.Terraform.WorkspaceRoot == "" {
		cfg.Terraform.WorkspaceRoot = filepath.Join(os.TempDir(), "terraflow")
	}

	hub := events.NewHub(256)
	proc := runner.New()
	store := objstore.NewCLIClient(proc, cfg.Storage.AWSBinary, cfg.Storage.Region, cfg.Terraform.Timeouts.TimeoutFor("storage"))

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New("terraflow")
	}

	coordinator := lifecycle.New(lifecycle.Options{
		Registry:     registry.New(),
		Workspaces:   workspace.NewFSManager(),
		Runner:       proc,
		Reconciler:   reconcile.New(store, cfg.Storage.BucketPrefix),
		History:      history.NewStore(db),
		Hub:          hub,
		Metrics:      m,
		Terraform:    cfg.Terraform,
		BucketPrefix: cfg.Storage.BucketPrefix,
	})

	apiConfig := api.Config{
		Listen:         cfg.API.Listen,
		Service:        cfg.Service.Name,
		Version:        version,
		APIKey:         cfg.API.Auth.APIKey,
		MetricsEnabled: cfg.Metrics.Enabled,
	}
	apiServer := api.New(apiConfig, coordinator, history.NewStore(db), hub, m, log.WithComponent("api"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("api: %w", err)
		}
	}()

	logger.Info("terraflow running (press Ctrl+C to stop)", "listen", cfg.API.Listen)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
		// Give the HTTP server its shutdown window.
		time.Sleep(100 * time.Millisecond)
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("terraflow stopped")
	return 0
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "Service API URL")
	apiKey := fs.String("api-key", os.Getenv("TERRAFLOW_API_KEY"), "API bearer token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	health, err := fetchJSON(*apiURL+"/health", "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service unreachable: %v\n", err)
		return 1
	}
	fmt.Println(health)

	status, err := fetchJSON(*apiURL+"/terraform/status", *apiKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status query failed: %v\n", err)
		return 1
	}
	fmt.Println(status)
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "Service API URL")
	apiKey := fs.String("api-key", os.Getenv("TERRAFLOW_API_KEY"), "API bearer token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	m := watch.New(*apiURL, *apiKey)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	_, resolved, code := loadConfig(*configPath)
	if code != 0 {
		return code
	}

	fmt.Printf("Configuration check PASSED: %s\n", resolved)
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	resolved, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve config: %v\n", err)
		return 1
	}
	if err := config.WriteChecksum(resolved); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write checksum: %v\n", err)
		return 1
	}
	fmt.Printf("Integrity hash updated for %s\n", resolved)
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, _, code := loadConfig(*configPath)
	if code != 0 {
		return code
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(cfg, "", "  ")
		fmt.Println(string(data))
	} else {
		data, _ := yaml.Marshal(cfg)
		fmt.Print(string(data))
	}
	return 0
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("terraflow %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		info.Commit = commit
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}

	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

// --- HELPERS ---

func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	return config.DiscoverConfigPath()
}

func loadConfig(path string) (*config.Config, string, int) {
	resolved, err := resolveConfigPath(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return nil, "", 1
	}
	cfg, err := config.Load(resolved)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, "", 1
	}
	return cfg, resolved, 0
}

func getPIDLockPath(cfg *config.Config) string {
	if cfg.Service.PIDLockPath != "" {
		return cfg.Service.PIDLockPath
	}
	return filepath.Join(filepath.Dir(cfg.History.Path), "terraflow.pid")
}

func fetchJSON(url, apiKey string) (string, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := (&http.Client{Timeout: 3 * time.Second}).Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var body json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
	}

	pretty, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return "", err
	}
	return string(pretty), nil
}
