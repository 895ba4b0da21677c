// Package main is the ronbun CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	ronbuncli "github.com/hyperjump/ronbun/internal/cli"
	"github.com/hyperjump/ronbun/internal/config"
	"github.com/hyperjump/ronbun/internal/indexer"
	"github.com/hyperjump/ronbun/internal/metrics"
	"github.com/hyperjump/ronbun/internal/models"
	"github.com/hyperjump/ronbun/internal/server"
	"github.com/hyperjump/ronbun/internal/storage"
	"github.com/hyperjump/ronbun/internal/watcher"
	"github.com/hyperjump/ronbun/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/ronbun/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in the current
// directory is preferred if present. When neither file exists the built-in defaults are used.
// Returns the config and the path that was actually loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			if err := cfg.Validate(); err != nil {
				return nil, "", err
			}
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	_ = godotenv.Load()

	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "ronbun",
		Usage:   "Semantic search over a corpus of research papers",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "config file path",
				Value:   defaultConfigPath,
				EnvVars: []string{"RONBUN_CONFIG"},
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "import",
				Usage:     "Import paper metadata from a JSON file into the metadata store",
				ArgsUsage: "<file.json>",
				Action:    importCommand,
			},
			{
				Name:   "build",
				Usage:  "Encode every stored paper and commit a new index build",
				Action: buildCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "output",
						Usage: "output format: text or json",
						Value: "text",
					},
				},
			},
			{
				Name:   "serve",
				Usage:  "Start the HTTP server",
				Action: serveCommand,
			},
			{
				Name:      "search",
				Usage:     "Search the committed index",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "k",
						Aliases: []string{"limit"},
						Usage:   "number of results (0 uses the configured default)",
					},
					&cli.IntSliceFlag{
						Name:  "year",
						Usage: "only papers published in this year (repeatable)",
					},
					&cli.StringSliceFlag{
						Name:  "category",
						Usage: "only papers in this category (repeatable)",
					},
					&cli.StringSliceFlag{
						Name:  "author",
						Usage: "only papers by this author (repeatable)",
					},
					&cli.StringFlag{
						Name:  "server",
						Usage: "search through a running server at this URL instead of opening the index",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"format"},
						Usage:   "output format: text or json",
						Value:   "text",
					},
				},
			},
			{
				Name:   "status",
				Usage:  "Show the committed build and store counts",
				Action: statusCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "output",
						Usage: "output format: text or json",
						Value: "text",
					},
				},
			},
		},
	}
}

// setup loads config and creates the logger for a command.
func setup(c *cli.Context) (*config.Config, *zap.Logger, error) {
	cfg, resolvedPath, err := loadConfig(c.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	debugMode := cfg.Debug || c.Bool("debug")
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded",
		zap.String("config_path", resolvedPath),
		zap.String("provider", cfg.Embedding.Provider),
		zap.Bool("debug", debugMode),
	)
	return cfg, logger, nil
}

func importCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: ronbun import <file.json>", 1)
	}
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	stats, err := indexer.NewImporter(store, logger).ImportFile(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	fmt.Printf("Read %d records: %d imported, %d duplicates, %d skipped\n",
		stats.Read, stats.Imported, stats.Duplicates, stats.Skipped)
	return nil
}

func buildCommand(c *cli.Context) error {
	format, err := ronbuncli.ParseOutputFormat(c.String("output"))
	if err != nil {
		return err
	}
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Sync()
	metrics.Register()

	components, err := initializeComponents(cfg, logger, noIndex)
	if err != nil {
		return err
	}
	defer components.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	builder := indexer.NewBuilder(
		components.Storage,
		components.Embedder,
		cfg.Storage.IndexDir,
		indexer.WithLogger(logger),
		indexer.WithBatchSize(cfg.Build.BatchSize),
		indexer.WithWorkers(cfg.Build.Workers),
		indexer.WithKeepBuilds(cfg.Build.KeepBuildsOrDefault()),
	)
	report, err := builder.Build(ctx)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}
	return ronbuncli.WriteReport(os.Stdout, report, format)
}

func serveCommand(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Sync()
	metrics.Register()

	components, err := initializeComponents(cfg, logger, serveIndexMode(cfg))
	if err != nil {
		return err
	}
	defer components.Close()

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	if cfg.Watch.ReloadOrDefault() {
		reloader := watcher.NewReloader(cfg.Storage.IndexDir, components.Reload, watcher.WithLogger(logger))
		if err := reloader.Start(ctx); err != nil {
			return fmt.Errorf("failed to start reloader: %w", err)
		}
		defer reloader.Stop()
	}

	srv := server.NewServer(components.Engine, components.Storage, components.Holder, components.Reload, cfg, logger)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Stop(shutdownCtx)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// filtersFromFlags returns nil when no filter flag is set.
func filtersFromFlags(years []int, categories, authors []string) *models.Filters {
	f := &models.Filters{Years: years, Categories: categories, Authors: authors}
	if f.IsEmpty() {
		return nil
	}
	return f
}

func searchCommand(c *cli.Context) error {
	queryStr := buildSearchQuery(c.Args().Slice())
	if queryStr == "" {
		return cli.Exit("usage: ronbun search [flags] <query>", 1)
	}
	format, err := ronbuncli.ParseOutputFormat(c.String("output"))
	if err != nil {
		return err
	}
	query := &models.SearchQuery{
		Query:   queryStr,
		K:       c.Int("k"),
		Filters: filtersFromFlags(c.IntSlice("year"), c.StringSlice("category"), c.StringSlice("author")),
	}

	if serverURL := c.String("server"); serverURL != "" {
		response, err := searchViaHTTP(c.Context, serverURL, query)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		return ronbuncli.WriteSearchResults(os.Stdout, response, format)
	}

	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, requireIndex)
	if err != nil {
		return err
	}
	defer components.Close()

	response, err := components.Engine.Search(c.Context, query)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	return ronbuncli.WriteSearchResults(os.Stdout, response, format)
}

func searchViaHTTP(ctx context.Context, serverURL string, query *models.SearchQuery) (*models.SearchResponse, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(serverURL, "/")+"/api/v1/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var response models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

// statusResponse is the shape of the status command's JSON output.
type statusResponse struct {
	Documents      int64           `json:"documents"`
	BuildID        string          `json:"build_id,omitempty"`
	Builds         []string        `json:"builds"`
	Report         *indexer.Report `json:"report,omitempty"`
	DiskUsageBytes int64           `json:"disk_usage_bytes"`
}

func collectStatus(ctx context.Context, cfg *config.Config, store storage.Storage) (*statusResponse, error) {
	count, err := store.CountDocuments(ctx)
	if err != nil {
		return nil, err
	}
	status := &statusResponse{Documents: count}
	builds, err := indexer.ListBuilds(cfg.Storage.IndexDir)
	if err != nil {
		return nil, err
	}
	status.Builds = builds
	if id, err := indexer.ReadCurrent(cfg.Storage.IndexDir); err == nil {
		status.BuildID = id
		report, err := indexer.LoadReport(filepath.Join(indexer.BuildDir(cfg.Storage.IndexDir, id), indexer.ReportFile))
		if err == nil {
			status.Report = report
		}
	}
	if size, err := storage.DiskUsageBytes(cfg.Storage.IndexDir); err == nil {
		status.DiskUsageBytes = size
	}
	return status, nil
}

func statusCommand(c *cli.Context) error {
	format, err := ronbuncli.ParseOutputFormat(c.String("output"))
	if err != nil {
		return err
	}
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	status, err := collectStatus(c.Context, cfg, store)
	if err != nil {
		return err
	}
	if format == ronbuncli.OutputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}
	fmt.Printf("Documents:   %d\n", status.Documents)
	fmt.Printf("Builds:      %d\n", len(status.Builds))
	fmt.Printf("Index disk:  %s\n", utils.FormatBytes(status.DiskUsageBytes))
	if status.BuildID == "" {
		fmt.Println("No committed build. Run: ronbun build")
		return nil
	}
	if status.Report != nil {
		return ronbuncli.WriteReport(os.Stdout, status.Report, ronbuncli.OutputText)
	}
	fmt.Printf("Build:       %s\n", status.BuildID)
	return nil
}

func isConfigError(err error) bool {
	return errors.Is(err, indexer.ErrConfig)
}
