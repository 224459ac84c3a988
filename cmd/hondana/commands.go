package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/hondana/internal/cli"
	"github.com/hyperjump/hondana/internal/config"
	"github.com/hyperjump/hondana/internal/server"
	"github.com/hyperjump/hondana/internal/storage"
	"github.com/hyperjump/hondana/pkg/utils"
	"go.uber.org/zap"
)

// commandFlags are shared by every command that opens the databases.
type commandFlags struct {
	fs         *flag.FlagSet
	configPath *string
	debug      *bool
	output     *string
}

func newCommandFlags(name string) *commandFlags {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return &commandFlags{
		fs:         fs,
		configPath: fs.String("config", defaultConfigPath, "config file path"),
		debug:      fs.Bool("debug", false, "enable debug logging"),
		output:     fs.String("output", "text", "output format: text or json"),
	}
}

// parse accepts flags before or after positional arguments.
func (c *commandFlags) parse(args []string) error {
	return c.fs.Parse(argsReorder(args))
}

func (c *commandFlags) format() (cli.OutputFormat, error) {
	return cli.ParseFormat(*c.output)
}

// argsReorder moves flags that follow positional arguments to the front so the flag
// package sees them; it stops at the first non-flag argument otherwise.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// withComponents loads config, builds a logger and the service graph, and runs fn.
func (c *commandFlags) withComponents(ctx context.Context, fn func(*Components, *config.Config, *zap.Logger) error) error {
	cfg, resolved, err := loadConfig(*c.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	debugMode := cfg.Debug || *c.debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Debug("config loaded", zap.String("config_path", resolved))

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()
	return fn(components, cfg, logger)
}

func runServer(ctx context.Context, args []string) error {
	flags := newCommandFlags("server")
	if err := flags.parse(args); err != nil {
		return err
	}
	return flags.withComponents(ctx, func(c *Components, cfg *config.Config, logger *zap.Logger) error {
		srv := server.NewServer(c.Services(), cfg, logger)
		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("server failed: %w", err)
		case <-ctx.Done():
		}

		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})
}

func runEmbed(ctx context.Context, args []string, stdout io.Writer) error {
	flags := newCommandFlags("embed")
	if err := flags.parse(args); err != nil {
		return err
	}
	format, err := flags.format()
	if err != nil {
		return err
	}
	if flags.fs.NArg() < 1 {
		return usagef("embed needs at least one chapter id")
	}
	return flags.withComponents(ctx, func(c *Components, _ *config.Config, _ *zap.Logger) error {
		for _, id := range flags.fs.Args() {
			res, err := c.Indexer.GenerateEmbeddingsForChapter(ctx, id)
			if err != nil {
				return err
			}
			if err := cli.WriteChapterResult(stdout, res, format); err != nil {
				return err
			}
		}
		return nil
	})
}

func runEmbedBook(ctx context.Context, args []string, stdout io.Writer) error {
	flags := newCommandFlags("embed-book")
	if err := flags.parse(args); err != nil {
		return err
	}
	format, err := flags.format()
	if err != nil {
		return err
	}
	if flags.fs.NArg() < 1 {
		return usagef("embed-book needs at least one book id")
	}
	return flags.withComponents(ctx, func(c *Components, _ *config.Config, _ *zap.Logger) error {
		results := make([]map[string]interface{}, 0, flags.fs.NArg())
		for _, id := range flags.fs.Args() {
			updated, err := c.Indexer.UpsertBookEmbedding(ctx, id)
			if err != nil {
				return err
			}
			if format == cli.OutputJSON {
				results = append(results, map[string]interface{}{"book_id": id, "updated": updated})
				continue
			}
			state := "unchanged"
			if updated {
				state = "embedded"
			}
			fmt.Fprintf(stdout, "Book %s: %s\n", id, state)
		}
		if format == cli.OutputJSON {
			return cli.WriteJSON(stdout, results)
		}
		return nil
	})
}

func runMigrate(ctx context.Context, args []string, stdout io.Writer) error {
	flags := newCommandFlags("migrate")
	batchSize := flags.fs.Int("batch-size", 0, "chapters per batch (0 = config default)")
	if err := flags.parse(args); err != nil {
		return err
	}
	format, err := flags.format()
	if err != nil {
		return err
	}
	return flags.withComponents(ctx, func(c *Components, _ *config.Config, _ *zap.Logger) error {
		report, err := c.Indexer.MigrateCorpusEmbeddings(ctx, *batchSize)
		if err != nil {
			return err
		}
		return cli.WriteMigrationReport(stdout, report, format)
	})
}

func runPlagiarism(ctx context.Context, args []string, stdout io.Writer) error {
	flags := newCommandFlags("plagiarism")
	if err := flags.parse(args); err != nil {
		return err
	}
	format, err := flags.format()
	if err != nil {
		return err
	}
	if flags.fs.NArg() != 1 {
		return usagef("plagiarism needs exactly one chapter id")
	}
	chapterID := flags.fs.Arg(0)
	return flags.withComponents(ctx, func(c *Components, cfg *config.Config, _ *zap.Logger) error {
		matches, err := c.Engine.CheckPlagiarism(ctx, chapterID)
		if err != nil {
			return err
		}
		return cli.WritePlagiarism(stdout, chapterID, cfg.Similarity.PlagiarismThreshold, matches, format)
	})
}

func runSimilar(ctx context.Context, args []string, stdout io.Writer) error {
	flags := newCommandFlags("similar")
	count := flags.fs.Int("count", 10, "number of similar books")
	if err := flags.parse(args); err != nil {
		return err
	}
	format, err := flags.format()
	if err != nil {
		return err
	}
	if flags.fs.NArg() != 1 {
		return usagef("similar needs exactly one book id")
	}
	if *count <= 0 {
		return usagef("--count must be positive")
	}
	bookID := flags.fs.Arg(0)
	return flags.withComponents(ctx, func(c *Components, _ *config.Config, _ *zap.Logger) error {
		books, err := c.Engine.FindSimilarBooks(ctx, bookID, *count)
		if err != nil {
			return err
		}
		return cli.WriteSimilarBooks(stdout, bookID, books, format)
	})
}

func runRecommend(ctx context.Context, args []string, stdout io.Writer) error {
	flags := newCommandFlags("recommend")
	count := flags.fs.Int("count", 0, "number of recommendations (0 = config default)")
	if err := flags.parse(args); err != nil {
		return err
	}
	format, err := flags.format()
	if err != nil {
		return err
	}
	if flags.fs.NArg() != 1 {
		return usagef("recommend needs exactly one user id")
	}
	return flags.withComponents(ctx, func(c *Components, _ *config.Config, _ *zap.Logger) error {
		res, err := c.Ranker.Recommend(ctx, flags.fs.Arg(0), *count)
		if err != nil {
			return err
		}
		return cli.WriteRecommendations(stdout, res, format)
	})
}

func runSimilarity(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) < 1 || args[0] != "refresh" {
		return usagef("usage: hondana similarity refresh [user-id...]")
	}
	flags := newCommandFlags("similarity refresh")
	if err := flags.parse(args[1:]); err != nil {
		return err
	}
	format, err := flags.format()
	if err != nil {
		return err
	}
	return flags.withComponents(ctx, func(c *Components, _ *config.Config, _ *zap.Logger) error {
		report, err := c.Filter.RefreshSnapshots(ctx, flags.fs.Args())
		if err != nil {
			return err
		}
		return cli.WriteRefreshReport(stdout, report, format)
	})
}

// statusResponse mirrors GET /api/v1/status.
type statusResponse struct {
	Storage      storage.Stats         `json:"storage"`
	IndexedBooks int                   `json:"indexed_books"`
	Config       *statusConfigResponse `json:"config,omitempty"`
}

type statusConfigResponse struct {
	EmbeddingProvider   string  `json:"embedding_provider"`
	EmbeddingModel      string  `json:"embedding_model"`
	EmbeddingDimensions int     `json:"embedding_dimensions"`
	ChunkSize           int     `json:"chunk_size"`
	ChunkOverlap        float64 `json:"chunk_overlap"`
	PlagiarismThreshold float64 `json:"plagiarism_threshold"`
	MinCoRatedBooks     int     `json:"min_co_rated_books"`
	DatabasePath        string  `json:"database_path"`
	CatalogPath         string  `json:"catalog_path"`
}

func runStatus(ctx context.Context, args []string, stdout io.Writer) error {
	flags := newCommandFlags("status")
	serverURL := flags.fs.String("server", "", "server URL (empty = read the local databases)")
	if err := flags.parse(args); err != nil {
		return err
	}
	format, err := flags.format()
	if err != nil {
		return err
	}

	var status *statusResponse
	if *serverURL != "" {
		if status, err = statusViaHTTP(ctx, *serverURL); err != nil {
			return fmt.Errorf("status failed: %w", err)
		}
	} else {
		err = flags.withComponents(ctx, func(c *Components, cfg *config.Config, _ *zap.Logger) error {
			stats, err := c.Storage.Stats(ctx)
			if err != nil {
				return err
			}
			status = &statusResponse{
				Storage:      *stats,
				IndexedBooks: c.Engine.IndexedBooks(),
				Config: &statusConfigResponse{
					EmbeddingProvider:   cfg.Embedding.Provider,
					EmbeddingModel:      cfg.Embedding.Model,
					EmbeddingDimensions: cfg.Embedding.Dimensions,
					ChunkSize:           cfg.Chunking.ChunkSize,
					ChunkOverlap:        cfg.Chunking.ChunkOverlap,
					PlagiarismThreshold: cfg.Similarity.PlagiarismThreshold,
					MinCoRatedBooks:     cfg.Collab.MinCoRatedBooks,
					DatabasePath:        cfg.Storage.DatabasePath,
					CatalogPath:         cfg.Storage.CatalogPath,
				},
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	if format == cli.OutputJSON {
		return cli.WriteJSON(stdout, status)
	}
	writeStatusText(stdout, status)
	return nil
}

func writeStatusText(w io.Writer, s *statusResponse) {
	fmt.Fprintf(w, "book_embeddings:     %d\n", s.Storage.BookEmbeddings)
	fmt.Fprintf(w, "chapter_embeddings:  %d\n", s.Storage.ChapterEmbeddings)
	fmt.Fprintf(w, "chunk_embeddings:    %d   # embedded chapter segments\n", s.Storage.ChunkEmbeddings)
	fmt.Fprintf(w, "user_similarities:   %d\n", s.Storage.UserSimilarities)
	fmt.Fprintf(w, "snapshots:           %d\n", s.Storage.Snapshots)
	fmt.Fprintf(w, "indexed_books:       %d   # vectors in the book index\n", s.IndexedBooks)
	if s.Storage.DiskUsageBytes > 0 {
		fmt.Fprintf(w, "disk_usage_bytes:    %d\n", s.Storage.DiskUsageBytes)
	}
	if s.Config == nil {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "# configuration")
	fmt.Fprintf(w, "embedding_provider:  %s\n", s.Config.EmbeddingProvider)
	if s.Config.EmbeddingModel != "" {
		fmt.Fprintf(w, "embedding_model:     %s\n", s.Config.EmbeddingModel)
	}
	fmt.Fprintf(w, "embedding_dims:      %d\n", s.Config.EmbeddingDimensions)
	fmt.Fprintf(w, "chunk_size:          %d\n", s.Config.ChunkSize)
	fmt.Fprintf(w, "chunk_overlap:       %.2f\n", s.Config.ChunkOverlap)
	fmt.Fprintf(w, "plagiarism_threshold: %.2f\n", s.Config.PlagiarismThreshold)
	fmt.Fprintf(w, "min_co_rated_books:  %d\n", s.Config.MinCoRatedBooks)
	if s.Config.DatabasePath != "" {
		fmt.Fprintf(w, "database_path:       %s\n", s.Config.DatabasePath)
	}
	if s.Config.CatalogPath != "" {
		fmt.Fprintf(w, "catalog_path:        %s\n", s.Config.CatalogPath)
	}
}

func statusViaHTTP(ctx context.Context, serverURL string) (*statusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(serverURL, "/")+"/api/v1/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var s statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

// runConfig handles "config init": it writes the defaults to --config so they can be edited.
func runConfig(args []string, stdout io.Writer) error {
	if len(args) < 1 || args[0] != "init" {
		return usagef("usage: hondana config init [--config path] [--force]")
	}
	fs := flag.NewFlagSet("config init", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", defaultConfigPath, "config file path to write")
	force := fs.Bool("force", false, "overwrite an existing file")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if _, err := os.Stat(*configPath); err == nil && !*force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", *configPath)
	}
	if err := os.MkdirAll(filepath.Dir(*configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	if err := config.Save(*configPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Wrote default config to %s\n", *configPath)
	return nil
}
