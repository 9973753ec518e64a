package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitrine-studio/vitrine/config"
	"github.com/vitrine-studio/vitrine/internal/embedding"
	"github.com/vitrine-studio/vitrine/internal/index"
	"github.com/vitrine-studio/vitrine/internal/indexer"
	"github.com/vitrine-studio/vitrine/internal/search"
	srv "github.com/vitrine-studio/vitrine/internal/server"
	"github.com/vitrine-studio/vitrine/internal/store"
)

func main() {
	var root = &cobra.Command{Use: "vitrined"}
	var configPath string
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file path")

	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(configPath)
			if serveAddr == "" {
				serveAddr = os.Getenv("VITRINE_HTTP_ADDR")
			}
			return srv.Run(cfg, serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address")

	var migDir string
	var direction string
	var steps int
	var migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(configPath)
			dsn, err := cfg.Storage.Postgres.DSN()
			if err != nil {
				return err
			}
			return srv.Migrate(migDir, dsn, direction, steps)
		},
	}
	migrateCmd.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source (file://migrations)")
	migrateCmd.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrateCmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	var indexCmd = &cobra.Command{Use: "index", Short: "Index operations"}

	var force bool
	var loadCmd = &cobra.Command{
		Use:   "load",
		Short: "Load new scrapes into the index",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(configPath)
			ix, _, err := buildIndexer(cfg)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			defer cancel()
			stats, err := ix.Load(ctx, force)
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	}
	loadCmd.Flags().BoolVar(&force, "force", false, "rebuild from scratch")

	var statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show index contents and pending changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(configPath)
			_, deps, err := buildIndexer(cfg)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			plan, err := indexer.DetectChanges(ctx, deps.store, deps.index)
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{
				"initialized": deps.index.IsInitialized(),
				"documents":   deps.index.Size(),
				"sites":       len(deps.index.IndexedSiteIDs()),
				"changes":     plan,
			})
		},
	}
	indexCmd.AddCommand(loadCmd, statusCmd)

	var limit int
	var searchCmd = &cobra.Command{
		Use:   "search [query]",
		Short: "Search the index from the command line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(configPath)
			_, deps, err := buildIndexer(cfg)
			if err != nil {
				return err
			}
			s := search.New(deps.embedder, deps.index, cfg.Search, log.New(log.Writer(), "[SEARCH] ", log.LstdFlags))
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			results, err := s.Search(ctx, args[0], limit)
			if err != nil {
				return err
			}
			return printJSON(results)
		},
	}
	searchCmd.Flags().IntVar(&limit, "limit", 0, "max results (0 = configured default)")

	root.AddCommand(serve, migrateCmd, indexCmd, searchCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

type deps struct {
	store    *store.Store
	embedder embedding.Provider
	index    *index.Store
}

func buildIndexer(cfg *config.Config) (*indexer.Indexer, deps, error) {
	ctx := context.Background()
	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return nil, deps{}, err
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return nil, deps{}, err
	}
	st.HistoryRetention = cfg.History.Retention()
	st.HistoryMaxEntries = cfg.History.MaxEntries
	embedder := embedding.NewClient(cfg.Embedding, log.New(log.Writer(), "[EMBED] ", log.LstdFlags))
	idx := index.New(cfg.Embedding.Dimensions)
	ix := indexer.New(st, embedder, idx, cfg.Index.DataDir, log.New(log.Writer(), "[INDEXER] ", log.LstdFlags))
	if err := ix.Restore(); err != nil {
		return nil, deps{}, err
	}
	return ix, deps{store: st, embedder: embedder, index: idx}, nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
