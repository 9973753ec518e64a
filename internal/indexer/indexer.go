// Package indexer drives index loads: change detection, document building,
// embedding, and the append-or-rebuild write into the vector index.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/vitrine-studio/vitrine/internal/document"
	"github.com/vitrine-studio/vitrine/internal/embedding"
	"github.com/vitrine-studio/vitrine/internal/index"
	"github.com/vitrine-studio/vitrine/internal/telemetry"
	"github.com/vitrine-studio/vitrine/models"
)

// ErrLoadInProgress is returned when a load is requested while another one is
// still running. Loads never queue.
var ErrLoadInProgress = errors.New("index load already in progress")

// SiteSource is the slice of the store the indexer reads from.
type SiteSource interface {
	SiteLister
	GetSitesByIDs(ctx context.Context, ids []string) ([]models.SiteRecord, error)
	ListAllSites(ctx context.Context) ([]models.SiteRecord, error)
}

// LoadStats records the outcome of the most recent load pass.
type LoadStats struct {
	Action         Action    `json:"action"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	SitesIndexed   int       `json:"sites_indexed"`
	DocumentsAdded int       `json:"documents_added"`
	Skipped        int       `json:"skipped"`
	Error          string    `json:"error,omitempty"`
}

type Indexer struct {
	sites    SiteSource
	embedder embedding.Provider
	index    *index.Store
	dataDir  string
	logger   *log.Logger

	mu      sync.Mutex
	loading bool
	last    LoadStats
}

func New(sites SiteSource, embedder embedding.Provider, idx *index.Store, dataDir string, logger *log.Logger) *Indexer {
	if logger == nil {
		logger = log.Default()
	}
	return &Indexer{sites: sites, embedder: embedder, index: idx, dataDir: dataDir, logger: logger}
}

// Restore loads the on-disk snapshot into the index. A missing or corrupt
// snapshot is not an error: the index simply starts empty and the next load
// rebuilds it.
func (ix *Indexer) Restore() error {
	err := ix.index.Load(ix.dataDir)
	switch {
	case err == nil:
		ix.logger.Printf("restored snapshot: %d documents", ix.index.Size())
		telemetry.SetIndexSize(ix.index.Size())
		return nil
	case errors.Is(err, index.ErrNoSnapshot):
		ix.logger.Printf("no snapshot found, starting empty")
		return nil
	case errors.Is(err, index.ErrCorruptSnapshot):
		ix.logger.Printf("snapshot unreadable (%v), starting empty", err)
		return nil
	default:
		return fmt.Errorf("restore snapshot: %w", err)
	}
}

// Load runs one load pass: detect what changed, then rebuild or append.
// force skips detection and always rebuilds from scratch.
func (ix *Indexer) Load(ctx context.Context, force bool) (LoadStats, error) {
	ix.mu.Lock()
	if ix.loading {
		ix.mu.Unlock()
		return LoadStats{}, ErrLoadInProgress
	}
	ix.loading = true
	ix.mu.Unlock()

	stats := LoadStats{StartedAt: time.Now().UTC()}
	err := ix.load(ctx, force, &stats)
	stats.FinishedAt = time.Now().UTC()
	if err != nil {
		stats.Error = err.Error()
	}

	ix.mu.Lock()
	ix.loading = false
	ix.last = stats
	ix.mu.Unlock()
	return stats, err
}

// Loading reports whether a load pass is currently running.
func (ix *Indexer) Loading() bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.loading
}

// LastLoad returns the stats of the most recent finished load.
func (ix *Indexer) LastLoad() LoadStats {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.last
}

func (ix *Indexer) load(ctx context.Context, force bool, stats *LoadStats) error {
	if err := ix.embedder.EnsureLoaded(ctx); err != nil {
		return fmt.Errorf("embedding service: %w", err)
	}

	plan := Plan{Action: ActionFullRebuild}
	if !force {
		var err error
		plan, err = DetectChanges(ctx, ix.sites, ix.index)
		if err != nil {
			return err
		}
	}
	stats.Action = plan.Action

	switch plan.Action {
	case ActionNone:
		ix.logger.Printf("index up to date (%d documents)", ix.index.Size())
		return nil
	case ActionFullRebuild:
		return ix.fullRebuild(ctx, stats)
	case ActionIncremental:
		return ix.incremental(ctx, plan.NewSiteIDs, stats)
	default:
		return fmt.Errorf("unknown load action %q", plan.Action)
	}
}

// fullRebuild stages the complete corpus off to the side and swaps it in only
// after every embedding succeeded. A failed rebuild leaves the live index
// untouched.
func (ix *Indexer) fullRebuild(ctx context.Context, stats *LoadStats) error {
	sites, err := ix.sites.ListAllSites(ctx)
	if err != nil {
		return fmt.Errorf("load sites: %w", err)
	}
	vectors, docs, metas, err := ix.buildAndEmbed(ctx, sites, stats)
	if err != nil {
		return err
	}
	if err := ix.index.ReplaceAll(vectors, docs, metas); err != nil {
		return fmt.Errorf("replace index: %w", err)
	}
	stats.SitesIndexed = len(sites)
	ix.logger.Printf("full rebuild: %d sites, %d documents, %d skipped",
		len(sites), len(docs), stats.Skipped)
	return ix.finish(stats)
}

// incremental embeds only the new sites and appends them. Existing rows are
// never touched, so a failure here also leaves prior content intact.
func (ix *Indexer) incremental(ctx context.Context, ids []string, stats *LoadStats) error {
	sites, err := ix.sites.GetSitesByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("load new sites: %w", err)
	}
	vectors, docs, metas, err := ix.buildAndEmbed(ctx, sites, stats)
	if err != nil {
		return err
	}
	if err := ix.index.Add(vectors, docs, metas); err != nil {
		return fmt.Errorf("append to index: %w", err)
	}
	stats.SitesIndexed = len(sites)
	ix.logger.Printf("incremental load: %d new sites, %d documents appended, %d skipped",
		len(sites), len(docs), stats.Skipped)
	return ix.finish(stats)
}

func (ix *Indexer) finish(stats *LoadStats) error {
	telemetry.SetIndexSize(ix.index.Size())
	if err := ix.index.Save(ix.dataDir); err != nil {
		// The in-memory index is good; only persistence failed. Surface it but
		// keep serving.
		ix.logger.Printf("snapshot save failed: %v", err)
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (ix *Indexer) buildAndEmbed(ctx context.Context, sites []models.SiteRecord, stats *LoadStats) ([][]float32, []string, []document.Metadata, error) {
	var (
		docs  []string
		metas []document.Metadata
	)
	for _, site := range sites {
		records, siteStats := document.BuildSiteRecords(site)
		stats.Skipped += siteStats.Skipped
		for _, r := range records {
			docs = append(docs, r.Content)
			metas = append(metas, r.Metadata)
		}
	}
	stats.DocumentsAdded = len(docs)
	if len(docs) == 0 {
		return nil, nil, nil, nil
	}
	vectors, err := ix.embedder.Embed(ctx, docs)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("embed documents: %w", err)
	}
	telemetry.AddDocumentsEmbedded(len(docs))
	return vectors, docs, metas, nil
}
