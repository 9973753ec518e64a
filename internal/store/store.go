// Package store is the durable source of truth: scraped site records written
// by the external scraper, and the generation-history log used for dedup.
// The indexing core reads site records and never mutates them.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/vitrine-studio/vitrine/models"
)

// Retention defaults for the generation history log.
const (
	DefaultHistoryRetention  = 30 * 24 * time.Hour
	DefaultHistoryMaxEntries = 100
)

type Store struct {
	DB *sql.DB

	// HistoryRetention and HistoryMaxEntries bound the generation history:
	// entries older than the retention window are deleted, and the log is
	// capped by deleting oldest-first.
	HistoryRetention  time.Duration
	HistoryMaxEntries int
}

// GenerationEntry is one recorded generation: enough to detect near-duplicate
// outputs without keeping the full response around.
type GenerationEntry struct {
	ID              string    `json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	Query           string    `json:"query"`
	ResponseHash    string    `json:"response_hash"`
	ResponsePreview string    `json:"response_preview"`
	Category        string    `json:"category"`
}

// GenerationStats summarizes the history log.
type GenerationStats struct {
	Total          int        `json:"total_generations"`
	Calendars      int        `json:"calendar_generations"`
	Marketing      int        `json:"marketing_generations"`
	LastGeneration *time.Time `json:"last_generation,omitempty"`
}

// NewWithDSN opens a Postgres connection and verifies it.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{
		DB:                db,
		HistoryRetention:  DefaultHistoryRetention,
		HistoryMaxEntries: DefaultHistoryMaxEntries,
	}, nil
}

// ListSiteIDs returns every site identifier present in the scrape store.
// This is the cheap read used by change detection on every status check.
func (s *Store) ListSiteIDs(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT site_id FROM scraped_sites ORDER BY site_id`)
	if err != nil {
		return nil, fmt.Errorf("list site ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan site id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetSitesByIDs fetches full site records for the given id set only.
func (s *Store) GetSitesByIDs(ctx context.Context, ids []string) ([]models.SiteRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT site_id, source_url, scraped_at, pages FROM scraped_sites
WHERE site_id = ANY($1) ORDER BY site_id`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("get sites: %w", err)
	}
	defer rows.Close()
	return scanSites(rows)
}

// ListAllSites fetches every site record. Used by full rebuilds only.
func (s *Store) ListAllSites(ctx context.Context) ([]models.SiteRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT site_id, source_url, scraped_at, pages FROM scraped_sites ORDER BY site_id`)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()
	return scanSites(rows)
}

// UpsertSite replaces a site record wholesale under its site_id, matching the
// scraper's delete-and-reinsert semantics. Exposed for fixtures and ops
// tooling; the scraper writes through its own path.
func (s *Store) UpsertSite(ctx context.Context, site models.SiteRecord) error {
	pages, err := json.Marshal(site.Pages)
	if err != nil {
		return fmt.Errorf("marshal pages: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO scraped_sites (site_id, source_url, scraped_at, pages)
VALUES ($1,$2,$3,$4)
ON CONFLICT (site_id) DO UPDATE SET
  source_url = EXCLUDED.source_url,
  scraped_at = EXCLUDED.scraped_at,
  pages = EXCLUDED.pages;
`, site.SiteID, site.SourceURL, site.ScrapedAt, pages)
	if err != nil {
		return fmt.Errorf("upsert site: %w", err)
	}
	return nil
}

func scanSites(rows *sql.Rows) ([]models.SiteRecord, error) {
	var sites []models.SiteRecord
	for rows.Next() {
		var (
			site  models.SiteRecord
			pages []byte
		)
		if err := rows.Scan(&site.SiteID, &site.SourceURL, &site.ScrapedAt, &pages); err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		if len(pages) > 0 {
			if err := json.Unmarshal(pages, &site.Pages); err != nil {
				return nil, fmt.Errorf("decode pages for %s: %w", site.SiteID, err)
			}
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

// AddGeneration appends one history entry and enforces retention in the same
// call: TTL expiry first, then the oldest-first cap.
func (s *Store) AddGeneration(ctx context.Context, entry GenerationEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO generation_history (id, created_at, query, response_hash, response_preview, category)
VALUES ($1,$2,$3,$4,$5,$6)`,
		entry.ID, entry.CreatedAt, entry.Query, entry.ResponseHash, entry.ResponsePreview, entry.Category)
	if err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}
	return s.pruneGenerations(ctx)
}

func (s *Store) pruneGenerations(ctx context.Context) error {
	retention := s.HistoryRetention
	if retention <= 0 {
		retention = DefaultHistoryRetention
	}
	maxEntries := s.HistoryMaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultHistoryMaxEntries
	}
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM generation_history WHERE created_at < $1`,
		time.Now().UTC().Add(-retention)); err != nil {
		return fmt.Errorf("expire generations: %w", err)
	}
	if _, err := s.DB.ExecContext(ctx, `
DELETE FROM generation_history WHERE id IN (
  SELECT id FROM generation_history ORDER BY created_at DESC OFFSET $1
)`, maxEntries); err != nil {
		return fmt.Errorf("cap generations: %w", err)
	}
	return nil
}

// RecentGenerations returns entries of one category newer than since, newest
// first.
func (s *Store) RecentGenerations(ctx context.Context, category string, since time.Time) ([]GenerationEntry, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, created_at, query, response_hash, response_preview, category
FROM generation_history
WHERE category = $1 AND created_at >= $2
ORDER BY created_at DESC`, category, since)
	if err != nil {
		return nil, fmt.Errorf("recent generations: %w", err)
	}
	defer rows.Close()
	var entries []GenerationEntry
	for rows.Next() {
		var e GenerationEntry
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.Query, &e.ResponseHash, &e.ResponsePreview, &e.Category); err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GenerationStatsSummary reports totals per category and the last generation
// time.
func (s *Store) GenerationStatsSummary(ctx context.Context) (GenerationStats, error) {
	var stats GenerationStats
	row := s.DB.QueryRowContext(ctx, `
SELECT COUNT(*),
       COUNT(*) FILTER (WHERE category = 'calendar'),
       COUNT(*) FILTER (WHERE category = 'marketing'),
       MAX(created_at)
FROM generation_history`)
	var last sql.NullTime
	if err := row.Scan(&stats.Total, &stats.Calendars, &stats.Marketing, &last); err != nil {
		return stats, fmt.Errorf("generation stats: %w", err)
	}
	if last.Valid {
		stats.LastGeneration = &last.Time
	}
	return stats, nil
}
