// Package search runs semantic retrieval over the vector index: embed the
// query, take the raw top rows, drop weak matches, then re-rank with
// domain-aware boosts.
package search

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/vitrine-studio/vitrine/config"
	"github.com/vitrine-studio/vitrine/internal/document"
	"github.com/vitrine-studio/vitrine/internal/embedding"
	"github.com/vitrine-studio/vitrine/internal/index"
	"github.com/vitrine-studio/vitrine/internal/telemetry"
)

// Boost factors. Each applies independently; a hit can collect several.
const (
	boostProduct     = 1.5
	boostPromoted    = 2.0
	boostPriceField  = 1.5
	boostDescription = 1.3
)

// Result is one ranked hit. Similarity is the raw inner-product score;
// Score is Similarity after boosts and is what the ordering follows.
type Result struct {
	Content    string            `json:"content"`
	Metadata   document.Metadata `json:"metadata"`
	Similarity float64           `json:"similarity"`
	Score      float64           `json:"score"`
}

type Searcher struct {
	embedder embedding.Provider
	index    *index.Store
	cfg      config.SearchConfig
	logger   *log.Logger
}

func New(embedder embedding.Provider, idx *index.Store, cfg config.SearchConfig, logger *log.Logger) *Searcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Searcher{embedder: embedder, index: idx, cfg: cfg, logger: logger}
}

// Search returns up to limit results ranked by boosted relevance. An empty
// result set means nothing relevant was indexed; it is not an error.
func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	start := time.Now()
	results, err := s.search(ctx, query, limit)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	} else if len(results) == 0 {
		outcome = "empty"
	}
	telemetry.ObserveSearch(time.Since(start).Seconds(), outcome)
	return results, err
}

func (s *Searcher) search(ctx context.Context, query string, limit int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}
	if limit <= 0 {
		limit = s.cfg.TopK
	}
	if err := s.embedder.EnsureLoaded(ctx); err != nil {
		return nil, fmt.Errorf("embedding service: %w", err)
	}
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.index.Search(vectors[0], limit)
	if err != nil {
		return nil, fmt.Errorf("index search: %w", err)
	}

	queryLower := strings.ToLower(query)
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		if h.Score < s.cfg.ScoreThreshold {
			continue
		}
		content, meta, err := s.index.Row(h.Row)
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", h.Row, err)
		}
		results = append(results, Result{
			Content:    content,
			Metadata:   meta,
			Similarity: h.Score,
			Score:      boostScore(h.Score, queryLower, content, meta),
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	s.logger.Printf("query %q: %d results", query, len(results))
	return results, nil
}

// boostScore applies the domain boosts on top of the raw similarity. The
// query side is matched lowercase; the content side matches the uppercase
// field labels documents are built with.
func boostScore(similarity float64, queryLower, content string, meta document.Metadata) float64 {
	score := similarity
	if meta.Category == document.CategoryProduct {
		score *= boostProduct
	}
	if strings.Contains(queryLower, "promo") && meta.IsPromoted {
		score *= boostPromoted
	}
	if strings.Contains(queryLower, "prix") && strings.Contains(content, "PRIX:") {
		score *= boostPriceField
	}
	if strings.Contains(queryLower, "description") && strings.Contains(content, "DESCRIPTION:") {
		score *= boostDescription
	}
	return score
}
