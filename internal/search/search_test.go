package search

import (
	"context"
	"math"
	"testing"

	"github.com/vitrine-studio/vitrine/config"
	"github.com/vitrine-studio/vitrine/internal/document"
	"github.com/vitrine-studio/vitrine/internal/index"
)

const testDim = 4

// queryEmbedder always embeds the query as the first basis vector, so a
// row's similarity is simply its first component.
type queryEmbedder struct{}

func (queryEmbedder) EnsureLoaded(ctx context.Context) error { return nil }

func (queryEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

func (queryEmbedder) Dimensions() int { return testDim }

func vec(similarity float32) []float32 { return []float32{similarity, 0, 0, 0} }

func testSearcher(t *testing.T, vectors [][]float32, docs []string, metas []document.Metadata) *Searcher {
	t.Helper()
	idx := index.New(testDim)
	if err := idx.Add(vectors, docs, metas); err != nil {
		t.Fatal(err)
	}
	cfg := config.SearchConfig{TopK: 20, ScoreThreshold: 0.3}
	return New(queryEmbedder{}, idx, cfg, nil)
}

func TestSearchFiltersWeakMatches(t *testing.T) {
	s := testSearcher(t,
		[][]float32{vec(0.9), vec(0.2)},
		[]string{"TITRE_PAGE: Accueil", "TITRE_PAGE: Mentions légales"},
		[]document.Metadata{
			{Type: document.TypePage, SiteID: "a", Category: document.CategoryPageMetadata},
			{Type: document.TypePage, SiteID: "a", Category: document.CategoryPageMetadata},
		})
	results, err := s.Search(context.Background(), "accueil", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 (below-threshold row dropped)", len(results))
	}
	if results[0].Content != "TITRE_PAGE: Accueil" {
		t.Errorf("wrong survivor: %s", results[0].Content)
	}
}

func TestSearchEmptyIndexReturnsNoResults(t *testing.T) {
	idx := index.New(testDim)
	s := New(queryEmbedder{}, idx, config.SearchConfig{TopK: 20, ScoreThreshold: 0.3}, nil)
	results, err := s.Search(context.Background(), "robe", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	idx := index.New(testDim)
	s := New(queryEmbedder{}, idx, config.SearchConfig{TopK: 20, ScoreThreshold: 0.3}, nil)
	if _, err := s.Search(context.Background(), "   ", 0); err == nil {
		t.Fatal("expected error for blank query")
	}
}

func TestSearchProductBoost(t *testing.T) {
	s := testSearcher(t,
		[][]float32{vec(0.5), vec(0.45)},
		[]string{"TITRE_PAGE: Accueil", "PRODUIT_NOM: Robe"},
		[]document.Metadata{
			{Type: document.TypePage, SiteID: "a", Category: document.CategoryPageMetadata},
			{Type: document.TypeProduct, SiteID: "a", Category: document.CategoryProduct},
		})
	results, err := s.Search(context.Background(), "robe", 0)
	if err != nil {
		t.Fatal(err)
	}
	// 0.45 * 1.5 = 0.675 outranks the raw 0.5 page hit
	if results[0].Metadata.Category != document.CategoryProduct {
		t.Fatalf("product boost did not reorder: %+v", results)
	}
	if math.Abs(results[0].Score-0.675) > 1e-6 {
		t.Errorf("boosted score = %f, want 0.675", results[0].Score)
	}
	if math.Abs(results[0].Similarity-0.45) > 1e-6 {
		t.Errorf("raw similarity must stay unboosted, got %f", results[0].Similarity)
	}
}

func TestSearchPromotionQueryBoost(t *testing.T) {
	metas := []document.Metadata{
		{Type: document.TypeProduct, SiteID: "a", Category: document.CategoryProduct},
		{Type: document.TypeProduct, SiteID: "a", Category: document.CategoryProduct, IsPromoted: true},
	}
	docs := []string{
		"PRODUIT_NOM: Robe | PROMU: non",
		"PRODUIT_NOM: Sac | PROMU: oui | PRODUIT_EN_AVANT: oui",
	}
	s := testSearcher(t, [][]float32{vec(0.6), vec(0.4)}, docs, metas)

	// without "promo" in the query the stronger raw match wins
	results, err := s.Search(context.Background(), "produit", 0)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Metadata.IsPromoted {
		t.Fatal("promoted boost applied without a promo query")
	}

	// with "promo" the promoted product doubles past it: 0.4*1.5*2.0 = 1.2
	results, err = s.Search(context.Background(), "promotion produit", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !results[0].Metadata.IsPromoted {
		t.Fatalf("promoted product should rank first on a promo query: %+v", results)
	}
	if math.Abs(results[0].Score-1.2) > 1e-6 {
		t.Errorf("score = %f, want 1.2", results[0].Score)
	}
}

func TestSearchPriceAndDescriptionBoosts(t *testing.T) {
	metas := []document.Metadata{
		{Type: document.TypeProduct, SiteID: "a", Category: document.CategoryProduct},
		{Type: document.TypePage, SiteID: "a", Category: document.CategoryPageMetadata},
	}
	docs := []string{
		"PRODUIT_NOM: Robe | PRIX: 20 euro ",
		"TITRE_PAGE: Infos | DESCRIPTION: livraison",
	}
	s := testSearcher(t, [][]float32{vec(0.4), vec(0.4)}, docs, metas)

	results, err := s.Search(context.Background(), "prix robe", 0)
	if err != nil {
		t.Fatal(err)
	}
	// product: 0.4 * 1.5 (product) * 1.5 (prix) = 0.9
	if math.Abs(results[0].Score-0.9) > 1e-6 {
		t.Errorf("price-boosted score = %f, want 0.9", results[0].Score)
	}

	results, err = s.Search(context.Background(), "description livraison", 0)
	if err != nil {
		t.Fatal(err)
	}
	var pageScore float64
	for _, r := range results {
		if r.Metadata.Type == document.TypePage {
			pageScore = r.Score
		}
	}
	// page: 0.4 * 1.3 (description) = 0.52
	if math.Abs(pageScore-0.52) > 1e-6 {
		t.Errorf("description-boosted score = %f, want 0.52", pageScore)
	}
}

func TestSearchHonorsLimit(t *testing.T) {
	vectors := [][]float32{vec(0.9), vec(0.8), vec(0.7)}
	docs := []string{"a", "b", "c"}
	metas := make([]document.Metadata, 3)
	for i := range metas {
		metas[i] = document.Metadata{Type: document.TypePage, SiteID: "s", Category: document.CategoryPageMetadata}
	}
	s := testSearcher(t, vectors, docs, metas)
	results, err := s.Search(context.Background(), "query", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Content != "a" || results[1].Content != "b" {
		t.Errorf("unexpected order: %+v", results)
	}
}

func TestSearchCandidatesBoundByLimit(t *testing.T) {
	// Boosts re-rank inside the raw top-k only: a product outside it
	// cannot be promoted into the result set.
	s := testSearcher(t,
		[][]float32{vec(0.5), vec(0.45)},
		[]string{"TITRE_PAGE: Accueil", "PRODUIT_NOM: Robe"},
		[]document.Metadata{
			{Type: document.TypePage, SiteID: "a", Category: document.CategoryPageMetadata},
			{Type: document.TypeProduct, SiteID: "a", Category: document.CategoryProduct},
		})
	results, err := s.Search(context.Background(), "robe", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Metadata.Category != document.CategoryPageMetadata {
		t.Errorf("expected the raw top hit, got %+v", results[0])
	}
}
