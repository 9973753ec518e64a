package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vitrine-studio/vitrine/config"
	"github.com/vitrine-studio/vitrine/internal/document"
	"github.com/vitrine-studio/vitrine/internal/history"
	"github.com/vitrine-studio/vitrine/internal/index"
	"github.com/vitrine-studio/vitrine/internal/indexer"
	"github.com/vitrine-studio/vitrine/internal/search"
	"github.com/vitrine-studio/vitrine/internal/store"
	"github.com/vitrine-studio/vitrine/models"
)

const testDim = 4

type fakeEmbedder struct{}

func (fakeEmbedder) EnsureLoaded(ctx context.Context) error { return nil }

func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

func (fakeEmbedder) Dimensions() int { return testDim }

type fakeSites struct {
	ids   []string
	sites []models.SiteRecord
}

func (f *fakeSites) ListSiteIDs(ctx context.Context) ([]string, error) { return f.ids, nil }

func (f *fakeSites) GetSitesByIDs(ctx context.Context, ids []string) ([]models.SiteRecord, error) {
	return f.sites, nil
}

func (f *fakeSites) ListAllSites(ctx context.Context) ([]models.SiteRecord, error) {
	return f.sites, nil
}

type memHistory struct {
	entries []store.GenerationEntry
}

func (m *memHistory) AddGeneration(ctx context.Context, e store.GenerationEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *memHistory) RecentGenerations(ctx context.Context, category string, since time.Time) ([]store.GenerationEntry, error) {
	var out []store.GenerationEntry
	for _, e := range m.entries {
		if e.Category == category {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memHistory) GenerationStatsSummary(ctx context.Context) (store.GenerationStats, error) {
	return store.GenerationStats{Total: len(m.entries)}, nil
}

func seededIndex(t *testing.T) *index.Store {
	t.Helper()
	idx := index.New(testDim)
	err := idx.Add(
		[][]float32{{0.9, 0, 0, 0}},
		[]string{"PRODUIT_NOM: Robe | PRIX: 20 euro "},
		[]document.Metadata{{Type: document.TypeProduct, SiteID: "a", Category: document.CategoryProduct}},
	)
	if err != nil {
		t.Fatal(err)
	}
	return idx
}

func doJSON(t *testing.T, e *echo.Echo, h echo.HandlerFunc, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func TestSearchEndpoint(t *testing.T) {
	e := echo.New()
	searcher := search.New(fakeEmbedder{}, seededIndex(t), config.SearchConfig{TopK: 20, ScoreThreshold: 0.3}, nil)
	h := &SearchHandler{Searcher: searcher}

	rec := doJSON(t, e, h.search, http.MethodPost, "/api/search", `{"query":"robe"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp SearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 1 || len(resp.Results) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Results[0].Metadata.Category != document.CategoryProduct {
		t.Errorf("unexpected hit: %+v", resp.Results[0])
	}
	if resp.NoRelevantData {
		t.Error("no_relevant_data must be unset when results exist")
	}
}

func TestSearchEndpointFlagsNoRelevantData(t *testing.T) {
	e := echo.New()
	searcher := search.New(fakeEmbedder{}, index.New(testDim), config.SearchConfig{TopK: 20, ScoreThreshold: 0.3}, nil)
	h := &SearchHandler{Searcher: searcher}

	rec := doJSON(t, e, h.search, http.MethodPost, "/api/search", `{"query":"robe"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (empty index is not an error)", rec.Code)
	}
	var resp SearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 0 || !resp.NoRelevantData {
		t.Fatalf("expected explicit no-relevant-data payload, got %+v", resp)
	}
}

func TestSearchEndpointRejectsBlankQuery(t *testing.T) {
	e := echo.New()
	searcher := search.New(fakeEmbedder{}, seededIndex(t), config.SearchConfig{TopK: 20, ScoreThreshold: 0.3}, nil)
	h := &SearchHandler{Searcher: searcher}

	rec := doJSON(t, e, h.search, http.MethodPost, "/api/search", `{"query":"  "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestIndexStatusEndpoint(t *testing.T) {
	e := echo.New()
	idx := seededIndex(t)
	sites := &fakeSites{ids: []string{"a", "b"}}
	ix := indexer.New(sites, fakeEmbedder{}, idx, t.TempDir(), nil)
	h := &IndexHandler{Indexer: ix, Index: idx, Sites: sites}

	rec := doJSON(t, e, h.status, http.MethodGet, "/api/index/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Initialized || resp.Documents != 1 || resp.Sites != 1 {
		t.Errorf("unexpected status: %+v", resp)
	}
	if resp.Loading {
		t.Error("no load is running")
	}
}

func TestIndexChangesEndpoint(t *testing.T) {
	e := echo.New()
	idx := seededIndex(t)
	sites := &fakeSites{ids: []string{"a", "b"}}
	ix := indexer.New(sites, fakeEmbedder{}, idx, t.TempDir(), nil)
	h := &IndexHandler{Indexer: ix, Index: idx, Sites: sites}

	rec := doJSON(t, e, h.changes, http.MethodGet, "/api/index/changes", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var plan indexer.Plan
	if err := json.Unmarshal(rec.Body.Bytes(), &plan); err != nil {
		t.Fatal(err)
	}
	if plan.Action != indexer.ActionIncremental || len(plan.NewSiteIDs) != 1 || plan.NewSiteIDs[0] != "b" {
		t.Errorf("unexpected plan: %+v", plan)
	}
}

func TestIndexLoadEndpointAccepts(t *testing.T) {
	e := echo.New()
	idx := index.New(testDim)
	sites := &fakeSites{}
	ix := indexer.New(sites, fakeEmbedder{}, idx, t.TempDir(), nil)
	h := &IndexHandler{Indexer: ix, Index: idx, Sites: sites}

	rec := doJSON(t, e, h.load, http.MethodPost, "/api/index/load", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
}

func TestHistoryRecordAndList(t *testing.T) {
	e := echo.New()
	tr := history.NewTracker(&memHistory{}, config.HistoryConfig{
		RetentionDays: 30, MaxEntries: 100, LookbackDays: 7, DedupThreshold: 0.8, MaxAttempts: 3,
	}, nil)
	h := &HistoryHandler{Tracker: tr}

	rec := doJSON(t, e, h.record, http.MethodPost, "/api/history",
		`{"query":"slogan","response":"Un slogan accrocheur","category":"marketing"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, e, h.list, http.MethodGet, "/api/history?category=marketing", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var entries []store.GenerationEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Query != "slogan" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestHistoryRecordRequiresResponse(t *testing.T) {
	e := echo.New()
	tr := history.NewTracker(&memHistory{}, config.HistoryConfig{LookbackDays: 7, DedupThreshold: 0.8, MaxAttempts: 3}, nil)
	h := &HistoryHandler{Tracker: tr}

	rec := doJSON(t, e, h.record, http.MethodPost, "/api/history", `{"query":"q"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCalendarCheckEndpoint(t *testing.T) {
	e := echo.New()
	mem := &memHistory{}
	cfg := config.HistoryConfig{RetentionDays: 30, MaxEntries: 100, LookbackDays: 7, DedupThreshold: 0.8, MaxAttempts: 3}
	tr := history.NewTracker(mem, cfg, nil)
	h := &HistoryHandler{Tracker: tr}

	full := "lundi mardi mercredi jeudi vendredi samedi dimanche matin midi après-midi soir " +
		"publication post contenu instagram facebook twitter tiktok linkedin"
	if err := tr.Record(context.Background(), "calendrier", full, history.CategoryCalendar); err != nil {
		t.Fatal(err)
	}

	body, _ := json.Marshal(CalendarCheckRequest{Response: full})
	rec := doJSON(t, e, h.calendarCheck, http.MethodPost, "/api/calendar/check", string(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp CalendarCheckResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Similar {
		t.Error("identical calendar should read as similar")
	}

	body, _ = json.Marshal(CalendarCheckRequest{Response: "Texte sans structure de calendrier"})
	rec = doJSON(t, e, h.calendarCheck, http.MethodPost, "/api/calendar/check", string(body))
	var resp2 CalendarCheckResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp2); err != nil {
		t.Fatal(err)
	}
	if resp2.Similar {
		t.Error("unrelated text must not read as similar")
	}
}

func TestSchedulerIsDue(t *testing.T) {
	past := time.Now().Add(-2 * time.Hour)
	recent := time.Now().Add(-10 * time.Minute)
	cases := []struct {
		name string
		spec string
		last *time.Time
		want bool
	}{
		{"hourly never run", "@hourly", nil, true},
		{"hourly overdue", "@hourly", &past, true},
		{"hourly fresh", "@hourly", &recent, false},
		{"daily fresh", "@daily", &past, false},
		{"cron overdue", "*/30 * * * *", &past, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := isDue(c.spec, c.last); got != c.want {
				t.Errorf("isDue(%q) = %v, want %v", c.spec, got, c.want)
			}
		})
	}
}
