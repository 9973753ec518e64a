package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vitrine-studio/vitrine/internal/history"
	"github.com/vitrine-studio/vitrine/internal/index"
	"github.com/vitrine-studio/vitrine/internal/indexer"
	"github.com/vitrine-studio/vitrine/internal/search"
	"github.com/vitrine-studio/vitrine/internal/telemetry"
)

// HTTPError is the error body every endpoint returns.
type HTTPError struct {
	Error string `json:"error"`
}

type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

type SearchResponse struct {
	Query          string          `json:"query"`
	Results        []search.Result `json:"results"`
	Count          int             `json:"count"`
	NoRelevantData bool            `json:"no_relevant_data,omitempty"`
}

type SearchHandler struct {
	Searcher *search.Searcher
}

func (h *SearchHandler) Register(g *echo.Group) {
	g.POST("/search", h.search)
}

func (h *SearchHandler) search(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	results, err := h.Searcher.Search(c.Request().Context(), req.Query, req.Limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	if results == nil {
		results = []search.Result{}
	}
	// An empty hit list is an answer, not an error: the caller is told
	// explicitly that nothing relevant is indexed.
	return c.JSON(http.StatusOK, SearchResponse{
		Query:          req.Query,
		Results:        results,
		Count:          len(results),
		NoRelevantData: len(results) == 0,
	})
}

type StatusResponse struct {
	Initialized bool               `json:"initialized"`
	Documents   int                `json:"documents"`
	Sites       int                `json:"sites"`
	Loading     bool               `json:"loading"`
	LastLoad    *indexer.LoadStats `json:"last_load,omitempty"`
}

type IndexHandler struct {
	Indexer *indexer.Indexer
	Index   *index.Store
	Sites   indexer.SiteSource
}

func (h *IndexHandler) Register(g *echo.Group) {
	g.GET("/status", h.status)
	g.GET("/changes", h.changes)
	g.POST("/load", h.load)
	g.POST("/rebuild", h.rebuild)
}

func (h *IndexHandler) status(c echo.Context) error {
	resp := StatusResponse{
		Initialized: h.Index.IsInitialized(),
		Documents:   h.Index.Size(),
		Sites:       len(h.Index.IndexedSiteIDs()),
		Loading:     h.Indexer.Loading(),
	}
	if last := h.Indexer.LastLoad(); !last.StartedAt.IsZero() {
		resp.LastLoad = &last
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *IndexHandler) changes(c echo.Context) error {
	plan, err := indexer.DetectChanges(c.Request().Context(), h.Sites, h.Index)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, plan)
}

func (h *IndexHandler) load(c echo.Context) error    { return h.startLoad(c, false) }
func (h *IndexHandler) rebuild(c echo.Context) error { return h.startLoad(c, true) }

// startLoad kicks the load off in the background and answers immediately; the
// caller polls /status for the outcome. Loads over large corpora take minutes.
func (h *IndexHandler) startLoad(c echo.Context, force bool) error {
	if h.Indexer.Loading() {
		return echo.NewHTTPError(http.StatusConflict, indexer.ErrLoadInProgress.Error())
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		stats, err := h.Indexer.Load(ctx, force)
		telemetry.ObserveLoad(string(stats.Action), err)
	}()
	return c.JSON(http.StatusAccepted, map[string]string{"status": "loading"})
}

type RecordGenerationRequest struct {
	Query    string `json:"query"`
	Response string `json:"response"`
	Category string `json:"category"`
}

type CalendarCheckRequest struct {
	Response string `json:"response"`
}

type CalendarCheckResponse struct {
	Similar bool `json:"similar"`
}

type HistoryHandler struct {
	Tracker *history.Tracker
}

func (h *HistoryHandler) Register(g *echo.Group) {
	g.GET("/history", h.list)
	g.GET("/history/stats", h.stats)
	g.POST("/history", h.record)
	g.POST("/calendar/check", h.calendarCheck)
}

func (h *HistoryHandler) list(c echo.Context) error {
	category := c.QueryParam("category")
	if category == "" {
		category = history.CategoryCalendar
	}
	entries, err := h.Tracker.Recent(c.Request().Context(), category)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *HistoryHandler) stats(c echo.Context) error {
	stats, err := h.Tracker.Stats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *HistoryHandler) record(c echo.Context) error {
	var req RecordGenerationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Response == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "response is required")
	}
	if req.Category == "" {
		req.Category = history.CategoryMarketing
	}
	if err := h.Tracker.Record(c.Request().Context(), req.Query, req.Response, req.Category); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]string{"status": "recorded"})
}

func (h *HistoryHandler) calendarCheck(c echo.Context) error {
	var req CalendarCheckRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Response == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "response is required")
	}
	similar, err := h.Tracker.IsSimilarCalendar(c.Request().Context(), req.Response)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, CalendarCheckResponse{Similar: similar})
}
