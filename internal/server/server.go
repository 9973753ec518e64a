// Package server exposes the indexing and retrieval engine over HTTP.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/vitrine-studio/vitrine/config"
	"github.com/vitrine-studio/vitrine/internal/embedding"
	"github.com/vitrine-studio/vitrine/internal/history"
	"github.com/vitrine-studio/vitrine/internal/index"
	"github.com/vitrine-studio/vitrine/internal/indexer"
	"github.com/vitrine-studio/vitrine/internal/search"
	"github.com/vitrine-studio/vitrine/internal/store"
)

func Run(cfg *config.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()
	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		log.Printf("migrations: %v", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}
	st.HistoryRetention = cfg.History.Retention()
	st.HistoryMaxEntries = cfg.History.MaxEntries

	embedder := embedding.NewClient(cfg.Embedding, log.New(log.Writer(), "[EMBED] ", log.LstdFlags))
	idx := index.New(cfg.Embedding.Dimensions)
	ix := indexer.New(st, embedder, idx, cfg.Index.DataDir, log.New(log.Writer(), "[INDEXER] ", log.LstdFlags))
	if err := ix.Restore(); err != nil {
		return err
	}
	searcher := search.New(embedder, idx, cfg.Search, log.New(log.Writer(), "[SEARCH] ", log.LstdFlags))
	tracker := history.NewTracker(st, cfg.History, log.New(log.Writer(), "[HISTORY] ", log.LstdFlags))

	api := e.Group("/api")
	ih := &IndexHandler{Indexer: ix, Index: idx, Sites: st}
	ih.Register(api.Group("/index"))
	sh := &SearchHandler{Searcher: searcher}
	sh.Register(api)
	hh := &HistoryHandler{Tracker: tracker}
	hh.Register(api)

	if cfg.Scheduler.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s:%s): %w", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port, err)
		}
		sched := &Scheduler{Indexer: ix, Rdb: rdb, CronSpec: cfg.Scheduler.CronSpec, Interval: cfg.Scheduler.Interval, Stop: make(chan struct{})}
		sched.Start()
		defer close(sched.Stop)
	}

	if addr == "" {
		addr = cfg.General.Listen
		if addr != "" && addr[0] != ':' {
			addr = ":" + addr
		}
		if addr == "" {
			addr = ":10100"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
