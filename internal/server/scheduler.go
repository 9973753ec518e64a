package server

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/vitrine-studio/vitrine/internal/indexer"
	"github.com/vitrine-studio/vitrine/internal/telemetry"
)

// Scheduler refreshes the index in the background so new scrapes get picked
// up without an operator calling /api/index/load.
type Scheduler struct {
	Indexer  *indexer.Indexer
	Rdb      *redis.Client
	CronSpec string
	Interval time.Duration
	Stop     chan struct{}

	lastRun *time.Time
}

func (s *Scheduler) Start() {
	interval := s.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	if !isDue(s.CronSpec, s.lastRun) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	// distributed lock so only one replica refreshes
	if s.Rdb != nil {
		ok, _ := s.Rdb.SetNX(ctx, "vitrine:index:refresh:lock", "1", 30*time.Minute).Result()
		if !ok {
			return
		}
		defer s.Rdb.Del(ctx, "vitrine:index:refresh:lock")
	}

	now := time.Now()
	s.lastRun = &now
	stats, err := s.Indexer.Load(ctx, false)
	telemetry.ObserveLoad(string(stats.Action), err)
	if err != nil && !errors.Is(err, indexer.ErrLoadInProgress) {
		log.Printf("[SCHED] index refresh failed: %v", err)
	}
}

// isDue determines if a refresh with cronSpec should run now based on the
// last run time. Supports "@daily", "@hourly", and standard 5-field cron
// expressions.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			if last == nil {
				return true
			}
			return now.Sub(*last) >= time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
