// Package history tracks generated content so publication calendars are not
// produced twice with near-identical day/channel structure.
package history

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vitrine-studio/vitrine/config"
	"github.com/vitrine-studio/vitrine/internal/store"
	"github.com/vitrine-studio/vitrine/internal/telemetry"
)

// Categories a generation can be filed under.
const (
	CategoryCalendar  = "calendar"
	CategoryMarketing = "marketing"
)

const previewLen = 200

// GenerateFunc produces one candidate response for a query. attempt starts at
// 1 and increments on each regeneration, letting the caller vary its prompt.
type GenerateFunc func(ctx context.Context, query string, attempt int) (string, error)

// SimilarityScorer scores how alike two generated texts are, in [0, 1].
type SimilarityScorer interface {
	Similarity(a, b string) float64
}

// calendarKeywords is the structural vocabulary of a French publication
// calendar: days, moments of the day, publication terms, and networks. Two
// calendars sharing nearly all of these are the same calendar reworded.
var calendarKeywords = []string{
	"lundi", "mardi", "mercredi", "jeudi", "vendredi", "samedi", "dimanche",
	"matin", "midi", "après-midi", "soir",
	"publication", "post", "contenu",
	"instagram", "facebook", "twitter", "tiktok", "linkedin",
}

// KeywordOverlapScorer counts how many calendar keywords appear in both
// texts, over the full vocabulary size.
type KeywordOverlapScorer struct{}

func (KeywordOverlapScorer) Similarity(a, b string) float64 {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	shared := 0
	for _, kw := range calendarKeywords {
		if strings.Contains(la, kw) && strings.Contains(lb, kw) {
			shared++
		}
	}
	return float64(shared) / float64(len(calendarKeywords))
}

// HistoryStore is the slice of the store this package needs.
type HistoryStore interface {
	AddGeneration(ctx context.Context, entry store.GenerationEntry) error
	RecentGenerations(ctx context.Context, category string, since time.Time) ([]store.GenerationEntry, error)
	GenerationStatsSummary(ctx context.Context) (store.GenerationStats, error)
}

type Tracker struct {
	store  HistoryStore
	scorer SimilarityScorer
	cfg    config.HistoryConfig
	logger *log.Logger
}

func NewTracker(st HistoryStore, cfg config.HistoryConfig, logger *log.Logger) *Tracker {
	if logger == nil {
		logger = log.Default()
	}
	return &Tracker{store: st, scorer: KeywordOverlapScorer{}, cfg: cfg, logger: logger}
}

// Record files one generation in the history log.
func (t *Tracker) Record(ctx context.Context, query, response, category string) error {
	sum := sha256.Sum256([]byte(response))
	preview := response
	if utf8.RuneCountInString(preview) > previewLen {
		preview = string([]rune(preview)[:previewLen])
	}
	err := t.store.AddGeneration(ctx, store.GenerationEntry{
		Query:           query,
		ResponseHash:    hex.EncodeToString(sum[:]),
		ResponsePreview: preview,
		Category:        category,
	})
	if err != nil {
		return fmt.Errorf("record generation: %w", err)
	}
	telemetry.ObserveGeneration(category)
	return nil
}

// IsSimilarCalendar reports whether content is a near-duplicate of a calendar
// generated inside the lookback window. The threshold is strict: a score
// exactly at it does not count as similar.
func (t *Tracker) IsSimilarCalendar(ctx context.Context, content string) (bool, error) {
	since := time.Now().UTC().AddDate(0, 0, -t.cfg.LookbackDays)
	recent, err := t.store.RecentGenerations(ctx, CategoryCalendar, since)
	if err != nil {
		return false, fmt.Errorf("load recent calendars: %w", err)
	}
	for _, e := range recent {
		if t.scorer.Similarity(content, e.ResponsePreview) > t.cfg.DedupThreshold {
			return true, nil
		}
	}
	return false, nil
}

// GenerateUniqueCalendar calls generate until its output is not a
// near-duplicate of a recent calendar, up to the configured attempt budget.
// When every attempt comes back similar, the last candidate is kept rather
// than failing the caller. The accepted calendar is recorded before return.
func (t *Tracker) GenerateUniqueCalendar(ctx context.Context, query string, generate GenerateFunc) (string, int, error) {
	var content string
	for attempt := 1; attempt <= t.cfg.MaxAttempts; attempt++ {
		var err error
		content, err = generate(ctx, query, attempt)
		if err != nil {
			return "", attempt, fmt.Errorf("generate calendar (attempt %d): %w", attempt, err)
		}
		similar, err := t.IsSimilarCalendar(ctx, content)
		if err != nil {
			return "", attempt, err
		}
		if !similar {
			if err := t.Record(ctx, query, content, CategoryCalendar); err != nil {
				return "", attempt, err
			}
			return content, attempt, nil
		}
		t.logger.Printf("calendar attempt %d too close to a recent one, regenerating", attempt)
	}
	if err := t.Record(ctx, query, content, CategoryCalendar); err != nil {
		return "", t.cfg.MaxAttempts, err
	}
	t.logger.Printf("keeping last calendar after %d similar attempts", t.cfg.MaxAttempts)
	return content, t.cfg.MaxAttempts, nil
}

// Recent lists history entries of one category inside the lookback window.
func (t *Tracker) Recent(ctx context.Context, category string) ([]store.GenerationEntry, error) {
	since := time.Now().UTC().AddDate(0, 0, -t.cfg.LookbackDays)
	return t.store.RecentGenerations(ctx, category, since)
}

// Stats summarizes the history log.
func (t *Tracker) Stats(ctx context.Context) (store.GenerationStats, error) {
	return t.store.GenerationStatsSummary(ctx)
}
