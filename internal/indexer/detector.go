package indexer

import (
	"context"
	"fmt"
	"sort"
)

// Action is the outcome of change detection.
type Action string

const (
	ActionNone        Action = "none"
	ActionFullRebuild Action = "full_rebuild"
	ActionIncremental Action = "incremental"
)

// SiteLister is the slice of the store the detector needs.
type SiteLister interface {
	ListSiteIDs(ctx context.Context) ([]string, error)
}

// IndexedSet is the slice of the index the detector needs.
type IndexedSet interface {
	IsInitialized() bool
	Size() int
	IndexedSiteIDs() map[string]struct{}
}

// Plan describes what a load pass should do. NewSiteIDs is populated only for
// incremental loads and is sorted for deterministic processing.
type Plan struct {
	Action       Action   `json:"action"`
	NewSiteIDs   []string `json:"new_site_ids,omitempty"`
	StoredSites  int      `json:"stored_sites"`
	IndexedSites int      `json:"indexed_sites"`
}

// DetectChanges compares the scrape store against the live index by site-id
// set difference. An uninitialized or empty index always rebuilds from
// scratch. Sites whose id is already indexed are never revisited, so a
// re-scrape of a known site goes unnoticed until the next full rebuild.
func DetectChanges(ctx context.Context, sites SiteLister, idx IndexedSet) (Plan, error) {
	stored, err := sites.ListSiteIDs(ctx)
	if err != nil {
		return Plan{}, fmt.Errorf("detect changes: %w", err)
	}
	plan := Plan{StoredSites: len(stored)}

	if !idx.IsInitialized() || idx.Size() == 0 {
		plan.Action = ActionFullRebuild
		return plan, nil
	}

	indexed := idx.IndexedSiteIDs()
	plan.IndexedSites = len(indexed)
	for _, id := range stored {
		if _, ok := indexed[id]; !ok {
			plan.NewSiteIDs = append(plan.NewSiteIDs, id)
		}
	}
	if len(plan.NewSiteIDs) == 0 {
		plan.Action = ActionNone
		return plan, nil
	}
	sort.Strings(plan.NewSiteIDs)
	plan.Action = ActionIncremental
	return plan, nil
}
