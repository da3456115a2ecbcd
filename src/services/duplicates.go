package services

import (
	"time"

	"github.com/williams2w4/tradej/src/models"
)

// FillHistoryLookup answers the one batched query duplicate detection
// needs: which (source, trade_time) pairs are already on record for the
// given source ids. Backed by model.LookupFillTimes in production.
type FillHistoryLookup interface {
	LookupFillTimes(sources []string) (map[string][]time.Time, error)
}

// CheckDuplicates flags the candidate fills that are already persisted.
// Two fills are the same real-world event iff they share a non-empty broker
// trade id and an identical execution timestamp; the id alone is not enough
// because brokers reuse ids across distinct records over time. Fills with
// no source id can never be flagged.
func CheckDuplicates(fills []models.NormalizedFill, lookup FillHistoryLookup) (map[int]struct{}, error) {
	duplicates := make(map[int]struct{})

	seen := make(map[string]struct{})
	var sources []string
	for _, fill := range fills {
		if fill.Source == "" {
			continue
		}
		if _, ok := seen[fill.Source]; ok {
			continue
		}
		seen[fill.Source] = struct{}{}
		sources = append(sources, fill.Source)
	}
	if len(sources) == 0 {
		return duplicates, nil
	}

	known, err := lookup.LookupFillTimes(sources)
	if err != nil {
		return nil, err
	}

	knownTimes := make(map[string]map[int64]struct{}, len(known))
	for source, times := range known {
		set := make(map[int64]struct{}, len(times))
		for _, t := range times {
			set[t.UnixNano()] = struct{}{}
		}
		knownTimes[source] = set
	}

	for i, fill := range fills {
		if fill.Source == "" {
			continue
		}
		set, ok := knownTimes[fill.Source]
		if !ok {
			continue
		}
		if _, ok := set[fill.TradeTime.UnixNano()]; ok {
			duplicates[i] = struct{}{}
		}
	}
	return duplicates, nil
}
