package pipeline

import (
	"fmt"
	"sort"

	"github.com/kipavy/bigdata-filrouge/internal/models"
)

// DedupPolicy selects which observation of a duplicated report survives.
// The source republishes the same report across extraction cycles whenever
// the extraction interval is shorter than the reporting interval.
type DedupPolicy string

const (
	// PolicyLatestExtraction keeps the most recently observed copy (default).
	PolicyLatestExtraction DedupPolicy = "latest_extraction"
	// PolicyFirstExtraction keeps the earliest observed copy.
	PolicyFirstExtraction DedupPolicy = "first_extraction"
)

// Deduplicator collapses a validated batch to one canonical fact per
// (station_id, last_reported) and one canonical dimension view per station.
type Deduplicator struct {
	policy DedupPolicy
}

// NewDeduplicator creates a Deduplicator for the given policy. An unknown
// policy falls back to latest-extraction-wins.
func NewDeduplicator(policy DedupPolicy) *Deduplicator {
	switch policy {
	case PolicyLatestExtraction, PolicyFirstExtraction:
	default:
		policy = PolicyLatestExtraction
	}
	return &Deduplicator{policy: policy}
}

type reportKey struct {
	stationCode  string
	lastReported int64
}

// Collapse groups records by (station_id, last_reported) and keeps one
// representative per group, plus one dimension snapshot per station using the
// newest view in the batch. Outputs are sorted so a rerun over the same batch
// produces byte-identical write order.
func (d *Deduplicator) Collapse(records []models.NormalizedSnapshot) (facts, dimensions []models.NormalizedSnapshot) {
	factsByKey := make(map[reportKey]models.NormalizedSnapshot, len(records))
	dimsByStation := make(map[string]models.NormalizedSnapshot)

	for _, rec := range records {
		key := reportKey{stationCode: rec.StationCode, lastReported: rec.LastReported.UnixNano()}
		if current, ok := factsByKey[key]; !ok || d.wins(rec, current) {
			factsByKey[key] = rec
		}

		// Dimension attributes change slowly; the newest observation in the
		// batch always wins regardless of the fact policy.
		if current, ok := dimsByStation[rec.StationCode]; !ok || newerExtraction(rec, current) {
			dimsByStation[rec.StationCode] = rec
		}
	}

	facts = make([]models.NormalizedSnapshot, 0, len(factsByKey))
	for _, rec := range factsByKey {
		facts = append(facts, rec)
	}
	sort.Slice(facts, func(i, j int) bool {
		if facts[i].StationCode != facts[j].StationCode {
			return facts[i].StationCode < facts[j].StationCode
		}
		return facts[i].LastReported.Before(facts[j].LastReported)
	})

	dimensions = make([]models.NormalizedSnapshot, 0, len(dimsByStation))
	for _, rec := range dimsByStation {
		dimensions = append(dimensions, rec)
	}
	sort.Slice(dimensions, func(i, j int) bool {
		return dimensions[i].StationCode < dimensions[j].StationCode
	})

	return facts, dimensions
}

// wins reports whether candidate should replace current within a duplicate
// group under the configured policy.
func (d *Deduplicator) wins(candidate, current models.NormalizedSnapshot) bool {
	if d.policy == PolicyFirstExtraction {
		if candidate.ExtractedAt.Before(current.ExtractedAt) {
			return true
		}
		if current.ExtractedAt.Before(candidate.ExtractedAt) {
			return false
		}
		return canonicalKey(candidate) < canonicalKey(current)
	}
	return newerExtraction(candidate, current)
}

func newerExtraction(candidate, current models.NormalizedSnapshot) bool {
	if candidate.ExtractedAt.After(current.ExtractedAt) {
		return true
	}
	if current.ExtractedAt.After(candidate.ExtractedAt) {
		return false
	}
	// Equal extraction times: break the tie on a stable serialization so the
	// choice is arbitrary but reproducible.
	return canonicalKey(candidate) < canonicalKey(current)
}

func canonicalKey(rec models.NormalizedSnapshot) string {
	return fmt.Sprintf("%s|%d|%d|%d|%d|%d|%t|%t|%t",
		rec.StationCode,
		rec.LastReported.UnixNano(),
		rec.Capacity,
		rec.MechanicalBikes,
		rec.ElectricBikes,
		rec.DocksAvailable,
		rec.IsInstalled,
		rec.IsRenting,
		rec.IsReturning,
	)
}
