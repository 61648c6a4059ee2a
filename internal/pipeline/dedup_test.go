package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kipavy/bigdata-filrouge/internal/models"
)

func snapshot(code string, lastReported, extractedAt time.Time, mechanical int) models.NormalizedSnapshot {
	return models.NormalizedSnapshot{
		StationCode:     code,
		Name:            "Station " + code,
		Latitude:        48.86,
		Longitude:       2.35,
		Capacity:        30,
		MechanicalBikes: mechanical,
		ElectricBikes:   2,
		DocksAvailable:  30 - mechanical - 2,
		IsInstalled:     true,
		IsRenting:       true,
		IsReturning:     true,
		LastReported:    lastReported,
		ExtractedAt:     extractedAt,
	}
}

func TestDeduplicator_Collapse(t *testing.T) {
	t1 := time.Date(2024, 3, 10, 8, 30, 0, 0, time.UTC)
	t2 := t1.Add(10 * time.Minute)

	records := []models.NormalizedSnapshot{
		snapshot("16107", t1, t1.Add(1*time.Minute), 5),
		snapshot("16107", t1, t1.Add(6*time.Minute), 4), // same report, later extraction
		snapshot("16107", t2, t2.Add(1*time.Minute), 3),
		snapshot("11003", t1, t1.Add(1*time.Minute), 8),
	}

	facts, dimensions := NewDeduplicator(PolicyLatestExtraction).Collapse(records)

	require.Len(t, facts, 3)
	require.Len(t, dimensions, 2)

	// Sorted by station, then report time.
	assert.Equal(t, "11003", facts[0].StationCode)
	assert.Equal(t, "16107", facts[1].StationCode)
	assert.True(t, facts[1].LastReported.Equal(t1))
	assert.True(t, facts[2].LastReported.Equal(t2))

	// Latest extraction wins within the duplicate group.
	assert.Equal(t, 4, facts[1].MechanicalBikes)

	// Dimension snapshot per station comes from the newest extraction.
	assert.Equal(t, "11003", dimensions[0].StationCode)
	assert.Equal(t, "16107", dimensions[1].StationCode)
	assert.True(t, dimensions[1].ExtractedAt.Equal(t2.Add(1*time.Minute)))
}

func TestDeduplicator_FirstExtractionPolicy(t *testing.T) {
	t1 := time.Date(2024, 3, 10, 8, 30, 0, 0, time.UTC)

	records := []models.NormalizedSnapshot{
		snapshot("16107", t1, t1.Add(6*time.Minute), 4),
		snapshot("16107", t1, t1.Add(1*time.Minute), 5),
	}

	facts, dimensions := NewDeduplicator(PolicyFirstExtraction).Collapse(records)

	require.Len(t, facts, 1)
	assert.Equal(t, 5, facts[0].MechanicalBikes)

	// The dimension view still follows the newest extraction.
	require.Len(t, dimensions, 1)
	assert.True(t, dimensions[0].ExtractedAt.Equal(t1.Add(6*time.Minute)))
}

func TestDeduplicator_TieBreakIsDeterministic(t *testing.T) {
	t1 := time.Date(2024, 3, 10, 8, 30, 0, 0, time.UTC)
	extracted := t1.Add(1 * time.Minute)

	a := snapshot("16107", t1, extracted, 4)
	b := snapshot("16107", t1, extracted, 5)

	facts1, _ := NewDeduplicator(PolicyLatestExtraction).Collapse([]models.NormalizedSnapshot{a, b})
	facts2, _ := NewDeduplicator(PolicyLatestExtraction).Collapse([]models.NormalizedSnapshot{b, a})

	require.Len(t, facts1, 1)
	require.Len(t, facts2, 1)

	// Same winner regardless of input order.
	assert.Equal(t, facts1[0], facts2[0])
}

func TestDeduplicator_UnknownPolicyFallsBackToLatest(t *testing.T) {
	t1 := time.Date(2024, 3, 10, 8, 30, 0, 0, time.UTC)

	records := []models.NormalizedSnapshot{
		snapshot("16107", t1, t1.Add(1*time.Minute), 5),
		snapshot("16107", t1, t1.Add(6*time.Minute), 4),
	}

	facts, _ := NewDeduplicator(DedupPolicy("whatever")).Collapse(records)

	require.Len(t, facts, 1)
	assert.Equal(t, 4, facts[0].MechanicalBikes)
}

func TestDeduplicator_EmptyInput(t *testing.T) {
	facts, dimensions := NewDeduplicator(PolicyLatestExtraction).Collapse(nil)

	assert.Empty(t, facts)
	assert.Empty(t, dimensions)
}
