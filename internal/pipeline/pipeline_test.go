package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kipavy/bigdata-filrouge/internal/models"
	"github.com/kipavy/bigdata-filrouge/internal/repository"
	"github.com/kipavy/bigdata-filrouge/internal/staging"
	"github.com/kipavy/bigdata-filrouge/pkg/logging"
	"github.com/kipavy/bigdata-filrouge/pkg/metrics"
)

// Shared collector: promauto registers against the default registry, so each
// test binary gets exactly one.
var testMetrics = metrics.NewCollector("pipeline_test")

func testLogger() *logging.StructuredLogger {
	logger := logging.NewStructuredLogger("pipeline-test", "test", logging.ErrorLevel)
	logger.SetOutput(io.Discard)
	return logger
}

// fakeStaging holds staged batches in memory, oldest first.
type fakeStaging struct {
	batches      []*models.StagedBatch
	markErr      error
	markedCalled int
}

func (f *fakeStaging) InsertBatch(ctx context.Context, batch *models.StagedBatch) error {
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeStaging) FetchNextUnprocessed(ctx context.Context) (*models.StagedBatch, error) {
	for _, batch := range f.batches {
		if !batch.Processed {
			return batch, nil
		}
	}
	return nil, staging.ErrNoBatch
}

func (f *fakeStaging) MarkProcessed(ctx context.Context, batchID string) error {
	f.markedCalled++
	if f.markErr != nil {
		return f.markErr
	}
	for _, batch := range f.batches {
		if batch.BatchID == batchID {
			now := time.Now().UTC()
			batch.Processed = true
			batch.ProcessedAt = &now
		}
	}
	return nil
}

func (f *fakeStaging) HealthCheck(ctx context.Context) error { return nil }
func (f *fakeStaging) Close(ctx context.Context) error       { return nil }

// fakeWarehouse applies batches to in-memory maps with the same idempotency
// semantics as the real writer: dimension upserts, fact inserts skipped on
// duplicate (station_id, last_reported).
type fakeWarehouse struct {
	stations map[string]*models.StationRecord
	facts    map[string]*models.AvailabilityRecord
	writeErr error
}

func newFakeWarehouse() *fakeWarehouse {
	return &fakeWarehouse{
		stations: make(map[string]*models.StationRecord),
		facts:    make(map[string]*models.AvailabilityRecord),
	}
}

func (f *fakeWarehouse) ApplyBatch(ctx context.Context, stations []*models.StationRecord, facts []*models.AvailabilityRecord) (*repository.BatchOutcome, error) {
	if f.writeErr != nil {
		// Simulates a rollback: nothing becomes visible.
		return nil, f.writeErr
	}

	outcome := &repository.BatchOutcome{}
	now := time.Now().UTC()

	for _, station := range stations {
		record := *station
		if existing, ok := f.stations[station.StationID]; ok {
			record.CreatedAt = existing.CreatedAt
		} else {
			record.CreatedAt = now
		}
		record.UpdatedAt = now
		f.stations[station.StationID] = &record
		outcome.UpsertedStations++
	}

	for _, fact := range facts {
		key := fmt.Sprintf("%s|%d", fact.StationID, fact.LastReported.UnixNano())
		if _, ok := f.facts[key]; ok {
			outcome.SkippedDuplicateFacts++
			continue
		}
		record := *fact
		record.IngestedAt = now
		f.facts[key] = &record
		outcome.InsertedFacts++
	}

	return outcome, nil
}

func stagedBatch(id string, records ...models.RawSnapshot) *models.StagedBatch {
	return &models.StagedBatch{
		BatchID:     id,
		Source:      "velib_opendatasoft_api",
		ExtractedAt: time.Now().UTC(),
		RecordCount: len(records),
		Records:     records,
	}
}

func rawSnap(code string, lastReported, extractedAt time.Time, mechanical int) models.RawSnapshot {
	return models.RawSnapshot{
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
		LastReported:    lastReported.Format(time.RFC3339),
		ExtractedAt:     extractedAt.Format(time.RFC3339),
	}
}

func newTestRunner(store staging.Store, warehouse repository.WarehouseWriter) *Runner {
	return NewRunner(store, warehouse, PolicyLatestExtraction, testLogger(), testMetrics)
}

func TestRunner_Run(t *testing.T) {
	t1 := time.Date(2024, 3, 10, 8, 30, 0, 0, time.UTC)
	t2 := t1.Add(10 * time.Minute)

	records := []models.RawSnapshot{
		rawSnap("16107", t1, t1.Add(1*time.Minute), 5),
		rawSnap("16107", t1, t1.Add(6*time.Minute), 4),
		rawSnap("16107", t2, t2.Add(1*time.Minute), 3),
	}

	store := &fakeStaging{batches: []*models.StagedBatch{stagedBatch("batch-1", records...)}}
	warehouse := newFakeWarehouse()
	runner := newTestRunner(store, warehouse)

	summary, err := runner.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StateDone, summary.Status)
	assert.Equal(t, "batch-1", summary.BatchID)
	assert.Equal(t, 3, summary.Accepted)
	assert.Equal(t, 0, summary.Rejected)
	assert.Equal(t, 1, summary.UpsertedStations)
	assert.Equal(t, 2, summary.InsertedFacts)
	assert.Equal(t, 0, summary.SkippedDuplicateFacts)
	assert.Empty(t, summary.Errors)

	// The duplicated report keeps the later extraction's counts.
	fact := warehouse.facts[fmt.Sprintf("16107|%d", t1.UnixNano())]
	require.NotNil(t, fact)
	assert.Equal(t, 4, fact.MechanicalBikes)
	assert.True(t, fact.IsOperational)

	// Batch is marked processed.
	assert.True(t, store.batches[0].Processed)
	require.NotNil(t, store.batches[0].ProcessedAt)
}

func TestRunner_ReplayIsIdempotent(t *testing.T) {
	t1 := time.Date(2024, 3, 10, 8, 30, 0, 0, time.UTC)
	t2 := t1.Add(10 * time.Minute)

	records := []models.RawSnapshot{
		rawSnap("16107", t1, t1.Add(1*time.Minute), 5),
		rawSnap("16107", t2, t2.Add(1*time.Minute), 3),
	}

	warehouse := newFakeWarehouse()

	store := &fakeStaging{batches: []*models.StagedBatch{stagedBatch("batch-1", records...)}}
	_, err := newTestRunner(store, warehouse).Run(context.Background())
	require.NoError(t, err)

	// Same payload staged again, e.g. after a crash between commit and
	// mark-processed.
	replay := &fakeStaging{batches: []*models.StagedBatch{stagedBatch("batch-1-replay", records...)}}
	summary, err := newTestRunner(replay, warehouse).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StateDone, summary.Status)
	assert.Equal(t, 1, summary.UpsertedStations)
	assert.Equal(t, 0, summary.InsertedFacts)
	assert.Equal(t, 2, summary.SkippedDuplicateFacts)

	assert.Len(t, warehouse.facts, 2)
	assert.Len(t, warehouse.stations, 1)
}

func TestRunner_RejectsInvalidRecordsAndCommitsRest(t *testing.T) {
	t1 := time.Date(2024, 3, 10, 8, 30, 0, 0, time.UTC)

	bad := rawSnap("11003", t1, t1.Add(1*time.Minute), 5)
	bad.Capacity = -1

	noID := rawSnap("", t1, t1.Add(1*time.Minute), 5)

	records := []models.RawSnapshot{
		rawSnap("16107", t1, t1.Add(1*time.Minute), 5),
		bad,
		noID,
	}

	store := &fakeStaging{batches: []*models.StagedBatch{stagedBatch("batch-1", records...)}}
	warehouse := newFakeWarehouse()

	summary, err := newTestRunner(store, warehouse).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StateDone, summary.Status)
	assert.Equal(t, 1, summary.Accepted)
	assert.Equal(t, 2, summary.Rejected)
	assert.Equal(t, 1, summary.InsertedFacts)

	require.Len(t, summary.Errors, 2)
	assert.Equal(t, ReasonNegativeCount, summary.Errors[0].Reason)
	assert.Contains(t, summary.Errors[0].RecordRef, "11003")
	assert.Equal(t, ReasonMissingID, summary.Errors[1].Reason)
	assert.Equal(t, "record[2]", summary.Errors[1].RecordRef)

	// Rejections never block the valid rows.
	assert.Len(t, warehouse.facts, 1)
	assert.True(t, store.batches[0].Processed)
}

func TestRunner_WriteFailureLeavesBatchUnprocessed(t *testing.T) {
	t1 := time.Date(2024, 3, 10, 8, 30, 0, 0, time.UTC)

	store := &fakeStaging{batches: []*models.StagedBatch{
		stagedBatch("batch-1", rawSnap("16107", t1, t1.Add(1*time.Minute), 5)),
	}}
	warehouse := newFakeWarehouse()
	warehouse.writeErr = errors.New("connection reset by peer")

	summary, err := newTestRunner(store, warehouse).Run(context.Background())

	require.Error(t, err)
	assert.Equal(t, StateFailed, summary.Status)
	assert.Equal(t, "batch-1", summary.BatchID)

	// Nothing became visible and the batch stays claimable for a retry.
	assert.Empty(t, warehouse.stations)
	assert.Empty(t, warehouse.facts)
	assert.False(t, store.batches[0].Processed)
	assert.Zero(t, store.markedCalled)
}

func TestRunner_MarkProcessedFailureAfterCommit(t *testing.T) {
	t1 := time.Date(2024, 3, 10, 8, 30, 0, 0, time.UTC)

	store := &fakeStaging{
		batches: []*models.StagedBatch{
			stagedBatch("batch-1", rawSnap("16107", t1, t1.Add(1*time.Minute), 5)),
		},
		markErr: errors.New("staging unreachable"),
	}
	warehouse := newFakeWarehouse()

	summary, err := newTestRunner(store, warehouse).Run(context.Background())

	// The run fails but the warehouse commit stands; replaying is harmless.
	require.Error(t, err)
	assert.Equal(t, StateFailed, summary.Status)
	assert.Len(t, warehouse.facts, 1)
	assert.False(t, store.batches[0].Processed)
}

func TestRunner_EmptyStagingIsNoOp(t *testing.T) {
	store := &fakeStaging{}
	warehouse := newFakeWarehouse()

	summary, err := newTestRunner(store, warehouse).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StateDone, summary.Status)
	assert.Empty(t, summary.BatchID)
	assert.Zero(t, summary.Accepted)
	assert.Zero(t, summary.InsertedFacts)
}
