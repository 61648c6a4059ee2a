package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kipavy/bigdata-filrouge/internal/models"
	"github.com/kipavy/bigdata-filrouge/internal/repository"
	"github.com/kipavy/bigdata-filrouge/internal/staging"
	"github.com/kipavy/bigdata-filrouge/pkg/logging"
	"github.com/kipavy/bigdata-filrouge/pkg/metrics"
)

// State is the transform-load run state
type State string

const (
	StateFetching   State = "FETCHING"
	StateValidating State = "VALIDATING"
	StateDeduping   State = "DEDUPING"
	StateWriting    State = "WRITING"
	StateDone       State = "DONE"
	StateFailed     State = "FAILED"
)

// RunSummary is the outcome of one transform-load run
type RunSummary struct {
	RunID                 string        `json:"run_id"`
	BatchID               string        `json:"batch_id,omitempty"`
	Status                State         `json:"status"`
	Accepted              int           `json:"accepted"`
	Rejected              int           `json:"rejected"`
	UpsertedStations      int           `json:"upserted_stations"`
	InsertedFacts         int           `json:"inserted_facts"`
	SkippedDuplicateFacts int           `json:"skipped_duplicate_facts"`
	Errors                []Rejection   `json:"errors,omitempty"`
	Duration              time.Duration `json:"duration_ns"`
}

// Runner orchestrates one transform-load run over the next staged batch:
// fetch, validate, dedup, write, mark processed. Every warehouse write is
// idempotent, so a retried run over the same batch converges to the same
// final state.
type Runner struct {
	staging   staging.Store
	warehouse repository.WarehouseWriter
	validator *Validator
	dedup     *Deduplicator
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
}

// NewRunner creates a new transform-load Runner
func NewRunner(
	stagingStore staging.Store,
	warehouse repository.WarehouseWriter,
	dedupPolicy DedupPolicy,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *Runner {
	return &Runner{
		staging:   stagingStore,
		warehouse: warehouse,
		validator: NewValidator(),
		dedup:     NewDeduplicator(dedupPolicy),
		logger:    logger,
		metrics:   metricsCollector,
	}
}

// Run executes one transform-load cycle. A run with nothing staged is a
// successful no-op. A run that fails in the writer leaves the batch marked
// unprocessed so a retry reprocesses it from scratch.
func (r *Runner) Run(ctx context.Context) (*RunSummary, error) {
	startTime := time.Now()

	summary := &RunSummary{
		RunID:  uuid.NewString(),
		Status: StateFetching,
	}
	log := r.logger.WithFields(logging.Fields{"run_id": summary.RunID})

	defer func() {
		summary.Duration = time.Since(startTime)
		r.metrics.PipelineRunDuration.Observe(summary.Duration.Seconds())
		r.metrics.RecordRunStatus(string(summary.Status))
	}()

	log.Info(ctx, "[RUN_START] Starting transform-load run", logging.Fields{
		"stage": StateFetching,
	})

	batch, err := r.staging.FetchNextUnprocessed(ctx)
	if errors.Is(err, staging.ErrNoBatch) {
		summary.Status = StateDone
		log.Info(ctx, "[RUN_EMPTY] No unprocessed batch staged", logging.Fields{
			"stage": StateDone,
		})
		return summary, nil
	}
	if err != nil {
		summary.Status = StateFailed
		log.Error(ctx, "[RUN_FETCH_ERROR] Failed to fetch staged batch", logging.Fields{
			"stage": StateFetching,
		}, err)
		return summary, fmt.Errorf("fetch staged batch: %w", err)
	}

	summary.BatchID = batch.BatchID
	r.metrics.PipelineBatchSize.Observe(float64(len(batch.Records)))

	summary.Status = StateValidating
	accepted := r.validate(ctx, log, batch, summary)

	summary.Status = StateDeduping
	facts, dimensions := r.dedup.Collapse(accepted)
	collapsed := len(accepted) - len(facts)
	r.metrics.DuplicatesCollapsedTotal.Add(float64(collapsed))

	log.Info(ctx, "[RUN_DEDUP] Batch deduplicated", logging.Fields{
		"stage":           StateDeduping,
		"accepted":        summary.Accepted,
		"canonical_facts": len(facts),
		"stations":        len(dimensions),
		"collapsed":       collapsed,
	})

	summary.Status = StateWriting
	outcome, err := r.warehouse.ApplyBatch(ctx, dimensionRecords(dimensions), factRecords(facts))
	if err != nil {
		// The transaction rolled back and the batch stays unprocessed; the
		// scheduler's retry reprocesses it from scratch.
		summary.Status = StateFailed
		log.Error(ctx, "[RUN_WRITE_ERROR] Warehouse write failed, batch left unprocessed", logging.Fields{
			"stage":    StateWriting,
			"batch_id": batch.BatchID,
		}, err)
		return summary, fmt.Errorf("apply batch %s: %w", batch.BatchID, err)
	}

	summary.UpsertedStations = outcome.UpsertedStations
	summary.InsertedFacts = outcome.InsertedFacts
	summary.SkippedDuplicateFacts = outcome.SkippedDuplicateFacts

	if err := r.staging.MarkProcessed(ctx, batch.BatchID); err != nil {
		// The warehouse commit stands; reprocessing the batch later only
		// produces duplicate-key no-ops.
		summary.Status = StateFailed
		log.Error(ctx, "[RUN_MARK_ERROR] Failed to mark batch processed", logging.Fields{
			"stage":    StateWriting,
			"batch_id": batch.BatchID,
		}, err)
		return summary, fmt.Errorf("mark batch %s processed: %w", batch.BatchID, err)
	}

	summary.Status = StateDone

	log.Info(ctx, "[RUN_COMPLETE] Transform-load run completed", logging.Fields{
		"stage":                   StateDone,
		"batch_id":                summary.BatchID,
		"accepted":                summary.Accepted,
		"rejected":                summary.Rejected,
		"upserted_stations":       summary.UpsertedStations,
		"inserted_facts":          summary.InsertedFacts,
		"skipped_duplicate_facts": summary.SkippedDuplicateFacts,
		"duration_seconds":        time.Since(startTime).Seconds(),
	})

	return summary, nil
}

// validate partitions the batch into accepted normalized records and
// rejections. Rejections are counted and logged, never fatal.
func (r *Runner) validate(ctx context.Context, log *logging.ContextLogger, batch *models.StagedBatch, summary *RunSummary) []models.NormalizedSnapshot {
	accepted := make([]models.NormalizedSnapshot, 0, len(batch.Records))

	for i, raw := range batch.Records {
		norm, rejection := r.validator.Validate(raw)
		if rejection != nil {
			if rejection.RecordRef == "" {
				rejection.RecordRef = fmt.Sprintf("record[%d]", i)
			}
			summary.Rejected++
			summary.Errors = append(summary.Errors, *rejection)
			r.metrics.RecordRejection(string(rejection.Reason))

			log.Warn(ctx, "[RUN_RECORD_REJECTED] Snapshot rejected", logging.Fields{
				"stage":      StateValidating,
				"record_ref": rejection.RecordRef,
				"reason":     rejection.Reason,
			})
			continue
		}

		summary.Accepted++
		accepted = append(accepted, norm)
	}

	return accepted
}

func dimensionRecords(snapshots []models.NormalizedSnapshot) []*models.StationRecord {
	records := make([]*models.StationRecord, 0, len(snapshots))
	for i := range snapshots {
		records = append(records, snapshots[i].DimensionRecord())
	}
	return records
}

func factRecords(snapshots []models.NormalizedSnapshot) []*models.AvailabilityRecord {
	records := make([]*models.AvailabilityRecord, 0, len(snapshots))
	for i := range snapshots {
		records = append(records, snapshots[i].FactRecord())
	}
	return records
}
