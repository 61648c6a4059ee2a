package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kipavy/bigdata-filrouge/internal/models"
	"github.com/kipavy/bigdata-filrouge/pkg/database"
	"github.com/kipavy/bigdata-filrouge/pkg/logging"
	"github.com/kipavy/bigdata-filrouge/pkg/metrics"
)

// BatchOutcome summarizes one committed warehouse batch
type BatchOutcome struct {
	UpsertedStations      int
	InsertedFacts         int
	SkippedDuplicateFacts int
}

// WarehouseWriter applies one deduplicated batch to the warehouse
type WarehouseWriter interface {
	// ApplyBatch commits dimension upserts and fact inserts in a single
	// transaction. Dimension rows are written first so every fact references
	// a committed station. A fact whose (station_id, last_reported) already
	// exists is skipped, not an error. On any other failure the whole batch
	// rolls back.
	ApplyBatch(ctx context.Context, stations []*models.StationRecord, facts []*models.AvailabilityRecord) (*BatchOutcome, error)
}

// WarehouseReader provides read access for the API server
type WarehouseReader interface {
	GetStation(ctx context.Context, stationID string) (*models.StationRecord, error)
	ListStations(ctx context.Context, limit, offset int) ([]*models.StationRecord, int, error)
	GetAvailability(ctx context.Context, filter AvailabilityFilter) ([]*models.AvailabilityRecord, int, error)
	GetLatestAvailability(ctx context.Context) ([]*models.AvailabilityRecord, error)
	HealthCheck(ctx context.Context) error
}

// WarehouseRepository provides data access for the station warehouse
type WarehouseRepository interface {
	WarehouseWriter
	WarehouseReader
}

// AvailabilityFilter defines filters for querying availability facts
type AvailabilityFilter struct {
	StationID *string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// warehouseRepository implements WarehouseRepository
type warehouseRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewWarehouseRepository creates a new warehouse repository
func NewWarehouseRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) WarehouseRepository {
	return &warehouseRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

const upsertStationQuery = `
	INSERT INTO stations (station_id, name, latitude, longitude, capacity, arrondissement, code_insee, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	ON CONFLICT (station_id) DO UPDATE SET
		name = EXCLUDED.name,
		latitude = EXCLUDED.latitude,
		longitude = EXCLUDED.longitude,
		capacity = EXCLUDED.capacity,
		arrondissement = EXCLUDED.arrondissement,
		code_insee = EXCLUDED.code_insee,
		updated_at = NOW()
`

const insertFactQuery = `
	INSERT INTO station_availability (station_id, mechanical_bikes, electric_bikes, docks_available, is_operational, last_reported, ingested_at)
	VALUES ($1, $2, $3, $4, $5, $6, NOW())
	ON CONFLICT (station_id, last_reported) DO NOTHING
`

// ApplyBatch commits one batch: dimension upserts first, then fact inserts,
// all inside a single transaction.
func (r *warehouseRepository) ApplyBatch(ctx context.Context, stations []*models.StationRecord, facts []*models.AvailabilityRecord) (*BatchOutcome, error) {
	outcome := &BatchOutcome{}
	if len(stations) == 0 && len(facts) == 0 {
		return outcome, nil
	}

	timer := time.Now()
	defer func() {
		duration := time.Since(timer)
		r.metrics.DBQueryDuration.WithLabelValues("apply_batch").Observe(duration.Seconds())
		r.logger.Debug(ctx, "[REPO_APPLY_BATCH] Batch commit attempt finished", logging.Fields{
			"stations":    len(stations),
			"facts":       len(facts),
			"duration_ms": duration.Milliseconds(),
		})
	}()

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stationStmt, err := tx.PrepareContext(ctx, upsertStationQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare station upsert: %w", err)
	}
	defer stationStmt.Close()

	for _, station := range stations {
		if _, err := stationStmt.ExecContext(ctx,
			station.StationID,
			station.Name,
			station.Latitude,
			station.Longitude,
			station.Capacity,
			station.Arrondissement,
			station.InseeCode,
		); err != nil {
			r.metrics.RecordDBError("station_upsert_error")
			return nil, fmt.Errorf("failed to upsert station %s: %w", station.StationID, err)
		}
		outcome.UpsertedStations++
	}

	factStmt, err := tx.PrepareContext(ctx, insertFactQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare fact insert: %w", err)
	}
	defer factStmt.Close()

	for _, fact := range facts {
		res, err := factStmt.ExecContext(ctx,
			fact.StationID,
			fact.MechanicalBikes,
			fact.ElectricBikes,
			fact.DocksAvailable,
			fact.IsOperational,
			fact.LastReported,
		)
		if err != nil {
			r.metrics.RecordDBError("fact_insert_error")
			return nil, fmt.Errorf("failed to insert fact %s@%s: %w", fact.StationID, fact.LastReported, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to read insert result: %w", err)
		}
		if affected == 0 {
			// The report already exists in the warehouse; replay is a no-op.
			outcome.SkippedDuplicateFacts++
		} else {
			outcome.InsertedFacts++
		}
	}

	if err := tx.Commit(); err != nil {
		r.metrics.RecordDBError("transaction_commit_error")
		return nil, fmt.Errorf("failed to commit batch: %w", err)
	}

	r.metrics.StationsUpsertedTotal.Add(float64(outcome.UpsertedStations))
	r.metrics.FactsInsertedTotal.Add(float64(outcome.InsertedFacts))
	r.metrics.FactsSkippedDuplicateTotal.Add(float64(outcome.SkippedDuplicateFacts))

	return outcome, nil
}

// GetStation retrieves a station dimension row by ID
func (r *warehouseRepository) GetStation(ctx context.Context, stationID string) (*models.StationRecord, error) {
	query := `
		SELECT station_id, name, latitude, longitude, capacity, arrondissement, code_insee, created_at, updated_at
		FROM stations
		WHERE station_id = $1
	`

	var station models.StationRecord
	err := r.db.GetContext(ctx, "get_station", &station, query, stationID)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{
			Resource: "station",
			ID:       stationID,
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get station: %w", err)
	}

	return &station, nil
}

// ListStations retrieves station dimension rows with pagination
func (r *warehouseRepository) ListStations(ctx context.Context, limit, offset int) ([]*models.StationRecord, int, error) {
	var totalCount int
	if err := r.db.GetContext(ctx, "count_stations", &totalCount, "SELECT COUNT(*) FROM stations"); err != nil {
		return nil, 0, fmt.Errorf("failed to count stations: %w", err)
	}

	query := `
		SELECT station_id, name, latitude, longitude, capacity, arrondissement, code_insee, created_at, updated_at
		FROM stations
		ORDER BY station_id
		LIMIT $1 OFFSET $2
	`

	var stations []*models.StationRecord
	if err := r.db.SelectContext(ctx, "list_stations", &stations, query, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("failed to list stations: %w", err)
	}

	return stations, totalCount, nil
}

// GetAvailability retrieves availability facts with filtering and pagination
func (r *warehouseRepository) GetAvailability(ctx context.Context, filter AvailabilityFilter) ([]*models.AvailabilityRecord, int, error) {
	query := `
		SELECT id, station_id, mechanical_bikes, electric_bikes, docks_available, is_operational, last_reported, ingested_at
		FROM station_availability
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if filter.StationID != nil {
		query += fmt.Sprintf(" AND station_id = $%d", argNum)
		args = append(args, *filter.StationID)
		argNum++
	}

	if filter.From != nil {
		query += fmt.Sprintf(" AND last_reported >= $%d", argNum)
		args = append(args, *filter.From)
		argNum++
	}

	if filter.To != nil {
		query += fmt.Sprintf(" AND last_reported <= $%d", argNum)
		args = append(args, *filter.To)
		argNum++
	}

	// Get total count
	countQuery := "SELECT COUNT(*) FROM (" + query + ") AS count_query"
	var totalCount int
	if err := r.db.GetContext(ctx, "count_availability", &totalCount, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count availability facts: %w", err)
	}

	// Add ordering and pagination
	query += " ORDER BY last_reported DESC, station_id"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	var records []*models.AvailabilityRecord
	if err := r.db.SelectContext(ctx, "get_availability", &records, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to get availability facts: %w", err)
	}

	return records, totalCount, nil
}

// GetLatestAvailability retrieves the most recent fact per station
func (r *warehouseRepository) GetLatestAvailability(ctx context.Context) ([]*models.AvailabilityRecord, error) {
	query := `
		SELECT DISTINCT ON (station_id)
		       id, station_id, mechanical_bikes, electric_bikes, docks_available, is_operational, last_reported, ingested_at
		FROM station_availability
		ORDER BY station_id, last_reported DESC
	`

	var records []*models.AvailabilityRecord
	if err := r.db.SelectContext(ctx, "get_latest_availability", &records, query); err != nil {
		return nil, fmt.Errorf("failed to get latest availability: %w", err)
	}

	return records, nil
}

// HealthCheck performs a repository health check
func (r *warehouseRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) IsTransient() bool {
	return false
}
