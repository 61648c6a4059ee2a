package pipeline

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/kipavy/bigdata-filrouge/internal/models"
)

// ReasonCode classifies why a raw snapshot was rejected
type ReasonCode string

const (
	ReasonMissingID      ReasonCode = "missing_id"
	ReasonNegativeCount  ReasonCode = "negative_count"
	ReasonBadCoordinates ReasonCode = "bad_coordinates"
	ReasonBadTimestamp   ReasonCode = "bad_timestamp"
)

// Rejection records one raw snapshot excluded from a batch. Rejections are
// reported in the run summary; they never abort the batch.
type Rejection struct {
	RecordRef string     `json:"record_ref"`
	Reason    ReasonCode `json:"reason_code"`
}

// Validator inspects raw snapshots one at a time and either normalizes them
// or rejects them with a reason code. Pure: no I/O, no shared state.
type Validator struct{}

// NewValidator creates a new Validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks one raw snapshot. Checks run in a fixed order and the first
// failing check short-circuits with its reason code.
func (v *Validator) Validate(raw models.RawSnapshot) (models.NormalizedSnapshot, *Rejection) {
	var norm models.NormalizedSnapshot

	if raw.StationCode == "" {
		return norm, reject(raw, ReasonMissingID)
	}

	capacity, err := coerceCount(raw.Capacity)
	if err != nil {
		return norm, reject(raw, ReasonNegativeCount)
	}
	mechanical, err := coerceCount(raw.MechanicalBikes)
	if err != nil {
		return norm, reject(raw, ReasonNegativeCount)
	}
	electric, err := coerceCount(raw.ElectricBikes)
	if err != nil {
		return norm, reject(raw, ReasonNegativeCount)
	}
	docks, err := coerceCount(raw.DocksAvailable)
	if err != nil {
		return norm, reject(raw, ReasonNegativeCount)
	}

	if raw.Latitude < -90 || raw.Latitude > 90 || raw.Longitude < -180 || raw.Longitude > 180 {
		return norm, reject(raw, ReasonBadCoordinates)
	}

	lastReported, err := parseTimestamp(raw.LastReported)
	if err != nil {
		return norm, reject(raw, ReasonBadTimestamp)
	}
	extractedAt, err := parseTimestamp(raw.ExtractedAt)
	if err != nil {
		return norm, reject(raw, ReasonBadTimestamp)
	}
	// A snapshot cannot be captured before the report it carries.
	if extractedAt.Before(lastReported) {
		return norm, reject(raw, ReasonBadTimestamp)
	}

	norm = models.NormalizedSnapshot{
		StationCode:     raw.StationCode,
		Name:            raw.Name,
		Latitude:        raw.Latitude,
		Longitude:       raw.Longitude,
		Capacity:        capacity,
		Arrondissement:  raw.Arrondissement,
		InseeCode:       raw.InseeCode,
		MechanicalBikes: mechanical,
		ElectricBikes:   electric,
		DocksAvailable:  docks,
		IsInstalled:     raw.IsInstalled,
		IsRenting:       raw.IsRenting,
		IsReturning:     raw.IsReturning,
		LastReported:    lastReported.UTC(),
		ExtractedAt:     extractedAt.UTC(),
	}

	return norm, nil
}

// reject builds a Rejection referencing the offending record. A record with
// no station code gets an empty ref; the runner substitutes its batch index.
func reject(raw models.RawSnapshot, reason ReasonCode) *Rejection {
	ref := raw.StationCode
	if ref != "" && raw.LastReported != "" {
		ref = fmt.Sprintf("%s@%s", ref, raw.LastReported)
	}
	return &Rejection{RecordRef: ref, Reason: reason}
}

// coerceCount turns a loosely typed count field into a non-negative int. The
// source feed mixes native numbers with numeric strings; anything else is a
// type mismatch.
func coerceCount(value any) (int, error) {
	var n int

	switch v := value.(type) {
	case nil:
		return 0, fmt.Errorf("missing count")
	case int:
		n = v
	case int32:
		n = int(v)
	case int64:
		n = int(v)
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("count is not an integer: %v", v)
		}
		n = int(v)
	case string:
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("count is not numeric: %q", v)
		}
		n = parsed
	case json.Number:
		parsed, err := strconv.Atoi(v.String())
		if err != nil {
			return 0, fmt.Errorf("count is not an integer: %q", v)
		}
		n = parsed
	default:
		return 0, fmt.Errorf("unsupported count type %T", value)
	}

	if n < 0 {
		return 0, fmt.Errorf("count is negative: %d", n)
	}

	return n, nil
}

// timestampLayouts lists the formats the source emits. duedate carries a zone
// offset; older staged data may carry a bare ISO timestamp.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
}

func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp: %q", value)
}
