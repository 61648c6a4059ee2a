package models

import (
	"time"
)

// RawSnapshot is one point-in-time station status reading as captured by the
// extractor. Counts are kept loosely typed because the upstream feed sometimes
// emits numeric fields as strings; the validator coerces them. Immutable once
// staged.
type RawSnapshot struct {
	StationCode     string  `json:"station_code" bson:"station_code"`
	Name            string  `json:"name" bson:"name"`
	Latitude        float64 `json:"latitude" bson:"latitude"`
	Longitude       float64 `json:"longitude" bson:"longitude"`
	Capacity        any     `json:"capacity" bson:"capacity"`
	Arrondissement  string  `json:"arrondissement" bson:"arrondissement"`
	InseeCode       string  `json:"insee_code" bson:"insee_code"`
	MechanicalBikes any     `json:"mechanical_bikes" bson:"mechanical_bikes"`
	ElectricBikes   any     `json:"electric_bikes" bson:"electric_bikes"`
	DocksAvailable  any     `json:"docks_available" bson:"docks_available"`
	IsInstalled     bool    `json:"is_installed" bson:"is_installed"`
	IsRenting       bool    `json:"is_renting" bson:"is_renting"`
	IsReturning     bool    `json:"is_returning" bson:"is_returning"`
	LastReported    string  `json:"last_reported" bson:"last_reported"`
	ExtractedAt     string  `json:"extracted_at" bson:"extracted_at"`
}

// NormalizedSnapshot is a RawSnapshot that passed validation: counts coerced
// to non-negative integers, timestamps parsed.
type NormalizedSnapshot struct {
	StationCode     string
	Name            string
	Latitude        float64
	Longitude       float64
	Capacity        int
	Arrondissement  string
	InseeCode       string
	MechanicalBikes int
	ElectricBikes   int
	DocksAvailable  int
	IsInstalled     bool
	IsRenting       bool
	IsReturning     bool
	LastReported    time.Time
	ExtractedAt     time.Time
}

// DimensionRecord builds the slowly-changing station dimension row carried by
// this snapshot. CreatedAt/UpdatedAt are set by the warehouse on commit.
func (n *NormalizedSnapshot) DimensionRecord() *StationRecord {
	return &StationRecord{
		StationID:      n.StationCode,
		Name:           n.Name,
		Latitude:       n.Latitude,
		Longitude:      n.Longitude,
		Capacity:       n.Capacity,
		Arrondissement: n.Arrondissement,
		InseeCode:      n.InseeCode,
	}
}

// FactRecord builds the append-only availability fact carried by this
// snapshot. A station is operational only when it is installed, renting and
// returning at the same time.
func (n *NormalizedSnapshot) FactRecord() *AvailabilityRecord {
	return &AvailabilityRecord{
		StationID:       n.StationCode,
		MechanicalBikes: n.MechanicalBikes,
		ElectricBikes:   n.ElectricBikes,
		DocksAvailable:  n.DocksAvailable,
		IsOperational:   n.IsInstalled && n.IsRenting && n.IsReturning,
		LastReported:    n.LastReported,
	}
}

// StationRecord is the warehouse station dimension row. Exactly one row exists
// per station; attributes always reflect the most recently processed valid
// snapshot.
type StationRecord struct {
	StationID      string    `json:"station_id" db:"station_id"`
	Name           string    `json:"name" db:"name"`
	Latitude       float64   `json:"latitude" db:"latitude"`
	Longitude      float64   `json:"longitude" db:"longitude"`
	Capacity       int       `json:"capacity" db:"capacity"`
	Arrondissement string    `json:"arrondissement" db:"arrondissement"`
	InseeCode      string    `json:"insee_code" db:"code_insee"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// AvailabilityRecord is the warehouse availability fact row. The pair
// (station_id, last_reported) is unique: the source reports more coarsely than
// we extract, so the same report is observed many times but stored once.
type AvailabilityRecord struct {
	ID              int64     `json:"id" db:"id"`
	StationID       string    `json:"station_id" db:"station_id"`
	MechanicalBikes int       `json:"mechanical_bikes" db:"mechanical_bikes"`
	ElectricBikes   int       `json:"electric_bikes" db:"electric_bikes"`
	DocksAvailable  int       `json:"docks_available" db:"docks_available"`
	IsOperational   bool      `json:"is_operational" db:"is_operational"`
	LastReported    time.Time `json:"last_reported" db:"last_reported"`
	IngestedAt      time.Time `json:"ingested_at" db:"ingested_at"`
}

// StagedBatch is one extraction cycle's worth of raw snapshots as stored in
// the staging data lake.
type StagedBatch struct {
	BatchID     string        `json:"batch_id" bson:"batch_id"`
	Source      string        `json:"source" bson:"source"`
	ExtractedAt time.Time     `json:"extracted_at" bson:"extracted_at"`
	RecordCount int           `json:"record_count" bson:"record_count"`
	Records     []RawSnapshot `json:"records" bson:"records"`
	Processed   bool          `json:"processed" bson:"processed"`
	ProcessedAt *time.Time    `json:"processed_at,omitempty" bson:"processed_at,omitempty"`
}
