package models

import (
	"testing"
	"time"
)

func TestNormalizedSnapshot_FactRecord(t *testing.T) {
	reported := time.Date(2024, 3, 10, 8, 30, 0, 0, time.UTC)

	tests := []struct {
		name            string
		installed       bool
		renting         bool
		returning       bool
		wantOperational bool
	}{
		{"fully operational", true, true, true, true},
		{"not installed", false, true, true, false},
		{"not renting", true, false, true, false},
		{"not returning", true, true, false, false},
		{"out of service", false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := NormalizedSnapshot{
				StationCode:     "16107",
				MechanicalBikes: 5,
				ElectricBikes:   2,
				DocksAvailable:  3,
				IsInstalled:     tt.installed,
				IsRenting:       tt.renting,
				IsReturning:     tt.returning,
				LastReported:    reported,
			}

			fact := snap.FactRecord()

			if fact.IsOperational != tt.wantOperational {
				t.Errorf("IsOperational = %v, want %v", fact.IsOperational, tt.wantOperational)
			}
			if fact.StationID != "16107" {
				t.Errorf("StationID = %v, want %v", fact.StationID, "16107")
			}
			if !fact.LastReported.Equal(reported) {
				t.Errorf("LastReported = %v, want %v", fact.LastReported, reported)
			}
			if fact.MechanicalBikes != 5 || fact.ElectricBikes != 2 || fact.DocksAvailable != 3 {
				t.Errorf("counts = (%d, %d, %d), want (5, 2, 3)",
					fact.MechanicalBikes, fact.ElectricBikes, fact.DocksAvailable)
			}
		})
	}
}

func TestNormalizedSnapshot_DimensionRecord(t *testing.T) {
	snap := NormalizedSnapshot{
		StationCode:    "16107",
		Name:           "Benjamin Godard - Victor Hugo",
		Latitude:       48.865983,
		Longitude:      2.275725,
		Capacity:       35,
		Arrondissement: "Paris 16e",
		InseeCode:      "75116",
	}

	dim := snap.DimensionRecord()

	if dim.StationID != "16107" {
		t.Errorf("StationID = %v, want %v", dim.StationID, "16107")
	}
	if dim.Name != snap.Name || dim.Capacity != 35 {
		t.Errorf("dimension attributes not carried over: %+v", dim)
	}
	if !dim.CreatedAt.IsZero() || !dim.UpdatedAt.IsZero() {
		t.Error("CreatedAt/UpdatedAt must be left for the warehouse to set")
	}
}
