package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kipavy/bigdata-filrouge/internal/models"
)

func validRaw() models.RawSnapshot {
	return models.RawSnapshot{
		StationCode:     "16107",
		Name:            "Benjamin Godard - Victor Hugo",
		Latitude:        48.865983,
		Longitude:       2.275725,
		Capacity:        35,
		Arrondissement:  "Paris 16e",
		InseeCode:       "75116",
		MechanicalBikes: 5,
		ElectricBikes:   2,
		DocksAvailable:  28,
		IsInstalled:     true,
		IsRenting:       true,
		IsReturning:     true,
		LastReported:    "2024-03-10T08:30:00Z",
		ExtractedAt:     "2024-03-10T08:31:00Z",
	}
}

func TestValidator_Validate(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*models.RawSnapshot)
		wantReason ReasonCode
	}{
		{
			name:   "valid snapshot",
			mutate: func(r *models.RawSnapshot) {},
		},
		{
			name:   "numeric string counts are coerced",
			mutate: func(r *models.RawSnapshot) { r.Capacity = "35"; r.MechanicalBikes = "5" },
		},
		{
			name:   "integral float counts are coerced",
			mutate: func(r *models.RawSnapshot) { r.DocksAvailable = float64(28) },
		},
		{
			name:       "empty station code",
			mutate:     func(r *models.RawSnapshot) { r.StationCode = "" },
			wantReason: ReasonMissingID,
		},
		{
			name:       "negative capacity",
			mutate:     func(r *models.RawSnapshot) { r.Capacity = -1 },
			wantReason: ReasonNegativeCount,
		},
		{
			name:       "negative bike count",
			mutate:     func(r *models.RawSnapshot) { r.ElectricBikes = -3 },
			wantReason: ReasonNegativeCount,
		},
		{
			name:       "non-numeric count string",
			mutate:     func(r *models.RawSnapshot) { r.DocksAvailable = "plenty" },
			wantReason: ReasonNegativeCount,
		},
		{
			name:       "fractional count",
			mutate:     func(r *models.RawSnapshot) { r.Capacity = 35.5 },
			wantReason: ReasonNegativeCount,
		},
		{
			name:       "missing count",
			mutate:     func(r *models.RawSnapshot) { r.MechanicalBikes = nil },
			wantReason: ReasonNegativeCount,
		},
		{
			name:       "latitude out of range",
			mutate:     func(r *models.RawSnapshot) { r.Latitude = 91.2 },
			wantReason: ReasonBadCoordinates,
		},
		{
			name:       "longitude out of range",
			mutate:     func(r *models.RawSnapshot) { r.Longitude = -181 },
			wantReason: ReasonBadCoordinates,
		},
		{
			name:       "unparseable last_reported",
			mutate:     func(r *models.RawSnapshot) { r.LastReported = "10/03/2024" },
			wantReason: ReasonBadTimestamp,
		},
		{
			name:       "empty extracted_at",
			mutate:     func(r *models.RawSnapshot) { r.ExtractedAt = "" },
			wantReason: ReasonBadTimestamp,
		},
		{
			name: "extraction before report",
			mutate: func(r *models.RawSnapshot) {
				r.LastReported = "2024-03-10T09:00:00Z"
				r.ExtractedAt = "2024-03-10T08:00:00Z"
			},
			wantReason: ReasonBadTimestamp,
		},
	}

	validator := NewValidator()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw()
			tt.mutate(&raw)

			norm, rejection := validator.Validate(raw)

			if tt.wantReason != "" {
				require.NotNil(t, rejection, "expected rejection")
				assert.Equal(t, tt.wantReason, rejection.Reason)
				return
			}

			require.Nil(t, rejection, "expected acceptance, got %+v", rejection)
			assert.Equal(t, "16107", norm.StationCode)
			assert.Equal(t, 35, norm.Capacity)
			assert.Equal(t, 5, norm.MechanicalBikes)
			assert.Equal(t, 2, norm.ElectricBikes)
			assert.Equal(t, 28, norm.DocksAvailable)
		})
	}
}

func TestValidator_OrderOfChecks(t *testing.T) {
	// Multiple problems: the first failing check wins.
	raw := validRaw()
	raw.StationCode = ""
	raw.Capacity = -1
	raw.Latitude = 200

	_, rejection := NewValidator().Validate(raw)

	require.NotNil(t, rejection)
	assert.Equal(t, ReasonMissingID, rejection.Reason)
}

func TestValidator_NormalizesTimestampsToUTC(t *testing.T) {
	raw := validRaw()
	raw.LastReported = "2024-03-10T09:30:00+01:00"
	raw.ExtractedAt = "2024-03-10T08:31:00Z"

	norm, rejection := NewValidator().Validate(raw)

	require.Nil(t, rejection)
	assert.Equal(t, time.UTC, norm.LastReported.Location())
	assert.True(t, norm.LastReported.Equal(time.Date(2024, 3, 10, 8, 30, 0, 0, time.UTC)))
}
