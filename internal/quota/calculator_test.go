package quota

import (
	"math"
	"testing"
	"time"

	"github.com/smallbiznis/homecare/internal/config"
	requestdomain "github.com/smallbiznis/homecare/internal/request/domain"
	"github.com/stretchr/testify/assert"
)

var (
	residential = config.TierAllotment{Hours: 6, Appointments: 2}
	june15      = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
)

func completed(createdAt time.Time, cost float64) requestdomain.MaintenanceRequest {
	return requestdomain.MaintenanceRequest{
		Status:    requestdomain.StatusCompleted,
		VisitCost: &cost,
		CreatedAt: createdAt,
	}
}

func TestCalculateWithExtraVisitsAndNoUsage(t *testing.T) {
	got := Calculate(Input{
		Allotment:           residential,
		HoursPerAppointment: 3,
		ExtraVisits:         2,
		Now:                 june15,
	})

	assert.Equal(t, Snapshot{
		TotalHours:            6,
		UsedHours:             0,
		RemainingHours:        6,
		TotalAppointments:     4,
		UsedAppointments:      0,
		RemainingAppointments: 4,
	}, got)
}

func TestCalculateRoundsAppointmentsUp(t *testing.T) {
	got := Calculate(Input{
		Allotment:           residential,
		HoursPerAppointment: 3,
		Requests:            []requestdomain.MaintenanceRequest{completed(june15.AddDate(0, 0, -3), 3.5)},
		Now:                 june15,
	})

	assert.Equal(t, 3.5, got.UsedHours)
	assert.Equal(t, 2.5, got.RemainingHours)
	assert.Equal(t, int64(2), got.UsedAppointments)
	assert.Equal(t, int64(0), got.RemainingAppointments)
}

func TestCalculateSaturatesOversizedVisitCost(t *testing.T) {
	got := Calculate(Input{
		Allotment:           residential,
		HoursPerAppointment: 3,
		Requests: []requestdomain.MaintenanceRequest{
			completed(june15, 1e20),
			completed(june15.Add(time.Hour), 3),
		},
		Now: june15,
	})

	assert.Equal(t, int64(math.MaxInt64), got.UsedAppointments)
	assert.Equal(t, int64(0), got.RemainingAppointments)
	assert.Equal(t, 0.0, got.RemainingHours)
}

func TestCalculateSaturatesExtraVisitBalance(t *testing.T) {
	got := Calculate(Input{
		Allotment:           residential,
		HoursPerAppointment: 3,
		ExtraVisits:         math.MaxInt64,
		Now:                 june15,
	})

	assert.Equal(t, int64(math.MaxInt64), got.TotalAppointments)
	assert.Equal(t, int64(math.MaxInt64), got.RemainingAppointments)
}

func TestCalculateCountsOnlyCompletedThisMonth(t *testing.T) {
	cancelledCost := 2.0
	requests := []requestdomain.MaintenanceRequest{
		completed(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), 3),
		completed(time.Date(2025, 5, 31, 23, 59, 59, 0, time.UTC), 3),
		completed(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), 3),
		{Status: requestdomain.StatusCancelled, VisitCost: &cancelledCost, CreatedAt: june15},
		{Status: requestdomain.StatusScheduled, CreatedAt: june15},
		completed(june15, math.NaN()),
	}

	got := Calculate(Input{
		Allotment:           residential,
		HoursPerAppointment: 3,
		Requests:            requests,
		Now:                 june15,
	})

	assert.Equal(t, 3.0, got.UsedHours)
	assert.Equal(t, int64(1), got.UsedAppointments)
	assert.Equal(t, int64(1), got.RemainingAppointments)
}

func TestCalculateClampsRemainingAtZero(t *testing.T) {
	got := Calculate(Input{
		Allotment:           residential,
		HoursPerAppointment: 3,
		Requests: []requestdomain.MaintenanceRequest{
			completed(june15, 4),
			completed(june15, 5),
		},
		Now: june15,
	})

	assert.Equal(t, 9.0, got.UsedHours)
	assert.Equal(t, 0.0, got.RemainingHours)
	assert.Equal(t, int64(4), got.UsedAppointments)
	assert.Equal(t, int64(0), got.RemainingAppointments)
}

func TestCalculateUsesSubscriberLocalMonth(t *testing.T) {
	saoPaulo := time.FixedZone("BRT", -3*60*60)
	// 2025-07-01 01:00 UTC is still June 30th in Sao Paulo.
	createdAt := time.Date(2025, 7, 1, 1, 0, 0, 0, time.UTC)
	now := time.Date(2025, 6, 30, 20, 0, 0, 0, saoPaulo)

	got := Calculate(Input{
		Allotment:           residential,
		HoursPerAppointment: 3,
		Requests:            []requestdomain.MaintenanceRequest{completed(createdAt, 1)},
		Now:                 now,
		Location:            saoPaulo,
	})
	assert.Equal(t, 1.0, got.UsedHours)

	got = Calculate(Input{
		Allotment:           residential,
		HoursPerAppointment: 3,
		Requests:            []requestdomain.MaintenanceRequest{completed(createdAt, 1)},
		Now:                 now,
	})
	assert.Equal(t, 0.0, got.UsedHours)
}

func TestCalculateCondominiumHasNoBaseAllotment(t *testing.T) {
	got := Calculate(Input{
		Allotment:           config.TierAllotment{},
		HoursPerAppointment: 3,
		ExtraVisits:         1,
		Now:                 june15,
	})

	assert.Equal(t, 0.0, got.TotalHours)
	assert.Equal(t, int64(1), got.TotalAppointments)
	assert.Equal(t, int64(1), got.RemainingAppointments)
}

func TestMonthStart(t *testing.T) {
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), MonthStart(june15, nil))
}
