package quota

import (
	"math"
	"time"

	"github.com/smallbiznis/homecare/internal/config"
	requestdomain "github.com/smallbiznis/homecare/internal/request/domain"
)

// Snapshot is the derived monthly quota of a subscriber. It is never persisted.
type Snapshot struct {
	TotalHours            float64 `json:"total_hours"`
	UsedHours             float64 `json:"used_hours"`
	RemainingHours        float64 `json:"remaining_hours"`
	TotalAppointments     int64   `json:"total_appointments"`
	UsedAppointments      int64   `json:"used_appointments"`
	RemainingAppointments int64   `json:"remaining_appointments"`
}

type Input struct {
	Allotment           config.TierAllotment
	HoursPerAppointment float64
	ExtraVisits         int64
	Requests            []requestdomain.MaintenanceRequest
	Now                 time.Time
	Location            *time.Location
}

// Calculate derives the quota from the plan allotment, the extra-visit balance and the
// requests completed this calendar month.
func Calculate(in Input) Snapshot {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	hoursPerAppointment := in.HoursPerAppointment
	if hoursPerAppointment <= 0 || !isFinite(hoursPerAppointment) {
		hoursPerAppointment = config.DefaultPlanConfig().HoursPerAppointment
	}
	extra := in.ExtraVisits
	if extra < 0 {
		extra = 0
	}

	snapshot := Snapshot{
		TotalHours:        in.Allotment.Hours,
		TotalAppointments: addSaturating(int64(in.Allotment.Appointments), extra),
	}

	monthStart := MonthStart(in.Now, loc)
	monthEnd := monthStart.AddDate(0, 1, 0)
	for _, req := range in.Requests {
		if req.Status != requestdomain.StatusCompleted || req.VisitCost == nil {
			continue
		}
		cost := *req.VisitCost
		if cost <= 0 || !isFinite(cost) {
			continue
		}
		createdOn := req.CreatedOn(loc)
		if createdOn.Before(monthStart) || !createdOn.Before(monthEnd) {
			continue
		}
		snapshot.UsedHours += cost
		snapshot.UsedAppointments = addAppointments(snapshot.UsedAppointments, math.Ceil(cost/hoursPerAppointment))
	}

	snapshot.RemainingHours = math.Max(0, snapshot.TotalHours-snapshot.UsedHours)
	snapshot.RemainingAppointments = snapshot.TotalAppointments - snapshot.UsedAppointments
	if snapshot.RemainingAppointments < 0 {
		snapshot.RemainingAppointments = 0
	}
	return snapshot
}

// MonthStart returns midnight of the first day of now's month in loc.
func MonthStart(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
}

// addAppointments adds n visits to used, pinning the total at math.MaxInt64.
func addAppointments(used int64, n float64) int64 {
	if n >= math.MaxInt64 {
		return math.MaxInt64
	}
	return addSaturating(used, int64(n))
}

func addSaturating(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
