// Package stats derives board statistics from an org's full action set.
package stats

import (
	"math"
	"time"

	"remedyboard/internal/domain"
)

type Summary struct {
	TotalActions      int `json:"total_actions"`
	OpenActions       int `json:"open_actions"`
	ResolvedActions   int `json:"resolved_actions"`
	InProgressActions int `json:"in_progress_actions"`
	OverdueActions    int `json:"overdue_actions"`
	CriticalOverdue   int `json:"critical_overdue"`

	ByStatus   map[domain.Status]int   `json:"actions_by_status"`
	ByPriority map[domain.Priority]int `json:"actions_by_priority"`

	// AvgCompletionTime is zero when nothing has reached a terminal status.
	AvgCompletionTime  time.Duration `json:"-"`
	AvgCompletionHours *float64      `json:"avg_completion_time_hours"`
	SLAComplianceRate  *float64      `json:"sla_compliance_rate"`
}

// Compute aggregates actions. It must be given the unfiltered set so the
// per-status counts always add up to the total.
func Compute(actions []domain.Action, now time.Time) Summary {
	s := Summary{
		ByStatus:   make(map[domain.Status]int, len(domain.Statuses)),
		ByPriority: make(map[domain.Priority]int, len(domain.Priorities)),
	}
	for _, st := range domain.Statuses {
		s.ByStatus[st] = 0
	}
	for _, p := range domain.Priorities {
		s.ByPriority[p] = 0
	}

	var (
		completed     int
		completedSum  time.Duration
		slaTracked    int
		slaWithinTime int
	)
	for _, a := range actions {
		s.TotalActions++
		s.ByStatus[a.Status]++
		s.ByPriority[a.Priority]++
		if a.Status.Terminal() {
			s.ResolvedActions++
			elapsed := a.UpdatedAt.Sub(a.CreatedAt)
			completed++
			completedSum += elapsed
			if a.SLAHours != nil {
				slaTracked++
				if elapsed <= time.Duration(*a.SLAHours)*time.Hour {
					slaWithinTime++
				}
			}
		} else {
			s.OpenActions++
		}
		if a.Status == domain.StatusInProgress {
			s.InProgressActions++
		}
		if a.Overdue(now) {
			s.OverdueActions++
			if a.Priority == domain.PriorityCritical {
				s.CriticalOverdue++
			}
		}
	}
	if completed > 0 {
		s.AvgCompletionTime = completedSum / time.Duration(completed)
		hours := round2(s.AvgCompletionTime.Hours())
		s.AvgCompletionHours = &hours
	}
	if slaTracked > 0 {
		rate := round2(float64(slaWithinTime) / float64(slaTracked) * 100)
		s.SLAComplianceRate = &rate
	}
	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
