package service

import (
	"testing"

	"github.com/smallbiznis/homecare/internal/request/domain"
)

func TestIsTransitionAllowed(t *testing.T) {
	cases := []struct {
		from, to domain.Status
		want     bool
	}{
		{domain.StatusPending, domain.StatusScheduled, true},
		{domain.StatusPending, domain.StatusCompleted, true},
		{domain.StatusPending, domain.StatusCancelled, true},
		{domain.StatusScheduled, domain.StatusCompleted, true},
		{domain.StatusScheduled, domain.StatusCancelled, true},
		{domain.StatusScheduled, domain.StatusScheduled, false},
		{domain.StatusScheduled, domain.StatusPending, false},
		{domain.StatusCompleted, domain.StatusCancelled, false},
		{domain.StatusCompleted, domain.StatusCompleted, false},
		{domain.StatusCancelled, domain.StatusCompleted, false},
		{domain.StatusCancelled, domain.StatusScheduled, false},
	}
	for _, tc := range cases {
		if got := isTransitionAllowed(tc.from, tc.to); got != tc.want {
			t.Fatalf("isTransitionAllowed(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}
