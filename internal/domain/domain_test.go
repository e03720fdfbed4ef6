package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverdue(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	yesterday := now.AddDate(0, 0, -1)
	tomorrow := now.AddDate(0, 0, 1)

	tests := []struct {
		name   string
		status Status
		due    *time.Time
		want   bool
	}{
		{"no due date", StatusOpen, nil, false},
		{"past due open", StatusOpen, &yesterday, true},
		{"past due in progress", StatusInProgress, &yesterday, true},
		{"past due resolved", StatusResolved, &yesterday, false},
		{"past due verified", StatusVerified, &yesterday, false},
		{"past due closed", StatusClosed, &yesterday, false},
		{"future due", StatusOpen, &tomorrow, false},
		{"due exactly now", StatusOpen, &now, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Action{Status: tt.status, DueDate: tt.due}
			assert.Equal(t, tt.want, a.Overdue(now))
		})
	}
}

func TestProgress(t *testing.T) {
	want := map[Status]int{
		StatusOpen:        0,
		StatusAssigned:    0,
		StatusInProgress:  50,
		StatusUnderReview: 50,
		StatusResolved:    100,
		StatusVerified:    100,
		StatusClosed:      100,
	}
	require.Len(t, Statuses, len(want))
	for _, s := range Statuses {
		assert.Equal(t, want[s], Action{Status: s}.Progress(), s)
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range Statuses {
		got, err := ParseStatus(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	for _, bad := range []string{"", "high", "OPEN", "done", "rejected"} {
		_, err := ParseStatus(bad)
		var ise InvalidStatusError
		require.ErrorAs(t, err, &ise, bad)
		assert.Equal(t, bad, ise.Value)
	}
}

func TestParsePriority(t *testing.T) {
	p, err := ParsePriority(" critical ")
	require.NoError(t, err)
	assert.Equal(t, PriorityCritical, p)

	_, err = ParsePriority("urgent")
	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "priority", ve.Field)
}

func TestNotFoundMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("update: %w", NotFoundError{ID: "a-1"})
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "update: action a-1 not found", err.Error())
}

func TestPatchEmpty(t *testing.T) {
	assert.True(t, ActionPatch{}.Empty())
	v := 3
	assert.True(t, ActionPatch{ExpectedVersion: &v}.Empty())
	title := "x"
	assert.False(t, ActionPatch{Title: &title}.Empty())
	assert.False(t, ActionPatch{ClearDueDate: true}.Empty())
}
