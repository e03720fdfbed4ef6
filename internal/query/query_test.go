package query

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remedyboard/internal/domain"
)

var now = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func at(days int) *time.Time {
	t := now.AddDate(0, 0, days)
	return &t
}

func strp(s string) *string { return &s }

func fixture() []domain.Action {
	return []domain.Action{
		{ID: "a1", Title: "Fix SQLi in login", Description: "parameterize queries", Status: domain.StatusOpen,
			Priority: domain.PriorityHigh, CreatedAt: now.Add(-3 * time.Hour), DueDate: at(-1), Tags: []string{"web"}},
		{ID: "a2", Title: "Rotate SSL certificates", Description: "expiring soon", Status: domain.StatusInProgress,
			Priority: domain.PriorityMedium, AssignedTo: strp("u1"), CreatedAt: now.Add(-2 * time.Hour), DueDate: at(5), Category: "infra"},
		{ID: "a3", Title: "Patch kernel", Description: "CVE backlog", Status: domain.StatusResolved,
			Priority: domain.PriorityCritical, CreatedAt: now.Add(-2 * time.Hour), DueDate: at(-4)},
	}
}

func ids(actions []domain.Action) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.ID)
	}
	return out
}

func mustParse(t *testing.T, v Values) Filter {
	t.Helper()
	f, err := v.Parse()
	require.NoError(t, err)
	return f
}

func TestApplyFilters(t *testing.T) {
	cases := []struct {
		name string
		in   Values
		want []string
	}{
		{"no filter keeps everything newest first", Values{}, []string{"a2", "a3", "a1"}},
		{"empty search is no filter", Values{Search: "   "}, []string{"a2", "a3", "a1"}},
		{"search title case-insensitive", Values{Search: "ssl", Priority: "all"}, []string{"a2"}},
		{"search description", Values{Search: "CVE"}, []string{"a3"}},
		{"priority high", Values{Priority: "high"}, []string{"a1"}},
		{"status all", Values{Status: "all"}, []string{"a2", "a3", "a1"}},
		{"status exact", Values{Status: "in_progress"}, []string{"a2"}},
		{"assignee", Values{AssignedTo: "u1"}, []string{"a2"}},
		{"unassigned", Values{AssignedTo: Unassigned}, []string{"a3", "a1"}},
		{"overdue only skips terminal", Values{OverdueOnly: true}, []string{"a1"}},
		{"category", Values{Category: "INFRA"}, []string{"a2"}},
		{"tag", Values{Tag: "web"}, []string{"a1"}},
		{"due before", Values{DueBefore: "2024-06-10"}, []string{"a3", "a1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Apply(fixture(), mustParse(t, tc.in), now)
			assert.Equal(t, tc.want, ids(got))
		})
	}
}

func TestPriorityValueAsStatusIsRejected(t *testing.T) {
	_, err := Values{Status: "high"}.Parse()
	var inv domain.InvalidStatusError
	require.True(t, errors.As(err, &inv))
	assert.Equal(t, "high", inv.Value)
}

func TestParseRejectsBadInput(t *testing.T) {
	for _, v := range []Values{
		{Priority: "urgent"},
		{SortBy: "color"},
		{SortOrder: "sideways"},
		{DueBefore: "yesterday-ish"},
		{Page: -1},
	} {
		_, err := v.Parse()
		var ve domain.ValidationError
		assert.True(t, errors.As(err, &ve), "%+v", v)
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	in := fixture()
	before := ids(in)
	_ = Apply(in, mustParse(t, Values{SortBy: "title", SortOrder: "asc"}), now)
	assert.Equal(t, before, ids(in))
}

func TestSortOrders(t *testing.T) {
	cases := []struct {
		by    SortField
		order SortOrder
		want  []string
	}{
		{SortPriority, Desc, []string{"a3", "a1", "a2"}},
		{SortStatus, Asc, []string{"a1", "a2", "a3"}},
		{SortTitle, Asc, []string{"a1", "a3", "a2"}},
		{SortCreatedAt, Asc, []string{"a1", "a2", "a3"}},
	}
	for _, tc := range cases {
		t.Run(string(tc.by)+"_"+string(tc.order), func(t *testing.T) {
			got := Apply(fixture(), Filter{SortBy: tc.by, SortOrder: tc.order}, now)
			assert.Equal(t, tc.want, ids(got))
		})
	}
}

func TestSortDueDatePutsUndatedLast(t *testing.T) {
	actions := append(fixture(), domain.Action{ID: "a0", Status: domain.StatusOpen, Priority: domain.PriorityLow, CreatedAt: now})
	asc := Apply(actions, Filter{SortBy: SortDueDate, SortOrder: Asc}, now)
	assert.Equal(t, []string{"a3", "a1", "a2", "a0"}, ids(asc))
	desc := Apply(actions, Filter{SortBy: SortDueDate, SortOrder: Desc}, now)
	assert.Equal(t, []string{"a2", "a1", "a3", "a0"}, ids(desc))
}

func TestPage(t *testing.T) {
	all := fixture()
	assert.Equal(t, []string{"a1", "a2"}, ids(Page(all, 1, 2)))
	assert.Equal(t, []string{"a3"}, ids(Page(all, 2, 2)))
	assert.Empty(t, Page(all, 3, 2))
	assert.Len(t, Page(all, 0, 0), 3)
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-06-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), d)

	d, err = ParseDate("2024-06-01T10:00:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC), d)

	_, err = ParseDate("06/01/2024")
	assert.Error(t, err)
}

func TestEncodeRoundTripsThroughValues(t *testing.T) {
	f := mustParse(t, Values{Search: "ssl", Status: "open", Limit: 10, OverdueOnly: true})
	enc := f.Encode()
	assert.Equal(t, map[string]string{
		"search":       "ssl",
		"status":       "open",
		"overdue_only": "true",
		"limit":        "10",
	}, enc)
}
