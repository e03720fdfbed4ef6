// Package duedate parses the deadline expressions accepted on the command
// line and renders deadlines relative to now.
//
// Parsing is layered, first match wins:
//  1. Calendar date (2024-06-30) at UTC midnight
//  2. RFC3339 timestamp
//  3. Compact duration from now (+6h, 3d, -1w, 2m, 1y)
//  4. Natural language (tomorrow, next friday, in 2 weeks)
package duedate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var compactDurationRe = regexp.MustCompile(`^([+-]?)(\d+)([hdwmy])$`)

var parser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// Parse resolves s against now. The empty string is an error; callers
// that allow "no deadline" check for it first.
func Parse(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty due date")
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, ok := compact(s, now); ok {
		return t.UTC(), nil
	}
	r, err := parser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse due date %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized due date %q: use YYYY-MM-DD, RFC3339, +3d or a phrase like \"next friday\"", s)
	}
	return r.Time.UTC(), nil
}

func compact(s string, now time.Time) (time.Time, bool) {
	m := compactDurationRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return time.Time{}, false
	}
	if m[1] == "-" {
		n = -n
	}
	switch m[3] {
	case "h":
		return now.Add(time.Duration(n) * time.Hour), true
	case "d":
		return now.AddDate(0, 0, n), true
	case "w":
		return now.AddDate(0, 0, 7*n), true
	case "m":
		return now.AddDate(0, n, 0), true
	case "y":
		return now.AddDate(n, 0, 0), true
	}
	return time.Time{}, false
}

// Humanize renders due relative to now, e.g. "3 days from now" or
// "2 hours ago". A nil deadline renders as "-".
func Humanize(due *time.Time, now time.Time) string {
	if due == nil {
		return "-"
	}
	return humanize.RelTime(*due, now, "ago", "from now")
}
