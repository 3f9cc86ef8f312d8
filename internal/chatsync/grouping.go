package chatsync

import (
	"math"
	"time"
)

// DayGroup is the run of entries that fall on one local calendar day.
type DayGroup struct {
	Label   string    `json:"label"`
	Day     time.Time `json:"day"`
	Entries []Entry   `json:"entries"`
}

// DateLayout formats days older than yesterday, as in "17 Oct 2026".
const DateLayout = "2 Jan 2006"

// GroupByDay buckets entries by local day in loc. entries must already be
// ordered; order is kept inside each group.
func GroupByDay(entries []Entry, now time.Time, loc *time.Location) []DayGroup {
	if loc == nil {
		loc = time.UTC
	}
	var groups []DayGroup
	for _, e := range entries {
		day := startOfDay(e.Time(), loc)
		if n := len(groups); n > 0 && groups[n-1].Day.Equal(day) {
			groups[n-1].Entries = append(groups[n-1].Entries, e)
			continue
		}
		groups = append(groups, DayGroup{
			Label:   DayLabel(e.Time(), now, loc),
			Day:     day,
			Entries: []Entry{e},
		})
	}
	return groups
}

// DayLabel names the local day of t relative to now: "Today", "Yesterday",
// or the date.
func DayLabel(t, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	switch daysBetween(startOfDay(t, loc), startOfDay(now, loc)) {
	case 0:
		return "Today"
	case 1:
		return "Yesterday"
	default:
		return t.In(loc).Format(DateLayout)
	}
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// daysBetween rounds so that 23 and 25 hour days still count as one.
func daysBetween(from, to time.Time) int {
	return int(math.Round(to.Sub(from).Hours() / 24))
}
