// Package timeline buckets discussion messages by calendar day for display.
package timeline

import (
	"fmt"
	"sort"
	"time"

	"incidentdesk/internal/models"
)

const (
	LabelToday     = "Aujourd'hui"
	LabelYesterday = "Hier"
)

var (
	weekdays = [...]string{"dimanche", "lundi", "mardi", "mercredi", "jeudi", "vendredi", "samedi"}
	months   = [...]string{"janvier", "février", "mars", "avril", "mai", "juin", "juillet", "août", "septembre", "octobre", "novembre", "décembre"}
)

// Day holds the messages of one calendar date, oldest first.
type Day struct {
	Date     string                 `json:"date"`
	Label    string                 `json:"label"`
	Messages []models.ThreadMessage `json:"messages"`
}

func civil(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// DayLabel names the calendar day of t as seen from now in loc.
func DayLabel(t, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	day := civil(t, loc)
	today := civil(now, loc)
	switch {
	case sameDay(day, today):
		return LabelToday
	case sameDay(day, today.AddDate(0, 0, -1)):
		return LabelYesterday
	}
	return fmt.Sprintf("%s %d %s", weekdays[day.Weekday()], day.Day(), months[day.Month()-1])
}

// GroupByDay buckets messages by their date in loc. Buckets come in ascending
// date order and messages keep chronological order inside each bucket.
func GroupByDay(messages []models.ThreadMessage, now time.Time, loc *time.Location) []Day {
	if loc == nil {
		loc = time.Local
	}
	sorted := make([]models.ThreadMessage, len(messages))
	copy(sorted, messages)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	days := make([]Day, 0)
	for _, m := range sorted {
		key := m.CreatedAt.In(loc).Format("2006-01-02")
		if n := len(days); n > 0 && days[n-1].Date == key {
			days[n-1].Messages = append(days[n-1].Messages, m)
			continue
		}
		days = append(days, Day{
			Date:     key,
			Label:    DayLabel(m.CreatedAt, now, loc),
			Messages: []models.ThreadMessage{m},
		})
	}
	return days
}
