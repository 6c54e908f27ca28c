package timeline

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"incidentdesk/internal/models"
)

func msg(id int64, at time.Time) models.ThreadMessage {
	return models.ThreadMessage{Message: models.Message{ID: id, CreatedAt: at}}
}

func TestDayLabel(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	now := time.Date(2024, 3, 6, 10, 0, 0, 0, paris)

	cases := []struct {
		at   time.Time
		want string
	}{
		{time.Date(2024, 3, 6, 0, 5, 0, 0, paris), LabelToday},
		{time.Date(2024, 3, 5, 23, 59, 0, 0, paris), LabelYesterday},
		{time.Date(2024, 3, 4, 8, 0, 0, 0, paris), "lundi 4 mars"},
		{time.Date(2023, 12, 25, 8, 0, 0, 0, paris), "lundi 25 décembre"},
		{time.Date(2024, 8, 15, 8, 0, 0, 0, paris), "jeudi 15 août"},
		// 23:30 UTC on the 5th is already the 6th in Paris.
		{time.Date(2024, 3, 5, 23, 30, 0, 0, time.UTC), LabelToday},
	}
	for _, tc := range cases {
		if got := DayLabel(tc.at, now, paris); got != tc.want {
			t.Errorf("DayLabel(%s) = %q, want %q", tc.at, got, tc.want)
		}
	}
}

func TestDayLabelAcrossDST(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// The night of 30 to 31 March 2024 is 23 hours long in Paris.
	now := time.Date(2024, 3, 31, 0, 30, 0, 0, paris)
	if got := DayLabel(time.Date(2024, 3, 30, 0, 10, 0, 0, paris), now, paris); got != LabelYesterday {
		t.Fatalf("expected %q, got %q", LabelYesterday, got)
	}
	if got := DayLabel(time.Date(2024, 3, 29, 23, 50, 0, 0, paris), now, paris); got != "vendredi 29 mars" {
		t.Fatalf("unexpected label %q", got)
	}
}

func TestGroupByDay(t *testing.T) {
	loc := time.UTC
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, loc)
	d1 := time.Date(2024, 3, 4, 9, 0, 0, 0, loc)
	d2 := time.Date(2024, 3, 5, 9, 0, 0, 0, loc)

	// Inputs arrive out of order; output is chronological.
	got := GroupByDay([]models.ThreadMessage{
		msg(3, d2),
		msg(1, d1),
		msg(2, d1.Add(time.Hour)),
		msg(4, d2),
	}, now, loc)

	want := []Day{
		{Date: "2024-03-04", Label: LabelYesterday, Messages: []models.ThreadMessage{msg(1, d1), msg(2, d1.Add(time.Hour))}},
		{Date: "2024-03-05", Label: LabelToday, Messages: []models.ThreadMessage{msg(3, d2), msg(4, d2)}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("GroupByDay mismatch (-want +got):\n%s", diff)
	}
}

func TestGroupByDayEmpty(t *testing.T) {
	got := GroupByDay(nil, time.Now(), time.UTC)
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}
