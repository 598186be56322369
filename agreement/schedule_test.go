package agreement

import (
	"errors"
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 30, 0, 0, time.UTC)
}

func TestNextDueDate(t *testing.T) {
	cases := []struct {
		name    string
		current time.Time
		freq    Frequency
		want    time.Time
	}{
		{"monthly month end clamps into leap february", date(2024, time.January, 31), FrequencyMonthly, date(2024, time.February, 29)},
		{"monthly mid month", date(2024, time.March, 15), FrequencyMonthly, date(2024, time.April, 15)},
		{"monthly crosses year", date(2024, time.December, 31), FrequencyMonthly, date(2025, time.January, 31)},
		{"monthly clamps thirty day month", date(2025, time.May, 31), FrequencyMonthly, date(2025, time.June, 30)},
		{"quarterly crosses year and clamps", date(2024, time.November, 30), FrequencyQuarterly, date(2025, time.February, 28)},
		{"quarterly plain", date(2024, time.January, 10), FrequencyQuarterly, date(2024, time.April, 10)},
		{"semiannually crosses year", date(2024, time.August, 31), FrequencySemiannually, date(2025, time.February, 28)},
		{"semiannually plain", date(2024, time.December, 15), FrequencySemiannually, date(2025, time.June, 15)},
		{"annually crosses year", date(2024, time.December, 15), FrequencyAnnually, date(2025, time.December, 15)},
		{"annually leap day clamps", date(2024, time.February, 29), FrequencyAnnually, date(2025, time.February, 28)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NextDueDate(tc.current, tc.freq)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tc.want) {
				t.Fatalf("NextDueDate(%s, %s) = %s, want %s", tc.current.Format(time.RFC3339), tc.freq, got.Format(time.RFC3339), tc.want.Format(time.RFC3339))
			}
			if !got.After(tc.current) {
				t.Fatalf("next due date %s does not advance past %s", got, tc.current)
			}
		})
	}
}

func TestNextDueDate_KeepsLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	current := time.Date(2024, time.January, 31, 23, 0, 0, 0, loc)

	got, err := NextDueDate(current, FrequencyMonthly)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, time.February, 29, 23, 0, 0, 0, loc)
	if !got.Equal(want) || got.Location() != loc {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestNextDueDate_UnknownFrequency(t *testing.T) {
	_, err := NextDueDate(date(2024, time.January, 1), Frequency("weekly"))
	if !errors.Is(err, ErrUnknownFrequency) {
		t.Fatalf("expected ErrUnknownFrequency, got %v", err)
	}
}

func TestFrequencyValid(t *testing.T) {
	for _, f := range []Frequency{FrequencyMonthly, FrequencyQuarterly, FrequencySemiannually, FrequencyAnnually} {
		if !f.Valid() {
			t.Errorf("expected %s to be valid", f)
		}
	}
	if Frequency("biweekly").Valid() {
		t.Errorf("expected biweekly to be invalid")
	}
}
