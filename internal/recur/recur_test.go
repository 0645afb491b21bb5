package recur

import (
	"testing"
	"time"

	"stashd/internal/store"
)

func at(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func TestNext(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		freq      store.Frequency
		hour      int
		dayOfWeek int
		now       time.Time
		want      time.Time
	}{
		{
			name: "hourly mid hour",
			freq: store.FreqHourly, hour: 9, // ignored
			now:  at(2025, 6, 10, 14, 30),
			want: at(2025, 6, 10, 15, 0),
		},
		{
			name: "hourly exactly on boundary advances",
			freq: store.FreqHourly,
			now:  at(2025, 6, 10, 14, 0),
			want: at(2025, 6, 10, 15, 0),
		},
		{
			name: "hourly rolls over midnight",
			freq: store.FreqHourly,
			now:  at(2025, 6, 10, 23, 45),
			want: at(2025, 6, 11, 0, 0),
		},
		{
			name: "daily before preferred hour",
			freq: store.FreqDaily, hour: 2,
			now:  at(2025, 6, 10, 1, 15),
			want: at(2025, 6, 10, 2, 0),
		},
		{
			name: "daily past preferred hour",
			freq: store.FreqDaily, hour: 2,
			now:  at(2025, 6, 10, 2, 0),
			want: at(2025, 6, 11, 2, 0),
		},
		{
			// 2025-06-10 is a Tuesday (weekday 2).
			name: "weekly later this week",
			freq: store.FreqWeekly, hour: 5, dayOfWeek: 5,
			now:  at(2025, 6, 10, 12, 0),
			want: at(2025, 6, 13, 5, 0),
		},
		{
			name: "weekly same day before hour",
			freq: store.FreqWeekly, hour: 20, dayOfWeek: 2,
			now:  at(2025, 6, 10, 12, 0),
			want: at(2025, 6, 10, 20, 0),
		},
		{
			name: "weekly same day past hour advances full week",
			freq: store.FreqWeekly, hour: 5, dayOfWeek: 2,
			now:  at(2025, 6, 10, 12, 0),
			want: at(2025, 6, 17, 5, 0),
		},
		{
			name: "weekly wraps to sunday",
			freq: store.FreqWeekly, hour: 3, dayOfWeek: 0,
			now:  at(2025, 6, 10, 12, 0),
			want: at(2025, 6, 15, 3, 0),
		},
		{
			name: "monthly mid month",
			freq: store.FreqMonthly, hour: 4,
			now:  at(2025, 6, 10, 12, 0),
			want: at(2025, 7, 1, 4, 0),
		},
		{
			name: "monthly on the 1st still advances",
			freq: store.FreqMonthly, hour: 4,
			now:  at(2025, 6, 1, 2, 0),
			want: at(2025, 7, 1, 4, 0),
		},
		{
			name: "monthly december wraps year",
			freq: store.FreqMonthly, hour: 0,
			now:  at(2025, 12, 15, 12, 0),
			want: at(2026, 1, 1, 0, 0),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Next(tt.freq, tt.hour, tt.dayOfWeek, tt.now)
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("Next = %v, want %v", got, tt.want)
			}
			if !got.After(tt.now) {
				t.Fatalf("Next = %v is not strictly after now %v", got, tt.now)
			}
		})
	}
}

func TestNextStrictlyFuture(t *testing.T) {
	t.Parallel()
	// Sweep a few days of nows against every frequency; the result must
	// always be strictly in the future.
	freqs := []store.Frequency{store.FreqHourly, store.FreqDaily, store.FreqWeekly, store.FreqMonthly}
	start := at(2025, 2, 26, 0, 0) // spans a month boundary (non-leap February)
	for _, f := range freqs {
		for h := 0; h < 72; h++ {
			now := start.Add(time.Duration(h) * time.Hour)
			got, err := Next(f, 2, 3, now)
			if err != nil {
				t.Fatalf("Next(%s): %v", f, err)
			}
			if !got.After(now) {
				t.Fatalf("Next(%s, now=%v) = %v not strictly future", f, now, got)
			}
		}
	}
}

func TestNextRejectsBadInput(t *testing.T) {
	t.Parallel()
	if _, err := Next(store.FreqDaily, 24, 0, at(2025, 6, 10, 0, 0)); err == nil {
		t.Fatal("expected error for hour 24")
	}
	if _, err := Next(store.FreqWeekly, 2, 7, at(2025, 6, 10, 0, 0)); err == nil {
		t.Fatal("expected error for weekday 7")
	}
	if _, err := Next(store.Frequency("fortnightly"), 2, 0, at(2025, 6, 10, 0, 0)); err == nil {
		t.Fatal("expected error for unknown frequency")
	}
}
