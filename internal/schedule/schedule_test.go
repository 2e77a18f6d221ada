package schedule

import (
	"context"
	"testing"
	"time"
)

func TestNextMidnight(t *testing.T) {
	cases := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			name: "mid afternoon",
			in:   time.Date(2025, 3, 10, 15, 30, 0, 0, time.UTC),
			want: time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "exactly midnight rolls to next day",
			in:   time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
			want: time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "one nanosecond before midnight",
			in:   time.Date(2025, 3, 10, 23, 59, 59, 999999999, time.UTC),
			want: time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "month boundary",
			in:   time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC),
			want: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NextMidnight(tc.in)
			if !got.Equal(tc.want) {
				t.Fatalf("NextMidnight(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestDailyRunFiresAtBoundary(t *testing.T) {
	fired := make(chan struct{}, 1)
	d := NewDaily("test-job", func(context.Context) {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	// Pin the clock a hair before midnight so the first wait is tiny.
	d.now = func() time.Time {
		return time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC).Add(-5 * time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not fire at the midnight boundary")
	}
}

func TestDailyRunStopsOnCancel(t *testing.T) {
	d := NewDaily("never-job", func(context.Context) {
		t.Error("job should not fire before midnight")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
