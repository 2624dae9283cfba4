package planner

import (
	"testing"
	"time"
)

func utc(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSplitThirtyDaySpans(t *testing.T) {
	got := Split(utc(2023, time.January, 1), utc(2023, time.March, 15))

	want := []Window{
		{Start: utc(2023, time.January, 1), End: utc(2023, time.January, 31)},
		{Start: utc(2023, time.January, 31), End: utc(2023, time.March, 2)},
		{Start: utc(2023, time.March, 2), End: utc(2023, time.March, 15)},
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Start.Equal(want[i].Start) || !got[i].End.Equal(want[i].End) {
			t.Errorf("window %d = [%v, %v), want [%v, %v)",
				i, got[i].Start, got[i].End, want[i].Start, want[i].End)
		}
	}
}

func TestSplitShortRange(t *testing.T) {
	got := Split(utc(2023, time.June, 1), utc(2023, time.June, 10))
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if !got[0].End.Equal(utc(2023, time.June, 10)) {
		t.Errorf("End = %v, want June 10", got[0].End)
	}
}

func TestSplitEmptyRange(t *testing.T) {
	if got := Split(utc(2023, time.June, 1), utc(2023, time.June, 1)); got != nil {
		t.Errorf("Split of empty range = %v, want nil", got)
	}
	if got := Split(utc(2023, time.June, 2), utc(2023, time.June, 1)); got != nil {
		t.Errorf("Split of inverted range = %v, want nil", got)
	}
}

func TestSplitDeterministic(t *testing.T) {
	a := Split(utc(2022, time.March, 7), utc(2023, time.November, 19))
	b := Split(utc(2022, time.March, 7), utc(2023, time.November, 19))
	if len(a) != len(b) {
		t.Fatalf("lens differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if !a[i].Start.Equal(b[i].Start) || !a[i].End.Equal(b[i].End) {
			t.Errorf("window %d differs between runs", i)
		}
	}
}

type fakeCoverage struct {
	full  map[string]bool // keyed by start RFC3339
	fresh map[string]bool
}

func (f *fakeCoverage) HasFullCoverage(stationID string, start, end time.Time) (bool, error) {
	return f.full[start.Format(time.RFC3339)], nil
}

func (f *fakeCoverage) HasFreshCoverage(stationID string, start, end time.Time, minFetchedAt time.Time) (bool, error) {
	return f.fresh[start.Format(time.RFC3339)], nil
}

func TestPlanMarksCachedWindows(t *testing.T) {
	cov := &fakeCoverage{
		full: map[string]bool{
			utc(2023, time.January, 1).Format(time.RFC3339): true,
		},
		fresh: map[string]bool{},
	}

	now := utc(2023, time.June, 1)
	windows, err := Plan(cov, "89064", utc(2023, time.January, 1), utc(2023, time.March, 15), now)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(windows) != 3 {
		t.Fatalf("len = %d, want 3", len(windows))
	}
	if !windows[0].Cached {
		t.Error("window 0 should be cached")
	}
	if windows[1].Cached || windows[2].Cached {
		t.Error("windows 1 and 2 should be missing")
	}
	if CountMissing(windows) != 2 {
		t.Errorf("CountMissing = %d, want 2", CountMissing(windows))
	}
}

func TestPlanCurrentMonthNeedsFreshCoverage(t *testing.T) {
	now := time.Date(2023, time.June, 20, 12, 0, 0, 0, time.UTC)
	start := utc(2023, time.June, 10)
	end := utc(2023, time.June, 18)

	// Covered historically but not freshly: the in-progress month must refetch.
	key := start.Format(time.RFC3339)
	cov := &fakeCoverage{
		full:  map[string]bool{key: true},
		fresh: map[string]bool{},
	}
	windows, err := Plan(cov, "89064", start, end, now)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if windows[0].Cached {
		t.Error("stale coverage of the current month should not count as cached")
	}

	cov.fresh[key] = true
	windows, err = Plan(cov, "89064", start, end, now)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !windows[0].Cached {
		t.Error("fresh coverage of the current month should count as cached")
	}
}
