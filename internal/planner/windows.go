// Package planner splits a requested time range into fixed-length fetch
// windows and decides which of them the local store already covers.
package planner

import (
	"time"
)

// MaxWindowSpan is the longest range requested from the upstream API in a
// single fetch. Longer job ranges are split into consecutive spans of this
// length, with the final span clipped at the requested end.
const MaxWindowSpan = 30 * 24 * time.Hour

// FreshnessHorizon bounds how old a cached window covering the in-progress
// period may be before it is refetched. Historical windows never expire.
const FreshnessHorizon = 24 * time.Hour

// Window is one planned fetch span. Cached windows need no upstream call.
type Window struct {
	Start  time.Time
	End    time.Time
	Cached bool
}

// Coverage is the store-side view the planner needs: whether stored fetch
// windows fully contain a range, optionally restricted by fetch recency.
type Coverage interface {
	HasFullCoverage(stationID string, start, end time.Time) (bool, error)
	HasFreshCoverage(stationID string, start, end time.Time, minFetchedAt time.Time) (bool, error)
}

// Split cuts [start, end) into consecutive MaxWindowSpan spans. The split is
// deterministic: it depends only on the requested range, so a rerun of the
// same query plans the same windows and finds them cached.
func Split(start, end time.Time) []Window {
	start = start.UTC()
	end = end.UTC()
	if !start.Before(end) {
		return nil
	}

	var windows []Window
	for cursor := start; cursor.Before(end); {
		next := cursor.Add(MaxWindowSpan)
		if next.After(end) {
			next = end
		}
		windows = append(windows, Window{Start: cursor, End: next})
		cursor = next
	}
	return windows
}

// Plan splits the range and marks each window cached or missing against the
// store. A window that reaches into the still-accumulating present (relative
// to now) only counts as cached when its coverage was fetched within
// FreshnessHorizon; fully historical windows are cached forever.
func Plan(cov Coverage, stationID string, start, end, now time.Time) ([]Window, error) {
	windows := Split(start, end)
	settledBefore := settledCutoff(now)

	for i := range windows {
		w := &windows[i]
		var covered bool
		var err error
		if w.End.After(settledBefore) {
			covered, err = cov.HasFreshCoverage(stationID, w.Start, w.End, now.Add(-FreshnessHorizon))
		} else {
			covered, err = cov.HasFullCoverage(stationID, w.Start, w.End)
		}
		if err != nil {
			return nil, err
		}
		w.Cached = covered
	}
	return windows, nil
}

// settledCutoff returns the start of the current UTC month. Data before it is
// treated as immutable upstream; data at or after it can still change.
func settledCutoff(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// CountMissing returns how many windows still need an upstream fetch.
func CountMissing(windows []Window) int {
	n := 0
	for _, w := range windows {
		if !w.Cached {
			n++
		}
	}
	return n
}
