/*
Copyright © 2024 the CDIP authors.
This file is part of cdipgo.

cdipgo is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

cdipgo is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with cdipgo.  If not, see <http://www.gnu.org/licenses/>.
*/

package units

import (
	"reflect"
	"testing"
	"time"
)

func mustRange(t *testing.T, start, end string) TimeRange {
	t.Helper()
	s, err := time.Parse(time.RFC3339, start)
	if err != nil {
		t.Fatal(err)
	}
	e, err := time.Parse(time.RFC3339, end)
	if err != nil {
		t.Fatal(err)
	}
	tr, err := NewTimeRange(s, e)
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

func TestNewTimeRange(t *testing.T) {
	now := time.Now()
	if _, err := NewTimeRange(now, now); err == nil {
		t.Error("zero-length range should be rejected")
	}
	if _, err := NewTimeRange(now.Add(time.Hour), now); err == nil {
		t.Error("inverted range should be rejected")
	}
	tr, err := NewTimeRange(now, now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if tr.Duration() != time.Hour {
		t.Errorf("duration = %v, want 1h", tr.Duration())
	}
}

func TestOverlapsAndIntersect(t *testing.T) {
	a := mustRange(t, "2020-01-01T00:00:00Z", "2020-01-02T00:00:00Z")
	b := mustRange(t, "2020-01-01T12:00:00Z", "2020-01-03T00:00:00Z")
	c := mustRange(t, "2020-01-02T00:00:00Z", "2020-01-03T00:00:00Z")

	if !a.Overlaps(b) {
		t.Error("a should overlap b")
	}
	if a.Overlaps(c) {
		t.Error("half-open ranges sharing only a boundary should not overlap")
	}
	got, ok := a.Intersect(b)
	if !ok {
		t.Fatal("intersect failed")
	}
	want := mustRange(t, "2020-01-01T12:00:00Z", "2020-01-02T00:00:00Z")
	if !got.Equal(want) {
		t.Errorf("intersect = %v, want %v", got, want)
	}

	open := TimeRange{Start: b.Start}
	if !open.Overlaps(c) {
		t.Error("open-ended range should overlap later ranges")
	}
	got, ok = open.Intersect(c)
	if !ok || !got.Equal(c) {
		t.Errorf("open-ended intersect = %v, want %v", got, c)
	}
}

func TestGaps(t *testing.T) {
	want := mustRange(t, "2020-01-01T00:00:00Z", "2020-01-04T00:00:00Z")
	covered := []TimeRange{
		mustRange(t, "2020-01-01T00:00:00Z", "2020-01-02T00:00:00Z"),
		mustRange(t, "2020-01-02T12:00:00Z", "2020-01-03T00:00:00Z"),
	}
	gaps := Gaps(want, covered)
	wantGaps := []TimeRange{
		mustRange(t, "2020-01-02T00:00:00Z", "2020-01-02T12:00:00Z"),
		mustRange(t, "2020-01-03T00:00:00Z", "2020-01-04T00:00:00Z"),
	}
	if !reflect.DeepEqual(gaps, wantGaps) {
		t.Errorf("gaps = %v, want %v", gaps, wantGaps)
	}

	if g := Gaps(want, []TimeRange{want}); g != nil {
		t.Errorf("full coverage should yield no gaps, got %v", g)
	}
	if g := Gaps(want, nil); len(g) != 1 || !g[0].Equal(want) {
		t.Errorf("no coverage should yield the whole range, got %v", g)
	}
}

func TestCoalesce(t *testing.T) {
	spans := []TimeRange{
		mustRange(t, "2020-01-02T00:00:00Z", "2020-01-03T00:00:00Z"),
		mustRange(t, "2020-01-01T00:00:00Z", "2020-01-02T00:00:00Z"), // abuts previous
		mustRange(t, "2020-01-05T00:00:00Z", "2020-01-06T00:00:00Z"),
	}
	got := Coalesce(spans)
	want := []TimeRange{
		mustRange(t, "2020-01-01T00:00:00Z", "2020-01-03T00:00:00Z"),
		mustRange(t, "2020-01-05T00:00:00Z", "2020-01-06T00:00:00Z"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("coalesce = %v, want %v", got, want)
	}
}

func TestParseEpoch(t *testing.T) {
	tests := []struct {
		attr string
		raw  float64
		want string
	}{
		{"seconds since 1970-01-01 00:00:00", 1577836800, "2020-01-01T00:00:00Z"},
		{"minutes since 2000-01-01", 60, "2000-01-01T01:00:00Z"},
		{"days since 1990-01-01 00:00:00 UTC", 1, "1990-01-02T00:00:00Z"},
	}
	for _, test := range tests {
		e, err := ParseEpoch(test.attr)
		if err != nil {
			t.Fatalf("%q: %v", test.attr, err)
		}
		got := e.Time(test.raw).Format(time.RFC3339)
		if got != test.want {
			t.Errorf("%q at %g = %s, want %s", test.attr, test.raw, got, test.want)
		}
		if v := e.Value(e.Time(test.raw)); v != test.raw {
			t.Errorf("%q: round trip %g != %g", test.attr, v, test.raw)
		}
	}
	if _, err := ParseEpoch("furlongs since yesterday"); err == nil {
		t.Error("nonsense encoding should fail")
	}
}

func TestEpochFractionalSeconds(t *testing.T) {
	e := UnixEpoch
	got := e.Time(0.78125)
	want := time.Date(1970, 1, 1, 0, 0, 0, 781250000, time.UTC)
	if !got.Equal(want) {
		t.Errorf("fractional conversion = %v, want %v", got, want)
	}
}
