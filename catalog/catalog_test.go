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

package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/UCSD-SIO-CDIP/cdipgo/schema"
	"github.com/UCSD-SIO-CDIP/cdipgo/units"
)

func TestStationIDNormalize(t *testing.T) {
	tests := map[StationID]StationID{
		"28":     "028p1",
		"028":    "028p1",
		"028p2":  "028p2",
		"100p1":  "100p1",
		" 100p1": "100p1",
	}
	for in, want := range tests {
		if got := in.Normalize(); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBetter(t *testing.T) {
	older := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.AddDate(0, 6, 0)
	rep := Dataset{Key: "a", Quality: QualityReprocessed, Published: older}
	prov := Dataset{Key: "b", Quality: QualityProvisional, Published: newer}

	if !Better(rep, prov, PreferReprocessed) {
		t.Error("reprocessed should win under the default policy")
	}
	if !Better(prov, rep, PreferProvisional) {
		t.Error("provisional should win under PreferProvisional")
	}

	rep2 := rep
	rep2.Key = "c"
	rep2.Published = newer
	if !Better(rep2, rep, PreferReprocessed) {
		t.Error("equal quality should fall back to publish time")
	}
}

// fakeLister serves a scripted sequence of dataset listings and counts
// calls.
type fakeLister struct {
	listings [][]Dataset
	calls    int
}

func (f *fakeLister) ListDatasets(ctx context.Context, station StationID, product schema.Product) ([]Dataset, error) {
	i := f.calls
	f.calls++
	if i >= len(f.listings) {
		i = len(f.listings) - 1
	}
	return f.listings[i], nil
}

func tr(t *testing.T, start, end string) units.TimeRange {
	t.Helper()
	s, err := time.Parse(time.RFC3339, start)
	if err != nil {
		t.Fatal(err)
	}
	e, err := time.Parse(time.RFC3339, end)
	if err != nil {
		t.Fatal(err)
	}
	r, err := units.NewTimeRange(s, e)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestResolveCachesListings(t *testing.T) {
	d := Dataset{
		Key:      "100p1_d01",
		Station:  "100p1",
		Coverage: tr(t, "2020-01-01T00:00:00Z", "2021-01-01T00:00:00Z"),
		Quality:  QualityReprocessed,
	}
	l := &fakeLister{listings: [][]Dataset{{d}}}
	r := NewResolver(l, Options{})
	ctx := context.Background()
	want := tr(t, "2020-02-01T00:00:00Z", "2020-03-01T00:00:00Z")

	for i := 0; i < 3; i++ {
		res, err := r.Resolve(ctx, "100", schema.Compendium, want)
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Datasets) != 1 || res.Datasets[0].Key != d.Key {
			t.Fatalf("resolution = %+v", res)
		}
		if len(res.Gaps) != 0 {
			t.Fatalf("unexpected gaps %v", res.Gaps)
		}
	}
	if l.calls != 1 {
		t.Errorf("lister called %d times, want 1 (covered requests served from cache)", l.calls)
	}
}

func TestResolveRefreshesOnGap(t *testing.T) {
	jan := tr(t, "2020-01-01T00:00:00Z", "2020-02-01T00:00:00Z")
	feb := tr(t, "2020-02-01T00:00:00Z", "2020-03-01T00:00:00Z")
	d1 := Dataset{Key: "d01", Coverage: jan}
	d2 := Dataset{Key: "d02", Coverage: feb}

	l := &fakeLister{listings: [][]Dataset{{d1}, {d1, d2}}}
	r := NewResolver(l, Options{})
	ctx := context.Background()

	// Prime the cache with a request covered by d01 alone.
	if _, err := r.Resolve(ctx, "100", schema.Compendium, jan); err != nil {
		t.Fatal(err)
	}
	if l.calls != 1 {
		t.Fatalf("lister calls = %d, want 1", l.calls)
	}

	// A wider request leaves a gap under the cached listing; the
	// resolver must refresh and find the newly published d02.
	res, err := r.Resolve(ctx, "100", schema.Compendium, tr(t, "2020-01-01T00:00:00Z", "2020-03-01T00:00:00Z"))
	if err != nil {
		t.Fatal(err)
	}
	if l.calls != 2 {
		t.Errorf("lister calls = %d, want 2 (gap should force a refresh)", l.calls)
	}
	if len(res.Datasets) != 2 {
		t.Fatalf("datasets = %+v, want d01 and d02", res.Datasets)
	}
	if len(res.Gaps) != 0 {
		t.Errorf("gaps = %v, want none after refresh", res.Gaps)
	}
}

func TestResolvePartialCoverage(t *testing.T) {
	jan := tr(t, "2020-01-01T00:00:00Z", "2020-02-01T00:00:00Z")
	d1 := Dataset{Key: "d01", Coverage: jan}
	l := &fakeLister{listings: [][]Dataset{{d1}}}
	r := NewResolver(l, Options{})

	res, err := r.Resolve(context.Background(), "100", schema.Compendium,
		tr(t, "2020-01-15T00:00:00Z", "2020-02-15T00:00:00Z"))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Datasets) != 1 {
		t.Fatalf("datasets = %+v", res.Datasets)
	}
	wantGap := tr(t, "2020-02-01T00:00:00Z", "2020-02-15T00:00:00Z")
	if len(res.Gaps) != 1 || !res.Gaps[0].Equal(wantGap) {
		t.Errorf("gaps = %v, want [%v]", res.Gaps, wantGap)
	}
}

func TestResolveNotFound(t *testing.T) {
	l := &fakeLister{listings: [][]Dataset{nil}}
	r := NewResolver(l, Options{})
	_, err := r.Resolve(context.Background(), "100", schema.Compendium,
		tr(t, "2020-01-01T00:00:00Z", "2020-02-01T00:00:00Z"))
	if _, ok := err.(NotFoundError); !ok {
		t.Errorf("err = %v, want NotFoundError", err)
	}
}

func TestResolveTTLExpiry(t *testing.T) {
	jan := tr(t, "2020-01-01T00:00:00Z", "2020-02-01T00:00:00Z")
	d1 := Dataset{Key: "d01", Coverage: jan}
	l := &fakeLister{listings: [][]Dataset{{d1}}}

	clock := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	r := NewResolver(l, Options{TTL: time.Minute, Now: func() time.Time { return clock }})
	ctx := context.Background()

	if _, err := r.Resolve(ctx, "100", schema.Compendium, jan); err != nil {
		t.Fatal(err)
	}
	clock = clock.Add(2 * time.Minute)
	if _, err := r.Resolve(ctx, "100", schema.Compendium, jan); err != nil {
		t.Fatal(err)
	}
	if l.calls != 2 {
		t.Errorf("lister calls = %d, want 2 after TTL expiry", l.calls)
	}
}
