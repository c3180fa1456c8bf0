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

// Package units converts the heterogeneous timestamp encodings and physical
// units found in the buoy archive into one canonical representation:
// UTC instants and SI units.
package units

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// A TimeRange is a half-open interval [Start, End) of UTC instants.
type TimeRange struct {
	Start, End time.Time
}

// NewTimeRange creates a half-open time range [start, end).
// Zero-length and inverted ranges are rejected.
func NewTimeRange(start, end time.Time) (TimeRange, error) {
	if !start.Before(end) {
		return TimeRange{}, fmt.Errorf("units: invalid time range [%v, %v): start must precede end", start, end)
	}
	return TimeRange{Start: start.UTC(), End: end.UTC()}, nil
}

// IsZero reports whether the range is unset.
func (tr TimeRange) IsZero() bool { return tr.Start.IsZero() && tr.End.IsZero() }

// OpenEnded reports whether the range has no declared end, as for a
// realtime dataset that is still accumulating records.
func (tr TimeRange) OpenEnded() bool { return !tr.Start.IsZero() && tr.End.IsZero() }

// Duration returns End−Start. It is zero for open-ended ranges.
func (tr TimeRange) Duration() time.Duration {
	if tr.OpenEnded() {
		return 0
	}
	return tr.End.Sub(tr.Start)
}

// Contains reports whether t falls within [Start, End).
func (tr TimeRange) Contains(t time.Time) bool {
	if t.Before(tr.Start) {
		return false
	}
	return tr.OpenEnded() || t.Before(tr.End)
}

// Overlaps reports whether the two ranges share any instant.
func (tr TimeRange) Overlaps(o TimeRange) bool {
	if !tr.OpenEnded() && !tr.End.After(o.Start) {
		return false
	}
	if !o.OpenEnded() && !o.End.After(tr.Start) {
		return false
	}
	return true
}

// Intersect returns the common sub-range of tr and o.
func (tr TimeRange) Intersect(o TimeRange) (TimeRange, bool) {
	if !tr.Overlaps(o) {
		return TimeRange{}, false
	}
	out := tr
	if o.Start.After(out.Start) {
		out.Start = o.Start
	}
	if out.OpenEnded() || (!o.OpenEnded() && o.End.Before(out.End)) {
		out.End = o.End
	}
	return out, true
}

// Equal reports whether the two ranges describe the same interval.
func (tr TimeRange) Equal(o TimeRange) bool {
	return tr.Start.Equal(o.Start) && tr.End.Equal(o.End)
}

func (tr TimeRange) String() string {
	end := "open"
	if !tr.OpenEnded() {
		end = tr.End.Format(time.RFC3339)
	}
	return fmt.Sprintf("[%s, %s)", tr.Start.Format(time.RFC3339), end)
}

// Coalesce sorts the given ranges by start time and merges ranges that
// overlap or abut into maximal contiguous ranges. Open-ended ranges
// swallow everything after their start.
func Coalesce(spans []TimeRange) []TimeRange {
	if len(spans) == 0 {
		return nil
	}
	s := make([]TimeRange, len(spans))
	copy(s, spans)
	sort.Slice(s, func(i, j int) bool { return s[i].Start.Before(s[j].Start) })
	out := []TimeRange{s[0]}
	for _, span := range s[1:] {
		last := &out[len(out)-1]
		if last.OpenEnded() {
			break
		}
		if !span.Start.After(last.End) { // overlap or abut
			if span.OpenEnded() {
				last.End = time.Time{}
			} else if span.End.After(last.End) {
				last.End = span.End
			}
			continue
		}
		out = append(out, span)
	}
	return out
}

// Gaps returns the sub-ranges of want not covered by the given ranges.
func Gaps(want TimeRange, covered []TimeRange) []TimeRange {
	var gaps []TimeRange
	cursor := want.Start
	for _, c := range Coalesce(covered) {
		cc, ok := c.Intersect(want)
		if !ok {
			continue
		}
		if cc.Start.After(cursor) {
			gaps = append(gaps, TimeRange{Start: cursor, End: cc.Start})
		}
		if cc.OpenEnded() {
			return gaps
		}
		if cc.End.After(cursor) {
			cursor = cc.End
		}
	}
	if cursor.Before(want.End) {
		gaps = append(gaps, TimeRange{Start: cursor, End: want.End})
	}
	return gaps
}

// An Epoch describes a timestamp encoding: raw values count steps since a
// base instant, as declared by a NetCDF units attribute such as
// "seconds since 1970-01-01 00:00:00 UTC".
type Epoch struct {
	Base time.Time
	Step time.Duration
}

// UnixEpoch is the encoding used by the archive's time coordinates.
var UnixEpoch = Epoch{Base: time.Unix(0, 0).UTC(), Step: time.Second}

var epochSteps = map[string]time.Duration{
	"seconds": time.Second,
	"second":  time.Second,
	"minutes": time.Minute,
	"minute":  time.Minute,
	"hours":   time.Hour,
	"hour":    time.Hour,
	"days":    24 * time.Hour,
	"day":     24 * time.Hour,
}

var epochBaseFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseEpoch parses a units attribute of the form "<step> since <base>".
func ParseEpoch(attr string) (Epoch, error) {
	fields := strings.Fields(attr)
	if len(fields) < 3 || fields[1] != "since" {
		return Epoch{}, fmt.Errorf("units: %q is not a time encoding", attr)
	}
	step, ok := epochSteps[strings.ToLower(fields[0])]
	if !ok {
		return Epoch{}, fmt.Errorf("units: unsupported time step %q", fields[0])
	}
	base := strings.Join(fields[2:], " ")
	base = strings.TrimSuffix(base, " UTC")
	base = strings.TrimSuffix(base, " +00:00")
	for _, f := range epochBaseFormats {
		if t, err := time.Parse(f, base); err == nil {
			return Epoch{Base: t.UTC(), Step: step}, nil
		}
	}
	return Epoch{}, fmt.Errorf("units: cannot parse epoch base %q", base)
}

// Time converts a raw archive timestamp to a UTC instant. Fractional
// values are honored so sub-second displacement sampling survives the
// round trip.
func (e Epoch) Time(v float64) time.Time {
	return e.Base.Add(time.Duration(v * float64(e.Step))).UTC()
}

// Value converts a UTC instant back to the raw encoding.
func (e Epoch) Value(t time.Time) float64 {
	return float64(t.Sub(e.Base)) / float64(e.Step)
}
