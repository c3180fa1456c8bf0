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

// Package decode assembles raw fetched blocks into typed measurement
// series: times validated and strictly increasing, sentinels replaced
// with NaN, values converted to canonical units, quality flags
// applied, and overlapping deployments merged.
package decode

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/UCSD-SIO-CDIP/cdipgo/catalog"
	"github.com/UCSD-SIO-CDIP/cdipgo/fetch"
	"github.com/UCSD-SIO-CDIP/cdipgo/schema"
	"github.com/UCSD-SIO-CDIP/cdipgo/units"
)

// A FlagPolicy says what to do with samples whose primary quality flag
// is not the product's good value.
type FlagPolicy int

const (
	// FlagFilter drops flagged samples from the series.
	FlagFilter FlagPolicy = iota
	// FlagKeep keeps flagged samples and their flag values.
	FlagKeep
)

// A FillPolicy says what to do with NaN values that survive assembly.
type FillPolicy int

const (
	// FillNone leaves NaN values in place.
	FillNone FillPolicy = iota
	// FillForward replaces a NaN with the most recent valid value of
	// the same variable.
	FillForward
)

// Options configure assembly.
type Options struct {
	Flags FlagPolicy
	Fill  FillPolicy
	// Force64Band redistributes 100-band spectra onto the 64-band
	// layout so records from both buoy generations line up.
	Force64Band bool
	// Prefer breaks ties when two deployments carry the same
	// timestamp.
	Prefer catalog.QualityPolicy
}

// A SchemaMismatchError reports a dataset whose shape disagrees with
// the product schema.
type SchemaMismatchError struct {
	Dataset  string
	Variable string
	Detail   string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("decode: %s %s: %s", e.Dataset, e.Variable, e.Detail)
}

// A Series is an assembled, time-ordered record of one product for one
// station. Scalar variables live in Values, banded spectral variables
// in Bands, both keyed by variable name and holding canonical units.
type Series struct {
	Product schema.Product
	Station string

	Times  []time.Time
	Values map[string][]float64
	Bands  map[string][][]float64
	// Units maps each variable to its canonical unit string.
	Units map[string]string
	// Flags is present when the flag policy keeps flagged samples.
	Flags []int8

	Frequencies []float64
	Bandwidth   []float64

	// Gaps lists sub-ranges of the request where the expected sampling
	// cadence was not met.
	Gaps []units.TimeRange
}

// Len returns the number of samples.
func (s *Series) Len() int { return len(s.Times) }

// ExpectedSamples reports how many samples a fully-covered range would
// hold at the product's cadence, or 0 when the product has no fixed
// cadence.
func ExpectedSamples(p schema.Product, tr units.TimeRange) int {
	sch, err := schema.For(p)
	if err != nil || sch.SampleInterval <= 0 || tr.OpenEnded() {
		return 0
	}
	return int(tr.Duration() / sch.SampleInterval)
}

// An Assembler builds Series values for one product.
type Assembler struct {
	sch  schema.Schema
	opts Options
}

// NewAssembler returns an Assembler for product p.
func NewAssembler(p schema.Product, opts Options) (*Assembler, error) {
	sch, err := schema.For(p)
	if err != nil {
		return nil, err
	}
	return &Assembler{sch: sch, opts: opts}, nil
}

// frame is the per-dataset intermediate: all variables of one dataset
// aligned on a shared time vector.
type frame struct {
	ds     catalog.Dataset
	times  []float64
	flags  []int8
	scalar map[string][]float64
	banded map[string][][]float64
	freqs  []float64
	bw     []float64
}

// Assemble merges the blocks, which may span several datasets and
// variables of the assembler's product, into one series covering want.
func (a *Assembler) Assemble(want units.TimeRange, blocks []*fetch.Block) (*Series, error) {
	byDS := make(map[string][]*fetch.Block)
	var order []string
	for _, b := range blocks {
		if b == nil {
			continue
		}
		if _, ok := byDS[b.Dataset.Key]; !ok {
			order = append(order, b.Dataset.Key)
		}
		byDS[b.Dataset.Key] = append(byDS[b.Dataset.Key], b)
	}

	frames := make([]*frame, 0, len(order))
	for _, key := range order {
		merged, err := mergeByVariable(byDS[key])
		if err != nil {
			return nil, err
		}
		f, err := a.buildFrame(merged)
		if err != nil {
			return nil, err
		}
		if len(f.times) > 0 {
			frames = append(frames, f)
		}
	}

	out := &Series{
		Product: a.sch.Product,
		Values:  make(map[string][]float64),
		Bands:   make(map[string][][]float64),
		Units:   make(map[string]string),
	}
	if len(frames) > 0 {
		out.Station = string(frames[0].ds.Station)
		out.Frequencies = frames[0].freqs
		out.Bandwidth = frames[0].bw
	}
	for _, v := range a.sch.Variables {
		out.Units[v.Name] = v.Canonical
	}

	a.mergeFrames(out, frames)
	a.trim(out, want)
	if a.opts.Fill == FillForward {
		fillForward(out)
	}
	out.Gaps = a.detectGaps(want, out.Times)
	return out, nil
}

// mergeByVariable collapses blocks that carry the same variable of one
// dataset into a single time-ordered block, so that a variable fetched
// in several pieces frames the same as one fetched whole.
func mergeByVariable(blocks []*fetch.Block) ([]*fetch.Block, error) {
	byVar := make(map[string][]*fetch.Block)
	var order []string
	for _, b := range blocks {
		if _, ok := byVar[b.Variable]; !ok {
			order = append(order, b.Variable)
		}
		byVar[b.Variable] = append(byVar[b.Variable], b)
	}
	out := make([]*fetch.Block, 0, len(order))
	for _, name := range order {
		parts := byVar[name]
		if len(parts) == 1 {
			out = append(out, parts[0])
			continue
		}
		m, err := fetch.Merge(parts)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// buildFrame validates one dataset's blocks against the schema and
// aligns them on the dataset's time vector, applying sentinel
// replacement, unit conversion, and flag filtering.
func (a *Assembler) buildFrame(blocks []*fetch.Block) (*frame, error) {
	f := &frame{
		ds:     blocks[0].Dataset,
		scalar: make(map[string][]float64),
		banded: make(map[string][][]float64),
	}
	for _, b := range blocks {
		v, ok := a.variable(b.Variable)
		if !ok {
			return nil, &SchemaMismatchError{Dataset: b.Dataset.Key, Variable: b.Variable,
				Detail: fmt.Sprintf("variable not in %s schema", a.sch.Product)}
		}
		if f.times == nil {
			f.times = b.Times
			f.flags = b.Flags
		} else if len(b.Times) != len(f.times) {
			return nil, &SchemaMismatchError{Dataset: b.Dataset.Key, Variable: b.Variable,
				Detail: fmt.Sprintf("%d samples where sibling variables have %d", len(b.Times), len(f.times))}
		}
		switch v.Dims {
		case 1:
			col := make([]float64, len(b.Values))
			for i, row := range b.Values {
				if len(row) != 1 {
					return nil, &SchemaMismatchError{Dataset: b.Dataset.Key, Variable: b.Variable,
						Detail: fmt.Sprintf("got %d columns for scalar variable", len(row))}
				}
				col[i] = clean(row[0], a.sch.Sentinel)
			}
			if b.Units != "" && b.Units != v.Canonical {
				canon, err := units.ConvertSlice(col, b.Units)
				if err != nil {
					return nil, &SchemaMismatchError{Dataset: b.Dataset.Key, Variable: b.Variable,
						Detail: err.Error()}
				}
				if canon != v.Canonical {
					return nil, &SchemaMismatchError{Dataset: b.Dataset.Key, Variable: b.Variable,
						Detail: fmt.Sprintf("units %q normalize to %q, want %q", b.Units, canon, v.Canonical)}
				}
			}
			f.scalar[v.Name] = col
		case 2:
			nb := len(b.Frequencies)
			if !validBandCount(nb, a.sch.Bands) {
				return nil, &SchemaMismatchError{Dataset: b.Dataset.Key, Variable: b.Variable,
					Detail: fmt.Sprintf("got %d frequency bands, want one of %v", nb, a.sch.Bands)}
			}
			rows := make([][]float64, len(b.Values))
			for i, row := range b.Values {
				if len(row) != nb {
					return nil, &SchemaMismatchError{Dataset: b.Dataset.Key, Variable: b.Variable,
						Detail: fmt.Sprintf("row has %d columns, band coordinate has %d", len(row), nb)}
				}
				out := make([]float64, nb)
				for j, x := range row {
					out[j] = clean(x, a.sch.Sentinel)
				}
				if b.Units != "" && b.Units != v.Canonical {
					canon, err := units.ConvertSlice(out, b.Units)
					if err != nil {
						return nil, &SchemaMismatchError{Dataset: b.Dataset.Key, Variable: b.Variable,
							Detail: err.Error()}
					}
					if canon != v.Canonical {
						return nil, &SchemaMismatchError{Dataset: b.Dataset.Key, Variable: b.Variable,
							Detail: fmt.Sprintf("units %q normalize to %q, want %q", b.Units, canon, v.Canonical)}
					}
				}
				rows[i] = out
			}
			f.banded[v.Name] = rows
			f.freqs = b.Frequencies
			f.bw = b.Bandwidth
		default:
			return nil, &SchemaMismatchError{Dataset: b.Dataset.Key, Variable: b.Variable,
				Detail: fmt.Sprintf("unsupported rank %d", v.Dims)}
		}
	}

	if a.opts.Flags == FlagFilter && a.sch.FlagVar != "" && f.flags != nil {
		filterFlags(f, a.sch.GoodFlag)
	}
	if a.opts.Force64Band && len(f.freqs) != 0 && len(f.freqs) != 64 {
		if err := redistributeFrame(a, f, 64); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (a *Assembler) variable(name string) (schema.Variable, bool) {
	for _, v := range a.sch.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return schema.Variable{}, false
}

// mergeFrames interleaves per-dataset frames into the output series.
// When two datasets carry the same timestamp, the one preferred by the
// quality policy wins.
func (a *Assembler) mergeFrames(out *Series, frames []*frame) {
	sort.SliceStable(frames, func(i, j int) bool {
		return frames[i].times[0] < frames[j].times[0]
	})

	type cursor struct {
		f *frame
		i int
	}
	cursors := make([]*cursor, len(frames))
	for i, f := range frames {
		cursors[i] = &cursor{f: f}
	}
	keepFlags := a.opts.Flags == FlagKeep && a.sch.FlagVar != ""

	for {
		// Pick the earliest pending timestamp; on a tie, the
		// policy-preferred dataset.
		var best *cursor
		for _, c := range cursors {
			if c.i >= len(c.f.times) {
				continue
			}
			switch {
			case best == nil:
				best = c
			case c.f.times[c.i] < best.f.times[best.i]:
				best = c
			case c.f.times[c.i] == best.f.times[best.i]:
				if catalog.Better(c.f.ds, best.f.ds, a.opts.Prefer) {
					best.i++ // discard the losing duplicate
					best = c
				} else {
					c.i++
				}
			}
		}
		if best == nil {
			return
		}
		t := best.f.times[best.i]
		if n := len(out.Times); n > 0 && units.UnixEpoch.Value(out.Times[n-1]) >= t {
			best.i++ // duplicate of an already-emitted sample
			continue
		}
		out.Times = append(out.Times, units.UnixEpoch.Time(t))
		for name, col := range best.f.scalar {
			out.Values[name] = append(out.Values[name], col[best.i])
		}
		for name, rows := range best.f.banded {
			out.Bands[name] = append(out.Bands[name], rows[best.i])
		}
		if keepFlags {
			flag := int8(0)
			if best.f.flags != nil {
				flag = best.f.flags[best.i]
			}
			out.Flags = append(out.Flags, flag)
		}
		best.i++
	}
}

func (a *Assembler) trim(out *Series, want units.TimeRange) {
	lo := sort.Search(len(out.Times), func(i int) bool { return !out.Times[i].Before(want.Start) })
	hi := len(out.Times)
	if !want.OpenEnded() {
		hi = sort.Search(len(out.Times), func(i int) bool { return !out.Times[i].Before(want.End) })
	}
	out.Times = out.Times[lo:hi]
	for name := range out.Values {
		out.Values[name] = out.Values[name][lo:hi]
	}
	for name := range out.Bands {
		out.Bands[name] = out.Bands[name][lo:hi]
	}
	if out.Flags != nil {
		out.Flags = out.Flags[lo:hi]
	}
}

// detectGaps finds stretches of want where the sampling cadence was
// broken. Products without a fixed cadence report only complete
// absence of data.
func (a *Assembler) detectGaps(want units.TimeRange, times []time.Time) []units.TimeRange {
	if len(times) == 0 {
		if want.OpenEnded() {
			return nil
		}
		return []units.TimeRange{want}
	}
	step := a.sch.SampleInterval
	if step <= 0 {
		return nil
	}
	slack := step + step/2
	var gaps []units.TimeRange
	if times[0].Sub(want.Start) >= slack {
		gaps = append(gaps, units.TimeRange{Start: want.Start, End: times[0]})
	}
	for i := 1; i < len(times); i++ {
		if times[i].Sub(times[i-1]) >= slack {
			gaps = append(gaps, units.TimeRange{Start: times[i-1].Add(step), End: times[i]})
		}
	}
	if !want.OpenEnded() && want.End.Sub(times[len(times)-1]) > slack {
		gaps = append(gaps, units.TimeRange{Start: times[len(times)-1].Add(step), End: want.End})
	}
	return gaps
}

func filterFlags(f *frame, good int8) {
	n := 0
	keep := make([]int, 0, len(f.times))
	for i, fl := range f.flags {
		if fl == good {
			keep = append(keep, i)
			n++
		}
	}
	if n == len(f.times) {
		return
	}
	times := make([]float64, 0, n)
	flags := make([]int8, 0, n)
	for _, i := range keep {
		times = append(times, f.times[i])
		flags = append(flags, f.flags[i])
	}
	for name, col := range f.scalar {
		out := make([]float64, 0, n)
		for _, i := range keep {
			out = append(out, col[i])
		}
		f.scalar[name] = out
	}
	for name, rows := range f.banded {
		out := make([][]float64, 0, n)
		for _, i := range keep {
			out = append(out, rows[i])
		}
		f.banded[name] = out
	}
	f.times, f.flags = times, flags
}

func fillForward(s *Series) {
	for _, col := range s.Values {
		last := math.NaN()
		for i, x := range col {
			if math.IsNaN(x) {
				if !math.IsNaN(last) {
					col[i] = last
				}
			} else {
				last = x
			}
		}
	}
}

func clean(x, sentinel float64) float64 {
	if x == sentinel || math.IsNaN(x) {
		return math.NaN()
	}
	return x
}

func validBandCount(n int, allowed []int) bool {
	for _, a := range allowed {
		if n == a {
			return true
		}
	}
	return len(allowed) == 0 && n > 0
}
