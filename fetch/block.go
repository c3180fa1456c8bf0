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

package fetch

import (
	"encoding/gob"
	"fmt"
	"sort"

	"github.com/UCSD-SIO-CDIP/cdipgo/catalog"
	"github.com/UCSD-SIO-CDIP/cdipgo/units"
)

func init() {
	gob.Register(&Block{})
}

// A Block is one raw fetched span of a dataset variable: sample times in
// epoch seconds (fractional for sub-second sampling) and a value row per
// sample. Blocks are what the cache stores and what the decoder
// assembles from.
type Block struct {
	Dataset  catalog.Dataset
	Variable string
	// Units is the archive's unit spelling for the variable; values are
	// still in native units at this layer.
	Units string

	// Times is strictly increasing, in epoch seconds.
	Times []float64
	// Values holds one row per sample. Scalar series have one column;
	// banded spectra have one column per frequency band.
	Values [][]float64
	// Flags holds the primary quality flag per sample, nil when the
	// product carries none.
	Flags []int8

	// Frequencies and Bandwidth are the band coordinates for spectral
	// variables, nil otherwise.
	Frequencies []float64
	Bandwidth   []float64
}

// Len returns the number of samples in the block.
func (b *Block) Len() int { return len(b.Times) }

// Span returns the observed time range of the block's samples.
func (b *Block) Span() (units.TimeRange, bool) {
	if b.Len() == 0 {
		return units.TimeRange{}, false
	}
	start := units.UnixEpoch.Time(b.Times[0])
	end := units.UnixEpoch.Time(b.Times[b.Len()-1])
	return units.TimeRange{Start: start, End: end.Add(1)}, true
}

// Slice returns the sub-block whose sample times fall within tr. The
// returned block shares the receiver's backing arrays.
func (b *Block) Slice(tr units.TimeRange) *Block {
	lo := units.UnixEpoch.Value(tr.Start)
	i := sort.Search(b.Len(), func(i int) bool { return b.Times[i] >= lo })
	j := b.Len()
	if !tr.OpenEnded() {
		hi := units.UnixEpoch.Value(tr.End)
		j = sort.Search(b.Len(), func(i int) bool { return b.Times[i] >= hi })
	}
	out := *b
	out.Times = b.Times[i:j]
	out.Values = b.Values[i:j]
	if b.Flags != nil {
		out.Flags = b.Flags[i:j]
	}
	return &out
}

// Merge combines blocks from the same dataset and variable into one
// time-ordered block, dropping duplicate timestamps. Blocks from
// different datasets are the decoder's concern and are rejected here.
func Merge(blocks []*Block) (*Block, error) {
	var parts []*Block
	for _, b := range blocks {
		if b != nil && b.Len() > 0 {
			parts = append(parts, b)
		}
	}
	if len(parts) == 0 {
		if len(blocks) > 0 {
			empty := *blocks[0]
			empty.Times, empty.Values, empty.Flags = nil, nil, nil
			return &empty, nil
		}
		return &Block{}, nil
	}
	first := parts[0]
	for _, b := range parts[1:] {
		if b.Dataset.Key != first.Dataset.Key || b.Variable != first.Variable {
			return nil, fmt.Errorf("fetch: cannot merge %s/%s with %s/%s",
				first.Dataset.Key, first.Variable, b.Dataset.Key, b.Variable)
		}
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].Times[0] < parts[j].Times[0] })

	out := &Block{
		Dataset:     first.Dataset,
		Variable:    first.Variable,
		Units:       first.Units,
		Frequencies: first.Frequencies,
		Bandwidth:   first.Bandwidth,
	}
	hasFlags := first.Flags != nil
	for _, b := range parts {
		for i, t := range b.Times {
			if n := len(out.Times); n > 0 && t <= out.Times[n-1] {
				continue // duplicate or overlapping sample
			}
			out.Times = append(out.Times, t)
			out.Values = append(out.Values, b.Values[i])
			if hasFlags && b.Flags != nil {
				out.Flags = append(out.Flags, b.Flags[i])
			}
		}
	}
	if hasFlags && len(out.Flags) != len(out.Times) {
		// A part lacked flags; drop them rather than misalign.
		out.Flags = nil
	}
	return out, nil
}
