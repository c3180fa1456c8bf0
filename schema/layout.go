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

package schema

import "fmt"

// A Layout is a spectral band layout: band center frequencies and widths
// in Hz. Mark 3 buoys report 64 bands up to 0.585 Hz; Mark 4 buoys
// report 100 bands up to 1.01 Hz. Redistribution between them
// partitions band overlaps; energy above the destination layout's top
// edge is dropped.
type Layout struct {
	Frequencies []float64
	Bandwidth   []float64
}

// Bands returns the number of bands in the layout.
func (l Layout) Bands() int { return len(l.Frequencies) }

// Edges returns the band edge frequencies, one more than the band count.
func (l Layout) Edges() []float64 {
	edges := make([]float64, len(l.Frequencies)+1)
	for i, f := range l.Frequencies {
		edges[i] = f - l.Bandwidth[i]/2
	}
	n := len(l.Frequencies)
	edges[n] = l.Frequencies[n-1] + l.Bandwidth[n-1]/2
	return edges
}

// build assembles a layout from runs of (band count, bandwidth) starting
// at the given lower edge frequency.
func build(lowerEdge float64, runs ...[2]float64) Layout {
	var l Layout
	edge := lowerEdge
	for _, run := range runs {
		n, bw := int(run[0]), run[1]
		for i := 0; i < n; i++ {
			l.Frequencies = append(l.Frequencies, edge+bw/2)
			l.Bandwidth = append(l.Bandwidth, bw)
			edge += bw
		}
	}
	return l
}

// layoutLowerEdge is the lower edge of the first spectral band [Hz].
const layoutLowerEdge = 0.0225

// The archive's band runs: a transition band of width 0.0075 (mk3) or
// 0.0075 and 0.015 (mk4) joins runs of uniform bandwidth.
var (
	mk3Layout = build(layoutLowerEdge,
		[2]float64{15, 0.005}, [2]float64{1, 0.0075}, [2]float64{48, 0.010})
	mk4Layout = build(layoutLowerEdge,
		[2]float64{45, 0.005}, [2]float64{1, 0.0075}, [2]float64{32, 0.010},
		[2]float64{1, 0.015}, [2]float64{21, 0.020})
)

// LayoutFor returns the standard layout with the given band count.
func LayoutFor(bands int) (Layout, error) {
	switch bands {
	case 64:
		return mk3Layout, nil
	case 100:
		return mk4Layout, nil
	}
	return Layout{}, fmt.Errorf("schema: no standard layout with %d bands", bands)
}
