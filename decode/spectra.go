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

package decode

import (
	"fmt"
	"math"

	"github.com/gonum/floats"

	"github.com/UCSD-SIO-CDIP/cdipgo/schema"
)

// redistributeFrame rebins a frame's spectral variables onto the layout
// with nb bands, partitioning source bands across the destination bins.
// Energy density is conserved over the shared span; source energy above
// the destination layout's top edge is dropped. Directions and the
// directional moments are weighted by each source band's energy
// contribution, not by bare overlap width, so an energetic band
// dominates the bin it lands in.
func redistributeFrame(a *Assembler, f *frame, nb int) error {
	dst, err := schema.LayoutFor(nb)
	if err != nil {
		return err
	}
	w, err := overlapMatrix(f.freqs, f.bw, dst)
	if err != nil {
		return &SchemaMismatchError{Dataset: f.ds.Key, Variable: a.sch.FrequencyVar, Detail: err.Error()}
	}

	// The frame's energy density rows drive the weighting of every
	// other spectral variable.
	var density [][]float64
	for name, rows := range f.banded {
		if v, ok := a.variable(name); ok && v.Canonical == "m^2/Hz" {
			density = rows
		}
	}

	for name, rows := range f.banded {
		v, _ := a.variable(name)
		out := make([][]float64, len(rows))
		for i, row := range rows {
			switch v.Canonical {
			case "m^2/Hz":
				out[i] = rebinDensity(row, dst.Bandwidth, w)
			case "degree":
				out[i] = rebinDirection(row, sampleWeights(density, i, w))
			default:
				out[i] = rebinAverage(row, sampleWeights(density, i, w))
			}
		}
		f.banded[name] = out
	}
	f.freqs = append([]float64(nil), dst.Frequencies...)
	f.bw = append([]float64(nil), dst.Bandwidth...)
	return nil
}

// overlapMatrix returns, for each source band i and destination band j,
// the width in Hz of their overlap. Bands outside the destination span
// simply contribute nothing.
func overlapMatrix(freqs, bw []float64, dst schema.Layout) ([][]float64, error) {
	if len(freqs) != len(bw) {
		return nil, fmt.Errorf("frequency coordinate has %d bands but bandwidth has %d", len(freqs), len(bw))
	}
	edges := dst.Edges()
	w := make([][]float64, len(freqs))
	for i := range freqs {
		lo, hi := freqs[i]-bw[i]/2, freqs[i]+bw[i]/2
		w[i] = make([]float64, dst.Bands())
		for j := 0; j < dst.Bands(); j++ {
			ov := math.Min(hi, edges[j+1]) - math.Max(lo, edges[j])
			if ov > 0 {
				w[i][j] = ov
			}
		}
	}
	return w, nil
}

// sampleWeights scales the overlap matrix by sample i's energy density
// per source band. Without a density variable in the frame the overlap
// widths are used as-is.
func sampleWeights(density [][]float64, i int, w [][]float64) [][]float64 {
	if density == nil || i >= len(density) {
		return w
	}
	row := density[i]
	out := make([][]float64, len(w))
	for s := range w {
		e := row[s]
		if math.IsNaN(e) || e <= 0 {
			out[s] = make([]float64, len(w[s]))
			continue
		}
		col := make([]float64, len(w[s]))
		for j, ov := range w[s] {
			col[j] = e * ov
		}
		out[s] = col
	}
	return out
}

// rebinDensity conserves the spectral integral over the shared span:
// destination energy is the overlap-apportioned source energy divided
// by the destination bandwidth.
func rebinDensity(row, dstBW []float64, w [][]float64) []float64 {
	out := make([]float64, len(dstBW))
	for j := range out {
		var e float64
		for i, x := range row {
			if w[i][j] == 0 {
				continue
			}
			if math.IsNaN(x) {
				e = math.NaN()
				break
			}
			e += x * w[i][j]
		}
		out[j] = e / dstBW[j]
	}
	return out
}

// rebinDirection averages compass directions through their unit
// vectors so the mean of 350 and 10 degrees is 0, not 180.
func rebinDirection(row []float64, w [][]float64) []float64 {
	nd := len(w[0])
	out := make([]float64, nd)
	for j := 0; j < nd; j++ {
		var sx, sy, tot float64
		nan := false
		for i, deg := range row {
			if w[i][j] == 0 {
				continue
			}
			if math.IsNaN(deg) {
				nan = true
				break
			}
			rad := deg * math.Pi / 180
			sx += math.Sin(rad) * w[i][j]
			sy += math.Cos(rad) * w[i][j]
			tot += w[i][j]
		}
		if nan || tot == 0 {
			out[j] = math.NaN()
			continue
		}
		deg := math.Atan2(sx, sy) * 180 / math.Pi
		if deg < 0 {
			deg += 360
		}
		out[j] = deg
	}
	return out
}

// rebinAverage is the weighted mean, used for the directional Fourier
// coefficients and check factors.
func rebinAverage(row []float64, w [][]float64) []float64 {
	nd := len(w[0])
	out := make([]float64, nd)
	weights := make([]float64, len(row))
	for j := 0; j < nd; j++ {
		for i := range row {
			weights[i] = w[i][j]
		}
		tot := floats.Sum(weights)
		if tot == 0 {
			out[j] = math.NaN()
			continue
		}
		var s float64
		nan := false
		for i, x := range row {
			if weights[i] == 0 {
				continue
			}
			if math.IsNaN(x) {
				nan = true
				break
			}
			s += x * weights[i]
		}
		if nan {
			out[j] = math.NaN()
		} else {
			out[j] = s / tot
		}
	}
	return out
}
