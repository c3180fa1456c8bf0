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

import (
	"math"
	"testing"
	"time"
)

func TestForCoversAllProducts(t *testing.T) {
	for _, p := range Products() {
		s, err := For(p)
		if err != nil {
			t.Fatalf("%v: %v", p, err)
		}
		if len(s.Variables) == 0 {
			t.Errorf("%v: schema has no variables", p)
		}
		if s.SampleInterval <= 0 && p != GPS {
			t.Errorf("%v: no sample interval", p)
		}
		if s.TimeRule == TimeCoordinate && s.TimeVar == "" {
			t.Errorf("%v: coordinate-timed product without a time variable", p)
		}
	}
}

func TestParseProduct(t *testing.T) {
	p, err := ParseProduct("spectrum1d")
	if err != nil || p != WaveSpectrum1D {
		t.Errorf("ParseProduct(spectrum1d) = %v, %v", p, err)
	}
	if _, err := ParseProduct("barometric"); err == nil {
		t.Error("unknown product should fail")
	}
}

func TestParsePubSet(t *testing.T) {
	tests := map[string]PubSet{
		"":            Public,
		"public":      Public,
		"public-good": Public,
		"nonpub-all":  NonPub,
		"both-all":    All,
	}
	for in, want := range tests {
		got, err := ParsePubSet(in)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if got != want {
			t.Errorf("ParsePubSet(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParsePubSet("secret"); err == nil {
		t.Error("unknown set should fail")
	}
}

func TestDisplacementSampling(t *testing.T) {
	s, err := For(Displacement)
	if err != nil {
		t.Fatal(err)
	}
	// 1.28 Hz
	if s.SampleInterval != 781250*time.Microsecond {
		t.Errorf("interval = %v, want 781.25ms", s.SampleInterval)
	}
	if s.TimeRule != TimeFromMeta {
		t.Error("displacement times must be synthesized from metadata")
	}
}

func TestLayouts(t *testing.T) {
	for _, bands := range []int{64, 100} {
		l, err := LayoutFor(bands)
		if err != nil {
			t.Fatal(err)
		}
		if l.Bands() != bands {
			t.Errorf("layout bands = %d, want %d", l.Bands(), bands)
		}
		edges := l.Edges()
		if len(edges) != bands+1 {
			t.Fatalf("edges = %d, want %d", len(edges), bands+1)
		}
		for i := 1; i < len(edges); i++ {
			if edges[i] <= edges[i-1] {
				t.Fatalf("%d bands: edges not increasing at %d", bands, i)
			}
		}
	}

	// The archive's published band centers: 64-band files run 15 bands
	// of 0.005 Hz, one of 0.0075, 48 of 0.010; 100-band files add finer
	// low-frequency resolution and extend to 1.01 Hz.
	l64, _ := LayoutFor(64)
	for i, want := range map[int]float64{0: 0.025, 14: 0.095, 15: 0.10125, 16: 0.11, 63: 0.58} {
		if got := l64.Frequencies[i]; math.Abs(got-want) > 1e-12 {
			t.Errorf("64-band center %d = %v, want %v", i, got, want)
		}
	}
	l100, _ := LayoutFor(100)
	for i, want := range map[int]float64{0: 0.025, 44: 0.245, 45: 0.25125, 46: 0.26, 78: 0.5825, 79: 0.6, 99: 1.0} {
		if got := l100.Frequencies[i]; math.Abs(got-want) > 1e-12 {
			t.Errorf("100-band center %d = %v, want %v", i, got, want)
		}
	}
	e64, e100 := l64.Edges(), l100.Edges()
	if math.Abs(e64[64]-0.585) > 1e-12 || math.Abs(e100[100]-1.01) > 1e-12 {
		t.Errorf("top edges = %v and %v, want 0.585 and 1.01", e64[64], e100[100])
	}
	if math.Abs(e64[0]-0.0225) > 1e-12 || math.Abs(e100[0]-0.0225) > 1e-12 {
		t.Errorf("bottom edges = %v and %v, want 0.0225", e64[0], e100[0])
	}

	if _, err := LayoutFor(37); err == nil {
		t.Error("nonstandard band count should fail")
	}
}
