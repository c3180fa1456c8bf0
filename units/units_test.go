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
	"math"
	"testing"

	"github.com/ctessum/unit"
)

func TestConvert(t *testing.T) {
	tests := []struct {
		v    float64
		from string
		want float64
		unit string
	}{
		{150, "cm", 1.5, "m"},
		{1.5, "meter", 1.5, "m"},
		{15.2, "Celsius", 288.35, "K"},
		{270, "degrees_true", 270, "degree"},
		{0.0585, "m^2/Hz", 0.0585, "m^2/Hz"},
	}
	for _, test := range tests {
		got, u, err := Convert(test.v, test.from)
		if err != nil {
			t.Fatalf("%g %s: %v", test.v, test.from, err)
		}
		if math.Abs(got-test.want) > 1e-9 || u != test.unit {
			t.Errorf("%g %s = %g %s, want %g %s", test.v, test.from, got, u, test.want, test.unit)
		}
	}
	if _, _, err := Convert(1, "cubits"); err == nil {
		t.Error("unknown unit should fail")
	}
}

func TestConvertSlice(t *testing.T) {
	vs := []float64{100, math.NaN(), 250}
	u, err := ConvertSlice(vs, "cm")
	if err != nil {
		t.Fatal(err)
	}
	if u != "m" {
		t.Errorf("unit = %s, want m", u)
	}
	if vs[0] != 1 || vs[2] != 2.5 {
		t.Errorf("converted = %v", vs)
	}
	if !math.IsNaN(vs[1]) {
		t.Error("NaN marker should pass through conversion")
	}
}

func TestQuantity(t *testing.T) {
	q, err := Quantity(200, "cm")
	if err != nil {
		t.Fatal(err)
	}
	if q.Value() != 2 {
		t.Errorf("value = %g, want 2", q.Value())
	}
	if err := q.Check(unit.Meter); err != nil {
		t.Errorf("dimensions: %v", err)
	}
}
