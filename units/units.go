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
	"fmt"
	"strings"

	"github.com/ctessum/unit"
)

// A conversion maps one archive unit spelling to its canonical unit by an
// affine transform: canonical = raw*Scale + Offset.
type conversion struct {
	scale, offset float64
	canonical     string
	dim           unit.Dimensions
}

// degree is the dimension for compass directions. Directions are kept in
// degrees true rather than radians; that is the convention every consumer
// of buoy data expects.
var degree = unit.Dimensions{unit.AngleDim: 1}

// conversions is the table of unit spellings observed in archive files.
// One entry per spelling; canonical units are SI except for compass
// directions (degrees true).
var conversions = map[string]conversion{
	"meter":                {1, 0, "m", unit.Meter},
	"meters":               {1, 0, "m", unit.Meter},
	"m":                    {1, 0, "m", unit.Meter},
	"centimeter":           {0.01, 0, "m", unit.Meter},
	"centimeters":          {0.01, 0, "m", unit.Meter},
	"cm":                   {0.01, 0, "m", unit.Meter},
	"millimeter":           {0.001, 0, "m", unit.Meter},
	"mm":                   {0.001, 0, "m", unit.Meter},
	"second":               {1, 0, "s", unit.Second},
	"seconds":              {1, 0, "s", unit.Second},
	"s":                    {1, 0, "s", unit.Second},
	"hertz":                {1, 0, "Hz", unit.Herz},
	"hz":                   {1, 0, "Hz", unit.Herz},
	"celsius":              {1, 273.15, "K", unit.Kelvin},
	"degc":                 {1, 273.15, "K", unit.Kelvin},
	"degree_celsius":       {1, 273.15, "K", unit.Kelvin},
	"kelvin":               {1, 0, "K", unit.Kelvin},
	"k":                    {1, 0, "K", unit.Kelvin},
	"degreetrue":           {1, 0, "degree", degree},
	"degrees_true":         {1, 0, "degree", degree},
	"degree":               {1, 0, "degree", degree},
	"degrees":              {1, 0, "degree", degree},
	"meter squared second": {1, 0, "m^2/Hz", unit.Dimensions{unit.LengthDim: 2, unit.TimeDim: 1}},
	"meter^2 second":       {1, 0, "m^2/Hz", unit.Dimensions{unit.LengthDim: 2, unit.TimeDim: 1}},
	"m^2/hz":               {1, 0, "m^2/Hz", unit.Dimensions{unit.LengthDim: 2, unit.TimeDim: 1}},
	"m2/hz":                {1, 0, "m^2/Hz", unit.Dimensions{unit.LengthDim: 2, unit.TimeDim: 1}},
	"1":                    {1, 0, "1", unit.Dimless},
	"":                     {1, 0, "1", unit.Dimless},
}

func lookup(from string) (conversion, error) {
	c, ok := conversions[strings.ToLower(strings.TrimSpace(from))]
	if !ok {
		return conversion{}, fmt.Errorf("units: no conversion for unit %q", from)
	}
	return c, nil
}

// Convert transforms a raw value in the archive unit from into its
// canonical unit, returning the converted value and the canonical unit
// name.
func Convert(v float64, from string) (float64, string, error) {
	c, err := lookup(from)
	if err != nil {
		return v, from, err
	}
	return v*c.scale + c.offset, c.canonical, nil
}

// ConvertSlice converts values in place and returns the canonical unit
// name. NaN markers pass through untouched.
func ConvertSlice(vs []float64, from string) (string, error) {
	c, err := lookup(from)
	if err != nil {
		return from, err
	}
	if c.scale == 1 && c.offset == 0 {
		return c.canonical, nil
	}
	for i, v := range vs {
		if v != v { // NaN
			continue
		}
		vs[i] = v*c.scale + c.offset
	}
	return c.canonical, nil
}

// Canonical returns the canonical unit name for an archive unit spelling.
func Canonical(from string) (string, error) {
	c, err := lookup(from)
	if err != nil {
		return from, err
	}
	return c.canonical, nil
}

// Quantity returns v as a dimensioned quantity in canonical units, for
// callers doing further arithmetic.
func Quantity(v float64, from string) (*unit.Unit, error) {
	c, err := lookup(from)
	if err != nil {
		return nil, err
	}
	return unit.New(v*c.scale+c.offset, c.dim), nil
}
