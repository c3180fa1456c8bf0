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

// Package schema maps each buoy data product to its archive variable
// names, dimensionality, decoding rules, and expected sampling.
package schema

import (
	"fmt"
	"strings"
	"time"
)

// Product is a category of buoy measurement. Each product has exactly one
// schema entry; dispatch is by explicit matching on this closed set.
type Product int

const (
	// Compendium is the standard wave parameter set (Hs, Tp, Dp, Ta).
	Compendium Product = iota
	// WaveSpectrum1D is the frequency spectrum with directional moments.
	WaveSpectrum1D
	// WaveSpectrum2D is the directional spectrum. The archive stores the
	// same banded moments as the 1-D product; directional reconstruction
	// is left to consumers.
	WaveSpectrum2D
	// Displacement is the raw x/y/z buoy displacement time series.
	Displacement
	// SST is sea surface temperature.
	SST
	// GPS is the buoy position track.
	GPS
)

var productNames = map[Product]string{
	Compendium:     "compendium",
	WaveSpectrum1D: "spectrum1d",
	WaveSpectrum2D: "spectrum2d",
	Displacement:   "displacement",
	SST:            "sst",
	GPS:            "gps",
}

func (p Product) String() string {
	if s, ok := productNames[p]; ok {
		return s
	}
	return fmt.Sprintf("Product(%d)", int(p))
}

// ParseProduct converts a product name to a Product.
func ParseProduct(s string) (Product, error) {
	for p, name := range productNames {
		if name == strings.ToLower(strings.TrimSpace(s)) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("schema: unknown product %q", s)
}

// Products lists all defined products.
func Products() []Product {
	return []Product{Compendium, WaveSpectrum1D, WaveSpectrum2D, Displacement, SST, GPS}
}

// TimeRule says how sample times are obtained for a product.
type TimeRule int

const (
	// TimeCoordinate products carry an explicit time coordinate variable.
	TimeCoordinate TimeRule = iota
	// TimeFromMeta products (raw displacement) synthesize times from the
	// metadata triplet start time, sample rate, and filter delay.
	TimeFromMeta
)

// PubSet selects records by their quality flag: public keeps released
// (good) records, nonpub keeps the rest, all keeps everything.
type PubSet int

const (
	Public PubSet = iota
	NonPub
	All
)

// pubSetNames includes the dashed spellings kept for compatibility with
// older request strings.
var pubSetNames = map[string]PubSet{
	"public":      Public,
	"nonpub":      NonPub,
	"all":         All,
	"public-good": Public,
	"nonpub-all":  NonPub,
	"both-all":    All,
}

// ParsePubSet converts a quality set name to a PubSet. Empty input means
// public.
func ParsePubSet(s string) (PubSet, error) {
	if s == "" {
		return Public, nil
	}
	if p, ok := pubSetNames[strings.ToLower(s)]; ok {
		return p, nil
	}
	return 0, fmt.Errorf("schema: unknown quality set %q", s)
}

func (p PubSet) String() string {
	switch p {
	case NonPub:
		return "nonpub"
	case All:
		return "all"
	}
	return "public"
}

// A Variable describes one archive variable of a product.
type Variable struct {
	Name string
	// Dims is the expected dimensionality including the time dimension:
	// 1 for a scalar time series, 2 for banded spectra.
	Dims int
	// Units is the unit spelling expected in the archive; Canonical is
	// the unit after normalization.
	Units     string
	Canonical string
}

// A Schema holds the decoding rules for one product.
type Schema struct {
	Product  Product
	Prefix   string // common variable prefix such as "wave" or "xyz"
	TimeVar  string
	TimeRule TimeRule

	Variables []Variable

	// FlagVar is the primary quality flag variable; GoodFlag is the flag
	// value marking publicly released records. FlagVar is empty for
	// products that are not quality screened.
	FlagVar  string
	GoodFlag int8

	// Sentinel is the product's missing-value marker in raw arrays.
	Sentinel float64

	// SampleInterval is the expected spacing between samples.
	SampleInterval time.Duration

	// FrequencyVar and BandwidthVar name the band coordinate variables
	// for spectral products; Bands lists the valid band counts.
	FrequencyVar string
	BandwidthVar string
	Bands        []int
}

// Variable looks up one of the schema's variables by name.
func (s Schema) Variable(name string) (Variable, bool) {
	for _, v := range s.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return Variable{}, false
}

// VariableNames returns the product's variable names in declaration order.
func (s Schema) VariableNames() []string {
	names := make([]string, len(s.Variables))
	for i, v := range s.Variables {
		names[i] = v.Name
	}
	return names
}

// ValidBands reports whether n is an accepted band count for the product.
func (s Schema) ValidBands(n int) bool {
	for _, b := range s.Bands {
		if b == n {
			return true
		}
	}
	return false
}

// sentinel is the fill value written by the archive's processing chain.
const sentinel = -999.99

var schemas = map[Product]Schema{
	Compendium: {
		Product: Compendium,
		Prefix:  "wave",
		TimeVar: "waveTime",
		Variables: []Variable{
			{Name: "waveHs", Dims: 1, Units: "meter", Canonical: "m"},
			{Name: "waveTp", Dims: 1, Units: "second", Canonical: "s"},
			{Name: "waveDp", Dims: 1, Units: "degrees_true", Canonical: "degree"},
			{Name: "waveTa", Dims: 1, Units: "second", Canonical: "s"},
		},
		FlagVar:        "waveFlagPrimary",
		GoodFlag:       1,
		Sentinel:       sentinel,
		SampleInterval: 30 * time.Minute,
	},
	WaveSpectrum1D: {
		Product: WaveSpectrum1D,
		Prefix:  "wave",
		TimeVar: "waveTime",
		Variables: []Variable{
			{Name: "waveEnergyDensity", Dims: 2, Units: "m^2/Hz", Canonical: "m^2/Hz"},
			{Name: "waveMeanDirection", Dims: 2, Units: "degrees_true", Canonical: "degree"},
			{Name: "waveA1Value", Dims: 2, Units: "1", Canonical: "1"},
			{Name: "waveB1Value", Dims: 2, Units: "1", Canonical: "1"},
			{Name: "waveA2Value", Dims: 2, Units: "1", Canonical: "1"},
			{Name: "waveB2Value", Dims: 2, Units: "1", Canonical: "1"},
			{Name: "waveCheckFactor", Dims: 2, Units: "1", Canonical: "1"},
		},
		FlagVar:        "waveFlagPrimary",
		GoodFlag:       1,
		Sentinel:       sentinel,
		SampleInterval: 30 * time.Minute,
		FrequencyVar:   "waveFrequency",
		BandwidthVar:   "waveBandwidth",
		Bands:          []int{64, 100},
	},
	Displacement: {
		Product:  Displacement,
		Prefix:   "xyz",
		TimeRule: TimeFromMeta,
		Variables: []Variable{
			{Name: "xyzXDisplacement", Dims: 1, Units: "meter", Canonical: "m"},
			{Name: "xyzYDisplacement", Dims: 1, Units: "meter", Canonical: "m"},
			{Name: "xyzZDisplacement", Dims: 1, Units: "meter", Canonical: "m"},
		},
		FlagVar:  "xyzFlagPrimary",
		GoodFlag: 2, // displacement records are flagged not_evaluated when released
		Sentinel: sentinel,
		// 1.28 Hz sampling
		SampleInterval: time.Second * 100 / 128,
	},
	SST: {
		Product: SST,
		Prefix:  "sst",
		TimeVar: "sstTime",
		Variables: []Variable{
			{Name: "sstSeaSurfaceTemperature", Dims: 1, Units: "Celsius", Canonical: "K"},
		},
		FlagVar:        "sstFlagPrimary",
		GoodFlag:       1,
		Sentinel:       sentinel,
		SampleInterval: 30 * time.Minute,
	},
	GPS: {
		Product: GPS,
		Prefix:  "gps",
		TimeVar: "gpsTime",
		Variables: []Variable{
			{Name: "gpsLatitude", Dims: 1, Units: "degrees", Canonical: "degree"},
			{Name: "gpsLongitude", Dims: 1, Units: "degrees", Canonical: "degree"},
		},
		// GPS fixes are not quality screened and arrive on no fixed
		// cadence.
		Sentinel: sentinel,
	},
}

func init() {
	// The 2-D product reads the same banded moments as the 1-D product.
	s := schemas[WaveSpectrum1D]
	s.Product = WaveSpectrum2D
	schemas[WaveSpectrum2D] = s
}

// For returns the schema for product p.
func For(p Product) (Schema, error) {
	s, ok := schemas[p]
	if !ok {
		return Schema{}, fmt.Errorf("schema: no schema for product %v", p)
	}
	return s, nil
}
