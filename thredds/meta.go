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

package thredds

import (
	"bytes"
	"context"
	"io"

	"github.com/ctessum/cdf"

	"github.com/UCSD-SIO-CDIP/cdipgo/catalog"
)

// StationMeta holds a station's deployment metadata.
type StationMeta struct {
	Station catalog.StationID
	// Name is the station's descriptive name, e.g. "Torrey Pines Outer".
	Name string
	// Latitude and Longitude are the deploy position in degrees.
	Latitude  float64
	Longitude float64
	// Depth is the water depth at the mooring in meters.
	Depth float64
	// Declination is the magnetic declination at the deploy site in
	// degrees, applied by the archive when rotating directions to true
	// north.
	Declination float64
}

// ReadMeta reads a dataset's station metadata variables.
func (c *Client) ReadMeta(ctx context.Context, ds catalog.Dataset) (StationMeta, error) {
	meta := StationMeta{Station: ds.Station}
	f, err := c.open(ctx, ds.URL)
	if err != nil {
		return meta, err
	}
	if name, err := readCharVar(f, "metaStationName"); err == nil {
		meta.Name = name
	}
	if v, err := readScalar(f, "metaDeployLatitude"); err == nil {
		meta.Latitude = v
	}
	if v, err := readScalar(f, "metaDeployLongitude"); err == nil {
		meta.Longitude = v
	}
	if v, err := readScalar(f, "metaWaterDepth"); err == nil {
		meta.Depth = v
	}
	if v, err := readScalar(f, "metaDeclination"); err == nil {
		meta.Declination = v
	}
	return meta, nil
}

// readCharVar reads a CHAR variable as a trimmed string.
func readCharVar(f *cdf.File, name string) (string, error) {
	if !hasVariable(f, name) {
		return "", io.EOF
	}
	n := 1
	for _, l := range f.Header.Lengths(name) {
		n *= l
	}
	r := f.Reader(name, nil, nil)
	buf := make([]byte, n)
	if _, err := r.Read(buf); err != nil && err != io.EOF {
		return "", err
	}
	return string(bytes.TrimRight(buf, "\x00 ")), nil
}
