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

package cdiputil

import (
	"bytes"
	"encoding/csv"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	cdip "github.com/UCSD-SIO-CDIP/cdipgo"
	"github.com/UCSD-SIO-CDIP/cdipgo/decode"
	"github.com/UCSD-SIO-CDIP/cdipgo/schema"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Workers != 4 || cfg.MaxRetries != 4 || cfg.Prefer != "reprocessed" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if _, err := cfg.Client(); err != nil {
		t.Errorf("default configuration does not build a client: %v", err)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "cdiputil")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "cdip.toml")
	const doc = `
BaseURL = "http://localhost:8080/thredds"
CacheDir = "/var/cache/cdip"
Workers = 8
Prefer = "provisional"
LogLevel = "debug"
`
	if err := ioutil.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BaseURL != "http://localhost:8080/thredds" || cfg.Workers != 8 {
		t.Errorf("config not read: %+v", cfg)
	}
	if cfg.MaxRetries != 4 {
		t.Errorf("unset field lost its default: MaxRetries = %d", cfg.MaxRetries)
	}
	if _, err := cfg.Client(); err != nil {
		t.Errorf("configuration does not build a client: %v", err)
	}
}

func TestLoadConfigBadPreference(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Prefer = "best"
	if _, err := cfg.Client(); err == nil {
		t.Error("unknown quality preference accepted")
	}
}

func TestParseTime(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2023-02-01", time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)},
		{"2023-02-01T06:30:00", time.Date(2023, 2, 1, 6, 30, 0, 0, time.UTC)},
		{"2023-02-01T06:30:00Z", time.Date(2023, 2, 1, 6, 30, 0, 0, time.UTC)},
	}
	for _, c := range cases {
		got, err := parseTime(c.in)
		if err != nil {
			t.Errorf("parseTime(%q): %v", c.in, err)
			continue
		}
		if !got.Equal(c.want) {
			t.Errorf("parseTime(%q) = %v, want %v", c.in, got, c.want)
		}
	}
	if _, err := parseTime("yesterday"); err == nil {
		t.Error("nonsense time accepted")
	}
}

func TestParseRangeDefaults(t *testing.T) {
	tr, err := parseRange("", "2023-02-02")
	if err != nil {
		t.Fatal(err)
	}
	if !tr.Start.Equal(time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("default start = %v, want one day before the end", tr.Start)
	}
	if _, err := parseRange("2023-02-02", "2023-02-01"); err == nil {
		t.Error("inverted range accepted")
	}
}

func testSeries() *decode.Series {
	base := time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)
	return &decode.Series{
		Product: schema.Compendium,
		Station: "100p1",
		Times:   []time.Time{base, base.Add(30 * time.Minute)},
		Values: map[string][]float64{
			"waveHs": {1.25, math.NaN()},
			"waveTp": {12, 14},
		},
		Units: map[string]string{"waveHs": "m", "waveTp": "s"},
		Flags: []int8{1, 1},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := writeCSV(&buf, testSeries()); err != nil {
		t.Fatal(err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header plus 2 records", len(rows))
	}
	header := rows[0]
	if header[0] != "time" || header[1] != "waveHs [m]" || header[3] != "flag" {
		t.Errorf("header = %v", header)
	}
	if rows[1][0] != "2023-02-01T00:00:00Z" || rows[1][1] != "1.25" {
		t.Errorf("first record = %v", rows[1])
	}
	if rows[2][1] != "" {
		t.Errorf("missing value rendered as %q, want empty", rows[2][1])
	}
}

func TestWriteJSONMissingValues(t *testing.T) {
	s := testSeries()
	s.Bands = map[string][][]float64{
		"waveEnergyDensity": {{2.5, math.NaN()}, {2.5, 2.5}},
	}
	s.Frequencies = []float64{0.025, 0.03}
	res := &cdip.Result{Series: s, Provenance: cdip.Provenance{
		QueryID: "test", Station: "100p1", Product: schema.Compendium,
	}}
	var buf bytes.Buffer
	if err := writeJSON(&buf, res); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if strings.Contains(out, "NaN") {
		t.Error("JSON output contains NaN")
	}
	if !strings.Contains(out, "null") {
		t.Error("missing band value not encoded as null")
	}
	if !strings.Contains(out, `"waveHs": 1.25`) {
		t.Errorf("scalar value missing from output:\n%s", out)
	}
}
