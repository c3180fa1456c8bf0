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
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"time"

	cdip "github.com/UCSD-SIO-CDIP/cdipgo"
	"github.com/UCSD-SIO-CDIP/cdipgo/decode"
)

// writeCSV writes the series as one row per record. Scalar variables
// become one column each; banded variables one column per frequency
// band. Missing values are left empty.
func writeCSV(w io.Writer, s *decode.Series) error {
	scalars := make([]string, 0, len(s.Values))
	for name := range s.Values {
		scalars = append(scalars, name)
	}
	sort.Strings(scalars)
	banded := make([]string, 0, len(s.Bands))
	for name := range s.Bands {
		banded = append(banded, name)
	}
	sort.Strings(banded)

	header := []string{"time"}
	for _, name := range scalars {
		col := name
		if u := s.Units[name]; u != "" {
			col = fmt.Sprintf("%s [%s]", name, u)
		}
		header = append(header, col)
	}
	for _, name := range banded {
		for _, f := range s.Frequencies {
			header = append(header, fmt.Sprintf("%s @%.4fHz", name, f))
		}
	}
	if s.Flags != nil {
		header = append(header, "flag")
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for i, t := range s.Times {
		row := make([]string, 0, len(header))
		row = append(row, t.UTC().Format(time.RFC3339))
		for _, name := range scalars {
			row = append(row, formatValue(s.Values[name][i]))
		}
		for _, name := range banded {
			for _, v := range s.Bands[name][i] {
				row = append(row, formatValue(v))
			}
		}
		if s.Flags != nil {
			row = append(row, strconv.Itoa(int(s.Flags[i])))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// writeJSON writes the full result, provenance included, as one JSON
// document.
func writeJSON(w io.Writer, res *cdip.Result) error {
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(jsonResult{
		Query:        res.Provenance.QueryID,
		Station:      string(res.Provenance.Station),
		Product:      res.Provenance.Product.String(),
		NetworkReads: res.Provenance.NetworkReads,
		Records:      jsonRecords(res.Series),
		Units:        res.Series.Units,
		Frequencies:  res.Series.Frequencies,
	})
}

type jsonResult struct {
	Query        string                   `json:"query"`
	Station      string                   `json:"station"`
	Product      string                   `json:"product"`
	NetworkReads int64                    `json:"network_reads"`
	Units        map[string]string        `json:"units,omitempty"`
	Frequencies  []float64                `json:"frequencies,omitempty"`
	Records      []map[string]interface{} `json:"records"`
}

func jsonRecords(s *decode.Series) []map[string]interface{} {
	records := make([]map[string]interface{}, len(s.Times))
	for i, t := range s.Times {
		rec := map[string]interface{}{"time": t.UTC().Format(time.RFC3339)}
		for name, col := range s.Values {
			if !math.IsNaN(col[i]) {
				rec[name] = col[i]
			}
		}
		for name, rows := range s.Bands {
			// JSON has no NaN; encode missing bands as null.
			row := make([]interface{}, len(rows[i]))
			for j, v := range rows[i] {
				if !math.IsNaN(v) {
					row[j] = v
				}
			}
			rec[name] = row
		}
		if s.Flags != nil {
			rec["flag"] = s.Flags[i]
		}
		records[i] = rec
	}
	return records
}
