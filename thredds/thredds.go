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

// Package thredds talks to a THREDDS archive server: it lists a
// station's deployment files from the server catalog and reads
// variable slabs out of the remote NetCDF files with HTTP range
// requests.
package thredds

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ctessum/cdf"

	"github.com/UCSD-SIO-CDIP/cdipgo/catalog"
	"github.com/UCSD-SIO-CDIP/cdipgo/fetch"
	"github.com/UCSD-SIO-CDIP/cdipgo/schema"
	"github.com/UCSD-SIO-CDIP/cdipgo/units"
)

// DefaultBaseURL is the public CDIP THREDDS server.
const DefaultBaseURL = "https://thredds.cdip.ucsd.edu/thredds"

// Client lists and reads archive datasets. It implements
// catalog.Lister and fetch.RangeReader. Safe for concurrent use.
type Client struct {
	base string
	hc   *http.Client

	mu sync.Mutex
	// feed maps archive file paths to content fingerprints; see
	// LoadFingerprints.
	feed Feed
	// coords caches decoded time coordinates, keyed by dataset URL and
	// fingerprint.
	coords map[string][]float64
}

// NewClient creates a Client for the server at base, or the public
// archive when base is empty. A nil hc uses http.DefaultClient.
func NewClient(base string, hc *http.Client) *Client {
	if base == "" {
		base = DefaultBaseURL
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		base:   strings.TrimRight(base, "/"),
		hc:     hc,
		coords: make(map[string][]float64),
	}
}

var deploymentName = regexp.MustCompile(`^(\d{3}p\d)_(d\d{2,})\.nc$`)

// xmlCatalog is the subset of a THREDDS catalog document we care
// about.
type xmlCatalog struct {
	XMLName  xml.Name     `xml:"catalog"`
	Datasets []xmlDataset `xml:"dataset"`
}

type xmlDataset struct {
	Name     string       `xml:"name,attr"`
	URLPath  string       `xml:"urlPath,attr"`
	Dates    []xmlDate    `xml:"date"`
	Datasets []xmlDataset `xml:"dataset"`
}

type xmlDate struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

// ListDatasets implements catalog.Lister: it walks the station's
// archive directory catalog, appends the realtime feed if the station
// has one, and reads each file's declared time coverage from its
// header.
func (c *Client) ListDatasets(ctx context.Context, station catalog.StationID, product schema.Product) ([]catalog.Dataset, error) {
	station = station.Normalize()
	sch, err := schema.For(product)
	if err != nil {
		return nil, err
	}

	catURL := fmt.Sprintf("%s/catalog/cdip/archive/%s/catalog.xml", c.base, station)
	entries, err := c.readCatalog(ctx, catURL)
	if err != nil {
		return nil, err
	}

	var out []catalog.Dataset
	for _, e := range entries {
		m := deploymentName.FindStringSubmatch(e.Name)
		if m == nil || catalog.StationID(m[1]) != station {
			continue
		}
		urlPath := e.URLPath
		if urlPath == "" {
			urlPath = fmt.Sprintf("cdip/archive/%s/%s", station, e.Name)
		}
		ds := catalog.Dataset{
			Key:        fmt.Sprintf("%s_%s", station, m[2]),
			URL:        c.base + "/fileServer/" + urlPath,
			Station:    station,
			Product:    product,
			Deployment: m[2],
			Quality:    catalog.QualityReprocessed,
			Published:  modifiedDate(e),
		}
		ds.Fingerprint = c.fingerprintFor(urlPath, ds.Published)
		if err := c.fillCoverage(ctx, &ds, sch); err != nil {
			if isMissingProduct(err) {
				continue // deployment file lacks this product
			}
			return nil, err
		}
		out = append(out, ds)
	}

	if rt, ok, err := c.realtimeDataset(ctx, station, product, sch); err != nil {
		return nil, err
	} else if ok {
		out = append(out, rt)
	}
	return out, nil
}

func (c *Client) readCatalog(ctx context.Context, url string) ([]xmlDataset, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req.WithContext(ctx))
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, url)
	}
	var doc xmlCatalog
	if err := xml.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("thredds: parsing %s: %v", url, err)
	}
	var flat []xmlDataset
	var walk func(ds []xmlDataset)
	walk = func(ds []xmlDataset) {
		for _, d := range ds {
			if len(d.Datasets) > 0 {
				walk(d.Datasets)
			} else {
				flat = append(flat, d)
			}
		}
	}
	walk(doc.Datasets)
	return flat, nil
}

// realtimeDataset probes for the station's realtime file. Displacement
// lives in a separate realtime file from the half-hour products.
func (c *Client) realtimeDataset(ctx context.Context, station catalog.StationID, product schema.Product, sch schema.Schema) (catalog.Dataset, bool, error) {
	name := fmt.Sprintf("%s_rt.nc", station)
	if product == schema.Displacement {
		name = fmt.Sprintf("%s_xy.nc", station)
	}
	urlPath := "cdip/realtime/" + name
	ds := catalog.Dataset{
		Key:        fmt.Sprintf("%s_rt", station),
		URL:        c.base + "/fileServer/" + urlPath,
		Station:    station,
		Product:    product,
		Deployment: "rt",
		Quality:    catalog.QualityProvisional,
	}
	req, err := http.NewRequest("HEAD", ds.URL, nil)
	if err != nil {
		return ds, false, err
	}
	resp, err := c.hc.Do(req.WithContext(ctx))
	if err != nil {
		return ds, false, classify(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ds, false, nil // no realtime feed for this station
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			ds.Published = t
		}
	}
	ds.Fingerprint = c.fingerprintFor(urlPath, ds.Published)
	if err := c.fillCoverage(ctx, &ds, sch); err != nil {
		if isMissingProduct(err) {
			return ds, false, nil
		}
		return ds, false, err
	}
	ds.Coverage.End = time.Time{} // still accumulating
	return ds, true, nil
}

func modifiedDate(e xmlDataset) time.Time {
	for _, d := range e.Dates {
		if d.Type != "modified" {
			continue
		}
		v := strings.TrimSpace(d.Value)
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

func (c *Client) fingerprintFor(urlPath string, published time.Time) string {
	c.mu.Lock()
	feed := c.feed
	c.mu.Unlock()
	if fp, ok := feed.Lookup(urlPath); ok {
		return fp
	}
	if !published.IsZero() {
		return published.UTC().Format(time.RFC3339)
	}
	return ""
}

type missingProductError struct {
	url     string
	missing string
}

func (e *missingProductError) Error() string {
	return fmt.Sprintf("thredds: %s has no %s", e.url, e.missing)
}

func isMissingProduct(err error) bool {
	_, ok := err.(*missingProductError)
	return ok
}

// fillCoverage opens the remote file header and records the dataset's
// declared time coverage, after checking that the product's variables
// are actually present.
func (c *Client) fillCoverage(ctx context.Context, ds *catalog.Dataset, sch schema.Schema) error {
	f, err := c.open(ctx, ds.URL)
	if err != nil {
		return err
	}
	probe := sch.TimeVar
	if sch.TimeRule == schema.TimeFromMeta {
		probe = sch.Variables[0].Name
	}
	if !hasVariable(f, probe) {
		return &missingProductError{url: ds.URL, missing: probe}
	}
	start, err := timeAttr(f, "time_coverage_start")
	if err != nil {
		return fmt.Errorf("thredds: %s: %v", ds.URL, err)
	}
	end, err := timeAttr(f, "time_coverage_end")
	if err != nil {
		return fmt.Errorf("thredds: %s: %v", ds.URL, err)
	}
	ds.Coverage = units.TimeRange{Start: start, End: end.Add(time.Second)}
	return nil
}

func hasVariable(f *cdf.File, name string) bool {
	for _, v := range f.Header.Variables() {
		if v == name {
			return true
		}
	}
	return false
}

func timeAttr(f *cdf.File, attr string) (time.Time, error) {
	v := f.Header.GetAttribute("", attr)
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}, fmt.Errorf("missing global attribute %s", attr)
	}
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable %s %q", attr, s)
}

// open reads the remote file's NetCDF header.
func (c *Client) open(ctx context.Context, url string) (*cdf.File, error) {
	f, err := cdf.Open(&remoteFile{ctx: ctx, client: c.hc, url: url})
	if err != nil {
		var te *fetch.TransientError
		if asTransient(err, &te) {
			return nil, err
		}
		return nil, fmt.Errorf("thredds: opening %s: %v", url, err)
	}
	return f, nil
}

func asTransient(err error, target **fetch.TransientError) bool {
	for err != nil {
		if te, ok := err.(*fetch.TransientError); ok {
			*target = te
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// ReadRange implements fetch.RangeReader: it reads one variable of one
// dataset over tr, with times normalized to epoch seconds.
func (c *Client) ReadRange(ctx context.Context, ds catalog.Dataset, variable string, tr units.TimeRange) (*fetch.Block, error) {
	sch, err := schema.For(ds.Product)
	if err != nil {
		return nil, err
	}
	f, err := c.open(ctx, ds.URL)
	if err != nil {
		return nil, err
	}
	coords, err := c.timeCoords(ctx, f, ds, sch)
	if err != nil {
		return nil, err
	}

	lo := units.UnixEpoch.Value(tr.Start)
	i0 := sort.SearchFloat64s(coords, lo)
	i1 := len(coords)
	if !tr.OpenEnded() {
		hi := units.UnixEpoch.Value(tr.End)
		i1 = sort.SearchFloat64s(coords, hi)
	}

	blk := &fetch.Block{Dataset: ds, Variable: variable}
	if u, ok := f.Header.GetAttribute(variable, "units").(string); ok {
		blk.Units = u
	}
	if i0 >= i1 {
		return blk, nil
	}
	blk.Times = append([]float64(nil), coords[i0:i1]...)

	lengths := f.Header.Lengths(variable)
	if lengths == nil {
		return nil, fmt.Errorf("thredds: %s has no variable %s", ds.URL, variable)
	}
	switch len(lengths) {
	case 1:
		vals, err := readSlab(f, variable, []int{i0}, []int{i1 - 1}, i1-i0)
		if err != nil {
			return nil, readErr(ds.URL, variable, err)
		}
		blk.Values = make([][]float64, len(vals))
		for i, v := range vals {
			blk.Values[i] = []float64{v}
		}
	case 2:
		nb := lengths[1]
		vals, err := readSlab(f, variable, []int{i0, 0}, []int{i1 - 1, nb - 1}, (i1-i0)*nb)
		if err != nil {
			return nil, readErr(ds.URL, variable, err)
		}
		blk.Values = make([][]float64, i1-i0)
		for i := range blk.Values {
			blk.Values[i] = vals[i*nb : (i+1)*nb]
		}
		if sch.FrequencyVar != "" {
			if blk.Frequencies, err = readFull(f, sch.FrequencyVar); err != nil {
				return nil, readErr(ds.URL, sch.FrequencyVar, err)
			}
			if blk.Bandwidth, err = readFull(f, sch.BandwidthVar); err != nil {
				return nil, readErr(ds.URL, sch.BandwidthVar, err)
			}
		}
	default:
		return nil, fmt.Errorf("thredds: %s %s: unsupported rank %d", ds.URL, variable, len(lengths))
	}

	if sch.FlagVar != "" && hasVariable(f, sch.FlagVar) {
		flags, err := readSlab(f, sch.FlagVar, []int{i0}, []int{i1 - 1}, i1-i0)
		if err != nil {
			return nil, readErr(ds.URL, sch.FlagVar, err)
		}
		blk.Flags = make([]int8, len(flags))
		for i, v := range flags {
			blk.Flags[i] = int8(v)
		}
	}
	return blk, nil
}

func readErr(url, variable string, err error) error {
	var te *fetch.TransientError
	if asTransient(err, &te) {
		return err
	}
	return fmt.Errorf("thredds: reading %s from %s: %v", variable, url, err)
}

// timeCoords returns the dataset's sample times in epoch seconds,
// reading the time coordinate (or synthesizing it from the sampling
// metadata for displacement files) and caching the result.
func (c *Client) timeCoords(ctx context.Context, f *cdf.File, ds catalog.Dataset, sch schema.Schema) ([]float64, error) {
	key := ds.URL + "|" + ds.Fingerprint
	c.mu.Lock()
	if coords, ok := c.coords[key]; ok {
		c.mu.Unlock()
		return coords, nil
	}
	c.mu.Unlock()

	var coords []float64
	var err error
	if sch.TimeRule == schema.TimeFromMeta {
		coords, err = synthesizeTimes(f, sch)
	} else {
		coords, err = coordTimes(f, sch.TimeVar)
	}
	if err != nil {
		return nil, readErr(ds.URL, sch.TimeVar, err)
	}

	c.mu.Lock()
	c.coords[key] = coords
	c.mu.Unlock()
	return coords, nil
}

func coordTimes(f *cdf.File, timeVar string) ([]float64, error) {
	raw, err := readFull(f, timeVar)
	if err != nil {
		return nil, err
	}
	epoch := units.UnixEpoch
	if u, ok := f.Header.GetAttribute(timeVar, "units").(string); ok && u != "" {
		if e, err := units.ParseEpoch(u); err == nil {
			epoch = e
		}
	}
	if !epoch.Base.Equal(units.UnixEpoch.Base) || epoch.Step != units.UnixEpoch.Step {
		for i, v := range raw {
			raw[i] = units.UnixEpoch.Value(epoch.Time(v))
		}
	}
	return raw, nil
}

// synthesizeTimes builds the displacement time base from the file's
// sampling metadata: samples start at xyzStartTime less the filter
// delay and advance at the sample rate.
func synthesizeTimes(f *cdf.File, sch schema.Schema) ([]float64, error) {
	start, err := readScalar(f, "xyzStartTime")
	if err != nil {
		return nil, err
	}
	rate, err := readScalar(f, "xyzSampleRate")
	if err != nil {
		return nil, err
	}
	if rate <= 0 {
		return nil, fmt.Errorf("bad sample rate %v", rate)
	}
	delay, err := readScalar(f, "xyzFilterDelay")
	if err != nil {
		// Older files omit the filter delay.
		delay = 0
	}
	n := f.Header.Lengths(sch.Variables[0].Name)
	if n == nil {
		return nil, fmt.Errorf("no variable %s", sch.Variables[0].Name)
	}
	coords := make([]float64, n[0])
	base := start - delay
	for i := range coords {
		coords[i] = base + float64(i)/rate
	}
	return coords, nil
}

func readScalar(f *cdf.File, name string) (float64, error) {
	vals, err := readFull(f, name)
	if err != nil {
		return 0, err
	}
	if len(vals) == 0 {
		return 0, fmt.Errorf("variable %s is empty", name)
	}
	return vals[0], nil
}

func readFull(f *cdf.File, name string) ([]float64, error) {
	if !hasVariable(f, name) {
		return nil, fmt.Errorf("no variable %s", name)
	}
	n := 1
	for _, l := range f.Header.Lengths(name) {
		n *= l
	}
	return readSlab(f, name, nil, nil, n)
}

// readSlab reads n elements of a variable between the inclusive corner
// indices, converting whatever the on-disk type is to float64.
func readSlab(f *cdf.File, name string, begin, end []int, n int) ([]float64, error) {
	r := f.Reader(name, begin, end)
	if r == nil {
		return nil, fmt.Errorf("no variable %s", name)
	}
	buf := allocFor(f, name, n)
	if _, err := r.Read(buf); err != nil && err != io.EOF {
		return nil, err
	}
	return toFloat64(buf), nil
}

func allocFor(f *cdf.File, name string, n int) interface{} {
	switch f.Header.ZeroValue(name, 0).(type) {
	case []uint8:
		return make([]uint8, n)
	case []int16:
		return make([]int16, n)
	case []int32:
		return make([]int32, n)
	case []float32:
		return make([]float32, n)
	default:
		return make([]float64, n)
	}
}

func toFloat64(buf interface{}) []float64 {
	switch b := buf.(type) {
	case []float64:
		return b
	case []float32:
		out := make([]float64, len(b))
		for i, v := range b {
			out[i] = float64(v)
		}
		return out
	case []int32:
		out := make([]float64, len(b))
		for i, v := range b {
			out[i] = float64(v)
		}
		return out
	case []int16:
		out := make([]float64, len(b))
		for i, v := range b {
			out[i] = float64(v)
		}
		return out
	case []uint8:
		out := make([]float64, len(b))
		for i, v := range b {
			out[i] = float64(v)
		}
		return out
	}
	return nil
}
