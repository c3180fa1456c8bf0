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

package cdip

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/UCSD-SIO-CDIP/cdipgo/catalog"
	"github.com/UCSD-SIO-CDIP/cdipgo/decode"
	"github.com/UCSD-SIO-CDIP/cdipgo/fetch"
	"github.com/UCSD-SIO-CDIP/cdipgo/metrics"
	"github.com/UCSD-SIO-CDIP/cdipgo/schema"
	"github.com/UCSD-SIO-CDIP/cdipgo/thredds"
	"github.com/UCSD-SIO-CDIP/cdipgo/units"
)

// State is a query's lifecycle stage.
type State int

const (
	StateResolving State = iota
	StateFetching
	StateDecoding
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateFetching:
		return "fetching"
	case StateDecoding:
		return "decoding"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Options adjust a single query.
type Options struct {
	// PubSet selects records by quality flag: Public keeps released
	// good records, NonPub keeps the rest, All keeps everything.
	PubSet schema.PubSet
	// Fill controls what happens to NaN values that survive assembly.
	Fill decode.FillPolicy
	// Force64Band rebins 100-band spectra onto the 64-band layout.
	Force64Band bool
	// BypassCache reads straight from the network without consulting
	// or updating the block cache.
	BypassCache bool
	// TargetRecords keeps only the most recent n samples when
	// positive.
	TargetRecords int
}

// Provenance records where a result came from and what it cost.
type Provenance struct {
	QueryID string
	Station catalog.StationID
	Product schema.Product
	Range   units.TimeRange

	// Datasets lists the archive files that contributed samples.
	Datasets []catalog.Dataset
	// Gaps are the sub-ranges of the request that no dataset covers
	// at the product's cadence.
	Gaps []units.TimeRange

	// NetworkReads is the number of block reads this query sent to
	// the archive; zero means it was answered entirely from cache.
	NetworkReads int64
	State        State
	Elapsed      time.Duration
}

// A Result is an assembled series plus its provenance.
type Result struct {
	Series     *decode.Series
	Provenance Provenance
}

// An Archive is the remote side of the client: it lists a station's
// datasets and reads raw variable blocks from them. The production
// implementation is thredds.Client; tests substitute their own.
type Archive interface {
	catalog.Lister
	fetch.RangeReader
	ReadMeta(ctx context.Context, ds catalog.Dataset) (thredds.StationMeta, error)
}

// Config holds Client settings. The zero value queries the public
// archive with an in-memory cache.
type Config struct {
	// BaseURL is the THREDDS server; empty means the public archive.
	BaseURL string
	// HTTPClient overrides http.DefaultClient.
	HTTPClient *http.Client
	// Archive overrides the remote backend; nil builds a THREDDS
	// client from BaseURL and HTTPClient.
	Archive Archive

	// CacheDir enables the persistent block cache when non-empty.
	CacheDir string
	// MemoryEntries bounds the in-memory block cache.
	MemoryEntries int
	// Workers is the number of concurrent block readers.
	Workers int
	// MaxRetries caps retries of transient network failures.
	MaxRetries uint64
	// Timeout bounds each network read.
	Timeout time.Duration

	// CatalogTTL is how long resolved dataset listings stay fresh.
	CatalogTTL time.Duration
	// Prefer breaks ties between provisional and reprocessed data
	// covering the same instant.
	Prefer catalog.QualityPolicy

	// MetricsNamespace and MetricsRegistry configure the prometheus
	// counters; a nil registry leaves them unregistered.
	MetricsNamespace string
	MetricsRegistry  prometheus.Registerer

	// Log receives query lifecycle events; nil uses the logrus
	// standard logger.
	Log logrus.FieldLogger

	// Now is the clock, substituted by tests.
	Now func() time.Time
}

// A Client answers measurement queries against the archive. Safe for
// concurrent use. Each Client owns its caches; there is no shared
// global state, so two Clients with different configurations can
// coexist in one process.
type Client struct {
	cfg      Config
	log      logrus.FieldLogger
	remote   Archive
	resolver *catalog.Resolver
	manager  *fetch.Manager
	now      func() time.Time
}

// NewClient creates a Client.
func NewClient(cfg Config) (*Client, error) {
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	ns := cfg.MetricsNamespace
	if ns == "" {
		ns = "cdip"
	}
	remote := cfg.Archive
	if remote == nil {
		remote = thredds.NewClient(cfg.BaseURL, cfg.HTTPClient)
	}
	manager, err := fetch.NewManager(remote, fetch.Config{
		CacheDir:      cfg.CacheDir,
		MemoryEntries: cfg.MemoryEntries,
		Workers:       cfg.Workers,
		MaxRetries:    cfg.MaxRetries,
		Timeout:       cfg.Timeout,
		Metrics:       metrics.NewCollector(ns, cfg.MetricsRegistry),
	})
	if err != nil {
		return nil, err
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		cfg:    cfg,
		log:    log,
		remote: remote,
		resolver: catalog.NewResolver(remote, catalog.Options{
			TTL:    cfg.CatalogTTL,
			Prefer: cfg.Prefer,
			Now:    cfg.Now,
		}),
		manager: manager,
		now:     now,
	}, nil
}

// LoadFingerprints installs the archive's by-modification-date listing
// as the dataset fingerprint source, so cached blocks are invalidated
// exactly when their file is rewritten. It is a no-op for backends
// that do not use the listing.
func (c *Client) LoadFingerprints(ctx context.Context, url string) error {
	if tc, ok := c.remote.(*thredds.Client); ok {
		return tc.LoadFingerprints(ctx, url)
	}
	return nil
}

// Invalidate drops the cached dataset listing for a station and
// product, forcing the next query to re-read the remote catalog.
func (c *Client) Invalidate(station catalog.StationID, product schema.Product) {
	c.resolver.Invalidate(station.Normalize(), product)
}

// StationMeta returns a station's deployment metadata, read from its
// most recent dataset.
func (c *Client) StationMeta(ctx context.Context, station catalog.StationID) (thredds.StationMeta, error) {
	st := station.Normalize()
	res, err := c.resolver.Resolve(ctx, st, schema.Compendium, units.TimeRange{
		Start: time.Date(1975, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   c.now(),
	})
	if err != nil {
		return thredds.StationMeta{}, err
	}
	ds := res.Datasets[len(res.Datasets)-1]
	return c.remote.ReadMeta(ctx, ds)
}

// Query resolves, fetches, and assembles one product of one station
// over tr. An uncovered sub-range is not an error: it is reported in
// the result's provenance. Repeating a query re-reads only what the
// cache does not already hold.
func (c *Client) Query(ctx context.Context, station catalog.StationID, product schema.Product, tr units.TimeRange, opts Options) (*Result, error) {
	begin := c.now()
	st := station.Normalize()
	prov := Provenance{
		QueryID: uuid.New().String(),
		Station: st,
		Product: product,
		Range:   tr,
	}
	logger := c.log.WithFields(logrus.Fields{
		"query":   prov.QueryID,
		"station": st,
		"product": product.String(),
	})

	sch, err := schema.For(product)
	if err != nil {
		return nil, err
	}

	logger.WithField("state", StateResolving.String()).Debug("resolving datasets")
	res, err := c.resolver.Resolve(ctx, st, product, tr)
	if err != nil {
		logger.WithField("state", StateFailed.String()).WithError(err).Warn("query failed")
		return nil, &QueryError{Stage: StateResolving, Err: err}
	}
	prov.Datasets = res.Datasets

	netBefore := c.manager.NetworkReads()
	logger.WithField("state", StateFetching.String()).
		WithField("datasets", len(res.Datasets)).Debug("fetching blocks")
	blocks, err := c.fetchAll(ctx, res.Datasets, sch, tr, opts.BypassCache)
	if err != nil {
		logger.WithField("state", StateFailed.String()).WithError(err).Warn("query failed")
		return nil, &QueryError{Stage: StateFetching, Err: err}
	}

	logger.WithField("state", StateDecoding.String()).Debug("assembling series")
	asm, err := decode.NewAssembler(product, decode.Options{
		Flags:       flagPolicy(opts.PubSet),
		Fill:        opts.Fill,
		Force64Band: opts.Force64Band,
		Prefer:      c.resolver.Policy(),
	})
	if err != nil {
		return nil, err
	}
	series, err := asm.Assemble(tr, blocks)
	if err != nil {
		logger.WithField("state", StateFailed.String()).WithError(err).Warn("query failed")
		return nil, &QueryError{Stage: StateDecoding, Err: err}
	}
	if series.Station == "" {
		series.Station = string(st)
	}
	if opts.PubSet == schema.NonPub {
		keepNonPublic(series, sch)
	}
	if opts.TargetRecords > 0 {
		trimRecent(series, opts.TargetRecords)
	}

	prov.Gaps = units.Coalesce(append(append([]units.TimeRange(nil), res.Gaps...), series.Gaps...))
	prov.NetworkReads = c.manager.NetworkReads() - netBefore
	prov.State = StateDone
	prov.Elapsed = c.now().Sub(begin)
	logger.WithFields(logrus.Fields{
		"state":         StateDone.String(),
		"samples":       series.Len(),
		"network_reads": prov.NetworkReads,
		"gaps":          len(prov.Gaps),
	}).Info("query done")
	return &Result{Series: series, Provenance: prov}, nil
}

// fetchAll reads every schema variable of every dataset concurrently,
// each clamped to the dataset's coverage.
func (c *Client) fetchAll(ctx context.Context, datasets []catalog.Dataset, sch schema.Schema, tr units.TimeRange, bypass bool) ([]*fetch.Block, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type job struct {
		ds       catalog.Dataset
		variable string
		span     units.TimeRange
	}
	var jobs []job
	for _, ds := range datasets {
		cov := ds.Coverage
		if cov.OpenEnded() {
			cov.End = c.now()
		}
		span, ok := tr.Intersect(cov)
		if !ok {
			continue
		}
		for _, v := range sch.Variables {
			jobs = append(jobs, job{ds: ds, variable: v.Name, span: span})
		}
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		blocks []*fetch.Block
		first  error
	)
	for _, j := range jobs {
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			var blk *fetch.Block
			var err error
			if bypass {
				blk, err = c.manager.FetchDirect(ctx, j.ds, j.variable, j.span)
			} else {
				blk, err = c.manager.Fetch(ctx, j.ds, j.variable, j.span)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if first == nil {
					first = err
					cancel()
				}
				return
			}
			blocks = append(blocks, blk)
		}(j)
	}
	wg.Wait()
	if first != nil {
		return nil, first
	}
	return blocks, nil
}

// flagPolicy maps the quality set to the assembler's flag handling:
// Public filters to released good records, everything else keeps the
// flags for the caller (or for NonPub post-filtering).
func flagPolicy(p schema.PubSet) decode.FlagPolicy {
	if p == schema.Public {
		return decode.FlagFilter
	}
	return decode.FlagKeep
}

// keepNonPublic drops the released good records, leaving the samples a
// public query would hide.
func keepNonPublic(s *decode.Series, sch schema.Schema) {
	if sch.FlagVar == "" || s.Flags == nil {
		return
	}
	keep := make([]int, 0, len(s.Flags))
	for i, f := range s.Flags {
		if f != sch.GoodFlag {
			keep = append(keep, i)
		}
	}
	reindex(s, keep)
}

// trimRecent keeps the most recent n samples.
func trimRecent(s *decode.Series, n int) {
	if s.Len() <= n {
		return
	}
	keep := make([]int, n)
	for i := range keep {
		keep[i] = s.Len() - n + i
	}
	reindex(s, keep)
}

func reindex(s *decode.Series, keep []int) {
	times := make([]time.Time, len(keep))
	for i, j := range keep {
		times[i] = s.Times[j]
	}
	s.Times = times
	for name, col := range s.Values {
		out := make([]float64, len(keep))
		for i, j := range keep {
			out[i] = col[j]
		}
		s.Values[name] = out
	}
	for name, rows := range s.Bands {
		out := make([][]float64, len(keep))
		for i, j := range keep {
			out[i] = rows[j]
		}
		s.Bands[name] = out
	}
	if s.Flags != nil {
		flags := make([]int8, len(keep))
		for i, j := range keep {
			flags[i] = s.Flags[j]
		}
		s.Flags = flags
	}
}

// A QueryError wraps a failure with the query stage it happened in.
type QueryError struct {
	Stage State
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("cdip: %s: %v", e.Stage, e.Err)
}
func (e *QueryError) Unwrap() error { return e.Err }
