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

package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"

	"github.com/UCSD-SIO-CDIP/cdipgo/schema"
	"github.com/UCSD-SIO-CDIP/cdipgo/units"
)

// DefaultTTL is how long a cached dataset listing is trusted. The set of
// datasets changes on the order of deployments, not samples, so a short
// TTL is enough to amortize listing calls within one analysis session.
const DefaultTTL = 5 * time.Minute

// maxCachedListings bounds the per-resolver catalog cache.
const maxCachedListings = 256

// Options configures a Resolver.
type Options struct {
	// TTL overrides DefaultTTL when positive.
	TTL time.Duration
	// Prefer is the overlap tie-break policy.
	Prefer QualityPolicy
	// Now is the clock; nil means time.Now. Tests substitute it.
	Now func() time.Time
}

// A Resolver maps (station, product, time range) queries to the datasets
// covering them, caching the per-(station, product) listings with a TTL.
type Resolver struct {
	lister Lister
	ttl    time.Duration
	prefer QualityPolicy
	now    func() time.Time

	mu    sync.Mutex
	cache *lru.Cache // listKey -> *listing
}

type listing struct {
	datasets []Dataset
	fetched  time.Time
}

// NewResolver creates a resolver on top of the given lister.
func NewResolver(l Lister, opts Options) *Resolver {
	r := &Resolver{
		lister: l,
		ttl:    opts.TTL,
		prefer: opts.Prefer,
		now:    opts.Now,
		cache:  lru.New(maxCachedListings),
	}
	if r.ttl <= 0 {
		r.ttl = DefaultTTL
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// A Resolution is the outcome of a successful resolve: the handles
// overlapping the requested range ordered by coverage start (ties broken
// by the quality policy), plus the sub-ranges no dataset covers.
// Uncovered gaps are an expected operating condition for realtime
// stations, not an error.
type Resolution struct {
	Datasets []Dataset
	Gaps     []units.TimeRange
}

func listKey(station StationID, product schema.Product) string {
	return fmt.Sprintf("%s|%v", station, product)
}

// Resolve returns the datasets covering the requested range. A cached
// listing that leaves part of the range uncovered is refreshed before
// the gaps are reported, so a stale cache never masks a newly published
// dataset.
func (r *Resolver) Resolve(ctx context.Context, station StationID, product schema.Product, tr units.TimeRange) (*Resolution, error) {
	station = station.Normalize()
	key := listKey(station, product)

	datasets, cached, err := r.listing(ctx, key, station, product, false)
	if err != nil {
		return nil, err
	}
	res := r.selectDatasets(datasets, tr)
	if cached && (len(res.Gaps) > 0 || len(res.Datasets) == 0) {
		// The cached listing does not cover the request; refresh it.
		datasets, _, err = r.listing(ctx, key, station, product, true)
		if err != nil {
			return nil, err
		}
		res = r.selectDatasets(datasets, tr)
	}
	if len(res.Datasets) == 0 {
		return nil, NotFoundError{Station: station, Product: product, Range: tr}
	}
	return res, nil
}

// listing returns the dataset list for (station, product), from cache
// when fresh, from the lister otherwise. The second return reports
// whether the cache was used.
func (r *Resolver) listing(ctx context.Context, key string, station StationID, product schema.Product, force bool) ([]Dataset, bool, error) {
	if !force {
		r.mu.Lock()
		if v, ok := r.cache.Get(key); ok {
			l := v.(*listing)
			if r.now().Sub(l.fetched) < r.ttl {
				r.mu.Unlock()
				return l.datasets, true, nil
			}
		}
		r.mu.Unlock()
	}

	datasets, err := r.lister.ListDatasets(ctx, station, product)
	if err != nil {
		return nil, false, fmt.Errorf("catalog: listing datasets for %s %v: %v", station, product, err)
	}
	r.mu.Lock()
	r.cache.Add(key, &listing{datasets: datasets, fetched: r.now()})
	r.mu.Unlock()
	return datasets, false, nil
}

// selectDatasets picks the handles overlapping tr and computes the
// uncovered gaps.
func (r *Resolver) selectDatasets(datasets []Dataset, tr units.TimeRange) *Resolution {
	var sel []Dataset
	var covered []units.TimeRange
	for _, d := range datasets {
		if d.Coverage.Overlaps(tr) {
			sel = append(sel, d)
			covered = append(covered, d.Coverage)
		}
	}
	sort.Slice(sel, func(i, j int) bool {
		if !sel[i].Coverage.Start.Equal(sel[j].Coverage.Start) {
			return sel[i].Coverage.Start.Before(sel[j].Coverage.Start)
		}
		return Better(sel[i], sel[j], r.prefer)
	})
	return &Resolution{
		Datasets: sel,
		Gaps:     units.Gaps(tr, covered),
	}
}

// Invalidate drops the cached listing for one station and product.
func (r *Resolver) Invalidate(station StationID, product schema.Product) {
	r.mu.Lock()
	r.cache.Remove(listKey(station.Normalize(), product))
	r.mu.Unlock()
}

// Policy returns the resolver's overlap tie-break policy.
func (r *Resolver) Policy() QualityPolicy { return r.prefer }
