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

// Package metrics collects counters for the data-access layer. A
// Collector is constructed explicitly and handed to the components that
// report through it; no global registry state is assumed beyond what the
// prometheus client keeps.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the cache and transfer metrics.
type Collector struct {
	FetchesTotal      prometheus.Counter
	CacheHitsTotal    prometheus.Counter
	CacheMissesTotal  prometheus.Counter
	NetworkReadsTotal prometheus.Counter
	RetriesTotal      prometheus.Counter
	CorruptionsTotal  prometheus.Counter
}

// NewCollector creates a collector registered with reg. A nil reg leaves
// the metrics unregistered, which is what tests want.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	c := &Collector{
		FetchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Variable range fetches requested from the cache manager.",
		}),
		CacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Fetches served entirely from committed cache spans.",
		}),
		CacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Fetches that required at least one network read.",
		}),
		NetworkReadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "network_reads_total",
			Help:      "Range reads issued to the remote archive.",
		}),
		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Transient network failures retried with backoff.",
		}),
		CorruptionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_corruptions_total",
			Help:      "Cached blobs dropped after failing their integrity check.",
		}),
	}
	if reg != nil {
		reg.MustRegister(c.FetchesTotal, c.CacheHitsTotal, c.CacheMissesTotal,
			c.NetworkReadsTotal, c.RetriesTotal, c.CorruptionsTotal)
	}
	return c
}
