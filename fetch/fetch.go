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

// Package fetch retrieves raw variable blocks from archive datasets and
// caches them at the block level, so that repeated and overlapping
// queries only read the uncovered remainder from the network.
package fetch

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/ctessum/requestcache"

	"github.com/UCSD-SIO-CDIP/cdipgo/catalog"
	"github.com/UCSD-SIO-CDIP/cdipgo/metrics"
	"github.com/UCSD-SIO-CDIP/cdipgo/units"
)

// A RangeReader reads one variable of one dataset over a time range
// from the remote archive.
type RangeReader interface {
	ReadRange(ctx context.Context, ds catalog.Dataset, variable string, tr units.TimeRange) (*Block, error)
}

// TransientError marks a failure as retryable, such as a timeout or a
// 5xx response from the archive. Errors not wrapped in TransientError
// stop the retry loop immediately.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// A FailedError reports that a block could not be retrieved after
// retries were exhausted.
type FailedError struct {
	Dataset  string
	Variable string
	Range    units.TimeRange
	Err      error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("fetch: %s %s %v: %v", e.Dataset, e.Variable, e.Range, e.Err)
}
func (e *FailedError) Unwrap() error { return e.Err }

var errCorrupt = errors.New("fetch: cached block failed checksum")

// Config holds Manager settings. The zero value is usable: an
// in-memory cache with default sizing and no disk layer.
type Config struct {
	// CacheDir enables the persistent disk layer when non-empty.
	CacheDir string
	// MemoryEntries bounds the in-memory block cache. Default 512.
	MemoryEntries int
	// MaxRetries caps retry attempts after the first try. Default 4.
	MaxRetries uint64
	// Timeout bounds each individual network read. Default 30s.
	Timeout time.Duration
	// Workers is the number of concurrent block readers. Default
	// GOMAXPROCS.
	Workers int
	// Metrics receives fetch and cache counters. When nil an
	// unregistered collector is used.
	Metrics *metrics.Collector
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MemoryEntries <= 0 {
		out.MemoryEntries = 512
	}
	if out.MaxRetries == 0 {
		out.MaxRetries = 4
	}
	if out.Timeout <= 0 {
		out.Timeout = 30 * time.Second
	}
	if out.Workers <= 0 {
		out.Workers = runtime.GOMAXPROCS(0)
	}
	if out.Metrics == nil {
		out.Metrics = metrics.NewCollector("cdip", nil)
	}
	return out
}

// A Manager caches fetched blocks and tracks which time spans of each
// dataset variable it already holds, so a query is only sent to the
// network for the gaps. Identical in-flight requests are collapsed to a
// single read. All methods are safe for concurrent use.
type Manager struct {
	reader RangeReader
	cfg    Config
	cache  *requestcache.Cache

	mu    sync.Mutex
	spans map[string]*spanSet

	networkReads int64
}

// spanSet records the time spans of one dataset variable that have
// been committed to the cache, tagged with the fingerprint they were
// fetched under.
type spanSet struct {
	fingerprint string
	segs        []segment
}

type segment struct {
	tr  units.TimeRange
	key string
}

type blockRequest struct {
	ds       catalog.Dataset
	variable string
	tr       units.TimeRange
}

// NewManager creates a Manager reading through r.
func NewManager(r RangeReader, cfg Config) (*Manager, error) {
	m := &Manager{
		reader: r,
		cfg:    cfg.withDefaults(),
		spans:  make(map[string]*spanSet),
	}
	cacheFuncs := []requestcache.CacheFunc{
		requestcache.Deduplicate(),
		requestcache.Memory(m.cfg.MemoryEntries),
	}
	if m.cfg.CacheDir != "" {
		if err := os.MkdirAll(m.cfg.CacheDir, 0o755); err != nil {
			return nil, fmt.Errorf("fetch: creating cache dir: %v", err)
		}
		cacheFuncs = append(cacheFuncs,
			requestcache.Disk(m.cfg.CacheDir, marshalBlock, m.unmarshalBlock))
	}
	m.cache = requestcache.NewCache(m.process, m.cfg.Workers, cacheFuncs...)
	return m, nil
}

// Fetch returns the requested span of one dataset variable, reading
// only uncached gaps from the network. The result is trimmed to tr.
func (m *Manager) Fetch(ctx context.Context, ds catalog.Dataset, variable string, tr units.TimeRange) (*Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.cfg.Metrics.FetchesTotal.Inc()

	sk := spanKey(ds, variable)
	m.mu.Lock()
	ss := m.spans[sk]
	if ss != nil && ss.fingerprint != ds.Fingerprint {
		// The dataset was reprocessed under us; everything cached for
		// it is stale.
		m.invalidateLocked(sk, ss)
		ss = nil
	}
	if ss == nil {
		ss = &spanSet{fingerprint: ds.Fingerprint}
		m.spans[sk] = ss
	}
	var held []segment
	var covered []units.TimeRange
	for _, seg := range ss.segs {
		if seg.tr.Overlaps(tr) {
			held = append(held, seg)
			covered = append(covered, seg.tr)
		}
	}
	gaps := units.Gaps(tr, covered)
	m.mu.Unlock()

	if len(gaps) == 0 {
		m.cfg.Metrics.CacheHitsTotal.Inc()
	} else {
		m.cfg.Metrics.CacheMissesTotal.Inc()
	}

	parts := make([]*Block, 0, len(held)+len(gaps))
	for _, seg := range held {
		blk, err := m.fetchBlock(ctx, sk, blockRequest{ds: ds, variable: variable, tr: seg.tr}, seg.key)
		if err != nil {
			return nil, err
		}
		parts = append(parts, blk)
		m.commit(sk, ds.Fingerprint, seg)
	}
	for _, gap := range gaps {
		req := blockRequest{ds: ds, variable: variable, tr: gap}
		key := blockKey(req)
		blk, err := m.fetchBlock(ctx, sk, req, key)
		if err != nil {
			return nil, err
		}
		parts = append(parts, blk)
		m.commit(sk, ds.Fingerprint, segment{tr: gap, key: key})
	}

	merged, err := Merge(parts)
	if err != nil {
		return nil, err
	}
	if merged.Dataset.Key == "" {
		merged.Dataset, merged.Variable = ds, variable
	}
	return merged.Slice(tr), nil
}

// FetchDirect reads from the network with retries but without touching
// the cache in either direction.
func (m *Manager) FetchDirect(ctx context.Context, ds catalog.Dataset, variable string, tr units.TimeRange) (*Block, error) {
	m.cfg.Metrics.FetchesTotal.Inc()
	v, err := m.process(ctx, blockRequest{ds: ds, variable: variable, tr: tr})
	if err != nil {
		return nil, err
	}
	return v.(*Block), nil
}

// Invalidate drops all cached spans for a dataset, forcing the next
// fetch back to the network. Disk blobs written under the old
// fingerprint are removed.
func (m *Manager) Invalidate(ds catalog.Dataset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sk, ss := range m.spans {
		if ss != nil && len(sk) > len(ds.Key) && sk[:len(ds.Key)] == ds.Key {
			m.invalidateLocked(sk, ss)
		}
	}
}

// NetworkReads reports how many block reads have gone to the network
// over the Manager's lifetime.
func (m *Manager) NetworkReads() int64 { return atomic.LoadInt64(&m.networkReads) }

func (m *Manager) request(ctx context.Context, req blockRequest, key string) (*Block, error) {
	r := m.cache.NewRequest(ctx, req, key)
	v, err := r.Result()
	if err != nil {
		return nil, err
	}
	return v.(*Block), nil
}

// fetchBlock reads one block through the cache. A blob that fails its
// checksum is evicted and the read retried once, going back to the
// network; a second failure is returned to the caller.
func (m *Manager) fetchBlock(ctx context.Context, sk string, req blockRequest, key string) (*Block, error) {
	blk, err := m.request(ctx, req, key)
	if err == nil || !errors.Is(err, errCorrupt) {
		return blk, err
	}
	m.evict(sk, key)
	return m.request(ctx, req, key)
}

// evict removes one cached blob and forgets the span it covered.
func (m *Manager) evict(sk, key string) {
	if m.cfg.CacheDir != "" {
		os.Remove(m.cfg.CacheDir + "/" + key + ".dat")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ss := m.spans[sk]
	if ss == nil {
		return
	}
	for i, seg := range ss.segs {
		if seg.key == key {
			ss.segs = append(ss.segs[:i], ss.segs[i+1:]...)
			break
		}
	}
}

// invalidateLocked must be called with m.mu held.
func (m *Manager) invalidateLocked(sk string, ss *spanSet) {
	if m.cfg.CacheDir != "" {
		for _, seg := range ss.segs {
			os.Remove(m.cfg.CacheDir + "/" + seg.key + ".dat")
		}
	}
	delete(m.spans, sk)
}

func (m *Manager) commit(sk, fingerprint string, seg segment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ss := m.spans[sk]
	if ss == nil || ss.fingerprint != fingerprint {
		return // superseded while we were fetching
	}
	for _, have := range ss.segs {
		if have.key == seg.key {
			return
		}
	}
	ss.segs = append(ss.segs, seg)
}

// process is the cache miss handler: it reads one block from the
// network, retrying transient failures with exponential backoff.
func (m *Manager) process(ctx context.Context, payload interface{}) (interface{}, error) {
	req := payload.(blockRequest)
	var blk *Block
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		opCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
		atomic.AddInt64(&m.networkReads, 1)
		m.cfg.Metrics.NetworkReadsTotal.Inc()
		b, err := m.reader.ReadRange(opCtx, req.ds, req.variable, req.tr)
		if err == nil {
			blk = b
			return nil
		}
		var te *TransientError
		if errors.As(err, &te) {
			return err
		}
		if opCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return &TransientError{Err: err}
		}
		return backoff.Permanent(err)
	}
	err := backoff.RetryNotify(op,
		backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), m.cfg.MaxRetries), ctx),
		func(err error, d time.Duration) {
			m.cfg.Metrics.RetriesTotal.Inc()
			log.Printf("fetch: %s %s: %v: retrying in %v", req.ds.Key, req.variable, err, d)
		})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &FailedError{Dataset: req.ds.Key, Variable: req.variable, Range: req.tr, Err: err}
	}
	return blk, nil
}

func spanKey(ds catalog.Dataset, variable string) string {
	return ds.Key + "\x00" + variable
}

// blockKey names a cached block. The dataset fingerprint is part of
// the name, so blobs from a superseded dataset version can never be
// read back as current.
func blockKey(req blockRequest) string {
	start := req.tr.Start.UTC().UnixNano()
	var end int64
	if !req.tr.OpenEnded() {
		end = req.tr.End.UTC().UnixNano()
	}
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d|%d",
		req.ds.Key, req.ds.Fingerprint, req.variable, start, end)))
	return fmt.Sprintf("%s_%s_%x", sanitize(req.ds.Key), sanitize(req.variable), h[:8])
}

func sanitize(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
			out[i] = c
		default:
			out[i] = '-'
		}
	}
	return string(out)
}

// marshalBlock prefixes the gob encoding with a SHA-256 checksum so a
// torn or tampered blob is detected on read.
func marshalBlock(v interface{}) ([]byte, error) {
	b, err := requestcache.MarshalGob(v)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(b)
	return append(sum[:], b...), nil
}

// unmarshalBlock verifies the checksum; a mismatch is counted and
// reported as errCorrupt, which fetchBlock answers by evicting the
// blob and refetching from the network.
func (m *Manager) unmarshalBlock(b []byte) (interface{}, error) {
	if len(b) < sha256.Size {
		m.cfg.Metrics.CorruptionsTotal.Inc()
		return nil, errCorrupt
	}
	sum := sha256.Sum256(b[sha256.Size:])
	for i := range sum {
		if sum[i] != b[i] {
			m.cfg.Metrics.CorruptionsTotal.Inc()
			return nil, errCorrupt
		}
	}
	return requestcache.UnmarshalGob(b[sha256.Size:])
}
