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
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/UCSD-SIO-CDIP/cdipgo/fetch"
)

// readAhead is the minimum span pulled per range request. Header
// parsing issues many small sequential reads; without read-ahead each
// of them would be its own HTTP round trip.
const readAhead = 64 * 1024

// remoteFile reads a file on the archive server through HTTP range
// requests, so a NetCDF header or a slab of one variable can be pulled
// without downloading the whole deployment file. The most recent
// fetched span is kept so clustered small reads share one request.
type remoteFile struct {
	ctx    context.Context
	client *http.Client
	url    string

	mu     sync.Mutex
	bufOff int64
	buf    []byte
	atEOF  bool // buf ends at the end of the remote file
}

// ReadAt implements io.ReaderAt over HTTP.
func (f *remoteFile) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if off >= f.bufOff && off+int64(len(p)) <= f.bufOff+int64(len(f.buf)) {
		copy(p, f.buf[off-f.bufOff:])
		return len(p), nil
	}
	if f.atEOF && off >= f.bufOff && off < f.bufOff+int64(len(f.buf)) {
		n := copy(p, f.buf[off-f.bufOff:])
		return n, io.EOF
	}
	if f.atEOF && off >= f.bufOff+int64(len(f.buf)) {
		return 0, io.EOF
	}

	want := int64(len(p))
	if want < readAhead {
		want = readAhead
	}
	data, eof, err := f.fetch(off, want)
	if err != nil {
		return 0, err
	}
	f.bufOff, f.buf, f.atEOF = off, data, eof
	n := copy(p, data)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// fetch pulls [off, off+n) from the server, returning what it got and
// whether the remote file ended inside the span.
func (f *remoteFile) fetch(off, n int64) ([]byte, bool, error) {
	req, err := http.NewRequest("GET", f.url, nil)
	if err != nil {
		return nil, false, err
	}
	req = req.WithContext(f.ctx)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+n-1))
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, false, classify(err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusPartialContent:
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		return nil, false, io.EOF
	case resp.StatusCode == http.StatusOK:
		// The server ignored the range header; skip to the offset.
		if _, err := io.CopyN(io.Discard, resp.Body, off); err != nil {
			return nil, false, classify(err)
		}
	default:
		return nil, false, statusError(resp.StatusCode, f.url)
	}
	data := make([]byte, n)
	nr, err := io.ReadFull(resp.Body, data)
	switch err {
	case nil:
		return data, false, nil
	case io.ErrUnexpectedEOF, io.EOF:
		return data[:nr], true, nil
	default:
		return nil, false, classify(err)
	}
}

// WriteAt satisfies the interface the NetCDF layer wants; the archive
// is read-only from here.
func (f *remoteFile) WriteAt(p []byte, off int64) (int, error) {
	return 0, fmt.Errorf("thredds: %s is read-only", f.url)
}

// statusError converts an HTTP status into an error, marking server
// faults and throttling as retryable.
func statusError(code int, url string) error {
	err := fmt.Errorf("thredds: %s: unexpected status %d", url, code)
	if code >= 500 || code == http.StatusTooManyRequests {
		return &fetch.TransientError{Err: err}
	}
	return err
}

// classify marks transport-level failures as retryable. Context
// cancellation passes through untouched so callers can tell the
// difference.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	// Timeouts, connection resets, and DNS failures are all worth a
	// retry from a client's point of view.
	return &fetch.TransientError{Err: err}
}
