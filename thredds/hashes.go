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
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
)

// A Feed maps archive file names to content fingerprints, parsed from
// the archive's by-modification-date listing. It replaces the
// modified-date fallback with a token that changes exactly when a file
// is rewritten.
type Feed map[string]string

// Lookup returns the fingerprint for an archive path, trying the full
// path first and then the bare file name.
func (f Feed) Lookup(urlPath string) (string, bool) {
	if f == nil {
		return "", false
	}
	if fp, ok := f[urlPath]; ok {
		return fp, true
	}
	fp, ok := f[path.Base(urlPath)]
	return fp, ok
}

// ParseFeed reads a by-datemod listing: one file per line, the path
// first and the rest of the line its modification stamp. Blank lines
// and #-comments are skipped.
func ParseFeed(r io.Reader) (Feed, error) {
	feed := make(Feed)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		fp := strings.Join(fields[1:], " ")
		feed[fields[0]] = fp
		// Index by bare file name too; listings and catalogs spell
		// paths differently.
		if base := path.Base(fields[0]); base != fields[0] {
			if _, ok := feed[base]; !ok {
				feed[base] = fp
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("thredds: reading fingerprint feed: %v", err)
	}
	return feed, nil
}

// LoadFingerprints fetches the by-datemod listing from url and installs
// it as the client's fingerprint source. Datasets listed afterwards
// carry these fingerprints instead of catalog modification dates.
func (c *Client) LoadFingerprints(ctx context.Context, url string) error {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req.WithContext(ctx))
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode, url)
	}
	feed, err := ParseFeed(resp.Body)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.feed = feed
	c.mu.Unlock()
	return nil
}
