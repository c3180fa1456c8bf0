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

// Package catalog resolves (station, product, time range) queries to the
// remote archive datasets covering them.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"time"

	"github.com/UCSD-SIO-CDIP/cdipgo/schema"
	"github.com/UCSD-SIO-CDIP/cdipgo/units"
)

// StationID identifies a monitoring platform. Stations may be given in
// short form ("28", "028") or full site-label form ("028p2").
type StationID string

// Normalize expands a short station id to the full five-character site
// label, defaulting to the p1 (moored) position.
func (s StationID) Normalize() StationID {
	id := strings.TrimSpace(string(s))
	if len(id) >= 5 && id[3] == 'p' {
		return StationID(id[:5])
	}
	for len(id) < 3 {
		id = "0" + id
	}
	return StationID(id[:3] + "p1")
}

// Quality is a dataset's processing tier.
type Quality int

const (
	QualityUnknown Quality = iota
	// QualityProvisional marks realtime data that has not been through
	// final quality control.
	QualityProvisional
	// QualityReprocessed marks archived, quality-controlled data.
	QualityReprocessed
)

func (q Quality) String() string {
	switch q {
	case QualityProvisional:
		return "provisional"
	case QualityReprocessed:
		return "reprocessed"
	}
	return "unknown"
}

// QualityPolicy is the tie-break order between provisional and
// reprocessed datasets covering the same instant. The archive does not
// pin this down for partially overlapping deployments, so it is a
// configuration choice rather than hard-coded behavior.
type QualityPolicy int

const (
	// PreferReprocessed resolves overlaps in favor of quality-controlled
	// data. This is the default.
	PreferReprocessed QualityPolicy = iota
	// PreferProvisional resolves overlaps in favor of the realtime feed,
	// for callers that want the freshest records even when a reprocessed
	// deployment overlaps them.
	PreferProvisional
)

// A Dataset identifies one remote archive file covering a station,
// product, and deployment window. Handles are immutable once resolved;
// a changed remote catalog produces new handles on re-resolution.
type Dataset struct {
	// Key uniquely names the dataset within the archive, e.g.
	// "100p1_d05" or "100p1_rt".
	Key string
	// URL locates the dataset on the archive server (or local mirror).
	URL string

	Station    StationID
	Product    schema.Product
	Deployment string

	// Coverage is the dataset's declared time coverage. Realtime
	// datasets are open-ended.
	Coverage units.TimeRange

	// Fingerprint identifies the dataset's content version. A changed
	// fingerprint means the file was reprocessed and any cached spans
	// from it are stale.
	Fingerprint string

	Quality   Quality
	Published time.Time
}

// Better reports whether a should win over b when both cover the same
// instant: higher quality under the policy first, then the more recently
// published dataset.
func Better(a, b Dataset, policy QualityPolicy) bool {
	qa, qb := a.Quality, b.Quality
	if policy == PreferProvisional {
		// Invert the tier order so provisional outranks reprocessed.
		if qa == QualityProvisional {
			qa = QualityReprocessed
		} else if qa == QualityReprocessed {
			qa = QualityProvisional
		}
		if qb == QualityProvisional {
			qb = QualityReprocessed
		} else if qb == QualityReprocessed {
			qb = QualityProvisional
		}
	}
	if qa != qb {
		return qa > qb
	}
	return a.Published.After(b.Published)
}

// A Lister enumerates the archive's datasets for one station and
// product. It is the listing half of the remote archive capability; the
// reading half lives in package fetch.
type Lister interface {
	ListDatasets(ctx context.Context, station StationID, product schema.Product) ([]Dataset, error)
}

// NotFoundError reports that no dataset covers any part of the requested
// range. The station/product combination may simply not exist.
type NotFoundError struct {
	Station StationID
	Product schema.Product
	Range   units.TimeRange
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("catalog: no %v dataset for station %s covers %v", e.Product, e.Station, e.Range)
}
