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

// Package cdip is a client for the Coastal Data Information Program's
// distributed archive of buoy measurements. A Client resolves a
// station, product, and time range to the archive datasets covering
// it, fetches the raw variable blocks through a block-level cache, and
// assembles them into one time-ordered series with canonical units and
// quality screening applied.
//
// The subpackages can be used on their own: catalog resolves datasets,
// fetch caches raw blocks, decode assembles series, thredds talks to
// the archive server, and schema and units describe the products and
// their unit conventions.
package cdip
