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

// Package cdiputil holds the commands of the cdip command-line tool.
package cdiputil

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	cdip "github.com/UCSD-SIO-CDIP/cdipgo"
	"github.com/UCSD-SIO-CDIP/cdipgo/catalog"
	"github.com/UCSD-SIO-CDIP/cdipgo/decode"
	"github.com/UCSD-SIO-CDIP/cdipgo/schema"
	"github.com/UCSD-SIO-CDIP/cdipgo/units"
)

// Root is the main command.
var Root = &cobra.Command{
	Use:   "cdip",
	Short: "Query the CDIP wave measurement archive.",
	Long: `cdip retrieves oceanographic buoy measurements from the Coastal Data
Information Program archive: significant wave height, peak period and
direction, wave spectra, sea surface temperature, displacement time
series, and GPS positions.

Settings can be given in a TOML configuration file (--config), as
command-line flags, or both; a set flag wins over the file. Retrieved
data blocks are cached, so repeating a query re-reads only what the
cache does not already hold.`,
	SilenceUsage:      true,
	DisableAutoGenTag: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of cdip.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("cdip v%s\n", cdip.Version)
	},
	DisableAutoGenTag: true,
}

var queryCmd = &cobra.Command{
	Use:   "query [station]",
	Short: "Retrieve measurements for a station",
	Long: `query retrieves one product of one station over a time range and
writes the assembled records to standard output or --output.

The station may be given in short form ("28") or full site-label form
("028p2"). Times accept RFC 3339 ("2023-02-01T06:00:00Z"), a bare date
("2023-02-01"), or "now"; --end defaults to now and --start to one day
before the end. Sub-ranges no dataset covers are reported on standard
error, not treated as failures.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configFlag)
		if err != nil {
			return err
		}
		applyFlags(cmd, cfg)
		client, err := cfg.Client()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if cfg.FingerprintFeed != "" {
			if err := client.LoadFingerprints(ctx, cfg.FingerprintFeed); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "cdip: fingerprint feed unavailable: %v\n", err)
			}
		}

		product, err := schema.ParseProduct(productFlag)
		if err != nil {
			return err
		}
		pubset, err := schema.ParsePubSet(pubsetFlag)
		if err != nil {
			return err
		}
		tr, err := parseRange(startFlag, endFlag)
		if err != nil {
			return err
		}
		opts := cdip.Options{
			PubSet:        pubset,
			Force64Band:   force64Flag,
			BypassCache:   bypassFlag,
			TargetRecords: recordsFlag,
		}
		if fillFlag {
			opts.Fill = decode.FillForward
		}

		res, err := client.Query(ctx, catalog.StationID(args[0]), product, tr, opts)
		if err != nil {
			return err
		}
		for _, gap := range res.Provenance.Gaps {
			fmt.Fprintf(cmd.ErrOrStderr(), "cdip: no data for %v to %v\n", gap.Start, gap.End)
		}

		w := cmd.OutOrStdout()
		if outputFlag != "" {
			f, err := os.Create(outputFlag)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		switch formatFlag {
		case "csv":
			return writeCSV(w, res.Series)
		case "json":
			return writeJSON(w, res)
		}
		return fmt.Errorf("cdip: unknown output format %q", formatFlag)
	},
	DisableAutoGenTag: true,
}

var metaCmd = &cobra.Command{
	Use:   "meta [station]",
	Short: "Print station deployment metadata",
	Long: `meta prints a station's name, position, and water depth, read from
its most recently archived dataset.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configFlag)
		if err != nil {
			return err
		}
		applyFlags(cmd, cfg)
		client, err := cfg.Client()
		if err != nil {
			return err
		}
		meta, err := client.StationMeta(cmd.Context(), catalog.StationID(args[0]))
		if err != nil {
			return err
		}
		cmd.Printf("station:   %s\n", meta.Station)
		cmd.Printf("name:      %s\n", meta.Name)
		cmd.Printf("latitude:  %.5f\n", meta.Latitude)
		cmd.Printf("longitude: %.5f\n", meta.Longitude)
		cmd.Printf("depth:     %.1f m\n", meta.Depth)
		if meta.Declination != 0 {
			cmd.Printf("declination: %.1f deg\n", meta.Declination)
		}
		return nil
	},
	DisableAutoGenTag: true,
}

var productsCmd = &cobra.Command{
	Use:   "products",
	Short: "List the available products",
	Long: `products lists the product names accepted by the --product flag and
the variables each one carries.`,
	Run: func(cmd *cobra.Command, args []string) {
		for _, p := range schema.Products() {
			sch, err := schema.For(p)
			if err != nil {
				continue
			}
			cmd.Printf("%-16s", p.String())
			for i, name := range sch.VariableNames() {
				if i > 0 {
					cmd.Printf(",")
				}
				cmd.Printf(" %s", name)
			}
			cmd.Printf("\n")
		}
	},
	DisableAutoGenTag: true,
}

var (
	configFlag  string
	baseURLFlag string
	cacheFlag   string
	logFlag     string

	productFlag string
	startFlag   string
	endFlag     string
	pubsetFlag  string
	formatFlag  string
	outputFlag  string
	recordsFlag int
	force64Flag bool
	bypassFlag  bool
	fillFlag    bool
)

func init() {
	pf := Root.PersistentFlags()
	pf.StringVar(&configFlag, "config", "", "configuration file location")
	pf.StringVar(&baseURLFlag, "base-url", "", "THREDDS server to query; empty means the public archive")
	pf.StringVar(&cacheFlag, "cache-dir", "", "directory for the persistent block cache")
	pf.StringVar(&logFlag, "log-level", "", "log level: error, warn, info, or debug")

	qf := queryCmd.Flags()
	qf.StringVarP(&productFlag, "product", "p", "compendium", "product to retrieve")
	qf.StringVar(&startFlag, "start", "", "start of the time range (inclusive)")
	qf.StringVar(&endFlag, "end", "", "end of the time range (exclusive)")
	qf.StringVar(&pubsetFlag, "pubset", "public", "quality set: public, nonpub, or all")
	qf.StringVarP(&formatFlag, "format", "f", "csv", "output format: csv or json")
	qf.StringVarP(&outputFlag, "output", "o", "", "write to this file instead of standard output")
	qf.IntVarP(&recordsFlag, "records", "n", 0, "keep only the most recent n records")
	qf.BoolVar(&force64Flag, "force-64-band", false, "rebin 100-band spectra onto the 64-band layout")
	qf.BoolVar(&bypassFlag, "no-cache", false, "read straight from the network, skipping the cache")
	qf.BoolVar(&fillFlag, "fill", false, "fill missing values forward from the previous record")

	Root.AddCommand(versionCmd)
	Root.AddCommand(queryCmd)
	Root.AddCommand(metaCmd)
	Root.AddCommand(productsCmd)
}

// applyFlags copies set persistent flags over the file configuration.
func applyFlags(cmd *cobra.Command, cfg *Config) {
	if cmd.Flags().Changed("base-url") {
		cfg.BaseURL = baseURLFlag
	}
	if cmd.Flags().Changed("cache-dir") {
		cfg.CacheDir = cacheFlag
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logFlag
	}
}

// parseRange converts the --start and --end strings to a half-open time
// range. The end defaults to now and the start to one day before the
// end.
func parseRange(start, end string) (tr units.TimeRange, err error) {
	e := time.Now().UTC()
	if end != "" {
		e, err = parseTime(end)
		if err != nil {
			return tr, err
		}
	}
	s := e.Add(-24 * time.Hour)
	if start != "" {
		s, err = parseTime(start)
		if err != nil {
			return tr, err
		}
	}
	return units.NewTimeRange(s, e)
}

func parseTime(s string) (time.Time, error) {
	if s == "now" {
		return time.Now().UTC(), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cdip: cannot parse time %q", s)
}
