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

package cdiputil

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	cdip "github.com/UCSD-SIO-CDIP/cdipgo"
	"github.com/UCSD-SIO-CDIP/cdipgo/catalog"
)

// Config holds the command-line tool's settings. Every field can be set
// in the TOML configuration file; the most common ones also have flags,
// and a set flag wins over the file.
type Config struct {
	// BaseURL is the THREDDS server to query. Empty means the public
	// CDIP archive.
	BaseURL string

	// CacheDir is the directory for the persistent block cache. Empty
	// disables persistence; blocks are then cached in memory only.
	CacheDir string

	// MemoryEntries bounds the in-memory block cache.
	MemoryEntries int

	// Workers is the number of concurrent block readers.
	Workers int

	// MaxRetries caps retries of transient network failures.
	MaxRetries uint64

	// TimeoutSeconds bounds each network read.
	TimeoutSeconds int

	// CatalogTTLMinutes is how long resolved dataset listings stay
	// fresh before the remote catalog is consulted again.
	CatalogTTLMinutes int

	// Prefer chooses between provisional and reprocessed data when both
	// cover the same instant: "reprocessed" (the default) or
	// "provisional".
	Prefer string

	// FingerprintFeed is the URL of the archive's by-modification-date
	// listing. When set, it is loaded at startup so cached blocks are
	// invalidated exactly when their source file is rewritten.
	FingerprintFeed string

	// LogLevel is the logrus level name: panic, fatal, error, warn,
	// info, debug, or trace.
	LogLevel string
}

// LoadConfig reads the TOML file at path, filling unset fields with
// defaults. An empty path returns the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		MemoryEntries:     512,
		Workers:           4,
		MaxRetries:        4,
		TimeoutSeconds:    30,
		CatalogTTLMinutes: 15,
		Prefer:            "reprocessed",
		LogLevel:          "warn",
	}
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(os.ExpandEnv(path), cfg); err != nil {
		return nil, fmt.Errorf("cdip: problem reading configuration file: %v", err)
	}
	return cfg, nil
}

func (cfg *Config) policy() (catalog.QualityPolicy, error) {
	switch cfg.Prefer {
	case "", "reprocessed":
		return catalog.PreferReprocessed, nil
	case "provisional":
		return catalog.PreferProvisional, nil
	}
	return 0, fmt.Errorf("cdip: unknown quality preference %q", cfg.Prefer)
}

// Client builds a cdip.Client from the configuration.
func (cfg *Config) Client() (*cdip.Client, error) {
	prefer, err := cfg.policy()
	if err != nil {
		return nil, err
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("cdip: %v", err)
	}
	log := logrus.New()
	log.SetLevel(level)
	return cdip.NewClient(cdip.Config{
		BaseURL:       cfg.BaseURL,
		CacheDir:      os.ExpandEnv(cfg.CacheDir),
		MemoryEntries: cfg.MemoryEntries,
		Workers:       cfg.Workers,
		MaxRetries:    cfg.MaxRetries,
		Timeout:       time.Duration(cfg.TimeoutSeconds) * time.Second,
		CatalogTTL:    time.Duration(cfg.CatalogTTLMinutes) * time.Minute,
		Prefer:        prefer,
		Log:           log,
	})
}
