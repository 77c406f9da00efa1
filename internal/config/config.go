// Package config is the module's minimal typed configuration surface: a
// plain Go struct with sane defaults, translated into each component's own
// Config type. Parsing an on-disk TOML/YAML file into this struct is out
// of scope (config-file parsing is explicitly a non-goal); this package
// only owns the in-memory shape and the defaulting every component needs
// to be constructed at all.
package config

import (
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/mimblenode/node/internal/logging"
	"github.com/mimblenode/node/pkg/chain"
	"github.com/mimblenode/node/pkg/pibd"
	"github.com/mimblenode/node/pkg/txpool"
)

// ForkStep names the header version required from a given height onward;
// Config.ForkSchedule is a small ascending list of these rather than a
// function, so it can be constructed from parsed/serialized data.
type ForkStep struct {
	Height  uint64
	Version uint16
}

// Config is the top-level configuration for a mimblenode storage/consensus
// engine instance.
type Config struct {
	// DataDir holds every on-disk component's files, one subdirectory per
	// component (output/rangeproof/kernel MMRs, NRD index, chain header
	// store).
	DataDir string

	// LogLevel is parsed by internal/logging.New; "info" if empty.
	LogLevel string

	// NRDEnabled toggles the no-recent-duplicate kernel rule.
	NRDEnabled bool
	// CoinbaseMaturity is the number of blocks a coinbase output must age
	// before it can be spent.
	CoinbaseMaturity uint64
	// MaxFutureDrift bounds how far a header's timestamp may sit ahead of
	// the local clock before AcceptHeader rejects it.
	MaxFutureDrift time.Duration
	// HeaderCacheSize is the capacity of the chain's header-by-hash LRU.
	HeaderCacheSize int
	// ForkSchedule is consulted in ascending height order; the version of
	// the last entry with Height <= the queried height applies. An empty
	// schedule means every height requires Version 4 (pre-HF4 forks are
	// out of this module's scope).
	ForkSchedule []ForkStep

	// MaxPoolSize, MaxStempoolSize, MineableMaxWeight, BaseFee and
	// ReorgCacheLifetime configure the main and stem transaction pools.
	MaxPoolSize        int
	MaxStempoolSize    int
	MineableMaxWeight  uint64
	BaseFee            uint64
	ReorgCacheLifetime time.Duration

	// PIBDSegmentHeight, PIBDSegmentTimeout and PIBDFallbackWindow
	// configure a Desegmenter driving parallel initial block download.
	PIBDSegmentHeight  uint8
	PIBDSegmentTimeout time.Duration
	PIBDFallbackWindow time.Duration
}

// Default returns a Config with the node's standard settings, rooted at
// dataDir. The PIBD fields match pkg/pibd's own defaults; HeaderCacheSize
// (1024) is larger than the 256 pkg/chain falls back to when given none.
func Default(dataDir string) Config {
	return Config{
		DataDir:            dataDir,
		LogLevel:           "info",
		NRDEnabled:         true,
		CoinbaseMaturity:   1440,
		MaxFutureDrift:     12 * time.Minute,
		HeaderCacheSize:    1024,
		MaxPoolSize:        50_000,
		MaxStempoolSize:    50,
		MineableMaxWeight:  40_000,
		BaseFee:            1_000_000,
		ReorgCacheLifetime: 30 * time.Minute,
		PIBDSegmentHeight:  pibd.DefaultSegmentHeight,
		PIBDSegmentTimeout: 60 * time.Second,
		PIBDFallbackWindow: 10 * time.Minute,
	}
}

// versionSchedule turns the ascending ForkSchedule list into the
// chain.VersionSchedule function pkg/chain's pipeline consults.
func (c Config) versionSchedule() chain.VersionSchedule {
	schedule := append([]ForkStep(nil), c.ForkSchedule...)
	return func(height uint64) uint16 {
		version := uint16(4)
		for _, step := range schedule {
			if step.Height > height {
				break
			}
			version = step.Version
		}
		return version
	}
}

// Logger builds the shared logger every component below is constructed
// with, tagged per component via internal/logging.WithService.
func (c Config) Logger() (*zap.SugaredLogger, error) {
	level := c.LogLevel
	if level == "" {
		level = "info"
	}
	return logging.New(level)
}

// ChainConfig translates c into the pkg/chain Config, logging under the
// "chain" service name.
func (c Config) ChainConfig(log *zap.SugaredLogger) chain.Config {
	return chain.Config{
		Dir:              filepath.Join(c.DataDir, "chain"),
		VersionAt:        c.versionSchedule(),
		MaxFutureDrift:   c.MaxFutureDrift,
		CoinbaseMaturity: c.CoinbaseMaturity,
		NRDEnabled:       c.NRDEnabled,
		HeaderCacheSize:  c.HeaderCacheSize,
		Log:              logging.WithService(log, "chain"),
	}
}

// PoolConfig translates c into the pkg/txpool Config.
func (c Config) PoolConfig() txpool.Config {
	return txpool.Config{
		MaxPoolSize:        c.MaxPoolSize,
		MaxStempoolSize:    c.MaxStempoolSize,
		MineableMaxWeight:  c.MineableMaxWeight,
		BaseFee:            c.BaseFee,
		ReorgCacheLifetime: c.ReorgCacheLifetime,
	}
}

// PIBDConfig translates c into a pkg/pibd Config over target, logging
// under the "pibd" service name.
func (c Config) PIBDConfig(target pibd.Target, log *zap.SugaredLogger) pibd.Config {
	return pibd.Config{
		Dir:            filepath.Join(c.DataDir, "pibd"),
		Target:         target,
		SegmentHeight:  c.PIBDSegmentHeight,
		SegmentTimeout: c.PIBDSegmentTimeout,
		FallbackWindow: c.PIBDFallbackWindow,
		Log:            logging.WithService(log, "pibd"),
	}
}
