package main

import (
	"time"

	"github.com/BurntSushi/toml"

	"github.com/influxdata/bfqd/internal/bfq"
)

// Config is the on-disk shape of bfqd.toml: tunables authored in
// milliseconds and converted once at load time, plus the daemon's own
// bind address and log level.
type Config struct {
	HTTPBindAddress string `toml:"http_bind_address"`
	LogLevel        string `toml:"log_level"`

	Quantum             int    `toml:"quantum"`
	FifoExpireSyncMS    int    `toml:"fifo_expire_sync_ms"`
	FifoExpireAsyncMS   int    `toml:"fifo_expire_async_ms"`
	BackSeekMaxSectors  uint64 `toml:"back_seek_max_sectors"`
	BackSeekPenalty     uint32 `toml:"back_seek_penalty"`
	SliceIdleMS         int    `toml:"slice_idle_ms"`
	MaxBudgetSectors     uint64 `toml:"max_budget_sectors"`
	MaxBudgetAsyncRQ     uint64 `toml:"max_budget_async_rq"`
	TimeoutSyncMS        int    `toml:"timeout_sync_ms"`
	TimeoutAsyncMS       int    `toml:"timeout_async_ms"`
	Desktop              bool   `toml:"desktop"`
	StrictGuarantees     bool   `toml:"strict_guarantees"`
}

// defaultConfig mirrors bfq.Defaults(), authored in the file's
// milliseconds convention.
func defaultConfig() Config {
	d := bfq.Defaults()
	return Config{
		HTTPBindAddress:    ":8090",
		LogLevel:           "info",
		Quantum:            d.Quantum,
		FifoExpireSyncMS:   int(d.FifoExpireSync / time.Millisecond),
		FifoExpireAsyncMS:  int(d.FifoExpireAsync / time.Millisecond),
		BackSeekMaxSectors: uint64(d.BackSeekMax),
		BackSeekPenalty:    d.BackSeekPenalty,
		SliceIdleMS:        int(d.SliceIdle / time.Millisecond),
		MaxBudgetSectors:   uint64(d.MaxBudget),
		MaxBudgetAsyncRQ:   uint64(d.MaxBudgetAsyncRQ),
		TimeoutSyncMS:      int(d.TimeoutSync / time.Millisecond),
		TimeoutAsyncMS:     int(d.TimeoutAsync / time.Millisecond),
		Desktop:            d.Desktop,
		StrictGuarantees:   d.StrictGuarantees,
	}
}

// loadConfigFile decodes path into a Config seeded with defaults, so a
// partial file only overrides the fields it mentions.
func loadConfigFile(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// tunables converts the file's millisecond-authored durations into the
// engine's internal Tunables, once, at load time.
func (c Config) tunables() bfq.Tunables {
	return bfq.Tunables{
		Quantum:          c.Quantum,
		FifoExpireSync:   time.Duration(c.FifoExpireSyncMS) * time.Millisecond,
		FifoExpireAsync:  time.Duration(c.FifoExpireAsyncMS) * time.Millisecond,
		BackSeekMax:      bfq.Sectors(c.BackSeekMaxSectors),
		BackSeekPenalty:  c.BackSeekPenalty,
		SliceIdle:        time.Duration(c.SliceIdleMS) * time.Millisecond,
		MaxBudget:        bfq.Sectors(c.MaxBudgetSectors),
		MaxBudgetAsyncRQ: bfq.Sectors(c.MaxBudgetAsyncRQ),
		TimeoutSync:      time.Duration(c.TimeoutSyncMS) * time.Millisecond,
		TimeoutAsync:     time.Duration(c.TimeoutAsyncMS) * time.Millisecond,
		Desktop:          c.Desktop,
		StrictGuarantees: c.StrictGuarantees,
	}
}
