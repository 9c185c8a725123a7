// Package config loads a cluster member's tuning parameters from a TOML
// file, the ambient configuration format BurntSushi/toml handles for the
// rest of this corpus's server daemons. Size-ish settings are accepted
// as human-readable strings ("100MB") and parsed with docker/go-units,
// rather than forcing every operator to do byte arithmetic by hand.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
	units "github.com/docker/go-units"
)

// Peer is one other member of the starting configuration.
type Peer struct {
	ID      uint64 `toml:"id"`
	Address string `toml:"address"`
}

// Config is the full set of tuning knobs a raftd process is started
// with.
type Config struct {
	ID         uint64 `toml:"id"`
	ListenAddr string `toml:"listen-addr"`
	DataDir    string `toml:"data-dir"`
	Peers      []Peer `toml:"peers"`

	ElectionTick     int `toml:"election-tick"`
	HeartbeatTick    int `toml:"heartbeat-tick"`
	CatchUpMaxRounds int `toml:"catch-up-max-rounds"`

	// SnapshotChunkSize is a size string such as "4MB", parsed and
	// validated by Load. Nothing else reads it: the core sends a snapshot
	// whole, in a single MsgInstallSnapshot.
	SnapshotChunkSize string `toml:"snapshot-chunk-size"`

	LogFile    string `toml:"log-file"`
	LogMaxSize string `toml:"log-max-size"`
}

// Default returns a Config with every field set to a workable default
// except ID, ListenAddr and DataDir, which the operator must supply.
func Default() *Config {
	return &Config{
		ElectionTick:      10,
		HeartbeatTick:     1,
		CatchUpMaxRounds:  10,
		SnapshotChunkSize: "4MB",
		LogMaxSize:        "100MB",
	}
}

// Load reads and validates a Config from a TOML file at path, starting
// from Default() so an operator only needs to override what they care
// about.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field invariants and that every size string parses.
func (c *Config) Validate() error {
	if c.ID == 0 {
		return fmt.Errorf("config: id must be non-zero")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen-addr is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: data-dir is required")
	}
	if c.ElectionTick <= c.HeartbeatTick {
		return fmt.Errorf("config: election-tick (%d) must exceed heartbeat-tick (%d)", c.ElectionTick, c.HeartbeatTick)
	}
	if _, err := c.SnapshotChunkBytes(); err != nil {
		return fmt.Errorf("config: snapshot-chunk-size: %w", err)
	}
	if _, err := c.LogMaxSizeMB(); err != nil {
		return fmt.Errorf("config: log-max-size: %w", err)
	}
	return nil
}

// SnapshotChunkBytes parses SnapshotChunkSize into a byte count.
func (c *Config) SnapshotChunkBytes() (int64, error) {
	return units.RAMInBytes(c.SnapshotChunkSize)
}

// LogMaxSizeMB parses LogMaxSize into the megabyte unit lumberjack.Logger
// expects for MaxSize.
func (c *Config) LogMaxSizeMB() (int, error) {
	b, err := units.RAMInBytes(c.LogMaxSize)
	if err != nil {
		return 0, err
	}
	return int(b / units.MiB), nil
}
