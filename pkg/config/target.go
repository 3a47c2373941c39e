// Package config loads TOML target/connection configuration (spec §6).
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Connection describes how to reach a remote target.
type Connection struct {
	Method          string   `toml:"method"`
	IP              string   `toml:"ip"`
	Port            int      `toml:"port"`
	Username        string   `toml:"username"`
	Password        string   `toml:"password"`
	PrivateKeyPath  string   `toml:"private_key_path"`
	PublicKeyPath   string   `toml:"public_key_path"`
	JumpHosts       []string `toml:"jump_hosts"`
}

// Boardtest describes the board-test HTTP service.
type Boardtest struct {
	Token         string `toml:"token"`
	BoardConfig   string `toml:"board_config"`
	Serial        string `toml:"serial"`
	MISDKEnabled  bool   `toml:"mi_sdk_enabled"`
	APIURL        string `toml:"api_url"`
	TimeoutSecs   int    `toml:"timeout_secs"`
}

// Target is one `*.toml` target configuration file.
type Target struct {
	Enabled         bool       `toml:"enabled"`
	TestingType     string     `toml:"testing_type"`
	StartupTemplate string     `toml:"startup_template"`
	StopTemplate    string     `toml:"stop_template"`
	Connection      Connection `toml:"connection"`
	Boardtest       Boardtest  `toml:"boardtest"`
	SkipUnits       []string   `toml:"skip_units"`

	// Path is the file this Target was loaded from; not part of the TOML.
	Path string `toml:"-"`
}

// Load parses a target configuration file and validates the fields the
// engine requires regardless of testing_type.
func Load(path string) (*Target, error) {
	var t Target
	if _, err := toml.DecodeFile(path, &t); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	t.Path = path
	if t.TestingType == "" {
		return nil, fmt.Errorf("config: %s: testing_type is required", path)
	}
	return &t, nil
}

// SkipsUnit reports whether unitName is in the target's skip_units list.
func (t *Target) SkipsUnit(unitName string) bool {
	for _, u := range t.SkipUnits {
		if u == unitName {
			return true
		}
	}
	return false
}
