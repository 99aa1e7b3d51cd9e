// Package config parses the TOML mount configuration file: the typed
// seam between the command-line driver and the fields the filesystem
// core actually consumes (backing volume, mountpoint, aspect
// selection).
package config

import (
	"github.com/BurntSushi/toml"
	"golang.org/x/xerrors"
)

// Config is the recognized shape of a mount configuration file.
type Config struct {
	Disk    string `toml:"disk"`
	Mount   string `toml:"mount"`
	Current struct {
		Aspect   uint32 `toml:"aspect"`
		Password string `toml:"password"`
	} `toml:"current"`
}

// Load parses and validates the config file at path. A missing
// required field or unparseable file is a configuration error: the
// caller should print it and exit non-zero before ever attempting to
// mount.
func Load(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, xerrors.Errorf("config: decoding %s: %w", path, err)
	}
	if cfg.Disk == "" {
		return cfg, xerrors.Errorf("config: %s: missing required field %q", path, "disk")
	}
	if cfg.Mount == "" {
		return cfg, xerrors.Errorf("config: %s: missing required field %q", path, "mount")
	}
	if cfg.Current.Password == "" {
		return cfg, xerrors.Errorf("config: %s: missing required field %q", path, "current.password")
	}
	return cfg, nil
}
