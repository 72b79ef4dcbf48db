// Package rsyncdconfig loads the TOML configuration file for the
// daemon calling convention (rsyncd --daemon): the TCP listen address
// and the rsync modules it exposes.
package rsyncdconfig

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/deltasync/rsync/rsyncd"
)

// Listener configures the TCP address the daemon accepts rsync://
// connections on.
type Listener struct {
	Rsyncd string `toml:"rsyncd"`
}

// Config is the top-level shape of the daemon's TOML configuration
// file.
type Config struct {
	DontNamespace bool             `toml:"dont_namespace"`
	Listeners     []Listener       `toml:"listener"`
	Modules       []rsyncd.Module  `toml:"module"`
}

// FromFile parses the TOML configuration file at path.
func FromFile(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// defaultFileNames returns the configuration file candidates checked
// in order by FromDefaultFiles: the current directory first, then the
// user's config directory.
func defaultFileNames() []string {
	names := []string{"deltasync-rsyncd.toml"}
	if dir, err := os.UserConfigDir(); err == nil {
		names = append(names, filepath.Join(dir, "deltasync-rsyncd.toml"))
	}
	return names
}

// FromDefaultFiles tries each of defaultFileNames() in turn, returning
// the first one that exists. If none exist, it returns the error from
// stat'ing the last candidate (satisfying os.IsNotExist for callers
// that treat a missing config file as "fall back to flags").
func FromDefaultFiles() (*Config, string, error) {
	var lastErr error
	for _, name := range defaultFileNames() {
		if _, err := os.Stat(name); err != nil {
			lastErr = err
			continue
		}
		cfg, err := FromFile(name)
		if err != nil {
			return nil, name, err
		}
		return cfg, name, nil
	}
	return nil, "", lastErr
}
