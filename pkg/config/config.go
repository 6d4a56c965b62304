// Package config loads invocation defaults for safecopy. Settings are
// layered: built-in defaults, then the user's TOML config file, then
// SAFECOPY_-prefixed environment variables. CLI flags override all of
// these at the command layer.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/arthur-debert/safecopy/pkg/errors"
)

// Settings are the configurable defaults for a deploy invocation.
type Settings struct {
	BackupRoot    string `koanf:"backup_root"`
	DirectoryMode string `koanf:"directory_mode"`
	Backup        bool   `koanf:"backup"`
	Force         bool   `koanf:"force"`
	LocalFollow   bool   `koanf:"local_follow"`
	Follow        bool   `koanf:"follow"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"backup_root":    filepath.Join(xdg.DataHome, "safecopy", "backups"),
		"directory_mode": "",
		"backup":         false,
		"force":          true,
		"local_follow":   true,
		"follow":         false,
	}
}

// ConfigFilePath returns the user config file location.
func ConfigFilePath() string {
	return filepath.Join(xdg.ConfigHome, "safecopy", "safecopy.toml")
}

// Load assembles Settings from defaults, the config file and the
// environment.
func Load() (*Settings, error) {
	return load(ConfigFilePath())
}

func load(configPath string) (*Settings, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigLoad, "failed to load defaults")
	}

	if _, err := os.Stat(configPath); err == nil {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, errors.Wrapf(err, errors.ErrConfigLoad, "failed to load config from %s", configPath)
		}
	}

	if err := k.Load(env.Provider("SAFECOPY_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "SAFECOPY_"))
	}), nil); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigLoad, "failed to load environment")
	}

	var settings Settings
	if err := k.Unmarshal("", &settings); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigValid, "invalid configuration")
	}
	return &settings, nil
}
