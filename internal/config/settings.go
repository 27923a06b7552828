// Package config loads the optional per-user settings file. Settings cover
// ambient concerns only (cache location, logging defaults); the manifest
// that drives mirroring is parsed by internal/manifest.
package config

import (
	"os"
	"path/filepath"

	"github.com/alecthomas/errors"
	"github.com/alecthomas/hcl/v2"

	"github.com/George-Ogden/mirror-rorrim/internal/logging"
)

const settingsName = "mirror/settings.hcl"

type Settings struct {
	CacheRoot string         `hcl:"cache-root,optional" help:"Directory to store upstream clones (defaults to the user cache)."`
	Log       logging.Config `hcl:"log,block,optional"`
}

// DefaultPath returns the platform's settings file location.
func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "locate user config directory")
	}
	return filepath.Join(base, settingsName), nil
}

// Load reads the settings file at path, or the default location when path
// is empty. A missing file yields zero settings.
func Load(path string) (Settings, error) {
	var settings Settings
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return settings, err
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return settings, errors.Wrapf(err, "read settings %s", path)
	}
	if err := hcl.Unmarshal(data, &settings); err != nil {
		return settings, errors.Wrapf(err, "parse settings %s", path)
	}
	return settings, nil
}
