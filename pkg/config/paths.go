package config

import (
	"path/filepath"

	"github.com/spf13/viper"
)

// BaseSettingsDir is the directory holding the active settings file, or the
// value of config.path when set.
func BaseSettingsDir() string {
	if configPath := viper.GetString("config.path"); configPath != "" {
		return configPath
	}

	currentConfig := viper.ConfigFileUsed()
	if currentConfig == "" {
		return "./.threadline"
	}
	return filepath.Dir(currentConfig)
}

// ResolvePath returns target unchanged when absolute, otherwise relative to
// the settings directory.
func ResolvePath(target string) string {
	if filepath.IsAbs(target) {
		return target
	}
	return filepath.Join(BaseSettingsDir(), filepath.Base(target))
}
