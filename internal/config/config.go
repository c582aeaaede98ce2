package config

import (
	"fmt"
	"path/filepath"

	units "github.com/docker/go-units"
	"github.com/spf13/viper"

	"github.com/loykin/craftd/internal/logger"
)

// FileConfig represents the top-level TOML structure of a craftd
// daemon configuration file.
type FileConfig struct {
	Listen        string        `toml:"listen" mapstructure:"listen"`
	BaseDir       string        `toml:"base_dir" mapstructure:"base_dir"`
	ArtifactDir   string        `toml:"artifact_dir" mapstructure:"artifact_dir"`
	JavaBin       string        `toml:"java_bin" mapstructure:"java_bin"`
	DefaultMemory string        `toml:"default_memory" mapstructure:"default_memory"`
	HistoryDSN    string        `toml:"history_dsn" mapstructure:"history_dsn"`
	Metrics       bool          `toml:"metrics" mapstructure:"metrics"`
	Log           logger.Config `toml:"log" mapstructure:"log"`
}

// Defaults applied when fields are absent from the file.
const (
	DefaultListen  = "127.0.0.1:8080"
	DefaultBaseDir = "servers"
	DefaultMemory  = "1G"
)

// Load parses a TOML config file and fills in defaults. ArtifactDir
// defaults to a sibling of BaseDir.
func Load(path string) (FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return FileConfig{}, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return FileConfig{}, err
	}
	applyDefaults(&fc)
	return fc, nil
}

// Default returns the built-in configuration used when no file is given.
func Default() FileConfig {
	var fc FileConfig
	applyDefaults(&fc)
	return fc
}

func applyDefaults(fc *FileConfig) {
	if fc.Listen == "" {
		fc.Listen = DefaultListen
	}
	if fc.BaseDir == "" {
		fc.BaseDir = DefaultBaseDir
	}
	if fc.ArtifactDir == "" {
		fc.ArtifactDir = filepath.Join(filepath.Dir(fc.BaseDir), "artifacts")
	}
	if fc.DefaultMemory == "" {
		fc.DefaultMemory = DefaultMemory
	}
}

// MemoryMB parses a human memory string ("512M", "2G") into megabytes.
func MemoryMB(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("parse memory %q: %w", s, err)
	}
	mb := n / units.MiB
	if mb <= 0 {
		return 0, fmt.Errorf("memory %q below 1M", s)
	}
	return int(mb), nil
}
