package app

import (
	"os"
	"path/filepath"

	"github.com/mandelsoft/vfs/pkg/vfs"
	"sigs.k8s.io/yaml"
)

const (
	ConfigFile    = ".ogctlconfig"
	EnvServer     = "OGCTL_SERVER"
	DefaultServer = "http://localhost:8080"
)

type Config struct {
	Server string `json:"server,omitempty"`
}

// GetConfig reads the config file from the home directory and
// the current directory and applies environment overrides.
func GetConfig(fs vfs.FileSystem) *Config {
	var cfg Config

	if dir, err := os.UserHomeDir(); err == nil {
		MergeConfig(&cfg, ReadConfig(fs, filepath.Join(dir, ConfigFile)))
	}
	MergeConfig(&cfg, ReadConfig(fs, ConfigFile))

	if v := os.Getenv(EnvServer); v != "" {
		cfg.Server = v
	}
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	return &cfg
}

func ReadConfig(fs vfs.FileSystem, path string) *Config {
	data, err := vfs.ReadFile(fs, path)
	if err != nil {
		return nil
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil
	}
	return &cfg
}

func MergeConfig(cfg *Config, add *Config) {
	if add == nil {
		return
	}
	if add.Server != "" {
		cfg.Server = add.Server
	}
}
