package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultFile is read from the working directory when no path is given.
const DefaultFile = "authforge.yaml"

// File holds the settings that may be given in YAML. Environment variables
// take precedence over every field.
type File struct {
	AppName        string `yaml:"app_name"`
	Env            string `yaml:"env"`
	LogLevel       string `yaml:"log_level"`
	ServerURL      string `yaml:"server_url"`
	Namespace      string `yaml:"namespace"`
	MockServerAddr string `yaml:"mock_server_addr"`
	Storage        string `yaml:"storage"`
	Folder         string `yaml:"folder"`
	Key            string `yaml:"key"`
	RedisURL       string `yaml:"redis_url"`
	RedisPassword  string `yaml:"redis_password"`
}

func (f *File) value(pick func(*File) string) string {
	if f == nil {
		return ""
	}
	return pick(f)
}

// LoadFromFile parses a YAML config file.
func LoadFromFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	f := &File{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return f, nil
}

// Load builds the configuration from path layered under the environment.
// An empty path reads DefaultFile if it exists.
func Load(path string) (Config, error) {
	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}

	var f *File
	if path != "" {
		var err error
		if f, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}

	cfg := newConfig(f)
	if kind := cfg.GetStorageKind(); !kind.Valid() {
		return nil, fmt.Errorf("unknown storage %q (want memory, file or redis)", kind)
	}
	if _, _, err := cfg.GetStorageKey(); err != nil {
		return nil, err
	}
	return cfg, nil
}
