package config

import "time"

type Config interface {
	EnvConfig
	ClientConfig
	StorageConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
}

type ClientConfig interface {
	GetServerURL() string
	GetNamespace() string
	GetMockServerAddr() string
	GetShutdownTimeout() time.Duration
}

type StorageConfig interface {
	GetStorageKind() StorageKind
	GetDataFolder() string
	GetSessionFile() string
	GetStorageKey() (key [32]byte, ok bool, err error)
	GetRedisAddr() string
	GetRedisPassword() string
}

type mainConfig struct {
	EnvVars
	Client
	Storage
}

// New returns a configuration read from the environment only.
func New() Config {
	return newConfig(nil)
}

func newConfig(f *File) mainConfig {
	return mainConfig{
		EnvVars: EnvVars{file: f},
		Client:  Client{file: f},
		Storage: Storage{file: f},
	}
}
