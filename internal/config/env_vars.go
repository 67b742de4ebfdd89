package config

import (
	"os"
	"strings"
)

const (
	appNameVar  = "APP_NAME"
	envVar      = "ENV"
	logLevelVar = "LOG_LEVEL"
)

type EnvVars struct {
	file *File
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetAppName() string {
	return lookup(appNameVar, e.file.value(func(f *File) string { return f.AppName }), "AuthForge")
}

// GetEnv returns the deployment environment, DEV by default.
func (e EnvVars) GetEnv() string {
	return strings.ToUpper(lookup(envVar, e.file.value(func(f *File) string { return f.Env }), "DEV"))
}

func (e EnvVars) GetLogLevel() string {
	return lookup(logLevelVar, e.file.value(func(f *File) string { return f.LogLevel }), "info")
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

// lookup resolves a setting: environment first, then the config file, then the default.
func lookup(envVar, fileValue, defaultValue string) string {
	if fileValue != "" {
		defaultValue = fileValue
	}
	return GetEnv(envVar, defaultValue)
}
