package config

import (
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
)

const (
	storageVar       = "AUTHFORGE_STORAGE"
	folderEnvVar     = "FOLDER"
	storageKeyVar    = "AUTHFORGE_KEY"
	redisURLVar      = "REDIS_URL"
	redisPasswordVar = "REDIS_PASSWORD"

	sessionFileName = "session.json"
)

// StorageKind selects where the session is persisted.
type StorageKind string

const (
	StorageMemory StorageKind = "memory"
	StorageFile   StorageKind = "file"
	StorageRedis  StorageKind = "redis"
)

func (k StorageKind) Valid() bool {
	return k == StorageMemory || k == StorageFile || k == StorageRedis
}

type Storage struct {
	file *File
}

var _ StorageConfig = Storage{}

// GetStorageKind returns the configured backend; file by default.
func (s Storage) GetStorageKind() StorageKind {
	kind := lookup(storageVar, s.file.value(func(f *File) string { return f.Storage }), string(StorageFile))
	return StorageKind(strings.ToLower(kind))
}

func (s Storage) GetDataFolder() string {
	return lookup(folderEnvVar, s.file.value(func(f *File) string { return f.Folder }), "./data")
}

// GetSessionFile is the document used by the file backend.
func (s Storage) GetSessionFile() string {
	return filepath.Join(s.GetDataFolder(), sessionFileName)
}

// GetStorageKey returns the key sealing the session file. ok is false when
// no key is configured, in which case the file is stored in plain JSON.
func (s Storage) GetStorageKey() ([32]byte, bool, error) {
	var key [32]byte
	raw := lookup(storageKeyVar, s.file.value(func(f *File) string { return f.Key }), "")
	if raw == "" {
		return key, false, nil
	}
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return key, false, fmt.Errorf("%s must be hex encoded: %w", storageKeyVar, err)
	}
	if len(decoded) != len(key) {
		return key, false, fmt.Errorf("%s must be %d bytes, got %d", storageKeyVar, len(key), len(decoded))
	}
	copy(key[:], decoded)
	return key, true, nil
}

func (s Storage) GetRedisAddr() string {
	return lookup(redisURLVar, s.file.value(func(f *File) string { return f.RedisURL }), "localhost:6379")
}

func (s Storage) GetRedisPassword() string {
	return lookup(redisPasswordVar, s.file.value(func(f *File) string { return f.RedisPassword }), "")
}
