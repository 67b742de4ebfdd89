package storage

import (
	"crypto/rand"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	nonceLength   = 24
	fileMode      = 0o600
	directoryMode = 0o700
)

var _ Storage = (*File)(nil)

// File is a Storage persisted as a single JSON document on disk.
// When a key is configured the document is sealed with NaCl secretbox.
type File struct {
	path   string
	key    *[32]byte
	mu     sync.Mutex
	values map[string]string
}

// FileOption configures a File storage.
type FileOption func(*File)

// WithKey seals the file contents with the given 32-byte key.
func WithKey(key [32]byte) FileOption {
	return func(f *File) {
		k := key
		f.key = &k
	}
}

// OpenFile loads the storage document at path, creating an empty one in memory
// if the file does not exist yet. Nothing is written until the first Set.
func OpenFile(path string, options ...FileOption) (*File, error) {
	if path == "" {
		return nil, errors.New("[storage.OpenFile] path is required")
	}

	f := &File{
		path:   path,
		values: make(map[string]string),
	}
	for _, opt := range options {
		opt(f)
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "[storage.OpenFile] os.ReadFile")
	}
	if len(raw) == 0 {
		return f, nil
	}

	if f.key != nil {
		if raw, err = f.open(raw); err != nil {
			return nil, err
		}
	}
	if err := json.Unmarshal(raw, &f.values); err != nil {
		return nil, errors.Wrap(ErrCorrupt, err.Error())
	}
	return f, nil
}

// Path returns the location of the backing file
func (f *File) Path() string {
	return f.path
}

func (f *File) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	value, ok := f.values[key]
	return value, ok, nil
}

func (f *File) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	previous, existed := f.values[key]
	f.values[key] = value
	if err := f.flush(); err != nil {
		if existed {
			f.values[key] = previous
		} else {
			delete(f.values, key)
		}
		return err
	}
	return nil
}

func (f *File) Remove(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.values[key]; !ok {
		return nil
	}
	delete(f.values, key)
	return f.flush()
}

// flush writes the document through a temporary file so a crash never leaves
// a half-written file behind. Callers hold f.mu.
func (f *File) flush() error {
	raw, err := json.Marshal(f.values)
	if err != nil {
		return errors.Wrap(err, "[File.flush] json.Marshal")
	}
	if f.key != nil {
		if raw, err = f.seal(raw); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(f.path), directoryMode); err != nil {
		return errors.Wrap(err, "[File.flush] os.MkdirAll")
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".authforge-*")
	if err != nil {
		return errors.Wrap(err, "[File.flush] os.CreateTemp")
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "[File.flush] write")
	}
	if err := tmp.Chmod(fileMode); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "[File.flush] chmod")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "[File.flush] close")
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return errors.Wrap(err, "[File.flush] os.Rename")
	}
	return nil
}

func (f *File) seal(plain []byte) ([]byte, error) {
	var nonce [nonceLength]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, errors.Wrap(err, "[File.seal] rand.Read")
	}
	return secretbox.Seal(nonce[:], plain, &nonce, f.key), nil
}

func (f *File) open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceLength+secretbox.Overhead {
		return nil, errors.Wrap(ErrCorrupt, "sealed document too short")
	}
	var nonce [nonceLength]byte
	copy(nonce[:], sealed[:nonceLength])
	plain, ok := secretbox.Open(nil, sealed[nonceLength:], &nonce, f.key)
	if !ok {
		return nil, errors.Wrap(ErrCorrupt, "unable to unseal document")
	}
	return plain, nil
}
