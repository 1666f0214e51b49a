package crypt

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/hkdf"
	"gopkg.in/yaml.v3"
)

var ErrKeyNotFound = errors.New("crypt: key version not found")

// Keyring resolves a key version to a 32-byte AES key.
type Keyring interface {
	Key(version uint32) ([]byte, error)
}

// StaticKeyring holds raw keys in memory.
type StaticKeyring map[uint32][]byte

func (s StaticKeyring) Key(version uint32) ([]byte, error) {
	key, ok := s[version]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrKeyNotFound, version)
	}
	return key, nil
}

type keyringFile struct {
	Keys []struct {
		Version uint32 `yaml:"version"`
		Secret  string `yaml:"secret"`
	} `yaml:"keys"`
}

// FileKeyring derives keys from the secrets of a YAML file:
//
//	keys:
//	  - version: 1
//	    secret: "..."
type FileKeyring struct {
	path    string
	mu      sync.Mutex
	secrets map[uint32][]byte
	cache   *lru.Cache[uint32, []byte]
}

// LoadFileKeyring reads path and keeps up to cacheSize derived keys.
func LoadFileKeyring(path string, cacheSize int) (*FileKeyring, error) {
	if cacheSize <= 0 {
		cacheSize = 64
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keyring: %w", err)
	}
	var file keyringFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("unmarshal keyring: %w", err)
	}

	secrets := make(map[uint32][]byte, len(file.Keys))
	for _, k := range file.Keys {
		if k.Secret == "" {
			return nil, fmt.Errorf("keyring %s: version %d has an empty secret", path, k.Version)
		}
		if _, dup := secrets[k.Version]; dup {
			return nil, fmt.Errorf("keyring %s: duplicate version %d", path, k.Version)
		}
		secrets[k.Version] = []byte(k.Secret)
	}

	cache, err := lru.NewWithEvict[uint32, []byte](cacheSize, func(_ uint32, key []byte) {
		for i := range key {
			key[i] = 0
		}
	})
	if err != nil {
		return nil, err
	}
	return &FileKeyring{path: path, secrets: secrets, cache: cache}, nil
}

// Key returns a copy of the derived key for version.
func (f *FileKeyring) Key(version uint32) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if key, ok := f.cache.Get(version); ok {
		return append([]byte(nil), key...), nil
	}
	secret, ok := f.secrets[version]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrKeyNotFound, version)
	}
	key := make([]byte, KeyLen)
	kdf := hkdf.New(sha256.New, secret, nil, []byte("binlogstream key "+strconv.FormatUint(uint64(version), 10)))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive key %d: %w", version, err)
	}
	f.cache.Add(version, key)
	return append([]byte(nil), key...), nil
}

// Versions lists the key versions the file defines.
func (f *FileKeyring) Versions() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint32, 0, len(f.secrets))
	for v := range f.secrets {
		out = append(out, v)
	}
	return out
}

// Cached reports how many derived keys are held.
func (f *FileKeyring) Cached() int {
	return f.cache.Len()
}
