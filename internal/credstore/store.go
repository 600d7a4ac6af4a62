package credstore

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"librarydesk/pkg/domain"
)

// ErrIncompleteCredentials indicates an attempt to store one token without the other.
var ErrIncompleteCredentials = errors.New("credentials require both access and refresh tokens")

// Store holds the credential pair of one client session.
type Store interface {
	Get() (domain.Credentials, bool, error)
	Set(domain.Credentials) error
	Clear() error
}

// Options selects and configures a Store backend.
type Options struct {
	Kind          string // memory, file, sqlite, redis, postgres
	Profile       string
	FilePath      string
	RedisAddr     string
	RedisPassword string
	DatabaseURL   string
}

// Open builds the Store described by opts.
func Open(opts Options) (Store, error) {
	profile := strings.TrimSpace(opts.Profile)
	if profile == "" {
		profile = "default"
	}
	switch strings.ToLower(strings.TrimSpace(opts.Kind)) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(opts.FilePath, profile)
	case "sqlite":
		return NewSQLiteStore(opts.FilePath, profile)
	case "redis":
		if strings.TrimSpace(opts.RedisAddr) == "" {
			return nil, errors.New("credstore: redis addr is required")
		}
		return NewRedisStore(opts.RedisAddr, opts.RedisPassword, profile), nil
	case "postgres":
		return NewGormStore(opts.DatabaseURL, profile)
	}
	return nil, fmt.Errorf("credstore: unknown kind %q", opts.Kind)
}

// Close releases the connections held by s. Backends without any are a no-op.
func Close(s Store) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func validate(c domain.Credentials) error {
	if !c.Complete() {
		return ErrIncompleteCredentials
	}
	return nil
}

// MemoryStore keeps credentials in-process (single session only).
type MemoryStore struct {
	mu    sync.RWMutex
	creds domain.Credentials
	set   bool
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Get returns the stored pair.
func (s *MemoryStore) Get() (domain.Credentials, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds, s.set, nil
}

// Set replaces the stored pair.
func (s *MemoryStore) Set(c domain.Credentials) error {
	if err := validate(c); err != nil {
		return err
	}
	s.mu.Lock()
	s.creds = c
	s.set = true
	s.mu.Unlock()
	return nil
}

// Clear removes both tokens.
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	s.creds = domain.Credentials{}
	s.set = false
	s.mu.Unlock()
	return nil
}
