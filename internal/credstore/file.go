package credstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
	"librarydesk/pkg/domain"
)

// FileStore persists credentials per profile in a YAML file readable only by
// the current user. It survives process restarts.
type FileStore struct {
	mu      sync.Mutex
	path    string
	profile string
}

type credentialsFile struct {
	Profiles map[string]domain.Credentials `yaml:"profiles"`
}

// NewFileStore builds a file-backed store. An empty path resolves to
// $XDG_CONFIG_HOME/librarydesk/credentials.yaml.
func NewFileStore(path, profile string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve config dir: %w", err)
		}
		path = filepath.Join(dir, "librarydesk", "credentials.yaml")
	}
	return &FileStore{path: path, profile: profile}, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Get returns the stored pair for the profile.
func (s *FileStore) Get() (domain.Credentials, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.read()
	if err != nil {
		return domain.Credentials{}, false, err
	}
	creds, ok := f.Profiles[s.profile]
	if !ok || !creds.Complete() {
		return domain.Credentials{}, false, nil
	}
	return creds, true, nil
}

// Set replaces the stored pair for the profile.
func (s *FileStore) Set(c domain.Credentials) error {
	if err := validate(c); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.read()
	if err != nil {
		return err
	}
	f.Profiles[s.profile] = c
	return s.write(f)
}

// Clear removes the profile's pair.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := f.Profiles[s.profile]; !ok {
		return nil
	}
	delete(f.Profiles, s.profile)
	return s.write(f)
}

func (s *FileStore) read() (credentialsFile, error) {
	f := credentialsFile{Profiles: map[string]domain.Credentials{}}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return f, fmt.Errorf("read credentials: %w", err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("parse credentials: %w", err)
	}
	if f.Profiles == nil {
		f.Profiles = map[string]domain.Credentials{}
	}
	return f, nil
}

func (s *FileStore) write(f credentialsFile) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".credentials-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp credentials: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close credentials: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace credentials: %w", err)
	}
	return nil
}
