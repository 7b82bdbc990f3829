// Package session owns user preferences and the session token that must
// survive between runs. A Store is opened once at startup and read through
// its accessors; every write is persisted immediately.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Theme is the colour scheme used when rendering results.
type Theme string

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"
)

// ParseTheme accepts light, dark or system in any case.
func ParseTheme(v string) (Theme, error) {
	switch t := Theme(strings.ToLower(strings.TrimSpace(v))); t {
	case ThemeLight, ThemeDark, ThemeSystem:
		return t, nil
	default:
		return "", fmt.Errorf("unknown theme %q (want light, dark or system)", v)
	}
}

type preferences struct {
	Theme        Theme  `yaml:"theme,omitempty"`
	SessionToken string `yaml:"session_token,omitempty"`
}

// Store is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	path  string
	prefs preferences
}

// Open loads the preferences file at path. A missing file yields an empty
// store that is created on first write. An empty path keeps everything in memory.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read preferences: %w", err)
	}
	if err := yaml.Unmarshal(data, &s.prefs); err != nil {
		return nil, fmt.Errorf("parse preferences %s: %w", path, err)
	}
	return s, nil
}

// Theme returns the saved theme, empty when none was saved.
func (s *Store) Theme() Theme {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs.Theme
}

// SetTheme saves t.
func (s *Store) SetTheme(t Theme) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs.Theme = t
	return s.persistLocked()
}

// ResolveTheme returns the effective light or dark theme. A saved light or
// dark preference wins; otherwise the system preference is used and, when
// nothing was saved yet, recorded.
func (s *Store) ResolveTheme(systemPrefersDark bool) (Theme, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	system := ThemeLight
	if systemPrefersDark {
		system = ThemeDark
	}
	switch s.prefs.Theme {
	case ThemeLight, ThemeDark:
		return s.prefs.Theme, nil
	case ThemeSystem:
		return system, nil
	}
	s.prefs.Theme = system
	return system, s.persistLocked()
}

// SessionToken returns the current session token, empty when signed out.
func (s *Store) SessionToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs.SessionToken
}

// SignIn saves token as the current session.
func (s *Store) SignIn(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("session token must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs.SessionToken = token
	return s.persistLocked()
}

// SignOut clears the session token.
func (s *Store) SignOut() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs.SessionToken = ""
	return s.persistLocked()
}

// SignedIn reports whether a session token is present.
func (s *Store) SignedIn() bool {
	return s.SessionToken() != ""
}

func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := yaml.Marshal(&s.prefs)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create preferences dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	return os.Rename(tmp, s.path)
}
