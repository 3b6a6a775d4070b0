// internal/state/checkin.go
package state

import (
	"errors"
	"fmt"
	"sync"
)

// ErrCheckInNotFound is returned for an unknown check-in name.
var ErrCheckInNotFound = errors.New("check-in not found")

// CheckIn is a named wellbeing message sent to a session key on a schedule
// or on demand.
type CheckIn struct {
	Name       string `json:"name"`
	Message    string `json:"message"`
	Schedule   string `json:"schedule,omitempty"`
	SessionKey string `json:"session_key"`
	Enabled    bool   `json:"enabled"`
}

// CheckInStore is a JSON-file-backed store for check-ins.
type CheckInStore struct {
	path string
	mu   sync.RWMutex
}

// NewCheckInStore creates a new file-backed CheckInStore at the given file path.
func NewCheckInStore(path string) *CheckInStore {
	return &CheckInStore{path: path}
}

// Path returns the file path used by this store.
func (s *CheckInStore) Path() string {
	return s.path
}

// List returns all check-ins. Returns an empty slice if the file doesn't exist.
func (s *CheckInStore) List() ([]*CheckIn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list, err := s.load()
	if err != nil {
		return nil, err
	}
	if list == nil {
		return []*CheckIn{}, nil
	}
	return list, nil
}

// Get finds a check-in by name.
func (s *CheckInStore) Get(name string) (*CheckIn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, c := range list {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCheckInNotFound, name)
}

// Add appends a check-in. Names are unique.
func (s *CheckInStore) Add(c *CheckIn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load()
	if err != nil {
		return err
	}
	for _, existing := range list {
		if existing.Name == c.Name {
			return fmt.Errorf("check-in already exists: %s", c.Name)
		}
	}
	return s.save(append(list, c))
}

// Remove deletes a check-in by name.
func (s *CheckInStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load()
	if err != nil {
		return err
	}
	for i, c := range list {
		if c.Name == name {
			return s.save(append(list[:i], list[i+1:]...))
		}
	}
	return fmt.Errorf("%w: %s", ErrCheckInNotFound, name)
}

// SetEnabled toggles the enabled flag for a check-in.
func (s *CheckInStore) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load()
	if err != nil {
		return err
	}
	for _, c := range list {
		if c.Name == name {
			c.Enabled = enabled
			return s.save(list)
		}
	}
	return fmt.Errorf("%w: %s", ErrCheckInNotFound, name)
}

func (s *CheckInStore) load() ([]*CheckIn, error) {
	var list []*CheckIn
	if _, err := readJSON(s.path, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *CheckInStore) save(list []*CheckIn) error {
	return writeJSONAtomic(s.path, list)
}
