package client

import (
	"sync"

	"github.com/aeolun/oscarchat/pkg/contactlist"
)

// MockState is an in-memory test implementation of StateStore
type MockState struct {
	mu sync.RWMutex

	// In-memory storage
	config   map[string]string
	history  map[string]string
	contacts map[string][]contactlist.Item
	dir      string

	// Error injection
	getConfigErr    error
	setConfigErr    error
	loadContactsErr error
	saveContactsErr error

	// SaveCount counts SaveContacts calls
	SaveCount int
}

// NewMockState creates a new mock state
func NewMockState() *MockState {
	return &MockState{
		config:   make(map[string]string),
		history:  make(map[string]string),
		contacts: make(map[string][]contactlist.Item),
		dir:      "/tmp/mock-state",
	}
}

// GetConfig retrieves a configuration value
func (s *MockState) GetConfig(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.getConfigErr != nil {
		return "", s.getConfigErr
	}
	return s.config[key], nil
}

// SetConfig stores a configuration value
func (s *MockState) SetConfig(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.setConfigErr != nil {
		return s.setConfigErr
	}
	s.config[key] = value
	return nil
}

// GetLastScreenName returns the account used last
func (s *MockState) GetLastScreenName() string {
	name, _ := s.GetConfig("last_screen_name")
	return name
}

// SetLastScreenName stores the account used last
func (s *MockState) SetLastScreenName(name string) error {
	return s.SetConfig("last_screen_name", name)
}

// GetLastSuccessfulProxy returns the recorded proxy for a server
func (s *MockState) GetLastSuccessfulProxy(serverAddress string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history[serverAddress], nil
}

// SaveSuccessfulConnection records how a server was reached
func (s *MockState) SaveSuccessfulConnection(serverAddress string, d *Dialer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[serverAddress] = d.Proxy()
	return nil
}

// LoadContacts returns a copy of the cached list
func (s *MockState) LoadContacts(account string) ([]contactlist.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.loadContactsErr != nil {
		return nil, s.loadContactsErr
	}
	return append([]contactlist.Item(nil), s.contacts[contactlist.Normalize(account)]...), nil
}

// SaveContacts replaces the cached list
func (s *MockState) SaveContacts(account string, items []contactlist.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saveContactsErr != nil {
		return s.saveContactsErr
	}
	s.SaveCount++
	s.contacts[contactlist.Normalize(account)] = append([]contactlist.Item(nil), items...)
	return nil
}

// GetStateDir returns the mock directory
func (s *MockState) GetStateDir() string {
	return s.dir
}

// Close is a no-op
func (s *MockState) Close() error {
	return nil
}

// Test helper methods

// SetGetConfigError makes GetConfig fail
func (s *MockState) SetGetConfigError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getConfigErr = err
}

// SetSetConfigError makes SetConfig fail
func (s *MockState) SetSetConfigError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setConfigErr = err
}

// SetLoadContactsError makes LoadContacts fail
func (s *MockState) SetLoadContactsError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadContactsErr = err
}

// SetSaveContactsError makes SaveContacts fail
func (s *MockState) SetSaveContactsError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveContactsErr = err
}

// SetHistory records a proxy for a server directly
func (s *MockState) SetHistory(serverAddress, proxy string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[serverAddress] = proxy
}

// Contacts returns the cached list of an account
func (s *MockState) Contacts(account string) []contactlist.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]contactlist.Item(nil), s.contacts[contactlist.Normalize(account)]...)
}
