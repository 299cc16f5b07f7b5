package client

import (
	"github.com/aeolun/oscarchat/pkg/contactlist"
)

// ContactCache keeps the contact list between sessions. The cached list
// only seeds the first merge; the server's copy wins every conflict.
type ContactCache interface {
	LoadContacts(account string) ([]contactlist.Item, error)
	SaveContacts(account string, items []contactlist.Item) error
}

// StateStore defines the interface for client state persistence
// This allows for mocking in tests while the real State implements all these methods
type StateStore interface {
	ContactCache

	// Configuration
	GetConfig(key string) (string, error)
	SetConfig(key, value string) error

	// Account last signed on with
	GetLastScreenName() string
	SetLastScreenName(name string) error

	// Connection history
	GetLastSuccessfulProxy(serverAddress string) (string, error)
	SaveSuccessfulConnection(serverAddress string, d *Dialer) error

	// State directory
	GetStateDir() string

	// Close the state
	Close() error
}
