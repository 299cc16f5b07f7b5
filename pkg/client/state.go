package client

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aeolun/oscarchat/pkg/contactlist"
)

// State manages client-side persistent state
type State struct {
	db  *sql.DB
	dir string // Directory where state is stored
}

// OpenState opens or creates the client state database
func OpenState(path string) (*State, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := runMigrations(db, nil); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &State{db: db, dir: dir}, nil
}

// Close closes the state database
func (s *State) Close() error {
	return s.db.Close()
}

// GetConfig retrieves a configuration value
func (s *State) GetConfig(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM Config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetConfig stores a configuration value
func (s *State) SetConfig(key, value string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO Config (key, value) VALUES (?, ?)
	`, key, value)
	return err
}

// GetLastScreenName returns the account used last
func (s *State) GetLastScreenName() string {
	name, _ := s.GetConfig("last_screen_name")
	return name
}

// SetLastScreenName stores the account used last
func (s *State) SetLastScreenName(name string) error {
	return s.SetConfig("last_screen_name", name)
}

// GetLastSuccessfulProxy returns the proxy URL of the last successful
// connection to a server, empty when there is none or it was direct
func (s *State) GetLastSuccessfulProxy(serverAddress string) (string, error) {
	var proxy string
	err := s.db.QueryRow(`
		SELECT proxy
		FROM ConnectionHistory
		WHERE server_address = ?
	`, serverAddress).Scan(&proxy)

	if err == sql.ErrNoRows {
		return "", nil
	}
	return proxy, err
}

// SaveSuccessfulConnection records how a server was reached
func (s *State) SaveSuccessfulConnection(serverAddress string, d *Dialer) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO ConnectionHistory (server_address, proxy, method, last_success_at)
		VALUES (?, ?, ?, ?)
	`, serverAddress, d.Proxy(), d.Method(), time.Now().Unix())
	return err
}

// LoadContacts returns the cached contact list of an account
func (s *State) LoadContacts(account string) ([]contactlist.Item, error) {
	rows, err := s.db.Query(`
		SELECT item_type, name, group_name, alias, value, group_id, item_id
		FROM Contacts
		WHERE account = ?
		ORDER BY item_type, name
	`, contactlist.Normalize(account))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []contactlist.Item
	for rows.Next() {
		var it contactlist.Item
		var typ int
		if err := rows.Scan(&typ, &it.Name, &it.Group, &it.Alias, &it.Value, &it.GroupID, &it.ItemID); err != nil {
			return nil, err
		}
		it.Type = contactlist.ItemType(typ)
		items = append(items, it)
	}
	return items, rows.Err()
}

// SaveContacts replaces the cached contact list of an account
func (s *State) SaveContacts(account string, items []contactlist.Item) error {
	account = contactlist.Normalize(account)
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM Contacts WHERE account = ?", account); err != nil {
		tx.Rollback()
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO Contacts (account, item_type, name, group_name, alias, value, group_id, item_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, it := range items {
		if _, err := stmt.Exec(account, int(it.Type), it.Name, it.Group, it.Alias, it.Value, it.GroupID, it.ItemID); err != nil {
			tx.Rollback()
			return fmt.Errorf("cache %s: %w", it, err)
		}
	}
	return tx.Commit()
}

// GetStateDir returns the directory where state is stored
func (s *State) GetStateDir() string {
	return s.dir
}
