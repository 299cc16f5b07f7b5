package client

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the structure of the client config file
type TOMLConfig struct {
	Connection ConnectionSection `toml:"connection"`
	Account    AccountSection    `toml:"account"`
	Transfer   TransferSection   `toml:"transfer"`
	Local      LocalSection      `toml:"local"`
	Limits     LimitsSection     `toml:"limits"`
}

type ConnectionSection struct {
	AuthServer string `toml:"auth_server"`
	AuthPort   int    `toml:"auth_port"`
	// Proxy is an ssh:// jump host or a ws:// / wss:// gateway; empty dials
	// directly
	Proxy                    string `toml:"proxy"`
	KeepAliveSeconds         int    `toml:"keepalive_seconds"`
	AutoReconnect            bool   `toml:"auto_reconnect"`
	ReconnectMaxDelaySeconds int    `toml:"reconnect_max_delay_seconds"`
}

type AccountSection struct {
	ScreenName string `toml:"screen_name"`
	// PasswordEnv names the environment variable holding the password
	PasswordEnv string `toml:"password_env"`
	Profile     string `toml:"profile"`
}

type TransferSection struct {
	ListenHost     string `toml:"listen_host"`
	PortLow        int    `toml:"port_low"`
	PortHigh       int    `toml:"port_high"`
	DownloadDir    string `toml:"download_dir"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	BytesPerSec    int    `toml:"bytes_per_sec"`
}

type LocalSection struct {
	StateDB string `toml:"state_db"`
}

type LimitsSection struct {
	MaxMessageLength int `toml:"max_message_length"`
}

// ConfigError represents a structured configuration error
type ConfigError struct {
	Path       string
	Message    string
	LineNumber int // 0 if not a parse error
}

func (e *ConfigError) Error() string {
	if e.LineNumber > 0 {
		return fmt.Sprintf("%s (line %d)", e.Message, e.LineNumber)
	}
	return e.Message
}

// getXDGConfigHome returns the XDG config directory
func getXDGConfigHome() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return xdg
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config")
}

// getXDGDataHome returns the XDG data directory
func getXDGDataHome() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return xdg
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".local", "share")
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	// Use XDG paths by default
	dataHome := getXDGDataHome()
	stateDB := filepath.Join(dataHome, "oscarchat", "state.db")
	downloads := filepath.Join(dataHome, "oscarchat", "downloads")

	return TOMLConfig{
		Connection: ConnectionSection{
			AuthServer:               "login.oscar.aim.com",
			AuthPort:                 5190,
			KeepAliveSeconds:         60,
			AutoReconnect:            true,
			ReconnectMaxDelaySeconds: 30,
		},
		Account: AccountSection{
			PasswordEnv: "OSCAR_PASSWORD",
		},
		Transfer: TransferSection{
			PortLow:        5190,
			PortHigh:       5199,
			DownloadDir:    downloads,
			TimeoutSeconds: 120,
		},
		Local: LocalSection{
			StateDB: stateDB,
		},
	}
}

// DefaultConfigPath returns the config file location under the XDG config
// directory
func DefaultConfigPath() string {
	return filepath.Join(getXDGConfigHome(), "oscarchat", "config.toml")
}

// LoadClientConfig loads configuration from a TOML file, creates default if not found
func LoadClientConfig(path string) (TOMLConfig, error) {
	path, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// File doesn't exist, create default config
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path, config); err != nil {
			// If we can't write, just return defaults without error
			// (might be a permissions issue, but we can still run)
			return config, nil
		}
		return config, nil
	}

	// Load from file over the defaults so missing keys keep them
	config := DefaultTOMLConfig()
	if _, err := toml.DecodeFile(path, &config); err != nil {
		// Try to extract line number from TOML error
		lineNum := extractLineNumber(err.Error())
		return TOMLConfig{}, &ConfigError{
			Path:       path,
			Message:    cleanErrorMessage(err.Error()),
			LineNumber: lineNum,
		}
	}

	// Validate config values
	if err := validateConfig(&config); err != nil {
		return TOMLConfig{}, &ConfigError{
			Path:       path,
			Message:    err.Error(),
			LineNumber: 0,
		}
	}

	return config, nil
}

// extractLineNumber tries to extract a line number from a TOML parse error
func extractLineNumber(errMsg string) int {
	// TOML errors typically format like "line 12: ..." or "at line 12"
	re := regexp.MustCompile(`line (\d+)`)
	matches := re.FindStringSubmatch(errMsg)
	if len(matches) > 1 {
		if num, err := strconv.Atoi(matches[1]); err == nil {
			return num
		}
	}
	return 0
}

// cleanErrorMessage removes redundant parts from error messages
func cleanErrorMessage(errMsg string) string {
	// Remove "toml: " prefix if present
	errMsg = strings.TrimPrefix(errMsg, "toml: ")
	return errMsg
}

// validateConfig validates configuration values
func validateConfig(config *TOMLConfig) error {
	var errors []string

	if config.Connection.AuthPort < 1 || config.Connection.AuthPort > 65535 {
		errors = append(errors, fmt.Sprintf("Invalid port number: %d (must be 1-65535)", config.Connection.AuthPort))
	}
	if config.Connection.KeepAliveSeconds < 0 {
		errors = append(errors, "Keep-alive interval cannot be negative")
	}
	if config.Connection.ReconnectMaxDelaySeconds < 0 {
		errors = append(errors, "Reconnect max delay cannot be negative")
	}
	if p := strings.TrimSpace(config.Connection.Proxy); p != "" {
		if _, err := NewDialer(p); err != nil {
			errors = append(errors, fmt.Sprintf("Invalid proxy: %v", err))
		}
	}

	t := config.Transfer
	if t.PortLow < 0 || t.PortHigh > 65535 || (t.PortHigh != 0 && t.PortHigh < t.PortLow) {
		errors = append(errors, fmt.Sprintf("Invalid transfer port range: %d-%d", t.PortLow, t.PortHigh))
	}
	if t.TimeoutSeconds < 0 {
		errors = append(errors, "Transfer timeout cannot be negative")
	}
	if t.BytesPerSec < 0 {
		errors = append(errors, "Transfer bandwidth cannot be negative")
	}
	if config.Limits.MaxMessageLength < 0 {
		errors = append(errors, "Maximum message length cannot be negative")
	}

	// Validate state database path is not empty
	if strings.TrimSpace(config.Local.StateDB) == "" {
		errors = append(errors, "State database path cannot be empty")
	}

	if len(errors) > 0 {
		return fmt.Errorf("Configuration validation failed:\n  • %s", strings.Join(errors, "\n  • "))
	}

	return nil
}

// writeDefaultConfig writes the default config to a file
func writeDefaultConfig(path string, config TOMLConfig) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Create file
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	// Write header comment
	header := `# oscarchat Client Configuration
# This file was auto-generated with default values
# Edit as needed - changes take effect on next client start

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	// Encode config as TOML
	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// expandHome expands a leading ~/ in path
func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}

// GetStateDBPath returns the state database path with ~ expanded
func (c *TOMLConfig) GetStateDBPath() (string, error) {
	return expandHome(c.Local.StateDB)
}

// GetServerAddress returns the auth server address (host:port)
func (c *TOMLConfig) GetServerAddress() string {
	server := strings.TrimSpace(c.Connection.AuthServer)
	if server == "" {
		return ""
	}
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	port := c.Connection.AuthPort
	if port <= 0 {
		return net.JoinHostPort(server, DefaultPort)
	}
	return net.JoinHostPort(server, strconv.Itoa(port))
}

// SessionConfig builds the session settings. The password comes from the
// environment variable the account section names.
func (c *TOMLConfig) SessionConfig() (SessionConfig, error) {
	if strings.TrimSpace(c.Account.ScreenName) == "" {
		return SessionConfig{}, &ConfigError{Message: "account.screen_name is not set"}
	}
	password := ""
	if c.Account.PasswordEnv != "" {
		password = os.Getenv(c.Account.PasswordEnv)
	}
	if password == "" {
		return SessionConfig{}, &ConfigError{Message: fmt.Sprintf("no password in environment variable %q", c.Account.PasswordEnv)}
	}
	downloads, err := expandHome(c.Transfer.DownloadDir)
	if err != nil {
		return SessionConfig{}, err
	}
	return SessionConfig{
		ScreenName:       c.Account.ScreenName,
		Password:         password,
		AuthServer:       c.GetServerAddress(),
		KeepAlive:        time.Duration(c.Connection.KeepAliveSeconds) * time.Second,
		Profile:          c.Account.Profile,
		MaxMessageLength: c.Limits.MaxMessageLength,
		Transfer: TransferConfig{
			ListenHost:  c.Transfer.ListenHost,
			PortLow:     c.Transfer.PortLow,
			PortHigh:    c.Transfer.PortHigh,
			DownloadDir: downloads,
			Timeout:     time.Duration(c.Transfer.TimeoutSeconds) * time.Second,
			BytesPerSec: c.Transfer.BytesPerSec,
		},
	}, nil
}

// ResetConfigToDefault resets the config file to default values
// If backup is true, creates a backup with timestamp
func ResetConfigToDefault(path string, backup bool) error {
	path, err := expandHome(path)
	if err != nil {
		return err
	}

	// Create backup if requested
	if backup {
		backupPath := fmt.Sprintf("%s.backup-%s", path, time.Now().Format("2006-01-02"))
		if err := copyFile(path, backupPath); err != nil {
			return fmt.Errorf("failed to create backup: %w", err)
		}
	}

	// Write default config
	config := DefaultTOMLConfig()
	if err := writeDefaultConfig(path, config); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}

	return nil
}

// copyFile copies a file from src to dst
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
