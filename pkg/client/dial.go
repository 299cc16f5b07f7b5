package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	// DefaultPort is the registered OSCAR port
	DefaultPort    = "5190"
	defaultSSHPort = "22"

	defaultDialTimeout = 10 * time.Second
)

// Dialer opens the byte streams service connections run over. The proxy URL
// picks the transport: empty or tcp:// dials directly, ssh://user@host
// tunnels through a jump host, ws:// and wss:// go through a WebSocket
// gateway that relays to the target named in the query.
type Dialer struct {
	Timeout time.Duration

	method  string
	display string
	warning string

	// ssh jump host
	user     string
	host     string
	port     string
	verifier *hostKeyVerifier
	mu       sync.Mutex
	client   *ssh.Client

	// websocket gateway
	gateway *url.URL
}

// NewDialer parses a proxy URL. An empty string dials directly.
func NewDialer(proxy string) (*Dialer, error) {
	d := &Dialer{Timeout: defaultDialTimeout, method: "tcp", display: "direct"}
	trimmed := strings.TrimSpace(proxy)
	if trimmed == "" {
		return d, nil
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "ssh://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy address %q: %w", proxy, err)
	}

	switch scheme := strings.ToLower(u.Scheme); scheme {
	case "tcp", "":
		return d, nil

	case "ssh":
		host, port, err := splitHostPortWithDefault(u.Host, defaultSSHPort)
		if err != nil {
			return nil, err
		}
		user := ""
		if u.User != nil {
			user = u.User.Username()
		}
		if user == "" {
			user = defaultSSHUser()
		}
		d.method = "ssh"
		d.user, d.host, d.port = user, host, port
		d.verifier = newHostKeyVerifier(host, port)
		d.warning = d.verifier.warning
		d.display = fmt.Sprintf("ssh://%s@%s", user, net.JoinHostPort(host, port))
		return d, nil

	case "ws", "wss":
		if u.Host == "" {
			return nil, errors.New("missing host in gateway address")
		}
		if u.Path == "" {
			u.Path = "/oscar"
		}
		d.method = scheme
		d.gateway = u
		d.display = u.String()
		return d, nil

	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", scheme)
	}
}

// Method names the transport: tcp, ssh, ws or wss
func (d *Dialer) Method() string {
	return d.method
}

// String describes the transport for logs
func (d *Dialer) String() string {
	return d.display
}

// Proxy returns the proxy URL that recreates this dialer, empty for
// direct connections
func (d *Dialer) Proxy() string {
	if d.method == "tcp" {
		return ""
	}
	return d.display
}

// Warning returns a security warning about the transport, if any
func (d *Dialer) Warning() string {
	return d.warning
}

// DialContext connects to addr (host:port) through the configured transport
func (d *Dialer) DialContext(ctx context.Context, addr string) (net.Conn, error) {
	host, port, err := splitHostPortWithDefault(addr, DefaultPort)
	if err != nil {
		return nil, err
	}
	target := net.JoinHostPort(host, port)

	switch d.method {
	case "ssh":
		return d.dialSSH(ctx, target)
	case "ws", "wss":
		return dialWebSocket(ctx, d.gateway, target, d.Timeout)
	default:
		nd := net.Dialer{Timeout: d.Timeout}
		return nd.DialContext(ctx, "tcp", target)
	}
}

// Close releases the shared SSH client, if one was opened
func (d *Dialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client == nil {
		return nil
	}
	err := d.client.Close()
	d.client = nil
	return err
}

// dialSSH forwards a TCP channel through the jump host. Every service
// connection shares one SSH client.
func (d *Dialer) dialSSH(ctx context.Context, target string) (net.Conn, error) {
	client, err := d.sshClient(ctx)
	if err != nil {
		return nil, err
	}
	conn, err := client.DialContext(ctx, "tcp", target)
	if err != nil {
		// A dead client is reopened on the next dial
		d.mu.Lock()
		if d.client == client {
			d.client.Close()
			d.client = nil
		}
		d.mu.Unlock()
		return nil, fmt.Errorf("ssh forward to %s: %w", target, err)
	}
	return conn, nil
}

func (d *Dialer) sshClient(ctx context.Context) (*ssh.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		return d.client, nil
	}

	address := net.JoinHostPort(d.host, d.port)
	nd := net.Dialer{Timeout: d.Timeout}
	netConn, err := nd.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	authMethods, err := loadSSHAuthMethods()
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("failed to load SSH keys: %w", err)
	}
	if len(authMethods) == 0 {
		netConn.Close()
		return nil, errors.New("no SSH keys found - generate one with: ssh-keygen -t ed25519 -f ~/.ssh/id_ed25519")
	}

	config := &ssh.ClientConfig{
		User:            d.user,
		Auth:            authMethods,
		HostKeyCallback: d.verifier.callback,
		Timeout:         d.Timeout,
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(netConn, address, config)
	if err != nil {
		netConn.Close()
		return nil, d.verifier.wrapError(err)
	}
	d.verifier.persistAccepted(string(clientConn.ServerVersion()))

	d.client = ssh.NewClient(clientConn, chans, reqs)
	return d.client, nil
}

func splitHostPortWithDefault(hostPort, defaultPort string) (string, string, error) {
	hostPort = strings.TrimSpace(hostPort)
	if hostPort == "" {
		return "", "", errors.New("missing host in server address")
	}

	host, port, err := net.SplitHostPort(hostPort)
	if err == nil {
		return host, port, nil
	}

	var addrErr *net.AddrError
	if errors.As(err, &addrErr) && strings.Contains(strings.ToLower(addrErr.Err), "missing port") {
		host = hostPort
		if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
			host = strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
		}
		return host, defaultPort, nil
	}

	return "", "", err
}

func defaultSSHUser() string {
	if user := os.Getenv("OSCAR_SSH_USER"); user != "" {
		return user
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	if user := os.Getenv("USERNAME"); user != "" {
		return user
	}
	return "anonymous"
}

type hostKeyVerifier struct {
	host         string
	port         string
	paths        []string
	callbacks    []ssh.HostKeyCallback
	acceptedFP   map[string]string
	acceptedKeys map[string]ssh.PublicKey
	warning      string
}

var errUserRejectedHostKey = errors.New("user rejected ssh host key")

func newHostKeyVerifier(host, port string) *hostKeyVerifier {
	paths := knownHostPaths()
	var callbacks []ssh.HostKeyCallback
	for _, path := range paths {
		if cb, err := knownhosts.New(path); err == nil {
			callbacks = append(callbacks, cb)
		}
	}

	warning := ""
	if len(callbacks) == 0 {
		warning = "SSH host key verification is disabled (known_hosts not found); the tunnel is vulnerable to MITM attacks"
	}

	return &hostKeyVerifier{
		host:         host,
		port:         port,
		paths:        paths,
		callbacks:    callbacks,
		acceptedFP:   make(map[string]string),
		acceptedKeys: make(map[string]ssh.PublicKey),
		warning:      warning,
	}
}

func (v *hostKeyVerifier) callback(hostname string, remote net.Addr, key ssh.PublicKey) error {
	if len(v.callbacks) == 0 {
		return v.handleUnknownHostKey(hostname, remote, key)
	}

	var lastErr error
	for _, cb := range v.callbacks {
		if err := cb(hostname, remote, key); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	var keyErr *knownhosts.KeyError
	if errors.As(lastErr, &keyErr) {
		if len(keyErr.Want) == 0 {
			return v.handleUnknownHostKey(hostname, remote, key)
		}
		return v.handleMismatchedHostKey(hostname, keyErr, key)
	}

	return lastErr
}

func (v *hostKeyVerifier) handleUnknownHostKey(hostname string, remote net.Addr, key ssh.PublicKey) error {
	fingerprint := ssh.FingerprintSHA256(key)
	if acceptedFP, ok := v.acceptedFP[hostname]; ok && acceptedFP == fingerprint {
		return nil
	}

	if !isInteractive() {
		return fmt.Errorf("ssh host key verification failed for %s: key %s is not trusted and interactive approval is not possible. Add it with `ssh-keyscan -p %s %s >> %s` and retry", hostname, fingerprint, v.port, v.host, v.preferredKnownHostsPath())
	}

	accepted, err := promptAcceptHostKey(hostname, remote, fingerprint, v.paths)
	if err != nil {
		return err
	}
	if !accepted {
		return errUserRejectedHostKey
	}

	v.acceptedFP[hostname] = fingerprint
	v.acceptedKeys[hostname] = key
	return nil
}

func (v *hostKeyVerifier) handleMismatchedHostKey(hostname string, keyErr *knownhosts.KeyError, presented ssh.PublicKey) error {
	actual := fingerprintForKey(presented)
	expected := "unknown"
	if len(keyErr.Want) > 0 && keyErr.Want[0].Key != nil {
		expected = ssh.FingerprintSHA256(keyErr.Want[0].Key)
	}

	return fmt.Errorf("ssh host key verification failed for %s: the server presented key %s but an existing known_hosts entry expects %s (%s). Update or remove the known_hosts entry before retrying", hostname, actual, expected, v.describeSources())
}

func (v *hostKeyVerifier) describeSources() string {
	if len(v.paths) == 0 {
		return "no known_hosts files were found"
	}
	return fmt.Sprintf("checked known_hosts files: %s", strings.Join(v.paths, ", "))
}

func (v *hostKeyVerifier) preferredKnownHostsPath() string {
	if len(v.paths) > 0 {
		return v.paths[0]
	}
	return filepath.Join(userHomeDir(), ".ssh", "known_hosts")
}

func (v *hostKeyVerifier) wrapError(err error) error {
	if errors.Is(err, errUserRejectedHostKey) {
		return fmt.Errorf("connection aborted: rejected SSH host key for %s", net.JoinHostPort(v.host, v.port))
	}

	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		if len(keyErr.Want) == 0 {
			return fmt.Errorf("ssh host key verification failed for %s:%s: the key is not trusted and was not accepted", v.host, v.port)
		}
		return v.handleMismatchedHostKey(net.JoinHostPort(v.host, v.port), keyErr, nil)
	}

	if strings.Contains(err.Error(), "unable to authenticate") {
		return fmt.Errorf("ssh authentication failed for %s:%s: no key in ~/.ssh was accepted", v.host, v.port)
	}

	return err
}

func (v *hostKeyVerifier) persistAccepted(serverVersion string) {
	if len(v.acceptedKeys) == 0 {
		return
	}

	if len(v.paths) == 0 {
		fmt.Fprintf(os.Stderr, "Warning: accepted SSH host key for %s:%s but no known_hosts path is writable; it will need to be trusted again next time\n", v.host, v.port)
		return
	}

	for host, key := range v.acceptedKeys {
		saved := false
		for _, path := range v.paths {
			if err := appendKnownHost(path, host, serverVersion, key); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to persist SSH host key for %s in %s: %v\n", host, path, err)
				continue
			}
			saved = true
			break
		}
		if !saved {
			fmt.Fprintf(os.Stderr, "Warning: could not persist SSH host key for %s; it will need to be trusted again next time\n", host)
		}
	}

	v.acceptedKeys = make(map[string]ssh.PublicKey)
	v.acceptedFP = make(map[string]string)
}

func knownHostPaths() []string {
	if env := os.Getenv("SSH_KNOWN_HOSTS"); env != "" {
		var paths []string
		for _, p := range strings.Split(env, string(os.PathListSeparator)) {
			p = strings.TrimSpace(p)
			if p != "" {
				paths = append(paths, p)
			}
		}
		return paths
	}

	home := userHomeDir()
	if home == "" {
		return nil
	}
	return []string{filepath.Join(home, ".ssh", "known_hosts")}
}

func userHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}

// loadSSHAuthMethods loads unencrypted private keys from ~/.ssh
func loadSSHAuthMethods() ([]ssh.AuthMethod, error) {
	home := userHomeDir()
	if home == "" {
		return nil, errors.New("cannot determine home directory")
	}
	sshDir := filepath.Join(home, ".ssh")

	keyFiles := []string{"id_ed25519", "id_ecdsa", "id_rsa"}
	var signers []ssh.Signer
	for _, keyFile := range keyFiles {
		keyBytes, err := os.ReadFile(filepath.Join(sshDir, keyFile))
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			// Passphrase-protected keys are skipped
			continue
		}
		signers = append(signers, signer)
	}

	if len(signers) == 0 {
		return nil, nil
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signers...)}, nil
}

func promptAcceptHostKey(hostname string, remote net.Addr, fingerprint string, paths []string) (bool, error) {
	fmt.Printf("\nThe authenticity of host '%s' (%s) can't be established.\n", hostname, remoteString(remote))
	fmt.Printf("SSH key fingerprint is %s.\n", fingerprint)
	if len(paths) > 0 {
		fmt.Printf("If you accept, the key will be written to %s once the connection is verified.\n", paths[0])
	} else {
		fmt.Println("No writable known_hosts file detected; acceptance will apply to this session only.")
	}

	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Do you trust this host? (yes/no) [no]: ")
	answer, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	answer = strings.TrimSpace(strings.ToLower(answer))
	return answer == "yes" || answer == "y", nil
}

func appendKnownHost(path, hostname, serverVersion string, key ssh.PublicKey) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	line := knownhosts.Line([]string{hostname}, key)
	line = fmt.Sprintf("%s oscar jump host banner=%s added=%s", line, serverVersion, time.Now().Format(time.RFC3339))
	_, err = fmt.Fprintln(f, line)
	return err
}

func remoteString(remote net.Addr) string {
	if remote == nil {
		return "unknown"
	}
	return remote.String()
}

func isInteractive() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func fingerprintForKey(key ssh.PublicKey) string {
	if key == nil {
		return "unknown"
	}
	return ssh.FingerprintSHA256(key)
}
