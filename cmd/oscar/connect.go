package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aeolun/oscarchat/pkg/client"
)

type connectOptions struct {
	screenName  string
	proxy       string
	metricsAddr string
	debug       bool
	detach      bool
}

func newConnectCmd(configPath *string) *cobra.Command {
	var opts connectOptions

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Sign on and run an interactive session",
		Long:  "connect signs on with the account from the config file (password from the environment variable it names), reconnects with backoff when the connection drops and reads slash commands from stdin. Type /help once signed on.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConnect(cmd, *configPath, opts)
		},
	}
	cmd.Flags().StringVar(&opts.screenName, "screen-name", "", "Screen name (overrides config)")
	cmd.Flags().StringVar(&opts.proxy, "proxy", "", "ssh:// jump host or ws:// gateway (overrides config)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. localhost:9190)")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	cmd.Flags().BoolVar(&opts.detach, "detach", false, "Do not read commands from stdin")
	return cmd
}

func runConnect(cmd *cobra.Command, configPath string, opts connectOptions) error {
	cfg, err := client.LoadClientConfig(configPath)
	if err != nil {
		return err
	}
	if opts.screenName != "" {
		cfg.Account.ScreenName = opts.screenName
	}
	if opts.proxy != "" {
		cfg.Connection.Proxy = opts.proxy
	}
	sessionCfg, err := cfg.SessionConfig()
	if err != nil {
		return err
	}

	statePath, err := cfg.GetStateDBPath()
	if err != nil {
		return err
	}
	state, err := client.OpenState(statePath)
	if err != nil {
		return err
	}
	defer state.Close()

	logger := log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lmicroseconds)

	serverAddr := cfg.GetServerAddress()
	dialer, err := client.NewDialer(client.ResolveProxy(serverAddr, cfg.Connection.Proxy, state, logger))
	if err != nil {
		return err
	}
	if w := dialer.Warning(); w != "" {
		logger.Printf("Warning: %s", w)
	}
	logger.Printf("Connecting to %s via %s", serverAddr, dialer)
	if sessionCfg.Transfer.BytesPerSec > 0 {
		logger.Printf("File transfers capped at %s", client.FormatBandwidth(sessionCfg.Transfer.BytesPerSec))
	}

	sessionOpts := []client.Option{
		client.WithDialer(dialer),
		client.WithContactCache(state),
	}
	if opts.debug {
		sessionOpts = append(sessionOpts, client.WithLogger(logger))
	}
	if opts.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		sessionOpts = append(sessionOpts, client.WithMetrics(client.NewMetrics(reg)))
		go serveMetrics(opts.metricsAddr, reg, logger)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	console := newConsole(cmd.OutOrStdout())
	console.onSignedOn = func() {
		if err := state.SaveSuccessfulConnection(serverAddr, dialer); err != nil {
			logger.Printf("Failed to save connection history: %v", err)
		}
		if err := state.SetLastScreenName(sessionCfg.ScreenName); err != nil {
			logger.Printf("Failed to save screen name: %v", err)
		}
	}

	var lines <-chan string
	if !opts.detach {
		lines = readLines(cmd.InOrStdin(), cancel)
	}

	maxDelay := time.Duration(cfg.Connection.ReconnectMaxDelaySeconds) * time.Second
	attempt := 0
	for {
		sess := client.New(sessionCfg, console, sessionOpts...)
		console.attach(sess)

		done := make(chan struct{})
		go forwardLines(sess, console, lines, done)
		err := sess.Run(ctx)
		close(done)

		if ctx.Err() != nil || err == nil {
			return nil
		}
		if !retryable(err) || !cfg.Connection.AutoReconnect {
			return err
		}
		if console.wasSignedOn() {
			attempt = 0
		}
		attempt++
		delay := backoff(attempt, maxDelay)
		logger.Printf("Session ended: %v; reconnecting in %s (attempt %d)", err, delay, attempt)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
}

// retryable reports whether a new sign-on could end differently. Bad
// credentials and a server-initiated sign-off are final.
func retryable(err error) bool {
	var authErr *client.AuthError
	if errors.As(err, &authErr) {
		return false
	}
	return !errors.Is(err, client.ErrForcedSignOff)
}

// backoff doubles from one second up to max
func backoff(attempt int, max time.Duration) time.Duration {
	if max <= 0 {
		max = 30 * time.Second
	}
	delay := time.Second
	for i := 1; i < attempt && delay < max; i++ {
		delay *= 2
	}
	if delay > max {
		delay = max
	}
	return delay
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	logger.Printf("Serving metrics on http://%s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Printf("Metrics server error: %v", err)
	}
}

// readLines feeds stdin lines to the session loop. End of input stops the
// client.
func readLines(r io.Reader, stop context.CancelFunc) <-chan string {
	lines := make(chan string)
	go func() {
		defer stop()
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// forwardLines hands each input line to the session goroutine until done
func forwardLines(sess *client.Session, c *console, lines <-chan string, done <-chan struct{}) {
	for {
		select {
		case line := <-lines:
			if !sess.Post(func() { c.execute(line) }) {
				c.printf("not connected, dropped %q\n", line)
				return
			}
		case <-done:
			return
		}
	}
}
