// Package imapfetch implements the upstream IMAP client: connect with a
// bounded timeout, reconnect with backoff, pull every pending message by
// UID, and flag+expunge once a message is durably staged. It deliberately
// does not use IMAP IDLE -- the processor polls on a timer instead.
package imapfetch

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/fho/postal-inspector/internal/logging"
	"github.com/fho/postal-inspector/internal/neterr"
	"github.com/fho/postal-inspector/internal/retry"
)

const (
	dialTimeout = 30 * time.Second

	maxReconnectAttempts = 5
)

var reconnectBackoff = []time.Duration{
	5 * time.Second,
	10 * time.Second,
	20 * time.Second,
	40 * time.Second,
	80 * time.Second,
}

// Config configures a [Fetcher].
type Config struct {
	// Address is host:port of the upstream IMAP server. Port 993 (or
	// "imaps") establishes implicit TLS; any other port establishes
	// explicit TLS via STARTTLS.
	Address  string
	User     string
	Password string
	// AllowInsecure permits falling back to an unencrypted connection
	// when the server doesn't support STARTTLS. Only meant for tests
	// against a local fixture server.
	AllowInsecure bool
	Logger        *slog.Logger
	// StatusFilePath, if set, persists the fetcher's [FetcherHealth]
	// snapshot to disk on every state change so the separate health and
	// briefing CLI invocations, which never hold a live session, can
	// read it. See [StatusFile].
	StatusFilePath string
}

// FetcherHealth is a snapshot of the fetcher's connection state, read by
// the health probe. It is updated by the fetcher only.
type FetcherHealth struct {
	Connected           bool
	ConsecutiveFailures int
	LastSuccessfulFetch *time.Time
	LastError           *string
}

// Fetcher owns a single IMAP session. It must not be shared across
// goroutines.
type Fetcher struct {
	cfg    Config
	logger *slog.Logger

	clt *imapclient.Client

	mu     sync.Mutex
	health FetcherHealth
}

// New returns a Fetcher. [Fetcher.Connect] must be called before any
// other method.
func New(cfg Config) *Fetcher {
	return &Fetcher{
		cfg:    cfg,
		logger: logging.WithGroup(cfg.Logger, "imapfetch"),
	}
}

// Connect opens a TLS connection with a 30s I/O timeout and authenticates.
// On success it resets the health state; on failure it records the error
// and increments the consecutive-failure count.
func (f *Fetcher) Connect() error {
	clt, err := f.dial()
	if err != nil {
		f.recordFailure(err)
		return &ConnectError{Err: err}
	}

	if err := clt.Login(f.cfg.User, f.cfg.Password).Wait(); err != nil {
		_ = clt.Close()
		f.recordFailure(err)
		return &ConnectError{Err: err}
	}

	f.clt = clt

	f.mu.Lock()
	f.health.Connected = true
	f.health.ConsecutiveFailures = 0
	f.health.LastError = nil
	f.mu.Unlock()

	f.persistStatus()

	f.logger.Info("connection established, authentication succeeded",
		"event", "imap.connection_established")

	return nil
}

// persistStatus writes the current health snapshot to
// [Config.StatusFilePath] if one is configured. Failures are logged,
// never returned -- this is a best-effort side channel for the health
// probe, not load-bearing for the fetcher's own operation.
func (f *Fetcher) persistStatus() {
	if f.cfg.StatusFilePath == "" {
		return
	}
	if err := WriteStatusFile(f.cfg.StatusFilePath, f.Health()); err != nil {
		f.logger.Warn("persisting fetcher status failed", "error", err)
	}
}

func (f *Fetcher) dial() (*imapclient.Client, error) {
	_, port, err := net.SplitHostPort(f.cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("parsing imap server address %q failed: %w", f.cfg.Address, err)
	}

	opts := &imapclient.Options{
		TLSConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		Dialer:    &net.Dialer{Timeout: dialTimeout},
	}

	logger := f.logger.With("server", f.cfg.Address, "timeout", dialTimeout)

	if port == "993" || port == "imaps" {
		logger.Debug("connecting to imap server", "tlsmode", "implicit")
		return imapclient.DialTLS(f.cfg.Address, opts)
	}

	logger.Debug("connecting to imap server", "tlsmode", "explicit")
	clt, err := imapclient.DialStartTLS(f.cfg.Address, opts)
	if err != nil && f.cfg.AllowInsecure && isStartTLSNotSupportedErr(err) {
		logger.Warn("establishing secure connection failed, connecting without encryption",
			"tlsmode", "none", "error", err)
		return imapclient.DialInsecure(f.cfg.Address, opts)
	}

	return clt, err
}

func isStartTLSNotSupportedErr(err error) bool {
	var imapErr *imap.Error

	if errors.As(err, &imapErr) {
		return imapErr.Text == "STARTTLS not supported"
	}

	return false
}

// Reconnect disconnects cleanly (if connected) and calls [Fetcher.Connect]
// at most 5 times. Pauses are taken from reconnectBackoff (5s, doubling):
// retry.Runner moves to the next, longer pause only while the same error
// repeats, and starts over at 5s whenever the error differs from the
// previous one. Only transport-level faults (connection refused/reset, timeouts,
// unreachable) are retried; a rejected login is not, since retrying bad
// credentials wastes the whole backoff budget on an error that will
// never clear itself.
func (f *Fetcher) Reconnect() error {
	_ = f.Disconnect()

	attempts := 0
	runner := retry.Runner{
		Fn: func() error {
			attempts++
			return f.Connect()
		},
		// retry.Runner only counts repeats of the same error; bound the
		// total number of attempts here as well.
		IsRetryable: func(err error) bool {
			return attempts < maxReconnectAttempts && neterr.IsRetryableError(err)
		},
		MaxRetriesSameError: maxReconnectAttempts,
		RetryIntervals:      reconnectBackoff,
		Logger:              f.logger,
	}

	return runner.Run()
}

// Disconnect best-effort logs out and resets the client state.
func (f *Fetcher) Disconnect() error {
	if f.clt == nil {
		return nil
	}

	logoutErr := f.clt.Logout().Wait()
	closeErr := f.clt.Close()
	f.clt = nil

	f.mu.Lock()
	f.health.Connected = false
	f.mu.Unlock()

	f.persistStatus()

	return errors.Join(logoutErr, closeErr)
}

// Delete re-selects INBOX, flags uid \Deleted and expunges. Failure here
// does not affect the connected health flag: delete can fail for reasons
// specific to one message.
func (f *Fetcher) Delete(uid uint32) error {
	if _, err := f.clt.Select("INBOX", &imap.SelectOptions{}).Wait(); err != nil {
		return &DeleteError{Err: fmt.Errorf("selecting INBOX failed: %w", err)}
	}

	var uidSet imap.UIDSet
	uidSet.AddNum(imap.UID(uid))

	storeCmd := f.clt.Store(uidSet, &imap.StoreFlags{
		Op:    imap.StoreFlagsAdd,
		Flags: []imap.Flag{imap.FlagDeleted},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return &DeleteError{Err: fmt.Errorf("flagging message %d as deleted failed: %w", uid, err)}
	}

	if err := f.clt.Expunge().Close(); err != nil {
		return &DeleteError{Err: fmt.Errorf("expunging mailbox failed: %w", err)}
	}

	return nil
}

// Health returns a copy of the current connection health.
func (f *Fetcher) Health() FetcherHealth {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health
}

func (f *Fetcher) recordFailure(err error) {
	f.mu.Lock()
	f.health.Connected = false
	f.health.ConsecutiveFailures++
	msg := err.Error()
	f.health.LastError = &msg
	f.mu.Unlock()

	f.persistStatus()
}

func (f *Fetcher) recordFetchSuccess() {
	f.mu.Lock()
	now := time.Now()
	f.health.LastSuccessfulFetch = &now
	f.mu.Unlock()

	f.persistStatus()
}
