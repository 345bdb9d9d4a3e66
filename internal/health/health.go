// Package health aggregates a read-only view over the staging store, the
// LMTP deliverer, and the IMAP fetcher for the health CLI and the daily
// briefing (both external to this module). It formats nothing itself.
package health

import (
	"time"

	"github.com/fho/postal-inspector/internal/imapfetch"
	"github.com/fho/postal-inspector/internal/lmtp"
	"github.com/fho/postal-inspector/internal/maildir"
)

// Snapshot is the aggregated state at the moment [Probe.Check] was called.
type Snapshot struct {
	StagingCount  int
	FailedCount   int
	LMTPReachable bool
	Fetcher       imapfetch.FetcherHealth
}

// FetcherHealthSource reports an IMAP fetcher's connection health.
// Satisfied by a live *imapfetch.Fetcher when the probe runs in the same
// process as the scanner, or by *imapfetch.StatusFile when it runs as a
// separate CLI invocation reading the scanner's persisted status.
type FetcherHealthSource interface {
	Health() imapfetch.FetcherHealth
}

// Probe reads state from the staging store, the LMTP deliverer, and the
// IMAP fetcher. It never mutates any of them.
type Probe struct {
	store   *maildir.Store
	lmtpClt *lmtp.Client
	fetcher FetcherHealthSource
}

func New(store *maildir.Store, lmtpClt *lmtp.Client, fetcher FetcherHealthSource) *Probe {
	return &Probe{store: store, lmtpClt: lmtpClt, fetcher: fetcher}
}

// Check gathers a fresh snapshot. CheckConnectivity dials the LMTP server,
// so this call can block for up to its connect/read timeouts.
func (p *Probe) Check() Snapshot {
	return Snapshot{
		StagingCount:  p.store.CountStaging(),
		FailedCount:   p.store.CountFailed(),
		LMTPReachable: p.lmtpClt.CheckConnectivity(),
		Fetcher:       p.fetcher.Health(),
	}
}

// Severity levels returned by [Snapshot.Severity], matching the health
// CLI's exit codes (0 healthy, 1 warning, 2 critical).
type Severity int

const (
	Healthy Severity = iota
	Warning
	Critical
)

func (s Severity) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

const (
	staleWarnAfter     = time.Hour
	staleCriticalAfter = 6 * time.Hour
)

// Severity classifies the snapshot: not connected or LMTP unreachable is
// critical; a last-successful-fetch older than 6h is critical, older than
// 1h is a warning; any failed item is a warning. Otherwise healthy.
func (s Snapshot) Severity(now time.Time) Severity {
	if !s.Fetcher.Connected || !s.LMTPReachable {
		return Critical
	}

	if s.Fetcher.LastSuccessfulFetch != nil {
		age := now.Sub(*s.Fetcher.LastSuccessfulFetch)
		if age >= staleCriticalAfter {
			return Critical
		}
		if age >= staleWarnAfter {
			return Warning
		}
	}

	if s.FailedCount > 0 {
		return Warning
	}

	return Healthy
}
