package health_test

import (
	"testing"
	"time"

	"github.com/fho/postal-inspector/internal/health"
	"github.com/fho/postal-inspector/internal/imapfetch"
	"github.com/fho/postal-inspector/internal/lmtp"
	"github.com/fho/postal-inspector/internal/logging"
	"github.com/fho/postal-inspector/internal/maildir"
	"github.com/fho/postal-inspector/internal/testutils/assert"
	fakelmtp "github.com/fho/postal-inspector/internal/testutils/lmtp"
)

func newStore(t *testing.T) *maildir.Store {
	t.Helper()
	s := maildir.New(t.TempDir(), "user", logging.SlogTestLogger(t))
	assert.NoError(t, s.EnsureLayout())
	return s
}

func TestCheckReportsStagingAndFailedCounts(t *testing.T) {
	store := newStore(t)
	_, err := store.SaveToStaging([]byte("From: a@b\r\nTo: c@d\r\n\r\nhi\r\n"))
	assert.NoError(t, err)
	_, err = store.MoveToFailed([]byte("From: a@b\r\nTo: c@d\r\n\r\nhi\r\n"), "boom")
	assert.NoError(t, err)

	lmtpSrv := fakelmtp.Start(t, nil, "")
	lmtpClt := lmtp.New(lmtp.Config{Address: lmtpSrv.Addr, Logger: logging.SlogTestLogger(t)})
	fetcher := imapfetch.New(imapfetch.Config{Address: "localhost:0", Logger: logging.SlogTestLogger(t)})

	p := health.New(store, lmtpClt, fetcher)
	snap := p.Check()

	assert.Equal(t, 1, snap.StagingCount)
	assert.Equal(t, 1, snap.FailedCount)
	assert.Equal(t, true, snap.LMTPReachable)
	assert.Equal(t, false, snap.Fetcher.Connected)
}

func TestCheckReportsLMTPUnreachable(t *testing.T) {
	store := newStore(t)
	lmtpClt := lmtp.New(lmtp.Config{Address: "127.0.0.1:1", Logger: logging.SlogTestLogger(t)})
	fetcher := imapfetch.New(imapfetch.Config{Address: "localhost:0", Logger: logging.SlogTestLogger(t)})

	p := health.New(store, lmtpClt, fetcher)
	snap := p.Check()

	assert.Equal(t, false, snap.LMTPReachable)
}

func TestSeverityHealthyWhenNothingWrong(t *testing.T) {
	now := time.Now()
	last := now.Add(-10 * time.Minute)
	snap := health.Snapshot{
		LMTPReachable: true,
		Fetcher:       imapfetch.FetcherHealth{Connected: true, LastSuccessfulFetch: &last},
	}
	assert.Equal(t, health.Healthy, snap.Severity(now))
}

func TestSeverityCriticalWhenDisconnected(t *testing.T) {
	now := time.Now()
	snap := health.Snapshot{LMTPReachable: true, Fetcher: imapfetch.FetcherHealth{Connected: false}}
	assert.Equal(t, health.Critical, snap.Severity(now))
}

func TestSeverityCriticalWhenLMTPUnreachable(t *testing.T) {
	now := time.Now()
	snap := health.Snapshot{LMTPReachable: false, Fetcher: imapfetch.FetcherHealth{Connected: true}}
	assert.Equal(t, health.Critical, snap.Severity(now))
}

func TestSeverityWarningOnStaleFetch(t *testing.T) {
	now := time.Now()
	last := now.Add(-90 * time.Minute)
	snap := health.Snapshot{
		LMTPReachable: true,
		Fetcher:       imapfetch.FetcherHealth{Connected: true, LastSuccessfulFetch: &last},
	}
	assert.Equal(t, health.Warning, snap.Severity(now))
}

func TestSeverityCriticalOnVeryStaleFetch(t *testing.T) {
	now := time.Now()
	last := now.Add(-7 * time.Hour)
	snap := health.Snapshot{
		LMTPReachable: true,
		Fetcher:       imapfetch.FetcherHealth{Connected: true, LastSuccessfulFetch: &last},
	}
	assert.Equal(t, health.Critical, snap.Severity(now))
}

func TestSeverityWarningOnFailedItems(t *testing.T) {
	now := time.Now()
	last := now.Add(-time.Minute)
	snap := health.Snapshot{
		LMTPReachable: true,
		FailedCount:   2,
		Fetcher:       imapfetch.FetcherHealth{Connected: true, LastSuccessfulFetch: &last},
	}
	assert.Equal(t, health.Warning, snap.Severity(now))
}
