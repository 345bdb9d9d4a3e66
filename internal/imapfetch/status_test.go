package imapfetch_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/fho/postal-inspector/internal/imapfetch"
	"github.com/fho/postal-inspector/internal/testutils/assert"
)

func TestReadStatusFileOnMissingFileReturnsZeroValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	h, err := imapfetch.ReadStatusFile(path)
	assert.NoError(t, err)
	assert.Equal(t, false, h.Connected)
}

func TestWriteThenReadStatusFileRoundtrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	last := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	errMsg := "connection reset"
	want := imapfetch.FetcherHealth{
		Connected:           true,
		ConsecutiveFailures: 2,
		LastSuccessfulFetch: &last,
		LastError:           &errMsg,
	}

	assert.NoError(t, imapfetch.WriteStatusFile(path, want))

	got, err := imapfetch.ReadStatusFile(path)
	assert.NoError(t, err)
	assert.Equal(t, want.Connected, got.Connected)
	assert.Equal(t, want.ConsecutiveFailures, got.ConsecutiveFailures)
	assert.Equal(t, *want.LastError, *got.LastError)
	assert.Equal(t, true, got.LastSuccessfulFetch.Equal(last))
}

func TestStatusFileHealthReflectsDiskState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	sf := imapfetch.NewStatusFile(path)

	assert.Equal(t, false, sf.Health().Connected)

	assert.NoError(t, imapfetch.WriteStatusFile(path, imapfetch.FetcherHealth{Connected: true}))
	assert.Equal(t, true, sf.Health().Connected)
}

func TestStatusPathIsUnderMaildirRoot(t *testing.T) {
	got := imapfetch.StatusPath("/var/mail")
	assert.Equal(t, "/var/mail/"+imapfetch.StatusFileName, got)
}

func TestConnectPersistsStatusFile(t *testing.T) {
	// Connect against an address nothing listens on: it fails fast and
	// should still persist the (disconnected, failure-recorded) status.
	path := filepath.Join(t.TempDir(), "status.json")
	f := imapfetch.New(imapfetch.Config{Address: "127.0.0.1:1", StatusFilePath: path})

	_ = f.Connect()

	h, err := imapfetch.ReadStatusFile(path)
	assert.NoError(t, err)
	assert.Equal(t, false, h.Connected)
	if h.ConsecutiveFailures < 1 {
		t.Fatalf("expected at least 1 consecutive failure, got %d", h.ConsecutiveFailures)
	}
}
