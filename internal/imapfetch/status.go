package imapfetch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const timeLayout = time.RFC3339Nano

func parseStatusTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// StatusFileName is the file the scanner process persists its
// [FetcherHealth] snapshot to, so the separate health/briefing CLI
// invocations -- which never hold a live IMAP session -- can read it.
const StatusFileName = ".fetcher-status.json"

// StatusPath returns the status file path under a maildir root.
func StatusPath(maildirRoot string) string {
	return filepath.Join(maildirRoot, StatusFileName)
}

type statusFileContent struct {
	Connected           bool    `json:"connected"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	LastSuccessfulFetch *string `json:"last_successful_fetch,omitempty"`
	LastError           *string `json:"last_error,omitempty"`
}

// WriteStatusFile persists h to path, using a temp-file-then-rename so a
// concurrent reader never observes a partial write.
func WriteStatusFile(path string, h FetcherHealth) error {
	content := statusFileContent{
		Connected:           h.Connected,
		ConsecutiveFailures: h.ConsecutiveFailures,
		LastError:           h.LastError,
	}
	if h.LastSuccessfulFetch != nil {
		s := h.LastSuccessfulFetch.Format(timeLayout)
		content.LastSuccessfulFetch = &s
	}

	buf, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("marshaling fetcher status failed: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o660); err != nil {
		return fmt.Errorf("writing fetcher status temp file failed: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming fetcher status file failed: %w", err)
	}
	return nil
}

// ReadStatusFile reads a [FetcherHealth] snapshot written by
// [WriteStatusFile]. A missing file is reported as a disconnected,
// zero-value snapshot rather than an error -- the scanner may not have
// run yet.
func ReadStatusFile(path string) (FetcherHealth, error) {
	buf, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return FetcherHealth{}, nil
	}
	if err != nil {
		return FetcherHealth{}, fmt.Errorf("reading fetcher status file failed: %w", err)
	}

	var content statusFileContent
	if err := json.Unmarshal(buf, &content); err != nil {
		return FetcherHealth{}, fmt.Errorf("parsing fetcher status file failed: %w", err)
	}

	h := FetcherHealth{
		Connected:           content.Connected,
		ConsecutiveFailures: content.ConsecutiveFailures,
		LastError:           content.LastError,
	}
	if content.LastSuccessfulFetch != nil {
		t, err := parseStatusTime(*content.LastSuccessfulFetch)
		if err == nil {
			h.LastSuccessfulFetch = &t
		}
	}
	return h, nil
}

// StatusFile is a [FetcherHealth] source backed by a file on disk,
// satisfying the same interface a live [Fetcher] does, for use by
// processes that don't hold an open IMAP session.
type StatusFile struct {
	path string
}

func NewStatusFile(path string) *StatusFile {
	return &StatusFile{path: path}
}

// Health reads the current snapshot from disk. A read error is reported
// as a disconnected snapshot -- the caller has no live connection to
// fall back on either way.
func (s *StatusFile) Health() FetcherHealth {
	h, err := ReadStatusFile(s.path)
	if err != nil {
		return FetcherHealth{Connected: false}
	}
	return h
}
