package maildir

import (
	"crypto/md5" //nolint:gosec // used only for filename uniqueness, not security
	"encoding/hex"
	"fmt"
	"os"
	"time"
)

// generateFilename builds a content-independent, globally unique maildir
// filename: microsecond timestamp, a 16-hex-char uniqueness hash, and the
// short hostname. The hash's only role is disambiguating concurrent
// writers and process re-entry; it says nothing about the message
// contents, so terminal filenames never leak header data.
func generateFilename(messageID string) string {
	us := time.Now().UnixMicro()
	hostname := shortHostname()
	sum := md5.Sum(fmt.Appendf(nil, "%d%d%s", us, os.Getpid(), messageID)) //nolint:gosec

	return fmt.Sprintf("%d.%s.%s", us, hex.EncodeToString(sum[:])[:16], hostname)
}

func shortHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	if len(hostname) > 16 {
		hostname = hostname[:16]
	}

	return hostname
}
