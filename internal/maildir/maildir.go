// Package maildir implements the durable on-disk queue: a staging area
// with atomic claim semantics, and the terminal folders (delivered
// archive, failed archive, quarantine) a message ends up in exactly once.
package maildir

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fho/postal-inspector/internal/logging"
)

const dirMode = 0o770
const fileMode = 0o660

// Store owns the staging directory tree and all terminal folders under a
// single maildir root, for a single local user.
type Store struct {
	root   string
	user   string
	logger *slog.Logger
}

// New returns a Store rooted at root for the given local user.
func New(root, user string, logger *slog.Logger) *Store {
	return &Store{
		root:   root,
		user:   user,
		logger: logging.WithGroup(logger, "maildir"),
	}
}

func (s *Store) userDir() string       { return filepath.Join(s.root, s.user) }
func (s *Store) quarantineDir() string { return filepath.Join(s.userDir(), ".Quarantine") }
func (s *Store) stagingDir() string    { return filepath.Join(s.root, ".staging") }
func (s *Store) deliveredDir() string  { return filepath.Join(s.stagingDir(), ".delivered") }
func (s *Store) failedDir() string     { return filepath.Join(s.stagingDir(), ".failed") }

// EnsureLayout idempotently creates the full directory tree the store
// needs: the user's Quarantine maildir folder and the staging area with
// its delivered/failed sub-archives.
func (s *Store) EnsureLayout() error {
	dirs := []string{
		filepath.Join(s.quarantineDir(), "cur"),
		filepath.Join(s.quarantineDir(), "new"),
		filepath.Join(s.quarantineDir(), "tmp"),
		s.stagingDir(),
		s.deliveredDir(),
		s.failedDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, dirMode); err != nil {
			return fmt.Errorf("creating maildir directory %q failed: %w", dir, err)
		}
	}

	return nil
}

// StagingItem is a claimed entry from the staging directory: its
// `.processing` filename and the raw bytes read from it.
type StagingItem struct {
	Filename string
	Raw      []byte
}

// SaveToStaging writes raw to a new `.mail` file in the staging directory
// and verifies, by stat-ing the file afterwards, that every byte was
// written. This is the commit point that authorizes deleting the message
// upstream: a caller must not delete upstream until this returns nil.
func (s *Store) SaveToStaging(raw []byte) (string, error) {
	filename := generateFilename("") + ".mail"
	path := filepath.Join(s.stagingDir(), filename)

	if err := writeFileMode(path, raw, fileMode); err != nil {
		return "", &StagingWriteError{Err: err}
	}

	fi, err := os.Stat(path)
	if err != nil {
		_ = os.Remove(path)
		return "", &StagingWriteError{Err: err}
	}

	if fi.Size() != int64(len(raw)) {
		_ = os.Remove(path)
		return "", &StagingWriteError{
			Err: fmt.Errorf("size mismatch: expected %d bytes, wrote %d", len(raw), fi.Size()),
		}
	}

	return filename, nil
}

// ClaimStaging lists the staging directory, and for every `.mail` entry
// attempts an atomic rename to `.processing`. A rename failure (the entry
// was already claimed, or vanished) is skipped silently, per [StagingItem]
// claim semantics — this is the only admission act into processing, and
// it must be safe for two concurrent callers over the same directory.
func (s *Store) ClaimStaging() ([]StagingItem, error) {
	entries, err := os.ReadDir(s.stagingDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing staging directory failed: %w", err)
	}

	var items []StagingItem

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".mail") {
			continue
		}

		mailPath := filepath.Join(s.stagingDir(), entry.Name())
		processingName := stripSuffix(entry.Name(), ".mail") + ".processing"
		processingPath := filepath.Join(s.stagingDir(), processingName)

		if err := os.Rename(mailPath, processingPath); err != nil {
			s.logger.Debug("claiming staging item failed, skipping",
				"filename", entry.Name(), "error", err)
			continue
		}

		raw, err := os.ReadFile(processingPath)
		if err != nil {
			s.logger.Warn("reading claimed staging item failed",
				"filename", processingName, "error", err)
			continue
		}

		items = append(items, StagingItem{Filename: processingName, Raw: raw})
	}

	return items, nil
}

// ReleaseToStaging renames a `.processing` file back to `.mail`,
// surrendering the claim so the item is eligible for the next cycle.
// Failure is logged and swallowed: the item simply remains `.processing`
// until a future startup rescue reclaims it.
func (s *Store) ReleaseToStaging(processingFilename string) {
	processingPath := filepath.Join(s.stagingDir(), processingFilename)
	mailPath := filepath.Join(s.stagingDir(), stripSuffix(processingFilename, ".processing")+".mail")

	if err := os.Rename(processingPath, mailPath); err != nil {
		s.logger.Warn("releasing staging item failed", "filename", processingFilename, "error", err)
	}
}

// RemoveStaging unlinks filename from the staging directory. Absence is
// tolerated.
func (s *Store) RemoveStaging(filename string) {
	path := filepath.Join(s.stagingDir(), filename)

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("removing staging item failed", "filename", filename, "error", err)
	}
}

// Quarantine writes raw into the user's Quarantine maildir folder and
// returns the filename it was stored as.
func (s *Store) Quarantine(raw []byte, reason string) (string, error) {
	filename := generateFilename("")
	path := filepath.Join(s.quarantineDir(), "cur", filename)

	if err := writeFileMode(path, raw, fileMode); err != nil {
		return "", fmt.Errorf("quarantining message failed: %w", err)
	}

	s.logger.Info("message quarantined", "filename", filename,
		"reason", logging.SanitizeForLog(reason, 80))

	return filename, nil
}

// ArchiveDelivered writes raw to the delivered archive. Archival is
// non-critical: failure is logged and swallowed, returning an empty
// filename, rather than propagated to the caller.
func (s *Store) ArchiveDelivered(raw []byte, messageID string) string {
	filename := generateFilename(messageID) + ".mail"
	path := filepath.Join(s.deliveredDir(), filename)

	if err := writeFileMode(path, raw, fileMode); err != nil {
		s.logger.Warn("archiving delivered message failed", "error", err)
		return ""
	}

	return filename
}

// MoveToFailed writes raw to the permanent-failure archive. Unlike
// [Store.ArchiveDelivered], failure here is fatal for the item and is
// returned to the caller.
func (s *Store) MoveToFailed(raw []byte, reason string) (string, error) {
	filename := generateFilename("") + ".mail"
	path := filepath.Join(s.failedDir(), filename)

	if err := writeFileMode(path, raw, fileMode); err != nil {
		return "", fmt.Errorf("moving message to failed folder failed: %w", err)
	}

	s.logger.Error("message failed permanently", "filename", filename,
		"reason", logging.SanitizeForLog(reason, 80))

	return filename, nil
}

// CountStaging counts pending (`.mail`) entries in the staging directory.
// A missing directory counts as zero.
func (s *Store) CountStaging() int {
	return countMailFiles(s.stagingDir())
}

// CountFailed counts entries in the failed archive. A missing directory
// counts as zero.
func (s *Store) CountFailed() int {
	return countMailFiles(s.failedDir())
}

// RescueProcessing renames every `.processing` file in the staging
// directory back to `.mail`. It must be called once at startup, before
// the first cycle, to reclaim items abandoned by a prior crash.
func (s *Store) RescueProcessing() error {
	entries, err := os.ReadDir(s.stagingDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("listing staging directory failed: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".processing") {
			continue
		}

		oldPath := filepath.Join(s.stagingDir(), entry.Name())
		newPath := filepath.Join(s.stagingDir(), stripSuffix(entry.Name(), ".processing")+".mail")

		if err := os.Rename(oldPath, newPath); err != nil {
			s.logger.Warn("rescuing abandoned processing item failed",
				"filename", entry.Name(), "error", err)
			continue
		}

		s.logger.Info("rescued abandoned processing item", "filename", entry.Name())
	}

	return nil
}

func countMailFiles(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	n := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".mail") {
			n++
		}
	}

	return n
}

func stripSuffix(name, suffix string) string {
	return strings.TrimSuffix(name, suffix)
}

func writeFileMode(path string, data []byte, mode os.FileMode) error {
	if err := os.WriteFile(path, data, mode); err != nil {
		return err
	}

	// os.WriteFile's mode is subject to umask; chmod explicitly so staging
	// files are always group-readable regardless of the process umask.
	return os.Chmod(path, mode)
}
