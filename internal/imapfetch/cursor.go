package imapfetch

import (
	"errors"
	"fmt"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// FetchedMessage is one message pulled from upstream.
type FetchedMessage struct {
	UID uint32
	Raw []byte
}

// Cursor is a finite, non-restartable sequence over the messages currently
// in INBOX. It is driven explicitly by the caller rather than hidden
// behind a coroutine, so abandoning it mid-stream (on shutdown) is just a
// matter of dropping the reference after calling [Cursor.Close].
type Cursor struct {
	f        *Fetcher
	fetchCmd *imapclient.FetchCommand
	closed   bool
}

// FetchPending selects INBOX, searches ALL, and returns a cursor over the
// matching messages. The cursor must be closed (directly, or by draining
// it to completion) before any other command is issued on the connection.
func (f *Fetcher) FetchPending() (*Cursor, error) {
	if _, err := f.clt.Select("INBOX", &imap.SelectOptions{}).Wait(); err != nil {
		f.recordFailure(err)
		return nil, &FetchError{Err: fmt.Errorf("selecting INBOX failed: %w", err)}
	}

	searchData, err := f.clt.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
	if err != nil {
		f.recordFailure(err)
		return nil, &FetchError{Err: fmt.Errorf("searching INBOX failed: %w", err)}
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return &Cursor{closed: true}, nil
	}

	var uidSet imap.UIDSet
	uidSet.AddNum(uids...)

	fetchCmd := f.clt.Fetch(uidSet, &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{{}},
	})

	return &Cursor{f: f, fetchCmd: fetchCmd}, nil
}

// Next returns the next message, or ok=false when the cursor is
// exhausted. A non-nil error means the cursor failed mid-stream and has
// already been closed; the fetcher's health reflects the failure.
func (c *Cursor) Next() (msg *FetchedMessage, ok bool, err error) {
	if c.closed {
		return nil, false, nil
	}

	msgData := c.fetchCmd.Next()
	if msgData == nil {
		_ = c.Close()
		return nil, false, nil
	}

	collected, err := msgData.Collect()
	if err != nil {
		c.f.recordFailure(err)
		_ = c.Close()
		return nil, false, &FetchError{Err: err}
	}

	if collected.UID == 0 {
		err := errors.New("message uid is 0")
		c.f.recordFailure(err)
		_ = c.Close()
		return nil, false, &FetchError{Err: err}
	}

	body := collected.FindBodySection(&imap.FetchItemBodySection{})
	if len(body) == 0 {
		err := fmt.Errorf("message UID %d has an empty body section", collected.UID)
		c.f.recordFailure(err)
		_ = c.Close()
		return nil, false, &FetchError{Err: err}
	}

	c.f.recordFetchSuccess()

	return &FetchedMessage{UID: uint32(collected.UID), Raw: body}, true, nil
}

// Close releases the underlying fetch command. Safe to call more than
// once, and safe to call on an exhausted or already-failed cursor.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	if c.fetchCmd == nil {
		return nil
	}

	return c.fetchCmd.Close()
}
