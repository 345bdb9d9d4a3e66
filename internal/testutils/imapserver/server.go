package imapserver

import (
	"errors"
	"testing"

	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
)

// Server is an in-memory IMAP fixture exposing a single INBOX, matching
// this system's use of IMAP (no mailbox routing -- routing happens in
// the maildir store after fetch, not via IMAP mailboxes).
type Server struct {
	UserName     string
	UserPasswd   string
	ListenAddr   string
	InboxMailBox string

	srv *imapserver.Server
	ch  chan error
}

func StartServer(t *testing.T) *Server {
	srv := Server{
		UserName:     "user",
		UserPasswd:   "none",
		ListenAddr:   "localhost:10143",
		InboxMailBox: "INBOX",
		ch:           make(chan error, 2),
	}

	user := imapmemserver.NewUser(srv.UserName, srv.UserPasswd)
	createMailbox(t, user, srv.InboxMailBox)

	msrv := imapmemserver.New()
	msrv.AddUser(user)

	isrv := imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return msrv.NewSession(), nil, nil
		},
		Logger:       testLoggerAsImapServerLogger(t),
		InsecureAuth: true,
	})
	srv.srv = isrv

	t.Cleanup(func() { _ = isrv.Close() })
	go func() {
		err := isrv.ListenAndServe(srv.ListenAddr)
		srv.ch <- err
		close(srv.ch)
	}()

	return &srv
}

func createMailbox(t *testing.T, user *imapmemserver.User, mailboxName string) {
	if err := user.Create(mailboxName, nil); err != nil {
		t.Fatalf("creating %s mailbox failed: %s", mailboxName, err)
	}
}

func (s *Server) Close() error {
	err := s.srv.Close()

	for chErr := range s.ch {
		err = errors.Join(err, chErr)
	}
	return err
}
