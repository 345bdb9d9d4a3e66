package imapfetch_test

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/fho/postal-inspector/internal/imapfetch"
	"github.com/fho/postal-inspector/internal/logging"
	"github.com/fho/postal-inspector/internal/testutils/assert"
	"github.com/fho/postal-inspector/internal/testutils/imapserver"
)

const testMail = "From: someone@example.com\r\n" +
	"To: someone_else@example.com\r\n" +
	"Subject: test message\r\n" +
	"\r\n" +
	"hello there\r\n"

func testConfig(srv *imapserver.Server, t *testing.T) imapfetch.Config {
	return imapfetch.Config{
		Address:       srv.ListenAddr,
		User:          srv.UserName,
		Password:      srv.UserPasswd,
		AllowInsecure: true,
		Logger:        logging.SlogTestLogger(t),
	}
}

func newConnectedFetcher(t *testing.T, srv *imapserver.Server) *imapfetch.Fetcher {
	t.Helper()

	f := imapfetch.New(testConfig(srv, t))

	var err error
	for range 9 {
		err = f.Connect()
		if err != nil {
			t.Logf("establishing connection to imap server failed (server still starting?): %s", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}
		break
	}
	assert.NoError(t, err)

	t.Cleanup(func() { _ = f.Disconnect() })

	return f
}

// appendMessage seeds INBOX with a raw message via its own short-lived
// IMAP connection, independent of the Fetcher under test.
func appendMessage(t *testing.T, srv *imapserver.Server, raw string) {
	t.Helper()

	clt, err := imapclient.DialInsecure(srv.ListenAddr, nil)
	assert.NoError(t, err)
	defer clt.Close()

	assert.NoError(t, clt.Login(srv.UserName, srv.UserPasswd).Wait())

	appendCmd := clt.Append("INBOX", int64(len(raw)), &imap.AppendOptions{})
	_, err = io.Copy(appendCmd, strings.NewReader(raw))
	assert.NoError(t, err)
	assert.NoError(t, appendCmd.Close())

	_, err = appendCmd.Wait()
	assert.NoError(t, err)
}

func TestConnectEstablishesSession(t *testing.T) {
	srv := imapserver.StartServer(t)
	f := newConnectedFetcher(t, srv)

	health := f.Health()
	assert.Equal(t, true, health.Connected)
	assert.Equal(t, 0, health.ConsecutiveFailures)
}

func TestConnectFailsWithWrongCredentials(t *testing.T) {
	srv := imapserver.StartServer(t)

	cfg := testConfig(srv, t)
	cfg.Password = "wrong"
	f := imapfetch.New(cfg)

	// give the server a moment to finish starting up before relying on
	// the error being the expected auth failure rather than connection
	// refused
	time.Sleep(500 * time.Millisecond)

	err := f.Connect()
	assert.Error(t, err)

	health := f.Health()
	assert.Equal(t, false, health.Connected)
}

func TestFetchPendingReturnsNoMessagesOnEmptyInbox(t *testing.T) {
	srv := imapserver.StartServer(t)
	f := newConnectedFetcher(t, srv)

	cursor, err := f.FetchPending()
	assert.NoError(t, err)

	_, ok, err := cursor.Next()
	assert.NoError(t, err)
	assert.Equal(t, false, ok)
	assert.NoError(t, cursor.Close())
}

func TestFetchPendingReturnsSeededMessage(t *testing.T) {
	srv := imapserver.StartServer(t)
	appendMessage(t, srv, testMail)

	f := newConnectedFetcher(t, srv)

	cursor, err := f.FetchPending()
	assert.NoError(t, err)

	msg, ok, err := cursor.Next()
	assert.NoError(t, err)
	assert.Equal(t, true, ok)
	if !strings.Contains(string(msg.Raw), "hello there") {
		t.Fatalf("expected fetched body to contain message text, got %q", string(msg.Raw))
	}
	if msg.UID == 0 {
		t.Fatalf("expected non-zero UID")
	}

	_, ok, err = cursor.Next()
	assert.NoError(t, err)
	assert.Equal(t, false, ok)
	assert.NoError(t, cursor.Close())
}

func TestDeleteRemovesMessageFromInbox(t *testing.T) {
	srv := imapserver.StartServer(t)
	appendMessage(t, srv, testMail)

	f := newConnectedFetcher(t, srv)

	cursor, err := f.FetchPending()
	assert.NoError(t, err)
	msg, ok, err := cursor.Next()
	assert.NoError(t, err)
	assert.Equal(t, true, ok)
	assert.NoError(t, cursor.Close())

	assert.NoError(t, f.Delete(msg.UID))

	cursor, err = f.FetchPending()
	assert.NoError(t, err)
	_, ok, err = cursor.Next()
	assert.NoError(t, err)
	assert.Equal(t, false, ok)
	assert.NoError(t, cursor.Close())
}

func TestReconnectReestablishesSession(t *testing.T) {
	srv := imapserver.StartServer(t)
	f := newConnectedFetcher(t, srv)

	assert.NoError(t, f.Disconnect())
	assert.Equal(t, false, f.Health().Connected)

	assert.NoError(t, f.Reconnect())
	assert.Equal(t, true, f.Health().Connected)
}
