package mailmsg_test

import (
	"strings"
	"testing"

	"github.com/fho/postal-inspector/internal/mailmsg"
	"github.com/fho/postal-inspector/internal/testutils/assert"
)

const simpleMail = "From: news@linkedin.com\r\n" +
	"To: user@example.com\r\n" +
	"Subject: Weekly digest\r\n" +
	"Message-Id: <abc123@linkedin.com>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Hello,\r\nhere is your weekly digest.\r\n"

const multipartMail = "From: sender@example.com\r\n" +
	"To: Recipient <rcpt@example.com>\r\n" +
	"Subject: Multipart test\r\n" +
	"Content-Type: multipart/alternative; boundary=\"BOUNDARY\"\r\n" +
	"\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"plain body text\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: text/html\r\n" +
	"\r\n" +
	"<p>html body</p>\r\n" +
	"--BOUNDARY--\r\n"

const encodedSubjectMail = "From: a@b.com\r\n" +
	"To: c@d.com\r\n" +
	"Subject: =?UTF-8?B?SGVsbG8gV29ybGQ=?=\r\n" +
	"\r\n" +
	"body\r\n"

func TestParseSimpleMessage(t *testing.T) {
	msg, err := mailmsg.Parse([]byte(simpleMail))
	assert.NoError(t, err)

	assert.Equal(t, "news@linkedin.com", msg.From)
	assert.Equal(t, "user@example.com", msg.To)
	assert.Equal(t, "Weekly digest", msg.Subject)
	assert.Equal(t, "<abc123@linkedin.com>", msg.MessageID)
	assert.Equal(t, false, msg.HasReplyTo)
	assert.Equal(t, "Hello, here is your weekly digest.", msg.BodyPreview)
}

func TestParseMultipartPicksFirstTextPlain(t *testing.T) {
	msg, err := mailmsg.Parse([]byte(multipartMail))
	assert.NoError(t, err)

	assert.Equal(t, "plain body text", msg.BodyPreview)
}

func TestParseDecodesRFC2047Subject(t *testing.T) {
	msg, err := mailmsg.Parse([]byte(encodedSubjectMail))
	assert.NoError(t, err)

	assert.Equal(t, "Hello World", msg.Subject)
}

func TestParseTruncatesBodyPreview(t *testing.T) {
	body := strings.Repeat("a", 2000)
	raw := "From: a@b.com\r\nTo: c@d.com\r\nSubject: long\r\n\r\n" + body + "\r\n"

	msg, err := mailmsg.Parse([]byte(raw))
	assert.NoError(t, err)

	if len(msg.BodyPreview) > 800 {
		t.Fatalf("expected body preview to be truncated to at most 800 chars, got %d", len(msg.BodyPreview))
	}
}

func TestParseIsIdempotent(t *testing.T) {
	raw := []byte(simpleMail)

	first, err := mailmsg.Parse(raw)
	assert.NoError(t, err)

	second, err := mailmsg.Parse(raw)
	assert.NoError(t, err)

	assert.Equal(t, first.From, second.From)
	assert.Equal(t, first.To, second.To)
	assert.Equal(t, first.Subject, second.Subject)
	assert.Equal(t, first.BodyPreview, second.BodyPreview)
}

func TestParseMalformedMessageReturnsParseError(t *testing.T) {
	_, err := mailmsg.Parse([]byte{0x00, 0x01, 0x02})
	assert.Error(t, err)

	var parseErr *mailmsg.ParseError
	if !asParseError(err, &parseErr) {
		t.Fatalf("expected a *mailmsg.ParseError, got %T: %v", err, err)
	}
}

func asParseError(err error, target **mailmsg.ParseError) bool {
	pe, ok := err.(*mailmsg.ParseError)
	if !ok {
		return false
	}
	*target = pe
	return true
}

func TestGetRecipientAddress(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Name <a@b>", "a@b"},
		{"<a@b>", "a@b"},
		{"a@b", "a@b"},
		{"", ""},
	}

	for _, c := range cases {
		got := mailmsg.GetRecipientAddress(c.in)
		assert.Equal(t, c.want, got)
	}
}
