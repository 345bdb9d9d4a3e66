// Package mailmsg parses raw RFC 5322 message bytes into the addressed
// header fields and body preview the rest of the pipeline needs. It never
// returns a partially-populated message: any decoding problem is reported
// as a single [ParseError].
package mailmsg

import (
	"bytes"
	"io"
	"mime"
	"regexp"
	"strings"

	gomessage "github.com/emersion/go-message"
	msgcharset "github.com/emersion/go-message/charset"
)

// previewByteLimit is the number of raw body bytes considered for the
// preview before it is decoded and cleaned up, per the body extraction
// rule in the message model.
const previewByteLimit = 800

// ParsedMessage is the addressed, decoded view of a raw message. Fields are
// always fully populated; a parse failure never yields a partial value.
type ParsedMessage struct {
	MessageID   string
	From        string
	To          string
	ReplyTo     string
	HasReplyTo  bool
	Subject     string
	BodyPreview string
	Raw         []byte
}

// ParseError reports that raw bytes could not be turned into a
// [ParsedMessage]. It carries only the failure reason; the caller keeps
// the original bytes it passed to [Parse] for routing the message (e.g. to
// a failed folder).
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "parsing message failed: " + e.Reason
}

// Parse decodes raw RFC 5322 bytes into a ParsedMessage. Header values are
// decoded per RFC 2047; a header value that fails to decode is kept whole
// in its raw, undecoded form, with no per-fragment replacement. The body
// preview is the first 800 bytes of the first
// text/plain leaf (or of the only part), UTF-8 decoded with replacement,
// stripped of control characters, and collapsed to single-line whitespace.
func Parse(raw []byte) (*ParsedMessage, error) {
	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil {
		return nil, &ParseError{Reason: err.Error()}
	}

	h := entity.Header

	replyToRaw := h.Get("Reply-To")

	msg := &ParsedMessage{
		MessageID:  decodeHeaderValue(h.Get("Message-Id")),
		From:       decodeHeaderValue(h.Get("From")),
		To:         decodeHeaderValue(h.Get("To")),
		Subject:    decodeHeaderValue(h.Get("Subject")),
		HasReplyTo: replyToRaw != "",
		Raw:        raw,
	}

	if msg.HasReplyTo {
		msg.ReplyTo = decodeHeaderValue(replyToRaw)
	}

	body, _ := firstTextPlain(entity)
	msg.BodyPreview = buildPreview(body)

	return msg, nil
}

// firstTextPlain walks a (possibly multipart) entity depth-first and
// returns the raw bytes of the first text/plain leaf it finds. If the
// entity is not multipart, its own body is returned. A malformed or
// unreadable part is skipped rather than failing the whole parse, the way
// the teacher's message readers treat individual part errors.
func firstTextPlain(entity *gomessage.Entity) ([]byte, bool) {
	mr := entity.MultipartReader()
	if mr == nil {
		body, err := io.ReadAll(entity.Body)
		if err != nil {
			return nil, false
		}
		return body, true
	}

	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, false
		}

		ct, _, _ := part.Header.ContentType()

		switch {
		case strings.HasPrefix(ct, "multipart/"):
			if body, ok := firstTextPlain(part); ok {
				return body, true
			}
		case strings.HasPrefix(ct, "text/plain"):
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			return body, true
		}
	}
}

var collapseWhitespace = regexp.MustCompile(`\s+`)

var controlChars = regexp.MustCompile(`[\x00-\x1f\x7f]`)

func buildPreview(body []byte) string {
	if len(body) > previewByteLimit {
		body = body[:previewByteLimit]
	}

	text := strings.ToValidUTF8(string(body), "�")
	text = controlChars.ReplaceAllString(text, "")
	text = collapseWhitespace.ReplaceAllString(text, " ")

	return strings.TrimSpace(text)
}

// headerWordDecoder decodes RFC 2047 encoded words, falling back to the
// go-message charset registry for encodings the stdlib mime package
// doesn't know about natively.
var headerWordDecoder = &mime.WordDecoder{
	CharsetReader: func(charsetName string, r io.Reader) (io.Reader, error) {
		return msgcharset.Reader(charsetName, r)
	},
}

// decodeHeaderValue decodes a raw header value per RFC 2047. Header values
// that fail to decode (unknown charset, malformed encoded word) are
// returned unmodified rather than dropped.
func decodeHeaderValue(raw string) string {
	if raw == "" {
		return ""
	}

	decoded, err := headerWordDecoder.DecodeHeader(raw)
	if err != nil {
		return raw
	}

	return decoded
}
