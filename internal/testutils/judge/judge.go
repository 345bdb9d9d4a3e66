// Package judge is an in-process fake AI judge HTTP server, modelled on
// the teacher's internal/testutils/mock.Rspamc (a canned response
// function, here a [RespondFn] fixed when [Start] is called) but speaking
// real HTTP so
// internal/judge.Client can be pointed at it with no code changes.
package judge

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// RespondFn writes the fake judge's response for one request body.
type RespondFn func(w http.ResponseWriter, requestBody []byte)

// Server is a fake judge endpoint.
type Server struct {
	*httptest.Server
	URL string
}

func Start(t *testing.T, respond RespondFn) *Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		respond(w, body)
	}))

	t.Cleanup(srv.Close)

	return &Server{Server: srv, URL: srv.URL}
}

// RespondWithText writes a canned Anthropic-shaped message response
// whose single text content block is text.
func RespondWithText(text string) RespondFn {
	return func(w http.ResponseWriter, _ []byte) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":` + jsonQuote(text) + `}]}`))
	}
}

// RespondWithStatus writes an empty body with the given status code,
// for exercising non-200 handling.
func RespondWithStatus(status int) RespondFn {
	return func(w http.ResponseWriter, _ []byte) {
		w.WriteHeader(status)
	}
}

func jsonQuote(s string) string {
	buf := make([]byte, 0, len(s)+2)
	buf = append(buf, '"')
	for _, r := range s {
		switch r {
		case '"':
			buf = append(buf, '\\', '"')
		case '\\':
			buf = append(buf, '\\', '\\')
		case '\n':
			buf = append(buf, '\\', 'n')
		default:
			buf = append(buf, string(r)...)
		}
	}
	buf = append(buf, '"')
	return string(buf)
}
