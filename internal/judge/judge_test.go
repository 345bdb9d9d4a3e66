package judge_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/fho/postal-inspector/internal/judge"
	"github.com/fho/postal-inspector/internal/testutils/assert"
	fakejudge "github.com/fho/postal-inspector/internal/testutils/judge"
)

func newClient(t *testing.T, baseURL string) *judge.Client {
	t.Helper()
	return judge.New(judge.Config{
		BaseURL:            baseURL,
		APIKey:             "test-key",
		Model:              "test-model",
		RateLimitPerMinute: 100,
	})
}

func TestClassifySafe(t *testing.T) {
	srv := fakejudge.Start(t, fakejudge.RespondWithText("SAFE|Newsletter from known sender"))
	c := newClient(t, srv.URL)

	result := c.Classify(context.Background(), judge.Prompt{From: "a@b.com", To: "c@d.com", Subject: "hi", BodyPreview: "hello"})
	assert.Equal(t, judge.Safe, result.Verdict)
	assert.Equal(t, "Newsletter from known sender", result.Reason)
}

func TestClassifyQuarantine(t *testing.T) {
	srv := fakejudge.Start(t, fakejudge.RespondWithText("QUARANTINE|Typosquatting domain"))
	c := newClient(t, srv.URL)

	result := c.Classify(context.Background(), judge.Prompt{From: "a@micros0ft.com"})
	assert.Equal(t, judge.Quarantine, result.Verdict)
}

func TestClassifyFailsClosedOnMalformedResponse(t *testing.T) {
	srv := fakejudge.Start(t, fakejudge.RespondWithText("I cannot comply with that request"))
	c := newClient(t, srv.URL)

	result := c.Classify(context.Background(), judge.Prompt{})
	assert.Equal(t, judge.Quarantine, result.Verdict)
	assert.Equal(t, "Invalid AI response format", result.Reason)
}

func TestClassifyPicksFirstValidLine(t *testing.T) {
	srv := fakejudge.Start(t, fakejudge.RespondWithText("some preamble\nSAFE|Looks fine\nQUARANTINE|ignored"))
	c := newClient(t, srv.URL)

	result := c.Classify(context.Background(), judge.Prompt{})
	assert.Equal(t, judge.Safe, result.Verdict)
	assert.Equal(t, "Looks fine", result.Reason)
}

func TestClassifyFailsClosedOnHTTPError(t *testing.T) {
	srv := fakejudge.Start(t, fakejudge.RespondWithStatus(http.StatusInternalServerError))
	c := newClient(t, srv.URL)

	result := c.Classify(context.Background(), judge.Prompt{})
	assert.Equal(t, judge.Quarantine, result.Verdict)
}

func TestClassifyFailsClosedOnUnreachableServer(t *testing.T) {
	c := newClient(t, "http://127.0.0.1:1")

	result := c.Classify(context.Background(), judge.Prompt{})
	assert.Equal(t, judge.Quarantine, result.Verdict)
}
