// Package judge calls an external chat-completion AI judge to classify
// a parsed message as SAFE or QUARANTINE, failing closed on any
// ambiguity, parse error, or transport fault.
package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/fho/postal-inspector/internal/logging"
	"github.com/fho/postal-inspector/internal/ratelimit"
	"github.com/fho/postal-inspector/internal/retry"
)

const (
	defaultTimeout  = 45 * time.Second
	maxTokens       = 100
	apiVersion      = "2023-06-01"
	retryAttempts   = 3
)

var retryIntervals = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// Config configures a [Client].
type Config struct {
	// BaseURL is the chat-completion endpoint, e.g.
	// "https://api.anthropic.com/v1/messages".
	BaseURL string
	APIKey  string
	Model   string
	// Timeout bounds each HTTP attempt of a judge call; every retry gets
	// its own timeout.
	Timeout time.Duration
	// RateLimitPerMinute is the capacity of the sliding-window limiter.
	RateLimitPerMinute int
	Logger             *slog.Logger
}

// Client calls the AI judge, fail-closed.
type Client struct {
	cfg     Config
	logger  *slog.Logger
	limiter *ratelimit.Limiter
	httpClt *http.Client
}

func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Client{
		cfg:     cfg,
		logger:  logging.WithGroup(cfg.Logger, "judge"),
		limiter: ratelimit.New(cfg.RateLimitPerMinute),
		httpClt: &http.Client{Timeout: cfg.Timeout},
	}
}

type messageRequest struct {
	Model     string           `json:"model"`
	MaxTokens int              `json:"max_tokens"`
	Messages  []messagePayload `json:"messages"`
}

type messagePayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messageResponse struct {
	Content []contentBlock `json:"content"`
}

// Classify acquires a rate-limit slot, builds the sanitized scan
// prompt, and calls the judge. It never returns an error: any failure
// (transport, rate-limit exhaustion, unexpected content, parse mismatch)
// maps to a QUARANTINE verdict carrying a short reason identifying the
// failure class -- this is the fail-closed contract.
func (c *Client) Classify(ctx context.Context, p Prompt) ScanResult {
	c.limiter.Acquire()

	prompt := buildScanPrompt(p)

	raw, err := c.callWithRetry(ctx, prompt)
	if err != nil {
		c.logger.Error("judge call failed", "error", err)
		return ScanResult{
			Verdict: Quarantine,
			Reason:  truncateReason(fmt.Sprintf("AI API error: %s", err.Error())),
		}
	}

	result := parseVerdict(raw)
	c.logger.Info("scan complete", "verdict", result.Verdict, "reason", result.Reason)
	return result
}

func truncateReason(s string) string {
	const max = 40
	if len(s) > max {
		return s[:max]
	}
	return s
}

// callWithRetry makes at most 3 attempts, pausing between them according
// to retryIntervals, and retries only transport-level timeout and
// connection faults.
func (c *Client) callWithRetry(ctx context.Context, prompt string) (string, error) {
	var result string
	attempts := 0

	runner := retry.Runner{
		Fn: func() error {
			attempts++
			text, err := c.call(ctx, prompt)
			if err != nil {
				return err
			}
			result = text
			return nil
		},
		// retry.Runner only counts repeats of the same error; bound the
		// total number of attempts here as well.
		IsRetryable: func(err error) bool {
			return attempts < retryAttempts && isRetryableJudgeErr(err)
		},
		MaxRetriesSameError: retryAttempts,
		RetryIntervals:      retryIntervals,
		Logger:              c.logger,
	}

	if err := runner.Run(); err != nil {
		return "", err
	}

	return result, nil
}

func isRetryableJudgeErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF)
}

func (c *Client) call(ctx context.Context, prompt string) (string, error) {
	reqBody := messageRequest{
		Model:     c.cfg.Model,
		MaxTokens: maxTokens,
		Messages:  []messagePayload{{Role: "user", Content: prompt}},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("encoding judge request failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building judge request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClt.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		buf, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("judge returned status %s: %s", resp.Status, string(buf))
	}

	var decoded messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decoding judge response failed: %w", err)
	}

	if len(decoded.Content) == 0 {
		return "", errors.New("judge response had no content blocks")
	}

	first := decoded.Content[0]
	if first.Type != "text" {
		return "", fmt.Errorf("unexpected content type: %s", first.Type)
	}

	return first.Text, nil
}
