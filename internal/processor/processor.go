// Package processor implements the single driver loop that ties the
// fetcher, maildir store, judge, and LMTP deliverer together: drain
// staging, fetch new mail, stage it, delete it upstream, then run every
// staged item through parse -> scan -> deliver/quarantine/fail.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fho/postal-inspector/internal/imapfetch"
	"github.com/fho/postal-inspector/internal/judge"
	"github.com/fho/postal-inspector/internal/lmtp"
	"github.com/fho/postal-inspector/internal/logging"
	"github.com/fho/postal-inspector/internal/maildir"
	"github.com/fho/postal-inspector/internal/mailmsg"
)

// Config configures a [Processor].
type Config struct {
	FetchInterval time.Duration
	MaxRetries    int
	Logger        *slog.Logger
}

// Processor drives one mailbox's fetch/scan/deliver cycle. It is not
// safe for concurrent use: exactly one goroutine must call [Processor.Run].
type Processor struct {
	cfg     Config
	fetcher *imapfetch.Fetcher
	store   *maildir.Store
	lmtpClt *lmtp.Client
	judgeClt *judge.Client
	logger  *slog.Logger

	retries map[string]int

	stopCh   chan struct{}
	stopOnce sync.Once
	wgRun    sync.WaitGroup
}

func New(cfg Config, fetcher *imapfetch.Fetcher, store *maildir.Store, lmtpClt *lmtp.Client, judgeClt *judge.Client) *Processor {
	return &Processor{
		cfg:      cfg,
		fetcher:  fetcher,
		store:    store,
		lmtpClt:  lmtpClt,
		judgeClt: judgeClt,
		logger:   logging.WithGroup(cfg.Logger, "processor"),
		retries:  make(map[string]int),
		stopCh:   make(chan struct{}),
	}
}

// Run performs the startup rescue, then loops: run one cycle, wait for
// either the next tick or a shutdown request. It returns when
// [Processor.RequestShutdown] is called.
func (p *Processor) Run() error {
	p.wgRun.Add(1)
	defer p.wgRun.Done()

	if err := p.store.RescueProcessing(); err != nil {
		return fmt.Errorf("rescuing abandoned staging items failed: %w", err)
	}

	for {
		p.runCycle()

		select {
		case <-time.After(p.cfg.FetchInterval):
		case <-p.stopCh:
			return nil
		}
	}
}

// RequestShutdown signals the run loop to stop after the current cycle
// (or inter-cycle wait) completes, then waits for it to exit.
func (p *Processor) RequestShutdown() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	p.wgRun.Wait()
}

func (p *Processor) shuttingDown() bool {
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}

// RunOnce runs exactly one cycle; exposed for CLI one-shot invocations
// and tests.
func (p *Processor) RunOnce() {
	p.runCycle()
}

func (p *Processor) runCycle() {
	p.drainStaging()
	if p.shuttingDown() {
		return
	}
	p.fetchAndProcess()
}

// drainStaging claims every staged item and runs it through
// parse/scan/deliver before any new upstream message is admitted, so a
// steady inflow can never starve prior-run leftovers.
func (p *Processor) drainStaging() {
	items, err := p.store.ClaimStaging()
	if err != nil {
		p.logger.Error("claiming staging items failed", "error", err)
		return
	}

	for _, item := range items {
		if p.shuttingDown() {
			return
		}
		p.processItem(item.Raw, item.Filename)
	}
}

// fetchAndProcess pulls every pending upstream message, stages it,
// deletes it upstream, then processes it immediately with identical
// semantics to a drained item.
func (p *Processor) fetchAndProcess() {
	cursor, err := p.fetcher.FetchPending()
	if err != nil {
		p.logger.Error("fetching pending messages failed, reconnecting", "error", err)
		if rErr := p.fetcher.Reconnect(); rErr != nil {
			p.logger.Error("reconnecting to imap server failed, will retry next cycle", "error", rErr)
		}
		return
	}
	defer cursor.Close()

	for {
		if p.shuttingDown() {
			return
		}

		msg, ok, err := cursor.Next()
		if err != nil {
			p.logger.Warn("fetch stream ended with an error, resuming next cycle", "error", err)
			return
		}
		if !ok {
			return
		}

		filename, err := p.store.SaveToStaging(msg.Raw)
		if err != nil {
			p.logger.Error("saving message to staging failed, leaving on upstream", "uid", msg.UID, "error", err)
			continue
		}

		if err := p.fetcher.Delete(msg.UID); err != nil {
			p.logger.Error("deleting upstream message failed, local copy is durable", "uid", msg.UID, "error", err)
		}

		p.processItem(msg.Raw, filename)
	}
}

// processItem runs the parse -> scan -> deliver/quarantine/fail state
// machine for one staged item.
func (p *Processor) processItem(raw []byte, stagingFilename string) {
	parsed, err := mailmsg.Parse(raw)
	if err != nil {
		p.logger.Error("parsing message failed", "error", err)
		if _, mfErr := p.store.MoveToFailed(raw, fmt.Sprintf("Parse error: %s", err)); mfErr != nil {
			p.logger.Error("moving unparsable message to failed failed", "error", mfErr)
			return
		}
		p.store.RemoveStaging(stagingFilename)
		return
	}

	result := p.judgeClt.Classify(context.Background(), judge.Prompt{
		From:        parsed.From,
		To:          parsed.To,
		ReplyTo:     parsed.ReplyTo,
		Subject:     parsed.Subject,
		BodyPreview: parsed.BodyPreview,
	})

	if result.Verdict == judge.Quarantine {
		if _, err := p.store.Quarantine(raw, result.Reason); err != nil {
			p.logger.Error("quarantining message failed, leaving in staging", "error", err)
			return
		}
		p.store.RemoveStaging(stagingFilename)
		p.clearRetry(parsed.MessageID)
		return
	}

	p.deliver(raw, parsed, stagingFilename)
}

func (p *Processor) deliver(raw []byte, parsed *mailmsg.ParsedMessage, stagingFilename string) {
	recipient := parsed.RecipientAddress()

	outcome, err := p.lmtpClt.Deliver(raw, recipient)

	switch outcome {
	case lmtp.Success:
		if filename := p.store.ArchiveDelivered(raw, parsed.MessageID); filename == "" {
			p.logger.Warn("archiving delivered message failed, it stays counted as delivered")
		}
		p.store.RemoveStaging(stagingFilename)
		p.clearRetry(parsed.MessageID)

	case lmtp.PermanentFailure, lmtp.TemporaryFailure:
		reason := "LMTP temporary failure"
		if err != nil {
			reason = err.Error()
		}
		p.handleDeliveryFailure(raw, parsed, stagingFilename, reason)
	}
}

func (p *Processor) handleDeliveryFailure(raw []byte, parsed *mailmsg.ParsedMessage, stagingFilename, reason string) {
	count := p.incrementRetry(parsed.MessageID)

	if count >= p.cfg.MaxRetries {
		p.logger.Error("max retries exceeded", "message_id", parsed.MessageID, "retries", count)
		if _, err := p.store.MoveToFailed(raw, fmt.Sprintf("Max retries (%d): %s", count, reason)); err != nil {
			p.logger.Error("moving message to failed failed, leaving in staging", "error", err)
			return
		}
		p.store.RemoveStaging(stagingFilename)
		p.clearRetry(parsed.MessageID)
		return
	}

	p.logger.Warn("delivery failed, releasing to staging for retry", "message_id", parsed.MessageID, "attempt", count, "max_retries", p.cfg.MaxRetries)

	// a freshly-staged item (not yet claimed) is already sitting in
	// staging as a .mail file -- only a claimed (.processing) item
	// needs to be renamed back.
	if strings.HasSuffix(stagingFilename, ".processing") {
		p.store.ReleaseToStaging(stagingFilename)
	}
}

func (p *Processor) incrementRetry(messageID string) int {
	p.retries[messageID]++
	return p.retries[messageID]
}

func (p *Processor) clearRetry(messageID string) {
	delete(p.retries, messageID)
}
