// Package briefing provides the daily briefing's scheduling skeleton.
// The briefing's actual HTML content and templating are an external
// collaborator (spec.md §1 non-goal); this package only decides when to
// render and hands the moment off to a [Renderer].
package briefing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fho/postal-inspector/internal/health"
	"github.com/fho/postal-inspector/internal/logging"
)

// Renderer turns a health snapshot into whatever output form the caller
// wants (HTML file, console text, ...). It is the placeholder for the
// out-of-scope briefing content.
type Renderer interface {
	Render(ctx context.Context, snap health.Snapshot) error
}

// ConsoleRenderer is a minimal placeholder [Renderer] that logs the
// snapshot's counts; it exists so `briefing --now` has something to run
// before a real renderer is wired in.
type ConsoleRenderer struct {
	Logger *slog.Logger
}

func (r ConsoleRenderer) Render(_ context.Context, snap health.Snapshot) error {
	logger := logging.Ensure(r.Logger)
	logger.Info("daily briefing",
		"staging_count", snap.StagingCount,
		"failed_count", snap.FailedCount,
		"lmtp_reachable", snap.LMTPReachable,
		"fetcher_connected", snap.Fetcher.Connected,
	)
	return nil
}

// Scheduler triggers a [Renderer] once a day at a configured hour,
// driven by a cron expression rather than a timer, so the trigger
// survives process restarts landing on the right wall-clock hour.
type Scheduler struct {
	cron     *cron.Cron
	hour     int
	probe    *health.Probe
	renderer Renderer
	logger   *slog.Logger
}

// NewScheduler builds a scheduler that fires daily at hour (0-23), in
// the given IANA timezone.
func NewScheduler(probe *health.Probe, renderer Renderer, hour int, tz *time.Location, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(tz)),
		hour:     hour,
		probe:    probe,
		renderer: renderer,
		logger:   logging.WithGroup(logger, "briefing"),
	}
}

// Start schedules the daily trigger and begins running it in the
// background. Call [Scheduler.Stop] to end it.
func (s *Scheduler) Start() error {
	spec := fmt.Sprintf("0 %d * * *", s.hour)
	if _, err := s.cron.AddFunc(spec, s.runScheduled); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop ends the scheduled job, waiting for any in-flight run to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// RunNow renders the briefing immediately, bypassing the schedule; used
// by `briefing --now`.
func (s *Scheduler) RunNow() error {
	snap := s.probe.Check()
	return s.renderer.Render(context.Background(), snap)
}

func (s *Scheduler) runScheduled() {
	if err := s.RunNow(); err != nil {
		s.logger.Error("rendering briefing failed", "error", err)
	}
}
