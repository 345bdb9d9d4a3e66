// Command postal-inspector is the CLI dispatcher: `scanner` runs the
// fetch/scan/deliver loop, `briefing` renders or schedules the daily
// summary, `health` prints a point-in-time status and exits with a code
// a monitoring system can act on.
package main

import (
	"fmt"
	"log/slog"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/fho/postal-inspector/internal/config"
	"github.com/fho/postal-inspector/internal/health"
	"github.com/fho/postal-inspector/internal/imapfetch"
	"github.com/fho/postal-inspector/internal/lmtp"
	"github.com/fho/postal-inspector/internal/maildir"
)

var (
	version = "version-undefined"
	commit  = "commit-undefined"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "scanner":
		runScanner(os.Args[2:])
	case "briefing":
		runBriefing(os.Args[2:])
	case "health":
		os.Exit(runHealth(os.Args[2:]))
	case "-version", "--version":
		fmt.Printf("postal-inspector %s (%s)\n", version, commit)
	case "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: postal-inspector <scanner|briefing|health> [flags]")
}

func newLogger(jsonFormat bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			// postal-inspector normally runs under a supervisor
			// (systemd/journald) that already timestamps.
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	}

	var h slog.Handler
	if jsonFormat {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h)
}

// loadConfig is shared by every subcommand: best-effort `.env`, required
// environment variables, optional TOML tunables overlay, then
// first-error-wins validation.
func loadConfig(cfgFile string) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration failed: %w", err)
	}

	if cfgFile != "" {
		if err := cfg.Overlay(cfgFile); err != nil {
			return nil, fmt.Errorf("applying config overlay failed: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func parseCommonFlags(fs *flag.FlagSet) (cfgFile string, jsonLog *bool) {
	fs.StringVar(&cfgFile, "cfg-file", "", "optional path to a TOML file overlaying non-secret tunables")
	jsonLog = fs.Bool("json-log", false, "emit structured JSON logs instead of text")
	return
}

// buildProbe wires a [health.Probe] for the health/briefing subcommands,
// which run as a separate process from the long-running scanner and so
// never hold a live IMAP session: the fetcher's connection health is
// read from the status file the scanner persists on every state change.
func buildProbe(cfg *config.Config, logger *slog.Logger) *health.Probe {
	store := maildir.New(cfg.MaildirPath, cfg.MailUser, logger)
	lmtpClt := lmtp.New(lmtp.Config{
		Address:  fmt.Sprintf("%s:%d", cfg.LMTPHost, cfg.LMTPPort),
		HeloHost: cfg.MailDomain,
		Logger:   logger,
	})
	statusFile := imapfetch.NewStatusFile(imapfetch.StatusPath(cfg.MaildirPath))
	return health.New(store, lmtpClt, statusFile)
}
