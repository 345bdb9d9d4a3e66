package main

import (
	"fmt"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/fho/postal-inspector/internal/health"
)

// runHealth prints a point-in-time status and returns the exit code the
// caller should use: 0 healthy, 1 warning, 2 critical.
func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	cfgFile, jsonLog := parseCommonFlags(fs)
	_ = fs.Parse(args)

	logger := newLogger(*jsonLog)

	cfg, err := loadConfig(cfgFile)
	if err != nil {
		logger.Error("configuration error", "error", err)
		return 2
	}

	probe := buildProbe(cfg, logger)
	snap := probe.Check()
	severity := snap.Severity(time.Now())

	lastFetch := "never"
	if snap.Fetcher.LastSuccessfulFetch != nil {
		lastFetch = snap.Fetcher.LastSuccessfulFetch.Format(time.RFC3339)
	}

	fmt.Printf("status: %s\n", severity)
	fmt.Printf("staging_count: %d\n", snap.StagingCount)
	fmt.Printf("failed_count: %d\n", snap.FailedCount)
	fmt.Printf("lmtp_reachable: %t\n", snap.LMTPReachable)
	fmt.Printf("imap_connected: %t\n", snap.Fetcher.Connected)
	fmt.Printf("imap_consecutive_failures: %d\n", snap.Fetcher.ConsecutiveFailures)
	fmt.Printf("last_successful_fetch: %s\n", lastFetch)

	switch severity {
	case health.Warning:
		return 1
	case health.Critical:
		return 2
	default:
		return 0
	}
}
