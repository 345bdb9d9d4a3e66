package main

import (
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/fho/postal-inspector/internal/briefing"
)

func runBriefing(args []string) {
	fs := flag.NewFlagSet("briefing", flag.ExitOnError)
	cfgFile, jsonLog := parseCommonFlags(fs)
	now := fs.Bool("now", false, "render the briefing immediately instead of scheduling it")
	schedule := fs.Bool("schedule", false, "block, rendering the briefing daily at briefing_hour")
	_ = fs.Parse(args)

	if *now == *schedule {
		fmt.Fprintln(os.Stderr, "exactly one of --now or --schedule must be given")
		os.Exit(2)
	}

	logger := newLogger(*jsonLog)

	cfg, err := loadConfig(cfgFile)
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}

	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		logger.Error("loading timezone failed", "tz", cfg.TZ, "error", err)
		os.Exit(1)
	}

	probe := buildProbe(cfg, logger)
	renderer := briefing.ConsoleRenderer{Logger: logger}
	sched := briefing.NewScheduler(probe, renderer, cfg.BriefingHour, loc, logger)

	if *now {
		if err := sched.RunNow(); err != nil {
			logger.Error("rendering briefing failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := sched.Start(); err != nil {
		logger.Error("scheduling briefing failed", "error", err)
		os.Exit(1)
	}
	select {}
}
