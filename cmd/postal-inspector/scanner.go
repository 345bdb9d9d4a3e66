package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/fho/postal-inspector/internal/imapfetch"
	"github.com/fho/postal-inspector/internal/judge"
	"github.com/fho/postal-inspector/internal/lmtp"
	"github.com/fho/postal-inspector/internal/maildir"
	"github.com/fho/postal-inspector/internal/processor"
)

func runScanner(args []string) {
	fs := flag.NewFlagSet("scanner", flag.ExitOnError)
	cfgFile, jsonLog := parseCommonFlags(fs)
	once := fs.Bool("once", false, "run a single fetch/scan/deliver cycle and exit")
	_ = fs.Parse(args)

	logger := newLogger(*jsonLog)

	cfg, err := loadConfig(cfgFile)
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}

	store := maildir.New(cfg.MaildirPath, cfg.MailUser, logger)
	if err := store.EnsureLayout(); err != nil {
		logger.Error("preparing maildir layout failed", "error", err)
		os.Exit(1)
	}

	fetcher := imapfetch.New(imapfetch.Config{
		Address:        fmt.Sprintf("%s:%d", cfg.UpstreamServer, cfg.UpstreamPort),
		User:           cfg.UpstreamUser,
		Password:       cfg.UpstreamPass,
		Logger:         logger,
		StatusFilePath: imapfetch.StatusPath(cfg.MaildirPath),
	})
	if err := fetcher.Connect(); err != nil {
		logger.Error("connecting to upstream imap server failed", "error", err)
		os.Exit(1)
	}
	defer fetcher.Disconnect()

	lmtpClt := lmtp.New(lmtp.Config{
		Address:  fmt.Sprintf("%s:%d", cfg.LMTPHost, cfg.LMTPPort),
		HeloHost: cfg.MailDomain,
		Logger:   logger,
	})

	judgeClt := judge.New(judge.Config{
		BaseURL:            "https://api.anthropic.com/v1/messages",
		APIKey:             cfg.AnthropicAPIKey,
		Model:              cfg.AnthropicModel,
		Timeout:            time.Duration(cfg.AITimeout) * time.Second,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Logger:             logger,
	})

	proc := processor.New(processor.Config{
		FetchInterval: time.Duration(cfg.FetchInterval) * time.Second,
		MaxRetries:    cfg.MaxRetries,
		Logger:        logger,
	}, fetcher, store, lmtpClt, judgeClt)

	if *once {
		proc.RunOnce()
		return
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown requested")
		proc.RequestShutdown()
	}()

	if err := proc.Run(); err != nil {
		logger.Error("scanner run loop exited with an error", "error", err)
		os.Exit(1)
	}
}
