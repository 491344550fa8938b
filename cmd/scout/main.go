package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/yangwenmai/scout/internal/browser"
	"github.com/yangwenmai/scout/internal/collector"
	"github.com/yangwenmai/scout/internal/config"
	"github.com/yangwenmai/scout/internal/distill"
	"github.com/yangwenmai/scout/internal/model"
	"github.com/yangwenmai/scout/internal/orchestrator"
	"github.com/yangwenmai/scout/internal/reader"
	"github.com/yangwenmai/scout/internal/review"
	"github.com/yangwenmai/scout/internal/session"
	"github.com/yangwenmai/scout/internal/tokens"
)

func main() {
	cfg := config.Load()

	goal := strings.Join(os.Args[1:], " ")
	resumeDir := os.Getenv("SCOUT_RESUME")
	if goal == "" && resumeDir == "" {
		log.Fatal("usage: scout <research goal>  (or set SCOUT_RESUME=<workspace dir>)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful cancel: an interrupted run keeps its workspace and can be
	// resumed with SCOUT_RESUME.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("interrupt received, cancelling run")
		cancel()
	}()

	var sess *session.Session
	var err error
	if resumeDir != "" {
		sess, err = session.Resume(ctx, resumeDir)
	} else {
		sess, err = session.Create(ctx, cfg)
	}
	if err != nil {
		log.Fatalf("open session: %v", err)
	}

	brief := model.NewBrief(goal)
	brief.RecencyDays = cfg.RecencyThresholdDays
	brief.MaxSources = cfg.MaxSources
	brief.MaxSteps = cfg.MaxSteps
	brief.BundleTokenBudget = cfg.BundleTokenBudget
	brief.ModePreference = cfg.DefaultMode
	if outputs := os.Getenv("SCOUT_REQUIRED_OUTPUTS"); outputs != "" {
		brief.RequiredOutputs = strings.Split(outputs, ",")
	}

	var driver browser.Driver
	if os.Getenv("SCOUT_USE_CHROME") != "" {
		slog.Info("using chromedp browser driver")
		driver = browser.NewChromeDriver(cfg.BrowserActionTimeout)
	} else {
		slog.Info("SCOUT_USE_CHROME not set, using stub browser driver")
		driver = &browser.StubDriver{}
	}
	operator := browser.NewOperator(cfg, driver, sess)
	defer operator.Close()

	est := tokens.HeuristicEstimator{}
	orch := orchestrator.New(
		cfg,
		sess,
		collector.New(cfg),
		reader.New(cfg),
		operator,
		distill.New(cfg, nil, est),
		review.New(cfg),
		est,
	)

	bundle, err := orch.Run(ctx, brief)
	if err != nil {
		log.Fatalf("research run: %v", err)
	}

	out, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		log.Fatalf("marshal bundle: %v", err)
	}
	os.Stdout.Write(append(out, '\n'))
}
