package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mykhaliev/agent-snapshot/engine"
	"github.com/mykhaliev/agent-snapshot/logger"
	"github.com/mykhaliev/agent-snapshot/recorder"
	"github.com/mykhaliev/agent-snapshot/report"
	"github.com/mykhaliev/agent-snapshot/store"
	"github.com/mykhaliev/agent-snapshot/templates"
	"github.com/mykhaliev/agent-snapshot/version"
)

const (
	AppName = "agent-snapshot"

	// Exit codes: 0 all scenarios passed, 1 at least one failed or
	// errored, 2 the run itself could not execute.
	ExitInfraError = 2
)

func main() {
	datasetPath := flag.String("f", "", "Path to the scenario dataset file (YAML)")
	agentCmd := flag.String("agent", "", "Agent under test: executable plus arguments, e.g. 'python agent.py'")
	mode := flag.String("mode", "snapshot", "Run mode: snapshot, smoke or full")
	tags := flag.String("tags", "", "Comma-separated tag filter (scenario runs when it has any listed tag)")
	snapshotDir := flag.String("snapshots", "snapshots", "Directory holding snapshots and review candidates")
	historyPath := flag.String("history", "", "Path to the run history file (default <snapshots>/history.json)")
	concurrency := flag.Int("concurrency", 0, "Max scenarios recorded in parallel (0 = dataset setting)")
	timeout := flag.Duration("timeout", 0, "Per-scenario recording timeout (0 = dataset setting)")
	retention := flag.Int("retention", 0, "Run history entries to keep (0 = dataset setting)")
	reviewID := flag.String("review", "", "Scenario id with a staged candidate to review")
	decision := flag.String("decision", "", "Review decision: accept or reject")
	reportType := flag.String("report", "", "Report format: json or md")
	outputPath := flag.String("o", "", "Path to the report output file")
	logPath := flag.String("l", "", "Path to the log file (if not set, logs to stdout)")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	showVersion := flag.Bool("v", false, "Show version and exit")

	flag.Parse()

	fmt.Printf("Version: %s\nCommit: %s\nBuildDate: %s\n",
		version.Version, version.Commit, version.BuildDate)
	if *showVersion {
		return
	}

	closeLog, err := logger.Setup(*logPath, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to setup logging: %v\n", err)
		os.Exit(ExitInfraError)
	}
	defer closeLog()
	templates.Init()

	if *historyPath == "" {
		*historyPath = *snapshotDir + "/history.json"
	}

	// Review is a standalone operation: no dataset, no agent.
	if *reviewID != "" {
		os.Exit(runReview(*snapshotDir, *reviewID, *decision))
	}

	if *datasetPath == "" {
		fmt.Fprintf(os.Stderr, "Error: -f <dataset-file> is required\n\n")
		flag.Usage()
		os.Exit(ExitInfraError)
	}
	if *agentCmd == "" {
		fmt.Fprintf(os.Stderr, "Error: -agent <command> is required\n\n")
		flag.Usage()
		os.Exit(ExitInfraError)
	}
	runMode := engine.Mode(*mode)
	switch runMode {
	case engine.ModeSnapshot, engine.ModeSmoke, engine.ModeFull:
	default:
		logger.Logger.Error("Invalid mode, want snapshot, smoke or full", "mode", *mode)
		os.Exit(ExitInfraError)
	}

	logger.Logger.Info("Starting application",
		"app", AppName,
		"dataset", *datasetPath,
		"mode", *mode,
		"snapshots", *snapshotDir,
		"verbose", *verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, runMode, *datasetPath, *agentCmd, *snapshotDir, *historyPath,
		*tags, *concurrency, *timeout, *retention, *reportType, *outputPath))
}

func run(ctx context.Context, mode engine.Mode, datasetPath, agentCmd, snapshotDir, historyPath,
	tags string, concurrency int, timeout time.Duration, retention int, reportType, outputPath string) int {

	parts := strings.Fields(agentCmd)
	if len(parts) == 0 {
		logger.Logger.Error("Agent command is empty")
		return ExitInfraError
	}
	agent, err := recorder.NewExternalAgent(ctx, parts[0], parts[1:]...)
	if err != nil {
		logger.Logger.Error("Failed to start agent under test", "error", err)
		return ExitInfraError
	}

	summary, err := engine.Run(ctx, agent, engine.Options{
		DatasetPath:     datasetPath,
		SnapshotDir:     snapshotDir,
		HistoryPath:     historyPath,
		Mode:            mode,
		TagFilter:       splitTags(tags),
		Concurrency:     concurrency,
		ScenarioTimeout: timeout,
		HistoryKeep:     retention,
	})
	if err != nil {
		logger.Logger.Error("Run failed", "error", err)
		return ExitInfraError
	}

	report.PrintConsole(summary)
	if reportType != "" {
		if outputPath == "" {
			outputPath = "report." + reportType
		}
		if err := report.Write(summary, reportType, outputPath); err != nil {
			logger.Logger.Error("Failed to write report", "error", err)
			return ExitInfraError
		}
	}
	return engine.ExitCode(summary)
}

func runReview(snapshotDir, scenarioID, decision string) int {
	snapshots, err := store.NewSnapshotStore(snapshotDir)
	if err != nil {
		logger.Logger.Error("Failed to open snapshot store", "error", err)
		return ExitInfraError
	}
	if err := snapshots.Review(scenarioID, store.ReviewDecision(decision)); err != nil {
		logger.Logger.Error("Review failed", "scenario", scenarioID, "error", err)
		return ExitInfraError
	}
	return 0
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, tag := range strings.Split(s, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}
