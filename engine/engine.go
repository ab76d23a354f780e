package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mykhaliev/agent-snapshot/compare"
	"github.com/mykhaliev/agent-snapshot/evaluator"
	"github.com/mykhaliev/agent-snapshot/logger"
	"github.com/mykhaliev/agent-snapshot/mock"
	"github.com/mykhaliev/agent-snapshot/model"
	"github.com/mykhaliev/agent-snapshot/recorder"
	"github.com/mykhaliev/agent-snapshot/store"
	"github.com/mykhaliev/agent-snapshot/templates"
	"github.com/tmc/langchaingo/llms"
)

type Mode string

const (
	// ModeSnapshot compares against stored snapshots; unrecorded
	// scenarios are recorded on first successful run.
	ModeSnapshot Mode = "snapshot"
	// ModeSmoke is the dry run: model-based judges are skipped entirely.
	ModeSmoke Mode = "smoke"
	// ModeFull runs snapshot comparison plus every configured evaluator.
	ModeFull Mode = "full"
)

const (
	DefaultConcurrency     = 4
	DefaultScenarioTimeout = 120 * time.Second
	SkipJudgeTag           = "skip-judge"
)

type Options struct {
	DatasetPath     string
	SnapshotDir     string
	HistoryPath     string
	Mode            Mode
	TagFilter       []string
	Concurrency     int
	ScenarioTimeout time.Duration
	HistoryKeep     int
	IgnoreFields    []string
}

// Run executes the dataset's scenarios through record -> compare ->
// evaluate, appends one history entry and returns the summary. A returned
// error is an infrastructure failure (dataset load, store setup): the
// dataset did not run at all.
func Run(ctx context.Context, agent recorder.AgentUnderTest, opts Options) (*model.RunSummary, error) {
	ds, err := model.ParseDataset(opts.DatasetPath)
	if err != nil {
		return nil, fmt.Errorf("dataset load failed: %w", err)
	}
	applySettings(&opts, ds)

	snapshots, err := store.NewSnapshotStore(opts.SnapshotDir)
	if err != nil {
		return nil, err
	}
	history, err := store.NewHistory(opts.HistoryPath, opts.HistoryKeep)
	if err != nil {
		return nil, err
	}

	scenarios := ds.Scenarios(opts.TagFilter)
	if len(scenarios) == 0 {
		return nil, fmt.Errorf("no scenarios selected (dataset %q, tags %v)", ds.Name, opts.TagFilter)
	}

	staticCtx := templates.StaticContext(opts.DatasetPath, ds.Variables)
	fingerprint := model.Fingerprint(model.AgentConfig{
		Instructions: agent.Instructions(),
		Tools:        agent.Tools(),
	})

	judgeLLM := initJudge(ctx, ds, scenarios, opts.Mode)

	summary := &model.RunSummary{
		RunID:     staticCtx["RUN_ID"],
		Dataset:   ds.Name,
		Mode:      string(opts.Mode),
		StartedAt: time.Now().UTC(),
		Results:   make([]model.EvaluationResult, len(scenarios)),
	}

	logger.Logger.Info("Starting run",
		"run_id", summary.RunID,
		"dataset", ds.Name,
		"mode", opts.Mode,
		"scenarios", len(scenarios),
		"concurrency", opts.Concurrency)

	deps := &runDeps{
		snapshots:   snapshots,
		dataset:     ds,
		agent:       agent,
		fingerprint: fingerprint,
		judgeLLM:    judgeLLM,
		staticCtx:   staticCtx,
		opts:        opts,
	}

	sem := make(chan struct{}, opts.Concurrency)
	var wg sync.WaitGroup
	for i, sc := range scenarios {
		wg.Add(1)
		go func(idx int, sc *model.Scenario) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			summary.Results[idx] = runScenario(ctx, sc, deps)
		}(i, sc)
	}
	wg.Wait()

	summary.FinishedAt = time.Now().UTC()
	tally(summary)

	if err := history.Append(store.HistoryEntry{
		RunID:     summary.RunID,
		Timestamp: summary.FinishedAt,
		Mode:      string(opts.Mode),
		Counts:    summary.Counts,
		Results:   summary.Results,
	}); err != nil {
		logger.Logger.Error("Failed to append run history", "error", err)
	}

	logger.Logger.Info("Run finished",
		"passed", summary.Count(model.VerdictPassed),
		"failed", summary.Count(model.VerdictFailed),
		"changed", summary.Count(model.VerdictChanged),
		"errored", summary.Count(model.VerdictErrored))
	return summary, nil
}

// ExitCode maps a summary to the CLI contract: 0 all passed (Changed does
// not affect the exit code), 1 on any Failed or Errored scenario.
func ExitCode(s *model.RunSummary) int {
	if s.Count(model.VerdictFailed) > 0 || s.Count(model.VerdictErrored) > 0 {
		return 1
	}
	return 0
}

type runDeps struct {
	snapshots   *store.SnapshotStore
	dataset     *model.Dataset
	agent       recorder.AgentUnderTest
	fingerprint string
	judgeLLM    llms.Model
	staticCtx   map[string]string
	opts        Options
}

// runScenario is the per-scenario boundary: every error inside it is
// converted to an Errored result, never propagated.
func runScenario(ctx context.Context, sc *model.Scenario, deps *runDeps) model.EvaluationResult {
	start := time.Now()
	logger.Logger.Info("Running scenario", "scenario", sc.ID)

	done := func(r model.EvaluationResult) model.EvaluationResult {
		r.DurationMs = time.Since(start).Milliseconds()
		return r
	}
	errored := func(err error) model.EvaluationResult {
		logger.Logger.Warn("Scenario errored", "scenario", sc.ID, "error", err)
		return done(model.EvaluationResult{
			ScenarioID: sc.ID,
			Tags:       sc.Tags,
			Verdict:    model.VerdictErrored,
			Error:      err.Error(),
		})
	}

	if err := ctx.Err(); err != nil {
		return errored(&recorder.RecordingError{Kind: recorder.ErrCancelled, Scenario: sc.ID, Err: err})
	}

	templateCtx := make(map[string]string, len(deps.staticCtx)+1)
	for k, v := range deps.staticCtx {
		templateCtx[k] = v
	}
	templateCtx["SCENARIO_ID"] = sc.ID

	responder := mock.NewResponder(templateCtx)
	rec := &recorder.Recorder{
		Timeout:     deps.opts.ScenarioTimeout,
		TemplateCtx: templateCtx,
	}
	trajectory, err := rec.Record(ctx, sc, deps.agent, responder)
	if err != nil {
		return errored(err)
	}

	comparison, stale, err := compareAgainstSnapshot(sc, trajectory, deps)
	if err != nil {
		return errored(err)
	}

	composer := &evaluator.Composer{
		Evaluators: buildEvaluators(sc, responder, templateCtx, deps),
	}
	return done(composer.Evaluate(ctx, trajectory, sc, comparison, stale))
}

// compareAgainstSnapshot loads the stored snapshot and compares. An
// unrecorded scenario records its first snapshot and trivially matches;
// a diverging or stale recording is staged as a review candidate.
func compareAgainstSnapshot(sc *model.Scenario, live *model.Trajectory, deps *runDeps) (compare.Result, bool, error) {
	snap, err := deps.snapshots.Load(sc.ID)
	if errors.Is(err, store.ErrNoSnapshot) {
		created := &model.Snapshot{
			ScenarioID:  sc.ID,
			Trajectory:  *live,
			Fingerprint: deps.fingerprint,
			CompareMode: sc.Mode(),
			RecordedAt:  time.Now().UTC(),
		}
		if err := deps.snapshots.Create(created); err != nil {
			return compare.Result{}, false, err
		}
		logger.Logger.Info("Snapshot recorded", "scenario", sc.ID)
		return compare.Result{Outcome: compare.Match, Index: -1, Detail: "snapshot recorded"}, false, nil
	}
	if err != nil {
		return compare.Result{}, false, err
	}

	if snap.CompareMode != sc.Mode() {
		return compare.Result{
			Outcome: compare.ModeMismatch,
			Index:   -1,
			Detail: fmt.Sprintf("snapshot recorded under %q, scenario wants %q; re-record via review",
				snap.CompareMode, sc.Mode()),
		}, false, nil
	}

	result, err := compare.Compare(snap.Trajectory, *live, compare.Options{
		Mode:            sc.Mode(),
		IgnoreFields:    deps.opts.IgnoreFields,
		SuccessCriteria: sc.SuccessCriteria,
	})
	if err != nil {
		return compare.Result{}, false, err
	}

	stale := snap.Fingerprint != deps.fingerprint
	if stale {
		logger.Logger.Warn("Snapshot is stale: agent configuration changed", "scenario", sc.ID)
	}

	if result.Outcome == compare.Diverged || (stale && result.Outcome == compare.Match) {
		candidate := &model.Snapshot{
			ScenarioID:  sc.ID,
			Trajectory:  *live,
			Fingerprint: deps.fingerprint,
			CompareMode: sc.Mode(),
			RecordedAt:  time.Now().UTC(),
		}
		if err := deps.snapshots.StageCandidate(candidate); err != nil {
			logger.Logger.Warn("Failed to stage review candidate", "scenario", sc.ID, "error", err)
		}
	}
	return result, stale, nil
}

func buildEvaluators(sc *model.Scenario, responder *mock.Responder, templateCtx map[string]string, deps *runDeps) []evaluator.Evaluator {
	var evaluators []evaluator.Evaluator
	for _, spec := range sc.Evaluators {
		switch spec.Type {
		case "trajectory":
			evaluators = append(evaluators, &evaluator.TrajectoryMatch{
				Mode: evaluator.TrajectoryMode(spec.TrajectoryMode),
			})
		case "assertion":
			evaluators = append(evaluators, &evaluator.ScriptedAssertions{
				Assertions:  spec.Assertions,
				TemplateCtx: templateCtx,
				SideEffects: responder.SideEffectCount,
			})
		case "judge":
			if deps.opts.Mode == ModeSmoke {
				logger.Logger.Debug("Skipping judge in smoke mode", "scenario", sc.ID)
				continue
			}
			if sc.HasTag(SkipJudgeTag) {
				logger.Logger.Debug("Scenario tagged to skip judge", "scenario", sc.ID)
				continue
			}
			threshold := spec.Threshold
			if threshold == 0 {
				threshold = deps.dataset.Judge.Threshold
			}
			evaluators = append(evaluators, &evaluator.Judge{
				LLM:       deps.judgeLLM,
				Prompt:    spec.Prompt,
				Threshold: threshold,
				Policy:    evaluator.JudgePolicy(deps.dataset.Judge.Policy),
				Timeout:   parseDuration(deps.dataset.Judge.Timeout, evaluator.DefaultJudgeTimeout),
			})
		}
	}
	return evaluators
}

// initJudge initializes the judge provider only when a selected scenario
// will actually use it.
func initJudge(ctx context.Context, ds *model.Dataset, scenarios []*model.Scenario, mode Mode) llms.Model {
	if mode == ModeSmoke {
		return nil
	}
	needed := false
	for _, sc := range scenarios {
		if sc.HasTag(SkipJudgeTag) {
			continue
		}
		for _, spec := range sc.Evaluators {
			if spec.Type == "judge" {
				needed = true
				break
			}
		}
	}
	if !needed {
		return nil
	}

	llm, err := evaluator.NewJudgeLLM(ctx, ds.Judge.Provider)
	if err != nil {
		// The Judge evaluator degrades a nil model per its policy.
		logger.Logger.Warn("Judge provider unavailable", "error", err)
		return nil
	}
	logger.Logger.Info("Judge provider initialized", "type", ds.Judge.Provider.Type)
	return llm
}

func applySettings(opts *Options, ds *model.Dataset) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = ds.Settings.Concurrency
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.ScenarioTimeout <= 0 {
		opts.ScenarioTimeout = parseDuration(ds.Settings.ScenarioTimeout, DefaultScenarioTimeout)
	}
	if opts.HistoryKeep <= 0 {
		opts.HistoryKeep = ds.Settings.HistoryKeep
	}
	if opts.IgnoreFields == nil {
		opts.IgnoreFields = ds.Settings.IgnoreFields
	}
	if opts.Mode == "" {
		opts.Mode = ModeSnapshot
	}
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		logger.Logger.Warn("Invalid duration, using default", "value", s, "default", def)
		return def
	}
	return d
}

func tally(s *model.RunSummary) {
	s.Counts = make(map[model.Verdict]int)
	s.TagCounts = make(map[string]map[model.Verdict]int)
	for _, r := range s.Results {
		s.Counts[r.Verdict]++
		for _, tag := range r.Tags {
			if s.TagCounts[tag] == nil {
				s.TagCounts[tag] = make(map[model.Verdict]int)
			}
			s.TagCounts[tag][r.Verdict]++
		}
	}
}
