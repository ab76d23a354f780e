package model

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// DATASET CONFIGURATION
// ============================================================================

type Dataset struct {
	Name      string            `yaml:"name"`
	Jobs      []Job             `yaml:"jobs"`
	Judge     JudgeConfig       `yaml:"judge,omitempty"`
	Settings  Settings          `yaml:"settings"`
	Variables map[string]string `yaml:"variables,omitempty"`
}

type Job struct {
	Name      string     `yaml:"name"`
	Scenarios []Scenario `yaml:"scenarios"`
}

// Settings are dataset-wide execution knobs. Zero values fall back to
// engine defaults.
type Settings struct {
	Verbose         bool     `yaml:"verbose"`
	Concurrency     int      `yaml:"concurrency"`
	ScenarioTimeout string   `yaml:"scenario_timeout"`
	HistoryKeep     int      `yaml:"history_keep"`
	IgnoreFields    []string `yaml:"ignore_fields,omitempty"`
}

// JudgeConfig describes the model-based judge provider for the dataset.
// The provider is initialized lazily and only when at least one selected
// scenario declares a judge evaluator.
type JudgeConfig struct {
	Provider  JudgeProvider `yaml:"provider"`
	Threshold float64       `yaml:"threshold,omitempty"`
	Policy    string        `yaml:"policy,omitempty"` // fail-open (default) or fail-closed
	Timeout   string        `yaml:"timeout,omitempty"`
}

type JudgeProvider struct {
	Name            string       `yaml:"name"`
	Type            ProviderType `yaml:"type"`
	Token           string       `yaml:"token"`
	Secret          string       `yaml:"secret"`
	Model           string       `yaml:"model"`
	BaseURL         string       `yaml:"baseUrl"`
	Version         string       `yaml:"version"`
	ProjectID       string       `yaml:"project_id"`
	Location        string       `yaml:"location"`
	CredentialsPath string       `yaml:"credentials_path"`
	AuthType        string       `yaml:"auth_type"` // For AZURE: "api_key" (default) or "entra_id"
}

type ProviderType string

const (
	ProviderGroq            ProviderType = "GROQ"
	ProviderGoogle          ProviderType = "GOOGLE"
	ProviderVertex          ProviderType = "VERTEX"
	ProviderAnthropic       ProviderType = "ANTHROPIC"
	ProviderAmazonAnthropic ProviderType = "AMAZON-ANTHROPIC"
	ProviderOpenAI          ProviderType = "OPENAI"
	ProviderAzure           ProviderType = "AZURE"
)

// ============================================================================
// SCENARIO MODEL
// ============================================================================

type Scenario struct {
	ID              string          `yaml:"id"`
	Tags            []string        `yaml:"tags,omitempty"`
	CompareMode     CompareMode     `yaml:"compare_mode,omitempty"`
	Turns           []Turn          `yaml:"turns"`
	SuccessCriteria []string        `yaml:"success_criteria,omitempty"`
	Evaluators      []EvaluatorSpec `yaml:"evaluators,omitempty"`
}

// Mode returns the scenario's comparison mode, defaulting to structural.
func (s *Scenario) Mode() CompareMode {
	if s.CompareMode == "" {
		return CompareStructural
	}
	return s.CompareMode
}

// HasTag reports whether the scenario carries the given tag.
func (s *Scenario) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ExpectedTools returns the declared expected tool names across all
// tool-expectation turns, flattened in turn order.
func (s *Scenario) ExpectedTools() []string {
	var names []string
	for _, turn := range s.Turns {
		if turn.Tools != nil {
			names = append(names, turn.Tools.Expect...)
		}
	}
	return names
}

type CompareMode string

const (
	CompareStrict     CompareMode = "strict"
	CompareStructural CompareMode = "structural"
	CompareSemantic   CompareMode = "semantic"
)

func (m CompareMode) Valid() bool {
	switch m {
	case CompareStrict, CompareStructural, CompareSemantic:
		return true
	}
	return false
}

// ============================================================================
// TURN MODEL
// ============================================================================

// Turn is a tagged union: exactly one of User, Tools, Approval is set.
// The union shape is enforced at decode time so an illegal turn never
// survives loading.
type Turn struct {
	User     *UserMessage
	Tools    *ToolExpectation
	Approval *ApprovalDecision
}

type UserMessage struct {
	Text string
}

type ToolExpectation struct {
	Expect    []string          `yaml:"expect,omitempty"`
	Mocks     map[string]string `yaml:"mocks,omitempty"`
	Interrupt bool              `yaml:"interrupt,omitempty"`
}

type ApprovalDecision struct {
	Decision Decision
}

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionModify  Decision = "modify"
)

func (d Decision) Valid() bool {
	switch d {
	case DecisionApprove, DecisionReject, DecisionModify:
		return true
	}
	return false
}

func (t *Turn) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		User     *string          `yaml:"user"`
		Tools    *ToolExpectation `yaml:"tools"`
		Approval *string          `yaml:"approval"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	variants := 0
	if raw.User != nil {
		variants++
		t.User = &UserMessage{Text: *raw.User}
	}
	if raw.Tools != nil {
		variants++
		t.Tools = raw.Tools
	}
	if raw.Approval != nil {
		variants++
		decision := Decision(*raw.Approval)
		if !decision.Valid() {
			return fmt.Errorf("line %d: invalid approval decision %q (want approve, reject or modify)", value.Line, *raw.Approval)
		}
		t.Approval = &ApprovalDecision{Decision: decision}
	}

	if variants != 1 {
		return fmt.Errorf("line %d: turn must have exactly one of user, tools, approval (got %d)", value.Line, variants)
	}
	return nil
}

func (t Turn) MarshalYAML() (interface{}, error) {
	switch {
	case t.User != nil:
		return map[string]string{"user": t.User.Text}, nil
	case t.Tools != nil:
		return map[string]*ToolExpectation{"tools": t.Tools}, nil
	case t.Approval != nil:
		return map[string]string{"approval": string(t.Approval.Decision)}, nil
	}
	return nil, fmt.Errorf("empty turn")
}

// ============================================================================
// EVALUATOR SPECIFICATION
// ============================================================================

type EvaluatorSpec struct {
	Type           string      `yaml:"type"` // trajectory | assertion | judge
	TrajectoryMode string      `yaml:"trajectory_mode,omitempty"`
	Assertions     []Assertion `yaml:"assertions,omitempty"`
	Prompt         string      `yaml:"prompt,omitempty"`
	Threshold      float64     `yaml:"threshold,omitempty"`
}

type Assertion struct {
	Type  string `yaml:"type"`
	Tool  string `yaml:"tool,omitempty"`
	Value string `yaml:"value,omitempty"`
	Path  string `yaml:"path,omitempty"`
	Count int    `yaml:"count,omitempty"`
}

// ============================================================================
// YAML PARSER
// ============================================================================

func ParseDataset(filename string) (*Dataset, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset file: %w", err)
	}
	return ParseDatasetFromBytes(data)
}

func ParseDatasetFromBytes(data []byte) (*Dataset, error) {
	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("failed to parse YAML dataset: %w", err)
	}
	if err := ValidateDataset(&ds); err != nil {
		return nil, err
	}
	return &ds, nil
}

// ValidateDataset enforces load-time invariants: at least one scenario,
// unique scenario identifiers across jobs, valid comparison modes and a
// non-empty turn list per scenario.
func ValidateDataset(ds *Dataset) error {
	if ds == nil {
		return fmt.Errorf("dataset is nil")
	}
	if len(ds.Jobs) == 0 {
		return fmt.Errorf("dataset %q has no jobs", ds.Name)
	}

	seen := make(map[string]string)
	total := 0
	for _, job := range ds.Jobs {
		for i := range job.Scenarios {
			sc := &job.Scenarios[i]
			total++
			if sc.ID == "" {
				return fmt.Errorf("job %q: scenario at index %d has empty id", job.Name, i)
			}
			if prev, dup := seen[sc.ID]; dup {
				return fmt.Errorf("duplicate scenario id %q (jobs %q and %q)", sc.ID, prev, job.Name)
			}
			seen[sc.ID] = job.Name
			if len(sc.Turns) == 0 {
				return fmt.Errorf("scenario %q has no turns", sc.ID)
			}
			if sc.CompareMode != "" && !sc.CompareMode.Valid() {
				return fmt.Errorf("scenario %q: unknown compare mode %q", sc.ID, sc.CompareMode)
			}
			for _, ev := range sc.Evaluators {
				switch ev.Type {
				case "trajectory", "assertion", "judge":
				default:
					return fmt.Errorf("scenario %q: unknown evaluator type %q", sc.ID, ev.Type)
				}
			}
		}
	}
	if total == 0 {
		return fmt.Errorf("dataset %q has no scenarios", ds.Name)
	}
	return nil
}

// Scenarios returns all scenarios across jobs, optionally filtered by tags.
// With a non-empty filter a scenario is selected when it carries any of
// the requested tags.
func (ds *Dataset) Scenarios(tagFilter []string) []*Scenario {
	var out []*Scenario
	for j := range ds.Jobs {
		for i := range ds.Jobs[j].Scenarios {
			sc := &ds.Jobs[j].Scenarios[i]
			if len(tagFilter) == 0 {
				out = append(out, sc)
				continue
			}
			for _, tag := range tagFilter {
				if sc.HasTag(tag) {
					out = append(out, sc)
					break
				}
			}
		}
	}
	return out
}

// ============================================================================
// SNAPSHOT
// ============================================================================

type Snapshot struct {
	ScenarioID  string      `json:"scenarioId"`
	Trajectory  Trajectory  `json:"trajectory"`
	Fingerprint string      `json:"fingerprint"`
	CompareMode CompareMode `json:"compareMode"`
	RecordedAt  time.Time   `json:"recordedAt"`
}

// ============================================================================
// EVALUATION RESULT
// ============================================================================

type Verdict string

const (
	VerdictPassed  Verdict = "passed"
	VerdictFailed  Verdict = "failed"
	VerdictChanged Verdict = "changed"
	VerdictErrored Verdict = "errored"
)

type EvaluatorScore struct {
	Name   string  `json:"name"`
	Pass   bool    `json:"pass"`
	Value  float64 `json:"value"`
	Detail string  `json:"detail,omitempty"`
}

type EvaluationResult struct {
	ScenarioID string           `json:"scenarioId"`
	Tags       []string         `json:"tags,omitempty"`
	Verdict    Verdict          `json:"verdict"`
	Scores     []EvaluatorScore `json:"scores,omitempty"`
	Diff       string           `json:"diff,omitempty"`
	Error      string           `json:"error,omitempty"`
	DurationMs int64            `json:"durationMs"`
}

// ============================================================================
// RUN SUMMARY
// ============================================================================

type RunSummary struct {
	RunID      string              `json:"runId"`
	Dataset    string              `json:"dataset"`
	Mode       string              `json:"mode"`
	StartedAt  time.Time           `json:"startedAt"`
	FinishedAt time.Time           `json:"finishedAt"`
	Results    []EvaluationResult  `json:"results"`
	Counts     map[Verdict]int     `json:"counts"`
	TagCounts  map[string]map[Verdict]int `json:"tagCounts,omitempty"`
}

// Count returns the number of scenarios with the given verdict.
func (s *RunSummary) Count(v Verdict) int {
	if s.Counts == nil {
		return 0
	}
	return s.Counts[v]
}
