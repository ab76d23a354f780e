package recorder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mykhaliev/agent-snapshot/logger"
	"github.com/mykhaliev/agent-snapshot/model"
	"github.com/mykhaliev/agent-snapshot/templates"
)

// ============================================================================
// AGENT BOUNDARY
// ============================================================================

// ToolCaller is the surface the agent uses to invoke tools during a
// recording. The engine wires the mock responder here.
type ToolCaller interface {
	Call(name string, args map[string]interface{}) (string, error)
}

// TurnScopedTools is a ToolCaller whose mock table the recorder swaps per
// turn and which remembers calls it could not serve. *mock.Responder
// satisfies it.
type TurnScopedTools interface {
	ToolCaller
	InstallTurn(mocks map[string]string)
	UnmockedCalls() []string
}

// AgentUnderTest is the opaque system being recorded. The engine never
// inspects how it works; it only needs the behavior-defining configuration
// (for fingerprinting) and an execution handle.
type AgentUnderTest interface {
	Instructions() string
	Tools() []mcp.Tool
	Start(ctx context.Context, tools ToolCaller) (Execution, error)
}

type State int

const (
	Running State = iota
	SuspendedAwaitingApproval
)

// Execution is a two-state handle over one in-flight agent run. While
// Running it accepts user messages; while SuspendedAwaitingApproval it
// accepts exactly one Resume call carrying the approval decision.
type Execution interface {
	State() State
	// PendingToolCall returns the call awaiting approval, nil when Running.
	PendingToolCall() *model.Step
	Send(ctx context.Context, message string) error
	Resume(ctx context.Context, decision model.Decision) error
	// Steps returns the trajectory recorded so far.
	Steps() []model.Step
}

// ============================================================================
// RECORDING ERRORS
// ============================================================================

type ErrorKind string

const (
	ErrTimeout            ErrorKind = "timeout"
	ErrCancelled          ErrorKind = "cancelled"
	ErrUnhandledInterrupt ErrorKind = "unhandled_interrupt"
	ErrUnexpectedApproval ErrorKind = "unexpected_approval"
	ErrUnmockedCall       ErrorKind = "unmocked_call"
	ErrAgentFailure       ErrorKind = "agent_failure"
)

// RecordingError is scenario-scoped: it marks the scenario Errored and
// never halts the run.
type RecordingError struct {
	Kind     ErrorKind
	Scenario string
	Err      error
}

func (e *RecordingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("recording %s: %s: %v", e.Scenario, e.Kind, e.Err)
	}
	return fmt.Sprintf("recording %s: %s", e.Scenario, e.Kind)
}

func (e *RecordingError) Unwrap() error { return e.Err }

// ============================================================================
// RECORDER
// ============================================================================

// Recorder drives one scenario through an agent under test, capturing the
// resulting trajectory.
type Recorder struct {
	// Timeout bounds a single scenario recording. Zero means unbounded.
	Timeout time.Duration
	// TemplateCtx is applied to user messages before they are sent.
	TemplateCtx map[string]string
}

// Record executes the scenario's turns in order. Tool-expectation turns
// install their mocks and are otherwise skipped; user turns are sent;
// approval turns resume a suspended execution. Any failure is wrapped in
// a RecordingError.
func (r *Recorder) Record(ctx context.Context, scenario *model.Scenario, agent AgentUnderTest, tools TurnScopedTools) (*model.Trajectory, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	exec, err := agent.Start(ctx, tools)
	if err != nil {
		return nil, r.wrap(scenario.ID, ctx, err)
	}

	for i, turn := range scenario.Turns {
		switch {
		case turn.Tools != nil:
			tools.InstallTurn(turn.Tools.Mocks)

		case turn.User != nil:
			if exec.State() == SuspendedAwaitingApproval {
				return nil, &RecordingError{Kind: ErrUnhandledInterrupt, Scenario: scenario.ID,
					Err: fmt.Errorf("agent suspended before turn %d but scenario has no approval turn", i)}
			}
			// Mocks are declared on the expectation turn that follows the
			// triggering message; install them before sending.
			if next := nextToolTurn(scenario.Turns, i); next != nil {
				tools.InstallTurn(next.Mocks)
			}
			message := templates.Render(turn.User.Text, r.TemplateCtx)
			logger.Logger.Debug("Sending user turn", "scenario", scenario.ID, "turn", i)
			if err := exec.Send(ctx, message); err != nil {
				return nil, r.wrap(scenario.ID, ctx, err)
			}

		case turn.Approval != nil:
			if exec.State() != SuspendedAwaitingApproval {
				return nil, &RecordingError{Kind: ErrUnexpectedApproval, Scenario: scenario.ID,
					Err: fmt.Errorf("approval turn %d with no pending interrupt", i)}
			}
			if pending := exec.PendingToolCall(); pending != nil {
				logger.Logger.Debug("Resuming suspended execution",
					"scenario", scenario.ID, "tool", pending.Tool, "decision", turn.Approval.Decision)
			}
			if err := exec.Resume(ctx, turn.Approval.Decision); err != nil {
				return nil, r.wrap(scenario.ID, ctx, err)
			}
		}
	}

	if exec.State() == SuspendedAwaitingApproval {
		detail := errors.New("agent still awaiting approval after final turn")
		if pending := exec.PendingToolCall(); pending != nil {
			detail = fmt.Errorf("agent awaiting approval for %s after final turn", pending.Tool)
		}
		return nil, &RecordingError{Kind: ErrUnhandledInterrupt, Scenario: scenario.ID, Err: detail}
	}

	traj := &model.Trajectory{ScenarioID: scenario.ID, Steps: exec.Steps()}

	// Unmocked calls were answered with an error and captured as steps;
	// the scenario's mocks are part of the harness, so the recording as a
	// whole is an infrastructure failure, not agent behavior to evaluate.
	if names := tools.UnmockedCalls(); len(names) > 0 {
		return traj, &RecordingError{Kind: ErrUnmockedCall, Scenario: scenario.ID,
			Err: fmt.Errorf("tools called with no mock configured: %s", strings.Join(names, ", "))}
	}
	return traj, nil
}

func nextToolTurn(turns []model.Turn, from int) *model.ToolExpectation {
	for j := from + 1; j < len(turns); j++ {
		if turns[j].User != nil {
			return nil
		}
		if turns[j].Tools != nil {
			return turns[j].Tools
		}
	}
	return nil
}

func (r *Recorder) wrap(scenarioID string, ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &RecordingError{Kind: ErrTimeout, Scenario: scenarioID, Err: err}
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return &RecordingError{Kind: ErrCancelled, Scenario: scenarioID, Err: err}
	default:
		return &RecordingError{Kind: ErrAgentFailure, Scenario: scenarioID, Err: err}
	}
}
