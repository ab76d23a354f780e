package tests

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mykhaliev/agent-snapshot/model"
	"github.com/mykhaliev/agent-snapshot/recorder"
)

// dummy writer for logger
type DummyWriter struct{}

func NewDummyWriter() *DummyWriter { return &DummyWriter{} }

// Write implements io.Writer and discards all data
func (d *DummyWriter) Write(p []byte) (n int, err error) {
	return len(p), nil
}

// ============================================================================
// Scripted agent
// ============================================================================

// AgentAction is one scripted move: either say something or call a tool.
type AgentAction struct {
	Say       string
	Call      string
	Args      map[string]interface{}
	Interrupt bool
}

// ScriptedAgent replays a fixed script, one action list per user turn. It
// stands in for a real agent process in recorder and engine tests.
type ScriptedAgent struct {
	Instr    string
	ToolList []string
	// Script[i] holds the actions taken in response to user turn i.
	Script [][]AgentAction
}

func (a *ScriptedAgent) Instructions() string { return a.Instr }

func (a *ScriptedAgent) Tools() []mcp.Tool {
	tools := make([]mcp.Tool, 0, len(a.ToolList))
	for _, name := range a.ToolList {
		tools = append(tools, mcp.Tool{Name: name})
	}
	return tools
}

func (a *ScriptedAgent) Start(_ context.Context, tools recorder.ToolCaller) (recorder.Execution, error) {
	return &scriptedExecution{agent: a, tools: tools}, nil
}

type scriptedExecution struct {
	agent   *ScriptedAgent
	tools   recorder.ToolCaller
	state   recorder.State
	pending *model.Step
	queue   []AgentAction
	steps   []model.Step
	turn    int
}

func (e *scriptedExecution) State() recorder.State        { return e.state }
func (e *scriptedExecution) PendingToolCall() *model.Step { return e.pending }
func (e *scriptedExecution) Steps() []model.Step          { return e.steps }

func (e *scriptedExecution) Send(_ context.Context, message string) error {
	if e.state != recorder.Running {
		return fmt.Errorf("scripted agent is suspended")
	}
	e.steps = append(e.steps, model.Step{Role: model.RoleUser, Content: message, Timestamp: time.Now().UTC()})
	if e.turn < len(e.agent.Script) {
		e.queue = append(e.queue, e.agent.Script[e.turn]...)
	}
	e.turn++
	e.drain()
	return nil
}

func (e *scriptedExecution) Resume(_ context.Context, decision model.Decision) error {
	if e.state != recorder.SuspendedAwaitingApproval {
		return fmt.Errorf("scripted agent is not suspended")
	}
	pending := *e.pending
	e.steps = append(e.steps, model.Step{
		Role: model.RoleApproval, Content: string(decision), Timestamp: time.Now().UTC(),
	})
	if decision == model.DecisionApprove {
		e.execute(&pending)
	} else {
		pending.Response = "denied: " + string(decision)
	}
	e.steps = append(e.steps, pending)
	e.pending = nil
	e.state = recorder.Running
	e.drain()
	return nil
}

func (e *scriptedExecution) drain() {
	for len(e.queue) > 0 {
		action := e.queue[0]
		e.queue = e.queue[1:]

		if action.Call == "" {
			e.steps = append(e.steps, model.Step{
				Role: model.RoleAssistant, Content: action.Say, Timestamp: time.Now().UTC(),
			})
			continue
		}

		step := model.Step{
			Role:      model.RoleTool,
			Tool:      action.Call,
			Arguments: action.Args,
			Timestamp: time.Now().UTC(),
		}
		if action.Interrupt {
			e.pending = &step
			e.state = recorder.SuspendedAwaitingApproval
			return
		}
		e.execute(&step)
		e.steps = append(e.steps, step)
	}
}

func (e *scriptedExecution) execute(step *model.Step) {
	response, err := e.tools.Call(step.Tool, step.Arguments)
	if err != nil {
		step.Response = "error: " + err.Error()
		return
	}
	step.Response = response
}

// ============================================================================
// Blocking agent
// ============================================================================

// BlockingAgent hangs on the first user turn until the context expires.
type BlockingAgent struct{}

func (a *BlockingAgent) Instructions() string { return "block forever" }
func (a *BlockingAgent) Tools() []mcp.Tool    { return nil }

func (a *BlockingAgent) Start(context.Context, recorder.ToolCaller) (recorder.Execution, error) {
	return &blockingExecution{}, nil
}

type blockingExecution struct{}

func (e *blockingExecution) State() recorder.State        { return recorder.Running }
func (e *blockingExecution) PendingToolCall() *model.Step { return nil }
func (e *blockingExecution) Steps() []model.Step          { return nil }
func (e *blockingExecution) Resume(context.Context, model.Decision) error {
	return fmt.Errorf("not suspended")
}

func (e *blockingExecution) Send(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}
