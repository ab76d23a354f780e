package recorder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mykhaliev/agent-snapshot/logger"
	"github.com/mykhaliev/agent-snapshot/model"
)

// ExternalAgent runs the agent under test as an opaque executable speaking
// line-delimited JSON on stdin/stdout.
//
// Protocol, one JSON object per line:
//
//	agent -> engine  {"type":"hello","instructions":"...","tools":["lookup_order",...]}
//	engine -> agent  {"type":"user","content":"..."}
//	agent -> engine  {"type":"assistant","content":"..."}
//	agent -> engine  {"type":"tool_call","tool":"...","arguments":{...},"call_id":"...","interrupt":false}
//	engine -> agent  {"type":"tool_response","content":"..."} | {"type":"tool_error","error":"..."}
//	agent -> engine  {"type":"done"}
//	engine -> agent  {"type":"approval","decision":"approve"}   (after an interrupting tool_call)
//
// An interrupting tool_call suspends the execution until the engine sends
// an approval message.
type ExternalAgent struct {
	Command string
	Args    []string

	instructions string
	tools        []mcp.Tool
}

type wireMessage struct {
	Type         string                 `json:"type"`
	Content      string                 `json:"content,omitempty"`
	Instructions string                 `json:"instructions,omitempty"`
	Tools        []string               `json:"tools,omitempty"`
	Tool         string                 `json:"tool,omitempty"`
	Arguments    map[string]interface{} `json:"arguments,omitempty"`
	CallID       string                 `json:"call_id,omitempty"`
	Interrupt    bool                   `json:"interrupt,omitempty"`
	Decision     string                 `json:"decision,omitempty"`
	Error        string                 `json:"error,omitempty"`
}

// NewExternalAgent launches the executable once to perform the hello
// handshake, so instructions and tools are known before any recording.
func NewExternalAgent(ctx context.Context, command string, args ...string) (*ExternalAgent, error) {
	a := &ExternalAgent{Command: command, Args: args}

	probe, err := a.spawn(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer probe.close()

	a.instructions = probe.hello.Instructions
	a.tools = make([]mcp.Tool, 0, len(probe.hello.Tools))
	for _, name := range probe.hello.Tools {
		a.tools = append(a.tools, mcp.Tool{Name: name})
	}
	logger.Logger.Debug("External agent handshake complete",
		"command", command, "tools", len(a.tools))
	return a, nil
}

func (a *ExternalAgent) Instructions() string { return a.instructions }
func (a *ExternalAgent) Tools() []mcp.Tool    { return a.tools }

func (a *ExternalAgent) Start(ctx context.Context, tools ToolCaller) (Execution, error) {
	proc, err := a.spawn(ctx, tools)
	if err != nil {
		return nil, err
	}
	return proc, nil
}

func (a *ExternalAgent) spawn(ctx context.Context, tools ToolCaller) (*externalExecution, error) {
	cmd := exec.CommandContext(ctx, a.Command, a.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open agent stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open agent stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start agent %q: %w", a.Command, err)
	}

	proc := &externalExecution{
		cmd:    cmd,
		stdin:  stdin,
		reader: bufio.NewReader(stdout),
		tools:  tools,
		state:  Running,
	}
	hello, err := proc.read()
	if err != nil {
		proc.close()
		return nil, fmt.Errorf("agent handshake failed: %w", err)
	}
	if hello.Type != "hello" {
		proc.close()
		return nil, fmt.Errorf("agent handshake failed: expected hello, got %q", hello.Type)
	}
	proc.hello = hello
	return proc, nil
}

type externalExecution struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	reader  *bufio.Reader
	tools   ToolCaller
	hello   *wireMessage
	state   State
	pending *model.Step
	steps   []model.Step
}

func (e *externalExecution) State() State                 { return e.state }
func (e *externalExecution) PendingToolCall() *model.Step { return e.pending }
func (e *externalExecution) Steps() []model.Step          { return e.steps }

func (e *externalExecution) Send(ctx context.Context, message string) error {
	if e.state != Running {
		return fmt.Errorf("cannot send while awaiting approval")
	}
	e.steps = append(e.steps, model.Step{
		Role: model.RoleUser, Content: message, Timestamp: time.Now().UTC(),
	})
	if err := e.write(&wireMessage{Type: "user", Content: message}); err != nil {
		return err
	}
	return e.pump(ctx)
}

func (e *externalExecution) Resume(ctx context.Context, decision model.Decision) error {
	if e.state != SuspendedAwaitingApproval {
		return fmt.Errorf("execution is not suspended")
	}
	pending := *e.pending
	e.steps = append(e.steps, model.Step{
		Role: model.RoleApproval, Content: string(decision), Timestamp: time.Now().UTC(),
	})
	if err := e.write(&wireMessage{Type: "approval", Decision: string(decision)}); err != nil {
		return err
	}
	// An approved call finally executes against the mocks; a rejected or
	// modified call is surfaced to the agent as a tool error.
	if decision == model.DecisionApprove {
		if err := e.respondToToolCall(&pending); err != nil {
			return err
		}
	} else {
		pending.Response = "denied: " + string(decision)
		if err := e.write(&wireMessage{Type: "tool_error", Error: "call denied by reviewer: " + string(decision)}); err != nil {
			return err
		}
	}
	e.steps = append(e.steps, pending)
	e.state = Running
	e.pending = nil
	return e.pump(ctx)
}

// pump consumes agent output until the turn completes or the agent
// suspends for approval.
func (e *externalExecution) pump(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := e.read()
		if err != nil {
			return fmt.Errorf("agent stream ended unexpectedly: %w", err)
		}

		switch msg.Type {
		case "assistant":
			e.steps = append(e.steps, model.Step{
				Role: model.RoleAssistant, Content: msg.Content, Timestamp: time.Now().UTC(),
			})
		case "tool_call":
			step := model.Step{
				Role:      model.RoleTool,
				Tool:      msg.Tool,
				Arguments: msg.Arguments,
				CallID:    msg.CallID,
				Timestamp: time.Now().UTC(),
			}
			if msg.Interrupt {
				e.pending = &step
				e.state = SuspendedAwaitingApproval
				return nil
			}
			if err := e.respondToToolCall(&step); err != nil {
				return err
			}
			e.steps = append(e.steps, step)
		case "done":
			return nil
		default:
			logger.Logger.Warn("Ignoring unknown agent message", "type", msg.Type)
		}
	}
}

// respondToToolCall executes the call against the mocks and relays the
// outcome. A write failure is returned: recording a response the agent
// never received would corrupt the trajectory.
func (e *externalExecution) respondToToolCall(step *model.Step) error {
	response, err := e.tools.Call(step.Tool, step.Arguments)
	if err != nil {
		step.Response = "error: " + err.Error()
		return e.write(&wireMessage{Type: "tool_error", Error: err.Error()})
	}
	step.Response = response
	return e.write(&wireMessage{Type: "tool_response", Content: response})
}

func (e *externalExecution) write(msg *wireMessage) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode agent message: %w", err)
	}
	if _, err := e.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write to agent: %w", err)
	}
	return nil
}

func (e *externalExecution) read() (*wireMessage, error) {
	line, err := e.reader.ReadString('\n')
	if err != nil && strings.TrimSpace(line) == "" {
		return nil, err
	}
	var msg wireMessage
	if err := sonic.Unmarshal([]byte(strings.TrimSpace(line)), &msg); err != nil {
		return nil, fmt.Errorf("malformed agent message %q: %w", strings.TrimSpace(line), err)
	}
	return &msg, nil
}

func (e *externalExecution) close() {
	e.stdin.Close()
	e.cmd.Wait()
}
