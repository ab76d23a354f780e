package mock

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mykhaliev/agent-snapshot/logger"
	"github.com/mykhaliev/agent-snapshot/templates"
)

// ErrUnmockedTool is returned when the agent calls a tool with no mock
// configured for the current turn. The recorder still captures the
// attempted call, then escalates once the trajectory is complete.
var ErrUnmockedTool = errors.New("no mock configured for tool")

// IdempotencyKeyArg is the argument name that opts a tool call into
// replay semantics.
const IdempotencyKeyArg = "idempotency_key"

// Responder substitutes canned outputs for tool invocations so a run is
// reproducible without live services. The mock table is turn-scoped and
// installed by the recorder; the replay ledger is scenario-scoped.
type Responder struct {
	mu           sync.Mutex
	table        map[string]string
	templateCtx  map[string]string
	replays      map[string]string
	sideEffects  map[string]int
	unmocked     []string
	unmockedSeen map[string]bool
}

func NewResponder(templateCtx map[string]string) *Responder {
	return &Responder{
		table:        make(map[string]string),
		templateCtx:  templateCtx,
		replays:      make(map[string]string),
		sideEffects:  make(map[string]int),
		unmockedSeen: make(map[string]bool),
	}
}

// InstallTurn replaces the current turn's mock table.
func (r *Responder) InstallTurn(mocks map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table = make(map[string]string, len(mocks))
	for name, response := range mocks {
		r.table[name] = response
	}
}

// Call returns the configured mock response for a tool invocation.
//
// Calls carrying an idempotency_key argument are replayed: the same key
// returns the byte-identical original response and the tool's side-effect
// counter increments at most once, even under concurrent duplicate calls.
func (r *Responder) Call(name string, args map[string]interface{}) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	replayKey := ""
	if key, ok := args[IdempotencyKeyArg]; ok {
		replayKey = name + "\x00" + fmt.Sprint(key)
		if cached, hit := r.replays[replayKey]; hit {
			logger.Logger.Debug("Replaying idempotent tool call", "tool", name, "key", key)
			return cached, nil
		}
	}

	raw, ok := r.table[name]
	if !ok {
		logger.Logger.Warn("Agent called unmocked tool", "tool", name)
		if !r.unmockedSeen[name] {
			r.unmockedSeen[name] = true
			r.unmocked = append(r.unmocked, name)
		}
		return "", fmt.Errorf("%w: %s", ErrUnmockedTool, name)
	}

	// Render once so template helpers with random output stay stable
	// across replays of the same key.
	response := templates.Render(raw, r.templateCtx)
	r.sideEffects[name]++
	if replayKey != "" {
		r.replays[replayKey] = response
	}
	return response, nil
}

// SideEffectCount reports how many times the tool's underlying effect
// executed (replays excluded).
func (r *Responder) SideEffectCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sideEffects[name]
}

// UnmockedCalls returns the distinct tools called without a mock, in
// first-call order. A non-empty list makes the recording an
// infrastructure failure.
func (r *Responder) UnmockedCalls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.unmocked...)
}

// Mocked reports whether the current turn has a mock for the tool.
func (r *Responder) Mocked(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.table[name]
	return ok
}
