package draft

import (
	"fmt"
	"sync"
)

// Phase names the refinement stage the author is in. Phases are ordered:
// Deepening is only reachable from Reviewing, and an explicit reset returns
// to Collecting from anywhere.
type Phase string

const (
	// PhaseCollecting is the initial stage, before any script exists.
	PhaseCollecting Phase = "collecting"
	// PhaseReviewing means an initial script has been generated.
	PhaseReviewing Phase = "reviewing"
	// PhaseDeepening means deepening questions are available. The reviewing
	// surface stays visible; the phases are ordered, not exclusive.
	PhaseDeepening Phase = "deepening"
)

// ErrIllegalPhaseTransition rejects a transition the state machine does not
// allow.
type ErrIllegalPhaseTransition struct {
	From Phase
	To   Phase
}

func (e *ErrIllegalPhaseTransition) Error() string {
	return fmt.Sprintf("draft: illegal phase transition %s -> %s", e.From, e.To)
}

// StateMachine tracks the refinement phase independently of any UI.
type StateMachine struct {
	mu    sync.Mutex
	phase Phase
}

// NewStateMachine starts in the collecting phase.
func NewStateMachine() *StateMachine {
	return &StateMachine{phase: PhaseCollecting}
}

// Phase returns the current refinement phase.
func (m *StateMachine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// MarkScriptReady advances to reviewing after a successful initial
// generation. A merge keeps the machine in reviewing, so the transition is
// legal from any non-collecting phase as a self-loop.
func (m *StateMachine) MarkScriptReady() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == PhaseCollecting {
		m.phase = PhaseReviewing
	}
}

// MarkQuestionsReady advances reviewing to deepening. Questions cannot exist
// before a script does.
func (m *StateMachine) MarkQuestionsReady() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.phase {
	case PhaseReviewing, PhaseDeepening:
		m.phase = PhaseDeepening
		return nil
	default:
		return &ErrIllegalPhaseTransition{From: m.phase, To: PhaseDeepening}
	}
}

// Reset returns to collecting from any phase.
func (m *StateMachine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phase = PhaseCollecting
}

// Restore derives the phase from a recovered draft: reviewing when a script
// exists, deepening when questions exist as well.
func (m *StateMachine) Restore(d Draft) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case d.HasScript() && len(d.Questions) > 0:
		m.phase = PhaseDeepening
	case d.HasScript():
		m.phase = PhaseReviewing
	default:
		m.phase = PhaseCollecting
	}
}
