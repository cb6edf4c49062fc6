package draft

import "testing"

func TestStateMachineStartsCollecting(t *testing.T) {
	machine := NewStateMachine()
	if machine.Phase() != PhaseCollecting {
		t.Fatalf("expected collecting, got %s", machine.Phase())
	}
}

func TestStateMachineAdvancesThroughPhases(t *testing.T) {
	machine := NewStateMachine()

	machine.MarkScriptReady()
	if machine.Phase() != PhaseReviewing {
		t.Fatalf("expected reviewing after script, got %s", machine.Phase())
	}

	if err := machine.MarkQuestionsReady(); err != nil {
		t.Fatalf("unexpected transition error: %v", err)
	}
	if machine.Phase() != PhaseDeepening {
		t.Fatalf("expected deepening after questions, got %s", machine.Phase())
	}

	// A merge leaves the phase where it is.
	machine.MarkScriptReady()
	if machine.Phase() != PhaseDeepening {
		t.Fatalf("expected merge self-loop to keep deepening, got %s", machine.Phase())
	}
}

func TestStateMachineRejectsQuestionsBeforeScript(t *testing.T) {
	machine := NewStateMachine()
	err := machine.MarkQuestionsReady()
	if err == nil {
		t.Fatalf("expected illegal transition error")
	}
	if machine.Phase() != PhaseCollecting {
		t.Fatalf("failed transition must not change phase, got %s", machine.Phase())
	}
}

func TestStateMachineResetFromAnyPhase(t *testing.T) {
	machine := NewStateMachine()
	machine.MarkScriptReady()
	if err := machine.MarkQuestionsReady(); err != nil {
		t.Fatalf("unexpected transition error: %v", err)
	}

	machine.Reset()
	if machine.Phase() != PhaseCollecting {
		t.Fatalf("expected collecting after reset, got %s", machine.Phase())
	}
}

func TestStateMachineRestore(t *testing.T) {
	tests := []struct {
		name     string
		draft    Draft
		expected Phase
	}{
		{name: "empty", draft: Draft{}, expected: PhaseCollecting},
		{name: "script-only", draft: Draft{Script: "■ 導入\n本文"}, expected: PhaseReviewing},
		{
			name:     "script-and-questions",
			draft:    Draft{Script: "■ 導入\n本文", Questions: []Question{{ID: 1, Question: "Q"}}},
			expected: PhaseDeepening,
		},
		{
			name:     "questions-without-script",
			draft:    Draft{Questions: []Question{{ID: 1, Question: "Q"}}},
			expected: PhaseCollecting,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			machine := NewStateMachine()
			machine.Restore(tc.draft)
			if machine.Phase() != tc.expected {
				t.Fatalf("expected %s, got %s", tc.expected, machine.Phase())
			}
		})
	}
}
