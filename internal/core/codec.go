package core

import (
	"encoding/json"
	"fmt"
)

// MarshalEvent serializes an event into its log representation: the kind tag
// plus a JSON payload. Timestamps marshal as ISO-8601 strings.
func MarshalEvent(e Event) (kind string, payload []byte, err error) {
	payload, err = json.Marshal(e)
	if err != nil {
		return "", nil, fmt.Errorf("marshal %s event: %w", e.EventKind(), err)
	}
	return e.EventKind(), payload, nil
}

// UnmarshalEvent revives an event from its log representation. Unknown kinds
// are an error: the log is canonical and a kind the code does not understand
// means the store is newer than the binary or corrupt.
func UnmarshalEvent(kind string, payload []byte) (Event, error) {
	var target Event
	switch kind {
	case KindInitialized:
		target = &Initialized{}
	case KindPhaseStarted:
		target = &PhaseStarted{}
	case KindPhaseCompleted:
		target = &PhaseCompleted{}
	case KindTurnStarted:
		target = &TurnStarted{}
	case KindTurnCompleted:
		target = &TurnCompleted{}
	case KindArtifactCreated:
		target = &ArtifactCreated{}
	case KindArtifactUpdated:
		target = &ArtifactUpdated{}
	case KindChecklistItemCompleted:
		target = &ChecklistItemCompleted{}
	case KindTestsPassed:
		target = &TestsPassed{}
	case KindTestsFailed:
		target = &TestsFailed{}
	case KindTypeCheckPassed:
		target = &TypeCheckPassed{}
	case KindTypeCheckFailed:
		target = &TypeCheckFailed{}
	case KindConfidenceUpdated:
		target = &ConfidenceUpdated{}
	case KindCheckpointCreated:
		target = &CheckpointCreated{}
	case KindCheckpointApproved:
		target = &CheckpointApproved{}
	case KindCheckpointRejected:
		target = &CheckpointRejected{}
	case KindConvergenceReached:
		target = &ConvergenceReached{}
	case KindBudgetExhausted:
		target = &BudgetExhausted{}
	case KindErrorOccurred:
		target = &ErrorOccurred{}
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}

	if err := json.Unmarshal(payload, target); err != nil {
		return nil, fmt.Errorf("unmarshal %s event: %w", kind, err)
	}
	return deref(target), nil
}

// deref returns the value form of the decoded event so that type switches on
// Event see the same concrete types Evolve was written against.
func deref(e Event) Event {
	switch ev := e.(type) {
	case *Initialized:
		return *ev
	case *PhaseStarted:
		return *ev
	case *PhaseCompleted:
		return *ev
	case *TurnStarted:
		return *ev
	case *TurnCompleted:
		return *ev
	case *ArtifactCreated:
		return *ev
	case *ArtifactUpdated:
		return *ev
	case *ChecklistItemCompleted:
		return *ev
	case *TestsPassed:
		return *ev
	case *TestsFailed:
		return *ev
	case *TypeCheckPassed:
		return *ev
	case *TypeCheckFailed:
		return *ev
	case *ConfidenceUpdated:
		return *ev
	case *CheckpointCreated:
		return *ev
	case *CheckpointApproved:
		return *ev
	case *CheckpointRejected:
		return *ev
	case *ConvergenceReached:
		return *ev
	case *BudgetExhausted:
		return *ev
	case *ErrorOccurred:
		return *ev
	default:
		return e
	}
}
