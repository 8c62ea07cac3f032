package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventCodec_RoundTrip(t *testing.T) {
	stamp := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	coverage := 87.5

	events := []Event{
		Initialized{
			Prompt:    "build it",
			Checklist: []ChecklistItem{{ID: "requirements-01", Phase: PhaseRequirements, Description: "a"}},
			Budgets:   DefaultBudgets(),
			At:        stamp,
		},
		TestsPassed{Coverage: &coverage, At: stamp},
		TypeCheckFailed{Errors: []string{"cannot use x"}, At: stamp},
		CheckpointCreated{
			Summary: CheckpointSummary{ID: "cp-1", Phase: PhaseDesign, Turn: 9, Score: 0.5, CreatedAt: stamp},
			At:      stamp,
		},
		ErrorOccurred{Message: "adapter failed", Recoverable: true, At: stamp},
	}

	for _, original := range events {
		kind, payload, err := MarshalEvent(original)
		require.NoError(t, err)
		assert.Equal(t, original.EventKind(), kind)

		revived, err := UnmarshalEvent(kind, payload)
		require.NoError(t, err)
		assert.Equal(t, original, revived)
		assert.Equal(t, stamp, revived.OccurredAt())
	}
}

func TestEventCodec_UnknownKind(t *testing.T) {
	_, err := UnmarshalEvent("time_travelled", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown event kind")
}

func TestEventCodec_BadPayload(t *testing.T) {
	_, err := UnmarshalEvent(KindInitialized, []byte(`{not json`))
	require.Error(t, err)
}
