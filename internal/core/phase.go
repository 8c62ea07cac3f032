package core

// Phase is a stage in the fixed waterfall sequence the session moves through.
// Ordering is total and fixed; a session never regresses to an earlier phase.
type Phase string

const (
	PhaseRequirements   Phase = "requirements"
	PhaseDesign         Phase = "design"
	PhaseImplementation Phase = "implementation"
	PhaseTesting        Phase = "testing"
	PhaseDocumentation  Phase = "documentation"
	PhaseVerification   Phase = "verification"
)

// PhaseOrder returns all phases in execution order.
func PhaseOrder() []Phase {
	return []Phase{
		PhaseRequirements,
		PhaseDesign,
		PhaseImplementation,
		PhaseTesting,
		PhaseDocumentation,
		PhaseVerification,
	}
}

// PhaseIndex returns the position of p in the phase order, or -1 when p is
// not a known phase.
func PhaseIndex(p Phase) int {
	for i, candidate := range PhaseOrder() {
		if candidate == p {
			return i
		}
	}
	return -1
}

// NextPhase returns the phase following p. The second return is false when p
// is the terminal phase or unknown.
func NextPhase(p Phase) (Phase, bool) {
	idx := PhaseIndex(p)
	if idx < 0 || idx == len(PhaseOrder())-1 {
		return p, false
	}
	return PhaseOrder()[idx+1], true
}

// IsValidPhase reports whether p is one of the six known phases.
func IsValidPhase(p Phase) bool {
	return PhaseIndex(p) >= 0
}
