package core

// Evolve applies one recorded event to the state and returns the successor.
// It is pure: no clock reads (timestamps come from the event) and no
// mutation of the input. Impossible inputs (unknown artifact or checkpoint
// ids) leave the state unchanged apart from the activity timestamp; the fold
// never fails.
func Evolve(s State, e Event) State {
	next := s.Clone()
	next.LastActivityAt = e.OccurredAt()

	switch ev := e.(type) {
	case Initialized:
		next.Prompt = ev.Prompt
		next.Checklist = append([]ChecklistItem(nil), ev.Checklist...)
		next.Budgets = append([]TurnBudget(nil), ev.Budgets...)
		next.Phase = PhaseRequirements
		next.Turn = 0
		next.StartedAt = ev.At
		next.Confidence = rescore(next.Confidence)

	case PhaseStarted:
		if PhaseIndex(ev.Phase) >= PhaseIndex(next.Phase) {
			next.Phase = ev.Phase
		}
		next.setBudget(ev.Budget)

	case PhaseCompleted:
		next.setUsedTurns(ev.Phase, ev.TurnsUsed)
		if nextPhase, ok := NextPhase(ev.Phase); ok && ev.Phase == next.Phase {
			next.Phase = nextPhase
		}

	case TurnStarted:
		// The event log is the authoritative turn counter.
		if ev.Turn >= next.Turn {
			next.Turn = ev.Turn
		}

	case TurnCompleted:
		for i := range next.Budgets {
			if next.Budgets[i].Phase == next.Phase {
				next.Budgets[i].UsedTurns++
			}
		}

	case ArtifactCreated:
		next.Artifacts = append(next.Artifacts, ev.Artifact)

	case ArtifactUpdated:
		for i := range next.Artifacts {
			if next.Artifacts[i].ID == ev.ArtifactID {
				next.Artifacts[i].Hash = ev.Hash
				next.Artifacts[i].UpdatedAt = ev.At
				break
			}
		}

	case ChecklistItemCompleted:
		for i := range next.Checklist {
			if next.Checklist[i].ID == ev.ItemID {
				next.Checklist[i].Completed = true
				next.Checklist[i].Evidence = ev.Evidence
				at := ev.At
				next.Checklist[i].CompletedAt = &at
				break
			}
		}
		next.Confidence.ChecklistComplete = next.checklistComplete()
		next.Confidence = rescore(next.Confidence)

	case TestsPassed:
		next.Confidence.TestsPass = true
		if ev.Coverage != nil {
			next.Confidence.Coverage = *ev.Coverage
		}
		next.ConvergenceStreak++
		next.Confidence = rescore(next.Confidence)
		next.Converged = HasConverged(next)

	case TestsFailed:
		next.Confidence.TestsPass = false
		if ev.Coverage != nil {
			next.Confidence.Coverage = *ev.Coverage
		}
		next.ConvergenceStreak = 0
		next.Confidence = rescore(next.Confidence)

	case TypeCheckPassed:
		next.Confidence.TypesSafe = true
		next.Confidence = rescore(next.Confidence)

	case TypeCheckFailed:
		next.Confidence.TypesSafe = false
		next.ConvergenceStreak = 0
		next.Confidence = rescore(next.Confidence)

	case ConfidenceUpdated:
		next.Confidence = rescore(ev.Confidence)
		next.Converged = HasConverged(next)

	case CheckpointCreated:
		summary := ev.Summary
		next.PendingCheckpoint = &summary

	case CheckpointApproved:
		// The id guard makes replay collisions idempotent.
		if next.PendingCheckpoint != nil && next.PendingCheckpoint.ID == ev.CheckpointID {
			next.LastApprovedCheckpoint = next.PendingCheckpoint
			next.PendingCheckpoint = nil
		}

	case CheckpointRejected:
		if next.PendingCheckpoint != nil && next.PendingCheckpoint.ID == ev.CheckpointID {
			next.PendingCheckpoint = nil
		}

	case ConvergenceReached:
		next.Converged = true
		next.Confidence.OverallScore = ev.Score

	case BudgetExhausted:
		next.setUsedTurns(ev.Phase, ev.TurnsUsed)

	case ErrorOccurred:
		// Only the activity timestamp moves.
	}

	return next
}

// setBudget replaces the budget entry for the given phase.
func (s *State) setBudget(b TurnBudget) {
	for i := range s.Budgets {
		if s.Budgets[i].Phase == b.Phase {
			s.Budgets[i] = b
			return
		}
	}
}

// setUsedTurns overwrites the used-turn counter for the given phase.
func (s *State) setUsedTurns(p Phase, used int) {
	for i := range s.Budgets {
		if s.Budgets[i].Phase == p {
			s.Budgets[i].UsedTurns = used
			return
		}
	}
}

// Replay folds the full event sequence over the initial state. It is
// referentially transparent: the same events and initial state always yield
// the same result, byte for byte.
func Replay(events []Event, initial State) State {
	s := initial
	for _, e := range events {
		s = Evolve(s, e)
	}
	return s
}

// ReplayUntil folds only the first k events.
func ReplayUntil(events []Event, initial State, k int) State {
	if k > len(events) {
		k = len(events)
	}
	return Replay(events[:k], initial)
}
