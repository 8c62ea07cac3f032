package core

// convergence thresholds: the score floor and the number of consecutive
// green signals required before a run is declared done.
const (
	ConvergenceScoreThreshold = 0.9
	ConvergenceStreakRequired = 3
)

// OverallScore derives the quality score from the raw confidence signals.
// Type safety and schema validity are hard zeros; failing tests cap the
// score at 0.3. Above that, coverage (normalized against 80%) and checklist
// completion each contribute a quarter on top of the 0.5 base.
func OverallScore(c Confidence) float64 {
	if !c.TypesSafe {
		return 0.0
	}
	if !c.SchemaValid {
		return 0.0
	}
	if !c.TestsPass {
		return 0.3
	}
	score := 0.5
	coverageRatio := c.Coverage / 80.0
	if coverageRatio > 1.0 {
		coverageRatio = 1.0
	}
	score += coverageRatio * 0.25
	if c.ChecklistComplete {
		score += 0.25
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// HasConverged reports the terminal success condition: a score at or above
// the threshold sustained for three consecutive passing signals. The streak
// requirement keeps a single flaky green run from ending the session.
func HasConverged(s State) bool {
	return OverallScore(s.Confidence) >= ConvergenceScoreThreshold &&
		s.ConvergenceStreak >= ConvergenceStreakRequired
}

// rescore recomputes the derived score in place.
func rescore(c Confidence) Confidence {
	c.OverallScore = OverallScore(c)
	return c
}
