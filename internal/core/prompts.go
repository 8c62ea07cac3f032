package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// requirementsPrompt is the stable template used on initialization. The
// model is asked for a machine-readable checklist so the response can be
// parsed without heuristics.
func requirementsPrompt(prompt string) string {
	var b strings.Builder
	b.WriteString("You are the requirements analyst for an autonomous build session.\n\n")
	b.WriteString("Project request:\n")
	b.WriteString(prompt)
	b.WriteString("\n\n")
	b.WriteString("Break this request down into a checklist of concrete, verifiable work items.\n")
	b.WriteString("Assign every item to exactly one phase out of: ")
	for i, p := range PhaseOrder() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(string(p))
	}
	b.WriteString(".\n\n")
	b.WriteString("Respond with ONLY a JSON array, no prose. Each element must have the shape:\n")
	b.WriteString(`  {"phase": "<phase>", "description": "<what to do>", "verification": "<how to check it is done>"}` + "\n")
	return b.String()
}

// phasePrompt builds the per-turn working prompt: current phase and the
// number of the turn being started, confidence, the original request, the
// phase checklist split into done and remaining, and the artifacts produced
// so far in this phase.
func phasePrompt(s State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Phase: %s (turn %d)\n", s.Phase, s.Turn+1)
	fmt.Fprintf(&b, "Confidence: %.0f%%\n\n", s.Confidence.OverallScore*100)
	b.WriteString("Original request:\n")
	b.WriteString(s.Prompt)
	b.WriteString("\n\n")

	items := s.ChecklistForPhase(s.Phase)
	var done, remaining []ChecklistItem
	for _, item := range items {
		if item.Completed {
			done = append(done, item)
		} else {
			remaining = append(remaining, item)
		}
	}
	b.WriteString("Checklist for this phase:\n")
	for _, item := range done {
		fmt.Fprintf(&b, "  [x] %s: %s\n", item.ID, item.Description)
	}
	for _, item := range remaining {
		fmt.Fprintf(&b, "  [ ] %s: %s\n", item.ID, item.Description)
	}
	if len(items) == 0 {
		b.WriteString("  (none)\n")
	}

	var produced []Artifact
	for _, a := range s.Artifacts {
		if a.Phase == s.Phase {
			produced = append(produced, a)
		}
	}
	if len(produced) > 0 {
		b.WriteString("\nArtifacts produced in this phase:\n")
		for _, a := range produced {
			fmt.Fprintf(&b, "  - %s\n", a.Path)
		}
	}

	b.WriteString("\nContinue working on the remaining items. ")
	b.WriteString("Use the write_file tool with path and content for every file you produce, ")
	b.WriteString("and report finished items with the complete_checklist_item tool (item_id, evidence).\n")
	return b.String()
}

// checklistEntry mirrors the JSON shape requested by requirementsPrompt.
type checklistEntry struct {
	ID           string `json:"id"`
	Phase        string `json:"phase"`
	Description  string `json:"description"`
	Verification string `json:"verification"`
}

// ParseChecklist extracts checklist items from a model response. The parse is
// tolerant of surrounding prose: it takes the outermost JSON array in the
// content. Entries with an unknown phase or an empty description are dropped.
// Missing ids are assigned deterministically from the phase and position.
func ParseChecklist(content string) ([]ChecklistItem, error) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in checklist response")
	}

	var entries []checklistEntry
	if err := json.Unmarshal([]byte(content[start:end+1]), &entries); err != nil {
		return nil, fmt.Errorf("parse checklist: %w", err)
	}

	items := make([]ChecklistItem, 0, len(entries))
	counts := make(map[Phase]int)
	for _, e := range entries {
		phase := Phase(e.Phase)
		if !IsValidPhase(phase) || strings.TrimSpace(e.Description) == "" {
			continue
		}
		counts[phase]++
		id := e.ID
		if id == "" {
			id = fmt.Sprintf("%s-%02d", phase, counts[phase])
		}
		desc := e.Description
		if e.Verification != "" {
			desc = fmt.Sprintf("%s (verify: %s)", e.Description, e.Verification)
		}
		items = append(items, ChecklistItem{
			ID:          id,
			Phase:       phase,
			Description: desc,
		})
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("checklist response contained no usable items")
	}
	return items, nil
}
