package prompts

import (
	"fmt"
	"strings"

	"browser-bridge/internal/application/port/output"
	"browser-bridge/internal/domain/entity"
)

// Build renders the request into a system message plus one user message
// carrying the instruction, the transcript, the current observation, and
// any corrective note. When the transcript exceeds the token budget, the
// oldest verbatim steps collapse into one-line digests; the instruction
// is never dropped.
func (b *Builder) Build(req output.NextActionRequest) []Message {
	var sb strings.Builder
	sb.WriteString("Task: ")
	sb.WriteString(req.Instruction)
	sb.WriteString("\n")

	transcript := b.renderTranscript(req)
	if transcript != "" {
		sb.WriteString("\nPrevious steps:\n")
		sb.WriteString(transcript)
	}

	if req.Observation != nil {
		sb.WriteString("\nCurrent page:\n")
		sb.WriteString(b.renderObservation(*req.Observation))
	}

	if req.CorrectiveNote != "" {
		sb.WriteString("\nNote: ")
		sb.WriteString(req.CorrectiveNote)
		sb.WriteString("\n")
	}

	sb.WriteString("\nChoose the next action.")

	return []Message{
		{Role: RoleSystem, Content: SystemPrompt},
		{Role: RoleUser, Content: sb.String()},
	}
}

// renderTranscript renders steps oldest first, digesting from the front
// until the whole transcript fits the budget. The most recent KeepRecent
// steps start verbatim; even they collapse to digests under extreme
// pressure rather than dropping the instruction.
func (b *Builder) renderTranscript(req output.NextActionRequest) string {
	n := len(req.Steps)
	if n == 0 {
		return ""
	}

	verbatimFrom := n - b.cfg.KeepRecent
	if verbatimFrom < 0 {
		verbatimFrom = 0
	}

	fixed := CountTokens(SystemPrompt) + CountTokens(req.Instruction)
	if req.Observation != nil {
		fixed += CountTokens(b.renderObservation(*req.Observation))
	}
	budget := b.cfg.TokenBudget - fixed

	for ; verbatimFrom <= n; verbatimFrom++ {
		rendered := b.renderSteps(req.Steps, verbatimFrom)
		if CountTokens(rendered) <= budget || verbatimFrom == n {
			return rendered
		}
	}
	return b.renderSteps(req.Steps, n)
}

func (b *Builder) renderSteps(steps []entity.Step, verbatimFrom int) string {
	var sb strings.Builder
	for i, step := range steps {
		if i < verbatimFrom {
			sb.WriteString(b.digestStep(step))
		} else {
			sb.WriteString(b.verbatimStep(step))
		}
	}
	return sb.String()
}

// digestStep is one line: enough to keep the model oriented about old
// history without paying for full observations.
func (b *Builder) digestStep(step entity.Step) string {
	status := "ok"
	if !step.Outcome.Success {
		status = "failed: " + truncate(step.Outcome.Error, 120)
	}
	return fmt.Sprintf("%d. %s(%s) -> %s\n",
		step.Index+1, step.Action.Name, truncate(step.Action.Raw, 120), status)
}

func (b *Builder) verbatimStep(step entity.Step) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d. Action: %s %s\n", step.Index+1, step.Action.Name, truncate(step.Action.Raw, 400))
	if step.Outcome.Success {
		if step.Outcome.Data != "" {
			fmt.Fprintf(&sb, "   Result: %s\n", truncate(step.Outcome.Data, 1000))
		}
	} else {
		fmt.Fprintf(&sb, "   Error: %s\n", truncate(step.Outcome.Error, 400))
	}
	return sb.String()
}

func (b *Builder) renderObservation(obs entity.Observation) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "URL: %s\n", obs.URL)
	if obs.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", obs.Title)
	}
	if obs.Text != "" {
		fmt.Fprintf(&sb, "Visible text:\n%s\n", truncate(obs.Text, b.cfg.MaxObservationChars))
	}
	if len(obs.Elements) > 0 {
		sb.WriteString("Interactive elements:\n")
		limit := len(obs.Elements)
		if limit > b.cfg.MaxElements {
			limit = b.cfg.MaxElements
		}
		for _, el := range obs.Elements[:limit] {
			label := el.Text
			if label == "" {
				label = el.AriaLabel
			}
			fmt.Fprintf(&sb, "- [%s] %s %q selector=%s\n", el.ID, el.Type, truncate(label, 80), el.Selector)
		}
		if len(obs.Elements) > limit {
			fmt.Fprintf(&sb, "... and %d more\n", len(obs.Elements)-limit)
		}
	}
	return sb.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "... (truncated)"
}
