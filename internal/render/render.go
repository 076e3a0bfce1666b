// Package render turns raw agent JSON artifacts into chat-facing markdown,
// action buttons, and file exports.
package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rodcar/agentic-software-factory/internal/models"
)

// SpecMarkdown renders a functional spec JSON payload as markdown. When the
// payload does not parse into the expected shape, it falls back to showing
// the raw payload in a code fence and reports ok=false.
func SpecMarkdown(raw string) (string, bool) {
	var spec models.FunctionalSpec
	if err := json.Unmarshal([]byte(raw), &spec); err != nil || len(spec.Epics) == 0 {
		return rawFallback(raw), false
	}

	var b strings.Builder
	b.WriteString("### Product Backlog\n")
	for _, epic := range spec.Epics {
		fmt.Fprintf(&b, "\n#### Epic: %s\n", epic.Name)
		for _, feature := range epic.Features {
			fmt.Fprintf(&b, "- %s\n", feature)
		}
	}
	if len(spec.Entities) > 0 {
		b.WriteString("\n### Data Model\n")
		for _, entity := range spec.Entities {
			fmt.Fprintf(&b, "\n#### Entity: %s\n", entity.Name)
			for _, prop := range entity.Properties {
				fmt.Fprintf(&b, "- %s\n", prop)
			}
			for _, rel := range entity.Relationships {
				fmt.Fprintf(&b, "- %s %s\n", rel.Type, rel.Target)
			}
		}
	}
	return b.String(), true
}

// TestPlanMarkdown renders a test plan JSON payload as markdown, one suite
// heading per section. Falls back like SpecMarkdown on malformed payloads.
func TestPlanMarkdown(raw string) (string, bool) {
	var plan models.TestPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil || len(plan.TestCases) == 0 {
		return rawFallback(raw), false
	}

	name := plan.Name
	if name == "" {
		name = "Test Plan"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "### %s\n", name)
	for _, section := range plan.Sections() {
		fmt.Fprintf(&b, "\n#### Test Suite: %s\n", section)
		for _, tc := range plan.TestCases[section] {
			if tc.Description != "" {
				fmt.Fprintf(&b, "- `%s`: %s\n", tc.Name, tc.Description)
			} else {
				fmt.Fprintf(&b, "- `%s`\n", tc.Name)
			}
		}
	}
	return b.String(), true
}

// ReviewMarkdown renders reviewer output: the feedback paragraph followed by
// the suggestions intro. The suggestions themselves become action buttons via
// SuggestionActions.
func ReviewMarkdown(raw string) (string, bool) {
	var review models.Review
	if err := json.Unmarshal([]byte(raw), &review); err != nil || review.ReviewFeedback == "" {
		return rawFallback(raw), false
	}
	var b strings.Builder
	b.WriteString(review.ReviewFeedback)
	if review.SuggestionsIntro != "" && len(review.Suggestions) > 0 {
		b.WriteString("\n\n")
		b.WriteString(review.SuggestionsIntro)
	}
	return b.String(), true
}

// maxSuggestionActions bounds the apply buttons per review.
const maxSuggestionActions = 5

// SuggestionActions converts reviewer suggestions into indexed apply buttons,
// at most maxSuggestionActions of them. Returns nil when the payload has no
// usable suggestions.
func SuggestionActions(raw string) []models.Action {
	var review models.Review
	if err := json.Unmarshal([]byte(raw), &review); err != nil {
		return nil
	}
	suggestions := review.Suggestions
	if len(suggestions) > maxSuggestionActions {
		suggestions = suggestions[:maxSuggestionActions]
	}
	actions := make([]models.Action, 0, len(suggestions))
	for i, suggestion := range suggestions {
		actions = append(actions, models.Action{
			Name:    fmt.Sprintf("apply_suggestion_%d", i),
			Label:   suggestion,
			Payload: suggestion,
		})
	}
	if len(actions) == 0 {
		return nil
	}
	return actions
}

func rawFallback(raw string) string {
	return fmt.Sprintf("Could not present the response, showing it as is:\n\n```\n%s\n```", strings.TrimSpace(raw))
}
