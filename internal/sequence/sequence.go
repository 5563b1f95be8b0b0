// internal/sequence/sequence.go

// Package sequence holds the pure behavior of a sequence definition:
// template resolution, branch walking and activation-time validation.
package sequence

import (
	"fmt"
	"regexp"

	"github.com/unclebandit/outreach-engine/internal/model"
)

// EndStepID is the reserved branch target that completes an execution
// immediately, skipping any remaining steps.
const EndStepID = "end"

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Resolve substitutes {{field}} placeholders with contact attributes.
// Unresolved placeholders are left verbatim so partial contact data never
// blocks a send.
func Resolve(template string, contact *model.Contact) string {
	fields := contact.Fields()
	return placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		key := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := fields[key]; ok && v != "" {
			return v
		}
		return m
	})
}

// NextStep walks a branch step's condition table for the observed outcome.
// When no rule matches, the default continuation (the step after current in
// definition order) applies. The second return is false when the sequence
// is finished.
func NextStep(seq *model.Sequence, current model.Step, observed model.Outcome) (string, bool) {
	observed = model.ParseOutcome(string(observed))
	for _, rule := range current.Branches {
		if rule.Outcome == observed {
			if rule.NextStepID == EndStepID {
				return "", false
			}
			return rule.NextStepID, true
		}
	}
	next, ok := seq.StepAfter(current.ID)
	if !ok {
		return "", false
	}
	return next.ID, true
}

// Validate checks a definition before activation. Activation freezes the
// version, so a defect caught here never reaches a running execution.
func Validate(seq *model.Sequence) error {
	if len(seq.Steps) == 0 {
		return fmt.Errorf("sequence has no steps")
	}
	if len(seq.Platforms) == 0 {
		return fmt.Errorf("sequence has no platforms")
	}

	ids := make(map[string]bool, len(seq.Steps))
	for _, st := range seq.Steps {
		if st.ID == "" {
			return fmt.Errorf("step with empty id")
		}
		if st.ID == EndStepID {
			return fmt.Errorf("step id %q is reserved", EndStepID)
		}
		if ids[st.ID] {
			return fmt.Errorf("duplicate step id %q", st.ID)
		}
		ids[st.ID] = true
	}

	targetExists := func(id string) bool {
		return id == EndStepID || ids[id]
	}

	for _, st := range seq.Steps {
		switch st.Kind {
		case model.StepSend:
			if st.Channel == "" {
				return fmt.Errorf("send step %q has no channel", st.ID)
			}
			if !seq.AllowsPlatform(st.Channel) {
				return fmt.Errorf("send step %q uses channel %q outside the platform set", st.ID, st.Channel)
			}
			if st.Template == "" {
				return fmt.Errorf("send step %q has no template", st.ID)
			}
			if st.OnSkip != "" && !targetExists(st.OnSkip) {
				return fmt.Errorf("send step %q redirects to unknown step %q", st.ID, st.OnSkip)
			}
		case model.StepWait:
			if st.DelaySeconds <= 0 {
				return fmt.Errorf("wait step %q has no delay", st.ID)
			}
		case model.StepBranch:
			if len(st.Branches) == 0 {
				return fmt.Errorf("branch step %q has no rules", st.ID)
			}
			for _, rule := range st.Branches {
				if model.ParseOutcome(string(rule.Outcome)) != rule.Outcome {
					return fmt.Errorf("branch step %q has unknown outcome %q", st.ID, rule.Outcome)
				}
				if !targetExists(rule.NextStepID) {
					return fmt.Errorf("branch step %q targets unknown step %q", st.ID, rule.NextStepID)
				}
			}
		default:
			return fmt.Errorf("step %q has unknown kind %q", st.ID, st.Kind)
		}
	}
	return nil
}
