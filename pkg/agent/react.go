package agent

import (
	"fmt"
	"strings"
)

// ReAct markers recognised in model output.
const (
	markerThought     = "Thought:"
	markerAction      = "Action:"
	markerActionInput = "Action Input:"
	markerObservation = "Observation:"
	markerFinalAnswer = "Final Answer:"
)

// ParseReAct interprets free-form model output written in the Thought/Action/Final Answer format.
//
// Text after the first "Observation:" is discarded because the model must not invent tool results.
// A "Final Answer:" wins over an action in the same output. Output with no markers at all is taken
// as the final answer; output with a dangling Thought or an Action lacking its input is a parse failure.
func ParseReAct(text string) (Step, error) {
	raw := text
	text = strings.TrimSpace(text)
	if text == "" {
		return parseFailure(raw, "empty output")
	}

	if idx := strings.Index(text, markerObservation); idx >= 0 {
		text = strings.TrimSpace(text[:idx])
	}

	if idx := strings.LastIndex(text, markerFinalAnswer); idx >= 0 {
		answer := strings.TrimSpace(text[idx+len(markerFinalAnswer):])
		if answer == "" {
			return parseFailure(raw, "empty final answer")
		}
		return Step{Kind: StepFinal, Answer: answer, Raw: raw}, nil
	}

	if hasActionLine(text) {
		return parseAction(text, raw)
	}

	if strings.HasPrefix(text, markerThought) {
		return parseFailure(raw, "thought without action or final answer")
	}

	return Step{Kind: StepFinal, Answer: text, Raw: raw}, nil
}

func hasActionLine(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, markerAction) || strings.HasPrefix(line, markerActionInput) {
			return true
		}
	}
	return false
}

func parseAction(text, raw string) (Step, error) {
	// "Action Input:" also contains "Action", so locate the action line explicitly.
	var name string
	var input string
	var haveInput bool

	lines := strings.Split(text, "\n")
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		switch {
		case strings.HasPrefix(line, markerActionInput):
			haveInput = true
			rest := strings.TrimSpace(strings.TrimPrefix(line, markerActionInput))
			// multi-line inputs such as JSON run to the end of the output
			tail := append([]string{rest}, lines[i+1:]...)
			input = strings.TrimSpace(strings.Join(tail, "\n"))
			i = len(lines)
		case strings.HasPrefix(line, markerAction):
			name = strings.TrimSpace(strings.TrimPrefix(line, markerAction))
		}
	}

	if name == "" {
		return parseFailure(raw, "action without tool name")
	}
	if !haveInput {
		return parseFailure(raw, fmt.Sprintf("action %q without action input", name))
	}

	return Step{
		Kind:  StepToolCall,
		Call:  ToolCall{Name: strings.Trim(name, "`\"' ")},
		Input: strings.Trim(input, "\"'"),
		Raw:   raw,
	}, nil
}

func parseFailure(raw, reason string) (Step, error) {
	return Step{Kind: StepParseFailure, Raw: raw}, fmt.Errorf("%w: %s", ErrParse, reason)
}
