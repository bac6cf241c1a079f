// Package plan decodes model output into executable step lists. Model output
// is best-effort structured: the decoder attempts a strict JSON parse first,
// falls back to pattern-based extraction of numbered or bulleted lines, and
// finally degrades to a single default step so callers always get a usable
// plan.
package plan

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// Step is one decoded plan entry. DependsOn references other entries by
// name; callers resolve names to step IDs when building a graph.
type Step struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Tool        string         `json:"tool,omitempty"`
	Input       map[string]any `json:"input,omitempty"`
	DependsOn   []string       `json:"depends_on,omitempty"`
}

// planEnvelope matches the object form {"steps": [...]}.
type planEnvelope struct {
	Steps []Step `json:"steps"`
}

var (
	numberedLine = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*])\s+(.+)$`)
	jsonBlock    = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
)

// Decode turns raw model output into a step list. maxSteps caps the result;
// zero means no cap. The result is never empty: when nothing parses, the raw
// text becomes a single default step.
func Decode(text string, maxSteps int) []Step {
	steps := decodeJSON(text)
	if len(steps) == 0 {
		steps = decodeLines(text)
	}
	if len(steps) == 0 {
		steps = []Step{{
			Name:        "step-1",
			Description: strings.TrimSpace(text),
		}}
	}
	if maxSteps > 0 && len(steps) > maxSteps {
		steps = steps[:maxSteps]
	}
	for i := range steps {
		if steps[i].Name == "" {
			steps[i].Name = defaultName(i)
		}
	}
	return steps
}

// decodeJSON attempts the strict parse: a JSON array of steps or an object
// with a "steps" field, optionally wrapped in a markdown code fence.
func decodeJSON(text string) []Step {
	candidates := []string{strings.TrimSpace(text)}
	for _, m := range jsonBlock.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	// A JSON payload embedded in prose: try from the first bracket.
	if idx := strings.IndexAny(text, "[{"); idx > 0 {
		candidates = append(candidates, strings.TrimSpace(text[idx:]))
	}

	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		var steps []Step
		if err := json.Unmarshal([]byte(candidate), &steps); err == nil && validSteps(steps) {
			return steps
		}
		var envelope planEnvelope
		if err := json.Unmarshal([]byte(candidate), &envelope); err == nil && validSteps(envelope.Steps) {
			return envelope.Steps
		}
	}
	return nil
}

// decodeLines extracts numbered ("1. do x") or bulleted ("- do x") lines.
func decodeLines(text string) []Step {
	var steps []Step
	for _, line := range strings.Split(text, "\n") {
		m := numberedLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		desc := strings.TrimSpace(m[1])
		if desc == "" {
			continue
		}
		steps = append(steps, Step{
			Name:        defaultName(len(steps)),
			Description: desc,
		})
	}
	return steps
}

func validSteps(steps []Step) bool {
	if len(steps) == 0 {
		return false
	}
	for _, s := range steps {
		if s.Description == "" && s.Name == "" && s.Tool == "" {
			return false
		}
	}
	return true
}

func defaultName(i int) string {
	return "step-" + strconv.Itoa(i+1)
}

// DecodeInput extracts a single JSON object from model output, used for
// corrected tool inputs. Unlike Decode it does not degrade: callers need a
// real object or nothing.
func DecodeInput(text string) (map[string]any, error) {
	candidates := []string{strings.TrimSpace(text)}
	for _, m := range jsonBlock.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	if idx := strings.Index(text, "{"); idx > 0 {
		candidates = append(candidates, strings.TrimSpace(text[idx:]))
	}
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		var input map[string]any
		if err := json.Unmarshal([]byte(candidate), &input); err == nil {
			return input, nil
		}
	}
	return nil, errors.New("no JSON object in output")
}
