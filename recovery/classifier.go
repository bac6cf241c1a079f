// Package recovery classifies step failures into error kinds and applies
// ordered recovery strategies until one succeeds or the rule set is
// exhausted.
package recovery

import (
	"strings"

	"github.com/taskmesh/taskmesh/core"
)

// classifierTable is consulted in order: more specific categories first,
// general categories last. The first pattern match wins, so the order is
// load-bearing.
var classifierTable = []struct {
	kind     core.ErrorKind
	patterns []string
}{
	{core.KindPermissionError, []string{
		"permission", "unauthorized", "forbidden", "access denied", "not allowed", "401", "403",
	}},
	{core.KindKnowledgeGap, []string{
		"not found", "no such", "unknown entity", "missing information", "does not exist", "no results",
	}},
	{core.KindDataError, []string{
		"invalid", "malformed", "parse error", "unmarshal", "validation", "schema", "bad format",
	}},
	{core.KindAPIError, []string{
		"api", "rate limit", "timeout", "timed out", "connection", "network", "unavailable", "429", "502", "503",
	}},
	{core.KindSystemError, []string{
		"out of memory", "disk", "resource exhausted", "internal error", "system",
	}},
	{core.KindToolError, []string{
		"tool", "execution error", "execution failed", "command failed",
	}},
	{core.KindReasoningError, []string{
		"reasoning", "contradiction", "inconsistent", "incoherent", "logic",
	}},
}

// Classify assigns an ErrorKind from the failure's message. It is a pure
// function: the same message always yields the same kind. Classification
// happens once, at the moment a step fails, and is immutable afterwards.
func Classify(err error) core.ErrorKind {
	if err == nil {
		return core.KindUnknown
	}
	msg := strings.ToLower(err.Error())
	for _, entry := range classifierTable {
		for _, pattern := range entry.patterns {
			if strings.Contains(msg, pattern) {
				return entry.kind
			}
		}
	}
	return core.KindUnknown
}
