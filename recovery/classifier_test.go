package recovery

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taskmesh/taskmesh/core"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    core.ErrorKind
	}{
		{"unauthorized access", "unauthorized access", core.KindPermissionError},
		{"http 403", "request rejected with 403", core.KindPermissionError},
		{"not found", "document not found in index", core.KindKnowledgeGap},
		{"invalid input", "invalid input payload", core.KindDataError},
		{"rate limit", "rate limit exceeded, slow down", core.KindAPIError},
		{"timeout", "request timed out after 30s", core.KindAPIError},
		{"out of memory", "process out of memory", core.KindSystemError},
		{"tool failure", "tool execution failed", core.KindToolError},
		{"contradiction", "output contains a contradiction", core.KindReasoningError},
		{"unmatched", "something completely different", core.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(errors.New(tt.message)))
		})
	}
}

// Specific categories win over general ones when a message matches both.
func TestClassifyOrderMatters(t *testing.T) {
	// "permission" beats "tool" even though both substrings are present.
	got := Classify(errors.New("tool rejected: permission denied"))
	assert.Equal(t, core.KindPermissionError, got)

	// "not found" beats "api".
	got = Classify(errors.New("api object not found"))
	assert.Equal(t, core.KindKnowledgeGap, got)
}

func TestClassifyIdempotent(t *testing.T) {
	err := errors.New("connection refused by upstream network")
	first := Classify(err)
	second := Classify(err)
	assert.Equal(t, first, second)
	assert.Equal(t, core.KindAPIError, first)
}

func TestClassifyNil(t *testing.T) {
	assert.Equal(t, core.KindUnknown, Classify(nil))
}
