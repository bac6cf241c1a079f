package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObject(t *testing.T) {
	obj := Object([]Field{
		{Name: "query", Type: "string", Description: "what to search", Required: true},
		{Name: "limit", Type: "integer"},
	})

	assert.Equal(t, "object", obj["type"])
	assert.Equal(t, []string{"query"}, obj["required"])

	props := obj["properties"].(map[string]any)
	query := props["query"].(map[string]any)
	assert.Equal(t, "string", query["type"])
	assert.Equal(t, "what to search", query["description"])
}

func TestFromStruct(t *testing.T) {
	type args struct {
		Query   string   `json:"query" description:"search text"`
		Limit   int      `json:"limit,omitempty"`
		Exact   *bool    `json:"exact"`
		Tags    []string `json:"tags,omitempty"`
		skipped string   //nolint:unused // unexported fields are ignored
		Ignored string   `json:"-"`
	}

	fields := FromStruct(args{})
	require.Len(t, fields, 4)

	assert.Equal(t, Field{Name: "query", Type: "string", Description: "search text", Required: true}, fields[0])
	assert.False(t, fields[1].Required, "omitempty means optional")
	assert.False(t, fields[2].Required, "pointer means optional")
	assert.Equal(t, "array", fields[3].Type)
}

func TestValidate(t *testing.T) {
	obj := Object([]Field{
		{Name: "query", Type: "string", Required: true},
		{Name: "limit", Type: "integer"},
	})

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, Validate(map[string]any{"query": "x", "limit": 3}, obj))
	})

	t.Run("missing required", func(t *testing.T) {
		err := Validate(map[string]any{"limit": 3}, obj)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "query", verr.Field)
	})

	t.Run("wrong type", func(t *testing.T) {
		err := Validate(map[string]any{"query": 42}, obj)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "query", verr.Field)
	})

	t.Run("extra fields allowed", func(t *testing.T) {
		assert.NoError(t, Validate(map[string]any{"query": "x", "unknown": true}, obj))
	})

	t.Run("json numbers accepted for integer", func(t *testing.T) {
		assert.NoError(t, Validate(map[string]any{"query": "x", "limit": float64(3)}, obj))
	})
}
