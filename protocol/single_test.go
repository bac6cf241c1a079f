package protocol

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/model"
	"github.com/taskmesh/taskmesh/tool"
)

func TestSingleShotModelCall(t *testing.T) {
	mock := model.NewMockModel("m")
	mock.AddResponse("Current step: answer", "the direct answer")

	rt := testRuntime()
	rt.Model = mock

	p, err := NewSingleShot(rt)
	require.NoError(t, err)

	var completed bool
	callbacks := &core.Callbacks{OnComplete: func(core.Result) { completed = true }}

	result, err := p.Execute(context.Background(), core.Request{Task: "what is 2+2?"}, callbacks)
	require.NoError(t, err)
	assert.Equal(t, "the direct answer", result.Content)
	assert.Empty(t, result.ToolCalls)
	assert.True(t, completed)
}

func TestSingleShotDirectToolCall(t *testing.T) {
	mock := model.NewMockModel("m")
	mock.AddResponse("Produce the input for the tool", `{"city": "Berlin"}`)

	rt := testRuntime()
	rt.Model = mock
	require.NoError(t, rt.Tools.Register(tool.NewFunctionTool("weather", "gets weather", nil,
		func(_ context.Context, input map[string]any) (any, error) {
			return "sunny in " + input["city"].(string), nil
		})))

	p, err := NewSingleShot(rt)
	require.NoError(t, err)

	result, err := p.Execute(context.Background(), core.Request{
		Task:  "what is the weather in Berlin?",
		Tools: []string{"weather"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "sunny in Berlin", result.Content)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "weather", result.ToolCalls[0].Name)
}

func TestSingleShotMetadata(t *testing.T) {
	p, err := NewSingleShot(testRuntime())
	require.NoError(t, err)
	meta := p.Metadata()
	assert.Equal(t, SingleShotName, meta.Name)
	assert.True(t, meta.Supports(CapabilityToolUse))
	assert.False(t, meta.Supports(CapabilityCollaboration))
}

func TestSingleShotRequiresModel(t *testing.T) {
	rt := testRuntime()
	rt.Model = nil
	_, err := NewSingleShot(rt)
	assert.Error(t, err)
}
