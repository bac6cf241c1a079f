package protocol

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/model"
)

func TestConversationRunsTurnsToCompletion(t *testing.T) {
	mock := model.NewMockModel("m")
	mock.Enqueue(
		"1. Draft the outline\n2. Write the introduction",
		"Outline: three sections.",
		"Outline looks complete.",
		"Introduction: engines turn goals into steps.",
		"Introduction reads well.",
	)

	rt := testRuntime()
	rt.Model = mock

	p, err := NewConversation(rt)
	require.NoError(t, err)
	conv := p.(*Conversation)
	require.NoError(t, conv.Init(context.Background()))
	assert.Equal(t, ConversationStarted, conv.State())

	result, err := conv.Execute(context.Background(), core.Request{Task: "write a post"}, nil)
	require.NoError(t, err)
	assert.Equal(t, ConversationCompleted, conv.State())

	// Two plan items become four turns: execute and critique per item.
	summaries := result.Metadata["steps"].([]core.StepSummary)
	require.Len(t, summaries, 4)
	for _, s := range summaries {
		assert.Equal(t, core.StepCompleted, s.Status)
	}
	// The final turn's output is the result content.
	assert.Equal(t, "Introduction reads well.", result.Content)
}

func TestConversationTurnsAreLinearlyChained(t *testing.T) {
	mock := model.NewMockModel("m")
	mock.Enqueue("1. only item")

	rt := testRuntime()
	rt.Model = mock

	p, err := NewConversation(rt)
	require.NoError(t, err)

	result, err := p.Execute(context.Background(), core.Request{Task: "small task"}, nil)
	require.NoError(t, err)

	summaries := result.Metadata["steps"].([]core.StepSummary)
	require.Len(t, summaries, 2)
	assert.Equal(t, "execute-1", summaries[0].Name)
	assert.Equal(t, "critique-1", summaries[1].Name)
}

func TestConversationFailsWhenPlanExceedsTurnBudget(t *testing.T) {
	mock := model.NewMockModel("m")
	mock.Enqueue("1. one\n2. two\n3. three\n4. four\n5. five")

	rt := testRuntime()
	rt.Config.MaxTurns = 5 // planner turn + two items at two turns each

	rt.Model = mock

	p, err := NewConversation(rt)
	require.NoError(t, err)
	conv := p.(*Conversation)

	result, err := conv.Execute(context.Background(), core.Request{Task: "big task"}, nil)
	require.Error(t, err)
	assert.Equal(t, ConversationFailed, conv.State())

	// Turns that fit the budget still ran and are retained in the result.
	summaries := result.Metadata["steps"].([]core.StepSummary)
	require.Len(t, summaries, 4)
	for _, s := range summaries {
		assert.Equal(t, core.StepCompleted, s.Status)
	}
}

func TestConversationPlannerFailureFailsExecution(t *testing.T) {
	mock := model.NewMockModel("m")
	mock.Err = assert.AnError

	rt := testRuntime()
	rt.Model = mock

	p, err := NewConversation(rt)
	require.NoError(t, err)
	conv := p.(*Conversation)

	_, err = conv.Execute(context.Background(), core.Request{Task: "task"}, nil)
	require.Error(t, err)
	assert.Equal(t, ConversationFailed, conv.State())
}
