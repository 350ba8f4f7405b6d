package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amelia-run/amelia/agent"
	"github.com/amelia-run/amelia/pipeline"
)

func TestPlanCacheOfReturnsNilForEmptyPlan(t *testing.T) {
	cache, err := planCacheOf(pipeline.State{})
	require.NoError(t, err)
	require.Nil(t, cache)
}

func TestPlanCacheOfSummarizesTasks(t *testing.T) {
	state := pipeline.State{
		Plan: agent.Plan{
			Summary: "add a feature",
			Tasks: []agent.PlanTask{
				{ID: "t1", Title: "do it", Description: "implement it", Files: []string{"main.go"}},
			},
		},
	}
	cache, err := planCacheOf(state)
	require.NoError(t, err)
	require.Equal(t, "add a feature", cache["summary"])

	tasks, ok := cache["tasks"].([]any)
	require.True(t, ok)
	require.Len(t, tasks, 1)

	task, ok := tasks[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "t1", task["id"])
	require.Equal(t, "do it", task["title"])
}
