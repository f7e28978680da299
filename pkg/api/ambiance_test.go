package api_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemanthmantri/conduit/pkg/api"
)

func TestPushLevelCopies(t *testing.T) {
	root := api.NewAmbiance("pe1", map[string]string{"env": "test"})
	assert.Zero(t, root.Depth())
	assert.Nil(t, root.CurrentLevel())

	child := root.PushLevel(&api.Level{
		RuntimeID: "r1",
		NodeID:    "a",
		Category:  api.LevelStep,
	})

	assert.Equal(t, 1, child.Depth())
	assert.Zero(t, root.Depth(), "PushLevel should not modify the receiver")
	assert.Equal(t, api.RuntimeID("r1"), child.RuntimeID())
	assert.Equal(t, api.NodeID("a"), child.NodeID())
	assert.Equal(t, api.PlanExecutionID("pe1"), child.PlanExecutionID)
}

func TestParentPopsOneLevel(t *testing.T) {
	root := api.NewAmbiance("pe1", nil)
	deep := root.
		PushLevel(&api.Level{RuntimeID: "r1", NodeID: "a"}).
		PushLevel(&api.Level{RuntimeID: "r2", NodeID: "b"})

	parent := deep.Parent()
	assert.Equal(t, 1, parent.Depth())
	assert.Equal(t, api.NodeID("a"), parent.NodeID())
	assert.Equal(t, 2, deep.Depth(), "Parent should not modify the receiver")

	// popping a root ambiance is a no-op
	assert.Zero(t, root.Parent().Depth())
}

func TestScopeValue(t *testing.T) {
	amb := api.NewAmbiance("pe1", map[string]string{"tenant": "acme"})

	v, ok := amb.ScopeValue("tenant")
	require.True(t, ok)
	assert.Equal(t, "acme", v)

	_, ok = amb.ScopeValue("missing")
	assert.False(t, ok)
}

func TestScopeIsCloned(t *testing.T) {
	scope := map[string]string{"tenant": "acme"}
	amb := api.NewAmbiance("pe1", scope)

	scope["tenant"] = "other"
	v, _ := amb.ScopeValue("tenant")
	assert.Equal(t, "acme", v)
}

func TestAmbianceEqual(t *testing.T) {
	level := &api.Level{RuntimeID: "r1", NodeID: "a", Category: api.LevelStep}
	left := api.NewAmbiance("pe1", nil).PushLevel(level)

	t.Run("same_stack", func(t *testing.T) {
		right := api.NewAmbiance("pe1", nil).PushLevel(&api.Level{
			RuntimeID: "r1", NodeID: "a", Category: api.LevelStep,
		})
		assert.True(t, left.Equal(right))
	})

	t.Run("different_plan_execution", func(t *testing.T) {
		right := api.NewAmbiance("pe2", nil).PushLevel(level)
		assert.False(t, left.Equal(right))
	})

	t.Run("different_depth", func(t *testing.T) {
		right := left.PushLevel(&api.Level{RuntimeID: "r2", NodeID: "b"})
		assert.False(t, left.Equal(right))
	})

	t.Run("different_runtime", func(t *testing.T) {
		right := api.NewAmbiance("pe1", nil).PushLevel(&api.Level{
			RuntimeID: "other", NodeID: "a", Category: api.LevelStep,
		})
		assert.False(t, left.Equal(right))
	})
}

func TestHasAncestor(t *testing.T) {
	root := api.NewAmbiance("pe1", nil)
	parent := root.PushLevel(&api.Level{RuntimeID: "r1", NodeID: "a"})
	child := parent.PushLevel(&api.Level{RuntimeID: "r2", NodeID: "b"})

	assert.True(t, child.HasAncestor(parent))
	assert.True(t, child.HasAncestor(root))
	assert.False(t, parent.HasAncestor(child))
	assert.False(t, parent.HasAncestor(parent),
		"an ambiance is not its own ancestor",
	)

	otherPlan := api.NewAmbiance("pe2", nil).
		PushLevel(&api.Level{RuntimeID: "r1", NodeID: "a"})
	assert.False(t, child.HasAncestor(otherPlan))
}
