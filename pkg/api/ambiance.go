package api

import (
	"maps"
	"slices"
)

type (
	// Ambiance identifies "where" in the execution tree a node execution
	// lives. It is copied, never mutated: descending into a child pushes a
	// Level onto a fresh copy, returning to a parent pops one. Two ambiances
	// with the same level stack are semantically equivalent regardless of
	// allocation identity
	Ambiance struct {
		Scope           map[string]string `json:"scope,omitempty"`
		PlanExecutionID PlanExecutionID   `json:"plan_execution_id"`
		Levels          []*Level          `json:"levels"`
	}

	// Level is one entry of the ambiance stack: the runtime id of a single
	// execution attempt, the node it executes, and its category
	Level struct {
		RuntimeID RuntimeID     `json:"runtime_id"`
		NodeID    NodeID        `json:"node_id"`
		Category  LevelCategory `json:"category"`
		Group     string        `json:"group,omitempty"`
	}

	// LevelCategory classifies an ambiance level within the tree
	LevelCategory string
)

const (
	LevelPipeline LevelCategory = "pipeline"
	LevelStage    LevelCategory = "stage"
	LevelStep     LevelCategory = "step"
)

// NewAmbiance creates a root ambiance for a plan execution
func NewAmbiance(
	planExecutionID PlanExecutionID, scope map[string]string,
) Ambiance {
	return Ambiance{
		PlanExecutionID: planExecutionID,
		Scope:           maps.Clone(scope),
	}
}

// PushLevel returns a copy of the ambiance with the level appended. The
// receiver is left untouched
func (a Ambiance) PushLevel(level *Level) Ambiance {
	res := a
	res.Levels = make([]*Level, 0, len(a.Levels)+1)
	res.Levels = append(res.Levels, a.Levels...)
	res.Levels = append(res.Levels, level)
	return res
}

// Parent returns a copy of the ambiance with the topmost level removed. An
// ambiance with no levels returns itself
func (a Ambiance) Parent() Ambiance {
	if len(a.Levels) == 0 {
		return a
	}
	res := a
	res.Levels = slices.Clone(a.Levels[:len(a.Levels)-1])
	return res
}

// CurrentLevel returns the topmost level, or nil for a root ambiance
func (a Ambiance) CurrentLevel() *Level {
	if len(a.Levels) == 0 {
		return nil
	}
	return a.Levels[len(a.Levels)-1]
}

// RuntimeID returns the runtime id of the current level
func (a Ambiance) RuntimeID() RuntimeID {
	if l := a.CurrentLevel(); l != nil {
		return l.RuntimeID
	}
	return ""
}

// NodeID returns the node id of the current level
func (a Ambiance) NodeID() NodeID {
	if l := a.CurrentLevel(); l != nil {
		return l.NodeID
	}
	return ""
}

// Depth returns the number of levels on the stack
func (a Ambiance) Depth() int {
	return len(a.Levels)
}

// ScopeValue retrieves a scope identifier (account/org/project-equivalent)
func (a Ambiance) ScopeValue(key string) (string, bool) {
	v, ok := a.Scope[key]
	return v, ok
}

// Equal reports whether two ambiances identify the same position: the same
// plan execution and the same level stack
func (a Ambiance) Equal(other Ambiance) bool {
	if a.PlanExecutionID != other.PlanExecutionID {
		return false
	}
	if len(a.Levels) != len(other.Levels) {
		return false
	}
	for i, l := range a.Levels {
		o := other.Levels[i]
		if l.RuntimeID != o.RuntimeID || l.NodeID != o.NodeID ||
			l.Category != o.Category || l.Group != o.Group {
			return false
		}
	}
	return true
}

// HasAncestor reports whether other's level stack is a strict prefix of this
// ambiance's level stack
func (a Ambiance) HasAncestor(other Ambiance) bool {
	if a.PlanExecutionID != other.PlanExecutionID {
		return false
	}
	if len(other.Levels) >= len(a.Levels) {
		return false
	}
	for i, l := range other.Levels {
		o := a.Levels[i]
		if l.RuntimeID != o.RuntimeID || l.NodeID != o.NodeID {
			return false
		}
	}
	return true
}
