package engine

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/hemanthmantri/conduit/pkg/api"
)

// Skip conditions are gjson path expressions evaluated against a document
// combining the execution scope and the node's static params:
//
//	{"scope": {...}, "params": {...}}
//
// A condition that resolves to a truthy value skips the node. A path that
// matches nothing in the document is falsy, so the node runs

var ErrSkipCondition = errors.New("skip condition evaluation failed")

func (e *Engine) shouldSkip(
	node *api.Node, planExec *api.PlanExecution, exec *api.NodeExecution,
) (bool, error) {
	if node.SkipWhen == "" {
		return false, nil
	}

	doc, err := buildSkipDoc(node, planExec, exec)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrSkipCondition, err)
	}
	return gjson.GetBytes(doc, node.SkipWhen).Bool(), nil
}

func buildSkipDoc(
	node *api.Node, planExec *api.PlanExecution, exec *api.NodeExecution,
) ([]byte, error) {
	scope := planExec.Scope
	if len(exec.Ambiance.Scope) > 0 {
		scope = exec.Ambiance.Scope
	}

	doc := map[string]any{
		"scope": scope,
	}
	if len(node.Params) > 0 {
		var params any
		if err := json.Unmarshal(node.Params, &params); err != nil {
			return nil, err
		}
		doc["params"] = params
	}
	return json.Marshal(doc)
}
