// Package nodecache provides a request-scoped read cache over the
// execution store. One cache serves one logical operation, such as a single
// expression evaluation or rollup pass, so every read within the operation
// observes the same snapshot and each execution is fetched at most once
package nodecache

import (
	"context"
	"sync"

	"github.com/hemanthmantri/conduit/internal/store"
	"github.com/hemanthmantri/conduit/pkg/api"
)

// Cache memoizes node executions, child listings, plan nodes, and
// ambiances for one plan execution. A queried parent with no children is
// cached as an empty listing, distinct from a parent never queried
type Cache struct {
	store           store.ExecutionStore
	executions      map[api.NodeExecutionID]*api.NodeExecution
	children        map[api.NodeExecutionID][]api.NodeExecutionID
	nodes           map[api.NodeID]*api.Node
	planExecutionID api.PlanExecutionID
	mu              sync.Mutex
}

// rootSentinel keys the children listing of parentless executions. The
// empty parent id cannot key the map directly because it also marks the
// not-yet-queried state
const rootSentinel api.NodeExecutionID = "__root__"

// New creates a cache scoped to one plan execution
func New(
	s store.ExecutionStore, planExecutionID api.PlanExecutionID,
) *Cache {
	return &Cache{
		store:           s,
		planExecutionID: planExecutionID,
		executions:      map[api.NodeExecutionID]*api.NodeExecution{},
		children:        map[api.NodeExecutionID][]api.NodeExecutionID{},
		nodes:           map[api.NodeID]*api.Node{},
	}
}

// Fetch returns the node execution, reading through to the store the first
// time the id is requested
func (c *Cache) Fetch(
	ctx context.Context, id api.NodeExecutionID,
) (*api.NodeExecution, error) {
	c.mu.Lock()
	if exec, ok := c.executions[id]; ok {
		c.mu.Unlock()
		return exec, nil
	}
	c.mu.Unlock()

	exec, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.executions[id] = exec
	return exec, nil
}

// FetchChildren returns the children of parentID within this plan
// execution. An empty parentID lists the roots. The child ids and the
// executions themselves are cached, so a later Fetch of any child is free
func (c *Cache) FetchChildren(
	ctx context.Context, parentID api.NodeExecutionID,
) ([]*api.NodeExecution, error) {
	key := parentID
	if key == "" {
		key = rootSentinel
	}

	c.mu.Lock()
	if ids, ok := c.children[key]; ok {
		res := make([]*api.NodeExecution, len(ids))
		for i, id := range ids {
			res[i] = c.executions[id]
		}
		c.mu.Unlock()
		return res, nil
	}
	c.mu.Unlock()

	execs, err := c.store.FindChildren(ctx, c.planExecutionID, parentID, nil)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]api.NodeExecutionID, len(execs))
	for i, exec := range execs {
		ids[i] = exec.ID
		if _, ok := c.executions[exec.ID]; !ok {
			c.executions[exec.ID] = exec
		}
	}
	c.children[key] = ids

	res := make([]*api.NodeExecution, len(ids))
	for i, id := range ids {
		res[i] = c.executions[id]
	}
	return res, nil
}

// FetchNode returns the plan node definition for a node execution
func (c *Cache) FetchNode(
	ctx context.Context, planID api.PlanID, nodeID api.NodeID,
) (*api.Node, error) {
	c.mu.Lock()
	if node, ok := c.nodes[nodeID]; ok {
		c.mu.Unlock()
		return node, nil
	}
	c.mu.Unlock()

	node, err := c.store.ResolveNode(ctx, planID, nodeID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes[nodeID] = node
	return node, nil
}

// FetchAmbiance returns the ambiance recorded on a node execution
func (c *Cache) FetchAmbiance(
	ctx context.Context, id api.NodeExecutionID,
) (api.Ambiance, error) {
	exec, err := c.Fetch(ctx, id)
	if err != nil {
		return api.Ambiance{}, err
	}
	return exec.Ambiance, nil
}

// TerminalChildStatuses reports the statuses of parentID's children,
// with waiting reported separately so rollup can tell settled from
// still-running subtrees. Attempts superseded by a retry are ignored
// entirely. When includeStrategyChildren is false, children spawned under
// a grouping strategy are excluded, leaving only the plan's direct
// children
func (c *Cache) TerminalChildStatuses(
	ctx context.Context, parentID api.NodeExecutionID,
	includeStrategyChildren bool,
) (terminal []api.Status, pending int, err error) {
	children, err := c.FetchChildren(ctx, parentID)
	if err != nil {
		return nil, 0, err
	}

	superseded := map[api.NodeExecutionID]struct{}{}
	for _, child := range children {
		for _, id := range child.RetryIDs {
			superseded[id] = struct{}{}
		}
	}

	for _, child := range children {
		if _, ok := superseded[child.ID]; ok {
			continue
		}
		if !includeStrategyChildren {
			if l := child.Ambiance.CurrentLevel(); l != nil && l.Group != "" {
				continue
			}
		}
		if child.Status.IsTerminal() {
			terminal = append(terminal, child.Status)
		} else {
			pending++
		}
	}
	return terminal, pending, nil
}
