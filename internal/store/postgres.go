package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/hemanthmantri/conduit/internal/codec"
	"github.com/hemanthmantri/conduit/pkg/api"
)

// Postgres is an ExecutionStore backed by PostgreSQL through the pgx stdlib
// driver. Documents are stored as JSONB with the columns the queries filter
// on extracted; status CAS relies on a conditional UPDATE
type Postgres struct {
	db    *sql.DB
	codec codec.Codec
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS plans (
	id   TEXT PRIMARY KEY,
	doc  JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS plan_executions (
	id     TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	doc    JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS node_executions (
	id                TEXT PRIMARY KEY,
	plan_execution_id TEXT NOT NULL,
	parent_id         TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	deadline_ms       BIGINT,
	doc               JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS node_executions_children_idx
	ON node_executions (plan_execution_id, parent_id);
CREATE INDEX IF NOT EXISTS node_executions_deadline_idx
	ON node_executions (deadline_ms) WHERE deadline_ms IS NOT NULL;
`

// NewPostgres opens a Postgres-backed execution store and ensures its schema
func NewPostgres(
	ctx context.Context, url string, c codec.Codec,
) (*Postgres, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db, codec: c}, nil
}

// Close releases the underlying connection pool
func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) CreatePlan(ctx context.Context, plan *api.Plan) error {
	doc, err := p.codec.Encode(plan)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO plans (id, doc) VALUES ($1, $2)
		 ON CONFLICT (id) DO NOTHING`,
		string(plan.ID), doc,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: plan %s", ErrAlreadyExists, plan.ID)
	}
	return nil
}

func (p *Postgres) GetPlan(
	ctx context.Context, id api.PlanID,
) (*api.Plan, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT doc FROM plans WHERE id = $1`, string(id),
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: plan %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var plan api.Plan
	if err := p.codec.Decode(doc, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (p *Postgres) ResolveNode(
	ctx context.Context, planID api.PlanID, nodeID api.NodeID,
) (*api.Node, error) {
	plan, err := p.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	return plan.GetNode(nodeID)
}

func (p *Postgres) CreatePlanExecution(
	ctx context.Context, exec *api.PlanExecution,
) error {
	doc, err := p.codec.Encode(exec)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO plan_executions (id, status, doc) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO NOTHING`,
		string(exec.ID), string(exec.Status), doc,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: plan execution %s", ErrAlreadyExists, exec.ID)
	}
	return nil
}

func (p *Postgres) GetPlanExecution(
	ctx context.Context, id api.PlanExecutionID,
) (*api.PlanExecution, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT doc FROM plan_executions WHERE id = $1`, string(id),
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: plan execution %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var exec api.PlanExecution
	if err := p.codec.Decode(doc, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

func (p *Postgres) UpdatePlanExecutionStatus(
	ctx context.Context, id api.PlanExecutionID, expected []api.Status,
	next api.Status,
) (*api.PlanExecution, error) {
	exec, err := p.GetPlanExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	if !statusIn(exec.Status, expected) {
		return nil, fmt.Errorf("%w: plan execution %s is %s",
			ErrStatusConflict, id, exec.Status)
	}

	prior := exec.Status
	exec.Status = next
	if next.IsTerminal() {
		exec.EndedAt = time.Now()
	}
	doc, err := p.codec.Encode(exec)
	if err != nil {
		return nil, err
	}

	res, err := p.db.ExecContext(ctx,
		`UPDATE plan_executions SET status = $1, doc = $2
		 WHERE id = $3 AND status = $4`,
		string(next), doc, string(id), string(prior),
	)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: plan execution %s", ErrStatusConflict, id)
	}
	return exec, nil
}

func (p *Postgres) CreateNodeExecution(
	ctx context.Context, exec *api.NodeExecution,
) error {
	doc, err := p.codec.Encode(exec)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO node_executions
			(id, plan_execution_id, parent_id, status, deadline_ms, doc)
		 VALUES ($1, $2, $3, $4, NULL, $5)
		 ON CONFLICT (id) DO NOTHING`,
		string(exec.ID), string(exec.Ambiance.PlanExecutionID),
		string(exec.ParentID), string(exec.Status), doc,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: node execution %s", ErrAlreadyExists, exec.ID)
	}

	if exec.PreviousID != "" {
		_, err = p.db.ExecContext(ctx,
			`UPDATE node_executions
			 SET doc = jsonb_set(doc, '{next_id}', to_jsonb($1::text))
			 WHERE id = $2`,
			string(exec.ID), string(exec.PreviousID),
		)
	}
	return err
}

func (p *Postgres) Get(
	ctx context.Context, id api.NodeExecutionID,
) (*api.NodeExecution, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT doc FROM node_executions WHERE id = $1`, string(id),
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: node execution %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return p.decodeNode(doc)
}

func (p *Postgres) FindChildren(
	ctx context.Context, planExecutionID api.PlanExecutionID,
	parentID api.NodeExecutionID, _ Fields,
) ([]*api.NodeExecution, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT doc FROM node_executions
		 WHERE plan_execution_id = $1 AND parent_id = $2`,
		string(planExecutionID), string(parentID),
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return p.scanNodes(rows)
}

func (p *Postgres) CompareAndSwapStatus(
	ctx context.Context, id api.NodeExecutionID, expected []api.Status,
	next api.Status, patch *Patch,
) (*api.NodeExecution, error) {
	exec, err := p.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !statusIn(exec.Status, expected) {
		return nil, fmt.Errorf("%w: node execution %s is %s, not in %v",
			ErrStatusConflict, id, exec.Status, expected)
	}

	prior := exec.Status
	exec.Status = next
	patch.Apply(exec)

	doc, err := p.codec.Encode(exec)
	if err != nil {
		return nil, err
	}

	var deadline sql.NullInt64
	if exec.Status.IsWaiting() && exec.Suspension != nil {
		deadline = sql.NullInt64{
			Int64: exec.Suspension.Deadline.UnixMilli(),
			Valid: true,
		}
	}

	res, err := p.db.ExecContext(ctx,
		`UPDATE node_executions SET status = $1, deadline_ms = $2, doc = $3
		 WHERE id = $4 AND status = $5`,
		string(next), deadline, doc, string(id), string(prior),
	)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: node execution %s", ErrStatusConflict, id)
	}
	return exec, nil
}

func (p *Postgres) FindByTimeoutBefore(
	ctx context.Context, ts time.Time,
) ([]*api.NodeExecution, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT doc FROM node_executions
		 WHERE deadline_ms IS NOT NULL AND deadline_ms <= $1`,
		ts.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return p.scanNodes(rows)
}

func (p *Postgres) FindByPlanExecution(
	ctx context.Context, planExecutionID api.PlanExecutionID,
	statuses ...api.Status,
) ([]*api.NodeExecution, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT doc FROM node_executions WHERE plan_execution_id = $1`,
		string(planExecutionID),
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	execs, err := p.scanNodes(rows)
	if err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		return execs, nil
	}

	filtered := execs[:0]
	for _, exec := range execs {
		if statusIn(exec.Status, statuses) {
			filtered = append(filtered, exec)
		}
	}
	return filtered, nil
}

func (p *Postgres) DeletePlanExecution(
	ctx context.Context, id api.PlanExecutionID,
) error {
	if _, err := p.db.ExecContext(ctx,
		`DELETE FROM node_executions WHERE plan_execution_id = $1`,
		string(id),
	); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM plan_executions WHERE id = $1`, string(id),
	)
	return err
}

func (p *Postgres) scanNodes(rows *sql.Rows) ([]*api.NodeExecution, error) {
	var execs []*api.NodeExecution
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		exec, err := p.decodeNode(doc)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

func (p *Postgres) decodeNode(doc []byte) (*api.NodeExecution, error) {
	var exec api.NodeExecution
	if err := p.codec.Decode(doc, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}
