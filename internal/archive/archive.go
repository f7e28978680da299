// Package archive moves terminal plan executions out of the hot store into
// blob storage, supporting S3, GCS, Azure Blob Storage, and S3-compatible
// stores through gocloud.dev
package archive

import (
	"context"
	"errors"
	"fmt"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/hemanthmantri/conduit/internal/codec"
	"github.com/hemanthmantri/conduit/internal/store"
	"github.com/hemanthmantri/conduit/pkg/api"
)

type (
	// Archiver writes terminal plan executions to a blob bucket and
	// removes them from the execution store once the write succeeds
	Archiver struct {
		bucket *blob.Bucket
		store  store.ExecutionStore
		codec  codec.Codec
		prefix string
	}

	// Record is the durable snapshot written per archived plan execution
	Record struct {
		PlanExecution  *api.PlanExecution   `json:"plan_execution"`
		NodeExecutions []*api.NodeExecution `json:"node_executions"`
	}
)

var (
	ErrNotTerminal     = errors.New("plan execution not terminal")
	ErrArchiveNotFound = errors.New("archive record not found")
)

// New opens the bucket at bucketURL and creates an archiver over it
func New(
	ctx context.Context, bucketURL, prefix string, s store.ExecutionStore,
) (*Archiver, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	return NewWithBucket(bucket, prefix, s), nil
}

// NewWithBucket creates an archiver over an already open bucket, used by
// tests with in-memory buckets
func NewWithBucket(
	bucket *blob.Bucket, prefix string, s store.ExecutionStore,
) *Archiver {
	return &Archiver{
		bucket: bucket,
		store:  s,
		codec:  codec.JSON(),
		prefix: prefix,
	}
}

// Archive snapshots a terminal plan execution with all of its node
// executions, writes the record, and deletes the execution from the store.
// The delete runs only after a successful write, so a crash between the
// two leaves a re-archivable execution, never a lost one
func (a *Archiver) Archive(
	ctx context.Context, id api.PlanExecutionID,
) error {
	exec, err := a.store.GetPlanExecution(ctx, id)
	if err != nil {
		return err
	}
	if !exec.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrNotTerminal, id, exec.Status)
	}

	nodes, err := a.store.FindByPlanExecution(ctx, id)
	if err != nil {
		return err
	}

	record := &Record{
		PlanExecution:  exec,
		NodeExecutions: nodes,
	}
	data, err := a.codec.Encode(record)
	if err != nil {
		return err
	}
	if err := a.bucket.WriteAll(ctx, a.keyFor(id), data, nil); err != nil {
		return err
	}

	return a.store.DeletePlanExecution(ctx, id)
}

// Get reads an archived record back
func (a *Archiver) Get(
	ctx context.Context, id api.PlanExecutionID,
) (*Record, error) {
	data, err := a.bucket.ReadAll(ctx, a.keyFor(id))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrArchiveNotFound, id)
		}
		return nil, err
	}

	var record Record
	if err := a.codec.Decode(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Close releases the underlying bucket
func (a *Archiver) Close() error {
	return a.bucket.Close()
}

func (a *Archiver) keyFor(id api.PlanExecutionID) string {
	return fmt.Sprintf("%s/%s.json", a.prefix, id)
}
