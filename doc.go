// Package conduit is a pipeline execution engine. It turns a declarative
// plan (a directed graph of step nodes) into a running, resumable execution,
// tracks the status of every node in the graph, lets individual steps
// suspend while external work runs, and resumes them exactly once when that
// work completes.
package conduit

const (
	// Name identifies this service in logs and diagnostics
	Name = "conduit"

	// Version is the engine release version
	Version = "0.3.1"
)
