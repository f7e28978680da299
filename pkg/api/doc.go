// Package api defines the core data types and interfaces for the pipeline
// execution engine
//
// This package contains all the shared types used across the engine,
// including the plan graph, node executions, the ambiance context stack,
// step executable contracts, and event payloads
package api
