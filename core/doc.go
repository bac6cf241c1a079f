// Package core defines the shared data model of the execution engine: steps,
// task graphs, error kinds, callbacks and the execution request/result
// contracts. Higher layers (scheduler, executor, protocols) operate purely on
// these types so they stay decoupled from each other.
package core
