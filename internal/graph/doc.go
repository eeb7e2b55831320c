// Package graph is the build graph of the pipeline: an immutable DAG of
// stage nodes and an executor that runs it with bounded parallelism.
//
// Nodes are ordered canonically by name, so topological order, cycle
// witnesses, failure propagation and the graph hash do not depend on the
// order nodes and edges were supplied in. With parallelism 1 the execution
// order is fully deterministic.
//
// Per execution every node moves PENDING -> RUNNING -> COMPLETED, CACHED or
// FAILED. A failure marks every transitive dependent SKIPPED and leaves
// unrelated nodes running.
package graph
