// Package pipeline drives build targets from C++ sources to registered
// scenario tests.
//
// A run lays out one graph per invocation:
//
//	index:<target>:<source>  (one per translation unit)
//	        ↓
//	merge:<target> → embed:<target> → synth:<target> → build:<target>
//
// and hands it to the graph executor. Each node first probes its cache key
// (storage node record plus blob in the artifact store) and only runs when
// the key is new. Index keys are validated against the content hashes of the
// files the previous parse consulted, so an edited header re-indexes exactly
// the units that include it. Artifacts flow between stages by content hash.
//
// After a run every target's outcome is replayed through the target state
// machine
//
//	unbuilt → indexed → merged → embedded → synthesized → compiled_and_registered
//
// with failed as the terminal alternative, and recorded as its head.
package pipeline
