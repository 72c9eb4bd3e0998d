// Package snapshot is the in-memory metric model shared by the exporter and
// the agent.
//
// A Snapshot is an ordered, immutable set of Samples captured at one instant.
// Snapshots are assembled with a Builder (Record / Merge / Build) and are never
// mutated afterwards, so a pointer to one can be handed to any number of
// readers while the producer builds the next one off to the side.
//
// DeriveRate turns a monotonic counter observed in two consecutive snapshots
// into a per-second rate. It reports ok=false instead of an error when no
// rate can be computed: first observation, counter reset, missing series or a
// non-positive elapsed time.
package snapshot
