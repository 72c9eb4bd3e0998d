// Package store holds the exporter's current Snapshot. The refresh loop builds
// each Snapshot aside and swaps it in with Put; HTTP readers take the current
// pointer with Current and never observe a half-built value.
package store
