// Package status decodes nginx status endpoints into snapshot.Snapshots.
//
// ParseStub handles the stub_status plain-text page:
//
//	Active connections: 5
//	server accepts handled requests
//	 10 10 20
//	Reading: 0 Writing: 1 Waiting: 4
//
// Parsing is positional; any deviation is reported as a *ParseError and no
// partial snapshot is returned. ParseJSON handles the optional JSON status
// document. Fetcher retrieves both endpoints and merges whatever parsed.
package status
