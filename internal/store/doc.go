// Package store defines the JobStore contract shared by every persistence
// backend, the errors they return, and the in-memory backend. The file,
// PostgreSQL and Redis backends live under internal/platform; all of them are
// checked against the same behaviour by the storetest package.
package store
