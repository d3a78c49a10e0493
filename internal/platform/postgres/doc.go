// Package postgres provides the PostgreSQL implementation of store.JobStore
// together with the embedded goose migrations that create its schema.
// It handles the details of query execution, row locking and data mapping
// between domain.Job and the jobs table.
package postgres
