// Package task runs generation jobs in the background. A bounded queue of job
// ids feeds a fixed pool of workers; each worker claims a job through the
// store, calls the remote generator under a timeout and persists the outcome,
// so HTTP handlers never block on remote work. On start the runner recovers
// jobs left behind by a previous process.
package task
