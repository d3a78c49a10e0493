// Package domain contains the job record that the rest of the service tracks:
// its kinds, statuses, parameters and results, and the transition guard that
// keeps every status change moving forward. It has no knowledge of storage,
// transport or the remote generation API.
package domain
