// Package filestore implements store.JobStore on top of a single JSON
// document on local disk.
//
// Every operation reads the whole document under an advisory lock on a
// sidecar "<path>.lock" file, and mutations rewrite it through a temporary
// file that is renamed over the original. Processes that share the file must
// all go through this package; other writers can still lose updates.
package filestore
