// Package reconcile surfaces job store changes to observers that cannot
// receive pushed notifications. A Reconciler diffs the store against the
// status and progress it last reported and publishes only the delta; it never
// writes to the store.
package reconcile
