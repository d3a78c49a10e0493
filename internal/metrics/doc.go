// Package metrics holds the Prometheus collectors of the job service.
// Collectors are created at package init and registered with the default
// registry by MustRegister; the helpers below are safe to call before that.
package metrics
