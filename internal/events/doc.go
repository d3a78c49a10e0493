// Package events provides types and interfaces for job lifecycle events.
//
// Every persisted job transition is published as a JobEvent so that
// components such as the WebSocket notifier and metrics can react without the
// worker pool knowing about them.
//
// The primary components are:
// - JobEvent: a snapshot of a job taken right after a transition
// - EventHandler: Interface for components that can handle events
// - EventEmitter: Interface for components that can emit events
package events
