// Package generation defines the boundary between the job runner and the
// remote image/video generation services, along with the model catalog and
// the parameter validation applied before any job is created.
package generation
