// Package executor defines the common interface that all report renderers
// implement, along with the registry that routes a job's definition URI to
// the renderer registered for its scheme.
package executor
