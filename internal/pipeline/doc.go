// Package pipeline assembles the WAL writers, checkpoint store, watcher, and
// exporter into one runtime object with an explicit lifecycle.
package pipeline
