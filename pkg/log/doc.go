// Package log provides a small structured logging facade for walpipe.
//
// The pipeline logs through the Logger interface so that embedders can plug
// in their own logger. The CLI uses the zerolog adapter; library consumers
// that pass nothing get the no-op logger.
package log
