package watcher

type eventKind int

const (
	// eventNewFile registers a freshly created file from the beginning.
	eventNewFile eventKind = iota
	// eventLoadFromPersist registers a recovered file at its checkpoint.
	eventLoadFromPersist
	// eventStopWatch stops a file's worker and deregisters it.
	eventStopWatch
	// eventAbandon stops a file's worker, drops its checkpoint, and renames
	// the file out of the segment namespace so restarts skip it.
	eventAbandon
	// eventDrainDone is reported by a worker that reached the end of a
	// rotated-out file (remove set) or hit unreadable data (remove unset).
	eventDrainDone
)

type event struct {
	kind   eventKind
	path   string
	pos    int64
	remove bool
}
