package pipeline

import (
	"errors"
	"sync"
	"time"

	"github.com/obstack/walpipe/pkg/log"
)

// Lifecycle errors.
var (
	ErrNotRunning      = errors.New("pipeline not running")
	ErrAlreadyRunning  = errors.New("pipeline already running")
	ErrShutdownTimeout = errors.New("pipeline shutdown timeout")
)

// State is the pipeline lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateCrashed:
		return "Crashed"
	default:
		return "Unknown"
	}
}

// lifecycle is the state machine guarding Start/Stop and tracking worker
// goroutines for graceful shutdown.
type lifecycle struct {
	mu     sync.RWMutex
	state  State
	wg     sync.WaitGroup
	logger log.Logger
}

func newLifecycle(logger log.Logger) *lifecycle {
	return &lifecycle{state: StateStopped, logger: logger}
}

func (l *lifecycle) current() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *lifecycle) transitionTo(newState State, reason string) error {
	l.mu.Lock()
	oldState := l.state

	valid := false
	switch oldState {
	case StateStopped, StateCrashed:
		valid = newState == StateStarting
	case StateStarting:
		valid = newState == StateRunning || newState == StateCrashed || newState == StateStopping
	case StateRunning:
		valid = newState == StateStopping || newState == StateCrashed
	case StateStopping:
		valid = newState == StateStopped || newState == StateCrashed
	}
	if !valid {
		l.mu.Unlock()
		if oldState == StateStopped || oldState == StateCrashed {
			return ErrNotRunning
		}
		return ErrAlreadyRunning
	}

	l.state = newState
	l.mu.Unlock()

	l.logger.Info("pipeline state transition",
		log.String("from", oldState.String()),
		log.String("to", newState.String()),
		log.String("reason", reason))
	return nil
}

func (l *lifecycle) addWorker() {
	l.wg.Add(1)
}

func (l *lifecycle) workerDone() {
	l.wg.Done()
}

// waitWithTimeout waits for all workers to finish, returning
// ErrShutdownTimeout if they do not make it in time.
func (l *lifecycle) waitWithTimeout(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		l.logger.Warn("shutdown timeout, forcing exit", log.Duration("timeout", timeout))
		return ErrShutdownTimeout
	}
}
