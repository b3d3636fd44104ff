package gateway

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/giongto35/rtc-gateway/pkg/logger"
)

type State int32

const (
	Running State = iota
	Draining
	Terminated
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}

// Supervisor moves the gateway through running -> draining -> terminated.
// Transitions are one-way.
type Supervisor struct {
	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	cause error

	log *logger.Logger
}

func NewSupervisor(log *logger.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{ctx: ctx, cancel: cancel, log: log}
}

func (s *Supervisor) State() State { return State(s.state.Load()) }

// Admit checks whether new rooms and connections are accepted.
func (s *Supervisor) Admit() error {
	if s.State() != Running {
		return ErrDraining
	}
	return nil
}

// Drain stops admission and triggers the shutdown, only from running.
func (s *Supervisor) Drain(cause error) bool {
	if !s.state.CompareAndSwap(int32(Running), int32(Draining)) {
		return false
	}
	s.mu.Lock()
	s.cause = cause
	s.mu.Unlock()
	s.log.Error().Err(cause).Msg("Gateway is draining")
	s.cancel()
	return true
}

// Terminate is the final state.
func (s *Supervisor) Terminate() {
	if State(s.state.Swap(int32(Terminated))) != Terminated {
		s.log.Debug().Msg("Gateway terminated")
	}
	s.cancel()
}

// Done is closed when a shutdown was requested.
func (s *Supervisor) Done() <-chan struct{} { return s.ctx.Done() }

// Err returns the cause of draining.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Watch waits for the death of any of the workers.
func (s *Supervisor) Watch(workers []Worker) {
	for _, w := range workers {
		go func(w Worker) {
			select {
			case <-w.Died():
				workersAlive.Dec()
				s.Drain(fmt.Errorf("worker %d died: %w", w.Pid(), w.Err()))
			case <-s.ctx.Done():
			}
		}(w)
	}
}
