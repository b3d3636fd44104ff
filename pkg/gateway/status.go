package gateway

import (
	"time"

	"github.com/giongto35/rtc-gateway/pkg/logger"
)

// Reporter runs fn on every tick until stopped.
type Reporter struct {
	period time.Duration
	fn     func()
	name   string
	t      *time.Ticker
	done   chan struct{}
}

func newReporter(name string, period time.Duration, fn func()) *Reporter {
	return &Reporter{name: name, period: period, fn: fn, done: make(chan struct{})}
}

func (t *Reporter) Run() {
	t.t = time.NewTicker(t.period)
	go func() {
		for {
			select {
			case <-t.t.C:
				t.fn()
			case <-t.done:
				return
			}
		}
	}()
}

func (t *Reporter) Stop() error {
	if t.t != nil {
		t.t.Stop()
	}
	close(t.done)
	return nil
}

func (t *Reporter) String() string { return t.name }

// NewStatusReporter logs the status of every open room.
func NewStatusReporter(registry *Registry, period time.Duration) *Reporter {
	return newReporter("status reporter", period, func() { reportStatus(registry) })
}

func reportStatus(registry *Registry) {
	for _, room := range registry.Rooms() {
		if room.Closed() {
			continue
		}
		room.LogStatus()
	}
}

// NewHealthReporter logs the resource usage and the dump of every worker.
// Failures are only logged.
func NewHealthReporter(pool *Pool, period time.Duration, log *logger.Logger) *Reporter {
	return newReporter("health reporter", period, func() { reportHealth(pool, log) })
}

func reportHealth(pool *Pool, log *logger.Logger) {
	for _, w := range pool.Workers() {
		usage, err := w.ResourceUsage()
		if err != nil {
			log.Warn().Err(err).Int(logger.WorkerField, w.Pid()).Msg("worker usage")
		} else {
			log.Info().Int(logger.WorkerField, w.Pid()).Interface("usage", usage).Msg("Worker usage")
		}
		dump, err := w.Dump()
		if err != nil {
			log.Warn().Err(err).Int(logger.WorkerField, w.Pid()).Msg("worker dump")
		} else {
			log.Info().Int(logger.WorkerField, w.Pid()).Interface("dump", dump).Msg("Worker dump")
		}
	}
}
