package gateway

import (
	"errors"
	"fmt"
	"sync"

	"github.com/giongto35/rtc-gateway/pkg/config"
	"github.com/giongto35/rtc-gateway/pkg/logger"
	"github.com/giongto35/rtc-gateway/pkg/worker"
)

var ErrNoWorkers = errors.New("no workers")

// Pool is a fixed set of workers picked in the round-robin order.
type Pool struct {
	workers []Worker
	cursor  int
	mu      sync.Mutex
}

func NewPool(workers ...Worker) *Pool { return &Pool{workers: workers} }

// StartPool launches conf.Num media workers.
// Any start failure closes the already launched ones.
func StartPool(conf config.Worker, log *logger.Logger) (*Pool, error) {
	if conf.Num <= 0 {
		return nil, ErrNoWorkers
	}
	pool := NewPool()
	for i := 0; i < conf.Num; i++ {
		w, err := worker.New(i, conf, log)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("worker %d: %w", i, err)
		}
		pool.workers = append(pool.workers, w)
		workersAlive.Inc()
	}
	log.Info().Msgf("Started %d media workers", len(pool.workers))
	return pool, nil
}

// Next returns the worker under the cursor and moves the cursor.
func (p *Pool) Next() Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.workers) == 0 {
		return nil
	}
	w := p.workers[p.cursor]
	p.cursor = (p.cursor + 1) % len(p.workers)
	return w
}

func (p *Pool) Len() int { return len(p.workers) }

func (p *Pool) Workers() []Worker { return p.workers }

func (p *Pool) Close() {
	for _, w := range p.workers {
		w.Close()
	}
}
