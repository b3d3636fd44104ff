package worker

import (
	"sync/atomic"

	"github.com/giongto35/rtc-gateway/pkg/com"
	"github.com/gofrs/uuid"
)

// Transport is a media path between a client and a router.
type Transport interface {
	Id() string
	Produce(opts ProducerOptions) (*Producer, error)
	Close()
	Closed() bool

	close()
}

type ProducerOptions struct {
	Kind          string
	RtpParameters RtpParameters
	Paused        bool
	AppData       map[string]any
}

// transport holds the part shared by all transport types.
type transport struct {
	id        string
	router    *Router
	producers *com.Map[string, *Producer]
	closed    atomic.Bool
}

func (t *transport) init(r *Router) {
	t.id = uuid.Must(uuid.NewV4()).String()
	t.router = r
	t.producers = com.NewMap[string, *Producer]()
}

func (t *transport) Id() string   { return t.id }
func (t *transport) Closed() bool { return t.closed.Load() }

// Produce starts receiving a media track over the transport.
func (t *transport) Produce(opts ProducerOptions) (p *Producer, err error) {
	err = t.router.w.exec(func() error {
		if t.Closed() {
			return ErrClosed
		}
		p, err = t.router.produce(t, opts)
		if err != nil {
			return err
		}
		t.producers.Put(p.id, p)
		return nil
	})
	return
}

// closeBase marks the transport closed, returns false
// if it was closed before.
func (t *transport) closeBase() bool {
	if !t.closed.CompareAndSwap(false, true) {
		return false
	}
	for _, p := range t.producers.Values() {
		p.close()
	}
	t.router.transports.RemoveByKey(t.id)
	return true
}

func (t *transport) removeProducer(id string) {
	t.producers.RemoveByKey(id)
	t.router.producers.RemoveByKey(id)
}
