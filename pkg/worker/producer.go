package worker

import (
	"sync/atomic"

	"github.com/gofrs/uuid"
)

const (
	ProducerSimple    = "simple"
	ProducerSimulcast = "simulcast"
)

// Producer is an incoming media track of a transport.
type Producer struct {
	id        string
	kind      string
	typ       string
	params    RtpParameters
	paused    atomic.Bool
	closed    atomic.Bool
	transport *transport
	AppData   map[string]any
}

func newProducer(t *transport, opts ProducerOptions) *Producer {
	typ := ProducerSimple
	if len(opts.RtpParameters.Encodings) > 1 {
		typ = ProducerSimulcast
	}
	p := &Producer{
		id:        uuid.Must(uuid.NewV4()).String(),
		kind:      opts.Kind,
		typ:       typ,
		params:    opts.RtpParameters,
		transport: t,
		AppData:   opts.AppData,
	}
	p.paused.Store(opts.Paused)
	return p
}

func (p *Producer) Id() string                   { return p.id }
func (p *Producer) Kind() string                 { return p.kind }
func (p *Producer) Type() string                 { return p.typ }
func (p *Producer) Paused() bool                 { return p.paused.Load() }
func (p *Producer) Closed() bool                 { return p.closed.Load() }
func (p *Producer) RtpParameters() RtpParameters { return p.params }

func (p *Producer) Pause()  { p.paused.Store(true) }
func (p *Producer) Resume() { p.paused.Store(false) }

// Close stops the producer and detaches it from its transport.
func (p *Producer) Close() {
	_ = p.transport.router.w.exec(func() error { p.close(); return nil })
	p.close()
}

func (p *Producer) close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.transport.removeProducer(p.id)
}
