package room

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/giongto35/rtc-gateway/pkg/logger"
	"github.com/giongto35/rtc-gateway/pkg/network/websocket"
	"github.com/giongto35/rtc-gateway/pkg/worker"
	"github.com/goccy/go-json"
)

// Peer is a signaling participant of a room.
// Its state is guarded by the room lock.
type Peer struct {
	id   string
	conn *websocket.WS
	room *Room

	joined           bool
	displayName      string
	device           Device
	rtpCapabilities  *worker.RtpCapabilities
	sctpCapabilities *worker.SctpCapabilities
	transports       map[string]*worker.WebRtcTransport
	producers        map[string]*worker.Producer

	// executed after the response is sent, reader goroutine only
	pending []func()

	closed atomic.Bool
	log    *logger.Logger
}

func newPeer(id string, conn *websocket.WS, room *Room) *Peer {
	return &Peer{
		id:         id,
		conn:       conn,
		room:       room,
		transports: make(map[string]*worker.WebRtcTransport),
		producers:  make(map[string]*worker.Producer),
		log:        room.log.Extend(room.log.With().Str(logger.PeerField, id)),
	}
}

func (p *Peer) Id() string { return p.id }

func (p *Peer) isJoined() bool {
	p.room.mu.Lock()
	defer p.room.mu.Unlock()
	return p.joined
}

// info returns the public peer data, call under the room lock.
func (p *Peer) info() PeerInfo {
	info := PeerInfo{Id: p.id, DisplayName: p.displayName, Device: p.device}
	for _, pr := range p.producers {
		info.Producers = append(info.Producers, ProducerInfo{Id: pr.Id(), Kind: pr.Kind()})
	}
	return info
}

func (p *Peer) send(m Message) {
	data, err := json.Marshal(m)
	if err != nil {
		p.log.Error().Err(err).Msg("message encode")
		return
	}
	if err = p.conn.Write(data); err != nil {
		p.log.Debug().Err(err).Str("method", m.Method).Msg("message skipped")
	}
}

func (p *Peer) close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.conn.Close()

	p.room.mu.Lock()
	transports := p.transports
	p.transports = make(map[string]*worker.WebRtcTransport)
	p.producers = make(map[string]*worker.Producer)
	p.room.mu.Unlock()

	for _, t := range transports {
		t.Close()
	}
}

func (p *Peer) handle(message []byte) {
	var m Message
	if err := json.Unmarshal(message, &m); err != nil {
		p.log.Warn().Err(err).Msg("malformed message")
		return
	}
	if !m.Request {
		p.log.Debug().Str("method", m.Method).Msg("ignoring non request message")
		return
	}
	data, err := p.dispatch(m)
	if err != nil {
		p.log.Warn().Err(err).Str("method", m.Method).Msg("request failed")
	}
	p.send(response(m.Id, data, err))
	for _, fn := range p.pending {
		fn()
	}
	p.pending = p.pending[:0]
}

func (p *Peer) dispatch(m Message) (any, error) {
	switch m.Method {
	case MethodGetRouterRtpCapabilities:
		return p.room.RouterRtpCapabilities(), nil
	case MethodJoin:
		var req JoinRequest
		if err := decode(m.Data, &req); err != nil {
			return nil, err
		}
		return p.join(req)
	case MethodCreateWebRtcTransport:
		var req CreateWebRtcTransportRequest
		if err := decode(m.Data, &req); err != nil {
			return nil, err
		}
		return p.createWebRtcTransport(req)
	case MethodConnectWebRtcTransport:
		var req ConnectWebRtcTransportRequest
		if err := decode(m.Data, &req); err != nil {
			return nil, err
		}
		return nil, p.connectWebRtcTransport(req)
	case MethodProduce:
		var req ProduceRequest
		if err := decode(m.Data, &req); err != nil {
			return nil, err
		}
		return p.produce(req)
	case MethodCloseProducer:
		var req CloseProducerRequest
		if err := decode(m.Data, &req); err != nil {
			return nil, err
		}
		return nil, p.closeProducer(req.ProducerId)
	case MethodPauseProducer, MethodResumeProducer:
		var req CloseProducerRequest
		if err := decode(m.Data, &req); err != nil {
			return nil, err
		}
		return nil, p.pauseProducer(req.ProducerId, m.Method == MethodPauseProducer)
	case MethodGetRoomInfo:
		return p.room.Info(), nil
	default:
		return nil, typeError("unknown method %q", m.Method)
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return typeError("missing request data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return typeError("malformed request data: %v", err)
	}
	return nil
}

func (p *Peer) join(req JoinRequest) (any, error) {
	r := p.room
	r.mu.Lock()
	if p.joined {
		r.mu.Unlock()
		return nil, errors.New("peer already joined")
	}
	p.joined = true
	p.displayName = req.DisplayName
	p.device = req.Device
	p.rtpCapabilities = req.RtpCapabilities
	p.sctpCapabilities = req.SctpCapabilities

	others := r.joinedPeers(p.id)
	peers := make([]PeerInfo, 0, len(others)+len(r.broadcasters))
	type existing struct {
		owner    string
		producer *worker.Producer
	}
	var producers []existing
	for _, o := range others {
		peers = append(peers, o.info())
		for _, pr := range o.producers {
			producers = append(producers, existing{o.id, pr})
		}
	}
	for _, b := range r.broadcasters {
		peers = append(peers, b.info())
		for _, pr := range b.producers {
			producers = append(producers, existing{b.id, pr})
		}
	}
	r.mu.Unlock()

	p.log.Info().Str("name", req.DisplayName).Msg("Peer joined")
	notify(others, NotifyNewPeer, PeerInfo{Id: p.id, DisplayName: p.displayName, Device: p.device})

	if p.rtpCapabilities != nil && len(producers) > 0 {
		p.pending = append(p.pending, func() {
			for _, e := range producers {
				for i := 0; i <= r.replicas; i++ {
					p.send(notification(NotifyNewProducer, newProducerNotification(e.owner, e.producer, i)))
				}
			}
		})
	}
	return map[string]any{"peers": peers}, nil
}

func (p *Peer) createWebRtcTransport(req CreateWebRtcTransportRequest) (any, error) {
	t, err := p.room.newWebRtcTransport(req.SctpCapabilities)
	if err != nil {
		return nil, err
	}
	r := p.room
	r.mu.Lock()
	if p.closed.Load() {
		r.mu.Unlock()
		t.Close()
		return nil, ErrClosed
	}
	p.transports[t.Id()] = t
	r.mu.Unlock()
	return webRtcTransportInfo(t, r.conf.IceServers), nil
}

func (p *Peer) transport(id string) (*worker.WebRtcTransport, error) {
	p.room.mu.Lock()
	defer p.room.mu.Unlock()
	t, ok := p.transports[id]
	if !ok {
		return nil, fmt.Errorf("transport with id %q not found", id)
	}
	return t, nil
}

func (p *Peer) connectWebRtcTransport(req ConnectWebRtcTransportRequest) error {
	remote, err := req.remote("")
	if err != nil {
		return err
	}
	t, err := p.transport(req.TransportId)
	if err != nil {
		return err
	}
	return connect(t, remote)
}

func (p *Peer) produce(req ProduceRequest) (any, error) {
	if !p.isJoined() {
		return nil, errors.New("peer not yet joined")
	}
	if !worker.IsValidKind(req.Kind) {
		return nil, typeError("invalid kind %q", req.Kind)
	}
	t, err := p.transport(req.TransportId)
	if err != nil {
		return nil, err
	}
	appData := req.AppData
	if appData == nil {
		appData = map[string]any{}
	}
	appData["peerId"] = p.id
	producer, err := t.Produce(worker.ProducerOptions{Kind: req.Kind, RtpParameters: req.RtpParameters, AppData: appData})
	if err != nil {
		return nil, err
	}

	p.room.mu.Lock()
	p.producers[producer.Id()] = producer
	p.room.mu.Unlock()

	p.pending = append(p.pending, func() { p.room.notifyNewProducer(p.id, producer) })
	return ProducerInfo{Id: producer.Id()}, nil
}

func (p *Peer) pauseProducer(id string, pause bool) error {
	p.room.mu.Lock()
	producer, ok := p.producers[id]
	p.room.mu.Unlock()
	if !ok {
		return fmt.Errorf("producer with id %q not found", id)
	}
	if pause {
		producer.Pause()
	} else {
		producer.Resume()
	}
	return nil
}

func (p *Peer) closeProducer(id string) error {
	p.room.mu.Lock()
	producer, ok := p.producers[id]
	delete(p.producers, id)
	p.room.mu.Unlock()
	if !ok {
		return fmt.Errorf("producer with id %q not found", id)
	}
	producer.Close()
	return nil
}

func connect(t *worker.WebRtcTransport, remote worker.RemoteParameters) error {
	err := t.Connect(remote)
	if errors.Is(err, worker.ErrBadDtls) || errors.Is(err, worker.ErrBadIce) {
		return typeError("%v", err)
	}
	return err
}
