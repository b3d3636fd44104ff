package room

import (
	"errors"
	"fmt"

	"github.com/giongto35/rtc-gateway/pkg/worker"
)

// Broadcaster is a server-side participant driven over the REST API.
// Its state is guarded by the room lock.
type Broadcaster struct {
	id              string
	displayName     string
	device          Device
	rtpCapabilities *worker.RtpCapabilities
	transports      map[string]worker.Transport
	producers       map[string]*worker.Producer
}

func (b *Broadcaster) info() PeerInfo {
	info := PeerInfo{Id: b.id, DisplayName: b.displayName, Device: b.device}
	for _, pr := range b.producers {
		info.Producers = append(info.Producers, ProducerInfo{Id: pr.Id(), Kind: pr.Kind()})
	}
	return info
}

// CreateBroadcaster adds a broadcaster and returns the joined peers.
func (r *Room) CreateBroadcaster(req BroadcasterRequest) (*BroadcasterInfo, error) {
	switch {
	case req.Id == "":
		return nil, typeError("missing body.id")
	case req.DisplayName == "":
		return nil, typeError("missing body.displayName")
	case req.RtpCapabilities == nil:
		return nil, typeError("missing body.rtpCapabilities")
	}

	r.mu.Lock()
	if r.Closed() {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if _, ok := r.broadcasters[req.Id]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("broadcaster with id %q already exists", req.Id)
	}
	b := &Broadcaster{
		id:              req.Id,
		displayName:     req.DisplayName,
		device:          req.Device,
		rtpCapabilities: req.RtpCapabilities,
		transports:      make(map[string]worker.Transport),
		producers:       make(map[string]*worker.Producer),
	}
	r.broadcasters[b.id] = b
	peers := r.joinedPeers("")
	info := BroadcasterInfo{Peers: make([]PeerInfo, 0, len(peers))}
	for _, p := range peers {
		info.Peers = append(info.Peers, p.info())
	}
	r.mu.Unlock()

	r.log.Info().Str("broadcaster", b.id).Msg("Broadcaster created")
	notify(peers, NotifyNewPeer, PeerInfo{Id: b.id, DisplayName: b.displayName, Device: b.device})
	return &info, nil
}

// DeleteBroadcaster removes the broadcaster, unknown ids are ignored.
// The room is closed when nobody is left.
func (r *Room) DeleteBroadcaster(id string) error {
	r.mu.Lock()
	b, ok := r.broadcasters[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.broadcasters, id)
	transports := b.transports
	b.transports = make(map[string]worker.Transport)
	b.producers = make(map[string]*worker.Producer)
	peers := r.joinedPeers("")
	empty := len(r.peers)+len(r.broadcasters) == 0
	r.mu.Unlock()

	for _, t := range transports {
		t.Close()
	}
	r.log.Info().Str("broadcaster", id).Msg("Broadcaster deleted")
	notify(peers, NotifyPeerClosed, map[string]string{"peerId": id})
	if empty {
		r.Close()
	}
	return nil
}

func (r *Room) broadcaster(id string) (*Broadcaster, error) {
	b, ok := r.broadcasters[id]
	if !ok {
		return nil, fmt.Errorf("broadcaster with id %q not found", id)
	}
	return b, nil
}

func (r *Room) broadcasterTransport(broadcasterId, transportId string) (*Broadcaster, worker.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, err := r.broadcaster(broadcasterId)
	if err != nil {
		return nil, nil, err
	}
	t, ok := b.transports[transportId]
	if !ok {
		return nil, nil, fmt.Errorf("transport with id %q not found", transportId)
	}
	return b, t, nil
}

// CreateBroadcasterTransport creates a plain or webrtc transport for the broadcaster.
func (r *Room) CreateBroadcasterTransport(broadcasterId string, req TransportRequest) (*TransportInfo, error) {
	r.mu.Lock()
	_, err := r.broadcaster(broadcasterId)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var t worker.Transport
	var info *TransportInfo
	switch req.Type {
	case TransportWebRtc:
		wt, err := r.newWebRtcTransport(req.SctpCapabilities)
		if err != nil {
			return nil, err
		}
		t, info = wt, webRtcTransportInfo(wt, r.conf.IceServers)
	case TransportPlain:
		pt, err := r.router.CreatePlainTransport(worker.PlainTransportOptions{
			ListenIp:    r.conf.PlainTransport.ListenIp,
			AnnouncedIp: r.conf.PlainTransport.AnnouncedIp,
			RtcpMux:     req.RtcpMux,
			Comedia:     req.Comedia,
		})
		if err != nil {
			return nil, err
		}
		t, info = pt, plainTransportInfo(pt)
	default:
		return nil, typeError("invalid type")
	}

	r.mu.Lock()
	b, err := r.broadcaster(broadcasterId)
	if err != nil {
		// deleted meanwhile
		r.mu.Unlock()
		t.Close()
		return nil, err
	}
	b.transports[t.Id()] = t
	r.mu.Unlock()
	return info, nil
}

// ConnectBroadcasterTransport sets the remote ICE and DTLS parameters of a webrtc transport.
// The transport id of the request is ignored.
func (r *Room) ConnectBroadcasterTransport(broadcasterId, transportId string, req ConnectWebRtcTransportRequest) error {
	_, t, err := r.broadcasterTransport(broadcasterId, transportId)
	if err != nil {
		return err
	}
	wt, ok := t.(*worker.WebRtcTransport)
	if !ok {
		return fmt.Errorf("transport with id %q is not a webrtc transport", transportId)
	}
	remote, err := req.remote("body.")
	if err != nil {
		return err
	}
	return connect(wt, remote)
}

// ConnectPlainTransport sets the remote address of a plain transport without comedia.
func (r *Room) ConnectPlainTransport(broadcasterId, transportId string, req PlainConnectRequest) error {
	_, t, err := r.broadcasterTransport(broadcasterId, transportId)
	if err != nil {
		return err
	}
	pt, ok := t.(*worker.PlainTransport)
	if !ok {
		return fmt.Errorf("transport with id %q is not a plain transport", transportId)
	}
	err = pt.Connect(req.Ip, req.Port, req.RtcpPort)
	if errors.Is(err, worker.ErrBadTuple) {
		return typeError("%v", err)
	}
	return err
}

// CreateBroadcasterProducer starts a producer on a broadcaster transport.
func (r *Room) CreateBroadcasterProducer(broadcasterId, transportId string, req ProducerRequest) (*ProducerInfo, error) {
	b, t, err := r.broadcasterTransport(broadcasterId, transportId)
	if err != nil {
		return nil, err
	}
	if !worker.IsValidKind(req.Kind) {
		return nil, typeError("invalid kind %q", req.Kind)
	}
	appData := req.AppData
	if appData == nil {
		appData = map[string]any{}
	}
	appData["peerId"] = broadcasterId
	producer, err := t.Produce(worker.ProducerOptions{Kind: req.Kind, RtpParameters: req.RtpParameters, AppData: appData})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	b.producers[producer.Id()] = producer
	r.mu.Unlock()

	r.notifyNewProducer(broadcasterId, producer)
	return &ProducerInfo{Id: producer.Id()}, nil
}
