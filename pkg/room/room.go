// Package room keeps the state of one session room: signaling peers,
// REST broadcasters and the router they share on a media worker.
package room

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/giongto35/rtc-gateway/pkg/config"
	"github.com/giongto35/rtc-gateway/pkg/logger"
	"github.com/giongto35/rtc-gateway/pkg/network/websocket"
	"github.com/giongto35/rtc-gateway/pkg/worker"
)

// Engine is a media worker able to host rooms.
type Engine interface {
	Pid() int
	NewRouter(codecs []config.MediaCodec) (*worker.Router, error)
}

type Room struct {
	id       string
	pid      int
	replicas int
	router   *worker.Router
	conf     config.Room

	mu           sync.Mutex
	peers        map[string]*Peer
	broadcasters map[string]*Broadcaster
	onClose      []func()
	closed       atomic.Bool

	created time.Time
	log     *logger.Logger
}

// New creates a room with a router on the given engine.
func New(engine Engine, id string, consumerReplicas int, conf config.Room, log *logger.Logger) (*Room, error) {
	router, err := engine.NewRouter(conf.MediaCodecs)
	if err != nil {
		return nil, fmt.Errorf("room %v router: %w", id, err)
	}
	if consumerReplicas < 0 {
		consumerReplicas = 0
	}
	r := &Room{
		id:           id,
		pid:          engine.Pid(),
		replicas:     consumerReplicas,
		router:       router,
		conf:         conf,
		peers:        make(map[string]*Peer),
		broadcasters: make(map[string]*Broadcaster),
		created:      time.Now(),
		log:          log.Extend(log.Room(id).With().Int(logger.WorkerField, engine.Pid())),
	}
	r.log.Info().Int("replicas", consumerReplicas).Msg("Room created")
	return r, nil
}

func (r *Room) ID() string             { return r.id }
func (r *Room) Pid() int               { return r.pid }
func (r *Room) Closed() bool           { return r.closed.Load() }
func (r *Room) Router() *worker.Router { return r.router }

func (r *Room) RouterRtpCapabilities() worker.RtpCapabilities { return r.router.RtpCapabilities() }

// OnClose adds a callback executed once the room is closed.
func (r *Room) OnClose(fn func()) {
	r.mu.Lock()
	if !r.Closed() {
		r.onClose = append(r.onClose, fn)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	fn()
}

// Close disconnects everyone and releases the router.
func (r *Room) Close() {
	r.mu.Lock()
	if !r.closed.CompareAndSwap(false, true) {
		r.mu.Unlock()
		return
	}
	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	r.peers = make(map[string]*Peer)
	r.broadcasters = make(map[string]*Broadcaster)
	callbacks := r.onClose
	r.onClose = nil
	r.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
	r.router.Close()
	r.log.Info().Msg("Room closed")
	for _, fn := range callbacks {
		fn()
	}
}

// LogStatus writes the room state into the log.
func (r *Room) LogStatus() {
	r.mu.Lock()
	peers, broadcasters := len(r.peers), len(r.broadcasters)
	r.mu.Unlock()
	r.log.Info().
		Int("peers", peers).
		Int("broadcasters", broadcasters).
		Dur("uptime", time.Since(r.created)).
		Msg("Room status")
}

// Info returns the room participants.
func (r *Room) Info() RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	info := RoomInfo{RoomId: r.id, Pid: r.pid, Replicas: r.replicas, Peers: []PeerInfo{}, Broadcasters: []PeerInfo{}}
	for _, p := range r.peers {
		if p.joined {
			info.Peers = append(info.Peers, p.info())
		}
	}
	for _, b := range r.broadcasters {
		info.Broadcasters = append(info.Broadcasters, b.info())
	}
	return info
}

// HandleConnection registers a signaling peer, a peer with the same id
// is closed and replaced.
func (r *Room) HandleConnection(peerId string, conn *websocket.WS) {
	if r.Closed() {
		conn.Close()
		return
	}
	peer := newPeer(peerId, conn, r)

	r.mu.Lock()
	old := r.peers[peerId]
	r.peers[peerId] = peer
	r.mu.Unlock()

	if old != nil {
		r.log.Warn().Str(logger.PeerField, peerId).Msg("Peer replaced")
		old.close()
	}

	conn.SetMessageHandler(peer.handle)
	conn.Listen()
	r.log.Info().Str(logger.PeerField, peerId).Str("conn", conn.Id().String()).Msg("Peer connected")
	go func() {
		<-conn.Done()
		r.removePeer(peer)
	}()
}

func (r *Room) removePeer(peer *Peer) {
	peer.close()

	r.mu.Lock()
	if r.peers[peer.id] == peer {
		delete(r.peers, peer.id)
	}
	others := r.joinedPeers(peer.id)
	empty := len(r.peers)+len(r.broadcasters) == 0
	r.mu.Unlock()

	r.log.Info().Str(logger.PeerField, peer.id).Msg("Peer disconnected")
	if peer.isJoined() {
		notify(others, NotifyPeerClosed, map[string]string{"peerId": peer.id})
	}
	if empty {
		r.Close()
	}
}

// joinedPeers returns all joined peers except the one with the skip id.
// Call under the room lock.
func (r *Room) joinedPeers(skip string) []*Peer {
	var pp []*Peer
	for _, p := range r.peers {
		if p.id != skip && p.joined {
			pp = append(pp, p)
		}
	}
	return pp
}

// notifyNewProducer sends the producer to every consuming peer
// 1 + replicas times.
func (r *Room) notifyNewProducer(owner string, producer *worker.Producer) {
	r.mu.Lock()
	var consumers []*Peer
	for _, p := range r.joinedPeers(owner) {
		if p.rtpCapabilities != nil {
			consumers = append(consumers, p)
		}
	}
	r.mu.Unlock()

	for i := 0; i <= r.replicas; i++ {
		notify(consumers, NotifyNewProducer, newProducerNotification(owner, producer, i))
	}
}

func (r *Room) newWebRtcTransport(sctp *worker.SctpCapabilities) (*worker.WebRtcTransport, error) {
	opts := worker.WebRtcTransportOptions{MaxSctpMessageSize: r.conf.WebRtcTransport.MaxSctpMessageSize}
	if sctp != nil {
		opts.EnableSctp = true
		opts.NumSctpStreams = sctp.NumStreams
	}
	return r.router.CreateWebRtcTransport(opts)
}

func notify(peers []*Peer, method string, data any) {
	if len(peers) == 0 {
		return
	}
	m := notification(method, data)
	for _, p := range peers {
		p.send(m)
	}
}
