package gateway

import (
	"errors"

	"github.com/giongto35/rtc-gateway/pkg/config"
	"github.com/giongto35/rtc-gateway/pkg/logger"
	"github.com/giongto35/rtc-gateway/pkg/network/websocket"
	"github.com/giongto35/rtc-gateway/pkg/room"
	"github.com/giongto35/rtc-gateway/pkg/worker"
)

// ErrDraining is returned for every new admission after a worker death.
var ErrDraining = errors.New("gateway is draining")

var ErrRoomClosed = errors.New("room closed")

// Worker is a media worker handle.
type Worker interface {
	Pid() int
	Died() <-chan struct{}
	Err() error
	NewRouter(codecs []config.MediaCodec) (*worker.Router, error)
	ResourceUsage() (worker.Usage, error)
	Dump() (worker.Dump, error)
	Close()
}

// Room is the per-room operation set used by both ingress adapters.
type Room interface {
	ID() string
	OnClose(fn func())
	Close()
	Closed() bool
	LogStatus()

	HandleConnection(peerId string, conn *websocket.WS)

	RouterRtpCapabilities() worker.RtpCapabilities
	CreateBroadcaster(req room.BroadcasterRequest) (*room.BroadcasterInfo, error)
	DeleteBroadcaster(id string) error
	CreateBroadcasterTransport(broadcasterId string, req room.TransportRequest) (*room.TransportInfo, error)
	ConnectBroadcasterTransport(broadcasterId, transportId string, req room.ConnectWebRtcTransportRequest) error
	ConnectPlainTransport(broadcasterId, transportId string, req room.PlainConnectRequest) error
	CreateBroadcasterProducer(broadcasterId, transportId string, req room.ProducerRequest) (*room.ProducerInfo, error)
}

// RoomFactory builds a room on the given worker.
type RoomFactory func(w Worker, roomId string, consumerReplicas int) (Room, error)

// NewRoomFactory makes rooms of the room package.
func NewRoomFactory(conf config.Room, log *logger.Logger) RoomFactory {
	return func(w Worker, roomId string, consumerReplicas int) (Room, error) {
		r, err := room.New(w, roomId, consumerReplicas, conf, log)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}
