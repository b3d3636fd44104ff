package gateway

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/giongto35/rtc-gateway/pkg/logger"
	"github.com/giongto35/rtc-gateway/pkg/network/websocket"
)

// Signaling accepts peer websocket connections,
// GET /?roomId=&peerId=&consumerReplicas=
type Signaling struct {
	registry *Registry
	upgrader *websocket.Upgrader
	log      *logger.Logger
}

func NewSignaling(registry *Registry, origin string, log *logger.Logger) *Signaling {
	return &Signaling{
		registry: registry,
		upgrader: websocket.NewUpgrader(origin),
		log:      log.Extend(log.With().Str(logger.ModuleField, "ws")),
	}
}

func (s *Signaling) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	roomId, peerId := q.Get("roomId"), q.Get("peerId")
	if roomId == "" || peerId == "" {
		s.reply(w, "missing roomId or peerId", http.StatusBadRequest)
		return
	}
	replicas, err := strconv.Atoi(q.Get("consumerReplicas"))
	if err != nil || replicas < 0 {
		replicas = 0
	}

	room, err := s.resolve(roomId, replicas)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, ErrDraining) {
			code = http.StatusServiceUnavailable
		}
		s.log.Warn().Err(err).Str(logger.RoomField, roomId).Str(logger.PeerField, peerId).Msg("room resolve")
		s.reply(w, err.Error(), code)
		return
	}
	s.accept(w, r, room, peerId)
}

// resolve finds or creates the room, nothing is upgraded yet.
// A room closed right after the lookup is resolved once more.
func (s *Signaling) resolve(roomId string, replicas int) (Room, error) {
	for range 2 {
		room, err := s.registry.GetOrCreate(roomId, replicas)
		if err != nil {
			return nil, err
		}
		if !room.Closed() {
			return room, nil
		}
	}
	return nil, ErrRoomClosed
}

// accept upgrades the connection and hands it to the room.
func (s *Signaling) accept(w http.ResponseWriter, r *http.Request, room Room, peerId string) {
	conn, err := s.upgrader.Upgrade(w, r, s.log)
	if err != nil {
		// the upgrader has replied already
		requests.WithLabelValues("ws", "400").Inc()
		s.log.Warn().Err(err).Str(logger.PeerField, peerId).Msg("websocket upgrade")
		return
	}
	requests.WithLabelValues("ws", "101").Inc()
	room.HandleConnection(peerId, conn)
}

func (s *Signaling) reply(w http.ResponseWriter, text string, code int) {
	requests.WithLabelValues("ws", strconv.Itoa(code)).Inc()
	http.Error(w, text, code)
}
