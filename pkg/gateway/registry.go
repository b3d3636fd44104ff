package gateway

import (
	"fmt"

	"github.com/giongto35/rtc-gateway/pkg/com"
	"github.com/giongto35/rtc-gateway/pkg/logger"
)

// Registry keeps one room per room id.
// New rooms are created only inside the admission queue.
type Registry struct {
	rooms   *com.Map[string, Room]
	pool    *Pool
	factory RoomFactory
	queue   *Queue
	sup     *Supervisor
	log     *logger.Logger
}

func NewRegistry(pool *Pool, factory RoomFactory, queue *Queue, sup *Supervisor, log *logger.Logger) *Registry {
	return &Registry{
		rooms:   com.NewMap[string, Room](),
		pool:    pool,
		factory: factory,
		queue:   queue,
		sup:     sup,
		log:     log,
	}
}

// GetOrCreate returns the room with the id or creates it on the next worker.
// The consumerReplicas param is used only for new rooms.
// Admission is checked in the queue so a drain before the task runs rejects it.
func (r *Registry) GetOrCreate(roomId string, consumerReplicas int) (room Room, err error) {
	err = r.queue.Do(func() error {
		if err := r.sup.Admit(); err != nil {
			return err
		}
		room, err = r.getOrCreate(roomId, consumerReplicas)
		return err
	})
	return
}

func (r *Registry) getOrCreate(roomId string, consumerReplicas int) (Room, error) {
	if room, err := r.rooms.Find(roomId); err == nil {
		if !room.Closed() {
			return room, nil
		}
		// closed but its eviction has not run yet
		r.evict(roomId, room)
	}

	w := r.pool.Next()
	if w == nil {
		return nil, ErrNoWorkers
	}
	room, err := r.factory(w, roomId, consumerReplicas)
	if err != nil {
		return nil, fmt.Errorf("room %v creation: %w", roomId, err)
	}
	r.rooms.Put(roomId, room)
	roomsGauge.Inc()
	roomsCreated.Inc()
	r.log.Debug().Str(logger.RoomField, roomId).Int(logger.WorkerField, w.Pid()).Msg("Room admitted")

	room.OnClose(func() { r.evict(roomId, room) })
	return room, nil
}

// evict removes the room only if the id still maps to that instance.
func (r *Registry) evict(roomId string, room Room) {
	if r.rooms.RemoveIf(roomId, func(v Room) bool { return v == room }) {
		roomsGauge.Dec()
		r.log.Debug().Str(logger.RoomField, roomId).Msg("Room evicted")
	}
}

// Find returns an existing room without creating it.
func (r *Registry) Find(roomId string) (Room, error) { return r.rooms.Find(roomId) }

// Rooms returns a snapshot of the registered rooms.
func (r *Registry) Rooms() []Room { return r.rooms.Values() }

func (r *Registry) Len() int { return r.rooms.Len() }

// CloseAll closes every registered room.
func (r *Registry) CloseAll() {
	for _, room := range r.Rooms() {
		room.Close()
	}
}
