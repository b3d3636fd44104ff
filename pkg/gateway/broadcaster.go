package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/giongto35/rtc-gateway/pkg/logger"
	"github.com/giongto35/rtc-gateway/pkg/room"
	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
)

type roomKey struct{}

// badRequest wraps request body decoding errors.
type badRequest struct{ err error }

func (e badRequest) Error() string { return e.err.Error() }
func (e badRequest) Unwrap() error { return e.err }

// BroadcasterApi is the REST ingress of server-side broadcasters.
// The room is resolved once per request and kept in the request context.
type BroadcasterApi struct {
	registry *Registry
	log      *logger.Logger
}

func NewBroadcasterApi(registry *Registry, log *logger.Logger) *BroadcasterApi {
	return &BroadcasterApi{
		registry: registry,
		log:      log.Extend(log.With().Str(logger.ModuleField, "api")),
	}
}

// Routes binds the API to the router.
func (a *BroadcasterApi) Routes(r *mux.Router) {
	rooms := r.PathPrefix("/rooms/{roomId}").Subrouter()
	rooms.Use(a.resolveRoom)
	rooms.HandleFunc("", a.getRouterRtpCapabilities).Methods(http.MethodGet)
	rooms.HandleFunc("/broadcasters", a.createBroadcaster).Methods(http.MethodPost)
	rooms.HandleFunc("/broadcasters/{broadcasterId}", a.deleteBroadcaster).Methods(http.MethodDelete)
	rooms.HandleFunc("/broadcasters/{broadcasterId}/transports", a.createTransport).Methods(http.MethodPost)
	rooms.HandleFunc("/broadcasters/{broadcasterId}/transports/{transportId}/connect", a.connectTransport).Methods(http.MethodPost)
	rooms.HandleFunc("/broadcasters/{broadcasterId}/transports/{transportId}/plain/connect", a.connectPlainTransport).Methods(http.MethodPost)
	rooms.HandleFunc("/broadcasters/{broadcasterId}/transports/{transportId}/producers", a.createProducer).Methods(http.MethodPost)
}

func (a *BroadcasterApi) resolveRoom(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		roomId := mux.Vars(r)["roomId"]
		rm, err := a.registry.GetOrCreate(roomId, 0)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), roomKey{}, rm)))
	})
}

func roomFrom(r *http.Request) Room { return r.Context().Value(roomKey{}).(Room) }

func (a *BroadcasterApi) getRouterRtpCapabilities(w http.ResponseWriter, r *http.Request) {
	a.ok(w, roomFrom(r).RouterRtpCapabilities())
}

func (a *BroadcasterApi) createBroadcaster(w http.ResponseWriter, r *http.Request) {
	var req room.BroadcasterRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	info, err := roomFrom(r).CreateBroadcaster(req)
	a.reply(w, r, info, err)
}

func (a *BroadcasterApi) deleteBroadcaster(w http.ResponseWriter, r *http.Request) {
	if err := roomFrom(r).DeleteBroadcaster(mux.Vars(r)["broadcasterId"]); err != nil {
		a.fail(w, r, err)
		return
	}
	requests.WithLabelValues("api", "200").Inc()
	_, _ = w.Write([]byte("broadcaster deleted"))
}

func (a *BroadcasterApi) createTransport(w http.ResponseWriter, r *http.Request) {
	var req room.TransportRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	info, err := roomFrom(r).CreateBroadcasterTransport(mux.Vars(r)["broadcasterId"], req)
	a.reply(w, r, info, err)
}

func (a *BroadcasterApi) connectTransport(w http.ResponseWriter, r *http.Request) {
	var req room.ConnectWebRtcTransportRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	vars := mux.Vars(r)
	if err := roomFrom(r).ConnectBroadcasterTransport(vars["broadcasterId"], vars["transportId"], req); err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, struct{}{})
}

func (a *BroadcasterApi) connectPlainTransport(w http.ResponseWriter, r *http.Request) {
	var req room.PlainConnectRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	vars := mux.Vars(r)
	if err := roomFrom(r).ConnectPlainTransport(vars["broadcasterId"], vars["transportId"], req); err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, struct{}{})
}

func (a *BroadcasterApi) createProducer(w http.ResponseWriter, r *http.Request) {
	var req room.ProducerRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	vars := mux.Vars(r)
	info, err := roomFrom(r).CreateBroadcasterProducer(vars["broadcasterId"], vars["transportId"], req)
	a.reply(w, r, info, err)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest{fmt.Errorf("bad request body: %w", err)}
	}
	return nil
}

// reply writes either the result or the error of a room operation.
func (a *BroadcasterApi) reply(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, v)
}

func (a *BroadcasterApi) ok(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	requests.WithLabelValues("api", "200").Inc()
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Error().Err(err).Msg("response encode")
	}
}

func (a *BroadcasterApi) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	requests.WithLabelValues("api", strconv.Itoa(code)).Inc()
	a.log.Warn().Err(err).Str("path", r.URL.Path).Int("code", code).Msg("request failed")
	http.Error(w, err.Error(), code)
}

func statusOf(err error) int {
	var bad badRequest
	switch {
	case errors.Is(err, ErrDraining):
		return http.StatusServiceUnavailable
	case room.IsTypeError(err), errors.As(err, &bad):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
