// Package gateway is the session orchestrator. It admits rooms one by one
// through a FIFO queue, spreads them over the media workers in round-robin,
// and bridges websocket peers and REST broadcasters onto them.
package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/giongto35/rtc-gateway/pkg/config"
	"github.com/giongto35/rtc-gateway/pkg/logger"
	"github.com/giongto35/rtc-gateway/pkg/monitoring"
	"github.com/giongto35/rtc-gateway/pkg/network/httpx"
	"github.com/giongto35/rtc-gateway/pkg/service"
	"github.com/gorilla/mux"
)

type Gateway struct {
	conf     config.Config
	pool     *Pool
	queue    *Queue
	registry *Registry
	sup      *Supervisor
	handler  http.Handler
	server   *httpx.Server
	services service.Group
	log      *logger.Logger
}

// New assembles the gateway services over the started worker pool.
func New(conf config.Config, pool *Pool, factory RoomFactory, log *logger.Logger) (*Gateway, error) {
	queue := NewQueue()
	sup := NewSupervisor(log)
	registry := NewRegistry(pool, factory, queue, sup, log)

	g := &Gateway{conf: conf, pool: pool, queue: queue, registry: registry, sup: sup, log: log}
	g.handler = g.routes()

	server, err := httpx.NewServer(
		conf.Gateway.Server.GetAddr(),
		func(*httpx.Server) httpx.Handler { return g.handler },
		httpx.WithServerConfig(conf.Gateway.Server),
		httpx.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	g.server = server

	g.services.Add(queue)
	g.services.AddIf(conf.Gateway.StatusInterval > 0, NewStatusReporter(registry, conf.Gateway.StatusInterval))
	g.services.AddIf(conf.Worker.HealthInterval > 0, NewHealthReporter(pool, conf.Worker.HealthInterval, log))
	if conf.Gateway.Monitoring.IsEnabled() {
		mon, err := monitoring.New(conf.Gateway.Monitoring, log)
		if err != nil {
			_ = server.Stop()
			return nil, err
		}
		g.services.Add(mon)
	}
	g.services.Add(server)
	return g, nil
}

func (g *Gateway) routes() http.Handler {
	r := mux.NewRouter()
	NewBroadcasterApi(g.registry, g.log).Routes(r)
	r.Handle("/", NewSignaling(g.registry, g.conf.Gateway.Origin.PeerWs, g.log)).Methods(http.MethodGet)
	return r
}

// Start runs all the services and starts watching the workers.
func (g *Gateway) Start() {
	g.services.Start()
	g.sup.Watch(g.pool.Workers())
	g.log.Info().Msgf("Gateway is listening on %v://%v", g.server.GetProtocol(), g.server.ListenAddr())
}

// Handler returns the HTTP handler of both ingress adapters.
func (g *Gateway) Handler() http.Handler { return g.handler }

func (g *Gateway) Registry() *Registry { return g.registry }

// Done is closed on a worker death.
func (g *Gateway) Done() <-chan struct{} { return g.sup.Done() }

// Err returns the reason of the forced shutdown if any.
func (g *Gateway) Err() error { return g.sup.Err() }

// Shutdown closes every room, stops the services and the workers.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.sup.Terminate()
	g.registry.CloseAll()
	err := g.services.Shutdown(ctx)
	g.pool.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
