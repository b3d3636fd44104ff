package main

import (
	"context"
	"fmt"
	goos "os"
	"time"

	"github.com/giongto35/rtc-gateway/pkg/config"
	"github.com/giongto35/rtc-gateway/pkg/gateway"
	"github.com/giongto35/rtc-gateway/pkg/logger"
	"github.com/giongto35/rtc-gateway/pkg/os"
)

var Version = "?"

const shutdownTimeout = 10 * time.Second

func run() int {
	conf := config.NewConfig()
	conf.ParseFlags()

	log := logger.NewConsole(conf.Gateway.Debug, "gw", false)
	log.Info().Msgf("version %s", Version)
	log.Debug().Msgf("conf: %+v", conf)

	lock, err := os.NewFileLock(conf.Worker.LockFile, fmt.Sprintf("rtc-%d-%d", conf.Worker.RtcMinPort, conf.Worker.RtcMaxPort))
	if err == nil {
		err = lock.TryLock()
	}
	if err != nil {
		log.Error().Err(err).Msg("port range lock")
		return 1
	}
	defer func() { _ = lock.Unlock() }()

	pool, err := gateway.StartPool(conf.Worker, log)
	if err != nil {
		log.Error().Err(err).Msg("media workers")
		return 1
	}
	g, err := gateway.New(conf, pool, gateway.NewRoomFactory(conf.Room, log), log)
	if err != nil {
		pool.Close()
		log.Error().Err(err).Msg("gateway init")
		return 1
	}
	g.Start()

	select {
	case <-os.ExpectTermination():
		log.Info().Msg("Gateway is shutting down")
	case <-g.Done():
		log.Error().Err(g.Err()).Msg("Gateway lost a media worker")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := g.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("service shutdown errors")
	}
	if g.Err() != nil {
		return 1
	}
	return 0
}

func main() { goos.Exit(run()) }
