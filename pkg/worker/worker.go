// Package worker implements in-process media workers.
// Each worker owns its own pion API settings, an optional shared
// ICE listening socket and the routers created on it.
package worker

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/giongto35/rtc-gateway/pkg/com"
	"github.com/giongto35/rtc-gateway/pkg/config"
	"github.com/giongto35/rtc-gateway/pkg/logger"
	"github.com/giongto35/rtc-gateway/pkg/network/socket"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v3"
)

const opQueue = 64

var nextPid atomic.Int32

type op struct {
	fn  func() error
	res chan error
}

// Worker is a media engine unit.
// Every engine operation goes through exec, so depending on the io mode
// they are either serialized on the worker loop or run in parallel.
// A panic inside an operation kills the worker.
type Worker struct {
	pid   int
	index int
	conf  config.Worker

	settings webrtc.SettingEngine
	certs    []webrtc.Certificate
	server   *webRtcServer

	routers *com.Map[string, *Router]

	ops     chan op
	opCount atomic.Uint64

	dieOnce   sync.Once
	err       error
	died      chan struct{}
	closeOnce sync.Once
	closed    chan struct{}

	started time.Time
	log     *logger.Logger
}

// New starts a worker.
// The index param is the worker position in the pool and shifts
// the port of the WebRTC server.
func New(index int, conf config.Worker, log *logger.Logger) (*Worker, error) {
	pid := int(nextPid.Add(1))
	w := &Worker{
		pid:     pid,
		index:   index,
		conf:    conf,
		routers: com.NewMap[string, *Router](),
		ops:     make(chan op, opQueue),
		died:    make(chan struct{}),
		closed:  make(chan struct{}),
		started: time.Now(),
		log:     log.Extend(log.With().Int(logger.WorkerField, pid)),
	}

	certs, err := loadCertificates(conf)
	if err != nil {
		return nil, fmt.Errorf("worker certificate: %w", err)
	}
	w.certs = certs

	pionLog := logger.NewPionLogger(w.log, logger.ParseLevel(conf.LogLevel), conf.LogTags)
	w.settings = webrtc.SettingEngine{LoggerFactory: pionLog}
	w.settings.SetLite(true)

	if conf.WebRtcServer.Enabled {
		srv, err := newWebRtcServer(conf.WebRtcServer, index, pionLog)
		if err != nil {
			return nil, fmt.Errorf("worker webrtc server: %w", err)
		}
		w.server = srv
		srv.apply(&w.settings)
		w.log.Info().Msgf("WebRTC server is listening on %v", srv)
	} else if conf.HasPortRange() {
		if err = w.settings.SetEphemeralUDPPortRange(conf.RtcMinPort, conf.RtcMaxPort); err != nil {
			return nil, err
		}
	}

	if conf.IoMode == config.IoModeSerial {
		go w.loop()
	}
	w.log.Debug().Str("mode", conf.IoMode).Msg("Worker started")
	return w, nil
}

func (w *Worker) Pid() int { return w.pid }

// Died is closed when the worker is dead, see Err for the cause.
func (w *Worker) Died() <-chan struct{} { return w.died }

// Err returns the cause of the worker death.
func (w *Worker) Err() error {
	select {
	case <-w.died:
		return w.err
	default:
		return nil
	}
}

func (w *Worker) loop() {
	defer w.drain()
	for {
		select {
		case <-w.died:
			return
		case <-w.closed:
			return
		default:
		}
		select {
		case o := <-w.ops:
			o.res <- w.run(o.fn)
		case <-w.died:
			return
		case <-w.closed:
			return
		}
	}
}

// drain fails the ops left in the queue of a stopped loop.
func (w *Worker) drain() {
	for {
		select {
		case o := <-w.ops:
			o.res <- w.stopErr()
		default:
			return
		}
	}
}

func (w *Worker) stopErr() error {
	select {
	case <-w.died:
		return fmt.Errorf("%w: %v", ErrClosed, w.err)
	default:
		return ErrClosed
	}
}

func (w *Worker) run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker %d crashed: %v", w.pid, r)
			w.log.Error().Bytes("stack", debug.Stack()).Msg("Worker operation panic")
			w.die(err)
		}
	}()
	w.opCount.Add(1)
	return fn()
}

// exec executes one engine operation and waits for its result.
func (w *Worker) exec(fn func() error) error {
	select {
	case <-w.died:
		return fmt.Errorf("%w: %v", ErrClosed, w.err)
	case <-w.closed:
		return ErrClosed
	default:
	}

	if w.conf.IoMode != config.IoModeSerial {
		res := make(chan error, 1)
		go func() { res <- w.run(fn) }()
		return <-res
	}

	o := op{fn: fn, res: make(chan error, 1)}
	select {
	case w.ops <- o:
	case <-w.died:
		return fmt.Errorf("%w: %v", ErrClosed, w.err)
	case <-w.closed:
		return ErrClosed
	}
	select {
	case err := <-o.res:
		return err
	case <-w.died:
	case <-w.closed:
	}
	// the operation itself may have killed or closed the worker
	select {
	case err := <-o.res:
		return err
	default:
	}
	return w.stopErr()
}

func (w *Worker) die(err error) {
	w.dieOnce.Do(func() {
		w.err = err
		close(w.died)
		w.log.Error().Err(err).Msg("Worker died")
		w.release()
	})
}

// Close stops the worker with all its routers.
// Closing is not a death, Died stays open.
func (w *Worker) Close() {
	w.closeOnce.Do(func() {
		close(w.closed)
		w.release()
		w.log.Debug().Msg("Worker closed")
	})
}

func (w *Worker) release() {
	for _, r := range w.routers.Values() {
		r.close()
	}
	if w.server != nil {
		if err := w.server.close(); err != nil {
			w.log.Warn().Err(err).Msg("WebRTC server close")
		}
	}
}

// NewRouter creates a router that routes the given codecs.
func (w *Worker) NewRouter(codecs []config.MediaCodec) (router *Router, err error) {
	err = w.exec(func() error {
		router, err = newRouter(w, codecs)
		if err != nil {
			return err
		}
		w.routers.Put(router.id, router)
		return nil
	})
	return
}

func (w *Worker) removeRouter(id string) { w.routers.RemoveByKey(id) }

// ResourceUsage returns the worker resource counters.
func (w *Worker) ResourceUsage() (usage Usage, err error) {
	err = w.exec(func() error {
		usage = w.usage()
		return nil
	})
	return
}

// Dump returns the internal state of the worker.
func (w *Worker) Dump() (dump Dump, err error) {
	err = w.exec(func() error {
		dump = w.dump()
		return nil
	})
	return
}

func loadCertificates(conf config.Worker) ([]webrtc.Certificate, error) {
	if conf.HasCertificate() {
		pair, err := tls.LoadX509KeyPair(conf.DtlsCertificateFile, conf.DtlsPrivateKeyFile)
		if err != nil {
			return nil, err
		}
		if len(pair.Certificate) == 0 {
			return nil, errors.New("empty certificate chain")
		}
		cert, err := x509.ParseCertificate(pair.Certificate[0])
		if err != nil {
			return nil, err
		}
		return []webrtc.Certificate{webrtc.CertificateFromX509(pair.PrivateKey, cert)}, nil
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	cert, err := webrtc.GenerateCertificate(key)
	if err != nil {
		return nil, err
	}
	return []webrtc.Certificate{*cert}, nil
}

// webRtcServer is a pair of ICE sockets shared by all WebRTC transports of a worker.
type webRtcServer struct {
	announcedIp string
	udp         *net.UDPConn
	tcp         *net.TCPListener
	udpMux      io.Closer
	tcpMux      io.Closer
	apply       func(s *webrtc.SettingEngine)
}

func newWebRtcServer(conf config.WebRtcServer, index int, log logging.LoggerFactory) (*webRtcServer, error) {
	port := conf.Port + index
	udp, err := socket.NewUDP(conf.ListenIp, port)
	if err != nil {
		return nil, err
	}
	tcp, err := socket.NewTCP(conf.ListenIp, port)
	if err != nil {
		_ = udp.Close()
		return nil, err
	}
	udpMux := webrtc.NewICEUDPMux(log.NewLogger("ice"), udp)
	tcpMux := webrtc.NewICETCPMux(log.NewLogger("ice"), tcp, 8)
	announced := conf.AnnouncedIp
	return &webRtcServer{
		announcedIp: announced,
		udp:         udp,
		tcp:         tcp,
		udpMux:      udpMux,
		tcpMux:      tcpMux,
		apply: func(s *webrtc.SettingEngine) {
			s.SetICEUDPMux(udpMux)
			s.SetICETCPMux(tcpMux)
			s.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4, webrtc.NetworkTypeTCP4})
			if announced != "" {
				s.SetNAT1To1IPs([]string{announced}, webrtc.ICECandidateTypeHost)
			}
		},
	}, nil
}

func (s *webRtcServer) close() error {
	var errs []error
	for _, c := range []io.Closer{s.udpMux, s.tcpMux, s.udp, s.tcp} {
		// muxes close their sockets themselves
		if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *webRtcServer) String() string {
	return fmt.Sprintf("udp:%v tcp:%v", s.udp.LocalAddr(), s.tcp.Addr())
}
