package worker

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/giongto35/rtc-gateway/pkg/network/socket"
)

const plainBufferSize = 1500

type PlainTransportOptions struct {
	ListenIp    string
	AnnouncedIp string
	// RtcpMux sends RTCP over the RTP port
	RtcpMux bool
	// Comedia learns the remote address from the first received packet
	Comedia bool
	AppData map[string]any
}

// PlainTransport is a plain (no ICE, no DTLS) RTP transport.
type PlainTransport struct {
	transport

	opts PlainTransportOptions
	rtp  *net.UDPConn
	rtcp *net.UDPConn

	mu         sync.Mutex
	remote     *net.UDPAddr
	remoteRtcp *net.UDPAddr

	bytes   atomic.Uint64
	packets atomic.Uint64

	wg sync.WaitGroup

	AppData map[string]any
}

func newPlainTransport(r *Router, opts PlainTransportOptions) (*PlainTransport, error) {
	t := &PlainTransport{opts: opts, AppData: opts.AppData}
	t.init(r)

	conf := r.w.conf
	rtp, err := socket.NewUDPInRange(opts.ListenIp, conf.RtcMinPort, conf.RtcMaxPort)
	if err != nil {
		return nil, err
	}
	t.rtp = rtp
	if !opts.RtcpMux {
		rtcp, err := socket.NewUDPInRange(opts.ListenIp, conf.RtcMinPort, conf.RtcMaxPort)
		if err != nil {
			_ = rtp.Close()
			return nil, err
		}
		t.rtcp = rtcp
	}

	t.wg.Add(1)
	go t.read(t.rtp, true)
	if t.rtcp != nil {
		t.wg.Add(1)
		go t.read(t.rtcp, false)
	}
	return t, nil
}

func (t *PlainTransport) RtcpMux() bool { return t.opts.RtcpMux }
func (t *PlainTransport) Comedia() bool { return t.opts.Comedia }

// Tuple returns the local/remote RTP address pair.
func (t *PlainTransport) Tuple() TransportTuple {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tuple(t.rtp, t.remote)
}

// RtcpTuple returns nil when RTCP goes over the RTP port.
func (t *PlainTransport) RtcpTuple() *TransportTuple {
	if t.rtcp == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	tuple := t.tuple(t.rtcp, t.remoteRtcp)
	return &tuple
}

func (t *PlainTransport) tuple(conn *net.UDPConn, remote *net.UDPAddr) TransportTuple {
	local := conn.LocalAddr().(*net.UDPAddr)
	tuple := TransportTuple{LocalIp: local.IP.String(), LocalPort: local.Port, Protocol: "udp"}
	if t.opts.AnnouncedIp != "" {
		tuple.LocalIp = t.opts.AnnouncedIp
	}
	if remote != nil {
		tuple.RemoteIp, tuple.RemotePort = remote.IP.String(), remote.Port
	}
	return tuple
}

// Connect sets the remote address of a transport without comedia.
func (t *PlainTransport) Connect(ip string, port, rtcpPort int) error {
	if t.opts.Comedia {
		return ErrComedia
	}
	addr := net.ParseIP(ip)
	if addr == nil || port <= 0 || port > 65535 {
		return ErrBadTuple
	}
	if !t.opts.RtcpMux && (rtcpPort <= 0 || rtcpPort > 65535) {
		return ErrBadTuple
	}
	return t.router.w.exec(func() error {
		if t.Closed() {
			return ErrClosed
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.remote != nil {
			return ErrConnected
		}
		t.remote = &net.UDPAddr{IP: addr, Port: port}
		if !t.opts.RtcpMux {
			t.remoteRtcp = &net.UDPAddr{IP: addr, Port: rtcpPort}
		}
		return nil
	})
}

// Stats returns the received bytes and packets.
func (t *PlainTransport) Stats() (bytes, packets uint64) { return t.bytes.Load(), t.packets.Load() }

func (t *PlainTransport) read(conn *net.UDPConn, isRtp bool) {
	defer t.wg.Done()
	buf := make([]byte, plainBufferSize)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				t.router.w.log.Warn().Err(err).Str("transport", t.id).Msg("plain transport read")
			}
			return
		}
		t.bytes.Add(uint64(n))
		t.packets.Add(1)
		if t.opts.Comedia {
			t.learn(addr, isRtp)
		}
	}
}

func (t *PlainTransport) learn(addr *net.UDPAddr, isRtp bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if isRtp && t.remote == nil {
		t.remote = addr
		if t.opts.RtcpMux {
			t.remoteRtcp = addr
		}
	}
	if !isRtp && t.remoteRtcp == nil {
		t.remoteRtcp = addr
	}
}

func (t *PlainTransport) Close() {
	_ = t.router.w.exec(func() error { t.close(); return nil })
	t.close()
}

func (t *PlainTransport) close() {
	if !t.closeBase() {
		return
	}
	_ = t.rtp.Close()
	if t.rtcp != nil {
		_ = t.rtcp.Close()
	}
	t.wg.Wait()
}
