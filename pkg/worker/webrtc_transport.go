package worker

import (
	"fmt"
	"sync"
	"time"

	"github.com/giongto35/rtc-gateway/pkg/logger"
	"github.com/pion/webrtc/v3"
)

const (
	gatherTimeout         = 5 * time.Second
	sctpPort              = 5000
	defaultSctpStreams    = 1024
	defaultSctpMaxMessage = 262144
)

type WebRtcTransportOptions struct {
	EnableSctp         bool
	NumSctpStreams     NumSctpStreams
	MaxSctpMessageSize uint32
	AppData            map[string]any
}

// WebRtcTransport is an ICE-lite + DTLS (+ SCTP) transport.
type WebRtcTransport struct {
	transport

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	sctp     *webrtc.SCTPTransport

	iceParams  IceParameters
	candidates []IceCandidate
	dtlsParams DtlsParameters
	sctpParams *SctpParameters

	mu     sync.Mutex
	remote *RemoteParameters

	AppData map[string]any
}

func newWebRtcTransport(r *Router, opts WebRtcTransportOptions) (*WebRtcTransport, error) {
	t := &WebRtcTransport{AppData: opts.AppData}
	t.init(r)

	gatherer, err := r.api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		return nil, err
	}
	t.gatherer = gatherer

	var once sync.Once
	done := make(chan struct{})
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			once.Do(func() { close(done) })
		}
	})
	if err = gatherer.Gather(); err != nil {
		t.stop()
		return nil, err
	}
	select {
	case <-done:
	case <-time.After(gatherTimeout):
		r.w.log.Warn().Str("transport", t.id).Msg("ICE gathering timeout")
	}

	candidates, err := gatherer.GetLocalCandidates()
	if err != nil {
		t.stop()
		return nil, err
	}
	for _, c := range candidates {
		t.candidates = append(t.candidates, IceCandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			Ip:         c.Address,
			Address:    c.Address,
			Protocol:   c.Protocol.String(),
			Port:       c.Port,
			Type:       c.Typ.String(),
			TcpType:    c.TCPType,
		})
	}
	params, err := gatherer.GetLocalParameters()
	if err != nil {
		t.stop()
		return nil, err
	}
	t.iceParams = IceParameters{UsernameFragment: params.UsernameFragment, Password: params.Password, IceLite: true}

	t.ice = r.api.NewICETransport(gatherer)
	t.dtls, err = r.api.NewDTLSTransport(t.ice, r.w.certs)
	if err != nil {
		t.stop()
		return nil, err
	}
	local, err := t.dtls.GetLocalParameters()
	if err != nil {
		t.stop()
		return nil, err
	}
	t.dtlsParams = DtlsParameters{Role: "auto"}
	for _, f := range local.Fingerprints {
		t.dtlsParams.Fingerprints = append(t.dtlsParams.Fingerprints, DtlsFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}

	if opts.EnableSctp {
		t.sctp = r.api.NewSCTPTransport(t.dtls)
		maxSize := opts.MaxSctpMessageSize
		if maxSize == 0 {
			maxSize = t.sctp.GetCapabilities().MaxMessageSize
		}
		if maxSize == 0 {
			maxSize = defaultSctpMaxMessage
		}
		streams := opts.NumSctpStreams
		if streams.OS == 0 {
			streams.OS = defaultSctpStreams
		}
		if streams.MIS == 0 {
			streams.MIS = defaultSctpStreams
		}
		t.sctpParams = &SctpParameters{Port: sctpPort, OS: streams.OS, MIS: streams.MIS, MaxMessageSize: maxSize}
	}
	return t, nil
}

func (t *WebRtcTransport) IceParameters() IceParameters    { return t.iceParams }
func (t *WebRtcTransport) IceCandidates() []IceCandidate   { return t.candidates }
func (t *WebRtcTransport) DtlsParameters() DtlsParameters  { return t.dtlsParams }
func (t *WebRtcTransport) SctpParameters() *SctpParameters { return t.sctpParams }

// Connect sets the remote parameters and starts ICE, DTLS and SCTP.
// The handshakes run in the background, see State.
func (t *WebRtcTransport) Connect(remote RemoteParameters) error {
	if err := remote.Validate(); err != nil {
		return err
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
		t.remote = &remote
		go t.start(remote)
		return nil
	})
}

func (t *WebRtcTransport) start(remote RemoteParameters) {
	log := t.router.w.log.Extend(t.router.w.log.With().Str("transport", t.id))

	for _, c := range remote.Candidates {
		cand, _ := c.candidate()
		if err := t.ice.AddRemoteCandidate(&cand); err != nil {
			log.Warn().Err(err).Msg("remote ICE candidate")
		}
	}
	role := webrtc.ICERoleControlled
	err := t.ice.Start(nil, webrtc.ICEParameters{
		UsernameFragment: remote.Ice.UsernameFragment,
		Password:         remote.Ice.Password,
		ICELite:          remote.Ice.IceLite,
	}, &role)
	if err != nil {
		t.fail(log, "ICE", err)
		return
	}

	dtls := webrtc.DTLSParameters{Role: dtlsRole(remote.Dtls.Role)}
	for _, f := range remote.Dtls.Fingerprints {
		dtls.Fingerprints = append(dtls.Fingerprints, webrtc.DTLSFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}
	if err = t.dtls.Start(dtls); err != nil {
		t.fail(log, "DTLS", err)
		return
	}

	if t.sctp != nil {
		if err = t.sctp.Start(webrtc.SCTPCapabilities{MaxMessageSize: t.sctpParams.MaxMessageSize}); err != nil {
			t.fail(log, "SCTP", err)
			return
		}
	}
	log.Debug().Msg("WebRTC transport connected")
}

func (t *WebRtcTransport) fail(log *logger.Logger, stage string, err error) {
	if t.Closed() {
		return
	}
	log.Warn().Err(err).Msgf("%v start", stage)
}

// State returns the ICE and DTLS states.
func (t *WebRtcTransport) State() (ice, dtls string) {
	return t.ice.State().String(), t.dtls.State().String()
}

func (t *WebRtcTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remote != nil
}

func (t *WebRtcTransport) Close() {
	_ = t.router.w.exec(func() error { t.close(); return nil })
	t.close()
}

func (t *WebRtcTransport) close() {
	if t.closeBase() {
		t.stop()
	}
}

func (t *WebRtcTransport) stop() {
	if t.sctp != nil {
		_ = t.sctp.Stop()
	}
	if t.dtls != nil {
		_ = t.dtls.Stop()
	}
	if t.ice != nil {
		_ = t.ice.Stop()
	}
	if t.gatherer != nil {
		_ = t.gatherer.Close()
	}
}

func dtlsRole(role string) webrtc.DTLSRole {
	switch role {
	case "client":
		return webrtc.DTLSRoleClient
	case "server":
		return webrtc.DTLSRoleServer
	}
	return webrtc.DTLSRoleAuto
}

func (c IceCandidate) candidate() (webrtc.ICECandidate, error) {
	protocol, err := webrtc.NewICEProtocol(c.Protocol)
	if err != nil {
		return webrtc.ICECandidate{}, err
	}
	typ, err := webrtc.NewICECandidateType(c.Type)
	if err != nil {
		return webrtc.ICECandidate{}, err
	}
	address := c.Address
	if address == "" {
		address = c.Ip
	}
	if address == "" || c.Port == 0 {
		return webrtc.ICECandidate{}, fmt.Errorf("candidate %v has no address", c.Foundation)
	}
	return webrtc.ICECandidate{
		Foundation: c.Foundation,
		Priority:   c.Priority,
		Address:    address,
		Protocol:   protocol,
		Port:       c.Port,
		Typ:        typ,
		TCPType:    c.TcpType,
	}, nil
}
