package worker

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/giongto35/rtc-gateway/pkg/com"
	"github.com/giongto35/rtc-gateway/pkg/config"
	"github.com/gofrs/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
)

var headerExtensions = []RtpHeaderExtension{
	{Kind: KindAudio, Uri: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredId: 1, Direction: "sendrecv"},
	{Kind: KindVideo, Uri: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredId: 1, Direction: "sendrecv"},
	{Kind: KindAudio, Uri: "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time", PreferredId: 4, Direction: "sendrecv"},
	{Kind: KindVideo, Uri: "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time", PreferredId: 4, Direction: "sendrecv"},
	{Kind: KindVideo, Uri: "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01", PreferredId: 5, Direction: "sendrecv"},
	{Kind: KindAudio, Uri: "urn:ietf:params:rtp-hdrext:ssrc-audio-level", PreferredId: 10, Direction: "sendrecv"},
	{Kind: KindVideo, Uri: "urn:3gpp:video-orientation", PreferredId: 11, Direction: "sendrecv"},
}

// Router is a set of transports and producers sharing
// one codec capability set.
type Router struct {
	id  string
	w   *Worker
	api *webrtc.API

	caps       RtpCapabilities
	transports *com.Map[string, Transport]
	producers  *com.Map[string, *Producer]

	closed atomic.Bool
}

func newRouter(w *Worker, codecs []config.MediaCodec) (*Router, error) {
	if len(codecs) == 0 {
		return nil, ErrNoCodecs
	}
	m := &webrtc.MediaEngine{}
	caps := RtpCapabilities{HeaderExtensions: headerExtensions}
	for _, c := range codecs {
		capability, err := codecCapability(c)
		if err != nil {
			return nil, err
		}
		params := webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    c.MimeType,
				ClockRate:   c.ClockRate,
				Channels:    c.Channels,
				SDPFmtpLine: c.SdpFmtpLine,
			},
			PayloadType: webrtc.PayloadType(c.PayloadType),
		}
		for _, fb := range capability.RtcpFeedback {
			params.RTCPFeedback = append(params.RTCPFeedback, webrtc.RTCPFeedback{Type: fb.Type, Parameter: fb.Parameter})
		}
		if err = m.RegisterCodec(params, codecType(c.Kind)); err != nil {
			return nil, fmt.Errorf("codec %v: %w", c.MimeType, err)
		}
		caps.Codecs = append(caps.Codecs, capability)
	}
	for _, ext := range headerExtensions {
		if err := m.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: ext.Uri}, codecType(ext.Kind)); err != nil {
			return nil, err
		}
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, err
	}

	return &Router{
		id:         uuid.Must(uuid.NewV4()).String(),
		w:          w,
		api:        webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i), webrtc.WithSettingEngine(w.settings)),
		caps:       caps,
		transports: com.NewMap[string, Transport](),
		producers:  com.NewMap[string, *Producer](),
	}, nil
}

func (r *Router) Id() string { return r.id }

func (r *Router) Closed() bool { return r.closed.Load() }

// RtpCapabilities returns the codecs and header extensions the router routes.
func (r *Router) RtpCapabilities() RtpCapabilities { return r.caps }

// Close closes the router with all its transports.
func (r *Router) Close() {
	_ = r.w.exec(func() error { r.close(); return nil })
	// a dead worker has released the router already
	r.close()
}

func (r *Router) close() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}
	for _, t := range r.transports.Values() {
		t.close()
	}
	r.w.removeRouter(r.id)
}

// CreateWebRtcTransport creates an ICE+DTLS transport.
func (r *Router) CreateWebRtcTransport(opts WebRtcTransportOptions) (t *WebRtcTransport, err error) {
	err = r.w.exec(func() error {
		if r.Closed() {
			return ErrClosed
		}
		t, err = newWebRtcTransport(r, opts)
		if err != nil {
			return err
		}
		r.transports.Put(t.id, t)
		return nil
	})
	return
}

// CreatePlainTransport creates a plain RTP transport.
func (r *Router) CreatePlainTransport(opts PlainTransportOptions) (t *PlainTransport, err error) {
	err = r.w.exec(func() error {
		if r.Closed() {
			return ErrClosed
		}
		t, err = newPlainTransport(r, opts)
		if err != nil {
			return err
		}
		r.transports.Put(t.id, t)
		return nil
	})
	return
}

// produce checks the producer parameters against the router capabilities.
func (r *Router) produce(t *transport, opts ProducerOptions) (*Producer, error) {
	if !IsValidKind(opts.Kind) {
		return nil, ErrBadKind
	}
	if len(opts.RtpParameters.Codecs) == 0 {
		return nil, ErrNoCodecs
	}
	for _, c := range opts.RtpParameters.Codecs {
		if !r.supports(opts.Kind, c) {
			return nil, fmt.Errorf("%w: %v/%v", ErrUnsupportedCodec, c.MimeType, c.ClockRate)
		}
	}
	p := newProducer(t, opts)
	r.producers.Put(p.id, p)
	return p, nil
}

func (r *Router) supports(kind string, c RtpCodecParameters) bool {
	for _, cc := range r.caps.Codecs {
		if cc.Kind == kind && sameMime(cc.MimeType, c.MimeType) && cc.ClockRate == c.ClockRate {
			return true
		}
	}
	return false
}

func (r *Router) dump() RouterDump {
	d := RouterDump{Id: r.id}
	for _, t := range r.transports.Values() {
		d.TransportIds = append(d.TransportIds, t.Id())
		if wt, ok := t.(*WebRtcTransport); ok && wt.Connected() {
			if d.States == nil {
				d.States = make(map[string]string)
			}
			ice, dtls := wt.State()
			d.States[wt.Id()] = ice + "/" + dtls
		}
	}
	for _, p := range r.producers.Values() {
		d.ProducerIds = append(d.ProducerIds, p.id)
	}
	return d
}

func codecType(kind string) webrtc.RTPCodecType {
	if kind == KindAudio {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

func codecCapability(c config.MediaCodec) (RtpCodecCapability, error) {
	if !IsValidKind(c.Kind) {
		return RtpCodecCapability{}, fmt.Errorf("codec %v: %w", c.MimeType, ErrBadKind)
	}
	if !strings.HasPrefix(strings.ToLower(c.MimeType), c.Kind+"/") {
		return RtpCodecCapability{}, fmt.Errorf("codec %v: mime type of another kind", c.MimeType)
	}
	capability := RtpCodecCapability{
		Kind:                 c.Kind,
		MimeType:             c.MimeType,
		PreferredPayloadType: c.PayloadType,
		ClockRate:            c.ClockRate,
		Channels:             c.Channels,
		Parameters:           ParseFmtp(c.SdpFmtpLine),
	}
	if c.Kind == KindVideo {
		capability.RtcpFeedback = []RtcpFeedback{
			{Type: "nack"},
			{Type: "nack", Parameter: "pli"},
			{Type: "ccm", Parameter: "fir"},
			{Type: "goog-remb"},
			{Type: "transport-cc"},
		}
	} else {
		capability.RtcpFeedback = []RtcpFeedback{{Type: "transport-cc"}}
	}
	return capability, nil
}

// ParseFmtp converts an SDP fmtp line (a=1;b=x) into a map,
// numeric values are kept as numbers.
func ParseFmtp(line string) map[string]any {
	params := map[string]any{}
	for _, kv := range strings.Split(line, ";") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		k, v, _ := strings.Cut(kv, "=")
		if n, err := strconv.Atoi(v); err == nil {
			params[k] = n
		} else {
			params[k] = v
		}
	}
	return params
}
