package worker

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrClosed           = errors.New("worker closed")
	ErrBadKind          = errors.New("invalid media kind")
	ErrNoCodecs         = errors.New("no codecs")
	ErrUnsupportedCodec = errors.New("unsupported codec")
	ErrBadDtls          = errors.New("invalid dtls parameters")
	ErrBadIce           = errors.New("invalid ice parameters")
	ErrConnected        = errors.New("already connected")
	ErrComedia          = errors.New("connect not allowed with comedia")
	ErrBadTuple         = errors.New("invalid remote address")
)

const (
	KindAudio = "audio"
	KindVideo = "video"
)

func IsValidKind(kind string) bool { return kind == KindAudio || kind == KindVideo }

type RtcpFeedback struct {
	Type      string `json:"type"`
	Parameter string `json:"parameter,omitempty"`
}

type RtpCodecCapability struct {
	Kind                 string         `json:"kind"`
	MimeType             string         `json:"mimeType"`
	PreferredPayloadType uint8          `json:"preferredPayloadType"`
	ClockRate            uint32         `json:"clockRate"`
	Channels             uint16         `json:"channels,omitempty"`
	Parameters           map[string]any `json:"parameters"`
	RtcpFeedback         []RtcpFeedback `json:"rtcpFeedback"`
}

type RtpHeaderExtension struct {
	Kind        string `json:"kind"`
	Uri         string `json:"uri"`
	PreferredId int    `json:"preferredId"`
	Direction   string `json:"direction"`
}

type RtpCapabilities struct {
	Codecs           []RtpCodecCapability `json:"codecs"`
	HeaderExtensions []RtpHeaderExtension `json:"headerExtensions"`
}

type RtpCodecParameters struct {
	MimeType     string         `json:"mimeType"`
	PayloadType  uint8          `json:"payloadType"`
	ClockRate    uint32         `json:"clockRate"`
	Channels     uint16         `json:"channels,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	RtcpFeedback []RtcpFeedback `json:"rtcpFeedback,omitempty"`
}

type RtpHeaderExtensionParameters struct {
	Uri     string `json:"uri"`
	Id      int    `json:"id"`
	Encrypt bool   `json:"encrypt,omitempty"`
}

type RtpEncodingParameters struct {
	Ssrc       uint32 `json:"ssrc,omitempty"`
	Rid        string `json:"rid,omitempty"`
	MaxBitrate uint32 `json:"maxBitrate,omitempty"`
}

type RtcpParameters struct {
	Cname       string `json:"cname,omitempty"`
	ReducedSize bool   `json:"reducedSize"`
}

type RtpParameters struct {
	Mid              string                         `json:"mid,omitempty"`
	Codecs           []RtpCodecParameters           `json:"codecs"`
	HeaderExtensions []RtpHeaderExtensionParameters `json:"headerExtensions,omitempty"`
	Encodings        []RtpEncodingParameters        `json:"encodings,omitempty"`
	Rtcp             RtcpParameters                 `json:"rtcp"`
}

type IceParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	IceLite          bool   `json:"iceLite"`
}

type IceCandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	Ip         string `json:"ip"`
	Address    string `json:"address"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
	TcpType    string `json:"tcpType,omitempty"`
}

type DtlsFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type DtlsParameters struct {
	Role         string            `json:"role,omitempty"`
	Fingerprints []DtlsFingerprint `json:"fingerprints"`
}

// Validate checks the remote side DTLS parameters.
func (p DtlsParameters) Validate() error {
	switch p.Role {
	case "", "auto", "client", "server":
	default:
		return ErrBadDtls
	}
	if len(p.Fingerprints) == 0 {
		return ErrBadDtls
	}
	for _, f := range p.Fingerprints {
		if f.Algorithm == "" || f.Value == "" {
			return ErrBadDtls
		}
	}
	return nil
}

// RemoteParameters are the client side of a WebRTC transport.
type RemoteParameters struct {
	Dtls       DtlsParameters
	Ice        IceParameters
	Candidates []IceCandidate
}

func (p RemoteParameters) Validate() error {
	if err := p.Dtls.Validate(); err != nil {
		return err
	}
	if p.Ice.UsernameFragment == "" || p.Ice.Password == "" {
		return ErrBadIce
	}
	for _, c := range p.Candidates {
		if _, err := c.candidate(); err != nil {
			return fmt.Errorf("%w: %v", ErrBadIce, err)
		}
	}
	return nil
}

type NumSctpStreams struct {
	OS  uint16 `json:"OS"`
	MIS uint16 `json:"MIS"`
}

type SctpCapabilities struct {
	NumStreams NumSctpStreams `json:"numStreams"`
}

type SctpParameters struct {
	Port           uint16 `json:"port"`
	OS             uint16 `json:"OS"`
	MIS            uint16 `json:"MIS"`
	MaxMessageSize uint32 `json:"maxMessageSize"`
}

type TransportTuple struct {
	LocalIp    string `json:"localIp"`
	LocalPort  int    `json:"localPort"`
	RemoteIp   string `json:"remoteIp,omitempty"`
	RemotePort int    `json:"remotePort,omitempty"`
	Protocol   string `json:"protocol"`
}

func sameMime(a, b string) bool { return strings.EqualFold(a, b) }
