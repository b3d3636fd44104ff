package room

import (
	"github.com/giongto35/rtc-gateway/pkg/config"
	"github.com/giongto35/rtc-gateway/pkg/worker"
	"github.com/goccy/go-json"
)

// Message is a signaling message, one of request, response or notification.
type Message struct {
	Request      bool            `json:"request,omitempty"`
	Response     bool            `json:"response,omitempty"`
	Notification bool            `json:"notification,omitempty"`
	Id           uint32          `json:"id,omitempty"`
	Method       string          `json:"method,omitempty"`
	Ok           bool            `json:"ok,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    int             `json:"errorCode,omitempty"`
	ErrorReason  string          `json:"errorReason,omitempty"`
}

const (
	MethodGetRouterRtpCapabilities = "getRouterRtpCapabilities"
	MethodJoin                     = "join"
	MethodCreateWebRtcTransport    = "createWebRtcTransport"
	MethodConnectWebRtcTransport   = "connectWebRtcTransport"
	MethodProduce                  = "produce"
	MethodCloseProducer            = "closeProducer"
	MethodPauseProducer            = "pauseProducer"
	MethodResumeProducer           = "resumeProducer"
	MethodGetRoomInfo              = "getRoomInfo"

	NotifyNewPeer     = "newPeer"
	NotifyPeerClosed  = "peerClosed"
	NotifyNewProducer = "newProducer"
)

func response(id uint32, data any, err error) Message {
	m := Message{Response: true, Id: id}
	if err != nil {
		m.ErrorCode = 500
		if IsTypeError(err) {
			m.ErrorCode = 400
		}
		m.ErrorReason = err.Error()
		return m
	}
	m.Ok = true
	if data != nil {
		m.Data, _ = json.Marshal(data)
	}
	return m
}

func notification(method string, data any) Message {
	m := Message{Notification: true, Method: method}
	m.Data, _ = json.Marshal(data)
	return m
}

type Device struct {
	Flag    string `json:"flag,omitempty"`
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

type JoinRequest struct {
	DisplayName      string                   `json:"displayName"`
	Device           Device                   `json:"device"`
	RtpCapabilities  *worker.RtpCapabilities  `json:"rtpCapabilities"`
	SctpCapabilities *worker.SctpCapabilities `json:"sctpCapabilities"`
}

type CreateWebRtcTransportRequest struct {
	ForceTcp         bool                     `json:"forceTcp"`
	Producing        bool                     `json:"producing"`
	Consuming        bool                     `json:"consuming"`
	SctpCapabilities *worker.SctpCapabilities `json:"sctpCapabilities"`
}

type ConnectWebRtcTransportRequest struct {
	TransportId    string                 `json:"transportId"`
	DtlsParameters *worker.DtlsParameters `json:"dtlsParameters"`
	IceParameters  *worker.IceParameters  `json:"iceParameters"`
	IceCandidates  []worker.IceCandidate  `json:"iceCandidates"`
}

// remote checks the shape of the request.
func (r ConnectWebRtcTransportRequest) remote(prefix string) (worker.RemoteParameters, error) {
	switch {
	case r.DtlsParameters == nil:
		return worker.RemoteParameters{}, typeError("missing %vdtlsParameters", prefix)
	case r.IceParameters == nil:
		return worker.RemoteParameters{}, typeError("missing %viceParameters", prefix)
	}
	return worker.RemoteParameters{Dtls: *r.DtlsParameters, Ice: *r.IceParameters, Candidates: r.IceCandidates}, nil
}

type ProduceRequest struct {
	TransportId   string               `json:"transportId"`
	Kind          string               `json:"kind"`
	RtpParameters worker.RtpParameters `json:"rtpParameters"`
	AppData       map[string]any       `json:"appData"`
}

// CloseProducerRequest is also used to pause and resume.
type CloseProducerRequest struct {
	ProducerId string `json:"producerId"`
}

// BroadcasterRequest creates a broadcaster.
type BroadcasterRequest struct {
	Id              string                  `json:"id"`
	DisplayName     string                  `json:"displayName"`
	Device          Device                  `json:"device"`
	RtpCapabilities *worker.RtpCapabilities `json:"rtpCapabilities"`
}

const (
	TransportPlain  = "plain"
	TransportWebRtc = "webrtc"
)

type TransportRequest struct {
	Type             string                   `json:"type"`
	RtcpMux          bool                     `json:"rtcpMux"`
	Comedia          bool                     `json:"comedia"`
	SctpCapabilities *worker.SctpCapabilities `json:"sctpCapabilities"`
}

type PlainConnectRequest struct {
	Ip       string `json:"ip"`
	Port     int    `json:"port"`
	RtcpPort int    `json:"rtcpPort"`
}

type ProducerRequest struct {
	Kind          string               `json:"kind"`
	RtpParameters worker.RtpParameters `json:"rtpParameters"`
	AppData       map[string]any       `json:"appData"`
}

type ProducerInfo struct {
	Id   string `json:"id"`
	Kind string `json:"kind,omitempty"`
}

type PeerInfo struct {
	Id          string         `json:"id"`
	DisplayName string         `json:"displayName"`
	Device      Device         `json:"device"`
	Producers   []ProducerInfo `json:"producers,omitempty"`
}

type BroadcasterInfo struct {
	Peers []PeerInfo `json:"peers"`
}

// TransportInfo describes a created transport,
// the set of fields depends on the transport type.
type TransportInfo struct {
	Id string `json:"id"`

	IceParameters  *worker.IceParameters  `json:"iceParameters,omitempty"`
	IceCandidates  []worker.IceCandidate  `json:"iceCandidates,omitempty"`
	DtlsParameters *worker.DtlsParameters `json:"dtlsParameters,omitempty"`
	SctpParameters *worker.SctpParameters `json:"sctpParameters,omitempty"`
	IceServers     []config.IceServer     `json:"iceServers,omitempty"`

	Ip       string `json:"ip,omitempty"`
	Port     int    `json:"port,omitempty"`
	RtcpPort int    `json:"rtcpPort,omitempty"`
}

type NewProducerNotification struct {
	PeerId        string               `json:"peerId"`
	ProducerId    string               `json:"producerId"`
	Kind          string               `json:"kind"`
	RtpParameters worker.RtpParameters `json:"rtpParameters"`
	AppData       map[string]any       `json:"appData,omitempty"`
	Type          string               `json:"type"`
	Paused        bool                 `json:"producerPaused"`
	Replica       int                  `json:"replica"`
}

func newProducerNotification(owner string, producer *worker.Producer, replica int) NewProducerNotification {
	return NewProducerNotification{
		PeerId:        owner,
		ProducerId:    producer.Id(),
		Kind:          producer.Kind(),
		RtpParameters: producer.RtpParameters(),
		AppData:       producer.AppData,
		Type:          producer.Type(),
		Paused:        producer.Paused(),
		Replica:       replica,
	}
}

type RoomInfo struct {
	RoomId       string     `json:"roomId"`
	Pid          int        `json:"pid"`
	Replicas     int        `json:"consumerReplicas"`
	Peers        []PeerInfo `json:"peers"`
	Broadcasters []PeerInfo `json:"broadcasters"`
}

func webRtcTransportInfo(t *worker.WebRtcTransport, iceServers []config.IceServer) *TransportInfo {
	ice, dtls := t.IceParameters(), t.DtlsParameters()
	return &TransportInfo{
		Id:             t.Id(),
		IceParameters:  &ice,
		IceCandidates:  t.IceCandidates(),
		DtlsParameters: &dtls,
		SctpParameters: t.SctpParameters(),
		IceServers:     iceServers,
	}
}

func plainTransportInfo(t *worker.PlainTransport) *TransportInfo {
	tuple := t.Tuple()
	info := TransportInfo{Id: t.Id(), Ip: tuple.LocalIp, Port: tuple.LocalPort}
	if rtcp := t.RtcpTuple(); rtcp != nil {
		info.RtcpPort = rtcp.LocalPort
	}
	return &info
}
