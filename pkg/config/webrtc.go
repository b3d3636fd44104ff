package config

type Room struct {
	MediaCodecs    []MediaCodec
	IceServers     []IceServer
	PlainTransport struct {
		ListenIp    string `default:"127.0.0.1"`
		AnnouncedIp string
	}
	WebRtcTransport struct {
		MaxSctpMessageSize uint32 `default:"262144"`
	}
}

// MediaCodec describes one codec the rooms will route.
type MediaCodec struct {
	Kind        string
	MimeType    string
	ClockRate   uint32
	Channels    uint16
	SdpFmtpLine string
	PayloadType uint8
}

type IceServer struct {
	Urls       string `json:"urls,omitempty"`
	Username   string `json:"username,omitempty"`
	Credential string `json:"credential,omitempty"`
}
