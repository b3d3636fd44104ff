package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/giongto35/rtc-gateway/pkg/config"
	"github.com/giongto35/rtc-gateway/pkg/worker"
	gorilla "github.com/gorilla/websocket"
)

var testRoomConf = config.Room{
	MediaCodecs: []config.MediaCodec{
		{Kind: "audio", MimeType: "audio/opus", ClockRate: 48000, Channels: 2, PayloadType: 111},
		{Kind: "video", MimeType: "video/VP8", ClockRate: 90000, PayloadType: 96},
	},
}

// newTestGateway assembles the gateway without its HTTP server.
func newTestGateway(t *testing.T, factory RoomFactory, workers ...Worker) *Gateway {
	queue := newTestQueue(t)
	pool := NewPool(workers...)
	g := &Gateway{pool: pool, queue: queue, sup: NewSupervisor(testLog), log: testLog}
	g.registry = NewRegistry(pool, factory, queue, g.sup, testLog)
	g.handler = g.routes()
	t.Cleanup(g.registry.CloseAll)
	return g
}

func newMediaWorker(t *testing.T) *worker.Worker {
	t.Helper()
	w, err := worker.New(0, config.Worker{LogLevel: "error", IoMode: config.IoModeSerial}, testLog)
	if err != nil {
		t.Fatalf("worker: %v", err)
	}
	t.Cleanup(w.Close)
	return w
}

func wsUrl(s *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/?" + query
}

func TestGatewayStart(t *testing.T) {
	var conf config.Config
	conf.Gateway.Server.Address = "127.0.0.1:0"
	f := &fakeFactory{}
	g, err := New(conf, NewPool(newFakeWorker(0)), f.New, testLog)
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	g.Start()

	res, err := http.Get("http://" + g.server.ListenAddr() + "/rooms/R1")
	if err != nil {
		t.Fatal(err)
	}
	_ = res.Body.Close()
	if res.StatusCode != http.StatusOK || f.created.Load() != 1 {
		t.Errorf("room was not served, code: %v, rooms: %v", res.StatusCode, f.created.Load())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := g.Shutdown(ctx); err != nil {
		t.Errorf("shutdown: %v", err)
	}
	if g.Registry().Len() != 0 {
		t.Errorf("rooms left after the shutdown")
	}
}

func TestSignalingParams(t *testing.T) {
	f := &fakeFactory{peers: make(chan string, 1)}
	g := newTestGateway(t, f.New, newFakeWorker(0))
	s := httptest.NewServer(g.Handler())
	defer s.Close()

	tests := []struct {
		query string
		code  int
	}{
		{query: "", code: http.StatusBadRequest},
		{query: "roomId=R1", code: http.StatusBadRequest},
		{query: "peerId=p1", code: http.StatusBadRequest},
		{query: "roomId=&peerId=p1", code: http.StatusBadRequest},
	}
	for _, test := range tests {
		t.Run(test.query, func(t *testing.T) {
			_, resp, err := gorilla.DefaultDialer.Dial(wsUrl(s, test.query), nil)
			if err == nil {
				t.Fatalf("connection was accepted")
			}
			if resp == nil || resp.StatusCode != test.code {
				t.Errorf("expected %v, got %v", test.code, resp)
			}
		})
	}
	if g.Registry().Len() != 0 {
		t.Errorf("rooms were created on bad requests")
	}
}

func TestSignalingRoomFailure(t *testing.T) {
	f := &fakeFactory{fail: true}
	g := newTestGateway(t, f.New, newFakeWorker(0))
	s := httptest.NewServer(g.Handler())
	defer s.Close()

	conn, resp, err := gorilla.DefaultDialer.Dial(wsUrl(s, "roomId=R1&peerId=p1"), nil)
	if err == nil {
		_ = conn.Close()
		t.Fatalf("connection was upgraded")
	}
	if resp == nil || resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %v", resp)
	}
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "no room") {
		t.Errorf("no creation error in %q", b)
	}
	if g.Registry().Len() != 0 {
		t.Errorf("failed room was registered")
	}
}

func TestSignalingReplicas(t *testing.T) {
	f := &fakeFactory{peers: make(chan string, 1)}
	g := newTestGateway(t, f.New, newFakeWorker(0))
	s := httptest.NewServer(g.Handler())
	defer s.Close()

	tests := []struct {
		room     string
		replicas string
		want     int
	}{
		{room: "R1", replicas: "abc", want: 0},
		{room: "R2", replicas: "-3", want: 0},
		{room: "R3", replicas: "", want: 0},
		{room: "R4", replicas: "3", want: 3},
	}
	for _, test := range tests {
		t.Run(test.room, func(t *testing.T) {
			conn, _, err := gorilla.DefaultDialer.Dial(wsUrl(s, "peerId=p1&roomId="+test.room+"&consumerReplicas="+test.replicas), nil)
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			defer func() { _ = conn.Close() }()
			select {
			case <-f.peers:
			case <-time.After(time.Second):
				t.Fatalf("peer was not handed to the room")
			}
			r, err := g.Registry().Find(test.room)
			if err != nil {
				t.Fatal(err)
			}
			if got := r.(*fakeRoom).replicas; got != test.want {
				t.Errorf("expected %v replicas, got %v", test.want, got)
			}
		})
	}
}

func TestSignalingClosedRoom(t *testing.T) {
	f := &fakeFactory{peers: make(chan string, 1), closeFirst: true}
	g := newTestGateway(t, f.New, newFakeWorker(0))
	s := httptest.NewServer(g.Handler())
	defer s.Close()

	conn, _, err := gorilla.DefaultDialer.Dial(wsUrl(s, "roomId=R1&peerId=p1"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()
	select {
	case <-f.peers:
	case <-time.After(time.Second):
		t.Fatalf("peer was not handed to a room")
	}

	if f.created.Load() != 2 {
		t.Errorf("expected a new room, created %v", f.created.Load())
	}
	r, err := g.Registry().Find("R1")
	if err != nil {
		t.Fatal(err)
	}
	if r.Closed() {
		t.Errorf("peer was handed to the closed room")
	}
}

func TestSignalingSameRoom(t *testing.T) {
	f := &fakeFactory{peers: make(chan string, 2)}
	g := newTestGateway(t, f.New, newFakeWorker(0), newFakeWorker(1))
	s := httptest.NewServer(g.Handler())
	defer s.Close()

	for _, peer := range []string{"p1", "p2"} {
		conn, _, err := gorilla.DefaultDialer.Dial(wsUrl(s, "roomId=R1&consumerReplicas=2&peerId="+peer), nil)
		if err != nil {
			t.Fatalf("dial %v: %v", peer, err)
		}
		defer func() { _ = conn.Close() }()
		select {
		case got := <-f.peers:
			if got != peer {
				t.Errorf("expected peer %v, got %v", peer, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("peer %v was not handed to the room", peer)
		}
	}

	if f.created.Load() != 1 {
		t.Errorf("expected one room, got %v", f.created.Load())
	}
	r, err := g.Registry().Find("R1")
	if err != nil {
		t.Fatal(err)
	}
	if fr := r.(*fakeRoom); fr.replicas != 2 || fr.w.Pid() != 0 {
		t.Errorf("wrong room params, replicas: %v, worker: %v", fr.replicas, fr.w.Pid())
	}
}

func TestDraining(t *testing.T) {
	f := &fakeFactory{peers: make(chan string, 1)}
	g := newTestGateway(t, f.New, newFakeWorker(0))
	s := httptest.NewServer(g.Handler())
	defer s.Close()

	g.sup.Drain(errors.New("worker died"))

	_, resp, err := gorilla.DefaultDialer.Dial(wsUrl(s, "roomId=R1&peerId=p1"), nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 on signaling, got %v", resp)
	}

	res, err := http.Get(s.URL + "/rooms/R1")
	if err != nil {
		t.Fatal(err)
	}
	_ = res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 on the api, got %v", res.StatusCode)
	}
	if f.created.Load() != 0 {
		t.Errorf("room was created while draining")
	}
}

func TestBroadcasterApi(t *testing.T) {
	g := newTestGateway(t, NewRoomFactory(testRoomConf, testLog), newMediaWorker(t))
	s := httptest.NewServer(g.Handler())
	defer s.Close()

	call := func(method, path, body string) (int, string) {
		t.Helper()
		req, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Content-Type", "application/json")
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = res.Body.Close() }()
		b, _ := io.ReadAll(res.Body)
		return res.StatusCode, string(b)
	}

	caps := `{"codecs":[{"kind":"video","mimeType":"video/VP8","clockRate":90000}]}`
	broadcaster := `{"id":"b1","displayName":"bot","device":{"name":"ffmpeg"},"rtpCapabilities":` + caps + `}`

	steps := []struct {
		name   string
		method string
		path   string
		body   string
		code   int
		has    string
	}{
		{name: "lazy room", method: http.MethodGet, path: "/rooms/R1", code: 200, has: "codecs"},
		{name: "missing id", method: http.MethodPost, path: "/rooms/R1/broadcasters", body: `{"displayName":"bot"}`, code: 400},
		{name: "bad json", method: http.MethodPost, path: "/rooms/R1/broadcasters", body: `{"id":`, code: 400},
		{name: "create", method: http.MethodPost, path: "/rooms/R1/broadcasters", body: broadcaster, code: 200, has: "peers"},
		{name: "duplicate", method: http.MethodPost, path: "/rooms/R1/broadcasters", body: broadcaster, code: 500},
		{name: "bad transport type", method: http.MethodPost, path: "/rooms/R1/broadcasters/b1/transports", body: `{"type":"quic"}`, code: 400},
		{name: "unknown broadcaster", method: http.MethodPost, path: "/rooms/R1/broadcasters/b2/transports", body: `{"type":"plain"}`, code: 500},
		{name: "delete", method: http.MethodDelete, path: "/rooms/R1/broadcasters/b1", code: 200, has: "broadcaster deleted"},
	}
	for _, step := range steps {
		code, body := call(step.method, step.path, step.body)
		if code != step.code {
			t.Fatalf("%v: expected %v, got %v %v", step.name, step.code, code, body)
		}
		if step.has != "" && !strings.Contains(body, step.has) {
			t.Errorf("%v: unexpected response %v", step.name, body)
		}
	}

	// the last broadcaster has left
	if g.Registry().Len() != 0 {
		t.Errorf("empty room was not evicted")
	}
}

func TestBroadcasterPlainFlow(t *testing.T) {
	g := newTestGateway(t, NewRoomFactory(testRoomConf, testLog), newMediaWorker(t))
	s := httptest.NewServer(g.Handler())
	defer s.Close()

	post := func(path, body string) (int, string) {
		t.Helper()
		res, err := http.Post(s.URL+path, "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = res.Body.Close() }()
		b, _ := io.ReadAll(res.Body)
		return res.StatusCode, string(b)
	}

	caps := `{"codecs":[{"kind":"video","mimeType":"video/VP8","clockRate":90000}]}`
	if code, body := post("/rooms/R2/broadcasters", `{"id":"b1","displayName":"bot","rtpCapabilities":`+caps+`}`); code != 200 {
		t.Fatalf("broadcaster: %v %v", code, body)
	}
	code, body := post("/rooms/R2/broadcasters/b1/transports", `{"type":"plain","comedia":false,"rtcpMux":true}`)
	if code != 200 {
		t.Fatalf("transport: %v %v", code, body)
	}
	tid := between(body, `"id":"`, `"`)
	if tid == "" {
		t.Fatalf("no transport id in %v", body)
	}

	if code, body := post("/rooms/R2/broadcasters/b1/transports/"+tid+"/connect", `{}`); code != 500 {
		t.Errorf("webrtc connect of a plain transport: expected 500, got %v %v", code, body)
	}
	if code, body := post("/rooms/R2/broadcasters/b1/transports/"+tid+"/plain/connect", `{"ip":"127.0.0.1","port":0}`); code != 400 {
		t.Errorf("bad tuple: expected 400, got %v %v", code, body)
	}
	if code, body := post("/rooms/R2/broadcasters/b1/transports/"+tid+"/plain/connect", `{"ip":"127.0.0.1","port":5004}`); code != 200 {
		t.Errorf("connect: %v %v", code, body)
	}

	producer := `{"kind":"video","rtpParameters":{"codecs":[{"mimeType":"video/VP8","payloadType":96,"clockRate":90000}]}}`
	if code, body := post("/rooms/R2/broadcasters/b1/transports/"+tid+"/producers", producer); code != 200 || !strings.Contains(body, `"id"`) {
		t.Errorf("producer: %v %v", code, body)
	}
	if code, body := post("/rooms/R2/broadcasters/b1/transports/"+tid+"/producers", `{"kind":"text"}`); code != 400 {
		t.Errorf("bad kind: expected 400, got %v %v", code, body)
	}
}

func TestBroadcasterWebRtcConnect(t *testing.T) {
	g := newTestGateway(t, NewRoomFactory(testRoomConf, testLog), newMediaWorker(t))
	s := httptest.NewServer(g.Handler())
	defer s.Close()

	post := func(path, body string) (int, string) {
		t.Helper()
		res, err := http.Post(s.URL+path, "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = res.Body.Close() }()
		b, _ := io.ReadAll(res.Body)
		return res.StatusCode, string(b)
	}

	caps := `{"codecs":[{"kind":"video","mimeType":"video/VP8","clockRate":90000}]}`
	if code, body := post("/rooms/R3/broadcasters", `{"id":"b1","displayName":"bot","rtpCapabilities":`+caps+`}`); code != 200 {
		t.Fatalf("broadcaster: %v %v", code, body)
	}
	code, body := post("/rooms/R3/broadcasters/b1/transports", `{"type":"webrtc"}`)
	if code != 200 || !strings.Contains(body, "iceParameters") {
		t.Fatalf("transport: %v %v", code, body)
	}
	tid := between(body, `"id":"`, `"`)
	if tid == "" {
		t.Fatalf("no transport id in %v", body)
	}

	dtls := `"dtlsParameters":{"role":"client","fingerprints":[{"algorithm":"sha-256","value":"AA"}]}`
	ice := `"iceParameters":{"usernameFragment":"bot","password":"secretsecretsecretsecret"}`
	steps := []struct {
		name string
		body string
		code int
	}{
		{name: "no ice", body: `{` + dtls + `}`, code: 400},
		{name: "no dtls", body: `{` + ice + `}`, code: 400},
		{name: "bad candidate", body: `{` + dtls + `,` + ice + `,"iceCandidates":[{"protocol":"sctp","port":1}]}`, code: 400},
		{name: "connect", body: `{` + dtls + `,` + ice + `}`, code: 200},
		{name: "again", body: `{` + dtls + `,` + ice + `}`, code: 500},
	}
	for _, step := range steps {
		if code, body := post("/rooms/R3/broadcasters/b1/transports/"+tid+"/connect", step.body); code != step.code {
			t.Errorf("%v: expected %v, got %v %v", step.name, step.code, code, body)
		}
	}
}

func between(s, from, to string) string {
	i := strings.Index(s, from)
	if i < 0 {
		return ""
	}
	s = s[i+len(from):]
	j := strings.Index(s, to)
	if j < 0 {
		return ""
	}
	return s[:j]
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{err: ErrDraining, code: 503},
		{err: badRequest{errors.New("eof")}, code: 400},
		{err: errors.New("any"), code: 500},
	}
	for _, test := range tests {
		if code := statusOf(test.err); code != test.code {
			t.Errorf("%v: expected %v, got %v", test.err, test.code, code)
		}
	}
}
