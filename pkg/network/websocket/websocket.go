package websocket

import (
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/giongto35/rtc-gateway/pkg/com"
	"github.com/giongto35/rtc-gateway/pkg/logger"
	"github.com/gorilla/websocket"
)

const (
	maxMessageSize = 64 * 1024
	pingTime       = pongTime * 9 / 10
	pongTime       = 60 * time.Second
	writeWait      = 10 * time.Second
	sendQueue      = 32
)

var ErrClosed = errors.New("connection closed")

type Upgrader struct {
	websocket.Upgrader
}

var DefaultUpgrader = Upgrader{
	Upgrader: websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		WriteBufferPool: &sync.Pool{},
	},
}

// NewUpgrader creates an upgrader that accepts only the given origin,
// an empty origin value accepts any.
func NewUpgrader(origin string) *Upgrader {
	u := DefaultUpgrader
	if origin == "" {
		u.CheckOrigin = func(*http.Request) bool { return true }
	} else {
		u.CheckOrigin = func(r *http.Request) bool { return r.Header.Get("Origin") == origin }
	}
	return &u
}

// WS is a duplex message transport over one websocket connection.
// All reads happen in one reader goroutine, all writes in one writer goroutine.
type WS struct {
	id   com.Uid
	conn *websocket.Conn

	send      chan []byte
	onMessage func(message []byte)

	pingPong bool

	once sync.Once
	done chan struct{}
	log  *logger.Logger
}

// Upgrade converts the HTTP request into a server-side transport.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request, log *logger.Logger) (*WS, error) {
	conn, err := u.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newSocket(conn, true, log), nil
}

// NewClient dials a websocket server.
func NewClient(address url.URL, log *logger.Logger) (*WS, error) {
	conn, _, err := websocket.DefaultDialer.Dial(address.String(), nil)
	if err != nil {
		return nil, err
	}
	return newSocket(conn, false, log), nil
}

func newSocket(conn *websocket.Conn, pingPong bool, log *logger.Logger) *WS {
	if log == nil {
		log = logger.Default()
	}
	id := com.NewUid()
	return &WS{
		id:       id,
		conn:     conn,
		send:     make(chan []byte, sendQueue),
		pingPong: pingPong,
		done:     make(chan struct{}),
		log:      log.Extend(log.With().Str("cid", id.Short())),
	}
}

func (ws *WS) Id() com.Uid { return ws.id }

// SetMessageHandler must be called before Listen.
func (ws *WS) SetMessageHandler(fn func(message []byte)) { ws.onMessage = fn }

// Listen starts the read and write pumps.
// The returned channel is closed when the connection is gone.
func (ws *WS) Listen() <-chan struct{} {
	go ws.reader()
	go ws.writer()
	return ws.done
}

func (ws *WS) Done() <-chan struct{} { return ws.done }

// Write queues the message for sending.
func (ws *WS) Write(data []byte) error {
	select {
	case <-ws.done:
		return ErrClosed
	default:
	}
	select {
	case ws.send <- data:
		return nil
	case <-ws.done:
		return ErrClosed
	}
}

// Close sends the close frame and tears the connection down.
func (ws *WS) Close() {
	ws.once.Do(func() {
		_ = ws.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		close(ws.done)
		_ = ws.conn.Close()
		ws.log.Debug().Msg("Close")
	})
}

// reader pumps messages from the websocket connection to the message handler.
func (ws *WS) reader() {
	defer func() {
		ws.Close()
	}()
	ws.conn.SetReadLimit(maxMessageSize)
	if ws.pingPong {
		_ = ws.conn.SetReadDeadline(time.Now().Add(pongTime))
		ws.conn.SetPongHandler(func(string) error { return ws.conn.SetReadDeadline(time.Now().Add(pongTime)) })
	}
	for {
		_, message, err := ws.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.log.Warn().Err(err).Msg("read")
			}
			return
		}
		if ws.onMessage != nil {
			ws.onMessage(message)
		}
	}
}

// writer pumps messages from the send queue to the websocket connection.
func (ws *WS) writer() {
	ticker := time.NewTicker(pingTime)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()
	for {
		select {
		case message := <-ws.send:
			if err := ws.write(websocket.TextMessage, message); err != nil {
				ws.log.Warn().Err(err).Msg("write")
				return
			}
		case <-ticker.C:
			if !ws.pingPong {
				continue
			}
			if err := ws.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ws.done:
			return
		}
	}
}

func (ws *WS) write(t int, message []byte) error {
	if err := ws.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return ws.conn.WriteMessage(t, message)
}
