package conn

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 64 * 1024
)

// WebsocketTransport dials the room server's websocket endpoint.
type WebsocketTransport struct {
	URL    string
	Header http.Header
	Dialer *websocket.Dialer
}

// NewWebsocketTransport targets joinURL with the room query parameter set.
// A non-empty token is sent as a bearer Authorization header.
func NewWebsocketTransport(joinURL, roomID, token string) (*WebsocketTransport, error) {
	target, err := BuildJoinURL(joinURL, roomID)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return &WebsocketTransport{URL: target, Header: header}, nil
}

func (t *WebsocketTransport) Dial(ctx context.Context) (Link, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, t.URL, t.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", t.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", t.URL, err)
	}
	return newWebsocketLink(ws), nil
}

type websocketLink struct {
	conn      *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
}

func newWebsocketLink(ws *websocket.Conn) *websocketLink {
	l := &websocketLink{conn: ws, done: make(chan struct{})}
	ws.SetReadLimit(maxMsgSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	go l.keepalive()
	return l
}

// Read returns the next text frame; other frame types are skipped.
func (l *websocketLink) Read() ([]byte, error) {
	for {
		messageType, payload, err := l.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType == websocket.TextMessage {
			return payload, nil
		}
	}
}

func (l *websocketLink) Write(frame []byte) error {
	_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return l.conn.WriteMessage(websocket.TextMessage, frame)
}

// Close sends a normal closure frame and releases the socket.
func (l *websocketLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client leaving"),
			time.Now().Add(time.Second))
		err = l.conn.Close()
	})
	return err
}

func (l *websocketLink) keepalive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			if err := l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// BuildJoinURL accepts a ws(s) join URL and sets the room query parameter.
func BuildJoinURL(base, roomID string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", fmt.Errorf("invalid scheme for websocket: %s", parsed.Scheme)
	}
	query := parsed.Query()
	query.Set("room", roomID)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// HTTPBase converts ws(s)://host/join into http(s)://host for API calls.
func HTTPBase(wsURL string) (string, error) {
	parsed, err := url.Parse(wsURL)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "ws":
		parsed.Scheme = "http"
	case "wss":
		parsed.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported scheme %s", parsed.Scheme)
	}
	parsed.Path = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed.String(), nil
}
