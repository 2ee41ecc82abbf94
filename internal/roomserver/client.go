package roomserver

import (
	"log"
	"time"

	"github.com/gorilla/websocket"

	"studyroom/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 8192
	sendBuffer = 256
)

// Client is one websocket connection attached to a room.
type Client struct {
	room       *Room
	conn       *websocket.Conn
	send       chan []byte
	verifiedID string
	remoteAddr string
	metrics    *Metrics
	// participant is set while joined; owned by the room goroutine.
	participant *protocol.ParticipantRecord
}

func newClient(conn *websocket.Conn, verifiedID, remoteAddr string, metrics *Metrics) *Client {
	return &Client{
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		verifiedID: verifiedID,
		remoteAddr: remoteAddr,
		metrics:    metrics,
	}
}

func (client *Client) readPump(roomKey string) {
	defer func() {
		client.room.detach(client)
		client.conn.Close()
		client.metrics.DecConn()
	}()
	client.conn.SetReadLimit(maxMsgSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			// read error ends the loop so the deferred cleanup can fire.
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("room %s: read error from %s: %v", roomKey, client.remoteAddr, err)
			}
			break
		}
		request, err := protocol.DecodeRequest(payload)
		if err != nil {
			client.metrics.IncDropped()
			log.Printf("room %s: dropping frame from %s: %v", roomKey, client.remoteAddr, err)
			continue
		}
		if target := requestRoom(request); target != "" && target != roomKey {
			client.metrics.IncDropped()
			log.Printf("room %s: dropping frame for room %s: %v", roomKey, target, protocol.ErrMismatch)
			continue
		}
		client.room.submit(client, request)
	}
}

func (client *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()
	for {
		select {
		case message, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func requestRoom(request any) string {
	switch req := request.(type) {
	case protocol.JoinRequest:
		return req.RoomID
	case protocol.LeaveRequest:
		return req.RoomID
	case protocol.SendRequest:
		return req.RoomID
	}
	return ""
}
