package roomserver

import (
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"studyroom/internal/protocol"
)

type inbound struct {
	client  *Client
	request any
}

// Room fans events out to its clients. Membership and roster changes are
// only made on the run goroutine.
type Room struct {
	key     string
	metrics *Metrics
	limiter *RateLimiter
	onEmpty func()
	now     func() time.Time

	mutex      sync.RWMutex
	clients    map[*Client]bool
	joined     []*Client
	online     atomic.Int32
	unregister chan *Client
	inbound    chan inbound
	quit       chan struct{}
	stopOnce   sync.Once
}

func newRoom(key string, metrics *Metrics, limiter *RateLimiter) *Room {
	return &Room{
		key:        key,
		metrics:    metrics,
		limiter:    limiter,
		now:        time.Now,
		clients:    make(map[*Client]bool),
		unregister: make(chan *Client),
		inbound:    make(chan inbound, 256),
		quit:       make(chan struct{}),
	}
}

func (room *Room) size() int {
	room.mutex.RLock()
	defer room.mutex.RUnlock()
	return len(room.clients)
}

func (room *Room) occupancy() int {
	return int(room.online.Load())
}

func (room *Room) add(client *Client) {
	room.mutex.Lock()
	room.clients[client] = true
	room.mutex.Unlock()
}

func (room *Room) stop() {
	room.stopOnce.Do(func() { close(room.quit) })
}

// submit hands a decoded request to the run goroutine. It gives up once the
// room stopped.
func (room *Room) submit(client *Client, request any) {
	select {
	case room.inbound <- inbound{client: client, request: request}:
	case <-room.quit:
	}
}

func (room *Room) detach(client *Client) {
	select {
	case room.unregister <- client:
	case <-room.quit:
	}
}

func (room *Room) run() {
	for {
		select {
		case <-room.quit:
			return
		case client := <-room.unregister:
			room.remove(client)
		case in := <-room.inbound:
			room.handle(in)
		}
	}
}

func (room *Room) handle(in inbound) {
	room.mutex.RLock()
	attached := room.clients[in.client]
	room.mutex.RUnlock()
	if !attached {
		return
	}
	switch req := in.request.(type) {
	case protocol.JoinRequest:
		room.join(in.client, req)
	case protocol.LeaveRequest:
		if in.client.participant != nil {
			room.depart(in.client)
		}
	case protocol.SendRequest:
		room.message(in.client, req)
	}
}

// remove drops client from the room, announcing its departure when it had
// joined, and closes its send queue so the write pump exits.
func (room *Room) remove(client *Client) {
	room.mutex.Lock()
	if !room.clients[client] {
		room.mutex.Unlock()
		return
	}
	delete(room.clients, client)
	empty := len(room.clients) == 0
	room.mutex.Unlock()

	if client.participant != nil {
		room.depart(client)
	}
	close(client.send)
	if empty && room.onEmpty != nil {
		room.onEmpty()
	}
}

func (room *Room) join(client *Client, req protocol.JoinRequest) {
	userID := client.verifiedID
	if userID == "" {
		userID = strings.TrimSpace(req.UserID)
	}
	if userID == "" {
		room.drop(client, "join without user id")
		return
	}
	if client.participant != nil {
		// repeated join on the same connection only refreshes the roster
		room.deliver([]*Client{client}, room.rosterFrame())
		return
	}
	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		name = userID
	}
	present := room.hasUser(userID)
	client.participant = &protocol.ParticipantRecord{
		UserID:      userID,
		DisplayName: name,
		OnlineSince: protocol.Millis(room.now()),
	}
	others := room.members(client)
	room.joined = append(room.joined, client)
	room.metrics.IncJoin()
	log.Printf("room %s: %s joined", room.key, userID)

	if !present {
		if frame, err := protocol.Encode(protocol.TypeJoined, protocol.Joined{RoomID: room.key, Participant: *client.participant}); err == nil {
			room.deliver(others, frame)
		}
	}
	room.deliver(room.members(nil), room.rosterFrame())
}

// depart removes a joined client. Other connections of the same user keep
// the user in the roster.
func (room *Room) depart(client *Client) {
	for i, member := range room.joined {
		if member == client {
			room.joined = append(room.joined[:i], room.joined[i+1:]...)
			break
		}
	}
	participant := client.participant
	client.participant = nil
	log.Printf("room %s: %s left", room.key, participant.UserID)

	if !room.hasUser(participant.UserID) {
		if frame, err := protocol.Encode(protocol.TypeLeft, protocol.Left{RoomID: room.key, UserID: participant.UserID}); err == nil {
			room.deliver(room.members(nil), frame)
		}
	}
	// recomputed: the fan-out above may have removed slow clients
	room.deliver(room.members(nil), room.rosterFrame())
}

func (room *Room) message(client *Client, req protocol.SendRequest) {
	sender := client.participant
	if sender == nil {
		room.drop(client, "message before join")
		return
	}
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return
	}
	if room.limiter != nil && !room.limiter.Allow(sender.UserID) {
		room.metrics.IncRateLimited()
		log.Printf("room %s: rate limited %s", room.key, sender.UserID)
		return
	}
	record := protocol.MessageRecord{
		ID:          uuid.NewString(),
		RoomID:      room.key,
		SenderID:    sender.UserID,
		DisplayName: sender.DisplayName,
		Body:        body,
		ClientMsgID: req.ClientMsgID,
		SentAt:      protocol.Millis(room.now()),
	}
	frame, err := protocol.Encode(protocol.TypeMessage, record)
	if err != nil {
		return
	}
	room.metrics.IncMessage()
	room.deliver(room.members(nil), frame)
}

func (room *Room) drop(client *Client, reason string) {
	room.metrics.IncDropped()
	log.Printf("room %s: dropping request from %s: %s", room.key, client.remoteAddr, reason)
}

// deliver queues frame for each target. Clients that cannot keep up are
// removed once the fan-out is done.
func (room *Room) deliver(targets []*Client, frame []byte) {
	var slow []*Client
	for _, client := range targets {
		select {
		case client.send <- frame:
		default:
			slow = append(slow, client)
		}
	}
	for _, client := range slow {
		log.Printf("room %s: dropping slow client %s", room.key, client.remoteAddr)
		room.remove(client)
	}
}

// members returns joined clients except skip.
func (room *Room) members(skip *Client) []*Client {
	out := make([]*Client, 0, len(room.joined))
	for _, client := range room.joined {
		if client != skip {
			out = append(out, client)
		}
	}
	return out
}

func (room *Room) hasUser(userID string) bool {
	for _, client := range room.joined {
		if client.participant != nil && client.participant.UserID == userID {
			return true
		}
	}
	return false
}

// roster lists distinct users in join order.
func (room *Room) roster() []protocol.ParticipantRecord {
	seen := make(map[string]bool, len(room.joined))
	out := make([]protocol.ParticipantRecord, 0, len(room.joined))
	for _, client := range room.joined {
		p := client.participant
		if p == nil || seen[p.UserID] {
			continue
		}
		seen[p.UserID] = true
		out = append(out, *p)
	}
	return out
}

func (room *Room) rosterFrame() []byte {
	participants := room.roster()
	room.online.Store(int32(len(participants)))
	frame, err := protocol.Encode(protocol.TypeRoster, protocol.Roster{RoomID: room.key, Participants: participants})
	if err != nil {
		return nil
	}
	return frame
}
