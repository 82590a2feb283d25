package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zeusync/blastcore/internal/core/explosion"
	"github.com/zeusync/blastcore/internal/core/observability/log"
)

// AllWorlds is the room that receives the explosions of every world.
const AllWorlds = "*"

const (
	writeWait    = 5 * time.Second
	maxReadBytes = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type client struct {
	id   uuid.UUID
	room string
	conn *websocket.Conn
	send chan []byte
}

// Room holds the clients following one world.
type Room struct {
	clients map[*client]bool
}

type FeedStats struct {
	Clients   int    `json:"clients"`
	Rooms     int    `json:"rooms"`
	Broadcast uint64 `json:"broadcast"`
	Dropped   uint64 `json:"dropped"`
}

// Feed streams explosion reports to websocket clients grouped in rooms by world.
// Broadcast never blocks: a client whose buffer is full is disconnected.
type Feed struct {
	rooms  map[string]*Room
	mu     sync.Mutex
	closed bool

	buffer int
	ping   time.Duration
	logger log.Log

	broadcast atomic.Uint64
	dropped   atomic.Uint64
	writers   sync.WaitGroup
}

func NewFeed(buffer int, ping time.Duration, logger log.Log) *Feed {
	if buffer <= 0 {
		buffer = 1
	}
	if ping <= 0 {
		ping = DefaultServerConfig().PingInterval
	}
	return &Feed{
		rooms:  make(map[string]*Room),
		buffer: buffer,
		ping:   ping,
		logger: log.OrNop(logger).Named("feed"),
	}
}

// Serve upgrades the request and follows room until the client goes away.
func (f *Feed) Serve(w http.ResponseWriter, r *http.Request, room string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("websocket upgrade failed", log.Error(err))
		return
	}

	c := &client{
		id:   uuid.New(),
		room: room,
		conn: conn,
		send: make(chan []byte, f.buffer),
	}
	if !f.join(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	f.logger.Debug("feed client joined", log.Stringer("client", c.id), log.String("room", room))

	go f.writePump(c)
	f.readPump(c)
}

func (f *Feed) join(c *client) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false
	}
	room, exists := f.rooms[c.room]
	if !exists {
		room = &Room{clients: make(map[*client]bool)}
		f.rooms[c.room] = room
	}
	room.clients[c] = true
	f.writers.Add(1)
	return true
}

// leave must be called with f.mu held.
func (f *Feed) leave(c *client) {
	room, exists := f.rooms[c.room]
	if !exists || !room.clients[c] {
		return
	}
	delete(room.clients, c)
	close(c.send)
	if len(room.clients) == 0 {
		delete(f.rooms, c.room)
	}
}

// readPump discards inbound messages. It exists to notice closed connections
// and to answer pongs.
func (f *Feed) readPump(c *client) {
	defer func() {
		f.mu.Lock()
		f.leave(c)
		f.mu.Unlock()
		_ = c.conn.Close()
		f.logger.Debug("feed client left", log.Stringer("client", c.id))
	}()

	c.conn.SetReadLimit(maxReadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * f.ping))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * f.ping))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *Feed) writePump(c *client) {
	ticker := time.NewTicker(f.ping)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		f.writers.Done()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcast sends rep to AllWorlds and to the room of its world.
func (f *Feed) Broadcast(rep explosion.Report) {
	data, err := json.Marshal(rep)
	if err != nil {
		f.logger.Error("encode report", log.Error(err))
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	names := []string{AllWorlds}
	if rep.World != AllWorlds {
		names = append(names, rep.World)
	}

	f.broadcast.Add(1)
	for _, name := range names {
		room, exists := f.rooms[name]
		if !exists {
			continue
		}
		for c := range room.clients {
			select {
			case c.send <- data:
			default:
				f.dropped.Add(1)
				f.logger.Warn("dropping slow feed client", log.Stringer("client", c.id))
				f.leave(c)
			}
		}
	}
}

// Close disconnects every client and refuses new ones.
func (f *Feed) Close() {
	f.mu.Lock()
	f.closed = true
	for _, room := range f.rooms {
		for c := range room.clients {
			f.leave(c)
		}
	}
	f.mu.Unlock()

	f.writers.Wait()
}

func (f *Feed) Stats() FeedStats {
	f.mu.Lock()
	defer f.mu.Unlock()

	clients := 0
	for _, room := range f.rooms {
		clients += len(room.clients)
	}
	return FeedStats{
		Clients:   clients,
		Rooms:     len(f.rooms),
		Broadcast: f.broadcast.Load(),
		Dropped:   f.dropped.Load(),
	}
}
