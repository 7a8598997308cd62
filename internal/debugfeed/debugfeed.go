// Package debugfeed is an optional, read-only websocket fan-out of every
// trace record the node emits, for a human watching consensus unfold
// live. It has no write-back path into the node: anything a client sends
// is discarded.
package debugfeed

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/migmoog/distsys-prj4/internal/tracelog"
)

const clientBufferSize = 64

// dropLogInterval bounds how often a slow client's drops get logged: once
// per interval, with a count, never once per dropped frame.
const dropLogInterval = 5 * time.Second

// Feed holds the set of connected websocket clients and broadcasts every
// tracelog.Record to each of them, best-effort.
type Feed struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn    *websocket.Conn
	send    chan []byte
	dropped int
	lastLog time.Time
}

// New builds an unattached Feed. Call Attach to start receiving records.
func New() *Feed {
	return &Feed{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Attach subscribes the feed to every record logger emits from this point
// forward.
func (f *Feed) Attach(logger *tracelog.Logger) {
	logger.Subscribe(f.broadcast)
}

// broadcast fans a single record out to every connected client. A client
// whose send buffer is full never blocks the node loop: the frame is
// dropped and counted instead.
func (f *Feed) broadcast(rec tracelog.Record) {
	line, err := json.Marshal(rec)
	if err != nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		select {
		case c.send <- line:
		default:
			c.dropped++
			if time.Since(c.lastLog) >= dropLogInterval {
				log.Printf("debugfeed: dropped %d frame(s) for a slow client in the last %s", c.dropped, dropLogInterval)
				c.dropped = 0
				c.lastLog = time.Now()
			}
		}
	}
}

// ServeHTTP upgrades the request to a websocket and streams records to it
// until the client disconnects.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("debugfeed: upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBufferSize), lastLog: time.Now()}
	f.mu.Lock()
	f.clients[c] = struct{}{}
	f.mu.Unlock()

	go f.drainInbound(c)
	f.writeLoop(c)
}

// drainInbound discards anything a client sends; its only purpose is to
// notice the connection close so writeLoop's next write fails promptly.
func (f *Feed) drainInbound(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.conn.Close()
			return
		}
	}
}

func (f *Feed) writeLoop(c *client) {
	defer f.remove(c)
	defer c.conn.Close()
	for line := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, line); err != nil {
			return
		}
	}
}

func (f *Feed) remove(c *client) {
	f.mu.Lock()
	delete(f.clients, c)
	f.mu.Unlock()
}

// ListenAndServe starts the feed's HTTP server on addr, blocking until it
// fails. Only invoked when --debug-addr is set.
func (f *Feed) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", f)
	log.Printf("debugfeed: listening on %s, endpoint ws://%s/ws", addr, addr)
	return http.ListenAndServe(addr, mux)
}
