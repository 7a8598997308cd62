// Package nexus is the peer connection mesh: it dials and accepts a TCP
// connection to every other peer, exchanges the Alive handshake, and
// shuttles Letters between the wire and a single mailbox.
package nexus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/migmoog/distsys-prj4/internal/distsys"
	"github.com/migmoog/distsys-prj4/internal/manifest"
	"github.com/migmoog/distsys-prj4/internal/wire"
	"golang.org/x/net/netutil"
)

// Port is the fixed TCP port every participant listens and dials on.
const Port = "6969"

// retryInterval is how long a failed dial or bind waits before trying
// again. Connect/bind retries are infinite; this tolerates peers that are
// still booting.
const retryInterval = 2 * time.Second

// ErrTransport is returned by Send when a letter cannot be delivered to a
// known peer. Fatal: that peer can no longer participate.
var ErrTransport = fmt.Errorf("transport error")

// Nexus owns every outbound socket (written only by the node loop) and
// every inbound socket (read only by its own reader goroutine), plus the
// single mailbox every inbound socket funnels into.
type Nexus struct {
	self distsys.PeerId

	mu       sync.Mutex
	outgoing map[distsys.PeerId]net.Conn

	mailbox chan wire.Letter
}

// New builds the full mesh described by list: it binds a listener for
// inbound connections, dials every other peer, exchanges the Alive
// handshake in both directions, and only returns once every peer is
// connected. Connect/bind failures retry silently every 2 seconds.
func New(ctx context.Context, list *manifest.Manifest) (*Nexus, error) {
	n := &Nexus{
		self:     list.SelfID(),
		outgoing: make(map[distsys.PeerId]net.Conn),
		mailbox:  make(chan wire.Letter, 256),
	}

	listener, err := listenRetry(ctx, Port)
	if err != nil {
		return nil, err
	}
	listener = netutil.LimitListener(listener, list.PeerCount())

	peers := list.Peers()
	incomingReady := make(chan struct{})
	go n.acceptIncoming(ctx, listener, len(peers), incomingReady)

	for _, peer := range peers {
		conn, err := dialRetry(ctx, peer.Hostname)
		if err != nil {
			listener.Close()
			return nil, err
		}
		connID := uuid.New()
		if err := sendAlive(conn, n.self, peer.ID); err != nil {
			listener.Close()
			return nil, fmt.Errorf("%w: sending Alive to peer %d: %v", ErrTransport, peer.ID, err)
		}
		log.Printf("nexus: outbound link to peer %d (%s) up [%s]", peer.ID, peer.Hostname, connID)

		n.mu.Lock()
		n.outgoing[peer.ID] = conn
		n.mu.Unlock()
	}

	<-incomingReady
	return n, nil
}

func sendAlive(conn net.Conn, self, to distsys.PeerId) error {
	frame, err := wire.EncodeLetter(wire.Letter{From: self, To: to, Contents: wire.Alive()})
	if err != nil {
		return err
	}
	_, err = conn.Write(frame)
	return err
}

// acceptIncoming accepts exactly want inbound connections, binds each to
// the PeerId carried by its opening Alive letter, and starts a reader
// goroutine per socket. Closes ready once all want sockets are bound.
func (n *Nexus) acceptIncoming(ctx context.Context, listener net.Listener, want int, ready chan<- struct{}) {
	bound := 0
	for bound < want {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Printf("nexus: accept error: %v", err)
				continue
			}
		}

		letter, err := wire.ReadLetter(conn)
		if err != nil {
			log.Printf("nexus: codec error on handshake: %v", err)
			conn.Close()
			continue
		}
		if letter.Contents.Kind != wire.KindAlive {
			log.Printf("nexus: protocol violation: first message on inbound socket was %s, not alive", letter.Contents.Kind)
			conn.Close()
			continue
		}

		connID := uuid.New()
		log.Printf("nexus: inbound link from peer %d up [%s]", letter.From, connID)
		bound++
		go n.readLoop(conn, letter.From)
	}
	close(ready)
}

// readLoop is the single reader goroutine for one inbound socket. It only
// ever touches n.mailbox; role state is never mutated here.
func (n *Nexus) readLoop(conn net.Conn, from distsys.PeerId) {
	defer conn.Close()
	for {
		letter, err := wire.ReadLetter(conn)
		if errors.Is(err, wire.ErrCodec) {
			log.Printf("nexus: codec error on peer %d's link, dropping frame: %v", from, err)
			continue
		}
		if err != nil {
			log.Printf("nexus: link from peer %d closed: %v", from, err)
			return
		}
		if letter.From != from || letter.To != n.self {
			log.Printf("nexus: protocol violation: letter %+v misaddressed on peer %d's link", letter, from)
			continue
		}
		n.mailbox <- letter
	}
}

// NewForTest builds a Nexus with no real sockets and its mailbox preloaded
// with seed, for exercising code that only calls MailboxPoll/Send against a
// known outgoing map. Exported for internal/node's tests, which can't reach
// Nexus's unexported fields directly.
func NewForTest(self distsys.PeerId, seed ...wire.Letter) *Nexus {
	n := &Nexus{
		self:     self,
		outgoing: make(map[distsys.PeerId]net.Conn),
		mailbox:  make(chan wire.Letter, len(seed)+1),
	}
	for _, l := range seed {
		n.mailbox <- l
	}
	return n
}

// MailboxPoll non-blockingly pulls the next inbound letter, if any. FIFO
// per remote peer; no ordering guarantee across peers.
func (n *Nexus) MailboxPoll() (wire.Letter, bool) {
	select {
	case l := <-n.mailbox:
		return l, true
	default:
		return wire.Letter{}, false
	}
}

// Send transmits one letter on the outbound socket for letter.To. Fails
// with ErrTransport if that peer is unknown or the socket is dead. Sends
// to a single peer are only ever issued from the node loop, so no
// concurrent writer ever touches the same socket.
func (n *Nexus) Send(letter wire.Letter) error {
	n.mu.Lock()
	conn, ok := n.outgoing[letter.To]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no outbound link to peer %d", ErrTransport, letter.To)
	}

	frame, err := wire.EncodeLetter(letter)
	if err != nil {
		return err
	}
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("%w: writing to peer %d: %v", ErrTransport, letter.To, err)
	}
	return nil
}

func dialRetry(ctx context.Context, host string) (net.Conn, error) {
	addr := net.JoinHostPort(host, Port)
	var dialer net.Dialer
	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

func listenRetry(ctx context.Context, port string) (net.Listener, error) {
	for {
		l, err := net.Listen("tcp", net.JoinHostPort("", port))
		if err == nil {
			return l, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}
