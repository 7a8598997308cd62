// Package tracelog emits the one-line structured record required for
// every Paxos message sent, received, or chosen, per SPEC_FULL.md §4.6.
package tracelog

import (
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/migmoog/distsys-prj4/internal/distsys"
	"github.com/migmoog/distsys-prj4/internal/wire"
)

// Action is which side of an event this record describes.
type Action string

const (
	Sent     Action = "sent"
	Received Action = "received"
	Chose    Action = "chose"
)

// Record is the exact JSON shape written to the trace output, field order
// matching SPEC_FULL.md §4.6.
type Record struct {
	PeerID       distsys.PeerId      `json:"peer_id"`
	Action       Action              `json:"action"`
	MessageType  string              `json:"message_type"`
	MessageValue string              `json:"message_value"`
	ProposalNum  wire.ProposalNumber `json:"proposal_num"`
}

// Logger writes Records as single JSON lines. Safe for concurrent use,
// though in this node only the node loop ever calls it.
type Logger struct {
	mu  sync.Mutex
	out io.Writer
	// sink, if set, also receives a copy of every record — used to feed
	// the optional debug websocket fan-out without coupling tracelog to
	// it directly.
	sink func(Record)
}

// New builds a Logger writing to w (os.Stderr in production).
func New(w io.Writer) *Logger { return &Logger{out: w} }

// Stderr is the default process-wide logger, per SPEC_FULL.md §4.6
// ("the node writes to standard error").
var Stderr = New(os.Stderr)

// Subscribe registers fn to receive a copy of every record logged from
// this point on, in addition to it being written out. Used by
// internal/debugfeed; at most one subscriber is supported since this node
// has exactly one optional observer.
func (l *Logger) Subscribe(fn func(Record)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sink = fn
}

func (l *Logger) emit(r Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	line, err := json.Marshal(r)
	if err != nil {
		// A Record is always marshalable; this would be a programming error.
		panic(err)
	}
	line = append(line, '\n')
	l.out.Write(line)

	if l.sink != nil {
		l.sink(r)
	}
}

// value renders a Paxos Value as the single-character string the wire
// format requires, even for a zero value (PrepareAck/AcceptAck carry no
// character of their own on the wire, only the proposer's current one).
func value(v wire.Value) string { return string(rune(v)) }

// Sent logs an outbound Paxos message (everything except Alive).
func (l *Logger) Sent(self distsys.PeerId, msg wire.Message, current wire.Proposal) {
	l.emit(recordFor(self, Sent, msg, current))
}

// Received logs an inbound Paxos message (everything except Alive).
func (l *Logger) Received(self distsys.PeerId, msg wire.Message, current wire.Proposal) {
	l.emit(recordFor(self, Received, msg, current))
}

// Chose logs the one-shot moment a proposer records a value as decided.
// An acceptor or learner logs an incoming Chosen with Received instead.
func (l *Logger) Chose(self distsys.PeerId, prop wire.Proposal) {
	l.emit(Record{
		PeerID:       self,
		Action:       Chose,
		MessageType:  wire.KindChosen.String(),
		MessageValue: value(prop.Value),
		ProposalNum:  prop.Num,
	})
}

// recordFor builds the record for a sent/received Prepare, PrepareAck,
// Accept, or AcceptAck. current is the proposer's present proposal,
// supplying the value/number for the two ack kinds (which carry no
// character of their own on the wire).
func recordFor(self distsys.PeerId, action Action, msg wire.Message, current wire.Proposal) Record {
	rec := Record{PeerID: self, Action: action, MessageType: msg.Kind.String()}
	switch msg.Kind {
	case wire.KindPrepare, wire.KindAccept, wire.KindChosen:
		rec.MessageValue = value(msg.Proposal.Value)
		rec.ProposalNum = msg.Proposal.Num
	case wire.KindPrepareAck, wire.KindAcceptAck:
		rec.MessageValue = value(current.Value)
		rec.ProposalNum = current.Num
	}
	return rec
}
