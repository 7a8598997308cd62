// Package node owns the manifest, the Nexus, the per-stage role map, and
// the outbound FIFO queue, and drives the three-step loop described in
// SPEC_FULL.md §4.5: optional proposal, tick, flush.
package node

import (
	"context"
	"log"
	"time"

	"github.com/migmoog/distsys-prj4/internal/distsys"
	"github.com/migmoog/distsys-prj4/internal/manifest"
	"github.com/migmoog/distsys-prj4/internal/nexus"
	"github.com/migmoog/distsys-prj4/internal/paxos"
	"github.com/migmoog/distsys-prj4/internal/tracelog"
	"github.com/migmoog/distsys-prj4/internal/wire"
)

type outboundEntry struct {
	msg wire.Message
	to  []distsys.PeerId
}

// Node is the single owner of every role's state. All mutation flows
// through it; the only other goroutines in the process (Nexus's inbound
// readers) never touch role state, only the mailbox.
type Node struct {
	self distsys.PeerId
	man  *manifest.Manifest
	nx   *nexus.Nexus
	log  *tracelog.Logger

	roles map[distsys.Stage]paxos.Role

	// stage is fixed at 1 in the specified core. AdvanceStage is a hook
	// for a future multi-stage extension; nothing calls it by default
	// (see DESIGN.md, "stage advancement").
	stage distsys.Stage

	outbound []outboundEntry
}

// New builds a Node from a loaded manifest and an already-connected Nexus.
func New(man *manifest.Manifest, nx *nexus.Nexus, logger *tracelog.Logger) *Node {
	return &Node{
		self:  man.SelfID(),
		man:   man,
		nx:    nx,
		log:   logger,
		roles: man.InitialRoles(),
		stage: 1,
	}
}

// Stage returns the node's current Paxos stage.
func (n *Node) Stage() distsys.Stage { return n.stage }

// AdvanceStage moves to the next stage. Not called anywhere by default.
func (n *Node) AdvanceStage() { n.stage++ }

func (n *Node) enqueue(msg wire.Message, to []distsys.PeerId) {
	if len(to) == 0 {
		return
	}
	n.outbound = append(n.outbound, outboundEntry{msg: msg, to: to})
}

// CanPropose reports whether this node is the proposer for the current
// stage and has not yet called Propose.
func (n *Node) CanPropose() bool {
	role, ok := n.roles[n.stage]
	return ok && role.Proposer != nil && !role.Proposer.HasBegun()
}

// Propose broadcasts a Prepare for v to the current stage's acceptors.
// Precondition: CanPropose().
func (n *Node) Propose(v wire.Value) {
	role := n.roles[n.stage]
	msg := role.Proposer.Propose(v)
	n.log.Sent(n.self, msg, role.Proposer.Current())
	n.enqueue(msg, n.man.Acceptors(n.stage))
}

// Tick polls the mailbox once (non-blocking). If a letter is present, it
// is routed by (message kind, role at the current stage); any pairing not
// named in SPEC_FULL.md §4.5 is a protocol violation: logged and dropped,
// never a crash.
func (n *Node) Tick() {
	letter, ok := n.nx.MailboxPoll()
	if !ok {
		return
	}

	role, ok := n.roles[n.stage]
	if !ok {
		log.Printf("node: protocol violation: no role for stage %d, dropping %+v", n.stage, letter.Contents)
		return
	}

	msg := letter.Contents
	switch {
	case msg.Kind == wire.KindPrepare && role.Acceptor != nil:
		n.log.Received(n.self, msg, wire.Proposal{})
		reply := role.Acceptor.OnPrepare(msg.Proposal)
		n.log.Sent(n.self, reply, msg.Proposal)
		n.enqueue(reply, []distsys.PeerId{letter.From})

	case msg.Kind == wire.KindPrepareAck && role.Proposer != nil:
		n.log.Received(n.self, msg, role.Proposer.Current())
		if out := role.Proposer.OnPrepareAck(letter.From, msg.PrevAccepted); out != nil {
			n.log.Sent(n.self, *out, role.Proposer.Current())
			n.enqueue(*out, n.man.Acceptors(n.stage))
		}

	case msg.Kind == wire.KindAccept && role.Acceptor != nil:
		n.log.Received(n.self, msg, msg.Proposal)
		reply := role.Acceptor.OnAccept(msg.Proposal)
		n.log.Sent(n.self, reply, msg.Proposal)
		n.enqueue(reply, []distsys.PeerId{letter.From})

	case msg.Kind == wire.KindAcceptAck && role.Proposer != nil:
		n.log.Received(n.self, msg, role.Proposer.Current())
		n.handleAcceptAck(role, letter.From, msg.MinProposal)

	case msg.Kind == wire.KindChosen:
		n.log.Received(n.self, msg, msg.Proposal)
		role.OnChosen(msg.Proposal)

	default:
		log.Printf("node: protocol violation: %s doesn't pair with the role at stage %d, dropping", msg.Kind, n.stage)
	}
}

func (n *Node) handleAcceptAck(role paxos.Role, from distsys.PeerId, minProposal wire.ProposalNumber) {
	out := role.Proposer.OnAcceptAck(from, minProposal)
	if out == nil {
		return
	}

	switch out.Kind {
	case wire.KindPrepare, wire.KindAccept:
		n.log.Sent(n.self, *out, role.Proposer.Current())
		n.enqueue(*out, n.man.Acceptors(n.stage))
	case wire.KindChosen:
		n.log.Chose(n.self, out.Proposal)
		n.enqueue(*out, n.man.AcceptorsAndLearners(n.stage))
	}
}

// Flush pops at most one entry off the outbound queue and sends one
// letter to each of its recipients via Nexus.
func (n *Node) Flush() error {
	if len(n.outbound) == 0 {
		return nil
	}
	entry := n.outbound[0]
	n.outbound = n.outbound[1:]

	for _, to := range entry.to {
		letter := wire.Letter{From: n.self, To: to, Contents: entry.msg}
		if err := n.nx.Send(letter); err != nil {
			return err
		}
	}
	return nil
}

// Run drives the loop forever: optional proposal, tick, flush. If
// proposeValue is non-nil and this node is the current stage's proposer,
// it sleeps for delay (if positive) and proposes exactly once — the sleep
// happens before the proposal is created, never while handling messages,
// so it cannot starve the mailbox.
func (n *Node) Run(ctx context.Context, proposeValue *wire.Value, delay time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if proposeValue != nil && n.CanPropose() {
			if delay > 0 {
				time.Sleep(delay)
			}
			n.Propose(*proposeValue)
		}

		n.Tick()

		if err := n.Flush(); err != nil {
			return err
		}
	}
}
