package paxos

import (
	"github.com/migmoog/distsys-prj4/internal/distsys"
	"github.com/migmoog/distsys-prj4/internal/wire"
)

// Proposing is the proposer role's state for one stage. Every method is a
// pure function of (state, input) -> (new state, optional outbound
// message); the node loop owns delivery and recipient fan-out.
type Proposing struct {
	self distsys.PeerId

	num   wire.ProposalNumber
	value *wire.Value

	prepAcks          map[distsys.PeerId]*wire.Proposal
	broadcastedAccept bool

	acceptAcks map[distsys.PeerId]wire.ProposalNumber
	chosen     bool

	quorumSize int
}

// NewProposing builds a fresh proposer for a stage with the given number
// of acceptors. The proposer never acks its own Prepare or Accept: a node
// holds one role per stage and has no link to itself (see DESIGN.md, C4).
func NewProposing(self distsys.PeerId, quorumSize int) *Proposing {
	return &Proposing{
		self:       self,
		prepAcks:   make(map[distsys.PeerId]*wire.Proposal),
		acceptAcks: make(map[distsys.PeerId]wire.ProposalNumber),
		quorumSize: quorumSize,
	}
}

// HasBegun reports whether Propose has already been called.
func (p *Proposing) HasBegun() bool { return p.value != nil }

// Current returns the proposer's present (number, value), for trace
// logging of PrepareAck/AcceptAck events where the wire message itself
// carries no value.
func (p *Proposing) Current() wire.Proposal {
	var v wire.Value
	if p.value != nil {
		v = *p.value
	}
	return wire.Proposal{Num: p.num, Value: v}
}

// Propose sets the proposal's value and mints a new proposal number,
// returning the Prepare to broadcast to the stage's acceptors.
//
// Precondition: HasBegun() is false.
func (p *Proposing) Propose(v wire.Value) wire.Message {
	if p.HasBegun() {
		panic("paxos: Propose called on a proposer that has already begun")
	}
	p.num = wire.NextProposalNumber(p.num, p.self)
	p.value = &v
	return wire.Prepare(wire.Proposal{Num: p.num, Value: v})
}

// OnPrepareAck folds in a PrepareAck from an acceptor. Duplicates from the
// same sender simply overwrite, so a retransmit has no further effect once
// the phase-1 quorum has already fired. Returns the Accept to broadcast
// once strictly more than half the acceptors have responded.
func (p *Proposing) OnPrepareAck(from distsys.PeerId, reported *wire.Proposal) *wire.Message {
	p.prepAcks[from] = reported

	if len(p.prepAcks) <= p.quorumSize/2 || p.broadcastedAccept {
		return nil
	}

	var winner *wire.Proposal
	for _, r := range p.prepAcks {
		if r != nil && (winner == nil || r.Num > winner.Num) {
			winner = r
		}
	}
	if winner != nil {
		p.num = winner.Num
		v := winner.Value
		p.value = &v
	}

	p.broadcastedAccept = true
	msg := wire.Accept(wire.Proposal{Num: p.num, Value: *p.value})
	return &msg
}

// OnAcceptAck folds in an AcceptAck from an acceptor. Once chosen, further
// acks are ignored. A reported minimum above our number means we lost a
// race and must restart phase 1 with a fresh number; otherwise a quorum of
// acks chooses the value, emitted at most once.
func (p *Proposing) OnAcceptAck(from distsys.PeerId, minProposal wire.ProposalNumber) *wire.Message {
	if p.chosen {
		return nil
	}
	p.acceptAcks[from] = minProposal

	if minProposal > p.num {
		p.num = wire.NextProposalNumber(minProposal, p.self)
		p.broadcastedAccept = false
		p.acceptAcks = make(map[distsys.PeerId]wire.ProposalNumber)
		p.prepAcks = make(map[distsys.PeerId]*wire.Proposal)
		msg := wire.Prepare(wire.Proposal{Num: p.num, Value: *p.value})
		return &msg
	}

	if len(p.acceptAcks) > p.quorumSize/2 {
		p.chosen = true
		msg := wire.Chosen(wire.Proposal{Num: p.num, Value: *p.value})
		return &msg
	}
	return nil
}

// OnChosen is a no-op: a proposer never needs to be told what it already
// chose. Role.OnChosen skips the proposer and does not call it.
func (p *Proposing) OnChosen(wire.Proposal) {}
