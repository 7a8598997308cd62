package paxos

import "github.com/migmoog/distsys-prj4/internal/wire"

// Accepting is the acceptor role's state for one stage. minProposal only
// ever grows; accepted only ever moves to a proposal numbered at least
// minProposal at the moment of acceptance.
type Accepting struct {
	minProposal wire.ProposalNumber
	accepted    *wire.Proposal
	chosen      *wire.Value
}

func NewAccepting() *Accepting { return &Accepting{} }

// OnPrepare answers a Prepare (phase 1a). It promises not to accept any
// proposal numbered below prop.Num, then reports whatever it had already
// accepted (nil if nothing).
func (a *Accepting) OnPrepare(prop wire.Proposal) wire.Message {
	if prop.Num > a.minProposal {
		a.minProposal = prop.Num
	}
	return wire.PrepareAck(a.accepted)
}

// OnAccept answers an Accept (phase 2a). It accepts the proposal only if
// it hasn't promised a strictly higher number in the meantime, and always
// reports its post-update minimum.
func (a *Accepting) OnAccept(prop wire.Proposal) wire.Message {
	if prop.Num >= a.minProposal {
		a.minProposal = prop.Num
		p := prop
		a.accepted = &p
	}
	return wire.AcceptAck(a.minProposal)
}

// OnChosen records the disseminated value. No outbound message.
func (a *Accepting) OnChosen(prop wire.Proposal) {
	v := prop.Value
	a.chosen = &v
}

// ChosenValue reports the value this acceptor has learned was chosen, if
// any Chosen message has reached it yet.
func (a *Accepting) ChosenValue() (wire.Value, bool) {
	if a.chosen == nil {
		return 0, false
	}
	return *a.chosen, true
}
