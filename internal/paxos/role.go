package paxos

import (
	"github.com/migmoog/distsys-prj4/internal/distsys"
	"github.com/migmoog/distsys-prj4/internal/wire"
)

// Role is a tagged variant over the three Paxos roles a node can play at a
// given stage: exactly one of Proposer, Acceptor, Learner is non-nil.
// Go has no sum types, so this follows the same flat-struct-with-a-tag
// shape the rest of this repo uses for Message (internal/wire).
type Role struct {
	Proposer *Proposing
	Acceptor *Accepting
	Learner  *Learning
}

func NewProposerRole(self distsys.PeerId, quorumSize int) Role {
	return Role{Proposer: NewProposing(self, quorumSize)}
}

func NewAcceptorRole() Role { return Role{Acceptor: NewAccepting()} }

func NewLearnerRole() Role { return Role{Learner: NewLearning()} }

// OnChosen dispatches a Chosen message to whichever role implements the
// Chooser capability (Acceptor, Learner). A proposer ignores it: it
// already knows, since it's the one that chose.
func (r Role) OnChosen(prop wire.Proposal) {
	switch {
	case r.Acceptor != nil:
		r.Acceptor.OnChosen(prop)
	case r.Learner != nil:
		r.Learner.OnChosen(prop)
	}
}
