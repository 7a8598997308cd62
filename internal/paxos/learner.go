package paxos

import "github.com/migmoog/distsys-prj4/internal/wire"

// Learning is the learner role's state for one stage. It carries no
// pre-choice state at all: it's silent until a Chosen arrives.
type Learning struct {
	chosen *wire.Value
}

func NewLearning() *Learning { return &Learning{} }

// OnChosen records the disseminated value. No outbound message. Any other
// Paxos message reaching a learner-only peer is a protocol violation the
// node loop drops before it gets here.
func (l *Learning) OnChosen(prop wire.Proposal) {
	v := prop.Value
	l.chosen = &v
}

// ChosenValue reports the learned value, if any.
func (l *Learning) ChosenValue() (wire.Value, bool) {
	if l.chosen == nil {
		return 0, false
	}
	return *l.chosen, true
}
