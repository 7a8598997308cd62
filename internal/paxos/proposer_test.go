package paxos

import (
	"testing"

	"github.com/migmoog/distsys-prj4/internal/distsys"
	"github.com/migmoog/distsys-prj4/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSingleProposerThreeAcceptors follows scenario 1 from SPEC_FULL.md §8:
// three acceptors, none with prior state, all promise and accept; the
// proposer reaches Chosen with its own value.
func TestSingleProposerThreeAcceptors(t *testing.T) {
	p := NewProposing(1, 3)
	msg := p.Propose('X')
	require.Equal(t, wire.KindPrepare, msg.Kind)
	assert.Equal(t, wire.Value('X'), msg.Proposal.Value)

	var accept *wire.Message
	for _, acceptor := range []distsys.PeerId{2, 3, 4} {
		if m := p.OnPrepareAck(acceptor, nil); m != nil {
			accept = m
		}
	}
	require.NotNil(t, accept, "quorum of 2 of 3 should trigger Accept")
	assert.Equal(t, wire.KindAccept, accept.Kind)
	assert.Equal(t, wire.Value('X'), accept.Proposal.Value)

	var chosen *wire.Message
	for _, acceptor := range []distsys.PeerId{2, 3, 4} {
		if m := p.OnAcceptAck(acceptor, accept.Proposal.Num); m != nil {
			chosen = m
		}
	}
	require.NotNil(t, chosen)
	assert.Equal(t, wire.KindChosen, chosen.Kind)
	assert.Equal(t, wire.Value('X'), chosen.Proposal.Value)
}

// TestProposerAdoptsPriorAcceptedValue follows scenario 2: one acceptor
// reports a previously accepted proposal (number 7, below our own);
// the subsequent Accept must carry that proposal's number and value.
func TestProposerAdoptsPriorAcceptedValue(t *testing.T) {
	p := NewProposing(1, 3)
	p.Propose('X')

	prior := wire.Proposal{Num: 7, Value: 'Y'}
	none := p.OnPrepareAck(2, nil)
	require.Nil(t, none, "only one ack so far, no quorum yet")

	accept := p.OnPrepareAck(3, &prior)
	require.NotNil(t, accept, "2 of 3 acceptors is a quorum")
	assert.Equal(t, wire.Value('Y'), accept.Proposal.Value)
	assert.Equal(t, wire.ProposalNumber(7), accept.Proposal.Num)
}

// TestRejectedAcceptDrivesRePrepare follows scenario 3: an AcceptAck
// reporting a minimum above our number restarts phase 1 with a fresh,
// strictly higher number, keeping our original value.
func TestRejectedAcceptDrivesRePrepare(t *testing.T) {
	p := NewProposing(1, 3)
	p.Propose('X')
	p.OnPrepareAck(2, nil)
	p.OnPrepareAck(3, nil)
	p.OnPrepareAck(4, nil)

	// Simulate a rival proposer (peer 99) whose number has already
	// overtaken ours; the acceptor reports that as its new minimum.
	rivalNum := wire.NextProposalNumber(0, 99)
	rePrepare := p.OnAcceptAck(2, rivalNum)
	require.NotNil(t, rePrepare)
	assert.Equal(t, wire.KindPrepare, rePrepare.Kind)
	assert.Greater(t, uint64(rePrepare.Proposal.Num), uint64(rivalNum))
	assert.Equal(t, wire.Value('X'), rePrepare.Proposal.Value)
}

// TestLateDuplicatePrepareAckIsIdempotent follows scenario 5: once a
// quorum of PrepareAcks has already produced an Accept, a later duplicate
// from a new sender (or the same one again) produces no second Accept.
func TestLateDuplicatePrepareAckIsIdempotent(t *testing.T) {
	p := NewProposing(1, 5)
	p.Propose('X')

	var accept *wire.Message
	for _, acceptor := range []distsys.PeerId{2, 3, 4} {
		if m := p.OnPrepareAck(acceptor, nil); m != nil {
			accept = m
		}
	}
	require.NotNil(t, accept)

	second := p.OnPrepareAck(5, nil)
	assert.Nil(t, second, "prepare quorum already fired once")

	dup := p.OnPrepareAck(2, nil)
	assert.Nil(t, dup, "duplicate ack from an already-seen sender changes nothing")
}

// TestChosenIsOneShot follows P6/scenario set: a second quorum-crossing
// AcceptAck after Chosen has already fired produces no second Chosen.
func TestChosenIsOneShot(t *testing.T) {
	p := NewProposing(1, 3)
	p.Propose('X')
	p.OnPrepareAck(2, nil)
	accept := p.OnPrepareAck(3, nil)
	require.NotNil(t, accept)

	chosen := p.OnAcceptAck(2, accept.Proposal.Num)
	require.Nil(t, chosen, "only one ack so far")
	chosen = p.OnAcceptAck(3, accept.Proposal.Num)
	require.NotNil(t, chosen)

	again := p.OnAcceptAck(4, accept.Proposal.Num)
	assert.Nil(t, again, "Chosen already emitted once; proposer ignores further acks")
}

func TestProposeTwiceOnSameProposerPanics(t *testing.T) {
	p := NewProposing(1, 3)
	p.Propose('X')
	assert.Panics(t, func() { p.Propose('Y') })
}
