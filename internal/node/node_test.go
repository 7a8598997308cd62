package node

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/migmoog/distsys-prj4/internal/distsys"
	"github.com/migmoog/distsys-prj4/internal/manifest"
	"github.com/migmoog/distsys-prj4/internal/nexus"
	"github.com/migmoog/distsys-prj4/internal/paxos"
	"github.com/migmoog/distsys-prj4/internal/tracelog"
	"github.com/migmoog/distsys-prj4/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestNode builds a Node with no manifest and no Nexus (tests that need
// either set it themselves; nil is fine otherwise, since nothing here
// reaches Nexus.Send) and a discarding tracelog so test output stays quiet.
func newTestNode(self distsys.PeerId, roles map[distsys.Stage]paxos.Role) *Node {
	return &Node{
		self:  self,
		man:   nil,
		nx:    nil,
		log:   tracelog.New(discard{}),
		roles: roles,
		stage: 1,
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestCanProposeFalseForNonProposerRole(t *testing.T) {
	n := newTestNode(1, map[distsys.Stage]paxos.Role{1: paxos.NewAcceptorRole()})
	assert.False(t, n.CanPropose())
}

func TestCanProposeFalseOnceProposed(t *testing.T) {
	n := newTestNode(1, map[distsys.Stage]paxos.Role{1: paxos.NewProposerRole(1, 3)})
	n.man = proposerManifest(t)
	require.True(t, n.CanPropose())

	n.Propose('Z')
	assert.False(t, n.CanPropose())
	require.Len(t, n.outbound, 1)
	assert.Equal(t, wire.KindPrepare, n.outbound[0].msg.Kind)
}

func TestTickRoutesPrepareToAcceptorAndQueuesReply(t *testing.T) {
	n := newTestNode(2, map[distsys.Stage]paxos.Role{1: paxos.NewAcceptorRole()})
	n.nx = loopbackNexus(2, wire.Letter{
		From:     1,
		To:       2,
		Contents: wire.Prepare(wire.Proposal{Num: 100, Value: 'Q'}),
	})

	n.Tick()

	require.Len(t, n.outbound, 1)
	entry := n.outbound[0]
	assert.Equal(t, wire.KindPrepareAck, entry.msg.Kind)
	assert.Equal(t, []distsys.PeerId{1}, entry.to)
}

func TestTickOnUnpairedKindLogsAndDropsWithoutPanicking(t *testing.T) {
	n := newTestNode(2, map[distsys.Stage]paxos.Role{1: paxos.NewLearnerRole()})
	n.nx = loopbackNexus(2, wire.Letter{
		From:     1,
		To:       2,
		Contents: wire.Prepare(wire.Proposal{Num: 1, Value: 'A'}),
	})

	assert.NotPanics(t, func() { n.Tick() })
	assert.Empty(t, n.outbound)
}

func TestTickChosenDispatchesToLearnerWithNoOutbound(t *testing.T) {
	n := newTestNode(3, map[distsys.Stage]paxos.Role{1: paxos.NewLearnerRole()})
	n.nx = loopbackNexus(3, wire.Letter{
		From:     1,
		To:       3,
		Contents: wire.Chosen(wire.Proposal{Num: 5, Value: 'K'}),
	})

	n.Tick()

	assert.Empty(t, n.outbound)
	v, ok := n.roles[1].Learner.ChosenValue()
	require.True(t, ok)
	assert.Equal(t, wire.Value('K'), v)
}

func TestFlushPopsOneEntryAtATime(t *testing.T) {
	n := newTestNode(1, nil)
	n.outbound = []outboundEntry{
		{msg: wire.Prepare(wire.Proposal{Num: 1, Value: 'A'}), to: nil},
		{msg: wire.Prepare(wire.Proposal{Num: 2, Value: 'B'}), to: nil},
	}

	require.NoError(t, n.Flush())
	assert.Len(t, n.outbound, 1)
	assert.Equal(t, wire.ProposalNumber(2), n.outbound[0].msg.Proposal.Num)
}

// loopbackNexus builds a real *nexus.Nexus with a single letter preloaded
// into its mailbox, via nexus.NewForTest: no sockets at all, since
// MailboxPoll only needs the mailbox channel filled.
func loopbackNexus(self distsys.PeerId, letter wire.Letter) *nexus.Nexus {
	return nexus.NewForTest(self, letter)
}

// proposerManifest loads a manifest naming this machine as stage 1's
// proposer and three other hosts as its acceptors, so Propose has
// recipients to address.
func proposerManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	self, err := os.Hostname()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "hosts")
	contents := self + ":proposer1\nacc-a:acceptor1\nacc-b:acceptor1\nacc-c:acceptor1\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	m, err := manifest.Load(path)
	require.NoError(t, err)
	return m
}
