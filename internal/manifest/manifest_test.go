package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/migmoog/distsys-prj4/internal/distsys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeHostsfile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

const fourHostManifest = "h1:proposer1\nh2:acceptor1,learner1\nh3:acceptor1,learner1\nh4:acceptor1,learner1\n"

func TestSelfIDIsOneBasedManifestPosition(t *testing.T) {
	path := writeHostsfile(t, fourHostManifest)

	m, err := load(path, "h3")
	require.NoError(t, err)
	assert.Equal(t, distsys.PeerId(3), m.SelfID())
}

// TestPeerIdStability covers P8: two nodes reading the same manifest must
// assign identical PeerIds to the same hostname, including for peers
// enumerated via Peers() (not just via SelfID()).
func TestPeerIdStability(t *testing.T) {
	path := writeHostsfile(t, fourHostManifest)

	fromH1, err := load(path, "h1")
	require.NoError(t, err)
	fromH4, err := load(path, "h4")
	require.NoError(t, err)

	idFor := func(m *Manifest, hostname string) distsys.PeerId {
		for _, p := range m.Peers() {
			if p.Hostname == hostname {
				return p.ID
			}
		}
		t.Fatalf("hostname %q not found among peers", hostname)
		return 0
	}

	assert.Equal(t, idFor(fromH1, "h3"), idFor(fromH4, "h3"))
	assert.Equal(t, idFor(fromH1, "h2"), idFor(fromH4, "h2"))
}

func TestAcceptorsAndLearnersAndProposer(t *testing.T) {
	path := writeHostsfile(t, fourHostManifest)
	m, err := load(path, "h1")
	require.NoError(t, err)

	acceptors := m.Acceptors(1)
	assert.ElementsMatch(t, []distsys.PeerId{2, 3, 4}, acceptors)
	assert.ElementsMatch(t, []distsys.PeerId{2, 3, 4}, m.AcceptorsAndLearners(1))

	proposer, err := m.Proposer(1)
	require.NoError(t, err)
	assert.Equal(t, distsys.PeerId(1), proposer)
}

func TestProposerFailsWhenNotExactlyOne(t *testing.T) {
	path := writeHostsfile(t, "h1:acceptor1\nh2:acceptor1\n")
	m, err := load(path, "h1")
	require.NoError(t, err)

	_, err = m.Proposer(1)
	assert.Error(t, err)
}

func TestMultiRolePerHostAcrossStages(t *testing.T) {
	path := writeHostsfile(t, "h1:proposer1,acceptor2\nh2:acceptor1,proposer2\n")
	m, err := load(path, "h1")
	require.NoError(t, err)

	kind1, ok := m.RoleAt(1)
	require.True(t, ok)
	assert.Equal(t, RoleProposer, kind1)

	kind2, ok := m.RoleAt(2)
	require.True(t, ok)
	assert.Equal(t, RoleAcceptor, kind2)

	assert.ElementsMatch(t, []distsys.Stage{1, 2}, m.Stages())
}

func TestMalformedLineIsRejected(t *testing.T) {
	cases := []string{
		"h1 proposer1",       // missing ':'
		"h1:",                // no roles
		"h1:propos3r1",       // digit inside the role name
		"h1:proposer",        // missing stage number
		"h1:proposer1,h1:acceptor1", // stray ':' inside roles
	}
	for _, c := range cases {
		t.Run(c, func(t *testing.T) {
			path := writeHostsfile(t, c+"\n")
			_, err := load(path, "h1")
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestInitialRolesBuildsOneRolePerParticipatingStage(t *testing.T) {
	path := writeHostsfile(t, fourHostManifest)
	m, err := load(path, "h1")
	require.NoError(t, err)

	roles := m.InitialRoles()
	require.Contains(t, roles, distsys.Stage(1))
	require.NotNil(t, roles[1].Proposer)
	assert.Nil(t, roles[1].Acceptor)
	assert.Nil(t, roles[1].Learner)
}
