// Package manifest loads the hosts manifest: the ASCII file enumerating
// every Paxos participant and, per stage, which roles it plays there.
package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/migmoog/distsys-prj4/internal/distsys"
	"github.com/migmoog/distsys-prj4/internal/paxos"
)

// ErrMalformed is wrapped by every parse failure. Fatal at boot.
var ErrMalformed = errors.New("manifest malformed")

// RoleKind is one of the three Paxos roles a participant can play at a
// given stage.
type RoleKind int

const (
	RoleProposer RoleKind = iota
	RoleAcceptor
	RoleLearner
)

func (k RoleKind) String() string {
	switch k {
	case RoleProposer:
		return "proposer"
	case RoleAcceptor:
		return "acceptor"
	case RoleLearner:
		return "learner"
	default:
		return "unknown"
	}
}

// Role pairs a role kind with the stage it applies to.
type Role struct {
	Kind  RoleKind
	Stage distsys.Stage
}

// Manifest is the parsed hosts file: an ordered list of hostnames (whose
// position fixes their PeerId) plus each hostname's per-stage roles.
type Manifest struct {
	order    []string
	roles    map[string][]Role
	hostname string
}

// Load reads and parses the manifest at path, identifying the local
// participant via os.Hostname.
func Load(path string) (*Manifest, error) {
	self, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("reading local hostname: %w", err)
	}
	return load(path, self)
}

// load is Load with the local hostname injected, so tests don't depend on
// the machine they run on.
func load(path, self string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening hostsfile: %w", err)
	}
	defer f.Close()

	m := &Manifest{roles: make(map[string][]Role), hostname: self}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		name, roles, err := parseLine(line)
		if err != nil {
			return nil, err
		}
		if _, dup := m.roles[name]; dup {
			return nil, fmt.Errorf("%w: duplicate host %q", ErrMalformed, name)
		}
		m.order = append(m.order, name)
		m.roles[name] = roles
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading hostsfile: %w", err)
	}
	if len(m.order) == 0 {
		return nil, fmt.Errorf("%w: empty hostsfile", ErrMalformed)
	}
	return m, nil
}

// parseLine parses "<hostname>:<role><stage>[,<role><stage>]*".
func parseLine(line string) (string, []Role, error) {
	idx := strings.IndexByte(line, ':')
	if idx <= 0 {
		return "", nil, fmt.Errorf("%w: line %q has no \"host:roles\" separator", ErrMalformed, line)
	}
	name := line[:idx]
	rest := line[idx+1:]
	if rest == "" {
		return "", nil, fmt.Errorf("%w: host %q has no roles", ErrMalformed, name)
	}

	tokens := strings.Split(rest, ",")
	roles := make([]Role, 0, len(tokens))
	for _, tok := range tokens {
		r, err := parseRole(strings.TrimSpace(tok))
		if err != nil {
			return "", nil, err
		}
		roles = append(roles, r)
	}
	return name, roles, nil
}

// parseRole parses one "<role><stage>" token, e.g. "acceptor12".
func parseRole(tok string) (Role, error) {
	cut := len(tok)
	for i, r := range tok {
		if r >= '0' && r <= '9' {
			cut = i
			break
		}
	}
	if cut == 0 || cut == len(tok) {
		return Role{}, fmt.Errorf("%w: %q is not a \"<role><stage>\" token", ErrMalformed, tok)
	}
	name, numStr := tok[:cut], tok[cut:]

	stageNum, err := strconv.ParseUint(numStr, 10, 64)
	if err != nil {
		return Role{}, fmt.Errorf("%w: %q: %v", ErrMalformed, tok, err)
	}

	var kind RoleKind
	switch name {
	case "proposer":
		kind = RoleProposer
	case "acceptor":
		kind = RoleAcceptor
	case "learner":
		kind = RoleLearner
	default:
		return Role{}, fmt.Errorf("%w: unknown role %q", ErrMalformed, name)
	}
	return Role{Kind: kind, Stage: distsys.Stage(stageNum)}, nil
}

// idOf returns the 1-based manifest position of name. Callers only ever
// pass names already known to be present.
func (m *Manifest) idOf(name string) distsys.PeerId {
	for i, n := range m.order {
		if n == name {
			return distsys.PeerId(i + 1)
		}
	}
	panic(fmt.Sprintf("manifest: %q not present", name))
}

// SelfID returns the local node's PeerId: its 1-based position in the
// manifest. Panics if the local hostname isn't listed — this is a boot
// time misconfiguration, not a runtime condition to recover from.
func (m *Manifest) SelfID() distsys.PeerId {
	for _, name := range m.order {
		if name == m.hostname {
			return m.idOf(name)
		}
	}
	panic(fmt.Sprintf("manifest: local hostname %q not found in hostsfile", m.hostname))
}

// PeerCount returns the number of participants other than self.
func (m *Manifest) PeerCount() int { return len(m.order) - 1 }

// Peer is one other participant: its stable PeerId and hostname.
type Peer struct {
	ID       distsys.PeerId
	Hostname string
}

// Peers returns every participant but self, in manifest order, with the
// same PeerId any other node reading this manifest would derive for them.
func (m *Manifest) Peers() []Peer {
	out := make([]Peer, 0, m.PeerCount())
	for i, name := range m.order {
		if name == m.hostname {
			continue
		}
		out = append(out, Peer{ID: distsys.PeerId(i + 1), Hostname: name})
	}
	return out
}

func (m *Manifest) hasRole(name string, stage distsys.Stage, kinds ...RoleKind) bool {
	for _, r := range m.roles[name] {
		if r.Stage != stage {
			continue
		}
		for _, k := range kinds {
			if r.Kind == k {
				return true
			}
		}
	}
	return false
}

func (m *Manifest) withRole(stage distsys.Stage, kinds ...RoleKind) []distsys.PeerId {
	var out []distsys.PeerId
	for i, name := range m.order {
		if m.hasRole(name, stage, kinds...) {
			out = append(out, distsys.PeerId(i+1))
		}
	}
	return out
}

// Acceptors returns every peer (self included, if applicable) playing
// Acceptor at stage.
func (m *Manifest) Acceptors(stage distsys.Stage) []distsys.PeerId {
	return m.withRole(stage, RoleAcceptor)
}

// AcceptorsAndLearners returns every peer playing Acceptor or Learner at
// stage — the audience for a Chosen broadcast.
func (m *Manifest) AcceptorsAndLearners(stage distsys.Stage) []distsys.PeerId {
	return m.withRole(stage, RoleAcceptor, RoleLearner)
}

// Proposer returns the unique peer playing Proposer at stage. Fails if
// there isn't exactly one.
func (m *Manifest) Proposer(stage distsys.Stage) (distsys.PeerId, error) {
	found := m.withRole(stage, RoleProposer)
	if len(found) != 1 {
		return 0, fmt.Errorf("stage %d: expected exactly one proposer, found %d", stage, len(found))
	}
	return found[0], nil
}

// RoleAt returns the local node's role at stage, if it plays one.
func (m *Manifest) RoleAt(stage distsys.Stage) (RoleKind, bool) {
	for _, r := range m.roles[m.hostname] {
		if r.Stage == stage {
			return r.Kind, true
		}
	}
	return 0, false
}

// Stages returns every stage number named anywhere in the manifest, in
// ascending order.
func (m *Manifest) Stages() []distsys.Stage {
	seen := make(map[distsys.Stage]bool)
	for _, roles := range m.roles {
		for _, r := range roles {
			seen[r.Stage] = true
		}
	}
	stages := make([]distsys.Stage, 0, len(seen))
	for s := range seen {
		stages = append(stages, s)
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i] < stages[j] })
	return stages
}

// InitialRoles constructs a fresh Role (proposer/acceptor/learner state
// machine) for every stage the local node participates in.
func (m *Manifest) InitialRoles() map[distsys.Stage]paxos.Role {
	self := m.SelfID()
	out := make(map[distsys.Stage]paxos.Role)
	for _, stage := range m.Stages() {
		kind, ok := m.RoleAt(stage)
		if !ok {
			continue
		}
		switch kind {
		case RoleProposer:
			out[stage] = paxos.NewProposerRole(self, len(m.Acceptors(stage)))
		case RoleAcceptor:
			out[stage] = paxos.NewAcceptorRole()
		case RoleLearner:
			out[stage] = paxos.NewLearnerRole()
		}
	}
	return out
}
