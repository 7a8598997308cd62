// Package distsys holds the handful of scalar types shared by every layer
// of the node (manifest, wire, paxos, nexus) so that none of them has to
// import the others just to talk about a peer or a stage.
package distsys

// PeerId is a dense positive integer identifying a participant. It is
// assigned by the 1-based position of a hostname in the hosts manifest, so
// every node derives the same id for the same hostname without exchanging
// anything over the wire.
type PeerId uint64

// Stage names one independent Paxos instance over the same peer set.
type Stage uint64
