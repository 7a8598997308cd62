package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/migmoog/distsys-prj4/internal/distsys"
	"golang.org/x/crypto/blake2b"
)

// ErrCodec is wrapped by every decoding failure of a frame that arrived in
// full: an unknown tag, a body too short for its fields, or a checksum
// mismatch. Nexus's inbound readers treat it the same way in every case —
// log and drop the offending frame and keep reading the link, never crash.
// A stream that ends mid-frame returns the underlying I/O error instead.
var ErrCodec = errors.New("codec error")

const checksumSize = 32 // blake2b-256

// EncodeLetter produces a self-delimiting frame: a uint32 little-endian
// length prefix, followed by a deterministic structural encoding of the
// envelope, followed by a blake2b-256 checksum of that encoding. The
// checksum guards against a frame getting corrupted or torn across reads;
// it carries no key and authenticates nothing (see SPEC_FULL.md §4.2).
func EncodeLetter(l Letter) ([]byte, error) {
	body, err := encodeBody(l)
	if err != nil {
		return nil, err
	}

	sum := blake2b.Sum256(body)
	body = append(body, sum[:]...)

	frame := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(frame[:4], uint32(len(body)))
	copy(frame[4:], body)
	return frame, nil
}

// ReadLetter reads exactly one frame from r, blocking until the length
// prefix and the body it names have both arrived in full. Safe to call
// repeatedly on the same r to recover one envelope per call even when the
// underlying reads coalesce or split records.
func ReadLetter(r io.Reader) (Letter, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Letter{}, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Letter{}, err
	}
	if n < checksumSize {
		return Letter{}, fmt.Errorf("%w: frame shorter than a checksum (%d bytes)", ErrCodec, n)
	}

	payload, wantSum := body[:len(body)-checksumSize], body[len(body)-checksumSize:]
	gotSum := blake2b.Sum256(payload)
	if !equalBytes(gotSum[:], wantSum) {
		return Letter{}, fmt.Errorf("%w: checksum mismatch", ErrCodec)
	}

	return decodeBody(payload)
}

func equalBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func encodeBody(l Letter) ([]byte, error) {
	buf := make([]byte, 0, 32)
	buf = appendUint64(buf, uint64(l.From))
	buf = appendUint64(buf, uint64(l.To))
	buf = append(buf, byte(l.Contents.Kind))

	switch l.Contents.Kind {
	case KindAlive:
		// no fields
	case KindPrepare, KindAccept, KindChosen:
		buf = appendProposal(buf, l.Contents.Proposal)
	case KindPrepareAck:
		if l.Contents.PrevAccepted == nil {
			buf = append(buf, 0)
		} else {
			buf = append(buf, 1)
			buf = appendProposal(buf, *l.Contents.PrevAccepted)
		}
	case KindAcceptAck:
		buf = appendUint64(buf, uint64(l.Contents.MinProposal))
	default:
		return nil, fmt.Errorf("%w: unknown message kind %d", ErrCodec, l.Contents.Kind)
	}
	return buf, nil
}

func decodeBody(buf []byte) (Letter, error) {
	if len(buf) < 17 {
		return Letter{}, fmt.Errorf("%w: envelope too short (%d bytes)", ErrCodec, len(buf))
	}
	from := distsys.PeerId(readUint64(buf[0:8]))
	to := distsys.PeerId(readUint64(buf[8:16]))
	kind := Kind(buf[16])
	rest := buf[17:]

	msg := Message{Kind: kind}
	switch kind {
	case KindAlive:
		// no fields
	case KindPrepare, KindAccept, KindChosen:
		p, err := readProposal(rest)
		if err != nil {
			return Letter{}, err
		}
		msg.Proposal = p
	case KindPrepareAck:
		if len(rest) < 1 {
			return Letter{}, fmt.Errorf("%w: truncated prepare_ack", ErrCodec)
		}
		if rest[0] == 1 {
			p, err := readProposal(rest[1:])
			if err != nil {
				return Letter{}, err
			}
			msg.PrevAccepted = &p
		} else if rest[0] != 0 {
			return Letter{}, fmt.Errorf("%w: invalid prepare_ack presence byte %d", ErrCodec, rest[0])
		}
	case KindAcceptAck:
		if len(rest) < 8 {
			return Letter{}, fmt.Errorf("%w: truncated accept_ack", ErrCodec)
		}
		msg.MinProposal = ProposalNumber(readUint64(rest[:8]))
	default:
		return Letter{}, fmt.Errorf("%w: unknown message kind %d", ErrCodec, kind)
	}

	return Letter{From: from, To: to, Contents: msg}, nil
}

func appendProposal(buf []byte, p Proposal) []byte {
	buf = appendUint64(buf, uint64(p.Num))
	buf = appendUint32(buf, uint32(int32(p.Value)))
	return buf
}

func readProposal(buf []byte) (Proposal, error) {
	if len(buf) < 12 {
		return Proposal{}, fmt.Errorf("%w: truncated proposal", ErrCodec)
	}
	return Proposal{
		Num:   ProposalNumber(readUint64(buf[:8])),
		Value: Value(int32(readUint32(buf[8:12]))),
	}, nil
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func readUint64(buf []byte) uint64 { return binary.LittleEndian.Uint64(buf) }
func readUint32(buf []byte) uint32 { return binary.LittleEndian.Uint32(buf) }
