// Package peer implements the per-connection BitTorrent wire session:
// handshake, message framing, the choke/request state machine, block
// pipelining and endgame participation. The session loop runs against a
// shared pieceset.Manager and storage.Writer rather than a static,
// channel-fed worker pool.
package peer

import (
	"fmt"
	"io"
)

const pstr = "BitTorrent protocol"

// Handshake is the fixed 68-byte BEP 3 handshake message.
type Handshake struct {
	InfoHash [20]byte
	PeerID   [20]byte
}

// Serialize encodes the handshake exactly as BEP 3 specifies: pstrlen,
// pstr, 8 reserved zero bytes, info_hash, peer_id.
func (h *Handshake) Serialize() []byte {
	buf := make([]byte, 49+len(pstr))
	cursor := 0
	buf[cursor] = byte(len(pstr))
	cursor++
	cursor += copy(buf[cursor:], pstr)
	cursor += 8 // reserved, left zero
	cursor += copy(buf[cursor:], h.InfoHash[:])
	copy(buf[cursor:], h.PeerID[:])
	return buf
}

// ReadHandshake reads exactly 68 bytes and parses them as a handshake
// reply. It does not disconnect on pstr or peer-id mismatch; callers that
// want to verify info_hash equality do so themselves.
func ReadHandshake(r io.Reader) (*Handshake, error) {
	buf := make([]byte, 68)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("reading handshake: %w", err)
	}
	pstrlen := int(buf[0])
	if 1+pstrlen+8+20+20 != 68 {
		return nil, fmt.Errorf("unexpected pstrlen %d", pstrlen)
	}
	h := &Handshake{}
	cursor := 1 + pstrlen + 8
	copy(h.InfoHash[:], buf[cursor:cursor+20])
	copy(h.PeerID[:], buf[cursor+20:cursor+40])
	return h, nil
}
