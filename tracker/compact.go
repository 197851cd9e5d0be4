package tracker

import (
	"encoding/binary"
	"net"
)

// compactPeerSize is the per-peer encoding used by both BEP 3 HTTP
// ("compact=1") and BEP 15 UDP announce responses: 4 bytes of big-endian
// IPv4 followed by 2 bytes of big-endian port.
const compactPeerSize = 6

// parseCompactPeers consumes data in 6-byte chunks. Any short trailing
// remainder (1-5 bytes) is silently dropped rather than treated as an
// error.
func parseCompactPeers(data []byte) []Peer {
	n := len(data) / compactPeerSize
	peers := make([]Peer, 0, n)
	for i := 0; i < n; i++ {
		chunk := data[i*compactPeerSize : (i+1)*compactPeerSize]
		ip := net.IP(chunk[0:4])
		port := binary.BigEndian.Uint16(chunk[4:6])
		peers = append(peers, Peer{IP: append(net.IP{}, ip...), Port: port})
	}
	return peers
}
