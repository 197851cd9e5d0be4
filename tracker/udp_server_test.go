package tracker

import (
	"encoding/binary"
	"net"
	"testing"
)

// serveUDPTracker answers exactly one connect+announce exchange the way a
// real BEP 15 tracker would, returning a single compact peer. It exists
// only to drive announceUDP's reader/writer framing under test — it is not
// a tracker implementation.
func serveUDPTracker(t *testing.T, conn *net.UDPConn) {
	t.Helper()

	connectReq := make([]byte, 16)
	n, addr, err := conn.ReadFromUDP(connectReq)
	if err != nil || n != 16 {
		t.Errorf("udp server: reading connect: %v (n=%d)", err, n)
		return
	}
	txID := binary.BigEndian.Uint32(connectReq[12:16])

	connID := uint64(0xdeadbeefcafe)
	connectResp := make([]byte, 16)
	binary.BigEndian.PutUint32(connectResp[0:4], udpActConnect)
	binary.BigEndian.PutUint32(connectResp[4:8], txID)
	binary.BigEndian.PutUint64(connectResp[8:16], connID)
	if _, err := conn.WriteToUDP(connectResp, addr); err != nil {
		t.Errorf("udp server: writing connect reply: %v", err)
		return
	}

	announceReq := make([]byte, 98)
	n, addr, err = conn.ReadFromUDP(announceReq)
	if err != nil || n != 98 {
		t.Errorf("udp server: reading announce: %v (n=%d)", err, n)
		return
	}
	gotConnID := binary.BigEndian.Uint64(announceReq[0:8])
	if gotConnID != connID {
		t.Errorf("udp server: connection id mismatch: got %x want %x", gotConnID, connID)
		return
	}
	announceTxID := binary.BigEndian.Uint32(announceReq[12:16])

	resp := make([]byte, 26)
	binary.BigEndian.PutUint32(resp[0:4], udpActAnnounce)
	binary.BigEndian.PutUint32(resp[4:8], announceTxID)
	binary.BigEndian.PutUint32(resp[8:12], 1800) // interval
	binary.BigEndian.PutUint32(resp[12:16], 0)   // leechers
	binary.BigEndian.PutUint32(resp[16:20], 1)   // seeders
	copy(resp[20:24], net.ParseIP("10.0.0.1").To4())
	binary.BigEndian.PutUint16(resp[24:26], 80)
	if _, err := conn.WriteToUDP(resp, addr); err != nil {
		t.Errorf("udp server: writing announce reply: %v", err)
	}
}
