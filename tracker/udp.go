package tracker

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/url"
	"time"
)

const (
	udpProtocolID  uint64 = 0x41727101980
	udpActConnect  uint32 = 0
	udpActAnnounce uint32 = 1
	udpEventStart  uint32 = 2

	udpRecvTimeout = 4 * time.Second
	udpMaxReply    = 4096
)

// announceUDP performs the two-step BEP 15 connect+announce exchange over
// one UDP socket, making a single attempt per tracker: a failure here is
// swallowed and logged by the caller rather than retried.
func announceUDP(u *url.URL, req Request) ([]Peer, error) {
	addr, err := net.ResolveUDPAddr("udp", u.Host)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(udpRecvTimeout))

	transactionID := rand.Uint32()
	connID, err := udpConnect(conn, transactionID)
	if err != nil {
		return nil, err
	}

	return udpAnnounce(conn, connID, transactionID, req)
}

func udpConnect(conn *net.UDPConn, transactionID uint32) (uint64, error) {
	packet := make([]byte, 16)
	binary.BigEndian.PutUint64(packet[0:8], udpProtocolID)
	binary.BigEndian.PutUint32(packet[8:12], udpActConnect)
	binary.BigEndian.PutUint32(packet[12:16], transactionID)
	if _, err := conn.Write(packet); err != nil {
		return 0, err
	}

	reply := make([]byte, 16)
	n, err := conn.Read(reply)
	if err != nil {
		return 0, err
	}
	if n < 16 {
		return 0, fmt.Errorf("connect reply too short: %d bytes", n)
	}
	if action := binary.BigEndian.Uint32(reply[0:4]); action != udpActConnect {
		return 0, fmt.Errorf("unexpected connect action %d", action)
	}
	if txID := binary.BigEndian.Uint32(reply[4:8]); txID != transactionID {
		return 0, errors.New("connect transaction id mismatch")
	}
	return binary.BigEndian.Uint64(reply[8:16]), nil
}

func udpAnnounce(conn *net.UDPConn, connID uint64, transactionID uint32, req Request) ([]Peer, error) {
	packet := make([]byte, 98)
	binary.BigEndian.PutUint64(packet[0:8], connID)
	binary.BigEndian.PutUint32(packet[8:12], udpActAnnounce)
	binary.BigEndian.PutUint32(packet[12:16], transactionID)
	copy(packet[16:36], req.InfoHash[:])
	copy(packet[36:56], req.PeerID[:])
	binary.BigEndian.PutUint64(packet[56:64], 0) // downloaded
	binary.BigEndian.PutUint64(packet[64:72], uint64(req.Left))
	binary.BigEndian.PutUint64(packet[72:80], 0) // uploaded
	binary.BigEndian.PutUint32(packet[80:84], udpEventStart)
	binary.BigEndian.PutUint32(packet[84:88], 0) // ip: 0 = tracker infers
	binary.BigEndian.PutUint32(packet[88:92], rand.Uint32())
	binary.BigEndian.PutUint32(packet[92:96], 0xFFFFFFFF) // num_want: -1
	binary.BigEndian.PutUint16(packet[96:98], req.Port)

	if _, err := conn.Write(packet); err != nil {
		return nil, err
	}

	reply := make([]byte, udpMaxReply)
	n, err := conn.Read(reply)
	if err != nil {
		return nil, err
	}
	if n < 20 {
		return nil, fmt.Errorf("announce reply too short: %d bytes", n)
	}
	reply = reply[:n]
	if action := binary.BigEndian.Uint32(reply[0:4]); action != udpActAnnounce {
		return nil, fmt.Errorf("unexpected announce action %d", action)
	}
	if txID := binary.BigEndian.Uint32(reply[4:8]); txID != transactionID {
		return nil, errors.New("announce transaction id mismatch")
	}

	return parseCompactPeers(reply[20:]), nil
}
