package peer

import (
	"crypto/sha1"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"fluxtorrent/metainfo"
	"fluxtorrent/pieceset"
	"fluxtorrent/storage"
)

// fakePeer runs one accepted connection through the minimal server side of
// the wire protocol: handshake, a bitfield claiming every piece, unchoke,
// then a single piece reply per request received. It mirrors
// uber-kraken's FakePeer pattern of a just-enough mock rather than a full
// second implementation of the state machine.
func fakePeerServe(t *testing.T, conn net.Conn, infoHash [20]byte, pieceData map[int][]byte) {
	t.Helper()
	defer conn.Close()

	if _, err := ReadHandshake(conn); err != nil {
		t.Errorf("fakePeer: reading handshake: %v", err)
		return
	}
	reply := &Handshake{InfoHash: infoHash, PeerID: [20]byte{1, 2, 3}}
	if _, err := conn.Write(reply.Serialize()); err != nil {
		t.Errorf("fakePeer: writing handshake: %v", err)
		return
	}

	bf := make([]byte, 1)
	bf[0] = 0xC0 // pieces 0 and 1 set
	if _, err := conn.Write((&message{id: msgBitfield, payload: bf}).serialize()); err != nil {
		t.Errorf("fakePeer: writing bitfield: %v", err)
		return
	}

	if _, err := readMessage(conn); err != nil { // interested
		t.Errorf("fakePeer: reading interested: %v", err)
		return
	}
	if _, err := conn.Write((&message{id: msgUnchoke}).serialize()); err != nil {
		t.Errorf("fakePeer: writing unchoke: %v", err)
		return
	}

	served := 0
	for served < len(pieceData) {
		m, err := readMessage(conn)
		if err != nil {
			return
		}
		if m == nil || m.id != msgRequest {
			continue
		}
		if len(m.payload) != 12 {
			t.Errorf("fakePeer: bad request payload length %d", len(m.payload))
			return
		}
		index := int(binary.BigEndian.Uint32(m.payload[0:4]))
		data := pieceData[index]
		payload := make([]byte, 8+len(data))
		copy(payload, m.payload[0:8])
		copy(payload[8:], data)
		if _, err := conn.Write((&message{id: msgPiece, payload: payload}).serialize()); err != nil {
			return
		}
		served++
	}

	// Keep the connection open briefly so the session's post-piece
	// requestPiece (which finds nothing left) doesn't race a closed pipe.
	time.Sleep(50 * time.Millisecond)
}

func TestSessionDownloadsAndVerifiesBothPieces(t *testing.T) {
	piece0 := []byte("aaaaaaaa")
	piece1 := []byte("bbbbbbbb")
	h0 := sha1.Sum(piece0)
	h1 := sha1.Sum(piece1)

	tr := &metainfo.Torrent{
		Name:         "job",
		PieceLength:  8,
		TotalLength:  16,
		Files:        []metainfo.File{{Path: "solo", Length: 16}},
		PiecesHashes: [][20]byte{h0, h1},
	}

	dir := t.TempDir()
	writer, err := storage.New(dir, tr)
	require.NoError(t, err)
	defer writer.Close()

	pieces := pieceset.New(tr.NumPieces())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		fakePeerServe(t, conn, tr.InfoHash, map[int][]byte{0: piece0, 1: piece1})
	}()

	addr := ln.Addr().(*net.TCPAddr)
	paused := atomic.NewBool(false)
	sess := New(addr.IP, uint16(addr.Port), tr, [20]byte{9, 9, 9}, pieces, writer, paused, nil)

	err = sess.Start()
	require.Error(t, err) // the fake peer closes the conn once served; EOF is expected

	<-done
	require.True(t, pieces.Complete())
	require.True(t, sess.Closed())
}

func TestSessionRespectsPause(t *testing.T) {
	tr := &metainfo.Torrent{
		Name:         "job",
		PieceLength:  8,
		TotalLength:  8,
		Files:        []metainfo.File{{Path: "solo", Length: 8}},
		PiecesHashes: [][20]byte{sha1.Sum([]byte("aaaaaaaa"))},
	}
	dir := t.TempDir()
	writer, err := storage.New(dir, tr)
	require.NoError(t, err)
	defer writer.Close()

	pieces := pieceset.New(tr.NumPieces())
	paused := atomic.NewBool(true)

	sess := New(net.ParseIP("127.0.0.1"), 1, tr, [20]byte{1}, pieces, writer, paused, nil)
	sess.peerChoking = false
	require.NoError(t, sess.requestPiece())
	require.False(t, sess.requestPending)
}
