package peer

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"net"
	"sort"
	"time"

	"go.uber.org/atomic"

	"fluxtorrent/bitfield"
	"fluxtorrent/elog"
	"fluxtorrent/ferrors"
	"fluxtorrent/metainfo"
	"fluxtorrent/pieceset"
	"fluxtorrent/storage"
)

const (
	// BlockSize is the fixed request unit, 16 KiB.
	BlockSize = 16384

	connectTimeout  = 5 * time.Second
	idleReadTimeout = 15 * time.Second
	recvBufferHint  = 256 * 1024
)

// Session is one peer wire-protocol connection and its state machine.
type Session struct {
	IP   net.IP
	Port uint16

	infoHash [20]byte
	myPeerID [20]byte

	torrent *metainfo.Torrent
	pieces  *pieceset.Manager
	writer  *storage.Writer
	paused  *atomic.Bool
	logger  elog.Logger

	conn         net.Conn
	peerChoking  bool
	amInterested bool
	peerPieces   *bitfield.Bitfield
	remotePeerID [20]byte

	currentPieceIndex  int
	currentPieceBuffer map[int][]byte
	requestPending     bool

	closed       atomic.Bool
	lastActivity time.Time
}

// New builds a session ready to Start against ip:port.
func New(ip net.IP, port uint16, t *metainfo.Torrent, myPeerID [20]byte, pieces *pieceset.Manager, writer *storage.Writer, paused *atomic.Bool, logger elog.Logger) *Session {
	if logger == nil {
		logger = elog.NoOp()
	}
	return &Session{
		IP:                ip,
		Port:              port,
		infoHash:          t.InfoHash,
		myPeerID:          myPeerID,
		torrent:           t,
		pieces:            pieces,
		writer:            writer,
		paused:            paused,
		logger:            logger,
		peerChoking:       true,
		peerPieces:        bitfield.New(t.NumPieces()),
		currentPieceIndex: -1,
	}
}

func (s *Session) addr() string {
	return net.JoinHostPort(s.IP.String(), fmt.Sprintf("%d", s.Port))
}

// Closed reports whether the session has reached its terminal state. Safe
// to call from the supervisor goroutine concurrently with Start running in
// its own goroutine.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// Start dials the peer, performs the handshake and runs the message loop
// until error, timeout, or EOF. Every exit path closes the connection and
// sets Closed() true.
func (s *Session) Start() error {
	defer s.close()

	conn, err := net.DialTimeout("tcp", s.addr(), connectTimeout)
	if err != nil {
		return &ferrors.PeerSessionError{Peer: s.addr(), Cause: err}
	}
	s.conn = conn
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetReadBuffer(recvBufferHint)
	}

	if err := s.handshake(); err != nil {
		return &ferrors.PeerSessionError{Peer: s.addr(), Cause: err}
	}

	if err := s.messageLoop(); err != nil {
		return &ferrors.PeerSessionError{Peer: s.addr(), Cause: err}
	}
	return nil
}

func (s *Session) close() {
	s.closed.Store(true)
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *Session) handshake() error {
	s.conn.SetDeadline(time.Now().Add(connectTimeout))
	defer s.conn.SetDeadline(time.Time{})

	hs := &Handshake{InfoHash: s.infoHash, PeerID: s.myPeerID}
	if _, err := s.conn.Write(hs.Serialize()); err != nil {
		return err
	}
	reply, err := ReadHandshake(s.conn)
	if err != nil {
		return err
	}
	s.remotePeerID = reply.PeerID

	if _, err := s.conn.Write(interestedMessage().serialize()); err != nil {
		return err
	}
	s.amInterested = true
	return nil
}

func (s *Session) messageLoop() error {
	for {
		s.conn.SetReadDeadline(time.Now().Add(idleReadTimeout))
		m, err := readMessage(s.conn)
		if err != nil {
			return err
		}
		if m == nil {
			continue // keep-alive
		}
		s.lastActivity = time.Now()
		if err := s.handleMessage(m); err != nil {
			return err
		}
	}
}

func (s *Session) handleMessage(m *message) error {
	switch m.id {
	case msgChoke:
		s.peerChoking = true
	case msgUnchoke:
		s.peerChoking = false
		return s.requestPiece()
	case msgHave:
		idx, err := parseHave(m)
		if err != nil {
			return nil // malformed have: ignore rather than tear down the session
		}
		s.peerPieces.Set(idx)
	case msgBitfield:
		s.peerPieces = bitfield.FromBytes(s.torrent.NumPieces(), m.payload)
		if !s.peerChoking {
			return s.requestPiece()
		}
	case msgPiece:
		return s.handleBlock(m.payload)
	}
	return nil
}

// requestPiece is a no-op if paused, choked, or a piece is already in
// flight. Otherwise it asks the piece manager for a next index and issues
// every block request for that piece back-to-back in one write, so there
// is no round-trip wait between blocks of the same piece.
func (s *Session) requestPiece() error {
	if s.paused != nil && s.paused.Load() {
		return nil
	}
	if s.peerChoking || s.requestPending {
		return nil
	}

	idx, ok := s.pieces.NextFor(s.peerPieces)
	if !ok {
		return nil
	}
	s.currentPieceIndex = idx
	s.currentPieceBuffer = make(map[int][]byte)
	s.requestPending = true

	pieceLen := s.torrent.PieceLen(idx)
	var reqs []byte
	for begin := int64(0); begin < pieceLen; begin += BlockSize {
		length := int64(BlockSize)
		if pieceLen-begin < length {
			length = pieceLen - begin
		}
		reqs = append(reqs, requestMessage(idx, int(begin), int(length)).serialize()...)
	}
	_, err := s.conn.Write(reqs)
	return err
}

func (s *Session) handleBlock(payload []byte) error {
	index, begin, data, err := parsePiece(&message{payload: payload})
	if err != nil {
		return err
	}
	if index != s.currentPieceIndex {
		return nil
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.currentPieceBuffer[begin] = buf

	pieceLen := s.torrent.PieceLen(index)
	var buffered int64
	for _, b := range s.currentPieceBuffer {
		buffered += int64(len(b))
	}
	if buffered != pieceLen {
		return nil
	}

	if err := s.verifyAndStore(index); err != nil {
		// A write failure is a fatal FileIoError (see ferrors), not a
		// recoverable per-piece event like a hash mismatch: it propagates
		// all the way up through Start so the supervisor can abort the
		// download instead of silently recycling the piece forever.
		return err
	}
	s.requestPending = false
	return s.requestPiece()
}

func (s *Session) verifyAndStore(index int) error {
	offsets := make([]int, 0, len(s.currentPieceBuffer))
	for begin := range s.currentPieceBuffer {
		offsets = append(offsets, begin)
	}
	sort.Ints(offsets)

	data := make([]byte, 0, s.torrent.PieceLen(index))
	for _, begin := range offsets {
		data = append(data, s.currentPieceBuffer[begin]...)
	}

	sum := sha1.Sum(data)
	if !bytes.Equal(sum[:], s.torrent.PiecesHashes[index][:]) {
		err := &ferrors.PieceHashMismatch{Index: index}
		s.logger.Warnf("%v (from %s)", err, s.addr())
		s.pieces.MarkFailed(index)
		return nil
	}
	if err := s.writer.Write(index, data); err != nil {
		return err
	}
	s.pieces.MarkComplete(index)
	return nil
}
