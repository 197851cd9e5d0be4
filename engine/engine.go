// Package engine wires together metainfo loading, tracker announce, the
// piece manager, the file writer and the swarm supervisor into the single
// entrypoint a caller (CLI or otherwise) drives: peer-id generation at
// construction, Start contacting trackers before entering the swarm loop,
// and a cooperative pause flag read by every downstream component.
package engine

import (
	"crypto/rand"
	"math/big"

	"go.uber.org/atomic"

	"fluxtorrent/elog"
	"fluxtorrent/ferrors"
	"fluxtorrent/metainfo"
	"fluxtorrent/pieceset"
	"fluxtorrent/storage"
	"fluxtorrent/swarm"
	"fluxtorrent/tracker"
)

const peerIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// announcePort is advertised nominally; the engine binds no listening
// socket.
const announcePort = 6881

// Engine is a single torrent download in progress.
type Engine struct {
	torrent    *metainfo.Torrent
	myPeerID   [20]byte
	pieces     *pieceset.Manager
	writer     *storage.Writer
	supervisor *swarm.Supervisor
	paused     *atomic.Bool
	logger     elog.Logger
}

// Construct loads torrentPath, pre-allocates the output layout under
// savePath, and generates this client's peer-id, but does not yet contact
// any tracker (that happens in Start).
func Construct(torrentPath, savePath string, logger elog.Logger) (*Engine, error) {
	if logger == nil {
		logger = elog.NoOp()
	}

	t, err := metainfo.Load(torrentPath)
	if err != nil {
		return nil, err
	}

	peerID, err := generatePeerID()
	if err != nil {
		return nil, err
	}
	t.PeerID = peerID

	writer, err := storage.New(savePath, t)
	if err != nil {
		return nil, err
	}

	return &Engine{
		torrent: t,
		myPeerID: peerID,
		pieces:  pieceset.New(t.NumPieces()),
		writer:  writer,
		paused:  atomic.NewBool(false),
		logger:  logger,
	}, nil
}

// Start announces to every tracker in the torrent's announce list and,
// given at least one peer candidate, blocks running the swarm supervisor
// until the download completes. Returns NoPeers if every tracker yielded
// zero candidates.
func (e *Engine) Start() error {
	e.logger.Infof("contacting trackers for %s", e.torrent.Name)

	candidates := tracker.Announce(e.torrent.AnnounceList, tracker.Request{
		InfoHash: e.torrent.InfoHash,
		PeerID:   e.myPeerID,
		Port:     announcePort,
		Left:     e.torrent.TotalLength,
	}, e.logger)

	if len(candidates) == 0 {
		e.logger.Warnf("no peers found for %s", e.torrent.Name)
		return &ferrors.NoPeers{}
	}

	e.supervisor = swarm.New(e.torrent, e.myPeerID, candidates, e.pieces, e.writer, e.paused, e.logger)
	runErr := e.supervisor.Run()
	closeErr := e.writer.Close()
	if runErr != nil {
		return runErr
	}
	return closeErr
}

// TogglePause flips the cooperative pause flag read by the supervisor
// loop and every peer session's request path.
func (e *Engine) TogglePause() {
	e.paused.Toggle()
}

// Paused reports the current pause state.
func (e *Engine) Paused() bool {
	return e.paused.Load()
}

// NumPieces is the total piece count for this torrent.
func (e *Engine) NumPieces() int {
	return e.torrent.NumPieces()
}

// CompletedCount is the number of pieces verified and written so far.
func (e *Engine) CompletedCount() int {
	return e.pieces.Bitfield().Count()
}

// ActivePeers is the number of currently live peer sessions. Valid only
// after Start has begun running (zero before then).
func (e *Engine) ActivePeers() int {
	if e.supervisor == nil {
		return 0
	}
	return e.supervisor.ActiveCount()
}

// generatePeerID produces a client identifier: a fixed -FX0001- prefix
// followed by 12 cryptographically random alphanumeric bytes. Random bytes
// are used instead of a static suffix because the peer-id is sent to
// every connected peer and identical suffixes across clients would make
// them trivially distinguishable only by IP.
func generatePeerID() ([20]byte, error) {
	var id [20]byte
	copy(id[:], "-FX0001-")
	for i := 8; i < 20; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(peerIDAlphabet))))
		if err != nil {
			return id, err
		}
		id[i] = peerIDAlphabet[n.Int64()]
	}
	return id, nil
}
