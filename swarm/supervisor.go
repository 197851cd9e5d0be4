// Package swarm runs the supervisor loop that keeps a target number of
// peer sessions alive against a torrent's candidate peer list until the
// piece manager reports the download complete. Each peer runs in its own
// goroutine; the supervisor polls periodically and refills the pool once
// the active count drops below a deficit threshold, rather than keeping
// one worker per peer running forever.
package swarm

import (
	"errors"
	"math/rand"
	"net"
	"strconv"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"fluxtorrent/elog"
	"fluxtorrent/ferrors"
	"fluxtorrent/metainfo"
	"fluxtorrent/peer"
	"fluxtorrent/pieceset"
	"fluxtorrent/storage"
	"fluxtorrent/tracker"
)

const (
	// MaxActivePeers caps concurrently open peer sessions.
	MaxActivePeers = 130
	refillDeficit  = 5
	pollInterval   = 2 * time.Second
	pauseResolve   = 1 * time.Second
)

// Supervisor owns the set of live peer sessions for one torrent download
// and keeps it topped up from a fixed candidate pool.
type Supervisor struct {
	torrent    *metainfo.Torrent
	myPeerID   [20]byte
	candidates []tracker.Peer
	pieces     *pieceset.Manager
	writer     *storage.Writer
	paused     *atomic.Bool
	logger     elog.Logger

	sessions []*peer.Session
	rng      *rand.Rand
	fatal    chan error
}

// New builds a supervisor for torrent t with the given candidate peer pool.
func New(t *metainfo.Torrent, myPeerID [20]byte, candidates []tracker.Peer, pieces *pieceset.Manager, writer *storage.Writer, paused *atomic.Bool, logger elog.Logger) *Supervisor {
	if logger == nil {
		logger = elog.NoOp()
	}
	return &Supervisor{
		torrent:    t,
		myPeerID:   myPeerID,
		candidates: candidates,
		pieces:     pieces,
		writer:     writer,
		paused:     paused,
		logger:     logger,
		rng:        rand.New(rand.NewSource(rand.Int63())),
		fatal:      make(chan error, 1),
	}
}

// Run blocks until the piece manager reports complete, spawning and
// reaping peer sessions on a fixed poll loop. It returns early with a
// FileIoError if any session reports one: unlike a hash mismatch or a
// dropped connection, a write failure is not locally recoverable and the
// whole download aborts rather than recycling the affected piece forever.
func (s *Supervisor) Run() error {
	connected := make(map[string]struct{})

	for !s.pieces.Complete() {
		select {
		case err := <-s.fatal:
			return err
		default:
		}

		if s.paused.Load() {
			time.Sleep(pauseResolve)
			continue
		}

		s.reapClosedLocked(connected)

		needed := MaxActivePeers - len(s.sessions)
		if needed > refillDeficit {
			s.refill(needed, connected)
		}

		time.Sleep(pollInterval)
	}
	return nil
}

// ActiveCount reports the number of sessions currently believed alive.
func (s *Supervisor) ActiveCount() int {
	return len(s.sessions)
}

func (s *Supervisor) reapClosedLocked(connected map[string]struct{}) {
	live := s.sessions[:0]
	for _, sess := range s.sessions {
		if sess.Closed() {
			delete(connected, sess.IP.String())
			continue
		}
		live = append(live, sess)
	}
	s.sessions = live
}

func (s *Supervisor) refill(needed int, connected map[string]struct{}) {
	order := s.rng.Perm(len(s.candidates))

	var g errgroup.Group
	spawned := 0
	for _, idx := range order {
		if spawned >= needed {
			break
		}
		cand := s.candidates[idx]
		key := cand.IP.String()
		if _, already := connected[key]; already {
			continue
		}
		connected[key] = struct{}{}
		spawned++

		sess := peer.New(cand.IP, cand.Port, s.torrent, s.myPeerID, s.pieces, s.writer, s.paused, s.logger)
		s.sessions = append(s.sessions, sess)

		addr := net.JoinHostPort(cand.IP.String(), strconv.Itoa(int(cand.Port)))
		g.Go(func() error {
			if err := sess.Start(); err != nil {
				s.logger.Warnf("peer session %s closed: %v", addr, err)
				var fio *ferrors.FileIoError
				if errors.As(err, &fio) {
					select {
					case s.fatal <- err:
					default:
					}
				}
			}
			return nil
		})
	}
	// Session goroutines run detached; the errgroup here only exists to
	// give each spawn batch a single place that could collect a startup
	// error if one were ever made fatal, without blocking the poll loop
	// waiting on them.
	go g.Wait()
}
