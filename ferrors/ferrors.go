// Package ferrors defines the engine's error taxonomy. Each type carries
// just enough context to log or report the failure, as concrete types
// usable with errors.As instead of string matching.
package ferrors

import "fmt"

// InvalidMetainfo means the .torrent file failed a structural or security
// check (bad piece-hash length, unsafe file path, ambiguous single/
// multi-file mode, ...). It is unrecoverable: the engine refuses to start.
type InvalidMetainfo struct {
	Reason string
}

func (e *InvalidMetainfo) Error() string {
	return fmt.Sprintf("invalid metainfo: %s", e.Reason)
}

// TrackerFailure wraps a single tracker URL's announce failure. It is
// always recoverable: the tracker client logs it and moves to the next URL.
type TrackerFailure struct {
	URL   string
	Cause error
}

func (e *TrackerFailure) Error() string {
	return fmt.Sprintf("tracker %s failed: %v", e.URL, e.Cause)
}

func (e *TrackerFailure) Unwrap() error { return e.Cause }

// NoPeers means every tracker in the announce list yielded zero candidates.
// The engine logs it through Warnf (elog.Logger has no critical level) and
// returns it without starting the swarm.
type NoPeers struct{}

func (e *NoPeers) Error() string { return "no peers found from any tracker" }

// PeerSessionError wraps a per-session failure (handshake, framing, I/O).
// The session transitions to closed and the supervisor reaps it; only when
// it wraps a FileIoError does the supervisor return it to abort the
// download.
type PeerSessionError struct {
	Peer  string
	Cause error
}

func (e *PeerSessionError) Error() string {
	return fmt.Sprintf("peer session %s: %v", e.Peer, e.Cause)
}

func (e *PeerSessionError) Unwrap() error { return e.Cause }

// PieceHashMismatch means a fully-buffered piece failed SHA-1 verification.
// The piece is recycled to missing; there is no user-visible effect beyond
// that.
type PieceHashMismatch struct {
	Index int
}

func (e *PieceHashMismatch) Error() string {
	return fmt.Sprintf("piece %d failed hash verification", e.Index)
}

// FileIoError is fatal: the engine aborts the download.
type FileIoError struct {
	Path  string
	Cause error
}

func (e *FileIoError) Error() string {
	return fmt.Sprintf("file i/o error on %s: %v", e.Path, e.Cause)
}

func (e *FileIoError) Unwrap() error { return e.Cause }
