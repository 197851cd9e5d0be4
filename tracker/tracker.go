// Package tracker obtains candidate peers for a torrent by announcing to
// every URL in a metainfo's announce list, dispatching on URL scheme to
// either the HTTP (BEP 3) or UDP (BEP 15) announce protocol.
package tracker

import (
	"net"
	"net/url"
	"strconv"

	"fluxtorrent/elog"
	"fluxtorrent/ferrors"
)

// Peer is one candidate (ip, port) pair returned by a tracker announce.
type Peer struct {
	IP   net.IP
	Port uint16
}

func (p Peer) key() string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(int(p.Port)))
}

// Request carries the parameters common to every announce, independent of
// transport.
type Request struct {
	InfoHash [20]byte
	PeerID   [20]byte
	Port     uint16
	Left     int64
}

// Announce iterates announceList in order, attempting each URL once, and
// returns the deduplicated union of every peer any tracker returned.
// Per-URL failures are logged and otherwise ignored; they never abort the
// scan.
func Announce(announceList []string, req Request, logger elog.Logger) []Peer {
	if logger == nil {
		logger = elog.NoOp()
	}

	seen := make(map[string]struct{})
	var out []Peer

	for _, raw := range announceList {
		u, err := url.Parse(raw)
		if err != nil {
			logger.Warnf("tracker %s: unparseable URL: %v", raw, err)
			continue
		}

		var peers []Peer
		switch u.Scheme {
		case "http", "https":
			peers, err = announceHTTP(u, req)
		case "udp":
			peers, err = announceUDP(u, req)
		default:
			continue
		}
		if err != nil {
			logger.Warnf("tracker %s: %v", raw, &ferrors.TrackerFailure{URL: raw, Cause: err})
			continue
		}

		logger.Infof("found %d peers from %s", len(peers), raw)
		for _, p := range peers {
			k := p.key()
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, p)
		}
	}

	logger.Infof("%d unique peer candidates after dedup", len(out))
	return out
}
