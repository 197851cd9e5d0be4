package tracker

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	bencode "github.com/jackpal/bencode-go"

	"fluxtorrent/bencoding"
)

const httpAnnounceTimeout = 5 * time.Second

// trackerResponse is the bencoded dictionary an HTTP tracker replies with,
// including the failure-reason field a tracker sends instead of peers when
// it rejects an announce.
type trackerResponse struct {
	FailureReason string `bencode:"failure reason"`
	Interval      int    `bencode:"interval"`
	Peers         string `bencode:"peers"`
}

func announceHTTP(u *url.URL, req Request) ([]Peer, error) {
	q := url.Values{
		"port":       {strconv.Itoa(int(req.Port))},
		"uploaded":   {"0"},
		"downloaded": {"0"},
		"left":       {strconv.FormatInt(req.Left, 10)},
		"compact":    {"1"},
		"event":      {"started"},
		"info_hash":  {string(req.InfoHash[:])},
		"peer_id":    {string(req.PeerID[:])},
	}
	announceURL := *u
	announceURL.RawQuery = q.Encode()

	client := &http.Client{Timeout: httpAnnounceTimeout}
	resp, err := client.Get(announceURL.String())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tracker returned status %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var tr trackerResponse
	if err := bencode.Unmarshal(bytes.NewReader(body), &tr); err == nil {
		if tr.FailureReason != "" {
			return nil, fmt.Errorf("tracker failure: %s", tr.FailureReason)
		}
		if tr.Peers != "" {
			return parseCompactPeers([]byte(tr.Peers)), nil
		}
	}

	// jackpal/bencode-go's struct unmarshal requires "peers" to be a byte
	// string; some well-behaved trackers instead reply with a list of
	// {ip, port} dictionaries. Fall back to our own decoder, which doesn't
	// commit to either shape up front, before treating the body as a raw
	// compact stream as a last resort.
	if peers, ok := parseDictPeers(body); ok {
		return peers, nil
	}

	return parseCompactPeers(body), nil
}

// parseDictPeers handles the non-compact tracker reply form: a bencoded
// dictionary whose "peers" value is a list of {ip: <string>, port: <int>}
// dictionaries rather than a packed byte string.
func parseDictPeers(body []byte) ([]Peer, bool) {
	top, err := bencoding.Decode(body)
	if err != nil || top.Kind != bencoding.KindDict {
		return nil, false
	}
	peersVal, ok := top.Get("peers")
	if !ok || peersVal.Kind != bencoding.KindList {
		return nil, false
	}

	peers := make([]Peer, 0, len(peersVal.List))
	for _, entry := range peersVal.List {
		if entry.Kind != bencoding.KindDict {
			continue
		}
		ipVal, hasIP := entry.Get("ip")
		portVal, hasPort := entry.Get("port")
		if !hasIP || !hasPort || ipVal.Kind != bencoding.KindBytes || portVal.Kind != bencoding.KindInt {
			continue
		}
		ip := net.ParseIP(string(ipVal.Bytes)).To4()
		if ip == nil {
			continue
		}
		peers = append(peers, Peer{IP: ip, Port: uint16(portVal.Int)})
	}
	return peers, true
}
