// Package metainfo loads and validates .torrent files into a typed,
// immutable descriptor, computing the info-hash over the original source
// bytes of the info dictionary rather than a re-encoding of it.
package metainfo

import (
	"crypto/sha1"
	"os"
	"path"
	"strings"

	"fluxtorrent/bencoding"
	"fluxtorrent/ferrors"
)

// File describes one output file within a (possibly multi-file) torrent,
// given as a path relative to the torrent's root directory.
type File struct {
	Path   string
	Length int64
}

// Torrent is the immutable, parsed form of a .torrent file.
type Torrent struct {
	Announce     string
	AnnounceList []string
	Name         string
	PieceLength  int64
	Files        []File
	TotalLength  int64
	PiecesHashes [][20]byte
	InfoHash     [20]byte
	PeerID       [20]byte
}

// NumPieces is the number of SHA-1 hashes carried by the torrent.
func (t *Torrent) NumPieces() int {
	return len(t.PiecesHashes)
}

// PieceLen returns the effective length of piece i: PieceLength for every
// piece except a short final piece, whose length is TotalLength mod
// PieceLength (or PieceLength itself when that remainder is zero).
func (t *Torrent) PieceLen(i int) int64 {
	if i != t.NumPieces()-1 {
		return t.PieceLength
	}
	if rem := t.TotalLength % t.PieceLength; rem != 0 {
		return rem
	}
	return t.PieceLength
}

// Load reads, decodes and validates a .torrent file at path.
func Load(filePath string) (*Torrent, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, &ferrors.FileIoError{Path: filePath, Cause: err}
	}
	return Parse(data)
}

// Parse decodes and validates the raw bytes of a .torrent file.
func Parse(data []byte) (*Torrent, error) {
	top, spans, err := bencoding.DecodeTopLevelDict(data)
	if err != nil {
		return nil, err
	}

	announceVal, ok := top.Get("announce")
	if !ok || announceVal.Kind != bencoding.KindBytes {
		return nil, &ferrors.InvalidMetainfo{Reason: "missing announce"}
	}
	announce := string(announceVal.Bytes)

	announceList := parseAnnounceList(top, announce)

	infoSpan, ok := spans["info"]
	if !ok {
		return nil, &ferrors.InvalidMetainfo{Reason: "missing info dictionary"}
	}
	info, ok := top.Get("info")
	if !ok || info.Kind != bencoding.KindDict {
		return nil, &ferrors.InvalidMetainfo{Reason: "info is not a dictionary"}
	}

	nameVal, ok := info.Get("name")
	if !ok || nameVal.Kind != bencoding.KindBytes {
		return nil, &ferrors.InvalidMetainfo{Reason: "missing name"}
	}
	name := string(nameVal.Bytes)

	pieceLenVal, ok := info.Get("piece length")
	if !ok || pieceLenVal.Kind != bencoding.KindInt || pieceLenVal.Int <= 0 {
		return nil, &ferrors.InvalidMetainfo{Reason: "piece length must be a positive integer"}
	}

	piecesVal, ok := info.Get("pieces")
	if !ok || piecesVal.Kind != bencoding.KindBytes {
		return nil, &ferrors.InvalidMetainfo{Reason: "missing pieces"}
	}
	if len(piecesVal.Bytes)%20 != 0 {
		return nil, &ferrors.InvalidMetainfo{Reason: "pieces length is not a multiple of 20"}
	}

	lengthVal, hasLength := info.Get("length")
	filesVal, hasFiles := info.Get("files")
	if hasLength == hasFiles {
		return nil, &ferrors.InvalidMetainfo{Reason: "exactly one of info.length or info.files must be present"}
	}

	var files []File
	if hasLength {
		if lengthVal.Kind != bencoding.KindInt || lengthVal.Int < 0 {
			return nil, &ferrors.InvalidMetainfo{Reason: "length must be a non-negative integer"}
		}
		files = []File{{Path: name, Length: lengthVal.Int}}
	} else {
		var err error
		files, err = parseFiles(filesVal)
		if err != nil {
			return nil, err
		}
	}

	var total int64
	for _, f := range files {
		total += f.Length
	}
	if total <= 0 {
		return nil, &ferrors.InvalidMetainfo{Reason: "total length must be positive"}
	}

	pieces := splitHashes(piecesVal.Bytes)

	return &Torrent{
		Announce:     announce,
		AnnounceList: announceList,
		Name:         name,
		PieceLength:  pieceLenVal.Int,
		Files:        files,
		TotalLength:  total,
		PiecesHashes: pieces,
		InfoHash:     sha1.Sum(infoSpan),
	}, nil
}

func parseAnnounceList(top bencoding.Value, announce string) []string {
	listVal, ok := top.Get("announce-list")
	if !ok || listVal.Kind != bencoding.KindList {
		return []string{announce}
	}
	var urls []string
	for _, tier := range listVal.List {
		if tier.Kind != bencoding.KindList {
			continue
		}
		for _, u := range tier.List {
			if u.Kind == bencoding.KindBytes {
				urls = append(urls, string(u.Bytes))
			}
		}
	}
	if len(urls) == 0 {
		return []string{announce}
	}
	return urls
}

func parseFiles(filesVal bencoding.Value) ([]File, error) {
	if filesVal.Kind != bencoding.KindList || len(filesVal.List) == 0 {
		return nil, &ferrors.InvalidMetainfo{Reason: "files must be a non-empty list"}
	}
	files := make([]File, 0, len(filesVal.List))
	for _, entry := range filesVal.List {
		if entry.Kind != bencoding.KindDict {
			return nil, &ferrors.InvalidMetainfo{Reason: "each file entry must be a dictionary"}
		}
		lengthVal, ok := entry.Get("length")
		if !ok || lengthVal.Kind != bencoding.KindInt || lengthVal.Int < 0 {
			return nil, &ferrors.InvalidMetainfo{Reason: "file length must be a non-negative integer"}
		}
		pathVal, ok := entry.Get("path")
		if !ok || pathVal.Kind != bencoding.KindList || len(pathVal.List) == 0 {
			return nil, &ferrors.InvalidMetainfo{Reason: "file path must be a non-empty list"}
		}
		components := make([]string, 0, len(pathVal.List))
		for _, c := range pathVal.List {
			if c.Kind != bencoding.KindBytes {
				return nil, &ferrors.InvalidMetainfo{Reason: "file path component must be a byte string"}
			}
			components = append(components, strings.ReplaceAll(string(c.Bytes), "\\", "/"))
		}
		safePath, err := safeJoin(components)
		if err != nil {
			return nil, err
		}
		files = append(files, File{Path: safePath, Length: lengthVal.Int})
	}
	return files, nil
}

// safeJoin joins path components with '/', rejecting absolute paths and
// any ".." component so a malicious path list can't escape the output
// directory.
func safeJoin(components []string) (string, error) {
	for _, c := range components {
		for _, part := range strings.Split(c, "/") {
			if part == ".." {
				return "", &ferrors.InvalidMetainfo{Reason: "unsafe path"}
			}
		}
	}
	joined := strings.Join(components, "/")
	if path.IsAbs(joined) {
		return "", &ferrors.InvalidMetainfo{Reason: "unsafe path"}
	}
	return joined, nil
}

func splitHashes(pieces []byte) [][20]byte {
	n := len(pieces) / 20
	hashes := make([][20]byte, n)
	for i := 0; i < n; i++ {
		copy(hashes[i][:], pieces[i*20:(i+1)*20])
	}
	return hashes
}
