package metainfo

import (
	"crypto/sha1"
	"strings"
	"testing"

	"fluxtorrent/bencoding"
)

func singleFileTorrentBytes(pieceLength int64, length int64, numPieces int) []byte {
	pieces := strings.Repeat("AAAAAAAAAAAAAAAAAAAA", numPieces) // 20 bytes each, not real hashes
	info := bencoding.Value{Kind: bencoding.KindDict, Dict: []bencoding.DictEntry{
		{Key: []byte("length"), Value: bencoding.Int(length)},
		{Key: []byte("name"), Value: bencoding.String("movie.mkv")},
		{Key: []byte("piece length"), Value: bencoding.Int(pieceLength)},
		{Key: []byte("pieces"), Value: bencoding.String(pieces)},
	}}
	top := bencoding.Value{Kind: bencoding.KindDict, Dict: []bencoding.DictEntry{
		{Key: []byte("announce"), Value: bencoding.String("http://tracker.example/announce")},
		{Key: []byte("info"), Value: info},
	}}
	return bencoding.Encode(top)
}

func TestParseSingleFile(t *testing.T) {
	data := singleFileTorrentBytes(64, 1000, 16)
	tr, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Name != "movie.mkv" {
		t.Errorf("got name %q", tr.Name)
	}
	if tr.TotalLength != 1000 {
		t.Errorf("got total length %d", tr.TotalLength)
	}
	if len(tr.Files) != 1 || tr.Files[0].Path != "movie.mkv" {
		t.Errorf("got files %+v", tr.Files)
	}
	if tr.NumPieces() != 16 {
		t.Errorf("got %d pieces", tr.NumPieces())
	}
}

func TestShortLastPiece(t *testing.T) {
	// total 1000, piece length 384 -> 3 pieces, sizes 384, 384, 232.
	data := singleFileTorrentBytes(384, 1000, 3)
	tr, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.PieceLen(0) != 384 || tr.PieceLen(1) != 384 {
		t.Fatalf("expected full pieces of 384, got %d, %d", tr.PieceLen(0), tr.PieceLen(1))
	}
	if tr.PieceLen(2) != 232 {
		t.Fatalf("expected short final piece of 232, got %d", tr.PieceLen(2))
	}
}

func TestMultiFile(t *testing.T) {
	info := bencoding.Value{Kind: bencoding.KindDict, Dict: []bencoding.DictEntry{
		{Key: []byte("name"), Value: bencoding.String("pack")},
		{Key: []byte("piece length"), Value: bencoding.Int(64)},
		{Key: []byte("pieces"), Value: bencoding.String(strings.Repeat("A", 20*5))},
		{Key: []byte("files"), Value: bencoding.Value{Kind: bencoding.KindList, List: []bencoding.Value{
			fileEntry([]string{"a.txt"}, 100),
			fileEntry([]string{"sub", "b.txt"}, 50),
		}}},
	}}
	top := bencoding.Value{Kind: bencoding.KindDict, Dict: []bencoding.DictEntry{
		{Key: []byte("announce"), Value: bencoding.String("http://tracker.example/announce")},
		{Key: []byte("info"), Value: info},
	}}
	tr, err := Parse(bencoding.Encode(top))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tr.Files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(tr.Files))
	}
	if tr.Files[1].Path != "sub/b.txt" {
		t.Fatalf("expected joined path sub/b.txt, got %q", tr.Files[1].Path)
	}
	if tr.TotalLength != 150 {
		t.Fatalf("expected total 150, got %d", tr.TotalLength)
	}
}

func TestRejectsUnsafePath(t *testing.T) {
	info := bencoding.Value{Kind: bencoding.KindDict, Dict: []bencoding.DictEntry{
		{Key: []byte("name"), Value: bencoding.String("pack")},
		{Key: []byte("piece length"), Value: bencoding.Int(64)},
		{Key: []byte("pieces"), Value: bencoding.String(strings.Repeat("A", 20))},
		{Key: []byte("files"), Value: bencoding.Value{Kind: bencoding.KindList, List: []bencoding.Value{
			fileEntry([]string{"..", "etc", "passwd"}, 10),
		}}},
	}}
	top := bencoding.Value{Kind: bencoding.KindDict, Dict: []bencoding.DictEntry{
		{Key: []byte("announce"), Value: bencoding.String("http://tracker.example/announce")},
		{Key: []byte("info"), Value: info},
	}}
	_, err := Parse(bencoding.Encode(top))
	if err == nil {
		t.Fatal("expected an error for a path traversal attempt")
	}
}

func TestRejectsBothLengthAndFiles(t *testing.T) {
	info := bencoding.Value{Kind: bencoding.KindDict, Dict: []bencoding.DictEntry{
		{Key: []byte("name"), Value: bencoding.String("pack")},
		{Key: []byte("piece length"), Value: bencoding.Int(64)},
		{Key: []byte("pieces"), Value: bencoding.String(strings.Repeat("A", 20))},
		{Key: []byte("length"), Value: bencoding.Int(10)},
		{Key: []byte("files"), Value: bencoding.Value{Kind: bencoding.KindList, List: []bencoding.Value{
			fileEntry([]string{"a"}, 10),
		}}},
	}}
	top := bencoding.Value{Kind: bencoding.KindDict, Dict: []bencoding.DictEntry{
		{Key: []byte("announce"), Value: bencoding.String("http://tracker.example/announce")},
		{Key: []byte("info"), Value: info},
	}}
	_, err := Parse(bencoding.Encode(top))
	if err == nil {
		t.Fatal("expected an error when both length and files are present")
	}
}

func TestInfoHashUsesRawSourceBytes(t *testing.T) {
	// Deliberately out-of-lexicographic-order info dict keys, which occurs
	// in the wild despite being non-conformant. The info-hash must be the
	// SHA-1 of exactly these bytes, not of a re-encoded (sorted) copy.
	rawInfo := "d4:name4:abcd6:lengthi10e12:piece lengthi64e6:pieces20:AAAAAAAAAAAAAAAAAAAAe"
	top := "d8:announce9:http://x/4:info" + rawInfo + "e"
	tr, err := Parse([]byte(top))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := sha1.Sum([]byte(rawInfo))
	if tr.InfoHash != want {
		t.Fatalf("info-hash mismatch: got %x, want %x", tr.InfoHash, want)
	}

	// A naive decode-then-re-encode-then-hash approach gives a different
	// value, because encoding always sorts dict keys.
	v, err := bencoding.Decode([]byte(rawInfo))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reencoded := bencoding.Encode(v)
	naive := sha1.Sum(reencoded)
	if naive == want {
		t.Fatal("expected the naive re-encode hash to differ from the correct span hash")
	}
}

func fileEntry(pathComponents []string, length int64) bencoding.Value {
	comps := make([]bencoding.Value, len(pathComponents))
	for i, c := range pathComponents {
		comps[i] = bencoding.String(c)
	}
	return bencoding.Value{Kind: bencoding.KindDict, Dict: []bencoding.DictEntry{
		{Key: []byte("length"), Value: bencoding.Int(length)},
		{Key: []byte("path"), Value: bencoding.Value{Kind: bencoding.KindList, List: comps}},
	}}
}
