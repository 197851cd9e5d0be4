// Package storage pre-allocates a torrent's output files and scatter-writes
// verified piece data into the correct byte ranges, possibly spanning
// several files.
package storage

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"fluxtorrent/ferrors"
	"fluxtorrent/metainfo"
)

type slot struct {
	mu    sync.Mutex
	file  *os.File
	start int64
	end   int64
	path  string
}

// Writer owns one open file handle per torrent file slot, covering
// [0, TotalLength) of the concatenated virtual byte stream contiguously.
type Writer struct {
	slots       []*slot
	pieceLength int64
}

// New creates save_path/name, pre-allocates and opens every file slot, and
// returns a Writer ready to accept verified piece data.
func New(savePath string, t *metainfo.Torrent) (*Writer, error) {
	baseDir := filepath.Join(savePath, t.Name)
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, &ferrors.FileIoError{Path: baseDir, Cause: err}
	}

	w := &Writer{pieceLength: t.PieceLength}
	var offset int64
	for _, f := range t.Files {
		fullPath := filepath.Join(baseDir, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
			return nil, &ferrors.FileIoError{Path: fullPath, Cause: err}
		}
		if err := preallocate(fullPath, f.Length); err != nil {
			return nil, &ferrors.FileIoError{Path: fullPath, Cause: err}
		}
		fh, err := os.OpenFile(fullPath, os.O_RDWR, 0o644)
		if err != nil {
			return nil, &ferrors.FileIoError{Path: fullPath, Cause: err}
		}
		w.slots = append(w.slots, &slot{
			file:  fh,
			start: offset,
			end:   offset + f.Length,
			path:  fullPath,
		})
		offset += f.Length
	}
	return w, nil
}

// preallocate reserves length bytes on disk for a not-yet-existing file
// using the seek(length-1); write(0) sparse-file trick, which is portable
// across platforms unlike an explicit ftruncate call.
func preallocate(path string, length int64) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	defer fh.Close()
	if length == 0 {
		return nil
	}
	if _, err := fh.WriteAt([]byte{0}, length-1); err != nil {
		return err
	}
	return nil
}

// Write places data — the verified bytes of piece pieceIndex — into every
// file slot it overlaps. len(data) is used rather than the nominal piece
// length so the short final piece is handled without a special case.
func (w *Writer) Write(pieceIndex int, data []byte) error {
	pieceStart := int64(pieceIndex) * w.pieceLength
	pieceEnd := pieceStart + int64(len(data))

	for _, s := range w.slots {
		if pieceEnd <= s.start || pieceStart >= s.end {
			continue
		}
		writeStart := max64(pieceStart, s.start)
		writeEnd := min64(pieceEnd, s.end)
		chunk := data[writeStart-pieceStart : writeEnd-pieceStart]

		s.mu.Lock()
		_, err := s.file.WriteAt(chunk, writeStart-s.start)
		s.mu.Unlock()
		if err != nil {
			return &ferrors.FileIoError{Path: s.path, Cause: err}
		}
	}
	return nil
}

// Close closes every open file handle and returns all close errors joined
// together (nil if every handle closed cleanly).
func (w *Writer) Close() error {
	var errs []error
	for _, s := range w.slots {
		if err := s.file.Close(); err != nil {
			errs = append(errs, &ferrors.FileIoError{Path: s.path, Cause: err})
		}
	}
	return errors.Join(errs...)
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
