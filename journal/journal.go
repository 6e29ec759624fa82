// Package journal persists replicated state as a checksummed append-only
// log. A journal holds one snapshot-then-deltas stream; mounting replays
// the stream into a value and then appends every further mutation.
package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/loqui-lang/loqui/crdt"
)

// Record kinds.
const (
	kindSnapshot byte = 1
	kindDelta    byte = 2
)

// headerSize is the fixed prefix of every record: 4-byte little-endian
// body length and 4-byte CRC32 (IEEE) of the body. The body is the kind
// byte followed by the payload.
const headerSize = 8

var (
	// ErrLocked is returned when another process holds the journal.
	ErrLocked = errors.New("journal: already locked by another owner")
	// ErrChecksum is returned when a record body fails its checksum. The
	// state replayed so far is valid; the file is not modified.
	ErrChecksum = errors.New("journal: checksum mismatch")
)

// Journal is an exclusive handle on one log file.
type Journal struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// Open creates or opens the journal at path and takes an exclusive
// advisory lock on it. A journal has a single owner; a second open fails
// with ErrLocked.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("journal: flock %s: %w", path, err)
	}
	return &Journal{path: path, f: f}, nil
}

// Close releases the lock and the file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

// Replay merges every intact record into x in file order and positions the
// journal for appending. A truncated tail is discarded: the file is cut
// back to the last complete record so later appends continue cleanly. A
// checksum mismatch stops the replay at the last good record and returns
// ErrChecksum; x still holds the state up to that point.
func (j *Journal) Replay(x crdt.Replicated) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	var good int64
	header := make([]byte, headerSize)
	for {
		if _, err := io.ReadFull(j.f, header); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return j.truncateTo(good)
			}
			return fmt.Errorf("journal: %w", err)
		}
		length := binary.LittleEndian.Uint32(header[:4])
		sum := binary.LittleEndian.Uint32(header[4:8])
		if length == 0 {
			return j.truncateTo(good)
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(j.f, body); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return j.truncateTo(good)
			}
			return fmt.Errorf("journal: %w", err)
		}
		if crc32.ChecksumIEEE(body) != sum {
			if _, err := j.f.Seek(good, io.SeekStart); err != nil {
				return fmt.Errorf("journal: %w", err)
			}
			return fmt.Errorf("%w at offset %d", ErrChecksum, good)
		}
		if err := x.MergeState(body[1:]); err != nil {
			return fmt.Errorf("journal: replay record at offset %d: %w", good, err)
		}
		good += headerSize + int64(length)
	}
	_, err := j.f.Seek(good, io.SeekStart)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	return nil
}

func (j *Journal) truncateTo(off int64) error {
	if err := j.f.Truncate(off); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	if _, err := j.f.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	return nil
}

// AppendDelta appends a delta record.
func (j *Journal) AppendDelta(payload []byte) error {
	return j.append(kindDelta, payload)
}

// AppendSnapshot appends a full-state record.
func (j *Journal) AppendSnapshot(x crdt.Replicated) error {
	state, err := x.State()
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	return j.append(kindSnapshot, state)
}

func (j *Journal) append(kind byte, payload []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.appendLocked(kind, payload)
}

func (j *Journal) appendLocked(kind byte, payload []byte) error {
	body := make([]byte, 1+len(payload))
	body[0] = kind
	copy(body[1:], payload)

	rec := make([]byte, headerSize+len(body))
	binary.LittleEndian.PutUint32(rec[:4], uint32(len(body)))
	binary.LittleEndian.PutUint32(rec[4:8], crc32.ChecksumIEEE(body))
	copy(rec[headerSize:], body)

	if _, err := j.f.Write(rec); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	return j.f.Sync()
}

// Compact rewrites the journal as a single snapshot of x.
func (j *Journal) Compact(x crdt.Replicated) error {
	state, err := x.State()
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.f.Truncate(0); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	if _, err := j.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	return j.appendLocked(kindSnapshot, state)
}

// Size returns the current file size in bytes.
func (j *Journal) Size() (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	info, err := j.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("journal: %w", err)
	}
	return info.Size(), nil
}

// Mount binds x to the journal at path for the life of the process: replay
// existing records into x, snapshot if the file is empty, then append a
// delta for every further mutation. Generated programs call this once per
// persisted value.
func Mount(path string, x crdt.Replicated) error {
	j, err := Open(path)
	if err != nil {
		return err
	}
	if err := j.Replay(x); err != nil {
		j.Close()
		return err
	}
	size, err := j.Size()
	if err != nil {
		j.Close()
		return err
	}
	if size == 0 {
		if err := j.AppendSnapshot(x); err != nil {
			j.Close()
			return err
		}
	}
	x.Subscribe(func(delta []byte) {
		// Errors here cannot reach the caller; the next mount replays a
		// shorter but intact prefix.
		_ = j.AppendDelta(delta)
	})
	return nil
}
