package wal

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stratadb/strata/pkg/metrics"
)

// Writer appends records to the active segment file, rotating to a new
// segment once the active one crosses Options.SegmentSizeThreshold. An
// Ephemeral Writer holds no file at all; every call is a no-op beyond
// handing out LSNs, for in-memory-only databases that never replay.
type Writer struct {
	mu      sync.Mutex
	dir     string
	options Options

	file          *os.File
	writer        *bufio.Writer
	segmentID     int
	segmentBytes  int64
	batchBytes    int64
	pendingRotate bool

	nextLSN uint64 // atomic

	done   chan struct{}
	ticker *time.Ticker
	closed bool
}

// NewWriter opens (or creates) the active segment in opts.Dir, resuming the
// highest-numbered existing segment id, and starts the background sync
// ticker under DurabilityBuffered.
func NewWriter(opts Options) (*Writer, error) {
	if opts.Ephemeral {
		return &Writer{options: opts, closed: true}, nil
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: create dir: %w", err)
	}

	ids, err := listSegmentIDs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("wal: list segments: %w", err)
	}

	id := 1
	if len(ids) > 0 {
		id = ids[len(ids)-1]
	}

	f, err := os.OpenFile(segmentPath(opts.Dir, id), os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open segment: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("wal: stat segment: %w", err)
	}

	w := &Writer{
		dir:          opts.Dir,
		options:      opts,
		file:         f,
		writer:       bufio.NewWriterSize(f, opts.BufferSize),
		segmentID:    id,
		segmentBytes: stat.Size(),
		done:         make(chan struct{}),
	}

	if opts.Durability == DurabilityBuffered && opts.FlushInterval > 0 {
		w.ticker = time.NewTicker(opts.FlushInterval)
		go w.backgroundSync()
	}

	return w, nil
}

// NextLSN allocates and returns the next log sequence number. LSNs are
// assigned even for an ephemeral writer so callers never special-case it.
func (w *Writer) NextLSN() uint64 {
	return atomic.AddUint64(&w.nextLSN, 1)
}

// Append writes one record to the active segment and returns the LSN it was
// assigned. Rotation, if the segment just crossed its size threshold, is
// deferred: the caller must call MaybeRotate once it no longer holds the
// commit mutex, so a slow file-system operation never blocks a commit.
func (w *Writer) Append(rec Record) (uint64, error) {
	lsn := w.NextLSN()
	if w.options.Ephemeral {
		return lsn, nil
	}

	payload := EncodeRecord(rec)
	entry := AcquireEntry()
	defer ReleaseEntry(entry)
	entry.Header = WALHeader{
		Magic:      WALMagic,
		Version:    WALVersion,
		EntryType:  uint8(rec.Kind),
		LSN:        lsn,
		PayloadLen: uint32(len(payload)),
		CRC32:      CalculateCRC32(payload),
	}
	entry.Payload = append(entry.Payload[:0], payload...)

	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := entry.WriteTo(w.writer)
	if err != nil {
		return lsn, fmt.Errorf("wal: write entry: %w", err)
	}
	metrics.WALAppendBytesTotal.Add(float64(n))
	w.batchBytes += n
	w.segmentBytes += n
	if w.segmentBytes >= w.options.SegmentSizeThreshold {
		w.pendingRotate = true
	}

	switch w.options.Durability {
	case DurabilityStrict:
		if rec.Kind == KindCommitTxn {
			if err := w.syncLocked(); err != nil {
				return lsn, err
			}
		}
	case DurabilityBuffered:
		if w.batchBytes >= w.options.SyncBatchBytes {
			if err := w.syncLocked(); err != nil {
				return lsn, err
			}
		}
	}

	return lsn, nil
}

// MaybeRotate switches to a new segment file if the active one has crossed
// its size threshold. Safe to call unconditionally after every commit; it is
// a no-op when no rotation is pending. Must be called outside any commit
// mutex the caller holds.
func (w *Writer) MaybeRotate() error {
	if w.options.Ephemeral {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.pendingRotate {
		return nil
	}
	return w.rotateLocked()
}

func (w *Writer) rotateLocked() error {
	if err := w.syncLocked(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("wal: close segment %d: %w", w.segmentID, err)
	}

	newID := w.segmentID + 1
	f, err := os.OpenFile(segmentPath(w.dir, newID), os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("wal: create segment %d: %w", newID, err)
	}

	w.file = f
	w.writer = bufio.NewWriterSize(f, w.options.BufferSize)
	w.segmentID = newID
	w.segmentBytes = 0
	w.pendingRotate = false
	return nil
}

// Sync forces the active segment to stable storage.
func (w *Writer) Sync() error {
	if w.options.Ephemeral {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

func (w *Writer) syncLocked() error {
	timer := metrics.NewTimer()
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("wal: flush: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal: fsync: %w", err)
	}
	timer.ObserveDuration(metrics.WALFsyncDuration)
	w.batchBytes = 0
	return nil
}

// Close flushes, fsyncs and closes the active segment, and stops the
// background sync ticker. It writes no marker record; ReadAll treats the
// last segment's tail the same whether or not Close ran.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.options.Ephemeral {
		return nil
	}

	if w.ticker != nil {
		w.ticker.Stop()
		close(w.done)
	}

	if err := w.syncLocked(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

func (w *Writer) backgroundSync() {
	for {
		select {
		case <-w.ticker.C:
			w.Sync()
		case <-w.done:
			return
		}
	}
}
