package storage

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrWALClosed is returned when appending to a closed WAL.
	ErrWALClosed = errors.New("wal is closed")

	// ErrWALWorkerStuck guards Close against a wedged worker goroutine.
	ErrWALWorkerStuck = errors.New("wal worker stuck")
)

// WAL is an append-only operation log with a single-writer worker.
//
// Concurrency model:
//   - Many goroutines may call Append; exactly one goroutine owns the file.
//   - Requests travel over an unbuffered channel, so every Append blocks
//     until the worker has written and fsynced the record. Ordering is the
//     channel hand-off order, which equals acknowledgement order.
//   - Encoding happens in the caller's goroutine; the worker only does I/O.
type WAL struct {
	path string
	log  *zap.Logger

	file *os.File
	reqc chan walRequest
	done chan struct{}

	closeOnce sync.Once
}

// OpenWAL opens (or creates) the log at path for append and starts the
// worker. The file handle is owned exclusively by the worker.
func OpenWAL(path string, log *zap.Logger) (*WAL, error) {
	if log == nil {
		log = zap.NewNop()
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}

	w := &WAL{
		path: path,
		log:  log.Named("wal"),
		file: f,
		reqc: make(chan walRequest), // unbuffered: Append handshakes with fsync
		done: make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Append durably writes one record. The caller blocks until the record is
// written and fsynced. A non-nil error means the record is NOT on disk and
// the caller must not apply the mutation in memory.
func (w *WAL) Append(rec Record) error {
	payload, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	return w.submit(walRequest{op: walAppend, payload: payload})
}

// Truncate discards the whole log and reopens it for append. Used by
// snapshot compaction after the snapshot rename has committed.
func (w *WAL) Truncate() error {
	return w.submit(walRequest{op: walTruncate})
}

// Close flushes and shuts down the worker. Safe to call more than once.
func (w *WAL) Close() error {
	first := false
	w.closeOnce.Do(func() {
		first = true
		close(w.done) // unblock pending Appends before the worker exits
	})
	if !first {
		return nil
	}

	reply := make(chan error, 1)
	select {
	case w.reqc <- walRequest{op: walClose, reply: reply}:
		return <-reply
	case <-time.After(time.Second):
		return ErrWALWorkerStuck
	}
}

func (w *WAL) submit(req walRequest) error {
	req.reply = make(chan error, 1)
	select {
	case w.reqc <- req:
		return <-req.reply
	case <-w.done:
		return ErrWALClosed
	}
}

type walOp int

const (
	walAppend walOp = iota
	walTruncate
	walClose
)

type walRequest struct {
	op      walOp
	payload []byte
	reply   chan error
}

// run is the WAL event loop. Exactly one goroutine executes it; it owns
// the file handle and serialises every write and truncate.
func (w *WAL) run() {
	for req := range w.reqc {
		switch req.op {
		case walAppend:
			req.reply <- w.append(req.payload)
		case walTruncate:
			req.reply <- w.truncate()
		case walClose:
			req.reply <- w.file.Close()
			return
		}
	}
}

func (w *WAL) append(payload []byte) error {
	if _, err := w.file.Write(payload); err != nil {
		return fmt.Errorf("wal append: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal sync: %w", err)
	}
	return nil
}

func (w *WAL) truncate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("wal close for truncate: %w", err)
	}
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("wal reopen: %w", err)
	}
	w.file = f
	w.log.Debug("wal truncated", zap.String("path", w.path))
	return nil
}

// ReplayWAL streams records from the log at path in append order.
//
// Recovery policy:
//   - a missing file is an empty log;
//   - malformed lines (including a torn tail from a crash mid-append) are
//     skipped with a warning, preceding records still apply;
//   - apply errors abort the replay.
func ReplayWAL(path string, log *zap.Logger, apply func(Record) error) error {
	if log == nil {
		log = zap.NewNop()
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open wal for replay: %w", err)
	}
	defer f.Close()

	skipped := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		rec, err := DecodeRecord(line)
		if err != nil {
			skipped++
			log.Warn("replay: skipping malformed wal line",
				zap.Int("line", lineNo),
				zap.Error(err),
			)
			continue
		}
		if err := apply(rec); err != nil {
			return fmt.Errorf("replay apply (line %d): %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("replay scan: %w", err)
	}
	if skipped > 0 {
		log.Warn("replay: finished with skipped lines", zap.Int("skipped", skipped))
	}
	return nil
}
