package buffer

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/coachpo/conduit/errs"
)

// ledgerSize is the fixed on-disk size of a ledger: eight little-endian u64
// fields (spec.md §6.2).
const ledgerSize = 64

// ledgerFormatVersion is the only format_version this build knows how to
// read (spec.md §8: "A ledger whose format_version != 1 is refused to
// open.").
const ledgerFormatVersion = 1

const (
	offWriterFileID = iota * 8
	offWriterOffset
	offReaderFileID
	offReaderOffset
	offLastRecordID
	offUnreadEvents
	offUnreadBytes
	offFormatVersion
)

// ledger is the disk buffer's persisted position tracker. Fields are kept
// in memory as atomics for lock-free reads and updated on disk via
// WriteAt at their fixed offsets (spec.md §4.2: "memory-mapped; fields are
// atomic u64s" — this module uses os.File.WriteAt/ReadAt plus in-process
// atomics instead of an mmap crate, since no complete example repo in the
// corpus depends on one; see DESIGN.md).
//
// lastRecordID is the persisted field from spec.md §6.2: the writer's
// monotonic record-id high-water mark, the only record id the bit-exact
// layout has room for. lastAckedRecordID is a diagnostic-only in-memory
// counterpart (the id of the most recently committed record) that does not
// survive restart — recovery relies solely on readerFileID/readerOffset.
type ledger struct {
	file *os.File

	writerFileID      atomic.Uint64
	writerOffset      atomic.Uint64
	readerFileID      atomic.Uint64
	readerOffset      atomic.Uint64
	lastRecordID      atomic.Uint64
	unreadEvents      atomic.Uint64
	unreadBytes       atomic.Uint64
	lastAckedRecordID atomic.Uint64
}

// openLedger opens or creates the ledger file at path, initializing a
// fresh zeroed ledger if it did not already exist.
func openLedger(path string) (*ledger, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errs.New("buffer/disk/ledger/open", errs.Fatal, errs.WithCause(err))
	}
	l := &ledger{file: f}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errs.New("buffer/disk/ledger/open", errs.Fatal, errs.WithCause(err))
	}
	if info.Size() == 0 {
		if err := l.persist(); err != nil {
			_ = f.Close()
			return nil, err
		}
		return l, nil
	}

	buf := make([]byte, ledgerSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		_ = f.Close()
		return nil, errs.New("buffer/disk/ledger/open", errs.Fatal, errs.WithCause(err), errs.WithMessage("ledger truncated"))
	}

	version := binary.LittleEndian.Uint64(buf[offFormatVersion:])
	if version != ledgerFormatVersion {
		_ = f.Close()
		return nil, errs.New("buffer/disk/ledger/open", errs.Fatal, errs.WithMessage(fmt.Sprintf("unsupported ledger format_version %d", version)))
	}

	l.writerFileID.Store(binary.LittleEndian.Uint64(buf[offWriterFileID:]))
	l.writerOffset.Store(binary.LittleEndian.Uint64(buf[offWriterOffset:]))
	l.readerFileID.Store(binary.LittleEndian.Uint64(buf[offReaderFileID:]))
	l.readerOffset.Store(binary.LittleEndian.Uint64(buf[offReaderOffset:]))
	l.lastRecordID.Store(binary.LittleEndian.Uint64(buf[offLastRecordID:]))
	l.unreadEvents.Store(binary.LittleEndian.Uint64(buf[offUnreadEvents:]))
	l.unreadBytes.Store(binary.LittleEndian.Uint64(buf[offUnreadBytes:]))

	if l.writerFileID.Load() < l.readerFileID.Load() ||
		(l.writerFileID.Load() == l.readerFileID.Load() && l.writerOffset.Load() < l.readerOffset.Load()) {
		_ = f.Close()
		return nil, errs.New("buffer/disk/ledger/open", errs.Fatal, errs.WithMessage("writer position precedes reader position"))
	}
	return l, nil
}

// persist flushes the in-memory ledger fields to disk and fsyncs. Callers
// running on an executor goroutine must invoke this through the disk
// buffer's blocking pool, never directly.
func (l *ledger) persist() error {
	buf := make([]byte, ledgerSize)
	binary.LittleEndian.PutUint64(buf[offWriterFileID:], l.writerFileID.Load())
	binary.LittleEndian.PutUint64(buf[offWriterOffset:], l.writerOffset.Load())
	binary.LittleEndian.PutUint64(buf[offReaderFileID:], l.readerFileID.Load())
	binary.LittleEndian.PutUint64(buf[offReaderOffset:], l.readerOffset.Load())
	binary.LittleEndian.PutUint64(buf[offLastRecordID:], l.lastRecordID.Load())
	binary.LittleEndian.PutUint64(buf[offUnreadEvents:], l.unreadEvents.Load())
	binary.LittleEndian.PutUint64(buf[offUnreadBytes:], l.unreadBytes.Load())
	binary.LittleEndian.PutUint64(buf[offFormatVersion:], ledgerFormatVersion)

	if _, err := l.file.WriteAt(buf, 0); err != nil {
		return errs.New("buffer/disk/ledger/persist", errs.Fatal, errs.WithCause(err))
	}
	if err := l.file.Sync(); err != nil {
		return errs.New("buffer/disk/ledger/persist", errs.Fatal, errs.WithCause(err))
	}
	return nil
}

func (l *ledger) close() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}
	return nil
}
