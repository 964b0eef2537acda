// Package media implements the CONTROL agent's media table (ndmmedia): one
// entry per tape in a job, label read/write in the exact on-tape format,
// and the offset bookkeeping that maps logical backup stream positions to
// the tape that holds them.
package media

import "math"

// Infinity is the sentinel "until further notice" / "unknown length" value
// used for window length, record count, and media byte counts.
const Infinity = math.MaxUint64

// MaxEntries is the maximum number of media entries tracked for one job.
const MaxEntries = 40

// Entry is one tape's bookkeeping record within a job's media table.
type Entry struct {
	Index uint32 // 1-based position in the job's media sequence

	SlotAddress uint16
	SlotValid   bool

	Label      string
	LabelValid bool

	FileMarkOffset uint32 // file marks to skip forward after label check
	RecordCount    uint64
	ByteCount      uint64 // n_bytes; Infinity if not yet known

	BeginOffset uint64 // cumulative logical offset this tape begins at
	EndOffset   uint64 // BeginOffset + ByteCount, or Infinity

	// Result flags, set as the tape is processed.
	Used           bool
	Written        bool
	OpenError      bool
	IOError        bool
	EOM            bool
	EOF            bool
	LabelRead      bool
	LabelMismatch  bool
	LabelIOError   bool
	FileMarkError  bool
	SlotEmpty      bool
	SlotMissing    bool
	SlotBad        bool
	NBytesDetermined bool
}

// Table is the ordered sequence of media entries for one job.
type Table struct {
	Entries []*Entry
}

// Add appends a new entry, 1-indexed, and returns it. Returns nil if the
// table is already at MaxEntries.
func (t *Table) Add() *Entry {
	if len(t.Entries) >= MaxEntries {
		return nil
	}
	e := &Entry{Index: uint32(len(t.Entries) + 1), ByteCount: Infinity, EndOffset: Infinity}
	t.Entries = append(t.Entries, e)
	return e
}

// CalculateOffsets walks the media list setting BeginOffset = sum of
// previous ByteCount and EndOffset = BeginOffset + ByteCount. An entry with
// unknown size (ByteCount == Infinity) sets EndOffset = Infinity and stops
// cumulating for every entry after it, matching
// ndmca_media_calculate_offsets.
func (t *Table) CalculateOffsets() {
	var cum uint64
	stopped := false
	for _, e := range t.Entries {
		if stopped {
			e.BeginOffset = Infinity
			e.EndOffset = Infinity
			continue
		}
		e.BeginOffset = cum
		if e.ByteCount == Infinity {
			e.EndOffset = Infinity
			e.NBytesDetermined = false
			stopped = true
			continue
		}
		e.EndOffset = cum + e.ByteCount
		e.NBytesDetermined = true
		cum = e.EndOffset
	}
}

// Locate returns the entry whose [BeginOffset, EndOffset) contains offset,
// used by the restore monitoring loop to pick the next tape to load when
// DATA seeks outside the currently loaded tape's window.
func (t *Table) Locate(offset uint64) (*Entry, bool) {
	for _, e := range t.Entries {
		if offset < e.BeginOffset {
			continue
		}
		if e.EndOffset == Infinity || offset < e.EndOffset {
			return e, true
		}
	}
	return nil, false
}

// TotalBytes sums ByteCount across entries with a determined size, used to
// verify Σ n_bytes == bytes_written reported by DATA at backup end.
func (t *Table) TotalBytes() uint64 {
	var total uint64
	for _, e := range t.Entries {
		if e.ByteCount == Infinity {
			continue
		}
		total += e.ByteCount
	}
	return total
}
