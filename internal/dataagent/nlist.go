package dataagent

import "github.com/ndmpd/ndmpd/internal/protocol/ndmp9"

// NlistMax is the largest number of recover name-list entries a single
// DATA_START_RECOVER request may carry.
const NlistMax = 10240

// NlistEntry is one restore target: where the formatter should place a
// file, identified by its on-tape node and, for DIRECT/SEMI_DIRECT
// recovery, the byte offset (fh_info) it starts at.
type NlistEntry struct {
	OriginalPath    string
	DestinationPath string
	Name            string
	OtherName       string
	Node            uint64
	FhInfo          uint64

	ResultError ndmp9.Error
	ResultCount uint64
}

// NlistTable is the bounded, ordered set of recover entries for one
// DATA_START_RECOVER call.
type NlistTable struct {
	entries []*NlistEntry
}

// Add appends e, failing with IllegalArgsErr once NlistMax is reached.
func (t *NlistTable) Add(e *NlistEntry) error {
	if len(t.entries) >= NlistMax {
		return ndmp9.IllegalArgsErr
	}
	t.entries = append(t.entries, e)
	return nil
}

// Len returns the number of entries.
func (t *NlistTable) Len() int { return len(t.entries) }

// Get returns the entry at index i.
func (t *NlistTable) Get(i int) (*NlistEntry, bool) {
	if i < 0 || i >= len(t.entries) {
		return nil, false
	}
	return t.entries[i], true
}

// All returns every entry, in request order.
func (t *NlistTable) All() []*NlistEntry { return t.entries }

// EnvMax is the largest number of environment name/value pairs tracked.
const EnvMax = 1024

// EnvTable is the DATA agent's environment variable set, seeded from the
// request and updated by the formatter over the wrap channel during a
// backup.
type EnvTable struct {
	pairs []ndmp9.Pval
}

// Set adds or updates name, failing with IllegalArgsErr once EnvMax
// distinct names is reached.
func (e *EnvTable) Set(name, value string) error {
	for i := range e.pairs {
		if e.pairs[i].Name == name {
			e.pairs[i].Value = value
			return nil
		}
	}
	if len(e.pairs) >= EnvMax {
		return ndmp9.IllegalArgsErr
	}
	e.pairs = append(e.pairs, ndmp9.Pval{Name: name, Value: value})
	return nil
}

// All returns every name/value pair.
func (e *EnvTable) All() []ndmp9.Pval { return e.pairs }
