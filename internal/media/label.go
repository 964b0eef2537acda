package media

import (
	"fmt"
	"strings"
)

// LabelSize is the fixed on-tape length of a label record.
const LabelSize = 512

// LabelMax is the maximum label string length the on-tape format allows.
const LabelMax = 64

// LabelType distinguishes the two label kinds the format supports: a tape
// (media) label or a volume label, written as "-m" or "-V" in the first
// line.
type LabelType byte

const (
	LabelTape   LabelType = 'm'
	LabelVolume LabelType = 'V'
)

// WriteLabel formats a label record exactly as the on-tape layout
// requires: 512 bytes of '#' padding, a newline at every 64th byte, with
// the first line overwritten by "##ndmjob -<type> <label>\n".
func WriteLabel(typ LabelType, label string) ([]byte, error) {
	if len(label) > LabelMax {
		return nil, fmt.Errorf("media: label %q exceeds %d bytes", label, LabelMax)
	}

	buf := make([]byte, LabelSize)
	for i := range buf {
		buf[i] = '#'
	}
	for i := 63; i < LabelSize; i += 64 {
		buf[i] = '\n'
	}

	header := fmt.Sprintf("##ndmjob -%c %s\n", typ, label)
	if len(header) > LabelSize {
		return nil, fmt.Errorf("media: label header too long for a %d-byte record", LabelSize)
	}
	copy(buf, header)

	return buf, nil
}

// ReadLabel parses a 512-byte label record, returning the label type, the
// label string, and whether the record was recognized at all. An
// unrecognized prefix (not "##ndmjob -m " or "##ndmjob -V ") returns
// ok=false.
func ReadLabel(record []byte) (typ LabelType, label string, ok bool) {
	if len(record) < LabelSize {
		return 0, "", false
	}

	s := string(record)
	var prefix string
	switch {
	case strings.HasPrefix(s, "##ndmjob -m "):
		typ = LabelTape
		prefix = "##ndmjob -m "
	case strings.HasPrefix(s, "##ndmjob -V "):
		typ = LabelVolume
		prefix = "##ndmjob -V "
	default:
		return 0, "", false
	}

	rest := s[len(prefix):]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[:nl]
	}
	if len(rest) > LabelMax {
		rest = rest[:LabelMax]
	}
	return typ, rest, true
}
