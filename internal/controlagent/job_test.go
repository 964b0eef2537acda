package controlagent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndmpd/ndmpd/internal/dispatcher"
	"github.com/ndmpd/ndmpd/internal/media"
	"github.com/ndmpd/ndmpd/internal/protocol/ndmp9"
)

// fakeTransport satisfies dispatcher.Transport without ever being driven;
// Audit only checks for a non-nil connection, never calls Send/Receive.
type fakeTransport struct{}

func (fakeTransport) Send(ndmp9.Header, []byte) error        { return nil }
func (fakeTransport) Receive() (ndmp9.Header, []byte, error) { return ndmp9.Header{}, nil, nil }

func TestAuditBackupRequiresDataTapeAndMedia(t *testing.T) {
	j := &Job{Operation: OpBackup}
	defects := j.Audit()

	fields := map[string]bool{}
	for _, d := range defects {
		fields[d.Field] = true
	}
	assert.True(t, fields["data_conn"])
	assert.True(t, fields["bu_type"])
	assert.True(t, fields["tape_conn"])
	assert.True(t, fields["tape_device"])
	assert.True(t, fields["record_size"])
	assert.True(t, fields["media"])
}

func TestAuditBackupCleanWhenFullyPopulated(t *testing.T) {
	j := &Job{
		Operation:  OpBackup,
		ButType:    "tar",
		TapeDevice: "/dev/nst0",
		RecordSize: 512,
		Agents: Agents{
			DataConn: fakeTransport{},
			TapeConn: fakeTransport{},
		},
		Media: media.Table{Entries: []*media.Entry{{}}},
	}
	assert.Empty(t, j.Audit())
}

func TestAuditRejectsOversizedButype(t *testing.T) {
	j := &Job{Operation: OpBackup, ButType: string(make([]byte, 32))}
	defects := j.Audit()
	found := false
	for _, d := range defects {
		if d.Field == "bu_type" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestAuditRejectsRecordSizeNotMultipleOf512(t *testing.T) {
	j := &Job{
		Operation:  OpBackup,
		ButType:    "tar",
		TapeDevice: "/dev/nst0",
		RecordSize: 513,
		Agents:     Agents{DataConn: fakeTransport{}, TapeConn: fakeTransport{}},
		Media:      media.Table{Entries: []*media.Entry{{}}},
	}
	defects := j.Audit()
	require.Len(t, defects, 1)
	assert.Equal(t, "record_size", defects[0].Field)
}

func TestAuditExtractRequiresNlist(t *testing.T) {
	j := &Job{
		Operation:  OpExtract,
		ButType:    "tar",
		TapeDevice: "/dev/nst0",
		RecordSize: 512,
		Agents:     Agents{DataConn: fakeTransport{}, TapeConn: fakeTransport{}},
		Media:      media.Table{Entries: []*media.Entry{{}}},
	}
	defects := j.Audit()
	require.Len(t, defects, 1)
	assert.Equal(t, "nlist", defects[0].Field)
}

func TestAuditTOCDoesNotRequireTape(t *testing.T) {
	j := &Job{
		Operation: OpTOC,
		ButType:   "tar",
		Agents:    Agents{DataConn: fakeTransport{}},
	}
	assert.Empty(t, j.Audit())
}

func TestAuditRobotOperationsRequireRobot(t *testing.T) {
	for _, op := range []Operation{OpMoveTape, OpLoadTape, OpImportTape, OpExportTape, OpInitElemStatus, OpRemedyRobot} {
		j := &Job{Operation: op}
		defects := j.Audit()
		require.Len(t, defects, 1, "operation %s", op)
		assert.Equal(t, "robot", defects[0].Field)
	}
}

func TestAuditRejectsMediaTableOverMaxEntries(t *testing.T) {
	entries := make([]*media.Entry, media.MaxEntries+1)
	for i := range entries {
		entries[i] = &media.Entry{}
	}
	j := &Job{
		Operation:  OpBackup,
		ButType:    "tar",
		TapeDevice: "/dev/nst0",
		RecordSize: 512,
		Agents:     Agents{DataConn: fakeTransport{}, TapeConn: fakeTransport{}},
		Media:      media.Table{Entries: entries},
	}
	defects := j.Audit()
	found := false
	for _, d := range defects {
		if d.Field == "media" && d.Problem != "" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestAuditDefectWalksStableOrder(t *testing.T) {
	j := &Job{Operation: OpBackup}
	all := j.Audit()
	require.NotEmpty(t, all)

	for i, want := range all {
		got, ok := j.AuditDefect(i)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := j.AuditDefect(len(all))
	assert.False(t, ok)
	_, ok = j.AuditDefect(-1)
	assert.False(t, ok)
}

func TestOperationStringCoversKnownValues(t *testing.T) {
	assert.Equal(t, "BACKUP", OpBackup.String())
	assert.Equal(t, "QUERY_AGENTS", OpQueryAgents.String())
	assert.Equal(t, "UNKNOWN", Operation(999).String())
}

var _ dispatcher.Transport = fakeTransport{}
