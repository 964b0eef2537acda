package dataagent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndmpd/ndmpd/internal/channel"
	"github.com/ndmpd/ndmpd/internal/protocol/ndmp9"
)

type stubCommands struct {
	backup  map[string]string
	recover map[string]string
}

func (s stubCommands) BackupCommand(buType string) (string, bool) {
	c, ok := s.backup[buType]
	return c, ok
}

func (s stubCommands) RecoverCommand(buType string) (string, bool) {
	c, ok := s.recover[buType]
	return c, ok
}

func TestAgentStartBackupUnknownBuType(t *testing.T) {
	a := New(stubCommands{}, func([]FHRecord) error { return nil })
	_, moverEnd := channel.NewLocalPair(4096)
	require.NoError(t, a.Connect(moverEnd))

	err := a.StartBackup("unknown", nil)
	assert.Equal(t, ndmp9.IllegalArgsErr, err)
}

func TestAgentStartBackupSpawnsFormatterAndGoesActive(t *testing.T) {
	cmds := stubCommands{backup: map[string]string{"dump": "cat >/dev/null"}}
	a := New(cmds, func([]FHRecord) error { return nil })
	_, moverEnd := channel.NewLocalPair(4096)
	require.NoError(t, a.Connect(moverEnd))

	err := a.StartBackup("dump", []ndmp9.Pval{{Name: "FILESYSTEM", Value: "/src"}})
	require.NoError(t, err)
	assert.Equal(t, StateActive, a.State())
	assert.Equal(t, OpBackup, a.Operation())

	a.formatter.Kill()
}

func TestAgentAbortHalts(t *testing.T) {
	cmds := stubCommands{backup: map[string]string{"dump": "sleep 5"}}
	a := New(cmds, func([]FHRecord) error { return nil })
	_, moverEnd := channel.NewLocalPair(4096)
	require.NoError(t, a.Connect(moverEnd))
	require.NoError(t, a.StartBackup("dump", nil))

	require.NoError(t, a.Abort())
	assert.Equal(t, StateHalted, a.State())
	assert.Equal(t, HaltAborted, a.HaltReason())
}

func TestAgentStopRequiresHalted(t *testing.T) {
	a := New(stubCommands{}, func([]FHRecord) error { return nil })
	err := a.Stop()
	assert.Equal(t, ndmp9.IllegalStateErr, err)
}

func TestAgentGetEnvRequiresHaltedBackup(t *testing.T) {
	a := New(stubCommands{}, func([]FHRecord) error { return nil })
	_, err := a.GetEnv()
	assert.Equal(t, ndmp9.IllegalStateErr, err)
}

func TestParseWrapLine(t *testing.T) {
	rec, ok := parseWrapLine("FILE /etc/passwd")
	require.True(t, ok)
	assert.Equal(t, FHAddFile, rec.Kind)
	assert.Equal(t, "/etc/passwd", rec.UnixPath)

	rec, ok = parseWrapLine("DIR etc 1 2")
	require.True(t, ok)
	assert.Equal(t, FHAddDir, rec.Kind)
	assert.Equal(t, uint64(1), rec.ParentNode)
	assert.Equal(t, uint64(2), rec.Node)

	rec, ok = parseWrapLine("ENV FILESYSTEM /src")
	require.True(t, ok)
	assert.Equal(t, FHAddEnv, rec.Kind)
	assert.Equal(t, "FILESYSTEM", rec.EnvName)
	assert.Equal(t, "/src", rec.EnvValue)

	_, ok = parseWrapLine("")
	assert.False(t, ok)

	_, ok = parseWrapLine("GARBAGE line")
	assert.False(t, ok)
}

func TestFileHistoryFlushesAtThreshold(t *testing.T) {
	var flushedBatches [][]FHRecord
	fh := NewFileHistory(func(batch []FHRecord) error {
		flushedBatches = append(flushedBatches, batch)
		return nil
	})

	big := make([]byte, FHFlushThreshold)
	require.NoError(t, fh.Add(FHRecord{Kind: FHAddNode, Fstat: big}))
	assert.Len(t, flushedBatches, 1)

	records, bytes := fh.Pending()
	assert.Equal(t, 0, records)
	assert.Equal(t, 0, bytes)
}

func TestFileHistoryFlushOnDemand(t *testing.T) {
	var flushed bool
	fh := NewFileHistory(func(batch []FHRecord) error {
		flushed = true
		assert.Len(t, batch, 1)
		return nil
	})
	require.NoError(t, fh.Add(FHRecord{Kind: FHAddFile, UnixPath: "/a"}))
	assert.False(t, flushed)
	require.NoError(t, fh.Flush())
	assert.True(t, flushed)
}

func TestRecoveryAccessSequential(t *testing.T) {
	var nlist NlistTable
	require.NoError(t, nlist.Add(&NlistEntry{OriginalPath: "/a"}))

	r := NewRecoveryAccess(AccessSequential, &nlist)
	assert.Equal(t, AccessStart, r.State())
	assert.Equal(t, AccessPassThru, r.Advance())
	assert.Equal(t, AccessAcquire, r.Advance())
	assert.Equal(t, AccessDispose, r.Advance())
	assert.Equal(t, AccessFinishNlent, r.Advance())
	assert.Equal(t, AccessAllDone, r.Advance())
}

func TestRecoveryAccessDirectCyclesPerEntry(t *testing.T) {
	var nlist NlistTable
	require.NoError(t, nlist.Add(&NlistEntry{OriginalPath: "/a"}))
	require.NoError(t, nlist.Add(&NlistEntry{OriginalPath: "/b"}))

	r := NewRecoveryAccess(AccessDirect, &nlist)
	assert.Equal(t, AccessChooseNlent, r.Advance())
	assert.Equal(t, AccessAcquire, r.Advance())
	entry, ok := r.CurrentEntry()
	require.True(t, ok)
	assert.Equal(t, "/a", entry.OriginalPath)

	assert.Equal(t, AccessDispose, r.Advance())
	assert.Equal(t, AccessFinishNlent, r.Advance())
	assert.Equal(t, AccessChooseNlent, r.Advance())
	assert.Equal(t, AccessAcquire, r.Advance())
	entry, ok = r.CurrentEntry()
	require.True(t, ok)
	assert.Equal(t, "/b", entry.OriginalPath)

	assert.Equal(t, AccessDispose, r.Advance())
	assert.Equal(t, AccessFinishNlent, r.Advance())
	assert.Equal(t, AccessChooseNlent, r.Advance())
	assert.Equal(t, AccessAllDone, r.Advance())
}

func TestEnvTableMax(t *testing.T) {
	var env EnvTable
	for i := 0; i < EnvMax; i++ {
		require.NoError(t, env.Set(string(rune('a'+i%26))+string(rune(i)), "v"))
	}
	err := env.Set("overflow-name", "v")
	assert.Equal(t, ndmp9.IllegalArgsErr, err)
}

func TestNlistTableMax(t *testing.T) {
	var nlist NlistTable
	for i := 0; i < NlistMax; i++ {
		require.NoError(t, nlist.Add(&NlistEntry{}))
	}
	err := nlist.Add(&NlistEntry{})
	assert.Equal(t, ndmp9.IllegalArgsErr, err)
}
