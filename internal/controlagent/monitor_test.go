package controlagent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndmpd/ndmpd/internal/dataagent"
	"github.com/ndmpd/ndmpd/internal/media"
	"github.com/ndmpd/ndmpd/internal/protocol/ndmp9"
)

func TestRunOutcomeString(t *testing.T) {
	assert.Equal(t, "SUCCESSFUL", RunSuccess.String())
	assert.Equal(t, "QUESTIONABLE", RunQuestionable.String())
	assert.Equal(t, "FAILED", RunFailure.String())
}

func TestNextBackupEntryCapturesPriorWindowAndAppends(t *testing.T) {
	j := &Job{ResultMedia: media.Table{Entries: []*media.Entry{{}}}}

	entry, next, err := j.nextBackupEntry(1, 0, 5000)
	require.NoError(t, err)
	assert.Equal(t, 2, next)
	assert.NotNil(t, entry)
	assert.Equal(t, uint64(5000), j.ResultMedia.Entries[0].ByteCount)
	assert.Len(t, j.ResultMedia.Entries, 2)
}

func TestNextBackupEntryFailsWhenTableFull(t *testing.T) {
	entries := make([]*media.Entry, media.MaxEntries)
	for i := range entries {
		entries[i] = &media.Entry{}
	}
	j := &Job{ResultMedia: media.Table{Entries: entries}}

	_, _, err := j.nextBackupEntry(media.MaxEntries, 0, 1000)
	assert.Error(t, err)
}

func TestSwapTapeForBackupLoadsAndResumesWindow(t *testing.T) {
	j := jobWithTapeReplies(map[ndmp9.MessageID]scriptedReply{
		ndmp9.TapeOpen:       {body: nil},
		ndmp9.TapeMtio:       {body: &ndmp9.TapeMtioReply{}},
		ndmp9.TapeRead:       {body: &ndmp9.TapeReadReply{Data: make([]byte, media.LabelSize)}},
		ndmp9.MoverSetWindow: {body: nil},
		ndmp9.MoverContinue:  {body: nil},
	})
	moverClient := &Client{Transport: j.Agents.TapeConn, Version: j.Agents.TapeVer}
	entry := &media.Entry{}

	require.NoError(t, j.swapTapeForBackup(moverClient, entry))
	assert.True(t, entry.Used)
}

func TestFinishBackupSuccessfulWhenCleanHalt(t *testing.T) {
	j := &Job{ResultMedia: media.Table{Entries: []*media.Entry{{}}}}
	outcome, err := j.finishBackup(dataagent.HaltSuccessful, 1, 0, 4096, false)
	require.NoError(t, err)
	assert.Equal(t, RunSuccess, outcome)
	assert.Equal(t, uint64(4096), j.ResultMedia.Entries[0].ByteCount)
	assert.True(t, j.ResultMedia.Entries[0].Written)
}

func TestFinishBackupQuestionableWhenFlagged(t *testing.T) {
	j := &Job{ResultMedia: media.Table{Entries: []*media.Entry{{}}}}
	outcome, err := j.finishBackup(dataagent.HaltSuccessful, 1, 0, 4096, true)
	require.NoError(t, err)
	assert.Equal(t, RunQuestionable, outcome)
}

func TestFinishBackupQuestionableWhenMediaErrorSurvives(t *testing.T) {
	j := &Job{ResultMedia: media.Table{Entries: []*media.Entry{{IOError: true}}}}
	outcome, err := j.finishBackup(dataagent.HaltSuccessful, 1, 0, 4096, false)
	require.NoError(t, err)
	assert.Equal(t, RunQuestionable, outcome)
}

func TestFinishBackupQuestionableOnConnectClosed(t *testing.T) {
	j := &Job{ResultMedia: media.Table{Entries: []*media.Entry{{}}}}
	outcome, err := j.finishBackup(dataagent.HaltConnectClosed, 1, 0, 4096, false)
	require.NoError(t, err)
	assert.Equal(t, RunQuestionable, outcome)
}

func TestFinishBackupFailsOnInternalError(t *testing.T) {
	j := &Job{ResultMedia: media.Table{Entries: []*media.Entry{{}}}}
	outcome, err := j.finishBackup(dataagent.HaltInternalError, 1, 0, 4096, false)
	require.NoError(t, err)
	assert.Equal(t, RunFailure, outcome)
}

func TestAnyMediaErrorDetectsEachFlag(t *testing.T) {
	cases := []*media.Entry{
		{OpenError: true}, {IOError: true}, {LabelIOError: true},
		{LabelMismatch: true}, {FileMarkError: true}, {SlotBad: true},
	}
	for _, e := range cases {
		j := &Job{ResultMedia: media.Table{Entries: []*media.Entry{e}}}
		assert.True(t, j.anyMediaError())
	}
	clean := &Job{ResultMedia: media.Table{Entries: []*media.Entry{{}}}}
	assert.False(t, clean.anyMediaError())
}

func TestOutcomeFromRestoreHalt(t *testing.T) {
	assert.Equal(t, RunSuccess, outcomeFromRestoreHalt(dataagent.HaltSuccessful))
	assert.Equal(t, RunQuestionable, outcomeFromRestoreHalt(dataagent.HaltConnectClosed))
	assert.Equal(t, RunQuestionable, outcomeFromRestoreHalt(dataagent.HaltConnectError))
	assert.Equal(t, RunFailure, outcomeFromRestoreHalt(dataagent.HaltAborted))
}

func TestServiceReadRequestLocatesAndSwapsTape(t *testing.T) {
	entryA := &media.Entry{BeginOffset: 0, EndOffset: 1000, ByteCount: 1000}
	entryB := &media.Entry{BeginOffset: 1000, EndOffset: 2000, ByteCount: 1000}
	j := jobWithTapeReplies(map[ndmp9.MessageID]scriptedReply{
		ndmp9.TapeClose:      {body: nil},
		ndmp9.TapeOpen:       {body: nil},
		ndmp9.TapeMtio:       {body: &ndmp9.TapeMtioReply{}},
		ndmp9.TapeRead:       {body: &ndmp9.TapeReadReply{Data: make([]byte, media.LabelSize)}},
		ndmp9.MoverSetWindow: {body: nil},
		ndmp9.MoverRead:      {body: nil},
	})
	j.Media = media.Table{Entries: []*media.Entry{entryA, entryB}}
	moverClient := &Client{Transport: j.Agents.TapeConn, Version: j.Agents.TapeVer}

	mounted, err := j.serviceReadRequest(moverClient, entryA, 1500, 100)
	require.NoError(t, err)
	assert.Same(t, entryB, mounted)
}

func TestServiceReadRequestSkipsSwapWhenAlreadyMounted(t *testing.T) {
	entryA := &media.Entry{BeginOffset: 0, EndOffset: 1000, ByteCount: 1000}
	j := jobWithTapeReplies(map[ndmp9.MessageID]scriptedReply{
		ndmp9.MoverSetWindow: {body: nil},
		ndmp9.MoverRead:      {body: nil},
	})
	j.Media = media.Table{Entries: []*media.Entry{entryA}}
	moverClient := &Client{Transport: j.Agents.TapeConn, Version: j.Agents.TapeVer}

	mounted, err := j.serviceReadRequest(moverClient, entryA, 500, 100)
	require.NoError(t, err)
	assert.Same(t, entryA, mounted)
}

func TestServiceReadRequestReportsUnlocatableOffset(t *testing.T) {
	j := jobWithTapeReplies(nil)
	j.Media = media.Table{Entries: []*media.Entry{{BeginOffset: 0, EndOffset: 1000, ByteCount: 1000}}}
	moverClient := &Client{Transport: j.Agents.TapeConn, Version: j.Agents.TapeVer}

	_, err := j.serviceReadRequest(moverClient, nil, 5000, 100)
	assert.ErrorIs(t, err, errNoMediaEntry)
}
