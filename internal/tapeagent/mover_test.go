package tapeagent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndmpd/ndmpd/internal/channel"
	"github.com/ndmpd/ndmpd/internal/osfacade"
	"github.com/ndmpd/ndmpd/internal/protocol/ndmp9"
	"github.com/ndmpd/ndmpd/internal/protocol/version"
)

func newTestTape(t *testing.T, recordSize uint32) *TapeState {
	t.Helper()
	drive := osfacade.NewSimDrive()
	ts := NewTapeState(drive, recordSize, 0)
	require.NoError(t, ts.Open("/dev/sim0", osfacade.OpenRDWR))
	return ts
}

func TestTapeStateZeroLengthReadWriteIsNoop(t *testing.T) {
	ts := newTestTape(t, 64)

	n, err := ts.Write(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = ts.Read(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, uint64(0), ts.BlockNo())
}

func TestTapeStateWriteReadOnlyFails(t *testing.T) {
	drive := osfacade.NewSimDrive()
	ts := NewTapeState(drive, 64, 0)
	require.NoError(t, ts.Open("/dev/sim0", osfacade.OpenRDOnly))

	_, err := ts.Write([]byte("12345678"))
	assert.Equal(t, ndmp9.PermissionErr, err)
}

func TestMoverListenRequiresIdle(t *testing.T) {
	ts := newTestTape(t, 64)
	mv := NewMover(ts)
	dataEnd, moverEnd := channel.NewLocalPair(64)
	_ = dataEnd

	require.NoError(t, mv.Listen(MoverModeRead, moverEnd))
	assert.Equal(t, MoverListen, mv.State())

	err := mv.Listen(MoverModeRead, moverEnd)
	assert.Equal(t, ndmp9.IllegalStateErr, err)
}

func TestMoverSetWindowAlignment(t *testing.T) {
	ts := newTestTape(t, 64)
	mv := NewMover(ts)

	err := mv.SetWindow(63, 128, version.V3)
	assert.Equal(t, ndmp9.IllegalArgsErr, err)

	err = mv.SetWindow(64, 128, version.V3)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), mv.recordNum)
}

func TestMoverSetWindowZeroLengthPausesImmediately(t *testing.T) {
	ts := newTestTape(t, 64)
	mv := NewMover(ts)
	_, moverEnd := channel.NewLocalPair(64)

	require.NoError(t, mv.SetWindow(0, 0, version.V3))
	require.NoError(t, mv.Connect(MoverModeRead, moverEnd))

	progressed, err := mv.Progress()
	require.NoError(t, err)
	assert.True(t, progressed)
	assert.Equal(t, MoverPaused, mv.State())
	assert.Equal(t, PauseSeek, mv.PauseReason())
}

func TestMoverSetWindowInListenGatedByVersion(t *testing.T) {
	ts := newTestTape(t, 64)
	mv := NewMover(ts)
	_, moverEnd := channel.NewLocalPair(64)
	require.NoError(t, mv.Listen(MoverModeRead, moverEnd))

	require.NoError(t, mv.SetWindow(0, 64, version.V3))

	err := mv.SetWindow(0, 64, version.V4)
	assert.Equal(t, ndmp9.IllegalStateErr, err)
}

func TestMoverStopIsIdempotentInIdle(t *testing.T) {
	ts := newTestTape(t, 64)
	mv := NewMover(ts)
	assert.NoError(t, mv.Stop())
	assert.Equal(t, MoverIdle, mv.State())
}

func TestMoverWriteModeAccumulatesFullRecordBeforeTapeWrite(t *testing.T) {
	ts := newTestTape(t, 16)
	mv := NewMover(ts)
	dataEnd, moverEnd := channel.NewLocalPair(64)
	dataEnd.Commit(channel.DirectionWrite)
	moverEnd.Commit(channel.DirectionRead)

	require.NoError(t, mv.SetWindow(0, 1<<20, version.V3))
	require.NoError(t, mv.Connect(MoverModeWrite, moverEnd))

	_, err := dataEnd.Write([]byte("12345678"))
	require.NoError(t, err)

	progressed, err := mv.Progress()
	require.NoError(t, err)
	assert.True(t, progressed)
	assert.Equal(t, uint64(0), mv.BytesMoved(), "partial record must not be flushed to tape yet")

	_, err = dataEnd.Write([]byte("87654321"))
	require.NoError(t, err)

	progressed, err = mv.Progress()
	require.NoError(t, err)
	assert.True(t, progressed)
	assert.Equal(t, uint64(16), mv.BytesMoved())
}

func TestMoverReadModeTransfersRecordToEndpoint(t *testing.T) {
	ts := newTestTape(t, 8)
	_, err := ts.Write([]byte("abcdefgh"))
	require.NoError(t, err)
	_, err = ts.Mtio(osfacade.MtioRewind, 1)
	require.NoError(t, err)

	mv := NewMover(ts)
	dataEnd, moverEnd := channel.NewLocalPair(64)
	dataEnd.Commit(channel.DirectionRead)
	moverEnd.Commit(channel.DirectionWrite)

	require.NoError(t, mv.SetWindow(0, 8, version.V3))
	require.NoError(t, mv.Connect(MoverModeRead, moverEnd))

	progressed, err := mv.Progress()
	require.NoError(t, err)
	assert.True(t, progressed)
	assert.Equal(t, uint64(8), mv.BytesMoved())

	buf := make([]byte, 8)
	n, err := dataEnd.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "abcdefgh", string(buf[:n]))
}

func TestMoverAbortHalts(t *testing.T) {
	ts := newTestTape(t, 64)
	mv := NewMover(ts)
	_, moverEnd := channel.NewLocalPair(64)
	require.NoError(t, mv.Listen(MoverModeRead, moverEnd))

	require.NoError(t, mv.Abort())
	assert.Equal(t, MoverHalted, mv.State())
	assert.Equal(t, HaltAborted, mv.HaltReason())

	state, pending := mv.TakeNotification()
	assert.True(t, pending)
	assert.Equal(t, MoverHalted, state)

	_, pending = mv.TakeNotification()
	assert.False(t, pending)
}

func TestMoverAbortFromPausedClearsPauseReason(t *testing.T) {
	ts := newTestTape(t, 64)
	mv := NewMover(ts)
	_, moverEnd := channel.NewLocalPair(64)

	require.NoError(t, mv.SetWindow(0, 0, version.V3))
	require.NoError(t, mv.Connect(MoverModeRead, moverEnd))

	progressed, err := mv.Progress()
	require.NoError(t, err)
	assert.True(t, progressed)
	require.Equal(t, MoverPaused, mv.State())
	require.Equal(t, PauseSeek, mv.PauseReason())

	require.NoError(t, mv.Abort())
	assert.Equal(t, MoverHalted, mv.State())
	assert.Equal(t, HaltAborted, mv.HaltReason())
	assert.Equal(t, PauseNA, mv.PauseReason(), "pause_reason must reset to NA once state leaves PAUSED")
}
