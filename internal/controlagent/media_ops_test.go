package controlagent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndmpd/ndmpd/internal/media"
	"github.com/ndmpd/ndmpd/internal/protocol/ndmp9"
)

// fakeRobot satisfies RobotDriver for media lifecycle tests without a real
// SCSI changer.
type fakeRobot struct {
	moveErr   error
	remedyErr error
	moves     [][2]uint16
}

func (r *fakeRobot) MoveMedium(from, to uint16) error {
	r.moves = append(r.moves, [2]uint16{from, to})
	return r.moveErr
}

func (r *fakeRobot) RemedyRobot(driveAddress uint16) error {
	return r.remedyErr
}

func jobWithTapeReplies(replies map[ndmp9.MessageID]scriptedReply) *Job {
	return &Job{
		Agents:     Agents{TapeConn: &scriptedTransport{replies: replies}, TapeVer: 9},
		TapeDevice: "/dev/nst0",
	}
}

func TestCheckLabelAcceptsMatchingLabel(t *testing.T) {
	record, err := media.WriteLabel(media.LabelTape, "VOL001")
	require.NoError(t, err)

	j := jobWithTapeReplies(map[ndmp9.MessageID]scriptedReply{
		ndmp9.TapeRead: {body: &ndmp9.TapeReadReply{Data: record}},
	})
	client := &Client{Transport: j.Agents.TapeConn, Version: j.Agents.TapeVer}
	entry := &media.Entry{Label: "VOL001"}

	require.NoError(t, j.checkLabel(client, entry))
	assert.True(t, entry.LabelRead)
	assert.False(t, entry.LabelMismatch)
}

func TestCheckLabelFlagsMismatch(t *testing.T) {
	record, err := media.WriteLabel(media.LabelTape, "VOL999")
	require.NoError(t, err)

	j := jobWithTapeReplies(map[ndmp9.MessageID]scriptedReply{
		ndmp9.TapeRead: {body: &ndmp9.TapeReadReply{Data: record}},
	})
	client := &Client{Transport: j.Agents.TapeConn, Version: j.Agents.TapeVer}
	entry := &media.Entry{Label: "VOL001"}

	require.NoError(t, j.checkLabel(client, entry))
	assert.True(t, entry.LabelMismatch)
}

func TestCheckLabelAdoptsUnexpectedLabelWhenNoneExpected(t *testing.T) {
	record, err := media.WriteLabel(media.LabelTape, "VOL001")
	require.NoError(t, err)

	j := jobWithTapeReplies(map[ndmp9.MessageID]scriptedReply{
		ndmp9.TapeRead: {body: &ndmp9.TapeReadReply{Data: record}},
	})
	client := &Client{Transport: j.Agents.TapeConn, Version: j.Agents.TapeVer}
	entry := &media.Entry{}

	require.NoError(t, j.checkLabel(client, entry))
	assert.Equal(t, "VOL001", entry.Label)
	assert.False(t, entry.LabelMismatch)
}

func TestCheckLabelFlagsUnreadableRecord(t *testing.T) {
	j := jobWithTapeReplies(map[ndmp9.MessageID]scriptedReply{
		ndmp9.TapeRead: {body: &ndmp9.TapeReadReply{Data: make([]byte, media.LabelSize)}},
	})
	client := &Client{Transport: j.Agents.TapeConn, Version: j.Agents.TapeVer}
	entry := &media.Entry{Label: "VOL001"}

	require.NoError(t, j.checkLabel(client, entry))
	assert.True(t, entry.LabelMismatch)
}

func TestLoadFromRobotRetriesWithRemedyUntilTimeout(t *testing.T) {
	robot := &fakeRobot{moveErr: errors.New("drive occupied")}
	j := &Job{Agents: Agents{Robot: robot}, AutoRemedy: true, RobotTimeout: 0}

	entry := &media.Entry{SlotValid: true, SlotAddress: 4}
	err := j.loadFromRobot(entry)
	assert.Error(t, err)
	assert.GreaterOrEqual(t, len(robot.moves), 1)
}

func TestLoadFromRobotSucceedsImmediately(t *testing.T) {
	robot := &fakeRobot{}
	j := &Job{Agents: Agents{Robot: robot}}

	entry := &media.Entry{SlotValid: true, SlotAddress: 4}
	require.NoError(t, j.loadFromRobot(entry))
	assert.Equal(t, [][2]uint16{{4, 0}}, robot.moves)
}

func TestLoadFromRobotFailsWithoutAutoRemedy(t *testing.T) {
	robot := &fakeRobot{moveErr: errors.New("drive occupied")}
	j := &Job{Agents: Agents{Robot: robot}, AutoRemedy: false}

	entry := &media.Entry{SlotValid: true, SlotAddress: 4}
	assert.Error(t, j.loadFromRobot(entry))
}

func TestCaptureWindowSetsByteCountAndRecalculatesOffsets(t *testing.T) {
	j := &Job{Media: media.Table{Entries: []*media.Entry{{}, {}}}}
	j.CaptureWindow(j.Media.Entries[0], 0, 1000)
	j.CaptureWindow(j.Media.Entries[1], 1000, 500)

	assert.Equal(t, uint64(1000), j.Media.Entries[0].ByteCount)
	assert.Equal(t, uint64(500), j.Media.Entries[1].ByteCount)
}

func TestUnloadTapeReturnsMediumToSlot(t *testing.T) {
	robot := &fakeRobot{}
	j := jobWithTapeReplies(map[ndmp9.MessageID]scriptedReply{
		ndmp9.TapeClose: {body: nil},
	})
	j.Agents.Robot = robot
	j.RobotTarget = 2

	entry := &media.Entry{SlotValid: true, SlotAddress: 7}
	require.NoError(t, j.UnloadTape(entry))
	assert.Equal(t, [][2]uint16{{2, 7}}, robot.moves)
}

func TestUnloadTapeSkipsRobotWhenEjecting(t *testing.T) {
	robot := &fakeRobot{}
	j := jobWithTapeReplies(map[ndmp9.MessageID]scriptedReply{
		ndmp9.TapeClose: {body: nil},
	})
	j.Agents.Robot = robot
	j.UseEject = true

	entry := &media.Entry{SlotValid: true, SlotAddress: 7}
	require.NoError(t, j.UnloadTape(entry))
	assert.Empty(t, robot.moves)
}
