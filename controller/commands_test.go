package controller

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriteController struct {
	*Controller
	writer *recordingWriter
}

// recordingTransport routes the Controller's direct writeTransport calls
// into the same recordingWriter the FlowController writes to.
type recordingTransport struct{ writer *recordingWriter }

func (t recordingTransport) Open(context.Context) error  { return nil }
func (t recordingTransport) Close() error                { return nil }
func (t recordingTransport) Write(p []byte) (int, error) { return t.writer.write(p) }
func (t recordingTransport) IsOpen() bool                { return true }
func (t recordingTransport) Events() <-chan Event        { return nil }

func newTestController() *fakeWriteController {
	writer := &recordingWriter{}
	c := &Controller{log: logrus.NewEntry(logrus.New())}
	c.transport = recordingTransport{writer: writer}
	c.runner = NewRunner(c.log)
	c.expr = &ExpressionStage{
		Global:     func() map[string]interface{} { return c.sharedContext },
		BBox:       func() BoundingBox { return c.bbox },
		MachinePos: c.runner.GetMachinePosition,
		WorkPos:    func() Position { return c.runner.GetWorkPosition(nil) },
		ModalGroup: c.runner.GetModalGroup,
		Tool:       c.runner.GetTool,
	}
	c.sharedContext = make(map[string]interface{})
	c.feeder = NewFeeder(c.log, c.expr.Process, c.transportOpen, c.runner.IsAlarm)
	c.sender = NewSender(c.log, c.expr.Process)
	c.workflow = NewWorkflow()
	c.broadcast = &recordingBroadcast{}
	c.flow = NewFlowController(c.log, c.runner, c.feeder, c.sender, c.workflow, c.broadcast, func(p []byte) (int, error) {
		return writer.write(p)
	}, func() bool { return c.ignoreErrors })
	c.ready = true
	return &fakeWriteController{Controller: c, writer: writer}
}

// force-stop dialect selection: the write sequence depends on
// the last reported firmware build number, and is always followed by the
// qr poke.
func TestSenderStopForceUsesKillJobOnlyForBuild101Plus(t *testing.T) {
	tc := newTestController()
	tc.runner.model.Settings.FB = 101
	require.NoError(t, tc.sender.Load("job.gcode", "G1X1\n", nil))

	require.NoError(t, tc.cmdSenderStop([]any{map[string]any{"force": true}}))
	require.Len(t, tc.writer.lines, 2)
	assert.Equal(t, string([]byte{CtrlKillJob}), tc.writer.lines[0])
	assert.Equal(t, "{\"qr\":\"\"}\n", tc.writer.lines[1])
}

func TestSenderStopForceUsesKillJobThenM30ForBuild100(t *testing.T) {
	tc := newTestController()
	tc.runner.model.Settings.FB = 100
	require.NoError(t, tc.sender.Load("job.gcode", "G1X1\n", nil))

	require.NoError(t, tc.cmdSenderStop([]any{map[string]any{"force": true}}))
	require.Len(t, tc.writer.lines, 3)
	assert.Equal(t, string([]byte{CtrlKillJob}), tc.writer.lines[0])
	assert.Equal(t, "M30\n", tc.writer.lines[1])
	assert.Equal(t, "{\"qr\":\"\"}\n", tc.writer.lines[2])
}

func TestSenderStopForceUsesLegacySequenceForOlderBuilds(t *testing.T) {
	tc := newTestController()
	tc.runner.model.Settings.FB = 99
	require.NoError(t, tc.sender.Load("job.gcode", "G1X1\n", nil))

	require.NoError(t, tc.cmdSenderStop([]any{map[string]any{"force": true}}))
	require.Len(t, tc.writer.lines, 4)
	assert.Equal(t, string([]byte{CtrlFeedHold, '\n'}), tc.writer.lines[0])
	assert.Equal(t, string([]byte{CtrlQueueFlush, '\n'}), tc.writer.lines[1])
	assert.Equal(t, "M30\n", tc.writer.lines[2])
	assert.Equal(t, "{\"qr\":\"\"}\n", tc.writer.lines[3])
}

func TestSenderStopWithoutForceOnlyStopsWorkflow(t *testing.T) {
	tc := newTestController()
	require.NoError(t, tc.sender.Load("job.gcode", "G1X1\n", nil))
	require.NoError(t, tc.flow.CommandStart())

	require.NoError(t, tc.cmdSenderStop(nil))
	assert.Equal(t, WorkflowIdle, tc.workflow.State())
	require.Len(t, tc.writer.lines, 1, "only the qr poke, no out-of-band kill sequence")
	assert.Equal(t, "{\"qr\":\"\"}\n", tc.writer.lines[0])
}

func TestOverrideFeedResetsToOneOnZeroDelta(t *testing.T) {
	tc := newTestController()
	tc.runner.model.Settings.MFO = 1.5

	require.NoError(t, tc.cmdOverride([]any{float64(0)}, "mfo", func(s *Settings) *float64 { return &s.MFO }))
	require.Len(t, tc.writer.lines, 1)
	assert.Equal(t, "{\"mfo\":1}\n", tc.writer.lines[0])
}

func TestOverrideFeedClampsToUpperBound(t *testing.T) {
	tc := newTestController()
	tc.runner.model.Settings.MFO = 2.0

	require.NoError(t, tc.cmdOverride([]any{float64(50)}, "mfo", func(s *Settings) *float64 { return &s.MFO }))
	require.Len(t, tc.writer.lines, 1)
	assert.Equal(t, "{\"mfo\":2}\n", tc.writer.lines[0])
}

func TestOverrideRapidMapsPercentToFraction(t *testing.T) {
	tc := newTestController()

	require.NoError(t, tc.cmdOverrideRapid([]any{float64(25)}))
	require.Len(t, tc.writer.lines, 1)
	assert.Equal(t, "{\"mto\":0.25}\n", tc.writer.lines[0])
}

func TestOverrideRapidIgnoresUnmappedValues(t *testing.T) {
	tc := newTestController()

	require.NoError(t, tc.cmdOverrideRapid([]any{float64(42)}))
	assert.Empty(t, tc.writer.lines)
}

func TestMotorEnableWithoutTimeoutOnlyWritesEnable(t *testing.T) {
	tc := newTestController()

	require.NoError(t, tc.handleCommand("motor:enable", nil))
	require.Len(t, tc.writer.lines, 1)
	assert.Equal(t, "{\"me\":0}\n", tc.writer.lines[0])
}

// TestMotorEnableWithTimeoutAppliesTimeoutBeforeEnabling covers the
// optional timeoutSec argument spec.md:177 names: it must be written via
// the same `{"mt":...}` encoding motor:timeout uses, before the enable
// write.
func TestMotorEnableWithTimeoutAppliesTimeoutBeforeEnabling(t *testing.T) {
	tc := newTestController()

	require.NoError(t, tc.handleCommand("motor:enable", []any{float64(30)}))
	require.Len(t, tc.writer.lines, 2)
	assert.Equal(t, "{\"mt\":30}\n", tc.writer.lines[0])
	assert.Equal(t, "{\"me\":0}\n", tc.writer.lines[1])
}

func TestHandleCommandUnknownNameIsIgnored(t *testing.T) {
	tc := newTestController()
	assert.NoError(t, tc.handleCommand("not:a:real:command", nil))
}

func TestHandleCommandMacroDelegatesToExternalCollaborator(t *testing.T) {
	tc := newTestController()
	err := tc.handleCommand("macro:run", nil)
	assert.ErrorIs(t, err, ErrExternalCollaborator)
}
