package controller

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner() *Runner {
	return NewRunner(logrus.NewEntry(logrus.New()))
}

func TestRunnerFeedSplitsOnNewlineAcrossCalls(t *testing.T) {
	r := newTestRunner()
	var got []byte
	r.OnRaw = func(line []byte) { got = line }

	r.Feed([]byte("ok"))
	assert.Nil(t, got, "no complete line yet")

	r.Feed([]byte("\n"))
	assert.Equal(t, "ok", string(got))
}

func TestRunnerClassifiesRFrame(t *testing.T) {
	r := newTestRunner()
	var gotFrame RFrame
	var called bool
	r.OnR = func(f RFrame) { gotFrame = f; called = true }

	r.Feed([]byte(`{"r":{"n":5}}` + "\n"))
	require.True(t, called)
	require.NotNil(t, gotFrame.N)
	assert.Equal(t, 5, *gotFrame.N)
}

func TestRunnerClassifiesQRFrame(t *testing.T) {
	r := newTestRunner()
	var q int
	r.OnQR = func(v int) { q = v }

	r.Feed([]byte(`{"qr":18}` + "\n"))
	assert.Equal(t, 18, q)
}

func TestRunnerIgnoresBareQueueReportPoke(t *testing.T) {
	r := newTestRunner()
	var called bool
	r.OnQR = func(int) { called = true }

	r.Feed([]byte(`{"qr":""}` + "\n"))
	assert.False(t, called)
}

func TestRunnerProbeNullClearsMaskBit(t *testing.T) {
	r := newTestRunner()
	require.True(t, r.Mask()["spe"], "spe starts out enabled")

	var frame RFrame
	r.OnR = func(f RFrame) { frame = f }
	r.Feed([]byte(`{"r":{"spe":null}}` + "\n"))

	assert.False(t, r.Mask()["spe"])
	assert.Contains(t, frame.NullFields, "spe")
}

func TestRunnerProbeNonNullAppliesSetting(t *testing.T) {
	r := newTestRunner()
	r.Feed([]byte(`{"r":{"mfo":1.5}}` + "\n"))
	assert.Equal(t, 1.5, r.Model().Settings.MFO)
}

func TestRunnerSRUpdatesPositionAndStatus(t *testing.T) {
	r := newTestRunner()
	r.Feed([]byte(`{"sr":{"posx":1.5,"posy":2.5,"stat":5}}` + "\n"))
	model := r.Model()
	assert.Equal(t, 1.5, model.WorkPos.X)
	assert.Equal(t, 2.5, model.WorkPos.Y)
	assert.Equal(t, "Run", model.Status)
	assert.False(t, model.IsIdle())
}

func TestRunnerSRTracksCoolantIndependently(t *testing.T) {
	r := newTestRunner()

	r.Feed([]byte(`{"sr":{"com":1}}` + "\n"))
	assert.Equal(t, []string{"M7"}, r.Model().Modal.Coolant)

	r.Feed([]byte(`{"sr":{"cof":1}}` + "\n"))
	assert.Equal(t, []string{"M7", "M8"}, r.Model().Modal.Coolant, "cof must not clear the mist flag already reported")

	r.Feed([]byte(`{"sr":{"com":0}}` + "\n"))
	assert.Equal(t, []string{"M8"}, r.Model().Modal.Coolant)
}

func TestRunnerRawFrameForNonJSONLine(t *testing.T) {
	r := newTestRunner()
	var got []byte
	r.OnRaw = func(line []byte) { got = line }

	r.Feed([]byte("tinyg [mm] ok\n"))
	assert.Equal(t, "tinyg [mm] ok", string(got))
}

func TestRunnerMalformedJSONWarns(t *testing.T) {
	r := newTestRunner()
	var msg string
	r.OnWarn = func(m string) { msg = m }

	r.Feed([]byte(`{"r": {bad}}` + "\n"))
	assert.NotEmpty(t, msg)
}
