package controller

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExpressionStage() (*ExpressionStage, map[string]interface{}) {
	global := make(map[string]interface{})
	workPos := Position{X: 1, Y: 2, Z: 3}
	stage := &ExpressionStage{
		Global:     func() map[string]interface{} { return global },
		BBox:       func() BoundingBox { return BoundingBox{XMax: 100, YMax: 50, ZMax: 10} },
		MachinePos: func() Position { return Position{} },
		WorkPos:    func() Position { return workPos },
		ModalGroup: func() ModalGroup { return ModalGroup{} },
		Tool:       func() int { return 0 },
	}
	return stage, global
}

func TestExpressionStageStripsComments(t *testing.T) {
	stage, _ := newTestExpressionStage()
	result := stage.Process("G1 X1 ; comment", PipelineFeeder)
	assert.Equal(t, "G1 X1", result.Line)
	assert.Nil(t, result.Hold)
}

func TestExpressionStageWaitDirective(t *testing.T) {
	stage, _ := newTestExpressionStage()
	result := stage.Process("%wait", PipelineSender)
	require.NotNil(t, result.Hold)
	assert.Equal(t, "%wait", result.Hold.Reason)
	assert.False(t, result.Hold.PauseProgram)
	assert.Equal(t, "G4 P0.5", result.Line)
}

func TestExpressionStageAssignment(t *testing.T) {
	stage, global := newTestExpressionStage()
	result := stage.Process("%foo=1+2", PipelineFeeder)
	assert.Equal(t, "", result.Line)
	assert.EqualValues(t, 3, global["foo"])
}

func TestExpressionStageBracketSubstitution(t *testing.T) {
	stage, _ := newTestExpressionStage()
	result := stage.Process("G1 X[xmax/2]", PipelineFeeder)
	assert.Equal(t, "G1 X50", result.Line)
}

func TestExpressionStageM0HoldsSenderAndPausesProgram(t *testing.T) {
	stage, _ := newTestExpressionStage()
	result := stage.Process("M0", PipelineSender)
	require.NotNil(t, result.Hold)
	assert.True(t, result.Hold.PauseProgram)
	assert.Equal(t, "M0", result.Hold.PauseData)
}

func TestExpressionStageM0HoldsFeederOnlyWithoutPausingProgram(t *testing.T) {
	stage, _ := newTestExpressionStage()
	result := stage.Process("M0", PipelineFeeder)
	require.NotNil(t, result.Hold)
	assert.False(t, result.Hold.PauseProgram)
}

func TestExpressionStageM6AlwaysHoldsForToolChange(t *testing.T) {
	stage, _ := newTestExpressionStage()
	result := stage.Process("T2 M6", PipelineSender)
	require.NotNil(t, result.Hold)
	assert.Equal(t, "M6", result.Hold.Reason)
	assert.True(t, result.Hold.PauseProgram)
}

func TestExpressionStageEmptyLineAfterCommentOnlyInput(t *testing.T) {
	stage, _ := newTestExpressionStage()
	result := stage.Process("; only a comment", PipelineFeeder)
	assert.Equal(t, "", result.Line)
	assert.Nil(t, result.Hold)
}

// TestExpressionStageCoolantJoinsBothActiveOntoSeparateLines covers
// spec's M7/M8-on-separate-lines boundary case end to end: an `sr` frame
// reporting both mist and flood coolant active must populate the
// `coolant` context variable with both codes newline-separated, wired
// through the Runner's own query methods rather than a hand-built model.
func TestExpressionStageCoolantJoinsBothActiveOntoSeparateLines(t *testing.T) {
	runner := NewRunner(logrus.NewEntry(logrus.New()))
	runner.Feed([]byte(`{"sr":{"com":1,"cof":1}}` + "\n"))

	stage := &ExpressionStage{
		Global:     func() map[string]interface{} { return map[string]interface{}{} },
		BBox:       func() BoundingBox { return BoundingBox{} },
		MachinePos: runner.GetMachinePosition,
		WorkPos:    func() Position { return runner.GetWorkPosition(nil) },
		ModalGroup: runner.GetModalGroup,
		Tool:       runner.GetTool,
	}

	result := stage.Process("[coolant]", PipelineFeeder)
	assert.Equal(t, "M7\nM8", result.Line)
}
