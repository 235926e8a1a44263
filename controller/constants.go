package controller

import "time"

// Planner-buffer hysteresis and wire-protocol constants. These are firmware-dependent in principle; g2core's default
// planner pool is 28 at last servo update and the low/high water marks
// below are the values this driver has always shipped with.
const (
	LowWater  = 8
	HighWater = 20

	// DefaultPlannerBufferPoolSize is the value NewRunner gives
	// RunnerModel.PlannerBufferPoolSize; no `qr` or settings frame
	// changes it.
	DefaultPlannerBufferPoolSize = 28

	// TinyGSerialBufferLimit bounds any single outbound write issued during
	// initController; larger writes would overflow the firmware's serial
	// input buffer.
	TinyGSerialBufferLimit = 254
)

// QueryTimerPeriod is the fixed tick period of the QueryTimer.
const QueryTimerPeriod = 250 * time.Millisecond

// BootloaderDelay is the pause after transport open before the handshake
// begins, to let the firmware's bootloader settle.
const BootloaderDelay = 1000 * time.Millisecond

// ProgramFinishSettleDelay is how long the machine must sit idle with a
// zero work-offset delta before a finished program triggers an automatic
// sender:stop.
const ProgramFinishSettleDelay = 500 * time.Millisecond

// Out-of-band control characters that bypass all flow control.
const (
	CtrlFeedHold   = '!'
	CtrlCycleStart = '~'
	CtrlQueueFlush = '%'
	CtrlKillJob    = 0x04
	CtrlResetBoard = 0x18
)
