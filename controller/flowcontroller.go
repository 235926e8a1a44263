package controller

import (
	"github.com/sirupsen/logrus"
)

// SenderStatus tracks the ack/next handshake on the in-flight Sender line.
type SenderStatus int

const (
	SenderStatusNone SenderStatus = iota
	SenderStatusNext
	SenderStatusAck
)

func (s SenderStatus) String() string {
	switch s {
	case SenderStatusNext:
		return "next"
	case SenderStatusAck:
		return "ack"
	default:
		return "none"
	}
}

// FlowController is the heart of the driver: it binds Runner
// events to the Feeder, Sender, and Workflow, implementing the
// send/response + planner-queue watermark protocol. It is the only party
// that reaches across Feeder/Sender/Workflow, precisely so those three
// stay decoupled from one another.
type FlowController struct {
	log *logrus.Entry

	runner   *Runner
	feeder   *Feeder
	sender   *Sender
	workflow *Workflow

	broadcast BroadcastSink
	write     func(p []byte) (int, error)

	ignoreErrors func() bool

	senderStatus SenderStatus
	blocked      bool
}

// NewFlowController wires Runner frame handlers directly onto itself
// and returns the controller ready to drive the protocol.
func NewFlowController(
	log *logrus.Entry,
	runner *Runner,
	feeder *Feeder,
	sender *Sender,
	workflow *Workflow,
	broadcast BroadcastSink,
	write func([]byte) (int, error),
	ignoreErrors func() bool,
) *FlowController {
	fc := &FlowController{
		log: log, runner: runner, feeder: feeder, sender: sender, workflow: workflow,
		broadcast: broadcast, write: write, ignoreErrors: ignoreErrors,
	}

	runner.OnR = fc.HandleR
	runner.OnQR = fc.HandleQR
	runner.OnF = fc.HandleF
	runner.OnRaw = fc.HandleRaw

	return fc
}

func (fc *FlowController) Blocked() bool             { return fc.blocked }
func (fc *FlowController) SenderStatus() SenderStatus { return fc.senderStatus }
func (fc *FlowController) Workflow() *Workflow       { return fc.workflow }

// HandleR processes an `r` frame: the ack/next handshake that releases
// the next line on the active pipeline.
func (fc *FlowController) HandleR(frame RFrame) {
	state := fc.workflow.State()
	sent, received, _ := fc.sender.Counters()

	fc.checkProtocolDrift(frame, sent)

	switch {
	case state == WorkflowRunning:
		fc.senderStatus = SenderStatusAck
		if !fc.blocked {
			fc.sender.Ack()
			fc.pullSender()
			fc.senderStatus = SenderStatusNext
		}
	case state == WorkflowPaused && received < sent:
		fc.sender.Ack()
		fc.pullSender()
		fc.senderStatus = SenderStatusNext
	default:
		fc.pullFeeder()
	}
}

// checkProtocolDrift compares the firmware's r.n line-number echo against
// the Sender's local sent counter. A mismatch is logged at warn and
// otherwise ignored: the local counters remain ground truth (spec's
// protocol-drift handling), so this never changes what HandleR does next.
func (fc *FlowController) checkProtocolDrift(frame RFrame, sent int) {
	if frame.N == nil || sent == 0 {
		return
	}
	expected := sent - 1
	if *frame.N != expected {
		if fc.log != nil {
			fc.log.WithFields(logrus.Fields{
				"echoed": *frame.N, "sent": expected,
			}).Warn("flowcontroller: r.n does not match local sent counter, protocol drift")
		}
	}
}

// HandleQR processes a `qr` frame carrying the planner queue depth,
// applying the low/high watermark hysteresis that blocks and releases
// the Sender.
func (fc *FlowController) HandleQR(q int) {
	if q <= LowWater {
		fc.blocked = true
		return
	}
	if q >= HighWater {
		fc.blocked = false
	}

	state := fc.workflow.State()

	switch {
	case state == WorkflowRunning && fc.senderStatus == SenderStatusNext:
		held, _ := fc.sender.Held()
		sent, received, _ := fc.sender.Counters()
		if held && received >= sent && q >= fc.runner.PlannerBufferPoolSize() {
			fc.sender.Unhold()
			fc.pullSender()
			fc.senderStatus = SenderStatusNext
		}
	case state == WorkflowRunning && fc.senderStatus == SenderStatusAck:
		fc.sender.Ack()
		fc.pullSender()
		fc.senderStatus = SenderStatusNext
	case state == WorkflowPaused && fc.senderStatus == SenderStatusAck:
		fc.sender.Ack()
		fc.pullSender()
		fc.senderStatus = SenderStatusNext
	case state == WorkflowIdle:
		held, reason := fc.feeder.Held()
		if held && reason == "%wait" && q >= fc.runner.PlannerBufferPoolSize() {
			fc.feeder.Unhold()
		}
		fc.pullFeeder()
	}
}

// HandleF processes an `f` frame carrying a non-zero status code: the
// firmware's report that the last line it ran failed.
func (fc *FlowController) HandleF(footer []float64) {
	if len(footer) < 2 {
		return
	}
	code := int(footer[1])
	if code == 0 {
		return
	}

	msg := statusCodeMessage(code)

	switch fc.workflow.State() {
	case WorkflowRunning:
		line := fc.sender.LastSentLine()
		fc.broadcast.Broadcast(EventConnectionRead, "> "+line)
		fc.broadcast.Broadcast("error", map[string]any{
			"err": map[string]any{"code": code, "msg": msg, "line": line, "data": footer},
		})
		if fc.ignoreErrors == nil || !fc.ignoreErrors() {
			fc.PauseWorkflow(msg)
		}
	case WorkflowIdle:
		fc.broadcast.Broadcast("error", map[string]any{
			"err": map[string]any{"code": code, "msg": msg, "data": footer},
		})
		fc.pullFeeder()
	}
}

// HandleRaw broadcasts unrecognized frames for debugging, but only while
// idle.
func (fc *FlowController) HandleRaw(line []byte) {
	if fc.workflow.State() == WorkflowIdle {
		fc.broadcast.Broadcast(EventConnectionRead, string(line))
	}
}

// CommandStart implements the `start` workflow transition.
func (fc *FlowController) CommandStart() error {
	if err := fc.workflow.Start(); err != nil {
		return err
	}
	fc.broadcast.Broadcast(EventWorkflowState, fc.workflow.State().String())
	fc.blocked = false
	fc.senderStatus = SenderStatusNone
	fc.sender.Rewind()
	return nil
}

// CommandStop implements the `stop` workflow transition. This
// deliberately mirrors start's side effects (rewinding the Sender), so a
// later `start` replays the program from line 0 rather than resuming
// where it left off.
func (fc *FlowController) CommandStop() error {
	if err := fc.workflow.Stop(); err != nil {
		return err
	}
	fc.broadcast.Broadcast(EventWorkflowState, fc.workflow.State().String())
	fc.blocked = false
	fc.senderStatus = SenderStatusNone
	fc.sender.Rewind()
	return nil
}

// PauseWorkflow implements the `pause` workflow transition.
func (fc *FlowController) PauseWorkflow(reason string) error {
	if err := fc.workflow.Pause(); err != nil {
		return err
	}
	fc.broadcast.Broadcast(EventWorkflowState, fc.workflow.State().String())
	fc.sender.Hold(reason)
	return nil
}

// CommandResume implements the `resume` workflow transition.
func (fc *FlowController) CommandResume() error {
	if err := fc.workflow.Resume(); err != nil {
		return err
	}
	fc.broadcast.Broadcast(EventWorkflowState, fc.workflow.State().String())
	fc.feeder.Reset()
	fc.sender.Unhold()
	fc.pullSender()
	return nil
}

// pullSender asks the Sender for its next line (if any) and writes it to
// the transport. A hold flagged as program-pausing (M0/M1/M6 on the
// Sender pipeline) also pauses the Workflow, since the Sender itself has
// no reference to it.
func (fc *FlowController) pullSender() {
	line, _, hold, ok := fc.sender.Next()
	if !ok {
		return
	}
	if hold != nil && hold.PauseProgram {
		fc.PauseWorkflow(hold.PauseData)
	}
	fc.writeLine(line)
}

func (fc *FlowController) pullFeeder() {
	line, _, ok := fc.feeder.Next()
	if !ok {
		return
	}
	fc.writeLine(line)
}

func (fc *FlowController) writeLine(line string) {
	if line == "" {
		return
	}
	if _, err := fc.write([]byte(line + "\n")); err != nil && fc.log != nil {
		fc.log.WithError(err).WithField("line", line).Warn("flowcontroller: write failed")
	}
}
