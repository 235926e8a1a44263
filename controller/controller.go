package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Controller exclusively owns a Transport, Runner, Feeder, Sender,
// Workflow, EventTrigger, and QueryTimer, and is driven by a single
// cooperative event-loop goroutine, the same select-loop shape
// i4energy-sms-gateway's Modem.Loop and jes-pugsender's Grbl.Monitor use.
type Controller struct {
	log *logrus.Entry

	transport Transport
	runner    *Runner
	feeder    *Feeder
	sender    *Sender
	workflow  *Workflow
	flow      *FlowController
	query     *QueryTimer
	trigger   *EventTrigger
	expr      *ExpressionStage

	broadcast BroadcastSink

	sharedContext map[string]interface{}
	bbox          BoundingBox

	ready            bool
	senderFinishTime time.Time
	ignoreErrors     bool

	commands chan commandRequest
	loopDone chan struct{}
	cancel   context.CancelFunc
}

type commandRequest struct {
	name  string
	args  []any
	reply chan error
}

// Config bundles the construction-time dependencies of a Controller.
type Config struct {
	Transport    Transport
	Broadcast    BroadcastSink
	TaskRunner   TaskRunner
	Log          *logrus.Entry
	IgnoreErrors bool
}

// NewController wires the FlowController to the Runner's frame events
// and to the Feeder/Sender/Workflow at construction time, so no party
// needs a back-reference to the Controller itself.
func NewController(cfg Config) *Controller {
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	broadcast := cfg.Broadcast
	if broadcast == nil {
		broadcast = NoopBroadcastSink{}
	}

	c := &Controller{
		log:           log,
		transport:     cfg.Transport,
		broadcast:     broadcast,
		sharedContext: make(map[string]interface{}),
		ignoreErrors:  cfg.IgnoreErrors,
		commands:      make(chan commandRequest, 64),
		loopDone:      make(chan struct{}),
	}

	c.runner = NewRunner(log.WithField("component", "runner"))
	c.expr = &ExpressionStage{
		Global:     func() map[string]interface{} { return c.sharedContext },
		BBox:       func() BoundingBox { return c.bbox },
		MachinePos: c.runner.GetMachinePosition,
		WorkPos:    func() Position { return c.runner.GetWorkPosition(nil) },
		ModalGroup: c.runner.GetModalGroup,
		Tool:       c.runner.GetTool,
	}
	c.feeder = NewFeeder(log.WithField("component", "feeder"), c.expr.Process, c.transportOpen, c.runner.IsAlarm)
	c.sender = NewSender(log.WithField("component", "sender"), c.expr.Process)
	c.sender.OnStart = func() { c.broadcast.Broadcast(EventSenderLoad, c.sender.Name()) }
	c.sender.OnEnd = func(at time.Time) { c.senderFinishTime = at }

	c.workflow = NewWorkflow()

	c.flow = NewFlowController(
		log.WithField("component", "flowcontroller"),
		c.runner, c.feeder, c.sender, c.workflow,
		broadcast, c.writeTransport, func() bool { return c.ignoreErrors },
	)

	c.query = NewQueryTimer(log.WithField("component", "querytimer"), c.runner, c.feeder, c.sender, broadcast)
	c.query.isOpen = c.transportOpen
	c.query.isReady = func() bool { return c.ready }
	c.query.senderFinishTime = func() time.Time { return c.senderFinishTime }
	c.query.bumpSenderFinishTime = func(t time.Time) { c.senderFinishTime = t }
	c.query.clearSenderFinishTime = func() { c.senderFinishTime = time.Time{} }
	c.query.issueSenderStop = func() { c.enqueueInternal("sender:stop") }

	taskRunner := cfg.TaskRunner
	if taskRunner == nil {
		taskRunner = ShellTaskRunner{}
	}
	c.trigger = NewEventTrigger(log.WithField("component", "eventtrigger"), taskRunner, func(line string) {
		c.feeder.Feed([]string{line}, nil)
	})

	c.runner.OnFB = func(float64) {}
	c.runner.OnWarn = func(msg string) { c.log.Warn(msg) }

	return c
}

// ConfigureTriggers replaces the EventTrigger mapping wholesale, normally
// loaded from a local trigger file or the external configuration store.
func (c *Controller) ConfigureTriggers(mapping map[string]TriggerSpec) {
	c.trigger.Configure(mapping)
}

func (c *Controller) transportOpen() bool {
	return c.transport != nil && c.transport.IsOpen()
}

func (c *Controller) writeTransport(p []byte) (int, error) {
	c.broadcast.Broadcast(EventConnectionWrite, string(p))
	return c.transport.Write(p)
}

// enqueueInternal posts a command from inside the loop goroutine itself
// (e.g. the QueryTimer's automatic sender:stop) without deadlocking on
// the buffered commands channel.
func (c *Controller) enqueueInternal(name string, args ...any) {
	select {
	case c.commands <- commandRequest{name: name, args: args, reply: nil}:
	default:
		c.log.WithField("command", name).Warn("controller: command queue full, dropping internal command")
	}
}

// Dispatch enqueues a named lifecycle command and blocks until
// the loop goroutine has processed it.
func (c *Controller) Dispatch(name string, args ...any) error {
	reply := make(chan error, 1)
	c.commands <- commandRequest{name: name, args: args, reply: reply}
	return <-reply
}

// Run is the cooperative event loop: the sole mutator of Controller
// state. Callers spawn it in its own goroutine and cancel ctx to stop it.
func (c *Controller) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	defer close(c.loopDone)

	if err := c.open(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(QueryTimerPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.transport.Close()
			return ctx.Err()

		case ev, ok := <-c.transport.Events():
			if !ok {
				return nil
			}
			c.handleTransportEvent(ev)
			if ev.Kind == EventClose {
				return nil
			}

		case <-ticker.C:
			c.query.Tick()

		case req := <-c.commands:
			err := c.handleCommand(req.name, req.args)
			if req.reply != nil {
				req.reply <- err
			}
		}
	}
}

// Stop cancels the loop goroutine and waits for it to exit.
func (c *Controller) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	<-c.loopDone
}

func (c *Controller) handleTransportEvent(ev Event) {
	switch ev.Kind {
	case EventData:
		c.broadcast.Broadcast(EventConnectionRead, string(ev.Data))
		c.runner.Feed(ev.Data)
	case EventClose:
		c.ready = false
		c.broadcast.Broadcast(EventConnectionClose, ev.Err)
		c.broadcast.Broadcast(EventConnectionChange, false)
	case EventError:
		c.ready = false
		c.broadcast.Broadcast(EventConnectionError, ev.Err)
	}
}

// open performs the transport open and the bring-up handshake. It runs
// on the loop goroutine before the select loop starts, so its blocking
// delays are cooperative yields rather than a separate setup phase.
func (c *Controller) open(ctx context.Context) error {
	if c.transport == nil {
		return errors.New("controller: no transport configured")
	}
	if err := c.transport.Open(ctx); err != nil {
		return fmt.Errorf("controller: open transport: %w", err)
	}

	c.broadcast.Broadcast(EventConnectionOpen, nil)
	c.broadcast.Broadcast(EventConnectionChange, true)

	c.workflow.Stop()
	c.senderFinishTime = time.Time{}
	c.sender.Unload()

	select {
	case <-time.After(BootloaderDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	c.ready = true
	c.broadcast.Broadcast(EventControllerType, "TINYG")

	if err := c.initController(ctx); err != nil {
		c.log.WithError(err).Warn("controller: init sequence failed")
	}

	select {
	case <-time.After(50 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	c.trigger.Trigger("controller:ready")

	return nil
}

// initController runs the JSON-mode, status-report-field, and
// capability-probe handshake the firmware expects right after open.
func (c *Controller) initController(ctx context.Context) error {
	sleep := func(d time.Duration) error {
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	send := func(obj map[string]any) error {
		data, err := json.Marshal(obj)
		if err != nil {
			return err
		}
		if len(data) >= TinyGSerialBufferLimit {
			c.log.WithField("bytes", len(data)).Error("controller: init command exceeds serial buffer limit, dropped")
			return nil
		}
		_, err = c.writeTransport(append(data, '\n'))
		return err
	}

	steps := []map[string]any{
		{"ej": 1},
		{"jv": 4},
		{"qv": 1},
		{"sv": 1},
		{"si": 100},
	}
	for _, step := range steps {
		if err := send(step); err != nil {
			return err
		}
	}

	probes := []string{"spe", "spd", "spc", "sps", "com", "cof"}
	for _, p := range probes {
		if err := send(map[string]any{p: nil}); err != nil {
			return err
		}
		if err := sleep(100 * time.Millisecond); err != nil {
			return err
		}
	}

	if err := sleep(200 * time.Millisecond); err != nil {
		return err
	}
	if err := c.sendStatusReportFields(); err != nil {
		return err
	}

	tail := []map[string]any{
		{"sys": 1}, {"mt": 1}, {"pwr": 1}, {"qr": 1}, {"sr": 1},
	}
	for _, step := range tail {
		if err := send(step); err != nil {
			return err
		}
	}

	return nil
}

// sendStatusReportFields builds the status-report field-selection object
// from the live mask and writes it relaxed-JSON-encoded.
func (c *Controller) sendStatusReportFields() error {
	fields := c.runner.Mask().Enabled()
	obj := make(map[string]any, len(fields))
	for _, f := range fields {
		obj[f] = true
	}
	data, err := json.Marshal(map[string]any{"sr": obj})
	if err != nil {
		return err
	}
	relaxed := relaxedJSON(data)
	if len(relaxed) >= TinyGSerialBufferLimit {
		c.log.WithField("bytes", len(relaxed)).Error("controller: status-report field command exceeds serial buffer limit, dropped")
		return nil
	}
	_, err = c.writeTransport(append([]byte(relaxed), '\n'))
	return err
}

// relaxedJSON strips double quotes and abbreviates `true` to `t`, the
// firmware-mandated encoding for the status-report field selection
// command.
func relaxedJSON(data []byte) string {
	s := strings.ReplaceAll(string(data), `"`, "")
	s = strings.ReplaceAll(s, "true", "t")
	return s
}
