package controller

import (
	"errors"
	"fmt"
)

// ErrExternalCollaborator is returned by commands whose implementation
// lives outside the core on purpose: the persistent configuration store
// and the file-watching macro loader.
var ErrExternalCollaborator = errors.New("controller: handled by an external collaborator, not implemented by the core")

// handleCommand is the named-command surface. Unknown names are logged
// and ignored rather than rejected.
func (c *Controller) handleCommand(name string, args []any) error {
	switch name {
	case "sender:load":
		return c.cmdSenderLoad(args)
	case "sender:unload":
		c.sender.Unload()
		c.broadcast.Broadcast(EventSenderUnload, nil)
		return nil
	case "sender:start":
		return c.flow.CommandStart()
	case "sender:stop":
		return c.cmdSenderStop(args)
	case "sender:pause":
		return c.flow.PauseWorkflow("manual")
	case "sender:resume":
		return c.flow.CommandResume()
	case "feeder:start":
		c.feeder.Unhold()
		return nil
	case "feeder:stop":
		c.feeder.Hold("manual")
		return nil
	case "feedhold":
		_, err := c.writeTransport([]byte{CtrlFeedHold})
		if err == nil {
			c.pokeQueueReport()
		}
		return err
	case "cyclestart":
		_, err := c.writeTransport([]byte{CtrlCycleStart})
		if err == nil {
			c.pokeQueueReport()
		}
		return err
	case "homing":
		c.feeder.Feed([]string{"G28.2 X0 Y0 Z0"}, nil)
		return nil
	case "sleep":
		return nil // no-op on this firmware
	case "unlock":
		_, err := c.writeTransport([]byte(`{"clear":null}` + "\n"))
		return err
	case "reset":
		return c.cmdReset()
	case "override:feed":
		return c.cmdOverride(args, "mfo", func(s *Settings) *float64 { return &s.MFO })
	case "override:spindle":
		return c.cmdOverride(args, "sso", func(s *Settings) *float64 { return &s.SSO })
	case "override:rapid":
		return c.cmdOverrideRapid(args)
	case "motor:enable":
		return c.cmdMotorEnable(args)
	case "motor:disable":
		_, err := c.writeTransport([]byte(`{"md":0}` + "\n"))
		return err
	case "motor:timeout":
		return c.cmdMotorTimeout(args)
	case "lasertest":
		return c.cmdLaserTest(args)
	case "gcode":
		return c.cmdGCode(args)
	case "macro:run", "macro:load", "watchdir:load":
		return ErrExternalCollaborator
	default:
		c.log.WithField("command", name).Warn("controller: unknown command, ignored")
		return nil
	}
}

func (c *Controller) cmdSenderLoad(args []any) error {
	if len(args) < 2 {
		return errors.New("controller: sender:load requires name and content")
	}
	name, _ := args[0].(string)
	content, _ := args[1].(string)
	var ctx map[string]interface{}
	if len(args) > 2 {
		ctx, _ = args[2].(map[string]interface{})
	}
	if err := c.sender.Load(name, content, ctx); err != nil {
		return err
	}
	c.broadcast.Broadcast(EventSenderLoad, name)
	return nil
}

// cmdSenderStop selects the force-variant write sequence by firmware
// build number last reported by an `fb` frame.
func (c *Controller) cmdSenderStop(args []any) error {
	force := false
	if len(args) > 0 {
		if opts, ok := args[0].(map[string]any); ok {
			if f, ok := opts["force"].(bool); ok {
				force = f
			}
		}
	}

	if force {
		fb := c.runner.Model().Settings.FB
		switch {
		case fb >= 101:
			c.writeTransport([]byte{CtrlKillJob})
		case fb >= 100:
			c.writeTransport([]byte{CtrlKillJob})
			c.writeTransport([]byte("M30\n"))
		default:
			c.writeTransport([]byte{CtrlFeedHold, '\n'})
			c.writeTransport([]byte{CtrlQueueFlush, '\n'})
			c.writeTransport([]byte("M30\n"))
		}
	}

	if err := c.flow.CommandStop(); err != nil {
		return err
	}
	c.pokeQueueReport()
	return nil
}

func (c *Controller) cmdReset() error {
	if err := c.flow.CommandStop(); err != nil {
		return err
	}
	c.feeder.Reset()
	_, err := c.writeTransport([]byte{CtrlResetBoard})
	return err
}

// pokeQueueReport writes the `{"qr":""}` poke after every
// feedhold/cyclestart/force-stop to prompt a fresh queue report.
func (c *Controller) pokeQueueReport() {
	c.writeTransport([]byte(`{"qr":""}` + "\n"))
}

// cmdOverride implements the feed/spindle override arithmetic: delta==0
// resets to 1, otherwise the new fraction is
// clamp((cur*100+delta)/100, 0.05, 2.0).
func (c *Controller) cmdOverride(args []any, jsonKey string, field func(*Settings) *float64) error {
	if len(args) == 0 {
		return errors.New("controller: override requires a percent delta")
	}
	delta, err := toFloat(args[0])
	if err != nil {
		return err
	}

	settings := c.runner.Model().Settings
	cur := *field(&settings)
	if cur == 0 {
		cur = 1
	}

	var next float64
	if delta == 0 {
		next = 1
	} else {
		next = clamp((cur*100+delta)/100, 0.05, 2.0)
	}

	_, err = c.writeTransport([]byte(fmt.Sprintf(`{%q:%v}`+"\n", jsonKey, next)))
	return err
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// cmdOverrideRapid implements the rapid-override percent-to-fraction map.
func (c *Controller) cmdOverrideRapid(args []any) error {
	if len(args) == 0 {
		return errors.New("controller: override:rapid requires a value")
	}
	v, err := toFloat(args[0])
	if err != nil {
		return err
	}

	var mto float64
	switch int(v) {
	case 0:
		mto = 1
	case 25:
		mto = 0.25
	case 50:
		mto = 0.5
	case 100:
		mto = 1
	default:
		return nil // other values ignored
	}

	_, err = c.writeTransport([]byte(fmt.Sprintf(`{"mto":%v}`+"\n", mto)))
	return err
}

// cmdMotorEnable implements `motor:enable(timeoutSec?)`: when a timeout
// is given it's applied via the same `{"mt":...}` write motor:timeout
// uses, before the `{"me":0}` enable write, so the timeout takes effect
// for the motors this call is about to enable.
func (c *Controller) cmdMotorEnable(args []any) error {
	if len(args) > 0 && args[0] != nil {
		if err := c.cmdMotorTimeout(args[:1]); err != nil {
			return err
		}
	}
	_, err := c.writeTransport([]byte(`{"me":0}` + "\n"))
	return err
}

func (c *Controller) cmdMotorTimeout(args []any) error {
	if len(args) == 0 {
		return errors.New("controller: motor:timeout requires seconds")
	}
	sec, err := toFloat(args[0])
	if err != nil {
		return err
	}
	_, err = c.writeTransport([]byte(fmt.Sprintf(`{"mt":%v}`+"\n", sec)))
	return err
}

func (c *Controller) cmdLaserTest(args []any) error {
	if len(args) < 3 {
		return errors.New("controller: lasertest requires power, durationMs, maxS")
	}
	power, err := toFloat(args[0])
	if err != nil {
		return err
	}
	durationMs, err := toFloat(args[1])
	if err != nil {
		return err
	}
	maxS, err := toFloat(args[2])
	if err != nil {
		return err
	}

	lines := []string{
		fmt.Sprintf("M3 S%v", power*maxS),
		fmt.Sprintf("G4 P%v", durationMs/1000),
		"M5",
	}
	c.feeder.Feed(lines, nil)
	return nil
}

func (c *Controller) cmdGCode(args []any) error {
	if len(args) == 0 {
		return errors.New("controller: gcode requires lines")
	}
	lines, ok := args[0].([]string)
	if !ok {
		return errors.New("controller: gcode requires []string lines")
	}
	var ctx map[string]interface{}
	if len(args) > 1 {
		ctx, _ = args[1].(map[string]interface{})
	}
	c.feeder.Feed(lines, ctx)
	return nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("controller: expected numeric argument, got %T", v)
	}
}
