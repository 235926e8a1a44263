package controller

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Runner accumulates bytes off the Transport, assembles line-delimited
// JSON frames, classifies them, and keeps the mirrored RunnerModel and
// StatusReportMask up to date. Frame handlers are registered at
// construction by the FlowController; the Runner never reaches back into
// the controller itself.
type Runner struct {
	log *logrus.Entry

	buf bytes.Buffer

	mask  StatusReportMask
	model RunnerModel

	OnR    func(RFrame)
	OnQR   func(qr int)
	OnSR   func(model RunnerModel)
	OnFB   func(fb float64)
	OnHP   func(hp float64)
	OnF    func(footer []float64)
	OnRaw  func(line []byte)
	OnWarn func(msg string)
}

// RFrame is the decoded shape of an `r` response/acknowledgement frame.
// NullFields lists probed-capability keys the firmware answered with a
// JSON null, meaning "unsupported".
type RFrame struct {
	N          *int
	NullFields []string
}

// NewRunner creates a Runner with the default status-report mask and
// PlannerBufferPoolSize set to DefaultPlannerBufferPoolSize. No decoded
// frame changes the pool size afterwards.
func NewRunner(log *logrus.Entry) *Runner {
	return &Runner{
		log:  log,
		mask: DefaultStatusReportMask(),
		model: RunnerModel{
			PlannerBufferPoolSize: DefaultPlannerBufferPoolSize,
		},
	}
}

// Mask returns the live status-report mask. handleR clears its bits as
// capability probes come back null.
func (r *Runner) Mask() StatusReportMask { return r.mask }

// Model returns a snapshot of the mirrored machine state.
func (r *Runner) Model() RunnerModel { return r.model }

func (r *Runner) GetMachinePosition() Position { return r.model.MachinePos }

// GetWorkPosition returns the mirrored work position, or recomputes it
// against an override snapshot (used by the QueryTimer's idle-detection
// diff).
func (r *Runner) GetWorkPosition(stateOverride *RunnerModel) Position {
	if stateOverride != nil {
		return stateOverride.WorkPos
	}
	return r.model.WorkPos
}

func (r *Runner) GetModalGroup() ModalGroup { return r.model.Modal }
func (r *Runner) GetTool() int              { return r.model.Tool }
func (r *Runner) GetOverrides() Overrides   { return r.model.Overrides() }
func (r *Runner) IsAlarm() bool             { return r.model.IsAlarm() }
func (r *Runner) IsIdle() bool              { return r.model.IsIdle() }
func (r *Runner) PlannerBufferPoolSize() int { return r.model.PlannerBufferPoolSize }

// Feed appends newly arrived transport bytes, splits on newline, and
// decodes each complete line.
func (r *Runner) Feed(data []byte) {
	r.buf.Write(data)
	for {
		line, ok := r.nextLine()
		if !ok {
			return
		}
		r.handleLine(line)
	}
}

func (r *Runner) nextLine() ([]byte, bool) {
	b := r.buf.Bytes()
	idx := bytes.IndexByte(b, '\n')
	if idx < 0 {
		return nil, false
	}
	line := bytes.TrimRight(b[:idx], "\r")
	rest := make([]byte, len(b)-idx-1)
	copy(rest, b[idx+1:])
	r.buf.Reset()
	r.buf.Write(rest)
	return line, true
}

func (r *Runner) handleLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	if line[0] != '{' {
		if r.OnRaw != nil {
			r.OnRaw(line)
		}
		return
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		if r.OnWarn != nil {
			r.OnWarn(fmt.Sprintf("malformed frame %q: %v", line, err))
		}
		return
	}

	switch {
	case hasKey(raw, "r"):
		r.handleR(raw["r"])
	case hasKey(raw, "qr"):
		r.handleQR(raw["qr"])
	case hasKey(raw, "sr"):
		r.handleSR(raw["sr"])
	case hasKey(raw, "fb"):
		r.handleFB(raw["fb"])
	case hasKey(raw, "hp"):
		r.handleHP(raw["hp"])
	case hasKey(raw, "f"):
		r.handleF(raw["f"])
	default:
		if r.OnRaw != nil {
			r.OnRaw(line)
		}
	}
}

func hasKey(m map[string]json.RawMessage, key string) bool {
	_, ok := m[key]
	return ok
}

// probedCapabilityFields maps the init-sequence probe keys
// to the status-report mask bit they gate.
var probedCapabilityFields = map[string]string{
	"spe": "spe", "spd": "spd", "spc": "spc", "sps": "sps", "com": "com", "cof": "cof",
}

func (r *Runner) handleR(raw json.RawMessage) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		if r.OnWarn != nil {
			r.OnWarn(fmt.Sprintf("malformed r frame: %v", err))
		}
		return
	}

	frame := RFrame{}
	if n, ok := body["n"]; ok {
		var v int
		if json.Unmarshal(n, &v) == nil {
			frame.N = &v
		}
	}

	for field := range probedCapabilityFields {
		val, ok := body[field]
		if !ok {
			continue
		}
		if isJSONNull(val) {
			r.mask.Clear(field)
			frame.NullFields = append(frame.NullFields, field)
			continue
		}
		applySetting(&r.model.Settings, field, val)
	}
	for _, field := range []string{"mfo", "sso", "mto", "mt"} {
		if val, ok := body[field]; ok {
			applySetting(&r.model.Settings, field, val)
		}
	}

	if r.OnR != nil {
		r.OnR(frame)
	}
}

func isJSONNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return string(trimmed) == "null"
}

func applySetting(s *Settings, field string, raw json.RawMessage) {
	var v float64
	if json.Unmarshal(raw, &v) != nil {
		return
	}
	switch field {
	case "mfo":
		s.MFO = v
	case "sso":
		s.SSO = v
	case "mto":
		s.MTO = v
	case "mt":
		s.MT = v
	}
}

func (r *Runner) handleQR(raw json.RawMessage) {
	// a bare `{"qr":""}` poke has no integer payload; ignore it.
	var q int
	if err := json.Unmarshal(raw, &q); err != nil {
		return
	}
	r.model.LastQR = q
	if r.OnQR != nil {
		r.OnQR(q)
	}
}

func (r *Runner) handleSR(raw json.RawMessage) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		if r.OnWarn != nil {
			r.OnWarn(fmt.Sprintf("malformed sr frame: %v", err))
		}
		return
	}

	prevMpos := r.model.MachinePos
	prevTime := r.model.lastSRTime

	readFloat := func(key string, dst *float64) {
		if raw, ok := body[key]; ok {
			json.Unmarshal(raw, dst)
		}
	}
	readFloat("posx", &r.model.WorkPos.X)
	readFloat("posy", &r.model.WorkPos.Y)
	readFloat("posz", &r.model.WorkPos.Z)
	readFloat("posa", &r.model.WorkPos.A)
	readFloat("posb", &r.model.WorkPos.B)
	readFloat("posc", &r.model.WorkPos.C)
	readFloat("mpox", &r.model.MachinePos.X)
	readFloat("mpoy", &r.model.MachinePos.Y)
	readFloat("mpoz", &r.model.MachinePos.Z)
	readFloat("mpoa", &r.model.MachinePos.A)
	readFloat("mpob", &r.model.MachinePos.B)
	readFloat("mpoc", &r.model.MachinePos.C)

	if raw, ok := body["stat"]; ok {
		var statNum float64
		if json.Unmarshal(raw, &statNum) == nil {
			r.model.Status = statusCodeText(int(statNum))
		}
	}
	if raw, ok := body["tool"]; ok {
		var tool float64
		if json.Unmarshal(raw, &tool) == nil {
			r.model.Tool = int(tool)
		}
	}
	readModalField := func(key string, dst *string) {
		if raw, ok := body[key]; ok {
			var n float64
			if json.Unmarshal(raw, &n) == nil {
				*dst = modalGroupText(key, int(n))
			}
		}
	}
	readModalField("momo", &r.model.Modal.Motion)
	readModalField("coor", &r.model.Modal.WCS)
	readModalField("plan", &r.model.Modal.Plane)
	readModalField("unit", &r.model.Modal.Units)
	readModalField("dist", &r.model.Modal.Distance)
	readModalField("frmo", &r.model.Modal.Feedrate)
	readModalField("path", &r.model.Modal.Path)

	// `com` (mist, M7) and `cof` (flood, M8) are independent on/off
	// flags; rebuild Coolant from whichever of the two this frame
	// reports, keeping the other's last-known state untouched, and
	// keep them on separate tokens so substituting `coolant` into a
	// line never merges M7 and M8 into one modal-group violation.
	comRaw, comPresent := body["com"]
	cofRaw, cofPresent := body["cof"]
	if comPresent || cofPresent {
		mist := hasCoolantCode(r.model.Modal.Coolant, "M7")
		flood := hasCoolantCode(r.model.Modal.Coolant, "M8")
		if comPresent {
			var v float64
			if json.Unmarshal(comRaw, &v) == nil {
				mist = v != 0
			}
		}
		if cofPresent {
			var v float64
			if json.Unmarshal(cofRaw, &v) == nil {
				flood = v != 0
			}
		}
		var coolant []string
		if mist {
			coolant = append(coolant, "M7")
		}
		if flood {
			coolant = append(coolant, "M8")
		}
		r.model.Modal.Coolant = coolant
	}

	now := time.Now()
	if !prevTime.IsZero() {
		dt := now.Sub(prevTime).Minutes()
		if dt > 0 {
			delta := r.model.MachinePos.Sub(prevMpos)
			r.model.Velocity = Position{
				X: delta.X / dt, Y: delta.Y / dt, Z: delta.Z / dt,
				A: delta.A / dt, B: delta.B / dt, C: delta.C / dt,
			}
		}
	}
	r.model.lastSRTime = now

	if r.OnSR != nil {
		r.OnSR(r.model)
	}
}

func (r *Runner) handleFB(raw json.RawMessage) {
	var v float64
	if json.Unmarshal(raw, &v) != nil {
		return
	}
	r.model.Settings.FB = v
	if r.OnFB != nil {
		r.OnFB(v)
	}
}

func (r *Runner) handleHP(raw json.RawMessage) {
	var v float64
	if json.Unmarshal(raw, &v) != nil {
		return
	}
	r.model.Settings.HP = v
	if r.OnHP != nil {
		r.OnHP(v)
	}
}

func (r *Runner) handleF(raw json.RawMessage) {
	var footer []float64
	if err := json.Unmarshal(raw, &footer); err != nil {
		if r.OnWarn != nil {
			r.OnWarn(fmt.Sprintf("malformed f frame: %v", err))
		}
		return
	}
	r.model.Footer = footer
	if r.OnF != nil {
		r.OnF(footer)
	}
}

// hasCoolantCode reports whether code is already present in coolant, used
// to preserve one coolant flag's state when an `sr` frame only reports
// the other.
func hasCoolantCode(coolant []string, code string) bool {
	for _, c := range coolant {
		if c == code {
			return true
		}
	}
	return false
}

// statusCodeText and modalGroupText translate the small firmware-side
// enums carried in `sr` frames into readable strings for the mirrored
// model. Only the values the driver branches on (idle/run/hold/alarm,
// and the codes referenced by the expression stage) need real names.
func statusCodeText(code int) string {
	switch code {
	case 0:
		return "Init"
	case 1:
		return "Ready"
	case 2:
		return "Alarm"
	case 3:
		return "Stop"
	case 4:
		return "End"
	case 5:
		return "Run"
	case 6:
		return "Hold"
	default:
		return fmt.Sprintf("Unknown(%d)", code)
	}
}

func modalGroupText(field string, n int) string {
	return fmt.Sprintf("%s%d", field, n)
}
