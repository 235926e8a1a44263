package controller

import "time"

// Position holds a six-axis coordinate. The firmware reports X,Y,Z,A,B,C
// independently; unused axes simply stay zero.
type Position struct {
	X, Y, Z, A, B, C float64
}

// Sub returns p minus other, axis by axis.
func (p Position) Sub(other Position) Position {
	return Position{
		X: p.X - other.X,
		Y: p.Y - other.Y,
		Z: p.Z - other.Z,
		A: p.A - other.A,
		B: p.B - other.B,
		C: p.C - other.C,
	}
}

// ModalGroup mirrors the g-code modal state last reported in an `sr` frame.
type ModalGroup struct {
	Motion   string
	WCS      string
	Plane    string
	Units    string
	Distance string
	Feedrate string
	Path     string
	Spindle  string
	Coolant  []string
}

// Settings mirrors the firmware-side settings the driver cares about:
// build number, overrides, and motor timeout.
type Settings struct {
	FB  float64 // firmware build
	HP  float64 // hardware platform
	MFO float64 // feed override fraction
	SSO float64 // spindle override fraction
	MTO float64 // rapid override fraction
	MT  float64 // motor timeout seconds
}

// RunnerModel is the mirrored machine state maintained by the Runner as it
// decodes frames off the wire.
type RunnerModel struct {
	MachinePos Position
	WorkPos    Position
	Modal      ModalGroup
	Tool       int
	Footer     []float64
	Settings   Settings

	PlannerBufferPoolSize int
	LastQR                int

	Velocity   Position
	lastSRTime time.Time

	Status string // firmware `stat` field text, e.g. "Run", "Hold", "Alarm"
}

// Overrides is the read-side view of the feed/rapid/spindle override
// fractions the `override:*` commands write to `mfo`/`mto`/`sso`.
type Overrides struct {
	Feed    float64
	Rapid   float64
	Spindle float64
}

// Overrides returns the current override fractions mirrored from
// Settings, so a snapshot consumer doesn't need to know the raw
// `mfo`/`mto`/`sso` field names.
func (m RunnerModel) Overrides() Overrides {
	return Overrides{Feed: m.Settings.MFO, Rapid: m.Settings.MTO, Spindle: m.Settings.SSO}
}

// IsAlarm reports whether the mirrored status indicates a firmware alarm.
func (m RunnerModel) IsAlarm() bool { return m.Status == "Alarm" }

// IsIdle reports whether the mirrored status indicates the machine is idle.
func (m RunnerModel) IsIdle() bool { return m.Status == "" || m.Status == "Ready" || m.Status == "Stop" }

// StatusReportMask tracks which status-report fields are still believed to
// be supported by the firmware. A probed capability answering `null`
// clears the corresponding bit permanently for the life of the
// ControllerInstance.
type StatusReportMask map[string]bool

// DefaultStatusReportMask returns the initial status-report field set,
// all enabled.
func DefaultStatusReportMask() StatusReportMask {
	fields := []string{
		"stat", "line", "vel", "feed", "unit", "coor", "momo", "plan", "path",
		"dist", "admo", "frmo", "tool",
		"posx", "posy", "posz", "posa", "posb", "posc",
		"mpox", "mpoy", "mpoz", "mpoa", "mpob", "mpoc",
		"spe", "spd", "spc", "sps", "com", "cof",
	}
	m := make(StatusReportMask, len(fields))
	for _, f := range fields {
		m[f] = true
	}
	return m
}

// Clear disables a field. Clearing a field that isn't present is a no-op.
func (m StatusReportMask) Clear(field string) {
	if _, ok := m[field]; ok {
		m[field] = false
	}
}

// Enabled returns the set of fields whose bit is still true, in a stable
// order, for building the minified status-report selection object.
func (m StatusReportMask) Enabled() []string {
	// fixed iteration order so the outbound JSON is deterministic, which
	// matters for the relaxed-JSON encoding and for tests.
	order := []string{
		"stat", "line", "vel", "feed", "unit", "coor", "momo", "plan", "path",
		"dist", "admo", "frmo", "tool",
		"posx", "posy", "posz", "posa", "posb", "posc",
		"mpox", "mpoy", "mpoz", "mpoa", "mpob", "mpoc",
		"spe", "spd", "spc", "sps", "com", "cof",
	}
	out := make([]string, 0, len(order))
	for _, f := range order {
		if m[f] {
			out = append(out, f)
		}
	}
	return out
}
