package controller

// statusCodeMessages is the static table the FlowController consults when
// a non-zero `f[1]` status code comes back. Codes follow
// g2core's footer status convention; only the handful this driver's
// flow-control logic and tests reference by name are enumerated, the rest
// fall back to a generic message.
var statusCodeMessages = map[int]string{
	1:  "error",
	2:  "eagain",
	3:  "noop",
	4:  "complete",
	5:  "terminated",
	6:  "hard reset",
	7:  "end of line",
	8:  "end of file",
	9:  "file not open",
	10: "max file size exceeded",
	20: "internal error",
	21: "internal range error",
	32: "minimum length move error",
	33: "minimum time move error",
	34: "out of range",
	35: "out of range error",
	36: "gcode command unsupported",
	37: "m code unsupported",
	38: "gcode modal group violation",
	42: "soft limit exceeded",
	43: "hard limit exceeded",
	44: "homing cycle failed",
	45: "homing error bad or no axis",
	50: "alarm, command rejected",
	60: "spindle control error",
}

// statusCodeMessage looks up the human-readable message for an `f[1]`
// status code, falling back to a generic description for unknown codes.
func statusCodeMessage(code int) string {
	if msg, ok := statusCodeMessages[code]; ok {
		return msg
	}
	return "unknown status code"
}
