package controller

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// waitLine is appended to every loaded program so the final dwell drains
// the planner before the Sender reports completion.
const waitLine = "%wait ; Wait for the planner to empty"

var leadingNRe = regexp.MustCompile(`^N\d+`)

// Sender streams a loaded program under the SEND_RESPONSE discipline: at
// most one line in flight between a send and its matching `r`. Line
// rewriting (whitespace strip + N-rewrite) happens here; expression-stage
// processing (shared with the Feeder) is injected as a transform
// function so Sender and Feeder never need to know about each other.
type Sender struct {
	log *logrus.Entry

	lines []string
	total int
	sent  int
	received int

	hold   bool
	reason string

	startTime  time.Time
	finishTime time.Time

	name    string
	context map[string]interface{}

	transform func(raw string, pipeline Pipeline) ExprResult

	OnStart  func()
	OnEnd    func(at time.Time)
	OnHold   func(reason string)
	OnUnhold func()
}

func NewSender(log *logrus.Entry, transform func(string, Pipeline) ExprResult) *Sender {
	return &Sender{log: log, transform: transform}
}

// Load tokenizes content into lines (LF or CRLF), appends the terminal
// %wait dwell, and resets counters. Empty content is rejected.
func (s *Sender) Load(name, content string, ctx map[string]interface{}) error {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	var lines []string
	for _, line := range strings.Split(normalized, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return errors.New("sender: load rejected, content is empty")
	}

	lines = append(lines, waitLine)

	s.lines = lines
	s.total = len(lines)
	s.sent = 0
	s.received = 0
	s.hold = false
	s.reason = ""
	s.startTime = time.Time{}
	s.finishTime = time.Time{}
	s.name = name
	s.context = ctx

	return nil
}

// Unload clears the program and counters.
func (s *Sender) Unload() {
	s.lines = nil
	s.total = 0
	s.sent = 0
	s.received = 0
	s.hold = false
	s.reason = ""
	s.startTime = time.Time{}
	s.finishTime = time.Time{}
	s.name = ""
	s.context = nil
}

// Rewind sets sent = received = 0 and clears hold. startTime is reset
// too, so the next Next() call fires OnStart again instead of treating
// the replay as a continuation of the previous run.
func (s *Sender) Rewind() {
	s.sent = 0
	s.received = 0
	s.hold = false
	s.reason = ""
	s.startTime = time.Time{}
	s.finishTime = time.Time{}
}

func (s *Sender) Hold(reason string) {
	wasHeld := s.hold
	s.hold = true
	s.reason = reason
	if !wasHeld && s.OnHold != nil {
		s.OnHold(reason)
	}
}

func (s *Sender) Unhold() {
	wasHeld := s.hold
	s.hold = false
	s.reason = ""
	if wasHeld && s.OnUnhold != nil {
		s.OnUnhold()
	}
}

func (s *Sender) Held() (bool, string) { return s.hold, s.reason }

func (s *Sender) Counters() (sent, received, total int) { return s.sent, s.received, s.total }

func (s *Sender) Name() string { return s.name }

func (s *Sender) FinishTime() time.Time { return s.finishTime }

// LastSentLine returns the most recently transmitted raw source line, for
// the offending-line broadcast on a firmware status error.
func (s *Sender) LastSentLine() string {
	if s.sent <= 0 || s.sent > len(s.lines) {
		return ""
	}
	return s.lines[s.sent-1]
}

// Next: if held or sent==total, no-op (ok=false). Otherwise it takes
// lines[sent], runs the expression stage, advances sent, and then strips
// whitespace from the stage's output and rewrites its leading N token to
// N<index of the line>.
func (s *Sender) Next() (line string, ctx map[string]interface{}, hold *HoldInfo, ok bool) {
	if s.hold || s.sent >= s.total {
		return "", nil, nil, false
	}

	if s.sent == 0 && s.startTime.IsZero() {
		s.startTime = time.Now()
		if s.OnStart != nil {
			s.OnStart()
		}
	}

	raw := s.lines[s.sent]

	result := s.transform(raw, PipelineSender)
	if result.Hold != nil {
		s.Hold(result.Hold.Reason)
	}

	s.sent++

	out := result.Line
	if out != "" {
		out = prepareLine(out, s.sent-1)
	}

	return out, s.context, result.Hold, true
}

// prepareLine removes all whitespace from the line and rewrites any
// leading N<k> token with N<sent>.
func prepareLine(line string, sent int) string {
	stripped := strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, line)

	if leadingNRe.MatchString(stripped) {
		stripped = leadingNRe.ReplaceAllString(stripped, fmt.Sprintf("N%d", sent))
	}
	return stripped
}

// Ack registers that the firmware acknowledged the in-flight line. If
// this completes the program it fires OnEnd.
func (s *Sender) Ack() {
	s.received++
	if s.received == s.total {
		s.finishTime = time.Now()
		if s.OnEnd != nil {
			s.OnEnd(s.finishTime)
		}
	}
}
