package controller

import (
	"fmt"
	"strings"
	"time"

	"github.com/Knetic/govaluate"
)

// Pipeline distinguishes which streaming pipeline a line is passing
// through, since the expression stage raises holds on different targets
// depending on the caller.
type Pipeline int

const (
	PipelineFeeder Pipeline = iota
	PipelineSender
)

// HoldInfo describes a hold the expression stage wants the caller to
// raise, and for the Sender pipeline, whether the workflow itself should
// be paused (M0/M1/M6 always pause the running program; they only hold
// the Feeder when jogging).
type HoldInfo struct {
	Reason       string
	PauseProgram bool
	PauseData    string
}

// ExprResult is the outcome of running a single source line through the
// expression stage.
type ExprResult struct {
	Line string
	Hold *HoldInfo
}

// BoundingBox is the work-envelope context the expression stage exposes
// to `[expr]` substitution as xmin..zmax.
type BoundingBox struct {
	XMin, XMax float64
	YMin, YMax float64
	ZMin, ZMax float64
}

// ExpressionStage handles comment stripping, `%wait`
// interception, `%...` assignment evaluation, `[expr]` substitution, and
// M0/M1/M6 token inspection. It is shared by the Feeder and Sender
// pipelines but owns no pipeline state itself — holds are returned to the
// caller, never raised directly, which is what lets one stage serve both
// without back-pointers.
//
// MachinePos/WorkPos/ModalGroup/Tool are normally Runner.GetMachinePosition,
// Runner.GetWorkPosition, Runner.GetModalGroup, and Runner.GetTool wired
// at construction time, matching the query surface spec §4.2 exposes on
// the Runner rather than reaching into RunnerModel's fields directly.
type ExpressionStage struct {
	Global     func() map[string]interface{} // shared assignment-target map
	BBox       func() BoundingBox
	MachinePos func() Position
	WorkPos    func() Position
	ModalGroup func() ModalGroup
	Tool       func() int
}

// Process runs one raw source line through the full stage and returns the
// line to transmit (possibly empty) plus any hold the caller should raise.
func (e *ExpressionStage) Process(raw string, pipeline Pipeline) ExprResult {
	line := StripComment(raw)
	if line == "" {
		return ExprResult{Line: ""}
	}

	if strings.HasPrefix(line, "%") {
		return e.processPercent(line, pipeline)
	}

	substituted := e.substituteBrackets(line)
	tokens := Tokenize(substituted)
	hold := holdFor(tokens, pipeline)
	return ExprResult{Line: substituted, Hold: hold}
}

func (e *ExpressionStage) processPercent(line string, pipeline Pipeline) ExprResult {
	rest := strings.TrimSpace(strings.TrimPrefix(line, "%"))

	if rest == "wait" {
		return ExprResult{
			Line: "G4 P0.5",
			Hold: &HoldInfo{Reason: "%wait"},
		}
	}

	e.evaluateAssignments(rest)
	return ExprResult{Line: ""}
}

// evaluateAssignments parses `rest` as a `;`-separated list of
// `key=expression` statements and stores each result into the shared
// context map.
func (e *ExpressionStage) evaluateAssignments(rest string) {
	if e.Global == nil {
		return
	}
	global := e.Global()
	ctx := e.buildContext()

	for _, stmt := range strings.Split(rest, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		parts := strings.SplitN(stmt, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		exprStr := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		expr, err := govaluate.NewEvaluableExpression(exprStr)
		if err != nil {
			continue
		}
		result, err := expr.Evaluate(ctx)
		if err != nil {
			continue
		}
		global[key] = result
	}
}

// substituteBrackets replaces every `[expr]` occurrence with the result of
// evaluating expr against the populated context.
func (e *ExpressionStage) substituteBrackets(line string) string {
	ctx := e.buildContext()
	return bracketExprRe.ReplaceAllStringFunc(line, func(m string) string {
		inner := m[1 : len(m)-1]
		expr, err := govaluate.NewEvaluableExpression(inner)
		if err != nil {
			return m
		}
		result, err := expr.Evaluate(ctx)
		if err != nil {
			return m
		}
		return fmt.Sprintf("%v", result)
	})
}

// buildContext assembles the evaluation context: global map, bounding
// box, machine/work position, modal group, active tool, and a fixed set
// of host-injected helper objects.
func (e *ExpressionStage) buildContext() map[string]interface{} {
	ctx := map[string]interface{}{
		"now": time.Now,
	}

	if e.Global != nil {
		for k, v := range e.Global() {
			ctx[k] = v
		}
		ctx["global"] = e.Global()
	}

	if e.BBox != nil {
		bbox := e.BBox()
		ctx["xmin"], ctx["xmax"] = bbox.XMin, bbox.XMax
		ctx["ymin"], ctx["ymax"] = bbox.YMin, bbox.YMax
		ctx["zmin"], ctx["zmax"] = bbox.ZMin, bbox.ZMax
	} else {
		ctx["xmin"], ctx["xmax"] = 0.0, 0.0
		ctx["ymin"], ctx["ymax"] = 0.0, 0.0
		ctx["zmin"], ctx["zmax"] = 0.0, 0.0
	}

	if e.MachinePos != nil {
		mpos := e.MachinePos()
		ctx["mposx"], ctx["mposy"], ctx["mposz"] = mpos.X, mpos.Y, mpos.Z
		ctx["mposa"], ctx["mposb"], ctx["mposc"] = mpos.A, mpos.B, mpos.C
	}

	if e.WorkPos != nil {
		pos := e.WorkPos()
		ctx["posx"], ctx["posy"], ctx["posz"] = pos.X, pos.Y, pos.Z
		ctx["posa"], ctx["posb"], ctx["posc"] = pos.A, pos.B, pos.C
	}

	if e.ModalGroup != nil {
		modal := e.ModalGroup()
		ctx["motion"] = modal.Motion
		ctx["wcs"] = modal.WCS
		ctx["plane"] = modal.Plane
		ctx["units"] = modal.Units
		ctx["distance"] = modal.Distance
		ctx["feedrate"] = modal.Feedrate
		ctx["path"] = modal.Path
		ctx["spindle"] = modal.Spindle
		// M7 and M8 must land on separate lines so they don't collide
		// within the same modal group.
		ctx["coolant"] = strings.Join(modal.Coolant, "\n")
	}

	if e.Tool != nil {
		ctx["tool"] = e.Tool()
	}

	return ctx
}

func holdFor(tokens []Token, pipeline Pipeline) *HoldInfo {
	switch {
	case HasToolChange(tokens):
		return &HoldInfo{Reason: "M6", PauseProgram: pipeline == PipelineSender, PauseData: "M6"}
	case HasMotionHold(tokens):
		for _, t := range tokens {
			if t == "M0" || t == "M1" {
				return &HoldInfo{Reason: string(t), PauseProgram: pipeline == PipelineSender, PauseData: string(t)}
			}
		}
	}
	return nil
}
