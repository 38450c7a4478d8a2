package screenshot

import (
	"pagecapture/config"
)

// StepStatus is the outcome of one best-effort step of a capture.
type StepStatus string

const (
	StepOK       StepStatus = "ok"
	StepSkipped  StepStatus = "skipped"
	StepDegraded StepStatus = "degraded"
	// StepFailed is only used when the capture's context ended mid-step.
	StepFailed StepStatus = "failed"
)

// StepResult reports how a pipeline step went. Err is set for degraded and
// failed steps.
type StepResult struct {
	Step   string
	Status StepStatus
	Err    error
}

func okStep(step string) StepResult { return StepResult{Step: step, Status: StepOK} }

func skippedStep(step string) StepResult { return StepResult{Step: step, Status: StepSkipped} }

func degradedStep(step string, err error) StepResult {
	return StepResult{Step: step, Status: StepDegraded, Err: err}
}

// CaptureStatus is the outcome of one (page, viewport) capture.
type CaptureStatus string

const (
	StatusCaptured CaptureStatus = "captured"
	StatusFailed   CaptureStatus = "failed"
)

// CaptureResult describes one (page, viewport) capture.
type CaptureResult struct {
	Page     config.PageTarget
	Viewport config.Viewport
	// Size is the viewport actually used; for auto captures the measured one.
	Size   Size
	Path   string
	Status CaptureStatus
	Err    error
	Steps  []StepResult
}

// Degraded returns the steps that did not complete normally.
func (r CaptureResult) Degraded() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Status == StepDegraded || s.Status == StepFailed {
			out = append(out, s)
		}
	}
	return out
}

// Summary counts results by status.
type Summary struct {
	Captured int
	Failed   int
	Degraded int
}

// Summarize tallies a batch of results. Degraded counts captured results
// with at least one degraded step.
func Summarize(results []CaptureResult) Summary {
	var s Summary
	for _, r := range results {
		switch r.Status {
		case StatusCaptured:
			s.Captured++
			if len(r.Degraded()) > 0 {
				s.Degraded++
			}
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}
