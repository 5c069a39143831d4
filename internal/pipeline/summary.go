// Package pipeline tracks per-step outcomes of a report run and renders the
// end-of-run summary table embedded in the final report bundle.
package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// StepResult records the outcome of one pipeline step.
type StepResult struct {
	// Name identifies the step, e.g. "draft:overview".
	Name string `json:"name"`

	// Success reports whether the step completed.
	Success bool `json:"success"`

	// Attempts counts executions of the step including retries.
	Attempts int `json:"attempts"`

	// Error holds a concise failure message; empty on success. Full error
	// detail lives in logs, not here.
	Error string `json:"error,omitempty"`

	// Duration is the wall-clock time spent on the step across attempts.
	Duration time.Duration `json:"duration"`
}

// SucceededStep builds a successful step record.
func SucceededStep(name string, attempts int, duration time.Duration) StepResult {
	return StepResult{Name: name, Success: true, Attempts: attempts, Duration: duration}
}

// FailedStep builds a failed step record with a concise error message.
func FailedStep(name string, attempts int, err error, duration time.Duration) StepResult {
	msg := fmt.Sprintf("failed after %d attempt(s)", attempts)
	if err != nil {
		msg = fmt.Sprintf("failed after %d attempt(s): %v", attempts, err)
	}
	return StepResult{Name: name, Attempts: attempts, Error: msg, Duration: duration}
}

// Summary aggregates step results in execution order.
type Summary struct {
	Steps []StepResult `json:"steps"`
}

// Append records a step outcome.
func (s *Summary) Append(step StepResult) {
	s.Steps = append(s.Steps, step)
}

// Failed reports whether any recorded step failed.
func (s *Summary) Failed() bool {
	for _, step := range s.Steps {
		if !step.Success {
			return true
		}
	}
	return false
}

// Succeeded reports whether no recorded step failed. An empty summary counts
// as succeeded.
func (s *Summary) Succeeded() bool { return !s.Failed() }

const (
	summaryBorder = "+-------------------------------+----------+----------+---------------------------+"
	summaryHeader = "| Step                          | Success  | Attempts | Duration                  |"
)

// RenderTable renders the aligned run-summary table appended to the report.
// Column widths are fixed; names longer than the Step column widen the row.
func (s *Summary) RenderTable() string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(summaryBorder + "\n")
	b.WriteString(summaryHeader + "\n")
	b.WriteString(summaryBorder + "\n")

	for _, step := range s.Steps {
		ok := "no"
		if step.Success {
			ok = "yes"
		}
		dur := fmt.Sprintf("%.2fs", step.Duration.Seconds())
		fmt.Fprintf(&b, "| %-29s | %-8s | %s | %-25s |\n",
			step.Name, ok, center(strconv.Itoa(step.Attempts), 8), dur)
	}

	b.WriteString(summaryBorder + "\n")
	b.WriteString("\n")
	return b.String()
}

// center pads s to width, splitting padding evenly with the extra space on
// the right.
func center(s string, width int) string {
	pad := width - len(s)
	if pad <= 0 {
		return s
	}
	left := pad / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", pad-left)
}
