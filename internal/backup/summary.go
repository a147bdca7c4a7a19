package backup

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/driveback/driveback/internal/models"
)

// Stage names for reporting where a target's processing ended.
const (
	StageProduce   = "produce"
	StageUpload    = "upload"
	StageRetention = "retention"
	StageSkipped   = "skipped"
	StageDone      = "done"
)

// Exit codes for the backup command.
const (
	ExitOK          = 0
	ExitFailed      = 1
	ExitInterrupted = 130
)

// TargetOutcome records the result of processing one target.
type TargetOutcome struct {
	TargetName         string
	Category           models.Category
	Succeeded          bool
	Stage              string
	ErrorDetail        string
	ArtifactName       string
	SizeBytes          int64
	DeletionsAttempted int
	DeletionsFailed    int
	Duration           time.Duration
}

// RunSummary aggregates per-target outcomes for one backup run.
type RunSummary struct {
	ID          uuid.UUID
	StartedAt   time.Time
	CompletedAt time.Time
	Cancelled   bool
	Outcomes    []TargetOutcome
}

// NewRunSummary creates a RunSummary stamped with a fresh run ID.
func NewRunSummary(startedAt time.Time) *RunSummary {
	return &RunSummary{
		ID:        uuid.New(),
		StartedAt: startedAt.UTC(),
	}
}

// Record appends a target outcome.
func (s *RunSummary) Record(outcome TargetOutcome) {
	s.Outcomes = append(s.Outcomes, outcome)
}

// Failed reports whether any target failed. Skipped targets do not count
// as failures.
func (s *RunSummary) Failed() bool {
	for _, o := range s.Outcomes {
		if !o.Succeeded && o.Stage != StageSkipped {
			return true
		}
	}
	return false
}

// Succeeded returns the number of successful targets.
func (s *RunSummary) Succeeded() int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Succeeded {
			n++
		}
	}
	return n
}

// Skipped returns the number of targets skipped due to cancellation.
func (s *RunSummary) Skipped() int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Stage == StageSkipped {
			n++
		}
	}
	return n
}

// ExitCode maps the run result to a process exit code. Cancellation takes
// precedence over per-target failures.
func (s *RunSummary) ExitCode() int {
	if s.Cancelled {
		return ExitInterrupted
	}
	if s.Failed() {
		return ExitFailed
	}
	return ExitOK
}

// Report writes a human-readable run summary.
func (s *RunSummary) Report(w io.Writer) {
	fmt.Fprintf(w, "Run %s\n", s.ID)
	fmt.Fprintf(w, "Started:   %s\n", s.StartedAt.Format(time.RFC3339))
	if !s.CompletedAt.IsZero() {
		fmt.Fprintf(w, "Completed: %s (%s)\n", s.CompletedAt.Format(time.RFC3339), s.CompletedAt.Sub(s.StartedAt).Round(time.Millisecond))
	}
	if s.Cancelled {
		fmt.Fprintln(w, "Run was interrupted; unstarted targets were skipped.")
	}
	fmt.Fprintln(w)

	for _, o := range s.Outcomes {
		switch {
		case o.Succeeded:
			fmt.Fprintf(w, "  ok    %-10s %-20s %s (%d bytes)", o.Category, o.TargetName, o.ArtifactName, o.SizeBytes)
			if o.DeletionsAttempted > 0 {
				fmt.Fprintf(w, ", pruned %d", o.DeletionsAttempted-o.DeletionsFailed)
				if o.DeletionsFailed > 0 {
					fmt.Fprintf(w, " (%d deletion(s) failed)", o.DeletionsFailed)
				}
			}
			fmt.Fprintln(w)
		case o.Stage == StageSkipped:
			fmt.Fprintf(w, "  skip  %-10s %-20s\n", o.Category, o.TargetName)
		default:
			fmt.Fprintf(w, "  FAIL  %-10s %-20s %s stage: %s\n", o.Category, o.TargetName, o.ErrorDetail, o.Stage)
		}
	}

	fmt.Fprintf(w, "\n%d succeeded, %d failed, %d skipped\n",
		s.Succeeded(), len(s.Outcomes)-s.Succeeded()-s.Skipped(), s.Skipped())
}
