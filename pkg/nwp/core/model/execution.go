// Package model defines the execution model shared by the pipeline runner,
// metrics recorders, and tracers.
package model

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus represents the lifecycle state of a job or step execution.
type ExecutionStatus string

const (
	StatusStarting  ExecutionStatus = "STARTING"
	StatusStarted   ExecutionStatus = "STARTED"
	StatusCompleted ExecutionStatus = "COMPLETED"
	StatusFailed    ExecutionStatus = "FAILED"
	StatusStopped   ExecutionStatus = "STOPPED"
)

// String returns the string representation of the status.
func (s ExecutionStatus) String() string {
	return string(s)
}

// IsFinished reports whether the status is terminal.
func (s ExecutionStatus) IsFinished() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusStopped
}

// JobExecution represents a single run of the acquisition pipeline.
type JobExecution struct {
	// ID is a unique identifier for this execution.
	ID string
	// JobName is the logical name of the job (e.g., "gfs-download").
	JobName string
	// Status is the current lifecycle state.
	Status ExecutionStatus
	// ExitStatus carries a short terminal description (e.g., "COMPLETED", "PARTIAL").
	ExitStatus string
	// StartTime is when the execution began.
	StartTime time.Time
	// EndTime is when the execution finished, nil while running.
	EndTime *time.Time
	// Failures collects errors from units that failed without stopping the batch.
	Failures []error
}

// NewJobExecution creates a JobExecution in the STARTING state with a fresh ID.
func NewJobExecution(jobName string) *JobExecution {
	return &JobExecution{
		ID:        uuid.NewString(),
		JobName:   jobName,
		Status:    StatusStarting,
		StartTime: time.Now(),
	}
}

// MarkStarted transitions the execution to STARTED.
func (e *JobExecution) MarkStarted() {
	e.Status = StatusStarted
}

// MarkCompleted transitions the execution to COMPLETED and stamps the end time.
// If unit failures were recorded, the exit status reflects partial success.
func (e *JobExecution) MarkCompleted() {
	now := time.Now()
	e.EndTime = &now
	e.Status = StatusCompleted
	if len(e.Failures) > 0 {
		e.ExitStatus = "PARTIAL"
	} else {
		e.ExitStatus = "COMPLETED"
	}
}

// MarkFailed transitions the execution to FAILED and stamps the end time.
func (e *JobExecution) MarkFailed(err error) {
	now := time.Now()
	e.EndTime = &now
	e.Status = StatusFailed
	e.ExitStatus = "FAILED"
	if err != nil {
		e.Failures = append(e.Failures, err)
	}
}

// AddFailure records a unit failure that did not stop the batch.
func (e *JobExecution) AddFailure(err error) {
	if err != nil {
		e.Failures = append(e.Failures, err)
	}
}

// StepExecution represents one step of a pipeline run (plan, download, convert, ...).
type StepExecution struct {
	// ID is a unique identifier for this step execution.
	ID string
	// StepName is the logical name of the step.
	StepName string
	// JobExecution is the parent execution.
	JobExecution *JobExecution
	// Status is the current lifecycle state.
	Status ExecutionStatus
	// ExitStatus carries a short terminal description.
	ExitStatus string
	// StartTime is when the step began.
	StartTime time.Time
	// EndTime is when the step finished, nil while running.
	EndTime *time.Time
}

// NewStepExecution creates a StepExecution in the STARTED state.
func NewStepExecution(stepName string, job *JobExecution) *StepExecution {
	return &StepExecution{
		ID:           uuid.NewString(),
		StepName:     stepName,
		JobExecution: job,
		Status:       StatusStarted,
		StartTime:    time.Now(),
	}
}

// MarkCompleted transitions the step to COMPLETED and stamps the end time.
func (s *StepExecution) MarkCompleted() {
	now := time.Now()
	s.EndTime = &now
	s.Status = StatusCompleted
	s.ExitStatus = "COMPLETED"
}

// MarkFailed transitions the step to FAILED and stamps the end time.
func (s *StepExecution) MarkFailed() {
	now := time.Now()
	s.EndTime = &now
	s.Status = StatusFailed
	s.ExitStatus = "FAILED"
}
