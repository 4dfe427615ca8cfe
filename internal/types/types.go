// Package types defines shared types used across the application.
package types

import (
	"fmt"
	"time"

	"github.com/jakopako/revscrape/internal/phone"
)

// Country is the only locale supported.
const Country = "United States"

// Result is the contact record extracted for a phone number.
// DateOfBirth and Age are only set by sites that expose them.
type Result struct {
	Name        string  `json:"name"`
	PhoneNumber string  `json:"phoneNumber"`
	Address     string  `json:"address"`
	City        string  `json:"city"`
	State       string  `json:"state"`
	ZipCode     string  `json:"zipCode"`
	Country     string  `json:"country"`
	DateOfBirth *string `json:"dateOfBirth,omitempty"`
	Age         *string `json:"age,omitempty"`
}

// JobStatus is the status of a single job in the ledger of a run.
type JobStatus int

const (
	JobPending JobStatus = iota
	JobInProgress
	JobSucceeded
	JobFailed
	JobSkipped
)

func (s JobStatus) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobInProgress:
		return "in progress"
	case JobSucceeded:
		return "succeeded"
	case JobFailed:
		return "failed"
	case JobSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobSkipped
}

// Job is one phone number's unit of work. Attempts counts the extractor
// invocations charged to the job; challenges and connectivity losses are
// never charged.
type Job struct {
	Number   phone.Number
	Attempts int
	Status   JobStatus
}

// Phase is the phase of the batch run.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhasePausedNetwork
	PhasePausedVerification
	PhaseStopping
	PhaseStopped
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhasePausedNetwork:
		return "paused (no internet connection)"
	case PhasePausedVerification:
		return "paused (waiting for human verification)"
	case PhaseStopping:
		return "stopping"
	case PhaseStopped:
		return "stopped"
	case PhaseCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Active reports whether a batch is in flight.
func (p Phase) Active() bool {
	switch p {
	case PhaseRunning, PhasePausedNetwork, PhasePausedVerification, PhaseStopping:
		return true
	}
	return false
}

// Finished reports whether the results of the batch are frozen.
func (p Phase) Finished() bool {
	return p == PhaseStopped || p == PhaseCompleted
}

// Progress is a snapshot of a run's progress.
type Progress struct {
	Processed int   `json:"processed"`
	Total     int   `json:"total"`
	Found     int   `json:"found"`
	Phase     Phase `json:"phase"`
}

func (p Progress) String() string {
	return fmt.Sprintf("Processed: %d/%d | Found: %d", p.Processed, p.Total, p.Found)
}

// RunSummary summarizes a finished run.
type RunSummary struct {
	RunID       string    `json:"runId"`
	Site        string    `json:"site"`
	NrJobs      int       `json:"nrJobs"`
	NrSucceeded int       `json:"nrSucceeded"`
	NrFailed    int       `json:"nrFailed"`
	NrSkipped   int       `json:"nrSkipped"`
	NrFound     int       `json:"nrFound"`
	Phase       Phase     `json:"phase"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}
