package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/insightflow/insightflow/internal/channel"
	"github.com/insightflow/insightflow/internal/selector"
)

type Status int

const (
	StatusIdle Status = iota
	StatusUploading
	StatusAnalyzing
	StatusSucceeded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusUploading:
		return "uploading"
	case StatusAnalyzing:
		return "analyzing"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the job reached a final state.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Busy reports whether a job is in flight.
func (s Status) Busy() bool {
	return s == StatusUploading || s == StatusAnalyzing
}

var (
	ErrNoFile            = errors.New("no file selected")
	ErrBusy              = errors.New("an analysis is already running")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrClosed            = errors.New("orchestrator closed")
	ErrUnexpectedClosure = errors.New("channel closed before the analysis completed")
)

// Log lines written by the orchestrator itself.
const (
	LineInitializing    = "Initializing upload..."
	LineUploaded        = "Upload successful. Connecting to analysis stream..."
	LineConnected       = "Connected to analysis server."
	LineCompleted       = "Analysis completed successfully!"
	LineConnectionError = "Connection error occurred."
	LineClosed          = "Connection closed."
)

type LogEntry struct {
	Timestamp time.Time
	Text      string
}

// Result is the outcome of a successful job.
type Result struct {
	JobID string
	// ResultLink is the processed file link, empty when the server sent none.
	ResultLink string
	Raw        string
	Completion channel.Completion
}

// View is an immutable snapshot of the orchestrator for rendering.
type View struct {
	Status  Status
	File    *selector.SelectedFile
	JobID   string
	Log     []LogEntry
	Percent int
	// Result is set iff Status is StatusSucceeded.
	Result *Result
	// Err is the cause of the failure iff Status is StatusFailed.
	Err error
}

// ticket tags every asynchronous operation with the job it was issued for.
type ticket struct {
	generation uint64
	jobID      string
}

// phase is the tagged state of the current job. Only the variants below implement it.
type phase interface {
	status() Status
}

type idle struct{}

type uploading struct {
	ticket ticket
	cancel context.CancelFunc
}

type analyzing struct {
	ticket ticket
	cancel context.CancelFunc
	// conn is nil while the channel is being dialed.
	conn Conn
}

type succeeded struct {
	result Result
}

type failed struct {
	jobID string
	cause error
}

func (idle) status() Status       { return StatusIdle }
func (*uploading) status() Status { return StatusUploading }
func (*analyzing) status() Status { return StatusAnalyzing }
func (*succeeded) status() Status { return StatusSucceeded }
func (*failed) status() Status    { return StatusFailed }
