package progress

import "strings"

// Fixed checkpoints set by the orchestrator itself.
const (
	Initial  = 5
	Uploaded = 10
	Complete = 100
)

// Checkpoint maps a keyword found in a log line to a percentage.
type Checkpoint struct {
	Keyword string
	Percent int
}

// DefaultCheckpoints is evaluated in order; the last matching entry wins.
var DefaultCheckpoints = []Checkpoint{
	{Keyword: "Loaded", Percent: 20},
	{Keyword: "Initializing", Percent: 30},
	{Keyword: "Fetching", Percent: 40},
	{Keyword: "Processing", Percent: 60},
	{Keyword: "Generating", Percent: 80},
	{Keyword: "Uploading", Percent: 90},
}

// Estimator derives a best effort percentage from log lines. It is not monotone: a
// later line with an earlier stage keyword moves the estimate back.
type Estimator struct {
	checkpoints []Checkpoint
}

func NewEstimator(checkpoints ...Checkpoint) *Estimator {
	if len(checkpoints) == 0 {
		checkpoints = DefaultCheckpoints
	}
	return &Estimator{checkpoints: checkpoints}
}

// Estimate returns the checkpoint of the last keyword contained in msg (case sensitive).
func (e *Estimator) Estimate(msg string) (int, bool) {
	percent, found := 0, false
	for _, cp := range e.checkpoints {
		if strings.Contains(msg, cp.Keyword) {
			percent, found = cp.Percent, true
		}
	}
	return percent, found
}
