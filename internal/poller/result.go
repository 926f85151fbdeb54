package poller

import "github.com/raphaelgruber/batchwatch/internal/models"

// Outcome tags a poll Result.
type Outcome int

const (
	// OutcomeSuccess means Progress holds a complete server snapshot.
	OutcomeSuccess Outcome = iota
	// OutcomeTransientFailure means the request failed; the loop keeps going.
	OutcomeTransientFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransientFailure:
		return "transient_failure"
	default:
		return "unknown"
	}
}

// Result is the outcome of one poll. It is consumed only by the loop and never
// returned to callers as an error.
type Result struct {
	Seq      uint64 // Monotonic per run, starting at 1
	Outcome  Outcome
	Progress models.UploadProgress // Set for OutcomeSuccess
	Err      error                 // Set for OutcomeTransientFailure
}
