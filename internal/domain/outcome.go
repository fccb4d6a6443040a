package domain

// Outcome is the single terminal result emitted by a worker process.
// It is a tagged variant: either Completed with an ordered segment list,
// or Failed with an error message.
type Outcome struct {
	Status   string
	Segments []Segment
	Err      string
}

// CompletedOutcome builds a successful outcome carrying ordered segments.
func CompletedOutcome(segments []Segment) Outcome {
	return Outcome{Status: StatusCompleted, Segments: segments}
}

// FailedOutcome builds a failed outcome carrying the error text.
func FailedOutcome(msg string) Outcome {
	return Outcome{Status: StatusFailed, Err: msg}
}

// Failed reports whether the outcome is the Failed variant.
func (o Outcome) Failed() bool {
	return o.Status == StatusFailed
}
