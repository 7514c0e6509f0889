package city

import "time"

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// CycleReport summarises one update cycle.
type CycleReport struct {
	City       string    `json:"city"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Outcome    Outcome   `json:"outcome"`
	// FailedIn is the state the cycle was in when it failed.
	FailedIn    State  `json:"failedIn,omitempty"`
	Error       string `json:"error,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Bytes       int    `json:"bytes"`

	Changed     int  `json:"changed"`
	Created     int  `json:"created"`
	Updated     int  `json:"updated"`
	Rejected    int  `json:"rejected"`
	Skipped     int  `json:"skipped"`
	Retired     int  `json:"retired"`
	Stale       int  `json:"stale"`
	DataChanged bool `json:"dataChanged"`
}

func (r CycleReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
