package model

// BroadcastFailure records one user that could not be served during a
// daily broadcast run.
type BroadcastFailure struct {
	ExternalID string `json:"external_id"`
	Reason     string `json:"reason"`
}

// BroadcastReport summarizes a daily broadcast run. Failures are per-user;
// one user's error never aborts delivery to the others.
type BroadcastReport struct {
	Delivered int                `json:"delivered"`
	Skipped   int                `json:"skipped"`
	Failures  []BroadcastFailure `json:"failures,omitempty"`
}
