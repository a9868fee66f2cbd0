package scheduler

import "errors"

var (
	// ErrInvalidConfig reports a sweeper built without a store or cadence
	ErrInvalidConfig = errors.New("invalid expiry sweeper configuration")

	// ErrSweepInProgress is returned by Sweep while another sweep runs
	ErrSweepInProgress = errors.New("expiry sweep already in progress")
)
