package explosion

import "github.com/pkg/errors"

var (
	// ErrPartialResult is returned with a Result whose computation was interrupted.
	// The Result holds everything accumulated before the failure and is safe to apply.
	ErrPartialResult = errors.New("explosion: computation interrupted, result is partial")
	// ErrSnapshotMismatch means a Result was applied against a different snapshot.
	ErrSnapshotMismatch = errors.New("explosion: result belongs to another snapshot")
	// ErrResultReleased means a Result was used after it went back to the pool.
	ErrResultReleased = errors.New("explosion: result already released")
	// ErrCenterProtected means the explosion centre lies in protected land.
	ErrCenterProtected = errors.New("explosion: centre is protected")
	ErrEngineClosed    = errors.New("explosion: engine closed")
	ErrInvalidPower    = errors.New("explosion: power must be a finite non-negative number")
	// ErrNotRun means the world loop dropped the transaction, usually because it stopped.
	ErrNotRun = errors.New("explosion: world loop did not run the transaction")
)
