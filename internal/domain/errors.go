package domain

import "errors"

// Lookup and infrastructure errors.
var (
	ErrNotFound       = errors.New("not found")
	ErrRateLimited    = errors.New("rate limited")
	ErrLockHeld       = errors.New("lock already held")
	ErrTransferFailed = errors.New("transfer failed")
	ErrSigningFailed  = errors.New("signing failed")
)

// Authorization errors.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotOwner     = errors.New("caller does not own this record")
)

// Precondition errors. The request is well formed but the ledger is not in a
// state that allows it.
var (
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrLengthMismatch       = errors.New("length mismatch")
	ErrMarketExists         = errors.New("market already exists for milestone")
	ErrMarketNotOpen        = errors.New("market is not open")
	ErrMarketNotClosed      = errors.New("market is not closed")
	ErrMarketNotResolved    = errors.New("market is not resolved")
	ErrBelowMinimum         = errors.New("amount below minimum bet")
	ErrPositionExists       = errors.New("position already exists")
	ErrNoPosition           = errors.New("no position in market")
	ErrSideMismatch         = errors.New("side does not match existing position")
	ErrNotWinner            = errors.New("bet is not on the winning side")
	ErrMilestoneNotResolved = errors.New("milestone is not resolved")
	ErrMilestoneNotAchieved = errors.New("milestone is not achieved")
	ErrOutcomeMismatch      = errors.New("outcome does not match milestone")
	ErrWrongProject         = errors.New("milestone or market belongs to another project")
	ErrNoBeneficiaries      = errors.New("market has no winning bettors")
	ErrSoulbound            = errors.New("badge is soulbound")
	ErrPaused               = errors.New("funding pool is paused")
)

// Resource errors.
var (
	ErrInsufficientPool = errors.New("insufficient unallocated pool balance")
	ErrExceedsPending   = errors.New("amount exceeds pending allocation")
	ErrNothingToSweep   = errors.New("nothing to sweep")
)

// Idempotency errors. Repeating an operation that may only happen once.
var (
	ErrAlreadyClaimed   = errors.New("rewards already claimed")
	ErrAlreadyReleased  = errors.New("milestone funds already released")
	ErrAlreadyGranted   = errors.New("token allocations already granted")
	ErrAlreadyAwarded   = errors.New("duplicate achievement")
	ErrTransferInFlight = errors.New("transfer is being sent")
	ErrTransferSettled  = errors.New("transfer already sent")
)

// ErrorClass groups domain errors by how a caller should react to them.
type ErrorClass int

const (
	ClassInternal ErrorClass = iota
	ClassNotFound
	ClassUnauthorized
	ClassForbidden
	ClassPrecondition
	ClassResource
	ClassIdempotency
	ClassPaused
	ClassRateLimited
)

var errorClasses = []struct {
	class ErrorClass
	errs  []error
}{
	{ClassNotFound, []error{ErrNotFound}},
	{ClassUnauthorized, []error{ErrUnauthorized}},
	{ClassForbidden, []error{ErrNotOwner}},
	{ClassPaused, []error{ErrPaused}},
	{ClassRateLimited, []error{ErrRateLimited}},
	{ClassIdempotency, []error{
		ErrAlreadyClaimed, ErrAlreadyReleased, ErrAlreadyGranted, ErrAlreadyAwarded,
		ErrTransferInFlight, ErrTransferSettled, ErrMarketExists, ErrPositionExists,
	}},
	{ClassResource, []error{ErrInsufficientPool, ErrExceedsPending, ErrNothingToSweep}},
	{ClassPrecondition, []error{
		ErrInvalidArgument, ErrLengthMismatch, ErrMarketNotOpen, ErrMarketNotClosed,
		ErrMarketNotResolved, ErrBelowMinimum, ErrNoPosition, ErrSideMismatch, ErrNotWinner,
		ErrMilestoneNotResolved, ErrMilestoneNotAchieved, ErrOutcomeMismatch, ErrWrongProject,
		ErrNoBeneficiaries, ErrSoulbound,
	}},
}

// Classify reports the ErrorClass of err. Errors that wrap none of the
// sentinels above are ClassInternal.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassInternal
	}
	for _, group := range errorClasses {
		for _, target := range group.errs {
			if errors.Is(err, target) {
				return group.class
			}
		}
	}
	return ClassInternal
}
