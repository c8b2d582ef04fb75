package domain

import "errors"

// ErrorKind classifies a failure so that callers can decide whether to
// surface it, retry it, or map it onto a transport status.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	// KindValidation is a malformed or out-of-range input. Never retry.
	KindValidation
	// KindConflict means the requested transition already happened.
	KindConflict
	// KindPrecondition means the round is not in the right state yet. The
	// same call may succeed later.
	KindPrecondition
	// KindAuthorization is a caller lacking the required role.
	KindAuthorization
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindPrecondition:
		return "precondition"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error is a classified failure with a stable code and a human readable
// message. Messages match the escrow contract's revert strings so that both
// variants report identical reasons.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(kind ErrorKind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// Validation.
var (
	ErrInvalidRoundID = newError(KindValidation, "invalid_round_id", "Invalid roundId")
	ErrInvalidPrice   = newError(KindValidation, "invalid_price", "Invalid price")
	ErrInvalidSide    = newError(KindValidation, "invalid_side", "Invalid side")
	ErrBelowMinBet    = newError(KindValidation, "below_min_bet", "Below min bet")
	ErrAboveMaxBet    = newError(KindValidation, "above_max_bet", "Above max bet")
	ErrZeroAddress    = newError(KindValidation, "zero_address", "Zero address")
	ErrRescueUSDC     = newError(KindValidation, "cannot_rescue_usdc", "Cannot rescue USDC")
	ErrInsufficient   = newError(KindValidation, "insufficient_balance", "Insufficient balance")
)

// State conflicts.
var (
	ErrRoundExists    = newError(KindConflict, "round_exists", "Round exists")
	ErrAlreadyBet     = newError(KindConflict, "already_bet", "Already bet")
	ErrAlreadySettled = newError(KindConflict, "already_settled", "Already settled")
	ErrAlreadyClaimed = newError(KindConflict, "already_claimed", "Already claimed")
	ErrFeeClaimed     = newError(KindConflict, "fee_already_claimed", "Fee already claimed")
	ErrNoFeeOnRefund  = newError(KindConflict, "no_fee_on_refund", "No fee on refund")
	ErrAlreadyExists  = newError(KindConflict, "already_exists", "already exists")
	ErrRoundNotOpen   = newError(KindConflict, "round_not_open", "Round not open")
)

// Preconditions. These may clear with time. ErrPreviousOpen clears once the
// earlier round settles, and ErrPriceBounds once the feed quotes a sane price.
var (
	ErrPreviousOpen   = newError(KindPrecondition, "previous_round_not_settled", "Previous round not settled")
	ErrNoActiveRound  = newError(KindPrecondition, "no_active_round", "No active round")
	ErrPriceBounds    = newError(KindPrecondition, "price_outside_bounds", "Price outside bounds")
	ErrNotSettled     = newError(KindPrecondition, "round_not_settled", "Round not settled")
	ErrTooEarly       = newError(KindPrecondition, "too_early_to_settle", "Too early to settle")
	ErrPaused         = newError(KindPrecondition, "contract_paused", "Contract paused")
	ErrBettingClosed  = newError(KindPrecondition, "betting_closed", "Betting is closed outside market hours")
	ErrNoPrice        = newError(KindPrecondition, "no_price", "No price available")
	ErrStalePrice     = newError(KindPrecondition, "stale_price", "Price is stale")
	ErrLockHeld       = newError(KindPrecondition, "lock_held", "lock already held")
	ErrRateLimited    = newError(KindPrecondition, "rate_limited", "rate limited")
	ErrChainDisabled  = newError(KindPrecondition, "chain_disabled", "chain mirror disabled")
	ErrNothingToClaim = newError(KindPrecondition, "no_bet", "No bet")
)

// Authorization.
var (
	ErrNotSettler    = newError(KindAuthorization, "not_settler", "Not settler")
	ErrNotOwner      = newError(KindAuthorization, "not_owner", "Not owner")
	ErrUnauthorized  = newError(KindAuthorization, "unauthorized", "unauthorized")
	ErrNotRecipient  = newError(KindAuthorization, "not_fee_recipient", "Not fee recipient")
	ErrForbiddenCall = newError(KindAuthorization, "forbidden", "forbidden")
)

var ErrNotFound = newError(KindNotFound, "not_found", "not found")
