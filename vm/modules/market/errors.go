package market

import "errors"

// Every rejected precondition surfaces its own sentinel so callers can
// diagnose exactly why an operation was rolled back.
var (
	// validation
	ErrZeroAmount     = errors.New("amount must be > 0")
	ErrInvalidPrice   = errors.New("price must be > 0")
	ErrLengthMismatch = errors.New("mismatched array lengths")
	ErrNotSingleton   = errors.New("asset class is not a singleton")
	ErrNotFungible    = errors.New("asset class is not fungible")

	// authorization
	ErrNotOwner = errors.New("caller is not the listing owner")
	ErrNotAdmin = errors.New("caller is not the market administrator")

	// state
	ErrAlreadyListed     = errors.New("asset is already listed")
	ErrNotListed         = errors.New("asset is not listed")
	ErrNotInQueue        = errors.New("caller has no active queue entry")
	ErrPriceNotSet       = errors.New("price is not set")
	ErrNothingToWithdraw = errors.New("nothing to withdraw")

	// resource exhaustion
	ErrQueueOverflow = errors.New("sale queue index overflow")

	// settlement
	ErrWrongPayment       = errors.New("payment does not match price")
	ErrInsufficientSupply = errors.New("not enough units offered for sale")
)
