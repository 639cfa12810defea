package models

import "github.com/pkg/errors"

// Error categories. Every error returned by the engine wraps exactly one of them.
var (
	ErrValidation     = errors.New("validation error")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidState   = errors.New("invalid state")
	ErrTransferFailed = errors.New("transfer failed")
	ErrReentrant      = errors.New("reentrant call")
	ErrNotFound       = errors.New("not found")
)

var (
	ErrInvalidAmount       = errors.Wrap(ErrValidation, "amount must be positive")
	ErrInvalidOdds         = errors.Wrap(ErrValidation, "odds must be positive")
	ErrInvalidSchedule     = errors.Wrap(ErrValidation, "open time must precede close time, close time must precede settlement time")
	ErrInvalidSide         = errors.Wrap(ErrValidation, "side must be A or B")
	ErrInvalidFee          = errors.Wrap(ErrValidation, "fee percent must be between 0 and 100")
	ErrOverflow            = errors.Wrap(ErrValidation, "amount overflow")
	ErrVaultsNotRegistered = errors.Wrap(ErrInvalidState, "vault addresses not registered")
	ErrEventNotOpen        = errors.Wrap(ErrInvalidState, "event not open")
	ErrTooEarly            = errors.Wrap(ErrInvalidState, "gate time not reached")
	ErrOddsNotInitialized  = errors.Wrap(ErrInvalidState, "odds not initialized")
	ErrAlreadyInitialized  = errors.Wrap(ErrInvalidState, "event already initialized")
	ErrPeerNotSet          = errors.Wrap(ErrInvalidState, "peer vault not set")
	ErrEventNotFound       = errors.Wrap(ErrNotFound, "event not found")
	ErrUserNotFound        = errors.Wrap(ErrNotFound, "user not found")
	ErrUsernameTaken       = errors.Wrap(ErrValidation, "username already taken")
	ErrBadCredentials      = errors.Wrap(ErrUnauthorized, "invalid credentials")
	ErrInsufficientBalance = errors.Wrap(ErrTransferFailed, "insufficient balance")
	ErrInsufficientAllow   = errors.Wrap(ErrTransferFailed, "insufficient allowance")
)
