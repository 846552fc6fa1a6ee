package domain

import "errors"

// Every failed ledger operation aborts the enclosing transaction with one of
// these discrete error kinds. Callers translate them into rejection reasons;
// no operation retries internally.
var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrInvalidPrice        = errors.New("invalid price")
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrInvalidToken        = errors.New("invalid token parameters")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrOrderNotActive      = errors.New("order not active")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInsufficientReserve = errors.New("insufficient reserve")
	ErrContributorNotFound = errors.New("contributor not found")
	ErrInvalidEngagement   = errors.New("invalid engagement")
	ErrInvalidAttestation  = errors.New("invalid attestation")
	ErrInvalidWeight       = errors.New("invalid weight")
	ErrInvalidFee          = errors.New("invalid fee")
	ErrOverflow            = errors.New("arithmetic overflow")
)
