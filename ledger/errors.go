package ledger

import (
	"errors"
)

var (
	// ErrDuplicatePaymentID is returned when inserting a record whose id
	// already exists in the ledger.
	ErrDuplicatePaymentID = errors.New(
		"payment with id already exists",
	)

	// ErrDuplicatePaymentHash is returned when inserting an incoming
	// record whose payment hash already exists in the incoming set.
	ErrDuplicatePaymentHash = errors.New(
		"payment with payment hash already exists",
	)

	// ErrPaymentNotFound is returned when a settlement update targets an
	// id that is absent from the ledger. Point lookups never return this,
	// they report absence as an empty result instead.
	ErrPaymentNotFound = errors.New("unable to locate payment")

	// ErrPaymentHashRequired is returned when an incoming record is
	// inserted without a payment hash.
	ErrPaymentHashRequired = errors.New(
		"incoming payment requires a payment hash",
	)

	// ErrInvalidQuery is returned for malformed pagination or range
	// parameters, before the query reaches the store.
	ErrInvalidQuery = errors.New("invalid payment query")
)
