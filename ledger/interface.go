package ledger

import (
	"context"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lnledger/lnledger/record"
)

// LedgerDB is the database that stores payment records and their metadata.
type LedgerDB interface {
	// AddPayment inserts the targeted record into the database. If the
	// record's id already exists the insertion is rejected with
	// ErrDuplicatePaymentID, if an incoming record's payment hash already
	// exists it is rejected with ErrDuplicatePaymentHash. The insert is
	// atomic.
	AddPayment(ctx context.Context, payment *PaymentRecord) error

	// AddPaymentMetadata associates the given metadata with a payment
	// hash. Inserting metadata with no fields set is a no-op. The
	// metadata is written once and never mutated.
	AddPaymentMetadata(ctx context.Context, meta *PaymentMetadata) error

	// SettlePayment marks the record with the given id as settled at the
	// given time, overwriting the tx id (when supplied) and the payload.
	// It returns the number of rows actually changed (0 or 1) so callers
	// can detect no-ops, and fails with ErrPaymentNotFound if the id is
	// absent.
	SettlePayment(ctx context.Context, id string, settledAt time.Time,
		txID fn.Option[string], payload *record.Payload) (int, error)

	// FailPayment records a terminal failure for the record with the
	// given id, overwriting the payload without stamping a settlement
	// timestamp. It returns the number of rows actually changed (0 or 1)
	// and fails with ErrPaymentNotFound if the id is absent. Records
	// that already settled are left untouched.
	FailPayment(ctx context.Context, id string,
		payload *record.Payload) (int, error)

	// FetchPayment looks up a record by id. Absence is reported as an
	// empty option, not an error.
	FetchPayment(ctx context.Context, id string) (
		fn.Option[PaymentRecord], error)

	// FetchPaymentByHash looks up an incoming record by its payment hash.
	// Only incoming records are keyed by hash. Absence is reported as an
	// empty option, not an error.
	FetchPaymentByHash(ctx context.Context, hash Hash) (
		fn.Option[PaymentRecord], error)

	// FetchPaymentsByTxID returns all records funded by the given
	// on-chain transaction. A transaction may fund several records.
	FetchPaymentsByTxID(ctx context.Context, txID string) (
		[]PaymentRecord, error)

	// FetchPaymentMetadata looks up the metadata row for a payment hash.
	// Absence is reported as an empty option, not an error.
	FetchPaymentMetadata(ctx context.Context, hash Hash) (
		fn.Option[PaymentMetadata], error)

	// QueryPayments returns the records matching the query, joined with
	// their metadata, newest creation time first.
	QueryPayments(ctx context.Context, q PaymentQuery) (PaymentSlice,
		error)

	// QuerySettledPayments returns only settled records matching the
	// query, newest settlement time first. The time range applies to the
	// settlement timestamp.
	QuerySettledPayments(ctx context.Context, q PaymentQuery) (
		PaymentSlice, error)
}

// PaymentQuery represents a query against the payment ledger. The query
// allows a caller to filter by direction, external id and an inclusive time
// range, and to page through the matching set with a limit and offset.
type PaymentQuery struct {
	// Direction, if set, restricts the result to one side of the ledger.
	Direction fn.Option[Direction]

	// ExternalID, if set, restricts the result to records whose joined
	// metadata carries this external correlation id.
	ExternalID fn.Option[string]

	// From is the inclusive lower bound of the time range.
	From time.Time

	// To is the inclusive upper bound of the time range. The query
	// service defaults this to the current time when unset.
	To time.Time

	// Limit is the maximum number of records to return.
	Limit int32

	// Offset is the number of matching records to skip.
	Offset int32
}

// PaymentSlice is the response to a payment query. It includes the query
// after defaulting, so callers can resume paging from Offset+len(Payments).
type PaymentSlice struct {
	PaymentQuery

	// Payments is the set of entries that matched the query above.
	Payments []LedgerEntry
}
