package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lnledger/lnledger/record"
	"github.com/lnledger/lnledger/sqldb"
	"github.com/lnledger/lnledger/sqldb/sqlc"
)

// SQLQueries is an interface that defines the set of operations that can be
// executed against the payment SQL database.
type SQLQueries interface {
	InsertPayment(ctx context.Context, arg sqlc.InsertPaymentParams) error
	SettlePayment(ctx context.Context, arg sqlc.SettlePaymentParams) (
		int64, error)
	FailPayment(ctx context.Context, arg sqlc.FailPaymentParams) (
		int64, error)
	GetPaymentByID(ctx context.Context, id string) (sqlc.Payment, error)
	GetPaymentByHash(ctx context.Context, paymentHash []byte) (
		sqlc.Payment, error)
	ListPaymentsByTxID(ctx context.Context, txID sql.NullString) (
		[]sqlc.Payment, error)
	FilterPayments(ctx context.Context, arg sqlc.FilterPaymentsParams) (
		[]sqlc.FilterPaymentsRow, error)
	FilterSettledPayments(ctx context.Context,
		arg sqlc.FilterSettledPaymentsParams) (
		[]sqlc.FilterSettledPaymentsRow, error)
	InsertPaymentMetadata(ctx context.Context,
		arg sqlc.InsertPaymentMetadataParams) error
	GetPaymentMetadata(ctx context.Context, paymentHash []byte) (
		sqlc.PaymentMetadatum, error)
}

// BatchedSQLQueries is a version of SQLQueries that's capable of batched
// database operations.
type BatchedSQLQueries interface {
	SQLQueries

	sqldb.BatchedTx[SQLQueries]
}

// SQLStore represents a storage backend for the payment ledger.
type SQLStore struct {
	db    BatchedSQLQueries
	clock clock.Clock
}

// A compile-time assertion to make sure SQLStore implements the LedgerDB
// interface.
var _ LedgerDB = (*SQLStore)(nil)

// NewSQLStore creates a new SQLStore instance given an open
// BatchedSQLQueries storage backend.
func NewSQLStore(db BatchedSQLQueries, clock clock.Clock) *SQLStore {
	return &SQLStore{
		db:    db,
		clock: clock,
	}
}

// NewSQLStoreFromDB creates a new SQLStore from an open BaseDB, wiring up
// the transaction executor for it.
func NewSQLStoreFromDB(baseDB *sqldb.BaseDB, clock clock.Clock,
	opts ...sqldb.TxExecutorOption) *SQLStore {

	executor := sqldb.NewTransactionExecutor(
		baseDB, func(tx *sql.Tx) SQLQueries {
			return baseDB.WithTx(tx)
		}, opts...,
	)

	return NewSQLStore(executor, clock)
}

// AddPayment inserts the targeted record into the database.
//
// NOTE: This is part of the LedgerDB interface.
func (s *SQLStore) AddPayment(ctx context.Context,
	payment *PaymentRecord) error {

	// Incoming records are keyed by their payment hash, so we refuse to
	// store one without it.
	if payment.Direction == DirectionIncoming &&
		payment.PaymentHash.IsNone() {

		return ErrPaymentHashRequired
	}

	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = s.clock.Now().UTC()
	}

	payload, err := record.Encode(payment.Payload)
	if err != nil {
		return fmt.Errorf("unable to encode payload: %w", err)
	}

	insertParams := sqlc.InsertPaymentParams{
		ID:          payment.ID,
		Direction:   int16(payment.Direction),
		PaymentHash: hashToBytes(payment.PaymentHash),
		TxID:        optionToNullString(payment.TxID),
		CreatedAt:   payment.CreatedAt.UnixMilli(),
		SettledAt:   timeToNullMilli(payment.SettledAt),
		Payload:     payload,
	}

	writeTxOpt := sqldb.WriteTxOpt()
	txErr := s.db.ExecTx(ctx, writeTxOpt, func(db SQLQueries) error {
		// Check both unique constraints up front so we can report
		// which one the caller violated.
		_, err := db.GetPaymentByID(ctx, payment.ID)
		switch {
		case err == nil:
			return ErrDuplicatePaymentID

		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		if payment.Direction == DirectionIncoming {
			hash := payment.PaymentHash.UnwrapOr(ZeroHash)
			_, err := db.GetPaymentByHash(ctx, hash[:])
			switch {
			case err == nil:
				return ErrDuplicatePaymentHash

			case !errors.Is(err, sql.ErrNoRows):
				return err
			}
		}

		return db.InsertPayment(ctx, insertParams)
	}, func() {})
	if txErr != nil {
		// The constraint may still fire if a conflicting insert
		// raced us, so map it to the same typed error.
		if sqldb.IsUniqueConstraintError(txErr) {
			if payment.Direction == DirectionIncoming {
				return ErrDuplicatePaymentHash
			}

			return ErrDuplicatePaymentID
		}

		return txErr
	}

	log.Debugf("Added %v payment: %v", payment.Direction, payment)

	return nil
}

// AddPaymentMetadata associates the given metadata with a payment hash.
//
// NOTE: This is part of the LedgerDB interface.
func (s *SQLStore) AddPaymentMetadata(ctx context.Context,
	meta *PaymentMetadata) error {

	// Metadata without any fields set is never stored.
	if meta.Empty() {
		return nil
	}

	insertParams := sqlc.InsertPaymentMetadataParams{
		PaymentHash: meta.PaymentHash[:],
		ExternalID:  optionToNullString(meta.ExternalID),
		WebhookUrl:  optionToNullString(meta.WebhookURL),
	}

	writeTxOpt := sqldb.WriteTxOpt()
	return s.db.ExecTx(ctx, writeTxOpt, func(db SQLQueries) error {
		return db.InsertPaymentMetadata(ctx, insertParams)
	}, func() {})
}

// SettlePayment marks the record with the given id as settled.
//
// NOTE: This is part of the LedgerDB interface.
func (s *SQLStore) SettlePayment(ctx context.Context, id string,
	settledAt time.Time, txID fn.Option[string],
	payload *record.Payload) (int, error) {

	blob, err := record.Encode(payload)
	if err != nil {
		return 0, fmt.Errorf("unable to encode payload: %w", err)
	}

	settleParams := sqlc.SettlePaymentParams{
		ID: id,
		SettledAt: sql.NullInt64{
			Int64: settledAt.UnixMilli(),
			Valid: true,
		},
		Payload: blob,
		TxID:    optionToNullString(txID),
	}

	var rowsChanged int64

	writeTxOpt := sqldb.WriteTxOpt()
	txErr := s.db.ExecTx(ctx, writeTxOpt, func(db SQLQueries) error {
		// An update targeting an absent id is an error, unlike point
		// lookups where absence is a normal result.
		_, err := db.GetPaymentByID(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrPaymentNotFound
		} else if err != nil {
			return err
		}

		rowsChanged, err = db.SettlePayment(ctx, settleParams)

		return err
	}, func() {
		rowsChanged = 0
	})
	if txErr != nil {
		return 0, txErr
	}

	log.Debugf("Settled payment %v at %v (rows_changed=%d)", id,
		settledAt.UnixMilli(), rowsChanged)

	return int(rowsChanged), nil
}

// FailPayment records a terminal failure for the record with the given id,
// overwriting its payload while leaving the settlement timestamp unset. A
// record that already settled is left untouched.
//
// NOTE: This is part of the LedgerDB interface.
func (s *SQLStore) FailPayment(ctx context.Context, id string,
	payload *record.Payload) (int, error) {

	blob, err := record.Encode(payload)
	if err != nil {
		return 0, fmt.Errorf("unable to encode payload: %w", err)
	}

	failParams := sqlc.FailPaymentParams{
		ID:      id,
		Payload: blob,
	}

	var rowsChanged int64

	writeTxOpt := sqldb.WriteTxOpt()
	txErr := s.db.ExecTx(ctx, writeTxOpt, func(db SQLQueries) error {
		// An update targeting an absent id is an error, unlike point
		// lookups where absence is a normal result.
		_, err := db.GetPaymentByID(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrPaymentNotFound
		} else if err != nil {
			return err
		}

		rowsChanged, err = db.FailPayment(ctx, failParams)

		return err
	}, func() {
		rowsChanged = 0
	})
	if txErr != nil {
		return 0, txErr
	}

	log.Debugf("Failed payment %v (rows_changed=%d)", id, rowsChanged)

	return int(rowsChanged), nil
}

// FetchPayment looks up a record by id.
//
// NOTE: This is part of the LedgerDB interface.
func (s *SQLStore) FetchPayment(ctx context.Context, id string) (
	fn.Option[PaymentRecord], error) {

	var result fn.Option[PaymentRecord]

	readTxOpt := sqldb.ReadTxOpt()
	txErr := s.db.ExecTx(ctx, readTxOpt, func(db SQLQueries) error {
		row, err := db.GetPaymentByID(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		} else if err != nil {
			return err
		}

		payment, err := unmarshalPayment(row)
		if err != nil {
			return err
		}

		result = fn.Some(*payment)

		return nil
	}, func() {
		result = fn.None[PaymentRecord]()
	})
	if txErr != nil {
		return fn.None[PaymentRecord](), txErr
	}

	return result, nil
}

// FetchPaymentByHash looks up an incoming record by its payment hash.
//
// NOTE: This is part of the LedgerDB interface.
func (s *SQLStore) FetchPaymentByHash(ctx context.Context, hash Hash) (
	fn.Option[PaymentRecord], error) {

	var result fn.Option[PaymentRecord]

	readTxOpt := sqldb.ReadTxOpt()
	txErr := s.db.ExecTx(ctx, readTxOpt, func(db SQLQueries) error {
		row, err := db.GetPaymentByHash(ctx, hash[:])
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		} else if err != nil {
			return err
		}

		payment, err := unmarshalPayment(row)
		if err != nil {
			return err
		}

		result = fn.Some(*payment)

		return nil
	}, func() {
		result = fn.None[PaymentRecord]()
	})
	if txErr != nil {
		return fn.None[PaymentRecord](), txErr
	}

	return result, nil
}

// FetchPaymentsByTxID returns all records funded by the given on-chain
// transaction.
//
// NOTE: This is part of the LedgerDB interface.
func (s *SQLStore) FetchPaymentsByTxID(ctx context.Context, txID string) (
	[]PaymentRecord, error) {

	var payments []PaymentRecord

	readTxOpt := sqldb.ReadTxOpt()
	txErr := s.db.ExecTx(ctx, readTxOpt, func(db SQLQueries) error {
		rows, err := db.ListPaymentsByTxID(ctx, sql.NullString{
			String: txID,
			Valid:  true,
		})
		if err != nil {
			return err
		}

		for _, row := range rows {
			payment, err := unmarshalPayment(row)
			if err != nil {
				return err
			}

			payments = append(payments, *payment)
		}

		return nil
	}, func() {
		payments = nil
	})
	if txErr != nil {
		return nil, txErr
	}

	return payments, nil
}

// FetchPaymentMetadata looks up the metadata row for a payment hash.
//
// NOTE: This is part of the LedgerDB interface.
func (s *SQLStore) FetchPaymentMetadata(ctx context.Context, hash Hash) (
	fn.Option[PaymentMetadata], error) {

	var result fn.Option[PaymentMetadata]

	readTxOpt := sqldb.ReadTxOpt()
	txErr := s.db.ExecTx(ctx, readTxOpt, func(db SQLQueries) error {
		row, err := db.GetPaymentMetadata(ctx, hash[:])
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		} else if err != nil {
			return err
		}

		meta, err := unmarshalMetadata(row)
		if err != nil {
			return err
		}

		result = fn.Some(*meta)

		return nil
	}, func() {
		result = fn.None[PaymentMetadata]()
	})
	if txErr != nil {
		return fn.None[PaymentMetadata](), txErr
	}

	return result, nil
}

// QueryPayments returns the records matching the query, joined with their
// metadata, newest creation time first.
//
// NOTE: This is part of the LedgerDB interface.
func (s *SQLStore) QueryPayments(ctx context.Context, q PaymentQuery) (
	PaymentSlice, error) {

	filterParams := sqlc.FilterPaymentsParams{
		Direction:   directionToNullInt16(q.Direction),
		ExternalID:  optionToNullString(q.ExternalID),
		CreatedFrom: q.From.UnixMilli(),
		CreatedTo:   q.To.UnixMilli(),
		QueryLimit:  q.Limit,
		QueryOffset: q.Offset,
	}

	var entries []LedgerEntry

	readTxOpt := sqldb.ReadTxOpt()
	txErr := s.db.ExecTx(ctx, readTxOpt, func(db SQLQueries) error {
		rows, err := db.FilterPayments(ctx, filterParams)
		if err != nil {
			return err
		}

		for _, row := range rows {
			entry, err := unmarshalEntry(
				sqlc.Payment{
					ID:          row.ID,
					Direction:   row.Direction,
					PaymentHash: row.PaymentHash,
					TxID:        row.TxID,
					CreatedAt:   row.CreatedAt,
					SettledAt:   row.SettledAt,
					Payload:     row.Payload,
				}, row.ExternalID, row.WebhookUrl,
			)
			if err != nil {
				// A single undecodable row must not fail the
				// whole page.
				log.Warnf("Skipping payment %v in listing: %v",
					row.ID, err)

				continue
			}

			entries = append(entries, *entry)
		}

		return nil
	}, func() {
		entries = nil
	})
	if txErr != nil {
		return PaymentSlice{}, txErr
	}

	return PaymentSlice{
		PaymentQuery: q,
		Payments:     entries,
	}, nil
}

// QuerySettledPayments returns only settled records matching the query,
// newest settlement time first.
//
// NOTE: This is part of the LedgerDB interface.
func (s *SQLStore) QuerySettledPayments(ctx context.Context,
	q PaymentQuery) (PaymentSlice, error) {

	filterParams := sqlc.FilterSettledPaymentsParams{
		Direction:   directionToNullInt16(q.Direction),
		ExternalID:  optionToNullString(q.ExternalID),
		SettledFrom: q.From.UnixMilli(),
		SettledTo:   q.To.UnixMilli(),
		QueryLimit:  q.Limit,
		QueryOffset: q.Offset,
	}

	var entries []LedgerEntry

	readTxOpt := sqldb.ReadTxOpt()
	txErr := s.db.ExecTx(ctx, readTxOpt, func(db SQLQueries) error {
		rows, err := db.FilterSettledPayments(ctx, filterParams)
		if err != nil {
			return err
		}

		for _, row := range rows {
			entry, err := unmarshalEntry(
				sqlc.Payment{
					ID:          row.ID,
					Direction:   row.Direction,
					PaymentHash: row.PaymentHash,
					TxID:        row.TxID,
					CreatedAt:   row.CreatedAt,
					SettledAt:   row.SettledAt,
					Payload:     row.Payload,
				}, row.ExternalID, row.WebhookUrl,
			)
			if err != nil {
				log.Warnf("Skipping payment %v in listing: %v",
					row.ID, err)

				continue
			}

			entries = append(entries, *entry)
		}

		return nil
	}, func() {
		entries = nil
	})
	if txErr != nil {
		return PaymentSlice{}, txErr
	}

	return PaymentSlice{
		PaymentQuery: q,
		Payments:     entries,
	}, nil
}

// unmarshalPayment converts a database row into a PaymentRecord, decoding
// the payload blob.
func unmarshalPayment(row sqlc.Payment) (*PaymentRecord, error) {
	payload, err := record.Decode(row.Payload)
	if err != nil {
		return nil, fmt.Errorf("unable to decode payload of "+
			"payment %v: %w", row.ID, err)
	}

	payment := &PaymentRecord{
		ID:        row.ID,
		Direction: Direction(row.Direction),
		CreatedAt: time.UnixMilli(row.CreatedAt).UTC(),
		Payload:   payload,
	}

	if len(row.PaymentHash) != 0 {
		hash, err := MakeHash(row.PaymentHash)
		if err != nil {
			return nil, err
		}

		payment.PaymentHash = fn.Some(hash)
	}

	if row.TxID.Valid {
		payment.TxID = fn.Some(row.TxID.String)
	}

	if row.SettledAt.Valid {
		payment.SettledAt = fn.Some(
			time.UnixMilli(row.SettledAt.Int64).UTC(),
		)
	}

	return payment, nil
}

// unmarshalMetadata converts a database row into a PaymentMetadata.
func unmarshalMetadata(row sqlc.PaymentMetadatum) (*PaymentMetadata, error) {
	hash, err := MakeHash(row.PaymentHash)
	if err != nil {
		return nil, err
	}

	meta := &PaymentMetadata{
		PaymentHash: hash,
	}

	if row.ExternalID.Valid {
		meta.ExternalID = fn.Some(row.ExternalID.String)
	}

	if row.WebhookUrl.Valid {
		meta.WebhookURL = fn.Some(row.WebhookUrl.String)
	}

	return meta, nil
}

// unmarshalEntry converts a joined database row into a LedgerEntry. The
// metadata columns stem from a left join, so both being null means no
// metadata row exists, which is a valid state.
func unmarshalEntry(row sqlc.Payment, externalID,
	webhookURL sql.NullString) (*LedgerEntry, error) {

	payment, err := unmarshalPayment(row)
	if err != nil {
		return nil, err
	}

	entry := &LedgerEntry{
		PaymentRecord: *payment,
	}

	if externalID.Valid || webhookURL.Valid {
		hash, err := MakeHash(row.PaymentHash)
		if err != nil {
			return nil, err
		}

		meta := PaymentMetadata{
			PaymentHash: hash,
		}
		if externalID.Valid {
			meta.ExternalID = fn.Some(externalID.String)
		}
		if webhookURL.Valid {
			meta.WebhookURL = fn.Some(webhookURL.String)
		}

		entry.Metadata = fn.Some(meta)
	}

	return entry, nil
}

// hashToBytes converts an optional hash into the nullable byte slice stored
// in the database.
func hashToBytes(hash fn.Option[Hash]) []byte {
	var result []byte
	hash.WhenSome(func(h Hash) {
		result = make([]byte, HashSize)
		copy(result, h[:])
	})

	return result
}

// optionToNullString converts an optional string into its nullable database
// representation.
func optionToNullString(opt fn.Option[string]) sql.NullString {
	var result sql.NullString
	opt.WhenSome(func(s string) {
		result = sql.NullString{
			String: s,
			Valid:  true,
		}
	})

	return result
}

// timeToNullMilli converts an optional timestamp to nullable unix
// milliseconds.
func timeToNullMilli(t fn.Option[time.Time]) sql.NullInt64 {
	var result sql.NullInt64
	t.WhenSome(func(ts time.Time) {
		result = sql.NullInt64{
			Int64: ts.UnixMilli(),
			Valid: true,
		}
	})

	return result
}

// directionToNullInt16 converts an optional direction filter to its nullable
// database representation.
func directionToNullInt16(d fn.Option[Direction]) sql.NullInt16 {
	var result sql.NullInt16
	d.WhenSome(func(direction Direction) {
		result = sql.NullInt16{
			Int16: int16(direction),
			Valid: true,
		}
	})

	return result
}
