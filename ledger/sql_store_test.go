package ledger

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lnledger/lnledger/record"
	"github.com/lnledger/lnledger/sqldb"
	"github.com/lnledger/lnledger/sqldb/sqlc"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// newTestStore creates a fully migrated sqlite backed store for testing.
func newTestStore(t *testing.T) (*SQLStore, *clock.TestClock) {
	t.Helper()

	db := sqldb.NewTestSqliteDB(t)
	testClock := clock.NewTestClock(testTime)

	return NewSQLStoreFromDB(db.BaseDB, testClock), testClock
}

// randomHash returns a fresh random payment hash.
func randomHash(t *testing.T) Hash {
	t.Helper()

	var hash Hash
	_, err := rand.Read(hash[:])
	require.NoError(t, err)

	return hash
}

// testPayment assembles a minimal valid payment record.
func testPayment(t *testing.T, direction Direction) *PaymentRecord {
	t.Helper()

	kind := record.KindIncoming
	if direction == DirectionOutgoing {
		kind = record.KindOutgoing
	}

	payment := &PaymentRecord{
		ID:        NewPaymentID(),
		Direction: direction,
		CreatedAt: testTime,
		Payload: &record.Payload{
			Kind:        kind,
			Status:      record.StatusPending,
			AmountMsat:  21_000,
			Description: []byte("test payment"),
		},
	}

	if direction == DirectionIncoming {
		payment.PaymentHash = fn.Some(randomHash(t))
	}

	return payment
}

// TestAddPaymentDuplicateID asserts that inserting a record with an existing
// id is rejected while leaving the original untouched.
func TestAddPaymentDuplicateID(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	payment := testPayment(t, DirectionIncoming)
	require.NoError(t, store.AddPayment(ctx, payment))

	dupe := testPayment(t, DirectionIncoming)
	dupe.ID = payment.ID
	require.ErrorIs(
		t, store.AddPayment(ctx, dupe), ErrDuplicatePaymentID,
	)

	// The stored record must still be the first one.
	stored, err := store.FetchPayment(ctx, payment.ID)
	require.NoError(t, err)
	require.True(t, stored.IsSome())
	require.Equal(
		t, payment.PaymentHash,
		stored.UnwrapOr(PaymentRecord{}).PaymentHash,
	)
}

// TestAddPaymentDuplicateHash asserts that the payment hash is unique among
// incoming records only.
func TestAddPaymentDuplicateHash(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	payment := testPayment(t, DirectionIncoming)
	require.NoError(t, store.AddPayment(ctx, payment))

	// A second incoming record with the same hash must be rejected.
	dupe := testPayment(t, DirectionIncoming)
	dupe.PaymentHash = payment.PaymentHash
	require.ErrorIs(
		t, store.AddPayment(ctx, dupe), ErrDuplicatePaymentHash,
	)

	// An outgoing record may reuse the hash.
	outgoing := testPayment(t, DirectionOutgoing)
	outgoing.PaymentHash = payment.PaymentHash
	require.NoError(t, store.AddPayment(ctx, outgoing))
}

// TestAddPaymentRequiresHash asserts that incoming records cannot be stored
// without a payment hash.
func TestAddPaymentRequiresHash(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)

	payment := testPayment(t, DirectionIncoming)
	payment.PaymentHash = fn.None[Hash]()

	require.ErrorIs(
		t, store.AddPayment(context.Background(), payment),
		ErrPaymentHashRequired,
	)
}

// TestSettlePayment exercises the settlement state transition: missing ids
// fail, the first settlement changes one row and an identical resubmission
// changes none.
func TestSettlePayment(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	settledPayload := &record.Payload{
		Kind:       record.KindIncoming,
		Status:     record.StatusSettled,
		AmountMsat: 21_000,
	}

	// Settling an unknown id is an error.
	_, err := store.SettlePayment(
		ctx, "no-such-id", testTime, fn.None[string](),
		settledPayload,
	)
	require.ErrorIs(t, err, ErrPaymentNotFound)

	payment := testPayment(t, DirectionIncoming)
	require.NoError(t, store.AddPayment(ctx, payment))

	settledAt := testTime.Add(time.Hour)
	txID := fn.Some("deadbeef")

	rows, err := store.SettlePayment(
		ctx, payment.ID, settledAt, txID, settledPayload,
	)
	require.NoError(t, err)
	require.Equal(t, 1, rows)

	stored, err := store.FetchPayment(ctx, payment.ID)
	require.NoError(t, err)
	storedPayment := stored.UnwrapOr(PaymentRecord{})
	require.Equal(t, fn.Some(settledAt), storedPayment.SettledAt)
	require.Equal(t, txID, storedPayment.TxID)
	require.Equal(t, record.StatusSettled, storedPayment.Payload.Status)

	// Resubmitting the identical settlement is a no-op.
	rows, err = store.SettlePayment(
		ctx, payment.ID, settledAt, txID, settledPayload,
	)
	require.NoError(t, err)
	require.Equal(t, 0, rows)
}

// TestFailPayment asserts a recorded failure rewrites the payload without
// stamping a settlement time, and that settled records cannot be failed.
func TestFailPayment(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	failedPayload := &record.Payload{
		Kind:       record.KindIncoming,
		Status:     record.StatusFailed,
		AmountMsat: 21_000,
	}

	// Failing an unknown id is an error.
	_, err := store.FailPayment(ctx, "no-such-id", failedPayload)
	require.ErrorIs(t, err, ErrPaymentNotFound)

	payment := testPayment(t, DirectionIncoming)
	require.NoError(t, store.AddPayment(ctx, payment))

	rows, err := store.FailPayment(ctx, payment.ID, failedPayload)
	require.NoError(t, err)
	require.Equal(t, 1, rows)

	stored, err := store.FetchPayment(ctx, payment.ID)
	require.NoError(t, err)
	storedPayment := stored.UnwrapOr(PaymentRecord{})
	require.Equal(t, record.StatusFailed, storedPayment.Payload.Status)
	require.True(t, storedPayment.SettledAt.IsNone())

	// Resubmitting the identical failure is a no-op.
	rows, err = store.FailPayment(ctx, payment.ID, failedPayload)
	require.NoError(t, err)
	require.Equal(t, 0, rows)

	// Failed records never surface in settled listings.
	page, err := store.QuerySettledPayments(ctx, PaymentQuery{
		To:    testTime.Add(time.Hour),
		Limit: 10,
	})
	require.NoError(t, err)
	require.Empty(t, page.Payments)

	// A record that settled stays settled.
	settled := testPayment(t, DirectionIncoming)
	require.NoError(t, store.AddPayment(ctx, settled))

	rows, err = store.SettlePayment(
		ctx, settled.ID, testTime.Add(time.Minute), fn.None[string](),
		settled.Payload,
	)
	require.NoError(t, err)
	require.Equal(t, 1, rows)

	rows, err = store.FailPayment(ctx, settled.ID, failedPayload)
	require.NoError(t, err)
	require.Equal(t, 0, rows)

	stored, err = store.FetchPayment(ctx, settled.ID)
	require.NoError(t, err)
	require.True(t, stored.UnwrapOr(PaymentRecord{}).SettledAt.IsSome())
}

// TestSettlePaymentKeepsTxID asserts that a settlement without a tx id does
// not erase one recorded at creation time.
func TestSettlePaymentKeepsTxID(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	payment := testPayment(t, DirectionOutgoing)
	payment.TxID = fn.Some("f00d")
	require.NoError(t, store.AddPayment(ctx, payment))

	rows, err := store.SettlePayment(
		ctx, payment.ID, testTime.Add(time.Minute),
		fn.None[string](), payment.Payload,
	)
	require.NoError(t, err)
	require.Equal(t, 1, rows)

	stored, err := store.FetchPayment(ctx, payment.ID)
	require.NoError(t, err)
	require.Equal(
		t, fn.Some("f00d"), stored.UnwrapOr(PaymentRecord{}).TxID,
	)
}

// TestFetchPaymentByHash asserts the hash lookup finds incoming records and
// reports absence as an empty option.
func TestFetchPaymentByHash(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	payment := testPayment(t, DirectionIncoming)
	require.NoError(t, store.AddPayment(ctx, payment))

	hash := payment.PaymentHash.UnwrapOr(ZeroHash)
	stored, err := store.FetchPaymentByHash(ctx, hash)
	require.NoError(t, err)
	require.True(t, stored.IsSome())
	require.Equal(t, payment.ID, stored.UnwrapOr(PaymentRecord{}).ID)

	// An unknown hash is not an error, just an empty result.
	missing, err := store.FetchPaymentByHash(ctx, randomHash(t))
	require.NoError(t, err)
	require.True(t, missing.IsNone())
}

// TestFetchPaymentsByTxID asserts that a single transaction can fund
// multiple records and all of them are returned.
func TestFetchPaymentsByTxID(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	const txID = "aabbcc"

	first := testPayment(t, DirectionOutgoing)
	first.TxID = fn.Some(txID)
	require.NoError(t, store.AddPayment(ctx, first))

	second := testPayment(t, DirectionOutgoing)
	second.TxID = fn.Some(txID)
	require.NoError(t, store.AddPayment(ctx, second))

	other := testPayment(t, DirectionOutgoing)
	other.TxID = fn.Some("other")
	require.NoError(t, store.AddPayment(ctx, other))

	payments, err := store.FetchPaymentsByTxID(ctx, txID)
	require.NoError(t, err)
	require.Len(t, payments, 2)

	for _, payment := range payments {
		require.Equal(t, fn.Some(txID), payment.TxID)
	}

	none, err := store.FetchPaymentsByTxID(ctx, "unknown")
	require.NoError(t, err)
	require.Empty(t, none)
}

// TestPaymentMetadata exercises the metadata side table: storing, fetching,
// the empty no-op and the left join into listings.
func TestPaymentMetadata(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	payment := testPayment(t, DirectionIncoming)
	require.NoError(t, store.AddPayment(ctx, payment))

	hash := payment.PaymentHash.UnwrapOr(ZeroHash)

	// Empty metadata is silently dropped.
	require.NoError(t, store.AddPaymentMetadata(ctx, &PaymentMetadata{
		PaymentHash: hash,
	}))
	missing, err := store.FetchPaymentMetadata(ctx, hash)
	require.NoError(t, err)
	require.True(t, missing.IsNone())

	meta := &PaymentMetadata{
		PaymentHash: hash,
		ExternalID:  fn.Some("order-1337"),
		WebhookURL:  fn.Some("https://example.com/hook"),
	}
	require.NoError(t, store.AddPaymentMetadata(ctx, meta))

	stored, err := store.FetchPaymentMetadata(ctx, hash)
	require.NoError(t, err)
	require.Equal(t, fn.Some(*meta), stored)

	// The listing joins the metadata in.
	page, err := store.QueryPayments(ctx, PaymentQuery{
		To:    testTime.Add(time.Hour),
		Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, page.Payments, 1)
	require.Equal(t, fn.Some(*meta), page.Payments[0].Metadata)
}

// TestQueryPaymentsPagination walks a fixed record set page by page and
// asserts that the pages partition the set: no overlap, no gap, descending
// creation time.
func TestQueryPaymentsPagination(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	const numPayments = 10

	ids := make(map[string]struct{}, numPayments)
	for i := 0; i < numPayments; i++ {
		payment := testPayment(t, DirectionIncoming)
		payment.CreatedAt = testTime.Add(
			time.Duration(i) * time.Minute,
		)
		require.NoError(t, store.AddPayment(ctx, payment))

		ids[payment.ID] = struct{}{}
	}

	query := PaymentQuery{
		To:    testTime.Add(time.Hour),
		Limit: 3,
	}

	seen := make(map[string]struct{}, numPayments)
	var prevCreated time.Time
	for {
		page, err := store.QueryPayments(ctx, query)
		require.NoError(t, err)

		if len(page.Payments) == 0 {
			break
		}

		for _, entry := range page.Payments {
			_, dupe := seen[entry.ID]
			require.False(t, dupe, "entry %v returned twice",
				entry.ID)
			seen[entry.ID] = struct{}{}

			if !prevCreated.IsZero() {
				require.False(
					t,
					entry.CreatedAt.After(prevCreated),
					"ordering violated",
				)
			}
			prevCreated = entry.CreatedAt
		}

		query.Offset += int32(len(page.Payments))
	}

	require.Equal(t, ids, seen)
}

// TestQueryPaymentsTiedTimestamps asserts records sharing a creation time
// come out in a stable order, so offset pages still partition the set.
func TestQueryPaymentsTiedTimestamps(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	const numPayments = 20

	ids := make(map[string]struct{}, numPayments)
	for i := 0; i < numPayments; i++ {
		payment := testPayment(t, DirectionIncoming)
		require.NoError(t, store.AddPayment(ctx, payment))

		ids[payment.ID] = struct{}{}
	}

	query := PaymentQuery{
		To:    testTime.Add(time.Hour),
		Limit: 3,
	}

	seen := make(map[string]struct{}, numPayments)
	prevID := ""
	for {
		page, err := store.QueryPayments(ctx, query)
		require.NoError(t, err)

		if len(page.Payments) == 0 {
			break
		}

		for _, entry := range page.Payments {
			_, dupe := seen[entry.ID]
			require.False(t, dupe, "entry %v returned twice",
				entry.ID)
			seen[entry.ID] = struct{}{}

			// All creation times are equal, so the id is the only
			// thing keeping the order stable across pages.
			if prevID != "" {
				require.Less(t, entry.ID, prevID,
					"id ordering violated")
			}
			prevID = entry.ID
		}

		query.Offset += int32(len(page.Payments))
	}

	require.Equal(t, ids, seen)
}

// TestQueryPaymentsFilters checks the direction and external id filters.
func TestQueryPaymentsFilters(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	incoming := testPayment(t, DirectionIncoming)
	require.NoError(t, store.AddPayment(ctx, incoming))
	require.NoError(t, store.AddPaymentMetadata(ctx, &PaymentMetadata{
		PaymentHash: incoming.PaymentHash.UnwrapOr(ZeroHash),
		ExternalID:  fn.Some("order-1"),
	}))

	outgoing := testPayment(t, DirectionOutgoing)
	require.NoError(t, store.AddPayment(ctx, outgoing))

	baseQuery := PaymentQuery{
		To:    testTime.Add(time.Hour),
		Limit: 10,
	}

	// No filter returns both sides of the ledger.
	page, err := store.QueryPayments(ctx, baseQuery)
	require.NoError(t, err)
	require.Len(t, page.Payments, 2)

	// Direction filter.
	dirQuery := baseQuery
	dirQuery.Direction = fn.Some(DirectionOutgoing)
	page, err = store.QueryPayments(ctx, dirQuery)
	require.NoError(t, err)
	require.Len(t, page.Payments, 1)
	require.Equal(t, outgoing.ID, page.Payments[0].ID)

	// External id filter only matches records with joined metadata.
	extQuery := baseQuery
	extQuery.ExternalID = fn.Some("order-1")
	page, err = store.QueryPayments(ctx, extQuery)
	require.NoError(t, err)
	require.Len(t, page.Payments, 1)
	require.Equal(t, incoming.ID, page.Payments[0].ID)

	extQuery.ExternalID = fn.Some("order-2")
	page, err = store.QueryPayments(ctx, extQuery)
	require.NoError(t, err)
	require.Empty(t, page.Payments)
}

// TestQuerySettledPayments asserts the settled listing only ever returns
// settled records, ordered by settlement time, range-filtered on the
// settlement timestamp.
func TestQuerySettledPayments(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	const numPayments = 6

	var settledIDs []string
	for i := 0; i < numPayments; i++ {
		payment := testPayment(t, DirectionIncoming)
		payment.CreatedAt = testTime.Add(
			time.Duration(i) * time.Minute,
		)
		require.NoError(t, store.AddPayment(ctx, payment))

		// Settle every other record, in reverse creation order so
		// the two orderings differ.
		if i%2 != 0 {
			continue
		}

		settledAt := testTime.Add(
			time.Duration(numPayments-i) * time.Hour,
		)
		payload := *payment.Payload
		payload.Status = record.StatusSettled

		_, err := store.SettlePayment(
			ctx, payment.ID, settledAt, fn.None[string](),
			&payload,
		)
		require.NoError(t, err)

		settledIDs = append(settledIDs, payment.ID)
	}

	page, err := store.QuerySettledPayments(ctx, PaymentQuery{
		To:    testTime.Add(24 * time.Hour),
		Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, page.Payments, len(settledIDs))

	var prevSettled time.Time
	for _, entry := range page.Payments {
		require.True(t, entry.SettledAt.IsSome(),
			"settled listing returned unsettled entry")

		settledAt := entry.SettledAt.UnwrapOr(time.Time{})
		if !prevSettled.IsZero() {
			require.False(t, settledAt.After(prevSettled),
				"settlement ordering violated")
		}
		prevSettled = settledAt
	}

	// The settled listing filters on the settlement timestamp, so a
	// range covering only the latest settlement returns one record.
	page, err = store.QuerySettledPayments(ctx, PaymentQuery{
		From:  testTime.Add(numPayments*time.Hour - time.Minute),
		To:    testTime.Add(24 * time.Hour),
		Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, page.Payments, 1)
	require.Equal(t, settledIDs[0], page.Payments[0].ID)
}

// TestQuerySkipsUndecodableRow asserts a row whose payload blob cannot be
// decoded is dropped from the listing instead of failing the whole page.
func TestQuerySkipsUndecodableRow(t *testing.T) {
	t.Parallel()

	db := sqldb.NewTestSqliteDB(t)
	store := NewSQLStoreFromDB(db.BaseDB, clock.NewTestClock(testTime))
	ctx := context.Background()

	good := testPayment(t, DirectionIncoming)
	require.NoError(t, store.AddPayment(ctx, good))

	// Inject a row with a version tag no decoder knows, bypassing the
	// store's encoder.
	require.NoError(t, db.InsertPayment(ctx, sqlc.InsertPaymentParams{
		ID:        NewPaymentID(),
		Direction: int16(DirectionOutgoing),
		CreatedAt: testTime.UnixMilli(),
		Payload:   []byte{0x7f, 0x00},
	}))

	page, err := store.QueryPayments(ctx, PaymentQuery{
		To:    testTime.Add(time.Hour),
		Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, page.Payments, 1)
	require.Equal(t, good.ID, page.Payments[0].ID)
}

// TestPaymentRoundTrip asserts a fully populated record survives the store
// unchanged.
func TestPaymentRoundTrip(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	var preimage [32]byte
	copy(preimage[:], []byte("0123456789abcdef0123456789abcdef"))

	payment := testPayment(t, DirectionOutgoing)
	payment.TxID = fn.Some("cafe")
	payment.Payload = &record.Payload{
		Kind:        record.KindChannelClose,
		Status:      record.StatusPending,
		AmountMsat:  500_000,
		FeeMsat:     1_234,
		Description: []byte("sweep"),
		Preimage:    fn.Some(preimage),
		ChannelID:   fn.Some(uint64(42)),
		CloseKind:   fn.Some(record.CloseMutual),
	}

	require.NoError(t, store.AddPayment(ctx, payment))

	stored, err := store.FetchPayment(ctx, payment.ID)
	require.NoError(t, err)
	require.True(t, stored.IsSome())
	require.Equal(t, *payment, stored.UnwrapOr(PaymentRecord{}))
}
