package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lnledger/lnledger/events"
	"github.com/lnledger/lnledger/record"
)

const (
	// DefaultQueryLimit is the page size applied to listing queries that
	// do not specify one.
	DefaultQueryLimit = 100
)

// ServiceConfig holds the components the payment service depends on.
type ServiceConfig struct {
	// DB is the ledger the service reads from and writes to.
	DB LedgerDB

	// Clock supplies the current time for defaulting creation and
	// settlement timestamps and open-ended query ranges.
	Clock clock.Clock
}

// Service is the stateful front of the payment ledger. It validates and
// defaults caller input, delegates to the store and publishes an update
// event after every successful write.
type Service struct {
	started sync.Once
	stopped sync.Once

	cfg *ServiceConfig

	updates *events.Server[*PaymentUpdate]
}

// NewService constructs a payment service from the given config.
func NewService(cfg *ServiceConfig) *Service {
	return &Service{
		cfg:     cfg,
		updates: events.NewServer[*PaymentUpdate](),
	}
}

// Start starts the service's event server.
func (s *Service) Start() error {
	var err error
	s.started.Do(func() {
		log.Info("Payment service starting")

		err = s.updates.Start()
	})

	return err
}

// Stop stops the service's event server, cancelling all subscriptions.
func (s *Service) Stop() error {
	var err error
	s.stopped.Do(func() {
		log.Info("Payment service shutting down")

		err = s.updates.Stop()
	})

	return err
}

// SubscribeUpdates returns a client that receives a PaymentUpdate after
// every successful ledger write.
func (s *Service) SubscribeUpdates() (*events.Client[*PaymentUpdate],
	error) {

	return s.updates.Subscribe()
}

// AddPayment validates and stores a new payment record together with its
// optional metadata, then publishes a PaymentAccepted event. A zero ID is
// replaced by a fresh one and a zero CreatedAt by the current time.
func (s *Service) AddPayment(ctx context.Context, payment *PaymentRecord,
	meta fn.Option[PaymentMetadata]) error {

	if payment.ID == "" {
		payment.ID = NewPaymentID()
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = s.cfg.Clock.Now().UTC()
	}

	if err := s.cfg.DB.AddPayment(ctx, payment); err != nil {
		return err
	}

	// Metadata is keyed by the payment hash, so it can only be attached
	// to records that carry one.
	if meta.IsSome() {
		m := meta.UnwrapOr(PaymentMetadata{})
		if payment.PaymentHash.IsNone() {
			return fmt.Errorf("payment %v stored, but unable to "+
				"store metadata: %w", payment.ID,
				ErrPaymentHashRequired)
		}

		m.PaymentHash = payment.PaymentHash.UnwrapOr(ZeroHash)
		if err := s.cfg.DB.AddPaymentMetadata(ctx, &m); err != nil {
			return fmt.Errorf("payment %v stored, but unable to "+
				"store metadata: %w", payment.ID, err)
		}

		meta = fn.Some(m)
	}

	s.publishUpdate(&PaymentUpdate{
		Kind:     PaymentAccepted,
		Payment:  *payment,
		Metadata: meta,
	})

	return nil
}

// SettlePayment marks the payment with the given id as settled at the
// current time and publishes a PaymentSettled event. Settling an already
// settled payment with identical values is a no-op and publishes nothing.
func (s *Service) SettlePayment(ctx context.Context, id string,
	txID fn.Option[string], payload *record.Payload) error {

	settledAt := s.cfg.Clock.Now().UTC()

	rowsChanged, err := s.cfg.DB.SettlePayment(
		ctx, id, settledAt, txID, payload,
	)
	if err != nil {
		return err
	}

	// Identical resubmission changes nothing, so subscribers hear about
	// each settlement exactly once.
	if rowsChanged == 0 {
		log.Debugf("Settlement of payment %v changed no rows, "+
			"skipping event", id)

		return nil
	}

	payment, err := s.cfg.DB.FetchPayment(ctx, id)
	if err != nil {
		return err
	}

	payment.WhenSome(func(p PaymentRecord) {
		update := &PaymentUpdate{
			Kind:    PaymentSettled,
			Payment: p,
		}

		p.PaymentHash.WhenSome(func(hash Hash) {
			meta, err := s.cfg.DB.FetchPaymentMetadata(ctx, hash)
			if err != nil {
				log.Errorf("Unable to fetch metadata of "+
					"payment %v: %v", id, err)

				return
			}

			update.Metadata = meta
		})

		s.publishUpdate(update)
	})

	return nil
}

// FailPayment records a terminal failure for the identified payment. The
// payload is overwritten but no settlement timestamp is stamped, so failed
// payments never surface in settled listings and no settlement event is
// published. Resubmitting the same failure, or failing a payment that
// already settled, changes nothing.
func (s *Service) FailPayment(ctx context.Context, id string,
	payload *record.Payload) error {

	rowsChanged, err := s.cfg.DB.FailPayment(ctx, id, payload)
	if err != nil {
		return err
	}

	if rowsChanged == 0 {
		log.Debugf("Failure of payment %v changed no rows", id)
	}

	return nil
}

// LookupPayment looks up a payment record by its id.
func (s *Service) LookupPayment(ctx context.Context, id string) (
	fn.Option[PaymentRecord], error) {

	return s.cfg.DB.FetchPayment(ctx, id)
}

// LookupPaymentByHash looks up an incoming payment record by its payment
// hash.
func (s *Service) LookupPaymentByHash(ctx context.Context, hash Hash) (
	fn.Option[PaymentRecord], error) {

	return s.cfg.DB.FetchPaymentByHash(ctx, hash)
}

// LookupPaymentsByTxID returns all payment records funded by the given
// on-chain transaction.
func (s *Service) LookupPaymentsByTxID(ctx context.Context, txID string) (
	[]PaymentRecord, error) {

	return s.cfg.DB.FetchPaymentsByTxID(ctx, txID)
}

// LookupPaymentMetadata looks up the metadata attached to a payment hash.
func (s *Service) LookupPaymentMetadata(ctx context.Context, hash Hash) (
	fn.Option[PaymentMetadata], error) {

	return s.cfg.DB.FetchPaymentMetadata(ctx, hash)
}

// ListPayments returns a page of payment records matching the query, newest
// first. Unset query fields are defaulted, malformed ones fail with
// ErrInvalidQuery.
func (s *Service) ListPayments(ctx context.Context, q PaymentQuery) (
	PaymentSlice, error) {

	q, err := s.normalizeQuery(q)
	if err != nil {
		return PaymentSlice{}, err
	}

	return s.cfg.DB.QueryPayments(ctx, q)
}

// ListSettledPayments returns a page of settled payment records matching
// the query, newest settlement first. The time range applies to the
// settlement timestamp.
func (s *Service) ListSettledPayments(ctx context.Context,
	q PaymentQuery) (PaymentSlice, error) {

	q, err := s.normalizeQuery(q)
	if err != nil {
		return PaymentSlice{}, err
	}

	return s.cfg.DB.QuerySettledPayments(ctx, q)
}

// normalizeQuery applies defaults to unset query fields and rejects
// malformed ones before they reach the store.
func (s *Service) normalizeQuery(q PaymentQuery) (PaymentQuery, error) {
	switch {
	case q.Limit < 0:
		return q, fmt.Errorf("%w: negative limit %d", ErrInvalidQuery,
			q.Limit)

	case q.Offset < 0:
		return q, fmt.Errorf("%w: negative offset %d",
			ErrInvalidQuery, q.Offset)
	}

	if q.Limit == 0 {
		q.Limit = DefaultQueryLimit
	}
	if q.To.IsZero() {
		q.To = s.cfg.Clock.Now().UTC()
	}

	if q.From.After(q.To) {
		return q, fmt.Errorf("%w: range start %v after end %v",
			ErrInvalidQuery, q.From.UnixMilli(), q.To.UnixMilli())
	}

	return q, nil
}

// publishUpdate sends the update to the event server, logging instead of
// failing when the server is already shutting down.
func (s *Service) publishUpdate(update *PaymentUpdate) {
	if err := s.updates.SendUpdate(update); err != nil {
		log.Warnf("Unable to publish %v update for payment %v: %v",
			update.Kind, update.Payment.ID, err)
	}
}
