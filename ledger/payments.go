package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lnledger/lnledger/record"
)

// Direction partitions the ledger into value received and value sent.
type Direction uint8

const (
	// DirectionIncoming is a payment received by the ledger owner.
	DirectionIncoming Direction = 0

	// DirectionOutgoing is a payment sent by the ledger owner.
	DirectionOutgoing Direction = 1
)

// String returns a human-readable description of the direction.
func (d Direction) String() string {
	switch d {
	case DirectionIncoming:
		return "incoming"
	case DirectionOutgoing:
		return "outgoing"
	default:
		return fmt.Sprintf("unknown(%d)", d)
	}
}

// PaymentRecord is a single row of the ledger. The indexed scalar fields
// live in their own columns, the full domain record travels in Payload and
// round-trips through the record codec.
type PaymentRecord struct {
	// ID is the globally unique identifier of the record, assigned at
	// creation and immutable afterwards.
	ID string

	// Direction tags the record as incoming or outgoing.
	Direction Direction

	// PaymentHash is the 32 byte secondary key. Required and unique for
	// incoming records, optional for outgoing records without a
	// Lightning leg.
	PaymentHash fn.Option[Hash]

	// TxID is the on-chain transaction funding this record, if it has an
	// on-chain leg. It is filled in once the transaction is known and may
	// be shared by multiple records.
	TxID fn.Option[string]

	// CreatedAt is the creation time of the record, immutable.
	CreatedAt time.Time

	// SettledAt is the settlement time. It transitions from unset to a
	// single fixed value exactly once and never back.
	SettledAt fn.Option[time.Time]

	// Payload is the full domain-specific record.
	Payload *record.Payload
}

// NewPaymentID returns a fresh globally unique payment record id.
func NewPaymentID() string {
	return uuid.NewString()
}

// Settled reports whether the record has reached its terminal state.
func (p *PaymentRecord) Settled() bool {
	return p.SettledAt.IsSome()
}

// String returns a compact description of the record, suitable for logs.
func (p *PaymentRecord) String() string {
	return fmt.Sprintf("id=%v, direction=%v, created_at=%v, settled=%v",
		p.ID, p.Direction, p.CreatedAt.UnixMilli(), p.Settled())
}

// PaymentMetadata is the optional 1:1 association attached to a payment at
// creation time. It is never mutated afterwards and never required for a
// record to exist or settle.
type PaymentMetadata struct {
	// PaymentHash keys the metadata to its payment record.
	PaymentHash Hash

	// ExternalID is the caller-supplied correlation token used for later
	// filtering.
	ExternalID fn.Option[string]

	// WebhookURL is the target to notify once the payment settles.
	WebhookURL fn.Option[string]
}

// Empty reports whether the metadata carries no fields at all, in which case
// inserting it is a no-op.
func (m *PaymentMetadata) Empty() bool {
	return m.ExternalID.IsNone() && m.WebhookURL.IsNone()
}

// LedgerEntry is a payment record joined with its metadata. Absent metadata
// is a valid state, not an error.
type LedgerEntry struct {
	PaymentRecord

	// Metadata is the metadata row associated with the record, if any.
	Metadata fn.Option[PaymentMetadata]
}

// UpdateKind describes the ledger transition an update event reports.
type UpdateKind uint8

const (
	// PaymentAccepted signals that a new record was inserted.
	PaymentAccepted UpdateKind = 0

	// PaymentSettled signals that a record transitioned to its terminal
	// settled state.
	PaymentSettled UpdateKind = 1
)

// String returns a human-readable description of the update kind.
func (k UpdateKind) String() string {
	switch k {
	case PaymentAccepted:
		return "accepted"
	case PaymentSettled:
		return "settled"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// PaymentUpdate is the event published on the ledger's event stream after a
// successful write.
type PaymentUpdate struct {
	// Kind is the transition that occurred.
	Kind UpdateKind

	// Payment is the post-write state of the record.
	Payment PaymentRecord

	// Metadata is the metadata associated with the record, if any.
	Metadata fn.Option[PaymentMetadata]
}
