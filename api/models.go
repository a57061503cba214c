package api

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lnledger/lnledger/ledger"
	"github.com/lnledger/lnledger/record"
)

// CreatePaymentRequest is the JSON body of the payment creation endpoint.
type CreatePaymentRequest struct {
	// ID is optional; a fresh uuid is assigned when absent.
	ID string `json:"id"`

	// Kind selects the payment leg: incoming, outgoing, splice_out or
	// channel_close.
	Kind string `json:"kind" binding:"required"`

	// PaymentHash is the hex encoded 32 byte payment hash. Required for
	// incoming payments.
	PaymentHash string `json:"payment_hash"`

	// TxID is the funding transaction, for records with an on-chain leg.
	TxID string `json:"tx_id"`

	AmountMsat  uint64 `json:"amount_msat"`
	FeeMsat     uint64 `json:"fee_msat"`
	Description string `json:"description"`

	// ChannelID references the source channel of an on-chain leg.
	ChannelID *uint64 `json:"channel_id"`

	// CloseKind is required for channel_close records: mutual, local,
	// remote, revoked or other.
	CloseKind string `json:"close_kind"`

	// ExternalID and WebhookURL populate the payment's metadata row.
	ExternalID string `json:"external_id"`
	WebhookURL string `json:"webhook_url"`
}

// SettlePaymentRequest is the JSON body of the settlement endpoint.
type SettlePaymentRequest struct {
	// TxID, when set, records the confirming transaction.
	TxID string `json:"tx_id"`

	// Status is the terminal status to record: settled or failed.
	// Defaults to settled. A failed status rewrites the payload without
	// stamping a settlement timestamp.
	Status string `json:"status"`

	// Preimage is the hex encoded payment preimage, once known.
	Preimage string `json:"preimage"`

	FeeMsat *uint64 `json:"fee_msat"`
}

// Payment is the JSON representation of a ledger entry.
type Payment struct {
	ID          string  `json:"id"`
	Direction   string  `json:"direction"`
	Kind        string  `json:"kind"`
	Status      string  `json:"status"`
	PaymentHash string  `json:"payment_hash,omitempty"`
	TxID        string  `json:"tx_id,omitempty"`
	CreatedAt   int64   `json:"created_at"`
	SettledAt   *int64  `json:"settled_at,omitempty"`
	AmountMsat  uint64  `json:"amount_msat"`
	FeeMsat     uint64  `json:"fee_msat"`
	Description string  `json:"description,omitempty"`
	Preimage    string  `json:"preimage,omitempty"`
	ChannelID   *uint64 `json:"channel_id,omitempty"`
	CloseKind   string  `json:"close_kind,omitempty"`
	ExternalID  string  `json:"external_id,omitempty"`
	WebhookURL  string  `json:"webhook_url,omitempty"`
}

// PaymentPage is the response of the listing endpoints. Offset and limit
// echo the defaulted query so callers can request the next page.
type PaymentPage struct {
	Payments []Payment `json:"payments"`
	Limit    int32     `json:"limit"`
	Offset   int32     `json:"offset"`
}

// PaymentEvent is the message pushed on the websocket event stream.
type PaymentEvent struct {
	Event   string  `json:"event"`
	Payment Payment `json:"payment"`
}

// parseKind maps the wire name of a payment kind to its domain value.
func parseKind(s string) (record.Kind, error) {
	switch s {
	case "incoming":
		return record.KindIncoming, nil
	case "outgoing":
		return record.KindOutgoing, nil
	case "splice_out":
		return record.KindSpliceOut, nil
	case "channel_close":
		return record.KindChannelClose, nil
	default:
		return 0, fmt.Errorf("unknown payment kind %q", s)
	}
}

// parseCloseKind maps the wire name of a close kind to its domain value.
func parseCloseKind(s string) (record.CloseKind, error) {
	switch s {
	case "mutual":
		return record.CloseMutual, nil
	case "local":
		return record.CloseLocal, nil
	case "remote":
		return record.CloseRemote, nil
	case "revoked":
		return record.CloseRevoked, nil
	case "other":
		return record.CloseOther, nil
	default:
		return 0, fmt.Errorf("unknown close kind %q", s)
	}
}

// direction derives the ledger side a payment kind belongs to.
func direction(kind record.Kind) ledger.Direction {
	if kind == record.KindIncoming {
		return ledger.DirectionIncoming
	}

	return ledger.DirectionOutgoing
}

// marshalPayment converts a ledger entry into its JSON representation.
func marshalPayment(entry *ledger.LedgerEntry) Payment {
	p := Payment{
		ID:          entry.ID,
		Direction:   entry.Direction.String(),
		Kind:        entry.Payload.Kind.String(),
		Status:      entry.Payload.Status.String(),
		CreatedAt:   entry.CreatedAt.UnixMilli(),
		AmountMsat:  entry.Payload.AmountMsat,
		FeeMsat:     entry.Payload.FeeMsat,
		Description: string(entry.Payload.Description),
	}

	entry.PaymentHash.WhenSome(func(hash ledger.Hash) {
		p.PaymentHash = hash.String()
	})
	entry.TxID.WhenSome(func(txID string) {
		p.TxID = txID
	})
	entry.SettledAt.WhenSome(func(t time.Time) {
		ms := t.UnixMilli()
		p.SettledAt = &ms
	})
	entry.Payload.Preimage.WhenSome(func(preimage [32]byte) {
		p.Preimage = hex.EncodeToString(preimage[:])
	})
	entry.Payload.ChannelID.WhenSome(func(id uint64) {
		p.ChannelID = &id
	})
	entry.Payload.CloseKind.WhenSome(func(kind record.CloseKind) {
		p.CloseKind = kind.String()
	})
	entry.Metadata.WhenSome(func(meta ledger.PaymentMetadata) {
		p.ExternalID = meta.ExternalID.UnwrapOr("")
		p.WebhookURL = meta.WebhookURL.UnwrapOr("")
	})

	return p
}

// marshalRecord converts a bare payment record, without metadata, into its
// JSON representation.
func marshalRecord(payment *ledger.PaymentRecord) Payment {
	return marshalPayment(&ledger.LedgerEntry{PaymentRecord: *payment})
}

// paymentFromRequest validates a creation request and converts it into the
// domain record plus optional metadata.
func paymentFromRequest(req *CreatePaymentRequest) (*ledger.PaymentRecord,
	fn.Option[ledger.PaymentMetadata], error) {

	noMeta := fn.None[ledger.PaymentMetadata]()

	kind, err := parseKind(req.Kind)
	if err != nil {
		return nil, noMeta, err
	}

	payload := &record.Payload{
		Kind:        kind,
		Status:      record.StatusPending,
		AmountMsat:  req.AmountMsat,
		FeeMsat:     req.FeeMsat,
		Description: []byte(req.Description),
	}

	if req.ChannelID != nil {
		payload.ChannelID = fn.Some(*req.ChannelID)
	}

	if kind == record.KindChannelClose {
		closeKind, err := parseCloseKind(req.CloseKind)
		if err != nil {
			return nil, noMeta, err
		}

		payload.CloseKind = fn.Some(closeKind)
	}

	payment := &ledger.PaymentRecord{
		ID:        req.ID,
		Direction: direction(kind),
		Payload:   payload,
	}

	if req.PaymentHash != "" {
		hash, err := ledger.MakeHashFromStr(req.PaymentHash)
		if err != nil {
			return nil, noMeta, err
		}

		payment.PaymentHash = fn.Some(hash)
	}
	if req.TxID != "" {
		payment.TxID = fn.Some(req.TxID)
	}

	meta := noMeta
	if req.ExternalID != "" || req.WebhookURL != "" {
		m := ledger.PaymentMetadata{}
		if req.ExternalID != "" {
			m.ExternalID = fn.Some(req.ExternalID)
		}
		if req.WebhookURL != "" {
			m.WebhookURL = fn.Some(req.WebhookURL)
		}

		meta = fn.Some(m)
	}

	return payment, meta, nil
}
