package record

import (
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// Kind describes the leg of a payment a payload belongs to. Incoming
// payments are received over Lightning, outgoing payments may settle either
// off-chain or with an on-chain leg (splice-out, channel close).
type Kind uint8

const (
	// KindIncoming is a payment received by the ledger owner.
	KindIncoming Kind = 0

	// KindOutgoing is an off-chain payment sent by the ledger owner.
	KindOutgoing Kind = 1

	// KindSpliceOut is an outgoing payment with an on-chain leg funded by
	// splicing funds out of a channel.
	KindSpliceOut Kind = 2

	// KindChannelClose is an outgoing record created when a channel is
	// closed and its balance swept on-chain.
	KindChannelClose Kind = 3
)

// String returns a human-readable description of the payload kind.
func (k Kind) String() string {
	switch k {
	case KindIncoming:
		return "incoming"
	case KindOutgoing:
		return "outgoing"
	case KindSpliceOut:
		return "splice_out"
	case KindChannelClose:
		return "channel_close"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// Status is the coarse settlement status carried inside the payload. The
// authoritative settlement timestamp lives in the ledger row, this mirrors it
// for consumers that only see the blob.
type Status uint8

const (
	// StatusPending is a payment that has been created but not settled.
	StatusPending Status = 0

	// StatusSettled is a payment that reached its terminal confirmed
	// state.
	StatusSettled Status = 1

	// StatusFailed is a payment that can no longer settle.
	StatusFailed Status = 2
)

// String returns a human-readable description of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSettled:
		return "settled"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// CloseKind describes how a channel was closed for KindChannelClose records.
type CloseKind uint8

const (
	// CloseMutual is a cooperative close.
	CloseMutual CloseKind = 0

	// CloseLocal is a unilateral close initiated by us.
	CloseLocal CloseKind = 1

	// CloseRemote is a unilateral close initiated by the peer.
	CloseRemote CloseKind = 2

	// CloseRevoked is a close confirming a revoked commitment.
	CloseRevoked CloseKind = 3

	// CloseOther is any close type we could not classify.
	CloseOther CloseKind = 4
)

// String returns a human-readable description of the close kind.
func (c CloseKind) String() string {
	switch c {
	case CloseMutual:
		return "mutual"
	case CloseLocal:
		return "local"
	case CloseRemote:
		return "remote"
	case CloseRevoked:
		return "revoked"
	case CloseOther:
		return "other"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// Payload is the full domain-specific payment record that is serialized into
// the ledger's opaque blob column. Indexed scalar fields (id, payment hash,
// tx id, timestamps) live in their own columns, everything else lives here.
type Payload struct {
	// Kind is the payment leg this payload describes.
	Kind Kind

	// Status mirrors the settlement state of the ledger row.
	Status Status

	// AmountMsat is the payment amount in millisatoshi.
	AmountMsat uint64

	// FeeMsat is the routing or on-chain fee paid, in millisatoshi.
	FeeMsat uint64

	// Description is the caller-supplied memo attached at creation time.
	Description []byte

	// Preimage is the payment preimage, populated once known.
	Preimage fn.Option[[32]byte]

	// ChannelID references the channel an on-chain leg originated from.
	// Only present for splice-out and channel close records.
	ChannelID fn.Option[uint64]

	// CloseKind is how the channel was closed. Only present for
	// KindChannelClose records.
	CloseKind fn.Option[CloseKind]
}

// String returns a compact description of the payload, suitable for logs.
func (p *Payload) String() string {
	return fmt.Sprintf("kind=%v, status=%d, amt=%d msat, fee=%d msat",
		p.Kind, p.Status, p.AmountMsat, p.FeeMsat)
}
