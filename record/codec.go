package record

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
)

// Version is the explicit encoding version tag carried in the first byte of
// every serialized payload.
type Version uint8

const (
	// VersionBase is the original payload encoding.
	VersionBase Version = 1

	// VersionCloseInfo extends VersionBase with the channel reference and
	// close type of on-chain records.
	VersionCloseInfo Version = 2

	// CurrentVersion is the version new blobs are written with.
	CurrentVersion = VersionCloseInfo
)

// TLV types used within the serialized payload. The close metadata types
// are odd so readers that don't know them treat them as optional.
const (
	kindType      tlv.Type = 0
	statusType    tlv.Type = 1
	amountType    tlv.Type = 2
	feeType       tlv.Type = 3
	descType      tlv.Type = 4
	preimageType  tlv.Type = 5
	channelIDType tlv.Type = 7
	closeKindType tlv.Type = 9
)

// ErrEmptyBlob is returned when attempting to decode a zero-length blob.
var ErrEmptyBlob = errors.New("payload blob is empty")

// ErrUnknownVersion is returned when a blob carries a version tag this
// package has no decoder for, meaning it was written by a newer writer.
type ErrUnknownVersion struct {
	Version Version
}

// Error returns a human-readable description of ErrUnknownVersion.
func (e ErrUnknownVersion) Error() string {
	return fmt.Sprintf("unknown payload version %d", e.Version)
}

// payloadDecoder decodes the body of a blob written under a single version.
type payloadDecoder func(io.Reader) (*Payload, error)

// payloadDecoders dispatches decoding on the blob's version tag. New
// versions are supported by adding an entry, existing entries are never
// modified so blobs written under older versions keep decoding.
var payloadDecoders = map[Version]payloadDecoder{
	VersionBase:      decodePayloadV1,
	VersionCloseInfo: decodePayloadV2,
}

// Encode serializes the payload into an opaque blob tagged with
// CurrentVersion.
func Encode(p *Payload) ([]byte, error) {
	kind := uint8(p.Kind)
	status := uint8(p.Status)

	records := []tlv.Record{
		tlv.MakePrimitiveRecord(kindType, &kind),
		tlv.MakePrimitiveRecord(statusType, &status),
		tlv.MakePrimitiveRecord(amountType, &p.AmountMsat),
		tlv.MakePrimitiveRecord(feeType, &p.FeeMsat),
		tlv.MakePrimitiveRecord(descType, &p.Description),
	}

	p.Preimage.WhenSome(func(preimage [32]byte) {
		records = append(records, tlv.MakePrimitiveRecord(
			preimageType, &preimage,
		))
	})
	p.ChannelID.WhenSome(func(chanID uint64) {
		records = append(records, tlv.MakePrimitiveRecord(
			channelIDType, &chanID,
		))
	})
	p.CloseKind.WhenSome(func(closeKind CloseKind) {
		closeKind8 := uint8(closeKind)
		records = append(records, tlv.MakePrimitiveRecord(
			closeKindType, &closeKind8,
		))
	})

	tlvStream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	if err := b.WriteByte(byte(CurrentVersion)); err != nil {
		return nil, err
	}
	if err := tlvStream.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Decode deserializes a blob previously written by Encode, dispatching on
// the version tag in its first byte.
func Decode(blob []byte) (*Payload, error) {
	if len(blob) == 0 {
		return nil, ErrEmptyBlob
	}

	version := Version(blob[0])
	decode, ok := payloadDecoders[version]
	if !ok {
		return nil, ErrUnknownVersion{Version: version}
	}

	return decode(bytes.NewReader(blob[1:]))
}

// decodePayloadV1 decodes the base payload fields.
func decodePayloadV1(r io.Reader) (*Payload, error) {
	var (
		p      Payload
		kind   uint8
		status uint8
	)

	tlvStream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(kindType, &kind),
		tlv.MakePrimitiveRecord(statusType, &status),
		tlv.MakePrimitiveRecord(amountType, &p.AmountMsat),
		tlv.MakePrimitiveRecord(feeType, &p.FeeMsat),
		tlv.MakePrimitiveRecord(descType, &p.Description),
	)
	if err != nil {
		return nil, err
	}

	if err := tlvStream.Decode(r); err != nil {
		return nil, err
	}

	p.Kind = Kind(kind)
	p.Status = Status(status)

	// An absent description is decoded as a zero-length slice, normalize
	// it so round-trips compare equal.
	if len(p.Description) == 0 {
		p.Description = nil
	}

	return &p, nil
}

// decodePayloadV2 decodes the base fields plus the optional preimage and
// on-chain close metadata.
func decodePayloadV2(r io.Reader) (*Payload, error) {
	var (
		p         Payload
		kind      uint8
		status    uint8
		preimage  [32]byte
		chanID    uint64
		closeKind uint8
	)

	tlvStream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(kindType, &kind),
		tlv.MakePrimitiveRecord(statusType, &status),
		tlv.MakePrimitiveRecord(amountType, &p.AmountMsat),
		tlv.MakePrimitiveRecord(feeType, &p.FeeMsat),
		tlv.MakePrimitiveRecord(descType, &p.Description),
		tlv.MakePrimitiveRecord(preimageType, &preimage),
		tlv.MakePrimitiveRecord(channelIDType, &chanID),
		tlv.MakePrimitiveRecord(closeKindType, &closeKind),
	)
	if err != nil {
		return nil, err
	}

	parsedTypes, err := tlvStream.DecodeWithParsedTypes(r)
	if err != nil {
		return nil, err
	}

	p.Kind = Kind(kind)
	p.Status = Status(status)

	if len(p.Description) == 0 {
		p.Description = nil
	}

	// Optional records are only materialized if they were present in the
	// stream.
	if val, ok := parsedTypes[preimageType]; ok && val == nil {
		p.Preimage = fn.Some(preimage)
	}
	if val, ok := parsedTypes[channelIDType]; ok && val == nil {
		p.ChannelID = fn.Some(chanID)
	}
	if val, ok := parsedTypes[closeKindType]; ok && val == nil {
		p.CloseKind = fn.Some(CloseKind(closeKind))
	}

	return &p, nil
}
