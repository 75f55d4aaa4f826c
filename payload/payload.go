// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package payload implements the cross-chain wire format shared by
// every vault kind. A packet is a 1-byte context tag followed by a
// fixed common header and a context-specific body:
//
//	Common header            Start  Length
//	  CONTEXT                0      1
//	  FROM_VAULT             1      65
//	  TO_VAULT               66     65
//	  TO_ACCOUNT             131    65
//	  UNITS                  196    32
//
//	CTX0 (0x00) asset swap
//	  TO_ASSET_INDEX         228    1
//	  MIN_OUT                229    32
//	  FROM_AMOUNT            261    32
//	  FROM_ASSET             293    65
//	  BLOCK_NUMBER           358    4
//	  UW_INCENTIVE           362    2
//	  DATA_LENGTH            364    2
//	  DATA                   366    N
//
//	CTX1 (0x01) liquidity swap
//	  MIN_VAULT_TOKENS       228    32
//	  MIN_REFERENCE          260    32
//	  FROM_AMOUNT            292    32
//	  BLOCK_NUMBER           324    4
//	  DATA_LENGTH            328    2
//	  DATA                   330    N
//
// Addresses travel as fixed 65-byte fields: a 1-byte true-length
// prefix, zero padding, then the raw address bytes right-aligned.
// This lets heterogeneous chains share one header layout.
package payload

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/holiman/uint256"
)

const (
	CtxAssetSwap     byte = 0x00
	CtxLiquiditySwap byte = 0x01
)

// EncodedAddressLength is the wire size of every address field.
const EncodedAddressLength = 65

// Common header offsets.
const (
	contextPos      = 0
	fromVaultStart  = 1
	toVaultStart    = 66
	toAccountStart  = 131
	unitsStart      = 196
	commonHeaderEnd = 228
)

// CTX0 offsets.
const (
	ctx0ToAssetIndexPos  = 228
	ctx0MinOutStart      = 229
	ctx0FromAmountStart  = 261
	ctx0FromAssetStart   = 293
	ctx0BlockNumberStart = 358
	ctx0UWIncentiveStart = 362
	ctx0DataLengthStart  = 364
	ctx0DataStart        = 366
)

// CTX1 offsets.
const (
	ctx1MinVaultTokensStart = 228
	ctx1MinReferenceStart   = 260
	ctx1FromAmountStart     = 292
	ctx1BlockNumberStart    = 324
	ctx1DataLengthStart     = 328
	ctx1DataStart           = 330
)

var (
	ErrDecode         = errors.New("malformed payload")
	ErrEncode         = errors.New("payload field out of range")
	ErrInvalidAddress = errors.New("invalid encoded address")
)

// EncodedAddress is the fixed 65-byte wire representation of a
// variable-length chain address.
type EncodedAddress [EncodedAddressLength]byte

// EncodeAddress packs raw address bytes into wire form. The address
// may be at most 64 bytes.
func EncodeAddress(address []byte) (EncodedAddress, error) {
	var enc EncodedAddress
	if len(address) > EncodedAddressLength-1 {
		return enc, ErrEncode
	}
	enc[0] = byte(len(address))
	copy(enc[EncodedAddressLength-len(address):], address)
	return enc, nil
}

// DecodeAddressBytes validates and converts a 65-byte slice into an
// EncodedAddress. The length prefix must be below 65.
func DecodeAddressBytes(data []byte) (EncodedAddress, error) {
	var enc EncodedAddress
	if len(data) != EncodedAddressLength {
		return enc, ErrInvalidAddress
	}
	if int(data[0]) >= EncodedAddressLength {
		return enc, ErrInvalidAddress
	}
	copy(enc[:], data)
	return enc, nil
}

// Decode returns the raw address bytes carried by the field.
func (e EncodedAddress) Decode() ([]byte, error) {
	length := int(e[0])
	if length >= EncodedAddressLength {
		return nil, ErrInvalidAddress
	}
	out := make([]byte, length)
	copy(out, e[EncodedAddressLength-length:])
	return out, nil
}

// Packet is the tagged union over the two swap payload shapes.
type Packet interface {
	Context() byte
	Encode() ([]byte, error)
}

// AssetPacket is the CTX0 asset-swap payload.
type AssetPacket struct {
	FromVault      EncodedAddress
	ToVault        EncodedAddress
	ToAccount      EncodedAddress
	Units          *uint256.Int
	ToAssetIndex   uint8
	MinOut         *uint256.Int
	FromAmount     *uint256.Int
	FromAsset      EncodedAddress
	BlockNumberMod uint32
	UWIncentiveX16 uint16
	Calldata       []byte
}

func (p *AssetPacket) Context() byte { return CtxAssetSwap }

func (p *AssetPacket) Encode() ([]byte, error) {
	if len(p.Calldata) > math.MaxUint16 {
		return nil, ErrEncode
	}

	data := make([]byte, 0, ctx0DataStart+len(p.Calldata))
	data = append(data, CtxAssetSwap)
	data = append(data, p.FromVault[:]...)
	data = append(data, p.ToVault[:]...)
	data = append(data, p.ToAccount[:]...)
	data = appendUint256(data, p.Units)
	data = append(data, p.ToAssetIndex)
	data = appendUint256(data, p.MinOut)
	data = appendUint256(data, p.FromAmount)
	data = append(data, p.FromAsset[:]...)
	data = binary.BigEndian.AppendUint32(data, p.BlockNumberMod)
	data = binary.BigEndian.AppendUint16(data, p.UWIncentiveX16)
	data = binary.BigEndian.AppendUint16(data, uint16(len(p.Calldata)))
	data = append(data, p.Calldata...)
	return data, nil
}

// LiquidityPacket is the CTX1 liquidity-swap payload.
type LiquidityPacket struct {
	FromVault         EncodedAddress
	ToVault           EncodedAddress
	ToAccount         EncodedAddress
	Units             *uint256.Int
	MinVaultTokens    *uint256.Int
	MinReferenceAsset *uint256.Int
	FromAmount        *uint256.Int
	BlockNumberMod    uint32
	Calldata          []byte
}

func (p *LiquidityPacket) Context() byte { return CtxLiquiditySwap }

func (p *LiquidityPacket) Encode() ([]byte, error) {
	if len(p.Calldata) > math.MaxUint16 {
		return nil, ErrEncode
	}

	data := make([]byte, 0, ctx1DataStart+len(p.Calldata))
	data = append(data, CtxLiquiditySwap)
	data = append(data, p.FromVault[:]...)
	data = append(data, p.ToVault[:]...)
	data = append(data, p.ToAccount[:]...)
	data = appendUint256(data, p.Units)
	data = appendUint256(data, p.MinVaultTokens)
	data = appendUint256(data, p.MinReferenceAsset)
	data = appendUint256(data, p.FromAmount)
	data = binary.BigEndian.AppendUint32(data, p.BlockNumberMod)
	data = binary.BigEndian.AppendUint16(data, uint16(len(p.Calldata)))
	data = append(data, p.Calldata...)
	return data, nil
}

// Decode parses a wire payload into one of the two packet shapes,
// dispatching on the context tag.
func Decode(data []byte) (Packet, error) {
	if len(data) < 1 {
		return nil, ErrDecode
	}
	switch data[contextPos] {
	case CtxAssetSwap:
		return decodeAssetPacket(data)
	case CtxLiquiditySwap:
		return decodeLiquidityPacket(data)
	default:
		return nil, ErrDecode
	}
}

func decodeAssetPacket(data []byte) (*AssetPacket, error) {
	if len(data) < ctx0DataStart {
		return nil, ErrDecode
	}

	p := &AssetPacket{
		Units:          readUint256(data, unitsStart),
		ToAssetIndex:   data[ctx0ToAssetIndexPos],
		MinOut:         readUint256(data, ctx0MinOutStart),
		FromAmount:     readUint256(data, ctx0FromAmountStart),
		BlockNumberMod: binary.BigEndian.Uint32(data[ctx0BlockNumberStart:]),
		UWIncentiveX16: binary.BigEndian.Uint16(data[ctx0UWIncentiveStart:]),
	}
	copy(p.FromVault[:], data[fromVaultStart:])
	copy(p.ToVault[:], data[toVaultStart:])
	copy(p.ToAccount[:], data[toAccountStart:])
	copy(p.FromAsset[:], data[ctx0FromAssetStart:])

	length := int(binary.BigEndian.Uint16(data[ctx0DataLengthStart:]))
	if len(data) < ctx0DataStart+length {
		return nil, ErrDecode
	}
	p.Calldata = append([]byte(nil), data[ctx0DataStart:ctx0DataStart+length]...)
	return p, nil
}

func decodeLiquidityPacket(data []byte) (*LiquidityPacket, error) {
	if len(data) < ctx1DataStart {
		return nil, ErrDecode
	}

	p := &LiquidityPacket{
		Units:             readUint256(data, unitsStart),
		MinVaultTokens:    readUint256(data, ctx1MinVaultTokensStart),
		MinReferenceAsset: readUint256(data, ctx1MinReferenceStart),
		FromAmount:        readUint256(data, ctx1FromAmountStart),
		BlockNumberMod:    binary.BigEndian.Uint32(data[ctx1BlockNumberStart:]),
	}
	copy(p.FromVault[:], data[fromVaultStart:])
	copy(p.ToVault[:], data[toVaultStart:])
	copy(p.ToAccount[:], data[toAccountStart:])

	length := int(binary.BigEndian.Uint16(data[ctx1DataLengthStart:]))
	if len(data) < ctx1DataStart+length {
		return nil, ErrDecode
	}
	p.Calldata = append([]byte(nil), data[ctx1DataStart:ctx1DataStart+length]...)
	return p, nil
}

// Calldata sub-format: 65-byte encoded target address followed by
// opaque bytes forwarded to the target with the realized output.

// CalldataTarget splits swap calldata into its target address and the
// opaque tail. Returns ok=false for empty calldata.
func CalldataTarget(calldata []byte) (target EncodedAddress, bytes []byte, ok bool, err error) {
	if len(calldata) == 0 {
		return EncodedAddress{}, nil, false, nil
	}
	if len(calldata) < EncodedAddressLength {
		return EncodedAddress{}, nil, false, ErrDecode
	}
	target, err = DecodeAddressBytes(calldata[:EncodedAddressLength])
	if err != nil {
		return EncodedAddress{}, nil, false, err
	}
	return target, calldata[EncodedAddressLength:], true, nil
}

func appendUint256(data []byte, v *uint256.Int) []byte {
	var b [32]byte
	if v != nil {
		b = v.Bytes32()
	}
	return append(data, b[:]...)
}

func readUint256(data []byte, offset int) *uint256.Int {
	return new(uint256.Int).SetBytes(data[offset : offset+32])
}
