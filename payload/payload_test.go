// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package payload

import (
	"bytes"
	"testing"

	"github.com/holiman/uint256"
)

func mustEncodeAddress(t *testing.T, b []byte) EncodedAddress {
	t.Helper()
	enc, err := EncodeAddress(b)
	if err != nil {
		t.Fatal(err)
	}
	return enc
}

func TestEncodeAddress(t *testing.T) {
	raw := []byte{0xde, 0xad, 0xbe, 0xef}
	enc := mustEncodeAddress(t, raw)

	if enc[0] != 4 {
		t.Errorf("length prefix = %d, want 4", enc[0])
	}
	// Right-aligned with zero padding in between.
	if !bytes.Equal(enc[EncodedAddressLength-4:], raw) {
		t.Errorf("address not right-aligned: %x", enc)
	}
	for _, b := range enc[1 : EncodedAddressLength-4] {
		if b != 0 {
			t.Fatalf("padding not zero: %x", enc)
		}
	}

	back, err := enc.Decode()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(back, raw) {
		t.Errorf("round trip = %x, want %x", back, raw)
	}
}

func TestEncodeAddressTooLong(t *testing.T) {
	if _, err := EncodeAddress(make([]byte, 65)); err != ErrEncode {
		t.Errorf("err = %v, want %v", err, ErrEncode)
	}
	// 64 bytes is the maximum and must succeed.
	if _, err := EncodeAddress(make([]byte, 64)); err != nil {
		t.Errorf("64-byte address rejected: %v", err)
	}
}

func TestDecodeAddressBytesBadLength(t *testing.T) {
	var data [EncodedAddressLength]byte
	data[0] = 65 // length prefix must be below the field size
	if _, err := DecodeAddressBytes(data[:]); err != ErrInvalidAddress {
		t.Errorf("err = %v, want %v", err, ErrInvalidAddress)
	}
	if _, err := DecodeAddressBytes(data[:32]); err != ErrInvalidAddress {
		t.Errorf("short slice err = %v, want %v", err, ErrInvalidAddress)
	}
}

func TestAssetPacketRoundTrip(t *testing.T) {
	p := &AssetPacket{
		FromVault:      mustEncodeAddress(t, []byte{0x01, 0x02}),
		ToVault:        mustEncodeAddress(t, bytes.Repeat([]byte{0xaa}, 20)),
		ToAccount:      mustEncodeAddress(t, bytes.Repeat([]byte{0xbb}, 32)),
		Units:          uint256.MustFromDecimal("123456789123456789123456789"),
		ToAssetIndex:   2,
		MinOut:         uint256.NewInt(999),
		FromAmount:     uint256.NewInt(1_000_000),
		FromAsset:      mustEncodeAddress(t, bytes.Repeat([]byte{0xcc}, 20)),
		BlockNumberMod: 0xdeadbeef,
		UWIncentiveX16: 655,
		Calldata:       []byte("hello"),
	}

	data, err := p.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if data[0] != CtxAssetSwap {
		t.Fatalf("context byte = %#x", data[0])
	}
	if len(data) != ctx0DataStart+len(p.Calldata) {
		t.Fatalf("encoded length = %d, want %d", len(data), ctx0DataStart+len(p.Calldata))
	}

	pkt, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := pkt.(*AssetPacket)
	if !ok {
		t.Fatalf("decoded %T, want *AssetPacket", pkt)
	}

	if got.FromVault != p.FromVault || got.ToVault != p.ToVault || got.ToAccount != p.ToAccount || got.FromAsset != p.FromAsset {
		t.Error("address fields did not round trip")
	}
	if !got.Units.Eq(p.Units) || !got.MinOut.Eq(p.MinOut) || !got.FromAmount.Eq(p.FromAmount) {
		t.Error("amount fields did not round trip")
	}
	if got.ToAssetIndex != p.ToAssetIndex || got.BlockNumberMod != p.BlockNumberMod || got.UWIncentiveX16 != p.UWIncentiveX16 {
		t.Error("scalar fields did not round trip")
	}
	if !bytes.Equal(got.Calldata, p.Calldata) {
		t.Errorf("calldata = %x, want %x", got.Calldata, p.Calldata)
	}
}

func TestAssetPacketFieldOffsets(t *testing.T) {
	// The layout is a wire contract: spot-check absolute byte offsets
	// rather than trusting encode/decode symmetry alone.
	p := &AssetPacket{
		Units:          uint256.NewInt(7),
		ToAssetIndex:   3,
		MinOut:         uint256.NewInt(11),
		FromAmount:     uint256.NewInt(13),
		BlockNumberMod: 0x01020304,
		UWIncentiveX16: 0x1122,
	}
	data, err := p.Encode()
	if err != nil {
		t.Fatal(err)
	}

	if data[227] != 7 {
		t.Errorf("units LSB at 227 = %d, want 7", data[227])
	}
	if data[228] != 3 {
		t.Errorf("to-asset index at 228 = %d, want 3", data[228])
	}
	if data[260] != 11 {
		t.Errorf("min-out LSB at 260 = %d, want 11", data[260])
	}
	if data[292] != 13 {
		t.Errorf("from-amount LSB at 292 = %d, want 13", data[292])
	}
	if !bytes.Equal(data[358:362], []byte{0x01, 0x02, 0x03, 0x04}) {
		t.Errorf("block number bytes = %x", data[358:362])
	}
	if !bytes.Equal(data[362:364], []byte{0x11, 0x22}) {
		t.Errorf("incentive bytes = %x", data[362:364])
	}
	if !bytes.Equal(data[364:366], []byte{0x00, 0x00}) {
		t.Errorf("data length bytes = %x", data[364:366])
	}
}

func TestLiquidityPacketRoundTrip(t *testing.T) {
	p := &LiquidityPacket{
		FromVault:         mustEncodeAddress(t, bytes.Repeat([]byte{0x11}, 20)),
		ToVault:           mustEncodeAddress(t, bytes.Repeat([]byte{0x22}, 20)),
		ToAccount:         mustEncodeAddress(t, bytes.Repeat([]byte{0x33}, 20)),
		Units:             uint256.MustFromDecimal("987654321987654321"),
		MinVaultTokens:    uint256.NewInt(42),
		MinReferenceAsset: uint256.NewInt(43),
		FromAmount:        uint256.NewInt(44),
		BlockNumberMod:    100,
	}

	data, err := p.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if data[0] != CtxLiquiditySwap {
		t.Fatalf("context byte = %#x", data[0])
	}
	if len(data) != ctx1DataStart {
		t.Fatalf("encoded length = %d, want %d", len(data), ctx1DataStart)
	}

	pkt, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := pkt.(*LiquidityPacket)
	if !ok {
		t.Fatalf("decoded %T, want *LiquidityPacket", pkt)
	}
	if !got.Units.Eq(p.Units) || !got.MinVaultTokens.Eq(p.MinVaultTokens) ||
		!got.MinReferenceAsset.Eq(p.MinReferenceAsset) || !got.FromAmount.Eq(p.FromAmount) {
		t.Error("amount fields did not round trip")
	}
	if got.BlockNumberMod != p.BlockNumberMod {
		t.Errorf("block number = %d, want %d", got.BlockNumberMod, p.BlockNumberMod)
	}
	if len(got.Calldata) != 0 {
		t.Errorf("calldata = %x, want empty", got.Calldata)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"unknown context", []byte{0x02}},
		{"truncated asset header", make([]byte, ctx0DataStart-1)},
		{"truncated liquidity header", append([]byte{0x01}, make([]byte, ctx1DataStart-2)...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.data); err != ErrDecode {
				t.Errorf("err = %v, want %v", err, ErrDecode)
			}
		})
	}

	// Declared calldata longer than the buffer.
	p := &AssetPacket{Units: uint256.NewInt(1), MinOut: new(uint256.Int), FromAmount: new(uint256.Int), Calldata: []byte{1, 2, 3}}
	data, err := p.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(data[:len(data)-1]); err != ErrDecode {
		t.Errorf("short calldata err = %v, want %v", err, ErrDecode)
	}
}

func TestCalldataTarget(t *testing.T) {
	_, _, ok, err := CalldataTarget(nil)
	if err != nil || ok {
		t.Fatalf("empty calldata: ok=%v err=%v", ok, err)
	}

	target := mustEncodeAddress(t, bytes.Repeat([]byte{0x44}, 20))
	calldata := append(append([]byte(nil), target[:]...), 0x99, 0x98)
	got, tail, ok, err := CalldataTarget(calldata)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || got != target {
		t.Error("target did not round trip")
	}
	if !bytes.Equal(tail, []byte{0x99, 0x98}) {
		t.Errorf("tail = %x", tail)
	}

	if _, _, _, err := CalldataTarget([]byte{1, 2, 3}); err != ErrDecode {
		t.Errorf("short calldata err = %v, want %v", err, ErrDecode)
	}
}
