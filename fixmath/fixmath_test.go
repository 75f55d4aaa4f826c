// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fixmath

import (
	"testing"

	"github.com/holiman/uint256"
)

func wad(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), WAD)
}

// within fails unless |got - want| <= tol, treating both as signed.
func within(t *testing.T, got, want *uint256.Int, tol uint64) {
	t.Helper()
	diff := new(uint256.Int).Sub(got, want)
	if diff.Sign() < 0 {
		diff.Neg(diff)
	}
	if diff.Gt(uint256.NewInt(tol)) {
		t.Errorf("got %s, want %s (±%d)", got.Dec(), want.Dec(), tol)
	}
}

func TestMulDivDown(t *testing.T) {
	tests := []struct {
		name    string
		x, y, d *uint256.Int
		want    *uint256.Int
		wantErr error
	}{
		{"exact", uint256.NewInt(6), uint256.NewInt(7), uint256.NewInt(2), uint256.NewInt(21), nil},
		{"rounds down", uint256.NewInt(7), uint256.NewInt(3), uint256.NewInt(2), uint256.NewInt(10), nil},
		{"zero x", uint256.NewInt(0), wad(5), uint256.NewInt(3), uint256.NewInt(0), nil},
		{"zero denominator", uint256.NewInt(1), uint256.NewInt(1), uint256.NewInt(0), nil, ErrDivByZero},
		{"overflow", new(uint256.Int).Not(uint256.NewInt(0)), uint256.NewInt(2), uint256.NewInt(1), nil, ErrOverflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MulDivDown(tt.x, tt.y, tt.d)
			if err != tt.wantErr {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if err == nil && !got.Eq(tt.want) {
				t.Errorf("got %s, want %s", got.Dec(), tt.want.Dec())
			}
		})
	}
}

func TestMulDivUp(t *testing.T) {
	got, err := MulDivUp(uint256.NewInt(7), uint256.NewInt(3), uint256.NewInt(2))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Eq(uint256.NewInt(11)) {
		t.Errorf("got %s, want 11", got.Dec())
	}

	got, err = MulDivUp(uint256.NewInt(0), uint256.NewInt(9), uint256.NewInt(2))
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsZero() {
		t.Errorf("got %s, want 0", got.Dec())
	}
}

func TestWadHelpers(t *testing.T) {
	// 1.5 * 2 = 3 in WAD terms.
	x := new(uint256.Int).Add(wad(1), uint256.MustFromDecimal("500000000000000000"))
	got, err := MulWadDown(x, wad(2))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Eq(wad(3)) {
		t.Errorf("MulWadDown = %s, want 3e18", got.Dec())
	}

	got, err = DivWadDown(wad(3), wad(2))
	if err != nil {
		t.Fatal(err)
	}
	within(t, got, uint256.MustFromDecimal("1500000000000000000"), 0)

	// Up-rounding differs from down-rounding by exactly one when inexact.
	down, _ := DivWadDown(uint256.NewInt(1), uint256.NewInt(3))
	up, _ := DivWadUp(uint256.NewInt(1), uint256.NewInt(3))
	if !new(uint256.Int).Sub(up, down).Eq(uint256.NewInt(1)) {
		t.Errorf("up %s vs down %s", up.Dec(), down.Dec())
	}
}

func TestExpWad(t *testing.T) {
	got, err := ExpWad(new(uint256.Int))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Eq(WAD) {
		t.Errorf("exp(0) = %s, want 1e18", got.Dec())
	}

	// exp(ln 2) = 2
	got, err = ExpWad(LN2)
	if err != nil {
		t.Fatal(err)
	}
	within(t, got, wad(2), 1000)

	// exp(1) = e
	got, err = ExpWad(wad(1))
	if err != nil {
		t.Fatal(err)
	}
	within(t, got, uint256.MustFromDecimal("2718281828459045235"), 1000)

	// exp(-1) = 1/e
	got, err = ExpWad(new(uint256.Int).Neg(wad(1)))
	if err != nil {
		t.Fatal(err)
	}
	within(t, got, uint256.MustFromDecimal("367879441171442321"), 1000)

	// Far-negative input collapses to zero.
	got, err = ExpWad(new(uint256.Int).Neg(wad(50)))
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsZero() {
		t.Errorf("exp(-50) = %s, want 0", got.Dec())
	}

	// Out-of-range input overflows.
	if _, err := ExpWad(wad(136)); err != ErrExpOverflow {
		t.Errorf("exp(136) err = %v, want %v", err, ErrExpOverflow)
	}
}

func TestLnWad(t *testing.T) {
	got, err := LnWad(WAD)
	if err != nil {
		t.Fatal(err)
	}
	within(t, got, new(uint256.Int), 2)

	got, err = LnWad(wad(2))
	if err != nil {
		t.Fatal(err)
	}
	within(t, got, LN2, 1000)

	// ln(e) = 1
	got, err = LnWad(uint256.MustFromDecimal("2718281828459045235"))
	if err != nil {
		t.Fatal(err)
	}
	within(t, got, wad(1), 1000)

	if _, err := LnWad(new(uint256.Int)); err != ErrLnDomain {
		t.Errorf("ln(0) err = %v, want %v", err, ErrLnDomain)
	}
	if _, err := LnWad(new(uint256.Int).Neg(wad(1))); err != ErrLnDomain {
		t.Errorf("ln(-1) err = %v, want %v", err, ErrLnDomain)
	}
}

func TestPowWad(t *testing.T) {
	// 4^0.5 = 2
	got, err := PowWad(wad(4), uint256.MustFromDecimal("500000000000000000"))
	if err != nil {
		t.Fatal(err)
	}
	within(t, got, wad(2), 100000)

	// 2^-1 = 0.5
	got, err = PowWad(wad(2), new(uint256.Int).Neg(WAD))
	if err != nil {
		t.Fatal(err)
	}
	within(t, got, uint256.MustFromDecimal("500000000000000000"), 100000)

	// x^1 = x
	got, err = PowWad(wad(7), WAD)
	if err != nil {
		t.Fatal(err)
	}
	within(t, got, wad(7), 100000)
}

func TestExpLnRoundTrip(t *testing.T) {
	// exp(ln(x)) never exceeds x: round-trips must not create value.
	for _, n := range []uint64{1, 2, 3, 10, 1000, 123456789} {
		x := wad(n)
		lx, err := LnWad(x)
		if err != nil {
			t.Fatal(err)
		}
		back, err := ExpWad(lx)
		if err != nil {
			t.Fatal(err)
		}
		within(t, back, x, 100000)
	}
}

func TestExpMonotonic(t *testing.T) {
	prev := new(uint256.Int)
	for _, n := range []uint64{1, 2, 5, 10, 20, 40, 80, 130} {
		got, err := ExpWad(wad(n))
		if err != nil {
			t.Fatal(err)
		}
		if !prev.Lt(got) {
			t.Fatalf("exp not monotonic at %d: %s <= %s", n, got.Dec(), prev.Dec())
		}
		prev = got
	}
}

func TestLog2(t *testing.T) {
	tests := []struct {
		x    *uint256.Int
		want uint
	}{
		{uint256.NewInt(1), 0},
		{uint256.NewInt(2), 1},
		{uint256.NewInt(3), 1},
		{uint256.NewInt(255), 7},
		{uint256.NewInt(256), 8},
		{new(uint256.Int).Lsh(uint256.NewInt(1), 255), 255},
	}
	for _, tt := range tests {
		got, err := Log2(tt.x)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("Log2(%s) = %d, want %d", tt.x.Dec(), got, tt.want)
		}
	}

	if _, err := Log2(new(uint256.Int)); err != ErrUndefined {
		t.Errorf("Log2(0) err = %v, want %v", err, ErrUndefined)
	}
}
