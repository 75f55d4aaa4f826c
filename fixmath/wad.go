// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package fixmath implements deterministic 256-bit fixed-point
// arithmetic in WAD (1e18) notation. All operations are checked:
// overflow, division by zero and domain violations surface as errors,
// never as silently wrapped values. Signed quantities use the
// two's-complement interpretation of uint256.Int.
package fixmath

import (
	"errors"
	"strings"

	"github.com/holiman/uint256"
)

var (
	// WAD is the fixed-point scalar (1e18).
	WAD = uint256.NewInt(1e18)

	// WADWAD is WAD expressed in WAD terms (1e36).
	WADWAD = uint256.MustFromDecimal("1000000000000000000000000000000000000")

	// LN2 is the natural logarithm of 2 in WAD notation.
	LN2 = uint256.NewInt(693147180559945344)
)

var (
	ErrOverflow    = errors.New("fixed point overflow")
	ErrUndefined   = errors.New("fixed point operation undefined")
	ErrDivByZero   = errors.New("division by zero")
	ErrLnDomain    = errors.New("logarithm of non-positive value")
	ErrExpOverflow = errors.New("exponential overflow")
)

// MulWadDown returns x*y/WAD rounded down.
func MulWadDown(x, y *uint256.Int) (*uint256.Int, error) {
	return MulDivDown(x, y, WAD)
}

// MulWadUp returns x*y/WAD rounded up.
func MulWadUp(x, y *uint256.Int) (*uint256.Int, error) {
	return MulDivUp(x, y, WAD)
}

// DivWadDown returns x*WAD/y rounded down.
func DivWadDown(x, y *uint256.Int) (*uint256.Int, error) {
	return MulDivDown(x, WAD, y)
}

// DivWadUp returns x*WAD/y rounded up.
func DivWadUp(x, y *uint256.Int) (*uint256.Int, error) {
	return MulDivUp(x, WAD, y)
}

// MulDivDown returns x*y/denominator rounded down, erroring on
// overflow of the intermediate product or a zero denominator.
func MulDivDown(x, y, denominator *uint256.Int) (*uint256.Int, error) {
	z := new(uint256.Int).Mul(x, y)

	// require(denominator != 0 && (x == 0 || (x*y)/x == y))
	if denominator.IsZero() {
		return nil, ErrDivByZero
	}
	if !x.IsZero() && !new(uint256.Int).Div(z, x).Eq(y) {
		return nil, ErrOverflow
	}

	return z.Div(z, denominator), nil
}

// MulDivUp returns x*y/denominator rounded up, erroring on overflow
// of the intermediate product or a zero denominator.
func MulDivUp(x, y, denominator *uint256.Int) (*uint256.Int, error) {
	z := new(uint256.Int).Mul(x, y)

	if denominator.IsZero() {
		return nil, ErrDivByZero
	}
	if !x.IsZero() && !new(uint256.Int).Div(z, x).Eq(y) {
		return nil, ErrOverflow
	}

	if z.IsZero() {
		return z, nil
	}
	z.Sub(z, one)
	z.Div(z, denominator)
	return z.Add(z, one), nil
}

// Log2 returns floor(log2(x)) via branchless bit search.
func Log2(x *uint256.Int) (uint, error) {
	if x.IsZero() {
		return 0, ErrUndefined
	}
	return uint(x.BitLen() - 1), nil
}

var one = uint256.NewInt(1)

// sconst parses a possibly negative decimal literal into a
// two's-complement uint256.Int. Only used for package constants.
func sconst(s string) *uint256.Int {
	neg := strings.HasPrefix(s, "-")
	v := uint256.MustFromDecimal(strings.TrimPrefix(s, "-"))
	if neg {
		v.Neg(v)
	}
	return v
}
