// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package curve implements the AMM pricing curves that convert between
// asset amounts and Units, the chain-agnostic value measure carried in
// cross-chain swaps. Two families are provided: the weighted
// constant-product curve in log/exp form ("volatile") and the
// amplified stable-swap curve using a one-minus-amplification power
// transform. All quantities are WAD fixed point.
package curve

import (
	"errors"

	"github.com/holiman/uint256"
	"github.com/luxfi/unitswap/fixmath"
)

var ErrCurveDomain = errors.New("curve input outside valid domain")

// PriceCurveArea computes the units bought for an input amount on the
// weighted curve: w * ln((a+input)/a).
func PriceCurveArea(input, a, w *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, input)
	if overflow {
		return nil, fixmath.ErrOverflow
	}
	ratio, err := fixmath.DivWadDown(sum, a)
	if err != nil {
		return nil, err
	}
	ln, err := fixmath.LnWad(ratio)
	if err != nil {
		return nil, err
	}
	u, overflow := new(uint256.Int).MulOverflow(w, ln)
	if overflow {
		return nil, fixmath.ErrOverflow
	}
	return u, nil
}

// PriceCurveLimit solves the weighted curve for the output amount of
// incoming units: b * (1 - exp(-u/w)).
func PriceCurveLimit(u, b, w *uint256.Int) (*uint256.Int, error) {
	if w.IsZero() {
		return nil, fixmath.ErrDivByZero
	}
	e, err := fixmath.ExpWad(new(uint256.Int).Neg(new(uint256.Int).Div(u, w)))
	if err != nil {
		return nil, err
	}
	diff, underflow := new(uint256.Int).SubOverflow(fixmath.WAD, e)
	if underflow {
		return nil, ErrCurveDomain
	}
	return fixmath.MulWadDown(b, diff)
}

// CombinedPriceCurves composes PriceCurveArea and PriceCurveLimit for
// a same-chain swap. Kept as the explicit composition rather than the
// algebraically reduced form so both halves share one code path with
// the cross-chain flow.
func CombinedPriceCurves(input, a, b, wA, wB *uint256.Int) (*uint256.Int, error) {
	u, err := PriceCurveArea(input, a, wA)
	if err != nil {
		return nil, err
	}
	return PriceCurveLimit(u, b, wB)
}

// PriceCurveLimitShare returns the WAD ownership share of the vault
// that incoming units purchase: (1 - exp(-u/wSum)) / exp(-u/wSum).
// The share is relative to the supply before minting.
func PriceCurveLimitShare(u, wSum *uint256.Int) (*uint256.Int, error) {
	if wSum.IsZero() {
		return nil, fixmath.ErrDivByZero
	}
	e, err := fixmath.ExpWad(new(uint256.Int).Neg(new(uint256.Int).Div(u, wSum)))
	if err != nil {
		return nil, err
	}
	diff, underflow := new(uint256.Int).SubOverflow(fixmath.WAD, e)
	if underflow {
		return nil, ErrCurveDomain
	}
	return fixmath.DivWadDown(diff, e)
}
