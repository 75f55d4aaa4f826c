// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package curve

import (
	"github.com/holiman/uint256"
	"github.com/luxfi/unitswap/fixmath"
)

// The amplified curve prices against (w·balance)^(1-theta) terms,
// where theta is the vault amplification in (0,1). Vaults store
// oneMinusAmp = 1-theta in WAD; as theta approaches 0 the curve
// approaches the weighted curve, as it approaches 1 slippage near
// balance vanishes.

// AmpPriceCurveArea computes the units bought for an input amount:
// (w·(a+input)·WAD)^(1-theta) - (w·a·WAD)^(1-theta).
func AmpPriceCurveArea(input, a, w, oneMinusAmp *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, input)
	if overflow {
		return nil, fixmath.ErrOverflow
	}
	after, err := weightedAmped(sum, w, oneMinusAmp)
	if err != nil {
		return nil, err
	}

	// A zero starting balance contributes nothing to subtract; the
	// power transform is undefined at zero.
	if a.IsZero() || w.IsZero() {
		return after, nil
	}
	before, err := weightedAmped(a, w, oneMinusAmp)
	if err != nil {
		return nil, err
	}
	u, underflow := new(uint256.Int).SubOverflow(after, before)
	if underflow {
		return nil, ErrCurveDomain
	}
	return u, nil
}

// AmpPriceCurveLimit solves the amplified curve for the output amount
// of incoming units: b·(1 - ((bwb-u)/bwb)^(1/(1-theta))) with
// bwb = (w·b·WAD)^(1-theta).
func AmpPriceCurveLimit(u, b, w, oneMinusAmp *uint256.Int) (*uint256.Int, error) {
	bwb, err := weightedAmped(b, w, oneMinusAmp)
	if err != nil {
		return nil, err
	}
	diff, underflow := new(uint256.Int).SubOverflow(bwb, u)
	if underflow {
		return nil, ErrCurveDomain
	}
	ratio, err := fixmath.DivWadUp(diff, bwb)
	if err != nil {
		return nil, err
	}
	pow, err := fixmath.PowWad(ratio, oneMinusAmpInverse(oneMinusAmp))
	if err != nil {
		return nil, err
	}
	out, underflow := new(uint256.Int).SubOverflow(fixmath.WAD, pow)
	if underflow {
		return nil, ErrCurveDomain
	}
	return fixmath.MulWadDown(b, out)
}

// AmpCombinedPriceCurves composes area and limit for a same-chain
// amplified swap.
func AmpCombinedPriceCurves(input, a, b, wA, wB, oneMinusAmp *uint256.Int) (*uint256.Int, error) {
	u, err := AmpPriceCurveArea(input, a, wA, oneMinusAmp)
	if err != nil {
		return nil, err
	}
	return AmpPriceCurveLimit(u, b, wB, oneMinusAmp)
}

// AmpPriceCurveLimitShare returns the vault tokens minted for incoming
// units against the amplified reference liquidity:
// ts·(((it+u)/it)^(1/(1-theta)) - 1), where it is
// assetCount·balance0^(1-theta) and ts the effective supply.
func AmpPriceCurveLimitShare(u, totalSupply, it, oneMinusAmpInv *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(it, u)
	if overflow {
		return nil, fixmath.ErrOverflow
	}
	ratio, err := fixmath.DivWadDown(sum, it)
	if err != nil {
		return nil, err
	}
	pow, err := fixmath.PowWad(ratio, oneMinusAmpInv)
	if err != nil {
		return nil, err
	}
	share, underflow := new(uint256.Int).SubOverflow(pow, fixmath.WAD)
	if underflow {
		return nil, ErrCurveDomain
	}
	return fixmath.MulWadDown(totalSupply, share)
}

// AmpWeightedBalance computes (w·x·WAD)^(oneMinusAmp), the amplified
// weighted-balance term the curve prices against. Callers tracking the
// invariant (deposits, withdrawals) need it directly.
func AmpWeightedBalance(x, w, oneMinusAmp *uint256.Int) (*uint256.Int, error) {
	if x.IsZero() || w.IsZero() {
		return new(uint256.Int), nil
	}
	return weightedAmped(x, w, oneMinusAmp)
}

// weightedAmped computes (w·x·WAD)^(oneMinusAmp).
func weightedAmped(x, w, oneMinusAmp *uint256.Int) (*uint256.Int, error) {
	wx, overflow := new(uint256.Int).MulOverflow(w, x)
	if overflow {
		return nil, fixmath.ErrOverflow
	}
	wx, overflow = wx.MulOverflow(wx, fixmath.WAD)
	if overflow {
		return nil, fixmath.ErrOverflow
	}
	return fixmath.PowWad(wx, oneMinusAmp)
}

func oneMinusAmpInverse(oneMinusAmp *uint256.Int) *uint256.Int {
	return new(uint256.Int).SDiv(fixmath.WADWAD, oneMinusAmp)
}

// OneMinusAmpInverse exposes WADWAD/oneMinusAmp for callers that cache
// the exponent across several curve evaluations.
func OneMinusAmpInverse(oneMinusAmp *uint256.Int) *uint256.Int {
	return oneMinusAmpInverse(oneMinusAmp)
}
