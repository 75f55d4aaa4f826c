// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/unitswap/curve"
	"github.com/luxfi/unitswap/fixmath"
	"github.com/luxfi/unitswap/payload"
)

// AmplifiedVault prices its assets on the amplified curve, which
// flattens slippage around balance parity for correlated assets. The
// vault stores oneMinusAmp = WAD - amplification and tracks in-flight
// units in a signed accumulator so the reference liquidity (balance0)
// stays consistent while swaps are pending.
type AmplifiedVault struct {
	*Vault

	oneMinusAmp *uint256.Int

	// unitTracker is a signed (two's complement) sum of units sent
	// minus units received.
	unitTracker *uint256.Int

	targetOneMinusAmp *uint256.Int
	ampUpdateFinish   uint64
	ampUpdateLast     uint64
}

// NewAmplified builds an uninitialized amplified vault.
func NewAmplified(cfg Config) (*AmplifiedVault, error) {
	core, err := newVault(cfg)
	if err != nil {
		return nil, err
	}
	return &AmplifiedVault{
		Vault:       core,
		oneMinusAmp: new(uint256.Int),
		unitTracker: new(uint256.Int),
	}, nil
}

// InitializeSwapCurves registers the asset set, weights and
// amplification. Amplification is WAD-scaled and must be below WAD;
// at WAD the curve degenerates and the volatile vault applies.
func (v *AmplifiedVault) InitializeSwapCurves(depositor common.Address, assets []common.Address, weights []*uint256.Int, amplification *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if amplification == nil || amplification.IsZero() || !amplification.Lt(fixmath.WAD) {
		return ErrInvalidAmplification
	}
	if err := v.setup(depositor, assets, weights); err != nil {
		return err
	}
	v.oneMinusAmp.Sub(fixmath.WAD, amplification)

	// The amplified limit is denominated in weighted token amounts,
	// not units: the full capacity is the weighted value of the vault.
	for _, asset := range v.assets {
		balance := v.ledger.BalanceOf(asset, v.address)
		v.maxLimitCapacity.Add(v.maxLimitCapacity, balance.Mul(balance, v.weights[asset]))
	}
	return nil
}

// Amplification returns the current WAD-scaled amplification.
func (v *AmplifiedVault) Amplification() *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(uint256.Int).Sub(fixmath.WAD, v.oneMinusAmp)
}

// TargetAmplification returns the amplification the vault is drifting
// toward. With no adjustment pending it returns the current value.
func (v *AmplifiedVault) TargetAmplification() *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ampUpdateFinish != 0 {
		return new(uint256.Int).Sub(fixmath.WAD, v.targetOneMinusAmp)
	}
	return new(uint256.Int).Sub(fixmath.WAD, v.oneMinusAmp)
}

// Balance0 returns the reference liquidity: the weighted token balance
// each asset would hold at parity, corrected for in-flight units.
func (v *AmplifiedVault) Balance0() (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.initialized {
		return nil, ErrNotInitialized
	}
	walpha, err := v.walpha0Amped()
	if err != nil {
		return nil, err
	}
	balance0, err := fixmath.PowWad(walpha, curve.OneMinusAmpInverse(v.oneMinusAmp))
	if err != nil {
		return nil, err
	}
	return balance0.Div(balance0, fixmath.WAD), nil
}

// SetAmplification schedules a gradual amplification change. Owner
// only, and only while the vault has no chain interface: a mid-flight
// amplification change would break unit parity with remote vaults.
func (v *AmplifiedVault) SetAmplification(caller common.Address, targetTime uint64, targetAmplification *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.owner {
		return ErrUnauthorized
	}
	if v.chainInterface != (common.Address{}) {
		return ErrAmpUpdateDisabled
	}
	if !v.initialized {
		return ErrNotInitialized
	}
	now := v.now()
	if targetTime < now+MinAdjustmentTime || targetTime > now+MaxAdjustmentTime {
		return ErrInvalidTargetTime
	}
	if targetAmplification == nil || targetAmplification.IsZero() || !targetAmplification.Lt(fixmath.WAD) {
		return ErrInvalidAmplification
	}

	v.updateAmplification(now)

	target := new(uint256.Int).Sub(fixmath.WAD, targetAmplification)
	ceil := new(uint256.Int).Mul(v.oneMinusAmp, MaxAmpAdjustmentFactor)
	floor := new(uint256.Int).Div(v.oneMinusAmp, MaxAmpAdjustmentFactor)
	if target.Gt(ceil) || target.Lt(floor) {
		return ErrInvalidAmplification
	}

	v.targetOneMinusAmp = target
	v.ampUpdateFinish = targetTime
	v.ampUpdateLast = now

	v.log.Info("amplification adjustment scheduled",
		"vault", v.address,
		"finish", targetTime,
	)
	return nil
}

// updateAmplification applies the pending amplification change pro
// rata to elapsed time. Callers hold the mutex.
func (v *AmplifiedVault) updateAmplification(now uint64) {
	if v.ampUpdateFinish == 0 || now == v.ampUpdateLast {
		return
	}

	if now >= v.ampUpdateFinish {
		v.oneMinusAmp.Set(v.targetOneMinusAmp)
		v.targetOneMinusAmp = nil
		v.ampUpdateFinish = 0
		v.ampUpdateLast = now
		return
	}

	elapsed := uint256.NewInt(now - v.ampUpdateLast)
	remaining := uint256.NewInt(v.ampUpdateFinish - v.ampUpdateLast)
	if v.targetOneMinusAmp.Gt(v.oneMinusAmp) {
		step := new(uint256.Int).Sub(v.targetOneMinusAmp, v.oneMinusAmp)
		step.Mul(step, elapsed)
		step.Div(step, remaining)
		v.oneMinusAmp.Add(v.oneMinusAmp, step)
	} else if v.targetOneMinusAmp.Lt(v.oneMinusAmp) {
		step := new(uint256.Int).Sub(v.oneMinusAmp, v.targetOneMinusAmp)
		step.Mul(step, elapsed)
		step.Div(step, remaining)
		v.oneMinusAmp.Sub(v.oneMinusAmp, step)
	}
	v.ampUpdateLast = now
}

// trackerAdd folds sent units into the signed tracker. Rejects units
// that do not fit the signed range.
func (v *AmplifiedVault) trackerAdd(u *uint256.Int) error {
	if u.Sign() < 0 {
		return fixmath.ErrOverflow
	}
	v.unitTracker.Add(v.unitTracker, u)
	return nil
}

func (v *AmplifiedVault) trackerSub(u *uint256.Int) {
	v.unitTracker.Sub(v.unitTracker, u)
}

// walpha0Amped computes the amped weighted reference balance: the
// per-asset average of (w·b·WAD)^(1-theta), corrected by the signed
// unit tracker so pending swaps do not distort the reference.
func (v *AmplifiedVault) walpha0Amped() (*uint256.Int, error) {
	sum := new(uint256.Int)
	for _, asset := range v.assets {
		wab, err := curve.AmpWeightedBalance(v.ledger.BalanceOf(asset, v.address), v.weights[asset], v.oneMinusAmp)
		if err != nil {
			return nil, err
		}
		if _, overflow := sum.AddOverflow(sum, wab); overflow {
			return nil, fixmath.ErrOverflow
		}
	}
	sum.Sub(sum, v.unitTracker)
	if sum.Sign() < 0 {
		return nil, fixmath.ErrUndefined
	}
	return sum.Div(sum, uint256.NewInt(uint64(len(v.assets)))), nil
}

// Deposit adds liquidity across all assets and mints vault tokens.
func (v *AmplifiedVault) Deposit(depositor common.Address, amounts []*uint256.Int, minOut *uint256.Int) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.initialized {
		return nil, ErrNotInitialized
	}
	if len(amounts) != len(v.assets) {
		return nil, ErrInvalidAssets
	}
	v.updateAmplification(v.now())

	u := new(uint256.Int)
	wabSum := new(uint256.Int)
	weightedDepositSum := new(uint256.Int)
	for i, asset := range v.assets {
		w := v.weights[asset]
		balance := v.ledger.BalanceOf(asset, v.address)

		wab, err := curve.AmpWeightedBalance(balance, w, v.oneMinusAmp)
		if err != nil {
			return nil, err
		}
		if _, overflow := wabSum.AddOverflow(wabSum, wab); overflow {
			return nil, fixmath.ErrOverflow
		}

		amount := amounts[i]
		if amount == nil || amount.IsZero() {
			continue
		}
		weightedDeposit := new(uint256.Int).Mul(w, amount)
		weightedDepositSum.Add(weightedDepositSum, weightedDeposit)

		after, err := curve.AmpWeightedBalance(new(uint256.Int).Add(balance, amount), w, v.oneMinusAmp)
		if err != nil {
			return nil, err
		}
		after.Sub(after, wab)
		if _, overflow := u.AddOverflow(u, after); overflow {
			return nil, fixmath.ErrOverflow
		}
	}

	wabSum.Sub(wabSum, v.unitTracker)
	if wabSum.Sign() < 0 {
		return nil, fixmath.ErrUndefined
	}
	n := uint256.NewInt(uint64(len(v.assets)))
	walpha0Amped := wabSum.Div(wabSum, n)

	feeKeep := new(uint256.Int).Sub(fixmath.WAD, v.vaultFee)
	u, err := fixmath.MulWadDown(u, feeKeep)
	if err != nil {
		return nil, err
	}

	it := new(uint256.Int).Mul(n, walpha0Amped)
	out, err := curve.AmpPriceCurveLimitShare(u, v.totalSupply, it, curve.OneMinusAmpInverse(v.oneMinusAmp))
	if err != nil {
		return nil, err
	}
	if minOut != nil && out.Lt(minOut) {
		return nil, ErrReturnInsufficient
	}

	for i, asset := range v.assets {
		if amounts[i] == nil || amounts[i].IsZero() {
			continue
		}
		if err := v.ledger.Transfer(asset, depositor, v.address, amounts[i]); err != nil {
			v.refundDeposits(depositor, amounts[:i])
			return nil, err
		}
	}

	// Deposits widen the security limit by their weighted value, but
	// the fresh capacity starts fully consumed so a deposit cannot be
	// used to fast-forward the decay.
	v.growLimit(weightedDepositSum)
	v.usedLimitCapacity.Add(v.usedLimitCapacity, weightedDepositSum)

	v.mintShares(depositor, out)

	v.log.Info("deposit",
		"vault", v.address,
		"depositor", depositor,
		"minted", out.Dec(),
	)
	return out, nil
}

// WithdrawAll burns vault tokens for a proportional share of every
// asset, evaluated against the amplified reference liquidity.
func (v *AmplifiedVault) WithdrawAll(withdrawer common.Address, vaultTokens *uint256.Int, minOut []*uint256.Int) ([]*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.initialized {
		return nil, ErrNotInitialized
	}
	if minOut != nil && len(minOut) != len(v.assets) {
		return nil, ErrInvalidParams
	}
	v.updateAmplification(v.now())

	if err := v.requireShares(withdrawer, vaultTokens); err != nil {
		return nil, err
	}

	walpha0Amped, err := v.walpha0Amped()
	if err != nil {
		return nil, err
	}

	// effectiveSupply includes escrowed vault tokens; the shares burn
	// later, once every payout has cleared its floor.
	effectiveSupply := new(uint256.Int).Add(v.totalSupply, v.escrowedVaultTokens)
	postBurn := new(uint256.Int).Sub(effectiveSupply, vaultTokens)
	share, err := fixmath.DivWadDown(postBurn, effectiveSupply)
	if err != nil {
		return nil, err
	}
	sharePow, err := fixmath.PowWad(share, v.oneMinusAmp)
	if err != nil {
		return nil, err
	}
	innerDiff, err := fixmath.MulWadDown(walpha0Amped, new(uint256.Int).Sub(fixmath.WAD, sharePow))
	if err != nil {
		return nil, err
	}

	inverse := curve.OneMinusAmpInverse(v.oneMinusAmp)
	amounts := make([]*uint256.Int, len(v.assets))
	weightedWithdrawSum := new(uint256.Int)
	for i, asset := range v.assets {
		w := v.weights[asset]
		effectiveBalance := v.effectiveAssetBalance(asset)
		effectiveWeighted := new(uint256.Int).Mul(w, effectiveBalance)
		effectiveAmped, err := curve.AmpWeightedBalance(effectiveBalance, w, v.oneMinusAmp)
		if err != nil {
			return nil, err
		}

		var weightedAmount *uint256.Int
		if innerDiff.Lt(effectiveAmped) {
			ratio, err := fixmath.DivWadUp(new(uint256.Int).Sub(effectiveAmped, innerDiff), effectiveAmped)
			if err != nil {
				return nil, err
			}
			pow, err := fixmath.PowWad(ratio, inverse)
			if err != nil {
				return nil, err
			}
			weightedAmount, err = fixmath.MulWadDown(effectiveWeighted, new(uint256.Int).Sub(fixmath.WAD, pow))
			if err != nil {
				return nil, err
			}
		} else {
			// The withdrawal claims more than the asset's whole slice
			// of the reference liquidity: pay out everything available.
			weightedAmount = new(uint256.Int).Set(effectiveWeighted)
		}
		weightedWithdrawSum.Add(weightedWithdrawSum, weightedAmount)

		amount := new(uint256.Int).Div(weightedAmount, w)
		if minOut != nil && minOut[i] != nil && amount.Lt(minOut[i]) {
			return nil, ErrReturnInsufficient
		}
		amounts[i] = amount
	}

	if err := v.burnShares(withdrawer, vaultTokens); err != nil {
		return nil, err
	}
	v.shrinkLimit(weightedWithdrawSum)
	v.releaseLimit(weightedWithdrawSum)

	for i, asset := range v.assets {
		if err := v.ledger.Transfer(asset, v.address, withdrawer, amounts[i]); err != nil {
			return nil, err
		}
	}

	v.log.Info("withdraw all",
		"vault", v.address,
		"withdrawer", withdrawer,
		"burned", vaultTokens.Dec(),
	)
	return amounts, nil
}

// WithdrawMixed burns vault tokens for a custom split across assets.
func (v *AmplifiedVault) WithdrawMixed(withdrawer common.Address, vaultTokens *uint256.Int, withdrawRatio, minOut []*uint256.Int) ([]*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.initialized {
		return nil, ErrNotInitialized
	}
	if len(withdrawRatio) != len(v.assets) || (minOut != nil && len(minOut) != len(v.assets)) {
		return nil, ErrInvalidParams
	}
	v.updateAmplification(v.now())

	if err := v.requireShares(withdrawer, vaultTokens); err != nil {
		return nil, err
	}

	walpha0Amped, err := v.walpha0Amped()
	if err != nil {
		return nil, err
	}

	effectiveSupply := new(uint256.Int).Add(v.totalSupply, v.escrowedVaultTokens)
	postBurn := new(uint256.Int).Sub(effectiveSupply, vaultTokens)
	share, err := fixmath.DivWadDown(postBurn, effectiveSupply)
	if err != nil {
		return nil, err
	}
	sharePow, err := fixmath.PowWad(share, v.oneMinusAmp)
	if err != nil {
		return nil, err
	}
	n := uint256.NewInt(uint64(len(v.assets)))
	u, err := fixmath.MulWadDown(walpha0Amped, new(uint256.Int).Sub(fixmath.WAD, sharePow))
	if err != nil {
		return nil, err
	}
	u.Mul(u, n)

	amounts := make([]*uint256.Int, len(v.assets))
	weightedWithdrawSum := new(uint256.Int)
	for i, asset := range v.assets {
		uForAsset, err := fixmath.MulWadDown(u, withdrawRatio[i])
		if err != nil {
			return nil, err
		}
		if uForAsset.IsZero() {
			if !withdrawRatio[i].IsZero() {
				return nil, ErrWithdrawRatioNotZero
			}
			if minOut != nil && minOut[i] != nil && !minOut[i].IsZero() {
				return nil, ErrReturnInsufficient
			}
			amounts[i] = new(uint256.Int)
			continue
		}
		if _, underflow := u.SubOverflow(u, uForAsset); underflow {
			return nil, ErrInvalidParams
		}

		amount, err := curve.AmpPriceCurveLimit(uForAsset, v.effectiveAssetBalance(asset), v.weights[asset], v.oneMinusAmp)
		if err != nil {
			return nil, err
		}
		if minOut != nil && minOut[i] != nil && amount.Lt(minOut[i]) {
			return nil, ErrReturnInsufficient
		}
		amounts[i] = amount
		weightedWithdrawSum.Add(weightedWithdrawSum, new(uint256.Int).Mul(amount, v.weights[asset]))
	}
	if !u.IsZero() {
		return nil, ErrUnusedUnits
	}

	if err := v.burnShares(withdrawer, vaultTokens); err != nil {
		return nil, err
	}
	v.shrinkLimit(weightedWithdrawSum)
	v.releaseLimit(weightedWithdrawSum)

	for i, asset := range v.assets {
		if err := v.ledger.Transfer(asset, v.address, withdrawer, amounts[i]); err != nil {
			return nil, err
		}
	}
	return amounts, nil
}

// smallSwapBiased reduces the computed value by SmallSwapReturn when
// the swap is tiny relative to the source balance. The amplified
// approximations slightly overpay on very small swaps; without the
// bias that overpayment is farmable.
func smallSwapBiased(value, fromBalance, amount *uint256.Int) (*uint256.Int, error) {
	threshold := new(uint256.Int).Div(fromBalance, SmallSwapRatio)
	if threshold.Lt(amount) {
		return value, nil
	}
	return fixmath.MulWadDown(value, SmallSwapReturn)
}

// LocalSwap swaps between two assets of the vault on one chain.
func (v *AmplifiedVault) LocalSwap(swapper common.Address, fromAsset, toAsset common.Address, amount, minOut *uint256.Int) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.initialized {
		return nil, ErrNotInitialized
	}
	wFrom, okFrom := v.weights[fromAsset]
	wTo, okTo := v.weights[toAsset]
	if !okFrom || !okTo {
		return nil, ErrAssetNotFound
	}
	v.updateAmplification(v.now())

	fee, err := fixmath.MulWadDown(amount, v.vaultFee)
	if err != nil {
		return nil, err
	}
	netAmount := new(uint256.Int).Sub(amount, fee)

	fromBalance := v.ledger.BalanceOf(fromAsset, v.address)
	out, err := curve.AmpCombinedPriceCurves(netAmount, fromBalance, v.effectiveAssetBalance(toAsset), wFrom, wTo, v.oneMinusAmp)
	if err != nil {
		return nil, err
	}
	out, err = smallSwapBiased(out, fromBalance, netAmount)
	if err != nil {
		return nil, err
	}
	if minOut != nil && out.Lt(minOut) {
		return nil, ErrReturnInsufficient
	}

	if err := v.ledger.Transfer(fromAsset, swapper, v.address, amount); err != nil {
		return nil, err
	}
	if err := v.ledger.Transfer(toAsset, v.address, swapper, out); err != nil {
		return nil, err
	}
	if err := v.collectGovernanceFee(fromAsset, fee); err != nil {
		return nil, err
	}

	// Rebalance the security limit to the new weighted vault value.
	v.growLimit(new(uint256.Int).Mul(amount, wFrom))
	v.shrinkLimit(new(uint256.Int).Mul(out, wTo))

	v.log.Info("local swap",
		"vault", v.address,
		"in", amount.Dec(),
		"out", out.Dec(),
	)
	return out, nil
}

// SendAsset starts a cross-chain asset swap on the amplified curve.
// The dispatcher runs outside the vault mutex; a dispatch failure
// unwinds the escrow, the unit tracker and the input.
func (v *AmplifiedVault) SendAsset(swapper common.Address, channelID string, toVault, toAccount payload.EncodedAddress, fromAsset common.Address, toAssetIndex uint8, amount, minOut *uint256.Int, fallback common.Address, underwriteIncentiveX16 uint16, calldata []byte) (*uint256.Int, error) {
	params, fee, err := v.prepareSendAsset(swapper, channelID, toVault, toAccount, fromAsset, toAssetIndex, amount, minOut, fallback, underwriteIncentiveX16, calldata)
	if err != nil {
		return nil, err
	}

	if err := v.dispatcher.SendCrossChainAsset(v.address, params); err != nil {
		v.revertSendAsset(swapper, amount, params)
		return nil, err
	}

	v.finishSendAsset(fee, params)
	return params.Units, nil
}

func (v *AmplifiedVault) prepareSendAsset(swapper common.Address, channelID string, toVault, toAccount payload.EncodedAddress, fromAsset common.Address, toAssetIndex uint8, amount, minOut *uint256.Int, fallback common.Address, underwriteIncentiveX16 uint16, calldata []byte) (SendAssetParams, *uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.initialized {
		return SendAssetParams{}, nil, ErrNotInitialized
	}
	if err := v.requireDispatcher(); err != nil {
		return SendAssetParams{}, nil, err
	}
	if err := v.requireConnection(channelID, toVault); err != nil {
		return SendAssetParams{}, nil, err
	}
	w, ok := v.weights[fromAsset]
	if !ok {
		return SendAssetParams{}, nil, ErrAssetNotFound
	}
	v.updateAmplification(v.now())

	fee, err := fixmath.MulWadDown(amount, v.vaultFee)
	if err != nil {
		return SendAssetParams{}, nil, err
	}
	netAmount := new(uint256.Int).Sub(amount, fee)

	fromBalance := v.ledger.BalanceOf(fromAsset, v.address)
	u, err := curve.AmpPriceCurveArea(netAmount, fromBalance, w, v.oneMinusAmp)
	if err != nil {
		return SendAssetParams{}, nil, err
	}
	u, err = smallSwapBiased(u, fromBalance, netAmount)
	if err != nil {
		return SendAssetParams{}, nil, err
	}

	if err := v.ledger.Transfer(fromAsset, swapper, v.address, amount); err != nil {
		return SendAssetParams{}, nil, err
	}
	if err := v.trackerAdd(u); err != nil {
		if rerr := v.ledger.Transfer(fromAsset, v.address, swapper, amount); rerr != nil {
			v.log.Error("send asset refund failed", "vault", v.address, "err", rerr)
		}
		return SendAssetParams{}, nil, err
	}

	blockNumberMod := uint32(v.height())
	escrowID := SendAssetHash(toAccount, u, netAmount, fromAsset, blockNumberMod)
	if err := v.createAssetEscrow(escrowID, fallback, fromAsset, netAmount, blockNumberMod); err != nil {
		v.trackerSub(u)
		if rerr := v.ledger.Transfer(fromAsset, v.address, swapper, amount); rerr != nil {
			v.log.Error("send asset refund failed", "vault", v.address, "err", rerr)
		}
		return SendAssetParams{}, nil, err
	}

	return SendAssetParams{
		ChannelID:              channelID,
		ToVault:                toVault,
		ToAccount:              toAccount,
		ToAssetIndex:           toAssetIndex,
		Units:                  u,
		MinOut:                 minOut,
		FromAmount:             netAmount,
		FromAsset:              fromAsset,
		BlockNumberMod:         blockNumberMod,
		UnderwriteIncentiveX16: underwriteIncentiveX16,
		Calldata:               calldata,
	}, fee, nil
}

// revertSendAsset unwinds a send whose dispatch failed: the escrow is
// released, the unit tracker rolled back and the full input returned.
func (v *AmplifiedVault) revertSendAsset(swapper common.Address, amount *uint256.Int, params SendAssetParams) {
	v.mu.Lock()
	defer v.mu.Unlock()

	id := SendAssetHash(params.ToAccount, params.Units, params.FromAmount, params.FromAsset, params.BlockNumberMod)
	if _, err := v.releaseAssetEscrow(id, params.FromAsset, params.FromAmount); err != nil {
		v.log.Error("send asset revert failed", "vault", v.address, "err", err)
		return
	}
	v.trackerSub(params.Units)
	if err := v.ledger.Transfer(params.FromAsset, v.address, swapper, amount); err != nil {
		v.log.Error("send asset refund failed", "vault", v.address, "err", err)
	}
}

func (v *AmplifiedVault) finishSendAsset(fee *uint256.Int, params SendAssetParams) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.collectGovernanceFee(params.FromAsset, fee); err != nil {
		v.log.Warn("governance fee collection failed", "vault", v.address, "err", err)
	}
	v.log.Info("send asset",
		"vault", v.address,
		"channel", params.ChannelID,
		"units", params.Units.Dec(),
	)
}

// ReceiveAsset completes an inbound cross-chain asset swap. The
// security limit is charged in weighted token terms.
func (v *AmplifiedVault) ReceiveAsset(caller common.Address, channelID string, fromVault payload.EncodedAddress, toAssetIndex uint8, toAccount common.Address, u, minOut *uint256.Int) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireChainInterface(caller); err != nil {
		return nil, err
	}
	if err := v.requireConnection(channelID, fromVault); err != nil {
		return nil, err
	}
	asset, err := v.assetIndex(toAssetIndex)
	if err != nil {
		return nil, err
	}
	v.updateAmplification(v.now())

	out, err := curve.AmpPriceCurveLimit(u, v.effectiveAssetBalance(asset), v.weights[asset], v.oneMinusAmp)
	if err != nil {
		return nil, err
	}
	if minOut != nil && out.Lt(minOut) {
		return nil, ErrReturnInsufficient
	}

	delta := new(uint256.Int).Mul(out, v.weights[asset])
	if err := v.consumeLimit(delta); err != nil {
		return nil, err
	}
	if v.maxLimitCapacity.Lt(delta) {
		return nil, ErrSecurityLimitExceeded
	}
	v.maxLimitCapacity.Sub(v.maxLimitCapacity, delta)
	v.trackerSub(u)

	if err := v.ledger.Transfer(asset, v.address, toAccount, out); err != nil {
		return nil, err
	}

	v.log.Info("receive asset",
		"vault", v.address,
		"channel", channelID,
		"out", out.Dec(),
	)
	return out, nil
}

// SendLiquidity burns vault tokens into units against the amplified
// reference liquidity and sends them to a remote vault. The dispatch
// runs outside the vault mutex; a dispatch failure re-mints the burned
// tokens and rolls back the unit tracker.
func (v *AmplifiedVault) SendLiquidity(swapper common.Address, channelID string, toVault, toAccount payload.EncodedAddress, vaultTokens, minVaultTokens, minReferenceAsset *uint256.Int, fallback common.Address, calldata []byte) (*uint256.Int, error) {
	params, err := v.prepareSendLiquidity(swapper, channelID, toVault, toAccount, vaultTokens, minVaultTokens, minReferenceAsset, fallback, calldata)
	if err != nil {
		return nil, err
	}

	if err := v.dispatcher.SendCrossChainLiquidity(v.address, params); err != nil {
		v.revertSendLiquidity(swapper, params)
		return nil, err
	}

	v.log.Info("send liquidity",
		"vault", v.address,
		"channel", channelID,
		"units", params.Units.Dec(),
	)
	return params.Units, nil
}

func (v *AmplifiedVault) prepareSendLiquidity(swapper common.Address, channelID string, toVault, toAccount payload.EncodedAddress, vaultTokens, minVaultTokens, minReferenceAsset *uint256.Int, fallback common.Address, calldata []byte) (SendLiquidityParams, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.initialized {
		return SendLiquidityParams{}, ErrNotInitialized
	}
	if err := v.requireDispatcher(); err != nil {
		return SendLiquidityParams{}, err
	}
	if err := v.requireConnection(channelID, toVault); err != nil {
		return SendLiquidityParams{}, err
	}
	v.updateAmplification(v.now())

	if err := v.requireShares(swapper, vaultTokens); err != nil {
		return SendLiquidityParams{}, err
	}

	walpha0Amped, err := v.walpha0Amped()
	if err != nil {
		return SendLiquidityParams{}, err
	}

	// Pre-burn supply including escrowed vault tokens.
	effectiveSupply := new(uint256.Int).Add(v.totalSupply, v.escrowedVaultTokens)
	postBurn := new(uint256.Int).Sub(effectiveSupply, vaultTokens)
	share, err := fixmath.DivWadDown(effectiveSupply, postBurn)
	if err != nil {
		return SendLiquidityParams{}, err
	}
	sharePow, err := fixmath.PowWad(share, v.oneMinusAmp)
	if err != nil {
		return SendLiquidityParams{}, err
	}
	u, err := fixmath.MulWadDown(walpha0Amped, new(uint256.Int).Sub(sharePow, fixmath.WAD))
	if err != nil {
		return SendLiquidityParams{}, err
	}
	u.Mul(u, uint256.NewInt(uint64(len(v.assets))))

	blockNumberMod := uint32(v.height())
	escrowID := SendLiquidityHash(toAccount, u, vaultTokens, blockNumberMod)
	if err := v.burnShares(swapper, vaultTokens); err != nil {
		return SendLiquidityParams{}, err
	}
	if err := v.trackerAdd(u); err != nil {
		v.mintShares(swapper, vaultTokens)
		return SendLiquidityParams{}, err
	}
	if err := v.createLiquidityEscrow(escrowID, fallback, vaultTokens, blockNumberMod); err != nil {
		v.trackerSub(u)
		v.mintShares(swapper, vaultTokens)
		return SendLiquidityParams{}, err
	}

	return SendLiquidityParams{
		ChannelID:         channelID,
		ToVault:           toVault,
		ToAccount:         toAccount,
		Units:             u,
		MinVaultTokens:    minVaultTokens,
		MinReferenceAsset: minReferenceAsset,
		FromAmount:        vaultTokens,
		BlockNumberMod:    blockNumberMod,
		Calldata:          calldata,
	}, nil
}

// revertSendLiquidity unwinds a liquidity send whose dispatch failed.
func (v *AmplifiedVault) revertSendLiquidity(swapper common.Address, params SendLiquidityParams) {
	v.mu.Lock()
	defer v.mu.Unlock()

	id := SendLiquidityHash(params.ToAccount, params.Units, params.FromAmount, params.BlockNumberMod)
	if _, err := v.releaseLiquidityEscrow(id, params.FromAmount); err != nil {
		v.log.Error("send liquidity revert failed", "vault", v.address, "err", err)
		return
	}
	v.trackerSub(params.Units)
	v.mintShares(swapper, params.FromAmount)
}

// ReceiveLiquidity mints vault tokens for inbound units.
func (v *AmplifiedVault) ReceiveLiquidity(caller common.Address, channelID string, fromVault payload.EncodedAddress, toAccount common.Address, u, minVaultTokens, minReferenceAsset *uint256.Int) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireChainInterface(caller); err != nil {
		return nil, err
	}
	if err := v.requireConnection(channelID, fromVault); err != nil {
		return nil, err
	}
	v.updateAmplification(v.now())

	walpha0Amped, err := v.walpha0Amped()
	if err != nil {
		return nil, err
	}
	n := uint256.NewInt(uint64(len(v.assets)))
	it := new(uint256.Int).Mul(n, walpha0Amped)
	inverse := curve.OneMinusAmpInverse(v.oneMinusAmp)

	out, err := curve.AmpPriceCurveLimitShare(u, v.totalSupply, it, inverse)
	if err != nil {
		return nil, err
	}
	if minVaultTokens != nil && out.Lt(minVaultTokens) {
		return nil, ErrReturnInsufficient
	}
	if minReferenceAsset != nil && !minReferenceAsset.IsZero() {
		balance0, err := fixmath.PowWad(walpha0Amped, inverse)
		if err != nil {
			return nil, err
		}
		supply := new(uint256.Int).Add(v.totalSupply, v.escrowedVaultTokens)
		supply.Add(supply, out)
		userReference, err := fixmath.MulDivDown(balance0, out, supply)
		if err != nil {
			return nil, err
		}
		userReference.Div(userReference, fixmath.WAD)
		if userReference.Lt(minReferenceAsset) {
			return nil, ErrReturnInsufficient
		}
	}

	// Charge the security limit with twice the weighted token value the
	// units extract from one asset's slice of the reference liquidity.
	if !it.Gt(u) {
		return nil, ErrSecurityLimitExceeded
	}
	remainRatio, err := fixmath.DivWadDown(new(uint256.Int).Sub(it, u), it)
	if err != nil {
		return nil, err
	}
	remainPow, err := fixmath.PowWad(remainRatio, inverse)
	if err != nil {
		return nil, err
	}
	balance0Pow, err := fixmath.PowWad(walpha0Amped, inverse)
	if err != nil {
		return nil, err
	}
	valueTokenEquiv, err := fixmath.MulWadUp(balance0Pow, new(uint256.Int).Sub(fixmath.WAD, remainPow))
	if err != nil {
		return nil, err
	}
	valueTokenEquiv.Div(valueTokenEquiv, fixmath.WAD)
	charge, overflow := new(uint256.Int).AddOverflow(valueTokenEquiv, valueTokenEquiv)
	if overflow {
		return nil, fixmath.ErrOverflow
	}
	if err := v.consumeLimit(charge); err != nil {
		return nil, err
	}
	v.trackerSub(u)

	v.mintShares(toAccount, out)

	v.log.Info("receive liquidity",
		"vault", v.address,
		"channel", channelID,
		"minted", out.Dec(),
	)
	return out, nil
}

// OnSendAssetSuccess settles a confirmed outbound asset swap: the
// escrow is dropped, the security limit is widened by the weighted
// escrow value the remote chain now backs, and the used capacity the
// swap consumed is released. Chain interface only.
func (v *AmplifiedVault) OnSendAssetSuccess(caller common.Address, toAccount payload.EncodedAddress, u, escrowAmount *uint256.Int, asset common.Address, blockNumberMod uint32) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireChainInterface(caller); err != nil {
		return err
	}
	id := SendAssetHash(toAccount, u, escrowAmount, asset, blockNumberMod)
	if _, err := v.releaseAssetEscrow(id, asset, escrowAmount); err != nil {
		return err
	}
	v.releaseLimit(u)
	v.growLimit(new(uint256.Int).Mul(escrowAmount, v.weights[asset]))
	return nil
}

// OnSendAssetFailure refunds a failed outbound asset swap and unwinds
// the unit tracker.
func (v *AmplifiedVault) OnSendAssetFailure(caller common.Address, toAccount payload.EncodedAddress, u, escrowAmount *uint256.Int, asset common.Address, blockNumberMod uint32) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireChainInterface(caller); err != nil {
		return err
	}
	id := SendAssetHash(toAccount, u, escrowAmount, asset, blockNumberMod)
	fallback, err := v.releaseAssetEscrow(id, asset, escrowAmount)
	if err != nil {
		return err
	}
	v.trackerSub(u)
	return v.ledger.Transfer(asset, v.address, fallback, escrowAmount)
}

// OnSendLiquiditySuccess settles a confirmed outbound liquidity swap.
func (v *AmplifiedVault) OnSendLiquiditySuccess(caller common.Address, toAccount payload.EncodedAddress, u, escrowAmount *uint256.Int, blockNumberMod uint32) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireChainInterface(caller); err != nil {
		return err
	}
	id := SendLiquidityHash(toAccount, u, escrowAmount, blockNumberMod)
	_, err := v.releaseLiquidityEscrow(id, escrowAmount)
	return err
}

// OnSendLiquidityFailure re-mints the burned vault tokens to the
// escrow fallback and unwinds the unit tracker.
func (v *AmplifiedVault) OnSendLiquidityFailure(caller common.Address, toAccount payload.EncodedAddress, u, escrowAmount *uint256.Int, blockNumberMod uint32) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireChainInterface(caller); err != nil {
		return err
	}
	id := SendLiquidityHash(toAccount, u, escrowAmount, blockNumberMod)
	fallback, err := v.releaseLiquidityEscrow(id, escrowAmount)
	if err != nil {
		return err
	}
	v.trackerSub(u)
	v.mintShares(fallback, escrowAmount)
	return nil
}
