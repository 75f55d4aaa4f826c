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

// VolatileVault prices its assets on the weighted constant-product
// curve. Weights can be adjusted gradually over a bounded window; the
// adjustment is applied lazily on the first operation after time has
// passed.
type VolatileVault struct {
	*Vault

	targetWeights      map[common.Address]*uint256.Int
	weightUpdateFinish uint64
	weightUpdateLast   uint64
}

// NewVolatile builds an uninitialized volatile vault. Swaps are
// rejected until InitializeSwapCurves has run.
func NewVolatile(cfg Config) (*VolatileVault, error) {
	core, err := newVault(cfg)
	if err != nil {
		return nil, err
	}
	return &VolatileVault{
		Vault:         core,
		targetWeights: make(map[common.Address]*uint256.Int),
	}, nil
}

// InitializeSwapCurves registers the asset set and weights. The vault
// must already hold a starting balance of every asset; the depositor
// receives the initial vault token supply in exchange.
func (v *VolatileVault) InitializeSwapCurves(depositor common.Address, assets []common.Address, weights []*uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.setup(depositor, assets, weights); err != nil {
		return err
	}
	v.recomputeMaxLimit()
	return nil
}

func (v *VolatileVault) weightSum() *uint256.Int {
	sum := new(uint256.Int)
	for _, asset := range v.assets {
		sum.Add(sum, v.weights[asset])
	}
	return sum
}

// recomputeMaxLimit sets the full security limit to ln(2)·Σw: the
// units needed to buy half of every asset in the vault.
func (v *VolatileVault) recomputeMaxLimit() {
	v.maxLimitCapacity.Mul(fixmath.LN2, v.weightSum())
}

// TargetWeight returns the weight an asset is drifting toward. With
// no adjustment pending it returns the current weight.
func (v *VolatileVault) TargetWeight(asset common.Address) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if target, ok := v.targetWeights[asset]; ok && v.weightUpdateFinish != 0 {
		return new(uint256.Int).Set(target), nil
	}
	w, ok := v.weights[asset]
	if !ok {
		return nil, ErrAssetNotFound
	}
	return new(uint256.Int).Set(w), nil
}

// SetWeights schedules a gradual weight change finishing at
// targetTime. Owner only. Each target must be non-zero and within a
// factor of MaxWeightAdjustmentFactor of the current weight.
func (v *VolatileVault) SetWeights(caller common.Address, targetTime uint64, targets []*uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.owner {
		return ErrUnauthorized
	}
	if !v.initialized {
		return ErrNotInitialized
	}
	now := v.now()
	if targetTime < now+MinAdjustmentTime || targetTime > now+MaxAdjustmentTime {
		return ErrInvalidTargetTime
	}
	if len(targets) != len(v.assets) {
		return ErrInvalidWeight
	}

	v.updateWeights(now)

	for i, asset := range v.assets {
		target := targets[i]
		if target == nil || target.IsZero() {
			return ErrInvalidWeight
		}
		current := v.weights[asset]
		ceil := new(uint256.Int).Mul(current, MaxWeightAdjustmentFactor)
		floor := new(uint256.Int).Div(current, MaxWeightAdjustmentFactor)
		if target.Gt(ceil) || target.Lt(floor) {
			return ErrInvalidWeight
		}
		v.targetWeights[asset] = new(uint256.Int).Set(target)
	}
	v.weightUpdateFinish = targetTime
	v.weightUpdateLast = now

	v.log.Info("weight adjustment scheduled",
		"vault", v.address,
		"finish", targetTime,
	)
	return nil
}

// updateWeights applies the pending weight adjustment pro rata to the
// time elapsed since the last application. Callers hold the mutex.
func (v *VolatileVault) updateWeights(now uint64) {
	if v.weightUpdateFinish == 0 || now == v.weightUpdateLast {
		return
	}

	if now >= v.weightUpdateFinish {
		for asset, target := range v.targetWeights {
			v.weights[asset].Set(target)
		}
		v.targetWeights = make(map[common.Address]*uint256.Int)
		v.weightUpdateFinish = 0
		v.weightUpdateLast = now
		v.recomputeMaxLimit()
		return
	}

	elapsed := uint256.NewInt(now - v.weightUpdateLast)
	remaining := uint256.NewInt(v.weightUpdateFinish - v.weightUpdateLast)
	for asset, target := range v.targetWeights {
		current := v.weights[asset]
		if target.Gt(current) {
			step := new(uint256.Int).Sub(target, current)
			step.Mul(step, elapsed)
			step.Div(step, remaining)
			current.Add(current, step)
		} else if target.Lt(current) {
			step := new(uint256.Int).Sub(current, target)
			step.Mul(step, elapsed)
			step.Div(step, remaining)
			current.Sub(current, step)
		}
	}
	v.weightUpdateLast = now
	v.recomputeMaxLimit()
}

// Deposit adds liquidity across all assets and mints vault tokens in
// return. Zero amounts skip the corresponding asset.
func (v *VolatileVault) Deposit(depositor common.Address, amounts []*uint256.Int, minOut *uint256.Int) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.initialized {
		return nil, ErrNotInitialized
	}
	if len(amounts) != len(v.assets) {
		return nil, ErrInvalidAssets
	}
	v.updateWeights(v.now())

	u := new(uint256.Int)
	for i, asset := range v.assets {
		amount := amounts[i]
		if amount == nil || amount.IsZero() {
			continue
		}
		balance := v.ledger.BalanceOf(asset, v.address)
		du, err := curve.PriceCurveArea(amount, balance, v.weights[asset])
		if err != nil {
			return nil, err
		}
		var overflow bool
		if _, overflow = u.AddOverflow(u, du); overflow {
			return nil, fixmath.ErrOverflow
		}
	}

	// The vault fee applies to deposits as to swaps: depositing and
	// withdrawing must not be a free round trip around a swap.
	feeKeep := new(uint256.Int).Sub(fixmath.WAD, v.vaultFee)
	u, err := fixmath.MulWadDown(u, feeKeep)
	if err != nil {
		return nil, err
	}

	share, err := curve.PriceCurveLimitShare(u, v.weightSum())
	if err != nil {
		return nil, err
	}
	out, err := fixmath.MulWadDown(v.totalSupply, share)
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
	v.mintShares(depositor, out)

	v.log.Info("deposit",
		"vault", v.address,
		"depositor", depositor,
		"minted", out.Dec(),
	)
	return out, nil
}

// WithdrawAll burns vault tokens for an even share of every asset.
func (v *VolatileVault) WithdrawAll(withdrawer common.Address, vaultTokens *uint256.Int, minOut []*uint256.Int) ([]*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.initialized {
		return nil, ErrNotInitialized
	}
	if minOut != nil && len(minOut) != len(v.assets) {
		return nil, ErrInvalidParams
	}
	v.updateWeights(v.now())

	// Escrowed vault tokens still own their share of the vault, so the
	// withdrawal dilutes against them too.
	effectiveSupply := new(uint256.Int).Add(v.totalSupply, v.escrowedVaultTokens)
	if err := v.requireShares(withdrawer, vaultTokens); err != nil {
		return nil, err
	}

	amounts := make([]*uint256.Int, len(v.assets))
	for i, asset := range v.assets {
		balance := v.effectiveAssetBalance(asset)
		amount, err := fixmath.MulDivDown(balance, vaultTokens, effectiveSupply)
		if err != nil {
			return nil, err
		}
		if minOut != nil && minOut[i] != nil && amount.Lt(minOut[i]) {
			return nil, ErrReturnInsufficient
		}
		amounts[i] = amount
	}

	// Shares burn only once every payout has cleared its floor, so a
	// failed withdrawal leaves the withdrawer whole.
	if err := v.burnShares(withdrawer, vaultTokens); err != nil {
		return nil, err
	}
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
// withdrawRatio[i] is the WAD fraction of the remaining units spent on
// asset i; the final ratio must exhaust the units exactly.
func (v *VolatileVault) WithdrawMixed(withdrawer common.Address, vaultTokens *uint256.Int, withdrawRatio, minOut []*uint256.Int) ([]*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.initialized {
		return nil, ErrNotInitialized
	}
	if len(withdrawRatio) != len(v.assets) || (minOut != nil && len(minOut) != len(v.assets)) {
		return nil, ErrInvalidParams
	}
	v.updateWeights(v.now())

	effectiveSupply := new(uint256.Int).Add(v.totalSupply, v.escrowedVaultTokens)
	if err := v.requireShares(withdrawer, vaultTokens); err != nil {
		return nil, err
	}

	postBurn := new(uint256.Int).Sub(effectiveSupply, vaultTokens)
	ratio, err := fixmath.DivWadDown(effectiveSupply, postBurn)
	if err != nil {
		return nil, err
	}
	ln, err := fixmath.LnWad(ratio)
	if err != nil {
		return nil, err
	}
	u, overflow := new(uint256.Int).MulOverflow(v.weightSum(), ln)
	if overflow {
		return nil, fixmath.ErrOverflow
	}

	amounts := make([]*uint256.Int, len(v.assets))
	for i, asset := range v.assets {
		uForAsset, err := fixmath.MulWadDown(u, withdrawRatio[i])
		if err != nil {
			return nil, err
		}
		if uForAsset.IsZero() {
			// A zero slice of a non-zero ratio means the ratios are
			// ordered wrong or overlap.
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

		amount, err := curve.PriceCurveLimit(uForAsset, v.effectiveAssetBalance(asset), v.weights[asset])
		if err != nil {
			return nil, err
		}
		if minOut != nil && minOut[i] != nil && amount.Lt(minOut[i]) {
			return nil, ErrReturnInsufficient
		}
		amounts[i] = amount
	}
	if !u.IsZero() {
		return nil, ErrUnusedUnits
	}

	if err := v.burnShares(withdrawer, vaultTokens); err != nil {
		return nil, err
	}
	for i, asset := range v.assets {
		if err := v.ledger.Transfer(asset, v.address, withdrawer, amounts[i]); err != nil {
			return nil, err
		}
	}
	return amounts, nil
}

// LocalSwap swaps between two assets of the vault on one chain.
func (v *VolatileVault) LocalSwap(swapper common.Address, fromAsset, toAsset common.Address, amount, minOut *uint256.Int) (*uint256.Int, error) {
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
	v.updateWeights(v.now())

	fee, err := fixmath.MulWadDown(amount, v.vaultFee)
	if err != nil {
		return nil, err
	}
	netAmount := new(uint256.Int).Sub(amount, fee)

	fromBalance := v.ledger.BalanceOf(fromAsset, v.address)
	toBalance := v.effectiveAssetBalance(toAsset)

	var out *uint256.Int
	if wFrom.Eq(wTo) {
		// Equal weights reduce the curve to b·x/(a+x); the closed form
		// avoids the ln/exp round trip and its truncation.
		denom, overflow := new(uint256.Int).AddOverflow(fromBalance, netAmount)
		if overflow {
			return nil, fixmath.ErrOverflow
		}
		out, err = fixmath.MulDivDown(toBalance, netAmount, denom)
	} else {
		out, err = curve.CombinedPriceCurves(netAmount, fromBalance, toBalance, wFrom, wTo)
	}
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

	v.log.Info("local swap",
		"vault", v.address,
		"in", amount.Dec(),
		"out", out.Dec(),
	)
	return out, nil
}

// SendAsset starts a cross-chain asset swap: the input is priced into
// units, the net input is escrowed and the swap is handed to the
// dispatcher. Returns the units sent.
//
// The dispatcher runs outside the vault mutex: the transport may
// deliver and acknowledge synchronously, re-entering the vault through
// the chain interface. A dispatch failure means no packet left the
// chain, so the escrow and the input are unwound.
func (v *VolatileVault) SendAsset(swapper common.Address, channelID string, toVault, toAccount payload.EncodedAddress, fromAsset common.Address, toAssetIndex uint8, amount, minOut *uint256.Int, fallback common.Address, underwriteIncentiveX16 uint16, calldata []byte) (*uint256.Int, error) {
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

func (v *VolatileVault) prepareSendAsset(swapper common.Address, channelID string, toVault, toAccount payload.EncodedAddress, fromAsset common.Address, toAssetIndex uint8, amount, minOut *uint256.Int, fallback common.Address, underwriteIncentiveX16 uint16, calldata []byte) (SendAssetParams, *uint256.Int, error) {
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
	v.updateWeights(v.now())

	fee, err := fixmath.MulWadDown(amount, v.vaultFee)
	if err != nil {
		return SendAssetParams{}, nil, err
	}
	netAmount := new(uint256.Int).Sub(amount, fee)

	u, err := curve.PriceCurveArea(netAmount, v.ledger.BalanceOf(fromAsset, v.address), w)
	if err != nil {
		return SendAssetParams{}, nil, err
	}

	if err := v.ledger.Transfer(fromAsset, swapper, v.address, amount); err != nil {
		return SendAssetParams{}, nil, err
	}

	blockNumberMod := uint32(v.height())
	escrowID := SendAssetHash(toAccount, u, netAmount, fromAsset, blockNumberMod)
	if err := v.createAssetEscrow(escrowID, fallback, fromAsset, netAmount, blockNumberMod); err != nil {
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
// released and the full input returned to the swapper.
func (v *VolatileVault) revertSendAsset(swapper common.Address, amount *uint256.Int, params SendAssetParams) {
	v.mu.Lock()
	defer v.mu.Unlock()

	id := SendAssetHash(params.ToAccount, params.Units, params.FromAmount, params.FromAsset, params.BlockNumberMod)
	if _, err := v.releaseAssetEscrow(id, params.FromAsset, params.FromAmount); err != nil {
		v.log.Error("send asset revert failed", "vault", v.address, "err", err)
		return
	}
	if err := v.ledger.Transfer(params.FromAsset, v.address, swapper, amount); err != nil {
		v.log.Error("send asset refund failed", "vault", v.address, "err", err)
	}
}

func (v *VolatileVault) finishSendAsset(fee *uint256.Int, params SendAssetParams) {
	v.mu.Lock()
	defer v.mu.Unlock()

	// The fee sits in the vault, so the governance cut cannot fail for
	// balance.
	if err := v.collectGovernanceFee(params.FromAsset, fee); err != nil {
		v.log.Warn("governance fee collection failed", "vault", v.address, "err", err)
	}
	v.log.Info("send asset",
		"vault", v.address,
		"channel", params.ChannelID,
		"units", params.Units.Dec(),
	)
}

// ReceiveAsset completes an inbound cross-chain asset swap: units are
// charged against the security limit and priced into the destination
// asset. Chain interface only.
func (v *VolatileVault) ReceiveAsset(caller common.Address, channelID string, fromVault payload.EncodedAddress, toAssetIndex uint8, toAccount common.Address, u, minOut *uint256.Int) (*uint256.Int, error) {
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
	v.updateWeights(v.now())

	if err := v.consumeLimit(u); err != nil {
		return nil, err
	}
	out, err := curve.PriceCurveLimit(u, v.effectiveAssetBalance(asset), v.weights[asset])
	if err != nil {
		return nil, err
	}
	if minOut != nil && out.Lt(minOut) {
		return nil, ErrReturnInsufficient
	}
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

// SendLiquidity burns vault tokens into units and sends them to a
// remote vault, escrowing the burned tokens until the ack. Like
// SendAsset, the dispatch runs outside the vault mutex and a dispatch
// failure re-mints the burned tokens.
func (v *VolatileVault) SendLiquidity(swapper common.Address, channelID string, toVault, toAccount payload.EncodedAddress, vaultTokens, minVaultTokens, minReferenceAsset *uint256.Int, fallback common.Address, calldata []byte) (*uint256.Int, error) {
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

func (v *VolatileVault) prepareSendLiquidity(swapper common.Address, channelID string, toVault, toAccount payload.EncodedAddress, vaultTokens, minVaultTokens, minReferenceAsset *uint256.Int, fallback common.Address, calldata []byte) (SendLiquidityParams, error) {
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
	v.updateWeights(v.now())

	effectiveSupply := new(uint256.Int).Add(v.totalSupply, v.escrowedVaultTokens)
	if err := v.requireShares(swapper, vaultTokens); err != nil {
		return SendLiquidityParams{}, err
	}

	postBurn := new(uint256.Int).Sub(effectiveSupply, vaultTokens)
	ratio, err := fixmath.DivWadDown(effectiveSupply, postBurn)
	if err != nil {
		return SendLiquidityParams{}, err
	}
	ln, err := fixmath.LnWad(ratio)
	if err != nil {
		return SendLiquidityParams{}, err
	}
	u, overflow := new(uint256.Int).MulOverflow(v.weightSum(), ln)
	if overflow {
		return SendLiquidityParams{}, fixmath.ErrOverflow
	}

	blockNumberMod := uint32(v.height())
	escrowID := SendLiquidityHash(toAccount, u, vaultTokens, blockNumberMod)
	if err := v.burnShares(swapper, vaultTokens); err != nil {
		return SendLiquidityParams{}, err
	}
	if err := v.createLiquidityEscrow(escrowID, fallback, vaultTokens, blockNumberMod); err != nil {
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

// revertSendLiquidity unwinds a liquidity send whose dispatch failed:
// the escrow is released and the burned tokens re-minted.
func (v *VolatileVault) revertSendLiquidity(swapper common.Address, params SendLiquidityParams) {
	v.mu.Lock()
	defer v.mu.Unlock()

	id := SendLiquidityHash(params.ToAccount, params.Units, params.FromAmount, params.BlockNumberMod)
	if _, err := v.releaseLiquidityEscrow(id, params.FromAmount); err != nil {
		v.log.Error("send liquidity revert failed", "vault", v.address, "err", err)
		return
	}
	v.mintShares(swapper, params.FromAmount)
}

// ReceiveLiquidity mints vault tokens for inbound units. The
// minReferenceAsset floor guards the swapper against a weight change
// racing the swap: it bounds the reference asset value of the minted
// tokens from below.
func (v *VolatileVault) ReceiveLiquidity(caller common.Address, channelID string, fromVault payload.EncodedAddress, toAccount common.Address, u, minVaultTokens, minReferenceAsset *uint256.Int) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireChainInterface(caller); err != nil {
		return nil, err
	}
	if err := v.requireConnection(channelID, fromVault); err != nil {
		return nil, err
	}
	v.updateWeights(v.now())

	if err := v.consumeLimit(u); err != nil {
		return nil, err
	}
	share, err := curve.PriceCurveLimitShare(u, v.weightSum())
	if err != nil {
		return nil, err
	}
	out, err := fixmath.MulWadDown(v.totalSupply, share)
	if err != nil {
		return nil, err
	}
	if minVaultTokens != nil && out.Lt(minVaultTokens) {
		return nil, ErrReturnInsufficient
	}
	if minReferenceAsset != nil && !minReferenceAsset.IsZero() {
		if err := v.checkLiquidityReference(out, minReferenceAsset); err != nil {
			return nil, err
		}
	}
	v.mintShares(toAccount, out)

	v.log.Info("receive liquidity",
		"vault", v.address,
		"channel", channelID,
		"minted", out.Dec(),
	)
	return out, nil
}

// checkLiquidityReference computes the weighted geometric mean of the
// vault balances (the reference asset value of one whole vault) and
// verifies the minted tokens clear the caller's floor.
func (v *VolatileVault) checkLiquidityReference(out, minReferenceAsset *uint256.Int) error {
	wSum := v.weightSum()
	acc := new(uint256.Int)
	for _, asset := range v.assets {
		balance := v.ledger.BalanceOf(asset, v.address)
		scaled, overflow := new(uint256.Int).MulOverflow(balance, fixmath.WAD)
		if overflow {
			return fixmath.ErrOverflow
		}
		ln, err := fixmath.LnWad(scaled)
		if err != nil {
			return err
		}
		term, overflow := ln.MulOverflow(ln, v.weights[asset])
		if overflow {
			return fixmath.ErrOverflow
		}
		if _, overflow = acc.AddOverflow(acc, term); overflow {
			return fixmath.ErrOverflow
		}
	}
	acc.Div(acc, wSum)
	vaultReference, err := fixmath.ExpWad(acc)
	if err != nil {
		return err
	}
	vaultReference.Div(vaultReference, fixmath.WAD)

	supply := new(uint256.Int).Add(v.totalSupply, v.escrowedVaultTokens)
	supply.Add(supply, out)
	userReference, err := fixmath.MulDivDown(vaultReference, out, supply)
	if err != nil {
		return err
	}
	if userReference.Lt(minReferenceAsset) {
		return ErrReturnInsufficient
	}
	return nil
}

// OnSendAssetSuccess settles a confirmed outbound asset swap: the
// escrow is dropped and the units it vouched for are returned to the
// security limit. Chain interface only.
func (v *VolatileVault) OnSendAssetSuccess(caller common.Address, toAccount payload.EncodedAddress, u, escrowAmount *uint256.Int, asset common.Address, blockNumberMod uint32) error {
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
	return nil
}

// OnSendAssetFailure refunds a failed outbound asset swap to the
// escrow fallback. Chain interface only.
func (v *VolatileVault) OnSendAssetFailure(caller common.Address, toAccount payload.EncodedAddress, u, escrowAmount *uint256.Int, asset common.Address, blockNumberMod uint32) error {
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
	return v.ledger.Transfer(asset, v.address, fallback, escrowAmount)
}

// OnSendLiquiditySuccess settles a confirmed outbound liquidity swap.
func (v *VolatileVault) OnSendLiquiditySuccess(caller common.Address, toAccount payload.EncodedAddress, u, escrowAmount *uint256.Int, blockNumberMod uint32) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireChainInterface(caller); err != nil {
		return err
	}
	id := SendLiquidityHash(toAccount, u, escrowAmount, blockNumberMod)
	if _, err := v.releaseLiquidityEscrow(id, escrowAmount); err != nil {
		return err
	}
	v.releaseLimit(u)
	return nil
}

// OnSendLiquidityFailure re-mints the burned vault tokens to the
// escrow fallback.
func (v *VolatileVault) OnSendLiquidityFailure(caller common.Address, toAccount payload.EncodedAddress, u, escrowAmount *uint256.Int, blockNumberMod uint32) error {
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
	v.mintShares(fallback, escrowAmount)
	return nil
}
