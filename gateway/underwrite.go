// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gateway

import (
	"encoding/binary"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/crypto"
)

var (
	incentiveBase    = uint256.NewInt(1 << 16)
	collateralNum    = uint256.NewInt(UnderwriteCollateralNum)
	collateralDenom  = uint256.NewInt(UnderwriteCollateralDenom)
	expireRewardNum  = uint256.NewInt(ExpireRewardNum)
	expireRewardBase = uint256.NewInt(ExpireRewardDenom)
)

// UnderwriteIdentifier derives the identifier binding an underwrite
// to one exact inbound swap: keccak256(toVault || toAsset ||
// units(32B) || minOut(16B) || toAccount || incentiveX16(2B) ||
// calldata). Any
// parameter mismatch between the underwrite and the arriving packet
// yields a different identifier, so only the promised swap can settle
// the underwrite.
func UnderwriteIdentifier(toVault, toAsset common.Address, units, minOut *uint256.Int, toAccount common.Address, incentiveX16 uint16, calldata []byte) common.Hash {
	buf := make([]byte, 0, 3*common.AddressLength+32+16+2+len(calldata))
	buf = append(buf, toVault.Bytes()...)
	buf = append(buf, toAsset.Bytes()...)
	u := units.Bytes32()
	buf = append(buf, u[:]...)
	m := new(uint256.Int)
	if minOut != nil {
		m.Set(minOut)
	}
	mb := m.Bytes32()
	buf = append(buf, mb[16:]...)
	buf = append(buf, toAccount.Bytes()...)
	buf = binary.BigEndian.AppendUint16(buf, incentiveX16)
	buf = append(buf, calldata...)
	return common.BytesToHash(crypto.Keccak256(buf))
}

// UnderwriteAsset fronts the output of an inbound asset swap before
// its message arrives. The vault prices and locks the output; the
// underwriter funds the recipient's payout plus collateral from their
// own balance and is made whole (plus the incentive) when the message
// lands. Returns the underwrite identifier.
func (gw *Gateway) UnderwriteAsset(underwriter, toVault, toAsset common.Address, units, minOut *uint256.Int, toAccount common.Address, incentiveX16 uint16, calldata []byte) (common.Hash, error) {
	gw.mu.Lock()
	defer gw.mu.Unlock()

	v, ok := gw.vaults[toVault]
	if !ok {
		return common.Hash{}, ErrVaultNotFound
	}
	assets := v.Assets()
	assetIndex := -1
	for i, asset := range assets {
		if asset == toAsset {
			assetIndex = i
			break
		}
	}
	if assetIndex < 0 {
		return common.Hash{}, ErrVaultNotFound
	}

	identifier := UnderwriteIdentifier(toVault, toAsset, units, minOut, toAccount, incentiveX16, calldata)
	if _, exists := gw.underwrites[identifier]; exists {
		return identifier, ErrUnderwriteExists
	}
	height := gw.height()
	if settledAt, ok := gw.recentlySettled[identifier]; ok && height < settledAt+UnderwriteBuffer {
		return identifier, ErrSwapRecentlyUnderwritten
	}

	// The recipient is paid output−incentive, so the swapper's min-out
	// must be inflated before the vault applies it to the full output.
	adjustedMinOut := new(uint256.Int)
	if minOut != nil && !minOut.IsZero() {
		incentiveKeep := new(uint256.Int).Sub(incentiveBase, uint256.NewInt(uint64(incentiveX16)))
		if incentiveKeep.IsZero() {
			return identifier, ErrInvalidIncentive
		}
		adjustedMinOut.Mul(minOut, incentiveBase)
		adjustedMinOut.Div(adjustedMinOut, incentiveKeep)
	}

	out, err := v.UnderwriteAsset(gw.address, identifier, uint8(assetIndex), units, adjustedMinOut)
	if err != nil {
		return identifier, err
	}

	incentive := new(uint256.Int).Mul(out, uint256.NewInt(uint64(incentiveX16)))
	incentive.Div(incentive, incentiveBase)
	collateral := new(uint256.Int).Mul(out, collateralNum)
	collateral.Div(collateral, collateralDenom)

	// The underwriter fronts the full output plus collateral; the
	// recipient is paid immediately, net of the incentive. The vault
	// has already locked the output under the identifier, so a funding
	// failure must void that lock or the arriving packet could never
	// settle it.
	funded := new(uint256.Int).Add(out, collateral)
	if err := gw.ledger.Transfer(toAsset, underwriter, gw.address, funded); err != nil {
		if derr := v.DeleteUnderwriteAsset(gw.address, identifier); derr != nil {
			gw.log.Error("underwrite unwind failed", "identifier", identifier, "err", derr)
		}
		return identifier, err
	}
	paid := new(uint256.Int).Sub(out, incentive)
	if err := gw.ledger.Transfer(toAsset, gw.address, toAccount, paid); err != nil {
		if rerr := gw.ledger.Transfer(toAsset, gw.address, underwriter, funded); rerr != nil {
			gw.log.Error("underwrite refund failed", "identifier", identifier, "err", rerr)
		}
		if derr := v.DeleteUnderwriteAsset(gw.address, identifier); derr != nil {
			gw.log.Error("underwrite unwind failed", "identifier", identifier, "err", derr)
		}
		return identifier, err
	}

	gw.underwrites[identifier] = &underwriteEntry{
		underwriter: underwriter,
		vault:       toVault,
		asset:       toAsset,
		amount:      out,
		refund:      new(uint256.Int).Add(collateral, incentive),
		expiry:      height + gw.maxUnderwriteDuration,
	}

	gw.log.Info("asset underwritten",
		"identifier", identifier,
		"underwriter", underwriter,
		"out", out.Dec(),
	)
	return identifier, nil
}

// ExpireUnderwrite voids an underwrite whose message never arrived.
// The underwriter may expire at any time; anyone else only after the
// expiry block. The locked output stays in the vault; of the refund
// (collateral plus withheld incentive) the caller earns a reward and
// the underwriter receives the remainder.
func (gw *Gateway) ExpireUnderwrite(caller common.Address, identifier common.Hash) error {
	gw.mu.Lock()
	defer gw.mu.Unlock()

	entry, ok := gw.underwrites[identifier]
	if !ok {
		return ErrUnderwriteNotFound
	}
	height := gw.height()
	if caller != entry.underwriter && height < entry.expiry {
		return ErrUnderwriteNotExpired
	}

	v, ok := gw.vaults[entry.vault]
	if !ok {
		return ErrVaultNotFound
	}
	if err := v.DeleteUnderwriteAsset(gw.address, identifier); err != nil {
		return err
	}

	reward := new(uint256.Int).Mul(entry.refund, expireRewardNum)
	reward.Div(reward, expireRewardBase)
	remainder := new(uint256.Int).Sub(entry.refund, reward)

	if err := gw.ledger.Transfer(entry.asset, gw.address, caller, reward); err != nil {
		return err
	}
	if err := gw.ledger.Transfer(entry.asset, gw.address, entry.underwriter, remainder); err != nil {
		return err
	}

	delete(gw.underwrites, identifier)
	gw.recentlySettled[identifier] = height

	gw.log.Info("underwrite expired",
		"identifier", identifier,
		"caller", caller,
	)
	return nil
}

// UnderwriteExpiry returns the expiry block of an open underwrite.
func (gw *Gateway) UnderwriteExpiry(identifier common.Hash) (uint64, bool) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	entry, ok := gw.underwrites[identifier]
	if !ok {
		return 0, false
	}
	return entry.expiry, true
}
