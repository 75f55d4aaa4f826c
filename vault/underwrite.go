// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/unitswap/curve"
	"github.com/luxfi/unitswap/payload"
)

// Underwriting lets a third party front the output of an inbound swap
// before the cross-chain message lands. The vault prices the swap as
// if it had arrived, locks the output under the underwrite identifier
// and keeps the tokens; the gateway handles paying the recipient from
// the underwriter's own funds. When the real message arrives the
// locked output is released to the underwriter.

type underwriteEscrow struct {
	asset  common.Address
	amount *uint256.Int
}

func (v *Vault) createUnderwriteEscrow(identifier common.Hash, asset common.Address, amount *uint256.Int) error {
	if v.underwriteEscrows == nil {
		v.underwriteEscrows = make(map[common.Hash]underwriteEscrow)
	}
	if _, exists := v.underwriteEscrows[identifier]; exists {
		return ErrEscrowExists
	}
	v.underwriteEscrows[identifier] = underwriteEscrow{asset: asset, amount: new(uint256.Int).Set(amount)}
	escrowed := v.escrowedOf(asset)
	escrowed.Add(escrowed, amount)
	return nil
}

func (v *Vault) takeUnderwriteEscrow(identifier common.Hash) (underwriteEscrow, error) {
	esc, exists := v.underwriteEscrows[identifier]
	if !exists {
		return underwriteEscrow{}, ErrEscrowNotFound
	}
	delete(v.underwriteEscrows, identifier)

	escrowed := v.escrowedOf(esc.asset)
	if escrowed.Lt(esc.amount) {
		escrowed.Clear()
	} else {
		escrowed.Sub(escrowed, esc.amount)
	}
	return esc, nil
}

// ReleaseUnderwriteAsset settles a matched underwrite: the inbound
// message arrived, so the locked output is paid to the underwriter.
// Chain interface only, and the source vault must be connected.
func (v *Vault) ReleaseUnderwriteAsset(caller common.Address, channelID string, fromVault payload.EncodedAddress, identifier common.Hash, recipient common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireChainInterface(caller); err != nil {
		return err
	}
	if err := v.requireConnection(channelID, fromVault); err != nil {
		return err
	}
	esc, err := v.takeUnderwriteEscrow(identifier)
	if err != nil {
		return err
	}
	return v.ledger.Transfer(esc.asset, v.address, recipient, esc.amount)
}

// DeleteUnderwriteAsset voids an expired underwrite. The locked
// tokens stay in the vault; only the escrow accounting is unwound.
// Chain interface only.
func (v *Vault) DeleteUnderwriteAsset(caller common.Address, identifier common.Hash) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireChainInterface(caller); err != nil {
		return err
	}
	_, err := v.takeUnderwriteEscrow(identifier)
	return err
}

// HasUnderwriteEscrow reports whether an underwrite is locked under
// the identifier.
func (v *Vault) HasUnderwriteEscrow(identifier common.Hash) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.underwriteEscrows[identifier]
	return ok
}

// UnderwriteAsset prices an inbound swap ahead of its message and
// locks the output under the identifier. The security limit is
// charged exactly as a real receive would charge it. Chain interface
// only.
func (v *VolatileVault) UnderwriteAsset(caller common.Address, identifier common.Hash, toAssetIndex uint8, u, minOut *uint256.Int) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireChainInterface(caller); err != nil {
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
	if err := v.createUnderwriteEscrow(identifier, asset, out); err != nil {
		return nil, err
	}

	v.log.Info("underwrite asset",
		"vault", v.address,
		"identifier", identifier,
		"out", out.Dec(),
	)
	return out, nil
}

// UnderwriteAsset prices an inbound swap ahead of its message on the
// amplified curve and locks the output under the identifier.
func (v *AmplifiedVault) UnderwriteAsset(caller common.Address, identifier common.Hash, toAssetIndex uint8, u, minOut *uint256.Int) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireChainInterface(caller); err != nil {
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

	if err := v.createUnderwriteEscrow(identifier, asset, out); err != nil {
		return nil, err
	}

	v.log.Info("underwrite asset",
		"vault", v.address,
		"identifier", identifier,
		"out", out.Dec(),
	)
	return out, nil
}
