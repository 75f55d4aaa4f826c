// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"encoding/binary"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/crypto"

	"github.com/luxfi/unitswap/payload"
	"github.com/luxfi/unitswap/store"
)

// Escrows pin the source side of a cross-chain swap until the ack
// arrives. Only the refund fallback is stored; every other parameter
// is folded into the escrow hash, so a settlement message must echo
// the exact swap it acknowledges or the hash will not match any
// escrow.

// SendAssetHash identifies a pending asset escrow:
// keccak256(toAccount || units || amount || asset || blockNumberMod).
func SendAssetHash(toAccount payload.EncodedAddress, units, amount *uint256.Int, asset common.Address, blockNumberMod uint32) common.Hash {
	buf := make([]byte, 0, payload.EncodedAddressLength+32+32+common.AddressLength+4)
	buf = append(buf, toAccount[:]...)
	u := units.Bytes32()
	buf = append(buf, u[:]...)
	a := amount.Bytes32()
	buf = append(buf, a[:]...)
	buf = append(buf, asset.Bytes()...)
	buf = binary.BigEndian.AppendUint32(buf, blockNumberMod)
	return common.BytesToHash(crypto.Keccak256(buf))
}

// SendLiquidityHash identifies a pending liquidity escrow:
// keccak256(toAccount || units || amount || blockNumberMod).
func SendLiquidityHash(toAccount payload.EncodedAddress, units, amount *uint256.Int, blockNumberMod uint32) common.Hash {
	buf := make([]byte, 0, payload.EncodedAddressLength+32+32+4)
	buf = append(buf, toAccount[:]...)
	u := units.Bytes32()
	buf = append(buf, u[:]...)
	a := amount.Bytes32()
	buf = append(buf, a[:]...)
	buf = binary.BigEndian.AppendUint32(buf, blockNumberMod)
	return common.BytesToHash(crypto.Keccak256(buf))
}

func (v *Vault) createAssetEscrow(id common.Hash, fallback, asset common.Address, amount *uint256.Int, blockNumberMod uint32) error {
	if _, exists := v.assetEscrows[id]; exists {
		return ErrEscrowExists
	}
	v.assetEscrows[id] = fallback
	escrowed := v.escrowedOf(asset)
	escrowed.Add(escrowed, amount)

	if v.store != nil {
		return v.store.PutAssetEscrow(id, store.AssetEscrowRecord{
			Fallback:       fallback,
			Asset:          asset,
			Amount:         amount,
			BlockNumberMod: blockNumberMod,
		})
	}
	return nil
}

// releaseAssetEscrow removes a pending asset escrow and unwinds the
// escrowed-token accounting. Returns the refund fallback.
func (v *Vault) releaseAssetEscrow(id common.Hash, asset common.Address, amount *uint256.Int) (common.Address, error) {
	fallback, exists := v.assetEscrows[id]
	if !exists {
		return common.Address{}, ErrEscrowNotFound
	}
	delete(v.assetEscrows, id)

	escrowed := v.escrowedOf(asset)
	if escrowed.Lt(amount) {
		escrowed.Clear()
	} else {
		escrowed.Sub(escrowed, amount)
	}

	if v.store != nil {
		if err := v.store.DeleteAssetEscrow(id); err != nil {
			return fallback, err
		}
	}
	return fallback, nil
}

func (v *Vault) createLiquidityEscrow(id common.Hash, fallback common.Address, amount *uint256.Int, blockNumberMod uint32) error {
	if _, exists := v.liquidityEscrows[id]; exists {
		return ErrEscrowExists
	}
	v.liquidityEscrows[id] = fallback
	v.escrowedVaultTokens.Add(v.escrowedVaultTokens, amount)

	if v.store != nil {
		return v.store.PutLiquidityEscrow(id, store.LiquidityEscrowRecord{
			Fallback:       fallback,
			Amount:         amount,
			BlockNumberMod: blockNumberMod,
		})
	}
	return nil
}

func (v *Vault) releaseLiquidityEscrow(id common.Hash, amount *uint256.Int) (common.Address, error) {
	fallback, exists := v.liquidityEscrows[id]
	if !exists {
		return common.Address{}, ErrEscrowNotFound
	}
	delete(v.liquidityEscrows, id)

	if v.escrowedVaultTokens.Lt(amount) {
		v.escrowedVaultTokens.Clear()
	} else {
		v.escrowedVaultTokens.Sub(v.escrowedVaultTokens, amount)
	}

	if v.store != nil {
		if err := v.store.DeleteLiquidityEscrow(id); err != nil {
			return fallback, err
		}
	}
	return fallback, nil
}

// HasAssetEscrow reports whether an asset escrow is pending.
func (v *Vault) HasAssetEscrow(id common.Hash) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.assetEscrows[id]
	return ok
}

// HasLiquidityEscrow reports whether a liquidity escrow is pending.
func (v *Vault) HasLiquidityEscrow(id common.Hash) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.liquidityEscrows[id]
	return ok
}
