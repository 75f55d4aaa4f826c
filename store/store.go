// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package store persists the durable slice of vault state: escrow
// records and cross-chain connection flags. Balances, weights and the
// security limit are derivable or in-memory; escrows are not, so they
// are written through here and survive a restart with pending swaps in
// flight.
package store

import (
	"encoding/binary"
	"errors"

	"github.com/holiman/uint256"
	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
)

var ErrCorrupt = errors.New("corrupt store record")

// Key namespaces. Every key is prefix || vault || item.
const (
	prefixAssetEscrow     byte = 0x01
	prefixLiquidityEscrow byte = 0x02
	prefixConnection      byte = 0x03
)

// AssetEscrowRecord is the persisted form of a pending asset escrow.
type AssetEscrowRecord struct {
	Fallback       common.Address
	Asset          common.Address
	Amount         *uint256.Int
	BlockNumberMod uint32
}

// LiquidityEscrowRecord is the persisted form of a pending liquidity
// escrow.
type LiquidityEscrowRecord struct {
	Fallback       common.Address
	Amount         *uint256.Int
	BlockNumberMod uint32
}

// VaultStore gives one vault a namespaced view of the shared database.
type VaultStore struct {
	db    database.Database
	vault common.Address
}

func New(db database.Database, vault common.Address) *VaultStore {
	return &VaultStore{db: db, vault: vault}
}

func (s *VaultStore) key(prefix byte, item []byte) []byte {
	k := make([]byte, 0, 1+common.AddressLength+len(item))
	k = append(k, prefix)
	k = append(k, s.vault.Bytes()...)
	k = append(k, item...)
	return k
}

func (s *VaultStore) PutAssetEscrow(id common.Hash, rec AssetEscrowRecord) error {
	v := make([]byte, 0, 2*common.AddressLength+32+4)
	v = append(v, rec.Fallback.Bytes()...)
	v = append(v, rec.Asset.Bytes()...)
	amount := rec.Amount.Bytes32()
	v = append(v, amount[:]...)
	v = binary.BigEndian.AppendUint32(v, rec.BlockNumberMod)
	return s.db.Put(s.key(prefixAssetEscrow, id.Bytes()), v)
}

func (s *VaultStore) GetAssetEscrow(id common.Hash) (AssetEscrowRecord, error) {
	var rec AssetEscrowRecord
	v, err := s.db.Get(s.key(prefixAssetEscrow, id.Bytes()))
	if err != nil {
		return rec, err
	}
	if len(v) != 2*common.AddressLength+32+4 {
		return rec, ErrCorrupt
	}
	rec.Fallback = common.BytesToAddress(v[:common.AddressLength])
	rec.Asset = common.BytesToAddress(v[common.AddressLength : 2*common.AddressLength])
	rec.Amount = new(uint256.Int).SetBytes(v[2*common.AddressLength : 2*common.AddressLength+32])
	rec.BlockNumberMod = binary.BigEndian.Uint32(v[2*common.AddressLength+32:])
	return rec, nil
}

func (s *VaultStore) HasAssetEscrow(id common.Hash) (bool, error) {
	return s.db.Has(s.key(prefixAssetEscrow, id.Bytes()))
}

func (s *VaultStore) DeleteAssetEscrow(id common.Hash) error {
	return s.db.Delete(s.key(prefixAssetEscrow, id.Bytes()))
}

func (s *VaultStore) PutLiquidityEscrow(id common.Hash, rec LiquidityEscrowRecord) error {
	v := make([]byte, 0, common.AddressLength+32+4)
	v = append(v, rec.Fallback.Bytes()...)
	amount := rec.Amount.Bytes32()
	v = append(v, amount[:]...)
	v = binary.BigEndian.AppendUint32(v, rec.BlockNumberMod)
	return s.db.Put(s.key(prefixLiquidityEscrow, id.Bytes()), v)
}

func (s *VaultStore) GetLiquidityEscrow(id common.Hash) (LiquidityEscrowRecord, error) {
	var rec LiquidityEscrowRecord
	v, err := s.db.Get(s.key(prefixLiquidityEscrow, id.Bytes()))
	if err != nil {
		return rec, err
	}
	if len(v) != common.AddressLength+32+4 {
		return rec, ErrCorrupt
	}
	rec.Fallback = common.BytesToAddress(v[:common.AddressLength])
	rec.Amount = new(uint256.Int).SetBytes(v[common.AddressLength : common.AddressLength+32])
	rec.BlockNumberMod = binary.BigEndian.Uint32(v[common.AddressLength+32:])
	return rec, nil
}

func (s *VaultStore) DeleteLiquidityEscrow(id common.Hash) error {
	return s.db.Delete(s.key(prefixLiquidityEscrow, id.Bytes()))
}

// connectionKey folds the channel and the remote vault identity into a
// fixed-size item key.
func connectionKey(channelID string, remoteVault []byte) []byte {
	k := make([]byte, 0, 2+len(channelID)+len(remoteVault))
	k = binary.BigEndian.AppendUint16(k, uint16(len(channelID)))
	k = append(k, channelID...)
	k = append(k, remoteVault...)
	return k
}

func (s *VaultStore) PutConnection(channelID string, remoteVault []byte, state bool) error {
	key := s.key(prefixConnection, connectionKey(channelID, remoteVault))
	if !state {
		return s.db.Delete(key)
	}
	return s.db.Put(key, []byte{1})
}

func (s *VaultStore) HasConnection(channelID string, remoteVault []byte) (bool, error) {
	return s.db.Has(s.key(prefixConnection, connectionKey(channelID, remoteVault)))
}
