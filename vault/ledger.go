// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"errors"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
)

var ErrInsufficientBalance = errors.New("insufficient asset balance")

// AssetLedger abstracts the token balances the vault prices against.
// Implementations must reject transfers exceeding the sender balance.
type AssetLedger interface {
	BalanceOf(asset, account common.Address) *uint256.Int
	Transfer(asset, from, to common.Address, amount *uint256.Int) error
}

// MemLedger is an in-memory AssetLedger.
type MemLedger struct {
	mu       sync.RWMutex
	balances map[common.Address]map[common.Address]*uint256.Int
}

func NewMemLedger() *MemLedger {
	return &MemLedger{
		balances: make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

// Mint credits an account with new tokens of an asset.
func (l *MemLedger) Mint(asset, account common.Address, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	accounts, ok := l.balances[asset]
	if !ok {
		accounts = make(map[common.Address]*uint256.Int)
		l.balances[asset] = accounts
	}
	balance, ok := accounts[account]
	if !ok {
		balance = new(uint256.Int)
		accounts[account] = balance
	}
	balance.Add(balance, amount)
}

func (l *MemLedger) BalanceOf(asset, account common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if balance, ok := l.balances[asset][account]; ok {
		return new(uint256.Int).Set(balance)
	}
	return new(uint256.Int)
}

func (l *MemLedger) Transfer(asset, from, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fromBalance, ok := l.balances[asset][from]
	if !ok || fromBalance.Lt(amount) {
		return ErrInsufficientBalance
	}
	fromBalance.Sub(fromBalance, amount)

	accounts := l.balances[asset]
	toBalance, ok := accounts[to]
	if !ok {
		toBalance = new(uint256.Int)
		accounts[to] = toBalance
	}
	toBalance.Add(toBalance, amount)
	return nil
}
