// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"github.com/holiman/uint256"
)

// The security limit bounds the value an attacker with a compromised
// message channel can extract in one decay period. Inbound swaps
// consume capacity; the consumed amount decays back linearly over
// LimitDecayPeriod, and outbound settlement acks release it early.

// limitCapacity returns the free capacity at time now, accounting for
// the linear decay of past consumption. Callers hold the mutex.
func (v *Vault) limitCapacity(now uint64) *uint256.Int {
	var elapsed uint64
	if now > v.usedLimitTimestamp {
		elapsed = now - v.usedLimitTimestamp
	}

	released, overflow := new(uint256.Int).MulOverflow(v.maxLimitCapacity, uint256.NewInt(elapsed))
	if overflow {
		released.SetAllOne()
	}
	released.Div(released, uint256.NewInt(LimitDecayPeriod))

	if v.usedLimitCapacity.Cmp(released) <= 0 {
		return new(uint256.Int).Set(v.maxLimitCapacity)
	}
	outstanding := new(uint256.Int).Sub(v.usedLimitCapacity, released)
	if v.maxLimitCapacity.Cmp(outstanding) <= 0 {
		return new(uint256.Int)
	}
	return outstanding.Sub(v.maxLimitCapacity, outstanding)
}

// LimitCapacity returns the currently free security limit capacity.
func (v *Vault) LimitCapacity() *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.limitCapacity(v.now())
}

// MaxLimitCapacity returns the full security limit.
func (v *Vault) MaxLimitCapacity() *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(uint256.Int).Set(v.maxLimitCapacity)
}

// consumeLimit charges amount against the security limit, folding the
// decay since the last charge into the stored usage first.
func (v *Vault) consumeLimit(amount *uint256.Int) error {
	now := v.now()
	capacity := v.limitCapacity(now)
	if capacity.Lt(amount) {
		return ErrSecurityLimitExceeded
	}
	// capacity = max - decayedUsed, so decayedUsed = max - capacity.
	decayed := new(uint256.Int).Sub(v.maxLimitCapacity, capacity)
	v.usedLimitCapacity = decayed.Add(decayed, amount)
	v.usedLimitTimestamp = now
	return nil
}

// releaseLimit returns capacity consumed by a swap that settled, e.g.
// on a successful outbound ack. Saturates at zero.
func (v *Vault) releaseLimit(amount *uint256.Int) {
	if v.usedLimitCapacity.Cmp(amount) <= 0 {
		v.usedLimitCapacity.Clear()
		return
	}
	v.usedLimitCapacity.Sub(v.usedLimitCapacity, amount)
}

// growLimit raises the full security limit, used when deposits or
// weight changes add value to the vault. Saturates at the 256-bit
// ceiling.
func (v *Vault) growLimit(amount *uint256.Int) {
	if _, overflow := v.maxLimitCapacity.AddOverflow(v.maxLimitCapacity, amount); overflow {
		v.maxLimitCapacity.SetAllOne()
	}
}

// shrinkLimit lowers the full security limit. Saturates at zero.
func (v *Vault) shrinkLimit(amount *uint256.Int) {
	if v.maxLimitCapacity.Cmp(amount) <= 0 {
		v.maxLimitCapacity.Clear()
		return
	}
	v.maxLimitCapacity.Sub(v.maxLimitCapacity, amount)
}
