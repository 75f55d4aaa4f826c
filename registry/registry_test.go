// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package registry

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/unitswap/fixmath"
	"github.com/luxfi/unitswap/gateway"
	"github.com/luxfi/unitswap/vault"
)

var (
	creator = common.HexToAddress("0x5000000000000000000000000000000000000001")
	gwAddr  = common.HexToAddress("0x5000000000000000000000000000000000000002")
	tokenA  = common.HexToAddress("0x6000000000000000000000000000000000000001")
	tokenB  = common.HexToAddress("0x6000000000000000000000000000000000000002")
)

func wad(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), fixmath.WAD)
}

func unitWeights(n int) []*uint256.Int {
	weights := make([]*uint256.Int, n)
	for i := range weights {
		weights[i] = uint256.NewInt(1)
	}
	return weights
}

func newTestRegistry(t *testing.T) (*Registry, *vault.MemLedger, *gateway.Gateway) {
	t.Helper()
	ledger := vault.NewMemLedger()
	gw, err := gateway.New(gateway.Config{Address: gwAddr, Ledger: ledger})
	require.NoError(t, err)
	r, err := New(Config{Ledger: ledger, Gateway: gw, DB: memdb.New()})
	require.NoError(t, err)
	return r, ledger, gw
}

func fundDerivedVault(t *testing.T, ledger *vault.MemLedger, kind VaultKind, assets []common.Address, nonce uint64) common.Address {
	t.Helper()
	addr := VaultAddress(kind, assets, creator, nonce)
	for _, asset := range assets {
		ledger.Mint(asset, addr, wad(1000))
	}
	return addr
}

func TestVaultAddressDeterminism(t *testing.T) {
	assets := []common.Address{tokenA, tokenB}
	base := VaultAddress(KindVolatile, assets, creator, 0)

	require.Equal(t, base, VaultAddress(KindVolatile, assets, creator, 0))

	variants := []common.Address{
		VaultAddress(KindAmplified, assets, creator, 0),
		VaultAddress(KindVolatile, []common.Address{tokenB, tokenA}, creator, 0),
		VaultAddress(KindVolatile, assets, gwAddr, 0),
		VaultAddress(KindVolatile, assets, creator, 1),
	}
	for _, variant := range variants {
		require.NotEqual(t, base, variant)
	}
}

func TestCreateVolatileVault(t *testing.T) {
	r, ledger, gw := newTestRegistry(t)
	assets := []common.Address{tokenA, tokenB}
	derived := fundDerivedVault(t, ledger, KindVolatile, assets, 0)

	addr, err := r.Create(creator, CreateParams{
		Kind:    KindVolatile,
		Assets:  assets,
		Weights: unitWeights(2),
	})
	require.NoError(t, err)
	require.Equal(t, derived, addr)

	v, err := r.Volatile(addr)
	require.NoError(t, err)
	require.False(t, v.TotalSupply().IsZero(), "vault tokens not minted")
	require.Equal(t, v.TotalSupply().Dec(), v.ShareBalance(creator).Dec())

	kind, err := r.Kind(addr)
	require.NoError(t, err)
	require.Equal(t, KindVolatile, kind)

	_, registered := gw.Vault(addr)
	require.True(t, registered, "vault not registered with gateway")
	require.Equal(t, []common.Address{addr}, r.Vaults())

	_, err = r.Amplified(addr)
	require.Equal(t, ErrVaultNotFound, err)
}

func TestCreateAmplifiedVault(t *testing.T) {
	r, ledger, _ := newTestRegistry(t)
	assets := []common.Address{tokenA, tokenB}
	fundDerivedVault(t, ledger, KindAmplified, assets, 0)

	amp := new(uint256.Int).Div(new(uint256.Int).Mul(fixmath.WAD, uint256.NewInt(9)), uint256.NewInt(10))
	addr, err := r.Create(creator, CreateParams{
		Kind:          KindAmplified,
		Assets:        assets,
		Weights:       unitWeights(2),
		Amplification: amp,
	})
	require.NoError(t, err)

	v, err := r.Amplified(addr)
	require.NoError(t, err)
	require.Equal(t, amp.Dec(), v.Amplification().Dec())

	kind, err := r.Kind(addr)
	require.NoError(t, err)
	require.Equal(t, KindAmplified, kind)
}

func TestCreateAdvancesNonce(t *testing.T) {
	r, ledger, _ := newTestRegistry(t)
	assets := []common.Address{tokenA, tokenB}

	first := fundDerivedVault(t, ledger, KindVolatile, assets, 0)
	second := fundDerivedVault(t, ledger, KindVolatile, assets, 1)
	require.NotEqual(t, first, second)

	params := CreateParams{Kind: KindVolatile, Assets: assets, Weights: unitWeights(2)}
	addr0, err := r.Create(creator, params)
	require.NoError(t, err)
	addr1, err := r.Create(creator, params)
	require.NoError(t, err)

	require.Equal(t, first, addr0)
	require.Equal(t, second, addr1)
	require.Len(t, r.Vaults(), 2)
}

func TestCreateValidation(t *testing.T) {
	r, ledger, _ := newTestRegistry(t)
	assets := []common.Address{tokenA, tokenB}

	_, err := r.Create(creator, CreateParams{Kind: VaultKind(7), Assets: assets, Weights: unitWeights(2)})
	require.Equal(t, ErrUnknownKind, err)

	// The derived vault must already hold its initial balances.
	_, err = r.Create(creator, CreateParams{Kind: KindVolatile, Assets: assets, Weights: unitWeights(2)})
	require.Equal(t, vault.ErrInvalidZeroBalance, err)

	// A failed create burns no nonce: funding and retrying reuses it.
	fundDerivedVault(t, ledger, KindVolatile, assets, 0)
	_, err = r.Create(creator, CreateParams{Kind: KindVolatile, Assets: assets, Weights: unitWeights(2)})
	require.NoError(t, err)

	_, err = r.Volatile(common.HexToAddress("0xdead"))
	require.Equal(t, ErrVaultNotFound, err)
	_, err = r.Kind(common.HexToAddress("0xdead"))
	require.Equal(t, ErrVaultNotFound, err)
}
