// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/unitswap/fixmath"
	"github.com/luxfi/unitswap/payload"
)

var (
	testVaultAddr = common.HexToAddress("0x1000000000000000000000000000000000000001")
	testGwAddr    = common.HexToAddress("0x2000000000000000000000000000000000000002")
	testOwner     = common.HexToAddress("0x3000000000000000000000000000000000000003")
	testSwapper   = common.HexToAddress("0x4000000000000000000000000000000000000004")
	testFallback  = common.HexToAddress("0x5000000000000000000000000000000000000005")
	testAssetA    = common.HexToAddress("0xaa00000000000000000000000000000000000001")
	testAssetB    = common.HexToAddress("0xaa00000000000000000000000000000000000002")

	testChannel = "channel-0"
)

func wad(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), fixmath.WAD)
}

func fracWad(num, den uint64) *uint256.Int {
	v := new(uint256.Int).Mul(uint256.NewInt(num), fixmath.WAD)
	return v.Div(v, uint256.NewInt(den))
}

// closeTo fails unless got is within tol of want.
func closeTo(t *testing.T, got, want, tol *uint256.Int) {
	t.Helper()
	diff := new(uint256.Int)
	if got.Lt(want) {
		diff.Sub(want, got)
	} else {
		diff.Sub(got, want)
	}
	if diff.Gt(tol) {
		t.Errorf("got %s, want %s (±%s)", got.Dec(), want.Dec(), tol.Dec())
	}
}

// testClock is a manually advanced time source.
type testClock struct {
	now uint64
}

func (c *testClock) Now() uint64 { return c.now }

// recordingDispatcher captures outgoing swaps instead of sending them.
type recordingDispatcher struct {
	assetSends     []SendAssetParams
	liquiditySends []SendLiquidityParams
}

func (d *recordingDispatcher) SendCrossChainAsset(fromVault common.Address, params SendAssetParams) error {
	d.assetSends = append(d.assetSends, params)
	return nil
}

func (d *recordingDispatcher) SendCrossChainLiquidity(fromVault common.Address, params SendLiquidityParams) error {
	d.liquiditySends = append(d.liquiditySends, params)
	return nil
}

// errTransportDown simulates a messaging layer that rejects packets.
var errTransportDown = errors.New("transport down")

// failingDispatcher rejects every outgoing swap.
type failingDispatcher struct{}

func (failingDispatcher) SendCrossChainAsset(common.Address, SendAssetParams) error {
	return errTransportDown
}

func (failingDispatcher) SendCrossChainLiquidity(common.Address, SendLiquidityParams) error {
	return errTransportDown
}

func mustEncode(t *testing.T, addr common.Address) payload.EncodedAddress {
	t.Helper()
	enc, err := payload.EncodeAddress(addr.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	return enc
}

func remoteVaultAddr(t *testing.T) payload.EncodedAddress {
	t.Helper()
	return mustEncode(t, common.HexToAddress("0xbbbb000000000000000000000000000000000001"))
}

func TestMemLedgerTransfer(t *testing.T) {
	l := NewMemLedger()
	l.Mint(testAssetA, testSwapper, wad(10))

	if err := l.Transfer(testAssetA, testSwapper, testOwner, wad(4)); err != nil {
		t.Fatal(err)
	}
	if got := l.BalanceOf(testAssetA, testSwapper); !got.Eq(wad(6)) {
		t.Errorf("sender balance = %s, want %s", got.Dec(), wad(6).Dec())
	}
	if got := l.BalanceOf(testAssetA, testOwner); !got.Eq(wad(4)) {
		t.Errorf("recipient balance = %s, want %s", got.Dec(), wad(4).Dec())
	}

	if err := l.Transfer(testAssetA, testSwapper, testOwner, wad(100)); err != ErrInsufficientBalance {
		t.Errorf("overdraft err = %v, want %v", err, ErrInsufficientBalance)
	}

	// Zero transfers succeed even without a balance.
	if err := l.Transfer(testAssetB, testSwapper, testOwner, new(uint256.Int)); err != nil {
		t.Errorf("zero transfer err = %v", err)
	}
}

func TestMemLedgerBalanceCopies(t *testing.T) {
	l := NewMemLedger()
	l.Mint(testAssetA, testSwapper, wad(10))

	got := l.BalanceOf(testAssetA, testSwapper)
	got.Clear()
	if l.BalanceOf(testAssetA, testSwapper).IsZero() {
		t.Error("mutating a returned balance changed the ledger")
	}
}

func TestVaultFeeValidation(t *testing.T) {
	ledger := NewMemLedger()

	overMax := new(uint256.Int).Add(MaxVaultFee, uint256.NewInt(1))
	if _, err := NewVolatile(Config{Address: testVaultAddr, Ledger: ledger, VaultFee: overMax}); err != ErrInvalidFee {
		t.Errorf("vault fee err = %v, want %v", err, ErrInvalidFee)
	}

	overShare := new(uint256.Int).Add(MaxGovernanceFeeShare, uint256.NewInt(1))
	if _, err := NewVolatile(Config{Address: testVaultAddr, Ledger: ledger, GovernanceFeeShare: overShare}); err != ErrInvalidFee {
		t.Errorf("governance share err = %v, want %v", err, ErrInvalidFee)
	}

	if _, err := NewVolatile(Config{Address: testVaultAddr}); err != ErrInvalidParams {
		t.Errorf("nil ledger err = %v, want %v", err, ErrInvalidParams)
	}
}

func TestFeeAdministration(t *testing.T) {
	clock := &testClock{now: 1_000_000}
	v, _ := newTestVolatile(t, clock, nil)

	if err := v.SetVaultFee(testSwapper, fracWad(1, 100)); err != ErrUnauthorized {
		t.Errorf("stranger SetVaultFee err = %v, want %v", err, ErrUnauthorized)
	}
	if err := v.SetVaultFee(testOwner, fracWad(1, 100)); err != nil {
		t.Fatal(err)
	}
	if got := v.VaultFee(); !got.Eq(fracWad(1, 100)) {
		t.Errorf("vault fee = %s", got.Dec())
	}

	if err := v.SetGovernanceFeeShare(testOwner, wad(1)); err != ErrInvalidFee {
		t.Errorf("over-max share err = %v, want %v", err, ErrInvalidFee)
	}
	if err := v.SetGovernanceFeeShare(testOwner, fracWad(1, 2)); err != nil {
		t.Fatal(err)
	}

	// Handing the role off moves fee authority with it.
	if err := v.SetFeeAdministrator(testOwner, testSwapper); err != nil {
		t.Fatal(err)
	}
	if err := v.SetVaultFee(testSwapper, fracWad(2, 100)); err != nil {
		t.Errorf("new admin SetVaultFee err = %v", err)
	}
	if err := v.SetVaultFee(testOwner, fracWad(3, 100)); err != ErrUnauthorized {
		t.Errorf("old admin SetVaultFee err = %v, want %v", err, ErrUnauthorized)
	}
}

func TestConnectionManagement(t *testing.T) {
	clock := &testClock{now: 1_000_000}
	v, _ := newTestVolatile(t, clock, nil)
	remote := remoteVaultAddr(t)

	if err := v.SetConnection(testSwapper, testChannel, remote, true); err != ErrUnauthorized {
		t.Errorf("stranger SetConnection err = %v, want %v", err, ErrUnauthorized)
	}
	if err := v.SetConnection(testOwner, testChannel, remote, true); err != nil {
		t.Fatal(err)
	}
	if !v.IsConnected(testChannel, remote) {
		t.Error("connection not recorded")
	}
	if v.IsConnected("channel-9", remote) {
		t.Error("connection leaked across channels")
	}

	if err := v.SetConnection(testOwner, testChannel, remote, false); err != nil {
		t.Fatal(err)
	}
	if v.IsConnected(testChannel, remote) {
		t.Error("connection survived disconnect")
	}
}

func TestFinishSetup(t *testing.T) {
	clock := &testClock{now: 1_000_000}
	v, _ := newTestVolatile(t, clock, nil)
	remote := remoteVaultAddr(t)

	if err := v.FinishSetup(testSwapper); err != ErrUnauthorized {
		t.Errorf("stranger FinishSetup err = %v, want %v", err, ErrUnauthorized)
	}
	if err := v.FinishSetup(testOwner); err != nil {
		t.Fatal(err)
	}
	if v.SetupMaster() != (common.Address{}) {
		t.Error("setup master not renounced")
	}

	// The owner keeps connection authority after setup ends; here owner
	// and setup master were the same account, so this still passes.
	if err := v.SetConnection(testOwner, testChannel, remote, true); err != nil {
		t.Errorf("owner SetConnection after finish err = %v", err)
	}
}

func TestEscrowHashesDiffer(t *testing.T) {
	to := remoteVaultAddr(t)
	u := wad(3)
	amount := wad(7)

	base := SendAssetHash(to, u, amount, testAssetA, 9)
	if base != SendAssetHash(to, u, amount, testAssetA, 9) {
		t.Error("hash not deterministic")
	}

	variants := []common.Hash{
		SendAssetHash(to, wad(4), amount, testAssetA, 9),
		SendAssetHash(to, u, wad(8), testAssetA, 9),
		SendAssetHash(to, u, amount, testAssetB, 9),
		SendAssetHash(to, u, amount, testAssetA, 10),
		SendLiquidityHash(to, u, amount, 9),
	}
	for i, h := range variants {
		if h == base {
			t.Errorf("variant %d collides with base hash", i)
		}
	}
}

func TestSecurityLimitDecay(t *testing.T) {
	clock := &testClock{now: 1_000_000}
	v, _ := newTestVolatile(t, clock, nil)

	max := v.MaxLimitCapacity()
	if max.IsZero() {
		t.Fatal("max limit not set by initialization")
	}
	if !v.LimitCapacity().Eq(max) {
		t.Fatal("fresh vault should have full capacity")
	}

	charge := new(uint256.Int).Div(max, uint256.NewInt(2))
	v.mu.Lock()
	if err := v.consumeLimit(charge); err != nil {
		v.mu.Unlock()
		t.Fatal(err)
	}
	v.mu.Unlock()

	want := new(uint256.Int).Sub(max, charge)
	if got := v.LimitCapacity(); !got.Eq(want) {
		t.Errorf("capacity after charge = %s, want %s", got.Dec(), want.Dec())
	}

	// A quarter period releases a quarter of the full limit.
	clock.now += LimitDecayPeriod / 4
	released := new(uint256.Int).Div(max, uint256.NewInt(4))
	want = new(uint256.Int).Sub(max, charge)
	want.Add(want, released)
	closeTo(t, v.LimitCapacity(), want, uint256.NewInt(2))

	// A full period restores everything.
	clock.now += LimitDecayPeriod
	if got := v.LimitCapacity(); !got.Eq(max) {
		t.Errorf("capacity after decay = %s, want %s", got.Dec(), max.Dec())
	}

	// Over-charging is rejected outright.
	over := new(uint256.Int).Add(max, uint256.NewInt(1))
	v.mu.Lock()
	err := v.consumeLimit(over)
	v.mu.Unlock()
	if err != ErrSecurityLimitExceeded {
		t.Errorf("over-charge err = %v, want %v", err, ErrSecurityLimitExceeded)
	}
}
