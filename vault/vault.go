// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package vault implements unit-of-liquidity swap vaults. A vault
// prices a small set of assets against an abstract Unit measure so
// that swaps can settle between vaults that never share state: the
// source vault burns value into Units, the destination vault redeems
// Units into value, and an escrow holds the source side until the
// settlement message is acknowledged.
//
// Two price curves are provided. VolatileVault uses a constant-product
// style invariant suited to uncorrelated assets. AmplifiedVault
// flattens the curve around parity for correlated assets.
package vault

import (
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/luxfi/unitswap/fixmath"
	"github.com/luxfi/unitswap/payload"
	"github.com/luxfi/unitswap/store"
)

// Config collects the collaborators and roles of a vault. Address is
// the vault's own account on the Ledger. Now and Height default to
// wall-clock seconds and zero when nil; deployments on a chain supply
// their own clocks.
type Config struct {
	Address common.Address
	Ledger  AssetLedger
	Log     log.Logger
	Store   *store.VaultStore
	Now     func() uint64
	Height  func() uint64

	Owner            common.Address
	FeeAdministrator common.Address
	SetupMaster      common.Address
	ChainInterface   common.Address
	Dispatcher       Dispatcher

	VaultFee           *uint256.Int
	GovernanceFeeShare *uint256.Int
}

type connectionKey struct {
	channelID string
	remote    payload.EncodedAddress
}

// Vault is the state shared by both curve flavors. Exported methods
// take the mutex; lower-case helpers assume it is held.
type Vault struct {
	mu sync.Mutex

	address common.Address
	ledger  AssetLedger
	log     log.Logger
	store   *store.VaultStore
	now     func() uint64
	height  func() uint64

	owner            common.Address
	feeAdministrator common.Address
	setupMaster      common.Address
	chainInterface   common.Address
	dispatcher       Dispatcher

	vaultFee           *uint256.Int
	governanceFeeShare *uint256.Int

	initialized bool
	assets      []common.Address
	weights     map[common.Address]*uint256.Int

	connections map[connectionKey]bool

	totalSupply   *uint256.Int
	shareBalances map[common.Address]*uint256.Int

	// Escrow bookkeeping. The maps hold only the refund fallback; the
	// remaining escrow parameters are carried in the escrow hash and
	// re-verified on settlement.
	assetEscrows        map[common.Hash]common.Address
	liquidityEscrows    map[common.Hash]common.Address
	underwriteEscrows   map[common.Hash]underwriteEscrow
	escrowedTokens      map[common.Address]*uint256.Int
	escrowedVaultTokens *uint256.Int

	// Decaying security limit.
	maxLimitCapacity   *uint256.Int
	usedLimitCapacity  *uint256.Int
	usedLimitTimestamp uint64
}

func newVault(cfg Config) (*Vault, error) {
	if cfg.Ledger == nil {
		return nil, ErrInvalidParams
	}
	if cfg.VaultFee != nil && cfg.VaultFee.Gt(MaxVaultFee) {
		return nil, ErrInvalidFee
	}
	if cfg.GovernanceFeeShare != nil && cfg.GovernanceFeeShare.Gt(MaxGovernanceFeeShare) {
		return nil, ErrInvalidFee
	}

	logger := cfg.Log
	if logger == nil {
		logger = log.NewTestLogger(log.InfoLevel)
	}
	now := cfg.Now
	if now == nil {
		now = func() uint64 { return uint64(time.Now().Unix()) }
	}
	height := cfg.Height
	if height == nil {
		height = func() uint64 { return 0 }
	}

	vaultFee := new(uint256.Int)
	if cfg.VaultFee != nil {
		vaultFee.Set(cfg.VaultFee)
	}
	governanceFeeShare := new(uint256.Int)
	if cfg.GovernanceFeeShare != nil {
		governanceFeeShare.Set(cfg.GovernanceFeeShare)
	}

	return &Vault{
		address: cfg.Address,
		ledger:  cfg.Ledger,
		log:     logger,
		store:   cfg.Store,
		now:     now,
		height:  height,

		owner:            cfg.Owner,
		feeAdministrator: cfg.FeeAdministrator,
		setupMaster:      cfg.SetupMaster,
		chainInterface:   cfg.ChainInterface,
		dispatcher:       cfg.Dispatcher,

		vaultFee:           vaultFee,
		governanceFeeShare: governanceFeeShare,

		weights:     make(map[common.Address]*uint256.Int),
		connections: make(map[connectionKey]bool),

		totalSupply:   new(uint256.Int),
		shareBalances: make(map[common.Address]*uint256.Int),

		assetEscrows:        make(map[common.Hash]common.Address),
		liquidityEscrows:    make(map[common.Hash]common.Address),
		underwriteEscrows:   make(map[common.Hash]underwriteEscrow),
		escrowedTokens:      make(map[common.Address]*uint256.Int),
		escrowedVaultTokens: new(uint256.Int),

		maxLimitCapacity:  new(uint256.Int),
		usedLimitCapacity: new(uint256.Int),
	}, nil
}

// setup registers the asset set and weights and seeds the initial
// vault token supply. The caller has already validated the curve
// parameters and must set maxLimitCapacity afterwards.
func (v *Vault) setup(depositor common.Address, assets []common.Address, weights []*uint256.Int) error {
	if v.initialized {
		return ErrAlreadyInitialized
	}
	if len(assets) == 0 || len(assets) > MaxAssets || len(weights) != len(assets) {
		return ErrInvalidAssets
	}
	seen := make(map[common.Address]bool, len(assets))
	for i, asset := range assets {
		if weights[i] == nil || weights[i].IsZero() {
			return ErrInvalidWeight
		}
		if seen[asset] {
			return ErrInvalidAssets
		}
		seen[asset] = true
		if v.ledger.BalanceOf(asset, v.address).IsZero() {
			return ErrInvalidZeroBalance
		}
	}
	for i, asset := range assets {
		v.weights[asset] = new(uint256.Int).Set(weights[i])
	}
	v.assets = append([]common.Address(nil), assets...)
	v.initialized = true
	v.mintShares(depositor, InitialVaultTokens)

	v.log.Info("swap curves initialized",
		"vault", v.address,
		"assets", len(assets),
		"depositor", depositor,
	)
	return nil
}

// Address returns the vault's account on the asset ledger.
func (v *Vault) Address() common.Address { return v.address }

// Assets returns the priced asset set in index order.
func (v *Vault) Assets() []common.Address {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]common.Address(nil), v.assets...)
}

// Weight returns the current weight of an asset, or nil if the asset
// is not in the vault.
func (v *Vault) Weight(asset common.Address) *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	w, ok := v.weights[asset]
	if !ok {
		return nil
	}
	return new(uint256.Int).Set(w)
}

func (v *Vault) assetIndex(index uint8) (common.Address, error) {
	if int(index) >= len(v.assets) {
		return common.Address{}, ErrAssetNotFound
	}
	return v.assets[index], nil
}

// TotalSupply returns the vault token supply, excluding escrowed vault
// tokens.
func (v *Vault) TotalSupply() *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(uint256.Int).Set(v.totalSupply)
}

// ShareBalance returns an account's vault token balance.
func (v *Vault) ShareBalance(account common.Address) *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if b, ok := v.shareBalances[account]; ok {
		return new(uint256.Int).Set(b)
	}
	return new(uint256.Int)
}

func (v *Vault) mintShares(to common.Address, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	b, ok := v.shareBalances[to]
	if !ok {
		b = new(uint256.Int)
		v.shareBalances[to] = b
	}
	b.Add(b, amount)
	v.totalSupply.Add(v.totalSupply, amount)
}

// requireShares verifies a balance without burning it, so callers can
// validate up front and defer the burn until nothing else can fail.
func (v *Vault) requireShares(from common.Address, amount *uint256.Int) error {
	if b, ok := v.shareBalances[from]; !ok || b.Lt(amount) {
		return ErrInsufficientVaultTokens
	}
	return nil
}

func (v *Vault) burnShares(from common.Address, amount *uint256.Int) error {
	b, ok := v.shareBalances[from]
	if !ok || b.Lt(amount) {
		return ErrInsufficientVaultTokens
	}
	b.Sub(b, amount)
	v.totalSupply.Sub(v.totalSupply, amount)
	return nil
}

// FinishSetup renounces the setup master role, freezing connections
// under owner-only control.
func (v *Vault) FinishSetup(caller common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if caller != v.setupMaster {
		return ErrUnauthorized
	}
	v.setupMaster = common.Address{}
	v.log.Info("vault setup finished", "vault", v.address)
	return nil
}

// SetupMaster returns the current setup master; the zero address once
// setup has been finished.
func (v *Vault) SetupMaster() common.Address {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.setupMaster
}

// SetConnection opens or closes a channel to a remote vault. Only the
// setup master or the owner may alter connections.
func (v *Vault) SetConnection(caller common.Address, channelID string, remoteVault payload.EncodedAddress, state bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if caller != v.setupMaster && caller != v.owner {
		return ErrUnauthorized
	}
	key := connectionKey{channelID: channelID, remote: remoteVault}
	if state {
		v.connections[key] = true
	} else {
		delete(v.connections, key)
	}
	if v.store != nil {
		if err := v.store.PutConnection(channelID, remoteVault[:], state); err != nil {
			return err
		}
	}
	v.log.Info("vault connection updated",
		"vault", v.address,
		"channel", channelID,
		"state", state,
	)
	return nil
}

// IsConnected reports whether a remote vault is connected on a channel.
func (v *Vault) IsConnected(channelID string, remoteVault payload.EncodedAddress) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.connections[connectionKey{channelID: channelID, remote: remoteVault}]
}

func (v *Vault) requireConnection(channelID string, remoteVault payload.EncodedAddress) error {
	if !v.connections[connectionKey{channelID: channelID, remote: remoteVault}] {
		return ErrVaultNotConnected
	}
	return nil
}

// SetVaultFee sets the swap fee, WAD-scaled. Fee administrator only.
func (v *Vault) SetVaultFee(caller common.Address, fee *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if caller != v.feeAdministrator {
		return ErrUnauthorized
	}
	if fee.Gt(MaxVaultFee) {
		return ErrInvalidFee
	}
	v.vaultFee.Set(fee)
	v.log.Info("vault fee set", "vault", v.address, "fee", fee.Dec())
	return nil
}

// SetGovernanceFeeShare sets the governance cut of the vault fee,
// WAD-scaled. Owner only.
func (v *Vault) SetGovernanceFeeShare(caller common.Address, share *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if caller != v.owner {
		return ErrUnauthorized
	}
	if share.Gt(MaxGovernanceFeeShare) {
		return ErrInvalidFee
	}
	v.governanceFeeShare.Set(share)
	v.log.Info("governance fee share set", "vault", v.address, "share", share.Dec())
	return nil
}

// SetFeeAdministrator hands the fee administrator role to a new
// account. Owner only.
func (v *Vault) SetFeeAdministrator(caller, admin common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if caller != v.owner {
		return ErrUnauthorized
	}
	v.feeAdministrator = admin
	return nil
}

// VaultFee returns the current swap fee, WAD-scaled.
func (v *Vault) VaultFee() *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(uint256.Int).Set(v.vaultFee)
}

// GovernanceFeeShare returns the governance cut of the vault fee,
// WAD-scaled.
func (v *Vault) GovernanceFeeShare() *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(uint256.Int).Set(v.governanceFeeShare)
}

// collectGovernanceFee forwards the governance share of a collected
// vault fee to the owner. The fee itself stays in the vault.
func (v *Vault) collectGovernanceFee(asset common.Address, feeAmount *uint256.Int) error {
	if v.governanceFeeShare.IsZero() || feeAmount.IsZero() {
		return nil
	}
	governanceFee, err := fixmath.MulWadDown(feeAmount, v.governanceFeeShare)
	if err != nil {
		return err
	}
	if governanceFee.IsZero() {
		return nil
	}
	return v.ledger.Transfer(asset, v.address, v.owner, governanceFee)
}

// refundDeposits returns already-collected deposit amounts after a
// later transfer in the same deposit failed. The refund moves tokens
// the vault just received, so a failure here indicates ledger
// corruption and is only logged.
func (v *Vault) refundDeposits(depositor common.Address, amounts []*uint256.Int) {
	for i, amount := range amounts {
		if amount == nil || amount.IsZero() {
			continue
		}
		if err := v.ledger.Transfer(v.assets[i], v.address, depositor, amount); err != nil {
			v.log.Error("deposit refund failed",
				"vault", v.address,
				"asset", v.assets[i],
				"err", err,
			)
		}
	}
}

// escrowedOf returns the live escrowed total for an asset.
func (v *Vault) escrowedOf(asset common.Address) *uint256.Int {
	if e, ok := v.escrowedTokens[asset]; ok {
		return e
	}
	e := new(uint256.Int)
	v.escrowedTokens[asset] = e
	return e
}

// EscrowedTokens returns the amount of an asset locked in pending
// escrows.
func (v *Vault) EscrowedTokens(asset common.Address) *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(uint256.Int).Set(v.escrowedOf(asset))
}

// EscrowedVaultTokens returns the vault tokens locked in pending
// liquidity escrows.
func (v *Vault) EscrowedVaultTokens() *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(uint256.Int).Set(v.escrowedVaultTokens)
}

// effectiveAssetBalance is the tradeable balance of an asset: the
// ledger balance net of amounts locked in escrow.
func (v *Vault) effectiveAssetBalance(asset common.Address) *uint256.Int {
	balance := v.ledger.BalanceOf(asset, v.address)
	escrowed := v.escrowedOf(asset)
	if balance.Lt(escrowed) {
		return new(uint256.Int)
	}
	return balance.Sub(balance, escrowed)
}

func (v *Vault) requireDispatcher() error {
	if v.dispatcher == nil || (v.chainInterface == common.Address{}) {
		return ErrNoChainInterface
	}
	return nil
}

func (v *Vault) requireChainInterface(caller common.Address) error {
	if (v.chainInterface == common.Address{}) || caller != v.chainInterface {
		return ErrUnauthorized
	}
	return nil
}
