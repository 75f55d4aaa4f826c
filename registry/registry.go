// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package registry creates and tracks the swap vaults of one chain.
// Vault addresses are blake3 content hashes of the creation
// parameters, so the same (kind, assets, creator, nonce) tuple yields
// the same vault address on every deployment.
package registry

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"
	"github.com/zeebo/blake3"

	"github.com/luxfi/unitswap/gateway"
	"github.com/luxfi/unitswap/store"
	"github.com/luxfi/unitswap/vault"
)

// VaultKind selects the pricing curve template.
type VaultKind uint8

const (
	KindVolatile VaultKind = iota
	KindAmplified
)

var (
	ErrVaultExists   = errors.New("vault already registered")
	ErrVaultNotFound = errors.New("vault not found")
	ErrUnknownKind   = errors.New("unknown vault kind")
)

// Config wires the chain-level collaborators shared by every vault
// the registry creates.
type Config struct {
	Ledger  vault.AssetLedger
	Gateway *gateway.Gateway
	DB      database.Database
	Log     log.Logger
	Now     func() uint64
	Height  func() uint64
}

// Registry is the vault factory.
type Registry struct {
	mu sync.RWMutex

	ledger  vault.AssetLedger
	gateway *gateway.Gateway
	db      database.Database
	log     log.Logger
	now     func() uint64
	height  func() uint64

	volatile  map[common.Address]*vault.VolatileVault
	amplified map[common.Address]*vault.AmplifiedVault
	order     []common.Address

	nonces map[common.Address]uint64
}

func New(cfg Config) (*Registry, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("registry requires an asset ledger")
	}
	logger := cfg.Log
	if logger == nil {
		logger = log.NewTestLogger(log.InfoLevel)
	}
	return &Registry{
		ledger:  cfg.Ledger,
		gateway: cfg.Gateway,
		db:      cfg.DB,
		log:     logger,
		now:     cfg.Now,
		height:  cfg.Height,

		volatile:  make(map[common.Address]*vault.VolatileVault),
		amplified: make(map[common.Address]*vault.AmplifiedVault),
		nonces:    make(map[common.Address]uint64),
	}, nil
}

// VaultAddress derives the deterministic address of a vault from its
// creation parameters.
func VaultAddress(kind VaultKind, assets []common.Address, creator common.Address, nonce uint64) common.Address {
	h := blake3.New()
	h.Write([]byte{byte(kind)})
	for _, asset := range assets {
		h.Write(asset.Bytes())
	}
	h.Write(creator.Bytes())
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	h.Write(n[:])
	sum := h.Sum(nil)
	return common.BytesToAddress(sum[:common.AddressLength])
}

// CreateParams describes a vault to create. Weights must align with
// Assets; Amplification applies to KindAmplified only. The creator
// becomes owner, fee administrator and setup master; the vault fee
// starts at VaultFee and the governance share at GovernanceFeeShare.
type CreateParams struct {
	Kind               VaultKind
	Assets             []common.Address
	Weights            []*uint256.Int
	Amplification      *uint256.Int
	VaultFee           *uint256.Int
	GovernanceFeeShare *uint256.Int
}

// Create instantiates a vault, registers it with the gateway and, if
// a database is configured, attaches persistent escrow storage. The
// creator must have transferred the initial asset balances to the
// derived vault address beforehand; curve initialization validates
// them.
func (r *Registry) Create(creator common.Address, params CreateParams) (common.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	nonce := r.nonces[creator]
	addr := VaultAddress(params.Kind, params.Assets, creator, nonce)
	if _, exists := r.volatile[addr]; exists {
		return addr, ErrVaultExists
	}
	if _, exists := r.amplified[addr]; exists {
		return addr, ErrVaultExists
	}

	cfg := vault.Config{
		Address:            addr,
		Ledger:             r.ledger,
		Log:                r.log,
		Now:                r.now,
		Height:             r.height,
		Owner:              creator,
		FeeAdministrator:   creator,
		SetupMaster:        creator,
		VaultFee:           params.VaultFee,
		GovernanceFeeShare: params.GovernanceFeeShare,
	}
	if r.db != nil {
		cfg.Store = store.New(r.db, addr)
	}
	if r.gateway != nil {
		cfg.ChainInterface = r.gateway.Address()
		cfg.Dispatcher = r.gateway
	}

	switch params.Kind {
	case KindVolatile:
		v, err := vault.NewVolatile(cfg)
		if err != nil {
			return common.Address{}, err
		}
		if err := v.InitializeSwapCurves(creator, params.Assets, params.Weights); err != nil {
			return common.Address{}, err
		}
		if r.gateway != nil {
			if err := r.gateway.RegisterVault(v); err != nil {
				return common.Address{}, err
			}
		}
		r.volatile[addr] = v
	case KindAmplified:
		v, err := vault.NewAmplified(cfg)
		if err != nil {
			return common.Address{}, err
		}
		if err := v.InitializeSwapCurves(creator, params.Assets, params.Weights, params.Amplification); err != nil {
			return common.Address{}, err
		}
		if r.gateway != nil {
			if err := r.gateway.RegisterVault(v); err != nil {
				return common.Address{}, err
			}
		}
		r.amplified[addr] = v
	default:
		return common.Address{}, ErrUnknownKind
	}

	r.nonces[creator] = nonce + 1
	r.order = append(r.order, addr)

	r.log.Info("vault created",
		"vault", addr,
		"kind", params.Kind,
		"creator", creator,
	)
	return addr, nil
}

// Volatile returns a volatile vault by address.
func (r *Registry) Volatile(addr common.Address) (*vault.VolatileVault, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.volatile[addr]
	if !ok {
		return nil, ErrVaultNotFound
	}
	return v, nil
}

// Amplified returns an amplified vault by address.
func (r *Registry) Amplified(addr common.Address) (*vault.AmplifiedVault, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.amplified[addr]
	if !ok {
		return nil, ErrVaultNotFound
	}
	return v, nil
}

// Kind reports a vault's curve template.
func (r *Registry) Kind(addr common.Address) (VaultKind, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.volatile[addr]; ok {
		return KindVolatile, nil
	}
	if _, ok := r.amplified[addr]; ok {
		return KindAmplified, nil
	}
	return 0, ErrVaultNotFound
}

// Vaults lists all vault addresses in creation order.
func (r *Registry) Vaults() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]common.Address(nil), r.order...)
}
