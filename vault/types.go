// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"errors"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/unitswap/payload"
)

// MaxAssets bounds the number of assets a single vault prices.
const MaxAssets = 3

// Adjustment windows for gradual weight and amplification changes, in
// seconds.
const (
	MinAdjustmentTime = 7 * 24 * 60 * 60
	MaxAdjustmentTime = 365 * 24 * 60 * 60
)

// LimitDecayPeriod is the time, in seconds, over which the full
// security limit capacity is restored.
const LimitDecayPeriod = 24 * 60 * 60

var (
	// InitialVaultTokens is minted to the initial depositor when the
	// swap curves are initialized.
	InitialVaultTokens = uint256.MustFromDecimal("1000000000000000000")

	// MaxVaultFee caps the vault fee at 100% (WAD).
	MaxVaultFee = uint256.MustFromDecimal("1000000000000000000")

	// MaxGovernanceFeeShare caps the governance cut of the vault fee
	// at 75% (WAD).
	MaxGovernanceFeeShare = uint256.MustFromDecimal("750000000000000000")

	// MaxWeightAdjustmentFactor bounds the relative change of a single
	// weight adjustment.
	MaxWeightAdjustmentFactor = uint256.NewInt(10)

	// MaxAmpAdjustmentFactor bounds the relative change of a single
	// amplification adjustment.
	MaxAmpAdjustmentFactor = uint256.NewInt(2)

	// SmallSwapRatio marks a swap as "small" when the source balance is
	// at least this multiple of the swap amount. Small swaps get a
	// reduced return to stop error-accumulation arbitrage against the
	// amplified approximations.
	SmallSwapRatio = uint256.NewInt(1_000_000_000_000)

	// SmallSwapReturn is the WAD fraction of the computed return paid
	// out on small amplified swaps.
	SmallSwapReturn = uint256.MustFromDecimal("950000000000000000")
)

var (
	ErrUnauthorized            = errors.New("caller not authorized")
	ErrAlreadyInitialized      = errors.New("swap curves already initialized")
	ErrNotInitialized          = errors.New("swap curves not initialized")
	ErrInvalidParams           = errors.New("invalid parameters")
	ErrInvalidAssets           = errors.New("invalid asset set")
	ErrInvalidZeroBalance      = errors.New("vault holds no balance of asset")
	ErrInvalidWeight           = errors.New("invalid weight")
	ErrInvalidAmplification    = errors.New("invalid amplification")
	ErrInvalidTargetTime       = errors.New("adjustment target time out of bounds")
	ErrInvalidFee              = errors.New("fee above maximum")
	ErrVaultNotConnected       = errors.New("vault not connected on channel")
	ErrNoChainInterface        = errors.New("vault has no chain interface")
	ErrAssetNotFound           = errors.New("asset not found in vault")
	ErrReturnInsufficient      = errors.New("return below minimum output")
	ErrSecurityLimitExceeded   = errors.New("security limit exceeded")
	ErrEscrowExists            = errors.New("escrow already exists")
	ErrEscrowNotFound          = errors.New("escrow not found")
	ErrWithdrawRatioNotZero    = errors.New("withdraw ratio after exhausted units must be zero")
	ErrUnusedUnits             = errors.New("unused units after withdrawal")
	ErrInsufficientVaultTokens = errors.New("insufficient vault tokens")
	ErrAmpUpdateDisabled       = errors.New("amplification changes disabled for cross-chain vaults")
)

// SendAssetParams describes an outgoing cross-chain asset swap handed
// to the chain interface. FromAmount is the escrowed amount, i.e. the
// swap input net of the vault fee, so acks can be verified against the
// escrow hash without knowledge of the fee.
type SendAssetParams struct {
	ChannelID              string
	ToVault                payload.EncodedAddress
	ToAccount              payload.EncodedAddress
	ToAssetIndex           uint8
	Units                  *uint256.Int
	MinOut                 *uint256.Int
	FromAmount             *uint256.Int
	FromAsset              common.Address
	BlockNumberMod         uint32
	UnderwriteIncentiveX16 uint16
	Calldata               []byte
}

// SendLiquidityParams describes an outgoing cross-chain liquidity swap.
type SendLiquidityParams struct {
	ChannelID         string
	ToVault           payload.EncodedAddress
	ToAccount         payload.EncodedAddress
	Units             *uint256.Int
	MinVaultTokens    *uint256.Int
	MinReferenceAsset *uint256.Int
	FromAmount        *uint256.Int
	BlockNumberMod    uint32
	Calldata          []byte
}

// Dispatcher forwards outgoing swaps to the cross-chain transport. The
// gateway implements this.
type Dispatcher interface {
	SendCrossChainAsset(fromVault common.Address, params SendAssetParams) error
	SendCrossChainLiquidity(fromVault common.Address, params SendLiquidityParams) error
}
