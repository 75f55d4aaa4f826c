// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gateway

import (
	"errors"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/unitswap/payload"
	"github.com/luxfi/unitswap/vault"
)

// Ack bytes returned to the messaging layer by ReceiveMessage.
const (
	AckSuccess byte = 0x00
	AckFailure byte = 0x01
)

// Underwriting constants. Durations are in blocks.
const (
	// UnderwriteCollateralNum/Denom: collateral posted by the
	// underwriter, as a fraction of the underwritten output (3.5%).
	UnderwriteCollateralNum   = 35
	UnderwriteCollateralDenom = 1000

	// ExpireRewardNum/Denom: share of the refund paid to whoever
	// expires a lapsed underwrite (35%).
	ExpireRewardNum   = 350
	ExpireRewardDenom = 1000

	// UnderwriteBuffer blocks must pass after an underwrite settles
	// before the same identifier may be underwritten again.
	UnderwriteBuffer = 4

	MinUnderwriteDuration     = 12 * 60 * 60
	MaxUnderwriteDurationCap  = 15 * 24 * 60 * 60
	DefaultUnderwriteDuration = 24 * 60 * 60
)

var (
	ErrVaultNotFound            = errors.New("vault not registered with gateway")
	ErrVaultExists              = errors.New("vault already registered with gateway")
	ErrNoTransport              = errors.New("gateway has no transport")
	ErrNoLedger                 = errors.New("gateway has no asset ledger")
	ErrUnknownAck               = errors.New("ack does not match a pending send")
	ErrUnderwriteExists         = errors.New("swap already underwritten")
	ErrUnderwriteNotFound       = errors.New("underwrite not found")
	ErrUnderwriteNotExpired     = errors.New("underwrite not yet expired")
	ErrSwapRecentlyUnderwritten = errors.New("swap settled an underwrite too recently")
	ErrDurationOutOfBounds      = errors.New("underwrite duration out of bounds")
	ErrInvalidIncentive         = errors.New("underwrite incentive out of range")
)

// Transport delivers an encoded packet to the remote chain's gateway.
// The messaging layer (and its verification) lives behind this
// interface.
type Transport interface {
	Dispatch(channelID string, toVault payload.EncodedAddress, data []byte) error
}

// SwapVault is the vault surface the gateway drives. Both vault kinds
// implement it.
type SwapVault interface {
	Address() common.Address
	Assets() []common.Address

	ReceiveAsset(caller common.Address, channelID string, fromVault payload.EncodedAddress, toAssetIndex uint8, toAccount common.Address, u, minOut *uint256.Int) (*uint256.Int, error)
	ReceiveLiquidity(caller common.Address, channelID string, fromVault payload.EncodedAddress, toAccount common.Address, u, minVaultTokens, minReferenceAsset *uint256.Int) (*uint256.Int, error)

	OnSendAssetSuccess(caller common.Address, toAccount payload.EncodedAddress, u, escrowAmount *uint256.Int, asset common.Address, blockNumberMod uint32) error
	OnSendAssetFailure(caller common.Address, toAccount payload.EncodedAddress, u, escrowAmount *uint256.Int, asset common.Address, blockNumberMod uint32) error
	OnSendLiquiditySuccess(caller common.Address, toAccount payload.EncodedAddress, u, escrowAmount *uint256.Int, blockNumberMod uint32) error
	OnSendLiquidityFailure(caller common.Address, toAccount payload.EncodedAddress, u, escrowAmount *uint256.Int, blockNumberMod uint32) error

	UnderwriteAsset(caller common.Address, identifier common.Hash, toAssetIndex uint8, u, minOut *uint256.Int) (*uint256.Int, error)
	ReleaseUnderwriteAsset(caller common.Address, channelID string, fromVault payload.EncodedAddress, identifier common.Hash, recipient common.Address) error
	DeleteUnderwriteAsset(caller common.Address, identifier common.Hash) error
}

// underwriteEntry tracks an open underwrite on the destination chain.
type underwriteEntry struct {
	underwriter common.Address
	vault       common.Address
	asset       common.Address
	amount      *uint256.Int
	refund      *uint256.Int // collateral + withheld incentive
	expiry      uint64
}

var _ vault.Dispatcher = (*Gateway)(nil)
