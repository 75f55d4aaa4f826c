// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package gateway adapts vaults to the cross-chain messaging layer.
// One gateway per chain holds the local vaults, encodes outgoing
// swaps onto the wire, routes incoming packets to the destination
// vault and replays acknowledgements back into the origin vault's
// settlement handlers. It is also the entry point for underwriting:
// fronting an inbound swap's output before its message arrives.
package gateway

import (
	"sync"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/crypto"
	"github.com/luxfi/log"

	"github.com/luxfi/unitswap/payload"
	"github.com/luxfi/unitswap/vault"
)

// Config collects the gateway's collaborators. Address is the gateway
// account on the ledger; vaults must name it as their chain interface.
// Height defaults to zero when nil. MaxUnderwriteDuration is in blocks
// and must lie in [MinUnderwriteDuration, MaxUnderwriteDurationCap];
// zero selects DefaultUnderwriteDuration.
type Config struct {
	Address               common.Address
	Ledger                vault.AssetLedger
	Log                   log.Logger
	Transport             Transport
	Height                func() uint64
	MaxUnderwriteDuration uint64
}

// Gateway routes packets between the messaging layer and the local
// vaults.
type Gateway struct {
	mu sync.Mutex

	address   common.Address
	ledger    vault.AssetLedger
	log       log.Logger
	transport Transport
	height    func() uint64

	vaults map[common.Address]SwapVault

	// pending maps keccak(channelID || packet) of every dispatched swap
	// so acknowledgements can be matched and replays rejected.
	pending map[common.Hash]struct{}

	underwrites           map[common.Hash]*underwriteEntry
	recentlySettled       map[common.Hash]uint64
	maxUnderwriteDuration uint64
}

func New(cfg Config) (*Gateway, error) {
	if cfg.Ledger == nil {
		return nil, ErrNoLedger
	}
	duration := cfg.MaxUnderwriteDuration
	if duration == 0 {
		duration = DefaultUnderwriteDuration
	}
	if duration < MinUnderwriteDuration || duration > MaxUnderwriteDurationCap {
		return nil, ErrDurationOutOfBounds
	}
	logger := cfg.Log
	if logger == nil {
		logger = log.NewTestLogger(log.InfoLevel)
	}
	height := cfg.Height
	if height == nil {
		height = func() uint64 { return 0 }
	}
	return &Gateway{
		address:   cfg.Address,
		ledger:    cfg.Ledger,
		log:       logger,
		transport: cfg.Transport,
		height:    height,

		vaults:                make(map[common.Address]SwapVault),
		pending:               make(map[common.Hash]struct{}),
		underwrites:           make(map[common.Hash]*underwriteEntry),
		recentlySettled:       make(map[common.Hash]uint64),
		maxUnderwriteDuration: duration,
	}, nil
}

// Address returns the gateway's ledger account, which vaults register
// as their chain interface.
func (gw *Gateway) Address() common.Address { return gw.address }

// RegisterVault adds a local vault to the routing table.
func (gw *Gateway) RegisterVault(v SwapVault) error {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	addr := v.Address()
	if _, exists := gw.vaults[addr]; exists {
		return ErrVaultExists
	}
	gw.vaults[addr] = v
	gw.log.Info("vault registered", "vault", addr)
	return nil
}

// Vault looks up a registered vault.
func (gw *Gateway) Vault(addr common.Address) (SwapVault, bool) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	v, ok := gw.vaults[addr]
	return v, ok
}

func pendingKey(channelID string, data []byte) common.Hash {
	buf := make([]byte, 0, len(channelID)+len(data))
	buf = append(buf, channelID...)
	buf = append(buf, data...)
	return common.BytesToHash(crypto.Keccak256(buf))
}

// SendCrossChainAsset encodes an outgoing asset swap and hands it to
// the transport. Implements vault.Dispatcher.
func (gw *Gateway) SendCrossChainAsset(fromVault common.Address, params vault.SendAssetParams) error {
	if gw.transport == nil {
		return ErrNoTransport
	}
	fromVaultEnc, err := payload.EncodeAddress(fromVault.Bytes())
	if err != nil {
		return err
	}
	fromAssetEnc, err := payload.EncodeAddress(params.FromAsset.Bytes())
	if err != nil {
		return err
	}
	pkt := &payload.AssetPacket{
		FromVault:      fromVaultEnc,
		ToVault:        params.ToVault,
		ToAccount:      params.ToAccount,
		Units:          params.Units,
		ToAssetIndex:   params.ToAssetIndex,
		MinOut:         params.MinOut,
		FromAmount:     params.FromAmount,
		FromAsset:      fromAssetEnc,
		BlockNumberMod: params.BlockNumberMod,
		UWIncentiveX16: params.UnderwriteIncentiveX16,
		Calldata:       params.Calldata,
	}
	data, err := pkt.Encode()
	if err != nil {
		return err
	}
	return gw.dispatch(params.ChannelID, params.ToVault, data)
}

// dispatch registers the pending send and hands the packet to the
// transport. The pending entry is written first so a loopback
// transport can acknowledge synchronously, and removed again if the
// transport rejects the packet: nothing was delivered, so no ack can
// ever match it. The gateway mutex is not held across Dispatch.
func (gw *Gateway) dispatch(channelID string, toVault payload.EncodedAddress, data []byte) error {
	key := pendingKey(channelID, data)
	gw.mu.Lock()
	gw.pending[key] = struct{}{}
	gw.mu.Unlock()

	if err := gw.transport.Dispatch(channelID, toVault, data); err != nil {
		gw.mu.Lock()
		delete(gw.pending, key)
		gw.mu.Unlock()
		return err
	}
	return nil
}

// SendCrossChainLiquidity encodes an outgoing liquidity swap.
// Implements vault.Dispatcher.
func (gw *Gateway) SendCrossChainLiquidity(fromVault common.Address, params vault.SendLiquidityParams) error {
	if gw.transport == nil {
		return ErrNoTransport
	}
	fromVaultEnc, err := payload.EncodeAddress(fromVault.Bytes())
	if err != nil {
		return err
	}
	pkt := &payload.LiquidityPacket{
		FromVault:         fromVaultEnc,
		ToVault:           params.ToVault,
		ToAccount:         params.ToAccount,
		Units:             params.Units,
		MinVaultTokens:    params.MinVaultTokens,
		MinReferenceAsset: params.MinReferenceAsset,
		FromAmount:        params.FromAmount,
		BlockNumberMod:    params.BlockNumberMod,
		Calldata:          params.Calldata,
	}
	data, err := pkt.Encode()
	if err != nil {
		return err
	}
	return gw.dispatch(params.ChannelID, params.ToVault, data)
}

func decodeLocalAddress(enc payload.EncodedAddress) (common.Address, error) {
	raw, err := enc.Decode()
	if err != nil {
		return common.Address{}, err
	}
	return common.BytesToAddress(raw), nil
}

// ReceiveMessage routes an inbound packet to its destination vault
// and returns the ack byte to send back. Decode failures are errors;
// application failures (limit exceeded, min-out missed) produce a
// failure ack so the source chain refunds the swapper.
func (gw *Gateway) ReceiveMessage(channelID string, data []byte) (byte, error) {
	pkt, err := payload.Decode(data)
	if err != nil {
		return AckFailure, err
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()

	switch p := pkt.(type) {
	case *payload.AssetPacket:
		return gw.receiveAsset(channelID, p), nil
	case *payload.LiquidityPacket:
		return gw.receiveLiquidity(channelID, p), nil
	default:
		return AckFailure, payload.ErrDecode
	}
}

func (gw *Gateway) receiveAsset(channelID string, p *payload.AssetPacket) byte {
	toVaultAddr, err := decodeLocalAddress(p.ToVault)
	if err != nil {
		return AckFailure
	}
	v, ok := gw.vaults[toVaultAddr]
	if !ok {
		gw.log.Warn("packet for unknown vault", "vault", toVaultAddr)
		return AckFailure
	}
	toAccount, err := decodeLocalAddress(p.ToAccount)
	if err != nil {
		return AckFailure
	}

	assets := v.Assets()
	if int(p.ToAssetIndex) < len(assets) {
		asset := assets[p.ToAssetIndex]
		identifier := UnderwriteIdentifier(toVaultAddr, asset, p.Units, p.MinOut, toAccount, p.UWIncentiveX16, p.Calldata)
		if entry, underwritten := gw.underwrites[identifier]; underwritten {
			return gw.settleUnderwrite(channelID, p.FromVault, identifier, entry, v)
		}
	}

	if _, err := v.ReceiveAsset(gw.address, channelID, p.FromVault, p.ToAssetIndex, toAccount, p.Units, p.MinOut); err != nil {
		gw.log.Warn("receive asset failed", "vault", toVaultAddr, "err", err)
		return AckFailure
	}
	return AckSuccess
}

// settleUnderwrite matches an arrived packet against its open
// underwrite: the vault pays the locked output to the underwriter and
// the gateway returns the collateral plus the withheld incentive.
func (gw *Gateway) settleUnderwrite(channelID string, fromVault payload.EncodedAddress, identifier common.Hash, entry *underwriteEntry, v SwapVault) byte {
	if err := v.ReleaseUnderwriteAsset(gw.address, channelID, fromVault, identifier, entry.underwriter); err != nil {
		gw.log.Warn("underwrite release failed", "identifier", identifier, "err", err)
		return AckFailure
	}
	if err := gw.ledger.Transfer(entry.asset, gw.address, entry.underwriter, entry.refund); err != nil {
		gw.log.Warn("underwrite refund failed", "identifier", identifier, "err", err)
		return AckFailure
	}
	delete(gw.underwrites, identifier)
	gw.recentlySettled[identifier] = gw.height()

	gw.log.Info("underwrite matched",
		"identifier", identifier,
		"underwriter", entry.underwriter,
	)
	return AckSuccess
}

func (gw *Gateway) receiveLiquidity(channelID string, p *payload.LiquidityPacket) byte {
	toVaultAddr, err := decodeLocalAddress(p.ToVault)
	if err != nil {
		return AckFailure
	}
	v, ok := gw.vaults[toVaultAddr]
	if !ok {
		gw.log.Warn("packet for unknown vault", "vault", toVaultAddr)
		return AckFailure
	}
	toAccount, err := decodeLocalAddress(p.ToAccount)
	if err != nil {
		return AckFailure
	}
	if _, err := v.ReceiveLiquidity(gw.address, channelID, p.FromVault, toAccount, p.Units, p.MinVaultTokens, p.MinReferenceAsset); err != nil {
		gw.log.Warn("receive liquidity failed", "vault", toVaultAddr, "err", err)
		return AckFailure
	}
	return AckSuccess
}

// HandleAck replays an acknowledged packet into the origin vault's
// settlement handlers. The packet must match a pending send; acks for
// unknown or already-settled packets are rejected.
func (gw *Gateway) HandleAck(channelID string, data []byte, ack byte) error {
	gw.mu.Lock()
	defer gw.mu.Unlock()

	key := pendingKey(channelID, data)
	if _, ok := gw.pending[key]; !ok {
		return ErrUnknownAck
	}

	pkt, err := payload.Decode(data)
	if err != nil {
		return err
	}

	switch p := pkt.(type) {
	case *payload.AssetPacket:
		fromVaultAddr, err := decodeLocalAddress(p.FromVault)
		if err != nil {
			return err
		}
		v, ok := gw.vaults[fromVaultAddr]
		if !ok {
			return ErrVaultNotFound
		}
		asset, err := decodeLocalAddress(p.FromAsset)
		if err != nil {
			return err
		}
		if ack == AckSuccess {
			err = v.OnSendAssetSuccess(gw.address, p.ToAccount, p.Units, p.FromAmount, asset, p.BlockNumberMod)
		} else {
			err = v.OnSendAssetFailure(gw.address, p.ToAccount, p.Units, p.FromAmount, asset, p.BlockNumberMod)
		}
		if err != nil {
			return err
		}
	case *payload.LiquidityPacket:
		fromVaultAddr, err := decodeLocalAddress(p.FromVault)
		if err != nil {
			return err
		}
		v, ok := gw.vaults[fromVaultAddr]
		if !ok {
			return ErrVaultNotFound
		}
		if ack == AckSuccess {
			err = v.OnSendLiquiditySuccess(gw.address, p.ToAccount, p.Units, p.FromAmount, p.BlockNumberMod)
		} else {
			err = v.OnSendLiquidityFailure(gw.address, p.ToAccount, p.Units, p.FromAmount, p.BlockNumberMod)
		}
		if err != nil {
			return err
		}
	}

	delete(gw.pending, key)
	return nil
}

// HandleTimeout settles a packet the messaging layer gave up on, as a
// failure ack.
func (gw *Gateway) HandleTimeout(channelID string, data []byte) error {
	return gw.HandleAck(channelID, data, AckFailure)
}
