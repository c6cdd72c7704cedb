package responder

import (
	"context"
	"fmt"

	"ramprails/internal/chain"
	"ramprails/internal/compliance"
	"ramprails/internal/contracts"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// SwapParams describes a user-initiated off-ramp swap. Channel name and
// account are plaintext here; they go on-chain only as content hashes.
type SwapParams struct {
	Amount         string
	ChannelName    string
	ChannelAccount string
	SourceOfFunds  string
}

// SwapResult reports the terminal outcome the caller sees.
type SwapResult struct {
	Verdict       compliance.Verdict
	RequestTxHash string
}

// InitiateSwap runs the user-initiated off-ramp path: compliance check,
// approve, mint, then requestOfframp. It stops at the first failure and
// reports it; a NOT_SAFE verdict surfaces as ErrRejected with the verdict
// attached to the result.
func (r *Responder) InitiateSwap(ctx context.Context, p SwapParams) (SwapResult, error) {
	result := SwapResult{Verdict: compliance.VerdictNotSafe}

	if r.gate == nil {
		return result, fmt.Errorf("swap path requires a compliance gate")
	}

	source := p.SourceOfFunds
	if source == "" {
		source = r.cfg.SourceOfFunds
	}
	verdict, err := r.gate.Check(ctx, compliance.Message(r.cfg.UserAddress, p.Amount, source))
	if err != nil {
		r.log.WithError(err).Warn("gate unavailable, rejecting swap")
		return result, ErrRejected
	}
	result.Verdict = verdict
	if verdict != compliance.VerdictSafe {
		return result, ErrRejected
	}

	amount, err := parseAmount(p.Amount)
	if err != nil {
		return result, err
	}

	if _, err := r.token.Send(ctx, "approve", common.HexToAddress(r.cfg.ManagerAddress), amount); err != nil {
		return result, fmt.Errorf("approve: %w", err)
	}
	if _, err := r.userManager.Send(ctx, "mint", amount); err != nil {
		return result, fmt.Errorf("mint: %w", err)
	}

	params := contracts.OfframpRequestParams{
		User:            common.HexToAddress(r.cfg.UserAddress),
		Amount:          amount,
		AmountRealWorld: amount,
		ChannelAccount:  chain.HashUTF8(p.ChannelAccount),
		ChannelId:       chain.HashUTF8(p.ChannelName),
	}
	receipt, err := r.userManager.Send(ctx, "requestOfframp", params)
	if err != nil {
		if !chain.IsDuplicateRequest(err) {
			return result, fmt.Errorf("requestOfframp: %w", err)
		}
		r.log.Info("offramp request already on-chain")
	}
	if receipt != nil {
		result.RequestTxHash = receipt.TxHash.Hex()
	}
	return result, nil
}

// AcceptOnRamp takes the seller side of an on-ramp request.
func (r *Responder) AcceptOnRamp(ctx context.Context, onRampID, channelName string) (*types.Receipt, error) {
	return r.manager.Send(ctx, "acceptOnRamp",
		common.HexToHash(onRampID), chain.HashUTF8(channelName))
}

// SubmitReceipt records the off-chain payment receipt for an on-ramp.
func (r *Responder) SubmitReceipt(ctx context.Context, onRampID, receiptID string) (*types.Receipt, error) {
	return r.manager.Send(ctx, "submitReceiptId",
		common.HexToHash(onRampID), chain.HashUTF8(receiptID))
}

// Stake locks funds with a liquidity provider.
func (r *Responder) Stake(ctx context.Context, amount, provider string) (*types.Receipt, error) {
	parsed, err := parseAmount(amount)
	if err != nil {
		return nil, err
	}
	return r.manager.Send(ctx, "stake", parsed, common.HexToAddress(provider))
}
