package transfer

import (
	"context"
	"fmt"

	"github.com/ava-labs/near-relayer/pkg/journal"
	"github.com/ava-labs/near-relayer/pkg/proof"
	"github.com/ava-labs/near-relayer/pkg/source"
	ptypes "github.com/ava-labs/near-relayer/pkg/types"
)

// step performs the side effect of stage and returns the checkpoint to record.
func (m *Machine) step(ctx context.Context, r *run, stage journal.Stage) (journal.Checkpoint, error) {
	switch stage {
	case journal.StageWithdrawn:
		return m.withdraw(ctx, r)
	case journal.StageReceiptLocated:
		return m.locateReceipt(ctx, r)
	case journal.StageClientCaughtUp:
		return m.awaitLightClient(ctx, r)
	case journal.StageProofObtained:
		return m.obtainProof(ctx, r)
	case journal.StageCompleted:
		return m.unlock(ctx, r)
	default:
		return journal.Checkpoint{}, fmt.Errorf("no step for stage %q", stage)
	}
}

func (m *Machine) withdraw(ctx context.Context, r *run) (journal.Checkpoint, error) {
	req := r.inv.Request

	var (
		w   *journal.Withdrawn
		err error
	)
	if r.inv.WithdrawTx != nil {
		r.sugar.Infow("recovering broadcast withdrawal", "withdrawTx", r.inv.WithdrawTx)
		w, err = m.source.OutcomeByHash(ctx, *r.inv.WithdrawTx, req.Sender)
	} else {
		if err := m.source.VerifyAccount(ctx, req.Sender); err != nil {
			return journal.Checkpoint{}, err
		}
		m.logSourceBalance(ctx, r, "sender balance before withdrawal")
		w, err = m.source.Withdraw(ctx, req)
	}
	if err != nil {
		return journal.Checkpoint{}, err
	}

	next := r.cp.Advance(journal.StageWithdrawn, func(p *journal.Payloads) {
		p.Withdrawn = w
	})
	r.sugar.Infow("withdrawal executed", "withdrawTx", withdrawTx(next), "receipts", len(w.ReceiptIDs))
	return next, nil
}

func (m *Machine) locateReceipt(ctx context.Context, r *run) (journal.Checkpoint, error) {
	loc, err := source.LocateReceipt(r.cp.Stages.Withdrawn)
	if err != nil {
		return journal.Checkpoint{}, err
	}
	block, err := m.source.BlockByHash(ctx, loc.BlockHash)
	if err != nil {
		return journal.Checkpoint{}, fmt.Errorf("load receipt block %s: %w", loc.BlockHash, err)
	}

	r.sugar.Infow("receipt located",
		"receiptId", loc.ReceiptID,
		"block", loc.BlockHash,
		"height", block.Header.Height,
	)
	return r.cp.Advance(journal.StageReceiptLocated, func(p *journal.Payloads) {
		p.ReceiptLocated = &journal.ReceiptLocated{
			ReceiptID:   journal.Binary(loc.ReceiptID[:]),
			Kind:        loc.Kind,
			BlockHash:   journal.Binary(loc.BlockHash[:]),
			BlockHeight: block.Header.Height,
		}
	}), nil
}

// awaitLightClient waits for NEAR to finalize a block above the receipt block,
// then for the light client to pass that final height.
func (m *Machine) awaitLightClient(ctx context.Context, r *run) (journal.Checkpoint, error) {
	located := r.cp.Stages.ReceiptLocated

	final, err := m.source.AwaitFinalBlockAbove(ctx, located.BlockHeight)
	if err != nil {
		return journal.Checkpoint{}, fmt.Errorf("wait for finality above %d: %w", located.BlockHeight, err)
	}
	target := final.Header.Height
	r.sugar.Infow("receipt block final", "receiptHeight", located.BlockHeight, "finalHeight", target)

	head, err := m.light.AwaitHeightAbove(ctx, target)
	if err != nil {
		return journal.Checkpoint{}, fmt.Errorf("wait for light client above %d: %w", target, err)
	}
	m.logSourceBalance(ctx, r, "sender balance after withdrawal")

	return r.cp.Advance(journal.StageClientCaughtUp, func(p *journal.Payloads) {
		p.ClientCaughtUp = &journal.ClientCaughtUp{
			TargetHeight: target,
			HeadHeight:   head.Height,
			HeadHash:     journal.Binary(head.Hash[:]),
		}
	}), nil
}

func (m *Machine) obtainProof(ctx context.Context, r *run) (journal.Checkpoint, error) {
	located := r.cp.Stages.ReceiptLocated
	caught := r.cp.Stages.ClientCaughtUp

	id, err := located.ReceiptID.Hash()
	if err != nil {
		return journal.Checkpoint{}, err
	}
	head, err := caught.HeadHash.Hash()
	if err != nil {
		return journal.Checkpoint{}, err
	}

	raw, err := m.proofs.Request(ctx, proof.Request{
		Kind:            located.Kind,
		ID:              id,
		ReceiverID:      r.inv.Request.Sender,
		LightClientHead: head,
	})
	if err != nil {
		return journal.Checkpoint{}, err
	}

	return r.cp.Advance(journal.StageProofObtained, func(p *journal.Payloads) {
		p.ProofObtained = &journal.ProofObtained{
			RawProof:     journal.Binary(raw),
			AnchorHeight: caught.HeadHeight,
		}
	}), nil
}

func (m *Machine) unlock(ctx context.Context, r *run) (journal.Checkpoint, error) {
	obtained := r.cp.Stages.ProofObtained

	canonical, err := proof.Canonicalize(obtained.RawProof)
	if err != nil {
		return journal.Checkpoint{}, fmt.Errorf("%w: recorded proof: %w", ptypes.ErrProtocolViolation, err)
	}
	if err := m.unlocker.VerifyProof(ctx, canonical, obtained.AnchorHeight); err != nil {
		return journal.Checkpoint{}, err
	}

	req := r.inv.Request
	receipt, err := m.unlocker.Unlock(ctx, canonical, obtained.AnchorHeight, req.TokenContract(), req.RecipientAddress())
	if err != nil {
		return journal.Checkpoint{}, err
	}
	r.unlockTx = receipt.TxHash.Hex()
	return r.cp.Advance(journal.StageCompleted, nil), nil
}

// logSourceBalance logs the sender's NEAR token balance. Failures only warn.
func (m *Machine) logSourceBalance(ctx context.Context, r *run, msg string) {
	req := r.inv.Request
	bal, err := m.source.Balance(ctx, req.TokenAccount, req.Sender)
	if err != nil {
		r.sugar.Warnw("failed to read sender balance", "error", err)
		return
	}
	r.sugar.Infow(msg, "token", req.TokenAccount, "balance", bal)
}
