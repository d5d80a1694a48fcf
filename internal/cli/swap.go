package cli

import (
	"context"

	"gitlab.com/distributed_lab/logan/v3/errors"

	"github.com/rarimo/swap-svc/internal/config"
	"github.com/rarimo/swap-svc/internal/exchange"
	"github.com/rarimo/swap-svc/internal/notes"
	"github.com/rarimo/swap-svc/internal/session"
	"github.com/rarimo/swap-svc/internal/swap"
)

// runSwap drives one side of a generic swap session to completion,
// resuming from whatever status the state file holds.
func runSwap(ctx context.Context, cfg config.Config) error {
	info := cfg.Swap()
	state, store, err := loadSession(info, swap.StatusPending)
	if err != nil {
		return err
	}

	log := cfg.Log()
	ledger := cfg.Chain()
	sig := cfg.Signer()
	defer sig.Close()

	channel := notes.New(log, ledger, sig, state.MyAddress, state.PeerAddress, swap.NoteFamily)
	boxes := exchange.New(log, ledger, sig, state.AppID)
	machine := swap.New(log, sig, ledger, boxes, channel, store, state)

	log.WithFields(map[string]interface{}{
		"role":   state.Role,
		"status": state.Status,
	}).Info("driving swap session")

	switch state.Role {
	case session.RoleBuyer:
		return runSwapBuyer(ctx, machine)
	case session.RoleSeller:
		return runSwapSeller(ctx, machine)
	}
	return errors.New("unknown role " + string(state.Role))
}

func runSwapBuyer(ctx context.Context, m *swap.Machine) error {
	for {
		switch status := m.State().Status; status {
		case swap.StatusPending:
			if err := m.EnsureOptIn(ctx, m.State().PeerAssetID); err != nil {
				return err
			}
			if err := m.Propose(ctx); err != nil {
				return err
			}
		case swap.StatusProposeSent:
			if err := m.AwaitPartial(ctx); err != nil {
				return err
			}
		case swap.StatusPartialReceived:
			if err := m.VerifyAndSubmit(ctx); err != nil {
				return err
			}
		case swap.StatusSubmitted:
			if err := m.Complete(ctx); err != nil {
				return err
			}
		case swap.StatusComplete:
			return nil
		default:
			return errors.New("session stuck in status " + status)
		}
	}
}

func runSwapSeller(ctx context.Context, m *swap.Machine) error {
	for {
		switch status := m.State().Status; status {
		case swap.StatusPending:
			if err := m.AwaitProposal(ctx); err != nil {
				return err
			}
		case swap.StatusProposeReceived:
			if err := m.EnsureOptIn(ctx, m.State().PeerAssetID); err != nil {
				return err
			}
			if err := m.BuildAndSign(ctx); err != nil {
				return err
			}
		case swap.StatusPartialSent:
			if err := m.AwaitTransfer(ctx); err != nil {
				return err
			}
		case swap.StatusSubmitted:
			if err := m.Complete(ctx); err != nil {
				return err
			}
		case swap.StatusComplete:
			return nil
		default:
			return errors.New("session stuck in status " + status)
		}
	}
}
