package cli

import (
	"context"

	"gitlab.com/distributed_lab/logan/v3/errors"

	"github.com/rarimo/swap-svc/internal/config"
	"github.com/rarimo/swap-svc/internal/htlc"
	"github.com/rarimo/swap-svc/internal/notes"
	"github.com/rarimo/swap-svc/internal/session"
)

// runHTLC drives one side of a hash time-locked swap session to
// completion, resuming from whatever status the state file holds.
func runHTLC(ctx context.Context, cfg config.Config) error {
	info := cfg.HTLC()
	state, store, err := loadSession(info, htlc.StatusPending)
	if err != nil {
		return err
	}

	log := cfg.Log()
	ledger := cfg.Chain()
	sig := cfg.Signer()
	defer sig.Close()

	channel := notes.New(log, ledger, sig, state.MyAddress, state.PeerAddress, htlc.NoteFamily)
	machine := htlc.New(log, sig, ledger, channel, store, state)

	log.WithFields(map[string]interface{}{
		"role":   state.Role,
		"status": state.Status,
	}).Info("driving htlc session")

	switch state.Role {
	case session.RoleBuyer:
		return runHTLCBuyer(ctx, machine, info)
	case session.RoleSeller:
		return runHTLCSeller(ctx, machine, info)
	}
	return errors.New("unknown role " + string(state.Role))
}

func runHTLCBuyer(ctx context.Context, m *htlc.Machine, info *config.SessionInfo) error {
	for {
		switch status := m.State().Status; status {
		case htlc.StatusPending:
			if err := setUpLock(ctx, m, timeoutOffset(info.BuyerTimeoutOffset, htlc.BuyerTimeoutOffset)); err != nil {
				return err
			}
			if err := m.SendOffer(ctx); err != nil {
				return err
			}
		case htlc.StatusOfferSent:
			if err := m.AwaitAccept(ctx); err != nil {
				return err
			}
		case htlc.StatusAcceptReceived:
			if err := m.Claim(ctx); err != nil {
				return err
			}
			if err := m.Complete(); err != nil {
				return err
			}
		case htlc.StatusComplete:
			return nil
		default:
			return errors.New("session stuck in status " + status)
		}
	}
}

func runHTLCSeller(ctx context.Context, m *htlc.Machine, info *config.SessionInfo) error {
	for {
		switch status := m.State().Status; status {
		case htlc.StatusPending:
			if err := m.AwaitOffer(ctx); err != nil {
				return err
			}
		case htlc.StatusOfferReceived:
			if err := m.VerifyPeerFunding(ctx); err != nil {
				return err
			}
			if err := setUpLock(ctx, m, timeoutOffset(info.SellerTimeoutOffset, htlc.SellerTimeoutOffset)); err != nil {
				return err
			}
			if err := m.SendAccept(ctx); err != nil {
				return err
			}
		case htlc.StatusAcceptSent:
			if err := m.WaitForPreimage(ctx); err != nil {
				return err
			}
		case htlc.StatusPreimageFound:
			if err := m.Claim(ctx); err != nil {
				return err
			}
			if err := m.Complete(); err != nil {
				return err
			}
		case htlc.StatusComplete:
			return nil
		default:
			return errors.New("session stuck in status " + status)
		}
	}
}

// setUpLock performs the funding leg of either role: derive the hashlock
// account from the session hash, then move the native funding and the
// offered asset into it. The buyer generates the preimage here; the
// seller already learned the hash from the offer.
func setUpLock(ctx context.Context, m *htlc.Machine, offset uint64) error {
	state := m.State()

	if state.Role == session.RoleBuyer && state.Preimage == "" {
		if err := m.GeneratePreimage(); err != nil {
			return err
		}
	}

	if state.MyHashlock == "" {
		round, err := m.CurrentRound(ctx)
		if err != nil {
			return err
		}
		if err := m.CreateLock(round + offset); err != nil {
			return err
		}
	}

	if err := m.FundLock(ctx, state.FundAmount); err != nil {
		return err
	}
	if err := m.OptInLock(ctx); err != nil {
		return err
	}
	return m.FundLockAsset(ctx)
}

func timeoutOffset(configured, fallback uint64) uint64 {
	if configured > 0 {
		return configured
	}
	return fallback
}
