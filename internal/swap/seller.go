package swap

import (
	"context"
	"strconv"
	"time"

	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"

	"github.com/rarimo/swap-svc/internal/notes"
	"github.com/rarimo/swap-svc/internal/session"
	"github.com/rarimo/swap-svc/internal/signer"
)

// AwaitProposal blocks until the buyer proposes a swap, adopts the
// proposed terms into the session and verifies the proposal hash binds
// them. When the session already carries expected terms, a proposal that
// disagrees with them is rejected.
func (m *Machine) AwaitProposal(ctx context.Context) error {
	if err := m.requireRole(session.RoleSeller); err != nil {
		return err
	}
	if err := m.requireStatus(StatusPending); err != nil {
		return err
	}

	msg, err := m.channel.WaitFor(ctx, func(msg *notes.Message) bool {
		return msg.Note.Type == notePropose && msg.Note.Has("proposal")
	})
	if err != nil {
		return err
	}
	note := msg.Note

	if m.state.MyAmount != 0 &&
		(note.Uint("want_asa") != m.state.MyAssetID || note.Uint("want_amount") != m.state.MyAmount) {
		return errors.New("proposal asks for " + strconv.FormatUint(note.Uint("want_amount"), 10) +
			" of asset " + strconv.FormatUint(note.Uint("want_asa"), 10) +
			", session offers " + strconv.FormatUint(m.state.MyAmount, 10) +
			" of asset " + strconv.FormatUint(m.state.MyAssetID, 10))
	}

	m.state.MyAssetID = note.Uint("want_asa")
	m.state.MyAmount = note.Uint("want_amount")
	m.state.PeerAssetID = note.Uint("offer_asa")
	m.state.PeerAmount = note.Uint("offer_amount")
	m.state.PeerLsigSize = note.Uint("lsig_size")
	if appID := note.Uint("app_id"); appID != 0 {
		m.state.AppID = appID
	}

	if got := note.Str("proposal"); got != m.proposal() {
		return errors.New("proposal hash " + got + " does not bind the announced terms")
	}

	m.state.Status = StatusProposeReceived
	m.state.Record("received " + notePropose + " in " + msg.TxID)
	m.log.WithField("proposal", m.proposal()).Info("accepted swap proposal")
	return m.save()
}

// BuildAndSign plans the two-leg settlement group, signs the seller's
// leg, parks the partial group in the exchange box named after the
// proposal and announces it to the buyer.
func (m *Machine) BuildAndSign(ctx context.Context) error {
	if err := m.requireRole(session.RoleSeller); err != nil {
		return err
	}
	if err := m.requireStatus(StatusProposeReceived); err != nil {
		return err
	}

	params, err := m.ledger.SuggestedParams(ctx)
	if err != nil {
		return err
	}

	terms := m.terms()
	buyerLeg, err := makeTransfer(terms.Buyer, terms.Seller, terms.OfferAmount, terms.OfferAsset, params)
	if err != nil {
		return err
	}
	sellerLeg, err := makeTransfer(terms.Seller, terms.Buyer, terms.WantAmount, terms.WantAsset, params)
	if err != nil {
		return err
	}

	// The buyer leg is foreign here: the size hint lets the signer plan
	// fees for the buyer's LogicSig before any signature exists.
	slots := []signer.Slot{
		signer.Foreign(buyerLeg, int(m.state.PeerLsigSize)),
		signer.Sign(sellerLeg, "", nil),
	}

	plan, err := m.signer.PlanGroup(slots...)
	if err != nil {
		return errors.Wrap(err, "failed to plan settlement group")
	}
	signed, err := m.signer.SignGroup(slots...)
	if err != nil {
		return errors.Wrap(err, "failed to sign seller leg")
	}

	proposal := m.proposal()
	record, err := encodeRecord(proposal, plan.Transactions, signed)
	if err != nil {
		return err
	}

	acl := []string{m.state.MyAddress, m.state.PeerAddress}
	if _, err := m.boxes.Write(ctx, m.state.MyAddress, []byte(proposal), record, acl); err != nil {
		return errors.Wrap(err, "failed to write exchange box")
	}
	m.state.BoxName = proposal

	txid, err := m.channel.Send(ctx, notePartial, map[string]interface{}{
		"proposal": proposal,
		"app_id":   m.state.AppID,
	})
	if err != nil {
		return err
	}

	m.state.Status = StatusPartialSent
	m.state.Record("sent " + notePartial + " in " + txid)
	m.log.WithField("proposal", proposal).Info("published partial group")
	return m.save()
}

// AwaitTransfer blocks until the buyer's settlement leg lands in the
// seller's account, which means the whole group was submitted. Carrier
// notes and unrelated transfers are skipped.
func (m *Machine) AwaitTransfer(ctx context.Context) error {
	if err := m.requireRole(session.RoleSeller); err != nil {
		return err
	}
	if err := m.requireStatus(StatusPartialSent); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(m.state.SeenTxIDs))
	for _, id := range m.state.SeenTxIDs {
		seen[id] = struct{}{}
	}

	for {
		records, err := m.ledger.ReceivedTransfers(ctx, m.state.MyAddress, m.state.PeerAssetID, m.state.LastSeenRound)
		if err != nil {
			return err
		}

		for _, record := range records {
			if _, ok := seen[record.ID]; ok {
				continue
			}
			if record.Sender != m.state.PeerAddress || record.Amount != m.state.PeerAmount {
				continue
			}

			m.state.GroupTxID = record.ID
			if record.Round > m.state.LastSeenRound {
				m.state.LastSeenRound = record.Round
			}
			m.state.Status = StatusSubmitted
			m.state.Record("settlement arrived in " + record.ID)
			m.log.WithFields(logan.F{"txid": record.ID, "round": record.Round}).Info("swap settled")
			return m.save()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(transferPollInterval):
		}
	}
}
