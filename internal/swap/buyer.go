package swap

import (
	"context"
	"strconv"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"

	"github.com/rarimo/swap-svc/internal/notes"
	"github.com/rarimo/swap-svc/internal/session"
	"github.com/rarimo/swap-svc/internal/signer"
)

// Propose opens the session: the buyer publishes the full terms and its
// LogicSig size hint so the seller can plan fees for the buyer's leg.
func (m *Machine) Propose(ctx context.Context) error {
	if err := m.requireRole(session.RoleBuyer); err != nil {
		return err
	}
	if err := m.requireStatus(StatusPending); err != nil {
		return err
	}

	lsigSize := 0
	if info, err := m.signer.KeyInfo(m.state.MyAddress); err != nil {
		return err
	} else if info != nil {
		lsigSize = info.LsigSize
	}

	terms := m.terms()
	proposal := session.ProposalHash(terms)

	txid, err := m.channel.Send(ctx, notePropose, map[string]interface{}{
		"proposal":     proposal,
		"offer_asa":    terms.OfferAsset,
		"offer_amount": terms.OfferAmount,
		"want_asa":     terms.WantAsset,
		"want_amount":  terms.WantAmount,
		"app_id":       m.state.AppID,
		"lsig_size":    lsigSize,
	})
	if err != nil {
		return err
	}

	m.state.Status = StatusProposeSent
	m.state.Record("sent " + notePropose + " in " + txid)
	m.log.WithField("proposal", proposal).Info("proposed swap")
	return m.save()
}

// AwaitPartial blocks until the seller announces its half-signed group.
// Announcements for other proposals are consumed and ignored.
func (m *Machine) AwaitPartial(ctx context.Context) error {
	if err := m.requireRole(session.RoleBuyer); err != nil {
		return err
	}
	if err := m.requireStatus(StatusProposeSent); err != nil {
		return err
	}

	proposal := m.proposal()
	msg, err := m.channel.WaitFor(ctx, func(msg *notes.Message) bool {
		return msg.Note.Type == notePartial && msg.Note.Str("proposal") == proposal
	})
	if err != nil {
		return err
	}

	if appID := msg.Note.Uint("app_id"); appID != 0 && appID != m.state.AppID {
		return errors.New("seller points at exchange app " + strconv.FormatUint(appID, 10) +
			", session uses " + strconv.FormatUint(m.state.AppID, 10))
	}

	m.state.BoxName = proposal
	m.state.Status = StatusPartialReceived
	m.state.Record("received " + notePartial + " in " + msg.TxID)
	return m.save()
}

// VerifyAndSubmit fetches the seller's record from the exchange box,
// checks every agreed term against the planned group, signs the buyer's
// leg and submits the assembled group.
func (m *Machine) VerifyAndSubmit(ctx context.Context) error {
	if err := m.requireRole(session.RoleBuyer); err != nil {
		return err
	}
	if err := m.requireStatus(StatusPartialReceived); err != nil {
		return err
	}

	proposal := m.proposal()
	raw, err := m.boxes.Read(ctx, []byte(proposal))
	if err != nil {
		return errors.Wrap(err, "failed to read exchange box")
	}

	record, err := decodeRecord(raw)
	if err != nil {
		return err
	}
	if record.ProposalHash != proposal {
		return errors.New("exchange record is for proposal " + record.ProposalHash + ", expected " + proposal)
	}

	planned, err := record.plannedBytes()
	if err != nil {
		return err
	}
	sellerSigned, err := record.signedBytes()
	if err != nil {
		return err
	}

	txns, err := m.verifyPlanned(planned, sellerSigned)
	if err != nil {
		return err
	}

	// Sign only the buyer leg; everything else in the group is the
	// seller's business and stays foreign.
	slots := make([]signer.Slot, len(txns))
	for i, txn := range txns {
		if i == 0 {
			slots[i] = signer.Sign(txn, "", nil)
		} else {
			slots[i] = signer.Foreign(txn, 0)
		}
	}

	buyerSigned, err := m.signer.SignGroup(slots...)
	if err != nil {
		return errors.Wrap(err, "failed to sign buyer leg")
	}

	blob, err := signer.AssembleGroup(sellerSigned, buyerSigned)
	if err != nil {
		return err
	}

	txid, err := m.ledger.Submit(ctx, blob)
	if err != nil {
		return err
	}
	round, err := m.ledger.WaitForConfirmation(ctx, txid, confirmRounds)
	if err != nil {
		return err
	}

	m.state.GroupTxID = txid
	m.state.Status = StatusSubmitted
	m.state.Record("submitted swap group " + txid)
	m.log.WithFields(logan.F{"txid": txid, "round": round}).Info("swap settled")
	return m.save()
}

// verifyPlanned decodes the planned group and checks it matches the
// agreed terms: leg 0 moves the buyer's offer to the seller, leg 1 moves
// the seller's asset back, the seller has signed everything except leg 0
// and nothing else rides along.
func (m *Machine) verifyPlanned(planned, sellerSigned [][]byte) ([]types.Transaction, error) {
	if len(planned) < 2 {
		return nil, errors.New("planned group has fewer than two transactions")
	}
	if len(sellerSigned) != len(planned) {
		return nil, errors.New("signature list does not match the planned group")
	}

	txns := make([]types.Transaction, len(planned))
	for i, raw := range planned {
		txn, err := decodeTxn(raw)
		if err != nil {
			return nil, err
		}
		txns[i] = txn
	}

	terms := m.terms()
	if err := verifyLeg(txns[0], terms.Buyer, terms.Seller, terms.OfferAmount, terms.OfferAsset); err != nil {
		return nil, errors.Wrap(err, "buyer leg does not match the agreed terms")
	}
	if err := verifyLeg(txns[1], terms.Seller, terms.Buyer, terms.WantAmount, terms.WantAsset); err != nil {
		return nil, errors.Wrap(err, "seller leg does not match the agreed terms")
	}

	for i, txn := range txns {
		if i == 0 {
			if sellerSigned[0] != nil {
				return nil, errors.New("seller pre-signed the buyer leg")
			}
			continue
		}
		if sellerSigned[i] == nil {
			return nil, errors.New("seller left slot " + strconv.Itoa(i) + " unsigned")
		}
		// Extra slots beyond the two legs may only be the signer's fee
		// or size padding, which must never move funds from the buyer.
		if i > 1 && txn.Sender.String() == terms.Buyer {
			return nil, errors.New("planned group slot " + strconv.Itoa(i) + " spends from the buyer")
		}
	}

	return txns, nil
}

// verifyLeg checks one settlement transfer against the agreed movement.
func verifyLeg(txn types.Transaction, from, to string, amount, assetID uint64) error {
	if txn.Sender.String() != from {
		return errors.New("sender is " + txn.Sender.String() + ", expected " + from)
	}

	if assetID == 0 {
		if txn.Type != types.PaymentTx {
			return errors.New("expected a payment, got " + string(txn.Type))
		}
		if txn.Receiver.String() != to {
			return errors.New("receiver is " + txn.Receiver.String() + ", expected " + to)
		}
		if uint64(txn.Amount) != amount {
			return errors.New("amount is " + strconv.FormatUint(uint64(txn.Amount), 10) +
				", expected " + strconv.FormatUint(amount, 10))
		}
		if !txn.CloseRemainderTo.IsZero() {
			return errors.New("payment closes the account")
		}
		return nil
	}

	if txn.Type != types.AssetTransferTx {
		return errors.New("expected an asset transfer, got " + string(txn.Type))
	}
	if uint64(txn.XferAsset) != assetID {
		return errors.New("asset is " + strconv.FormatUint(uint64(txn.XferAsset), 10) +
			", expected " + strconv.FormatUint(assetID, 10))
	}
	if txn.AssetReceiver.String() != to {
		return errors.New("asset receiver is " + txn.AssetReceiver.String() + ", expected " + to)
	}
	if txn.AssetAmount != amount {
		return errors.New("asset amount is " + strconv.FormatUint(txn.AssetAmount, 10) +
			", expected " + strconv.FormatUint(amount, 10))
	}
	if !txn.AssetCloseTo.IsZero() {
		return errors.New("transfer closes the asset position")
	}
	return nil
}
