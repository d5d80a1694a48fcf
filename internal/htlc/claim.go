package htlc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/transaction"
	"github.com/algorand/go-algorand-sdk/v2/types"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"

	"github.com/rarimo/swap-svc/internal/signer"
)

// Claim sweeps the peer's lock with a close-out transfer carrying the
// preimage as a LogicSig argument. The buyer's claim reveals the preimage
// on chain; the seller claims the same way once it has discovered it.
func (m *Machine) Claim(ctx context.Context) error {
	if m.state.PeerHashlock == "" {
		return errors.New("session has no peer lock to claim")
	}

	preimage, err := hex.DecodeString(m.state.Preimage)
	if err != nil || len(preimage) != preimageSize {
		return errors.New("session preimage must be 64 hex characters")
	}
	if sum := sha256.Sum256(preimage); hex.EncodeToString(sum[:]) != m.state.Hash {
		return errors.New("session preimage does not match the lock hash")
	}

	if err := m.VerifyPeerFunding(ctx); err != nil {
		return err
	}

	params, err := m.ledger.SuggestedParams(ctx)
	if err != nil {
		return err
	}

	// Zero amount plus a close-out field sweeps the whole position.
	claim, err := buildClaim(m.state.PeerHashlock, m.state.MyAddress, m.state.PeerAssetID, params)
	if err != nil {
		return err
	}

	txid, err := m.submit(ctx, signer.Sign(claim, m.state.PeerHashlock, signer.Args{"preimage": preimage}))
	if err != nil {
		return err
	}

	m.state.ClaimTxID = txid
	m.state.Record("claimed peer lock in " + txid)
	m.log.WithFields(logan.F{"lock": m.state.PeerHashlock, "txid": txid}).Info("claimed lock")
	return m.save()
}

// WaitForPreimage polls for a claim spent from this side's own lock and
// extracts the preimage from its LogicSig arguments. Arguments that do
// not hash to the session hash are ignored.
func (m *Machine) WaitForPreimage(ctx context.Context) error {
	if m.state.MyHashlock == "" {
		return errors.New("session has no lock to watch")
	}

	for {
		records, err := m.ledger.SentTransactions(ctx, m.state.MyHashlock, m.state.LastSeenRound)
		if err != nil {
			return err
		}

		for _, record := range records {
			if len(record.LogicSigArgs) == 0 {
				continue
			}
			preimage := record.LogicSigArgs[0]
			if sum := sha256.Sum256(preimage); hex.EncodeToString(sum[:]) != m.state.Hash {
				continue
			}

			if record.Round > m.state.LastSeenRound {
				m.state.LastSeenRound = record.Round
			}
			m.state.Preimage = hex.EncodeToString(preimage)
			m.state.Status = StatusPreimageFound
			m.state.Record("discovered preimage in " + record.ID)
			m.log.WithFields(logan.F{"txid": record.ID, "round": record.Round}).Info("preimage revealed")
			return m.save()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(claimPollInterval):
		}
	}
}

// buildClaim builds the close-out transfer from a lock: a zero-amount
// payment closing the account for the native token, a zero-amount asset
// transfer closing the holding otherwise.
func buildClaim(lock, recipient string, assetID uint64, params types.SuggestedParams) (types.Transaction, error) {
	if assetID == 0 {
		txn, err := transaction.MakePaymentTxn(lock, recipient, 0, nil, recipient, params)
		if err != nil {
			return types.Transaction{}, errors.Wrap(err, "failed to build claim payment")
		}
		return txn, nil
	}

	txn, err := transaction.MakeAssetTransferTxn(lock, recipient, 0, nil, params, recipient, assetID)
	if err != nil {
		return types.Transaction{}, errors.Wrap(err, "failed to build claim transfer")
	}
	return txn, nil
}
