package htlc

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/algorand/go-algorand-sdk/v2/transaction"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"

	"github.com/rarimo/swap-svc/internal/session"
	"github.com/rarimo/swap-svc/internal/signer"
)

// GeneratePreimage draws the buyer's 32-byte secret and stores it with
// its SHA-256 hash. The preimage stays local until the claim reveals it.
func (m *Machine) GeneratePreimage() error {
	if err := m.requireRole(session.RoleBuyer); err != nil {
		return err
	}
	if m.state.Preimage != "" {
		return errors.New("session already has a preimage")
	}

	preimage := make([]byte, preimageSize)
	if _, err := rand.Read(preimage); err != nil {
		return errors.Wrap(err, "failed to draw preimage")
	}
	sum := sha256.Sum256(preimage)

	m.state.Preimage = hex.EncodeToString(preimage)
	m.state.Hash = hex.EncodeToString(sum[:])
	m.state.Record("generated preimage, hash " + m.state.Hash)
	m.log.WithField("hash", m.state.Hash).Info("generated preimage")
	return m.save()
}

// CreateLock generates a hashlock key on the signer: the peer claims it
// with the preimage, this side refunds it after timeoutRound. The seller
// must pick a timeout strictly before the buyer's, an equal round is
// rejected.
func (m *Machine) CreateLock(timeoutRound uint64) error {
	if m.state.MyHashlock != "" {
		return errors.New("session already has a lock at " + m.state.MyHashlock)
	}
	if len(m.state.Hash) != 2*sha256.Size {
		return errors.New("session hash must be 64 hex characters")
	}
	if _, err := hex.DecodeString(m.state.Hash); err != nil {
		return errors.Wrap(err, "session hash is not valid hex")
	}
	if timeoutRound == 0 {
		return errors.New("timeout round must be positive")
	}
	if m.state.Role == session.RoleSeller && m.state.PeerTimeout != 0 && timeoutRound >= m.state.PeerTimeout {
		return errors.New("seller timeout " + strconv.FormatUint(timeoutRound, 10) +
			" must expire before buyer timeout " + strconv.FormatUint(m.state.PeerTimeout, 10))
	}

	result, err := m.signer.GenerateKey(KeyTypeHashlock, map[string]string{
		"hash":           m.state.Hash,
		"recipient":      m.state.PeerAddress,
		"refund_address": m.state.MyAddress,
		"timeout_round":  strconv.FormatUint(timeoutRound, 10),
	})
	if err != nil {
		return errors.Wrap(err, "failed to generate hashlock key")
	}

	m.state.MyHashlock = result.Address
	m.state.MyTimeout = timeoutRound
	m.state.Record("created lock " + result.Address + ", timeout round " + strconv.FormatUint(timeoutRound, 10))
	m.log.WithFields(logan.F{"lock": result.Address, "timeout": timeoutRound}).Info("created hashlock")
	return m.save()
}

// FundLock sends the lock its operating ALGO: minimum balance, the ASA
// opt-in slot and fees for the eventual claim.
func (m *Machine) FundLock(ctx context.Context, amount uint64) error {
	if m.state.MyHashlock == "" {
		return errors.New("session has no lock to fund")
	}
	if amount < m.state.FundAmount {
		return errors.New("funding amount " + strconv.FormatUint(amount, 10) +
			" is below the required " + strconv.FormatUint(m.state.FundAmount, 10))
	}

	params, err := m.ledger.SuggestedParams(ctx)
	if err != nil {
		return err
	}
	txn, err := transaction.MakePaymentTxn(m.state.MyAddress, m.state.MyHashlock, amount, nil, "", params)
	if err != nil {
		return errors.Wrap(err, "failed to build funding payment")
	}

	txid, err := m.submit(ctx, signer.Sign(txn, "", nil))
	if err != nil {
		return err
	}

	m.state.Record("funded lock with " + strconv.FormatUint(amount, 10) + " microalgos in " + txid)
	return m.save()
}

// OptInLock opts the lock into this side's ASA with a zero self-transfer
// authorized by the lock itself. A no-op when offering the native token.
func (m *Machine) OptInLock(ctx context.Context) error {
	if m.state.MyAssetID == 0 {
		return nil
	}
	if m.state.MyHashlock == "" {
		return errors.New("session has no lock to opt in")
	}

	params, err := m.ledger.SuggestedParams(ctx)
	if err != nil {
		return err
	}
	txn, err := transaction.MakeAssetTransferTxn(m.state.MyHashlock, m.state.MyHashlock, 0, nil, params, "", m.state.MyAssetID)
	if err != nil {
		return errors.Wrap(err, "failed to build opt-in transfer")
	}

	txid, err := m.submit(ctx, signer.Sign(txn, m.state.MyHashlock, nil))
	if err != nil {
		return err
	}

	m.state.Record("opted lock into asset " + strconv.FormatUint(m.state.MyAssetID, 10) + " in " + txid)
	return m.save()
}

// FundLockAsset moves the offered asset into the lock: the amount agreed
// in the session terms, as a payment when offering the native token.
func (m *Machine) FundLockAsset(ctx context.Context) error {
	if m.state.MyHashlock == "" {
		return errors.New("session has no lock to fund")
	}
	if m.state.MyAmount == 0 {
		return errors.New("session has no offered amount")
	}

	params, err := m.ledger.SuggestedParams(ctx)
	if err != nil {
		return err
	}
	txn, err := makeTransfer(m.state.MyAddress, m.state.MyHashlock, m.state.MyAmount, m.state.MyAssetID, params)
	if err != nil {
		return err
	}

	txid, err := m.submit(ctx, signer.Sign(txn, "", nil))
	if err != nil {
		return err
	}

	m.state.Record("locked " + strconv.FormatUint(m.state.MyAmount, 10) +
		" of asset " + strconv.FormatUint(m.state.MyAssetID, 10) + " in " + txid)
	m.log.WithFields(logan.F{"asa": m.state.MyAssetID, "amount": m.state.MyAmount, "txid": txid}).
		Info("funded lock")
	return m.save()
}

// VerifyPeerFunding checks the peer's lock actually holds the agreed
// amount before this side commits its own funds or claims.
func (m *Machine) VerifyPeerFunding(ctx context.Context) error {
	if m.state.PeerHashlock == "" {
		return errors.New("session has no peer lock yet")
	}

	balance, err := m.ledger.Balance(ctx, m.state.PeerHashlock, m.state.PeerAssetID)
	if err != nil {
		return err
	}
	if balance < m.state.PeerAmount {
		return errors.New("peer lock holds " + strconv.FormatUint(balance, 10) +
			" of asset " + strconv.FormatUint(m.state.PeerAssetID, 10) +
			", expected at least " + strconv.FormatUint(m.state.PeerAmount, 10))
	}

	m.state.Record("verified peer lock funding")
	return m.save()
}
