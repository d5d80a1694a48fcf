package htlc

import (
	"context"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/transaction"
	"github.com/algorand/go-algorand-sdk/v2/types"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"

	"github.com/rarimo/swap-svc/internal/chain"
	"github.com/rarimo/swap-svc/internal/notes"
	"github.com/rarimo/swap-svc/internal/session"
	"github.com/rarimo/swap-svc/internal/signer"
)

// Session statuses in the order the protocol advances through them. The
// buyer moves through the offer statuses, the seller mirrors them.
const (
	StatusPending        = "pending"
	StatusOfferSent      = "offer_sent"
	StatusOfferReceived  = "offer_received"
	StatusAcceptSent     = "accept_sent"
	StatusAcceptReceived = "accept_received"
	StatusPreimageFound  = "preimage_discovered"
	StatusComplete       = "complete"
)

// Message family and the note types exchanged over the channel.
const (
	NoteFamily = "htlc_"
	noteOffer  = "htlc_offer"
	noteAccept = "htlc_accept"
)

const (
	// KeyTypeHashlock is the signer key type backing the lock accounts.
	KeyTypeHashlock = "hashlock-v1"

	// DefaultFundAmount covers the lock's minimum balance with one ASA
	// opt-in plus fees.
	DefaultFundAmount = 300000

	// Timeout offsets from the current round. The seller's lock must
	// expire first, otherwise the buyer could claim the seller's funds
	// and still refund its own lock.
	BuyerTimeoutOffset  = 500
	SellerTimeoutOffset = 200

	preimageSize      = 32
	claimPollInterval = 5 * time.Second
	confirmRounds     = 10
)

// Signer is the slice of signer.Client the machine needs.
type Signer interface {
	SignBlob(slots ...signer.Slot) ([]byte, error)
	GenerateKey(keyType string, parameters map[string]string) (*signer.GenerateResult, error)
}

// Ledger is the slice of chain.Client the machine needs.
type Ledger interface {
	SuggestedParams(ctx context.Context) (types.SuggestedParams, error)
	Submit(ctx context.Context, blob []byte) (string, error)
	WaitForConfirmation(ctx context.Context, txid string, maxRounds uint64) (uint64, error)
	CurrentRound(ctx context.Context) (uint64, error)
	Balance(ctx context.Context, address string, assetID uint64) (uint64, error)
	SentTransactions(ctx context.Context, sender string, minRound uint64) ([]chain.Record, error)
}

// Channel carries the coordination notes between the two parties.
type Channel interface {
	Send(ctx context.Context, noteType string, body map[string]interface{}) (string, error)
	WaitFor(ctx context.Context, accept func(*notes.Message) bool) (*notes.Message, error)
	Snapshot() (uint64, []string)
	Resume(minRound uint64, seenTxIDs []string)
}

// Machine drives one side of a hash time-locked swap. Each party locks
// its asset behind the same hash in a LogicSig account the signer holds;
// the buyer's claim of the seller's lock reveals the preimage on chain,
// which in turn lets the seller claim the buyer's lock.
type Machine struct {
	log     *logan.Entry
	signer  Signer
	ledger  Ledger
	channel Channel
	store   *session.Store
	state   *session.State
}

// New creates a machine over an existing session state and resumes the
// channel's receive cursor from it.
func New(log *logan.Entry, sig Signer, ledger Ledger, channel Channel, store *session.Store, state *session.State) *Machine {
	if state.FundAmount == 0 {
		state.FundAmount = DefaultFundAmount
	}
	channel.Resume(state.LastSeenRound, state.SeenTxIDs)
	return &Machine{
		log:     log.WithField("who", "htlc-"+string(state.Role)),
		signer:  sig,
		ledger:  ledger,
		channel: channel,
		store:   store,
		state:   state,
	}
}

// State exposes the live session state, mainly for status reporting.
func (m *Machine) State() *session.State {
	return m.state
}

// CurrentRound reports the ledger's last committed round, the base for
// picking timeout rounds.
func (m *Machine) CurrentRound(ctx context.Context) (uint64, error) {
	return m.ledger.CurrentRound(ctx)
}

// Complete marks the session finished. Locks left with funds after their
// timeout can still be refunded manually through the signer.
func (m *Machine) Complete() error {
	m.state.Status = StatusComplete
	m.state.Record("session complete")
	return m.save()
}

// save persists the state together with the channel's receive cursor.
// The claim watcher advances the round watermark past the channel's, so
// the cursor only ever moves forward.
func (m *Machine) save() error {
	round, seen := m.channel.Snapshot()
	if round > m.state.LastSeenRound {
		m.state.LastSeenRound = round
	}
	m.state.SeenTxIDs = seen
	return m.store.Save(m.state)
}

func (m *Machine) requireRole(role session.Role) error {
	if m.state.Role != role {
		return errors.New("operation requires role " + string(role) + ", session is " + string(m.state.Role))
	}
	return nil
}

// requireStatus guards against running steps out of order or twice.
func (m *Machine) requireStatus(statuses ...string) error {
	for _, status := range statuses {
		if m.state.Status == status {
			return nil
		}
	}
	return errors.New("operation not valid in status " + m.state.Status)
}

// submit signs, submits and waits out one transaction.
func (m *Machine) submit(ctx context.Context, slot signer.Slot) (string, error) {
	blob, err := m.signer.SignBlob(slot)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign transaction")
	}
	txid, err := m.ledger.Submit(ctx, blob)
	if err != nil {
		return "", err
	}
	if _, err := m.ledger.WaitForConfirmation(ctx, txid, confirmRounds); err != nil {
		return "", err
	}
	return txid, nil
}

// makeTransfer builds one funding or claim transfer: a payment for the
// native token or an asset transfer for an ASA.
func makeTransfer(from, to string, amount, assetID uint64, params types.SuggestedParams) (types.Transaction, error) {
	if assetID == 0 {
		txn, err := transaction.MakePaymentTxn(from, to, amount, nil, "", params)
		if err != nil {
			return types.Transaction{}, errors.Wrap(err, "failed to build payment")
		}
		return txn, nil
	}

	txn, err := transaction.MakeAssetTransferTxn(from, to, amount, nil, params, "", assetID)
	if err != nil {
		return types.Transaction{}, errors.Wrap(err, "failed to build asset transfer")
	}
	return txn, nil
}

func validAddress(addr string) bool {
	_, err := types.DecodeAddress(addr)
	return err == nil
}
