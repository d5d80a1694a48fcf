package swap

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

// Session statuses in the order the protocol advances through them.
const (
	StatusPending         = "pending"
	StatusProposeSent     = "propose_sent"
	StatusProposeReceived = "propose_received"
	StatusPartialSent     = "partial_sent"
	StatusPartialReceived = "partial_received"
	StatusSubmitted       = "submitted"
	StatusComplete        = "complete"
)

// Message family and the note types exchanged over the channel.
const (
	NoteFamily  = "swap_"
	notePropose = "swap_propose"
	notePartial = "swap_partial"
)

const (
	transferPollInterval = 5 * time.Second
	confirmRounds        = 10
)

// Signer is the slice of signer.Client the machine needs.
type Signer interface {
	SignBlob(slots ...signer.Slot) ([]byte, error)
	SignGroup(slots ...signer.Slot) ([][]byte, error)
	PlanGroup(slots ...signer.Slot) (*signer.Plan, error)
	KeyInfo(address string) (*signer.KeyInfo, error)
}

// Ledger is the slice of chain.Client the machine needs.
type Ledger interface {
	SuggestedParams(ctx context.Context) (types.SuggestedParams, error)
	Submit(ctx context.Context, blob []byte) (string, error)
	WaitForConfirmation(ctx context.Context, txid string, maxRounds uint64) (uint64, error)
	HoldsAsset(ctx context.Context, address string, assetID uint64) (bool, error)
	ReceivedTransfers(ctx context.Context, receiver string, assetID, minRound uint64) ([]chain.Record, error)
}

// Boxes stores the seller's partially signed group on chain.
type Boxes interface {
	Write(ctx context.Context, sender string, name, data []byte, acl []string) (string, error)
	Read(ctx context.Context, name []byte) ([]byte, error)
	Delete(ctx context.Context, sender string, name []byte) (string, error)
}

// Channel carries the coordination notes between the two parties.
type Channel interface {
	Send(ctx context.Context, noteType string, body map[string]interface{}) (string, error)
	WaitFor(ctx context.Context, accept func(*notes.Message) bool) (*notes.Message, error)
	Snapshot() (uint64, []string)
	Resume(minRound uint64, seenTxIDs []string)
}

// Machine drives one side of a generic atomic swap. The seller signs its
// leg first and parks the partial group in an exchange box; the buyer
// verifies the planned group against the agreed terms, adds its own
// signature and submits. Either both legs land in one group or neither
// does.
type Machine struct {
	log     *logan.Entry
	signer  Signer
	ledger  Ledger
	boxes   Boxes
	channel Channel
	store   *session.Store
	state   *session.State
}

// New creates a machine over an existing session state and resumes the
// channel's receive cursor from it.
func New(log *logan.Entry, sig Signer, ledger Ledger, boxes Boxes, channel Channel, store *session.Store, state *session.State) *Machine {
	channel.Resume(state.LastSeenRound, state.SeenTxIDs)
	return &Machine{
		log:     log.WithField("who", "swap-"+string(state.Role)),
		signer:  sig,
		ledger:  ledger,
		boxes:   boxes,
		channel: channel,
		store:   store,
		state:   state,
	}
}

// State exposes the live session state, mainly for status reporting.
func (m *Machine) State() *session.State {
	return m.state
}

// EnsureOptIn opts the local account in to the ASA with a zero-amount
// self transfer when it does not hold it yet. Asset id 0 needs no opt-in.
func (m *Machine) EnsureOptIn(ctx context.Context, assetID uint64) error {
	if assetID == 0 {
		return nil
	}

	holds, err := m.ledger.HoldsAsset(ctx, m.state.MyAddress, assetID)
	if err != nil {
		return err
	}
	if holds {
		return nil
	}

	params, err := m.ledger.SuggestedParams(ctx)
	if err != nil {
		return err
	}
	txn, err := transaction.MakeAssetTransferTxn(m.state.MyAddress, m.state.MyAddress, 0, nil, params, "", assetID)
	if err != nil {
		return errors.Wrap(err, "failed to build opt-in transfer")
	}

	blob, err := m.signer.SignBlob(signer.Sign(txn, "", nil))
	if err != nil {
		return errors.Wrap(err, "failed to sign opt-in transfer")
	}
	txid, err := m.ledger.Submit(ctx, blob)
	if err != nil {
		return err
	}
	if _, err := m.ledger.WaitForConfirmation(ctx, txid, confirmRounds); err != nil {
		return err
	}

	m.log.WithFields(logan.F{"asa": assetID, "txid": txid}).Info("opted in to asset")
	return nil
}

// Complete deletes the exchange box when this side owns one and marks
// the session complete. A failed delete is logged, not fatal: the box
// only locks a refundable minimum balance and the counterparty may have
// already removed it.
func (m *Machine) Complete(ctx context.Context) error {
	if m.state.BoxName != "" {
		if _, err := m.boxes.Delete(ctx, m.state.MyAddress, []byte(m.state.BoxName)); err != nil {
			m.log.WithError(err).Warn("failed to delete exchange box, leaving it behind")
		} else {
			m.state.Record("deleted exchange box " + m.state.BoxName)
		}
	}

	m.state.Status = StatusComplete
	m.state.Record("session complete")
	return m.save()
}

// terms expresses the session's economics from the buyer's perspective,
// whichever side this machine plays.
func (m *Machine) terms() session.Terms {
	if m.state.Role == session.RoleBuyer {
		return session.Terms{
			Buyer:       m.state.MyAddress,
			Seller:      m.state.PeerAddress,
			OfferAsset:  m.state.MyAssetID,
			OfferAmount: m.state.MyAmount,
			WantAsset:   m.state.PeerAssetID,
			WantAmount:  m.state.PeerAmount,
		}
	}
	return session.Terms{
		Buyer:       m.state.PeerAddress,
		Seller:      m.state.MyAddress,
		OfferAsset:  m.state.PeerAssetID,
		OfferAmount: m.state.PeerAmount,
		WantAsset:   m.state.MyAssetID,
		WantAmount:  m.state.MyAmount,
	}
}

// proposal returns the hash binding this session to its terms.
func (m *Machine) proposal() string {
	return session.ProposalHash(m.terms())
}

// save persists the state together with the channel's receive cursor.
// The settlement watcher advances the round watermark past the channel's,
// so the cursor only ever moves forward.
func (m *Machine) save() error {
	round, seen := m.channel.Snapshot()
	if round > m.state.LastSeenRound {
		m.state.LastSeenRound = round
	}
	m.state.SeenTxIDs = seen
	return m.store.Save(m.state)
}

// requireRole guards role-specific operations against being run on the
// wrong side of the session.
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

// makeTransfer builds one settlement leg: a payment for the native token
// or an asset transfer for an ASA.
func makeTransfer(from, to string, amount, assetID uint64, params types.SuggestedParams) (types.Transaction, error) {
	if assetID == 0 {
		txn, err := transaction.MakePaymentTxn(from, to, amount, nil, "", params)
		if err != nil {
			return types.Transaction{}, errors.Wrap(err, "failed to build payment leg")
		}
		return txn, nil
	}

	txn, err := transaction.MakeAssetTransferTxn(from, to, amount, nil, params, "", assetID)
	if err != nil {
		return types.Transaction{}, errors.Wrap(err, "failed to build asset transfer leg")
	}
	return txn, nil
}
