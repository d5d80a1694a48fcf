package htlc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"gitlab.com/distributed_lab/logan/v3/errors"

	"github.com/rarimo/swap-svc/internal/notes"
	"github.com/rarimo/swap-svc/internal/session"
)

// SendOffer announces the buyer's funded lock: the hash both locks share,
// the lock address, the offered asset and the refund timeout.
func (m *Machine) SendOffer(ctx context.Context) error {
	if err := m.requireRole(session.RoleBuyer); err != nil {
		return err
	}
	if m.state.MyHashlock == "" || m.state.Hash == "" {
		return errors.New("lock must be created and funded before the offer")
	}

	txid, err := m.channel.Send(ctx, noteOffer, map[string]interface{}{
		"hash":          m.state.Hash,
		"hashlock_addr": m.state.MyHashlock,
		"asa_id":        m.state.MyAssetID,
		"asa_amount":    m.state.MyAmount,
		"timeout_round": m.state.MyTimeout,
	})
	if err != nil {
		return err
	}

	m.state.Status = StatusOfferSent
	m.state.Record("sent " + noteOffer + " in " + txid)
	return m.save()
}

// SendAccept announces the seller's funded lock in response to an offer.
func (m *Machine) SendAccept(ctx context.Context) error {
	if err := m.requireRole(session.RoleSeller); err != nil {
		return err
	}
	if m.state.MyHashlock == "" {
		return errors.New("lock must be created and funded before accepting")
	}

	txid, err := m.channel.Send(ctx, noteAccept, map[string]interface{}{
		"hashlock_addr": m.state.MyHashlock,
		"asa_id":        m.state.MyAssetID,
		"asa_amount":    m.state.MyAmount,
		"timeout_round": m.state.MyTimeout,
	})
	if err != nil {
		return err
	}

	m.state.Status = StatusAcceptSent
	m.state.Record("sent " + noteAccept + " in " + txid)
	return m.save()
}

// AwaitOffer blocks until the buyer's offer arrives, validates it against
// the expected terms and adopts the hash and lock coordinates.
func (m *Machine) AwaitOffer(ctx context.Context) error {
	if err := m.requireRole(session.RoleSeller); err != nil {
		return err
	}
	if err := m.requireStatus(StatusPending); err != nil {
		return err
	}

	msg, err := m.channel.WaitFor(ctx, func(msg *notes.Message) bool {
		return msg.Note.Type == noteOffer
	})
	if err != nil {
		return err
	}
	note := msg.Note

	hash := note.Str("hash")
	if len(hash) != 2*sha256.Size {
		return errors.New("offer hash must be 64 hex characters")
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return errors.Wrap(err, "offer hash is not valid hex")
	}
	if err := m.checkLockNote(note); err != nil {
		return errors.Wrap(err, "invalid offer")
	}

	m.state.Hash = hash
	m.state.PeerHashlock = note.Str("hashlock_addr")
	m.state.PeerTimeout = note.Uint("timeout_round")
	m.state.Status = StatusOfferReceived
	m.state.Record("received " + noteOffer + " in " + msg.TxID)
	m.log.WithField("lock", m.state.PeerHashlock).Info("received offer")
	return m.save()
}

// AwaitAccept blocks until the seller's accept arrives. The peer's
// timeout must expire strictly before this side's own lock, otherwise the
// counterparty could claim and refund both.
func (m *Machine) AwaitAccept(ctx context.Context) error {
	if err := m.requireRole(session.RoleBuyer); err != nil {
		return err
	}
	// The offer must be out, which also means the own lock and its
	// timeout exist for the safety comparison below.
	if err := m.requireStatus(StatusOfferSent); err != nil {
		return err
	}

	msg, err := m.channel.WaitFor(ctx, func(msg *notes.Message) bool {
		return msg.Note.Type == noteAccept
	})
	if err != nil {
		return err
	}
	note := msg.Note

	if err := m.checkLockNote(note); err != nil {
		return errors.Wrap(err, "invalid accept")
	}
	if note.Uint("timeout_round") >= m.state.MyTimeout {
		return errors.New("unsafe accept: peer timeout " + strconv.FormatUint(note.Uint("timeout_round"), 10) +
			" does not expire before ours " + strconv.FormatUint(m.state.MyTimeout, 10))
	}

	m.state.PeerHashlock = note.Str("hashlock_addr")
	m.state.PeerTimeout = note.Uint("timeout_round")
	m.state.Status = StatusAcceptReceived
	m.state.Record("received " + noteAccept + " in " + msg.TxID)
	m.log.WithField("lock", m.state.PeerHashlock).Info("received accept")
	return m.save()
}

// checkLockNote validates the lock coordinates every offer and accept
// carries against the session's expected terms.
func (m *Machine) checkLockNote(note *notes.Note) error {
	if !validAddress(note.Str("hashlock_addr")) {
		return errors.New("hashlock_addr is not a valid address")
	}
	if note.Uint("timeout_round") == 0 {
		return errors.New("timeout_round must be positive")
	}
	if note.Uint("asa_id") != m.state.PeerAssetID {
		return errors.New("asset " + strconv.FormatUint(note.Uint("asa_id"), 10) +
			" does not match the expected " + strconv.FormatUint(m.state.PeerAssetID, 10))
	}
	if note.Uint("asa_amount") != m.state.PeerAmount {
		return errors.New("amount " + strconv.FormatUint(note.Uint("asa_amount"), 10) +
			" does not match the expected " + strconv.FormatUint(m.state.PeerAmount, 10))
	}
	return nil
}
