package notes

import (
	"context"
	"strings"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/transaction"
	"github.com/algorand/go-algorand-sdk/v2/types"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"

	"github.com/rarimo/swap-svc/internal/chain"
	"github.com/rarimo/swap-svc/internal/signer"
)

const (
	defaultPollInterval = 5 * time.Second
	confirmRounds       = 10
)

// Ledger is the slice of chain.Client the channel needs.
type Ledger interface {
	SuggestedParams(ctx context.Context) (types.SuggestedParams, error)
	Submit(ctx context.Context, blob []byte) (string, error)
	WaitForConfirmation(ctx context.Context, txid string, maxRounds uint64) (uint64, error)
	ReceivedPayments(ctx context.Context, receiver string, notePrefix []byte, minRound uint64) ([]chain.Record, error)
}

// Signer signs the channel's carrier payments.
type Signer interface {
	SignBlob(slots ...signer.Slot) ([]byte, error)
}

// Message is one received channel message.
type Message struct {
	TxID   string
	Sender string
	Round  uint64
	Note   *Note
}

// Channel exchanges typed notes with one peer over zero-amount payments.
// Receiving is a poll over the indexer with a round watermark and a seen
// transaction set, so a message is delivered at most once even though the
// watermark re-polls its own round.
type Channel struct {
	log    *logan.Entry
	ledger Ledger
	signer Signer

	self   string
	peer   string
	family string

	pollInterval time.Duration
	minRound     uint64
	seen         map[string]struct{}
}

// New creates a channel between self and peer for one message family.
func New(log *logan.Entry, ledger Ledger, sig Signer, self, peer, family string) *Channel {
	return &Channel{
		log:          log.WithField("who", "notes-channel"),
		ledger:       ledger,
		signer:       sig,
		self:         self,
		peer:         peer,
		family:       family,
		pollInterval: defaultPollInterval,
		seen:         make(map[string]struct{}),
	}
}

// Resume restores the receive cursor from a previous session.
func (c *Channel) Resume(minRound uint64, seenTxIDs []string) {
	c.minRound = minRound
	for _, id := range seenTxIDs {
		c.seen[id] = struct{}{}
	}
}

// Snapshot returns the receive cursor for persisting.
func (c *Channel) Snapshot() (uint64, []string) {
	ids := make([]string, 0, len(c.seen))
	for id := range c.seen {
		ids = append(ids, id)
	}
	return c.minRound, ids
}

// Send publishes a typed note to the peer as a zero-amount payment and
// waits for it to confirm. Returns the carrier transaction id.
func (c *Channel) Send(ctx context.Context, noteType string, body map[string]interface{}) (string, error) {
	if !strings.HasPrefix(noteType, c.family) {
		return "", errors.New("note type " + noteType + " does not belong to family " + c.family)
	}

	note, err := Encode(noteType, body)
	if err != nil {
		return "", err
	}

	params, err := c.ledger.SuggestedParams(ctx)
	if err != nil {
		return "", err
	}

	txn, err := transaction.MakePaymentTxn(c.self, c.peer, 0, note, "", params)
	if err != nil {
		return "", errors.Wrap(err, "failed to build carrier payment")
	}

	blob, err := c.signer.SignBlob(signer.Sign(txn, "", nil))
	if err != nil {
		return "", errors.Wrap(err, "failed to sign carrier payment")
	}

	txid, err := c.ledger.Submit(ctx, blob)
	if err != nil {
		return "", err
	}

	if _, err := c.ledger.WaitForConfirmation(ctx, txid, confirmRounds); err != nil {
		return "", err
	}

	c.log.WithFields(logan.F{"type": noteType, "txid": txid}).Debug("sent note")
	return txid, nil
}

// WaitFor polls until a message from the peer satisfies accept (nil
// accepts anything in the family). Every polled transaction advances the
// watermark and joins the seen set whether or not it is accepted, so a
// rejected or foreign message is consumed, not redelivered.
func (c *Channel) WaitFor(ctx context.Context, accept func(*Message) bool) (*Message, error) {
	for {
		records, err := c.ledger.ReceivedPayments(ctx, c.self, Prefix(c.family), c.minRound)
		if err != nil {
			return nil, err
		}

		for _, record := range records {
			if _, ok := c.seen[record.ID]; ok {
				continue
			}
			c.seen[record.ID] = struct{}{}
			if record.Round > c.minRound {
				c.minRound = record.Round
			}

			if record.Sender != c.peer {
				c.log.WithField("sender", record.Sender).Debug("ignoring note from non-peer")
				continue
			}

			note, err := Decode(record.Note)
			if err != nil || !strings.HasPrefix(note.Type, c.family) {
				continue
			}

			msg := &Message{TxID: record.ID, Sender: record.Sender, Round: record.Round, Note: note}
			if accept == nil || accept(msg) {
				c.log.WithFields(logan.F{"type": note.Type, "round": msg.Round}).Debug("received note")
				return msg, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}
