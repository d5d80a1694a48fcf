package notes

import (
	"context"
	"testing"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/stretchr/testify/require"
	"gitlab.com/distributed_lab/logan/v3"

	"github.com/rarimo/swap-svc/internal/chain"
	"github.com/rarimo/swap-svc/internal/signer"
)

var (
	selfAddr = addrString(1)
	peerAddr = addrString(2)
)

func addrString(b byte) string {
	var addr types.Address
	addr[0] = b
	return addr.String()
}

type fakeLedger struct {
	batches   [][]chain.Record
	calls     int
	minRounds []uint64
	submitted [][]byte
}

func (f *fakeLedger) SuggestedParams(context.Context) (types.SuggestedParams, error) {
	return types.SuggestedParams{
		Fee:             1000,
		FirstRoundValid: 100,
		LastRoundValid:  1100,
		GenesisID:       "testnet-v1.0",
		MinFee:          1000,
		GenesisHash:     make([]byte, 32),
	}, nil
}

func (f *fakeLedger) Submit(_ context.Context, blob []byte) (string, error) {
	f.submitted = append(f.submitted, blob)
	return "TXID", nil
}

func (f *fakeLedger) WaitForConfirmation(context.Context, string, uint64) (uint64, error) {
	return 42, nil
}

func (f *fakeLedger) ReceivedPayments(_ context.Context, _ string, _ []byte, minRound uint64) ([]chain.Record, error) {
	f.minRounds = append(f.minRounds, minRound)
	if f.calls >= len(f.batches) {
		return nil, nil
	}
	batch := f.batches[f.calls]
	f.calls++
	return batch, nil
}

type fakeSigner struct {
	slots []signer.Slot
}

func (f *fakeSigner) SignBlob(slots ...signer.Slot) ([]byte, error) {
	f.slots = append(f.slots, slots...)
	return []byte("signed-blob"), nil
}

func mustNote(t *testing.T, noteType string, body map[string]interface{}) []byte {
	t.Helper()
	raw, err := Encode(noteType, body)
	require.NoError(t, err)
	return raw
}

func testChannel(ledger *fakeLedger, sig *fakeSigner) *Channel {
	ch := New(logan.New(), ledger, sig, selfAddr, peerAddr, "swap_")
	ch.pollInterval = time.Millisecond
	return ch
}

func TestSendBuildsZeroAmountCarrier(t *testing.T) {
	ledger := &fakeLedger{}
	sig := &fakeSigner{}
	ch := testChannel(ledger, sig)

	txid, err := ch.Send(context.Background(), "swap_propose", map[string]interface{}{
		"proposal": "abcd",
	})
	require.NoError(t, err)
	require.Equal(t, "TXID", txid)

	require.Len(t, sig.slots, 1)
	txn := sig.slots[0].Txn()
	require.NotNil(t, txn)
	require.Equal(t, types.MicroAlgos(0), txn.Amount)
	require.Equal(t, `{"type":"swap_propose","proposal":"abcd"}`, string(txn.Note))

	require.Equal(t, [][]byte{[]byte("signed-blob")}, ledger.submitted)
}

func TestSendRejectsForeignFamily(t *testing.T) {
	ch := testChannel(&fakeLedger{}, &fakeSigner{})
	_, err := ch.Send(context.Background(), "htlc_offer", nil)
	require.Error(t, err)
}

func TestWaitForReturnsPeerMessage(t *testing.T) {
	ledger := &fakeLedger{batches: [][]chain.Record{{
		{ID: "T1", Sender: peerAddr, Round: 50, Note: mustNote(t, "swap_propose", map[string]interface{}{"proposal": "p1"})},
	}}}
	ch := testChannel(ledger, &fakeSigner{})

	msg, err := ch.WaitFor(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "swap_propose", msg.Note.Type)
	require.Equal(t, uint64(50), msg.Round)
	require.Equal(t, "p1", msg.Note.Str("proposal"))
}

func TestWaitForDedupAcrossInclusiveRepoll(t *testing.T) {
	first := chain.Record{ID: "T1", Sender: peerAddr, Round: 50,
		Note: mustNote(t, "swap_propose", map[string]interface{}{"n": uint64(1)})}
	second := chain.Record{ID: "T2", Sender: peerAddr, Round: 51,
		Note: mustNote(t, "swap_partial", map[string]interface{}{"n": uint64(2)})}

	// the watermark re-polls round 50 inclusively, so T1 shows up again
	ledger := &fakeLedger{batches: [][]chain.Record{
		{first},
		{first, second},
	}}
	ch := testChannel(ledger, &fakeSigner{})

	msg, err := ch.WaitFor(context.Background(), func(m *Message) bool { return m.Note.Type == "swap_propose" })
	require.NoError(t, err)
	require.Equal(t, "T1", msg.TxID)

	msg, err = ch.WaitFor(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "T2", msg.TxID)

	// second query resumed from T1's round
	require.Equal(t, uint64(50), ledger.minRounds[1])
}

func TestWaitForConsumesNonPeerSenders(t *testing.T) {
	stranger := chain.Record{ID: "T1", Sender: "STRANGER", Round: 50,
		Note: mustNote(t, "swap_propose", nil)}
	fromPeer := chain.Record{ID: "T2", Sender: peerAddr, Round: 51,
		Note: mustNote(t, "swap_propose", nil)}

	ledger := &fakeLedger{batches: [][]chain.Record{{stranger}, {fromPeer}}}
	ch := testChannel(ledger, &fakeSigner{})

	msg, err := ch.WaitFor(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "T2", msg.TxID)

	// the stranger's message advanced the watermark even though it was dropped
	require.Equal(t, uint64(50), ledger.minRounds[1])
}

func TestWaitForRejectedMessageIsConsumed(t *testing.T) {
	rejected := chain.Record{ID: "T1", Sender: peerAddr, Round: 50,
		Note: mustNote(t, "swap_partial", nil)}

	ledger := &fakeLedger{batches: [][]chain.Record{{rejected}, {rejected}}}
	ch := testChannel(ledger, &fakeSigner{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := ch.WaitFor(ctx, func(m *Message) bool { return m.Note.Type == "swap_propose" })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitForHonorsContext(t *testing.T) {
	ch := testChannel(&fakeLedger{}, &fakeSigner{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := ch.WaitFor(ctx, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChannelResumeAndSnapshot(t *testing.T) {
	record := chain.Record{ID: "SEEN", Sender: peerAddr, Round: 40,
		Note: mustNote(t, "swap_propose", nil)}
	fresh := chain.Record{ID: "NEW", Sender: peerAddr, Round: 45,
		Note: mustNote(t, "swap_propose", nil)}

	ledger := &fakeLedger{batches: [][]chain.Record{{record, fresh}}}
	ch := testChannel(ledger, &fakeSigner{})
	ch.Resume(40, []string{"SEEN"})

	msg, err := ch.WaitFor(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "NEW", msg.TxID)
	require.Equal(t, uint64(40), ledger.minRounds[0])

	round, seen := ch.Snapshot()
	require.Equal(t, uint64(45), round)
	require.Contains(t, seen, "SEEN")
	require.Contains(t, seen, "NEW")
}
