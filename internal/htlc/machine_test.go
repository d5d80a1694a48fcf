package htlc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/stretchr/testify/require"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"

	"github.com/rarimo/swap-svc/internal/chain"
	"github.com/rarimo/swap-svc/internal/notes"
	"github.com/rarimo/swap-svc/internal/session"
	"github.com/rarimo/swap-svc/internal/signer"
)

const (
	testASA      = uint64(10458941)
	testAlgoAmt  = uint64(250000)
	testAssetAmt = uint64(1000)
)

var (
	buyerAddr  = addrString(1)
	sellerAddr = addrString(2)
)

func addrString(b byte) string {
	var addr types.Address
	addr[0] = b
	return addr.String()
}

type fakeLedger struct {
	submitted [][]byte
	balances  map[string]map[uint64]uint64
	round     uint64
	sent      [][]chain.Record
	calls     int
}

func (f *fakeLedger) SuggestedParams(context.Context) (types.SuggestedParams, error) {
	return types.SuggestedParams{
		Fee:             1000,
		MinFee:          1000,
		FirstRoundValid: 100,
		LastRoundValid:  1100,
		GenesisID:       "testnet-v1.0",
		GenesisHash:     make([]byte, 32),
	}, nil
}

func (f *fakeLedger) Submit(_ context.Context, blob []byte) (string, error) {
	f.submitted = append(f.submitted, blob)
	return "HTX" + strconv.Itoa(len(f.submitted)), nil
}

func (f *fakeLedger) WaitForConfirmation(context.Context, string, uint64) (uint64, error) {
	return 42, nil
}

func (f *fakeLedger) CurrentRound(context.Context) (uint64, error) {
	return f.round, nil
}

func (f *fakeLedger) Balance(_ context.Context, address string, assetID uint64) (uint64, error) {
	return f.balances[address][assetID], nil
}

func (f *fakeLedger) SentTransactions(_ context.Context, _ string, _ uint64) ([]chain.Record, error) {
	if f.calls >= len(f.sent) {
		return nil, nil
	}
	batch := f.sent[f.calls]
	f.calls++
	return batch, nil
}

type fakeSigner struct {
	slots []signer.Slot
	keys  []map[string]string
}

func (f *fakeSigner) SignBlob(slots ...signer.Slot) ([]byte, error) {
	f.slots = append(f.slots, slots...)
	return []byte("blob"), nil
}

func (f *fakeSigner) GenerateKey(keyType string, parameters map[string]string) (*signer.GenerateResult, error) {
	f.keys = append(f.keys, parameters)
	return &signer.GenerateResult{
		Address:    addrString(byte(100 + len(f.keys))),
		KeyType:    keyType,
		Parameters: parameters,
	}, nil
}

func (f *fakeSigner) lastSlot(t *testing.T) signer.Slot {
	t.Helper()
	require.NotEmpty(t, f.slots)
	return f.slots[len(f.slots)-1]
}

type fakeChannel struct {
	partner *fakeChannel
	sender  string
	inbox   []*notes.Message
	round   uint64
	sent    int
}

func link(a, b *fakeChannel) {
	a.partner, b.partner = b, a
}

func (f *fakeChannel) Send(_ context.Context, noteType string, body map[string]interface{}) (string, error) {
	raw, err := notes.Encode(noteType, body)
	if err != nil {
		return "", err
	}
	note, err := notes.Decode(raw)
	if err != nil {
		return "", err
	}

	f.sent++
	f.partner.round++
	txid := "NOTE-" + f.sender + "-" + strconv.Itoa(f.sent)
	f.partner.inbox = append(f.partner.inbox, &notes.Message{
		TxID: txid, Sender: f.sender, Round: f.partner.round, Note: note,
	})
	return txid, nil
}

func (f *fakeChannel) WaitFor(_ context.Context, accept func(*notes.Message) bool) (*notes.Message, error) {
	for i, msg := range f.inbox {
		if accept == nil || accept(msg) {
			f.inbox = append(f.inbox[:i], f.inbox[i+1:]...)
			return msg, nil
		}
	}
	return nil, errors.New("no message waiting")
}

func (f *fakeChannel) Snapshot() (uint64, []string) { return f.round, nil }
func (f *fakeChannel) Resume(uint64, []string)      {}

type party struct {
	machine *Machine
	ledger  *fakeLedger
	signer  *fakeSigner
	channel *fakeChannel
	store   *session.Store
}

// testPair wires a buyer offering an ASA against a seller offering ALGO.
func testPair(t *testing.T) (*party, *party) {
	t.Helper()

	buyerCh := &fakeChannel{sender: buyerAddr}
	sellerCh := &fakeChannel{sender: sellerAddr}
	link(buyerCh, sellerCh)

	newParty := func(state *session.State, ch *fakeChannel, name string) *party {
		p := &party{
			ledger:  &fakeLedger{balances: make(map[string]map[uint64]uint64), round: 100},
			signer:  &fakeSigner{},
			channel: ch,
			store:   session.NewStore(filepath.Join(t.TempDir(), name+".json")),
		}
		p.machine = New(logan.New(), p.signer, p.ledger, p.channel, p.store, state)
		return p
	}

	buyer := newParty(&session.State{
		Role:        session.RoleBuyer,
		Status:      StatusPending,
		MyAddress:   buyerAddr,
		PeerAddress: sellerAddr,
		MyAssetID:   testASA,
		MyAmount:    testAssetAmt,
		PeerAssetID: 0,
		PeerAmount:  testAlgoAmt,
	}, buyerCh, "buyer")

	seller := newParty(&session.State{
		Role:        session.RoleSeller,
		Status:      StatusPending,
		MyAddress:   sellerAddr,
		PeerAddress: buyerAddr,
		MyAssetID:   0,
		MyAmount:    testAlgoAmt,
		PeerAssetID: testASA,
		PeerAmount:  testAssetAmt,
	}, sellerCh, "seller")

	return buyer, seller
}

func TestGeneratePreimage(t *testing.T) {
	buyer, seller := testPair(t)

	require.NoError(t, buyer.machine.GeneratePreimage())
	state := buyer.machine.State()

	preimage, err := hex.DecodeString(state.Preimage)
	require.NoError(t, err)
	require.Len(t, preimage, preimageSize)

	sum := sha256.Sum256(preimage)
	require.Equal(t, hex.EncodeToString(sum[:]), state.Hash)

	// only once, and only on the buyer side
	require.Error(t, buyer.machine.GeneratePreimage())
	require.Error(t, seller.machine.GeneratePreimage())
}

func TestCreateLock(t *testing.T) {
	buyer, _ := testPair(t)
	require.NoError(t, buyer.machine.GeneratePreimage())

	require.NoError(t, buyer.machine.CreateLock(600))
	state := buyer.machine.State()
	require.NotEmpty(t, state.MyHashlock)
	require.Equal(t, uint64(600), state.MyTimeout)

	params := buyer.signer.keys[0]
	require.Equal(t, state.Hash, params["hash"])
	require.Equal(t, sellerAddr, params["recipient"])
	require.Equal(t, buyerAddr, params["refund_address"])
	require.Equal(t, "600", params["timeout_round"])

	// one lock per session
	require.Error(t, buyer.machine.CreateLock(700))
}

func TestCreateLockRequiresHash(t *testing.T) {
	buyer, _ := testPair(t)

	require.Error(t, buyer.machine.CreateLock(600))

	buyer.machine.State().Hash = "zz"
	require.Error(t, buyer.machine.CreateLock(600))
}

func TestCreateLockSellerTimeoutBoundary(t *testing.T) {
	_, seller := testPair(t)
	state := seller.machine.State()
	state.Hash = hex.EncodeToString(make([]byte, sha256.Size))
	state.PeerTimeout = 600

	// equal to the buyer's timeout is rejected, strictly less accepted
	require.Error(t, seller.machine.CreateLock(600))
	require.Error(t, seller.machine.CreateLock(601))
	require.NoError(t, seller.machine.CreateLock(599))
}

func TestFundLock(t *testing.T) {
	ctx := context.Background()
	buyer, _ := testPair(t)
	require.NoError(t, buyer.machine.GeneratePreimage())
	require.NoError(t, buyer.machine.CreateLock(600))

	require.Error(t, buyer.machine.FundLock(ctx, DefaultFundAmount-1))
	require.Empty(t, buyer.ledger.submitted)

	require.NoError(t, buyer.machine.FundLock(ctx, DefaultFundAmount))
	require.Len(t, buyer.ledger.submitted, 1)

	txn := buyer.signer.lastSlot(t).Txn()
	require.Equal(t, types.PaymentTx, txn.Type)
	require.Equal(t, buyer.machine.State().MyHashlock, txn.Receiver.String())
	require.Equal(t, types.MicroAlgos(DefaultFundAmount), txn.Amount)
}

func TestOptInLock(t *testing.T) {
	ctx := context.Background()
	buyer, seller := testPair(t)

	// seller offers ALGO: no opt-in needed, no transaction
	require.NoError(t, seller.machine.OptInLock(ctx))
	require.Empty(t, seller.ledger.submitted)

	require.NoError(t, buyer.machine.GeneratePreimage())
	require.NoError(t, buyer.machine.CreateLock(600))
	require.NoError(t, buyer.machine.OptInLock(ctx))

	slot := buyer.signer.lastSlot(t)
	txn := slot.Txn()
	lock := buyer.machine.State().MyHashlock
	require.Equal(t, types.AssetTransferTx, txn.Type)
	require.Equal(t, lock, txn.Sender.String())
	require.Equal(t, lock, txn.AssetReceiver.String())
	require.Equal(t, uint64(0), txn.AssetAmount)
	require.Equal(t, testASA, uint64(txn.XferAsset))
	require.Equal(t, lock, slot.AuthAddress())
}

func TestFundLockAsset(t *testing.T) {
	ctx := context.Background()
	buyer, _ := testPair(t)
	require.NoError(t, buyer.machine.GeneratePreimage())
	require.NoError(t, buyer.machine.CreateLock(600))

	require.NoError(t, buyer.machine.FundLockAsset(ctx))

	txn := buyer.signer.lastSlot(t).Txn()
	require.Equal(t, types.AssetTransferTx, txn.Type)
	require.Equal(t, buyerAddr, txn.Sender.String())
	require.Equal(t, buyer.machine.State().MyHashlock, txn.AssetReceiver.String())
	require.Equal(t, testAssetAmt, txn.AssetAmount)
}

// runs both parties through the messaging phase and returns their locks
func exchangeOfferAccept(t *testing.T, buyer, seller *party) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, buyer.machine.GeneratePreimage())
	require.NoError(t, buyer.machine.CreateLock(600))
	require.NoError(t, buyer.machine.SendOffer(ctx))
	require.Equal(t, StatusOfferSent, buyer.machine.State().Status)

	require.NoError(t, seller.machine.AwaitOffer(ctx))
	sellerState := seller.machine.State()
	require.Equal(t, StatusOfferReceived, sellerState.Status)
	require.Equal(t, buyer.machine.State().Hash, sellerState.Hash)
	require.Equal(t, buyer.machine.State().MyHashlock, sellerState.PeerHashlock)
	require.Equal(t, uint64(600), sellerState.PeerTimeout)

	require.NoError(t, seller.machine.CreateLock(580))
	require.NoError(t, seller.machine.SendAccept(ctx))
	require.Equal(t, StatusAcceptSent, sellerState.Status)

	require.NoError(t, buyer.machine.AwaitAccept(ctx))
	buyerState := buyer.machine.State()
	require.Equal(t, StatusAcceptReceived, buyerState.Status)
	require.Equal(t, sellerState.MyHashlock, buyerState.PeerHashlock)
	require.Equal(t, uint64(580), buyerState.PeerTimeout)
}

func TestOfferAcceptExchange(t *testing.T) {
	buyer, seller := testPair(t)
	exchangeOfferAccept(t, buyer, seller)
}

func TestAwaitAcceptRejectsUnsafeTimeout(t *testing.T) {
	ctx := context.Background()
	buyer, seller := testPair(t)

	require.NoError(t, buyer.machine.GeneratePreimage())
	require.NoError(t, buyer.machine.CreateLock(600))
	require.NoError(t, buyer.machine.SendOffer(ctx))
	require.NoError(t, seller.machine.AwaitOffer(ctx))

	// seller (maliciously) announces a timeout at the buyer's round
	seller.machine.state.PeerTimeout = 0
	require.NoError(t, seller.machine.CreateLock(600))
	require.NoError(t, seller.machine.SendAccept(ctx))

	err := buyer.machine.AwaitAccept(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsafe")
}

func TestAwaitGuardsStatus(t *testing.T) {
	ctx := context.Background()
	buyer, seller := testPair(t)

	// waiting for an accept before the own offer is out would skip the
	// timeout safety comparison entirely
	err := buyer.machine.AwaitAccept(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not valid in status")

	seller.machine.state.Status = StatusAcceptSent
	err = seller.machine.AwaitOffer(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not valid in status")
}

func TestAwaitOfferValidatesTerms(t *testing.T) {
	ctx := context.Background()
	buyer, seller := testPair(t)

	require.NoError(t, buyer.machine.GeneratePreimage())
	require.NoError(t, buyer.machine.CreateLock(600))

	// buyer offers less than the seller expects
	buyer.machine.State().MyAmount = testAssetAmt - 1
	require.NoError(t, buyer.machine.SendOffer(ctx))

	err := seller.machine.AwaitOffer(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "amount")
}

func TestClaimAndPreimageDiscovery(t *testing.T) {
	ctx := context.Background()
	buyer, seller := testPair(t)
	exchangeOfferAccept(t, buyer, seller)

	sellerLock := seller.machine.State().MyHashlock
	buyerLock := buyer.machine.State().MyHashlock

	// seller's lock holds the agreed ALGO, buyer's lock the agreed ASA
	buyer.ledger.balances[sellerLock] = map[uint64]uint64{0: testAlgoAmt + DefaultFundAmount}
	seller.ledger.balances[buyerLock] = map[uint64]uint64{testASA: testAssetAmt}

	require.NoError(t, buyer.machine.Claim(ctx))
	buyerState := buyer.machine.State()
	require.Equal(t, "HTX1", buyerState.ClaimTxID)

	slot := buyer.signer.lastSlot(t)
	txn := slot.Txn()
	require.Equal(t, types.PaymentTx, txn.Type)
	require.Equal(t, sellerLock, txn.Sender.String())
	require.Equal(t, buyerAddr, txn.CloseRemainderTo.String())
	require.Equal(t, sellerLock, slot.AuthAddress())

	preimage, err := hex.DecodeString(buyerState.Preimage)
	require.NoError(t, err)
	require.Equal(t, preimage, slot.Args()["preimage"])

	// the claim reveals the preimage in the seller lock's outgoing txn
	seller.ledger.sent = [][]chain.Record{{
		{ID: "HTX1", Sender: sellerLock, Round: 70, LogicSigArgs: [][]byte{preimage}},
	}}
	require.NoError(t, seller.machine.WaitForPreimage(ctx))
	sellerState := seller.machine.State()
	require.Equal(t, StatusPreimageFound, sellerState.Status)
	require.Equal(t, buyerState.Preimage, sellerState.Preimage)

	// the seller claims the buyer's lock with the discovered preimage
	require.NoError(t, seller.machine.Claim(ctx))
	claim := seller.signer.lastSlot(t)
	require.Equal(t, types.AssetTransferTx, claim.Txn().Type)
	require.Equal(t, sellerAddr, claim.Txn().AssetCloseTo.String())

	require.NoError(t, buyer.machine.Complete())
	require.NoError(t, seller.machine.Complete())
	require.Equal(t, StatusComplete, buyerState.Status)
	require.Equal(t, StatusComplete, sellerState.Status)
}

func TestClaimRejectsWrongPreimage(t *testing.T) {
	ctx := context.Background()
	buyer, seller := testPair(t)
	exchangeOfferAccept(t, buyer, seller)

	buyer.machine.State().Preimage = hex.EncodeToString(make([]byte, preimageSize))
	err := buyer.machine.Claim(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "does not match")
}

func TestClaimRejectsUnderfundedLock(t *testing.T) {
	ctx := context.Background()
	buyer, seller := testPair(t)
	exchangeOfferAccept(t, buyer, seller)

	sellerLock := seller.machine.State().MyHashlock
	buyer.ledger.balances[sellerLock] = map[uint64]uint64{0: testAlgoAmt - 1}

	err := buyer.machine.Claim(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "peer lock holds")
	require.Empty(t, buyer.ledger.submitted)
}

func TestWaitForPreimageIgnoresWrongArgs(t *testing.T) {
	buyer, seller := testPair(t)
	exchangeOfferAccept(t, buyer, seller)

	sellerLock := seller.machine.State().MyHashlock
	wrong := make([]byte, preimageSize)
	wrong[0] = 0xFF

	preimage, err := hex.DecodeString(buyer.machine.State().Preimage)
	require.NoError(t, err)

	seller.ledger.sent = [][]chain.Record{{
		{ID: "NOARGS", Sender: sellerLock, Round: 68},
		{ID: "BAD", Sender: sellerLock, Round: 69, LogicSigArgs: [][]byte{wrong}},
		{ID: "GOOD", Sender: sellerLock, Round: 70, LogicSigArgs: [][]byte{preimage}},
	}}

	require.NoError(t, seller.machine.WaitForPreimage(context.Background()))
	require.Equal(t, buyer.machine.State().Preimage, seller.machine.State().Preimage)
	require.Equal(t, uint64(70), seller.machine.State().LastSeenRound)
}
