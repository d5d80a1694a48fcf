package exchange

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/transaction"
	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/klauspost/compress/zlib"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"

	"github.com/rarimo/swap-svc/internal/signer"
)

const (
	// ChunkSize is the payload written per box-write application call.
	ChunkSize = 2000
	// PrefixSize is the contract-managed box header: creator address plus
	// four ACL slots, 32 bytes each, zero-filled when unused.
	PrefixSize = 160

	boxMBRBase    = 2500
	boxMBRPerByte = 400

	// deleteBoxRefs is how many duplicated box references a delete call
	// carries. Each reference adds 1024 bytes of box I/O budget, seven
	// cover boxes up to ~7KB.
	deleteBoxRefs = 7

	confirmRounds = 10
)

// Ledger is the slice of chain.Client the store needs.
type Ledger interface {
	SuggestedParams(ctx context.Context) (types.SuggestedParams, error)
	Submit(ctx context.Context, blob []byte) (string, error)
	WaitForConfirmation(ctx context.Context, txid string, maxRounds uint64) (uint64, error)
	BoxValue(ctx context.Context, appID uint64, name []byte) ([]byte, error)
}

// Signer signs the store's transaction groups.
type Signer interface {
	SignBlob(slots ...signer.Slot) ([]byte, error)
}

// Store keeps compressed payloads in the boxes of an on-chain exchange
// application. Writes are atomic: funding, creation and every chunk land
// in one transaction group or not at all.
type Store struct {
	log    *logan.Entry
	ledger Ledger
	signer Signer
	appID  uint64
}

// New creates a store backed by the exchange application appID.
func New(log *logan.Entry, ledger Ledger, sig Signer, appID uint64) *Store {
	return &Store{
		log:    log.WithField("who", "exchange-store"),
		ledger: ledger,
		signer: sig,
		appID:  appID,
	}
}

// BoxMBR is the minimum balance a box of the given name and value sizes
// locks in the application account.
func BoxMBR(nameLen, valueLen int) uint64 {
	return uint64(boxMBRBase + boxMBRPerByte*(nameLen+valueLen))
}

// Write compresses data and stores it under name, overwriting any stale
// box left by a previous failed run. acl lists up to four addresses
// allowed to overwrite or delete the box besides the creator. Returns the
// id of the group's first transaction.
func (s *Store) Write(ctx context.Context, sender string, name, data []byte, acl []string) (string, error) {
	if len(acl) > 4 {
		return "", errors.New("at most 4 acl addresses fit the box prefix")
	}

	compressed, err := compress(data)
	if err != nil {
		return "", err
	}

	// A box left over from an interrupted write has the wrong size, so the
	// create call would fail. Drop it first.
	if _, err := s.ledger.BoxValue(ctx, s.appID, name); err == nil {
		s.log.Debug("deleting stale box before write")
		if _, err := s.Delete(ctx, sender, name); err != nil {
			return "", errors.Wrap(err, "failed to delete stale box")
		}
	}

	params, err := s.ledger.SuggestedParams(ctx)
	if err != nil {
		return "", err
	}

	group, err := s.buildWriteGroup(sender, name, compressed, acl, params)
	if err != nil {
		return "", err
	}

	slots := make([]signer.Slot, len(group))
	for i, txn := range group {
		slots[i] = signer.Sign(txn, "", nil)
	}

	blob, err := s.signer.SignBlob(slots...)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign write group")
	}

	txid, err := s.ledger.Submit(ctx, blob)
	if err != nil {
		return "", err
	}
	if _, err := s.ledger.WaitForConfirmation(ctx, txid, confirmRounds); err != nil {
		return "", err
	}

	s.log.WithFields(logan.F{"bytes": len(data), "compressed": len(compressed), "txid": txid}).
		Debug("wrote box")
	return txid, nil
}

// Read fetches and decompresses the payload stored under name. The
// contract prefix is stripped; no transaction is involved.
func (s *Store) Read(ctx context.Context, name []byte) ([]byte, error) {
	value, err := s.ledger.BoxValue(ctx, s.appID, name)
	if err != nil {
		return nil, err
	}
	if len(value) < PrefixSize {
		return nil, errors.New("box value shorter than contract prefix")
	}
	return decompress(value[PrefixSize:])
}

// Delete removes the box and reclaims its minimum balance.
func (s *Store) Delete(ctx context.Context, sender string, name []byte) (string, error) {
	params, err := s.ledger.SuggestedParams(ctx)
	if err != nil {
		return "", err
	}

	txn, err := s.buildDelete(sender, name, params)
	if err != nil {
		return "", err
	}

	blob, err := s.signer.SignBlob(signer.Sign(txn, "", nil))
	if err != nil {
		return "", errors.Wrap(err, "failed to sign delete call")
	}

	txid, err := s.ledger.Submit(ctx, blob)
	if err != nil {
		return "", err
	}
	if _, err := s.ledger.WaitForConfirmation(ctx, txid, confirmRounds); err != nil {
		return "", err
	}
	return txid, nil
}

// buildWriteGroup assembles the unsigned write group: MBR payment, create
// call sized for prefix plus payload, then one write call per chunk.
func (s *Store) buildWriteGroup(sender string, name, compressed []byte, acl []string, params types.SuggestedParams) ([]types.Transaction, error) {
	senderAddr, err := types.DecodeAddress(sender)
	if err != nil {
		return nil, errors.Wrap(err, "invalid sender address")
	}

	boxSize := len(compressed) + PrefixSize
	mbr := BoxMBR(len(name), boxSize)
	appAddr := crypto.GetApplicationAddress(s.appID)
	boxRef := []types.AppBoxReference{{AppID: s.appID, Name: name}}

	group := make([]types.Transaction, 0, 2+(len(compressed)+ChunkSize-1)/ChunkSize)

	payTxn, err := transaction.MakePaymentTxn(sender, appAddr.String(), mbr, nil, "", params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build mbr payment")
	}
	group = append(group, payTxn)

	sizeArg := make([]byte, 8)
	binary.BigEndian.PutUint64(sizeArg, uint64(boxSize))

	createTxn, err := transaction.MakeApplicationNoOpTxWithBoxes(
		s.appID,
		[][]byte{[]byte("create"), name, sizeArg},
		acl, nil, nil, boxRef,
		params, senderAddr, nil, types.Digest{}, [32]byte{}, types.Address{},
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build create call")
	}
	group = append(group, createTxn)

	for offset := 0; offset < len(compressed); offset += ChunkSize {
		end := offset + ChunkSize
		if end > len(compressed) {
			end = len(compressed)
		}

		offsetArg := make([]byte, 8)
		binary.BigEndian.PutUint64(offsetArg, uint64(offset))

		writeTxn, err := transaction.MakeApplicationNoOpTxWithBoxes(
			s.appID,
			[][]byte{[]byte("write"), name, offsetArg, compressed[offset:end]},
			nil, nil, nil, boxRef,
			params, senderAddr, nil, types.Digest{}, [32]byte{}, types.Address{},
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to build write call")
		}
		group = append(group, writeTxn)
	}

	return group, nil
}

// buildDelete assembles the unsigned delete call: flat double fee to cover
// the inner MBR refund, box references duplicated for I/O budget.
func (s *Store) buildDelete(sender string, name []byte, params types.SuggestedParams) (types.Transaction, error) {
	senderAddr, err := types.DecodeAddress(sender)
	if err != nil {
		return types.Transaction{}, errors.Wrap(err, "invalid sender address")
	}

	params.FlatFee = true
	params.Fee = types.MicroAlgos(2 * params.MinFee)

	boxRefs := make([]types.AppBoxReference, deleteBoxRefs)
	for i := range boxRefs {
		boxRefs[i] = types.AppBoxReference{AppID: s.appID, Name: name}
	}

	txn, err := transaction.MakeApplicationNoOpTxWithBoxes(
		s.appID,
		[][]byte{[]byte("delete"), name},
		nil, nil, nil, boxRefs,
		params, senderAddr, nil, types.Digest{}, [32]byte{}, types.Address{},
	)
	if err != nil {
		return types.Transaction{}, errors.Wrap(err, "failed to build delete call")
	}
	return txn, nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, errors.Wrap(err, "failed to compress payload")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "failed to flush compressor")
	}
	return buf.Bytes(), nil
}

func decompress(raw []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open compressed payload")
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decompress payload")
	}
	return data, nil
}
