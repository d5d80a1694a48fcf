package signer

import (
	"encoding/hex"
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	"github.com/algorand/go-algorand-sdk/v2/types"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

// SlotKind discriminates the three roles a group position can play.
type SlotKind int

const (
	// KindSign asks the signer to sign the transaction with one of its keys.
	KindSign SlotKind = iota
	// KindForeign reserves the position for another party's signature. The
	// signer includes it in group building but returns an empty result.
	KindForeign
	// KindPassthrough carries an already-signed transaction verbatim. The
	// signer skips dummy insertion and group-id computation for the whole
	// request when any passthrough slot is present, so callers must
	// pre-assign group ids themselves in that case.
	KindPassthrough
)

// Slot is one position of a transaction group submitted for signing.
// Construct slots with Sign, Foreign and Passthrough.
type Slot struct {
	kind     SlotKind
	txn      *types.Transaction
	authAddr string
	args     Args
	lsigSize int
	signed   []byte
}

// Sign builds a slot the signer should sign. authAddr selects the signing
// key and defaults to the transaction sender when empty. args carries
// runtime LogicSig arguments for generic keys.
func Sign(txn types.Transaction, authAddr string, args Args) Slot {
	return Slot{kind: KindSign, txn: &txn, authAddr: authAddr, args: args}
}

// Foreign builds a slot belonging to another party. lsigSize hints how much
// LogicSig budget the signer should reserve for the foreign signature
// (0 means no reservation).
func Foreign(txn types.Transaction, lsigSize int) Slot {
	return Slot{kind: KindForeign, txn: &txn, lsigSize: lsigSize}
}

// Passthrough builds a slot from raw pre-signed transaction bytes.
func Passthrough(signed []byte) Slot {
	return Slot{kind: KindPassthrough, signed: signed}
}

// Kind reports the slot's role.
func (s Slot) Kind() SlotKind {
	return s.kind
}

// Txn returns the slot's transaction, nil for passthrough slots.
func (s Slot) Txn() *types.Transaction {
	return s.txn
}

// AuthAddress returns the signing key address for sign slots, falling back
// to the transaction sender.
func (s Slot) AuthAddress() string {
	if s.authAddr != "" || s.txn == nil {
		return s.authAddr
	}
	return s.txn.Sender.String()
}

// Args returns the runtime LogicSig arguments of a sign slot.
func (s Slot) Args() Args {
	return s.args
}

// SignedBytes returns the pre-signed bytes of a passthrough slot.
func (s Slot) SignedBytes() []byte {
	return s.signed
}

// EncodeTxn canonically encodes a transaction the way it gets signed:
// msgpack with the "TX" domain prefix.
func EncodeTxn(txn types.Transaction) []byte {
	encoded := msgpack.Encode(txn)
	result := make([]byte, len(encoded)+2)
	result[0] = 'T'
	result[1] = 'X'
	copy(result[2:], encoded)
	return result
}

// buildRequests converts slots to the wire request array. Reports whether
// any passthrough slot is present (the caller owns group ids then).
func buildRequests(slots []Slot) ([]signRequest, bool, error) {
	if len(slots) == 0 {
		return nil, false, errors.New("empty slot list")
	}

	requests := make([]signRequest, 0, len(slots))
	passthrough := false

	for i, slot := range slots {
		switch slot.kind {
		case KindPassthrough:
			if len(slot.signed) == 0 {
				return nil, false, errors.New(fmt.Sprintf("passthrough slot %d without signed bytes", i))
			}
			passthrough = true
			requests = append(requests, signRequest{SignedTxnHex: hex.EncodeToString(slot.signed)})

		case KindForeign:
			if slot.txn == nil {
				return nil, false, errors.New(fmt.Sprintf("foreign slot %d without transaction", i))
			}
			if slot.lsigSize < 0 {
				return nil, false, errors.New(fmt.Sprintf("foreign slot %d has negative lsig size hint", i))
			}
			requests = append(requests, signRequest{
				TxnBytesHex: hex.EncodeToString(EncodeTxn(*slot.txn)),
				LsigSize:    slot.lsigSize,
			})

		case KindSign:
			if slot.txn == nil {
				return nil, false, errors.New(fmt.Sprintf("sign slot %d without transaction", i))
			}
			authAddr := slot.authAddr
			if authAddr == "" {
				authAddr = slot.txn.Sender.String()
			}
			req := signRequest{
				TxnBytesHex: hex.EncodeToString(EncodeTxn(*slot.txn)),
				AuthAddress: authAddr,
				TxnSender:   slot.txn.Sender.String(),
			}
			if len(slot.args) > 0 {
				req.LsigArgs = make(map[string]string, len(slot.args))
				for name, value := range slot.args {
					req.LsigArgs[name] = hex.EncodeToString(value)
				}
			}
			requests = append(requests, req)

		default:
			return nil, false, errors.New(fmt.Sprintf("unknown kind for slot %d", i))
		}
	}

	return requests, passthrough, nil
}
