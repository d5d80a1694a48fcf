package swap

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"

	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	"github.com/algorand/go-algorand-sdk/v2/types"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

// exchangeRecord is the payload the seller parks in the exchange box:
// the signer's finalized plan of the group plus the seller's signatures,
// with empty strings in the slots the buyer still has to fill.
type exchangeRecord struct {
	ProposalHash string   `json:"proposal_hash"`
	PlannedTxns  []string `json:"planned_txns_hex"`
	Signed       []string `json:"signed"`
}

func encodeRecord(proposalHash string, planned, signed [][]byte) ([]byte, error) {
	if len(planned) != len(signed) {
		return nil, errors.New("planned and signed lists differ in length")
	}

	record := exchangeRecord{
		ProposalHash: proposalHash,
		PlannedTxns:  make([]string, len(planned)),
		Signed:       make([]string, len(signed)),
	}
	for i, txn := range planned {
		record.PlannedTxns[i] = hex.EncodeToString(txn)
	}
	for i, blob := range signed {
		if blob != nil {
			record.Signed[i] = base64.StdEncoding.EncodeToString(blob)
		}
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal exchange record")
	}
	return raw, nil
}

func decodeRecord(raw []byte) (*exchangeRecord, error) {
	var record exchangeRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, errors.Wrap(err, "failed to parse exchange record")
	}
	if record.ProposalHash == "" {
		return nil, errors.New("exchange record has no proposal hash")
	}
	if len(record.PlannedTxns) != len(record.Signed) {
		return nil, errors.New("exchange record planned and signed lists differ in length")
	}
	return &record, nil
}

// plannedBytes decodes the hex-encoded planned transactions.
func (r *exchangeRecord) plannedBytes() ([][]byte, error) {
	planned := make([][]byte, len(r.PlannedTxns))
	for i, encoded := range r.PlannedTxns {
		raw, err := hex.DecodeString(encoded)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode planned transaction")
		}
		planned[i] = raw
	}
	return planned, nil
}

// signedBytes decodes the base64 signature blobs, nil for unsigned slots.
func (r *exchangeRecord) signedBytes() ([][]byte, error) {
	signed := make([][]byte, len(r.Signed))
	for i, encoded := range r.Signed {
		if encoded == "" {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode signed transaction")
		}
		signed[i] = raw
	}
	return signed, nil
}

// decodeTxn parses one planned transaction: the tagged msgpack form the
// signer plans and signs over.
func decodeTxn(raw []byte) (types.Transaction, error) {
	if !bytes.HasPrefix(raw, []byte("TX")) {
		return types.Transaction{}, errors.New("planned transaction lacks the TX tag")
	}

	var txn types.Transaction
	if err := msgpack.Decode(raw[2:], &txn); err != nil {
		return types.Transaction{}, errors.Wrap(err, "failed to decode planned transaction")
	}
	return txn, nil
}
