package chain

import (
	"context"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/algod"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/common/models"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/indexer"
	"github.com/algorand/go-algorand-sdk/v2/types"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

// confirmationPollInterval is how often pending transactions are re-checked.
const confirmationPollInterval = 3 * time.Second

// Record is one confirmed transaction as reported by the indexer, reduced
// to the fields the coordination protocols read.
type Record struct {
	ID           string
	Sender       string
	Receiver     string
	Round        uint64
	Amount       uint64
	AssetID      uint64
	Note         []byte
	LogicSigArgs [][]byte
}

// Client bundles the node and indexer endpoints of one network.
type Client struct {
	log     *logan.Entry
	algod   *algod.Client
	indexer *indexer.Client
}

// New dials the algod and indexer endpoints. The indexer is optional; pass
// an empty URL for flows that never poll history.
func New(log *logan.Entry, algodURL, algodToken, indexerURL, indexerToken string) (*Client, error) {
	algodClient, err := algod.MakeClient(algodURL, algodToken)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create algod client")
	}

	client := &Client{log: log, algod: algodClient}

	if indexerURL != "" {
		indexerClient, err := indexer.MakeClient(indexerURL, indexerToken)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create indexer client")
		}
		client.indexer = indexerClient
	}

	return client, nil
}

// SuggestedParams fetches current transaction parameters from the node.
func (c *Client) SuggestedParams(ctx context.Context) (types.SuggestedParams, error) {
	params, err := c.algod.SuggestedParams().Do(ctx)
	if err != nil {
		return types.SuggestedParams{}, errors.Wrap(err, "failed to get suggested params")
	}
	return params, nil
}

// CurrentRound returns the node's last committed round.
func (c *Client) CurrentRound(ctx context.Context) (uint64, error) {
	status, err := c.algod.Status().Do(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to get node status")
	}
	return status.LastRound, nil
}

// Submit sends a signed transaction blob and returns the transaction id.
// Node rejections come back classified as *TxError.
func (c *Client) Submit(ctx context.Context, blob []byte) (string, error) {
	txid, err := c.algod.SendRawTransaction(blob).Do(ctx)
	if err != nil {
		return "", classifySubmitError(err)
	}
	return txid, nil
}

// WaitForConfirmation polls until the transaction confirms, fails with a
// pool error, or maxRounds polling attempts pass.
func (c *Client) WaitForConfirmation(ctx context.Context, txid string, maxRounds uint64) (uint64, error) {
	for i := uint64(0); i < maxRounds; i++ {
		pending, _, err := c.algod.PendingTransactionInformation(txid).Do(ctx)
		if err != nil {
			return 0, errors.Wrap(err, "failed to check pending transaction")
		}

		if pending.ConfirmedRound != 0 {
			c.log.WithField("txid", txid).Debugf("confirmed in round %d", pending.ConfirmedRound)
			return pending.ConfirmedRound, nil
		}
		if pending.PoolError != "" {
			return 0, classifySubmitError(errors.New(pending.PoolError))
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(confirmationPollInterval):
		}
	}

	return 0, errors.New("transaction not confirmed after " + txid)
}

// Account fetches current account state from the node.
func (c *Client) Account(ctx context.Context, address string) (models.Account, error) {
	account, err := c.algod.AccountInformation(address).Do(ctx)
	if err != nil {
		return models.Account{}, errors.Wrap(err, "failed to get account information")
	}
	return account, nil
}

// HoldsAsset reports whether the account is opted in to the ASA.
// Asset id 0 means the native token, which every account holds.
func (c *Client) HoldsAsset(ctx context.Context, address string, assetID uint64) (bool, error) {
	if assetID == 0 {
		return true, nil
	}

	account, err := c.Account(ctx, address)
	if err != nil {
		return false, err
	}
	for _, holding := range account.Assets {
		if holding.AssetId == assetID {
			return true, nil
		}
	}
	return false, nil
}

// Balance returns the address's holding of the asset, the native balance
// for asset id 0. An account not opted in holds 0.
func (c *Client) Balance(ctx context.Context, address string, assetID uint64) (uint64, error) {
	account, err := c.Account(ctx, address)
	if err != nil {
		return 0, err
	}
	if assetID == 0 {
		return account.Amount, nil
	}
	for _, holding := range account.Assets {
		if holding.AssetId == assetID {
			return holding.Amount, nil
		}
	}
	return 0, nil
}

// BoxValue reads one application box from the node.
func (c *Client) BoxValue(ctx context.Context, appID uint64, name []byte) ([]byte, error) {
	box, err := c.algod.GetApplicationBoxByName(appID, name).Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read box")
	}
	return box.Value, nil
}

// ReceivedPayments lists confirmed payments to the receiver whose note
// starts with notePrefix, at or after minRound.
func (c *Client) ReceivedPayments(ctx context.Context, receiver string, notePrefix []byte, minRound uint64) ([]Record, error) {
	if c.indexer == nil {
		return nil, errors.New("indexer is not configured")
	}

	query := c.indexer.SearchForTransactions().
		AddressString(receiver).
		AddressRole("receiver").
		TxType("pay").
		MinRound(minRound)
	if len(notePrefix) > 0 {
		query = query.NotePrefix(notePrefix)
	}

	resp, err := query.Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search received payments")
	}

	records := make([]Record, 0, len(resp.Transactions))
	for _, txn := range resp.Transactions {
		records = append(records, toRecord(txn))
	}
	return records, nil
}

// ReceivedTransfers lists confirmed incoming transfers of one asset to the
// receiver at or after minRound. Asset id 0 selects native payments.
func (c *Client) ReceivedTransfers(ctx context.Context, receiver string, assetID, minRound uint64) ([]Record, error) {
	if c.indexer == nil {
		return nil, errors.New("indexer is not configured")
	}

	query := c.indexer.SearchForTransactions().
		AddressString(receiver).
		AddressRole("receiver").
		MinRound(minRound)
	if assetID == 0 {
		query = query.TxType("pay")
	} else {
		query = query.TxType("axfer").AssetID(assetID)
	}

	resp, err := query.Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search received transfers")
	}

	records := make([]Record, 0, len(resp.Transactions))
	for _, txn := range resp.Transactions {
		records = append(records, toRecord(txn))
	}
	return records, nil
}

// SentTransactions lists confirmed transactions sent by the address at or
// after minRound. Used to observe claims made by LogicSig accounts.
func (c *Client) SentTransactions(ctx context.Context, sender string, minRound uint64) ([]Record, error) {
	if c.indexer == nil {
		return nil, errors.New("indexer is not configured")
	}

	resp, err := c.indexer.SearchForTransactions().
		AddressString(sender).
		AddressRole("sender").
		MinRound(minRound).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search sent transactions")
	}

	records := make([]Record, 0, len(resp.Transactions))
	for _, txn := range resp.Transactions {
		records = append(records, toRecord(txn))
	}
	return records, nil
}

func toRecord(txn models.Transaction) Record {
	record := Record{
		ID:           txn.Id,
		Sender:       txn.Sender,
		Receiver:     txn.PaymentTransaction.Receiver,
		Round:        txn.ConfirmedRound,
		Amount:       txn.PaymentTransaction.Amount,
		Note:         txn.Note,
		LogicSigArgs: txn.Signature.Logicsig.Args,
	}
	if txn.Type == "axfer" {
		record.Receiver = txn.AssetTransferTransaction.Receiver
		record.Amount = txn.AssetTransferTransaction.Amount
		record.AssetID = txn.AssetTransferTransaction.AssetId
	}
	return record
}
