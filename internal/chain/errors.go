package chain

import (
	goerr "errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrLogicRejected indicates a LogicSig program returned false.
	ErrLogicRejected = goerr.New("logicsig program rejected")
	// ErrInsufficientFunds indicates the account cannot cover the spend.
	ErrInsufficientFunds = goerr.New("insufficient funds")
	// ErrInvalidTransaction indicates a malformed or unacceptable transaction.
	ErrInvalidTransaction = goerr.New("invalid transaction")
	// ErrRejected indicates any other network rejection.
	ErrRejected = goerr.New("transaction rejected")
)

// TxError is a classified submission failure with the offending
// transaction id when the node reported one.
type TxError struct {
	TxID   string
	Reason string
	Err    error
}

func (e *TxError) Error() string {
	if e.TxID != "unknown" && e.TxID != "" {
		return fmt.Sprintf("%s: %s (txid: %s)", e.Err.Error(), e.Reason, e.TxID)
	}
	return e.Err.Error() + ": " + e.Reason
}

func (e *TxError) Unwrap() error {
	return e.Err
}

var (
	txidPattern    = regexp.MustCompile(`transaction ([A-Z0-9]{52}):`)
	spendPattern   = regexp.MustCompile(`tried to spend \{(\d+)\}`)
	poolPattern    = regexp.MustCompile(`had (\d+) bytes.*pool of (\d+) bytes`)
	trailerPattern = regexp.MustCompile(`\}: (.+?)(?:\s*$|\s*\{)`)
)

// classifySubmitError turns a verbose node rejection into a TxError with a
// stable sentinel and a readable reason, stripping the struct dumps the
// node embeds in its messages.
func classifySubmitError(err error) error {
	msg := err.Error()
	lower := strings.ToLower(msg)

	txid := "unknown"
	if m := txidPattern.FindStringSubmatch(msg); m != nil {
		txid = m[1]
	}

	if strings.Contains(lower, "rejected by logic") {
		return &TxError{TxID: txid, Reason: "logicsig program returned false", Err: ErrLogicRejected}
	}

	if strings.Contains(lower, "overspend") || strings.Contains(lower, "insufficient funds") {
		if m := spendPattern.FindStringSubmatch(msg); m != nil {
			return &TxError{
				TxID:   txid,
				Reason: fmt.Sprintf("insufficient funds (tried to spend %s microalgos)", m[1]),
				Err:    ErrInsufficientFunds,
			}
		}
		return &TxError{TxID: txid, Reason: "insufficient funds", Err: ErrInsufficientFunds}
	}

	if strings.Contains(lower, "logicsigs") && strings.Contains(lower, "pool") {
		if m := poolPattern.FindStringSubmatch(msg); m != nil {
			return &TxError{
				TxID:   txid,
				Reason: fmt.Sprintf("logicsig too large (%s bytes exceeds %s byte pool)", m[1], m[2]),
				Err:    ErrInvalidTransaction,
			}
		}
		return &TxError{TxID: txid, Reason: "logicsig exceeds pool budget", Err: ErrInvalidTransaction}
	}

	if strings.Contains(lower, "group") && (strings.Contains(lower, "invalid") || strings.Contains(lower, "mismatch")) {
		return &TxError{TxID: txid, Reason: "invalid or mismatched group id", Err: ErrInvalidTransaction}
	}

	if strings.Contains(lower, "fee") && (strings.Contains(lower, "too small") || strings.Contains(lower, "below")) {
		return &TxError{TxID: txid, Reason: "transaction fee too low", Err: ErrInvalidTransaction}
	}

	if strings.Contains(lower, "round") && (strings.Contains(lower, "past") ||
		strings.Contains(lower, "future") || strings.Contains(lower, "invalid")) {
		return &TxError{TxID: txid, Reason: "transaction round range invalid", Err: ErrInvalidTransaction}
	}

	if m := trailerPattern.FindStringSubmatch(msg); m != nil {
		if reason := strings.TrimSpace(m[1]); reason != "" {
			return &TxError{TxID: txid, Reason: reason, Err: ErrRejected}
		}
	}

	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return &TxError{TxID: txid, Reason: msg, Err: ErrRejected}
}
