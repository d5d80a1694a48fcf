package signer

import (
	goerr "errors"
	"strconv"
)

var (
	// ErrAuthentication indicates an invalid or missing token (HTTP 401).
	ErrAuthentication = goerr.New("authentication failed: invalid or missing token")
	// ErrSigningRejected indicates the operator rejected the request (HTTP 403).
	ErrSigningRejected = goerr.New("signing rejected by operator")
	// ErrSignerUnavailable indicates the signer is unreachable or refusing service (HTTP 503).
	ErrSignerUnavailable = goerr.New("signer unavailable")
	// ErrSignerLocked indicates the signer is locked and requires operator unlock.
	ErrSignerLocked = goerr.New("signer is locked")
	// ErrKeyNotFound indicates the requested key does not exist on the signer.
	ErrKeyNotFound = goerr.New("key not found on signer")
	// ErrProvisioningRejected indicates the operator declined a token request.
	ErrProvisioningRejected = goerr.New("token provisioning rejected")

	// ErrMissingSigner indicates a group position no party signed.
	ErrMissingSigner = goerr.New("no signature for group position")
	// ErrConflictingSigner indicates a group position signed by more than one party.
	ErrConflictingSigner = goerr.New("conflicting signatures for group position")

	ErrTokenNotFound  = goerr.New("token file not found")
	ErrConfigNotFound = goerr.New("config.yaml not found")
)

// StatusError carries a non-2xx signer response that does not map to a sentinel.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return "signer error (" + strconv.Itoa(e.Code) + "): " + e.Body
}
