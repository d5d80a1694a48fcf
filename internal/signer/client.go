package signer

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"gitlab.com/distributed_lab/logan/v3/errors"
)

const (
	// DefaultHTTPPort is the signer's HTTP API port.
	DefaultHTTPPort = 11270
	// DefaultSSHPort is the signer's SSH tunnel port.
	DefaultSSHPort = 1127
	// DefaultTimeout bounds every HTTP request to the signer.
	DefaultTimeout = 30 * time.Second
)

// Client talks to a remote approval signer over its HTTP API, optionally
// through an SSH tunnel. All methods are safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	tunnel  *tunnel

	mu       sync.Mutex
	keyCache map[string]KeyInfo
}

// ConnectOptions tunes a local connection.
type ConnectOptions struct {
	Host    string
	Port    int
	Timeout time.Duration
}

// SSHOptions tunes a tunneled connection.
type SSHOptions struct {
	SSHPort        int
	SignerPort     int
	Timeout        time.Duration
	KnownHostsPath string
}

// ConnectLocal creates a client for a signer reachable without a tunnel.
func ConnectLocal(token string, opts *ConnectOptions) *Client {
	host, port, timeout := "localhost", DefaultHTTPPort, DefaultTimeout
	if opts != nil {
		if opts.Host != "" {
			host = opts.Host
		}
		if opts.Port > 0 {
			port = opts.Port
		}
		if opts.Timeout > 0 {
			timeout = opts.Timeout
		}
	}

	return &Client{
		baseURL: fmt.Sprintf("http://%s:%d", host, port),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// ConnectSSH creates a client tunneled over SSH. The token doubles as the
// SSH username, so the tunnel itself is the second authentication factor.
func ConnectSSH(host, token, sshKeyPath string, opts *SSHOptions) (*Client, error) {
	sshPort, signerPort, timeout := DefaultSSHPort, DefaultHTTPPort, DefaultTimeout
	knownHosts := ""
	if opts != nil {
		if opts.SSHPort > 0 {
			sshPort = opts.SSHPort
		}
		if opts.SignerPort > 0 {
			signerPort = opts.SignerPort
		}
		if opts.Timeout > 0 {
			timeout = opts.Timeout
		}
		knownHosts = opts.KnownHostsPath
	}

	tun := &tunnel{knownHostsPath: knownHosts}
	localPort, err := tun.connect(host, sshPort, signerPort, token, ExpandPath(sshKeyPath))
	if err != nil {
		return nil, errors.Wrap(err, "failed to establish ssh tunnel")
	}

	return &Client{
		baseURL: fmt.Sprintf("http://localhost:%d", localPort),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		tunnel:  tun,
	}, nil
}

// Close tears down the SSH tunnel if one is open.
func (c *Client) Close() {
	if c.tunnel != nil {
		c.tunnel.close()
	}
}

// Health reports whether the signer answers its health endpoint.
// An unreachable signer is not an error.
func (c *Client) Health() (bool, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, nil
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, nil
}

// ListKeys returns the signing keys held by the signer. Results are cached;
// pass refresh to force a round trip.
func (c *Client) ListKeys(refresh bool) ([]KeyInfo, error) {
	c.mu.Lock()
	if !refresh && c.keyCache != nil {
		keys := make([]KeyInfo, 0, len(c.keyCache))
		for _, k := range c.keyCache {
			keys = append(keys, k)
		}
		c.mu.Unlock()
		return keys, nil
	}
	c.mu.Unlock()

	resp, err := c.do(http.MethodGet, "/keys", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkAdminStatus(resp); err != nil {
		return nil, err
	}

	var body keysResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "failed to decode keys response")
	}

	c.mu.Lock()
	c.keyCache = make(map[string]KeyInfo, len(body.Keys))
	for _, k := range body.Keys {
		c.keyCache[k.Address] = k
	}
	c.mu.Unlock()

	return body.Keys, nil
}

// KeyInfo returns info for one key address, or nil when the signer does not
// hold it.
func (c *Client) KeyInfo(address string) (*KeyInfo, error) {
	c.mu.Lock()
	cached := c.keyCache != nil
	c.mu.Unlock()

	if !cached {
		if _, err := c.ListKeys(true); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if k, ok := c.keyCache[address]; ok {
		return &k, nil
	}
	return nil, nil
}

// KeyTypes returns the key types the signer can generate.
func (c *Client) KeyTypes() ([]KeyTypeInfo, error) {
	resp, err := c.do(http.MethodGet, "/keytypes", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkAdminStatus(resp); err != nil {
		return nil, err
	}

	var body keyTypesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "failed to decode key types response")
	}
	return body.KeyTypes, nil
}

// GenerateKey creates a new key of the given type on the signer.
// Generation is operator-approved and may block until the operator responds.
func (c *Client) GenerateKey(keyType string, parameters map[string]string) (*GenerateResult, error) {
	body := map[string]interface{}{"key_type": keyType}
	if len(parameters) > 0 {
		body["parameters"] = parameters
	}

	resp, err := c.do(http.MethodPost, "/admin/generate", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkAdminStatus(resp); err != nil {
		return nil, err
	}

	var result GenerateResult
	raw, errMsg := decodeWithError(resp.Body, &result)
	if raw != nil {
		return nil, raw
	}
	if errMsg != "" {
		return nil, errors.New(errMsg)
	}

	c.invalidateKeyCache()
	return &result, nil
}

// DeleteKey removes a key from the signer.
func (c *Client) DeleteKey(address string) error {
	resp, err := c.do(http.MethodDelete, "/admin/keys?address="+url.QueryEscape(address), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return ErrAuthentication
	case http.StatusForbidden:
		return ErrSignerLocked
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrKeyNotFound, address)
	}
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	if msg := safeErrorMessage(resp.Body); msg != "" {
		return errors.New(msg)
	}

	c.invalidateKeyCache()
	return nil
}

// SignGroup submits the slots as one group and returns the signed bytes per
// final group position. Foreign slots come back nil. The result may be
// longer than the input when the signer inserts dummy transactions.
func (c *Client) SignGroup(slots ...Slot) ([][]byte, error) {
	requests, _, err := buildRequests(slots)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(http.MethodPost, "/sign", signRequestBody{Requests: requests})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkSignStatus(resp); err != nil {
		return nil, err
	}

	var body signResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "failed to decode sign response")
	}
	if body.Error != "" {
		return nil, errors.New(body.Error)
	}
	if len(body.Signed) == 0 {
		return nil, errors.New("signer returned no signed transactions")
	}

	signed := make([][]byte, len(body.Signed))
	for i, h := range body.Signed {
		if h == "" {
			continue // foreign slot, signed elsewhere
		}
		raw, err := hex.DecodeString(h)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("invalid hex in signed[%d]", i))
		}
		signed[i] = raw
	}
	return signed, nil
}

// SignBlob signs the slots and concatenates the results into one
// submit-ready blob. Fails when any slot remains unsigned: a group with
// foreign holes must go through SignGroup and AssembleGroup instead.
func (c *Client) SignBlob(slots ...Slot) ([]byte, error) {
	signed, err := c.SignGroup(slots...)
	if err != nil {
		return nil, err
	}

	var blob []byte
	for i, s := range signed {
		if len(s) == 0 {
			return nil, errors.New(fmt.Sprintf("slot %d is unsigned, assemble the group from all parties instead", i))
		}
		blob = append(blob, s...)
	}
	return blob, nil
}

// PlanGroup previews group building without signing or operator approval.
// The signer returns the final unsigned transactions plus a mutation report.
func (c *Client) PlanGroup(slots ...Slot) (*Plan, error) {
	requests, _, err := buildRequests(slots)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(http.MethodPost, "/plan", signRequestBody{Requests: requests})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return nil, ErrAuthentication
	case http.StatusBadRequest:
		msg := safeErrorMessage(resp.Body)
		if strings.Contains(strings.ToLower(msg), "not found") {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, msg)
		}
		return nil, errors.New("bad request: " + msg)
	case http.StatusForbidden:
		return nil, errors.New(nonEmpty(safeErrorMessage(resp.Body), "forbidden"))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var body planResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "failed to decode plan response")
	}
	if body.Error != "" {
		return nil, errors.New(body.Error)
	}

	plan := &Plan{
		Transactions: make([][]byte, len(body.Transactions)),
		Mutations:    body.Mutations,
	}
	for i, h := range body.Transactions {
		raw, err := hex.DecodeString(h)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("invalid hex in transactions[%d]", i))
		}
		plan.Transactions[i] = raw
	}
	return plan, nil
}

func (c *Client) do(method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal request")
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "aplane "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSignerUnavailable, err.Error())
	}
	return resp, nil
}

// checkSignStatus maps /sign response codes onto sentinel errors.
func (c *Client) checkSignStatus(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized:
		return ErrAuthentication
	case http.StatusBadRequest:
		msg := safeErrorMessage(resp.Body)
		if strings.Contains(strings.ToLower(msg), "not found") {
			return fmt.Errorf("%w: %s", ErrKeyNotFound, msg)
		}
		return errors.New("bad request: " + msg)
	case http.StatusForbidden:
		if msg := safeErrorMessage(resp.Body); msg != "" {
			return fmt.Errorf("%w: %s", ErrSigningRejected, msg)
		}
		return ErrSigningRejected
	case http.StatusServiceUnavailable:
		if msg := safeErrorMessage(resp.Body); msg != "" {
			return fmt.Errorf("%w: %s", ErrSignerUnavailable, msg)
		}
		return ErrSignerUnavailable
	default:
		return statusError(resp)
	}
}

// checkAdminStatus maps key management response codes onto sentinel errors.
// A 403 here means the signer is locked, not that an operator rejected.
func (c *Client) checkAdminStatus(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized:
		return ErrAuthentication
	case http.StatusForbidden:
		return ErrSignerLocked
	case http.StatusBadRequest:
		return errors.New(nonEmpty(safeErrorMessage(resp.Body), "bad request"))
	default:
		return statusError(resp)
	}
}

func (c *Client) invalidateKeyCache() {
	c.mu.Lock()
	c.keyCache = nil
	c.mu.Unlock()
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)
	return &StatusError{Code: resp.StatusCode, Body: string(raw)}
}

// safeErrorMessage extracts the "error" field, tolerating empty and
// non-JSON bodies the way a plain-text reverse proxy would produce.
func safeErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(r)
	if err != nil || len(raw) == 0 {
		return ""
	}
	var body errorResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return strings.TrimSpace(string(raw))
	}
	return body.Error
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

// decodeWithError decodes a JSON payload that may carry an inline error.
func decodeWithError(r io.Reader, out interface{}) (error, string) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "failed to read response"), ""
	}

	var probe errorResponse
	if err := json.Unmarshal(raw, &probe); err == nil && probe.Error != "" {
		return nil, probe.Error
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrap(err, "failed to decode response"), ""
	}
	return nil, ""
}
