package session

import (
	"encoding/json"
	"os"
	"path/filepath"

	"gitlab.com/distributed_lab/logan/v3/errors"
)

// Role names a participant's side of a swap.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// State is the persistent record of one coordination session. One struct
// serves both protocols; fields the protocol does not use stay zero.
type State struct {
	Role        Role   `json:"role"`
	Status      string `json:"status"`
	MyAddress   string `json:"my_address"`
	PeerAddress string `json:"peer_address"`

	// Each side offers a different asset, id 0 means the native token.
	MyAssetID   uint64 `json:"my_asa_id"`
	MyAmount    uint64 `json:"my_asa_amount"`
	PeerAssetID uint64 `json:"peer_asa_id"`
	PeerAmount  uint64 `json:"peer_asa_amount"`

	// Generic swap via the exchange store.
	GroupTxID    string `json:"group_txid,omitempty"`
	AppID        uint64 `json:"swap_app_id,omitempty"`
	BoxName      string `json:"swap_box_name,omitempty"`
	PeerLsigSize uint64 `json:"peer_lsig_size,omitempty"`

	// HTLC swap.
	Preimage     string `json:"preimage,omitempty"`
	Hash         string `json:"hash,omitempty"`
	MyHashlock   string `json:"my_hashlock,omitempty"`
	PeerHashlock string `json:"peer_hashlock,omitempty"`
	MyTimeout    uint64 `json:"my_timeout,omitempty"`
	PeerTimeout  uint64 `json:"peer_timeout,omitempty"`
	FundAmount   uint64 `json:"fund_algo_amount,omitempty"`
	ClaimTxID    string `json:"claim_txid,omitempty"`

	// Message channel cursor.
	SeenTxIDs     []string `json:"seen_txids"`
	LastSeenRound uint64   `json:"last_seen_round"`

	Actions []string `json:"actions"`
}

// Record appends one line to the session's action history.
func (s *State) Record(action string) {
	s.Actions = append(s.Actions, action)
}

// Store persists session state as one JSON file.
type Store struct {
	path string
}

// NewStore creates a store writing to path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file location.
func (st *Store) Path() string {
	return st.path
}

// Save writes the state, creating parent directories as needed.
func (st *Store) Save(state *State) error {
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal session state")
	}

	if dir := filepath.Dir(st.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return errors.Wrap(err, "failed to create session dir")
		}
	}
	if err := os.WriteFile(st.path, raw, 0600); err != nil {
		return errors.Wrap(err, "failed to write session state")
	}
	return nil
}

// Load reads the state. A missing file yields nil without error.
func (st *Store) Load() (*State, error) {
	raw, err := os.ReadFile(st.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to read session state")
	}

	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, errors.Wrap(err, "failed to parse session state")
	}
	return &state, nil
}
