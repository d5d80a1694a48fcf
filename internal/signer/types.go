package signer

// RuntimeArg describes a runtime argument accepted by a generic LogicSig key.
type RuntimeArg struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	ByteLength  int    `json:"byte_length,omitempty"`
}

// KeyInfo describes a signing key held by the signer.
type KeyInfo struct {
	Address       string       `json:"address"`
	PublicKeyHex  string       `json:"public_key_hex"`
	KeyType       string       `json:"key_type"`
	LsigSize      int          `json:"lsig_size,omitempty"`
	IsGenericLsig bool         `json:"is_generic_lsig,omitempty"`
	RuntimeArgs   []RuntimeArg `json:"runtime_args,omitempty"`
}

// CreationParam describes one generation-time parameter of a key type.
type CreationParam struct {
	Name        string   `json:"name"`
	Label       string   `json:"label"`
	Description string   `json:"description,omitempty"`
	Type        string   `json:"type"`
	Required    bool     `json:"required"`
	Options     []string `json:"options,omitempty"`
}

// KeyTypeInfo describes a key type the signer can generate.
type KeyTypeInfo struct {
	Name           string          `json:"name"`
	Label          string          `json:"label"`
	Description    string          `json:"description,omitempty"`
	CreationParams []CreationParam `json:"creation_params,omitempty"`
}

// GenerateResult is the outcome of generating a key on the signer.
type GenerateResult struct {
	Address    string            `json:"address"`
	KeyType    string            `json:"key_type"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// MutationReport describes modifications the signer made while building a group.
type MutationReport struct {
	DummiesAdded     int    `json:"dummies_added,omitempty"`
	GroupIDChanged   bool   `json:"group_id_changed,omitempty"`
	FeesModified     []int  `json:"fees_modified,omitempty"`
	TotalFeesDelta   int    `json:"total_fees_delta,omitempty"`
	OriginalCount    int    `json:"original_count,omitempty"`
	FinalCount       int    `json:"final_count,omitempty"`
	PassthroughCount int    `json:"passthrough_count,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

// Plan is the signer's preview of a group build: the final unsigned
// transactions plus a report of any mutations it would apply.
type Plan struct {
	Transactions [][]byte
	Mutations    *MutationReport
}

// Args holds runtime LogicSig arguments by name.
type Args map[string][]byte

type signRequest struct {
	AuthAddress  string            `json:"auth_address,omitempty"`
	TxnSender    string            `json:"txn_sender,omitempty"`
	TxnBytesHex  string            `json:"txn_bytes_hex,omitempty"`
	LsigArgs     map[string]string `json:"lsig_args,omitempty"`
	LsigSize     int               `json:"lsig_size,omitempty"`
	SignedTxnHex string            `json:"signed_txn_hex,omitempty"`
}

type signRequestBody struct {
	Requests []signRequest `json:"requests"`
}

type signResponse struct {
	Signed    []string        `json:"signed,omitempty"`
	Mutations *MutationReport `json:"mutations,omitempty"`
	Error     string          `json:"error,omitempty"`
}

type planResponse struct {
	Transactions []string        `json:"transactions,omitempty"`
	Mutations    *MutationReport `json:"mutations,omitempty"`
	Error        string          `json:"error,omitempty"`
}

type keysResponse struct {
	Count int       `json:"count"`
	Keys  []KeyInfo `json:"keys"`
}

type keyTypesResponse struct {
	KeyTypes []KeyTypeInfo `json:"key_types"`
}

type errorResponse struct {
	Error string `json:"error,omitempty"`
}
