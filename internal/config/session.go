package config

import (
	"gitlab.com/distributed_lab/figure"
	"gitlab.com/distributed_lab/kit/kv"
)

// SessionInfo configures one side of a coordination session. The swap and
// htlc sections share the shape; the timeout and funding fields only
// matter for htlc sessions.
type SessionInfo struct {
	Role        string `fig:"role,required"`
	MyAddress   string `fig:"my_address,required"`
	PeerAddress string `fig:"peer_address,required"`
	StateFile   string `fig:"state_file,required"`

	MyAssetID   uint64 `fig:"my_asa_id"`
	MyAmount    uint64 `fig:"my_asa_amount"`
	PeerAssetID uint64 `fig:"peer_asa_id"`
	PeerAmount  uint64 `fig:"peer_asa_amount"`

	// Generic swap: the exchange application holding the partial groups.
	AppID uint64 `fig:"app_id"`

	// HTLC: lock funding and refund timeouts.
	FundAmount          uint64 `fig:"fund_algo_amount"`
	BuyerTimeoutOffset  uint64 `fig:"buyer_timeout_offset"`
	SellerTimeoutOffset uint64 `fig:"seller_timeout_offset"`
}

func (c *config) Swap() *SessionInfo {
	return c.swap.Do(func() interface{} {
		return c.sessionInfo("swap")
	}).(*SessionInfo)
}

func (c *config) HTLC() *SessionInfo {
	return c.htlc.Do(func() interface{} {
		return c.sessionInfo("htlc")
	}).(*SessionInfo)
}

func (c *config) sessionInfo(key string) *SessionInfo {
	info := &SessionInfo{}
	if err := figure.Out(info).From(kv.MustGetStringMap(c.getter, key)).Please(); err != nil {
		panic(err)
	}
	return info
}
