package config

import (
	"gitlab.com/distributed_lab/figure"
	"gitlab.com/distributed_lab/kit/kv"

	"github.com/rarimo/swap-svc/internal/chain"
)

func (c *config) Chain() *chain.Client {
	return c.chain.Do(func() interface{} {
		var cfg struct {
			AlgodURL     string `fig:"algod_url,required"`
			AlgodToken   string `fig:"algod_token"`
			IndexerURL   string `fig:"indexer_url"`
			IndexerToken string `fig:"indexer_token"`
		}

		if err := figure.Out(&cfg).From(kv.MustGetStringMap(c.getter, "chain")).Please(); err != nil {
			panic(err)
		}

		client, err := chain.New(c.Log(), cfg.AlgodURL, cfg.AlgodToken, cfg.IndexerURL, cfg.IndexerToken)
		if err != nil {
			panic(err)
		}

		return client
	}).(*chain.Client)
}
