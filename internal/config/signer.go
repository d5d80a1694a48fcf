package config

import (
	"time"

	"gitlab.com/distributed_lab/figure"
	"gitlab.com/distributed_lab/kit/kv"
	"gitlab.com/distributed_lab/logan/v3/errors"

	"github.com/rarimo/swap-svc/internal/signer"
)

func (c *config) Signer() *signer.Client {
	return c.signer.Do(func() interface{} {
		var cfg struct {
			DataDir        string `fig:"data_dir"`
			TimeoutSeconds uint64 `fig:"timeout_seconds"`
		}

		if err := figure.Out(&cfg).From(kv.MustGetStringMap(c.getter, "signer")).Please(); err != nil {
			panic(err)
		}

		timeout := signer.DefaultTimeout
		if cfg.TimeoutSeconds > 0 {
			timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
		}

		token, err := c.Secret().GetToken()
		if err != nil {
			panic(errors.Wrap(err, "failed to load signer token"))
		}

		client, err := signer.WithToken(cfg.DataDir, token, timeout)
		if err != nil {
			panic(err)
		}

		return client
	}).(*signer.Client)
}
