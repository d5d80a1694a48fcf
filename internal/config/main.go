package config

import (
	vault "github.com/hashicorp/vault/api"
	"gitlab.com/distributed_lab/kit/comfig"
	"gitlab.com/distributed_lab/kit/kv"

	"github.com/rarimo/swap-svc/internal/chain"
	"github.com/rarimo/swap-svc/internal/secret"
	"github.com/rarimo/swap-svc/internal/signer"
)

type Config interface {
	comfig.Logger

	Chain() *chain.Client
	Signer() *signer.Client
	Swap() *SessionInfo
	HTLC() *SessionInfo
	Vault() *vault.KVv2
	Secret() secret.Storage
}

type config struct {
	comfig.Logger
	getter kv.Getter

	chain   comfig.Once
	signer  comfig.Once
	swap    comfig.Once
	htlc    comfig.Once
	vault   comfig.Once
	secrets comfig.Once
}

func New(getter kv.Getter) Config {
	return &config{
		getter: getter,
		Logger: comfig.NewLogger(getter, comfig.LoggerOpts{}),
	}
}
