package config

import (
	"os"

	vault "github.com/hashicorp/vault/api"
	"gitlab.com/distributed_lab/figure"
	"gitlab.com/distributed_lab/kit/kv"

	"github.com/rarimo/swap-svc/internal/secret"
)

const (
	VaultPathEnv    = "VAULT_PATH"
	VaultTokenEnv   = "VAULT_TOKEN"
	VaultMountPath  = "MOUNT_PATH"
	VaultSecretPath = "VAULT_SECRET_PATH"
)

func (c *config) Vault() *vault.KVv2 {
	return c.vault.Do(func() interface{} {
		conf := vault.DefaultConfig()
		conf.Address = os.Getenv(VaultPathEnv)

		client, err := vault.NewClient(conf)
		if err != nil {
			panic(err)
		}

		client.SetToken(os.Getenv(VaultTokenEnv))

		return client.KVv2(os.Getenv(VaultMountPath))
	}).(*vault.KVv2)
}

// Secret picks the token storage backend: Vault when a Vault address is
// configured in the environment, the signer data directory otherwise.
func (c *config) Secret() secret.Storage {
	return c.secrets.Do(func() interface{} {
		if os.Getenv(VaultPathEnv) != "" {
			return secret.Storage(secret.NewVaultStorage(c.Vault(), c.Log(), os.Getenv(VaultSecretPath)))
		}

		var cfg struct {
			DataDir string `fig:"data_dir"`
		}
		if err := figure.Out(&cfg).From(kv.MustGetStringMap(c.getter, "signer")).Please(); err != nil {
			panic(err)
		}

		return secret.Storage(secret.NewLocalStorage(cfg.DataDir))
	}).(secret.Storage)
}
