package secret

import (
	"context"
	"sync"

	vault "github.com/hashicorp/vault/api"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

const tokenKey = "signer_token"

// VaultStorage keeps the token in a Vault KV v2 secret, loaded once and
// cached for the process lifetime.
type VaultStorage struct {
	mu     sync.Mutex
	log    *logan.Entry
	client *vault.KVv2
	path   string
	token  string
}

func NewVaultStorage(client *vault.KVv2, log *logan.Entry, path string) *VaultStorage {
	return &VaultStorage{
		log:    log.WithField("who", "vault-storage"),
		client: client,
		path:   path,
	}
}

var _ Storage = &VaultStorage{}

func (v *VaultStorage) GetToken() (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.token != "" {
		return v.token, nil
	}

	kvSecret, err := v.client.Get(context.Background(), v.path)
	if err != nil {
		return "", errors.Wrap(err, "failed to get secret data")
	}

	token, _ := kvSecret.Data[tokenKey].(string)
	if token == "" {
		return "", errors.New("vault secret has no " + tokenKey)
	}

	v.token = token
	return token, nil
}

func (v *VaultStorage) SetToken(token string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	_, err := v.client.Put(context.Background(), v.path, map[string]interface{}{
		tokenKey: token,
	})
	if err != nil {
		return errors.Wrap(err, "failed to put secret data")
	}

	v.token = token
	v.log.Info("stored signer token in vault")
	return nil
}
