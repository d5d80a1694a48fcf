package secret

import (
	"os"
	"path/filepath"

	"gitlab.com/distributed_lab/logan/v3/errors"

	"github.com/rarimo/swap-svc/internal/signer"
)

// LocalStorage keeps the token as a file in the signer data directory,
// where the client's environment loader also finds it.
type LocalStorage struct {
	dataDir string
}

func NewLocalStorage(dataDir string) *LocalStorage {
	return &LocalStorage{dataDir: signer.ResolveDataDir(dataDir)}
}

var _ Storage = &LocalStorage{}

func (l *LocalStorage) GetToken() (string, error) {
	return signer.LoadTokenFromDir(l.dataDir)
}

func (l *LocalStorage) SetToken(token string) error {
	if err := os.MkdirAll(l.dataDir, 0700); err != nil {
		return errors.Wrap(err, "failed to create data dir")
	}

	path := filepath.Join(l.dataDir, signer.TokenFileName)
	if err := os.WriteFile(path, []byte(token+"\n"), 0600); err != nil {
		return errors.Wrap(err, "failed to write token file")
	}
	return nil
}
