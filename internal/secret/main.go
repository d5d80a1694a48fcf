package secret

// Storage is responsible for keeping the signer access token between runs.
type Storage interface {
	GetToken() (string, error)
	SetToken(token string) error
}
