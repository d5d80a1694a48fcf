package signer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"gitlab.com/distributed_lab/logan/v3/errors"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultDataDir holds the token, config and SSH material.
	DefaultDataDir = "~/.swap-svc"
	// DataDirEnv overrides the data directory location.
	DataDirEnv = "SWAP_SVC_DATA"
	// TokenFileName is the access token file inside the data directory.
	TokenFileName = "signer.token"
	// ConfigFileName is the connection config inside the data directory.
	ConfigFileName = "config.yaml"
)

// SSHConfig is the tunnel section of config.yaml.
type SSHConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	IdentityFile   string `yaml:"identity_file"`
	KnownHostsPath string `yaml:"known_hosts_path"`
}

// Config is the connection config loaded from the data directory.
type Config struct {
	SignerPort int        `yaml:"signer_port"`
	SSH        *SSHConfig `yaml:"ssh,omitempty"`
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return path
	}
	return expanded
}

// ResolveDataDir picks the data directory: explicit argument, then the
// environment override, then the default.
func ResolveDataDir(dir string) string {
	if dir == "" {
		dir = os.Getenv(DataDirEnv)
	}
	if dir == "" {
		dir = DefaultDataDir
	}
	return ExpandPath(dir)
}

// LoadToken reads an access token from a file.
func LoadToken(path string) (string, error) {
	raw, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrTokenNotFound, path)
		}
		return "", errors.Wrap(err, "failed to read token file")
	}

	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", fmt.Errorf("%w: token file is empty", ErrTokenNotFound)
	}
	return token, nil
}

// LoadTokenFromDir reads the token from the data directory.
func LoadTokenFromDir(dataDir string) (string, error) {
	return LoadToken(filepath.Join(dataDir, TokenFileName))
}

// LoadConfig reads config.yaml from the data directory. A missing file
// yields a default local config rather than an error.
func LoadConfig(dataDir string) (*Config, error) {
	raw, err := os.ReadFile(filepath.Join(dataDir, ConfigFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{SignerPort: DefaultHTTPPort}, nil
		}
		return nil, errors.Wrap(err, "failed to read config.yaml")
	}

	var config Config
	if err := yaml.Unmarshal(raw, &config); err != nil {
		return nil, errors.Wrap(err, "failed to parse config.yaml")
	}
	if config.SignerPort == 0 {
		config.SignerPort = DefaultHTTPPort
	}
	return &config, nil
}

// FromEnv creates a client from the data directory: token from the token
// file, connection settings from config.yaml.
func FromEnv(dataDir string, timeout time.Duration) (*Client, error) {
	dataDir = ResolveDataDir(dataDir)

	token, err := LoadTokenFromDir(dataDir)
	if err != nil {
		return nil, err
	}
	return WithToken(dataDir, token, timeout)
}

// WithToken creates a client from the data directory's connection settings
// using an explicitly supplied token, for callers that keep the token
// somewhere other than the token file. Connects through SSH when an ssh
// block is configured, locally otherwise.
func WithToken(dataDir, token string, timeout time.Duration) (*Client, error) {
	dataDir = ResolveDataDir(dataDir)

	config, err := LoadConfig(dataDir)
	if err != nil {
		return nil, err
	}

	if config.SSH != nil && config.SSH.Host != "" {
		identityFile := config.SSH.IdentityFile
		if identityFile == "" {
			identityFile = filepath.Join(".ssh", "id_ed25519")
		}
		knownHosts := config.SSH.KnownHostsPath
		if knownHosts == "" {
			knownHosts = filepath.Join(".ssh", "known_hosts")
		}
		return ConnectSSH(config.SSH.Host, token, filepath.Join(dataDir, identityFile), &SSHOptions{
			SSHPort:        config.SSH.Port,
			SignerPort:     config.SignerPort,
			Timeout:        timeout,
			KnownHostsPath: filepath.Join(dataDir, knownHosts),
		})
	}

	return ConnectLocal(token, &ConnectOptions{
		Port:    config.SignerPort,
		Timeout: timeout,
	}), nil
}
