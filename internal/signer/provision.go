package signer

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gitlab.com/distributed_lab/logan/v3/errors"
	"golang.org/x/crypto/ssh"
)

// provisionTimeout bounds how long a token request waits for the operator.
const provisionTimeout = 5 * time.Minute

// RequestToken asks the signer's operator to issue an access token. The
// request rides over SSH with the username "request-token:<identity>"; the
// operator sees the identity and the key fingerprint and approves or
// rejects. Blocks until the operator responds or the timeout elapses.
func RequestToken(host string, sshPort int, identity, sshKeyPath, knownHostsPath string) (string, error) {
	if identity == "" {
		identity = "default"
	}
	if sshPort <= 0 {
		sshPort = DefaultSSHPort
	}

	keyData, err := os.ReadFile(ExpandPath(sshKeyPath))
	if err != nil {
		return "", errors.Wrap(err, "failed to read ssh key")
	}
	key, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse ssh key")
	}

	tun := &tunnel{knownHostsPath: ExpandPath(knownHostsPath)}
	hostKeyCallback, err := tun.buildHostKeyCallback()
	if err != nil {
		return "", errors.Wrap(err, "failed to set up host key verification")
	}

	config := &ssh.ClientConfig{
		User:            "request-token:" + identity,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(key)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         provisionTimeout,
	}

	client, err := ssh.Dial("tcp", fmt.Sprintf("%s:%d", host, sshPort), config)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrProvisioningRejected, err.Error())
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", errors.Wrap(err, "failed to open ssh session")
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	// Blocks until the operator approves or rejects.
	if err := session.Run("provision"); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		if msg == "" {
			return "", ErrProvisioningRejected
		}
		return "", fmt.Errorf("%w: %s", ErrProvisioningRejected, msg)
	}

	token := strings.TrimSpace(stdout.String())
	if token == "" {
		return "", fmt.Errorf("%w: empty token received", ErrProvisioningRejected)
	}
	return token, nil
}

// RequestTokenToFile provisions a token using the data directory's SSH
// settings and writes it to the token file. Returns the token file path.
func RequestTokenToFile(dataDir, host string, sshPort int, identity string) (string, error) {
	dataDir = ResolveDataDir(dataDir)

	config, err := LoadConfig(dataDir)
	if err != nil {
		return "", err
	}

	if host == "" {
		if config.SSH == nil || config.SSH.Host == "" {
			return "", errors.New("no host given and no ssh.host in config.yaml")
		}
		host = config.SSH.Host
	}
	if sshPort <= 0 && config.SSH != nil {
		sshPort = config.SSH.Port
	}

	identityFile := filepath.Join(dataDir, ".ssh", "id_ed25519")
	knownHosts := filepath.Join(dataDir, ".ssh", "known_hosts")
	if config.SSH != nil {
		if config.SSH.IdentityFile != "" {
			identityFile = filepath.Join(dataDir, config.SSH.IdentityFile)
		}
		if config.SSH.KnownHostsPath != "" {
			knownHosts = filepath.Join(dataDir, config.SSH.KnownHostsPath)
		}
	}

	token, err := RequestToken(host, sshPort, identity, identityFile, knownHosts)
	if err != nil {
		return "", err
	}

	tokenPath := filepath.Join(dataDir, TokenFileName)
	if err := os.WriteFile(tokenPath, []byte(token+"\n"), 0600); err != nil {
		return "", errors.Wrap(err, "failed to write token file")
	}
	return tokenPath, nil
}
