package signer

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"

	"gitlab.com/distributed_lab/logan/v3/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// tunnel forwards a local TCP port to the signer's HTTP port over SSH.
// The token is presented as the SSH username, so reaching the HTTP API
// requires both the token and the SSH private key.
type tunnel struct {
	client         *ssh.Client
	listener       net.Listener
	done           chan struct{}
	wg             sync.WaitGroup
	knownHostsPath string
}

// connect dials the SSH endpoint and starts forwarding. Returns the local
// port the client should send HTTP traffic to.
func (t *tunnel) connect(host string, sshPort, signerPort int, token, sshKeyPath string) (int, error) {
	keyData, err := os.ReadFile(sshKeyPath)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read ssh key")
	}

	key, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return 0, errors.Wrap(err, "failed to parse ssh key")
	}

	hostKeyCallback, err := t.buildHostKeyCallback()
	if err != nil {
		return 0, errors.Wrap(err, "failed to set up host key verification")
	}

	config := &ssh.ClientConfig{
		User:            token,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(key)},
		HostKeyCallback: hostKeyCallback,
	}

	client, err := ssh.Dial("tcp", fmt.Sprintf("%s:%d", host, sshPort), config)
	if err != nil {
		return 0, errors.Wrap(err, "failed to connect to ssh endpoint")
	}
	t.client = client

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		client.Close()
		return 0, errors.Wrap(err, "failed to create local listener")
	}
	t.listener = listener
	t.done = make(chan struct{})

	localPort := listener.Addr().(*net.TCPAddr).Port
	remoteAddr := fmt.Sprintf("127.0.0.1:%d", signerPort)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			localConn, err := listener.Accept()
			if err != nil {
				select {
				case <-t.done:
					return
				default:
					continue
				}
			}

			remoteConn, err := client.Dial("tcp", remoteAddr)
			if err != nil {
				localConn.Close()
				continue
			}

			go func() {
				defer localConn.Close()
				defer remoteConn.Close()
				go io.Copy(remoteConn, localConn)
				io.Copy(localConn, remoteConn)
			}()
		}
	}()

	return localPort, nil
}

func (t *tunnel) close() {
	if t.done != nil {
		close(t.done)
	}
	if t.listener != nil {
		t.listener.Close()
	}
	if t.client != nil {
		t.client.Close()
	}
	t.wg.Wait()
}

// buildHostKeyCallback verifies host keys trust-on-first-use: known hosts
// must match, unknown hosts are recorded on first contact. Without a
// known_hosts path verification is skipped entirely.
func (t *tunnel) buildHostKeyCallback() (ssh.HostKeyCallback, error) {
	if t.knownHostsPath == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	var existing ssh.HostKeyCallback
	if _, err := os.Stat(t.knownHostsPath); err == nil {
		cb, err := knownhosts.New(t.knownHostsPath)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load known_hosts")
		}
		existing = cb
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if existing != nil {
			err := existing(hostname, remote, key)
			if err == nil {
				return nil
			}
			keyErr, ok := err.(*knownhosts.KeyError)
			if !ok {
				return err
			}
			if len(keyErr.Want) > 0 {
				return errors.New(fmt.Sprintf(
					"ssh host key mismatch for %s (possible mitm); remove the old key from %s to connect",
					hostname, t.knownHostsPath,
				))
			}
			// unknown host, record it below
		}

		if err := t.saveHostKey(hostname, key); err != nil {
			return errors.Wrap(err, "failed to save host key")
		}
		return nil
	}, nil
}

func (t *tunnel) saveHostKey(hostname string, key ssh.PublicKey) error {
	dir := filepath.Dir(t.knownHostsPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return errors.Wrap(err, "failed to create known_hosts dir")
		}
	}

	line := knownhosts.Line([]string{hostname}, key)

	f, err := os.OpenFile(t.knownHostsPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return errors.Wrap(err, "failed to open known_hosts")
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "failed to write host key")
	}
	return f.Close()
}
