package sessionmanager

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	multierror "github.com/hashicorp/go-multierror"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// KeyLoader produces the private keys offered during public-key
// authentication.
type KeyLoader interface {
	PrivateKeys(passphrase string) ([]ssh.Signer, error)
}

// FileKeyLoader reads id_* private keys from an .ssh directory. An empty Dir
// means $HOME/.ssh.
type FileKeyLoader struct {
	Dir string
}

func (l FileKeyLoader) PrivateKeys(passphrase string) ([]ssh.Signer, error) {
	dir := l.Dir
	if dir == "" {
		dir = filepath.Join(os.Getenv("HOME"), ".ssh")
	}

	files, err := filepath.Glob(filepath.Join(dir, "id_*"))
	if err != nil {
		return nil, err
	}

	var signers []ssh.Signer
	var failures *multierror.Error
	for _, file := range files {
		if strings.HasSuffix(file, ".pub") {
			continue
		}

		keyBytes, err := os.ReadFile(file)
		if err != nil {
			failures = multierror.Append(failures, fmt.Errorf("%s: %w", file, err))
			continue
		}

		var signer ssh.Signer
		if passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyBytes)
		}
		if err != nil {
			failures = multierror.Append(failures, fmt.Errorf("%s: %w", file, err))
			continue
		}

		signers = append(signers, signer)
	}

	if len(signers) == 0 {
		if err := failures.ErrorOrNil(); err != nil {
			return nil, fmt.Errorf("no usable SSH keys in %s: %w", dir, err)
		}
		return nil, fmt.Errorf("no SSH keys found in %s", dir)
	}
	return signers, nil
}

// AgentKeyLoader fetches keys from the running SSH agent.
type AgentKeyLoader struct{}

func (AgentKeyLoader) PrivateKeys(_ string) ([]ssh.Signer, error) {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, fmt.Errorf("SSH_AUTH_SOCK not set")
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("could not connect to SSH agent: %w", err)
	}
	defer conn.Close()

	signers, err := agent.NewClient(conn).Signers()
	if err != nil {
		return nil, fmt.Errorf("could not get signers from SSH agent: %w", err)
	}
	if len(signers) == 0 {
		return nil, fmt.Errorf("no keys in SSH agent")
	}
	return signers, nil
}
