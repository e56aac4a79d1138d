// Package sessionmanager establishes management sessions with hosts. A failed
// dial is an ordinary return value so callers can treat unreachable hosts as
// data rather than as failures to propagate.
package sessionmanager

import (
	"context"
	"fmt"
	"net"
	"os/user"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
)

// DefaultPort is the SSH port used when a dialer does not set one.
const DefaultPort = 22

// DefaultDialTimeout bounds connection attempts when a dialer does not set one.
const DefaultDialTimeout = 10 * time.Second

// DefaultCommandTimeout bounds remote command execution when a dialer does not
// set one.
const DefaultCommandTimeout = 15 * time.Second

// Session is an established management connection to a single host. It is
// owned by exactly one query iteration and must be closed before the next
// host is dialed.
type Session interface {
	// Output runs a command on the host and returns its combined output.
	Output(ctx context.Context, cmd string) (string, error)

	// Close releases the underlying connection. Safe to call on every exit
	// path after a successful dial.
	Close() error

	// Remote reports whether the session crosses the network. Local sessions
	// let callers answer queries straight from the local kernel.
	Remote() bool
}

// Dialer attempts to reach a host. The error return is the unreachable arm of
// the outcome: callers consume it, they do not re-throw it.
type Dialer interface {
	Dial(ctx context.Context, host string) (Session, error)
}

// Credentials carries everything needed to authenticate an SSH session.
type Credentials struct {
	User          string
	Password      string
	KeyPassphrase string
}

// SSHClient abstracts ssh.Dial so tests can stub connection outcomes.
type SSHClient interface {
	Dial(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)
}

type realSSHClient struct{}

func (realSSHClient) Dial(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	return ssh.Dial(network, addr, config)
}

// SSHDialer reaches hosts over SSH. The zero value plus Credentials is usable;
// unset fields fall back to the package defaults. Hosts that name the local
// machine get a local session with no network round trip.
type SSHDialer struct {
	Credentials

	Port           int
	DialTimeout    time.Duration
	CommandTimeout time.Duration

	// Client and Keys are injection points for tests; production code leaves
	// them nil.
	Client SSHClient
	Keys   KeyLoader
}

// Dial connects to the named host. An unreachable host yields (nil, err);
// nothing is retried and nothing panics.
func (d *SSHDialer) Dial(ctx context.Context, host string) (Session, error) {
	if IsLocal(host) {
		return &localSession{timeout: d.commandTimeout()}, nil
	}

	config, err := d.clientConfig()
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < config.Timeout {
		config.Timeout = time.Until(deadline)
	}

	client := d.Client
	if client == nil {
		client = realSSHClient{}
	}

	addr := net.JoinHostPort(host, strconv.Itoa(d.port()))
	conn, err := client.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	return &sshSession{client: conn, timeout: d.commandTimeout()}, nil
}

func (d *SSHDialer) port() int {
	if d.Port > 0 {
		return d.Port
	}
	return DefaultPort
}

func (d *SSHDialer) commandTimeout() time.Duration {
	if d.CommandTimeout > 0 {
		return d.CommandTimeout
	}
	return DefaultCommandTimeout
}

func (d *SSHDialer) clientConfig() (*ssh.ClientConfig, error) {
	username := d.User
	if username == "" {
		current, err := user.Current()
		if err != nil {
			return nil, fmt.Errorf("could not determine current user: %w", err)
		}
		username = current.Username
	}

	var authMethod ssh.AuthMethod
	if d.Password != "" {
		authMethod = ssh.Password(d.Password)
	} else {
		loader := d.Keys
		if loader == nil {
			if d.KeyPassphrase != "" {
				loader = FileKeyLoader{}
			} else {
				loader = AgentKeyLoader{}
			}
		}

		keys, err := loader.PrivateKeys(d.KeyPassphrase)
		if err != nil {
			return nil, err
		}
		authMethod = ssh.PublicKeysCallback(func() ([]ssh.Signer, error) {
			return keys, nil
		})
	}

	timeout := d.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	return &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{authMethod},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}, nil
}

// sshSession wraps an established SSH connection. Each Output call runs in a
// fresh SSH channel so a hung command cannot poison the next one.
type sshSession struct {
	client  *ssh.Client
	timeout time.Duration
}

func (s *sshSession) Output(ctx context.Context, cmd string) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	sess, err := s.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()

	type execResult struct {
		output string
		err    error
	}
	outputCh := make(chan execResult, 1)
	go func() {
		out, err := sess.CombinedOutput(cmd)
		outputCh <- execResult{output: string(out), err: err}
	}()

	select {
	case res := <-outputCh:
		if res.err != nil {
			return res.output, fmt.Errorf("run %q: %w", cmd, res.err)
		}
		return res.output, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *sshSession) Close() error {
	return s.client.Close()
}

func (s *sshSession) Remote() bool {
	return true
}
