package sessionmanager

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// IsLocal reports whether a host name refers to the machine we are running on.
// Local targets are answered without any network dial.
func IsLocal(host string) bool {
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return strings.EqualFold(host, hostname)
	}
	return false
}

// localSession satisfies Session for the local machine. Commands run through
// the local shell-less exec path; no connection exists, so Close is a no-op.
type localSession struct {
	timeout time.Duration
}

func (s *localSession) Output(ctx context.Context, cmd string) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return "", fmt.Errorf("empty command")
	}

	out, err := exec.CommandContext(ctx, parts[0], parts[1:]...).CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("run %q: %w", cmd, err)
	}
	return string(out), nil
}

func (s *localSession) Close() error {
	return nil
}

func (s *localSession) Remote() bool {
	return false
}
