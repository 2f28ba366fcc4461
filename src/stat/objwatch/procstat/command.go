package procstat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/jom-io/gorig/utils/logger"
	"go.uber.org/zap"
)

var ErrTimeout = errors.New("command timed out")

// RunCommand runs cmd and returns its stdout. The call is bounded by timeout when it is
// positive; running past it kills the process and returns ErrTimeout.
func RunCommand(ctx context.Context, timeout time.Duration, cmd string, args ...string) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	command := exec.CommandContext(ctx, cmd, args...)
	var out bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &out
	command.Stderr = &stderr

	err := command.Run()
	if err != nil {
		line := fmt.Sprintf("%s %s", cmd, strings.Join(args, " "))
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			logger.Error(ctx, "Command timed out", zap.String("cmd", line), zap.Duration("timeout", timeout))
			return "", fmt.Errorf("%s: %w after %s", line, ErrTimeout, timeout)
		}
		logger.Error(ctx, "Command failed", zap.String("cmd", line), zap.String("stderr", stderr.String()), zap.Error(err))
		if stderr.Len() > 0 {
			return "", fmt.Errorf("%s: %w: %s", line, err, strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("%s: %w", line, err)
	}
	return out.String(), nil
}
