package procstat

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/shirou/gopsutil/v4/host"
)

var ErrUnsupportedPlatform = errors.New("unsupported platform")

// CheckPlatform fails fast when the provider cannot work on this host. Alpine ships
// busybox top, which has no -p option, so the top provider is refused there.
func CheckPlatform(ctx context.Context, kind string) error {
	if kind == KindNative {
		return nil
	}
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return fmt.Errorf("read host info: %w", err)
	}
	return checkTop(info.Platform, exec.LookPath)
}

func checkTop(platform string, lookPath func(string) (string, error)) error {
	if platform == "alpine" {
		return fmt.Errorf("%w: alpine's busybox top has no -p option, use the native provider", ErrUnsupportedPlatform)
	}
	if _, err := lookPath("top"); err != nil {
		return fmt.Errorf("%w: top not found in PATH: %v", ErrUnsupportedPlatform, err)
	}
	return nil
}
