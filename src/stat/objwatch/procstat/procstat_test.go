package procstat

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jom-io/gorig-objwatch/src/stat/objwatch/toptab"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireBin(t *testing.T, bin string) {
	t.Helper()
	if _, err := exec.LookPath(bin); err != nil {
		t.Skipf("%s not available: %v", bin, err)
	}
}

func TestTopProviderParsesToolOutput(t *testing.T) {
	requireBin(t, "printf")
	p := NewTopProvider(toptab.NewParser([]string{"RES", "%CPU"}), time.Second)
	p.Bin = "printf"
	p.Args = func(pid int) []string {
		return []string{"header junk\n\n  PID USER RES %%CPU COMMAND\n  %d root 2048 0.5 app\n", "42"}
	}

	rec, err := p.Stats(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"res": int64(2048), "%cpu": 0.5}, rec.Map())
	assert.Equal(t, KindTop, p.Name())
}

func TestTopProviderTimeout(t *testing.T) {
	requireBin(t, "sleep")
	p := NewTopProvider(toptab.NewParser(nil), 100*time.Millisecond)
	p.Bin = "sleep"
	p.Args = func(int) []string { return []string{"5"} }

	start := time.Now()
	_, err := p.Stats(context.Background(), os.Getpid())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestTopProviderToolFailure(t *testing.T) {
	p := NewTopProvider(toptab.NewParser(nil), time.Second)
	p.Bin = "objwatch-no-such-binary"
	_, err := p.Stats(context.Background(), 1)
	assert.Error(t, err)
}

func TestTopProviderGarbageOutputFailsParse(t *testing.T) {
	requireBin(t, "printf")
	p := NewTopProvider(toptab.NewParser(nil), time.Second)
	p.Bin = "printf"
	p.Args = func(int) []string { return []string{"only one line\n"} }
	_, err := p.Stats(context.Background(), 1)
	assert.ErrorIs(t, err, toptab.ErrNoTable)
}

func TestRunCommandStderr(t *testing.T) {
	requireBin(t, "sh")
	_, err := RunCommand(context.Background(), time.Second, "sh", "-c", "echo nope >&2; exit 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")

	out, err := RunCommand(context.Background(), 0, "sh", "-c", "echo ok")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)
}

func TestNativeProviderOwnProcess(t *testing.T) {
	p := NewNativeProvider(toptab.NewParser([]string{"PID", "VIRT", "RES", "SHR", "%CPU", "%MEM", "TIME+", "COMMAND"}))
	rec, err := p.Stats(context.Background(), os.Getpid())
	require.NoError(t, err)

	pid, ok := rec.Int("pid")
	require.True(t, ok)
	assert.Equal(t, int64(os.Getpid()), pid)
	res, ok := rec.Int("res")
	require.True(t, ok)
	assert.Positive(t, res)
	_, ok = rec.Float("%cpu")
	assert.True(t, ok)
	_, ok = rec.String("time+")
	assert.True(t, ok)
	_, ok = rec.Get("shr")
	assert.False(t, ok, "SHR has no native source")

	// the handle is reused between calls
	_, err = p.Stats(context.Background(), os.Getpid())
	require.NoError(t, err)
	assert.Len(t, p.procs, 1)
}

func TestNativeProviderMissingProcess(t *testing.T) {
	p := NewNativeProvider(toptab.NewParser(nil))
	_, err := p.Stats(context.Background(), 1<<30)
	assert.Error(t, err)
}

func TestNewProvider(t *testing.T) {
	p, err := New("", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, KindTop, p.Name())
	assert.Equal(t, DefaultTimeout, p.(*TopProvider).Timeout)

	p, err = New(KindNative, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, KindNative, p.Name())

	_, err = New("ps", nil, 0)
	assert.Error(t, err)
}

func TestCheckTop(t *testing.T) {
	found := func(string) (string, error) { return "/usr/bin/top", nil }
	missing := func(string) (string, error) { return "", errors.New("not found") }

	assert.ErrorIs(t, checkTop("alpine", found), ErrUnsupportedPlatform)
	assert.ErrorIs(t, checkTop("ubuntu", missing), ErrUnsupportedPlatform)
	assert.NoError(t, checkTop("ubuntu", found))
	assert.NoError(t, CheckPlatform(context.Background(), KindNative))
}

func TestStateLetterAndCPUTime(t *testing.T) {
	assert.Equal(t, "S", stateLetter([]string{"sleep"}))
	assert.Equal(t, "R", stateLetter([]string{"running"}))
	assert.Equal(t, "?", stateLetter(nil))
	assert.Equal(t, "?", stateLetter([]string{""}))
	assert.Equal(t, "X", stateLetter([]string{"x-custom"}))
	assert.Equal(t, "0:03.14", cpuTime(3.14))
	assert.Equal(t, "2:05.50", cpuTime(125.5))
}
