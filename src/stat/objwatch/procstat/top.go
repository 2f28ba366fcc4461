package procstat

import (
	"context"
	"strconv"
	"time"

	"github.com/jom-io/gorig-objwatch/src/stat/objwatch/record"
	"github.com/jom-io/gorig-objwatch/src/stat/objwatch/toptab"
)

// TopProvider shells out to top once per call, scoped to one pid in batch mode.
type TopProvider struct {
	Bin     string
	Timeout time.Duration
	// Args builds the argument list; topArgs when nil.
	Args   func(pid int) []string
	parser *toptab.Parser
}

func NewTopProvider(parser *toptab.Parser, timeout time.Duration) *TopProvider {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &TopProvider{
		Bin:     "top",
		Timeout: timeout,
		parser:  parser,
	}
}

func (p *TopProvider) Name() string { return KindTop }

func topArgs(pid int) []string {
	return []string{"-p", strconv.Itoa(pid), "-b", "-n", "1"}
}

func (p *TopProvider) Stats(ctx context.Context, pid int) (*record.Record, error) {
	args := topArgs
	if p.Args != nil {
		args = p.Args
	}
	out, err := RunCommand(ctx, p.Timeout, p.Bin, args(pid)...)
	if err != nil {
		return nil, err
	}
	return p.parser.Parse(out)
}
