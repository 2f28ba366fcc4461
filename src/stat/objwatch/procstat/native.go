package procstat

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/jom-io/gorig-objwatch/src/stat/objwatch/record"
	"github.com/jom-io/gorig-objwatch/src/stat/objwatch/toptab"
	"github.com/shirou/gopsutil/v4/process"
)

// NativeProvider reads the same fields through gopsutil instead of spawning top.
// PR and SHR have no portable source and are never reported.
type NativeProvider struct {
	parser *toptab.Parser

	mu    sync.Mutex
	procs map[int]*process.Process
}

func NewNativeProvider(parser *toptab.Parser) *NativeProvider {
	return &NativeProvider{
		parser: parser,
		procs:  make(map[int]*process.Process),
	}
}

func (p *NativeProvider) Name() string { return KindNative }

// proc caches the handle so cpu percent is measured between calls.
func (p *NativeProvider) proc(ctx context.Context, pid int) (*process.Process, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.procs[pid]; ok {
		return h, nil
	}
	h, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil, err
	}
	p.procs[pid] = h
	return h, nil
}

// column order matches top's default header
var nativeColumns = []string{
	toptab.FieldPID, toptab.FieldUser, toptab.FieldNI, toptab.FieldVirt, toptab.FieldRes,
	toptab.FieldState, toptab.FieldCPU, toptab.FieldMem, toptab.FieldTime, toptab.FieldCommand,
}

func (p *NativeProvider) Stats(ctx context.Context, pid int) (*record.Record, error) {
	h, err := p.proc(ctx, pid)
	if err != nil {
		return nil, fmt.Errorf("open process %d: %w", pid, err)
	}
	rec := record.New()
	for _, col := range nativeColumns {
		if !p.parser.Includes(col) {
			continue
		}
		v, err := p.read(ctx, h, col)
		if err != nil {
			return nil, fmt.Errorf("read %s of %d: %w", col, pid, err)
		}
		rec.Set(toptab.Key(col), v)
	}
	return rec, nil
}

func (p *NativeProvider) read(ctx context.Context, h *process.Process, col string) (any, error) {
	switch col {
	case toptab.FieldPID:
		return int64(h.Pid), nil
	case toptab.FieldUser:
		return h.UsernameWithContext(ctx)
	case toptab.FieldNI:
		n, err := h.NiceWithContext(ctx)
		return int64(n), err
	case toptab.FieldVirt, toptab.FieldRes:
		mi, err := h.MemoryInfoWithContext(ctx)
		if err != nil {
			return nil, err
		}
		if col == toptab.FieldVirt {
			return int64(mi.VMS / 1024), nil
		}
		return int64(mi.RSS / 1024), nil
	case toptab.FieldState:
		st, err := h.StatusWithContext(ctx)
		if err != nil {
			return nil, err
		}
		return stateLetter(st), nil
	case toptab.FieldCPU:
		return h.PercentWithContext(ctx, 0)
	case toptab.FieldMem:
		m, err := h.MemoryPercentWithContext(ctx)
		return round2(float64(m)), err
	case toptab.FieldTime:
		t, err := h.TimesWithContext(ctx)
		if err != nil {
			return nil, err
		}
		return cpuTime(t.User + t.System), nil
	case toptab.FieldCommand:
		return h.NameWithContext(ctx)
	}
	return nil, fmt.Errorf("unsupported column %s", col)
}

var stateLetters = map[string]string{
	process.Running: "R",
	process.Sleep:   "S",
	process.Wait:    "D",
	process.Zombie:  "Z",
	process.Stop:    "T",
	process.Idle:    "I",
	process.Lock:    "L",
}

func stateLetter(st []string) string {
	if len(st) == 0 || st[0] == "" {
		return "?"
	}
	if l, ok := stateLetters[st[0]]; ok {
		return l
	}
	return strings.ToUpper(st[0][:1])
}

// cpuTime renders seconds the way top's TIME+ column does: minutes:seconds.hundredths.
func cpuTime(sec float64) string {
	m := int(sec / 60)
	return fmt.Sprintf("%d:%05.2f", m, sec-float64(m*60))
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
