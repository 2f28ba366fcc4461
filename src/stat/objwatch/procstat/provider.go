// Package procstat gathers the tool-reported part of a sample: memory, cpu and
// identity fields of one process, keyed like the columns of top.
package procstat

import (
	"context"
	"fmt"
	"time"

	"github.com/jom-io/gorig-objwatch/src/stat/objwatch/record"
	"github.com/jom-io/gorig-objwatch/src/stat/objwatch/toptab"
)

const (
	KindTop    = "top"
	KindNative = "native"

	DefaultTimeout = 10 * time.Second
)

// Provider returns the configured tabular fields for pid.
type Provider interface {
	Name() string
	Stats(ctx context.Context, pid int) (*record.Record, error)
}

// New builds the provider named by kind for the given inclusion set.
func New(kind string, fields []string, timeout time.Duration) (Provider, error) {
	parser := toptab.NewParser(fields)
	switch kind {
	case "", KindTop:
		return NewTopProvider(parser, timeout), nil
	case KindNative:
		return NewNativeProvider(parser), nil
	default:
		return nil, fmt.Errorf("procstat: unknown provider %q", kind)
	}
}
