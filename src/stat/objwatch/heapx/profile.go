package heapx

import (
	"bytes"
	"fmt"
	"runtime/pprof"
	"strings"

	"github.com/google/pprof/profile"
)

// allocSiteCounter counts in-use objects whose allocation stack passes through a
// function starting with prefix. Values come from the runtime's sampled heap profile,
// scaled by pprof, and reflect the state as of the most recent collection.
func allocSiteCounter(prefix string) Counter {
	return func() (int64, error) {
		prof, err := heapProfile()
		if err != nil {
			return 0, err
		}
		return inuseObjectsThrough(prof, prefix)
	}
}

func heapProfile() (*profile.Profile, error) {
	var buf bytes.Buffer
	if err := pprof.Lookup("heap").WriteTo(&buf, 0); err != nil {
		return nil, fmt.Errorf("write heap profile: %w", err)
	}
	return profile.Parse(&buf)
}

func inuseObjectsThrough(p *profile.Profile, prefix string) (int64, error) {
	objIdx := sampleTypeIndex(p, "inuse_objects")
	if objIdx < 0 {
		return 0, fmt.Errorf("heap profile has no inuse_objects sample type")
	}
	var total int64
	for _, s := range p.Sample {
		if objIdx >= len(s.Value) || !stackHas(s, prefix) {
			continue
		}
		total += s.Value[objIdx]
	}
	return total, nil
}

func stackHas(s *profile.Sample, prefix string) bool {
	for _, loc := range s.Location {
		for _, line := range loc.Line {
			if line.Function != nil && strings.HasPrefix(line.Function.Name, prefix) {
				return true
			}
		}
	}
	return false
}

func sampleTypeIndex(p *profile.Profile, name string) int {
	if p == nil {
		return -1
	}
	for i, st := range p.SampleType {
		if strings.EqualFold(st.Type, name) {
			return i
		}
	}
	return -1
}
