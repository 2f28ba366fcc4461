package sink

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/jom-io/gorig-objwatch/src/stat/objwatch"
	"github.com/jom-io/gorig-objwatch/src/stat/objwatch/record"
)

// JSONLines writes one {"tag","time","record"} object per sample.
type JSONLines struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{enc: json.NewEncoder(w)}
}

type line struct {
	Tag    string         `json:"tag"`
	Time   string         `json:"time"`
	Record *record.Record `json:"record"`
}

func (j *JSONLines) Emit(_ context.Context, ev objwatch.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(line{Tag: ev.Tag, Time: ev.Time.Format(time.RFC3339Nano), Record: ev.Record})
}
