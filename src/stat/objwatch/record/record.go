// Package record holds the ordered key/value payload handed to sinks.
package record

import (
	"bytes"
	"encoding/json"
)

// Record is an insertion-ordered map of string keys to values.
// The zero value is ready to use.
type Record struct {
	keys []string
	vals map[string]any
}

func New() *Record {
	return &Record{vals: make(map[string]any)}
}

// Set stores v under k. Re-setting an existing key keeps its original position.
func (r *Record) Set(k string, v any) {
	if r.vals == nil {
		r.vals = make(map[string]any)
	}
	if _, ok := r.vals[k]; !ok {
		r.keys = append(r.keys, k)
	}
	r.vals[k] = v
}

func (r *Record) Get(k string) (any, bool) {
	if r == nil || r.vals == nil {
		return nil, false
	}
	v, ok := r.vals[k]
	return v, ok
}

// Int returns the value under k when it was stored as an int64.
func (r *Record) Int(k string) (int64, bool) {
	v, ok := r.Get(k)
	if !ok {
		return 0, false
	}
	i, ok := v.(int64)
	return i, ok
}

func (r *Record) Float(k string) (float64, bool) {
	v, ok := r.Get(k)
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

func (r *Record) String(k string) (string, bool) {
	v, ok := r.Get(k)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (r *Record) Keys() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// Merge copies every field of o into r, in o's order.
func (r *Record) Merge(o *Record) {
	if o == nil {
		return
	}
	for _, k := range o.keys {
		r.Set(k, o.vals[k])
	}
}

// Clone returns a shallow copy.
func (r *Record) Clone() *Record {
	c := New()
	c.Merge(r)
	return c
}

// Map returns the fields as a plain map, losing order.
func (r *Record) Map() map[string]any {
	out := make(map[string]any, r.Len())
	if r == nil {
		return out
	}
	for _, k := range r.keys {
		out[k] = r.vals[k]
	}
	return out
}

// MarshalJSON writes the fields in insertion order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if r != nil {
		for i, k := range r.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := json.Marshal(r.vals[k])
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
