package record

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordKeepsInsertionOrder(t *testing.T) {
	r := New()
	r.Set("pid", int64(1))
	r.Set("count", map[string]int64{})
	r.Set("memory_leaks", false)
	r.Set("pid", int64(2))

	assert.Equal(t, []string{"pid", "count", "memory_leaks"}, r.Keys())
	pid, ok := r.Int("pid")
	require.True(t, ok)
	assert.Equal(t, int64(2), pid)

	raw, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Equal(t, `{"pid":2,"count":{},"memory_leaks":false}`, string(raw))
}

func TestRecordTypedGetters(t *testing.T) {
	var r Record
	r.Set("res", int64(50))
	r.Set("%cpu", 1.5)
	r.Set("command", "ruby")

	_, ok := r.Float("res")
	assert.False(t, ok, "int field must not read as float")
	f, ok := r.Float("%cpu")
	assert.True(t, ok)
	assert.Equal(t, 1.5, f)
	s, ok := r.String("command")
	assert.True(t, ok)
	assert.Equal(t, "ruby", s)
}

func TestRecordMergeAndClone(t *testing.T) {
	a := New()
	a.Set("pid", int64(1))
	b := New()
	b.Set("virt", int64(100))
	b.Set("res", int64(50))
	a.Merge(b)

	c := a.Clone()
	c.Set("extra", true)
	assert.Equal(t, []string{"pid", "virt", "res"}, a.Keys())
	assert.Equal(t, 4, c.Len())
	assert.Equal(t, map[string]any{"pid": int64(1), "virt": int64(100), "res": int64(50)}, a.Map())
}
