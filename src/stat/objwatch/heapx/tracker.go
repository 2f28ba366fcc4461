package heapx

import (
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"
)

var tracked sync.Map // type name -> *atomic.Int64

// TypeName is the watch-class name for T, e.g. "objwatch.Watcher".
func TypeName[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}

func liveCounter(name string) *atomic.Int64 {
	if v, ok := tracked.Load(name); ok {
		return v.(*atomic.Int64)
	}
	v, loaded := tracked.LoadOrStore(name, new(atomic.Int64))
	n := v.(*atomic.Int64)
	if !loaded {
		Default.upsert(name, func() (int64, error) {
			return n.Load(), nil
		})
	}
	return n
}

// Track counts obj as a live instance of T until the collector frees it.
// It installs a finalizer on obj, replacing any finalizer already set.
func Track[T any](obj *T) *T {
	if obj == nil {
		return nil
	}
	n := liveCounter(TypeName[T]())
	n.Add(1)
	runtime.SetFinalizer(obj, func(*T) {
		n.Add(-1)
	})
	return obj
}

// Watch registers T in the Default registry without tracking an instance yet,
// so configuration naming T resolves before the first Track call.
func Watch[T any]() string {
	name := TypeName[T]()
	liveCounter(name)
	return normalize(name)
}

// Live returns the number of tracked instances of T not yet collected.
func Live[T any]() int64 {
	if v, ok := tracked.Load(TypeName[T]()); ok {
		return v.(*atomic.Int64).Load()
	}
	return 0
}
