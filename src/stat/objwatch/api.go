package objwatch

import (
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/jom-io/gorig-objwatch/src/stat/objwatch/record"
	"github.com/jom-io/gorig/apix"
	"github.com/jom-io/gorig/global/consts"
	"github.com/jom-io/gorig/utils/errors"
)

var current atomic.Pointer[Watcher]

// SetDefault makes w the watcher served by the HTTP handlers.
func SetDefault(w *Watcher) {
	current.Store(w)
}

func Default() *Watcher {
	return current.Load()
}

type sampleView struct {
	ID     string         `json:"id"`
	Tag    string         `json:"tag"`
	At     int64          `json:"at"`
	Record *record.Record `json:"record"`
}

func view(pick func(w *Watcher) (Sample, bool)) (*sampleView, *errors.Error) {
	w := Default()
	if w == nil {
		return nil, errors.Verify("object watcher is not running")
	}
	s, ok := pick(w)
	if !ok {
		return nil, nil
	}
	return &sampleView{ID: w.ID(), Tag: w.Tag(), At: s.At.UnixMilli(), Record: s.Record()}, nil
}

// servedJournal returns J() only when the served watcher was configured to journal,
// so reading the routes never creates the sqlite table on its own.
func servedJournal() (*LeakJournal, *errors.Error) {
	w := Default()
	if w == nil || !w.Config().Journal {
		return nil, errors.Verify("leak journal is disabled")
	}
	return J(), nil
}

func Latest(ctx *gin.Context) {
	defer apix.HandlePanic(ctx)
	data, e := view((*Watcher).Latest)
	apix.HandleData(ctx, consts.CurdSelectFailCode, data, e)
}

func Baseline(ctx *gin.Context) {
	defer apix.HandlePanic(ctx)
	data, e := view((*Watcher).Baseline)
	apix.HandleData(ctx, consts.CurdSelectFailCode, data, e)
}

func LeakLatest(ctx *gin.Context) {
	defer apix.HandlePanic(ctx)
	j, e := servedJournal()
	if e != nil {
		apix.HandleData(ctx, consts.CurdSelectFailCode, nil, e)
		return
	}
	data, e := j.Latest(ctx)
	apix.HandleData(ctx, consts.CurdSelectFailCode, data, e)
}

func LeakCount(ctx *gin.Context) {
	defer apix.HandlePanic(ctx)
	start, err := apix.GetParamInt64(ctx, "start", apix.Force)
	end, err := apix.GetParamInt64(ctx, "end", apix.Force)
	if err != nil {
		return
	}
	j, e := servedJournal()
	if e != nil {
		apix.HandleData(ctx, consts.CurdSelectFailCode, nil, e)
		return
	}
	data, e := j.Count(ctx, start, end)
	apix.HandleData(ctx, consts.CurdSelectFailCode, data, e)
}

func LeakPage(ctx *gin.Context) {
	defer apix.HandlePanic(ctx)
	start, err := apix.GetParamInt64(ctx, "start", apix.NotForce, 0)
	end, err := apix.GetParamInt64(ctx, "end", apix.NotForce, 0)
	page, err := apix.GetParamInt64(ctx, "page", apix.NotForce, 1)
	size, err := apix.GetParamInt64(ctx, "size", apix.NotForce, 10)
	if err != nil {
		return
	}
	j, e := servedJournal()
	if e != nil {
		apix.HandleData(ctx, consts.CurdSelectFailCode, nil, e)
		return
	}
	data, e := j.Page(ctx, start, end, page, size)
	apix.HandleData(ctx, consts.CurdSelectFailCode, data, e)
}

func Thresholds(ctx *gin.Context) {
	defer apix.HandlePanic(ctx)
	w := Default()
	if w == nil {
		apix.HandleData(ctx, consts.CurdSelectFailCode, nil, errors.Verify("object watcher is not running"))
		return
	}
	apix.HandleData(ctx, consts.CurdSelectFailCode, w.Thresholds(), nil)
}

func UpdateThresholds(ctx *gin.Context) {
	defer apix.HandlePanic(ctx)
	w := Default()
	if w == nil {
		apix.HandleData(ctx, consts.CurdUpdateFailCode, nil, errors.Verify("object watcher is not running"))
		return
	}
	raw, err := ctx.GetRawData()
	if err != nil {
		apix.HandleData(ctx, consts.CurdUpdateFailCode, nil, errors.Verify(err.Error()))
		return
	}
	cfg, err := ParseThresholds(raw, w.Thresholds())
	if err != nil {
		apix.HandleData(ctx, consts.CurdUpdateFailCode, nil, errors.Verify(err.Error()))
		return
	}
	if err := w.SetThresholds(cfg); err != nil {
		apix.HandleData(ctx, consts.CurdUpdateFailCode, nil, errors.Verify(err.Error()))
		return
	}
	apix.HandleData(ctx, consts.CurdUpdateFailCode, cfg, nil)
}
