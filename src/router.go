package om

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jom-io/gorig-objwatch/src/mid"
	"github.com/jom-io/gorig-objwatch/src/omuser"
	"github.com/jom-io/gorig-objwatch/src/stat/objwatch"
	"github.com/jom-io/gorig/global/variable"
	"github.com/jom-io/gorig/httpx"
	configure "github.com/jom-io/gorig/utils/cofigure"
	"github.com/spf13/cast"
)

func init() {
	Setup()
}

func Setup() {
	if cast.ToBool(strings.TrimSpace(configure.GetString("om.watch.enable", "false"))) {
		_, _ = objwatch.Boot(context.Background())
	}
	if variable.OMKey == "" {
		return
	}
	httpx.RegisterRouter(func(groupRouter *gin.RouterGroup) {
		om := groupRouter.Group("om")

		auth := om.Group("auth")
		auth.POST("connect", omuser.Login)

		om.Use(mid.Sign())
		watch := om.Group("watch")
		watch.GET("latest", objwatch.Latest)
		watch.GET("baseline", objwatch.Baseline)
		watch.GET("thresholds", objwatch.Thresholds)
		watch.POST("thresholds", objwatch.UpdateThresholds)
		watch.GET("leak/latest", objwatch.LeakLatest)
		watch.GET("leak/count", objwatch.LeakCount)
		watch.GET("leak/page", objwatch.LeakPage)
	})
}
