package omuser

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jom-io/gorig/apix"
	"github.com/jom-io/gorig/cache"
	"github.com/jom-io/gorig/global/consts"
	"github.com/jom-io/gorig/global/variable"
	"github.com/jom-io/gorig/mid/tokenx"
	"github.com/jom-io/gorig/utils/errors"
	"golang.org/x/crypto/bcrypt"
)

const (
	userPrefix  = "OM"
	maxAttempts = 5
	lockFor     = 10 * time.Minute
	tokenTTL    = time.Hour
	// window is the granularity of the time-salted password.
	window = 10
)

type attempts struct {
	Count    int    `json:"count"`
	IP       string `json:"ip"`
	LockTime int64  `json:"lock_time"`
}

func Login(ctx *gin.Context) {
	defer apix.HandlePanic(ctx)
	pwd, e := apix.GetParamType[string](ctx, "pwd", apix.Force)
	if e != nil {
		return
	}
	result, err := LoginByPwd(ctx, pwd)
	apix.HandleData(ctx, consts.CurdSelectFailCode, result, err)
}

// Secret is the value a client bcrypt-hashes to connect at time at.
func Secret(key string, at time.Time) string {
	return fmt.Sprintf("%d%s", at.Unix()/window, key)
}

// VerifyPwd accepts a hash of the current or the previous window's secret.
func VerifyPwd(hashPwd, key string, at time.Time) bool {
	if key == "" || hashPwd == "" {
		return false
	}
	for _, t := range []time.Time{at, at.Add(-window * time.Second)} {
		if bcrypt.CompareHashAndPassword([]byte(hashPwd), []byte(Secret(key, t))) == nil {
			return true
		}
	}
	return false
}

func remaining(lockTime int64, now time.Time) int64 {
	return (lockTime-now.Unix())/60 + 1
}

func LoginByPwd(ctx *gin.Context, hashPwd string) (*string, *errors.Error) {
	if variable.OMKey == "" {
		return nil, errors.Verify("Connection rejected")
	}
	ip := fmt.Sprintf("%s-%s", userPrefix, ctx.ClientIP())
	store := cache.New[attempts](cache.JSON, "loginErrCount")
	now := time.Now()

	tried, _ := store.Get(ip)
	if tried.Count >= maxAttempts {
		if now.Unix() < tried.LockTime {
			return nil, errors.Verify(fmt.Sprintf("Connection rejected, please try again after %d minutes", remaining(tried.LockTime, now)))
		}
		tried.Count = 0
		tried.LockTime = 0
	}

	if !VerifyPwd(hashPwd, variable.OMKey, now) {
		tried.Count++
		tried.IP = ip
		if tried.Count >= maxAttempts {
			tried.LockTime = now.Add(lockFor).Unix()
			_ = store.Set(ip, tried, 0)
			return nil, errors.Verify(fmt.Sprintf("Connection rejected, please try again after %d minutes", remaining(tried.LockTime, now)))
		}
		_ = store.Set(ip, tried, 0)
		return nil, errors.Verify(fmt.Sprintf("Login failed, %d attempts left", maxAttempts-tried.Count))
	}

	_ = store.Del(ip)
	tokens, e := tokenx.Get(tokenx.Jwt, tokenx.Memory).Manager.GenerateAndRecord(ctx, ip, nil, now.Add(tokenTTL).Unix())
	if e != nil {
		return nil, e
	}
	return &tokens, nil
}

func IsOM(userID string) bool {
	return strings.HasPrefix(userID, userPrefix)
}
