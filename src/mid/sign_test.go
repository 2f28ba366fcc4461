package mid

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		name   string
		header string
		url    string
		want   string
	}{
		{"bearer header", "Bearer abc", "/", "abc"},
		{"query fallback", "", "/?token=xyz", "xyz"},
		{"header wins", "Bearer abc", "/?token=xyz", "abc"},
		{"non-bearer header", "Basic abc", "/?token=xyz", "xyz"},
		{"nothing", "", "/", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, tc.url, nil)
			if tc.header != "" {
				c.Request.Header.Set("Authorization", tc.header)
			}
			assert.Equal(t, tc.want, token(c))
		})
	}
}
