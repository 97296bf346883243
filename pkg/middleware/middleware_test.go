package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestCORSMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CORSMiddleware("GET, POST, OPTIONS"))
	router.OPTIONS("/track", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	router.POST("/track", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	tests := []struct {
		method string
		want   int
	}{
		{method: http.MethodOptions, want: http.StatusNoContent},
		{method: http.MethodPost, want: http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tt.method, "/track", nil))

			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, "GET, POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
		})
	}
}
