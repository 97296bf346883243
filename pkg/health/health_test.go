package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func failing(name string) Checker {
	return CheckerFunc{CheckerName: name, Fn: func(context.Context) error { return errors.New("down") }}
}

func passing(name string) Checker {
	return CheckerFunc{CheckerName: name, Fn: func(context.Context) error { return nil }}
}

func TestCheckerRegistry_Check(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *CheckerRegistry)
		want  Status
	}{
		{
			name:  "all healthy",
			setup: func(r *CheckerRegistry) { r.Register(passing("postgresql"), true); r.Register(passing("redis"), false) },
			want:  StatusHealthy,
		},
		{
			name:  "optional failure degrades",
			setup: func(r *CheckerRegistry) { r.Register(passing("postgresql"), true); r.Register(failing("redis"), false) },
			want:  StatusDegraded,
		},
		{
			name:  "critical failure is unhealthy",
			setup: func(r *CheckerRegistry) { r.Register(failing("postgresql"), true); r.Register(failing("redis"), false) },
			want:  StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewCheckerRegistry()
			tt.setup(r)
			h := r.Check(context.Background())
			assert.Equal(t, tt.want, h.Status)
			assert.Len(t, h.Checks, 2)
		})
	}
}

func TestCheckerRegistry_Handler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewCheckerRegistry()
	r.Register(failing("postgresql"), true)

	router := gin.New()
	router.GET("/health", r.Handler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"unhealthy"`)
}
