package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToErrorResponse(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name:       "rejection keeps its reason",
			err:        Rejection("invalid_tracking_code"),
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid_tracking_code",
		},
		{
			name:       "plain error becomes internal",
			err:        fmt.Errorf("pq: connection refused"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "internal server error",
		},
		{
			name:       "wrapped internal error hides cause",
			err:        ErrInternal.WithCause(fmt.Errorf("disk full")).WithDetail("table", "analytics_events"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantStatus, ToHTTPStatus(tt.err))
			resp := ToErrorResponse(tt.err)
			assert.Equal(t, tt.wantError, resp["error"])
			if tt.wantStatus >= http.StatusInternalServerError {
				assert.NotContains(t, resp, "details")
			}
		})
	}
}

func TestRecoverPanic_NoStackInResponse(t *testing.T) {
	err := RecoverPanic("boom")
	require.Error(t, err)

	var appErr *Error
	require.ErrorAs(t, err, &appErr)
	assert.Contains(t, appErr.Details, "stack_trace")

	resp := ToErrorResponse(err)
	assert.NotContains(t, resp, "details")
	assert.Equal(t, "internal server error", resp["error"])
}

func TestIsRejection(t *testing.T) {
	assert.True(t, IsRejection(Rejection("site_inactive")))
	assert.True(t, IsRejection(fmt.Errorf("wrapped: %w", ErrValidation)))
	assert.False(t, IsRejection(ErrInternal))
	assert.False(t, IsRejection(fmt.Errorf("plain")))
}

func TestErrorIs(t *testing.T) {
	inactive := Rejection("site_inactive")
	assert.ErrorIs(t, inactive.WithCause(fmt.Errorf("x")), inactive)
	assert.NotErrorIs(t, Rejection("other"), inactive)
	assert.ErrorIs(t, Rejection("other"), ErrRejected.WithMessage(""))
}
