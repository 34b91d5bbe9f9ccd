package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralhq/corral/internal/core/constants"
)

func TestRequestLogging_AssignsRequestID(t *testing.T) {
	var seenID string
	handler := RequestLogging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = GetRequestID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.NotEmpty(t, seenID)
	assert.True(t, strings.HasPrefix(seenID, "req_"))
	assert.Equal(t, seenID, rec.Header().Get(constants.HeaderRequestID))
}

func TestRequestLogging_PropagatesClientRequestID(t *testing.T) {
	var seenID string
	handler := RequestLogging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(constants.HeaderRequestID, "req_custom_1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "req_custom_1", seenID)
	assert.Equal(t, "req_custom_1", rec.Header().Get(constants.HeaderRequestID))
}

func TestRequestLogging_ContextLoggerPresent(t *testing.T) {
	handler := RequestLogging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotNil(t, GetLogger(r.Context()))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestGetRequestID_MissingReturnsEmpty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, GetRequestID(req.Context()))
}

func TestResponseWriter_PreservesFlusher(t *testing.T) {
	var isFlusher bool
	handler := RequestLogging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, isFlusher = w.(http.Flusher)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/debug/stream", nil))
	assert.True(t, isFlusher)
}

func TestIsControlPlanePath(t *testing.T) {
	assert.True(t, isControlPlanePath("/health"))
	assert.True(t, isControlPlanePath("/admin/models"))
	assert.True(t, isControlPlanePath("/debug/status"))
	assert.False(t, isControlPlanePath("/v1/chat/completions"))
	assert.False(t, isControlPlanePath("/models"))
}
