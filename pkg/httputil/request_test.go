package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	var dest struct {
		Keys []string `json:"keys"`
	}
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"keys":["acme"]}`))
	require.NoError(t, ParseJSON(r, &dest))
	assert.Equal(t, []string{"acme"}, dest.Keys)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	assert.Error(t, ParseJSON(r, &dest))
}

func TestParsePathStringOrError(t *testing.T) {
	r := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/admin/cache/acme", nil), map[string]string{"appKey": "acme"})
	w := httptest.NewRecorder()
	v, ok := ParsePathStringOrError(w, r, "appKey")
	assert.True(t, ok)
	assert.Equal(t, "acme", v)

	w = httptest.NewRecorder()
	_, ok = ParsePathStringOrError(w, httptest.NewRequest(http.MethodGet, "/", nil), "appKey")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServiceSegment(t *testing.T) {
	tests := []struct {
		path     string
		service  string
		stripped string
	}{
		{"/orders/v1/items", "orders", "/v1/items"},
		{"/orders", "orders", "/"},
		{"/orders/", "orders", "/"},
		{"/", "", "/"},
		{"", "", "/"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.service, ServiceSegment(tt.path))
			assert.Equal(t, tt.stripped, StripServiceSegment(tt.path))
		})
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.1.2.3:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")

	assert.Equal(t, "10.1.2.3", ClientIP(r, false))
	assert.Equal(t, "203.0.113.5", ClientIP(r, true))

	r.Header.Del("X-Forwarded-For")
	assert.Equal(t, "10.1.2.3", ClientIP(r, true))

	r.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "2001:db8::1", ClientIP(r, false))

	r.RemoteAddr = "pipe"
	assert.Equal(t, "pipe", ClientIP(r, false))
}
