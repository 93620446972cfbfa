package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/securactl/securactl/pkg/remote"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, "test-token", zerolog.Nop())
	require.NoError(t, err)
	return c
}

func TestGetDecodesResourceState(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/catalogs/sales_DEV", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name":   "sales_DEV",
			"fields": map[string]any{"comment": "sales data"},
		})
	})

	state, err := c.Resources("catalog").Get(context.Background(), "sales_DEV")
	require.NoError(t, err)
	assert.Equal(t, "sales_DEV", state.Name)
	assert.Equal(t, "sales data", state.Fields["comment"])
}

func TestStatusCodeMapping(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
		name   string
	}{
		{http.StatusNotFound, remote.IsNotFound, "not found"},
		{http.StatusConflict, remote.IsAlreadyExists, "conflict"},
		{http.StatusForbidden, remote.IsPermissionDenied, "forbidden"},
		{http.StatusBadRequest, remote.IsInvalidParameter, "bad request"},
		{http.StatusServiceUnavailable, remote.IsRetryable, "unavailable"},
		{http.StatusTooManyRequests, remote.IsRetryable, "throttled"},
		{http.StatusInternalServerError, remote.IsRetryable, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			_, err := c.Resources("volume").Get(context.Background(), "raw_DEV")
			require.Error(t, err)
			assert.True(t, tt.check(err), "status %d mapped to %s", tt.status, remote.CodeOf(err))
		})
	}
}

func TestErrorBodyCodeOverridesStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"code":    string(remote.CodeInvalidParameter),
			"message": "isolation_mode must be open or restricted",
		})
	})

	err := c.Resources("volume").Update(context.Background(), "raw_DEV", remote.Fields{"isolation_mode": "sealed"})
	require.Error(t, err)
	assert.Equal(t, remote.CodeInvalidParameter, remote.CodeOf(err))
	assert.Contains(t, err.Error(), "isolation_mode")
}

func TestGrantUpdateSendsCombinedPayload(t *testing.T) {
	var got struct {
		Add    remote.GrantSet `json:"add"`
		Remove remote.GrantSet `json:"remove"`
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/grants/sales_DEV", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	})

	err := c.Grants().Update(context.Background(), "sales_DEV",
		remote.GrantSet{"alice_DEV": {"READ"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, remote.GrantSet{"alice_DEV": {"READ"}}, got.Add)
	assert.Empty(t, got.Remove)
}

func TestBindingUpdateSendsAssignAndUnassign(t *testing.T) {
	var got struct {
		Assign   []string `json:"assign"`
		Unassign []string `json:"unassign"`
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	})

	err := c.Bindings().Update(context.Background(), "raw_DEV", []string{"ap-1"}, []string{"ap-4"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ap-1"}, got.Assign)
	assert.Equal(t, []string{"ap-4"}, got.Unassign)
}

func TestUnreachableControlPlaneIsRetryable(t *testing.T) {
	c, err := New("http://127.0.0.1:1", "", zerolog.Nop())
	require.NoError(t, err)

	_, err = c.Resources("catalog").Get(context.Background(), "sales_DEV")
	require.Error(t, err)
	assert.True(t, remote.IsRetryable(err))
}

func TestNewRejectsRelativeURL(t *testing.T) {
	_, err := New("not-a-url", "", zerolog.Nop())
	require.Error(t, err)
}
