package tunnel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printwatch/printwatch-services/internal/comm"
)

func TestExecute_RelaysRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/version", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"server": "1.9.0"}`))
	}))
	defer srv.Close()

	e := NewExecutor(srv.URL, "secret")
	resp := e.Execute(context.Background(), &comm.TunnelRequest{
		Id:     "t1",
		Method: http.MethodGet,
		Path:   "/api/version",
	})

	require.Empty(t, resp.Error)
	assert.Equal(t, "t1", resp.Id)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.JSONEq(t, `{"server": "1.9.0"}`, string(resp.Body))
	assert.Equal(t, "application/json", resp.Headers["Content-Type"][0])
}

func TestExecute_RejectsDisallowedPath(t *testing.T) {
	e := NewExecutor("http://127.0.0.1:5000", "")
	resp := e.Execute(context.Background(), &comm.TunnelRequest{
		Id:     "t2",
		Method: http.MethodGet,
		Path:   "/etc/passwd",
	})

	assert.Equal(t, http.StatusForbidden, resp.Status)
	assert.NotEmpty(t, resp.Error)
}

func TestExecute_RejectsTraversalPaths(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("tunneled request reached backend at %s", r.URL.Path)
	}))
	defer backend.Close()

	e := NewExecutor(backend.URL, "")
	for _, p := range []string{
		"/api/../printer/command",
		"/webcam/../../etc/passwd",
		"/api/%2e%2e/printer/command",
		"api/version",
	} {
		t.Run(p, func(t *testing.T) {
			resp := e.Execute(context.Background(), &comm.TunnelRequest{
				Id:     "t5",
				Method: http.MethodGet,
				Path:   p,
			})
			assert.Equal(t, http.StatusForbidden, resp.Status)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestExecute_NormalizesPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/version", r.URL.Path)
		assert.Equal(t, "v=1", r.URL.RawQuery)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	e := NewExecutor(srv.URL, "")
	resp := e.Execute(context.Background(), &comm.TunnelRequest{
		Id:     "t6",
		Method: http.MethodGet,
		Path:   "/api//./version?v=1",
	})

	require.Empty(t, resp.Error)
	assert.Equal(t, http.StatusOK, resp.Status)
}

func TestExecute_CapsResponseSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", maxResponseBytes+10)))
	}))
	defer srv.Close()

	e := NewExecutor(srv.URL, "")
	resp := e.Execute(context.Background(), &comm.TunnelRequest{
		Id:     "t3",
		Method: http.MethodGet,
		Path:   "/webcam/big",
	})

	assert.Equal(t, http.StatusBadGateway, resp.Status)
	assert.Contains(t, resp.Error, "too large")
}

func TestExecute_HostDown(t *testing.T) {
	e := NewExecutor("http://127.0.0.1:1", "")
	resp := e.Execute(context.Background(), &comm.TunnelRequest{
		Id:     "t4",
		Method: http.MethodGet,
		Path:   "/api/job",
	})

	assert.Equal(t, http.StatusBadGateway, resp.Status)
	assert.NotEmpty(t, resp.Error)
}
