package grpcservice

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/arkade-os/solverd/internal/core/application"
	"github.com/arkade-os/solverd/internal/interface/grpc/interceptors"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

type staticInfo struct {
	err error
}

func (s staticInfo) GetInfo(context.Context) (*application.ServiceInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &application.ServiceInfo{}, nil
}

func freePort(t *testing.T) uint32 {
	t.Helper()
	lis, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	port := lis.Addr().(*net.TCPAddr).Port
	require.NoError(t, lis.Close())
	return uint32(port)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Port: freePort(t), NoTLS: true}
	require.NoError(t, cfg.Validate())
	tlsConfig, err := cfg.tlsConfig()
	require.NoError(t, err)
	require.Nil(t, tlsConfig)

	cfg = Config{Port: freePort(t)}
	require.ErrorContains(t, cfg.Validate(), "missing datadir")

	cfg = Config{Port: freePort(t), Datadir: t.TempDir(), TLSExtraIPs: []string{"not-an-ip"}}
	require.ErrorContains(t, cfg.Validate(), "invalid tls extra ip")
}

func TestGenerateTLSKeyCert(t *testing.T) {
	cfg := Config{
		Port:            freePort(t),
		Datadir:         t.TempDir(),
		TLSExtraIPs:     []string{"10.0.0.1"},
		TLSExtraDomains: []string{"solver.internal"},
	}
	require.NoError(t, cfg.Validate())
	require.NoError(t, generateOperatorTLSKeyCert(
		cfg.tlsDatadir(), cfg.TLSExtraIPs, cfg.TLSExtraDomains,
	))

	certPath := filepath.Join(cfg.tlsDatadir(), tlsCertFile)
	before, err := os.ReadFile(certPath)
	require.NoError(t, err)

	tlsConfig, err := cfg.tlsConfig()
	require.NoError(t, err)
	require.Len(t, tlsConfig.Certificates, 1)

	// existing key pairs are reused
	require.NoError(t, generateOperatorTLSKeyCert(cfg.tlsDatadir(), nil, nil))
	after, err := os.ReadFile(certPath)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestRouter(t *testing.T) {
	gateway := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := router(grpc.NewServer(), gateway)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/v1/info", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/info", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/prices", nil)
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTeapot, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/grpc.health.v1.Health/Check", nil)
	req.Header.Set("Content-Type", "application/grpc")
	require.False(t, isHttpRequest(req))
}

func TestReadinessGate(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	readiness := interceptors.NewReadinessService(staticInfo{})
	handler := readinessGate(readiness, next)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/intents", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	readiness.MarkAppServiceStarted()
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/intents", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	broken := interceptors.NewReadinessService(staticInfo{err: fmt.Errorf("redis down")})
	broken.MarkAppServiceStarted()
	rec = httptest.NewRecorder()
	readinessGate(broken, next).ServeHTTP(
		rec, httptest.NewRequest(http.MethodGet, "/v1/intents", nil),
	)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
