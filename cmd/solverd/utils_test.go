package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetAndPost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/intents":
			_, _ = w.Write([]byte(`{"intents":[{"orderId":"0x01"},{"orderId":"0x02"}]}`))
		case "/v1/receipts":
			body, _ := io.ReadAll(r.Body)
			require.JSONEq(t, `{"id":"r1"}`, string(body))
			_, _ = w.Write([]byte(`{"id":"r1"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"name":"NOT_FOUND"}`))
		}
	}))
	defer server.Close()

	intents, err := get[[]any](server.URL+"/v1/intents", "intents", nil)
	require.NoError(t, err)
	require.Len(t, intents, 2)

	id, err := post[string](server.URL+"/v1/receipts", `{"id":"r1"}`, "id", nil)
	require.NoError(t, err)
	require.Equal(t, "r1", id)

	_, err = get[map[string]any](server.URL+"/v1/unknown", "", nil)
	require.ErrorContains(t, err, "NOT_FOUND")
}

func TestReadReceipt(t *testing.T) {
	dir := t.TempDir()

	valid := filepath.Join(dir, "valid.json")
	require.NoError(t, os.WriteFile(valid, []byte(`{"id":"r1","epoch":3}`), 0600))
	receipt, err := readReceipt(valid)
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"r1","epoch":3}`, string(receipt))

	invalid := filepath.Join(dir, "invalid.json")
	require.NoError(t, os.WriteFile(invalid, []byte(`{"id":`), 0600))
	_, err = readReceipt(invalid)
	require.Error(t, err)

	_, err = readReceipt(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}

func TestGetTLSConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cert.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a cert"), 0600))

	_, err := getTLSConfig(path)
	require.Error(t, err)
}
