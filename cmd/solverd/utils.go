package main

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"
)

const (
	tlsDir      = "tls"
	tlsCertFile = "cert.pem"
)

func getCredentials(ctx *cli.Context, url string) (*tls.Config, error) {
	if strings.HasPrefix(url, "http://") {
		return nil, nil
	}

	tlsCertPath := filepath.Join(ctx.String(datadirFlagName), tlsDir, tlsCertFile)
	if _, err := os.Stat(tlsCertPath); err != nil {
		return nil, nil
	}
	tlsConfig, err := getTLSConfig(tlsCertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get tls config: %s", err)
	}
	return tlsConfig, nil
}

func newClient(tlsConfig *tls.Config) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: tlsConfig,
		},
	}
}

func post[T any](url, body, key string, tlsConfig *tls.Config) (result T, err error) {
	req, err := http.NewRequest("POST", url, strings.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Add("Content-Type", "application/json")

	resp, err := newClient(tlsConfig).Do(req)
	if err != nil {
		return
	}
	// nolint
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return
	}
	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("failed to post: %s", string(buf))
		return
	}
	return decode[T](buf, key)
}

func get[T any](url, key string, tlsConfig *tls.Config) (result T, err error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return
	}
	req.Header.Add("Content-Type", "application/json")

	resp, err := newClient(tlsConfig).Do(req)
	if err != nil {
		return
	}
	// nolint
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return
	}
	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("failed to get: %s", string(buf))
		return
	}
	return decode[T](buf, key)
}

func decode[T any](buf []byte, key string) (result T, err error) {
	if key == "" {
		err = json.Unmarshal(buf, &result)
		return
	}
	res := make(map[string]T)
	if err = json.Unmarshal(buf, &res); err != nil {
		return
	}
	result = res[key]
	return
}

func getTLSConfig(path string) (*tls.Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	caCertPool := x509.NewCertPool()
	if ok := caCertPool.AppendCertsFromPEM(buf); !ok {
		return nil, fmt.Errorf("failed to parse tls cert")
	}

	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    caCertPool,
	}, nil
}

func printJSON(v any) error {
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(buf))
	return nil
}
