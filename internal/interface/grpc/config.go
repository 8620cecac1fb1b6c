package grpcservice

import (
	"crypto/tls"
	"fmt"
	"net"
	"path/filepath"
)

type Config struct {
	Datadir         string
	Port            uint32
	NoTLS           bool
	TLSExtraIPs     []string
	TLSExtraDomains []string
	EnablePprof     bool
}

func (c Config) Validate() error {
	lis, err := net.Listen("tcp", c.address())
	if err != nil {
		return fmt.Errorf("invalid port: %s", err)
	}
	// nolint
	lis.Close()

	if !c.insecure() {
		for _, ip := range c.TLSExtraIPs {
			if net.ParseIP(ip) == nil {
				return fmt.Errorf("invalid tls extra ip %s", ip)
			}
		}
		if c.Datadir == "" {
			return fmt.Errorf("missing datadir for tls certificate")
		}
	}
	return nil
}

func (c Config) insecure() bool {
	return c.NoTLS
}

func (c Config) address() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c Config) gatewayAddress() string {
	return fmt.Sprintf("127.0.0.1:%d", c.Port)
}

func (c Config) tlsDatadir() string {
	return filepath.Join(c.Datadir, tlsFolder)
}

func (c Config) tlsConfig() (*tls.Config, error) {
	if c.insecure() {
		return nil, nil
	}
	return getTLSConfig(c.tlsDatadir())
}
