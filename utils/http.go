// utils/http.go
package utils

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net/http"
	"time"
)

const DefaultHTTPTimeout = 30 * time.Second

// NewPinnedTLSClient returns a client that trusts only the given PEM
// certificate, as needed for a node using a self-signed cert.
func NewPinnedTLSClient(certPEM []byte, timeout time.Duration) (*http.Client, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(certPEM) {
		return nil, errors.New("no certificate found in PEM data")
	}

	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}, nil
}
