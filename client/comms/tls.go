// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package comms

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/url"
)

// TLSConfig builds the client TLS configuration for a node using a
// self-signed certificate. A nil config is returned if no cert is provided.
// Certificates are only meaningful for wss:// endpoints.
func TLSConfig(URL string, cert []byte) (*tls.Config, error) {
	if len(cert) == 0 {
		return nil, nil
	}

	uri, err := url.Parse(URL)
	if err != nil {
		return nil, fmt.Errorf("error parsing URL: %w", err)
	}
	if uri.Scheme != "wss" && uri.Scheme != "https" {
		return nil, fmt.Errorf("%w: certificate provided for %s scheme", ErrInvalidCert, uri.Scheme)
	}

	pool, _ := x509.SystemCertPool()
	if pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(cert) {
		return nil, ErrInvalidCert
	}

	return &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
		ServerName: uri.Hostname(),
	}, nil
}
