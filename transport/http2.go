// Package transport talks to the debugger's request/response API over HTTP.
//
// Three kinds of endpoint are supported: plain http (a debugger on the local
// machine), https with mutual TLS 1.3 over HTTP/2 (a debugger on another
// machine) and unix domain sockets.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"

	"golang.org/x/net/http2"
)

// unixBase is the URL requests are addressed to when the connection is a
// unix socket. The host part is ignored by the dialer.
const unixBase = "http://unix"

// BuildHTTP2Client creates an HTTP/2 client with mTLS 1.3.
func BuildHTTP2Client(certPath, keyPath, caPath string) (*http.Client, error) {
	if certPath == "" {
		return nil, fmt.Errorf("certPath required")
	}
	if keyPath == "" {
		return nil, fmt.Errorf("keyPath required")
	}
	if caPath == "" {
		return nil, fmt.Errorf("caPath required")
	}

	clientCert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	caCert, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{clientCert},
		RootCAs:      caCertPool,
		MinVersion:   tls.VersionTLS13,
		MaxVersion:   tls.VersionTLS13,
	}

	transport := &http2.Transport{
		TLSClientConfig: tlsConfig,
	}

	return &http.Client{Transport: transport}, nil
}

// BuildUnixClient creates a client whose connections go to a unix socket.
func BuildUnixClient(socketPath string) (*http.Client, error) {
	if socketPath == "" {
		return nil, fmt.Errorf("socketPath required")
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}

	return &http.Client{Transport: transport}, nil
}

// BuildClient picks the client matching the scheme of rawURL and returns it
// with the base URL requests should be sent to.
//
//	http://host:port          plain HTTP/1.1
//	https://host:port         HTTP/2 with mTLS (certPath, keyPath, caPath)
//	unix:///path/to/socket    HTTP/1.1 over a unix socket
func BuildClient(rawURL, certPath, keyPath, caPath string) (*http.Client, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid debugger URL %q: %w", rawURL, err)
	}

	switch u.Scheme {
	case "http":
		return &http.Client{}, strings.TrimSuffix(rawURL, "/"), nil
	case "https":
		c, err := BuildHTTP2Client(certPath, keyPath, caPath)
		if err != nil {
			return nil, "", err
		}
		return c, strings.TrimSuffix(rawURL, "/"), nil
	case "unix":
		c, err := BuildUnixClient(u.Path)
		if err != nil {
			return nil, "", err
		}
		return c, unixBase, nil
	}

	return nil, "", fmt.Errorf("unsupported debugger URL scheme %q", u.Scheme)
}
