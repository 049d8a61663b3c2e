package main

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tariel-x/agentdesk/internal/config"

	"golang.org/x/crypto/acme/autocert"
)

const shutdownTimeout = 10 * time.Second

func newHTTPServer(addr string, handler http.Handler, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// Websocket streams outlive any write timeout, so none is set.
		IdleTimeout: 60 * time.Second,
		ErrorLog:    log.New(newTLSErrorWriter(logger), "", 0),
	}
}

// serve runs the server in the configured TLS mode until ctx is cancelled.
func serve(ctx context.Context, handler http.Handler, cfg *config.Config, logger *slog.Logger) error {
	srv := newHTTPServer(cfg.Addr(), handler, logger)
	var listen func() error
	var extra []*http.Server

	switch cfg.TLSMode {
	case config.TLSOff:
		logger.Info("HTTP server starting", "addr", srv.Addr)
		listen = srv.ListenAndServe

	case config.TLSFiles:
		logger.Info("HTTPS server starting", "addr", srv.Addr, "cert", cfg.TLSCertFile)
		listen = func() error { return srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile) }

	case config.TLSSelfSigned:
		hosts := []string{"localhost"}
		if cfg.Domain != "" {
			hosts = []string{cfg.Domain}
		}
		certPEM, keyPEM, err := generateSelfSignedCert(hosts)
		if err != nil {
			return err
		}
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return fmt.Errorf("load self-signed certificate: %w", err)
		}
		srv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
		logger.Info("HTTPS server (self-signed) starting", "addr", srv.Addr, "host", hosts[0])
		listen = func() error { return srv.ListenAndServeTLS("", "") }

	case config.TLSAutocert:
		m, err := newCertManager(cfg.Domain)
		if err != nil {
			return err
		}
		srv.TLSConfig = m.TLSConfig()

		// ACME challenges and redirects on :80.
		acme := newHTTPServer(":80", m.HTTPHandler(nil), logger)
		extra = append(extra, acme)
		go func() {
			if err := acme.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("ACME HTTP server failed", "error", err)
			}
		}()

		logger.Info("HTTPS server (autocert) starting", "addr", srv.Addr, "domain", normalizeDomain(cfg.Domain))
		if d := normalizeDomain(cfg.Domain); d == "localhost" || d == "127.0.0.1" {
			logger.Warn("Let's Encrypt will not work for localhost. Use --self-signed for local development.")
		}
		listen = func() error { return srv.ListenAndServeTLS("", "") }

	default:
		return fmt.Errorf("unknown TLS mode %q", cfg.TLSMode)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, s := range append(extra, srv) {
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", "addr", s.Addr, "error", err)
		}
	}
	return ctx.Err()
}

func newCertManager(domain string) (*autocert.Manager, error) {
	certsDir := getCertsDirectory()
	if err := os.MkdirAll(certsDir, 0700); err != nil {
		return nil, fmt.Errorf("create certs directory: %w", err)
	}

	normalized := normalizeDomain(domain)
	return &autocert.Manager{
		Prompt: autocert.AcceptTOS,
		HostPolicy: func(ctx context.Context, host string) error {
			if normalizeDomain(host) != normalized {
				return fmt.Errorf("host %q not configured (expected %q)", host, normalized)
			}
			return nil
		},
		Cache: autocert.DirCache(certsDir),
	}, nil
}

func getCertsDirectory() string {
	execPath, err := os.Executable()
	if err != nil {
		return "certs"
	}
	return filepath.Join(filepath.Dir(execPath), "certs")
}

// normalizeDomain lowercases and strips a leading "www.".
func normalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	return strings.TrimPrefix(domain, "www.")
}

// generateSelfSignedCert creates a one-year P-256 certificate for hosts.
func generateSelfSignedCert(hosts []string) (certPEM, keyPEM []byte, err error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	var dnsNames []string
	var ipAddrs []net.IP
	for _, h := range hosts {
		h = strings.TrimSpace(h)
		if host, _, err := net.SplitHostPort(h); err == nil {
			h = host
		}
		if h == "" {
			continue
		}
		if ip := net.ParseIP(h); ip != nil {
			ipAddrs = append(ipAddrs, ip)
			continue
		}
		dnsNames = append(dnsNames, h)
	}
	if len(dnsNames) == 0 && len(ipAddrs) == 0 {
		dnsNames = []string{"localhost"}
	}

	var commonName string
	if len(dnsNames) > 0 {
		commonName = dnsNames[0]
	} else {
		commonName = ipAddrs[0].String()
	}

	notBefore := time.Now()
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Agent Desk Development"},
			CommonName:   commonName,
		},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              dnsNames,
		IPAddresses:           ipAddrs,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	certBuffer := new(bytes.Buffer)
	if err := pem.Encode(certBuffer, &pem.Block{Type: "CERTIFICATE", Bytes: derBytes}); err != nil {
		return nil, nil, fmt.Errorf("failed to encode certificate: %w", err)
	}

	privBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	keyBuffer := new(bytes.Buffer)
	if err := pem.Encode(keyBuffer, &pem.Block{Type: "EC PRIVATE KEY", Bytes: privBytes}); err != nil {
		return nil, nil, fmt.Errorf("failed to encode private key: %w", err)
	}

	return certBuffer.Bytes(), keyBuffer.Bytes(), nil
}
