package security

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"time"
)

// ExpiringWithin is the remaining lifetime below which a certificate is
// reported as expiring.
const ExpiringWithin = 30 * 24 * time.Hour

// Certificate states.
const (
	StatusValid       = "valid"
	StatusExpiring    = "expiring"
	StatusExpired     = "expired"
	StatusUnreachable = "unreachable"
)

// CertStatus describes one leaf certificate used by a gRPC sink.
type CertStatus struct {
	// Source is the file path or host:port the certificate came from.
	Source   string
	Subject  string
	Issuer   string
	NotAfter time.Time
	DaysLeft int
	Status   string
}

// Expiring reports whether the certificate is expired or close to it.
func (c CertStatus) Expiring() bool {
	return c.Status == StatusExpiring || c.Status == StatusExpired
}

// CheckFile parses the first certificate in the PEM file at path.
func CheckFile(path string, now time.Time) (CertStatus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CertStatus{}, fmt.Errorf("security: read %q: %w", path, err)
	}
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return CertStatus{}, fmt.Errorf("security: %q: no certificate found", path)
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return CertStatus{}, fmt.Errorf("security: parse %q: %w", path, err)
		}
		return statusOf(path, cert, now), nil
	}
}

// CheckEndpoint dials the TLS endpoint at addr (host:port) and reports the
// server's leaf certificate. An unreachable endpoint yields StatusUnreachable
// and no error; only a malformed addr is an error.
func CheckEndpoint(ctx context.Context, addr string, cfg *tls.Config, now time.Time) (CertStatus, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return CertStatus{}, fmt.Errorf("security: endpoint %q: %w", addr, err)
	}
	if cfg == nil {
		cfg = &tls.Config{}
	} else {
		cfg = cfg.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	dialer := &tls.Dialer{NetDialer: &net.Dialer{}, Config: cfg}
	netConn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		var certErr *tls.CertificateVerificationError
		if errors.As(err, &certErr) && len(certErr.UnverifiedCertificates) > 0 {
			return statusOf(addr, certErr.UnverifiedCertificates[0], now), nil
		}
		return CertStatus{Source: addr, Status: StatusUnreachable}, nil
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peers := conn.ConnectionState().PeerCertificates
	if len(peers) == 0 {
		return CertStatus{Source: addr, Status: StatusUnreachable}, nil
	}
	return statusOf(addr, peers[0], now), nil
}

func statusOf(source string, cert *x509.Certificate, now time.Time) CertStatus {
	left := cert.NotAfter.Sub(now)
	cs := CertStatus{
		Source:   source,
		Subject:  cert.Subject.CommonName,
		Issuer:   cert.Issuer.CommonName,
		NotAfter: cert.NotAfter.UTC(),
		DaysLeft: int(math.Floor(left.Hours() / 24)),
	}
	switch {
	case left <= 0:
		cs.Status = StatusExpired
	case left <= ExpiringWithin:
		cs.Status = StatusExpiring
	default:
		cs.Status = StatusValid
	}
	return cs
}
