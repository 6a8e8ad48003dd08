package security

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// selfSigned returns a DER certificate for localhost valid until notAfter and
// its key.
func selfSigned(t *testing.T, notAfter time.Time) ([]byte, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "gw-01"},
		Issuer:       pkix.Name{CommonName: "gw-01"},
		NotBefore:    notAfter.Add(-365 * 24 * time.Hour),
		NotAfter:     notAfter,
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return der, key
}

func writePEM(t *testing.T, der []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "client.crt")
	keyBlock := pem.EncodeToMemory(&pem.Block{Type: "EC PARAMETERS", Bytes: []byte{0}})
	certBlock := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	require.NoError(t, os.WriteFile(p, append(keyBlock, certBlock...), 0o600))
	return p
}

func TestCheckFile(t *testing.T) {
	tests := []struct {
		name     string
		notAfter time.Time
		status   string
		days     int
	}{
		{"valid", now.Add(90 * 24 * time.Hour), StatusValid, 90},
		{"expiring", now.Add(10*24*time.Hour + time.Hour), StatusExpiring, 10},
		{"expired", now.Add(-time.Hour), StatusExpired, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			der, _ := selfSigned(t, tt.notAfter)
			cs, err := CheckFile(writePEM(t, der), now)
			require.NoError(t, err)
			assert.Equal(t, tt.status, cs.Status)
			assert.Equal(t, tt.days, cs.DaysLeft)
			assert.Equal(t, "gw-01", cs.Subject)
			assert.Equal(t, tt.status != StatusValid, cs.Expiring())
		})
	}
}

func TestCheckFile_Errors(t *testing.T) {
	_, err := CheckFile(filepath.Join(t.TempDir(), "missing.crt"), now)
	assert.Error(t, err)

	p := filepath.Join(t.TempDir(), "empty.crt")
	require.NoError(t, os.WriteFile(p, []byte("not pem"), 0o600))
	_, err = CheckFile(p, now)
	assert.Error(t, err)
}

func TestCheckEndpoint(t *testing.T) {
	notAfter := time.Now().Add(20 * 24 * time.Hour)
	der, key := selfSigned(t, notAfter)
	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}

	lis, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	require.NoError(t, err)
	defer lis.Close()
	go func() {
		for {
			c, err := lis.Accept()
			if err != nil {
				return
			}
			_ = c.(*tls.Conn).Handshake()
			c.Close()
		}
	}()

	// The self-signed certificate fails verification but is still reported.
	cs, err := CheckEndpoint(context.Background(), lis.Addr().String(), nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, StatusExpiring, cs.Status)
	assert.Equal(t, "gw-01", cs.Issuer)
}

func TestCheckEndpoint_Unreachable(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	lis.Close()

	cs, err := CheckEndpoint(context.Background(), addr, nil, now)
	require.NoError(t, err)
	assert.Equal(t, StatusUnreachable, cs.Status)

	_, err = CheckEndpoint(context.Background(), "no-port", nil, now)
	assert.Error(t, err)
}
