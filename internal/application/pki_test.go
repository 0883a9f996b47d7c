package application_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"software.sslmate.com/src/go-pkcs12"
)

func selfSigned(t *testing.T) (*ecdsa.PrivateKey, *x509.Certificate) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(7),
		Subject:      pkix.Name{CommonName: "alice"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return key, cert
}

// writeSelfSigned writes a self-signed client certificate and its key as PEM
// files and returns their paths.
func writeSelfSigned(t *testing.T) (certPath, keyPath string) {
	t.Helper()
	dir := t.TempDir()
	key, cert := selfSigned(t)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPath = filepath.Join(dir, "client.pem")
	keyPath = filepath.Join(dir, "client.key")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}), 0o600))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certPath, keyPath
}

// writeSelfSignedPKCS12 writes a self-signed client identity as a PKCS#12
// bundle and returns its path.
func writeSelfSignedPKCS12(t *testing.T, passphrase string) string {
	t.Helper()
	key, cert := selfSigned(t)
	data, err := pkcs12.Modern.Encode(key, cert, nil, passphrase)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "client.p12")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

// writeCA writes the certificate of a fresh self-signed identity as a PEM CA
// file.
func writeCA(t *testing.T) string {
	t.Helper()
	_, cert := selfSigned(t)
	path := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}), 0o600))
	return path
}
