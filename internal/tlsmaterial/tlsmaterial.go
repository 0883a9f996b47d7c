// Package tlsmaterial decodes PKCS#12 bundles and PEM files into a TLS client
// identity for mutual TLS against a hosting provider.
package tlsmaterial

import (
	"bytes"
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"slices"

	"software.sslmate.com/src/go-pkcs12"

	"github.com/ericfisherdev/gitaccounts/internal/domain/model"
)

// DecodeError reports TLS material that could not be read or decoded.
type DecodeError struct {
	Path   string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("decode %s: %s", e.Path, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Identity is the decoded client identity for one connection attempt.
// Certificate is empty when only CA certificates were configured.
type Identity struct {
	Certificate tls.Certificate
	Leaf        *x509.Certificate
	// Chain holds the extra certificates bundled with a PKCS#12 file.
	Chain []*x509.Certificate
	// CAs are trusted in addition to the system roots.
	CAs []*x509.Certificate
}

// HasCertificate reports whether a client certificate is present.
func (id *Identity) HasCertificate() bool {
	return id != nil && len(id.Certificate.Certificate) > 0
}

// IssuerName returns the issuer of the client certificate, or "" without one.
func (id *Identity) IssuerName() string {
	if id == nil || id.Leaf == nil {
		return ""
	}
	if cn := id.Leaf.Issuer.CommonName; cn != "" {
		return cn
	}
	return id.Leaf.Issuer.String()
}

// TLSConfig builds a client TLS configuration. Extra CAs are appended to the
// system pool so public endpoints keep working.
func (id *Identity) TLSConfig() *tls.Config {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if id == nil {
		return cfg
	}
	if id.HasCertificate() {
		cfg.Certificates = []tls.Certificate{id.Certificate}
	}
	if len(id.CAs) > 0 {
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		for _, ca := range id.CAs {
			pool.AddCert(ca)
		}
		cfg.RootCAs = pool
	}
	return cfg
}

// Load decodes the active material in settings. A PKCS#12 bundle takes
// precedence over a PEM certificate and key. Returns (nil, nil) when nothing
// is configured.
//
// The CA file loads independently of the client identity: on error the
// returned Identity still carries whichever part decoded, or is nil when
// neither did.
func Load(settings model.TLSSettings) (*Identity, error) {
	var id *Identity
	var idErr error

	switch {
	case settings.PKCS12File.Active():
		passphrase := ""
		if settings.PKCS12Passphrase.Active() {
			passphrase = settings.PKCS12Passphrase.Value
		}
		id, idErr = LoadPKCS12(settings.PKCS12File.Value, passphrase)
	case settings.CertFile.Active() || settings.CertKeyFile.Active():
		id, idErr = LoadPEM(activeValue(settings.CertFile), activeValue(settings.CertKeyFile), "")
	}

	if !settings.CACertFile.Active() {
		return id, idErr
	}

	cas, caErr := loadCAs(settings.CACertFile.Value)
	if caErr == nil {
		if id == nil {
			id = &Identity{}
		}
		id.CAs = cas
	}
	return id, errors.Join(idErr, caErr)
}

// LoadPKCS12 reads and decrypts a PKCS#12 bundle. Both the PBES2/AES and
// SHA-256 MAC encodings and the legacy RC2/3DES ones are accepted.
func LoadPKCS12(path, passphrase string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Reason: "read file", Err: err}
	}

	key, cert, extra, err := pkcs12.DecodeChain(data, passphrase)
	if err != nil {
		reason := "invalid PKCS#12 data"
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			reason = "incorrect passphrase"
		}
		return nil, &DecodeError{Path: path, Reason: reason, Err: err}
	}
	if key == nil {
		return nil, &DecodeError{Path: path, Reason: "bundle contains no private key"}
	}
	if cert == nil {
		return nil, &DecodeError{Path: path, Reason: "bundle contains no certificate"}
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, &DecodeError{Path: path, Reason: fmt.Sprintf("unsupported private key type %T", key)}
	}
	pub, ok := signer.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok {
		return nil, &DecodeError{Path: path, Reason: "unsupported public key type"}
	}

	// Bundles written by some tools list the leaf among the CA certificates.
	all := append([]*x509.Certificate{cert}, extra...)
	leafIdx := slices.IndexFunc(all, func(c *x509.Certificate) bool { return pub.Equal(c.PublicKey) })
	if leafIdx < 0 {
		return nil, &DecodeError{Path: path, Reason: "no certificate matches the private key"}
	}

	leaf := all[leafIdx]
	id := &Identity{
		Leaf: leaf,
		Certificate: tls.Certificate{
			Certificate: [][]byte{leaf.Raw},
			PrivateKey:  key,
			Leaf:        leaf,
		},
	}
	for i, c := range all {
		if i == leafIdx {
			continue
		}
		id.Chain = append(id.Chain, c)
		id.Certificate.Certificate = append(id.Certificate.Certificate, c.Raw)
	}
	return id, nil
}

// LoadPEM reads a PEM certificate and key and an optional CA file. An empty
// caPath is not an error.
func LoadPEM(certPath, keyPath, caPath string) (*Identity, error) {
	id := &Identity{}

	if certPath != "" || keyPath != "" {
		if certPath == "" {
			return nil, &DecodeError{Path: keyPath, Reason: "certificate file is required with a key file"}
		}
		if keyPath == "" {
			return nil, &DecodeError{Path: certPath, Reason: "key file is required with a certificate file"}
		}

		certPEM, err := os.ReadFile(certPath)
		if err != nil {
			return nil, &DecodeError{Path: certPath, Reason: "read file", Err: err}
		}
		keyPEM, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, &DecodeError{Path: keyPath, Reason: "read file", Err: err}
		}

		pair, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, &DecodeError{Path: certPath, Reason: "invalid certificate or key", Err: err}
		}
		leaf, err := x509.ParseCertificate(pair.Certificate[0])
		if err != nil {
			return nil, &DecodeError{Path: certPath, Reason: "parse certificate", Err: err}
		}
		pair.Leaf = leaf
		id.Certificate = pair
		id.Leaf = leaf
	}

	if caPath != "" {
		cas, err := loadCAs(caPath)
		if err != nil {
			return nil, err
		}
		id.CAs = cas
	}

	return id, nil
}

func loadCAs(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Reason: "read file", Err: err}
	}

	var cas []*x509.Certificate
	rest := bytes.TrimSpace(data)
	for len(rest) > 0 {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, &DecodeError{Path: path, Reason: "parse CA certificate", Err: err}
		}
		cas = append(cas, cert)
	}
	if len(cas) == 0 {
		return nil, &DecodeError{Path: path, Reason: "no PEM certificates found"}
	}
	return cas, nil
}

func activeValue(s model.TLSSetting) string {
	if s.Active() {
		return s.Value
	}
	return ""
}
