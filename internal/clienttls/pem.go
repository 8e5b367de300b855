package clienttls

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
)

// ParseCertificates decodes every CERTIFICATE block in data.
func ParseCertificates(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, ErrNoCertificates
	}
	return certs, nil
}

// LoadCertificates reads and parses a PEM file of certificates.
func LoadCertificates(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate(s) from '%s': %w", path, err)
	}
	certs, err := ParseCertificates(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate(s) from '%s': %w", path, err)
	}
	return certs, nil
}

// LoadCertificatePEM reads a PEM certificate chain, checking it decodes.
func LoadCertificatePEM(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate(s) from '%s': %w", path, err)
	}
	if _, err := ParseCertificates(data); err != nil {
		return nil, fmt.Errorf("failed to load certificate(s) from '%s': %w", path, err)
	}
	return data, nil
}

// LoadPrivateKeyPEM reads a PEM private key, checking a key block exists.
func LoadPrivateKeyPEM(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load key from '%s': %w", path, err)
	}
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, fmt.Errorf("failed to load key from '%s': %w", path, ErrNoPrivateKey)
		}
		if block.Type == "PRIVATE KEY" || strings.HasSuffix(block.Type, " PRIVATE KEY") {
			return data, nil
		}
	}
}
